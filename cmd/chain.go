package main

import (
	"github.com/spf13/cobra"

	"github.com/dost0092/web-scraper-atomic/internal/chain"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Detect the hotel chain for a URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		expected, _ := cmd.Flags().GetString("expected")
		return printJSON(chain.Default().Verify(url, expected))
	},
}

func init() {
	chainCmd.Flags().String("url", "", "hotel page URL (required)")
	chainCmd.Flags().String("expected", "", "chain key the URL should belong to")
	_ = chainCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(chainCmd)
}
