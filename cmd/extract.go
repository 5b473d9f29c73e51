package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/model"
	"github.com/dost0092/web-scraper-atomic/internal/pipeline"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract one hotel page",
	Long:  "Scrapes a hotel page and runs it through context generation, pet policy extraction and slug assignment. Prints the run result as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		url, _ := cmd.Flags().GetString("url")
		refresh, _ := cmd.Flags().GetBool("refresh")

		req := pipeline.Request{URL: url, Refresh: refresh}
		if err := validateRequest(req); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, runErr := env.Orchestrator.Run(ctx, req)
		if res != nil {
			if err := printJSON(res); err != nil {
				return err
			}
		}
		if runErr != nil {
			if se, ok := model.AsStageError(runErr); ok {
				zap.L().Error("extract failed",
					zap.String("url", url),
					zap.String("stage", se.Stage.String()),
					zap.Bool("retryable", se.Retryable),
				)
			}
			return eris.Wrap(runErr, "extract")
		}
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	extractCmd.Flags().String("url", "", "hotel page URL (required)")
	extractCmd.Flags().Bool("refresh", false, "scrape again even when the URL is already finalized")
	_ = extractCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(extractCmd)
}
