package main

import (
	"github.com/spf13/cobra"

	"github.com/dost0092/web-scraper-atomic/internal/model"
	"github.com/dost0092/web-scraper-atomic/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect extraction records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		stageName, _ := cmd.Flags().GetString("stage")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		retryable, _ := cmd.Flags().GetBool("retryable")

		filter := store.ListFilter{Limit: limit, Offset: offset, RetryableOnly: retryable}
		if stageName != "" {
			s, err := model.ParseStage(stageName)
			if err != nil {
				return err
			}
			filter.Stage = s
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.List(ctx, filter)
		if err != nil {
			return err
		}
		if recs == nil {
			recs = []model.ExtractionRecord{}
		}
		return printJSON(recs)
	},
}

var recordsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show one record",
	Long:  "Prints a record. With --min-confidence, PRESENT pet fields scored below the threshold are shown as ambiguous.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, _ := cmd.Flags().GetString("id")
		minConf, _ := cmd.Flags().GetFloat64("min-confidence")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.Get(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(applyConfidence(rec, minConf))
	},
}

// applyConfidence returns rec with low confidence pet fields demoted.
func applyConfidence(rec *model.ExtractionRecord, threshold float64) *model.ExtractionRecord {
	if rec == nil || rec.PetAttributes == nil || threshold <= 0 {
		return rec
	}
	cp := *rec
	cp.PetAttributes = rec.PetAttributes.Effective(threshold)
	return &cp
}

func init() {
	recordsListCmd.Flags().String("stage", "", "filter by stage (e.g. FINALIZED, FAILED)")
	recordsListCmd.Flags().Int("limit", 50, "maximum records")
	recordsListCmd.Flags().Int("offset", 0, "records to skip")
	recordsListCmd.Flags().Bool("retryable", false, "only FAILED records with a retryable failure")

	recordsGetCmd.Flags().String("id", "", "record ID (required)")
	recordsGetCmd.Flags().Float64("min-confidence", 0, "demote PRESENT fields below this confidence")
	_ = recordsGetCmd.MarkFlagRequired("id")

	recordsCmd.AddCommand(recordsListCmd, recordsGetCmd)
	rootCmd.AddCommand(recordsCmd)
}
