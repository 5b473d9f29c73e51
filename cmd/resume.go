package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a record from its last committed stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, _ := cmd.Flags().GetString("id")

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, runErr := env.Orchestrator.Resume(ctx, id)
		if res != nil {
			if err := printJSON(res); err != nil {
				return err
			}
		}
		if runErr != nil {
			return eris.Wrap(runErr, "resume")
		}
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Resume FAILED records whose failure is retryable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Pipeline.Concurrency
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Orchestrator.RetryFailed(ctx, limit, concurrency)
		if stats != nil {
			if perr := printJSON(stats); perr != nil {
				return perr
			}
		}
		return err
	},
}

func init() {
	resumeCmd.Flags().String("id", "", "record ID (required)")
	_ = resumeCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(resumeCmd)

	retryCmd.Flags().Int("limit", 100, "maximum records to retry")
	retryCmd.Flags().Int("concurrency", 0, "parallel resumes (default pipeline.concurrency)")
	rootCmd.AddCommand(retryCmd)
}
