package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dost0092/web-scraper-atomic/internal/pipeline"
)

// batchResult holds aggregate outcomes for a batch run.
type batchResult struct {
	Total        int64 `json:"total"`
	Finalized    int64 `json:"finalized"`
	Deduplicated int64 `json:"deduplicated"`
	InProgress   int64 `json:"in_progress"`
	Failed       int64 `json:"failed"`
	DurationMs   int64 `json:"duration_ms"`
}

type runFunc func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Extract every URL in a file",
	Long:  "Reads one URL per line (blank lines and # comments are skipped) and runs each through the pipeline with bounded concurrency. Individual failures do not stop the batch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("file")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		refresh, _ := cmd.Flags().GetBool("refresh")
		if concurrency <= 0 {
			concurrency = cfg.Pipeline.Concurrency
		}

		var r io.Reader = os.Stdin
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return eris.Wrapf(err, "batch: open %s", path)
			}
			defer f.Close() //nolint:errcheck
			r = f
		}
		urls, err := readURLs(r)
		if err != nil {
			return err
		}
		if len(urls) == 0 {
			zap.L().Info("batch: no urls to process")
			return nil
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res := processBatch(ctx, urls, refresh, concurrency, env.Orchestrator.Run)
		if err := printJSON(res); err != nil {
			return err
		}
		if res.Failed > 0 {
			return eris.Errorf("batch: %d of %d urls failed", res.Failed, res.Total)
		}
		return nil
	},
}

// readURLs returns the non-blank, non-comment lines of r.
func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "batch: read urls")
	}
	return urls, nil
}

// processBatch runs every URL through run with bounded concurrency.
// Failures are counted and logged, never propagated.
func processBatch(ctx context.Context, urls []string, refresh bool, concurrency int, run runFunc) *batchResult {
	start := time.Now()
	if concurrency < 1 {
		concurrency = 1
	}
	var finalized, deduped, inProgress, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, u := range urls {
		req := pipeline.Request{URL: u, Refresh: refresh}
		g.Go(func() error {
			if err := validateRequest(req); err != nil {
				failed.Add(1)
				zap.L().Warn("batch: skipping invalid url", zap.String("url", req.URL), zap.Error(err))
				return nil
			}
			res, err := run(gctx, req)
			switch {
			case err != nil:
				failed.Add(1)
				zap.L().Warn("batch: url failed", zap.String("url", req.URL), zap.Error(err))
			case res.Outcome == pipeline.OutcomeDeduplicated || res.Outcome == pipeline.OutcomeCached:
				deduped.Add(1)
			case res.Outcome == pipeline.OutcomeInProgress:
				inProgress.Add(1)
			default:
				finalized.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := &batchResult{
		Total:        int64(len(urls)),
		Finalized:    finalized.Load(),
		Deduplicated: deduped.Load(),
		InProgress:   inProgress.Load(),
		Failed:       failed.Load(),
		DurationMs:   time.Since(start).Milliseconds(),
	}
	zap.L().Info("batch: complete",
		zap.Int64("total", res.Total),
		zap.Int64("finalized", res.Finalized),
		zap.Int64("deduplicated", res.Deduplicated),
		zap.Int64("in_progress", res.InProgress),
		zap.Int64("failed", res.Failed),
		zap.Int64("duration_ms", res.DurationMs),
	)
	return res
}

func init() {
	batchCmd.Flags().String("file", "-", "file with one URL per line (- for stdin)")
	batchCmd.Flags().Int("concurrency", 0, "parallel runs (default pipeline.concurrency)")
	batchCmd.Flags().Bool("refresh", false, "scrape again even when a URL is already finalized")
	rootCmd.AddCommand(batchCmd)
}
