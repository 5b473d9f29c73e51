package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/model"
	"github.com/dost0092/web-scraper-atomic/internal/monitoring"
	"github.com/dost0092/web-scraper-atomic/internal/pipeline"
	"github.com/dost0092/web-scraper-atomic/internal/store"
)

// pipelineRunner is the orchestrator surface used by the API.
type pipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	Resume(ctx context.Context, recordID string) (*pipeline.Result, error)
	RetryFailed(ctx context.Context, limit, concurrency int) (*pipeline.SweepStats, error)
}

// recordReader is the read side of the store used by the API.
type recordReader interface {
	Get(ctx context.Context, id string) (*model.ExtractionRecord, error)
	List(ctx context.Context, filter store.ListFilter) ([]model.ExtractionRecord, error)
	Ping(ctx context.Context) error
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the extraction API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.Server.Port
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		a := newAPI(ctx, env.Orchestrator, env.Store, cfg.Pipeline.Concurrency)
		a.collector = monitoring.NewCollector(env.Store, time.Duration(cfg.Monitor.StalledAfterMins)*time.Minute)
		a.lookbackHours = cfg.Monitor.LookbackWindowHours
		a.discoverer = env.Discoverer
		a.locations = env.Store

		if cfg.Monitor.WebhookURL != "" {
			checker := monitoring.NewChecker(a.collector, monitoring.NewAlerter(cfg.Monitor), cfg.Monitor)
			go checker.Run(ctx)
		}

		if schedule := cfg.Server.RetrySchedule; schedule != "" {
			c := cron.New()
			if _, err := c.AddFunc(schedule, func() {
				if _, err := env.Orchestrator.RetryFailed(ctx, 100, cfg.Pipeline.Concurrency); err != nil {
					zap.L().Warn("serve: scheduled retry sweep failed", zap.Error(err))
				}
			}); err != nil {
				return eris.Wrapf(err, "serve: invalid retry schedule %q", schedule)
			}
			c.Start()
			defer func() { <-c.Stop().Done() }()
			zap.L().Info("serve: retry sweep scheduled", zap.String("schedule", schedule))
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(a, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("server starting", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			zap.L().Info("shutting down server")
		case err := <-errCh:
			if err != nil {
				return eris.Wrap(err, "serve: listen")
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "serve: shutdown")
		}
		a.wait()
		return nil
	},
}

// api serves the extraction endpoints.
type api struct {
	runner      pipelineRunner
	records     recordReader
	jobs        *jobRegistry
	concurrency int

	collector     *monitoring.Collector
	lookbackHours int

	discoverer locationDiscoverer
	locations  locationStore

	// base outlives individual requests so async jobs keep running after
	// the submitting request returns.
	base     context.Context
	inflight sync.WaitGroup
}

func newAPI(base context.Context, runner pipelineRunner, records recordReader, concurrency int) *api {
	if concurrency < 1 {
		concurrency = 1
	}
	return &api{
		runner:      runner,
		records:     records,
		jobs:        newJobRegistry(0),
		concurrency: concurrency,
		base:        base,
	}
}

// wait blocks until async jobs finish.
func (a *api) wait() { a.inflight.Wait() }

func newRouter(a *api, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.handleHealth)
	r.Post("/extract", a.handleExtract)
	r.Post("/discover", a.handleDiscover)
	r.Get("/locations", a.handleListLocations)
	r.Get("/jobs", a.handleListJobs)
	r.Delete("/jobs", a.handlePruneJobs)
	r.Get("/jobs/{id}", a.handleJob)
	r.Get("/records", a.handleListRecords)
	r.Get("/records/{id}", a.handleGetRecord)
	r.Post("/records/{id}/resume", a.handleResume)
	r.Post("/retry", a.handleRetry)
	r.Get("/metrics", a.handleMetrics)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := a.records.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type extractBody struct {
	URL     string `json:"url"`
	Refresh bool   `json:"refresh"`
	Async   bool   `json:"async"`
}

func (a *api) handleExtract(w http.ResponseWriter, r *http.Request) {
	var body extractBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req := pipeline.Request{URL: body.URL, Refresh: body.Refresh}
	if err := validateRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, "url must be an absolute URL")
		return
	}

	if body.Async {
		j := a.jobs.add(req.URL)
		a.inflight.Add(1)
		go func() {
			defer a.inflight.Done()
			a.jobs.start(j.ID)
			res, err := a.runner.Run(a.base, req)
			a.jobs.finish(j.ID, res, err)
		}()
		w.Header().Set("Location", "/jobs/"+j.ID)
		writeJSON(w, http.StatusAccepted, j)
		return
	}

	res, err := a.runner.Run(r.Context(), req)
	writeResult(w, res, err)
}

func (a *api) handleJob(w http.ResponseWriter, r *http.Request) {
	j, ok := a.jobs.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type discoverBody struct {
	Chain       string `json:"chain"`
	CountryCode string `json:"country_code"`
	Extract     bool   `json:"extract"`
	Refresh     bool   `json:"refresh"`
}

// handleDiscover starts an async walk of a chain's location directory,
// optionally extracting every URL it finds.
func (a *api) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if a.discoverer == nil || a.locations == nil {
		writeError(w, http.StatusNotFound, "discovery disabled")
		return
	}
	var body discoverBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Chain) == "" {
		writeError(w, http.StatusBadRequest, "chain is required")
		return
	}
	if err := a.discoverer.Check(body.Chain, body.CountryCode); err != nil {
		writeError(w, http.StatusBadRequest, "no location directory for that chain and country")
		return
	}

	j := a.jobs.addDiscovery(strings.ToLower(body.Chain), strings.ToUpper(body.CountryCode))
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		a.jobs.start(j.ID)
		run, err := runDiscovery(a.base, a.discoverer, a.locations, body.Chain, body.CountryCode)
		var batch *batchResult
		if err == nil && body.Extract {
			batch = processBatch(a.base, run.URLs, body.Refresh, a.concurrency, a.runner.Run)
		}
		if err != nil {
			zap.L().Warn("serve: discovery job failed", zap.String("job_id", j.ID), zap.Error(err))
		}
		a.jobs.finishDiscovery(j.ID, run.Stats, batch, err)
	}()
	w.Header().Set("Location", "/jobs/"+j.ID)
	writeJSON(w, http.StatusAccepted, j)
}

func (a *api) handleListLocations(w http.ResponseWriter, r *http.Request) {
	if a.locations == nil {
		writeError(w, http.StatusNotFound, "discovery disabled")
		return
	}
	q := r.URL.Query()
	locs, err := a.locations.ListLocations(r.Context(), store.LocationFilter{
		Chain:       strings.ToLower(q.Get("chain")),
		CountryCode: strings.ToUpper(q.Get("country_code")),
		Limit:       queryInt(q.Get("limit"), 100),
		Offset:      queryInt(q.Get("offset"), 0),
	})
	if err != nil {
		zap.L().Error("list locations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list locations failed")
		return
	}
	if locs == nil {
		locs = []model.HotelLocation{}
	}
	writeJSON(w, http.StatusOK, locs)
}

// handleListJobs lists async jobs; active=true keeps only queued and
// running ones.
func (a *api) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.jobs.list(r.URL.Query().Get("active") == "true"))
}

// handlePruneJobs drops finished jobs older than older_than_hours
// (default 24).
func (a *api) handlePruneJobs(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r.URL.Query().Get("older_than_hours"), 24)
	removed := a.jobs.prune(time.Duration(hours) * time.Hour)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (a *api) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{
		Limit:         queryInt(q.Get("limit"), 50),
		Offset:        queryInt(q.Get("offset"), 0),
		RetryableOnly: q.Get("retryable") == "true",
	}
	if v := q.Get("stage"); v != "" {
		s, err := model.ParseStage(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown stage")
			return
		}
		filter.Stage = s
	}

	recs, err := a.records.List(r.Context(), filter)
	if err != nil {
		zap.L().Error("list records", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list records failed")
		return
	}
	if recs == nil {
		recs = []model.ExtractionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *api) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	var threshold float64
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			writeError(w, http.StatusBadRequest, "min_confidence must be between 0 and 1")
			return
		}
		threshold = f
	}

	rec, err := a.records.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
		return
	case err != nil:
		zap.L().Error("get record", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get record failed")
		return
	}
	writeJSON(w, http.StatusOK, applyConfidence(rec, threshold))
}

func (a *api) handleResume(w http.ResponseWriter, r *http.Request) {
	res, err := a.runner.Resume(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeResult(w, res, err)
}

func (a *api) handleRetry(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query().Get("limit"), 100)
	stats, err := a.runner.RetryFailed(r.Context(), limit, a.concurrency)
	if err != nil {
		zap.L().Error("retry sweep", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "retry sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *api) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if a.collector == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	hours := queryInt(r.URL.Query().Get("hours"), a.lookbackHours)
	if hours <= 0 {
		hours = 24
	}
	snap, err := a.collector.Collect(r.Context(), hours)
	if err != nil {
		zap.L().Error("collect metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "collect metrics failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// writeResult maps a run to a response. A halted run still returns its
// result body: 422 for non-retryable failures, 502 for retryable ones.
func writeResult(w http.ResponseWriter, res *pipeline.Result, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, res)
		return
	}
	if se, ok := model.AsStageError(err); ok && res != nil {
		status := http.StatusBadGateway
		if !se.Retryable {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, res)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusServiceUnavailable, "run cancelled")
		return
	}
	zap.L().Error("pipeline run", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "pipeline run failed")
}

func queryInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().Int("port", 0, "HTTP port (default server.port)")
	rootCmd.AddCommand(serveCmd)
}
