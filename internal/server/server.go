// Package server exposes component snapshots and operator actions over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spachava753/tunectl/internal/cache"
	"github.com/spachava753/tunectl/internal/history"
	"github.com/spachava753/tunectl/internal/live"
	"github.com/spachava753/tunectl/internal/models"
	"github.com/spachava753/tunectl/internal/tuning"
	"github.com/spachava753/tunectl/internal/util"
)

// Tuning is the controller surface used by the API.
type Tuning interface {
	Start(ctx context.Context, budget int, window models.Window) (models.Ack, error)
	Stop(ctx context.Context) error
	Snapshot() tuning.Snapshot
}

// Cache is the tracker surface used by the API.
type Cache interface {
	Start(ctx context.Context) error
	Snapshot() cache.Snapshot
}

// History is the merger surface used by the API.
type History interface {
	List(ctx context.Context) []models.HistoryEntry
	Local() []models.HistoryEntry
	RefreshFromRemote(ctx context.Context) ([]models.HistoryEntry, error)
	FindTrial(runID string, n int) (models.HistoryEntry, bool)
	AppendBacktest(run models.BacktestRun, verdict *models.Verdict) models.HistoryEntry
}

// Backtests runs single ad-hoc backtests on the engine.
type Backtests interface {
	RunBacktest(ctx context.Context, params models.Parameters) (models.BacktestRun, error)
}

// Classifier produces a verdict for a backtest result.
type Classifier interface {
	Classify(result models.Result, splits models.Splits, health models.HealthReport) models.Verdict
}

// Live is the promotion manager surface used by the API.
type Live interface {
	Current(ctx context.Context) (*models.LiveConfiguration, error)
	AuditTrail() []models.LiveConfiguration
	Pending() bool
	PromoteFromTrial(ctx context.Context, trial models.Trial, notes string, confirmed bool) (models.LiveConfiguration, error)
	SetManually(ctx context.Context, params models.Parameters, notes string, confirmed bool) (models.LiveConfiguration, error)
}

// Deps are the components served by the API.
type Deps struct {
	Tuning     Tuning
	Cache      Cache
	History    History
	Live       Live
	Backtests  Backtests
	Classifier Classifier
	Gatherer   prometheus.Gatherer
}

// Server is the gin HTTP surface.
type Server struct {
	deps   Deps
	router *gin.Engine
}

// New builds the router.
func New(deps Deps) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	s := &Server{deps: deps, router: r}

	api := r.Group("/api/v1")
	api.GET("/tuning", s.getTuning)
	api.POST("/tuning/start", s.startTuning)
	api.POST("/tuning/stop", s.stopTuning)
	api.GET("/cache", s.getCache)
	api.POST("/cache/refresh", s.refreshCache)
	api.GET("/history", s.getHistory)
	api.GET("/live", s.getLive)
	api.POST("/live/set", s.setLive)
	api.POST("/live/promote", s.promoteLive)
	if deps.Backtests != nil && deps.Classifier != nil {
		api.POST("/backtest", s.runBacktest)
	}

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	slog.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request", "method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "duration", time.Since(start))
	}
}

type startTuningRequest struct {
	Trials    int    `json:"trials"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type setLiveRequest struct {
	Params  models.Parameters `json:"params"`
	Notes   string            `json:"notes"`
	Confirm bool              `json:"confirm"`
}

type promoteRequest struct {
	RunID       string `json:"run_id"`
	TrialNumber *int   `json:"trial_number" binding:"required"`
	Notes       string `json:"notes"`
	Confirm     bool   `json:"confirm"`
}

func (s *Server) getTuning(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Tuning.Snapshot())
}

func (s *Server) startTuning(c *gin.Context) {
	var req startTuningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Validationf("decoding request: %v", err))
		return
	}
	ack, err := s.deps.Tuning.Start(c.Request.Context(), req.Trials, models.Window{
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ack)
}

func (s *Server) stopTuning(c *gin.Context) {
	if err := s.deps.Tuning.Stop(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Tuning.Snapshot())
}

func (s *Server) getCache(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Cache.Snapshot())
}

func (s *Server) refreshCache(c *gin.Context) {
	if err := s.deps.Cache.Start(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.deps.Cache.Snapshot())
}

func (s *Server) getHistory(c *gin.Context) {
	var entries []models.HistoryEntry
	switch source := c.DefaultQuery("source", "all"); source {
	case "all":
		entries = s.deps.History.List(c.Request.Context())
	case string(models.SourceLocal):
		entries = s.deps.History.Local()
	case string(models.SourceRemote):
		remote, err := s.deps.History.RefreshFromRemote(c.Request.Context())
		if err != nil {
			writeError(c, models.NewError(models.ErrStaleReadType, "history", "reading remote history", err))
			return
		}
		entries = history.Merge(remote, nil)
	default:
		writeError(c, models.Validationf("unknown source %q", source))
		return
	}

	body := gin.H{"entries": entries}
	if best, ok := history.Best(entries); ok {
		body["best"] = best
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) getLive(c *gin.Context) {
	current, err := s.deps.Live.Current(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"current": current,
		"audit":   s.deps.Live.AuditTrail(),
		"pending": s.deps.Live.Pending(),
	})
}

func (s *Server) setLive(c *gin.Context) {
	var req setLiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Validationf("decoding request: %v", err))
		return
	}
	cfg, err := s.deps.Live.SetManually(c.Request.Context(), req.Params, req.Notes, req.Confirm)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) promoteLive(c *gin.Context) {
	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Validationf("decoding request: %v", err))
		return
	}
	entry, ok := s.deps.History.FindTrial(req.RunID, *req.TrialNumber)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "trial not found in local history",
		})
		return
	}
	cfg, err := s.deps.Live.PromoteFromTrial(c.Request.Context(), entry.Trial, req.Notes, req.Confirm)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type backtestRequest struct {
	Params   models.Parameters `json:"params"`
	Lookback string            `json:"lookback"`
}

func (s *Server) runBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Validationf("decoding request: %v", err))
		return
	}
	if req.Lookback != "" {
		months, err := util.ParseLookback(req.Lookback)
		if err != nil {
			writeError(c, models.Validationf("%v", err))
			return
		}
		req.Params.LookbackMonths = months
	}
	if err := live.ValidateParameters(req.Params); err != nil {
		writeError(c, err)
		return
	}

	run, err := s.deps.Backtests.RunBacktest(c.Request.Context(), req.Params)
	if err != nil {
		writeError(c, models.NewError(models.ErrTransportType, "backtest", "running backtest", err))
		return
	}
	verdict := s.deps.Classifier.Classify(run.Result, models.Splits{}, models.AbsentHealth())
	c.JSON(http.StatusOK, s.deps.History.AppendBacktest(run, &verdict))
}

// statusFor maps an error category to its HTTP status.
func statusFor(typ models.ErrorType) int {
	switch typ {
	case models.ErrValidationType:
		return http.StatusBadRequest
	case models.ErrNotConfirmedType:
		return http.StatusPreconditionFailed
	case models.ErrDomainInvalidType:
		return http.StatusUnprocessableEntity
	case models.ErrConflictType:
		return http.StatusConflict
	case models.ErrTransportType:
		return http.StatusBadGateway
	case models.ErrStaleReadType:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	typ := models.TypeOf(err)
	status := statusFor(typ)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{
		"error":   typ,
		"message": err.Error(),
	})
}
