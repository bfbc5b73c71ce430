// Package engine is the HTTP client for the external backtest and tuning
// service.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/spachava753/tunectl/internal/models"
)

// Service is every operation the engine exposes to tunectl.
type Service interface {
	StartTuning(ctx context.Context, req StartTuningRequest) (models.Ack, error)
	TuningStatus(ctx context.Context) (models.RunStatus, error)
	StopTuning(ctx context.Context) (models.Ack, error)

	StartCacheRefresh(ctx context.Context) (models.Ack, error)
	CacheStatus(ctx context.Context) (models.CacheStatus, error)

	History(ctx context.Context, limit int) ([]models.HistoryEntry, error)

	LiveConfiguration(ctx context.Context) (*models.LiveConfiguration, error)
	SetLiveConfiguration(ctx context.Context, req SetLiveRequest) (models.LiveConfiguration, error)
	PromoteLiveFromTrial(ctx context.Context, req PromoteRequest) (models.LiveConfiguration, error)

	RunBacktest(ctx context.Context, params models.Parameters) (models.BacktestRun, error)
	TuningVariables(ctx context.Context) (map[string]models.TuningVariable, error)
	SetTuningVariable(ctx context.Context, name string, enabled bool) error
}

// StartTuningRequest is the body of the start-tuning call.
type StartTuningRequest struct {
	Trials    int    `json:"trials"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// SetLiveRequest is the body of the set-live call.
type SetLiveRequest struct {
	Params models.Parameters `json:"params"`
	Notes  string            `json:"notes"`
}

// PromoteRequest is the body of the promote-to-live call.
type PromoteRequest struct {
	TrialID  int               `json:"trial_id"`
	Params   models.Parameters `json:"params"`
	Result   models.Result     `json:"result"`
	Lookback string            `json:"lookback"`
	Notes    string            `json:"notes"`
}

// HTTPError is a non-2xx response from the engine.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
}

// Client talks to the engine over HTTP.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the engine at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

// FromConfig creates a client from the engine section of the config.
func FromConfig(cfg models.EngineConfig) *Client {
	return NewClient(cfg.BaseURL, time.Duration(cfg.TimeoutMs)*time.Millisecond)
}

func (c *Client) StartTuning(ctx context.Context, req StartTuningRequest) (models.Ack, error) {
	var ack models.Ack
	if err := c.do(ctx, http.MethodPost, "/api/v1/tuning/start", req, &ack); err != nil {
		return ack, err
	}
	ack.Accepted = true
	return ack, nil
}

func (c *Client) TuningStatus(ctx context.Context) (models.RunStatus, error) {
	var status models.RunStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/tuning/status", nil, &status)
	return status, err
}

func (c *Client) StopTuning(ctx context.Context) (models.Ack, error) {
	var ack models.Ack
	if err := c.do(ctx, http.MethodPost, "/api/v1/tuning/stop", nil, &ack); err != nil {
		return ack, err
	}
	ack.Accepted = true
	return ack, nil
}

func (c *Client) StartCacheRefresh(ctx context.Context) (models.Ack, error) {
	var ack models.Ack
	if err := c.do(ctx, http.MethodPost, "/api/v1/cache/update", nil, &ack); err != nil {
		return ack, err
	}
	ack.Accepted = true
	return ack, nil
}

func (c *Client) CacheStatus(ctx context.Context) (models.CacheStatus, error) {
	var status models.CacheStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/cache/status", nil, &status)
	return status, err
}

// historyRecord is one row of the engine's backtest history table.
type historyRecord struct {
	ID              int64           `json:"id"`
	CreatedAt       string          `json:"created_at"`
	RunType         string          `json:"run_type"`
	TuningSessionID *string         `json:"tuning_session_id"`
	TrialNumber     *int            `json:"trial_number"`
	LookbackMonths  *int            `json:"lookback_months"`
	Params          json.RawMessage `json:"params"`
	models.Parameters
	models.Result
}

func (c *Client) History(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	var body struct {
		History []historyRecord `json:"history"`
	}
	path := "/api/v1/history/backtests?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}

	entries := make([]models.HistoryEntry, 0, len(body.History))
	for _, rec := range body.History {
		entry, err := rec.toEntry()
		if err != nil {
			slog.Warn("skipping malformed history record", "id", rec.ID, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r historyRecord) toEntry() (models.HistoryEntry, error) {
	recordedAt, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		return models.HistoryEntry{}, err
	}

	params := r.Parameters
	if len(r.Params) > 0 && string(r.Params) != "null" {
		if err := json.Unmarshal(r.Params, &params); err != nil {
			return models.HistoryEntry{}, fmt.Errorf("parsing params: %w", err)
		}
	}
	if r.LookbackMonths != nil {
		params.LookbackMonths = *r.LookbackMonths
	}

	var number int
	if r.TrialNumber != nil {
		number = *r.TrialNumber
	}
	entry := models.HistoryEntry{
		ID:          strconv.FormatInt(r.ID, 10),
		TrialNumber: r.TrialNumber,
		Kind:        models.KindSingle,
		Source:      models.SourceRemote,
		RecordedAt:  recordedAt,
		Trial: models.Trial{
			TrialNumber:    number,
			LookbackMonths: params.LookbackMonths,
			Params:         params,
			Result:         r.Result,
			CreatedAt:      recordedAt,
		},
	}
	if r.RunType == string(models.KindTuning) {
		entry.Kind = models.KindTuning
	}
	if r.TuningSessionID != nil {
		entry.RunID = *r.TuningSessionID
	}
	return entry, nil
}

func (c *Client) LiveConfiguration(ctx context.Context) (*models.LiveConfiguration, error) {
	var body struct {
		Live *models.LiveConfiguration `json:"live"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/optimal-params/live", nil, &body); err != nil {
		return nil, err
	}
	return body.Live, nil
}

func (c *Client) SetLiveConfiguration(ctx context.Context, req SetLiveRequest) (models.LiveConfiguration, error) {
	return c.writeLive(ctx, "/api/v1/optimal-params/set-live", req)
}

func (c *Client) PromoteLiveFromTrial(ctx context.Context, req PromoteRequest) (models.LiveConfiguration, error) {
	return c.writeLive(ctx, "/api/v1/optimal-params/promote-to-live", req)
}

func (c *Client) writeLive(ctx context.Context, path string, req any) (models.LiveConfiguration, error) {
	var body struct {
		Live *models.LiveConfiguration `json:"live"`
	}
	if err := c.do(ctx, http.MethodPost, path, req, &body); err != nil {
		return models.LiveConfiguration{}, err
	}
	if body.Live == nil {
		return models.LiveConfiguration{}, fmt.Errorf("POST %s: response carries no live configuration", path)
	}
	return *body.Live, nil
}

func (c *Client) RunBacktest(ctx context.Context, params models.Parameters) (models.BacktestRun, error) {
	run := models.BacktestRun{Params: params}
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtest/run", params, &run.Result); err != nil {
		return run, err
	}
	run.CreatedAt = time.Now()
	return run, nil
}

func (c *Client) TuningVariables(ctx context.Context) (map[string]models.TuningVariable, error) {
	var body struct {
		AllVariables map[string]models.TuningVariable `json:"all_variables"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/tuning-variables", nil, &body); err != nil {
		return nil, err
	}
	return body.AllVariables, nil
}

func (c *Client) SetTuningVariable(ctx context.Context, name string, enabled bool) error {
	body := map[string]bool{"enabled": enabled}
	return c.do(ctx, http.MethodPut, "/api/v1/tuning-variables/"+name, body, nil)
}

// do issues one request and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return models.NewError(models.ErrTransportType, "", fmt.Sprintf("%s %s", method, path), err)
	}

	if resp.IsError() {
		httpErr := &HTTPError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode(),
			Detail:     detail(resp.Body()),
		}
		return models.NewError(models.ErrTransportType, "", "engine rejected request", httpErr)
	}
	return nil
}

// detail extracts the error message of a FastAPI-style error body.
func detail(body []byte) string {
	var e struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Detail == nil {
		return ""
	}
	if s, ok := e.Detail.(string); ok {
		return s
	}
	b, _ := json.Marshal(e.Detail)
	return string(b)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
