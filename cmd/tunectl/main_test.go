package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spachava753/tunectl/internal/models"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTuneStartRejectsSmallBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, err := runCLI(t, "--engine", srv.URL, "tune", "start", "-n", "5")
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("expected no engine requests, got %d", hits.Load())
	}
}

func TestLiveSetRequiresConfirmation(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := runCLI(t, "--engine", srv.URL, "live", "set", "--ma", "40")
	if !errors.Is(err, models.ErrNotConfirmed) {
		t.Fatalf("expected not confirmed, got %v", err)
	}
}

func TestVariablesTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"all_variables": {
			"rsi_period": {"enabled": false, "range": [5, 30], "default": 14, "category": "momentum"},
			"ma_period": {"enabled": true, "range": [20, 100], "default": 60, "category": "trend"}
		}}`)
	}))
	defer srv.Close()

	out, err := runCLI(t, "--engine", srv.URL, "variables")
	if err != nil {
		t.Fatalf("variables failed: %v", err)
	}
	ma := strings.Index(out, "ma_period")
	rsi := strings.Index(out, "rsi_period")
	if ma < 0 || rsi < 0 || ma > rsi {
		t.Errorf("expected sorted variable rows, got:\n%s", out)
	}
	if !strings.Contains(out, "20..100") {
		t.Errorf("expected range column, got:\n%s", out)
	}
}

func TestHistoryDegradesWhenEngineUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out, err := runCLI(t, "--engine", url, "--json", "history")
	if err != nil {
		t.Fatalf("expected local-only history, got %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("expected an empty local tier, got %q", out)
	}
}

func TestLogLevelFlagIsValidated(t *testing.T) {
	_, err := runCLI(t, "--log-level", "loud", "cache", "status")
	if err == nil || !strings.Contains(err.Error(), "log level") {
		t.Errorf("expected log level error, got %v", err)
	}
}
