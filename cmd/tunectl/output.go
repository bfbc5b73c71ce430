package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/spachava753/tunectl/internal/models"
	"github.com/spachava753/tunectl/internal/util"
)

func printOut(cmd *cobra.Command, flags *globalFlags, v any, text func()) error {
	if flags.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}

func formatParams(p models.Parameters) string {
	s := fmt.Sprintf("MA %d  RSI %d  SL %.1f%%", p.MAPeriod, p.RSIPeriod, p.StopLoss)
	if p.MaxPositions > 0 {
		s += fmt.Sprintf("  max pos %d", p.MaxPositions)
	}
	if p.LookbackMonths > 0 {
		s += "  lookback " + util.FormatLookback(p.LookbackMonths)
	}
	return s
}

func verdictLabel(v *models.Verdict) string {
	if v == nil {
		return "-"
	}
	if len(v.Reasons) == 0 {
		return string(v.Class)
	}
	return fmt.Sprintf("%s (%s)", v.Class, strings.Join(v.Reasons, "; "))
}

func printTrials(w io.Writer, trials []models.ClassifiedTrial) {
	if len(trials) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRIAL\tPARAMS\tSHARPE\tCAGR\tMAX DD\tTRADES\tVERDICT")
	for _, ct := range trials {
		t := ct.Trial
		fmt.Fprintf(tw, "%d\t%s\t%.3f\t%.2f%%\t%.2f%%\t%d\t%s\n",
			t.TrialNumber, formatParams(t.Params), t.Result.SharpeRatio, t.Result.CAGR,
			t.Result.MaxDrawdown, t.Result.NumTrades, verdictLabel(&ct.Verdict))
	}
	tw.Flush()
}

func printLookbacks(w io.Writer, results map[int]models.LookbackResult) {
	if len(results) == 0 {
		return
	}
	months := make([]int, 0, len(results))
	for m := range results {
		months = append(months, m)
	}
	sort.Ints(months)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOOKBACK\tBEST VALUE\tTRIALS")
	for _, m := range months {
		r := results[m]
		fmt.Fprintf(tw, "%s\t%.3f\t%d\n", util.FormatLookback(m), r.BestValue, r.NTrials)
	}
	tw.Flush()
}

func printCache(w io.Writer, st models.CacheStatus) {
	last := "-"
	if st.LastDate != nil {
		last = *st.LastDate
	}
	fmt.Fprintf(w, "Files: %d  last date: %s  running: %t\n", st.FileCount, last, st.IsRunning)
	if st.Total > 0 {
		fmt.Fprintf(w, "Progress: %d/%d  updated %d  skipped %d  failed %d\n",
			st.Progress, st.Total, st.Updated, st.Skipped, st.Failed)
	}
	if st.Message != "" {
		fmt.Fprintln(w, st.Message)
	}
	for _, e := range st.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}

func printHistory(w io.Writer, entries []models.HistoryEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSOURCE\tKIND\tRUN\tPARAMS\tSHARPE\tVERDICT")
	for _, e := range entries {
		run := "-"
		if e.RunID != "" {
			run = e.RunID
			if e.TrialNumber != nil {
				run += fmt.Sprintf("#%d", *e.TrialNumber)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.3f\t%s\n",
			e.RecordedAt.Format("2006-01-02 15:04"), e.Source, e.Kind, run,
			formatParams(e.Trial.Params), e.Trial.Result.SharpeRatio, verdictLabel(e.Verdict))
	}
	tw.Flush()
}

func printLive(w io.Writer, cfg *models.LiveConfiguration) {
	if cfg == nil {
		fmt.Fprintln(w, "No live configuration")
		return
	}
	fmt.Fprintf(w, "Live: %s\n", formatParams(cfg.Params))
	fmt.Fprintf(w, "Source: %s", cfg.Source)
	if cfg.TrialID != nil {
		fmt.Fprintf(w, " (trial %d)", *cfg.TrialID)
	}
	fmt.Fprintf(w, "  promoted %s\n", cfg.PromotedAt.Format("2006-01-02 15:04"))
	if cfg.Notes != "" {
		fmt.Fprintf(w, "Notes: %s\n", cfg.Notes)
	}
}

func printVariables(w io.Writer, names []string, vars map[string]models.TuningVariable) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENABLED\tRANGE\tDEFAULT\tCATEGORY\tDESCRIPTION")
	for _, name := range names {
		v := vars[name]
		fmt.Fprintf(tw, "%s\t%t\t%g..%g\t%g\t%s\t%s\n",
			name, v.Enabled, v.Range[0], v.Range[1], v.Default, v.Category, v.Description)
	}
	tw.Flush()
}
