package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/spachava753/tunectl/internal/cache"
	"github.com/spachava753/tunectl/internal/history"
	"github.com/spachava753/tunectl/internal/models"
	"github.com/spachava753/tunectl/internal/util"
)

func newTuneCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Start, stop and inspect tuning runs",
	}

	var (
		trials    int
		startDate string
		endDate   string
		wait      bool
	)
	start := &cobra.Command{
		Use:   "start",
		Short: "Start a tuning run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			ack, err := app.Tuning.Start(ctx, trials, models.Window{StartDate: startDate, EndDate: endDate})
			if err != nil {
				return err
			}
			if !wait {
				return printOut(cmd, flags, ack, func() {
					fmt.Fprintf(cmd.OutOrStdout(), "Run %s started (%d trials)\n", ack.SessionID, trials)
				})
			}

			if err := app.Tuning.Wait(ctx); err != nil {
				app.Tuning.Close()
				return err
			}
			snap := app.Tuning.Snapshot()
			if snap.Error != nil {
				return snap.Error
			}
			return printOut(cmd, flags, snap, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s finished: best sharpe %.3f\n", snap.RunID, snap.Progress.BestMetric)
				printTrials(cmd.OutOrStdout(), snap.Trials)
			})
		},
	}
	start.Flags().IntVarP(&trials, "trials", "n", 50, "trial budget")
	start.Flags().StringVar(&startDate, "start", "", "window start date (YYYY-MM-DD)")
	start.Flags().StringVar(&endDate, "end", "", "window end date (YYYY-MM-DD)")
	start.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the run finishes and print its trials")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Ask the engine to stop the running search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app()
			if err != nil {
				return err
			}
			ack, err := app.Engine.StopTuning(cmd.Context())
			if err != nil {
				return err
			}
			return printOut(cmd, flags, ack, func() {
				fmt.Fprintln(cmd.OutOrStdout(), "Stop requested")
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the engine's tuning status with classified trials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app()
			if err != nil {
				return err
			}
			st, err := app.Engine.TuningStatus(cmd.Context())
			if err != nil {
				return err
			}
			classified := app.Validator.ClassifyAll(st.Trials)
			out := struct {
				Status models.RunStatus          `json:"status"`
				Trials []models.ClassifiedTrial `json:"trials"`
			}{st, classified}
			return printOut(cmd, flags, out, func() {
				w := cmd.OutOrStdout()
				state := "idle"
				if st.IsRunning {
					state = "running"
				}
				fmt.Fprintf(w, "State: %s  trial %d/%d  best sharpe %.3f\n", state, st.CurrentTrial, st.TotalTrials, st.BestMetric)
				if st.BestParams != nil {
					fmt.Fprintf(w, "Best: %s\n", formatParams(*st.BestParams))
				}
				printLookbacks(w, st.LookbackResults)
				printTrials(w, classified)
			})
		},
	}

	cmd.AddCommand(start, stop, status)
	return cmd
}

func newCacheCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Refresh and inspect the market-data cache",
	}

	var wait bool
	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Start a cache refresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			done := make(chan struct{})
			go func() {
				defer close(done)
				app.Cache.Run(ctx)
			}()
			defer func() {
				cancel()
				<-done
			}()

			if err := app.Cache.Start(ctx); err != nil {
				return err
			}
			if !wait {
				fmt.Fprintln(cmd.OutOrStdout(), "Cache refresh started")
				return nil
			}

			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
				snap := app.Cache.Snapshot()
				if snap.Phase == cache.PhaseCompleted {
					return printOut(cmd, flags, snap, func() { printCache(cmd.OutOrStdout(), snap.Status) })
				}
			}
		},
	}
	refresh.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the refresh completes")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the cache refresh status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app()
			if err != nil {
				return err
			}
			st, err := app.Engine.CacheStatus(cmd.Context())
			if err != nil {
				return err
			}
			return printOut(cmd, flags, st, func() { printCache(cmd.OutOrStdout(), st) })
		},
	}

	cmd.AddCommand(refresh, status)
	return cmd
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var best bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List backtest history with verdicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app()
			if err != nil {
				return err
			}
			entries := app.History.List(cmd.Context())
			for i := range entries {
				if entries[i].Verdict == nil {
					v := app.Validator.ClassifyTrial(entries[i].Trial).Verdict
					entries[i].Verdict = &v
				}
			}
			if best {
				top, ok := history.Best(entries)
				if !ok {
					return fmt.Errorf("no promotable entry in history")
				}
				entries = []models.HistoryEntry{top}
			}
			return printOut(cmd, flags, entries, func() { printHistory(cmd.OutOrStdout(), entries) })
		},
	}
	cmd.Flags().BoolVar(&best, "best", false, "show only the best non-invalid entry")
	return cmd
}

func newLiveCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Show and change the live configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the live configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app()
			if err != nil {
				return err
			}
			cur, err := app.Live.Current(cmd.Context())
			if err != nil {
				return err
			}
			return printOut(cmd, flags, cur, func() { printLive(cmd.OutOrStdout(), cur) })
		},
	}

	var (
		params  models.Parameters
		notes   string
		confirm bool
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Set the live configuration by hand",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app()
			if err != nil {
				return err
			}
			cfg, err := app.Live.SetManually(cmd.Context(), params, notes, confirm)
			if err != nil {
				return err
			}
			return printOut(cmd, flags, cfg, func() { printLive(cmd.OutOrStdout(), &cfg) })
		},
	}
	set.Flags().IntVar(&params.MAPeriod, "ma", 60, "moving average period")
	set.Flags().IntVar(&params.RSIPeriod, "rsi", 14, "RSI period")
	set.Flags().Float64Var(&params.StopLoss, "stop-loss", -8, "stop loss percent")
	set.Flags().IntVar(&params.MaxPositions, "max-positions", 0, "maximum open positions")
	set.Flags().StringVar(&notes, "notes", "", "audit note")
	set.Flags().BoolVarP(&confirm, "yes", "y", false, "confirm the change")

	var (
		trialNumber   int
		promoteNotes  string
		promoteAccept bool
	)
	promote := &cobra.Command{
		Use:   "promote",
		Short: "Promote a trial of the latest tuning run to live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app()
			if err != nil {
				return err
			}
			st, err := app.Engine.TuningStatus(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range st.Trials {
				if t.TrialNumber != trialNumber {
					continue
				}
				cfg, err := app.Live.PromoteFromTrial(cmd.Context(), t, promoteNotes, promoteAccept)
				if err != nil {
					return err
				}
				return printOut(cmd, flags, cfg, func() { printLive(cmd.OutOrStdout(), &cfg) })
			}
			return fmt.Errorf("trial %d not found in the latest run", trialNumber)
		},
	}
	promote.Flags().IntVarP(&trialNumber, "trial", "t", 0, "trial number")
	promote.Flags().StringVar(&promoteNotes, "notes", "", "audit note")
	promote.Flags().BoolVarP(&promoteAccept, "yes", "y", false, "confirm the promotion")
	promote.MarkFlagRequired("trial")

	cmd.AddCommand(show, set, promote)
	return cmd
}

func newBacktestCmd(flags *globalFlags) *cobra.Command {
	var (
		params   models.Parameters
		lookback string
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a single backtest and classify its result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			months, err := util.ParseLookback(lookback)
			if err != nil {
				return models.Validationf("%v", err)
			}
			params.LookbackMonths = months

			app, err := flags.app()
			if err != nil {
				return err
			}
			run, err := app.Engine.RunBacktest(cmd.Context(), params)
			if err != nil {
				return err
			}
			verdict := app.Validator.Classify(run.Result, models.Splits{}, models.AbsentHealth())
			entry := app.History.AppendBacktest(run, &verdict)
			return printOut(cmd, flags, entry, func() { printHistory(cmd.OutOrStdout(), []models.HistoryEntry{entry}) })
		},
	}
	cmd.Flags().IntVar(&params.MAPeriod, "ma", 60, "moving average period")
	cmd.Flags().IntVar(&params.RSIPeriod, "rsi", 14, "RSI period")
	cmd.Flags().Float64Var(&params.StopLoss, "stop-loss", -8, "stop loss percent")
	cmd.Flags().IntVar(&params.MaxPositions, "max-positions", 0, "maximum open positions")
	cmd.Flags().Int64Var(&params.InitialCapital, "capital", 0, "initial capital")
	cmd.Flags().StringVar(&params.StartDate, "start", "", "window start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&params.EndDate, "end", "", "window end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&lookback, "lookback", "", "lookback window, e.g. 3M or 1Y")
	return cmd
}

func newVariablesCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "variables",
		Short: "List or toggle the engine's tuning variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app()
			if err != nil {
				return err
			}
			vars, err := app.Engine.TuningVariables(cmd.Context())
			if err != nil {
				return err
			}
			return printOut(cmd, flags, vars, func() {
				names := make([]string, 0, len(vars))
				for name := range vars {
					names = append(names, name)
				}
				sort.Strings(names)
				printVariables(cmd.OutOrStdout(), names, vars)
			})
		},
	}

	var enabled bool
	set := &cobra.Command{
		Use:   "set NAME",
		Short: "Enable or disable a tuning variable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app()
			if err != nil {
				return err
			}
			if err := app.Engine.SetTuningVariable(cmd.Context(), args[0], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s enabled=%t\n", args[0], enabled)
			return nil
		},
	}
	set.Flags().BoolVar(&enabled, "enabled", true, "enable the variable")

	cmd.AddCommand(set)
	return cmd
}
