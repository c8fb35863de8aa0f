package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/app"
	"github.com/rxtech-lab/argo-datapage/internal/backtest"
	"github.com/rxtech-lab/argo-datapage/internal/config"
	"github.com/rxtech-lab/argo-datapage/internal/coordinator"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/compute"
	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap/zapcore"
)

func backtestCommand() *cli.Command {
	return &cli.Command{
		Name:  "backtest",
		Usage: "Run a moving average crossover backtest against the configured data service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "Trading symbol, e.g. BTCUSDT", Required: true},
			&cli.StringFlag{Name: "timeframe", Aliases: []string{"t"}, Usage: "Candle timeframe", Value: string(types.Timeframe1h)},
			&cli.TimestampFlag{
				Name:     "start",
				Usage:    "Start date in `YYYY-MM-DD` format (or RFC3339)",
				Required: true,
				Config:   cli.TimestampConfig{Layouts: []string{"2006-01-02", time.RFC3339}},
			},
			&cli.TimestampFlag{
				Name:     "end",
				Usage:    "End date in `YYYY-MM-DD` format (or RFC3339)",
				Required: true,
				Config:   cli.TimestampConfig{Layouts: []string{"2006-01-02", time.RFC3339}},
			},
			&cli.StringFlag{Name: "capital", Usage: "Starting capital", Value: "10000"},
			&cli.IntFlag{Name: "fast", Usage: "Fast moving average period", Value: 10},
			&cli.IntFlag{Name: "slow", Usage: "Slow moving average period", Value: 30},
			&cli.StringFlag{Name: "funding", Usage: "Funding dependency: required, optional or none", Value: "optional"},
			&cli.FloatFlag{Name: "max-funding", Usage: "Skip entries while the funding rate is above this", Value: 0.0005},
			&cli.BoolFlag{Name: "trades", Usage: "Confirm entries with tick trade volume delta when trades load"},
			&cli.DurationFlag{Name: "timeout", Usage: "Give up after this long", Value: 30 * time.Minute},
		},
		Action: backtestAction,
	}
}

type runOutcome struct {
	result *compute.Result
	err    error
}

func backtestAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	strategy, err := strategyFromFlags(cmd)
	if err != nil {
		return err
	}

	timeframe, err := types.ParseTimeframe(cmd.String("timeframe"))
	if err != nil {
		return err
	}

	capital, err := decimal.NewFromString(cmd.String("capital"))
	if err != nil {
		return fmt.Errorf("invalid capital %q: %w", cmd.String("capital"), err)
	}

	log, err := newLogger(cmd, zapcore.WarnLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck // stdout sync errors are not actionable

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(cmd.Root().ErrWriter),
		progressbar.OptionSetDescription(string(compute.PhaseLoading)),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
	)

	done := make(chan runOutcome, 1)
	callbacks := progressCallbacks(bar, done)

	rt, err := app.New(cfg, log, callbacks)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.Start(ctx)

	runID, err := rt.Coordinator.RequestBacktest(strategy, cmd.String("symbol"), timeframe,
		cmd.Timestamp("start"), cmd.Timestamp("end"), capital)
	if err != nil {
		return err
	}

	timer := time.NewTimer(cmd.Duration("timeout"))
	defer timer.Stop()

	select {
	case out := <-done:
		_ = bar.Finish()

		if out.err != nil {
			return fmt.Errorf("backtest %s failed: %w", runID, out.err)
		}

		printResult(cmd, out.result)

		return nil
	case <-timer.C:
		rt.Coordinator.Cancel()

		return fmt.Errorf("backtest %s timed out", runID)
	case <-ctx.Done():
		rt.Coordinator.Cancel()

		return ctx.Err()
	}
}

func strategyFromFlags(cmd *cli.Command) (*backtest.SMACross, error) {
	funding, ok := compute.ParseNecessity(cmd.String("funding"))
	if !ok {
		return nil, fmt.Errorf("invalid funding dependency %q", cmd.String("funding"))
	}

	trades := compute.NotNeeded
	if cmd.Bool("trades") {
		trades = compute.Optional
	}

	return &backtest.SMACross{
		Fast:       int(cmd.Int("fast")),
		Slow:       int(cmd.Int("slow")),
		MaxFunding: cmd.Float("max-funding"),
		Funding:    funding,
		Trades:     trades,
	}, nil
}

func progressCallbacks(bar *progressbar.ProgressBar, done chan<- runOutcome) coordinator.Callbacks {
	onProgress := coordinator.OnProgressCallback(func(_ string, phase compute.Phase, pct float64) {
		bar.Describe(string(phase))
		_ = bar.Set(int(pct))
	})
	onError := coordinator.OnErrorCallback(func(_ string, err error) {
		done <- runOutcome{result: nil, err: err}
	})
	onComplete := coordinator.OnCompleteCallback(func(_ string, result *compute.Result) {
		done <- runOutcome{result: result, err: nil}
	})

	return coordinator.Callbacks{
		OnStatus:   nil,
		OnProgress: &onProgress,
		OnError:    &onError,
		OnComplete: &onComplete,
	}
}

func printResult(cmd *cli.Command, r *compute.Result) {
	w := cmd.Root().Writer

	fmt.Fprintf(w, "Result %s (%s)\n", r.ID, r.Strategy)
	fmt.Fprintf(w, "  %s %s %s - %s\n", r.Symbol, r.Timeframe,
		r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	fmt.Fprintf(w, "  Capital:      %s\n", r.Capital.StringFixed(2))
	fmt.Fprintf(w, "  Final equity: %s\n", r.FinalEquity.StringFixed(2))
	fmt.Fprintf(w, "  Return:       %s%%\n", r.TotalReturn.Mul(decimal.NewFromInt(100)).StringFixed(2))
	fmt.Fprintf(w, "  Max drawdown: %s%%\n", r.MaxDrawdown.Mul(decimal.NewFromInt(100)).StringFixed(2))
	fmt.Fprintf(w, "  Win rate:     %.2f%%\n", r.WinRate*100)
	fmt.Fprintf(w, "  Fills:        %d\n", len(r.Fills))

	if len(r.Degraded) > 0 {
		fmt.Fprintf(w, "  Degraded:     %v\n", r.Degraded)
	}
}
