package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/app"
	"github.com/rxtech-lab/argo-datapage/internal/config"
	"github.com/rxtech-lab/argo-datapage/internal/coordinator"
	"github.com/rxtech-lab/argo-datapage/internal/indicator"
	"github.com/rxtech-lab/argo-datapage/internal/page"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap/zapcore"
)

func indicatorCommand() *cli.Command {
	names := make([]string, 0, 5)
	for _, name := range indicator.NewDefaultRegistry().List() {
		names = append(names, string(name))
	}

	return &cli.Command{
		Name:  "indicator",
		Usage: "Compute an indicator series through the computed page cache",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Indicator: " + strings.Join(names, ", "), Required: true},
			&cli.IntFlag{Name: "period", Aliases: []string{"p"}, Usage: "Indicator period. The indicator's default applies when omitted"},
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
			&cli.IntFlag{Name: "last", Usage: "Print only the last N points (0 prints all)", Value: 10},
			&cli.DurationFlag{Name: "timeout", Usage: "Give up after this long", Value: 10 * time.Minute},
		},
		Action: indicatorAction,
	}
}

func indicatorAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	timeframe, err := types.ParseTimeframe(cmd.String("timeframe"))
	if err != nil {
		return err
	}

	var params []any
	if period := cmd.Int("period"); period > 0 {
		params = []any{int(period)}
	}

	log, err := newLogger(cmd, zapcore.WarnLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck // stdout sync errors are not actionable

	rt, err := app.New(cfg, log, coordinator.Callbacks{})
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.Start(ctx)

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	req := page.Request{
		Symbol:    cmd.String("symbol"),
		Timeframe: timeframe,
		Start:     cmd.Timestamp("start"),
		End:       cmd.Timestamp("end"),
	}

	points, ev, err := rt.Indicator(ctx, types.IndicatorType(cmd.String("name")), params, req)
	if err != nil {
		return err
	}

	w := cmd.Root().Writer

	fmt.Fprintf(w, "%s: %d points\n", ev.Key, len(points))

	if ev.Degraded {
		fmt.Fprintln(w, "  computed without trade data")
	}

	if last := int(cmd.Int("last")); last > 0 && last < len(points) {
		points = points[len(points)-last:]
	}

	for _, p := range points {
		fmt.Fprintf(w, "  %s  %.6f\n", p.Time.Format(time.RFC3339), p.Value)
	}

	return nil
}
