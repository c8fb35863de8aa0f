package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/rxtech-lab/argo-datapage/internal/config"
	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/resultstore"
	"github.com/urfave/cli/v3"
)

func resultsCommand() *cli.Command {
	return &cli.Command{
		Name:  "results",
		Usage: "Inspect stored backtest results",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List results, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "symbol", Usage: "Only results for this symbol"},
				},
				Action: listResultsAction,
			},
			{
				Name:  "export",
				Usage: "Export results and fills as Parquet files",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output `DIR`", Required: true},
				},
				Action: exportResultsAction,
			},
		},
	}
}

func openStore(cmd *cli.Command) (*resultstore.Store, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if cfg.Results.Path == "" {
		return nil, fmt.Errorf("results.path is not configured")
	}

	return resultstore.Open(cfg.Results.Path, logger.NewNopLogger())
}

func listResultsAction(ctx context.Context, cmd *cli.Command) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := store.List(ctx, cmd.String("symbol"))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTRATEGY\tSYMBOL\tTIMEFRAME\tRETURN\tMAX DD\tFILLS\tCREATED")

	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Strategy, r.Symbol, r.Timeframe,
			r.TotalReturn.StringFixed(4), r.MaxDrawdown.StringFixed(4),
			len(r.Fills), r.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	return w.Flush()
}

func exportResultsAction(_ context.Context, cmd *cli.Command) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Export(cmd.String("out"))
}
