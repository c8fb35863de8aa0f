package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/version"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap/zapcore"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to the YAML configuration `FILE`. Defaults apply when omitted",
	Sources: cli.EnvVars("DATAPAGE_CONFIG"),
}

var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Log at debug level",
}

func newLogger(cmd *cli.Command, quiet zapcore.Level) (*logger.Logger, error) {
	if cmd.Bool("verbose") {
		return logger.NewLoggerWithLevel(zapcore.DebugLevel)
	}

	return logger.NewLoggerWithLevel(quiet)
}

func main() {
	cmd := &cli.Command{
		Name:    "datapage",
		Usage:   "Page cache, data service and backtest coordinator",
		Version: version.Version,
		Flags:   []cli.Flag{configFlag, verboseFlag},
		Commands: []*cli.Command{
			serveCommand(),
			backtestCommand(),
			indicatorCommand(),
			resultsCommand(),
			schemaCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
