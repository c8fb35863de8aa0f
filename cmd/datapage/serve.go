package main

import (
	"context"
	"fmt"

	"github.com/rxtech-lab/argo-datapage/internal/app"
	"github.com/rxtech-lab/argo-datapage/internal/config"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the reference data service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address. Overrides server.address",
			},
			&cli.BoolFlag{
				Name:  "synthetic",
				Usage: "Serve generated data. Overrides sources.synthetic",
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	if addr := cmd.String("addr"); addr != "" {
		cfg.Server.Address = addr
	}

	if cmd.Bool("synthetic") {
		cfg.Sources.Synthetic = true
	}

	log, err := newLogger(cmd, zapcore.InfoLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck // stdout sync errors are not actionable

	service, err := app.NewService(cfg, log)
	if err != nil {
		return err
	}

	if err := service.Server.Start(cfg.Server.Address); err != nil {
		return err
	}

	log.Info("Serving", zap.String("url", service.Server.BaseURL()), zap.Bool("synthetic", cfg.Sources.Synthetic))

	<-ctx.Done()

	log.Info("Shutting down")

	return service.Close()
}
