package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/wwessex/smart-tool/internal/api"
	"github.com/wwessex/smart-tool/internal/logger"
	"github.com/wwessex/smart-tool/internal/train"
)

// stageCmd builds one training subcommand; pretrain, sft and dpo differ
// only in the stage they pin on the loaded config.
func stageCmd(stage, usage string) *cli.Command {
	var (
		configPath string
		dataPaths  []string
		outputDir  string
		loadFrom   string
		statusAddr string
		logLevel   string
		jsonLogs   bool
	)

	return &cli.Command{
		Name:  stage,
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to the stage YAML config",
				Required:    true,
				Destination: &configPath,
			},
			&cli.StringSliceFlag{
				Name:        "data",
				Usage:       "dataset paths (overrides config)",
				Destination: &dataPaths,
			},
			&cli.StringFlag{
				Name:        "output-dir",
				Aliases:     []string{"o"},
				Usage:       "checkpoint directory (overrides config)",
				Destination: &outputDir,
			},
			&cli.StringFlag{
				Name:        "load-from",
				Usage:       "checkpoint file or run directory to resume from (overrides config)",
				Destination: &loadFrom,
			},
			&cli.StringFlag{
				Name:        "status-addr",
				Usage:       "serve run status on this address (disabled when empty)",
				Destination: &statusAddr,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "debug, info, warn or error",
				Destination: &logLevel,
			},
			&cli.BoolFlag{
				Name:        "json-logs",
				Usage:       "emit JSON logs instead of colored output",
				Destination: &jsonLogs,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := train.LoadConfig(configPath)
			if err != nil {
				return err
			}
			cfg.Stage = stage
			if len(dataPaths) > 0 {
				cfg.Data.Paths = dataPaths
			}
			if outputDir != "" {
				cfg.Checkpoint.Dir = outputDir
			}
			if loadFrom != "" {
				cfg.Checkpoint.LoadFrom = loadFrom
			}
			if logLevel == "" {
				logLevel = cfg.LogLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := newLogger(logLevel, jsonLogs)
			ctx = logger.WithContext(ctx, log)

			runner, err := train.NewRunner(cfg, log)
			if err != nil {
				return err
			}
			if statusAddr != "" {
				go serveStatus(ctx, statusAddr, runner.Tracker(), log)
			}
			return runner.Run(ctx)
		},
	}
}

func pretrainCmd() *cli.Command {
	return stageCmd(train.StagePretrain, "Pretrain on raw text with the next-token objective")
}

func sftCmd() *cli.Command {
	return stageCmd(train.StageSFT, "Supervised fine-tuning on JSONL conversations")
}

func dpoCmd() *cli.Command {
	return stageCmd(train.StageDPO, "Preference tuning against a frozen reference model")
}

func newLogger(level string, jsonLogs bool) logger.Logger {
	if jsonLogs {
		return logger.JSON(os.Stderr, logger.ParseLevel(level))
	}
	return logger.Pretty(os.Stderr, logger.ParseLevel(level))
}

// serveStatus runs the read-only status server until the context ends.
// A failing status server is logged, never fatal: the run matters more
// than the dashboard.
func serveStatus(ctx context.Context, addr string, tracker *train.Tracker, log logger.Logger) {
	e := echo.New()
	e.Use(middleware.Recover())
	api.NewServer(tracker).Register(e)

	log.Info("serving run status", "address", addr)
	sc := echo.StartConfig{
		Address: addr,
		BeforeServeFunc: func(srv *http.Server) error {
			srv.ReadHeaderTimeout = 10 * time.Second
			return nil
		},
	}
	if err := sc.Start(ctx, e); err != nil && ctx.Err() == nil {
		log.Error("status server stopped", "error", err)
	}
}
