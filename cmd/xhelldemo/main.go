package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"github.com/xhelldemo/xhelldemo/internal/config"
	"github.com/xhelldemo/xhelldemo/internal/logging"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "xhelldemo",
		Usage: "web console demo for the Xhell interpreter",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML config file. A missing file means defaults.",
				Value:   "xhelldemo.yaml",
				EnvVars: []string{"XHELLDEMO_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level, overriding the config. One of [debug,info,warn,error].",
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "Use human-readable development logging.",
			},
		}, launchFlags...),
		// with no subcommand, behave like "launch"
		Action: launch,
		Commands: []*cli.Command{
			launchCommand,
			serveCommand,
			execCommand,
			historyCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// setup loads the config named by the global flags and builds the logger from it.
func setup(ctx *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if lvl := ctx.String("log-level"); lvl != "" {
		cfg.Logger.Level = lvl
	}
	if ctx.Bool("dev") {
		cfg.Logger.Development = true
	}
	logger, err := logging.New(cfg.Logger.Level, cfg.Logger.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	return cfg, logger, nil
}

// globalArgs reproduces the global flags for a re-invocation of this binary.
func globalArgs(ctx *cli.Context) []string {
	var args []string
	if path := ctx.String("config"); path != "" {
		abs, err := filepath.Abs(path)
		if err == nil {
			path = abs
		}
		args = append(args, "--config", path)
	}
	if lvl := ctx.String("log-level"); lvl != "" {
		args = append(args, "--log-level", lvl)
	}
	if ctx.Bool("dev") {
		args = append(args, "--dev")
	}
	return args
}
