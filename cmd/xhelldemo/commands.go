package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/browser"
	"github.com/urfave/cli/v2"
	"github.com/xhelldemo/xhelldemo/history"
	"github.com/xhelldemo/xhelldemo/internal/config"
	"github.com/xhelldemo/xhelldemo/internal/files"
	"github.com/xhelldemo/xhelldemo/relay"
	"github.com/xhelldemo/xhelldemo/server"
	"github.com/xhelldemo/xhelldemo/supervisor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var launchFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "host",
		Usage: "Host the service binds to and the browser is pointed at.",
	},
	&cli.IntFlag{
		Name:  "start-port",
		Usage: "First port to try; later ports are probed if it is taken.",
	},
	&cli.BoolFlag{
		Name:  "no-browser",
		Usage: "Do not open a browser once the service is ready.",
	},
}

var launchCommand = &cli.Command{
	Name:   "launch",
	Usage:  "start the web service in the background and open it in a browser",
	Flags:  launchFlags,
	Action: launch,
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "run the web service in the foreground",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen-addr",
			Usage: "The address for the HTTP server to listen on.",
			Value: server.DefaultListenAddr,
		},
		&cli.BoolFlag{
			Name:    "headless",
			Usage:   "Do not open a browser once listening.",
			EnvVars: []string{supervisor.EnvHeadless},
		},
	},
	Action: serve,
}

var clientFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "url",
		Usage: "Base URL of a running service.",
		Value: "http://" + server.DefaultListenAddr,
	},
}

var execCommand = &cli.Command{
	Name:      "exec",
	Usage:     "run commands through a running service",
	ArgsUsage: "COMMAND...",
	Flags:     clientFlags,
	Action:    execCommands,
}

var historyCommand = &cli.Command{
	Name:  "history",
	Usage: "print or clear the command history of a running service",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{
			Name:  "clear",
			Usage: "Clear the history instead of printing it.",
		},
	}, clientFlags...),
	Action: printHistory,
}

func launch(ctx *cli.Context) error {
	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	lc := cfg.Launcher
	if ctx.IsSet("host") {
		lc.Host = ctx.String("host")
	}
	if ctx.IsSet("start-port") {
		lc.StartPort = ctx.Int("start-port")
	}
	if ctx.Bool("no-browser") {
		lc.OpenBrowser = false
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working dir: %w", err)
	}
	if files.FindExecutable(cfg.Interpreter.Path, wd) == "" {
		log.Warnw("interpreter not found, commands will fail until it is built", "Path", cfg.Interpreter.Path)
	}

	cmd, err := supervisor.SelfCommand(lc.Host, globalArgs(ctx))
	if err != nil {
		return err
	}
	sup := supervisor.New(cmd,
		supervisor.WithLogger(logger),
		supervisor.WithHost(lc.Host),
		supervisor.WithStartPort(lc.StartPort),
		supervisor.WithMaxProbes(lc.MaxProbes),
		supervisor.WithReadyTimeout(lc.ReadyTimeout),
		supervisor.WithStopTimeout(lc.StopTimeout),
		supervisor.WithDir(lc.ServiceDir),
		supervisor.WithOpenBrowser(lc.OpenBrowser),
	)

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = sup.Run(sigCtx)
	if err != nil {
		return fmt.Errorf("running service: %w", err)
	}
	return nil
}

func serve(ctx *cli.Context) error {
	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	ws, err := files.NewWorkspace(cfg.Workspace.Dir)
	if err != nil {
		return err
	}

	ledger, closeLedger, err := openLedger(cfg.History)
	if err != nil {
		return err
	}
	defer closeLedger()

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working dir: %w", err)
	}
	interp := files.FindExecutable(cfg.Interpreter.Path, wd)
	if interp == "" {
		log.Warnw("interpreter not found, commands will fail", "Path", cfg.Interpreter.Path)
		// the relay runs the interpreter from the workspace, so a relative path would resolve there
		interp, err = filepath.Abs(cfg.Interpreter.Path)
		if err != nil {
			return fmt.Errorf("resolving interpreter path: %w", err)
		}
	}

	r := relay.New(interp, ws, ledger, relayOptions(cfg.Interpreter, logger)...)
	addr := ctx.String("listen-addr")
	srv := server.New(r, ws,
		server.WithListenAddr(addr),
		server.WithLogger(logger),
		server.WithReadLimit(cfg.Workspace.ReadLimit),
	)

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gCtx := errgroup.WithContext(sigCtx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gCtx.Done()
		log.Debug("shutting down server")
		return srv.Stop()
	})
	if !ctx.Bool("headless") {
		g.Go(func() error {
			url := "http://" + addr
			err := server.NewClient(url, server.WithClientLogger(logger)).WaitForServer(gCtx)
			if err != nil {
				return nil
			}
			err = browser.OpenURL(url)
			if err != nil {
				log.Warnw("unable to open browser", "URL", url, "Error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func relayOptions(ic config.InterpreterConfig, logger *zap.Logger) []relay.Option {
	opts := []relay.Option{
		relay.WithLogger(logger),
		relay.WithTimeout(ic.Timeout),
		relay.WithPromptMarker(ic.PromptMarker),
		relay.WithBannerMarkers(ic.BannerMarkers),
		relay.WithNoiseMarkers(ic.NoiseMarkers),
		relay.WithLogFile(ic.LogFile),
	}
	if ic.CalcEnabled {
		opts = append(opts, relay.WithCalculator(ic.CalcPrefix))
	} else {
		opts = append(opts, relay.WithoutCalculator())
	}
	return opts
}

func openLedger(hc config.HistoryConfig) (history.Ledger, func() error, error) {
	switch hc.Driver {
	case "sqlite":
		l, err := history.OpenSQLite(hc.Path)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	case "memory":
		return history.NewMemoryLedger(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported history driver %q", hc.Driver)
	}
}

func execCommands(ctx *cli.Context) error {
	commands := ctx.Args().Slice()
	if len(commands) == 0 {
		return errors.New("no command given")
	}
	client := server.NewClient(ctx.String("url"))

	results, err := client.ExecuteBatch(ctx.Context, commands)
	if err != nil {
		return fmt.Errorf("executing: %w", err)
	}
	exitCode := 0
	for _, res := range results {
		fmt.Fprint(ctx.App.Writer, res.Stdout)
		if res.Stderr != "" {
			fmt.Fprintln(ctx.App.ErrWriter, strings.TrimRight(res.Stderr, "\n"))
		}
		if !res.Succeeded {
			exitCode = 1
		}
	}
	if exitCode != 0 {
		return cli.Exit("", exitCode)
	}
	return nil
}

func printHistory(ctx *cli.Context) error {
	client := server.NewClient(ctx.String("url"))
	if ctx.Bool("clear") {
		return client.ClearHistory(ctx.Context)
	}

	entries, err := client.History(ctx.Context)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	for _, e := range entries {
		fmt.Fprintf(ctx.App.Writer, "%s  [%d]  %s\n", e.Timestamp.Local().Format("15:04:05"), e.ExitCode, e.Command)
	}
	return nil
}
