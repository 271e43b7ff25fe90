package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/xhelldemo/xhelldemo/history"
	"github.com/xhelldemo/xhelldemo/internal/files"
	"github.com/xhelldemo/xhelldemo/internal/metrics"
	"github.com/xhelldemo/xhelldemo/internal/proc"
	"go.uber.org/zap"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultPromptMarker = "[lad]#"
	DefaultLogFile      = ".xhell_log"
	DefaultCalcPrefix   = "xcalc"

	noLogsMessage = "No logs available"

	// waitDelay bounds how long Wait keeps reading output after the interpreter itself is gone.
	waitDelay = 1 * time.Second
)

var (
	DefaultBannerMarkers = []string{"Welcome to Xhell", "Quiting Xhell"}
	DefaultNoiseMarkers  = []string{"[proxychains]"}
)

// Relay executes commands against the interpreter binary at a fixed path, inside a workspace, recording each one in a ledger.
// A Relay is safe for concurrent use as long as its ledger is.
type Relay struct {
	log         *zap.SugaredLogger
	interpreter string
	ws          *files.Workspace
	ledger      history.Ledger

	timeout       time.Duration
	promptMarker  string
	bannerMarkers []string
	noiseMarkers  []string
	logFile       string
	calcPrefix    string
}

type Option func(r *Relay)

func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) {
		r.log = l.Named("relay").Sugar()
	}
}

func WithTimeout(d time.Duration) Option {
	return func(r *Relay) {
		r.timeout = d
	}
}

func WithPromptMarker(s string) Option {
	return func(r *Relay) {
		r.promptMarker = s
	}
}

func WithBannerMarkers(markers []string) Option {
	return func(r *Relay) {
		r.bannerMarkers = markers
	}
}

func WithNoiseMarkers(markers []string) Option {
	return func(r *Relay) {
		r.noiseMarkers = markers
	}
}

// WithLogFile sets the workspace-relative name of the log file the interpreter keeps.
func WithLogFile(name string) Option {
	return func(r *Relay) {
		r.logFile = name
	}
}

// WithCalculator enables evaluating "<prefix> <arithmetic>" commands without starting the interpreter.
func WithCalculator(prefix string) Option {
	return func(r *Relay) {
		r.calcPrefix = prefix
	}
}

func WithoutCalculator() Option {
	return func(r *Relay) {
		r.calcPrefix = ""
	}
}

func New(interpreter string, ws *files.Workspace, ledger history.Ledger, opts ...Option) *Relay {
	r := &Relay{
		log:           zap.NewNop().Sugar(),
		interpreter:   interpreter,
		ws:            ws,
		ledger:        ledger,
		timeout:       DefaultTimeout,
		promptMarker:  DefaultPromptMarker,
		bannerMarkers: DefaultBannerMarkers,
		noiseMarkers:  DefaultNoiseMarkers,
		logFile:       DefaultLogFile,
		calcPrefix:    DefaultCalcPrefix,
	}
	for _, o := range opts {
		o(r)
	}

	// persistent ledgers start out non-empty
	entries, err := ledger.All()
	if err != nil {
		r.log.Warnw("unable to count history entries", "Error", err)
	} else {
		metrics.HistoryEntries.Set(float64(len(entries)))
	}
	return r
}

// Execute relays one command and blocks until it finishes or the timeout kills it.
// It never fails: every problem is reported in the returned CommandResult.
func (r *Relay) Execute(ctx context.Context, command string) CommandResult {
	start := time.Now()
	res, outcome := r.execute(ctx, command)
	elapsed := time.Since(start)

	metrics.CommandsTotal.WithLabelValues(outcome).Inc()
	metrics.CommandDuration.Observe(elapsed.Seconds())
	r.log.Debugw("command finished", "Command", command, "ExitCode", res.ExitCode, "Outcome", outcome, "Elapsed", elapsed)

	r.record(command, res, elapsed)
	return res
}

// ExecuteBatch runs commands one after another, in order.
func (r *Relay) ExecuteBatch(ctx context.Context, commands []string) []CommandResult {
	results := make([]CommandResult, 0, len(commands))
	for _, c := range commands {
		results = append(results, r.Execute(ctx, c))
	}
	return results
}

func (r *Relay) History() ([]history.Entry, error) {
	return r.ledger.All()
}

func (r *Relay) ClearHistory() error {
	err := r.ledger.Clear()
	if err != nil {
		return err
	}
	metrics.HistoryEntries.Set(0)
	return nil
}

// Logs returns the interpreter's own log file from the workspace.
func (r *Relay) Logs() (string, error) {
	b, err := r.ws.ReadFile(r.logFile, 0)
	if errors.Is(err, files.ErrNotFound) {
		return noLogsMessage, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading interpreter log: %w", err)
	}
	return string(b), nil
}

func (r *Relay) ClearLogs() error {
	return r.ws.Remove(r.logFile)
}

func (r *Relay) record(command string, res CommandResult, elapsed time.Duration) {
	err := r.ledger.Append(history.NewEntry(command, res.Stdout, res.Stderr, res.ExitCode, elapsed))
	if err != nil {
		r.log.Warnw("failed to record history entry", "Command", command, "Error", err)
		return
	}
	metrics.HistoryEntries.Inc()
}

func (r *Relay) execute(ctx context.Context, command string) (CommandResult, string) {
	if out, ok := r.calculate(command); ok {
		return newResult(out, "", 0), metrics.OutcomeShortcut
	}

	clean, redir, parseErr := ParseRedirection(command)
	if parseErr != nil {
		r.log.Warnw("ignoring redirection", "Command", command, "Error", parseErr)
	}
	if redir != nil {
		// a target outside the workspace is refused before the interpreter ever runs
		_, err := r.ws.Resolve(redir.Target)
		if err != nil {
			r.log.Warnw("refusing redirection", "Target", redir.Target, "Error", err)
			metrics.RedirectWrites.WithLabelValues(redir.mode(), "rejected").Inc()
			return newResult("", redirectFailure(err), 1), metrics.OutcomeFailed
		}
	}

	stdout, stderr, exitCode, err := r.run(ctx, clean)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return failedResult(timedOutMessage), metrics.OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return failedResult(canceledMessage), metrics.OutcomeFailed
	case err != nil:
		r.log.Warnw("interpreter failed to start", "Interpreter", r.interpreter, "Error", err)
		return failedResult(err.Error()), metrics.OutcomeSpawnError
	}

	stdout = FilterNoise(stdout, r.noiseMarkers)
	stderr = FilterNoise(stderr, r.noiseMarkers)
	if parseErr != nil {
		stderr = appendLine(stderr, fmt.Sprintf("[relay] redirection ignored: %s", parseErr))
	}

	if redir != nil && exitCode == 0 {
		err := r.writeBack(stdout, redir)
		if err != nil {
			r.log.Warnw("redirect write-back failed", "Target", redir.Target, "Error", err)
			stderr = appendLine(stderr, redirectFailure(err))
			exitCode = 1
		}
	}

	outcome := metrics.OutcomeOK
	if exitCode != 0 {
		outcome = metrics.OutcomeFailed
	}
	return newResult(stdout, stderr, exitCode), outcome
}

// run starts the interpreter with command on stdin. A non-nil error means no exit code is available:
// the process could not be started, or it was killed because ctx expired.
func (r *Relay) run(ctx context.Context, command string) (string, string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.interpreter)
	cmd.Dir = r.ws.Root()
	cmd.Stdin = strings.NewReader(command + "\n")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	proc.SetProcessGroup(cmd)
	// take down anything the interpreter forked, not just the interpreter
	cmd.Cancel = func() error { return proc.Kill(cmd) }

	err := cmd.Start()
	if err != nil {
		return "", "", -1, fmt.Errorf("starting interpreter: %w", err)
	}
	r.log.Debugw("interpreter started", "PID", cmd.Process.Pid, "Command", command)

	err = cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", "", -1, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			r.log.Debugf("unexpected wait error: %s", err)
		}
	}
	return stdout.String(), stderr.String(), cmd.ProcessState.ExitCode(), nil
}

func (r *Relay) writeBack(stdout string, redir *Redirection) error {
	content := ReconstructOutput(stdout, r.promptMarker, r.bannerMarkers)
	err := r.ws.WriteFile(redir.Target, []byte(content), redir.Append)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.RedirectWrites.WithLabelValues(redir.mode(), result).Inc()
	return err
}

// calculate handles the arithmetic shortcut, returning false when the command is not one or does not evaluate.
func (r *Relay) calculate(command string) (string, bool) {
	if r.calcPrefix == "" {
		return "", false
	}
	trimmed := strings.TrimSpace(command)
	if !strings.HasPrefix(trimmed, r.calcPrefix) {
		return "", false
	}
	v, err := evalArithmetic(strings.TrimPrefix(trimmed, r.calcPrefix))
	if err != nil {
		r.log.Debugw("calculator shortcut declined, using interpreter", "Command", command, "Error", err)
		return "", false
	}
	return fmt.Sprintf("%s\n%s %s\n%s %s\n", welcomeBanner, r.promptMarker, formatNumber(v), r.promptMarker, quitBanner), true
}

func redirectFailure(err error) string {
	return fmt.Sprintf("[relay] failed to redirect output: %s", err)
}

func appendLine(s, line string) string {
	if s != "" && !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s + line
}
