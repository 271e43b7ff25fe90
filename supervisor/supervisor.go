// Package supervisor launches the demo web service as a child process, waits until it accepts connections,
// points the operator's browser at it, and shuts it down on interrupt.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/browser"
	internalnet "github.com/xhelldemo/xhelldemo/internal/net"
	"github.com/xhelldemo/xhelldemo/internal/proc"
	"go.uber.org/zap"
)

const (
	DefaultHost         = "localhost"
	DefaultStartPort    = 8501
	DefaultReadyTimeout = 30 * time.Second
	DefaultStopTimeout  = 5 * time.Second

	EnvHeadless = "XHELLDEMO_HEADLESS"
	EnvPort     = "XHELLDEMO_PORT"
)

var (
	ErrSpawn            = errors.New("service failed to start")
	ErrReadinessTimeout = errors.New("service did not become ready in time")
	ErrChildExited      = errors.New("service exited")
)

// CommandFunc returns the program and arguments that run the service on port.
type CommandFunc func(port int) (name string, args []string)

// service is a started child process. done is closed once it has been reaped, after which err holds Wait's result.
type service struct {
	cmd    *exec.Cmd
	port   int
	done   chan struct{}
	err    error
	stdout *lineLogger
	stderr *lineLogger
}

type Supervisor struct {
	log     *zap.SugaredLogger
	command CommandFunc

	host         string
	startPort    int
	maxProbes    int
	readyTimeout time.Duration
	stopTimeout  time.Duration
	dir          string
	env          []string
	openBrowser  bool
	opener       func(url string) error
	out          io.Writer

	m     sync.Mutex
	state State
	svc   *service
	port  int
}

type Option func(s *Supervisor)

func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		s.log = l.Named("supervisor").Sugar()
	}
}

func WithHost(host string) Option {
	return func(s *Supervisor) {
		s.host = host
	}
}

func WithStartPort(port int) Option {
	return func(s *Supervisor) {
		s.startPort = port
	}
}

func WithMaxProbes(n int) Option {
	return func(s *Supervisor) {
		s.maxProbes = n
	}
}

func WithReadyTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.readyTimeout = d
	}
}

// WithStopTimeout sets how long Stop waits after SIGTERM before sending SIGKILL.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.stopTimeout = d
	}
}

// WithDir sets the working directory of the service.
func WithDir(dir string) Option {
	return func(s *Supervisor) {
		s.dir = dir
	}
}

// WithEnv adds KEY=value pairs to the environment the service inherits.
func WithEnv(env ...string) Option {
	return func(s *Supervisor) {
		s.env = append(s.env, env...)
	}
}

func WithBrowserOpener(f func(url string) error) Option {
	return func(s *Supervisor) {
		s.opener = f
	}
}

func WithOpenBrowser(b bool) Option {
	return func(s *Supervisor) {
		s.openBrowser = b
	}
}

// WithOutput sets where messages meant for the operator are printed.
func WithOutput(w io.Writer) Option {
	return func(s *Supervisor) {
		s.out = w
	}
}

func New(command CommandFunc, opts ...Option) *Supervisor {
	s := &Supervisor{
		log:          zap.NewNop().Sugar(),
		command:      command,
		host:         DefaultHost,
		startPort:    DefaultStartPort,
		maxProbes:    internalnet.DefaultMaxProbes,
		readyTimeout: DefaultReadyTimeout,
		stopTimeout:  DefaultStopTimeout,
		dir:          ".",
		openBrowser:  true,
		opener:       browser.OpenURL,
		out:          os.Stdout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) State() State {
	s.m.Lock()
	defer s.m.Unlock()
	return s.state
}

// Port returns the port the service was started on, or 0 before Start.
func (s *Supervisor) Port() int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.port
}

func (s *Supervisor) URL() string {
	port := s.Port()
	if port == 0 {
		return ""
	}
	return "http://" + net.JoinHostPort(s.host, strconv.Itoa(port))
}

// PID returns the service's process ID, or 0 if no service is running.
func (s *Supervisor) PID() int {
	s.m.Lock()
	defer s.m.Unlock()
	if s.svc == nil || s.svc.cmd.Process == nil {
		return 0
	}
	return s.svc.cmd.Process.Pid
}

func (s *Supervisor) setState(st State) {
	s.m.Lock()
	defer s.m.Unlock()
	s.log.Debugf("state %s -> %s", s.state, st)
	s.state = st
}

// Run starts the service and blocks until it exits or ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	err := s.Start(ctx)
	if err != nil {
		return err
	}
	return s.Wait(ctx)
}

// Start spawns the service and returns once it accepts connections.
func (s *Supervisor) Start(ctx context.Context) error {
	s.m.Lock()
	if s.state != Idle {
		st := s.state
		s.m.Unlock()
		return fmt.Errorf("cannot start service in state %s", st)
	}
	s.state = Starting
	s.m.Unlock()

	port := internalnet.FindFreePort(s.host, s.startPort, s.maxProbes)
	if port != s.startPort {
		s.log.Infow("start port in use, using another", "StartPort", s.startPort, "Port", port)
	}

	svc, err := s.spawn(port)
	if err != nil {
		s.setState(Failed)
		return err
	}
	s.m.Lock()
	s.svc = svc
	s.port = port
	s.m.Unlock()
	s.log.Infow("service started", "PID", svc.cmd.Process.Pid, "Port", port)

	err = s.waitReady(ctx, svc)
	if err != nil {
		s.setState(Failed)
		s.terminate(svc)
		s.m.Lock()
		s.svc = nil
		s.m.Unlock()
		return err
	}

	s.setState(Ready)
	url := s.URL()
	s.log.Infow("service ready", "URL", url)
	if s.openBrowser {
		err := s.opener(url)
		if err != nil {
			s.log.Warnw("unable to open browser", "URL", url, "Error", err)
			fmt.Fprintf(s.out, "Open %s in your browser\n", url)
		}
	}
	fmt.Fprintf(s.out, "Xhell demo is running at %s\nPress Ctrl+C to stop\n", url)
	s.setState(Running)
	return nil
}

func (s *Supervisor) spawn(port int) (*service, error) {
	name, args := s.command(port)

	cmd := exec.Command(name, args...)
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), s.env...)
	cmd.Env = append(cmd.Env, EnvHeadless+"=true", EnvPort+"="+strconv.Itoa(port))
	svcLog := s.log.Named("service")
	svc := &service{
		cmd:    cmd,
		port:   port,
		done:   make(chan struct{}),
		stdout: newLineLogger(svcLog, "stdout"),
		stderr: newLineLogger(svcLog, "stderr"),
	}
	cmd.Stdout = svc.stdout
	cmd.Stderr = svc.stderr
	cmd.WaitDelay = time.Second
	proc.SetProcessGroup(cmd)

	err := cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("%w: starting %s: %w", ErrSpawn, name, err)
	}

	// reap the child and flush whatever it printed last
	go func() {
		svc.err = cmd.Wait()
		svc.stdout.Flush()
		svc.stderr.Flush()
		close(svc.done)
	}()
	return svc, nil
}

// waitReady probes the service's port, giving up early if the service exits or ctx is done.
func (s *Supervisor) waitReady(ctx context.Context, svc *service) error {
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-svc.done:
			cancel()
		case <-probeCtx.Done():
		}
	}()

	if internalnet.WaitUntilReady(probeCtx, s.host, svc.port, s.readyTimeout) {
		return nil
	}

	select {
	case <-svc.done:
		return fmt.Errorf("%w before becoming ready: %s", ErrChildExited, exitDescription(svc.err))
	default:
	}
	if ctx.Err() != nil {
		return fmt.Errorf("waiting for service: %w", ctx.Err())
	}
	return fmt.Errorf("%w: %s:%d after %s", ErrReadinessTimeout, s.host, svc.port, s.readyTimeout)
}

// Wait blocks until the service exits or ctx is done, then stops it.
// It returns nil when interrupted or when the service exits cleanly.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.m.Lock()
	svc := s.svc
	st := s.state
	s.m.Unlock()
	if svc == nil || st != Running {
		return fmt.Errorf("cannot wait on service in state %s", st)
	}

	select {
	case <-svc.done:
		s.log.Infow("service exited", "Status", exitDescription(svc.err))
		stopErr := s.Stop()
		if svc.err != nil {
			return fmt.Errorf("%w: %s", ErrChildExited, exitDescription(svc.err))
		}
		return stopErr
	case <-ctx.Done():
		s.log.Info("interrupted, stopping service")
		return s.Stop()
	}
}

// Stop terminates the service and reaps it. Calling it more than once, or before Start, is a no-op.
func (s *Supervisor) Stop() error {
	s.m.Lock()
	if s.state != Running && s.state != Ready {
		s.m.Unlock()
		return nil
	}
	svc := s.svc
	s.log.Debugf("state %s -> %s", s.state, Stopping)
	s.state = Stopping
	s.m.Unlock()

	forced := s.terminate(svc)

	s.m.Lock()
	s.svc = nil
	s.state = Stopped
	s.m.Unlock()
	s.log.Infow("service stopped", "Forced", forced)
	return nil
}

// terminate sends SIGTERM to the service's process group, escalating to SIGKILL after the stop timeout,
// and returns once the service has been reaped. It reports whether SIGKILL was needed.
func (s *Supervisor) terminate(svc *service) bool {
	select {
	case <-svc.done:
		return false
	default:
	}

	err := proc.Terminate(svc.cmd)
	if err != nil {
		s.log.Debugf("sending SIGTERM: %s", err)
	}

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-svc.done:
		return false
	case <-timer.C:
	}

	s.log.Warnw("service did not stop in time, killing it", "PID", svc.cmd.Process.Pid, "StopTimeout", s.stopTimeout)
	err = proc.Kill(svc.cmd)
	if err != nil {
		s.log.Debugf("sending SIGKILL: %s", err)
	}
	<-svc.done
	return true
}

// SelfCommand re-invokes the running executable as "<args> serve --listen-addr host:port --headless <extra>".
// globalArgs are placed before the subcommand, extra after it.
func SelfCommand(host string, globalArgs []string, extra ...string) (CommandFunc, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("finding own executable: %w", err)
	}
	return func(port int) (string, []string) {
		args := append([]string{}, globalArgs...)
		args = append(args, "serve", "--listen-addr", net.JoinHostPort(host, strconv.Itoa(port)), "--headless")
		args = append(args, extra...)
		return exe, args
	}, nil
}

func exitDescription(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
