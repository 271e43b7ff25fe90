//go:build unix

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhelldemo/xhelldemo/history"
	"github.com/xhelldemo/xhelldemo/internal/files"
	internalnet "github.com/xhelldemo/xhelldemo/internal/net"
	"github.com/xhelldemo/xhelldemo/relay"
	"go.uber.org/zap/zaptest"
)

const fakeInterpreter = `#!/bin/sh
echo "######### Welcome to Xhell! #############"
while IFS= read -r line; do
  printf '[lad]# '
  eval "$line"
done
printf '[lad]# '
echo "######### Quiting Xhell #############"
`

type fixture struct {
	server *Server
	client *Client
	ws     *files.Workspace
	url    string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	interp := filepath.Join(t.TempDir(), "xhell")
	require.NoError(t, os.WriteFile(interp, []byte(fakeInterpreter), 0o755))

	ws, err := files.NewWorkspace(filepath.Join(t.TempDir(), "workspace"))
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	r := relay.New(interp, ws, history.NewMemoryLedger(), relay.WithLogger(logger))
	opts = append([]Option{WithLogger(logger)}, opts...)
	s := New(r, ws, opts...)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &fixture{
		server: s,
		client: NewClient(ts.URL, WithClientLogger(logger)),
		ws:     ws,
		url:    ts.URL,
	}
}

func (f *fixture) get(t *testing.T, path string) (int, string) {
	resp, err := http.Get(f.url + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.client.SendHeartbeat(ctx))

	resp, err := f.client.Execute(ctx, "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "echo hello", resp.Command)
	assert.Contains(t, resp.Stdout, "[lad]# hello")
	assert.True(t, resp.Succeeded)
	assert.Equal(t, 0, resp.ExitCode)

	resp, err = f.client.Execute(ctx, "exit 5")
	require.NoError(t, err)
	assert.False(t, resp.Succeeded)
	assert.Equal(t, 5, resp.ExitCode)

	resp, err = f.client.Execute(ctx, `printf '\033[32mgreen\033[0m\n'`)
	require.NoError(t, err)
	assert.Contains(t, resp.Stdout, "green")
	assert.NotContains(t, resp.Stdout, "\x1b")
}

func TestExecuteRejectsEmptyCommand(t *testing.T) {
	f := newFixture(t)

	for _, cmd := range []string{"", "   "} {
		_, err := f.client.Execute(context.Background(), cmd)
		require.ErrorContains(t, err, "400")
	}

	_, err := f.client.ExecuteBatch(context.Background(), nil)
	require.ErrorContains(t, err, "400")

	entries, err := f.client.History(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteBatch(t *testing.T) {
	f := newFixture(t)

	results, err := f.client.ExecuteBatch(context.Background(), []string{"echo one", "echo two", "exit 1"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "echo one", results[0].Command)
	assert.Contains(t, results[0].Stdout, "[lad]# one")
	assert.Contains(t, results[1].Stdout, "[lad]# two")
	assert.False(t, results[2].Succeeded)
}

func TestFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithReadLimit(5))

	resp, err := f.client.Execute(ctx, "echo 'hello world' > greeting.txt")
	require.NoError(t, err)
	require.True(t, resp.Succeeded, resp.Stderr)

	names, err := f.client.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"greeting.txt"}, names)

	content, err := f.client.ReadFile(ctx, "greeting.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)

	cases := []struct {
		name   string
		file   string
		expErr error
	}{
		{name: "missing", file: "nope.txt", expErr: files.ErrNotFound},
		{name: "parent dir", file: "../escape.txt", expErr: files.ErrPathTraversal},
		{name: "nested parent dir", file: "a/../../escape.txt", expErr: files.ErrPathTraversal},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := f.client.ReadFile(ctx, c.file)
			require.ErrorIs(t, err, c.expErr)
		})
	}
}

func TestEmptyWorkspaceListsNoFiles(t *testing.T) {
	f := newFixture(t)

	status, body := f.get(t, "/files")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"files":[]}`, body)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.client.Execute(ctx, "echo a")
	require.NoError(t, err)
	_, err = f.client.Execute(ctx, "echo b")
	require.NoError(t, err)

	entries, err := f.client.History(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "echo a", entries[0].Command)
	assert.Equal(t, "echo b", entries[1].Command)
	assert.NotEmpty(t, entries[0].ID)

	require.NoError(t, f.client.ClearHistory(ctx))
	entries, err = f.client.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLogs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	logs, err := f.client.Logs(ctx)
	require.NoError(t, err)
	assert.Equal(t, "No logs available", logs)

	require.NoError(t, f.ws.WriteFile(".xhell_log", []byte("CMD: xls\n"), false))
	logs, err = f.client.Logs(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CMD: xls\n", logs)

	require.NoError(t, f.client.ClearLogs(ctx))
	logs, err = f.client.Logs(ctx)
	require.NoError(t, err)
	assert.Equal(t, "No logs available", logs)
}

func TestStaticRoutes(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.Execute(context.Background(), "echo counted")
	require.NoError(t, err)

	cases := []struct {
		path        string
		expContains string
	}{
		{path: "/", expContains: "<title>Xhell demo</title>"},
		{path: "/scenarios", expContains: `"category":"I/O redirection"`},
		{path: "/metrics", expContains: "xhelldemo_commands_total"},
		{path: "/heartbeat", expContains: `"Status":"ok"`},
	}
	for _, c := range cases {
		t.Run(c.path, func(t *testing.T) {
			status, body := f.get(t, c.path)
			assert.Equal(t, http.StatusOK, status)
			assert.Contains(t, body, c.expContains)
		})
	}
}

func TestSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	f := newFixture(t)

	sess, err := f.client.OpenSession(ctx)
	require.NoError(t, err)

	resp, err := sess.Execute(ctx, "echo first")
	require.NoError(t, err)
	assert.Contains(t, resp.Stdout, "[lad]# first")

	resp, err = sess.Execute(ctx, "exit 2")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.ExitCode)

	_, err = sess.Execute(ctx, " ")
	require.ErrorContains(t, err, "no command")

	require.NoError(t, sess.Close())

	entries, err := f.client.History(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRunAndStop(t *testing.T) {
	port, err := internalnet.GetEphemeralTCPPort()
	require.NoError(t, err)

	ws, err := files.NewWorkspace(t.TempDir())
	require.NoError(t, err)
	r := relay.New(filepath.Join(t.TempDir(), "missing-xhell"), ws, history.NewMemoryLedger())
	addr := "127.0.0.1:" + strconv.Itoa(port)
	s := New(r, ws, WithListenAddr(addr), WithLogger(zaptest.NewLogger(t)))

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run() }()

	client := NewClient("http://"+addr, WithCustomizeRetryableClient(func(r *retryablehttp.Client) {
		r.RetryMax = 0
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.WaitForServer(ctx))

	// the interpreter is missing, so only the calculator can answer
	resp, err := client.Execute(ctx, "xcalc 6 * 7")
	require.NoError(t, err)
	assert.Contains(t, resp.Stdout, "[lad]# 42")

	require.NoError(t, s.Stop())
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestClientDoesNotResendCommands(t *testing.T) {
	ctx := context.Background()
	var executes, heartbeats atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/heartbeat":
			if heartbeats.Add(1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_ = json.NewEncoder(w).Encode(HeartbeatResponse{Status: "ok"})
		default:
			executes.Add(1)
			// drop the connection after the command was received
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
		}
	}))
	t.Cleanup(ts.Close)

	client := NewClient(ts.URL, WithClientLogger(zaptest.NewLogger(t)))

	_, err := client.Execute(ctx, "echo once >> log.txt")
	require.Error(t, err)
	assert.EqualValues(t, 1, executes.Load())

	_, err = client.ExecuteBatch(ctx, []string{"echo once >> log.txt"})
	require.Error(t, err)
	assert.EqualValues(t, 2, executes.Load())

	require.NoError(t, client.SendHeartbeat(ctx))
	assert.EqualValues(t, 3, heartbeats.Load())
}
