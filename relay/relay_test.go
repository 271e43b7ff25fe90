//go:build unix

package relay

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhelldemo/xhelldemo/history"
	"github.com/xhelldemo/xhelldemo/internal/files"
	"github.com/xhelldemo/xhelldemo/internal/metrics"
	"github.com/xhelldemo/xhelldemo/internal/proc"
	"go.uber.org/zap/zaptest"
)

// fakeInterpreter mimics the transcript format of the real interpreter: a welcome banner, a prompt before
// each command read from stdin, and a quit banner after EOF. Commands are evaluated by sh.
const fakeInterpreter = `#!/bin/sh
echo $$ > .interp.pid
echo "######### Welcome to Xhell! #############"
while IFS= read -r line; do
  printf '[lad]# '
  eval "$line"
done
printf '[lad]# '
echo "######### Quiting Xhell #############"
`

type fixture struct {
	relay  *Relay
	ws     *files.Workspace
	ledger *history.MemoryLedger
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	binDir := t.TempDir()
	interp := filepath.Join(binDir, "xhell")
	require.NoError(t, os.WriteFile(interp, []byte(fakeInterpreter), 0o755))

	ws, err := files.NewWorkspace(filepath.Join(t.TempDir(), "workspace"))
	require.NoError(t, err)

	ledger := history.NewMemoryLedger()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return &fixture{
		relay:  New(interp, ws, ledger, opts...),
		ws:     ws,
		ledger: ledger,
	}
}

func (f *fixture) readFile(t *testing.T, name string) string {
	b, err := f.ws.ReadFile(name, 0)
	require.NoError(t, err)
	return string(b)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.relay.Execute(ctx, "echo hello")
	assert.True(t, res.Succeeded)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "[lad]# hello\n")
	assert.Contains(t, res.Stdout, "Welcome to Xhell")
	assert.Equal(t, "", res.Stderr)

	res = f.relay.Execute(ctx, "exit 3")
	assert.False(t, res.Succeeded)
	assert.Equal(t, 3, res.ExitCode)
}

func TestExecuteRunsInWorkspace(t *testing.T) {
	f := newFixture(t)

	res := f.relay.Execute(context.Background(), "pwd")
	require.True(t, res.Succeeded)

	resolved, err := filepath.EvalSymlinks(f.ws.Root())
	require.NoError(t, err)
	assert.True(t, strings.Contains(res.Stdout, f.ws.Root()) || strings.Contains(res.Stdout, resolved), res.Stdout)
}

func TestRedirection(t *testing.T) {
	ctx := context.Background()

	t.Run("overwrite then read back", func(t *testing.T) {
		f := newFixture(t)

		res := f.relay.Execute(ctx, "echo 'hi' > out.txt")
		require.True(t, res.Succeeded, res.Stderr)
		assert.Equal(t, "hi\n", f.readFile(t, "out.txt"))

		res = f.relay.Execute(ctx, "cat out.txt")
		require.True(t, res.Succeeded)
		assert.Contains(t, res.Stdout, "hi")
	})

	t.Run("overwrite replaces content", func(t *testing.T) {
		f := newFixture(t)

		f.relay.Execute(ctx, "echo one > f.txt")
		f.relay.Execute(ctx, "echo two > f.txt")
		assert.Equal(t, "two\n", f.readFile(t, "f.txt"))
	})

	t.Run("append twice", func(t *testing.T) {
		f := newFixture(t)

		f.relay.Execute(ctx, "echo 'a' >> log.txt")
		f.relay.Execute(ctx, "echo 'a' >> log.txt")
		assert.Equal(t, "a\na\n", f.readFile(t, "log.txt"))
	})

	t.Run("append preserves existing content", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ws.WriteFile("notes.txt", []byte("existing\n"), false))

		res := f.relay.Execute(ctx, "echo more >> notes.txt")
		require.True(t, res.Succeeded)
		assert.Equal(t, "existing\nmore\n", f.readFile(t, "notes.txt"))
	})

	t.Run("no write without an operator", func(t *testing.T) {
		f := newFixture(t)

		for _, cmd := range []string{"echo plain", "echo 'a | b'", "ls"} {
			res := f.relay.Execute(ctx, cmd)
			require.True(t, res.Succeeded)
		}
		names, err := f.ws.List()
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("no write when the command fails", func(t *testing.T) {
		f := newFixture(t)

		res := f.relay.Execute(ctx, "exit 2 > out.txt")
		assert.Equal(t, 2, res.ExitCode)
		_, err := f.ws.ReadFile("out.txt", 0)
		require.ErrorIs(t, err, files.ErrNotFound)
	})

	t.Run("target outside the workspace", func(t *testing.T) {
		f := newFixture(t)

		for _, target := range []string{"../escape.txt", "../../etc/passwd", "/tmp/abs.txt"} {
			res := f.relay.Execute(ctx, "echo 'x' > "+target)
			assert.False(t, res.Succeeded)
			assert.Equal(t, 1, res.ExitCode)
			assert.Equal(t, "", res.Stdout)
			assert.Contains(t, res.Stderr, "[relay] failed to redirect output")
			assert.Contains(t, res.Stderr, files.ErrPathTraversal.Error())
		}
		_, err := os.Stat(filepath.Join(filepath.Dir(f.ws.Root()), "escape.txt"))
		assert.True(t, os.IsNotExist(err))

		// the interpreter never started
		_, err = f.ws.ReadFile(".interp.pid", 0)
		require.ErrorIs(t, err, files.ErrNotFound)

		entries, err := f.ledger.All()
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "echo 'x' > ../../etc/passwd", entries[1].Command)
		assert.Equal(t, 1, entries[1].ExitCode)
	})

	t.Run("ambiguous redirection is reported", func(t *testing.T) {
		f := newFixture(t)

		res := f.relay.Execute(ctx, "echo a >> b >> c")
		assert.True(t, res.Succeeded)
		assert.Equal(t, 0, res.ExitCode)
		assert.Contains(t, res.Stderr, "[relay] redirection ignored")
		assert.Contains(t, res.Stderr, ErrAmbiguousRedirection.Error())

		res = f.relay.Execute(ctx, "echo fine > out.txt")
		require.True(t, res.Succeeded)
		assert.NotContains(t, res.Stderr, "redirection ignored")
	})
}

func TestHistoryGaugeSeededFromLedger(t *testing.T) {
	ws, err := files.NewWorkspace(t.TempDir())
	require.NoError(t, err)
	ledger := history.NewMemoryLedger()
	for _, c := range []string{"xpwd", "xls", "xdate"} {
		require.NoError(t, ledger.Append(history.NewEntry(c, "", "", 0, 0)))
	}

	New(filepath.Join(t.TempDir(), "missing-xhell"), ws, ledger)

	var m dto.Metric
	require.NoError(t, metrics.HistoryEntries.Write(&m))
	assert.Equal(t, 3.0, m.GetGauge().GetValue())
}

func TestNoiseFiltering(t *testing.T) {
	f := newFixture(t)

	res := f.relay.Execute(context.Background(), "echo '[proxychains] DLL init' | tee /dev/stderr; echo kept")
	require.True(t, res.Succeeded)
	assert.NotContains(t, res.Stdout, "[proxychains]")
	assert.NotContains(t, res.Stderr, "[proxychains]")
	assert.Contains(t, res.Stdout, "kept")
}

func TestTimeout(t *testing.T) {
	f := newFixture(t, WithTimeout(300*time.Millisecond))

	start := time.Now()
	res := f.relay.Execute(context.Background(), "sleep 10")
	elapsed := time.Since(start)

	assert.False(t, res.Succeeded)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "Command timed out", res.Stderr)
	assert.Equal(t, "", res.Stdout)
	assert.Less(t, elapsed, 5*time.Second)

	pid, err := strconv.Atoi(strings.TrimSpace(f.readFile(t, ".interp.pid")))
	require.NoError(t, err)
	assert.False(t, proc.Alive(pid), "interpreter %d still running", pid)

	entries, err := f.ledger.All()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sleep 10", entries[0].Command)
	assert.Equal(t, -1, entries[0].ExitCode)
}

func TestSpawnFailure(t *testing.T) {
	ws, err := files.NewWorkspace(t.TempDir())
	require.NoError(t, err)
	ledger := history.NewMemoryLedger()
	r := New(filepath.Join(t.TempDir(), "missing-xhell"), ws, ledger)

	res := r.Execute(context.Background(), "xpwd")
	assert.False(t, res.Succeeded)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Stderr, "starting interpreter")

	entries, err := ledger.All()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCalculatorShortcut(t *testing.T) {
	ws, err := files.NewWorkspace(t.TempDir())
	require.NoError(t, err)
	ledger := history.NewMemoryLedger()
	// the interpreter does not exist, so only the shortcut can succeed
	r := New(filepath.Join(t.TempDir(), "missing-xhell"), ws, ledger)

	res := r.Execute(context.Background(), "xcalc 128 * 32 * 23")
	require.True(t, res.Succeeded)
	assert.Contains(t, res.Stdout, "[lad]# 94208\n")
	assert.Contains(t, res.Stdout, "Welcome to Xhell")

	res = r.Execute(context.Background(), "xcalc 1 / 0")
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.Stderr, "starting interpreter")

	res = r.Execute(context.Background(), "xcalc __import__('os')")
	assert.False(t, res.Succeeded)

	rNoCalc := New(filepath.Join(t.TempDir(), "missing-xhell"), ws, ledger, WithoutCalculator())
	res = rNoCalc.Execute(context.Background(), "xcalc 1 + 1")
	assert.False(t, res.Succeeded)

	entries, err := ledger.All()
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestHistoryIdempotentQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.relay.Execute(ctx, "echo same")
	f.relay.Execute(ctx, "echo same")

	entries, err := f.relay.History()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, entries[0].Stdout, entries[1].Stdout)
	assert.Equal(t, entries[0].Stderr, entries[1].Stderr)
	assert.Equal(t, entries[0].ExitCode, entries[1].ExitCode)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)

	require.NoError(t, f.relay.ClearHistory())
	entries, err = f.relay.History()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteBatchKeepsOrder(t *testing.T) {
	f := newFixture(t)

	results := f.relay.ExecuteBatch(context.Background(), []string{"echo 1", "echo 2", "exit 4"})
	require.Len(t, results, 3)
	assert.Contains(t, results[0].Stdout, "[lad]# 1")
	assert.Contains(t, results[1].Stdout, "[lad]# 2")
	assert.Equal(t, 4, results[2].ExitCode)

	entries, err := f.ledger.All()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"echo 1", "echo 2", "exit 4"}, []string{entries[0].Command, entries[1].Command, entries[2].Command})
}

func TestLogs(t *testing.T) {
	f := newFixture(t)

	logs, err := f.relay.Logs()
	require.NoError(t, err)
	assert.Equal(t, "No logs available", logs)

	require.NoError(t, f.ws.WriteFile(".xhell_log", []byte("[12:00:00] CMD: xpwd (status: 0)\n"), false))
	logs, err = f.relay.Logs()
	require.NoError(t, err)
	assert.Contains(t, logs, "CMD: xpwd")

	require.NoError(t, f.relay.ClearLogs())
	require.NoError(t, f.relay.ClearLogs())
	logs, err = f.relay.Logs()
	require.NoError(t, err)
	assert.Equal(t, "No logs available", logs)
}
