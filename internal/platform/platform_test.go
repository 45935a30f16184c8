package platform

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipUnlessPosix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a posix shell")
	}
}

func TestLocalShExitCode(t *testing.T) {
	skipUnlessPosix(t)
	l := NewLocal()
	ctx := context.Background()

	res, err := l.Sh(ctx, "sh", "-c", "echo out; echo err >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))

	_, err = l.ShStdout(ctx, "sh", "-c", "exit 2")
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 2, cmdErr.ExitCode)
}

func TestLocalPopenTerminate(t *testing.T) {
	skipUnlessPosix(t)
	l := NewLocal()
	ctx := context.Background()

	proc, err := l.Popen(ctx, PopenOptions{}, "sleep", "30")
	require.NoError(t, err)
	assert.Greater(t, proc.PID(), 0)
	assert.False(t, proc.Exited())

	require.NoError(t, proc.Terminate())
	require.NoError(t, WaitForExit(ctx, proc, 5*time.Second))
	assert.True(t, proc.Exited())
	// Signalling an exited process is a no-op.
	assert.NoError(t, proc.Terminate())
	assert.NoError(t, proc.Kill())
}

func TestLocalPopenOutput(t *testing.T) {
	skipUnlessPosix(t)
	var out bytes.Buffer
	proc, err := NewLocal().Popen(context.Background(), PopenOptions{
		Stdout: &out,
		Env:    []string{"CROSSBENCH_TEST_VALUE=42"},
	}, "sh", "-c", "echo $CROSSBENCH_TEST_VALUE")
	require.NoError(t, err)
	require.NoError(t, proc.Wait())
	assert.Equal(t, "42\n", out.String())
}

func TestWaitForExitTimeout(t *testing.T) {
	skipUnlessPosix(t)
	proc, err := NewLocal().Popen(context.Background(), PopenOptions{}, "sleep", "30")
	require.NoError(t, err)
	defer func() {
		_ = proc.Kill()
		_ = proc.Wait()
	}()

	start := time.Now()
	err = WaitForExit(context.Background(), proc, 200*time.Millisecond)
	elapsed := time.Since(start)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
}

// exitAfter reports itself exited once its deadline has passed.
type exitAfter struct {
	at time.Time
}

func (p *exitAfter) PID() int         { return 4242 }
func (p *exitAfter) Wait() error      { return nil }
func (p *exitAfter) Exited() bool     { return !time.Now().Before(p.at) }
func (p *exitAfter) Terminate() error { return nil }
func (p *exitAfter) Kill() error      { return nil }

func TestWaitForExitChecksAtDeadline(t *testing.T) {
	// Exits just before the deadline, after the backoff would have given up
	// on its own elapsed time budget.
	proc := &exitAfter{at: time.Now().Add(280 * time.Millisecond)}
	assert.NoError(t, WaitForExit(context.Background(), proc, 300*time.Millisecond))
}

func TestWaitForExitRejectsNonPositiveTimeout(t *testing.T) {
	proc := &exitAfter{at: time.Now().Add(time.Hour)}
	for _, timeout := range []time.Duration{0, -time.Second} {
		start := time.Now()
		err := WaitForExit(context.Background(), proc, timeout)
		assert.ErrorIs(t, err, ErrInvalidTimeout)
		assert.Less(t, time.Since(start), time.Second)
	}
}

func TestWaitForExitHonoursContext(t *testing.T) {
	proc := &exitAfter{at: time.Now().Add(time.Hour)}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := WaitForExit(ctx, proc, 10*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalFiles(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	dir := t.TempDir()

	src := filepath.Join(dir, "src", "a.txt")
	require.NoError(t, l.Mkdir(ctx, filepath.Dir(src)))
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	ok, err := l.IsFile(ctx, src)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.IsDir(ctx, src)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = l.IsFile(ctx, filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	dst := filepath.Join(dir, "dst", "b.txt")
	require.NoError(t, l.Pull(ctx, src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, l.Rsync(ctx, filepath.Dir(src), filepath.Join(dir, "copy")))
	data, err = os.ReadFile(filepath.Join(dir, "copy", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestParsePS(t *testing.T) {
	out := "  1 init\n 42 chrome\nbogus line\n 77 Google Chrome Helper\n\n"
	infos := parsePS(out)
	require.Len(t, infos, 3)
	assert.Equal(t, ProcessInfo{PID: 1, Name: "init"}, infos[0])
	assert.Equal(t, 42, infos[1].PID)
	assert.Equal(t, "Google Chrome Helper", infos[2].Name)
}

func TestPidWrapped(t *testing.T) {
	got := pidWrapped([]string{"perfetto", "-o", "/data/trace file"})
	assert.Equal(t, "echo $$; exec perfetto -o '/data/trace file'", got)
}

func TestRemoteProcess(t *testing.T) {
	var killed []string
	sh := func(ctx context.Context, args ...string) (*Result, error) {
		killed = append(killed, strings.Join(args, " "))
		return &Result{}, nil
	}
	release := make(chan struct{})
	var out bytes.Buffer
	proc, err := newRemoteProcess(strings.NewReader("1234\nline one\n"), &out,
		func() error { <-release; return nil }, sh)
	require.NoError(t, err)
	assert.Equal(t, 1234, proc.PID())

	require.NoError(t, proc.Terminate())
	assert.Equal(t, []string{"kill -TERM 1234"}, killed)

	close(release)
	require.NoError(t, proc.Wait())
	assert.Equal(t, "line one\n", out.String())
	assert.True(t, proc.Exited())
}

func TestRemoteProcessBadPID(t *testing.T) {
	_, err := newRemoteProcess(strings.NewReader("sh: not found\n"), nil, func() error { return nil }, nil)
	assert.Error(t, err)
}

func TestUntar(t *testing.T) {
	var buf bytes.Buffer
	writeTar(t, &buf, map[string]string{
		"trace/":        "",
		"trace/a.json":  "{}",
		"trace/sub/b.t": "b",
	})
	dst := t.TempDir()
	require.NoError(t, untar(&buf, dst, "trace"))

	data, err := os.ReadFile(filepath.Join(dst, "sub", "b.t"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))
}
