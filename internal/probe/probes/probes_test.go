package probes

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"crossbench/internal/platform"
	"crossbench/internal/probe"

	"github.com/intel/goresctrl/pkg/rdt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func create(t *testing.T, name string, raw map[string]any) probe.Probe {
	t.Helper()
	p, err := NewRegistry(nil).Create(name, raw)
	require.NoError(t, err)
	return p
}

func TestRegistryNames(t *testing.T) {
	assert.Equal(t, []string{
		DebuggerName, PerfCountersName, PerfettoName, PollerName,
		PowerSamplerName, ResctrlName, TracingName, V8RCSName,
	}, NewRegistry(nil).Names())
}

func TestTearDownWithoutStartIsEmpty(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs true(1)")
	}
	configs := map[string]map[string]any{
		PollerName:       {"command": "true"},
		TracingName:      nil,
		PerfettoName:     nil,
		V8RCSName:        nil,
		PowerSamplerName: nil,
		DebuggerName:     nil,
		PerfCountersName: nil,
		ResctrlName:      nil,
	}
	for name, raw := range configs {
		t.Run(name, func(t *testing.T) {
			p := create(t, name, raw)
			run := newFakeRun(t.TempDir(), newFakeBrowser(platform.NewLocal()))
			c := probe.GetContext(p, run)
			res, err := c.TearDown(context.Background())
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.True(t, res.IsEmpty())
		})
		t.Run(name+"/after_setup", func(t *testing.T) {
			p := create(t, name, raw)
			run := newFakeRun(t.TempDir(), newFakeBrowser(platform.NewLocal()))
			c := probe.GetContext(p, run)
			ctx := context.Background()
			require.NoError(t, c.Setup(ctx))
			res, err := c.TearDown(ctx)
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.True(t, res.IsEmpty())
		})
	}
}

func TestPollerProbeLifecycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs echo(1)")
	}
	p := create(t, PollerName, map[string]any{"command": "echo sample", "interval": "100ms"})
	require.NoError(t, p.ValidateEnv(&probe.Env{}))

	run := newFakeRun(t.TempDir(), newFakeBrowser(platform.NewLocal()))
	c := probe.GetContext(p, run)
	ctx := context.Background()
	require.NoError(t, c.Setup(ctx))
	require.NoError(t, c.Start(ctx))
	time.Sleep(250 * time.Millisecond)
	require.NoError(t, c.Stop(ctx))

	res, err := c.TearDown(ctx)
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	data, err := os.ReadFile(res.Files[0])
	require.NoError(t, err)
	assert.GreaterOrEqual(t, strings.Count(string(data), "sample\n"), 2)
}

func TestPollerProbeRejectsShortInterval(t *testing.T) {
	p := create(t, PollerName, map[string]any{"command": "true", "interval": "10ms"})
	assert.True(t, probe.IsValidation(p.ValidateEnv(&probe.Env{})))
}

func TestTracingSetsStartupFlags(t *testing.T) {
	p := create(t, TracingName, map[string]any{"preset": "minimal", "categories": []any{"v8", "toplevel"}})
	b := newFakeBrowser(platform.NewLocal())
	require.NoError(t, p.ValidateBrowser(&probe.Env{}, b))

	dir := t.TempDir()
	run := newFakeRun(dir, b)
	c := probe.GetContext(p, run)
	ctx := context.Background()
	require.NoError(t, c.Setup(ctx))

	cats, _ := run.ExtraFlags().Get("--trace-startup")
	assert.Equal(t, "toplevel,blink.user_timing,v8", cats)
	file, _ := run.ExtraFlags().Get("--trace-startup-file")
	assert.Equal(t, filepath.Join(dir, "trace.json"), file)
	assert.False(t, b.Flags().Has("--trace-startup"))

	// Setup alone produces nothing.
	res, err := c.TearDown(ctx)
	require.NoError(t, err)
	assert.True(t, res.IsEmpty())

	// A started run whose browser never wrote a trace is missing data.
	run = newFakeRun(t.TempDir(), b)
	c = probe.GetContext(p, run)
	require.NoError(t, c.Setup(ctx))
	require.NoError(t, c.Start(ctx))
	_, err = c.TearDown(ctx)
	assert.True(t, probe.IsMissingData(err))
}

func TestTracingCustomPresets(t *testing.T) {
	defaults := DefaultTracePresets()
	presets := defaults.With(map[string][]string{"startup": {"loading", "navigation"}})
	assert.NotContains(t, defaults.Names(), "startup")
	assert.Contains(t, presets.Names(), "startup")

	p, err := NewRegistry(presets).Create(TracingName, map[string]any{"preset": "startup"})
	require.NoError(t, err)
	run := newFakeRun(t.TempDir(), newFakeBrowser(platform.NewLocal()))
	require.NoError(t, probe.GetContext(p, run).Setup(context.Background()))
	cats, _ := run.ExtraFlags().Get("--trace-startup")
	assert.Equal(t, "loading,navigation", cats)

	_, err = NewRegistry(nil).Create(TracingName, map[string]any{"preset": "startup"})
	assert.Error(t, err)
}

func TestTracingPullsRemoteTrace(t *testing.T) {
	plat := &remotePlatform{Local: platform.NewLocal(), os: platform.Linux}
	p := create(t, TracingName, nil)
	run := newFakeRun(t.TempDir(), newFakeBrowser(plat))
	c := probe.GetContext(p, run)
	ctx := context.Background()
	require.NoError(t, c.Setup(ctx))
	require.NoError(t, c.Start(ctx))

	remote, _ := run.ExtraFlags().Get("--trace-startup-file")
	require.True(t, strings.HasPrefix(remote, "/tmp/crossbench/run-1/"))
	t.Cleanup(func() { os.RemoveAll(filepath.Dir(remote)) })
	require.NoError(t, os.WriteFile(remote, []byte(`{"traceEvents":[]}`), 0o644))

	res, err := c.TearDown(ctx)
	require.NoError(t, err)
	assert.Equal(t, probe.KindLocal, res.Kind)
	assert.Equal(t, filepath.Join(run.OutDir(), "trace.json"), res.Files[0])
}

func TestTracingRejectsPreconfiguredBrowser(t *testing.T) {
	b := newFakeBrowser(platform.NewLocal())
	b.Flags().Set("--trace-startup", "*")
	assert.True(t, probe.IsValidation(create(t, TracingName, nil).ValidateBrowser(&probe.Env{}, b)))
}

func TestV8RCS(t *testing.T) {
	p := create(t, V8RCSName, nil)
	plain := newFakeBrowser(platform.NewLocal())
	assert.True(t, probe.IsValidation(p.ValidateBrowser(&probe.Env{}, plain)))

	b := &jsBrowser{fakeBrowser: newFakeBrowser(platform.NewLocal()), answer: "JSObject  12  1.5ms\n"}
	require.NoError(t, p.ValidateBrowser(&probe.Env{}, b))
	require.NoError(t, p.Attach(b))
	require.NoError(t, p.Attach(b))
	assert.Equal(t, []string{"--runtime-call-stats", "--allow-natives-syntax"}, b.JSFlags().Args())

	run := newFakeRun(t.TempDir(), b)
	c := probe.GetContext(p, run)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Stop(ctx))
	res, err := c.TearDown(ctx)
	require.NoError(t, err)
	data, err := os.ReadFile(res.Files[0])
	require.NoError(t, err)
	assert.Equal(t, b.answer, string(data))
}

func TestV8RCSEmptyTable(t *testing.T) {
	b := &jsBrowser{fakeBrowser: newFakeBrowser(platform.NewLocal())}
	c := probe.GetContext(create(t, V8RCSName, nil), newFakeRun(t.TempDir(), b))
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Stop(ctx))
	res, err := c.TearDown(ctx)
	assert.True(t, probe.IsMissingData(err))
	assert.True(t, res.Failed())
}

func TestIncompatibleBrowsers(t *testing.T) {
	remoteLinux := newFakeBrowser(&remotePlatform{Local: platform.NewLocal(), os: platform.Linux})
	windows := newFakeBrowser(&remotePlatform{Local: platform.NewLocal(), os: platform.Windows})
	android := newFakeBrowser(&remotePlatform{Local: platform.NewLocal(), os: platform.Android})

	tests := []struct {
		probe   string
		browser *fakeBrowser
	}{
		{PowerSamplerName, remoteLinux},
		{PerfCountersName, remoteLinux},
		{ResctrlName, android},
		{PerfettoName, windows},
		{DebuggerName, windows},
	}
	for _, tt := range tests {
		t.Run(tt.probe, func(t *testing.T) {
			err := create(t, tt.probe, nil).ValidateBrowser(&probe.Env{}, tt.browser)
			var incompatible *probe.IncompatibleBrowserError
			assert.ErrorAs(t, err, &incompatible)
			assert.True(t, probe.IsValidation(err))
		})
	}
}

func TestDebuggerWarnsAndProducesNothing(t *testing.T) {
	p := create(t, DebuggerName, map[string]any{"debugger": "lldb", "commands": []any{"breakpoint set -n main"}})
	env := &probe.Env{}
	require.NoError(t, p.ValidateEnv(env))
	require.Len(t, env.Warnings(), 1)
	assert.False(t, p.ProducesResult())

	args := p.(*debuggerProbe).args(42)
	assert.Equal(t, []string{"lldb", "--batch", "-p", "42", "-o", "breakpoint set -n main", "-o", "continue"}, args)
}

func TestResctrlNeedsMonitoring(t *testing.T) {
	assert.True(t, probe.IsValidation(create(t, ResctrlName, nil).ValidateEnv(&probe.Env{})))
}

func TestPerfCountersUnknownEvent(t *testing.T) {
	_, err := NewRegistry(nil).Create(PerfCountersName, map[string]any{"events": []any{"flops"}})
	var argErr *probe.ArgumentTypeError
	assert.ErrorAs(t, err, &argErr)
}

func TestScaleCount(t *testing.T) {
	assert.Equal(t, uint64(100), scaleCount(100, 0, 0))
	assert.Equal(t, uint64(100), scaleCount(100, 10, 10))
	assert.Equal(t, uint64(200), scaleCount(100, 10, 5))
}

func TestMonDelta(t *testing.T) {
	before := rdt.MonData{L3: rdt.MonL3Data{0: {"llc_occupancy": 10, "mbm_total_bytes": 100}}}
	after := rdt.MonData{L3: rdt.MonL3Data{0: {"llc_occupancy": 40, "mbm_total_bytes": 350}}}
	got := monDelta(before, after)
	assert.Equal(t, map[string]map[string]uint64{
		"cache0": {"llc_occupancy": 40, "mbm_total_bytes": 250},
	}, got)
}

// stubbornProcess ignores SIGTERM so only a kill ends it.
func stubbornProcess(t *testing.T) platform.Process {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a posix shell")
	}
	proc, err := platform.NewLocal().Popen(context.Background(), platform.PopenOptions{},
		"sh", "-c", `trap "" TERM; exec sleep 30`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = proc.Kill()
		_ = proc.Wait()
	})
	// Give the shell time to install the trap before anyone signals it.
	time.Sleep(200 * time.Millisecond)
	require.False(t, proc.Exited())
	return proc
}

func TestStopProcessKillsAfterTimeout(t *testing.T) {
	proc := stubbornProcess(t)

	start := time.Now()
	err := stopProcess(context.Background(), "stubborn", proc, 300*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.True(t, probe.IsTimeout(err))
	var timeout *probe.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "stubborn", timeout.Probe)
	assert.Eventually(t, proc.Exited, 5*time.Second, 10*time.Millisecond)
}

func TestStopProcessWithExitedProcess(t *testing.T) {
	assert.NoError(t, stopProcess(context.Background(), "none", nil, time.Second))

	proc := stubbornProcess(t)
	require.NoError(t, proc.Kill())
	require.Eventually(t, proc.Exited, 5*time.Second, 10*time.Millisecond)
	assert.NoError(t, stopProcess(context.Background(), "gone", proc, time.Second))
}

func TestPerfettoStopToleratesSlowFlush(t *testing.T) {
	proc := stubbornProcess(t)
	l := &perfettoLifecycle{
		probe: &perfettoProbe{
			Base:        probe.Base{ProbeName: PerfettoName, Location: probe.LocationBrowser, Policy: probe.MergeBinary},
			stopTimeout: 300 * time.Millisecond,
		},
		run:       newFakeRun(t.TempDir(), newFakeBrowser(platform.NewLocal())),
		remoteOut: filepath.Join(t.TempDir(), "trace.perfetto"),
		proc:      proc,
	}
	ctx := context.Background()
	require.NoError(t, l.Stop(ctx))
	assert.Eventually(t, proc.Exited, 5*time.Second, 10*time.Millisecond)

	// The killed recorder left no trace behind.
	_, err := l.TearDown(ctx)
	assert.True(t, probe.IsMissingData(err))
}

func TestPerfettoRejectsNonPositiveStopTimeout(t *testing.T) {
	for _, raw := range []string{"0s", "-1s"} {
		_, err := NewRegistry(nil).Create(PerfettoName, map[string]any{"stop_timeout": raw})
		var argErr *probe.ArgumentTypeError
		require.ErrorAs(t, err, &argErr, raw)
		assert.Equal(t, "stop_timeout", argErr.Option)
	}
	p := create(t, PerfettoName, map[string]any{"stop_timeout": "2s"})
	assert.Equal(t, 2*time.Second, p.(*perfettoProbe).stopTimeout)
}
