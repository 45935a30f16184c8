// Package probes contains the concrete probe kinds and the registry that
// builds them from session configuration.
package probes

import (
	"context"
	"path"
	"strconv"
	"time"

	"crossbench/internal/browser"
	"crossbench/internal/platform"
	"crossbench/internal/probe"
)

// NewRegistry returns a registry with every built-in probe. presets feeds
// the tracing probe; nil means DefaultTracePresets.
func NewRegistry(presets *TracePresets) *probe.Registry {
	if presets == nil {
		presets = DefaultTracePresets()
	}
	r := probe.NewRegistry()
	r.Register(PollerName, "Samples a shell command at a fixed interval.", pollerParser(),
		newPollerProbe)
	r.Register(TracingName, "Records a Chrome startup trace.", tracingParser(presets),
		func(opts probe.Options) (probe.Probe, error) { return newTracingProbe(opts, presets) })
	r.Register(PerfettoName, "Records a perfetto system trace on the browser platform.", perfettoParser(),
		newPerfettoProbe)
	r.Register(V8RCSName, "Collects V8 runtime call stats.", nil,
		func(probe.Options) (probe.Probe, error) { return newV8RCSProbe(), nil })
	r.Register(PowerSamplerName, "Samples power usage on macOS.", powerSamplerParser(),
		newPowerSamplerProbe)
	r.Register(DebuggerName, "Attaches gdb or lldb to the browser.", debuggerParser(),
		newDebuggerProbe)
	r.Register(PerfCountersName, "Counts hardware events of the browser process.", perfCountersParser(),
		newPerfCountersProbe)
	r.Register(ResctrlName, "Reports cache occupancy and memory bandwidth through resctrl.", resctrlParser(),
		newResctrlProbe)
	return r
}

// requireLocalLinux rejects browsers that do not run on this Linux host.
func requireLocalLinux(probeName string, b browser.Browser) error {
	plat := b.Platform()
	if plat.IsRemote() || !plat.OS().IsLinux() {
		return probe.NewIncompatibleBrowserError(probeName, b.Name(), "requires a local linux browser, got %s", plat.Name())
	}
	return nil
}

// remoteTmpDir is a per-run scratch dir on the browser platform.
func remoteTmpDir(run probe.Run) string {
	base := "/tmp"
	if run.Platform().OS().IsAndroid() {
		base = "/data/local/tmp"
	}
	return path.Join(base, "crossbench", run.ID())
}

// stopProcess terminates proc and waits up to timeout. A timeout is returned
// as a *probe.TimeoutError after the process has been killed.
func stopProcess(ctx context.Context, probeName string, proc platform.Process, timeout time.Duration) error {
	if proc == nil || proc.Exited() {
		return nil
	}
	if err := proc.Terminate(); err != nil {
		return err
	}
	if err := platform.WaitForExit(ctx, proc, timeout); err != nil {
		_ = proc.Kill()
		return &probe.TimeoutError{Probe: probeName, Err: err}
	}
	return nil
}

func msString(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
