package probes

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"crossbench/internal/browser"
	"crossbench/internal/logging"
	"crossbench/internal/platform"
	"crossbench/internal/probe"
)

const PerfettoName = "perfetto"

const defaultPerfettoConfig = `buffers {
  size_kb: 65536
  fill_policy: RING_BUFFER
}
data_sources {
  config {
    name: "linux.process_stats"
  }
}
data_sources {
  config {
    name: "linux.ftrace"
    ftrace_config {
      ftrace_events: "sched/sched_switch"
      ftrace_events: "power/cpu_frequency"
      ftrace_events: "power/cpu_idle"
    }
  }
}
`

func perfettoParser() *probe.ConfigParser {
	return probe.NewConfigParser(PerfettoName,
		probe.Option{Name: "config", Type: probe.TypeString,
			Help: "Path to a perfetto text config. A scheduling and power config is used when empty."},
		probe.Option{Name: "binary", Type: probe.TypeString, Default: "perfetto"},
		probe.Option{Name: "stop_timeout", Type: probe.TypeDuration, Default: 10 * time.Second,
			Help: "How long to wait for perfetto to flush after stop."},
	)
}

type perfettoProbe struct {
	probe.Base
	configFile  string
	binary      string
	stopTimeout time.Duration
}

func newPerfettoProbe(opts probe.Options) (probe.Probe, error) {
	if d := opts.Duration("stop_timeout"); d <= 0 {
		return nil, &probe.ArgumentTypeError{Probe: PerfettoName, Option: "stop_timeout", Reason: "must be positive, got " + d.String()}
	}
	return &perfettoProbe{
		Base:        probe.Base{ProbeName: PerfettoName, Location: probe.LocationBrowser, Policy: probe.MergeBinary},
		configFile:  opts.String("config"),
		binary:      opts.String("binary"),
		stopTimeout: opts.Duration("stop_timeout"),
	}, nil
}

func (p *perfettoProbe) ValidateEnv(env *probe.Env) error {
	if p.configFile == "" {
		return nil
	}
	if _, err := os.Stat(p.configFile); err != nil {
		return probe.NewValidationError(PerfettoName, "config %s: %v", p.configFile, err)
	}
	return nil
}

func (p *perfettoProbe) ValidateBrowser(env *probe.Env, b browser.Browser) error {
	targetOS := b.Platform().OS()
	if !targetOS.IsLinux() && !targetOS.IsAndroid() {
		return probe.NewIncompatibleBrowserError(PerfettoName, b.Name(), "perfetto needs linux or android, got %s", targetOS)
	}
	return nil
}

func (p *perfettoProbe) NewLifecycle(run probe.Run) probe.Lifecycle {
	return &perfettoLifecycle{probe: p, run: run}
}

type perfettoLifecycle struct {
	probe     *perfettoProbe
	run       probe.Run
	remoteCfg string
	remoteOut string
	proc      platform.Process
}

func (l *perfettoLifecycle) Setup(ctx context.Context) error {
	localCfg := l.probe.configFile
	if localCfg == "" {
		localCfg = filepath.Join(l.run.OutDir(), "perfetto.cfg")
		if err := os.MkdirAll(l.run.OutDir(), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(localCfg, []byte(defaultPerfettoConfig), 0o644); err != nil {
			return err
		}
	}

	plat := l.run.Platform()
	dir := remoteTmpDir(l.run)
	if !plat.IsRemote() {
		dir = l.run.OutDir()
	}
	if err := plat.Mkdir(ctx, dir); err != nil {
		return err
	}
	l.remoteCfg = path.Join(dir, "perfetto.cfg")
	l.remoteOut = path.Join(dir, "trace.perfetto")
	if plat.IsRemote() || filepath.Clean(localCfg) != filepath.Clean(l.remoteCfg) {
		if err := plat.Push(ctx, localCfg, l.remoteCfg); err != nil {
			return fmt.Errorf("failed to push perfetto config: %w", err)
		}
	}
	return nil
}

func (l *perfettoLifecycle) Start(ctx context.Context) error {
	proc, err := l.run.Platform().Popen(ctx, platform.PopenOptions{},
		l.probe.binary, "--txt", "-c", l.remoteCfg, "-o", l.remoteOut)
	if err != nil {
		return err
	}
	l.proc = proc
	return nil
}

func (l *perfettoLifecycle) Stop(ctx context.Context) error {
	err := stopProcess(ctx, PerfettoName, l.proc, l.probe.stopTimeout)
	if probe.IsTimeout(err) {
		// The trace is still usable, only its tail may be missing.
		logging.ForProbe(PerfettoName).WithError(err).Warn("Perfetto did not exit in time, trace may be incomplete")
		return nil
	}
	return err
}

func (l *perfettoLifecycle) TearDown(ctx context.Context) (*probe.ProbeResult, error) {
	if l.proc == nil {
		return probe.EmptyResult(), nil
	}
	if !l.proc.Exited() {
		_ = l.proc.Kill()
	}
	plat := l.run.Platform()
	ok, err := plat.IsFile(ctx, l.remoteOut)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &probe.MissingDataError{Probe: PerfettoName, Reason: "perfetto wrote no trace"}
	}
	if !plat.IsRemote() {
		return probe.LocalResult(l.remoteOut), nil
	}
	return probe.BrowserResult(l.remoteOut).Pull(ctx, plat, l.run.OutDir())
}
