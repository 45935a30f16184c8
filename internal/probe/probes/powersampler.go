package probes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crossbench/internal/browser"
	"crossbench/internal/platform"
	"crossbench/internal/probe"
)

const PowerSamplerName = "powersampler"

func powerSamplerParser() *probe.ConfigParser {
	return probe.NewConfigParser(PowerSamplerName,
		probe.Option{Name: "binary", Type: probe.TypeString, Default: "power_sampler"},
		probe.Option{Name: "interval", Type: probe.TypeDuration, Default: time.Second},
		probe.Option{Name: "samplers", Type: probe.TypeStringList, Default: []string{"smc", "battery"},
			Help: "Sampler sources passed to the binary."},
	)
}

type powerSamplerProbe struct {
	probe.Base
	binary   string
	interval time.Duration
	samplers []string
}

func newPowerSamplerProbe(opts probe.Options) (probe.Probe, error) {
	return &powerSamplerProbe{
		Base:     probe.Base{ProbeName: PowerSamplerName, Policy: probe.MergeCSV},
		binary:   opts.String("binary"),
		interval: opts.Duration("interval"),
		samplers: opts.Strings("samplers"),
	}, nil
}

func (p *powerSamplerProbe) ValidateBrowser(env *probe.Env, b browser.Browser) error {
	if !b.Platform().OS().IsMacOS() {
		return probe.NewIncompatibleBrowserError(PowerSamplerName, b.Name(), "power sampling is only supported on macOS")
	}
	return nil
}

func (p *powerSamplerProbe) NewLifecycle(run probe.Run) probe.Lifecycle {
	return &powerSamplerLifecycle{probe: p, run: run}
}

type powerSamplerLifecycle struct {
	probe *powerSamplerProbe
	run   probe.Run
	out   *os.File
	proc  platform.Process
}

func (l *powerSamplerLifecycle) Setup(ctx context.Context) error {
	if err := os.MkdirAll(l.run.OutDir(), 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(l.run.OutDir(), PowerSamplerName+".csv"))
	if err != nil {
		return err
	}
	l.out = f
	return nil
}

func (l *powerSamplerLifecycle) Start(ctx context.Context) error {
	proc, err := l.run.Platform().Popen(ctx, platform.PopenOptions{Stdout: l.out},
		l.probe.binary,
		"--sample-interval="+msString(l.probe.interval),
		"--samplers="+strings.Join(l.probe.samplers, ","),
		"--timeout=0")
	if err != nil {
		return err
	}
	l.proc = proc
	return nil
}

func (l *powerSamplerLifecycle) Stop(ctx context.Context) error {
	return stopProcess(ctx, PowerSamplerName, l.proc, 5*time.Second)
}

func (l *powerSamplerLifecycle) TearDown(ctx context.Context) (*probe.ProbeResult, error) {
	if l.proc != nil && !l.proc.Exited() {
		_ = l.proc.Kill()
		_ = l.proc.Wait()
	}
	if l.out == nil {
		return probe.EmptyResult(), nil
	}
	name := l.out.Name()
	if err := l.out.Close(); err != nil {
		return nil, err
	}
	if l.proc == nil {
		os.Remove(name)
		return probe.EmptyResult(), nil
	}
	info, err := os.Stat(name)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, &probe.MissingDataError{Probe: PowerSamplerName, Reason: "sampler wrote no rows"}
	}
	return probe.LocalResult(name), nil
}
