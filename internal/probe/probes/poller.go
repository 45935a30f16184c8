package probes

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"crossbench/internal/poller"
	"crossbench/internal/probe"
)

const PollerName = "poller"

func pollerParser() *probe.ConfigParser {
	return probe.NewConfigParser(PollerName,
		probe.Option{Name: "command", Type: probe.TypeString, Required: true,
			Help: "Command run on the browser platform for every sample."},
		probe.Option{Name: "interval", Type: probe.TypeDuration, Default: time.Second,
			Help: "Sampling interval, at least 100ms."},
	)
}

type pollerProbe struct {
	probe.Base
	command  string
	interval time.Duration
}

func newPollerProbe(opts probe.Options) (probe.Probe, error) {
	return &pollerProbe{
		Base:     probe.Base{ProbeName: PollerName, Policy: probe.MergeText},
		command:  opts.String("command"),
		interval: opts.Duration("interval"),
	}, nil
}

func (p *pollerProbe) ValidateEnv(env *probe.Env) error {
	if p.interval < poller.MinInterval {
		return probe.NewValidationError(PollerName, "interval %s is below the minimum of %s", p.interval, poller.MinInterval)
	}
	return nil
}

func (p *pollerProbe) NewLifecycle(run probe.Run) probe.Lifecycle {
	return &pollerLifecycle{probe: p, run: run}
}

type pollerLifecycle struct {
	probe  *pollerProbe
	run    probe.Run
	poller *poller.Poller
}

func (l *pollerLifecycle) samplesDir() string {
	return filepath.Join(l.run.OutDir(), PollerName)
}

func (l *pollerLifecycle) Setup(ctx context.Context) error {
	p, err := poller.New(l.run.Platform(), l.probe.command, l.probe.interval, l.samplesDir())
	if err != nil {
		return err
	}
	m := l.run.Metrics()
	p.OnSample = func(string) { m.PollerSample() }
	p.OnOverrun = func(time.Duration) { m.PollerOverrun() }
	l.poller = p
	return nil
}

func (l *pollerLifecycle) Start(ctx context.Context) error {
	if l.poller == nil {
		return fmt.Errorf("poller was not set up")
	}
	return l.poller.Start()
}

func (l *pollerLifecycle) Stop(ctx context.Context) error {
	if l.poller != nil {
		l.poller.Stop()
	}
	return nil
}

// TearDown joins the poller and folds the samples into one log.
func (l *pollerLifecycle) TearDown(ctx context.Context) (*probe.ProbeResult, error) {
	if l.poller == nil {
		return probe.EmptyResult(), nil
	}
	l.poller.Stop()
	files := l.poller.Files()
	if len(files) == 0 {
		return probe.EmptyResult(), nil
	}

	out := filepath.Join(l.run.OutDir(), PollerName+".txt")
	if err := writeSampleLog(out, files); err != nil {
		return nil, err
	}
	return probe.LocalResult(out), nil
}

func writeSampleLog(out string, samples []string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, sample := range samples {
		fmt.Fprintf(w, "--- %s\n", filepath.Base(sample))
		in, err := os.Open(sample)
		if err != nil {
			f.Close()
			return err
		}
		_, err = io.Copy(w, in)
		in.Close()
		if err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
