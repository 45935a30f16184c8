package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"crossbench/internal/browser"
	"crossbench/internal/platform"
	"crossbench/internal/probe"
)

var errBoom = errors.New("boom")

type fakeBrowser struct {
	name    string
	plat    platform.Platform
	flags   *browser.Flags
	jsFlags *browser.Flags

	mu       sync.Mutex
	launches []browser.LaunchOptions
	quits    int
	startErr error
}

func newFakeBrowser(name string) *fakeBrowser {
	return &fakeBrowser{name: name, plat: platform.NewLocal(), flags: browser.NewFlags(), jsFlags: browser.NewFlags()}
}

func (b *fakeBrowser) Name() string                                        { return b.name }
func (b *fakeBrowser) Platform() platform.Platform                         { return b.plat }
func (b *fakeBrowser) Flags() *browser.Flags                               { return b.flags }
func (b *fakeBrowser) JSFlags() *browser.Flags                             { return b.jsFlags }
func (b *fakeBrowser) PID() int                                            { return 4242 }
func (b *fakeBrowser) PerformanceMark(ctx context.Context, l string) error { return nil }

func (b *fakeBrowser) Start(ctx context.Context, o browser.LaunchOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launches = append(b.launches, o)
	return b.startErr
}

func (b *fakeBrowser) Quit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quits++
	return nil
}

// textProbe writes "<run id>\n" in tear down. It records every lifecycle
// call in calls, shared across probes to check ordering.
type textProbe struct {
	probe.Base
	calls    *[]string
	rejects  string
	startErr error
}

func newTextProbe(name string, calls *[]string) *textProbe {
	return &textProbe{Base: probe.Base{ProbeName: name, Policy: probe.MergeText}, calls: calls}
}

func (p *textProbe) ValidateBrowser(env *probe.Env, b browser.Browser) error {
	if b.Name() == p.rejects {
		return probe.NewIncompatibleBrowserError(p.Name(), b.Name(), "not supported")
	}
	return nil
}

func (p *textProbe) NewLifecycle(run probe.Run) probe.Lifecycle {
	return &textLifecycle{probe: p, run: run}
}

type textLifecycle struct {
	probe   *textProbe
	run     probe.Run
	started bool
}

func (l *textLifecycle) record(phase string) {
	*l.probe.calls = append(*l.probe.calls, l.probe.Name()+"."+phase)
}

func (l *textLifecycle) Setup(ctx context.Context) error {
	l.record("setup")
	return nil
}

func (l *textLifecycle) Start(ctx context.Context) error {
	l.record("start")
	if l.probe.startErr != nil {
		return l.probe.startErr
	}
	l.started = true
	return nil
}

func (l *textLifecycle) Stop(ctx context.Context) error {
	l.record("stop")
	return nil
}

func (l *textLifecycle) TearDown(ctx context.Context) (*probe.ProbeResult, error) {
	l.record("tear_down")
	if !l.started {
		return probe.EmptyResult(), nil
	}
	file := filepath.Join(l.run.OutDir(), l.probe.Name()+".txt")
	if err := os.WriteFile(file, []byte(l.run.ID()+"\n"), 0o644); err != nil {
		return nil, err
	}
	return probe.LocalResult(file), nil
}
