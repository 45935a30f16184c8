package probe

import (
	"context"
	"errors"
	"time"

	"crossbench/internal/browser"
	"crossbench/internal/metrics"
	"crossbench/internal/platform"
)

type fakeRun struct {
	outDir  string
	start   time.Time
	flags   *browser.Flags
	jsFlags *browser.Flags
	metrics *metrics.Collector
}

func newFakeRun(outDir string) *fakeRun {
	return &fakeRun{
		outDir:  outDir,
		flags:   browser.NewFlags(),
		jsFlags: browser.NewFlags(),
		metrics: metrics.New(),
	}
}

func (r *fakeRun) ID() string                   { return "fake-run" }
func (r *fakeRun) Browser() browser.Browser     { return nil }
func (r *fakeRun) Platform() platform.Platform  { return platform.NewLocal() }
func (r *fakeRun) StoryName() string            { return "story" }
func (r *fakeRun) Repetition() int              { return 0 }
func (r *fakeRun) OutDir() string               { return r.outDir }
func (r *fakeRun) StartTime() time.Time         { return r.start }
func (r *fakeRun) ExtraFlags() *browser.Flags   { return r.flags }
func (r *fakeRun) ExtraJSFlags() *browser.Flags { return r.jsFlags }
func (r *fakeRun) Metrics() *metrics.Collector  { return r.metrics }
func (r *fakeRun) Actions(ctx context.Context, label string, fn func(context.Context) error) error {
	return fn(ctx)
}

// recordingLifecycle records phase calls and fails the phases listed in fail.
type recordingLifecycle struct {
	calls  *[]string
	fail   map[string]error
	result *ProbeResult
}

func (l *recordingLifecycle) do(phase string) error {
	*l.calls = append(*l.calls, phase)
	return l.fail[phase]
}

func (l *recordingLifecycle) Setup(ctx context.Context) error { return l.do("setup") }
func (l *recordingLifecycle) Start(ctx context.Context) error { return l.do("start") }
func (l *recordingLifecycle) Stop(ctx context.Context) error  { return l.do("stop") }
func (l *recordingLifecycle) TearDown(ctx context.Context) (*ProbeResult, error) {
	return l.result, l.do("tear_down")
}

type fakeProbe struct {
	Base
	calls  []string
	fail   map[string]error
	result *ProbeResult
}

func newFakeProbe(name string) *fakeProbe {
	return &fakeProbe{Base: Base{ProbeName: name, Policy: MergeText}, fail: map[string]error{}}
}

func (p *fakeProbe) NewLifecycle(run Run) Lifecycle {
	return &recordingLifecycle{calls: &p.calls, fail: p.fail, result: p.result}
}

var errBoom = errors.New("boom")
