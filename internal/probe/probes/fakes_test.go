package probes

import (
	"context"
	"time"

	"crossbench/internal/browser"
	"crossbench/internal/metrics"
	"crossbench/internal/platform"
)

type fakeBrowser struct {
	name    string
	plat    platform.Platform
	flags   *browser.Flags
	jsFlags *browser.Flags
	pid     int
}

func newFakeBrowser(plat platform.Platform) *fakeBrowser {
	return &fakeBrowser{name: "fake", plat: plat, flags: browser.NewFlags(), jsFlags: browser.NewFlags()}
}

func (b *fakeBrowser) Name() string                                             { return b.name }
func (b *fakeBrowser) Platform() platform.Platform                              { return b.plat }
func (b *fakeBrowser) Flags() *browser.Flags                                    { return b.flags }
func (b *fakeBrowser) JSFlags() *browser.Flags                                  { return b.jsFlags }
func (b *fakeBrowser) Start(ctx context.Context, o browser.LaunchOptions) error { return nil }
func (b *fakeBrowser) PID() int                                                 { return b.pid }
func (b *fakeBrowser) Quit(ctx context.Context) error                           { return nil }
func (b *fakeBrowser) PerformanceMark(ctx context.Context, l string) error      { return nil }

// jsBrowser answers every script with a fixed string.
type jsBrowser struct {
	*fakeBrowser
	answer string
}

func (b *jsBrowser) JS(ctx context.Context, script string) (string, error) {
	return b.answer, nil
}

// remotePlatform pretends the local machine is a remote device of os.
type remotePlatform struct {
	*platform.Local
	os platform.OS
}

func (p *remotePlatform) Name() string    { return "remote" }
func (p *remotePlatform) OS() platform.OS { return p.os }
func (p *remotePlatform) IsRemote() bool  { return true }

type fakeRun struct {
	outDir  string
	browser browser.Browser
	flags   *browser.Flags
	jsFlags *browser.Flags
}

func newFakeRun(outDir string, b browser.Browser) *fakeRun {
	return &fakeRun{outDir: outDir, browser: b, flags: browser.NewFlags(), jsFlags: browser.NewFlags()}
}

func (r *fakeRun) ID() string                   { return "run-1" }
func (r *fakeRun) Browser() browser.Browser     { return r.browser }
func (r *fakeRun) Platform() platform.Platform  { return r.browser.Platform() }
func (r *fakeRun) StoryName() string            { return "story" }
func (r *fakeRun) Repetition() int              { return 0 }
func (r *fakeRun) OutDir() string               { return r.outDir }
func (r *fakeRun) StartTime() time.Time         { return time.Time{} }
func (r *fakeRun) ExtraFlags() *browser.Flags   { return r.flags }
func (r *fakeRun) ExtraJSFlags() *browser.Flags { return r.jsFlags }
func (r *fakeRun) Metrics() *metrics.Collector  { return nil }
func (r *fakeRun) Actions(ctx context.Context, label string, fn func(context.Context) error) error {
	return fn(ctx)
}
