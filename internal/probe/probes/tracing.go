package probes

import (
	"context"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"crossbench/internal/browser"
	"crossbench/internal/probe"
)

const TracingName = "tracing"

// TracePresets maps preset names to trace category lists.
type TracePresets struct {
	Presets map[string][]string
}

func DefaultTracePresets() *TracePresets {
	return &TracePresets{Presets: map[string][]string{
		"minimal": {"toplevel", "blink.user_timing"},
		"default": {"toplevel", "benchmark", "blink", "blink.user_timing", "loading", "navigation", "v8"},
		"v8": {
			"toplevel", "v8", "v8.execute", "disabled-by-default-v8.compile",
			"disabled-by-default-v8.gc", "disabled-by-default-v8.runtime_stats",
		},
		"full": {"*", "disabled-by-default-v8.runtime_stats", "disabled-by-default-devtools.timeline"},
	}}
}

func (t *TracePresets) Names() []string {
	names := make([]string, 0, len(t.Presets))
	for name := range t.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// With returns a copy of t where extra adds presets or replaces those of the
// same name.
func (t *TracePresets) With(extra map[string][]string) *TracePresets {
	merged := make(map[string][]string, len(t.Presets)+len(extra))
	for name, categories := range t.Presets {
		merged[name] = categories
	}
	for name, categories := range extra {
		merged[name] = append([]string(nil), categories...)
	}
	return &TracePresets{Presets: merged}
}

func tracingParser(presets *TracePresets) *probe.ConfigParser {
	return probe.NewConfigParser(TracingName,
		probe.Option{Name: "preset", Type: probe.TypeEnum, Default: "default", Choices: presets.Names(),
			Help: "Named category preset."},
		probe.Option{Name: "categories", Type: probe.TypeStringList,
			Help: "Additional trace categories."},
		probe.Option{Name: "startup_duration", Type: probe.TypeDuration, Default: time.Duration(0),
			Help: "Stop tracing after this long. 0 traces until the browser quits."},
		probe.Option{Name: "format", Type: probe.TypeEnum, Default: "json", Choices: []string{"json", "proto"}},
	)
}

type tracingProbe struct {
	probe.Base
	categories []string
	duration   time.Duration
	format     string
}

func newTracingProbe(opts probe.Options, presets *TracePresets) (probe.Probe, error) {
	categories := append([]string(nil), presets.Presets[opts.String("preset")]...)
	seen := make(map[string]bool, len(categories))
	for _, c := range categories {
		seen[c] = true
	}
	for _, c := range opts.Strings("categories") {
		if !seen[c] {
			seen[c] = true
			categories = append(categories, c)
		}
	}
	return &tracingProbe{
		Base:       probe.Base{ProbeName: TracingName, Location: probe.LocationBrowser, Policy: probe.MergeCollect},
		categories: categories,
		duration:   opts.Duration("startup_duration"),
		format:     opts.String("format"),
	}, nil
}

func (p *tracingProbe) ValidateBrowser(env *probe.Env, b browser.Browser) error {
	if b.Flags().Has("--trace-startup") {
		return probe.NewValidationError(TracingName, "browser %s already sets --trace-startup", b.Name())
	}
	return nil
}

func (p *tracingProbe) NewLifecycle(run probe.Run) probe.Lifecycle {
	return &tracingLifecycle{probe: p, run: run}
}

type tracingLifecycle struct {
	probe.NopLifecycle
	probe     *tracingProbe
	run       probe.Run
	traceFile string
	started   bool
}

func (l *tracingLifecycle) Setup(ctx context.Context) error {
	plat := l.run.Platform()
	name := "trace." + l.probe.format
	if plat.IsRemote() {
		dir := remoteTmpDir(l.run)
		if err := plat.Mkdir(ctx, dir); err != nil {
			return err
		}
		l.traceFile = path.Join(dir, name)
	} else {
		l.traceFile = filepath.Join(l.run.OutDir(), name)
	}

	flags := l.run.ExtraFlags()
	flags.Set("--trace-startup", strings.Join(l.probe.categories, ","))
	flags.Set("--trace-startup-file", l.traceFile)
	flags.Set("--trace-startup-format", l.probe.format)
	if l.probe.duration > 0 {
		flags.Set("--trace-startup-duration", strconv.Itoa(int(l.probe.duration.Seconds())))
	}
	return nil
}

// Start only records that a measurement happened. The trace itself is driven
// by the startup flags set in Setup.
func (l *tracingLifecycle) Start(ctx context.Context) error {
	l.started = true
	return nil
}

// TearDown runs after the browser quit, which is when chrome flushes the
// startup trace.
func (l *tracingLifecycle) TearDown(ctx context.Context) (*probe.ProbeResult, error) {
	if l.traceFile == "" || !l.started {
		return probe.EmptyResult(), nil
	}
	plat := l.run.Platform()
	ok, err := plat.IsFile(ctx, l.traceFile)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &probe.MissingDataError{Probe: TracingName, Reason: "no trace file at " + l.traceFile}
	}
	if !plat.IsRemote() {
		return probe.LocalResult(l.traceFile), nil
	}
	return probe.BrowserResult(l.traceFile).Pull(ctx, plat, l.run.OutDir())
}
