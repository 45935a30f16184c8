// Package probe defines the instrumentation contract of a benchmark
// session: probes validate against the environment, attach to browsers,
// hand out a per-run lifecycle driven by a Context state machine and fold
// their per-run results up the repetitions, stories and browsers groups.
package probe

import (
	"context"
	"fmt"
	"time"

	"crossbench/internal/browser"
	"crossbench/internal/host"
	"crossbench/internal/logging"
	"crossbench/internal/metrics"
	"crossbench/internal/platform"

	"github.com/sirupsen/logrus"
)

// ResultLocation says where a probe's per-run artifacts materialize.
type ResultLocation string

const (
	LocationLocal   ResultLocation = "local"
	LocationBrowser ResultLocation = "browser"
)

type Probe interface {
	Name() string
	ResultLocation() ResultLocation
	// ProducesResult is false for decorators that only hook the lifecycle.
	ProducesResult() bool

	ValidateEnv(env *Env) error
	ValidateBrowser(env *Env, b browser.Browser) error
	// Attach adjusts the browser launch configuration. Calling it more
	// than once must not duplicate flags.
	Attach(b browser.Browser) error
	// NewLifecycle returns fresh per-run state. Use GetContext to drive it.
	NewLifecycle(run Run) Lifecycle

	MergeRepetitions(ctx context.Context, g *Group) (*ProbeResult, error)
	MergeStories(ctx context.Context, g *Group) (*ProbeResult, error)
	MergeBrowsers(ctx context.Context, g *Group) (*ProbeResult, error)
}

// Lifecycle is the per-run behaviour of a probe. Setup and TearDown may
// block; Start and Stop run inside the measured section and must be quick.
// TearDown must cope with Start or Stop never having run.
type Lifecycle interface {
	Setup(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	TearDown(ctx context.Context) (*ProbeResult, error)
}

// Run is the view of one story execution that lifecycles get to see.
type Run interface {
	ID() string
	Browser() browser.Browser
	Platform() platform.Platform
	StoryName() string
	Repetition() int
	OutDir() string
	// StartTime is shared by every probe of the run. It is zero until the
	// browser is up.
	StartTime() time.Time
	// ExtraFlags and ExtraJSFlags are applied to this run's browser launch.
	ExtraFlags() *browser.Flags
	ExtraJSFlags() *browser.Flags
	// Actions brackets fn with performance marks named after label.
	Actions(ctx context.Context, label string, fn func(ctx context.Context) error) error
	Metrics() *metrics.Collector
}

// Base provides the defaults for the optional parts of Probe.
type Base struct {
	ProbeName string
	Location  ResultLocation
	Policy    MergePolicy
}

func (b *Base) Name() string { return b.ProbeName }

func (b *Base) ResultLocation() ResultLocation {
	if b.Location == "" {
		return LocationLocal
	}
	return b.Location
}

func (b *Base) ProducesResult() bool { return b.Policy != MergeNone }

func (b *Base) ValidateEnv(env *Env) error                         { return nil }
func (b *Base) ValidateBrowser(env *Env, br browser.Browser) error { return nil }
func (b *Base) Attach(br browser.Browser) error                    { return nil }

func (b *Base) MergeRepetitions(ctx context.Context, g *Group) (*ProbeResult, error) {
	return Merge(ctx, b.Policy, b.ProbeName, g)
}

func (b *Base) MergeStories(ctx context.Context, g *Group) (*ProbeResult, error) {
	return Merge(ctx, b.Policy, b.ProbeName, g)
}

func (b *Base) MergeBrowsers(ctx context.Context, g *Group) (*ProbeResult, error) {
	return Merge(ctx, b.Policy, b.ProbeName, g)
}

// NopLifecycle can be embedded by lifecycles that only need some phases.
type NopLifecycle struct{}

func (NopLifecycle) Setup(ctx context.Context) error { return nil }
func (NopLifecycle) Start(ctx context.Context) error { return nil }
func (NopLifecycle) Stop(ctx context.Context) error  { return nil }
func (NopLifecycle) TearDown(ctx context.Context) (*ProbeResult, error) {
	return EmptyResult(), nil
}

// Env is what probes validate against before any run starts.
type Env struct {
	Repetitions int
	Stories     []string
	Browsers    []browser.Browser
	Host        *host.HostInfo
	Metrics     *metrics.Collector

	warnings []string
}

// Warn records a non fatal remark about the environment.
func (e *Env) Warn(probe, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.warnings = append(e.warnings, fmt.Sprintf("%s: %s", probe, msg))
	logging.GetLogger().WithFields(logrus.Fields{
		"probe": probe,
	}).Warn(msg)
}

func (e *Env) Warnings() []string { return e.warnings }
