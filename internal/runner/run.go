package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"crossbench/internal/browser"
	"crossbench/internal/logging"
	"crossbench/internal/metrics"
	"crossbench/internal/platform"
	"crossbench/internal/probe"
	"crossbench/internal/story"

	"github.com/sirupsen/logrus"
)

// Run is one execution of a story on a browser. It implements probe.Run
// and story.Run.
type Run struct {
	id         string
	browser    browser.Browser
	story      story.Story
	repetition int
	outDir     string
	metrics    *metrics.Collector

	startTime    time.Time
	extraFlags   *browser.Flags
	extraJSFlags *browser.Flags
	launchArgs   []string

	contexts []*probe.Context
	results  map[string]*probe.ProbeResult
	finished time.Time
	err      error
}

func newRun(sessionDir string, b browser.Browser, s story.Story, repetition int, m *metrics.Collector) *Run {
	return &Run{
		id:           fmt.Sprintf("%s/%s/rep%d", b.Name(), s.Name(), repetition),
		browser:      b,
		story:        s,
		repetition:   repetition,
		outDir:       filepath.Join(sessionDir, b.Name(), s.Name(), "rep"+strconv.Itoa(repetition)),
		metrics:      m,
		extraFlags:   browser.NewFlags(),
		extraJSFlags: browser.NewFlags(),
		results:      make(map[string]*probe.ProbeResult),
	}
}

func (r *Run) ID() string                   { return r.id }
func (r *Run) Browser() browser.Browser     { return r.browser }
func (r *Run) Platform() platform.Platform  { return r.browser.Platform() }
func (r *Run) Story() story.Story           { return r.story }
func (r *Run) StoryName() string            { return r.story.Name() }
func (r *Run) Repetition() int              { return r.repetition }
func (r *Run) OutDir() string               { return r.outDir }
func (r *Run) StartTime() time.Time         { return r.startTime }
func (r *Run) ExtraFlags() *browser.Flags   { return r.extraFlags }
func (r *Run) ExtraJSFlags() *browser.Flags { return r.extraJSFlags }
func (r *Run) Metrics() *metrics.Collector  { return r.metrics }
func (r *Run) AddLaunchArg(arg string)      { r.launchArgs = append(r.launchArgs, arg) }
func (r *Run) Err() error                   { return r.err }
func (r *Run) Contexts() []*probe.Context   { return r.contexts }

// SetStartTime fixes the start time shared by all probes of the run. It
// may only be set once.
func (r *Run) SetStartTime(t time.Time) error {
	if !r.startTime.IsZero() {
		return fmt.Errorf("run %s: start time already set to %s", r.id, r.startTime.Format(time.RFC3339Nano))
	}
	r.startTime = t
	return nil
}

// Result returns the probe's result for this run, nil if it has none.
func (r *Run) Result(probeName string) *probe.ProbeResult {
	return r.results[probeName]
}

func (r *Run) Duration() time.Duration {
	if r.startTime.IsZero() || r.finished.IsZero() {
		return 0
	}
	return r.finished.Sub(r.startTime)
}

func (r *Run) Actions(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	log := logging.GetLogger().WithFields(logrus.Fields{
		"run":    r.id,
		"action": label,
	})
	if err := r.browser.PerformanceMark(ctx, label+"-start"); err != nil {
		log.WithError(err).Debug("Failed to set performance mark")
	}
	start := time.Now()
	err := fn(ctx)
	if markErr := r.browser.PerformanceMark(ctx, label+"-end"); markErr != nil {
		log.WithError(markErr).Debug("Failed to set performance mark")
	}
	log.WithField("took", time.Since(start)).Debug("Actions finished")
	return err
}
