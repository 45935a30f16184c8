// Package runner drives a benchmark session: it validates and attaches the
// probes, runs every story on every browser for each repetition and merges
// the probe results up the repetitions, stories and browsers groups.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crossbench/internal/browser"
	"crossbench/internal/host"
	"crossbench/internal/logging"
	"crossbench/internal/metrics"
	"crossbench/internal/probe"
	"crossbench/internal/story"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

type Config struct {
	SessionID   string
	OutDir      string
	Repetitions int
	Browsers    []browser.Browser
	Stories     []story.Story
	Probes      []probe.Probe
	Host        *host.HostInfo
	Metrics     *metrics.Collector
}

type Runner struct {
	cfg    Config
	logger *logrus.Logger

	// probes per browser name, in configuration order
	attached map[string][]probe.Probe
	env      *probe.Env
	dropped  []DroppedProbe
}

func New(cfg Config) *Runner {
	if cfg.Repetitions < 1 {
		cfg.Repetitions = 1
	}
	return &Runner{
		cfg:      cfg,
		logger:   logging.GetLogger(),
		attached: make(map[string][]probe.Probe),
	}
}

// Execute runs the whole session. Probe failures are recorded in the
// returned session; the error is only set when the session could not run.
func (r *Runner) Execute(ctx context.Context) (*Session, error) {
	session := &Session{
		ID:          r.cfg.SessionID,
		OutDir:      r.cfg.OutDir,
		Repetitions: r.cfg.Repetitions,
		StartedAt:   time.Now(),
	}
	if err := os.MkdirAll(r.cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	if err := r.validate(); err != nil {
		return nil, err
	}
	session.Warnings = r.env.Warnings()
	session.Dropped = r.dropped

	// runs[browser][story][repetition]
	runs := make([][][]*Run, len(r.cfg.Browsers))
	for bi, b := range r.cfg.Browsers {
		runs[bi] = make([][]*Run, len(r.cfg.Stories))
		for si, s := range r.cfg.Stories {
			for rep := 0; rep < r.cfg.Repetitions; rep++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				run := r.runOnce(ctx, b, s, rep)
				runs[bi][si] = append(runs[bi][si], run)
				session.Runs = append(session.Runs, summarizeRun(run))
			}
		}
	}

	session.Groups = r.merge(ctx, runs)
	session.FinishedAt = time.Now()
	r.logger.WithFields(logrus.Fields{
		"session":  session.ID,
		"runs":     len(session.Runs),
		"failures": session.Failures(),
		"took":     session.FinishedAt.Sub(session.StartedAt),
	}).Info("Session finished")
	return session, nil
}

// validate drops probes that do not fit the environment or a browser and
// attaches the remaining ones.
func (r *Runner) validate() error {
	r.env = &probe.Env{
		Repetitions: r.cfg.Repetitions,
		Browsers:    r.cfg.Browsers,
		Host:        r.cfg.Host,
		Metrics:     r.cfg.Metrics,
	}
	for _, s := range r.cfg.Stories {
		r.env.Stories = append(r.env.Stories, s.Name())
	}

	var valid []probe.Probe
	for _, p := range r.cfg.Probes {
		if err := p.ValidateEnv(r.env); err != nil {
			if !probe.IsValidation(err) {
				return fmt.Errorf("probe %s: %w", p.Name(), err)
			}
			r.drop(p, "", "env", err)
			continue
		}
		valid = append(valid, p)
	}

	for _, b := range r.cfg.Browsers {
		for _, p := range valid {
			if err := p.ValidateBrowser(r.env, b); err != nil {
				if !probe.IsValidation(err) {
					return fmt.Errorf("probe %s on browser %s: %w", p.Name(), b.Name(), err)
				}
				r.drop(p, b.Name(), "browser", err)
				continue
			}
			if err := p.Attach(b); err != nil {
				if !probe.IsValidation(err) {
					return fmt.Errorf("failed to attach probe %s to browser %s: %w", p.Name(), b.Name(), err)
				}
				r.drop(p, b.Name(), "attach", err)
				continue
			}
			r.attached[b.Name()] = append(r.attached[b.Name()], p)
		}
	}
	return nil
}

func (r *Runner) drop(p probe.Probe, browserName, stage string, err error) {
	r.logger.WithFields(logrus.Fields{
		"probe":   p.Name(),
		"browser": browserName,
		"stage":   stage,
	}).WithError(err).Warn("Dropping probe after failed validation")
	r.cfg.Metrics.ProbeDropped(p.Name(), stage)
	r.dropped = append(r.dropped, DroppedProbe{Probe: p.Name(), Browser: browserName, Reason: err.Error()})
}

// runOnce executes one story repetition. Every context created here is torn
// down exactly once, whatever failed before.
func (r *Runner) runOnce(ctx context.Context, b browser.Browser, s story.Story, rep int) *Run {
	run := newRun(r.cfg.OutDir, b, s, rep, r.cfg.Metrics)
	log := r.logger.WithField("run", run.ID())
	log.Info("Starting run")

	var errs *multierror.Error
	defer func() {
		run.finished = time.Now()
		run.err = errs.ErrorOrNil()
		outcome := "success"
		if run.err != nil {
			outcome = "failure"
			log.WithError(run.err).Error("Run failed")
		} else {
			log.WithField("took", run.Duration()).Info("Run finished")
		}
		r.cfg.Metrics.RunFinished(outcome)
	}()

	if err := os.MkdirAll(run.OutDir(), 0o755); err != nil {
		errs = multierror.Append(errs, err)
		return run
	}
	if err := s.Setup(ctx, run); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("story setup: %w", err))
		return run
	}
	defer func() {
		if err := s.TearDown(ctx, run); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("story tear down: %w", err))
		}
	}()

	for _, p := range r.attached[b.Name()] {
		run.contexts = append(run.contexts, probe.GetContext(p, run))
	}
	defer func() {
		if err := r.tearDown(ctx, run); err != nil {
			errs = multierror.Append(errs, err)
		}
	}()

	if err := r.measure(ctx, run); err != nil {
		errs = multierror.Append(errs, err)
	}
	return run
}

// measure covers probe setup, browser launch, the measured section and
// the probe stops. It returns once the browser has quit.
func (r *Runner) measure(ctx context.Context, run *Run) (err error) {
	var errs *multierror.Error
	defer func() { err = errs.ErrorOrNil() }()

	for _, c := range run.contexts {
		if err := c.Setup(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("probe %s setup: %w", c.Probe().Name(), err))
		}
	}
	if errs != nil {
		return
	}

	b := run.Browser()
	launch := browser.LaunchOptions{
		Flags:   run.ExtraFlags(),
		JSFlags: run.ExtraJSFlags(),
		Args:    run.launchArgs,
	}
	if startErr := b.Start(ctx, launch); startErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("browser start: %w", startErr))
		return
	}
	defer func() {
		if err := b.Quit(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("browser quit: %w", err))
		}
	}()

	if setErr := run.SetStartTime(time.Now()); setErr != nil {
		errs = multierror.Append(errs, setErr)
		return
	}

	// A failed start aborts the measured section; the contexts started
	// so far, and the failed one, are still stopped.
	var startErr error
	for _, c := range run.contexts {
		if err := c.Start(ctx); err != nil {
			startErr = fmt.Errorf("probe %s start: %w", c.Probe().Name(), err)
			break
		}
	}
	if startErr != nil {
		errs = multierror.Append(errs, startErr)
	} else if err := run.Story().Run(ctx, run); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("story run: %w", err))
	}

	if err := stopContexts(ctx, run); err != nil {
		errs = multierror.Append(errs, err)
	}
	return
}

// stopContexts stops in reverse attachment order. Contexts that never
// started are skipped.
func stopContexts(ctx context.Context, run *Run) error {
	var errs *multierror.Error
	for i := len(run.contexts) - 1; i >= 0; i-- {
		c := run.contexts[i]
		if c.State() != probe.StateRunning && c.State() != probe.StateFailure {
			continue
		}
		if err := c.Stop(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("probe %s stop: %w", c.Probe().Name(), err))
		}
	}
	return errs.ErrorOrNil()
}

func (r *Runner) tearDown(ctx context.Context, run *Run) error {
	var errs *multierror.Error
	for _, c := range run.contexts {
		p := c.Probe()
		res, err := c.TearDown(ctx)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("probe %s tear down: %w", p.Name(), err))
		}
		if !p.ProducesResult() {
			continue
		}
		if res.Kind == probe.KindBrowser {
			pulled, pullErr := res.Pull(ctx, run.Platform(), filepath.Join(run.OutDir(), p.Name()))
			if pullErr != nil {
				errs = multierror.Append(errs, pullErr)
				res = probe.EmptyResult().WithError(pullErr)
			} else {
				res = pulled
			}
		}
		run.results[p.Name()] = res
	}
	return errs.ErrorOrNil()
}

// merge folds the run results into the repetitions, stories and browsers
// groups. Merge failures flag the group's slot and do not stop the others.
func (r *Runner) merge(ctx context.Context, runs [][][]*Run) []GroupSummary {
	var groups []GroupSummary
	storyResults := make([]map[string]*probe.ProbeResult, len(r.cfg.Browsers))

	for bi, b := range r.cfg.Browsers {
		probes := r.attached[b.Name()]
		repResults := make([]map[string]*probe.ProbeResult, len(r.cfg.Stories))
		for si, s := range r.cfg.Stories {
			summary := GroupSummary{Level: probe.LevelRepetitions, Name: b.Name() + "/" + s.Name(), Results: map[string]*probe.ProbeResult{}}
			for _, p := range probes {
				if !p.ProducesResult() {
					continue
				}
				g := &probe.Group{
					Level:   probe.LevelRepetitions,
					Name:    summary.Name,
					OutDir:  filepath.Join(r.cfg.OutDir, b.Name(), s.Name()),
					Metrics: r.cfg.Metrics,
				}
				for _, run := range runs[bi][si] {
					g.Children = append(g.Children, probe.Child{Label: fmt.Sprintf("rep%d", run.Repetition()), Result: run.Result(p.Name())})
				}
				summary.Results[p.Name()] = r.mergeGroup(ctx, p, g, p.MergeRepetitions)
			}
			repResults[si] = summary.Results
			groups = append(groups, summary)
		}

		summary := GroupSummary{Level: probe.LevelStories, Name: b.Name(), Results: map[string]*probe.ProbeResult{}}
		for _, p := range probes {
			if !p.ProducesResult() {
				continue
			}
			g := &probe.Group{
				Level:   probe.LevelStories,
				Name:    b.Name(),
				OutDir:  filepath.Join(r.cfg.OutDir, b.Name()),
				Metrics: r.cfg.Metrics,
			}
			for si, s := range r.cfg.Stories {
				g.Children = append(g.Children, probe.Child{Label: s.Name(), Result: repResults[si][p.Name()]})
			}
			summary.Results[p.Name()] = r.mergeGroup(ctx, p, g, p.MergeStories)
		}
		storyResults[bi] = summary.Results
		groups = append(groups, summary)
	}

	summary := GroupSummary{Level: probe.LevelBrowsers, Name: "session", Results: map[string]*probe.ProbeResult{}}
	for _, p := range r.cfg.Probes {
		if !p.ProducesResult() {
			continue
		}
		g := &probe.Group{
			Level:   probe.LevelBrowsers,
			Name:    "session",
			OutDir:  r.cfg.OutDir,
			Metrics: r.cfg.Metrics,
		}
		for bi, b := range r.cfg.Browsers {
			if res, ok := storyResults[bi][p.Name()]; ok {
				g.Children = append(g.Children, probe.Child{Label: b.Name(), Result: res})
			}
		}
		if len(g.Children) == 0 {
			continue
		}
		summary.Results[p.Name()] = r.mergeGroup(ctx, p, g, p.MergeBrowsers)
	}
	groups = append(groups, summary)
	return groups
}

type mergeFunc func(ctx context.Context, g *probe.Group) (*probe.ProbeResult, error)

func (r *Runner) mergeGroup(ctx context.Context, p probe.Probe, g *probe.Group, fn mergeFunc) *probe.ProbeResult {
	res, err := fn(ctx, g)
	if err == nil && res == nil {
		err = errors.New("merge returned no result")
	}
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"probe": p.Name(),
			"level": g.Level,
			"group": g.Name,
		}).WithError(err).Error("Failed to merge probe results")
		return probe.EmptyResult().WithError(err)
	}
	return res
}
