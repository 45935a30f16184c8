// Package story provides the measured workloads a run executes.
package story

import (
	"context"
	"fmt"
	"time"

	"crossbench/internal/config"
	"crossbench/internal/logging"
	"crossbench/internal/platform"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
)

// Run is the part of a run a story needs.
type Run interface {
	Platform() platform.Platform
	// AddLaunchArg appends a positional argument to this run's browser
	// command line. It only has an effect before the browser starts.
	AddLaunchArg(arg string)
	Actions(ctx context.Context, label string, fn func(ctx context.Context) error) error
}

type Story interface {
	Name() string
	Duration() time.Duration
	// Setup runs before the browser starts.
	Setup(ctx context.Context, run Run) error
	Run(ctx context.Context, run Run) error
	TearDown(ctx context.Context, run Run) error
}

func FromConfig(cfg config.StoryConfig) (Story, error) {
	switch cfg.Type {
	case "", config.StoryIdle:
		return &Idle{name: cfg.Name, duration: cfg.Duration}, nil
	case config.StoryShell:
		args, err := shellquote.Split(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("story %s: invalid command: %w", cfg.Name, err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("story %s: empty command", cfg.Name)
		}
		return &Shell{name: cfg.Name, duration: cfg.Duration, args: args}, nil
	case config.StoryPage:
		return &Page{name: cfg.Name, duration: cfg.Duration, url: cfg.URL}, nil
	default:
		return nil, fmt.Errorf("story %s: unknown type %q", cfg.Name, cfg.Type)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Idle keeps the browser running without input for its duration.
type Idle struct {
	name     string
	duration time.Duration
}

func NewIdle(name string, duration time.Duration) *Idle {
	return &Idle{name: name, duration: duration}
}

func (s *Idle) Name() string                                { return s.name }
func (s *Idle) Duration() time.Duration                     { return s.duration }
func (s *Idle) Setup(ctx context.Context, run Run) error    { return nil }
func (s *Idle) TearDown(ctx context.Context, run Run) error { return nil }

func (s *Idle) Run(ctx context.Context, run Run) error {
	return run.Actions(ctx, "idle", func(ctx context.Context) error {
		return sleep(ctx, s.duration)
	})
}

// Shell runs a command on the browser platform while the browser is live.
type Shell struct {
	name     string
	duration time.Duration
	args     []string
}

func (s *Shell) Name() string                                { return s.name }
func (s *Shell) Duration() time.Duration                     { return s.duration }
func (s *Shell) Setup(ctx context.Context, run Run) error    { return nil }
func (s *Shell) TearDown(ctx context.Context, run Run) error { return nil }

func (s *Shell) Run(ctx context.Context, run Run) error {
	return run.Actions(ctx, "shell", func(ctx context.Context) error {
		start := time.Now()
		res, err := run.Platform().Sh(ctx, s.args...)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return &platform.CommandError{Args: s.args, Result: *res}
		}
		logging.GetLogger().WithFields(logrus.Fields{
			"story": s.name,
			"took":  time.Since(start),
		}).Debug("Shell story finished")
		// Pad short commands up to the story duration.
		return sleep(ctx, s.duration-time.Since(start))
	})
}

// Page opens a URL by passing it on the browser command line.
type Page struct {
	name     string
	duration time.Duration
	url      string
}

func (s *Page) Name() string                                { return s.name }
func (s *Page) Duration() time.Duration                     { return s.duration }
func (s *Page) URL() string                                 { return s.url }
func (s *Page) TearDown(ctx context.Context, run Run) error { return nil }

func (s *Page) Setup(ctx context.Context, run Run) error {
	run.AddLaunchArg(s.url)
	return nil
}

func (s *Page) Run(ctx context.Context, run Run) error {
	return run.Actions(ctx, "page", func(ctx context.Context) error {
		return sleep(ctx, s.duration)
	})
}
