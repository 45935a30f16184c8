// Package browser holds the minimal browser surface probes need: a launch
// configuration, a process handle and an optional JavaScript bridge.
package browser

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"crossbench/internal/logging"
	"crossbench/internal/platform"

	"github.com/sirupsen/logrus"
)

type Browser interface {
	Name() string
	Platform() platform.Platform
	// Flags and JSFlags are the session wide launch configuration. Probes
	// mutate them in Attach.
	Flags() *Flags
	JSFlags() *Flags
	Start(ctx context.Context, opts LaunchOptions) error
	PID() int
	Quit(ctx context.Context) error
	PerformanceMark(ctx context.Context, label string) error
}

// JSEvaluator is implemented by browsers that can evaluate JavaScript.
type JSEvaluator interface {
	JS(ctx context.Context, script string) (string, error)
}

// LaunchOptions carries the per-run additions to the launch configuration.
type LaunchOptions struct {
	Flags   *Flags
	JSFlags *Flags
	Args    []string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Process launches a browser binary with its flags through a platform.
type Process struct {
	name        string
	binary      string
	plat        platform.Platform
	flags       *Flags
	jsFlags     *Flags
	args        []string
	quitTimeout time.Duration

	proc platform.Process
}

func NewProcess(name, binary string, plat platform.Platform, flags, jsFlags *Flags) *Process {
	if flags == nil {
		flags = NewFlags()
	}
	if jsFlags == nil {
		jsFlags = NewFlags()
	}
	return &Process{
		name:        name,
		binary:      binary,
		plat:        plat,
		flags:       flags,
		jsFlags:     jsFlags,
		quitTimeout: 10 * time.Second,
	}
}

func (b *Process) Name() string                { return b.name }
func (b *Process) Platform() platform.Platform { return b.plat }
func (b *Process) Flags() *Flags               { return b.flags }
func (b *Process) JSFlags() *Flags             { return b.jsFlags }

func (b *Process) SetQuitTimeout(d time.Duration) {
	if d > 0 {
		b.quitTimeout = d
	}
}

// SetArgs sets positional arguments passed on every launch, before the
// per-run ones.
func (b *Process) SetArgs(args []string) {
	b.args = append([]string(nil), args...)
}

// LaunchArgs returns the full command line for one launch.
func (b *Process) LaunchArgs(opts LaunchOptions) []string {
	flags := b.flags.Clone()
	flags.Update(opts.Flags)
	jsFlags := b.jsFlags.Clone()
	jsFlags.Update(opts.JSFlags)

	args := append([]string{b.binary}, flags.Args()...)
	if jsFlags.Len() > 0 {
		args = append(args, "--js-flags="+strings.Join(jsFlags.Args(), " "))
	}
	args = append(args, b.args...)
	return append(args, opts.Args...)
}

func (b *Process) Start(ctx context.Context, opts LaunchOptions) error {
	if b.proc != nil && !b.proc.Exited() {
		return fmt.Errorf("browser %s is already running with pid %d", b.name, b.proc.PID())
	}
	args := b.LaunchArgs(opts)
	proc, err := b.plat.Popen(ctx, platform.PopenOptions{Stdout: opts.Stdout, Stderr: opts.Stderr}, args...)
	if err != nil {
		return fmt.Errorf("failed to start browser %s: %w", b.name, err)
	}
	b.proc = proc
	logging.GetLogger().WithFields(logrus.Fields{
		"browser":  b.name,
		"platform": b.plat.Name(),
		"pid":      proc.PID(),
	}).Info("Browser started")
	return nil
}

// PID returns 0 when the browser is not running.
func (b *Process) PID() int {
	if b.proc == nil {
		return 0
	}
	return b.proc.PID()
}

func (b *Process) Quit(ctx context.Context) error {
	if b.proc == nil {
		return nil
	}
	proc := b.proc
	b.proc = nil
	if proc.Exited() {
		return nil
	}
	if err := proc.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate browser %s: %w", b.name, err)
	}
	if err := platform.WaitForExit(ctx, proc, b.quitTimeout); err != nil {
		logging.GetLogger().WithError(err).WithField("browser", b.name).Warn("Browser did not quit in time, killing it")
		return proc.Kill()
	}
	return nil
}

// PerformanceMark has no JavaScript bridge to talk to, so the mark only
// ends up in the log.
func (b *Process) PerformanceMark(ctx context.Context, label string) error {
	logging.GetLogger().WithFields(logrus.Fields{
		"browser": b.name,
		"mark":    label,
	}).Debug("Performance mark")
	return nil
}
