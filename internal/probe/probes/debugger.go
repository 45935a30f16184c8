package probes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"crossbench/internal/browser"
	"crossbench/internal/logging"
	"crossbench/internal/platform"
	"crossbench/internal/probe"
)

const DebuggerName = "debugger"

func debuggerParser() *probe.ConfigParser {
	return probe.NewConfigParser(DebuggerName,
		probe.Option{Name: "debugger", Type: probe.TypeEnum, Default: "gdb", Choices: []string{"gdb", "lldb"}},
		probe.Option{Name: "commands", Type: probe.TypeStringList,
			Help: "Debugger commands run after attaching, before continuing."},
	)
}

// debuggerProbe is a decorator: it attaches a debugger to the browser for
// the measured section and produces no result.
type debuggerProbe struct {
	probe.Base
	debugger string
	commands []string
}

func newDebuggerProbe(opts probe.Options) (probe.Probe, error) {
	return &debuggerProbe{
		Base:     probe.Base{ProbeName: DebuggerName, Policy: probe.MergeNone},
		debugger: opts.String("debugger"),
		commands: opts.Strings("commands"),
	}, nil
}

func (p *debuggerProbe) ValidateEnv(env *probe.Env) error {
	env.Warn(DebuggerName, "%s is attached to every run, timings are not representative", p.debugger)
	return nil
}

func (p *debuggerProbe) ValidateBrowser(env *probe.Env, b browser.Browser) error {
	plat := b.Platform()
	if plat.OS().IsWin() {
		return probe.NewIncompatibleBrowserError(DebuggerName, b.Name(), "%s is not available on windows", p.debugger)
	}
	res, err := plat.Sh(context.Background(), "which", p.debugger)
	if err != nil || res.ExitCode != 0 {
		return probe.NewValidationError(DebuggerName, "%s not found on %s", p.debugger, plat.Name())
	}
	return nil
}

func (p *debuggerProbe) args(pid int) []string {
	if p.debugger == "lldb" {
		args := []string{"lldb", "--batch", "-p", strconv.Itoa(pid)}
		for _, c := range p.commands {
			args = append(args, "-o", c)
		}
		return append(args, "-o", "continue")
	}
	args := []string{"gdb", "--batch", "-p", strconv.Itoa(pid)}
	for _, c := range p.commands {
		args = append(args, "-ex", c)
	}
	return append(args, "-ex", "continue")
}

func (p *debuggerProbe) NewLifecycle(run probe.Run) probe.Lifecycle {
	return &debuggerLifecycle{probe: p, run: run}
}

type debuggerLifecycle struct {
	probe.NopLifecycle
	probe *debuggerProbe
	run   probe.Run
	log   *os.File
	proc  platform.Process
}

func (l *debuggerLifecycle) Start(ctx context.Context) error {
	pid := l.run.Browser().PID()
	if pid == 0 {
		return fmt.Errorf("browser %s has no pid to attach to", l.run.Browser().Name())
	}
	if err := os.MkdirAll(l.run.OutDir(), 0o755); err != nil {
		return err
	}
	log, err := os.Create(filepath.Join(l.run.OutDir(), DebuggerName+".log"))
	if err != nil {
		return err
	}
	l.log = log
	proc, err := l.run.Platform().Popen(ctx, platform.PopenOptions{Stdout: log, Stderr: log}, l.probe.args(pid)...)
	if err != nil {
		return err
	}
	l.proc = proc
	logging.ForProbe(DebuggerName).WithField("pid", pid).Info("Debugger attached")
	return nil
}

func (l *debuggerLifecycle) Stop(ctx context.Context) error {
	err := stopProcess(ctx, DebuggerName, l.proc, 5*time.Second)
	if probe.IsTimeout(err) {
		logging.ForProbe(DebuggerName).WithError(err).Warn("Debugger did not detach in time")
		return nil
	}
	return err
}

func (l *debuggerLifecycle) TearDown(ctx context.Context) (*probe.ProbeResult, error) {
	if l.proc != nil && !l.proc.Exited() {
		_ = l.proc.Kill()
		_ = l.proc.Wait()
	}
	if l.log != nil {
		l.log.Close()
	}
	return probe.EmptyResult(), nil
}
