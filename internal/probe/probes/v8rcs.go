package probes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"crossbench/internal/browser"
	"crossbench/internal/probe"
)

const V8RCSName = "v8.rcs"

const rcsScript = "return %GetAndResetRuntimeCallStats();"

type v8RCSProbe struct {
	probe.Base
}

func newV8RCSProbe() *v8RCSProbe {
	return &v8RCSProbe{Base: probe.Base{ProbeName: V8RCSName, Policy: probe.MergeText}}
}

func (p *v8RCSProbe) ValidateBrowser(env *probe.Env, b browser.Browser) error {
	if _, ok := b.(browser.JSEvaluator); !ok {
		return probe.NewValidationError(V8RCSName, "browser %s cannot evaluate JavaScript", b.Name())
	}
	return nil
}

func (p *v8RCSProbe) Attach(b browser.Browser) error {
	b.JSFlags().Enable("--runtime-call-stats")
	b.JSFlags().Enable("--allow-natives-syntax")
	return nil
}

func (p *v8RCSProbe) NewLifecycle(run probe.Run) probe.Lifecycle {
	return &v8RCSLifecycle{run: run}
}

type v8RCSLifecycle struct {
	probe.NopLifecycle
	run     probe.Run
	stopped bool
	table   string
}

// Stop reads the table while the browser is still alive.
func (l *v8RCSLifecycle) Stop(ctx context.Context) error {
	l.stopped = true
	ev, ok := l.run.Browser().(browser.JSEvaluator)
	if !ok {
		return fmt.Errorf("browser %s cannot evaluate JavaScript", l.run.Browser().Name())
	}
	table, err := ev.JS(ctx, rcsScript)
	if err != nil {
		return fmt.Errorf("failed to read runtime call stats: %w", err)
	}
	l.table = table
	return nil
}

func (l *v8RCSLifecycle) TearDown(ctx context.Context) (*probe.ProbeResult, error) {
	if !l.stopped {
		return probe.EmptyResult(), nil
	}
	if strings.TrimSpace(l.table) == "" {
		return nil, &probe.MissingDataError{Probe: V8RCSName, Reason: "runtime call stats table is empty"}
	}
	out := filepath.Join(l.run.OutDir(), V8RCSName+".txt")
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(out, []byte(l.table), 0o644); err != nil {
		return nil, err
	}
	return probe.LocalResult(out), nil
}
