package probes

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"crossbench/internal/browser"
	"crossbench/internal/probe"

	"github.com/intel/goresctrl/pkg/rdt"
)

const ResctrlName = "resctrl"

func resctrlParser() *probe.ConfigParser {
	return probe.NewConfigParser(ResctrlName,
		probe.Option{Name: "class", Type: probe.TypeString, Default: rdt.RootClassName,
			Help: "RDT class the browser process is moved into."},
	)
}

type resctrlProbe struct {
	probe.Base
	class string
}

func newResctrlProbe(opts probe.Options) (probe.Probe, error) {
	return &resctrlProbe{
		Base:  probe.Base{ProbeName: ResctrlName, Policy: probe.MergeJSON},
		class: opts.String("class"),
	}, nil
}

func (p *resctrlProbe) ValidateEnv(env *probe.Env) error {
	if env.Host == nil || !env.Host.RDT.MonitoringSupported {
		return probe.NewValidationError(ResctrlName, "RDT monitoring is not available on this host")
	}
	return nil
}

func (p *resctrlProbe) ValidateBrowser(env *probe.Env, b browser.Browser) error {
	return requireLocalLinux(ResctrlName, b)
}

func (p *resctrlProbe) NewLifecycle(run probe.Run) probe.Lifecycle {
	return &resctrlLifecycle{probe: p, run: run}
}

type resctrlLifecycle struct {
	probe.NopLifecycle
	probe  *resctrlProbe
	run    probe.Run
	class  rdt.CtrlGroup
	before rdt.MonData
	after  *rdt.MonData
}

func (l *resctrlLifecycle) Start(ctx context.Context) error {
	pid := l.run.Browser().PID()
	if pid == 0 {
		return fmt.Errorf("browser %s has no pid to monitor", l.run.Browser().Name())
	}
	class, ok := rdt.GetClass(l.probe.class)
	if !ok {
		return fmt.Errorf("rdt class %q does not exist", l.probe.class)
	}
	if err := class.AddPids(strconv.Itoa(pid)); err != nil {
		return fmt.Errorf("failed to add pid %d to rdt class %s: %w", pid, l.probe.class, err)
	}
	l.class = class
	l.before = class.GetMonData()
	return nil
}

func (l *resctrlLifecycle) Stop(ctx context.Context) error {
	if l.class == nil {
		return nil
	}
	after := l.class.GetMonData()
	l.after = &after
	return nil
}

func (l *resctrlLifecycle) TearDown(ctx context.Context) (*probe.ProbeResult, error) {
	if l.after == nil {
		return probe.EmptyResult(), nil
	}
	payload := monDelta(l.before, *l.after)
	if len(payload) == 0 {
		return nil, &probe.MissingDataError{Probe: ResctrlName, Reason: "no L3 monitoring data"}
	}
	return probe.WriteJSONResult(payload, filepath.Join(l.run.OutDir(), ResctrlName+".json"))
}

// monDelta reports occupancy as read at stop and byte counters as the
// difference over the measured section, per cache id.
func monDelta(before, after rdt.MonData) map[string]map[string]uint64 {
	out := make(map[string]map[string]uint64, len(after.L3))
	for cacheID, leaf := range after.L3 {
		values := make(map[string]uint64, len(leaf))
		for name, v := range leaf {
			if name == "llc_occupancy" {
				values[name] = v
				continue
			}
			if prev, ok := before.L3[cacheID][name]; ok && v >= prev {
				values[name] = v - prev
			} else {
				values[name] = v
			}
		}
		out["cache"+strconv.FormatUint(cacheID, 10)] = values
	}
	return out
}
