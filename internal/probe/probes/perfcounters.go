package probes

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"crossbench/internal/browser"
	"crossbench/internal/logging"
	"crossbench/internal/probe"

	"github.com/elastic/go-perf"
	"github.com/sirupsen/logrus"
)

const PerfCountersName = "perf.counters"

var hardwareCounters = map[string]perf.HardwareCounter{
	"cycles":           perf.CPUCycles,
	"instructions":     perf.Instructions,
	"cache-references": perf.CacheReferences,
	"cache-misses":     perf.CacheMisses,
	"branches":         perf.BranchInstructions,
	"branch-misses":    perf.BranchMisses,
	"bus-cycles":       perf.BusCycles,
}

func counterNames() []string {
	names := make([]string, 0, len(hardwareCounters))
	for name := range hardwareCounters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func perfCountersParser() *probe.ConfigParser {
	return probe.NewConfigParser(PerfCountersName,
		probe.Option{Name: "events", Type: probe.TypeStringList,
			Default: []string{"cycles", "instructions", "cache-misses", "branch-misses"},
			Help:    "Hardware events to count, any of " + fmt.Sprint(counterNames()) + "."},
	)
}

type perfCountersProbe struct {
	probe.Base
	events []string
}

func newPerfCountersProbe(opts probe.Options) (probe.Probe, error) {
	events := opts.Strings("events")
	for _, e := range events {
		if _, ok := hardwareCounters[e]; !ok {
			return nil, &probe.ArgumentTypeError{Probe: PerfCountersName, Option: "events", Reason: "unknown event " + e}
		}
	}
	return &perfCountersProbe{
		Base:   probe.Base{ProbeName: PerfCountersName, Policy: probe.MergeJSON},
		events: events,
	}, nil
}

func (p *perfCountersProbe) ValidateBrowser(env *probe.Env, b browser.Browser) error {
	return requireLocalLinux(PerfCountersName, b)
}

func (p *perfCountersProbe) NewLifecycle(run probe.Run) probe.Lifecycle {
	return &perfCountersLifecycle{probe: p, run: run}
}

type perfCountersLifecycle struct {
	probe  *perfCountersProbe
	run    probe.Run
	events map[string]*perf.Event
	counts map[string]uint64
}

func (l *perfCountersLifecycle) Setup(ctx context.Context) error { return nil }

// Start opens the counters on the browser pid, including its children, and
// enables them.
func (l *perfCountersLifecycle) Start(ctx context.Context) error {
	pid := l.run.Browser().PID()
	if pid == 0 {
		return fmt.Errorf("browser %s has no pid to count", l.run.Browser().Name())
	}
	l.events = make(map[string]*perf.Event, len(l.probe.events))
	for _, name := range l.probe.events {
		attr := &perf.Attr{}
		hardwareCounters[name].Configure(attr)
		attr.Options.Disabled = true
		attr.Options.Inherit = true
		attr.CountFormat.Enabled = true
		attr.CountFormat.Running = true
		ev, err := perf.Open(attr, pid, perf.AnyCPU, nil)
		if err != nil {
			return fmt.Errorf("failed to open %s counter: %w", name, err)
		}
		l.events[name] = ev
	}
	for name, ev := range l.events {
		if err := ev.Enable(); err != nil {
			return fmt.Errorf("failed to enable %s counter: %w", name, err)
		}
	}
	return nil
}

func (l *perfCountersLifecycle) Stop(ctx context.Context) error {
	if l.events == nil {
		return nil
	}
	l.counts = make(map[string]uint64, len(l.events))
	for name, ev := range l.events {
		if err := ev.Disable(); err != nil {
			return fmt.Errorf("failed to disable %s counter: %w", name, err)
		}
		count, err := ev.ReadCount()
		if err != nil {
			return fmt.Errorf("failed to read %s counter: %w", name, err)
		}
		l.counts[name] = scaleCount(count.Value, int64(count.Enabled), int64(count.Running))
	}
	return nil
}

// scaleCount corrects for counter multiplexing.
func scaleCount(value uint64, enabled, running int64) uint64 {
	if running <= 0 || enabled <= 0 || running == enabled {
		return value
	}
	return uint64(float64(value) * float64(enabled) / float64(running))
}

func (l *perfCountersLifecycle) TearDown(ctx context.Context) (*probe.ProbeResult, error) {
	for name, ev := range l.events {
		if err := ev.Close(); err != nil {
			logging.ForProbe(PerfCountersName).WithFields(logrus.Fields{
				"event": name,
			}).WithError(err).Warn("Failed to close perf event")
		}
	}
	if l.counts == nil {
		return probe.EmptyResult(), nil
	}
	payload := make(map[string]uint64, len(l.counts))
	for name, v := range l.counts {
		payload[name] = v
	}
	return probe.WriteJSONResult(payload, filepath.Join(l.run.OutDir(), PerfCountersName+".json"))
}
