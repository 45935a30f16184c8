package runner

import (
	"time"

	"crossbench/internal/probe"
)

// Session summarizes one Execute call. It is what gets spooled and exported.
type Session struct {
	ID          string         `json:"id"`
	OutDir      string         `json:"out_dir"`
	Repetitions int            `json:"repetitions"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Warnings    []string       `json:"warnings,omitempty"`
	Dropped     []DroppedProbe `json:"dropped,omitempty"`
	Runs        []RunSummary   `json:"runs"`
	Groups      []GroupSummary `json:"groups"`
}

type DroppedProbe struct {
	Probe   string `json:"probe"`
	Browser string `json:"browser,omitempty"`
	Reason  string `json:"reason"`
}

type RunSummary struct {
	ID         string         `json:"id"`
	Browser    string         `json:"browser"`
	Story      string         `json:"story"`
	Repetition int            `json:"repetition"`
	OutDir     string         `json:"out_dir"`
	StartTime  time.Time      `json:"start_time"`
	Duration   time.Duration  `json:"duration_ns"`
	Error      string         `json:"error,omitempty"`
	Probes     []ProbeSummary `json:"probes"`
}

type ProbeSummary struct {
	Name     string             `json:"name"`
	State    string             `json:"state"`
	Duration time.Duration      `json:"duration_ns"`
	Error    string             `json:"error,omitempty"`
	Result   *probe.ProbeResult `json:"result,omitempty"`
}

type GroupSummary struct {
	Level   probe.Level                   `json:"level"`
	Name    string                        `json:"name"`
	Results map[string]*probe.ProbeResult `json:"results"`
}

// Failures counts failed runs.
func (s *Session) Failures() int {
	n := 0
	for _, r := range s.Runs {
		if r.Error != "" {
			n++
		}
	}
	return n
}

// Group returns the summary of the named group at level, nil if absent.
func (s *Session) Group(level probe.Level, name string) *GroupSummary {
	for i := range s.Groups {
		if s.Groups[i].Level == level && s.Groups[i].Name == name {
			return &s.Groups[i]
		}
	}
	return nil
}

func summarizeRun(run *Run) RunSummary {
	summary := RunSummary{
		ID:         run.ID(),
		Browser:    run.Browser().Name(),
		Story:      run.StoryName(),
		Repetition: run.Repetition(),
		OutDir:     run.OutDir(),
		StartTime:  run.StartTime(),
		Duration:   run.Duration(),
	}
	if run.Err() != nil {
		summary.Error = run.Err().Error()
	}
	for _, c := range run.Contexts() {
		ps := ProbeSummary{
			Name:     c.Probe().Name(),
			State:    c.State().String(),
			Duration: c.Duration(),
			Result:   c.Result(),
		}
		if c.Err() != nil {
			ps.Error = c.Err().Error()
		}
		summary.Probes = append(summary.Probes, ps)
	}
	return summary
}
