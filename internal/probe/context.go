package probe

import (
	"context"
	"time"

	"crossbench/internal/logging"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateReady State = iota
	StateStarting
	StateRunning
	StateSuccess
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateSuccess:
		return "SUCCESS"
	case StateFailure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Context drives one probe's Lifecycle through a single run:
//
//	READY -> STARTING -> RUNNING -> SUCCESS | FAILURE
//
// Any error in Setup, Start or Stop moves the context to FAILURE. TearDown
// is allowed from every state and runs the lifecycle's tear down once.
type Context struct {
	probe     Probe
	run       Run
	lifecycle Lifecycle
	log       *logrus.Entry

	state     State
	startTime time.Time
	stopTime  time.Time
	tornDown  bool
	result    *ProbeResult
	err       error
}

func GetContext(p Probe, run Run) *Context {
	return &Context{
		probe:     p,
		run:       run,
		lifecycle: p.NewLifecycle(run),
		log: logging.ForProbe(p.Name()).WithFields(logrus.Fields{
			"run": run.ID(),
		}),
		state: StateReady,
	}
}

func (c *Context) Probe() Probe         { return c.probe }
func (c *Context) State() State         { return c.state }
func (c *Context) StartTime() time.Time { return c.startTime }
func (c *Context) StopTime() time.Time  { return c.stopTime }
func (c *Context) Err() error           { return c.err }
func (c *Context) Result() *ProbeResult { return c.result }

// Duration is the time between Start and Stop, zero if either is missing.
func (c *Context) Duration() time.Duration {
	if c.startTime.IsZero() || c.stopTime.IsZero() {
		return 0
	}
	return c.stopTime.Sub(c.startTime)
}

func (c *Context) transition(s State) {
	c.log.WithFields(logrus.Fields{
		"from": c.state,
		"to":   s,
	}).Debug("Probe state transition")
	c.state = s
	c.run.Metrics().Transition(c.probe.Name(), s.String())
}

func (c *Context) fail(err error) error {
	if c.err == nil {
		c.err = err
	}
	c.transition(StateFailure)
	return err
}

func (c *Context) observe(phase string, since time.Time) {
	c.run.Metrics().ObservePhase(c.probe.Name(), phase, time.Since(since).Seconds())
}

func (c *Context) Setup(ctx context.Context) error {
	if c.state != StateReady {
		return &StateError{Probe: c.probe.Name(), Op: "setup", State: c.state}
	}
	defer c.observe("setup", time.Now())
	if err := c.lifecycle.Setup(ctx); err != nil {
		c.log.WithError(err).Error("Probe setup failed")
		return c.fail(err)
	}
	return nil
}

func (c *Context) Start(ctx context.Context) error {
	if c.state != StateReady {
		return &StateError{Probe: c.probe.Name(), Op: "start", State: c.state}
	}
	c.transition(StateStarting)
	c.startTime = time.Now()
	defer c.observe("start", c.startTime)
	if err := c.lifecycle.Start(ctx); err != nil {
		c.log.WithError(err).Error("Probe start failed")
		return c.fail(err)
	}
	c.transition(StateRunning)
	return nil
}

// Stop is legal from RUNNING and from FAILURE, so a context whose start
// failed can still release what it acquired.
func (c *Context) Stop(ctx context.Context) error {
	if c.state != StateRunning && c.state != StateFailure {
		return &StateError{Probe: c.probe.Name(), Op: "stop", State: c.state}
	}
	begin := time.Now()
	defer func() {
		c.stopTime = time.Now()
		c.observe("stop", begin)
	}()
	if err := c.lifecycle.Stop(ctx); err != nil {
		c.log.WithError(err).Error("Probe stop failed")
		return c.fail(err)
	}
	if c.state == StateRunning {
		c.transition(StateSuccess)
	}
	return nil
}

// TearDown returns the run's result for this probe. It never returns a nil
// result: failures yield a result flagged with the error.
func (c *Context) TearDown(ctx context.Context) (*ProbeResult, error) {
	if c.tornDown {
		return c.result, &StateError{Probe: c.probe.Name(), Op: "tear down", State: c.state}
	}
	c.tornDown = true
	defer c.observe("tear_down", time.Now())

	result, err := c.lifecycle.TearDown(ctx)
	if result == nil {
		result = EmptyResult()
	}
	if err != nil {
		c.log.WithError(err).Error("Probe tear down failed")
		if c.err == nil {
			c.err = err
		}
		if c.state != StateFailure {
			c.transition(StateFailure)
		}
	}
	if c.err != nil {
		result = result.WithError(c.err)
	}
	c.result = result
	return result, err
}
