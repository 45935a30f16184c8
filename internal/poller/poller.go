// Package poller samples a shell command at a fixed rate and stores every
// sample in its own file.
package poller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"crossbench/internal/logging"
	"crossbench/internal/platform"
	"crossbench/internal/probe"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
)

const (
	MinInterval = 100 * time.Millisecond

	// Microsecond resolution keeps sample names unique at any legal interval.
	fileTimeFormat = "20060102_150405.000000"
)

type Poller struct {
	plat     platform.Platform
	args     []string
	interval time.Duration
	outDir   string
	log      *logrus.Entry

	// OnSample and OnOverrun are called from the polling goroutine.
	OnSample  func(path string)
	OnOverrun func(took time.Duration)

	mu      sync.Mutex
	files   []string
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// New parses command with shell quoting rules. Intervals below MinInterval
// are rejected with a probe.ValidationError.
func New(plat platform.Platform, command string, interval time.Duration, outDir string) (*Poller, error) {
	if interval < MinInterval {
		return nil, probe.NewValidationError("poller", "interval %s is below the minimum of %s", interval, MinInterval)
	}
	args, err := shellquote.Split(command)
	if err != nil {
		return nil, probe.NewValidationError("poller", "invalid command %q: %v", command, err)
	}
	if len(args) == 0 {
		return nil, probe.NewValidationError("poller", "empty command")
	}
	return &Poller{
		plat:     plat,
		args:     args,
		interval: interval,
		outDir:   outDir,
		log: logging.ForProbe("poller").WithFields(logrus.Fields{
			"cmd":      command,
			"interval": interval,
		}),
	}, nil
}

func (p *Poller) Interval() time.Duration { return p.interval }

// Start launches the sampling goroutine. The first sample is taken right
// away.
func (p *Poller) Start() error {
	if p.started {
		return fmt.Errorf("poller already started")
	}
	if err := os.MkdirAll(p.outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create poller output dir: %w", err)
	}
	p.started = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop()
	return nil
}

// Stop signals the goroutine and blocks until the in-flight sample is
// written. It is safe to call more than once or without Start.
func (p *Poller) Stop() {
	if !p.started {
		return
	}
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	<-p.done
}

// Files returns the written sample files in order.
func (p *Poller) Files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.files...)
}

func (p *Poller) Samples() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}

func (p *Poller) loop() {
	defer close(p.done)

	// time.Since on origin uses the monotonic clock reading.
	origin := time.Now()
	for {
		cycle := time.Now()
		p.sample()
		if took := time.Since(cycle); took > p.interval {
			p.log.WithField("took", took).Warn("Poll command took longer than the interval")
			if p.OnOverrun != nil {
				p.OnOverrun(took)
			}
		}

		// Sleep to the next tick of the fixed schedule, not interval after
		// this wake-up, so jitter does not accumulate.
		elapsed := time.Since(origin)
		wait := p.interval - elapsed%p.interval
		timer := time.NewTimer(wait)
		select {
		case <-p.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) sample() {
	now := time.Now()
	res, err := p.plat.Sh(context.Background(), p.args...)
	if err != nil {
		p.log.WithError(err).Warn("Poll command failed")
		return
	}
	if res.ExitCode != 0 {
		p.log.WithFields(logrus.Fields{
			"exit_code": res.ExitCode,
			"stderr":    string(res.Stderr),
		}).Warn("Poll command exited with non-zero code")
	}

	path := p.samplePath(now)
	if err := os.WriteFile(path, res.Stdout, 0o644); err != nil {
		p.log.WithError(err).Error("Failed to write poll sample")
		return
	}
	p.mu.Lock()
	p.files = append(p.files, path)
	p.mu.Unlock()
	if p.OnSample != nil {
		p.OnSample(path)
	}
}

func (p *Poller) samplePath(t time.Time) string {
	base := t.Format(fileTimeFormat)
	path := filepath.Join(p.outDir, base+".txt")
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(p.outDir, base+"_"+strconv.Itoa(i)+".txt")
	}
}
