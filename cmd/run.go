package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"crossbench/internal/browser"
	"crossbench/internal/config"
	"crossbench/internal/database"
	"crossbench/internal/host"
	"crossbench/internal/logging"
	"crossbench/internal/metrics"
	"crossbench/internal/platform"
	"crossbench/internal/probe"
	"crossbench/internal/probe/probes"
	"crossbench/internal/runner"
	"crossbench/internal/story"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

func validateSession(configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	if _, err := buildStories(cfg.Stories); err != nil {
		return err
	}
	if _, err := buildProbes(probes.NewRegistry(tracePresets(cfg)), cfg.Probes); err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Probe configuration is invalid")
		return err
	}
	logger.WithField("config_file", configFile).Info("Configuration is valid")
	return nil
}

func runSession(ctx context.Context, configFile string, logLevelFromFlag bool) error {
	logger := logging.GetLogger()

	cfg, content, err := config.LoadConfigWithContent(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !logLevelFromFlag {
		if err := logging.SetLogLevel(cfg.Session.LogLevel); err != nil {
			logger.WithField("log_level", cfg.Session.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			logging.SetLogLevel("info")
		}
	}
	if cfg.Session.ProbeLogLevel != "" {
		if err := logging.SetProbeLogLevel(cfg.Session.ProbeLogLevel); err != nil {
			logger.WithField("probe_log_level", cfg.Session.ProbeLogLevel).WithError(err).Warn("Invalid probe log level in config")
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	hostInfo, err := host.Detect(cfg.Session.DetectRDT)
	if err != nil {
		return fmt.Errorf("failed to detect host: %w", err)
	}

	stories, err := buildStories(cfg.Stories)
	if err != nil {
		return err
	}
	probeList, err := buildProbes(probes.NewRegistry(tracePresets(cfg)), cfg.Probes)
	if err != nil {
		return err
	}
	browsers, closers, err := buildBrowsers(ctx, cfg)
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close platform")
			}
		}
	}()
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	outDir := filepath.Join(cfg.Session.OutDir, fmt.Sprintf("%s_%s", time.Now().Format("20060102_150405"), sessionID[:8]))
	collector := metrics.New()

	logger.WithFields(logrus.Fields{
		"session":     sessionID,
		"name":        cfg.Session.Name,
		"out_dir":     outDir,
		"browsers":    len(browsers),
		"stories":     len(stories),
		"probes":      cfg.ProbeNames(),
		"repetitions": cfg.Session.Repetitions,
	}).Info("Starting session")

	r := runner.New(runner.Config{
		SessionID:   sessionID,
		OutDir:      outDir,
		Repetitions: cfg.Session.Repetitions,
		Browsers:    browsers,
		Stories:     stories,
		Probes:      probeList,
		Host:        hostInfo,
		Metrics:     collector,
	})
	session, err := r.Execute(ctx)
	if err != nil {
		return fmt.Errorf("session failed: %w", err)
	}

	if err := writeResults(ctx, cfg, content, hostInfo, session, collector); err != nil {
		return err
	}
	if n := session.Failures(); n > 0 {
		return fmt.Errorf("%d of %d runs failed", n, len(session.Runs))
	}
	return nil
}

// writeResults persists the session summary. Every sink is attempted even
// when an earlier one fails.
func writeResults(ctx context.Context, cfg *config.SessionConfig, content string, hostInfo *host.HostInfo, session *runner.Session, collector *metrics.Collector) error {
	logger := logging.GetLogger()
	var errs *multierror.Error

	artifact := database.BuildSpoolArtifact(cfg, content, hostInfo, session)
	path, err := database.WriteSpoolArtifact(cfg.Results.SpoolDir, artifact)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to write spool artifact: %w", err))
	} else {
		logger.WithField("path", path).Info("Wrote session spool artifact")
	}

	if cfg.Results.MetricsFile != "" {
		if err := collector.WriteTextfile(cfg.Results.MetricsFile); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}

	if influx := cfg.Results.InfluxDB; influx != nil {
		exporter, err := database.NewInfluxExporter(ctx, *influx)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to connect to influxdb: %w", err))
		} else {
			defer exporter.Close()
			if err := exporter.Export(ctx, session); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs.ErrorOrNil()
}

func buildStories(cfgs []config.StoryConfig) ([]story.Story, error) {
	stories := make([]story.Story, 0, len(cfgs))
	for _, c := range cfgs {
		s, err := story.FromConfig(c)
		if err != nil {
			return nil, err
		}
		stories = append(stories, s)
	}
	return stories, nil
}

// tracePresets returns the built-in presets extended by the session's own,
// or nil when the session defines none.
func tracePresets(cfg *config.SessionConfig) *probes.TracePresets {
	if len(cfg.TracingPresets) == 0 {
		return nil
	}
	return probes.DefaultTracePresets().With(cfg.TracingPresets)
}

// buildProbes instantiates the configured probes in configuration order.
// Option errors of all probes are reported together.
func buildProbes(reg *probe.Registry, cfgs []config.ProbeConfig) ([]probe.Probe, error) {
	var errs *multierror.Error
	list := make([]probe.Probe, 0, len(cfgs))
	for _, c := range cfgs {
		p, err := reg.Create(c.Name, c.Options)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("probe %s: %w", c.Name, err))
			continue
		}
		list = append(list, p)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return list, nil
}

// buildBrowsers connects each browser's platform. The returned closers
// must be closed even when an error is returned.
func buildBrowsers(ctx context.Context, cfg *config.SessionConfig) ([]browser.Browser, []io.Closer, error) {
	var closers []io.Closer
	browsers := make([]browser.Browser, 0, len(cfg.Browsers))
	for _, bc := range cfg.Browsers {
		plat, err := platform.New(ctx, bc.Platform)
		if err != nil {
			return nil, closers, fmt.Errorf("browser %s: %w", bc.Name, err)
		}
		if c, ok := plat.(io.Closer); ok {
			closers = append(closers, c)
		}
		flags, err := browser.ParseFlags(bc.Flags)
		if err != nil {
			return nil, closers, fmt.Errorf("browser %s: invalid flags: %w", bc.Name, err)
		}
		jsFlags, err := browser.ParseFlags(bc.JSFlags)
		if err != nil {
			return nil, closers, fmt.Errorf("browser %s: invalid js flags: %w", bc.Name, err)
		}
		b := browser.NewProcess(bc.Name, bc.Binary, plat, flags, jsFlags)
		b.SetArgs(bc.Args)
		b.SetQuitTimeout(cfg.GetWaitTimeout())
		browsers = append(browsers, b)
	}
	return browsers, closers, nil
}
