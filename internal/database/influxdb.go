package database

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"crossbench/internal/config"
	"crossbench/internal/logging"
	"crossbench/internal/probe"
	"crossbench/internal/runner"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const (
	measurementRun    = "probe_run"
	measurementMetric = "probe_metric"
)

// pointWriter is the part of api.WriteAPIBlocking the exporter uses.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxExporter writes session summaries to InfluxDB: one probe_run point
// per run and probe and one probe_metric point per merged JSON metric of a
// repetitions group.
type InfluxExporter struct {
	client influxdb2.Client
	writer pointWriter
	bucket string
	org    string
}

func NewInfluxExporter(ctx context.Context, cfg config.InfluxDBConfig) (*InfluxExporter, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Token)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, err
	}
	if health.Status != "pass" {
		client.Close()
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": msg,
		}).Error("InfluxDB health check failed")
		return nil, fmt.Errorf("influxdb at %s is unhealthy: %s", cfg.Host, health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Bucket,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxExporter{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket: cfg.Bucket,
		org:    cfg.Org,
	}, nil
}

func (e *InfluxExporter) Export(ctx context.Context, session *runner.Session) error {
	points := BuildPoints(session)
	if len(points) == 0 {
		return nil
	}
	if err := e.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write %d points: %w", len(points), err)
	}
	logging.GetLogger().WithFields(logrus.Fields{
		"session": session.ID,
		"points":  len(points),
		"bucket":  e.bucket,
	}).Info("Exported session to InfluxDB")
	return nil
}

func (e *InfluxExporter) Close() {
	if e.client != nil {
		e.client.Close()
	}
}

// BuildPoints converts a session summary into InfluxDB points.
func BuildPoints(session *runner.Session) []*write.Point {
	if session == nil {
		return nil
	}
	var points []*write.Point

	for _, run := range session.Runs {
		ts := run.StartTime
		if ts.IsZero() {
			ts = session.StartedAt
		}
		for _, p := range run.Probes {
			fields := map[string]interface{}{
				"duration_ms": float64(p.Duration) / float64(time.Millisecond),
				"failed":      p.Error != "",
			}
			if p.Error != "" {
				fields["error"] = p.Error
			}
			if p.Result != nil {
				fields["files"] = len(p.Result.Files)
			}
			points = append(points, influxdb2.NewPoint(measurementRun,
				map[string]string{
					"session":    session.ID,
					"browser":    run.Browser,
					"story":      run.Story,
					"repetition": strconv.Itoa(run.Repetition),
					"probe":      p.Name,
					"state":      p.State,
				},
				fields,
				ts))
		}
	}

	for _, g := range session.Groups {
		if g.Level != probe.LevelRepetitions {
			continue
		}
		for _, name := range sortedKeys(g.Results) {
			res := g.Results[name]
			metrics, ok := res.JSON.(map[string]probe.Metric)
			if !ok {
				continue
			}
			for _, key := range sortedKeys(metrics) {
				m := metrics[key]
				points = append(points, influxdb2.NewPoint(measurementMetric,
					map[string]string{
						"session": session.ID,
						"group":   g.Name,
						"probe":   name,
						"metric":  key,
					},
					map[string]interface{}{
						"count":   m.Count,
						"average": m.Average,
						"min":     m.Min,
						"max":     m.Max,
						"stddev":  m.Stddev,
					},
					session.FinishedAt))
			}
		}
	}
	return points
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
