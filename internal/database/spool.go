package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crossbench/internal/config"
	"crossbench/internal/host"
	"crossbench/internal/runner"

	"github.com/klauspost/compress/gzip"
)

type SpoolArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	SessionID      string `json:"session_id"`
	SessionName    string `json:"session_name"`
	ConfigChecksum string `json:"config_checksum"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ConfigContent string `json:"config_content"`

	Host    *host.HostInfo  `json:"host,omitempty"`
	Session *runner.Session `json:"session"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("CROSSBENCH_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("spool artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	checksum := artifact.ConfigChecksum
	if checksum == "" {
		checksum = "nocsum"
	}
	if len(checksum) > 12 {
		checksum = checksum[:12]
	}
	name := fmt.Sprintf(
		"session_%s_%s_%s.json.gz",
		artifact.SessionID,
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		checksum,
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// ReadSpoolArtifact loads an artifact written by WriteSpoolArtifact.
func ReadSpoolArtifact(path string) (*SpoolArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open spool artifact %s: %w", path, err)
	}
	defer gz.Close()

	var artifact SpoolArtifact
	if err := json.NewDecoder(gz).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("failed to decode spool artifact %s: %w", path, err)
	}
	return &artifact, nil
}

// BuildSpoolArtifact constructs a spool artifact from a finished session.
func BuildSpoolArtifact(
	cfg *config.SessionConfig,
	configContent string,
	hostInfo *host.HostInfo,
	session *runner.Session,
) *SpoolArtifact {
	artifact := &SpoolArtifact{
		Version:       1,
		CreatedAt:     time.Now(),
		ConfigContent: configContent,
		Host:          hostInfo,
		Session:       session,
	}
	if cfg != nil {
		artifact.SessionName = cfg.Session.Name
		if cs, err := config.SessionChecksum(cfg); err == nil {
			artifact.ConfigChecksum = cs
		}
	}
	if session != nil {
		artifact.SessionID = session.ID
		artifact.StartTime = session.StartedAt
		artifact.EndTime = session.FinishedAt
	}
	return artifact
}
