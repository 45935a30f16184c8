package config

import (
	"time"
)

type SessionConfig struct {
	Session  SessionInfo     `yaml:"session"`
	Browsers []BrowserConfig `yaml:"browsers"`
	Stories  []StoryConfig   `yaml:"stories"`
	Probes   []ProbeConfig   `yaml:"probes"`
	Results  ResultsConfig   `yaml:"results"`

	// TracingPresets adds or replaces named category lists of the tracing
	// probe's preset option.
	TracingPresets map[string][]string `yaml:"tracing_presets,omitempty"`
}

type SessionInfo struct {
	Name          string        `yaml:"name"`
	Description   string        `yaml:"description"`
	OutDir        string        `yaml:"out_dir"`
	Repetitions   int           `yaml:"repetitions"`
	LogLevel      string        `yaml:"log_level"`
	ProbeLogLevel string        `yaml:"probe_log_level"`
	WaitTimeout   time.Duration `yaml:"wait_timeout"`
	DetectRDT     bool          `yaml:"detect_rdt"`
}

type BrowserConfig struct {
	Name     string         `yaml:"name"`
	Binary   string         `yaml:"binary"`
	Args     []string       `yaml:"args,omitempty"`
	Flags    []string       `yaml:"flags,omitempty"`
	JSFlags  []string       `yaml:"js_flags,omitempty"`
	Platform PlatformConfig `yaml:"platform"`
}

type PlatformConfig struct {
	// local, adb, ssh or docker. Empty means local.
	Type string `yaml:"type"`

	// adb
	Serial  string `yaml:"serial,omitempty"`
	ADBPath string `yaml:"adb_path,omitempty"`

	// ssh
	Host       string `yaml:"host,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	User       string `yaml:"user,omitempty"`
	KeyFile    string `yaml:"key_file,omitempty"`
	KnownHosts string `yaml:"known_hosts,omitempty"`

	// docker
	Container  string `yaml:"container,omitempty"`
	DockerHost string `yaml:"docker_host,omitempty"`
	TLSCA      string `yaml:"tls_ca,omitempty"`
	TLSCert    string `yaml:"tls_cert,omitempty"`
	TLSKey     string `yaml:"tls_key,omitempty"`
}

type StoryConfig struct {
	Name     string        `yaml:"name"`
	Type     string        `yaml:"type"`
	Duration time.Duration `yaml:"duration"`
	Command  string        `yaml:"command,omitempty"`
	URL      string        `yaml:"url,omitempty"`
}

// ProbeConfig names a probe and carries its raw options. The options are
// validated by the probe's own option parser, not here.
type ProbeConfig struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:",inline"`
}

type ResultsConfig struct {
	SpoolDir    string          `yaml:"spool_dir,omitempty"`
	MetricsFile string          `yaml:"metrics_file,omitempty"`
	InfluxDB    *InfluxDBConfig `yaml:"influxdb,omitempty"`
}

type InfluxDBConfig struct {
	Host   string `yaml:"host"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

const (
	PlatformLocal  = "local"
	PlatformADB    = "adb"
	PlatformSSH    = "ssh"
	PlatformDocker = "docker"
)

const (
	StoryIdle  = "idle"
	StoryShell = "shell"
	StoryPage  = "page"
)

func (c *SessionConfig) GetWaitTimeout() time.Duration {
	if c.Session.WaitTimeout <= 0 {
		return 10 * time.Second
	}
	return c.Session.WaitTimeout
}

func (c *SessionConfig) ProbeNames() []string {
	names := make([]string, 0, len(c.Probes))
	for _, p := range c.Probes {
		names = append(names, p.Name)
	}
	return names
}
