package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"crossbench/internal/logging"

	"gopkg.in/yaml.v3"
)

func LoadConfig(filepath string) (*SessionConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

func LoadConfigWithContent(filepath string) (*SessionConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)
	config, err := ParseConfig(originalContent)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}
	return config, originalContent, nil
}

// ParseConfig expands ${VAR} references, decodes and validates a session.
func ParseConfig(content string) (*SessionConfig, error) {
	expanded := expandEnvVars(content)

	var config SessionConfig
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to decode session config: %w", err)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func applyDefaults(config *SessionConfig) {
	if config.Session.OutDir == "" {
		config.Session.OutDir = "results"
	}
	if config.Session.Repetitions == 0 {
		config.Session.Repetitions = 1
	}
	if config.Session.LogLevel == "" {
		config.Session.LogLevel = "info"
	}
	for i := range config.Browsers {
		if config.Browsers[i].Platform.Type == "" {
			config.Browsers[i].Platform.Type = PlatformLocal
		}
	}
	for i := range config.Stories {
		if config.Stories[i].Type == "" {
			config.Stories[i].Type = StoryIdle
		}
	}
}

func validateConfig(config *SessionConfig) error {
	if config.Session.Name == "" {
		return fmt.Errorf("session name is required")
	}

	if config.Session.Repetitions < 1 {
		return fmt.Errorf("repetitions must be at least 1")
	}

	if len(config.Browsers) == 0 {
		return fmt.Errorf("at least one browser must be defined")
	}

	if len(config.Stories) == 0 {
		return fmt.Errorf("at least one story must be defined")
	}

	names := make(map[string]bool)
	for i, b := range config.Browsers {
		if b.Name == "" {
			return fmt.Errorf("browser %d: name is required", i)
		}
		if err := validatePathSegment(b.Name); err != nil {
			return fmt.Errorf("browser %q: %w", b.Name, err)
		}
		if names[b.Name] {
			return fmt.Errorf("browser %s: name is already used", b.Name)
		}
		names[b.Name] = true
		if b.Binary == "" {
			return fmt.Errorf("browser %s: binary is required", b.Name)
		}
		if err := validatePlatform(b.Platform); err != nil {
			return fmt.Errorf("browser %s: %w", b.Name, err)
		}
	}

	names = make(map[string]bool)
	for i, s := range config.Stories {
		if s.Name == "" {
			return fmt.Errorf("story %d: name is required", i)
		}
		if err := validatePathSegment(s.Name); err != nil {
			return fmt.Errorf("story %q: %w", s.Name, err)
		}
		if names[s.Name] {
			return fmt.Errorf("story %s: name is already used", s.Name)
		}
		names[s.Name] = true
		if s.Duration < 0 {
			return fmt.Errorf("story %s: duration must not be negative", s.Name)
		}
		switch s.Type {
		case StoryIdle:
		case StoryShell:
			if s.Command == "" {
				return fmt.Errorf("story %s: command is required for shell stories", s.Name)
			}
		case StoryPage:
			if s.URL == "" {
				return fmt.Errorf("story %s: url is required for page stories", s.Name)
			}
		default:
			return fmt.Errorf("story %s: unknown type %q", s.Name, s.Type)
		}
	}

	names = make(map[string]bool)
	for i, p := range config.Probes {
		if p.Name == "" {
			return fmt.Errorf("probe %d: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("probe %s: configured more than once", p.Name)
		}
		names[p.Name] = true
	}

	for name, categories := range config.TracingPresets {
		if name == "" {
			return fmt.Errorf("tracing preset: name is required")
		}
		if len(categories) == 0 {
			return fmt.Errorf("tracing preset %s: at least one category is required", name)
		}
	}

	if influx := config.Results.InfluxDB; influx != nil {
		if influx.Host == "" || influx.Token == "" || influx.Org == "" || influx.Bucket == "" {
			return fmt.Errorf("incomplete influxdb configuration")
		}
	}

	return nil
}

// validatePathSegment rejects names that would not stay a single directory
// below the session output dir.
func validatePathSegment(name string) error {
	if name == "." || name == ".." {
		return fmt.Errorf("name must not be %q", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("name must not contain a path separator")
	}
	return nil
}

func validatePlatform(p PlatformConfig) error {
	switch p.Type {
	case PlatformLocal:
	case PlatformADB:
		if p.Serial == "" {
			return fmt.Errorf("adb platform requires a serial")
		}
	case PlatformSSH:
		if p.Host == "" {
			return fmt.Errorf("ssh platform requires a host")
		}
		if p.KeyFile == "" {
			return fmt.Errorf("ssh platform requires a key_file")
		}
	case PlatformDocker:
		if p.Container == "" {
			return fmt.Errorf("docker platform requires a container")
		}
		tlsFiles := 0
		for _, f := range []string{p.TLSCA, p.TLSCert, p.TLSKey} {
			if f != "" {
				tlsFiles++
			}
		}
		if tlsFiles != 0 && tlsFiles != 3 {
			return fmt.Errorf("docker tls requires tls_ca, tls_cert and tls_key together")
		}
	default:
		return fmt.Errorf("unknown platform type %q", p.Type)
	}
	return nil
}
