package host

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"crossbench/internal/logging"

	"github.com/intel/goresctrl/pkg/rdt"
	"github.com/sirupsen/logrus"
)

// HostInfo describes the controller host a session runs on.
// It is detected once by the CLI and handed to probes through probe.Env.
type HostInfo struct {
	Hostname      string `json:"hostname"`
	OSInfo        string `json:"os_info"`
	KernelVersion string `json:"kernel_version"`

	CPUVendor    string `json:"cpu_vendor"`
	CPUModel     string `json:"cpu_model"`
	TotalThreads int    `json:"total_threads"`
	NumSockets   int    `json:"num_sockets"`

	L3CacheBytes int64 `json:"l3_cache_bytes"`

	RDT RDTInfo `json:"rdt"`
}

// RDTInfo reports what resctrl monitoring the kernel exposes.
type RDTInfo struct {
	MonitoringSupported bool                `json:"monitoring_supported"`
	MonitoringFeatures  map[string][]string `json:"monitoring_features,omitempty"`
	Classes             []string            `json:"classes,omitempty"`
}

// Detect gathers host information. RDT detection requires initializing the
// resctrl filesystem, which needs privileges, so it is opt-in.
func Detect(withRDT bool) (*HostInfo, error) {
	logger := logging.GetLogger()
	logger.Debug("Detecting host configuration")

	info := &HostInfo{}
	if err := info.initSystemInfo(); err != nil {
		return nil, fmt.Errorf("failed to initialize system info: %w", err)
	}

	info.TotalThreads = runtime.NumCPU()
	if f, err := os.Open("/proc/cpuinfo"); err == nil {
		info.parseCPUInfo(f)
		f.Close()
	}
	info.setCPUDefaults()

	if size, err := readL3CacheSize(); err == nil {
		info.L3CacheBytes = size
	} else {
		logger.WithError(err).Debug("L3 cache size unavailable")
	}

	if withRDT {
		if err := info.initRDTInfo(); err != nil {
			logger.WithError(err).Warn("Failed to initialize RDT info, RDT probes will be unavailable")
			info.RDT = RDTInfo{}
		}
	}

	logger.WithFields(logrus.Fields{
		"hostname":      info.Hostname,
		"cpu_model":     info.CPUModel,
		"threads":       info.TotalThreads,
		"rdt_supported": info.RDT.MonitoringSupported,
	}).Debug("Host configuration detected")

	return info, nil
}

func (hi *HostInfo) initSystemInfo() error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}
	hi.Hostname = hostname
	hi.OSInfo = runtime.GOOS + "/" + runtime.GOARCH

	if data, err := os.ReadFile("/proc/version"); err == nil {
		version := strings.Fields(string(data))
		if len(version) >= 3 {
			hi.KernelVersion = version[2]
		}
	}
	if hi.KernelVersion == "" {
		hi.KernelVersion = "unknown"
	}
	return nil
}

// parseCPUInfo reads /proc/cpuinfo formatted content.
func (hi *HostInfo) parseCPUInfo(r io.Reader) {
	physicalIDs := make(map[string]bool)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "vendor_id":
			if hi.CPUVendor == "" {
				hi.CPUVendor = value
			}
		case "model name":
			if hi.CPUModel == "" {
				hi.CPUModel = value
			}
		case "physical id":
			physicalIDs[value] = true
		}
	}
	hi.NumSockets = len(physicalIDs)
}

func (hi *HostInfo) setCPUDefaults() {
	if hi.CPUVendor == "" {
		hi.CPUVendor = "unknown"
	}
	if hi.CPUModel == "" {
		hi.CPUModel = "unknown"
	}
	if hi.NumSockets == 0 {
		hi.NumSockets = 1
	}
}

func readL3CacheSize() (int64, error) {
	cachePaths := []string{
		"/sys/devices/system/cpu/cpu0/cache/index3/size",
		"/sys/devices/system/cpu/cpu0/cache/index2/size",
	}
	for _, path := range cachePaths {
		if data, err := os.ReadFile(path); err == nil {
			if size, err := parseCacheSize(string(data)); err == nil {
				return size, nil
			}
		}
	}
	return 0, fmt.Errorf("could not determine L3 cache size")
}

// parseCacheSize parses sysfs sizes like "8192K", "32M" or "8388608".
func parseCacheSize(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cache size %q: %w", raw, err)
	}
	return n * multiplier, nil
}

func (hi *HostInfo) initRDTInfo() error {
	if err := rdt.Initialize(""); err != nil {
		return err
	}
	hi.RDT.MonitoringSupported = rdt.MonSupported()
	if !hi.RDT.MonitoringSupported {
		return nil
	}

	for _, class := range rdt.GetClasses() {
		hi.RDT.Classes = append(hi.RDT.Classes, class.Name())
	}

	hi.RDT.MonitoringFeatures = make(map[string][]string)
	for resource, features := range rdt.GetMonFeatures() {
		hi.RDT.MonitoringFeatures[string(resource)] = features
	}
	return nil
}
