package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type sessionChecksumPayload struct {
	Repetitions int             `json:"repetitions"`
	Browsers    []BrowserConfig `json:"browsers"`
	Stories     []StoryConfig   `json:"stories"`
	Probes      []string        `json:"probes"`
}

// SessionChecksum returns a short, stable checksum that identifies what a
// session measures: browsers, stories, repetitions and the attached probes.
// Probe option values and output locations do not affect it.
//
// It computes MD5 over a canonical JSON representation and returns the first 6 hex
// characters (equivalent to `md5sum | cut -c1-6`).
func SessionChecksum(cfg *SessionConfig) (string, error) {
	if cfg == nil {
		return "", nil
	}

	probes := cfg.ProbeNames()
	sort.Strings(probes)

	payload := sessionChecksumPayload{
		Repetitions: cfg.Session.Repetitions,
		Browsers:    cfg.Browsers,
		Stories:     cfg.Stories,
		Probes:      probes,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
