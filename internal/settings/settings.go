// Package settings holds the runtime-tunable admission knobs, persisted
// to a JSON or YAML file next to the service.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings are optional runtime-tunable knobs. Zero values fall back to
// defaults on load.
type Settings struct {
	// Threshold is the concurrency gate limit.
	Threshold int64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	// BatchSize caps one admission cycle.
	BatchSize int64 `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	// AdmitIntervalMs is the admission cycle cadence.
	AdmitIntervalMs int `json:"admit_interval_ms,omitempty" yaml:"admit_interval_ms,omitempty"`
	// ReportIntervalMs is the status report cadence.
	ReportIntervalMs int `json:"report_interval_ms,omitempty" yaml:"report_interval_ms,omitempty"`
	// ReentryPolicy is keep, back or front.
	ReentryPolicy string `json:"reentry_policy,omitempty" yaml:"reentry_policy,omitempty"`
}

var mu sync.Mutex

const (
	defaultThreshold        = 100
	defaultBatchSize        = 10
	defaultAdmitIntervalMs  = 1000
	defaultReportIntervalMs = 30000
	defaultReentryPolicy    = "keep"
)

// applyDefaults fills zero-values with sane defaults.
func applyDefaults(s Settings) Settings {
	if s.Threshold == 0 {
		s.Threshold = defaultThreshold
	}
	if s.BatchSize == 0 {
		s.BatchSize = defaultBatchSize
	}
	if s.AdmitIntervalMs == 0 {
		s.AdmitIntervalMs = defaultAdmitIntervalMs
	}
	if s.ReportIntervalMs == 0 {
		s.ReportIntervalMs = defaultReportIntervalMs
	}
	if s.ReentryPolicy == "" {
		s.ReentryPolicy = defaultReentryPolicy
	}
	return s
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads settings from path; defaults apply if the file is missing
// or unreadable. The format follows the file extension.
func Load(path string) Settings {
	mu.Lock()
	defer mu.Unlock()
	if path == "" {
		return applyDefaults(Settings{})
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return applyDefaults(Settings{})
	}
	var s Settings
	if isYAML(path) {
		_ = yaml.Unmarshal(data, &s)
	} else {
		_ = json.Unmarshal(data, &s)
	}
	return applyDefaults(s)
}

// Save writes settings to path, creating parent directories.
func Save(path string, s Settings) error {
	mu.Lock()
	defer mu.Unlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(s)
	} else {
		data, err = json.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
