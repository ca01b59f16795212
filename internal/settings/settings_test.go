package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyDefaultsSetsMissing(t *testing.T) {
	out := applyDefaults(Settings{})
	if out.Threshold != defaultThreshold || out.BatchSize != defaultBatchSize {
		t.Fatalf("expected numeric defaults: %+v", out)
	}
	if out.AdmitIntervalMs != defaultAdmitIntervalMs || out.ReportIntervalMs != defaultReportIntervalMs {
		t.Fatalf("expected cadence defaults: %+v", out)
	}
	if out.ReentryPolicy != "keep" {
		t.Fatalf("expected keep policy default: %+v", out)
	}
}

func TestApplyDefaultsKeepsProvided(t *testing.T) {
	out := applyDefaults(Settings{Threshold: 7, BatchSize: 3, AdmitIntervalMs: 250, ReentryPolicy: "back"})
	if out.Threshold != 7 || out.BatchSize != 3 || out.AdmitIntervalMs != 250 || out.ReentryPolicy != "back" {
		t.Fatalf("unexpected defaults override on provided fields: %+v", out)
	}
}

func TestSaveLoadJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	in := Settings{Threshold: 50, BatchSize: 5, ReentryPolicy: "front"}
	if err := Save(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out := Load(path)
	if out.Threshold != 50 || out.BatchSize != 5 || out.ReentryPolicy != "front" {
		t.Fatalf("round trip lost data: %+v", out)
	}
	// Unset fields came back defaulted.
	if out.AdmitIntervalMs != defaultAdmitIntervalMs {
		t.Fatalf("expected default cadence: %+v", out)
	}
}

func TestLoadYAMLByExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("threshold: 42\nreentry_policy: back\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := Load(path)
	if out.Threshold != 42 || out.ReentryPolicy != "back" {
		t.Fatalf("yaml load: %+v", out)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	out := Load(filepath.Join(t.TempDir(), "absent.json"))
	if out.Threshold != defaultThreshold {
		t.Fatalf("expected defaults: %+v", out)
	}
}
