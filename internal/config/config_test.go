package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	waits := cfg.RetryWaits()
	if len(waits) != 2 || waits[0] != 120*time.Second || waits[1] != 240*time.Second {
		t.Errorf("retry waits: %v", waits)
	}
	if cfg.MessageWait() != 90*time.Second {
		t.Errorf("message wait: %v", cfg.MessageWait())
	}
	if cfg.ReportWait() != 60*time.Second {
		t.Errorf("report wait: %v", cfg.ReportWait())
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("parse generated default: %v", err)
	}
	if cfg.Hotline.Voice != "alice" {
		t.Errorf("voice: %s", cfg.Hotline.Voice)
	}
}

func TestValidateRejectsBadDurations(t *testing.T) {
	cfg := Default()
	cfg.Escalation.RetryWaits = []string{"soon"}
	if err := cfg.Validate(); err == nil {
		t.Error("bad retry wait accepted")
	}
	cfg = Default()
	cfg.Escalation.ReportWait = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty report wait accepted")
	}
	cfg = Default()
	cfg.Hotline.Prompt = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty prompt accepted")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing file: cfg=%v err=%v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "codeblue.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("load: cfg=%v err=%v", cfg, err)
	}
}
