package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRecordsPerURL != 50 {
		t.Errorf("MaxRecordsPerURL = %d, want 50", cfg.MaxRecordsPerURL)
	}
	if cfg.PromptThreshold != 5 {
		t.Errorf("PromptThreshold = %d, want 5", cfg.PromptThreshold)
	}
	if !cfg.AutoPromptEnabled() {
		t.Error("auto prompt should be enabled by default")
	}
	if cfg.BridgeBind != "127.0.0.1" {
		t.Errorf("BridgeBind = %q, want loopback default", cfg.BridgeBind)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxRecordsPerURL != 50 || cfg.PromptThreshold != 5 {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	content := `{"max_records_per_url": 10, "disable_auto_prompt": true, "bridge_port": 9001}`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxRecordsPerURL != 10 {
		t.Errorf("MaxRecordsPerURL = %d, want 10", cfg.MaxRecordsPerURL)
	}
	if cfg.AutoPromptEnabled() {
		t.Error("disable_auto_prompt should turn the prompt off")
	}
	if cfg.BridgePort != 9001 {
		t.Errorf("BridgePort = %d, want 9001", cfg.BridgePort)
	}
	// Untouched scalar keeps its default
	if cfg.PromptThreshold != 5 {
		t.Errorf("PromptThreshold = %d, want default 5", cfg.PromptThreshold)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte("{nope"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(tmpDir); err == nil {
		t.Error("invalid JSON should fail Load")
	}
}

func TestMerge_Arrays(t *testing.T) {
	base := &Config{DisabledTools: []string{"field_apply", " field_scroll "}}
	overlay := &Config{DisabledTools: []string{"field_apply", "record_delete"}}

	result := Merge(base, overlay)
	want := []string{"field_apply", "field_scroll", "record_delete"}
	if len(result.DisabledTools) != len(want) {
		t.Fatalf("DisabledTools = %v, want %v", result.DisabledTools, want)
	}
	for i := range want {
		if result.DisabledTools[i] != want[i] {
			t.Errorf("DisabledTools[%d] = %q, want %q", i, result.DisabledTools[i], want[i])
		}
	}
}
