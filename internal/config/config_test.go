package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected provider 'ollama', got %q", cfg.LLM.Provider)
	}
	if cfg.Advisor.ConfidenceThreshold != 0.6 {
		t.Errorf("expected confidence threshold 0.6, got %v", cfg.Advisor.ConfidenceThreshold)
	}
	if cfg.Advisor.HardCeiling.Std() != 8*time.Second {
		t.Errorf("expected hard ceiling 8s, got %v", cfg.Advisor.HardCeiling)
	}
	if !cfg.Flow.AdditionalQuestions.Enabled || cfg.Flow.AdditionalQuestions.Count != 2 {
		t.Errorf("expected additional questions enabled with count 2, got %+v", cfg.Flow.AdditionalQuestions)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
	if got := cfg.Profile(UseOverlap).Timeout.Std(); got != 10*time.Second {
		t.Errorf("expected overlap timeout 10s, got %v", got)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
llm:
  provider: openai
advisor:
  hard_ceiling: 5s
  min_turn_duration: 2
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", cfg.LLM.Provider)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Advisor.HardCeiling.Std() != 5*time.Second {
		t.Errorf("expected hard ceiling 5s, got %v", cfg.Advisor.HardCeiling)
	}
	if cfg.Advisor.MinTurnDuration.Std() != 2*time.Second {
		t.Errorf("expected integer seconds to decode, got %v", cfg.Advisor.MinTurnDuration)
	}
	// Defaults should still be set for unspecified fields
	if cfg.LLM.OllamaURL != "http://localhost:11434" {
		t.Errorf("expected default ollama_url, got %q", cfg.LLM.OllamaURL)
	}
	if cfg.Enrichment.CrossSession.MinAnalyzedSessions != 5 {
		t.Errorf("expected default cross-session threshold 5, got %d", cfg.Enrichment.CrossSession.MinAnalyzedSessions)
	}
}

func TestParseRejectsNewerVersion(t *testing.T) {
	if _, err := parse([]byte("version: 99\n")); err == nil {
		t.Error("expected error for unsupported config version")
	}
}

func TestParseRejectsBadThreshold(t *testing.T) {
	if _, err := parse([]byte("advisor:\n  confidence_threshold: 1.5\n")); err == nil {
		t.Error("expected error for out-of-range threshold")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.LLM.Profiles) == 0 {
		t.Error("expected profiles to be populated from file")
	}
}

func TestLoadTOMLConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
version = 1

[llm]
provider = "gemini"

[advisor]
hard_ceiling = "6s"

[flow.additional_questions]
enabled = true
count = 4
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load toml config: %v", err)
	}
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("expected provider 'gemini', got %q", cfg.LLM.Provider)
	}
	if cfg.Advisor.HardCeiling.Std() != 6*time.Second {
		t.Errorf("expected hard ceiling 6s, got %v", cfg.Advisor.HardCeiling)
	}
	if cfg.Flow.AdditionalQuestions.Count != 4 {
		t.Errorf("expected 4 additional questions, got %d", cfg.Flow.AdditionalQuestions.Count)
	}
	if cfg.Advisor.WordsPerMinute != 150 {
		t.Errorf("expected default words per minute, got %d", cfg.Advisor.WordsPerMinute)
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected custom data dir, got %q", cfg.GetDataDir())
	}
}

func TestHolderReplace(t *testing.T) {
	h := NewHolder(Default())
	first, rev := h.Current()
	if rev != 1 {
		t.Fatalf("expected revision 1, got %d", rev)
	}

	next := Default()
	next.Server.Port = 9100
	if got := h.Replace(next); got != 2 {
		t.Errorf("expected revision 2, got %d", got)
	}
	cur, _ := h.Current()
	if cur.Server.Port != 9100 {
		t.Errorf("expected replaced config, got port %d", cur.Server.Port)
	}
	if first.Server.Port != 8000 {
		t.Error("earlier snapshot must not change")
	}
}
