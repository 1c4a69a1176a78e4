package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// SchemaVersion is the config layout this binary understands.
const SchemaVersion = 1

type Config struct {
	Version    int        `yaml:"version" toml:"version"`
	LLM        LLM        `yaml:"llm" toml:"llm"`
	Advisor    Advisor    `yaml:"advisor" toml:"advisor"`
	Flow       Flow       `yaml:"flow" toml:"flow"`
	Transcript Transcript `yaml:"transcript" toml:"transcript"`
	Enrichment Enrichment `yaml:"enrichment" toml:"enrichment"`
	Overlap    Overlap    `yaml:"overlap" toml:"overlap"`
	Limits     Limits     `yaml:"limits" toml:"limits"`
	Output     Output     `yaml:"output" toml:"output"`
	Server     Server     `yaml:"server" toml:"server"`
	Logging    Logging    `yaml:"logging" toml:"logging"`
}

type LLM struct {
	Provider       string             `yaml:"provider" toml:"provider"`
	OllamaURL      string             `yaml:"ollama_url" toml:"ollama_url"`
	APIKeyEnv      string             `yaml:"api_key_env" toml:"api_key_env"`
	GeminiKeyEnv   string             `yaml:"gemini_key_env" toml:"gemini_key_env"`
	EmbeddingModel string             `yaml:"embedding_model" toml:"embedding_model"`
	Profiles       map[string]Profile `yaml:"profiles" toml:"profiles"`
}

// Profile is the model choice and knobs for one use case.
type Profile struct {
	Model           string   `yaml:"model" toml:"model"`
	ReasoningEffort string   `yaml:"reasoning_effort" toml:"reasoning_effort"`
	Verbosity       string   `yaml:"verbosity" toml:"verbosity"`
	MaxTokens       int      `yaml:"max_tokens" toml:"max_tokens"`
	Timeout         Duration `yaml:"timeout" toml:"timeout"`
}

// Use cases with their own profile.
const (
	UseInterviewer         = "interviewer"
	UseAdvisor             = "advisor"
	UseOverlap             = "overlap"
	UseSummary             = "summary"
	UseRespondent          = "respondent"
	UseAdditionalQuestions = "additional_questions"
)

type Advisor struct {
	ConfidenceThreshold float64  `yaml:"confidence_threshold" toml:"confidence_threshold"`
	WordsPerMinute      int      `yaml:"words_per_minute" toml:"words_per_minute"`
	MinTurnDuration     Duration `yaml:"min_turn_duration" toml:"min_turn_duration"`
	HardCeiling         Duration `yaml:"hard_ceiling" toml:"hard_ceiling"`
	CallTimeout         Duration `yaml:"call_timeout" toml:"call_timeout"`
}

type Flow struct {
	DefaultFollowUps    int                 `yaml:"default_follow_ups" toml:"default_follow_ups"`
	MaxFollowUps        int                 `yaml:"max_follow_ups" toml:"max_follow_ups"`
	AdditionalQuestions AdditionalQuestions `yaml:"additional_questions" toml:"additional_questions"`
}

type AdditionalQuestions struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	Count   int  `yaml:"count" toml:"count"`
}

type Transcript struct {
	WorkingWindow int `yaml:"working_window" toml:"working_window"`
}

type Enrichment struct {
	CrossSession CrossSession `yaml:"cross_session" toml:"cross_session"`
	Hypotheses   Hypotheses   `yaml:"hypotheses" toml:"hypotheses"`
	Additional   Additional   `yaml:"additional" toml:"additional"`
}

type CrossSession struct {
	MinAnalyzedSessions int     `yaml:"min_analyzed_sessions" toml:"min_analyzed_sessions"`
	ThemesPerQuestion   int     `yaml:"themes_per_question" toml:"themes_per_question"`
	EmergentThemes      int     `yaml:"emergent_themes" toml:"emergent_themes"`
	MinResponses        int     `yaml:"min_responses" toml:"min_responses"`
	QualityThreshold    float64 `yaml:"quality_threshold" toml:"quality_threshold"`
	MinFlagCount        int     `yaml:"min_flag_count" toml:"min_flag_count"`
	TopFlags            int     `yaml:"top_flags" toml:"top_flags"`
}

type Hypotheses struct {
	MinProjectSessions  int      `yaml:"min_project_sessions" toml:"min_project_sessions"`
	MaxTextLength       int      `yaml:"max_text_length" toml:"max_text_length"`
	MaxCount            int      `yaml:"max_count" toml:"max_count"`
	RecommendationTypes []string `yaml:"recommendation_types" toml:"recommendation_types"`
}

type Additional struct {
	MinCompletedSessions int `yaml:"min_completed_sessions" toml:"min_completed_sessions"`
	MaxSessions          int `yaml:"max_sessions" toml:"max_sessions"`
}

type Overlap struct {
	Timeout Duration `yaml:"timeout" toml:"timeout"`
}

type Limits struct {
	QuestionWallClock Duration `yaml:"question_wall_clock" toml:"question_wall_clock"`
	SessionWallClock  Duration `yaml:"session_wall_clock" toml:"session_wall_clock"`
}

type Output struct {
	DataDir string `yaml:"data_dir" toml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port" toml:"port"`
}

type Logging struct {
	Level string `yaml:"level" toml:"level"`
}

// ConfigDir returns the XDG config directory for parley.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "parley")
}

// DataDir returns the XDG data directory for parley.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "parley")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/parley/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'parley init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config file. Files ending in .toml are decoded as
// TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return parseTOML(data)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: SchemaVersion,
		LLM: LLM{
			Provider:       "ollama",
			OllamaURL:      "http://localhost:11434",
			APIKeyEnv:      "OPENAI_API_KEY",
			GeminiKeyEnv:   "GEMINI_API_KEY",
			EmbeddingModel: "nomic-embed-text",
			Profiles: map[string]Profile{
				UseInterviewer:         {Model: "qwen2.5:7b", ReasoningEffort: "low", Verbosity: "medium", MaxTokens: 400, Timeout: Duration(30 * time.Second)},
				UseAdvisor:             {Model: "qwen2.5:7b", ReasoningEffort: "minimal", Verbosity: "low", MaxTokens: 300, Timeout: Duration(30 * time.Second)},
				UseOverlap:             {Model: "qwen2.5:7b", ReasoningEffort: "minimal", Verbosity: "low", MaxTokens: 300, Timeout: Duration(10 * time.Second)},
				UseSummary:             {Model: "qwen2.5:7b", ReasoningEffort: "low", Verbosity: "medium", MaxTokens: 600, Timeout: Duration(45 * time.Second)},
				UseRespondent:          {Model: "qwen2.5:7b", ReasoningEffort: "low", Verbosity: "medium", MaxTokens: 400, Timeout: Duration(30 * time.Second)},
				UseAdditionalQuestions: {Model: "qwen2.5:7b", ReasoningEffort: "medium", Verbosity: "medium", MaxTokens: 600, Timeout: Duration(45 * time.Second)},
			},
		},
		Advisor: Advisor{
			ConfidenceThreshold: 0.6,
			WordsPerMinute:      150,
			MinTurnDuration:     Duration(3 * time.Second),
			HardCeiling:         Duration(8 * time.Second),
			CallTimeout:         Duration(30 * time.Second),
		},
		Flow: Flow{
			DefaultFollowUps: 3,
			MaxFollowUps:     5,
		},
		Transcript: Transcript{WorkingWindow: 40},
		Enrichment: Enrichment{
			CrossSession: CrossSession{
				MinAnalyzedSessions: 5,
				ThemesPerQuestion:   3,
				EmergentThemes:      5,
				MinResponses:        3,
				QualityThreshold:    50,
				MinFlagCount:        2,
				TopFlags:            3,
			},
			Hypotheses: Hypotheses{
				MinProjectSessions:  5,
				MaxTextLength:       200,
				MaxCount:            8,
				RecommendationTypes: []string{"probe_deeper", "explore_theme", "validate_hypothesis"},
			},
			Additional: Additional{
				MinCompletedSessions: 5,
				MaxSessions:          10,
			},
		},
		Overlap: Overlap{Timeout: Duration(10 * time.Second)},
		Limits: Limits{
			QuestionWallClock: Duration(10 * time.Minute),
			SessionWallClock:  Duration(60 * time.Minute),
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, cfg.validate()
}

// parseTOML parses TOML bytes into a Config, applying defaults.
func parseTOML(data []byte) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Version > SchemaVersion {
		return fmt.Errorf("config version %d is newer than supported version %d", c.Version, SchemaVersion)
	}
	if c.Advisor.ConfidenceThreshold < 0 || c.Advisor.ConfidenceThreshold > 1 {
		return fmt.Errorf("advisor.confidence_threshold must be within [0,1], got %v", c.Advisor.ConfidenceThreshold)
	}
	if c.Transcript.WorkingWindow < 1 {
		return fmt.Errorf("transcript.working_window must be positive, got %d", c.Transcript.WorkingWindow)
	}
	return nil
}

// Profile returns the profile for a use case, falling back to the
// interviewer profile when the use case is not configured.
func (c *Config) Profile(useCase string) Profile {
	if p, ok := c.LLM.Profiles[useCase]; ok {
		return p
	}
	return c.LLM.Profiles[UseInterviewer]
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
