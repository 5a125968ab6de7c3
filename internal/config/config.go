package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds application configuration, including the durable settings
// record governing capture behavior.
type Config struct {
	// MaxRecordsPerURL caps how many sessions are kept per page key.
	// Oldest sessions are evicted first once the cap is exceeded.
	MaxRecordsPerURL int `json:"max_records_per_url"`

	// PromptThreshold is the number of field changes on a non-recording page
	// before the user is offered a recording prompt.
	PromptThreshold int `json:"prompt_threshold"`

	// DisableAutoPrompt suppresses the automatic recording prompt entirely.
	// The field-change counter still advances so state queries can report it.
	DisableAutoPrompt bool `json:"disable_auto_prompt,omitempty"`

	// BridgeBind is the address the page-context WebSocket bridge listens on.
	// Defaults to loopback; the bridge carries recorded form values.
	BridgeBind string `json:"bridge_bind,omitempty"`

	// BridgePort is the bridge's listen port.
	BridgePort int `json:"bridge_port,omitempty"`

	// PeerReplyTimeoutMS bounds how long a pass-through command waits for the
	// page context to answer. 0 means the built-in default.
	PeerReplyTimeoutMS int `json:"peer_reply_timeout_ms,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRecordsPerURL: 50,
		PromptThreshold:  5,
		BridgeBind:       "127.0.0.1",
		BridgePort:       8922,

		PeerReplyTimeoutMS: 5000,
	}
}

// AutoPromptEnabled reports whether the automatic prompt is active.
func (c *Config) AutoPromptEnabled() bool {
	return !c.DisableAutoPrompt
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.refill.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File doesn't exist, return zero config
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.MaxRecordsPerURL = overlay.MaxRecordsPerURL
	if result.MaxRecordsPerURL == 0 {
		result.MaxRecordsPerURL = base.MaxRecordsPerURL
	}

	result.PromptThreshold = overlay.PromptThreshold
	if result.PromptThreshold == 0 {
		result.PromptThreshold = base.PromptThreshold
	}

	result.BridgeBind = overlay.BridgeBind
	if result.BridgeBind == "" {
		result.BridgeBind = base.BridgeBind
	}

	result.BridgePort = overlay.BridgePort
	if result.BridgePort == 0 {
		result.BridgePort = base.BridgePort
	}

	result.PeerReplyTimeoutMS = overlay.PeerReplyTimeoutMS
	if result.PeerReplyTimeoutMS == 0 {
		result.PeerReplyTimeoutMS = base.PeerReplyTimeoutMS
	}

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	// Booleans: overlay wins if true, else base
	result.DisableAutoPrompt = base.DisableAutoPrompt || overlay.DisableAutoPrompt

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
