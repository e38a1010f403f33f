// Package config is the JSON settings store: backend endpoint, tool server
// definitions, rules location and agent guards. One file, loaded with
// defaults when missing.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"quill/assistant/internal/mcp"
)

const schemaVersion = 1

const (
	defaultBackendURL     = "http://localhost:11434"
	defaultModel          = "qwen2.5-coder:7b"
	defaultMaxRounds      = 25
	defaultMaxTurnSeconds = 600
)

type BackendSettings struct {
	URL   string `json:"url"`
	Model string `json:"model"`
}

type AgentSettings struct {
	MaxRounds      int `json:"max_rounds"`
	MaxTurnSeconds int `json:"max_turn_seconds"`
}

// MCPServerSettings is the conventional mcpServers entry shape.
type MCPServerSettings struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
	Enabled *bool             `json:"enabled,omitempty"`
}

type Settings struct {
	SchemaVersion int                          `json:"schema_version"`
	Backend       BackendSettings              `json:"backend"`
	MCPServers    map[string]MCPServerSettings `json:"mcpServers"`
	RulesDir      string                       `json:"rules_dir,omitempty"`
	Agent         AgentSettings                `json:"agent"`
}

// ServerConfigs flattens the mcpServers map into the registry's input shape.
// JSON objects carry no order, so entries come out sorted by name; that order
// is what breaks duplicate-tool-name ties.
func (s *Settings) ServerConfigs() []mcp.ServerConfig {
	names := make([]string, 0, len(s.MCPServers))
	for name := range s.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make([]mcp.ServerConfig, 0, len(names))
	for _, name := range names {
		entry := s.MCPServers[name]
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		configs = append(configs, mcp.ServerConfig{
			Name:    name,
			Command: entry.Command,
			Args:    entry.Args,
			Env:     entry.Env,
			Enabled: enabled,
		})
	}
	return configs
}

type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultSettings(), nil
		}
		return nil, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	backfillSettings(&settings)
	return &settings, nil
}

func (s *Store) Save(settings *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backfillSettings(settings)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *Store) Update(fn func(*Settings)) (*Settings, error) {
	settings, err := s.Load()
	if err != nil {
		return nil, err
	}
	fn(settings)
	if err := s.Save(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func defaultSettings() *Settings {
	return &Settings{
		SchemaVersion: schemaVersion,
		Backend: BackendSettings{
			URL:   defaultBackendURL,
			Model: defaultModel,
		},
		MCPServers: map[string]MCPServerSettings{},
		Agent: AgentSettings{
			MaxRounds:      defaultMaxRounds,
			MaxTurnSeconds: defaultMaxTurnSeconds,
		},
	}
}

func backfillSettings(settings *Settings) {
	if settings.SchemaVersion == 0 {
		settings.SchemaVersion = schemaVersion
	}
	if settings.Backend.URL == "" {
		settings.Backend.URL = defaultBackendURL
	}
	if settings.Backend.Model == "" {
		settings.Backend.Model = defaultModel
	}
	if settings.MCPServers == nil {
		settings.MCPServers = map[string]MCPServerSettings{}
	}
	if settings.Agent.MaxRounds <= 0 {
		settings.Agent.MaxRounds = defaultMaxRounds
	}
	if settings.Agent.MaxTurnSeconds <= 0 {
		settings.Agent.MaxTurnSeconds = defaultMaxTurnSeconds
	}
}
