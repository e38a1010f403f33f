package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "settings.json"))
	settings, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Backend.URL == "" || settings.Backend.Model == "" {
		t.Errorf("backend defaults missing: %+v", settings.Backend)
	}
	if settings.Agent.MaxRounds <= 0 || settings.Agent.MaxTurnSeconds <= 0 {
		t.Errorf("agent defaults missing: %+v", settings.Agent)
	}
	if settings.MCPServers == nil {
		t.Error("mcpServers map is nil")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	store := NewStore(path)

	settings, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	off := false
	settings.MCPServers["files"] = MCPServerSettings{Command: "files-server", Args: []string{"--stdio"}}
	settings.MCPServers["disabled"] = MCPServerSettings{Command: "x", Enabled: &off}
	if err := store.Save(settings); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.MCPServers["files"].Command != "files-server" {
		t.Errorf("loaded = %+v", loaded.MCPServers)
	}
}

func TestBackfillOnPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"backend": {"model": "custom"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	settings, err := NewStore(path).Load()
	if err != nil {
		t.Fatal(err)
	}
	if settings.Backend.Model != "custom" {
		t.Errorf("model = %q", settings.Backend.Model)
	}
	if settings.Backend.URL == "" || settings.SchemaVersion == 0 || settings.Agent.MaxRounds == 0 {
		t.Errorf("backfill incomplete: %+v", settings)
	}
}

func TestServerConfigs(t *testing.T) {
	off := false
	settings := &Settings{
		MCPServers: map[string]MCPServerSettings{
			"zeta":  {Command: "z"},
			"alpha": {Command: "a", Enabled: &off},
		},
	}
	configs := settings.ServerConfigs()
	if len(configs) != 2 {
		t.Fatalf("configs = %d", len(configs))
	}
	// Sorted by name for a deterministic routing order.
	if configs[0].Name != "alpha" || configs[1].Name != "zeta" {
		t.Errorf("order = %q, %q", configs[0].Name, configs[1].Name)
	}
	if configs[0].Enabled {
		t.Error("explicit enabled:false lost")
	}
	if !configs[1].Enabled {
		t.Error("enabled should default to true")
	}
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(path).Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
