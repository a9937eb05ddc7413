package config

import (
	"testing"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	data map[string]any
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	i, _ := v.(int)
	return i, true, nil
}

func (b *mapBackend) SetString(key, val string) error { b.data[key] = val; return nil }

func (b *mapBackend) SetInt(key string, val int) error { b.data[key] = val; return nil }

func (b *mapBackend) Delete(key string) error { delete(b.data, key); return nil }

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4680 {
		t.Errorf("Server.Port = %d, want 4680", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.Model != "llama3.2" {
		t.Errorf("Ollama.Model = %q", cfg.Ollama.Model)
	}
	if cfg.Capture.ActivityWatchHost != "http://localhost:5600" {
		t.Errorf("Capture.ActivityWatchHost = %q", cfg.Capture.ActivityWatchHost)
	}
	if cfg.Cluster.GapMinutes != 5 {
		t.Errorf("Cluster.GapMinutes = %d, want 5", cfg.Cluster.GapMinutes)
	}
	if cfg.Cluster.MinEvents != 2 {
		t.Errorf("Cluster.MinEvents = %d, want 2", cfg.Cluster.MinEvents)
	}
	if cfg.Report.HourlyRateUSD != 75 {
		t.Errorf("Report.HourlyRateUSD = %v, want 75", cfg.Report.HourlyRateUSD)
	}
	if !cfg.Notify.Enabled {
		t.Error("Notify.Enabled = false, want true")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestBackendValues(t *testing.T) {
	b := &mapBackend{data: map[string]any{
		"server.port":         5100,
		"ollama.model":        "mistral-nemo",
		"cluster.gap_minutes": 10,
		"report.hourly_rate":  "120.5",
		"notify.enabled":      "false",
		"storage.data_dir":    "/tmp/flowx-test",
	}}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5100 {
		t.Errorf("Server.Port = %d, want 5100", cfg.Server.Port)
	}
	if cfg.Ollama.Model != "mistral-nemo" {
		t.Errorf("Ollama.Model = %q", cfg.Ollama.Model)
	}
	if cfg.Cluster.GapMinutes != 10 {
		t.Errorf("Cluster.GapMinutes = %d, want 10", cfg.Cluster.GapMinutes)
	}
	if cfg.Report.HourlyRateUSD != 120.5 {
		t.Errorf("Report.HourlyRateUSD = %v, want 120.5", cfg.Report.HourlyRateUSD)
	}
	if cfg.Notify.Enabled {
		t.Error("Notify.Enabled = true, want false")
	}
	if cfg.Storage.DataDir != "/tmp/flowx-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
}

func TestEnvOverride(t *testing.T) {
	b := &mapBackend{data: map[string]any{
		"ollama.model": "backend-model",
	}}

	t.Setenv("FLOWX_OLLAMA_MODEL", "env-model")
	t.Setenv("FLOWX_SERVER_PORT", "5200")
	t.Setenv("FLOWX_REPORT_HOURLY_RATE", "90")
	t.Setenv("FLOWX_NOTIFY_ENABLED", "false")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ollama.Model != "env-model" {
		t.Errorf("Ollama.Model = %q, want env-model", cfg.Ollama.Model)
	}
	if cfg.Server.Port != 5200 {
		t.Errorf("Server.Port = %d, want 5200", cfg.Server.Port)
	}
	if cfg.Report.HourlyRateUSD != 90 {
		t.Errorf("Report.HourlyRateUSD = %v, want 90", cfg.Report.HourlyRateUSD)
	}
	if cfg.Notify.Enabled {
		t.Error("Notify.Enabled = true, want false")
	}
}

func TestBadEnvValueKeepsDefault(t *testing.T) {
	t.Setenv("FLOWX_SERVER_PORT", "not-a-port")
	t.Setenv("FLOWX_NOTIFY_ENABLED", "maybe")

	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4680 {
		t.Errorf("Server.Port = %d, want default 4680", cfg.Server.Port)
	}
	if !cfg.Notify.Enabled {
		t.Error("Notify.Enabled = false, want default true")
	}
}

func TestShowAllAndValidKeys(t *testing.T) {
	cfg := defaults()
	infos := ShowAll(cfg)
	if len(infos) != len(specs) {
		t.Fatalf("ShowAll returned %d entries, want %d", len(infos), len(specs))
	}
	for _, info := range infos {
		if info.Key == "" || info.EnvVar == "" {
			t.Errorf("incomplete key info: %+v", info)
		}
	}

	keys := ValidKeys()
	if len(keys) != len(specs) {
		t.Errorf("ValidKeys returned %d keys, want %d", len(keys), len(specs))
	}
}
