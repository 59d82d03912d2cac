package shared

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Storage.DumpRoot != "./_dumps" {
			t.Errorf("expected dump root ./_dumps, got %s", config.Storage.DumpRoot)
		}

		if config.Notion.MaxRetries != 3 {
			t.Errorf("expected 3 retries, got %d", config.Notion.MaxRetries)
		}

		if config.Notion.Timeout() != 15*time.Second {
			t.Errorf("expected 15s timeout, got %v", config.Notion.Timeout())
		}

		if config.Jobs.MaxDump != 3 || config.Jobs.MaxMigrate != 3 || config.Jobs.MaxDumpDatabase != 3 {
			t.Errorf("expected per-type limit 3, got %+v", config.Jobs)
		}

		if config.Jobs.Retention() != 3*time.Second {
			t.Errorf("expected 3s retention, got %v", config.Jobs.Retention())
		}

		if config.Storage.MaxAssetBytes() != 100<<20 {
			t.Errorf("expected 100MiB ceiling, got %d", config.Storage.MaxAssetBytes())
		}

		if config.Schedule.Cron != "0 * * * *" {
			t.Errorf("expected hourly cron, got %s", config.Schedule.Cron)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig TOML", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		testConfig := `[notion]
token = "secret_abc"
max_retries = 5

[storage]
dump_root = "/var/dumps"

[schedule]
cron = "*/5 * * * *"
page_ids = ["aaa,bbb", "ccc"]
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Notion.Token != "secret_abc" {
			t.Errorf("expected token secret_abc, got %s", config.Notion.Token)
		}
		if config.Notion.MaxRetries != 5 {
			t.Errorf("expected 5 retries, got %d", config.Notion.MaxRetries)
		}
		if config.Storage.DumpRoot != "/var/dumps" {
			t.Errorf("expected dump root /var/dumps, got %s", config.Storage.DumpRoot)
		}
		if config.Notion.Version != "2022-06-28" {
			t.Errorf("unset keys should keep defaults, got version %q", config.Notion.Version)
		}

		want := []string{"aaa", "bbb", "ccc"}
		if len(config.Schedule.PageIDs) != len(want) {
			t.Fatalf("expected page ids %v, got %v", want, config.Schedule.PageIDs)
		}
		for i := range want {
			if config.Schedule.PageIDs[i] != want[i] {
				t.Errorf("page id %d: expected %s, got %s", i, want[i], config.Schedule.PageIDs[i])
			}
		}
	})

	t.Run("LoadConfig YAML", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")

		testConfig := `notion:
  token: yaml_token
storage:
  dump_root: ./yaml_dumps
jobs:
  max_migrate: 1
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Notion.Token != "yaml_token" {
			t.Errorf("expected yaml_token, got %s", config.Notion.Token)
		}
		if config.Storage.DumpRoot != "./yaml_dumps" {
			t.Errorf("expected ./yaml_dumps, got %s", config.Storage.DumpRoot)
		}
		if config.Jobs.MaxMigrate != 1 || config.Jobs.MaxDump != 3 {
			t.Errorf("unexpected job limits %+v", config.Jobs)
		}
	})

	t.Run("LoadConfig NonExistent", func(t *testing.T) {
		if _, err := LoadConfig("/nonexistent/config.toml"); err == nil {
			t.Error("expected error loading non-existent config")
		}
	})

	t.Run("LoadConfig Invalid", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[jobs]\nmax_dump = 0\n"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if _, err := LoadConfig(configPath); err == nil {
			t.Error("expected a zero job limit to be rejected")
		}
	})
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"NOTION_TOKEN":       "env_token",
		"DUMP_ROOT":          "/env/dumps",
		"CRON":               "15 * * * *",
		"NOTION_TIMEOUT":     "30",
		"NOTION_MAX_RETRIES": "not-a-number",
		"AUTO_DUMP_PAGE_IDS": "p1, p2  p3",
		"AUTO_DUMP_PAGE_ID":  "p2",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	config := DefaultConfig()
	config.Schedule.PageIDs = []string{"p0", "p1"}
	config.ApplyEnv(lookup)

	if config.Notion.Token != "env_token" {
		t.Errorf("expected env_token, got %s", config.Notion.Token)
	}
	if config.Storage.DumpRoot != "/env/dumps" {
		t.Errorf("expected /env/dumps, got %s", config.Storage.DumpRoot)
	}
	if config.Schedule.Cron != "15 * * * *" {
		t.Errorf("expected env cron, got %s", config.Schedule.Cron)
	}
	if config.Notion.TimeoutSeconds != 30 {
		t.Errorf("expected timeout 30, got %d", config.Notion.TimeoutSeconds)
	}
	if config.Notion.MaxRetries != 3 {
		t.Errorf("unparseable retries should keep default, got %d", config.Notion.MaxRetries)
	}

	want := []string{"p1", "p2", "p3", "p0"}
	if len(config.Schedule.PageIDs) != len(want) {
		t.Fatalf("expected %v, got %v", want, config.Schedule.PageIDs)
	}
	for i := range want {
		if config.Schedule.PageIDs[i] != want[i] {
			t.Errorf("page id %d: expected %s, got %s", i, want[i], config.Schedule.PageIDs[i])
		}
	}
}
