package shared

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML or YAML file.
type Config struct {
	Notion   NotionConfig   `toml:"notion" yaml:"notion"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	Jobs     JobsConfig     `toml:"jobs" yaml:"jobs"`
	Schedule ScheduleConfig `toml:"schedule" yaml:"schedule"`
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Log      LogConfig      `toml:"log" yaml:"log"`
}

// NotionConfig contains the remote API credentials and client behaviour.
type NotionConfig struct {
	Token          string  `toml:"token" yaml:"token"`
	BaseURL        string  `toml:"base_url" yaml:"base_url"`
	Version        string  `toml:"version" yaml:"version"`
	TimeoutSeconds int     `toml:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int     `toml:"max_retries" yaml:"max_retries"`
	RateLimit      float64 `toml:"rate_limit" yaml:"rate_limit"`
}

// StorageConfig contains settings for the local capture directory.
type StorageConfig struct {
	DumpRoot         string `toml:"dump_root" yaml:"dump_root"`
	MaxAssetMB       int    `toml:"max_asset_mb" yaml:"max_asset_mb"`
	AssetConcurrency int    `toml:"asset_concurrency" yaml:"asset_concurrency"`
}

// JobsConfig contains per-type concurrency limits and the retention period
// for finished jobs.
type JobsConfig struct {
	MaxDump          int `toml:"max_dump" yaml:"max_dump"`
	MaxDumpDatabase  int `toml:"max_dump_database" yaml:"max_dump_database"`
	MaxMigrate       int `toml:"max_migrate" yaml:"max_migrate"`
	RetentionSeconds int `toml:"retention_seconds" yaml:"retention_seconds"`
}

// ScheduleConfig contains the recurring dump schedule.
type ScheduleConfig struct {
	Cron     string   `toml:"cron" yaml:"cron"`
	Timezone string   `toml:"timezone" yaml:"timezone"`
	PageIDs  []string `toml:"page_ids" yaml:"page_ids"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" yaml:"path"`
	MaxOpenConns int    `toml:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns" yaml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	StaticBaseURL string `toml:"static_base_url" yaml:"static_base_url"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// LoadConfig reads a configuration file on top of [DefaultConfig] and applies
// environment overrides. Files ending in .yaml or .yml are parsed as YAML,
// everything else as TOML.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = toml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	config.ApplyEnv(os.LookupEnv)
	config.Schedule.PageIDs = MergeUnique(splitAll(config.Schedule.PageIDs))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides configuration values from the environment. lookup is usually
// [os.LookupEnv]. Page ids from AUTO_DUMP_PAGE_IDS come before the configured ones.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("NOTION_TOKEN"); ok && v != "" {
		c.Notion.Token = v
	}
	if v, ok := lookup("DUMP_ROOT"); ok && v != "" {
		c.Storage.DumpRoot = v
	}
	if v, ok := lookup("STATIC_BASE_URL"); ok && v != "" {
		c.Server.StaticBaseURL = v
	}
	if v, ok := lookup("CRON"); ok && v != "" {
		c.Schedule.Cron = v
	}
	if v, ok := lookup("NOTION_TIMEOUT"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.Notion.TimeoutSeconds = n
		}
	}
	if v, ok := lookup("NOTION_MAX_RETRIES"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.Notion.MaxRetries = n
		}
	}

	var ids []string
	if v, ok := lookup("AUTO_DUMP_PAGE_IDS"); ok {
		ids = append(ids, SplitList(v)...)
	}
	if v, ok := lookup("AUTO_DUMP_PAGE_ID"); ok {
		ids = append(ids, SplitList(v)...)
	}
	if len(ids) > 0 {
		c.Schedule.PageIDs = MergeUnique(ids, c.Schedule.PageIDs)
	}
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.Storage.DumpRoot == "":
		return fmt.Errorf("%w: storage.dump_root is empty", ErrInvalidConfig)
	case c.Notion.MaxRetries < 0:
		return fmt.Errorf("%w: notion.max_retries must not be negative", ErrInvalidConfig)
	case c.Jobs.MaxDump < 1 || c.Jobs.MaxDumpDatabase < 1 || c.Jobs.MaxMigrate < 1:
		return fmt.Errorf("%w: job limits must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Timeout returns the per-request timeout of the remote client.
func (c NotionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MaxAssetBytes returns the asset size ceiling in bytes.
func (c StorageConfig) MaxAssetBytes() int64 {
	return int64(c.MaxAssetMB) << 20
}

// Retention returns how long finished jobs stay listed.
func (c JobsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionSeconds) * time.Second
}

// Address returns the listen address of the HTTP server.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Location resolves the schedule timezone, falling back to [time.Local].
func (c ScheduleConfig) Location() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func splitAll(items []string) []string {
	var out []string
	for _, item := range items {
		out = append(out, SplitList(item)...)
	}
	return out
}
