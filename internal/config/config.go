package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		Port    int    `yaml:"port"`
		DataDir string `yaml:"data_dir"`
	} `yaml:"app"`

	Database struct {
		Path                  string `yaml:"path"`
		PoolSize              int    `yaml:"pool_size"`
		AcquireTimeoutSeconds int    `yaml:"acquire_timeout_seconds"`
		IdleSweepMinutes      int    `yaml:"idle_sweep_minutes"`
	} `yaml:"database"`

	Airtable struct {
		Enabled     bool   `yaml:"enabled"`
		BaseID      string `yaml:"base_id"`
		TableName   string `yaml:"table_name"`
		BatchSize   int    `yaml:"batch_size"`
		RateLimitMS int    `yaml:"rate_limit_ms"`
	} `yaml:"airtable"`

	Sync struct {
		PushSeconds      int    `yaml:"push_seconds"`
		PullHours        int    `yaml:"pull_hours"`
		PullWindowHours  int    `yaml:"pull_window_hours"`
		ConflictStrategy string `yaml:"conflict_strategy"` // newest_wins | local_wins | remote_wins
	} `yaml:"sync"`

	Maintenance struct {
		BackupHours int `yaml:"backup_hours"`
		KeepBackups int `yaml:"keep_backups"`
	} `yaml:"maintenance"`

	Merge struct {
		PreferLonger bool `yaml:"prefer_longer"`
		// Per-field override: "existing" keeps the stored value, "incoming"
		// always takes the new one. Anything else falls back to the default.
		FieldOverrides map[string]string `yaml:"field_overrides"`
	} `yaml:"merge"`
}

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	applyEnvOverlay(&cfg)
	return cfg, nil
}

// applyEnvOverlay lets deploy-time env vars win over the yaml file.
// godotenv loads .env in main before this runs.
func applyEnvOverlay(cfg *Config) {
	if v := os.Getenv("AIRTABLE_BASE_ID"); v != "" {
		cfg.Airtable.BaseID = v
	}
	if v := os.Getenv("AIRTABLE_TABLE_NAME"); v != "" {
		cfg.Airtable.TableName = v
	}
	if v := os.Getenv("LEADFLOW_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LEADFLOW_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Database.PoolSize = n
		}
	}
	if v := os.Getenv("LEADFLOW_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Airtable.BatchSize = n
		}
	}
	if v := os.Getenv("LEADFLOW_RATE_LIMIT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Airtable.RateLimitMS = n
		}
	}
}

func (c Config) AcquireTimeout() time.Duration {
	if c.Database.AcquireTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Database.AcquireTimeoutSeconds) * time.Second
}

func (c Config) IdleSweep() time.Duration {
	if c.Database.IdleSweepMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Database.IdleSweepMinutes) * time.Minute
}

func (c Config) RateInterval() time.Duration {
	if c.Airtable.RateLimitMS <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.Airtable.RateLimitMS) * time.Millisecond
}
