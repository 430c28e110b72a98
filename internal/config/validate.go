package config

import (
	"fmt"
	"strings"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// NormalizeAndValidate returns a normalized copy plus everything wrong with it.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	out.Airtable.BaseID = strings.TrimSpace(out.Airtable.BaseID)
	out.Airtable.TableName = strings.TrimSpace(out.Airtable.TableName)
	out.Sync.ConflictStrategy = strings.ToLower(strings.TrimSpace(out.Sync.ConflictStrategy))

	// ---- Validation rules ----

	if out.App.Port <= 0 || out.App.Port > 65535 {
		res.addErr("app.port must be 1..65535")
	}

	if out.Database.PoolSize <= 0 {
		res.addErr("database.pool_size must be > 0")
	} else if out.Database.PoolSize > 32 {
		res.addWarn("database.pool_size is very high (%d) for a single sqlite file.", out.Database.PoolSize)
	}
	if out.Database.AcquireTimeoutSeconds < 0 {
		res.addErr("database.acquire_timeout_seconds must be >= 0")
	}

	if out.Airtable.Enabled {
		if out.Airtable.BaseID == "" {
			res.addErr("airtable.base_id is required when airtable.enabled=true")
		}
		if out.Airtable.TableName == "" {
			res.addErr("airtable.table_name is required when airtable.enabled=true")
		}
		if out.Airtable.BatchSize <= 0 || out.Airtable.BatchSize > 10 {
			res.addErr("airtable.batch_size must be 1..10 (API limit is 10 records per create)")
		}
		if out.Airtable.RateLimitMS > 0 && out.Airtable.RateLimitMS < 200 {
			res.addWarn("airtable.rate_limit_ms below 200 will trip the 5 req/s API budget.")
		}
	}

	switch out.Sync.ConflictStrategy {
	case "", "newest_wins", "local_wins", "remote_wins":
	default:
		res.addErr("sync.conflict_strategy must be newest_wins, local_wins or remote_wins")
	}

	if out.Sync.PushSeconds > 0 && out.Sync.PushSeconds < 10 {
		res.addWarn("sync.push_seconds is very low (%d); pushes may overlap their rate budget.", out.Sync.PushSeconds)
	}

	for field, mode := range out.Merge.FieldOverrides {
		switch mode {
		case "existing", "incoming":
		default:
			res.addErr("merge.field_overrides[%s] must be existing or incoming", field)
		}
	}

	return out, res
}
