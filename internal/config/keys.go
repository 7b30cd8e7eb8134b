package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SALESPANEL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "SALESPANEL_SERVER_TOKEN",
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "remote.base_url", typ: kString, env: "SALESPANEL_REMOTE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Remote.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.BaseURL },
	},
	{
		key: "remote.api_token", typ: kString, env: "SALESPANEL_REMOTE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Remote.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.APIToken },
	},
	{
		key: "remote.user_id", typ: kString, env: "SALESPANEL_REMOTE_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.Remote.UserID = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.UserID },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SALESPANEL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "analysis.reanalysis_mode", typ: kString, env: "SALESPANEL_ANALYSIS_REANALYSIS_MODE",
		apply:   func(cfg *Config, v any) { cfg.Analysis.ReanalysisMode = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.ReanalysisMode },
	},
	{
		key: "analysis.internal_domains", typ: kString, env: "SALESPANEL_ANALYSIS_INTERNAL_DOMAINS",
		apply:   func(cfg *Config, v any) { cfg.Analysis.InternalDomains = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.InternalDomains },
	},
	{
		key: "log.level", typ: kString, env: "SALESPANEL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
