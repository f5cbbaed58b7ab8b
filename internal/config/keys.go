package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
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
		key: "server.port", typ: kInt, env: "SHIPVIEW_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: "SHIPVIEW_SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "erp.base_url", typ: kString, env: "SHIPVIEW_ERP_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.ERP.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.ERP.BaseURL },
	},
	{
		key: "erp.username", typ: kString, env: "SHIPVIEW_ERP_USERNAME",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.ERP.Username = v.(string) },
		extract: func(cfg Config) any { return cfg.ERP.Username },
	},
	{
		key: "erp.password", typ: kString, env: "SHIPVIEW_ERP_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.ERP.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.ERP.Password },
	},
	{
		key: "erp.timeout", typ: kString, env: "SHIPVIEW_ERP_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.ERP.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.ERP.Timeout },
	},
	{
		key: "pipeline.batch_size", typ: kInt, env: "SHIPVIEW_PIPELINE_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.BatchSize },
	},
	{
		key: "pipeline.find_limit", typ: kInt, env: "SHIPVIEW_PIPELINE_FIND_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.FindLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.FindLimit },
	},
	{
		key: "pipeline.display_timezone", typ: kString, env: "SHIPVIEW_PIPELINE_DISPLAY_TIMEZONE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.DisplayTimezone = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.DisplayTimezone },
	},
	{
		key: "pipeline.shipped_prefilter", typ: kBool, env: "SHIPVIEW_PIPELINE_SHIPPED_PREFILTER",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.ShippedPrefilter = v.(bool) },
		extract: func(cfg Config) any { return cfg.Pipeline.ShippedPrefilter },
	},
	{
		key: "cache.ttl", typ: kString, env: "SHIPVIEW_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "cache.max_entries", typ: kInt, env: "SHIPVIEW_CACHE_MAX_ENTRIES",
		apply:   func(cfg *Config, v any) { cfg.Cache.MaxEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.MaxEntries },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SHIPVIEW_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "SHIPVIEW_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "recheck.interval", typ: kString, env: "SHIPVIEW_RECHECK_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Recheck.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Recheck.Interval },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
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
		case kBool:
			v, ok, err := b.GetBool(s.key)
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

// parseBool accepts strconv.ParseBool forms plus yes/no and on/off.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("%q is not a boolean", s)
	}
	return v, nil
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
		case kBool:
			if b, err := parseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
