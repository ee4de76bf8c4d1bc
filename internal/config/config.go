package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"port"`
	DSLDir      string `mapstructure:"dsl_dir"`
	EnumsDir    string `mapstructure:"enums_dir"`
	SeedsDir    string `mapstructure:"seeds_dir"`
	DBURL       string `mapstructure:"db_url"` // пусто — хранилище в памяти
	AutoMigrate bool   `mapstructure:"auto_migrate"`

	ListLimit         int    `mapstructure:"list_limit"`
	Multitenant       bool   `mapstructure:"multitenant"`
	DefaultSchema     string `mapstructure:"default_schema"`
	AdminSchema       string `mapstructure:"admin_schema"`
	TenantEntity      string `mapstructure:"tenant_entity"`
	OperatorSeparator string `mapstructure:"operator_separator"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	BusDriver string `mapstructure:"bus_driver"` // memory | redis
	RedisURL  string `mapstructure:"redis_url"`
}

var defaults = map[string]any{
	"port":               "8080",
	"dsl_dir":            "dsl",
	"enums_dir":          "",
	"seeds_dir":          "seeds",
	"db_url":             "",
	"auto_migrate":       true,
	"list_limit":         50,
	"multitenant":        false,
	"default_schema":     "public",
	"admin_schema":       "admin",
	"tenant_entity":      "tenant",
	"operator_separator": "$",
	"log_level":          "info",
	"log_file":           "",
	"bus_driver":         "memory",
	"redis_url":          "",
}

// flagName: dsl_dir -> dsl-dir
func flagName(key string) string { return strings.ReplaceAll(key, "_", "-") }

var usage = map[string]string{
	"port":               "HTTP port",
	"dsl_dir":            "Path to DSL directory",
	"enums_dir":          "Path to enum catalog directory (yaml)",
	"seeds_dir":          "Path to seed directory (yaml)",
	"db_url":             "Postgres URL (empty = in-memory)",
	"auto_migrate":       "Create missing tables on startup",
	"list_limit":         "Default list page size",
	"multitenant":        "Schema per tenant with serialized access",
	"default_schema":     "Schema for tenant-agnostic requests",
	"admin_schema":       "Schema of pinned admin entities",
	"tenant_entity":      "Entity that owns schema lifecycle",
	"operator_separator": "Separator between field and operator in filter keys",
	"log_level":          "Log level (trace/debug/info/warn/error)",
	"log_file":           "Rotated JSON log file (empty = console only)",
	"bus_driver":         "Notification bus (memory/redis)",
	"redis_url":          "Redis URL for the redis bus",
}

// BindFlags регистрирует флаги для всех ключей; --config добавляется отдельно
func BindFlags(fs *pflag.FlagSet) {
	for key, def := range defaults {
		name := flagName(key)
		switch v := def.(type) {
		case bool:
			fs.Bool(name, v, usage[key])
		case int:
			fs.Int(name, v, usage[key])
		default:
			fs.String(name, fmt.Sprint(v), usage[key])
		}
	}
}

// Load собирает конфиг: умолчания, файл (yaml/json), STRATA_* окружение, затем изменённые флаги.
// fs может быть nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	for key, def := range defaults {
		v.SetDefault(key, def)
	}

	v.SetEnvPrefix("strata")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if fs != nil {
		for key := range defaults {
			if f := fs.Lookup(flagName(key)); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Port = strings.TrimSpace(cfg.Port)
	cfg.DBURL = strings.TrimSpace(cfg.DBURL)
	if cfg.ListLimit < 0 {
		cfg.ListLimit = 0
	}
	if cfg.OperatorSeparator == "" {
		cfg.OperatorSeparator = "$"
	}
	return cfg, nil
}
