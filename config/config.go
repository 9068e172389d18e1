// Package config загружает настройки: YAML-файл, переменные GHOSTTRACK_* и дефолты.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Address  string `mapstructure:"address"`
		HTTPPort string `mapstructure:"http_port"`
		// CIDR или адреса прокси, которым верим X-Forwarded-For / X-Real-IP
		TrustedProxies []string `mapstructure:"trusted_proxies"`
	} `mapstructure:"server"`

	Database struct {
		Driver string `mapstructure:"driver"` // "" = in-memory
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		File   string `mapstructure:"file"`
	} `mapstructure:"logging"`

	Auth struct {
		JWTSecret string        `mapstructure:"jwt_secret"`
		TokenTTL  time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"auth"`

	GeoIP struct {
		Database string `mapstructure:"database"`
	} `mapstructure:"geoip"`

	Tracking struct {
		HistoryLimit  int `mapstructure:"history_limit"`
		HistoryMax    int `mapstructure:"history_max"`
		MaxChainHops  int `mapstructure:"max_chain_hops"`
		MaxPhotoBytes int `mapstructure:"max_photo_bytes"`
	} `mapstructure:"tracking"`
}

const envPrefix = "GHOSTTRACK"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.http_port", "8080")
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 30*24*time.Hour)
	v.SetDefault("geoip.database", "")
	v.SetDefault("tracking.history_limit", 50)
	v.SetDefault("tracking.history_max", 500)
	v.SetDefault("tracking.max_chain_hops", 64)
	v.SetDefault("tracking.max_photo_bytes", 5<<20)
}

// Load разбирает args (обычно os.Args[1:]). Флаг --config указывает YAML-файл;
// без него ищем ./ghosttrack.yaml и ./config/ghosttrack.yaml, отсутствие файла не ошибка.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("ghosttrack", pflag.ContinueOnError)
	cfgFile := fs.String("config", "", "path to config file (yaml)")
	fs.String("addr", "", "listen address")
	fs.String("port", "", "HTTP port")
	fs.String("log-level", "", "log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// флаги перекрывают файл и env, только если заданы явно
	_ = v.BindPFlag("server.address", fs.Lookup("addr"))
	_ = v.BindPFlag("server.http_port", fs.Lookup("port"))
	_ = v.BindPFlag("logging.level", fs.Lookup("log-level"))

	if *cfgFile != "" {
		v.SetConfigFile(*cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", *cfgFile, err)
		}
	} else {
		v.SetConfigName("ghosttrack")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "", "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Tracking.HistoryLimit <= 0 || c.Tracking.HistoryMax < c.Tracking.HistoryLimit {
		return fmt.Errorf("tracking.history_limit must be in 1..history_max")
	}
	if c.Tracking.MaxChainHops <= 0 {
		return fmt.Errorf("tracking.max_chain_hops must be positive")
	}
	for _, p := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			return fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", p)
		}
	}
	return nil
}
