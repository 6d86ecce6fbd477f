// Package config loads broker configuration with koanf.
//
// Precedence, lowest first: built-in defaults, an optional YAML file
// (CONFIG_PATH or mercury.yaml), then environment variables. PORT and
// DATABASE_URL are read unprefixed; every other key is read from MERCURY_*,
// with "__" separating nested keys (MERCURY_LOG__FORMAT=console).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultRootPassword is the bootstrap password for the root user. Running
// with it is allowed but logged loudly.
const DefaultRootPassword = "mercury"

const (
	ConfigPathEnvVar = "CONFIG_PATH"
	envPrefix        = "MERCURY_"
)

var DefaultConfigPaths = []string{"mercury.yaml", "mercury.yml"}

type Config struct {
	Port          int             `koanf:"port" validate:"min=1,max=65535"`
	DatabaseURL   string          `koanf:"database_url" validate:"required"`
	SessionDir    string          `koanf:"session_dir"`
	StaticDir     string          `koanf:"static_dir"`
	SecureCookies bool            `koanf:"secure_cookies"`
	TrustProxy    bool            `koanf:"trust_proxy"`
	Log           LogConfig       `koanf:"log"`
	Root          RootConfig      `koanf:"root"`
	CORS          CORSConfig      `koanf:"cors"`
	RateLimit     RateLimitConfig `koanf:"ratelimit"`
	Admin         AdminConfig     `koanf:"admin"`
	SSE           SSEConfig       `koanf:"sse"`
	Server        ServerConfig    `koanf:"server"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console pretty"`
	Caller bool   `koanf:"caller"`
}

// RootConfig seeds the rank 0 user on an empty database.
type RootConfig struct {
	Name     string `koanf:"name" validate:"min=4,max=16"`
	Password string `koanf:"password" validate:"required"`
}

type CORSConfig struct {
	Origins []string `koanf:"origins"`
}

type RateLimitConfig struct {
	Requests int           `koanf:"requests" validate:"min=0"`
	Window   time.Duration `koanf:"window"`
}

type AdminConfig struct {
	Disabled bool `koanf:"disabled"`
}

type SSEConfig struct {
	Buffer uint `koanf:"buffer" validate:"min=1"`
}

type ServerConfig struct {
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

func defaultConfig() *Config {
	return &Config{
		Port:        8080,
		DatabaseURL: "mercury.db",
		SessionDir:  "sessions",
		StaticDir:   "static",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Root: RootConfig{
			Name:     "admin",
			Password: DefaultRootPassword,
		},
		CORS: CORSConfig{Origins: []string{"*"}},
		RateLimit: RateLimitConfig{
			Requests: 20,
			Window:   time.Minute,
		},
		SSE: SSEConfig{Buffer: 256},
		Server: ServerConfig{
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
	}
}

// Load layers defaults, the config file and the environment.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitSlice(k, "cors.origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// UsesDefaultRootPassword reports whether the root bootstrap password was
// left at its default.
func (c *Config) UsesDefaultRootPassword() bool {
	return c.Root.Password == DefaultRootPassword
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf paths. Returning
// "" makes koanf skip the variable.
//
//	PORT                      -> port
//	DATABASE_URL              -> database_url
//	MERCURY_SESSION_DIR       -> session_dir
//	MERCURY_LOG__FORMAT       -> log.format
//	MERCURY_RATELIMIT__WINDOW -> ratelimit.window
func envTransformFunc(key string) string {
	switch key {
	case "PORT":
		return "port"
	case "DATABASE_URL":
		return "database_url"
	}
	if !strings.HasPrefix(key, envPrefix) {
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// splitSlice turns a comma separated env value into a list.
func splitSlice(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if err := k.Set(path, out); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}
