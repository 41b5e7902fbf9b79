package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/porticoapi/portico/internal/model"
)

// Config represents the top-level portico configuration file.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Auth    AuthConfig     `yaml:"auth"`
	Records RecordsConfig  `yaml:"records"`
	Sources []SourceConfig `yaml:"sources"`
	MCP     MCPConfig      `yaml:"mcp"`
	Logging LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxBodySize     string        `yaml:"max_body_size"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RatePerMinute   int           `yaml:"rate_per_minute"` // 0 disables the global limiter
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// AuthConfig controls credentials and sessions.
type AuthConfig struct {
	APIKeyHeader       string        `yaml:"api_key_header"`
	SessionHeader      string        `yaml:"session_header"`
	SessionTTL         time.Duration `yaml:"session_ttl"`
	RefreshGrace       time.Duration `yaml:"refresh_grace"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	APIKeyTTL          time.Duration `yaml:"api_key_ttl"` // 0 = keys never expire
	LoginRatePerMinute int           `yaml:"login_rate_per_minute"`
}

// RecordsConfig controls the generic record endpoints.
type RecordsConfig struct {
	DefaultLimit             int  `yaml:"default_limit"`
	MaxLimit                 int  `yaml:"max_limit"`
	InferInactiveFromFilters bool `yaml:"infer_inactive_from_filters"`
}

// SourceConfig declares a record source in the configuration file.
type SourceConfig struct {
	Name           string            `yaml:"name"`
	Driver         string            `yaml:"driver"`
	DSN            string            `yaml:"dsn"`
	Prefix         string            `yaml:"prefix"`
	ReadOnly       bool              `yaml:"read_only"`
	Include        []string          `yaml:"include"`
	PrivateKeyPath string            `yaml:"private_key_path"`
	Pool           *model.PoolConfig `yaml:"pool,omitempty"`
}

// MCPConfig controls the Model Context Protocol endpoint.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses a YAML configuration file on top of the defaults.
// Environment variables referenced as ${VAR_NAME} in the file are expanded
// before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration YAML on top of the defaults and validates the
// result.
func Parse(data []byte) (*Config, error) {
	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config pre-filled with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodySize:     "10MB",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			},
		},
		Auth: AuthConfig{
			APIKeyHeader:       "api-key",
			SessionHeader:      "session-token",
			SessionTTL:         24 * time.Hour,
			RefreshGrace:       time.Hour,
			SweepInterval:      time.Hour,
			LoginRatePerMinute: 20,
		},
		Records: RecordsConfig{
			DefaultLimit:             10,
			MaxLimit:                 1000,
			InferInactiveFromFilters: true,
		},
		MCP: MCPConfig{
			Enabled: false,
			Path:    "/mcp",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefault writes the default configuration to a YAML file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if _, err := ParseSize(c.Server.MaxBodySize); err != nil {
		errs = append(errs, fmt.Errorf("server.max_body_size: %w", err))
	}
	if c.Auth.APIKeyHeader == "" || c.Auth.SessionHeader == "" {
		errs = append(errs, errors.New("auth.api_key_header and auth.session_header are required"))
	}
	if strings.EqualFold(c.Auth.APIKeyHeader, c.Auth.SessionHeader) {
		errs = append(errs, errors.New("auth.api_key_header and auth.session_header must differ"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("auth.session_ttl must be positive"))
	}
	if c.Auth.RefreshGrace < 0 || c.Auth.APIKeyTTL < 0 || c.Auth.SweepInterval < 0 {
		errs = append(errs, errors.New("auth durations must not be negative"))
	}
	if c.Records.DefaultLimit <= 0 || c.Records.MaxLimit < c.Records.DefaultLimit {
		errs = append(errs, fmt.Errorf("records: need 0 < default_limit (%d) <= max_limit (%d)",
			c.Records.DefaultLimit, c.Records.MaxLimit))
	}
	seen := make(map[string]bool)
	for i, s := range c.Sources {
		switch {
		case s.Name == "" || s.Driver == "":
			errs = append(errs, fmt.Errorf("sources[%d]: name and driver are required", i))
		case s.Name == model.SystemSource:
			errs = append(errs, fmt.Errorf("sources[%d]: name %q is reserved", i, s.Name))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
	}
	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", c.MCP.Path))
	}
	return errors.Join(errs...)
}

// BodyLimit returns server.max_body_size in bytes. The value is assumed to
// have passed Validate.
func (c *Config) BodyLimit() int64 {
	n, _ := ParseSize(c.Server.MaxBodySize)
	return n
}

// ParseSize parses sizes such as "512", "64KB", "10MB" or "1GB". Units are
// binary multiples.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, errors.New("empty size")
	}
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			mult = u.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

// Apply overrides settings with values set in v, which carries flags bound
// under dotted keys and PORTICO_* environment variables.
func (c *Config) Apply(v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}
	flag := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	str("server.host", &c.Server.Host)
	num("server.port", &c.Server.Port)
	str("server.max_body_size", &c.Server.MaxBodySize)
	num("server.rate_per_minute", &c.Server.RatePerMinute)
	dur("server.shutdown_timeout", &c.Server.ShutdownTimeout)
	if v.IsSet("server.cors.origins") {
		c.Server.CORS.Origins = v.GetStringSlice("server.cors.origins")
	}

	str("auth.api_key_header", &c.Auth.APIKeyHeader)
	str("auth.session_header", &c.Auth.SessionHeader)
	dur("auth.session_ttl", &c.Auth.SessionTTL)
	dur("auth.refresh_grace", &c.Auth.RefreshGrace)
	dur("auth.sweep_interval", &c.Auth.SweepInterval)
	dur("auth.api_key_ttl", &c.Auth.APIKeyTTL)
	num("auth.login_rate_per_minute", &c.Auth.LoginRatePerMinute)

	num("records.default_limit", &c.Records.DefaultLimit)
	num("records.max_limit", &c.Records.MaxLimit)
	flag("records.infer_inactive_from_filters", &c.Records.InferInactiveFromFilters)

	flag("mcp.enabled", &c.MCP.Enabled)
	str("mcp.path", &c.MCP.Path)

	str("log.level", &c.Logging.Level)
	str("log.format", &c.Logging.Format)
}

// ToModel converts the declaration into a stored source.
func (s SourceConfig) ToModel() model.Source {
	pool := model.DefaultPoolConfig()
	if s.Pool != nil {
		pool = *s.Pool
	}
	return model.Source{
		Name:           s.Name,
		Driver:         s.Driver,
		DSN:            s.DSN,
		Prefix:         s.Prefix,
		ReadOnly:       s.ReadOnly || s.Driver == "snowflake",
		Include:        s.Include,
		IsActive:       true,
		Pool:           pool,
		PrivateKeyPath: s.PrivateKeyPath,
	}
}
