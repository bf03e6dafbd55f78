package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = 3000
	DefaultUpstreamTimeout = 15 * time.Second
	DefaultSOAPTimeout     = 15 * time.Second
)

// Config models the gateway settings.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream" yaml:"upstream"`
	SOAP     SOAPConfig     `mapstructure:"soap" yaml:"soap"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port" validate:"gt=0,lt=65536"`
	// PublicURL is the externally reachable base used in hypermedia links.
	// Empty means http://localhost:{port}.
	PublicURL   string   `mapstructure:"public_url" yaml:"public_url" validate:"omitempty,url"`
	LogLevel    string   `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat   string   `mapstructure:"log_format" yaml:"log_format" validate:"oneof=json text"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

type SOAPConfig struct {
	WSDLURL string        `mapstructure:"wsdl_url" yaml:"wsdl_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

// envBindings maps config keys to the environment variables that may set them.
// The unprefixed names are kept for existing deployments.
var envBindings = map[string][]string{
	"server.port":         {"GATEWAY_SERVER_PORT", "PORT"},
	"server.public_url":   {"GATEWAY_SERVER_PUBLIC_URL"},
	"server.log_level":    {"GATEWAY_SERVER_LOG_LEVEL"},
	"server.log_format":   {"GATEWAY_SERVER_LOG_FORMAT"},
	"server.cors_origins": {"GATEWAY_SERVER_CORS_ORIGINS"},
	"upstream.base_url":   {"GATEWAY_UPSTREAM_BASE_URL", "DJANGO_API_URL"},
	"upstream.timeout":    {"GATEWAY_UPSTREAM_TIMEOUT"},
	"soap.wsdl_url":       {"GATEWAY_SOAP_WSDL_URL", "DJANGO_SOAP_WSDL"},
	"soap.timeout":        {"GATEWAY_SOAP_TIMEOUT"},
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.timeout", DefaultUpstreamTimeout)
	v.SetDefault("soap.wsdl_url", "")
	v.SetDefault("soap.timeout", DefaultSOAPTimeout)
	for key, envs := range envBindings {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
}

// Load builds a Config from v, reading file when it is not empty.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config validation failed: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(msgs, "; "))
}

// PublicBaseURL returns the base URL the gateway advertises in links.
func (c *Config) PublicBaseURL() string {
	if c.Server.PublicURL != "" {
		return strings.TrimRight(c.Server.PublicURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", c.Server.Port)
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// YAML renders the effective configuration.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Port:      DefaultPort,
			LogLevel:  "info",
			LogFormat: "json",
		},
		Upstream: UpstreamConfig{Timeout: DefaultUpstreamTimeout},
		SOAP:     SOAPConfig{Timeout: DefaultSOAPTimeout},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Upstream.BaseURL = strings.TrimRight(strings.TrimSpace(c.Upstream.BaseURL), "/")
	c.SOAP.WSDLURL = strings.TrimSpace(c.SOAP.WSDLURL)
	c.Server.LogLevel = strings.ToLower(c.Server.LogLevel)
	c.Server.LogFormat = strings.ToLower(c.Server.LogFormat)
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
}
