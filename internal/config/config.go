// Package config loads the server configuration from an optional YAML
// file, a .env file and the process environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transport names accepted by MCP_TRANSPORT.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

const defaultPort = 3000

// Config is built once at startup and never modified afterwards.
type Config struct {
	BaseURL   string `yaml:"url" validate:"required,startswith=http"`
	APIKey    string `yaml:"api_key" validate:"required_with=APISecret"`
	APISecret string `yaml:"api_secret" validate:"required_with=APIKey"`
	Port      int    `yaml:"port" validate:"min=1,max=65535"`
	Transport string `yaml:"transport" validate:"oneof=stdio http"`
	Debug     bool   `yaml:"debug"`
	LogFile   string `yaml:"log_file"`

	// RequestTimeout bounds each upstream call. Zero means no timeout.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"min=0"`
}

// Error is a fatal configuration problem. Nothing should be served when
// Load returns one.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "configuration error: " + e.Msg + ": " + e.Err.Error()
	}
	return "configuration error: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

var validate = validator.New()

// Load reads the configuration. path is an optional YAML file; when empty,
// ERPNEXT_MCP_CONFIG is consulted.
func Load(path string) (*Config, error) {
	// .env is optional; the real environment always wins over it.
	_ = godotenv.Load()

	cfg := &Config{Port: defaultPort, Transport: TransportStdio}

	if path == "" {
		path = os.Getenv("ERPNEXT_MCP_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Msg: "read config file", Err: err}
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, &Error{Msg: "parse config file", Err: err}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Transport = strings.ToLower(cfg.Transport)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("ERPNEXT_URL"); ok {
		cfg.BaseURL = v
	}
	if v, ok := os.LookupEnv("ERPNEXT_API_KEY"); ok {
		cfg.APIKey = v
	}
	if v, ok := os.LookupEnv("ERPNEXT_API_SECRET"); ok {
		cfg.APISecret = v
	}
	if v, ok := os.LookupEnv("MCP_TRANSPORT"); ok && v != "" {
		cfg.Transport = v
	}
	if v, ok := os.LookupEnv("MCP_LOG_FILE"); ok {
		cfg.LogFile = v
	}
	if v, ok := os.LookupEnv("MCP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &Error{Msg: fmt.Sprintf("MCP_PORT must be a number, got %q", v)}
		}
		cfg.Port = port
	}
	if v, ok := os.LookupEnv("ERPNEXT_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &Error{Msg: fmt.Sprintf("ERPNEXT_TIMEOUT must be a duration such as 30s, got %q", v)}
		}
		cfg.RequestTimeout = d
	}
	if v, ok := os.LookupEnv("DEBUG"); ok {
		cfg.Debug = truthy(v)
	}
	return nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}

// Validate checks the invariants of a Config.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Msg: "validate", Err: err}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return &Error{Msg: strings.Join(msgs, "; ")}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.StructField() {
	case "BaseURL":
		if fe.Tag() == "required" {
			return "ERPNEXT_URL environment variable is required"
		}
		return "ERPNEXT_URL must include the protocol (http:// or https://)"
	case "APIKey", "APISecret":
		return "ERPNEXT_API_KEY and ERPNEXT_API_SECRET must be set together"
	case "Port":
		return fmt.Sprintf("MCP_PORT must be between 1 and 65535, got %v", fe.Value())
	case "Transport":
		return fmt.Sprintf("MCP_TRANSPORT must be %q or %q, got %q", TransportStdio, TransportHTTP, fe.Value())
	case "RequestTimeout":
		return fmt.Sprintf("ERPNEXT_TIMEOUT must not be negative, got %v", fe.Value())
	}
	return fe.Error()
}

// Authenticated reports whether both API credentials are present.
func (c *Config) Authenticated() bool {
	return c.APIKey != "" && c.APISecret != ""
}
