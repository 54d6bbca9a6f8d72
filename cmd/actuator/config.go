package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/rendis/actuator/internal/actions"
	"github.com/rendis/actuator/internal/auth"
	"github.com/rendis/actuator/internal/jsoncodec"
)

// envPrefix namespaces environment overrides: ACTUATOR_LISTEN_ADDR etc.
const envPrefix = "ACTUATOR"

// Config holds all actuator server configuration.
// Priority: env vars > settings file > defaults.
type Config struct {
	ListenAddr     string   `json:"listen_addr" yaml:"listen_addr" envconfig:"LISTEN_ADDR"`
	BasePath       string   `json:"base_path" yaml:"base_path" envconfig:"BASE_PATH"`
	LogLevel       string   `json:"log_level" yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat      string   `json:"log_format" yaml:"log_format" envconfig:"LOG_FORMAT"`
	DefaultTimeout Duration `json:"default_timeout" yaml:"default_timeout" envconfig:"DEFAULT_TIMEOUT"`
	MetricsPath    string   `json:"metrics_path" yaml:"metrics_path" envconfig:"METRICS_PATH"`

	JWTSecret string   `json:"jwt_secret" yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	JWTIssuer string   `json:"jwt_issuer" yaml:"jwt_issuer" envconfig:"JWT_ISSUER"`
	JWTLeeway Duration `json:"jwt_leeway" yaml:"jwt_leeway" envconfig:"JWT_LEEWAY"`
	// StaticTokens maps a bearer token to "subject [scope...]".
	StaticTokens map[string]string `json:"static_tokens" yaml:"static_tokens" envconfig:"STATIC_TOKENS"`

	// PubSub selects the event hub: "memory" or "gochannel".
	PubSub         string `json:"pubsub" yaml:"pubsub" envconfig:"PUBSUB"`
	SchedulerToken string `json:"scheduler_token" yaml:"scheduler_token" envconfig:"SCHEDULER_TOKEN"`
	MCPToken       string `json:"mcp_token" yaml:"mcp_token" envconfig:"MCP_TOKEN"`
}

// Duration is a time.Duration written as "15s" in settings files and env.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	v, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := jsoncodec.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"15s\": %w", err)
	}
	return d.Decode(s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(d.String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.Decode(node.Value)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func defaultConfig() Config {
	return Config{
		ListenAddr:     ":4200",
		BasePath:       "/",
		LogLevel:       "info",
		LogFormat:      "text",
		DefaultTimeout: Duration(actions.DefaultTimeout),
		MetricsPath:    "/metrics",
		PubSub:         "memory",
	}
}

func actuatorDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".actuator"
	}
	return filepath.Join(home, ".actuator")
}

// defaultSettingsPath returns the first existing settings file in the
// actuator directory, or "".
func defaultSettingsPath() string {
	for _, name := range []string{"settings.yaml", "settings.yml", "settings.json"} {
		p := filepath.Join(actuatorDir(), name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadConfig layers defaults, the settings file and the environment. An
// explicit path must exist; the default settings file is optional.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = defaultSettingsPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decodeSettings(path, data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case explicit || !os.IsNotExist(err):
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeSettings(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return jsoncodec.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported settings format %q", filepath.Ext(path))
	}
}

func (c Config) validate() error {
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be positive")
	}
	if !strings.HasPrefix(c.BasePath, "/") {
		return fmt.Errorf("base_path must start with /")
	}
	if c.MetricsPath != "" && !strings.HasPrefix(c.MetricsPath, "/") {
		return fmt.Errorf("metrics_path must start with /")
	}
	switch c.PubSub {
	case "memory", "gochannel":
	default:
		return fmt.Errorf("pubsub must be memory or gochannel, got %q", c.PubSub)
	}
	return nil
}

// authorizer builds the configured authorizer: static tokens first, then
// JWTs. Nil when neither is configured.
func (c Config) authorizer() auth.Authorizer {
	var chain auth.Chain
	if len(c.StaticTokens) > 0 {
		tokens := make(map[string]auth.Authorization, len(c.StaticTokens))
		for token, entry := range c.StaticTokens {
			fields := strings.Fields(entry)
			if len(fields) == 0 {
				continue
			}
			tokens[token] = auth.Authorization{Subject: fields[0], Scopes: fields[1:]}
		}
		chain = append(chain, auth.NewStaticAuthorizer(tokens))
	}
	if c.JWTSecret != "" {
		var opts []auth.JWTOption
		if c.JWTIssuer != "" {
			opts = append(opts, auth.WithIssuer(c.JWTIssuer))
		}
		if c.JWTLeeway > 0 {
			opts = append(opts, auth.WithLeeway(time.Duration(c.JWTLeeway)))
		}
		chain = append(chain, auth.NewJWTAuthorizer([]byte(c.JWTSecret), opts...))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	AuthChanged     bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.JWTSecret != new.JWTSecret || old.JWTIssuer != new.JWTIssuer || old.JWTLeeway != new.JWTLeeway || !equalTokens(old.StaticTokens, new.StaticTokens) {
		d.AuthChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.BasePath != new.BasePath {
		d.RestartNeeded = append(d.RestartNeeded, "base_path")
	}
	if old.LogFormat != new.LogFormat {
		d.RestartNeeded = append(d.RestartNeeded, "log_format")
	}
	if old.DefaultTimeout != new.DefaultTimeout {
		d.RestartNeeded = append(d.RestartNeeded, "default_timeout")
	}
	if old.MetricsPath != new.MetricsPath {
		d.RestartNeeded = append(d.RestartNeeded, "metrics_path")
	}
	if old.PubSub != new.PubSub {
		d.RestartNeeded = append(d.RestartNeeded, "pubsub")
	}
	if old.SchedulerToken != new.SchedulerToken {
		d.RestartNeeded = append(d.RestartNeeded, "scheduler_token")
	}
	return d
}

func equalTokens(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
