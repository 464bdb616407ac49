// ABOUTME: Configuration loading and parsing for reclama-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/reclama-gateway/internal/auth"
	"github.com/2389/reclama-gateway/internal/processor"
)

// EnvConfigPath overrides the default config location.
const EnvConfigPath = "RECLAMA_CONFIG"

// Channel providers
const (
	ProviderWhatsApp = "whatsapp"
	ProviderMatrix   = "matrix"
)

// Config represents the complete reclama-gateway configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Tailscale     TailscaleConfig     `yaml:"tailscale" toml:"tailscale"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
	Conversations ConversationsConfig `yaml:"conversations" toml:"conversations"`
	Retry         RetryConfig         `yaml:"retry" toml:"retry"`
	Webhook       WebhookConfig       `yaml:"webhook" toml:"webhook"`
	Channel       ChannelConfig       `yaml:"channel" toml:"channel"`
	Speech        EndpointConfig      `yaml:"speech" toml:"speech"`
	Assistant     EndpointConfig      `yaml:"assistant" toml:"assistant"`
	Drafting      EndpointConfig      `yaml:"drafting" toml:"drafting"`
	SMTP          SMTPConfig          `yaml:"smtp" toml:"smtp"`
	Events        EventsConfig        `yaml:"events" toml:"events"`
	Observer      ObserverConfig      `yaml:"observer" toml:"observer"`
	Processor     ProcessorConfig     `yaml:"processor" toml:"processor"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel, needed for provider webhooks
}

// DatabaseConfig holds the archive database location. An empty path keeps
// archives in memory.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig guards the observer API. An empty JWTSecret leaves it open.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret" toml:"jwt_secret"`
	PasswordHash string        `yaml:"password_hash" toml:"password_hash"` // bcrypt, enables POST /api/login
	TokenTTL     time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text or json
}

// ConversationsConfig holds conversation lifecycle timing
type ConversationsConfig struct {
	InactivityTimeout    time.Duration `yaml:"-" toml:"-"`
	SweepInterval        time.Duration `yaml:"-" toml:"-"`
	HeartbeatInterval    time.Duration `yaml:"-" toml:"-"`
	TTSCooldown          time.Duration `yaml:"-" toml:"-"`
	DedupeTTL            time.Duration `yaml:"-" toml:"-"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
	DedupeMaxSize        int           `yaml:"dedupe_max_size" toml:"dedupe_max_size"`

	// Raw string values for unmarshaling
	InactivityTimeoutRaw string `yaml:"inactivity_timeout" toml:"inactivity_timeout"`
	SweepIntervalRaw     string `yaml:"sweep_interval" toml:"sweep_interval"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	TTSCooldownRaw       string `yaml:"tts_cooldown" toml:"tts_cooldown"`
	DedupeTTLRaw         string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// RetryConfig holds the retry policy for failed processing
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" toml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"-" toml:"-"`

	BaseDelayRaw string `yaml:"base_delay" toml:"base_delay"`
}

// WebhookConfig holds inbound webhook settings
type WebhookConfig struct {
	VerifyToken string   `yaml:"verify_token" toml:"verify_token"`
	AppSecret   string   `yaml:"app_secret" toml:"app_secret"`
	Objects     []string `yaml:"objects" toml:"objects"`
}

// ChannelConfig selects the messaging transport
type ChannelConfig struct {
	Provider string         `yaml:"provider" toml:"provider"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp" toml:"whatsapp"`
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`
}

// WhatsAppConfig holds Cloud API credentials
type WhatsAppConfig struct {
	BaseURL        string        `yaml:"base_url" toml:"base_url"`
	AccessToken    string        `yaml:"access_token" toml:"access_token"`
	PhoneNumberID  string        `yaml:"phone_number_id" toml:"phone_number_id"`
	SendsPerSecond float64       `yaml:"sends_per_second" toml:"sends_per_second"`
	Timeout        time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Homeserver   string        `yaml:"homeserver" toml:"homeserver"`
	UserID       string        `yaml:"user_id" toml:"user_id"`
	AccessToken  string        `yaml:"access_token" toml:"access_token"`
	AllowedRooms []string      `yaml:"allowed_rooms" toml:"allowed_rooms"`
	Timeout      time.Duration `yaml:"-" toml:"-"` // per homeserver call

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// EndpointConfig describes an HTTP collaborator
type EndpointConfig struct {
	BaseURL string        `yaml:"base_url" toml:"base_url"`
	APIKey  string        `yaml:"api_key" toml:"api_key"`
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// SMTPConfig holds the optional mailer settings. An empty host disables mail.
type SMTPConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	From     string `yaml:"from" toml:"from"`
	Security string `yaml:"security" toml:"security"` // tls, starttls or none
}

// EventsConfig sizes the event bus
type EventsConfig struct {
	QueueSize int `yaml:"queue_size" toml:"queue_size"`
}

// ObserverConfig tunes the WebSocket observer transport
type ObserverConfig struct {
	PingInterval   time.Duration `yaml:"-" toml:"-"`
	MaxMissedPongs int           `yaml:"max_missed_pongs" toml:"max_missed_pongs"`
	AllowedOrigins []string      `yaml:"allowed_origins" toml:"allowed_origins"`

	PingIntervalRaw string `yaml:"ping_interval" toml:"ping_interval"`
}

// ProcessorConfig overrides processor behavior and the message catalogue
type ProcessorConfig struct {
	VoiceTrigger     string             `yaml:"voice_trigger" toml:"voice_trigger"`
	DocumentTriggers []string           `yaml:"document_triggers" toml:"document_triggers"`
	Messages         processor.Messages `yaml:"messages" toml:"messages"`
}

// DefaultPath returns the config path: $RECLAMA_CONFIG, then
// $XDG_CONFIG_HOME/reclama/gateway.yaml, then ~/.config/reclama/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "reclama", "gateway.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gateway.yaml"
	}
	return filepath.Join(home, ".config", "reclama", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration bytes the same way Load does.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Tailscale.Enabled && c.Tailscale.StateDir == "" {
		c.Tailscale.StateDir = filepath.Join(filepath.Dir(DefaultPath()), "tsnet")
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	conv := &c.Conversations
	setDuration(&conv.InactivityTimeout, 30*time.Minute)
	setDuration(&conv.SweepInterval, 5*time.Minute)
	setDuration(&conv.HeartbeatInterval, 45*time.Second)
	setDuration(&conv.TTSCooldown, 30*time.Second)
	setDuration(&conv.DedupeTTL, 10*time.Minute)
	if conv.MaxReconnectAttempts <= 0 {
		conv.MaxReconnectAttempts = 5
	}
	if conv.DedupeMaxSize <= 0 {
		conv.DedupeMaxSize = 10000
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	setDuration(&c.Retry.BaseDelay, time.Second)

	if len(c.Webhook.Objects) == 0 {
		c.Webhook.Objects = []string{"whatsapp_business_account"}
	}
	if c.Channel.Provider == "" {
		c.Channel.Provider = ProviderWhatsApp
	}
	if c.SMTP.Host != "" && c.SMTP.Security == "" {
		c.SMTP.Security = "starttls"
	}
	if c.Events.QueueSize <= 0 {
		c.Events.QueueSize = 256
	}
	setDuration(&c.Observer.PingInterval, 30*time.Second)
	if c.Observer.MaxMissedPongs <= 0 {
		c.Observer.MaxMissedPongs = 3
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}
	if c.Auth.PasswordHash != "" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.password_hash requires auth.jwt_secret")
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}

	switch c.Channel.Provider {
	case ProviderWhatsApp:
		if c.Channel.WhatsApp.AccessToken == "" {
			return fmt.Errorf("channel.whatsapp.access_token is required")
		}
		if c.Channel.WhatsApp.PhoneNumberID == "" {
			return fmt.Errorf("channel.whatsapp.phone_number_id is required")
		}
		if c.Webhook.VerifyToken == "" {
			return fmt.Errorf("webhook.verify_token is required for the whatsapp channel")
		}
	case ProviderMatrix:
		m := c.Channel.Matrix
		if err := validateURL("channel.matrix.homeserver", m.Homeserver); err != nil {
			return err
		}
		if m.UserID == "" {
			return fmt.Errorf("channel.matrix.user_id is required")
		}
		if m.AccessToken == "" {
			return fmt.Errorf("channel.matrix.access_token is required")
		}
	default:
		return fmt.Errorf("channel.provider %q must be %s or %s", c.Channel.Provider, ProviderWhatsApp, ProviderMatrix)
	}

	for name, ep := range map[string]EndpointConfig{
		"speech":    c.Speech,
		"assistant": c.Assistant,
		"drafting":  c.Drafting,
	} {
		if err := validateURL(name+".base_url", ep.BaseURL); err != nil {
			return err
		}
	}

	if c.SMTP.Host != "" {
		if c.SMTP.From == "" && c.SMTP.Username == "" {
			return fmt.Errorf("smtp.from or smtp.username is required when smtp.host is set")
		}
		if !slices.Contains([]string{"tls", "starttls", "none"}, c.SMTP.Security) {
			return fmt.Errorf("smtp.security %q must be tls, starttls or none", c.SMTP.Security)
		}
	}

	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"conversations.inactivity_timeout", cfg.Conversations.InactivityTimeoutRaw, &cfg.Conversations.InactivityTimeout},
		{"conversations.sweep_interval", cfg.Conversations.SweepIntervalRaw, &cfg.Conversations.SweepInterval},
		{"conversations.heartbeat_interval", cfg.Conversations.HeartbeatIntervalRaw, &cfg.Conversations.HeartbeatInterval},
		{"conversations.tts_cooldown", cfg.Conversations.TTSCooldownRaw, &cfg.Conversations.TTSCooldown},
		{"conversations.dedupe_ttl", cfg.Conversations.DedupeTTLRaw, &cfg.Conversations.DedupeTTL},
		{"retry.base_delay", cfg.Retry.BaseDelayRaw, &cfg.Retry.BaseDelay},
		{"channel.whatsapp.timeout", cfg.Channel.WhatsApp.TimeoutRaw, &cfg.Channel.WhatsApp.Timeout},
		{"channel.matrix.timeout", cfg.Channel.Matrix.TimeoutRaw, &cfg.Channel.Matrix.Timeout},
		{"speech.timeout", cfg.Speech.TimeoutRaw, &cfg.Speech.Timeout},
		{"assistant.timeout", cfg.Assistant.TimeoutRaw, &cfg.Assistant.Timeout},
		{"drafting.timeout", cfg.Drafting.TimeoutRaw, &cfg.Drafting.Timeout},
		{"observer.ping_interval", cfg.Observer.PingIntervalRaw, &cfg.Observer.PingInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
