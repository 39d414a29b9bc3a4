package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/drblury/botflow/internal/runtime/backoff"
)

// Transport kinds accepted in bots[].transport.type.
const (
	TransportWSClient   = "ws-client"
	TransportWSServer   = "ws-server"
	TransportHTTPClient = "http-client"
	TransportHTTPServer = "http-server"
)

const (
	DefaultLogLevel          = "info"
	DefaultTimeout           = 30 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatGrace    = 3
	DefaultPollInterval      = time.Second
	DefaultRequestTimeout    = 30 * time.Second
	DefaultEventBufferSize   = 256
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultStatusPort        = 8081
)

const redactedValue = "***REDACTED***"

// Config is the fully materialised runtime configuration. Environment
// references are resolved before parsing; nothing re-reads the environment
// afterwards.
type Config struct {
	Global GlobalConfig `yaml:"global"`
	Bots   []BotConfig  `yaml:"bots"`
	Status StatusConfig `yaml:"status"`
}

// GlobalConfig holds settings shared by every bot.
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// TimeoutMs bounds a single handler's Handle call.
	TimeoutMs int         `yaml:"timeout_ms"`
	Retry     RetryConfig `yaml:"retry"`

	// EventBufferSize is the per-bot inbox capacity between the transport
	// read loop and dispatch.
	EventBufferSize int `yaml:"event_buffer_size"`
	// HeartbeatGrace is how many missed heartbeat intervals are tolerated.
	HeartbeatGrace      int `yaml:"heartbeat_grace"`
	ShutdownTimeoutSecs int `yaml:"shutdown_timeout_secs"`
}

// RetryConfig mirrors backoff.Policy in configuration units.
type RetryConfig struct {
	MaxRetries        RetryLimit `yaml:"max_retries"`
	InitialDelayMs    int        `yaml:"initial_delay_ms"`
	MaxDelayMs        int        `yaml:"max_delay_ms"`
	BackoffMultiplier float64    `yaml:"backoff_multiplier"`
}

// BotConfig describes one bot instance.
type BotConfig struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name"`
	Adapter   string          `yaml:"adapter"`
	Enabled   *bool           `yaml:"enabled"`
	Transport TransportConfig `yaml:"transport"`
}

// TransportConfig selects and tunes the bot's connection.
type TransportConfig struct {
	Type                  string       `yaml:"type"`
	URL                   string       `yaml:"url"`
	AccessToken           string       `yaml:"access_token"`
	AutoReconnect         *bool        `yaml:"auto_reconnect"`
	HeartbeatIntervalSecs *int         `yaml:"heartbeat_interval_secs"`
	PollIntervalMs        int          `yaml:"poll_interval_ms"`
	TimeoutSecs           int          `yaml:"timeout_secs"`
	Retry                 *RetryConfig `yaml:"retry"`
}

// StatusConfig controls the read-only status API.
type StatusConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Port               int      `yaml:"port"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// Default returns a configuration with every global default applied and no
// bots.
func Default() *Config {
	return &Config{
		Global: GlobalConfig{
			LogLevel:            DefaultLogLevel,
			LogFormat:           "text",
			TimeoutMs:           int(DefaultTimeout / time.Millisecond),
			Retry:               DefaultRetry(),
			EventBufferSize:     DefaultEventBufferSize,
			HeartbeatGrace:      DefaultHeartbeatGrace,
			ShutdownTimeoutSecs: int(DefaultShutdownTimeout / time.Second),
		},
		Status: StatusConfig{Port: DefaultStatusPort},
	}
}

// DefaultRetry returns the retry settings used when none are configured.
func DefaultRetry() RetryConfig {
	p := backoff.Default()
	return RetryConfig{
		MaxRetries:        UnboundedRetries(),
		InitialDelayMs:    int(p.InitialDelay / time.Millisecond),
		MaxDelayMs:        int(p.MaxDelay / time.Millisecond),
		BackoffMultiplier: p.Multiplier,
	}
}

// DispatchTimeout is the per-handler timeout.
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Global.TimeoutMs) * time.Millisecond
}

// ShutdownTimeout bounds how long bots may drain their inbox on shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Global.ShutdownTimeoutSecs <= 0 {
		return DefaultShutdownTimeout
	}
	return time.Duration(c.Global.ShutdownTimeoutSecs) * time.Second
}

// EnabledBots returns the bots that should be started.
func (c *Config) EnabledBots() []BotConfig {
	out := make([]BotConfig, 0, len(c.Bots))
	for _, b := range c.Bots {
		if b.IsEnabled() {
			out = append(out, b)
		}
	}
	return out
}

// Bot returns the bot configured under id.
func (c *Config) Bot(id string) (BotConfig, bool) {
	for _, b := range c.Bots {
		if b.ID == id {
			return b, true
		}
	}
	return BotConfig{}, false
}

// RetryPolicy converts the global retry block into a validated policy.
func (c *Config) RetryPolicy() (backoff.Policy, error) {
	return c.Global.Retry.Policy()
}

// BotRetryPolicy returns the bot's retry override merged over the global
// settings. Unset override fields inherit the global value.
func (c *Config) BotRetryPolicy(b BotConfig) (backoff.Policy, error) {
	merged := c.Global.Retry
	if o := b.Transport.Retry; o != nil {
		if o.MaxRetries.set {
			merged.MaxRetries = o.MaxRetries
		}
		if o.InitialDelayMs != 0 {
			merged.InitialDelayMs = o.InitialDelayMs
		}
		if o.MaxDelayMs != 0 {
			merged.MaxDelayMs = o.MaxDelayMs
		}
		if o.BackoffMultiplier != 0 {
			merged.BackoffMultiplier = o.BackoffMultiplier
		}
	}
	return merged.Policy()
}

// HeartbeatGrace returns the number of missed intervals tolerated.
func (c *Config) HeartbeatGrace() int {
	if c.Global.HeartbeatGrace <= 0 {
		return DefaultHeartbeatGrace
	}
	return c.Global.HeartbeatGrace
}

// EventBufferSize returns the per-bot inbox capacity.
func (c *Config) EventBufferSize() int {
	if c.Global.EventBufferSize <= 0 {
		return DefaultEventBufferSize
	}
	return c.Global.EventBufferSize
}

// Policy validates r and converts it to a backoff.Policy.
func (r RetryConfig) Policy() (backoff.Policy, error) {
	return backoff.NewPolicy(
		r.MaxRetries.Int(),
		time.Duration(r.InitialDelayMs)*time.Millisecond,
		time.Duration(r.MaxDelayMs)*time.Millisecond,
		r.BackoffMultiplier,
	)
}

// IsEnabled defaults to true when the key is absent.
func (b BotConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// DisplayName falls back to the id.
func (b BotConfig) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	return b.ID
}

// ReconnectEnabled defaults to true when the key is absent.
func (t TransportConfig) ReconnectEnabled() bool {
	return t.AutoReconnect == nil || *t.AutoReconnect
}

// HeartbeatInterval returns the ping interval; zero disables supervision.
func (t TransportConfig) HeartbeatInterval() time.Duration {
	if t.HeartbeatIntervalSecs == nil {
		return DefaultHeartbeatInterval
	}
	return time.Duration(*t.HeartbeatIntervalSecs) * time.Second
}

// PollInterval is used by the http-client transport.
func (t TransportConfig) PollInterval() time.Duration {
	if t.PollIntervalMs <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

// RequestTimeout bounds individual HTTP requests.
func (t TransportConfig) RequestTimeout() time.Duration {
	if t.TimeoutSecs <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(t.TimeoutSecs) * time.Second
}

// IsServer reports whether the kind accepts inbound connections.
func (t TransportConfig) IsServer() bool {
	return t.Type == TransportWSServer || t.Type == TransportHTTPServer
}

func (c Config) String() string {
	copy := c
	copy.Bots = make([]BotConfig, len(c.Bots))
	for i, b := range c.Bots {
		if b.Transport.AccessToken != "" {
			b.Transport.AccessToken = redactedValue
		}
		b.Transport.URL = redactURLCredentials(b.Transport.URL)
		copy.Bots[i] = b
	}
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(copy))
}

// redactURLCredentials masks passwords and access_token query values.
func redactURLCredentials(rawURL string) string {
	if rawURL == "" {
		return rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "***REDACTED_URL***"
	}
	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), redactedValue)
		}
	}
	q := parsed.Query()
	if q.Has("access_token") {
		q.Set("access_token", redactedValue)
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}

func schemeAllowed(kind, rawURL string) bool {
	var schemes []string
	switch kind {
	case TransportWSClient, TransportWSServer:
		schemes = []string{"ws://", "wss://"}
	case TransportHTTPClient, TransportHTTPServer:
		schemes = []string{"http://", "https://"}
	default:
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, s := range schemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	return false
}

// GetType, GetURL and GetAccessToken let TransportConfig satisfy the
// transport builder's config contract.
func (t TransportConfig) GetType() string        { return t.Type }
func (t TransportConfig) GetURL() string         { return t.URL }
func (t TransportConfig) GetAccessToken() string { return t.AccessToken }
