package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/botflow/internal/runtime/logging"
)

// Validate checks the whole configuration and reports every problem at once.
// Each joined error is a *errors.ConfigError.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateGlobal()...)
	errs = append(errs, c.validateBots()...)
	errs = append(errs, c.validateStatus()...)

	return errors.Join(errs...)
}

// ValidateConfig is a convenience function to validate a config pointer.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errspkg.ErrConfigRequired
	}
	return c.Validate()
}

func (c *Config) validateGlobal() []error {
	var errs []error
	if !loggingpkg.ValidLevel(c.Global.LogLevel) {
		errs = append(errs, errspkg.NewConfigError("global.log_level", "invalid log level %q, want one of trace, debug, info, warn, error", c.Global.LogLevel))
	}
	if f := strings.ToLower(c.Global.LogFormat); f != "" && f != "text" && f != "json" {
		errs = append(errs, errspkg.NewConfigError("global.log_format", "unknown format %q, want text or json", c.Global.LogFormat))
	}
	if c.Global.TimeoutMs <= 0 {
		errs = append(errs, errspkg.NewConfigError("global.timeout_ms", "must be greater than 0"))
	}
	if c.Global.EventBufferSize < 0 {
		errs = append(errs, errspkg.NewConfigError("global.event_buffer_size", "cannot be negative"))
	}
	if c.Global.HeartbeatGrace < 0 {
		errs = append(errs, errspkg.NewConfigError("global.heartbeat_grace", "cannot be negative"))
	}
	errs = append(errs, validateRetry("global.retry", c.Global.Retry)...)
	return errs
}

func validateRetry(field string, r RetryConfig) []error {
	if _, err := r.Policy(); err != nil {
		return []error{errspkg.NewConfigError(field, "%v", err)}
	}
	return nil
}

func (c *Config) validateBots() []error {
	var errs []error
	seen := make(map[string]int, len(c.Bots))
	for i, b := range c.Bots {
		prefix := fmt.Sprintf("bots[%d]", i)
		switch {
		case b.ID == "":
			errs = append(errs, errspkg.NewConfigError(prefix+".id", "is required"))
		case strings.ContainsAny(b.ID, " \t\n"):
			errs = append(errs, errspkg.NewConfigError(prefix+".id", "must not contain spaces, got %q", b.ID))
		default:
			if first, dup := seen[b.ID]; dup {
				errs = append(errs, errspkg.NewConfigError(prefix+".id", "duplicate bot id %q (first defined at bots[%d])", b.ID, first))
			} else {
				seen[b.ID] = i
			}
		}
		if strings.TrimSpace(b.Adapter) == "" {
			errs = append(errs, errspkg.NewConfigError(prefix+".adapter", "is required"))
		}
		errs = append(errs, c.validateTransport(prefix+".transport", b)...)
	}
	return errs
}

func (c *Config) validateTransport(field string, b BotConfig) []error {
	t := b.Transport
	var errs []error
	switch t.Type {
	case TransportWSClient, TransportWSServer, TransportHTTPClient, TransportHTTPServer:
	case "":
		return []error{errspkg.NewConfigError(field+".type", "is required")}
	default:
		return []error{errspkg.NewConfigError(field+".type", "unknown transport %q, want ws-client, ws-server, http-client or http-server", t.Type)}
	}

	switch {
	case t.URL == "":
		errs = append(errs, errspkg.NewConfigError(field+".url", "is required"))
	case !schemeAllowed(t.Type, t.URL):
		errs = append(errs, errspkg.NewConfigError(field+".url", "scheme does not match transport %s: %s", t.Type, redactURLCredentials(t.URL)))
	default:
		if err := validateURL(t); err != nil {
			errs = append(errs, errspkg.NewConfigError(field+".url", "%v", err))
		}
	}

	if t.HeartbeatIntervalSecs != nil && *t.HeartbeatIntervalSecs < 0 {
		errs = append(errs, errspkg.NewConfigError(field+".heartbeat_interval_secs", "cannot be negative"))
	}
	if t.PollIntervalMs < 0 {
		errs = append(errs, errspkg.NewConfigError(field+".poll_interval_ms", "cannot be negative"))
	}
	if t.TimeoutSecs < 0 {
		errs = append(errs, errspkg.NewConfigError(field+".timeout_secs", "cannot be negative"))
	}
	if t.Retry != nil {
		if _, err := c.BotRetryPolicy(b); err != nil {
			errs = append(errs, errspkg.NewConfigError(field+".retry", "%v", err))
		}
	}
	return errs
}

// validateURL checks what the scheme test cannot: a host for clients, and a
// bindable non-zero port plus absolute path for servers.
func validateURL(t TransportConfig) error {
	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Host == "" {
		return errors.New("url has no host")
	}
	if !t.IsServer() {
		return nil
	}
	_, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return fmt.Errorf("server url needs an explicit port: %w", err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	if u.Path != "" && !strings.HasPrefix(u.Path, "/") {
		return fmt.Errorf("path must start with '/', got %q", u.Path)
	}
	return nil
}

func (c *Config) validateStatus() []error {
	if !c.Status.Enabled {
		return nil
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		return []error{errspkg.NewConfigError("status.port", "invalid port %d", c.Status.Port)}
	}
	return nil
}
