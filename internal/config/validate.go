package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultPollInterval    = 60 * time.Second
	DefaultUpstreamURL     = "https://api.boltz.exchange"
	DefaultReferral        = "pro"
	DefaultUpstreamTimeout = 15 * time.Second
	DefaultProURL          = "https://pro.boltz.exchange"
	DefaultSendTimeout     = 15 * time.Second
	DefaultReadyTimeout    = 60 * time.Second
	DefaultStoragePath     = "./data/feebot.db"

	minPollInterval = time.Second
)

// Validate reports every problem in c at once. Defaults are not applied.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	duration := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if raw := strings.TrimSpace(c.Poll.Interval); raw != "" {
		d, err := ParseDurationField("poll.interval", raw)
		switch {
		case err != nil:
			add(err)
		case d < minPollInterval:
			add(fmt.Errorf("poll.interval: must be at least %s", minPollInterval))
		}
	}
	duration("poll.timeout", c.Poll.Timeout)
	duration("upstream.timeout", c.Upstream.Timeout)
	duration("telegram.poll_timeout", c.Telegram.PollTimeout)
	duration("simplex.ready_timeout", c.SimpleX.ReadyTimeout)
	duration("dispatch.send_timeout", c.Dispatch.SendTimeout)
	duration("storage.busy_timeout", c.Storage.BusyTimeout)

	add(checkURL("upstream.base_url", c.Upstream.BaseURL, false))
	add(checkURL("pro_url", c.ProURL, false))

	if !c.Telegram.Enabled && !c.SimpleX.Enabled && !c.Ntfy.Enabled {
		add(errors.New("no platform enabled: enable at least one of telegram, simplex, ntfy"))
	}
	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		add(errors.New("telegram.token: required when telegram is enabled"))
	}
	if c.SimpleX.Enabled {
		add(checkURL("simplex.adapter_url", c.SimpleX.AdapterURL, true))
	}
	if c.Ntfy.Enabled {
		add(checkURL("ntfy.base_url", c.Ntfy.BaseURL, true))
		if (c.Ntfy.BasicUser == "") != (c.Ntfy.BasicPass == "") {
			add(errors.New("ntfy: basic_user and basic_pass must be set together"))
		}
	}

	if c.Dispatch.RatePerSec < 0 {
		add(errors.New("dispatch.rate_per_sec: must be >= 0"))
	}

	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}
	if c.Logging.Telegram.Enabled {
		if !c.Telegram.Enabled {
			add(errors.New("logging.telegram: requires telegram.enabled"))
		}
		if c.Logging.Telegram.ChatID == 0 {
			add(errors.New("logging.telegram.chat_id: required"))
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "memory":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	return errors.Join(errs...)
}

func checkURL(path, raw string, required bool) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return fmt.Errorf("%s: required", path)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme must be http or https, got %q", path, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: missing host", path)
	}
	return nil
}

// The accessors below resolve defaults. They assume Validate passed, so parse
// errors fall back to the default.

func (c *Config) PollInterval() time.Duration {
	d, _ := ParseDurationOrDefault("poll.interval", c.Poll.Interval, DefaultPollInterval)
	return d
}

func (c *Config) PollTimeout() time.Duration {
	d, _ := ParseDurationField("poll.timeout", c.Poll.Timeout)
	return d
}

func (c *Config) UpstreamTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("upstream.timeout", c.Upstream.Timeout, DefaultUpstreamTimeout)
	return d
}

func (c *Config) TelegramPollTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
	return d
}

func (c *Config) SimpleXReadyTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("simplex.ready_timeout", c.SimpleX.ReadyTimeout, DefaultReadyTimeout)
	return d
}

func (c *Config) SendTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("dispatch.send_timeout", c.Dispatch.SendTimeout, DefaultSendTimeout)
	return d
}

func (c *Config) StorageBusyTimeout() time.Duration {
	d, _ := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	return d
}

func (c *Config) ResolvedProURL() string {
	if u := strings.TrimSpace(c.ProURL); u != "" {
		return u
	}
	return DefaultProURL
}

func (c *Config) StorageDriver() string {
	if d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d != "" {
		return d
	}
	return "sqlite"
}

func (c *Config) StoragePath() string {
	if p := strings.TrimSpace(c.Storage.Path); p != "" {
		return p
	}
	return DefaultStoragePath
}
