package config

import (
	"sort"
	"strings"

	"feebot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Secrets (tokens, auth headers, passwords) are reported
// only as "*_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)
	section := func(name string, diff bool, fields ...logx.Field) {
		if !diff {
			return
		}
		changed = append(changed, name)
		attrs = append(attrs, fields...)
	}
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	o, n := oldCfg, newCfg

	section("poll", o.Poll != n.Poll,
		logx.String("poll.interval", n.PollInterval().String()),
		logx.String("poll.timeout", strings.TrimSpace(n.Poll.Timeout)),
	)

	section("upstream", o.Upstream != n.Upstream || o.ProURL != n.ProURL,
		logx.String("upstream.base_url", strings.TrimSpace(n.Upstream.BaseURL)),
		logx.String("upstream.referral", strings.TrimSpace(n.Upstream.Referral)),
		logx.String("pro_url", n.ResolvedProURL()),
	)

	section("telegram", o.Telegram.Enabled != n.Telegram.Enabled ||
		o.Telegram.Token != n.Telegram.Token ||
		o.Telegram.PollTimeout != n.Telegram.PollTimeout,
		logx.Bool("telegram.enabled", n.Telegram.Enabled),
		logx.Bool("telegram.token_set", set(n.Telegram.Token)),
		logx.String("telegram.poll_timeout", strings.TrimSpace(n.Telegram.PollTimeout)),
	)

	section("simplex", o.SimpleX != n.SimpleX,
		logx.Bool("simplex.enabled", n.SimpleX.Enabled),
		logx.String("simplex.adapter_url", strings.TrimSpace(n.SimpleX.AdapterURL)),
	)

	section("ntfy", o.Ntfy != n.Ntfy,
		logx.Bool("ntfy.enabled", n.Ntfy.Enabled),
		logx.String("ntfy.base_url", strings.TrimSpace(n.Ntfy.BaseURL)),
		logx.Bool("ntfy.auth_header_set", set(n.Ntfy.AuthHeader)),
		logx.Bool("ntfy.basic_auth_set", set(n.Ntfy.BasicUser) && set(n.Ntfy.BasicPass)),
		logx.String("ntfy.default_priority", n.Ntfy.DefaultPriority),
	)

	section("dispatch", o.Dispatch != n.Dispatch,
		logx.String("dispatch.send_timeout", n.SendTimeout().String()),
		logx.Float64("dispatch.rate_per_sec", n.Dispatch.RatePerSec),
	)

	section("logging", o.Logging != n.Logging,
		logx.String("logging.level", n.Logging.Level),
		logx.Bool("logging.console", n.Logging.Console),
		logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
		logx.Bool("logging.telegram_enabled", n.Logging.Telegram.Enabled),
	)

	section("storage", o.Storage != n.Storage,
		logx.String("storage.driver", n.StorageDriver()),
		logx.Bool("storage.path_set", set(n.Storage.Path)),
		logx.String("storage.busy_timeout", strings.TrimSpace(n.Storage.BusyTimeout)),
	)

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a
// restart. Poll interval and logging are applied live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "poll", "logging":
		default:
			out = append(out, s)
		}
	}
	return out
}

// LogConfig maps the logging section onto the logx service config.
func (c *Config) LogConfig() logx.Config {
	l := c.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Operator: logx.OperatorConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}
