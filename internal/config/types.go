package config

// Config is the on-disk configuration. Durations are Go duration strings
// (e.g. "500ms", "10s", "1m").
type Config struct {
	Poll     PollConfig     `json:"poll"`
	Upstream UpstreamConfig `json:"upstream"`
	// ProURL is the site linked from alerts. Default: https://pro.boltz.exchange
	ProURL string `json:"pro_url,omitempty"`

	Telegram TelegramConfig `json:"telegram"`
	SimpleX  SimpleXConfig  `json:"simplex"`
	Ntfy     NtfyConfig     `json:"ntfy"`

	Dispatch DispatchConfig `json:"dispatch"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
}

// PollConfig controls the fee polling loop.
//
// Defaults (when fields are omitted/zero):
//   - interval: "60s"
//   - timeout: "0s" (a cycle is not bounded)
type PollConfig struct {
	Interval string `json:"interval,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type UpstreamConfig struct {
	BaseURL  string `json:"base_url,omitempty"` // default: https://api.boltz.exchange
	Referral string `json:"referral,omitempty"` // default: pro
	Timeout  string `json:"timeout,omitempty"`  // default: 15s
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type SimpleXConfig struct {
	Enabled    bool   `json:"enabled"`
	AdapterURL string `json:"adapter_url"`
	// ReadyTimeout bounds the wait for the bridge on startup. Default: 60s.
	ReadyTimeout string `json:"ready_timeout,omitempty"`
}

// NtfyConfig configures the push channel.
//
// Security note: auth_header and basic_pass are secrets and are never logged.
type NtfyConfig struct {
	Enabled         bool   `json:"enabled"`
	BaseURL         string `json:"base_url"`
	AuthHeader      string `json:"auth_header,omitempty"`
	BasicUser       string `json:"basic_user,omitempty"`
	BasicPass       string `json:"basic_pass,omitempty"`
	DefaultPriority string `json:"default_priority,omitempty"`
	Title           string `json:"title,omitempty"`
}

// DispatchConfig controls notification delivery.
//
// Defaults: send_timeout "15s", rate_per_sec 0 (unpaced).
type DispatchConfig struct {
	SendTimeout string  `json:"send_timeout,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log records to an operator chat through the
// Telegram adapter. It requires telegram.enabled.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/feebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
