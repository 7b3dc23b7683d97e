package config

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Reminder ReminderConfig `json:"reminder"`
	Mail     MailConfig     `json:"mail"`

	// Telegram optionally mirrors every reminder into a chat. Best-effort:
	// mirror failures never affect the email result or the marker ledger.
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./casewatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// ReminderConfig controls the hearing reminder scheduler.
//
// All durations are Go duration strings (e.g. "5s", "1h", "720h").
//
// Defaults (when fields are omitted/zero):
//   - interval: "1h"
//   - lead: "24h"
//   - window: "1h"
//   - initial_delay: "5s"
//   - marker_retention: "0s" (markers are kept forever)
type ReminderConfig struct {
	Enabled bool `json:"enabled"`

	// Interval between evaluation passes.
	Interval string `json:"interval,omitempty"`

	// Lead is how far ahead of a hearing the reminder goes out; Window is
	// the width of the match range ending at now+lead. Keeping the window
	// as wide as the interval means each hearing is discoverable during
	// exactly one expected tick.
	Lead   string `json:"lead,omitempty"`
	Window string `json:"window,omitempty"`

	// InitialDelay schedules one immediate pass shortly after start so the
	// first check does not wait a full interval.
	InitialDelay string `json:"initial_delay,omitempty"`

	// MarkerRetention prunes dispatched markers older than this. "0s"
	// disables pruning.
	MarkerRetention string `json:"marker_retention,omitempty"`

	// Trigger timezone (IANA name). Empty means the host timezone.
	Timezone string `json:"timezone,omitempty"`
}

// MailConfig configures the SMTP sender.
type MailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	// TLSPolicy: "opportunistic" (default), "mandatory", or "none".
	TLSPolicy string `json:"tls_policy,omitempty"`
	// SendTimeout bounds one SMTP dial+send. Default "10s".
	SendTimeout string `json:"send_timeout,omitempty"`
	// RatePerSec caps outbound sends. Default 1.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}
