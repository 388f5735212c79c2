package config

// Config is the on-disk configuration (JSON, JSON with comments, or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "2s", "1m").
type Config struct {
	Webhook    WebhookConfig    `json:"webhook"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Report     *ReportConfig    `json:"report,omitempty"`
}

// Webhook drivers.
const (
	DriverDiscord  = "discord"
	DriverTelegram = "telegram"
)

// WebhookConfig selects and configures the delivery endpoint.
//
// Example (discord):
//
//	"webhook": { "url": "https://discord.com/api/webhooks/<id>/<token>", "username": "api-prod" }
//
// Example (telegram):
//
//	"webhook": { "driver": "telegram", "token": "<bot token>", "chat_id": -1001234, "thread_id": 7 }
type WebhookConfig struct {
	// Driver is "discord" (default) or "telegram".
	Driver string `json:"driver,omitempty"`

	// Discord
	URL                 string `json:"url,omitempty"`
	Username            string `json:"username,omitempty"`
	AvatarURL           string `json:"avatar_url,omitempty"`
	CompressAttachments bool   `json:"compress_attachments,omitempty"`

	// Telegram (never logged)
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`

	// Timeout bounds one HTTP request. Default "10s".
	Timeout string `json:"timeout,omitempty"`
}

// DispatcherConfig controls batching and pacing.
//
// Defaults (when fields are omitted):
//   - period: "2s"
//   - queue_size: 100
//   - bulk_message_limit: 2000
//   - message_limit: 2000
//
// Zero and negative limits are rejected.
type DispatcherConfig struct {
	Period           string `json:"period,omitempty"`
	QueueSize        *int   `json:"queue_size,omitempty"`
	BulkMessageLimit *int   `json:"bulk_message_limit,omitempty"`
	// MessageLimit is the largest single record text; longer records are
	// sent as an attachment.
	MessageLimit *int `json:"message_limit,omitempty"`
}

// DispatcherLimits is the effective, comparable form of the dispatcher limits.
type DispatcherLimits struct {
	QueueSize        int
	BulkMessageLimit int
	MessageLimit     int
}

// Limits resolves the limits, substituting defaults for omitted fields.
func (d DispatcherConfig) Limits() DispatcherLimits {
	return DispatcherLimits{
		QueueSize:        intOr(d.QueueSize, DefaultQueueSize),
		BulkMessageLimit: intOr(d.BulkMessageLimit, DefaultBulkMessageLimit),
		MessageLimit:     intOr(d.MessageLimit, DefaultMessageLimit),
	}
}

func IntPtr(v int) *int { return &v }

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Webhook LoggingWebhook `json:"webhook"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingWebhook forwards the process' own log lines at or above MinLevel
// to the webhook.
type LoggingWebhook struct {
	Enabled  bool   `json:"enabled"`
	MinLevel string `json:"min_level"`
}

// StorageConfig controls the delivery journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hooklog.db", "retention": 10000 }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Retention   int    `json:"retention,omitempty"`
}

// ReportConfig controls the periodic status report sent through the
// dispatcher.
type ReportConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a 5-field cron expression or a descriptor ("@hourly").
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`
}
