package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"hooklog/internal/transport/webhook"
)

var ErrInvalid = errors.New("invalid config")

const (
	DefaultPeriod           = "2s"
	DefaultQueueSize        = 100
	DefaultBulkMessageLimit = 2000
	DefaultMessageLimit     = 2000
	DefaultWebhookTimeout   = "10s"
	DefaultReportSchedule   = "@daily"
	DefaultLogLevel         = "info"
	DefaultWebhookMinLevel  = "warn"
)

// Default returns a config with every optional field at its default. The
// webhook endpoint still has to be filled in.
func Default() *Config {
	cfg := &Config{
		Webhook: WebhookConfig{Driver: DriverDiscord, Timeout: DefaultWebhookTimeout},
		Dispatcher: DispatcherConfig{
			Period:           DefaultPeriod,
			QueueSize:        IntPtr(DefaultQueueSize),
			BulkMessageLimit: IntPtr(DefaultBulkMessageLimit),
			MessageLimit:     IntPtr(DefaultMessageLimit),
		},
		Logging: LoggingConfig{
			Level:   DefaultLogLevel,
			Console: true,
			Webhook: LoggingWebhook{MinLevel: DefaultWebhookMinLevel},
		},
	}
	return cfg
}

// Validate fills defaults in place and reports every invalid field at once.
// The returned error wraps ErrInvalid.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(validateWebhook(&cfg.Webhook))
	add(validateDispatcher(&cfg.Dispatcher))
	add(validateLogging(&cfg.Logging))
	add(validateStorage(cfg.Storage))
	add(validateReport(cfg.Report))

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func validateWebhook(w *WebhookConfig) error {
	w.Driver = strings.ToLower(strings.TrimSpace(w.Driver))
	if w.Driver == "" {
		w.Driver = DriverDiscord
	}
	if strings.TrimSpace(w.Timeout) == "" {
		w.Timeout = DefaultWebhookTimeout
	}
	if _, err := ParseDurationField("webhook.timeout", w.Timeout); err != nil {
		return err
	}

	switch w.Driver {
	case DriverDiscord:
		if _, err := webhook.ValidateURL(w.URL); err != nil {
			return fmt.Errorf("webhook.url: %w", err)
		}
		if w.AvatarURL != "" {
			if _, err := webhook.ValidateURL(w.AvatarURL); err != nil {
				return fmt.Errorf("webhook.avatar_url: %w", err)
			}
		}
	case DriverTelegram:
		if strings.TrimSpace(w.Token) == "" {
			return errors.New("webhook.token is required when webhook.driver=telegram")
		}
		if w.ChatID == 0 {
			return errors.New("webhook.chat_id is required when webhook.driver=telegram")
		}
		if w.ThreadID < 0 {
			return errors.New("webhook.thread_id must be >= 0")
		}
	default:
		return fmt.Errorf("webhook.driver: unknown driver %q", w.Driver)
	}
	return nil
}

func validateDispatcher(d *DispatcherConfig) error {
	var errs []error
	if strings.TrimSpace(d.Period) == "" {
		d.Period = DefaultPeriod
	}
	if p, err := ParseDurationField("dispatcher.period", d.Period); err != nil {
		errs = append(errs, err)
	} else if p == 0 {
		errs = append(errs, errors.New("dispatcher.period must be > 0"))
	}

	positive := func(name string, v **int, def int) {
		switch {
		case *v == nil:
			*v = IntPtr(def)
		case **v <= 0:
			errs = append(errs, fmt.Errorf("dispatcher.%s must be > 0 (got %d)", name, **v))
		}
	}
	positive("queue_size", &d.QueueSize, DefaultQueueSize)
	positive("bulk_message_limit", &d.BulkMessageLimit, DefaultBulkMessageLimit)
	positive("message_limit", &d.MessageLimit, DefaultMessageLimit)
	return errors.Join(errs...)
}

func validLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug", "info", "warn", "warning", "error", "critical", "fatal":
		return true
	}
	return false
}

func validateLogging(l *LoggingConfig) error {
	if strings.TrimSpace(l.Level) == "" {
		l.Level = DefaultLogLevel
	}
	if !validLevel(l.Level) {
		return fmt.Errorf("logging.level: unknown level %q", l.Level)
	}
	if strings.TrimSpace(l.Webhook.MinLevel) == "" {
		l.Webhook.MinLevel = DefaultWebhookMinLevel
	}
	if !validLevel(l.Webhook.MinLevel) {
		return fmt.Errorf("logging.webhook.min_level: unknown level %q", l.Webhook.MinLevel)
	}
	if l.File.Enabled && strings.TrimSpace(l.File.Path) == "" {
		return errors.New("logging.file.path is required when logging.file.enabled=true")
	}
	return nil
}

func validateStorage(s *StorageConfig) error {
	if s == nil {
		return nil
	}
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	switch driver {
	case "", "none":
		return nil
	case "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
	}
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	if s.Retention < 0 {
		return errors.New("storage.retention must be >= 0")
	}
	_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	return err
}

func validateReport(r *ReportConfig) error {
	if r == nil || !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Schedule) == "" {
		r.Schedule = DefaultReportSchedule
	}
	if _, err := cron.ParseStandard(r.Schedule); err != nil {
		return fmt.Errorf("report.schedule: %w", err)
	}
	if tz := strings.TrimSpace(r.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("report.timezone: %w", err)
		}
	}
	return nil
}
