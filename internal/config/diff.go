package config

import (
	"strings"

	logx "hooklog/pkg/logx"
)

// Config sections reported by SummarizeConfigChange.
const (
	SectionWebhook    = "webhook"
	SectionDispatcher = "dispatcher"
	SectionLogging    = "logging"
	SectionStorage    = "storage"
	SectionReport     = "report"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging them. Webhook URLs and bot tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	ow, nw := oldCfg.Webhook, newCfg.Webhook
	if ow != nw {
		changed = append(changed, SectionWebhook)
		attrs = append(attrs,
			logx.String("webhook.driver", nw.Driver),
			logx.Bool("webhook.url_changed", ow.URL != nw.URL),
			logx.Bool("webhook.token_changed", ow.Token != nw.Token),
			logx.String("webhook.username", nw.Username),
			logx.Bool("webhook.compress_attachments", nw.CompressAttachments),
		)
	}

	od, nd := oldCfg.Dispatcher, newCfg.Dispatcher
	if od.Period != nd.Period || od.Limits() != nd.Limits() {
		d := nd.Limits()
		changed = append(changed, SectionDispatcher)
		attrs = append(attrs,
			logx.String("dispatcher.period", nd.Period),
			logx.Int("dispatcher.queue_size", d.QueueSize),
			logx.Int("dispatcher.bulk_message_limit", d.BulkMessageLimit),
			logx.Int("dispatcher.message_limit", d.MessageLimit),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		l := newCfg.Logging
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", l.Level),
			logx.Bool("logging.console", l.Console),
			logx.Bool("logging.file_enabled", l.File.Enabled),
			logx.Bool("logging.webhook_enabled", l.Webhook.Enabled),
			logx.String("logging.webhook_min_level", l.Webhook.MinLevel),
		)
	}

	ost, nst := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if ost != nst {
		changed = append(changed, SectionStorage)
		attrs = append(attrs,
			logx.String("storage.driver", strings.ToLower(nst.Driver)),
			logx.String("storage.path", nst.Path),
			logx.Int("storage.retention", nst.Retention),
		)
	}

	ort, nrt := derefReport(oldCfg.Report), derefReport(newCfg.Report)
	if ort != nrt {
		changed = append(changed, SectionReport)
		attrs = append(attrs,
			logx.Bool("report.enabled", nrt.Enabled),
			logx.String("report.schedule", nrt.Schedule),
			logx.String("report.timezone", nrt.Timezone),
		)
	}

	return changed, attrs
}

// RestartRequired filters changed down to the sections that cannot be applied
// to a running process. Only logging is applied live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if s != SectionLogging {
			out = append(out, s)
		}
	}
	return out
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefReport(r *ReportConfig) ReportConfig {
	if r == nil {
		return ReportConfig{}
	}
	return *r
}
