package app

import (
	"fmt"
	"strings"
	"time"

	"hooklog/internal/config"
	"hooklog/internal/dispatch"
	"hooklog/internal/format"
	"hooklog/internal/report"
	"hooklog/internal/storage"
	kit "hooklog/internal/transport"
	"hooklog/internal/transport/telegram"
	"hooklog/internal/transport/webhook"
	logx "hooklog/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Webhook: logx.WebhookConfig{Enabled: l.Webhook.Enabled, MinLevel: l.Webhook.MinLevel},
	}
}

func mapDispatcher(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatcher
	period, err := config.ParseDurationOrDefault("dispatcher.period", d.Period, dispatch.DefaultPeriod)
	if err != nil {
		return dispatch.Config{}, err
	}
	lim := d.Limits()
	dc := dispatch.Config{
		Period:           period,
		QueueCapacity:    lim.QueueSize,
		BulkMessageLimit: lim.BulkMessageLimit,
	}
	return dc, dc.Validate()
}

func mapBuilder(cfg *config.Config) format.Builder {
	return format.Builder{MessageLimit: cfg.Dispatcher.Limits().MessageLimit}
}

func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		Retention:   sc.Retention,
	}, true, nil
}

func mapReport(cfg *config.Config) (report.Config, bool) {
	r := cfg.Report
	if r == nil || !r.Enabled {
		return report.Config{}, false
	}
	return report.Config{Schedule: r.Schedule, Timezone: r.Timezone}, true
}

// newSender builds the transport selected by webhook.driver.
func newSender(cfg *config.Config, log logx.Logger) (kit.Sender, error) {
	w := cfg.Webhook
	timeout, err := config.ParseDurationOrDefault("webhook.timeout", w.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	switch w.Driver {
	case config.DriverDiscord, "":
		return webhook.New(webhook.Config{
			URL:                 w.URL,
			Username:            w.Username,
			AvatarURL:           w.AvatarURL,
			Timeout:             timeout,
			CompressAttachments: w.CompressAttachments,
		}, webhook.WithLogger(log))
	case config.DriverTelegram:
		return telegram.New(telegram.Config{
			Token:    w.Token,
			ChatID:   w.ChatID,
			ThreadID: w.ThreadID,
			APIURL:   w.APIURL,
			Timeout:  timeout,
		}, log)
	default:
		return nil, fmt.Errorf("unknown webhook.driver: %s", w.Driver)
	}
}
