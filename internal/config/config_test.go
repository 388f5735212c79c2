package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testURL = "https://discord.com/api/webhooks/1/abc"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAMLFillsDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "hooklog.yaml", `
webhook:
  url: `+testURL+`
  username: api-prod
dispatcher:
  queue_size: 500
logging:
  level: debug
  console: true
`)
	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Webhook.Driver != DriverDiscord || cfg.Webhook.Timeout != DefaultWebhookTimeout {
		t.Fatalf("webhook defaults not applied: %+v", cfg.Webhook)
	}
	d := cfg.Dispatcher
	if d.Period != DefaultPeriod || *d.QueueSize != 500 || *d.BulkMessageLimit != DefaultBulkMessageLimit || *d.MessageLimit != DefaultMessageLimit {
		t.Fatalf("dispatcher = %+v", d.Limits())
	}
	if cfg.Logging.Webhook.MinLevel != DefaultWebhookMinLevel {
		t.Fatalf("min level = %q", cfg.Logging.Webhook.MinLevel)
	}
}

func TestLoadJSONWithComments(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "hooklog.json", `{
  // delivery endpoint
  "webhook": {"url": "`+testURL+`"},
  "dispatcher": {"period": "500ms",},
  "report": {"enabled": true, "schedule": "0 9 * * *", "timezone": "UTC"},
}`)
	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatcher.Period != "500ms" {
		t.Fatalf("period = %q", cfg.Dispatcher.Period)
	}
	if cfg.Report == nil || cfg.Report.Schedule != "0 9 * * *" {
		t.Fatalf("report = %+v", cfg.Report)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit the config")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := Decode("x.json", []byte(`{"webhook":{"url":"`+testURL+`"},"dispatch":{}}`))
	if err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"missing url", func(c *Config) { c.Webhook.URL = "" }, "webhook.url"},
		{"bad scheme", func(c *Config) { c.Webhook.URL = "ftp://host/x" }, "webhook.url"},
		{"unknown driver", func(c *Config) { c.Webhook.Driver = "slack" }, "webhook.driver"},
		{"telegram without token", func(c *Config) { c.Webhook.Driver = DriverTelegram; c.Webhook.ChatID = 1 }, "webhook.token"},
		{"telegram ok", func(c *Config) {
			c.Webhook = WebhookConfig{Driver: DriverTelegram, Token: "t", ChatID: -100}
		}, ""},
		{"negative queue", func(c *Config) { c.Dispatcher.QueueSize = IntPtr(-1) }, "dispatcher.queue_size"},
		{"zero queue", func(c *Config) { c.Dispatcher.QueueSize = IntPtr(0) }, "dispatcher.queue_size"},
		{"zero bulk limit", func(c *Config) { c.Dispatcher.BulkMessageLimit = IntPtr(0) }, "dispatcher.bulk_message_limit"},
		{"zero message limit", func(c *Config) { c.Dispatcher.MessageLimit = IntPtr(0) }, "dispatcher.message_limit"},
		{"omitted limits", func(c *Config) { c.Dispatcher = DispatcherConfig{} }, ""},
		{"zero period string", func(c *Config) { c.Dispatcher.Period = "0s" }, "dispatcher.period"},
		{"bad period", func(c *Config) { c.Dispatcher.Period = "soon" }, "dispatcher.period"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"file without path", func(c *Config) { c.Logging.File.Enabled = true }, "logging.file.path"},
		{"storage without path", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"storage none", func(c *Config) { c.Storage = &StorageConfig{Driver: "none"} }, ""},
		{"bad schedule", func(c *Config) { c.Report = &ReportConfig{Enabled: true, Schedule: "every day"} }, "report.schedule"},
		{"bad timezone", func(c *Config) { c.Report = &ReportConfig{Enabled: true, Timezone: "Mars/Base"} }, "report.timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			cfg.Webhook.URL = testURL
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeDispatcherLimits(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
		want    DispatcherLimits
	}{
		{"json omitted", "x.json", `{}`, "", DispatcherLimits{DefaultQueueSize, DefaultBulkMessageLimit, DefaultMessageLimit}},
		{"json set", "x.json", `{"queue_size":7,"bulk_message_limit":300,"message_limit":200}`, "", DispatcherLimits{7, 300, 200}},
		{"json zero queue", "x.json", `{"queue_size":0}`, "dispatcher.queue_size", DispatcherLimits{}},
		{"json zero bulk limit", "x.json", `{"bulk_message_limit":0}`, "dispatcher.bulk_message_limit", DispatcherLimits{}},
		{"json zero message limit", "x.json", `{"message_limit":0}`, "dispatcher.message_limit", DispatcherLimits{}},
		{"yaml zero queue", "x.yaml", "queue_size: 0", "dispatcher.queue_size", DispatcherLimits{}},
		{"yaml zero bulk limit", "x.yaml", "bulk_message_limit: 0", "dispatcher.bulk_message_limit", DispatcherLimits{}},
		{"yaml zero message limit", "x.yaml", "message_limit: 0", "dispatcher.message_limit", DispatcherLimits{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var body string
			if strings.HasSuffix(tt.file, ".json") {
				body = `{"webhook":{"url":"` + testURL + `"},"dispatcher":` + tt.body + `}`
			} else {
				body = "webhook:\n  url: " + testURL + "\ndispatcher:\n  " + tt.body + "\n"
			}
			cfg, err := Decode(tt.file, []byte(body))
			if tt.wantErr != "" {
				if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want ErrInvalid mentioning %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got := cfg.Dispatcher.Limits(); got != tt.want {
				t.Fatalf("limits = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := &Config{Dispatcher: DispatcherConfig{QueueSize: IntPtr(-1)}, Logging: LoggingConfig{Level: "loud"}}
	err := Validate(cfg)
	for _, want := range []string{"webhook.url", "dispatcher.queue_size", "logging.level"} {
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("err = %v, want mention of %q", err, want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := Default()
	oldCfg.Webhook.URL = testURL
	newCfg := *oldCfg
	newCfg.Webhook.URL = testURL + "-rotated"
	newCfg.Logging.Level = "debug"

	changed, attrs := SummarizeConfigChange(oldCfg, &newCfg)
	if strings.Join(changed, ",") != "webhook,logging" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != SectionWebhook {
		t.Fatalf("RestartRequired = %v", got)
	}

	if changed, _ := SummarizeConfigChange(oldCfg, oldCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
	same := *oldCfg
	same.Dispatcher.QueueSize = IntPtr(DefaultQueueSize)
	if changed, _ := SummarizeConfigChange(oldCfg, &same); len(changed) != 0 {
		t.Fatalf("equal dispatcher limits reported %v", changed)
	}
	same.Dispatcher.QueueSize = IntPtr(DefaultQueueSize + 1)
	if changed, _ := SummarizeConfigChange(oldCfg, &same); strings.Join(changed, ",") != SectionDispatcher {
		t.Fatalf("queue size change reported %v", changed)
	}
	if changed, _ := SummarizeConfigChange(oldCfg, &Config{Webhook: oldCfg.Webhook, Dispatcher: oldCfg.Dispatcher, Logging: oldCfg.Logging, Storage: &StorageConfig{}}); len(changed) != 0 {
		t.Fatalf("empty storage treated as change: %v", changed)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	p := writeFile(t, "hooklog.json", `{"webhook":{"url":"`+testURL+`"}}`)
	m := NewManager(p)
	m.debounce = 50 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	write := func(i int) {
		body := `{"webhook":{"url":"` + testURL + `"},"logging":{"level":"debug"}}` + strings.Repeat(" ", i%2)
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	// Rewrites are spaced well past the debounce so each one settles; a later
	// one only matters if the watcher was not registered for the first.
	time.Sleep(300 * time.Millisecond)
	write(0)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for i := 1; ; i++ {
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("level = %q", cfg.Logging.Level)
			}
			return
		case <-tick.C:
			write(i)
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}

func TestWatchDebouncesBurst(t *testing.T) {
	p := writeFile(t, "hooklog.json", `{"webhook":{"url":"`+testURL+`"}}`)
	m := NewManager(p)
	m.debounce = 400 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()
	time.Sleep(300 * time.Millisecond)

	// Writes closer together than the debounce collapse into one reload of
	// the final content.
	levels := []string{"debug", "warn", "error"}
	for _, lvl := range levels {
		body := `{"webhook":{"url":"` + testURL + `"},"logging":{"level":"` + lvl + `"}}`
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "error" {
			t.Fatalf("level = %q, want the last write", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	select {
	case cfg := <-ch:
		t.Fatalf("extra reload published: level %q", cfg.Logging.Level)
	case <-time.After(800 * time.Millisecond):
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	a, b := Default(), Default()
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatal("subscriber did not receive the newest config")
	}
}
