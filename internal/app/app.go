package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hooklog/internal/config"
	"hooklog/internal/dispatch"
	"hooklog/internal/eventbus"
	"hooklog/internal/format"
	"hooklog/internal/report"
	rtsup "hooklog/internal/runtime/supervisor"
	"hooklog/internal/storage"
	kit "hooklog/internal/transport"
	logx "hooklog/pkg/logx"
)

// App wires config, logging, the sender, the dispatcher and its observers.
type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	disp    *dispatch.Dispatcher
	rep     *report.Reporter
	builder format.Builder
}

type options struct {
	level  string
	sender kit.Sender
}

type Option func(*options)

// WithLevel overrides logging.level from the config file.
func WithLevel(level string) Option {
	return func(o *options) { o.level = strings.TrimSpace(level) }
}

// WithSender replaces the sender selected by webhook.driver.
func WithSender(s kit.Sender) Option {
	return func(o *options) { o.sender = s }
}

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if o.level != "" {
		cfg.Logging.Level = o.level
	}

	// The webhook sink is enabled only after the dispatcher is attached.
	logCfg := mapLogging(cfg)
	bootCfg := logCfg
	bootCfg.Webhook.Enabled = false
	logs, log := logx.New(bootCfg)

	dcfg, err := mapDispatcher(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	sender := o.sender
	if sender == nil {
		if sender, err = newSender(cfg, log); err != nil {
			_ = logs.Close()
			return nil, err
		}
	}

	bus := eventbus.New()
	disp, err := dispatch.New(dcfg, sender, dispatch.WithLogger(log), dispatch.WithBus(bus))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	builder := mapBuilder(cfg)
	logs.AttachSink(disp, builder)
	logs.Apply(logCfg)

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logs,
		bus:     bus,
		disp:    disp,
		builder: builder,
	}

	if sc, enabled, err := mapStorage(cfg); err != nil {
		_ = logs.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.Local())
		if err != nil {
			_ = logs.Close()
			return nil, err
		}
		a.store = st
		a.log.Info("delivery journal enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	if rc, enabled := mapReport(cfg); enabled {
		rep, err := report.New(rc, disp, disp, builder, log)
		if err != nil {
			a.closeStore()
			_ = logs.Close()
			return nil, err
		}
		a.rep = rep
	}

	a.log.Info("hooklog configured",
		logx.String("driver", cfg.Webhook.Driver),
		logx.Duration("period", dcfg.Period),
		logx.Int("queue_size", dcfg.QueueCapacity),
		logx.Int("bulk_message_limit", dcfg.BulkMessageLimit),
	)
	return a, nil
}

func (a *App) Logger() logx.Logger              { return a.log }
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.disp }
func (a *App) Store() storage.Store             { return a.store }

// Forward renders msg at sev and offers it to the dispatcher.
func (a *App) Forward(sev kit.Severity, msg string) bool {
	rec := a.builder.Build(format.Entry{Severity: sev, Message: msg})
	if rec.Empty() {
		return false
	}
	return a.disp.TryEnqueue(rec)
}

// SlogHandler returns a log/slog handler that forwards records at or above
// level through the dispatcher, rendered like every other record.
func (a *App) SlogHandler(level slog.Leveler) slog.Handler {
	return logx.NewSlogHandler(a.disp, a.builder, level)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return nil
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log)

	a.disp.Start(a.sup.Context())

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256, "dispatch.")
		log := a.log.Local().With(logx.String("comp", "journal"))
		a.sup.Go0("journal", func(c context.Context) {
			defer unsub()
			journal(c, events, a.store, log)
		})
	}

	if a.rep != nil {
		a.rep.Start()
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// applyConfig hot-applies the logging section and reports everything else
// as restart-required.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogging(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(pending, ",")))
	}
}

// Stop shuts down in dependency order: reporter, dispatcher (final flush),
// background goroutines (journal drains last events), storage, logging.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeStore()
		_ = a.logs.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var stopErr error
	step := func(name string, fn func(context.Context) error) {
		start := time.Now()
		err := fn(ctx)
		took := time.Since(start)
		if err != nil {
			a.log.Local().Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			if stopErr == nil {
				stopErr = fmt.Errorf("%s: %w", name, err)
			}
			return
		}
		a.log.Local().Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
	}

	step("report", func(c context.Context) error {
		if a.rep == nil {
			return nil
		}
		return a.rep.Stop(c)
	})
	step("dispatcher", func(c context.Context) error {
		err := a.disp.Stop(c)
		st := a.disp.Stats()
		a.log.Local().Info("dispatcher totals",
			logx.Uint64("batches_sent", st.BatchesSent),
			logx.Uint64("batches_failed", st.BatchesFailed),
			logx.Uint64("records_sent", st.RecordsSent),
			logx.Uint64("records_dropped", st.RecordsDropped),
			logx.Uint64("bus_events_dropped", a.bus.Dropped()),
		)
		return err
	})
	a.logs.DetachSink()

	step("supervisor", func(c context.Context) error {
		a.sup.Cancel()
		return a.sup.Wait(c)
	})
	step("storage", func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	return stopErr
}

func (a *App) closeStore() {
	if a.store != nil {
		_ = a.store.Close()
	}
}
