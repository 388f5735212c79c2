// Package report periodically enqueues a status summary of the dispatcher.
package report

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hooklog/internal/dispatch"
	"hooklog/internal/format"
	kit "hooklog/internal/transport"
	logx "hooklog/pkg/logx"
)

var ErrNoSource = errors.New("report: stats source and enqueuer are required")

// DefaultSchedule is used when Config.Schedule is empty.
const DefaultSchedule = "@daily"

type Config struct {
	// Schedule is a 5-field cron expression or a descriptor ("@hourly", "@every 30m").
	Schedule string
	// Timezone is an IANA name; empty means the local zone.
	Timezone string
}

// StatsSource is implemented by *dispatch.Dispatcher.
type StatsSource interface {
	Stats() dispatch.Stats
}

// Reporter turns dispatcher counters into an Info record on a cron schedule.
// Each report covers the interval since the previous one.
type Reporter struct {
	cfg     Config
	src     StatsSource
	enq     kit.Enqueuer
	builder format.Builder
	log     logx.Logger
	loc     *time.Location
	sched   cron.Schedule

	mu     sync.Mutex
	c      *cron.Cron
	prev   dispatch.Stats
	prevAt time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(cfg Config, src StatsSource, enq kit.Enqueuer, b format.Builder, log logx.Logger) (*Reporter, error) {
	if src == nil || enq == nil {
		return nil, ErrNoSource
	}
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("report: schedule %q: %w", cfg.Schedule, err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("report: timezone: %w", err)
		}
	}
	return &Reporter{
		cfg:     cfg,
		src:     src,
		enq:     enq,
		builder: b,
		log:     log.Local().With(logx.String("comp", "report")),
		loc:     loc,
		sched:   sched,
		prevAt:  time.Now(),
	}, nil
}

// Next returns the first scheduled run after t.
func (r *Reporter) Next(t time.Time) time.Time {
	return r.sched.Next(t.In(r.loc))
}

func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}
	r.c = cron.New(cron.WithParser(parser), cron.WithLocation(r.loc))
	r.c.Schedule(r.sched, cron.FuncJob(func() { r.Report(time.Now()) }))
	r.c.Start()
	r.log.Info("status reports scheduled",
		logx.String("schedule", r.cfg.Schedule),
		logx.Time("next", r.Next(time.Now())),
	)
}

// Stop halts the schedule and waits for a running report until ctx is done.
func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Report enqueues one summary covering the interval ending at now. It returns
// false when the dispatcher rejected the record.
func (r *Reporter) Report(now time.Time) bool {
	cur := r.src.Stats()

	r.mu.Lock()
	prev, since := r.prev, r.prevAt
	r.prev, r.prevAt = cur, now
	r.mu.Unlock()

	ok := r.enq.TryEnqueue(r.builder.Build(Summary(prev, cur, now.Sub(since))))
	if !ok {
		r.log.Warn("status report rejected by dispatcher")
	}
	return ok
}

// Summary renders the counters accumulated between prev and cur.
func Summary(prev, cur dispatch.Stats, window time.Duration) format.Entry {
	delta := func(a, b uint64) string {
		if b < a {
			return strconv.FormatUint(b, 10)
		}
		return strconv.FormatUint(b-a, 10)
	}
	return format.Entry{
		Severity: kit.SeverityInfo,
		Message:  "status report (last " + window.Round(time.Second).String() + ")",
		Fields: []format.Field{
			{Key: "cycles", Value: delta(prev.Cycles, cur.Cycles)},
			{Key: "batches_sent", Value: delta(prev.BatchesSent, cur.BatchesSent)},
			{Key: "batches_failed", Value: delta(prev.BatchesFailed, cur.BatchesFailed)},
			{Key: "batches_aborted", Value: delta(prev.BatchesAborted, cur.BatchesAborted)},
			{Key: "records_sent", Value: delta(prev.RecordsSent, cur.RecordsSent)},
			{Key: "records_dropped", Value: delta(prev.RecordsDropped, cur.RecordsDropped)},
			{Key: "loop_restarts", Value: delta(prev.LoopRestarts, cur.LoopRestarts)},
			{Key: "pending", Value: strconv.Itoa(cur.Pending)},
		},
	}
}
