package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"hooklog/internal/eventbus"
	rtsup "hooklog/internal/runtime/supervisor"
	kit "hooklog/internal/transport"
	logx "hooklog/pkg/logx"
)

// Bus event types published for every batch outcome.
const (
	EventSent    = "dispatch.sent"
	EventFailed  = "dispatch.failed"
	EventAborted = "dispatch.aborted"
	EventDropped = "dispatch.dropped"
)

// Batch kinds reported in BatchEvent.Kind.
const (
	KindText       = "text"
	KindEmbed      = "embed"
	KindAttachment = "attachment"
	KindDrops      = "drops"
)

const (
	defaultAttachmentName = "details.txt"
	loopName              = "dispatch.loop"
)

// BatchEvent is the Data of every dispatch.* bus event.
type BatchEvent struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Records int       `json:"records"`
	Chars   int       `json:"chars"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

// Stats is a snapshot of the dispatcher counters since construction.
type Stats struct {
	Cycles         uint64 `json:"cycles"`
	BatchesSent    uint64 `json:"batches_sent"`
	BatchesFailed  uint64 `json:"batches_failed"`
	BatchesAborted uint64 `json:"batches_aborted"`
	RecordsSent    uint64 `json:"records_sent"`
	RecordsDropped uint64 `json:"records_dropped"`
	// LoopRestarts counts supervisor restarts of the dispatch loop.
	LoopRestarts uint64 `json:"loop_restarts"`
	Pending      int    `json:"pending"`
}

type Option func(*Dispatcher)

// WithLogger sets the logger. The dispatcher always logs through
// Logger.Local so its own warnings never re-enter the queue.
func WithLogger(log logx.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// WithBus publishes batch outcomes on b.
func WithBus(b eventbus.Bus) Option {
	return func(d *Dispatcher) { d.bus = b }
}

// Dispatcher decouples log producers from a slow, rate-limited Sender.
//
// Producers call TryEnqueue from any goroutine. A single background loop
// drains the queue every Period, coalesces what it found into batches and
// hands them to the Sender one at a time, at most one delivery per Period.
// Delivery failures are logged and forgotten.
type Dispatcher struct {
	cfg     Config
	sender  kit.Sender
	log     logx.Logger
	bus     eventbus.Bus
	limiter *rate.Limiter

	queue *intake
	drops DropCounter

	mu       sync.Mutex
	sup      *rtsup.Supervisor
	stopped  bool
	stopOnce sync.Once
	stopErr  error

	cycles         atomic.Uint64
	batchesSent    atomic.Uint64
	batchesFailed  atomic.Uint64
	batchesAborted atomic.Uint64
	recordsSent    atomic.Uint64
	recordsDropped atomic.Uint64
}

// New validates cfg and builds a stopped dispatcher.
func New(cfg Config, sender kit.Sender, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: sender is required", ErrInvalidConfig)
	}
	d := &Dispatcher{
		cfg:     cfg,
		sender:  sender,
		log:     logx.Nop(),
		limiter: rate.NewLimiter(rate.Every(cfg.Period), 1),
	}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.Local().With(logx.String("comp", "dispatch"))
	d.queue = newIntake(cfg.QueueCapacity, &d.drops)
	return d, nil
}

func (d *Dispatcher) Config() Config { return d.cfg }

// TryEnqueue offers r without blocking. It returns false when the queue is
// full or stopped (the record is counted as dropped) and for empty records.
func (d *Dispatcher) TryEnqueue(r kit.Record) bool {
	if r.Empty() {
		return false
	}
	return d.queue.offer(r)
}

// Start launches the dispatch loop. It is idempotent and a no-op after Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sup != nil || d.stopped {
		return
	}
	d.sup = rtsup.New(ctx,
		rtsup.WithLogger(d.log),
		rtsup.WithCancelOnError(false),
	)
	d.sup.GoRestart(loopName, d.run,
		rtsup.WithRestartBackoff(d.cfg.Period, 30*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	d.log.Info("dispatcher started",
		logx.Duration("period", d.cfg.Period),
		logx.Int("queue_capacity", d.cfg.QueueCapacity),
		logx.Int("bulk_message_limit", d.cfg.BulkMessageLimit),
	)
}

// Stop cancels the loop, waits for it to exit, closes intake and runs one
// last drain-and-deliver pass paced with ctx. Only the first call does work;
// later calls return the first result.
//
// If the loop is still inside a delivery when ctx expires, intake is closed,
// the final pass is skipped and ctx's error is returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.stopOnce.Do(func() { d.stopErr = d.stop(ctx) })
	return d.stopErr
}

func (d *Dispatcher) stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	sup := d.sup
	d.mu.Unlock()

	if sup != nil {
		sup.Cancel()
		if err := sup.Wait(ctx); err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			d.queue.close()
			d.log.Warn("dispatch loop still busy at deadline, final flush skipped", logx.Err(err))
			return err
		}
	}

	d.queue.close()
	// Pacing interrupted by ctx is the only error a cycle reports.
	if err := d.cycle(ctx, ctx); err != nil {
		d.log.Debug("final flush cut short", logx.Err(err))
	}
	d.log.Info("dispatcher stopped", logx.Uint64("dropped_total", d.recordsDropped.Load()))
	return nil
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Cycles:         d.cycles.Load(),
		BatchesSent:    d.batchesSent.Load(),
		BatchesFailed:  d.batchesFailed.Load(),
		BatchesAborted: d.batchesAborted.Load(),
		RecordsSent:    d.recordsSent.Load(),
		RecordsDropped: d.recordsDropped.Load() + uint64(max(d.drops.Load(), 0)),
		LoopRestarts:   d.loopRestarts(),
		Pending:        d.queue.len(),
	}
}

func (d *Dispatcher) loopRestarts() uint64 {
	sup := d.Supervisor()
	if sup == nil {
		return 0
	}
	for _, g := range sup.Snapshot().Goroutines {
		if g.Name == loopName {
			return g.Restarts
		}
	}
	return 0
}

// Supervisor exposes the loop supervisor for status output (nil before Start).
func (d *Dispatcher) Supervisor() *rtsup.Supervisor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sup
}

func (d *Dispatcher) run(ctx context.Context) error {
	t := time.NewTicker(d.cfg.Period)
	defer t.Stop()

	// Deliveries already handed to the Sender finish even if Stop cancels
	// the loop; only the pacing wait observes ctx.
	sendCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if err := d.cycle(ctx, sendCtx); err != nil {
			return err
		}
	}
}

// cycle drains the queue, appends the drop notice if needed, coalesces and
// delivers. It returns a non-nil error only when pacing was interrupted.
func (d *Dispatcher) cycle(paceCtx, sendCtx context.Context) error {
	d.cycles.Add(1)

	records := d.queue.drain(nil)
	if n := d.drops.TakeAndReset(); n > 0 {
		d.recordsDropped.Add(uint64(n))
		records = append(records, DropNotice(n))
		d.publish(EventDropped, BatchEvent{ID: uuid.NewString(), Kind: KindDrops, Records: int(n), At: time.Now()})
	}
	if len(records) == 0 {
		return nil
	}
	return d.deliver(paceCtx, sendCtx, Coalesce(records, d.cfg.BulkMessageLimit))
}

func (d *Dispatcher) deliver(paceCtx, sendCtx context.Context, batches []Batch) error {
	for i, b := range batches {
		if err := d.limiter.Wait(paceCtx); err != nil {
			rest := batches[i:]
			d.batchesAborted.Add(uint64(len(rest)))
			for _, ab := range rest {
				d.publish(EventAborted, d.event(ab, err))
			}
			d.log.Debug("delivery aborted", logx.Int("batches", len(rest)), logx.Err(err))
			return err
		}

		ev := d.event(b, nil)
		if err := d.send(sendCtx, b); err != nil {
			d.batchesFailed.Add(1)
			ev.Error = err.Error()
			d.log.Warn("batch delivery failed",
				logx.String("batch", ev.ID),
				logx.String("kind", ev.Kind),
				logx.Int("records", b.Records),
				logx.Err(err),
			)
			d.publish(EventFailed, ev)
			continue
		}
		d.batchesSent.Add(1)
		d.recordsSent.Add(uint64(b.Records))
		d.log.Trace("batch delivered", logx.String("batch", ev.ID), logx.Int("chars", ev.Chars))
		d.publish(EventSent, ev)
	}
	return nil
}

// send treats a Sender panic as a failed delivery.
func (d *Dispatcher) send(ctx context.Context, b Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	if b.Attachment != nil {
		name := b.Attachment.FileName
		if name == "" {
			name = defaultAttachmentName
		}
		return d.sender.SendAttachment(ctx, b.Attachment.Data, name, b.Text, b.Embeds)
	}
	return d.sender.SendText(ctx, b.Text, b.Embeds)
}

func (d *Dispatcher) event(b Batch, err error) BatchEvent {
	ev := BatchEvent{
		ID:      uuid.NewString(),
		Kind:    kindOf(b),
		Records: b.Records,
		Chars:   b.Len(),
		At:      time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

func (d *Dispatcher) publish(typ string, ev BatchEvent) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func kindOf(b Batch) string {
	switch {
	case b.Attachment != nil:
		return KindAttachment
	case len(b.Embeds) > 0:
		return KindEmbed
	default:
		return KindText
	}
}

// DropNotice is the plain-text record reporting n dropped records.
func DropNotice(n int64) kit.Record {
	return kit.Record{
		Severity: kit.SeverityInfo,
		Text:     fmt.Sprintf("%d message(s) dropped because of queue size limit. Increase the queue size or decrease logging verbosity to avoid this.", n),
	}
}
