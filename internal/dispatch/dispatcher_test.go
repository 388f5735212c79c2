package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"hooklog/internal/eventbus"
	kit "hooklog/internal/transport"
)

type sentCall struct {
	text     string
	embeds   []kit.Embed
	data     []byte
	filename string
	at       time.Time
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sentCall
	// fail, when set, decides the outcome of the n-th call (0-based).
	fail func(n int) error
}

func (f *fakeSender) record(c sentCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.calls)
	c.at = time.Now()
	f.calls = append(f.calls, c)
	if f.fail != nil {
		return f.fail(n)
	}
	return nil
}

func (f *fakeSender) SendText(_ context.Context, text string, embeds []kit.Embed) error {
	return f.record(sentCall{text: text, embeds: embeds})
}

func (f *fakeSender) SendAttachment(_ context.Context, data []byte, filename, caption string, embeds []kit.Embed) error {
	return f.record(sentCall{text: caption, data: data, filename: filename, embeds: embeds})
}

func (f *fakeSender) snapshot() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

func newTestDispatcher(t *testing.T, cfg Config, s kit.Sender, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := New(cfg, s, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func embedRecord(msg string) kit.Record {
	return kit.Record{Severity: kit.SeverityError, Text: msg, Embeds: []kit.Embed{{Title: "Exception Details"}}}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"defaults", DefaultConfig(), true},
		{"zero period", Config{Period: 0, QueueCapacity: 1, BulkMessageLimit: 1}, false},
		{"negative period", Config{Period: -time.Second, QueueCapacity: 1, BulkMessageLimit: 1}, false},
		{"zero queue", Config{Period: time.Second, QueueCapacity: 0, BulkMessageLimit: 1}, false},
		{"zero limit", Config{Period: time.Second, QueueCapacity: 1, BulkMessageLimit: 0}, false},
	}
	for _, tt := range tests {
		err := tt.cfg.Validate()
		if tt.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", tt.name, err)
		}
		if _, nerr := New(tt.cfg, &fakeSender{}); tt.ok != (nerr == nil) {
			t.Fatalf("%s: New error = %v", tt.name, nerr)
		}
	}
}

func TestNewRequiresSender(t *testing.T) {
	t.Parallel()
	if _, err := New(DefaultConfig(), nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestDropAccountingAndNotice(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	d := newTestDispatcher(t, Config{Period: time.Millisecond, QueueCapacity: 2, BulkMessageLimit: 2000}, s)

	var ok, rejected int
	for i := 0; i < 5; i++ {
		if d.TryEnqueue(text(fmt.Sprintf("r%d", i))) {
			ok++
		} else {
			rejected++
		}
	}
	if ok != 2 || rejected != 3 {
		t.Fatalf("ok=%d rejected=%d, want 2/3", ok, rejected)
	}
	if n := d.drops.Load(); n != 3 {
		t.Fatalf("drop counter = %d, want 3", n)
	}

	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	calls := s.snapshot()
	if len(calls) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(calls))
	}
	want := "r0\nr1\n" + DropNotice(3).Text + "\n"
	if calls[0].text != want {
		t.Fatalf("text = %q, want %q", calls[0].text, want)
	}
	if d.drops.Load() != 0 {
		t.Fatalf("drop counter not reset")
	}
	if st := d.Stats(); st.RecordsDropped != 3 || st.BatchesSent != 1 || st.RecordsSent != 3 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDropNoticeText(t *testing.T) {
	t.Parallel()
	r := DropNotice(7)
	want := "7 message(s) dropped because of queue size limit. Increase the queue size or decrease logging verbosity to avoid this."
	if r.Text != want || r.Indivisible() || r.Severity != kit.SeverityInfo {
		t.Fatalf("notice = %+v", r)
	}
}

func TestTryEnqueueRejectsEmptyWithoutCounting(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, DefaultConfig(), &fakeSender{})
	if d.TryEnqueue(kit.Record{}) {
		t.Fatal("empty record accepted")
	}
	if d.drops.Load() != 0 {
		t.Fatal("empty record counted as drop")
	}
}

func TestStopFlushesAndRejectsLaterRecords(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	d := newTestDispatcher(t, Config{Period: time.Hour, QueueCapacity: 10, BulkMessageLimit: 2000}, s)
	d.Start(context.Background())

	for _, m := range []string{"one", "two", "three"} {
		if !d.TryEnqueue(text(m)) {
			t.Fatalf("enqueue %q failed", m)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	calls := s.snapshot()
	if len(calls) != 1 || calls[0].text != "one\ntwo\nthree\n" {
		t.Fatalf("calls = %+v", calls)
	}
	if d.TryEnqueue(text("late")) {
		t.Fatal("enqueue after Stop succeeded")
	}

	// Second Stop is a no-op.
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if n := len(s.snapshot()); n != 1 {
		t.Fatalf("second Stop delivered again (%d calls)", n)
	}

	// Start after Stop does nothing.
	d.Start(context.Background())
	if d.Supervisor() == nil {
		t.Fatal("supervisor cleared")
	}
}

func TestLoopDeliversOnTick(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	d := newTestDispatcher(t, Config{Period: 10 * time.Millisecond, QueueCapacity: 10, BulkMessageLimit: 2000}, s)
	d.Start(context.Background())
	defer d.Stop(context.Background())

	d.TryEnqueue(text("a"))
	d.TryEnqueue(text("b"))

	waitFor(t, 2*time.Second, func() bool { return len(s.snapshot()) == 1 })
	if got := s.snapshot()[0].text; got != "a\nb\n" {
		t.Fatalf("text = %q", got)
	}
	if d.Stats().Cycles == 0 {
		t.Fatal("no cycles counted")
	}
}

func TestFailedBatchDoesNotStopLaterBatches(t *testing.T) {
	t.Parallel()
	s := &fakeSender{fail: func(n int) error {
		if n == 0 {
			return errors.New("502 bad gateway")
		}
		return nil
	}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, "dispatch.")
	defer unsub()

	d := newTestDispatcher(t, Config{Period: time.Millisecond, QueueCapacity: 10, BulkMessageLimit: 2000}, s, WithBus(bus))
	for i := 0; i < 3; i++ {
		d.TryEnqueue(embedRecord(fmt.Sprintf("err %d", i)))
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if n := len(s.snapshot()); n != 3 {
		t.Fatalf("got %d deliveries, want 3", n)
	}
	st := d.Stats()
	if st.BatchesFailed != 1 || st.BatchesSent != 2 {
		t.Fatalf("stats = %+v", st)
	}

	var types []string
	for i := 0; i < 3; i++ {
		ev := <-events
		types = append(types, ev.Type)
		be, ok := ev.Data.(BatchEvent)
		if !ok || be.ID == "" || be.Kind != KindEmbed || be.Records != 1 {
			t.Fatalf("event data = %#v", ev.Data)
		}
		if ev.Type == EventFailed && be.Error != "502 bad gateway" {
			t.Fatalf("failed event error = %q", be.Error)
		}
	}
	if strings.Join(types, ",") != "dispatch.failed,dispatch.sent,dispatch.sent" {
		t.Fatalf("event order = %v", types)
	}
}

func TestSenderPanicIsAFailedBatch(t *testing.T) {
	t.Parallel()
	s := &fakeSender{fail: func(n int) error {
		if n == 0 {
			panic("nil map")
		}
		return nil
	}}
	d := newTestDispatcher(t, Config{Period: time.Millisecond, QueueCapacity: 10, BulkMessageLimit: 2000}, s)
	d.TryEnqueue(embedRecord("first"))
	d.TryEnqueue(embedRecord("second"))
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st := d.Stats(); st.BatchesFailed != 1 || st.BatchesSent != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestAttachmentBatch(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	d := newTestDispatcher(t, Config{Period: time.Millisecond, QueueCapacity: 10, BulkMessageLimit: 2000}, s)
	d.TryEnqueue(kit.Record{Text: "header", Attachment: &kit.Attachment{Data: []byte("long body")}})
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	calls := s.snapshot()
	if len(calls) != 1 {
		t.Fatalf("got %d calls", len(calls))
	}
	c := calls[0]
	if c.text != "header" || string(c.data) != "long body" || c.filename != "details.txt" {
		t.Fatalf("call = %+v", c)
	}
}

func TestPacingBetweenDeliveries(t *testing.T) {
	t.Parallel()
	const period = 40 * time.Millisecond
	s := &fakeSender{}
	d := newTestDispatcher(t, Config{Period: period, QueueCapacity: 10, BulkMessageLimit: 2000}, s)
	for i := 0; i < 3; i++ {
		d.TryEnqueue(embedRecord("e"))
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	calls := s.snapshot()
	if len(calls) != 3 {
		t.Fatalf("got %d calls", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		if gap := calls[i].at.Sub(calls[i-1].at); gap < period-5*time.Millisecond {
			t.Fatalf("gap %d = %s, want >= %s", i, gap, period)
		}
	}
}

func TestCancelledPacingAbortsRemainingBatches(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, EventAborted)
	defer unsub()

	d := newTestDispatcher(t, Config{Period: time.Hour, QueueCapacity: 10, BulkMessageLimit: 2000}, s, WithBus(bus))
	for i := 0; i < 3; i++ {
		d.TryEnqueue(embedRecord("e"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if n := len(s.snapshot()); n != 1 {
		t.Fatalf("got %d deliveries, want 1", n)
	}
	if st := d.Stats(); st.BatchesAborted != 2 {
		t.Fatalf("stats = %+v", st)
	}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			if ev.Type != EventAborted {
				t.Fatalf("event type = %s", ev.Type)
			}
		default:
			t.Fatalf("missing aborted event %d", i)
		}
	}
}

func TestStopInterruptsPacedLoopAndFlushesLateRecords(t *testing.T) {
	t.Parallel()
	const period = 500 * time.Millisecond
	s := &fakeSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, EventAborted)
	defer unsub()

	d := newTestDispatcher(t, Config{Period: period, QueueCapacity: 10, BulkMessageLimit: 2000}, s, WithBus(bus))
	for _, msg := range []string{"e1", "e2", "e3"} {
		d.TryEnqueue(embedRecord(msg))
	}
	d.Start(context.Background())

	// After the first embed goes out the loop is pacing before the second.
	waitFor(t, 5*time.Second, func() bool { return len(s.snapshot()) == 1 })
	if !d.TryEnqueue(text("late")) {
		t.Fatal("late record rejected while running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	calls := s.snapshot()
	if len(calls) != 2 {
		t.Fatalf("got %d deliveries, want 2: %+v", len(calls), calls)
	}
	if calls[0].text != "e1" || len(calls[0].embeds) != 1 {
		t.Fatalf("first delivery = %+v", calls[0])
	}
	if calls[1].text != "late\n" || len(calls[1].embeds) != 0 {
		t.Fatalf("final flush delivery = %+v", calls[1])
	}

	st := d.Stats()
	if st.BatchesAborted != 2 || st.BatchesSent != 2 || st.RecordsSent != 2 || st.Pending != 0 {
		t.Fatalf("stats = %+v", st)
	}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			be, ok := ev.Data.(BatchEvent)
			if ev.Type != EventAborted || !ok || be.Kind != KindEmbed {
				t.Fatalf("event %d = %+v", i, ev)
			}
		default:
			t.Fatalf("missing aborted event %d", i)
		}
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected aborted event %+v", ev)
	default:
	}
}

func TestConcurrentProducersNoLoss(t *testing.T) {
	t.Parallel()
	const producers, each = 8, 50
	s := &fakeSender{}
	d := newTestDispatcher(t, Config{Period: time.Millisecond, QueueCapacity: producers * each, BulkMessageLimit: 2000}, s)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if !d.TryEnqueue(text(fmt.Sprintf("p%d-%d", p, i))) {
					t.Errorf("enqueue p%d-%d rejected", p, i)
				}
			}
		}(p)
	}
	wg.Wait()
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	seen := map[string]int{}
	last := map[int]int{}
	for _, c := range s.snapshot() {
		if len([]rune(c.text)) > 2000 {
			t.Fatalf("batch exceeds limit: %d chars", len([]rune(c.text)))
		}
		for _, line := range strings.Split(strings.TrimSuffix(c.text, "\n"), "\n") {
			seen[line]++
			var p, i int
			if _, err := fmt.Sscanf(line, "p%d-%d", &p, &i); err != nil {
				t.Fatalf("unexpected line %q", line)
			}
			// Per-producer FIFO.
			if prev, ok := last[p]; ok && i <= prev {
				t.Fatalf("producer %d out of order: %d after %d", p, i, prev)
			}
			last[p] = i
		}
	}
	if len(seen) != producers*each {
		t.Fatalf("delivered %d distinct records, want %d", len(seen), producers*each)
	}
	for line, n := range seen {
		if n != 1 {
			t.Fatalf("record %q delivered %d times", line, n)
		}
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	d := newTestDispatcher(t, DefaultConfig(), s)
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := len(s.snapshot()); n != 0 {
		t.Fatalf("empty stop delivered %d batches", n)
	}
}
