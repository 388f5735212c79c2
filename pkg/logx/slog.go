package logx

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"hooklog/internal/format"
	kit "hooklog/internal/transport"
)

// LevelCriticalSlog is the slog level rendered as Critical.
const LevelCriticalSlog = slog.LevelError + 4

// SlogHandler is a log/slog handler that forwards records to the dispatcher.
//
// Handle never blocks: records are offered to the dispatcher with a zero-wait
// attempt. Error-valued attributes become an error-details embed on
// Error/Critical records.
//
//	h := logx.NewSlogHandler(dispatcher, format.Builder{MessageLimit: 2000}, slog.LevelWarn)
//	slog.New(h).Error("payment failed", "err", err, "order", id)
type SlogHandler struct {
	enq     kit.Enqueuer
	builder format.Builder
	level   slog.Leveler

	attrs  []slog.Attr
	prefix string
}

// NewSlogHandler returns a handler that forwards records at or above level.
func NewSlogHandler(enq kit.Enqueuer, b format.Builder, level slog.Leveler) *SlogHandler {
	if level == nil {
		level = slog.LevelWarn
	}
	return &SlogHandler{enq: enq, builder: b, level: level}
}

func (h *SlogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.enq != nil && level >= h.level.Level()
}

func (h *SlogHandler) Handle(_ context.Context, r slog.Record) error {
	if !h.Enabled(context.Background(), r.Level) {
		return nil
	}

	e := format.Entry{Severity: SeverityOfSlog(r.Level), Message: r.Message}
	var firstErr error

	collect := func(prefix string, a slog.Attr) {
		h.flatten(prefix, a, &e.Fields, &firstErr)
	}
	for _, a := range h.attrs {
		collect("", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(h.prefix, a)
		return true
	})

	if firstErr != nil {
		d := format.Details(firstErr)
		if d.Source == "" {
			d.Source = sourceOf(r.PC)
		}
		e.Error = &d
	}

	rec := h.builder.Build(e)
	if rec.Empty() {
		return nil
	}
	h.enq.TryEnqueue(rec)
	return nil
}

// flatten appends a to fields, expanding groups into dotted keys. The first
// error value is captured instead of rendered.
func (h *SlogHandler) flatten(prefix string, a slog.Attr, fields *[]format.Field, firstErr *error) {
	v := a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			h.flatten(p, ga, fields, firstErr)
		}
		return
	}
	if v.Kind() == slog.KindAny {
		if err, ok := v.Any().(error); ok && err != nil && *firstErr == nil {
			*firstErr = err
			return
		}
	}
	*fields = append(*fields, format.Field{Key: prefix + a.Key, Value: fmt.Sprint(v.Any())})
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a = slog.Attr{Key: strings.TrimSuffix(h.prefix, ".") + "." + a.Key, Value: a.Value}
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

// SeverityOfSlog maps slog levels onto record severities.
func SeverityOfSlog(l slog.Level) kit.Severity {
	switch {
	case l < slog.LevelDebug:
		return kit.SeverityTrace
	case l < slog.LevelInfo:
		return kit.SeverityDebug
	case l < slog.LevelWarn:
		return kit.SeverityInfo
	case l < slog.LevelError:
		return kit.SeverityWarning
	case l < LevelCriticalSlog:
		return kit.SeverityError
	default:
		return kit.SeverityCritical
	}
}

func sourceOf(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if fr.File == "" {
		return ""
	}
	return filepath.Base(fr.File) + ":" + strconv.Itoa(fr.Line)
}
