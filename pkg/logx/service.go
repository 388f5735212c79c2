package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"hooklog/internal/format"
	kit "hooklog/internal/transport"
)

// Service owns the root loggers and their sinks (console, file, webhook).
//
// Apply swaps outputs and levels at runtime; loggers obtained from the
// service pick up the change on their next call.
type Service struct {
	mu  sync.Mutex
	cfg Config

	root  atomic.Value // zerolog.Logger, all sinks
	local atomic.Value // zerolog.Logger, console + file only

	file *os.File

	// guarded by mu
	sink     kit.Enqueuer
	builder  format.Builder
	minLevel zerolog.Level
}

// New creates the logging service, applies the initial config immediately,
// and returns both the Service and a root Logger.
func New(cfg Config) (*Service, Logger) {
	setGlobals()

	s := &Service{cfg: cfg, minLevel: zerolog.WarnLevel}
	boot := zerolog.New(newConsoleWriter(Stdout())).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	s.root.Store(boot)
	s.local.Store(boot)

	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl, ok := s.root.Load().(zerolog.Logger); ok {
		return zl
	}
	return zerolog.Nop()
}

func (s *Service) currentLocal() zerolog.Logger {
	if zl, ok := s.local.Load().(zerolog.Logger); ok {
		return zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// AttachSink connects the webhook sink to a dispatcher. It takes effect on the
// next Apply with Webhook.Enabled set.
func (s *Service) AttachSink(enq kit.Enqueuer, b format.Builder) {
	s.mu.Lock()
	s.sink = enq
	s.builder = b
	s.mu.Unlock()
}

// DetachSink stops forwarding to the dispatcher (used on shutdown).
func (s *Service) DetachSink() {
	s.mu.Lock()
	s.sink = nil
	s.mu.Unlock()
}

func (s *Service) Close() error {
	s.DetachSink()
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply swaps logger outputs/levels at runtime.
// It is safe to call concurrently.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.minLevel = parseLevel(cfg.Webhook.MinLevel, zerolog.WarnLevel)

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	lvl := parseLevel(cfg.Level, zerolog.InfoLevel)

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(Stdout()))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./hooklog.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(Stderr(), "logx: failed opening log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(Stdout()))
	}

	local := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	s.local.Store(local)

	if cfg.Webhook.Enabled {
		if s.sink == nil {
			fmt.Fprintln(Stderr(), "logx: webhook logging enabled but no dispatcher is attached")
		}
		writers = append(writers, &webhookWriter{svc: s})
	}
	root := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	s.root.Store(root)
}

func (s *Service) sinkState() (kit.Enqueuer, format.Builder, zerolog.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink, s.builder, s.minLevel
}

func newConsoleWriter(w io.Writer) io.Writer {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	// Keep caller short and stable.
	cw.FormatCaller = func(i interface{}) string {
		s, _ := i.(string)
		return s
	}
	return cw
}
