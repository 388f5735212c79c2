package transport

import (
	"context"
	"strings"
)

// Severity is the level a record was logged at.
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityTrace:
		return "Trace"
	case SeverityDebug:
		return "Debug"
	case SeverityInfo:
		return "Information"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	case SeverityCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// ParseSeverity accepts the usual level spellings ("warn", "WARNING", "fatal", ...).
func ParseSeverity(s string, def Severity) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return SeverityTrace
	case "DEBUG":
		return SeverityDebug
	case "INFO", "INFORMATION":
		return SeverityInfo
	case "WARN", "WARNING":
		return SeverityWarning
	case "ERROR":
		return SeverityError
	case "CRITICAL", "FATAL", "PANIC":
		return SeverityCritical
	default:
		return def
	}
}

// Attachment is a file rendered in place of an oversized text.
type Attachment struct {
	Data     []byte
	FileName string
}

// EmbedField is one named value inside an Embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is structured metadata attached to a message (error details).
type Embed struct {
	Title  string
	Color  int
	Fields []EmbedField
}

// Record is one unit of loggable content handed to the dispatcher.
//
// A record is a value: producers build it once and nobody mutates it after
// TryEnqueue. Records with an attachment or embeds are indivisible and always
// travel alone.
type Record struct {
	Severity   Severity
	Text       string
	Attachment *Attachment
	Embeds     []Embed
}

// Indivisible reports whether the record must occupy its own batch.
func (r Record) Indivisible() bool {
	return r.Attachment != nil || len(r.Embeds) > 0
}

// Empty reports whether the record carries nothing to deliver.
func (r Record) Empty() bool {
	return r.Text == "" && !r.Indivisible()
}

// Sender performs the actual delivery to the remote endpoint.
//
// Implementations must be safe to call from one goroutine at a time; the
// dispatcher never calls a Sender concurrently.
type Sender interface {
	SendText(ctx context.Context, text string, embeds []Embed) error
	SendAttachment(ctx context.Context, data []byte, filename, caption string, embeds []Embed) error
}

// Enqueuer accepts records without blocking. It is implemented by the dispatcher
// and consumed by the logging integrations.
type Enqueuer interface {
	TryEnqueue(r Record) bool
}
