package format

import (
	"strings"
	"unicode/utf8"

	kit "hooklog/internal/transport"
)

const (
	// DefaultMessageLimit is the single-message size accepted by chat webhooks.
	DefaultMessageLimit = 2000
	// DefaultAttachmentName is used when an oversized text is sent as a file.
	DefaultAttachmentName = "details.txt"

	// Embed limits imposed by Discord.
	embedTitleLimit = 256
	embedFieldLimit = 1024
	embedFieldMax   = 25

	colorDarkRed = 0x992D22
	colorOrange  = 0xE67E22
	colorBlue    = 0x3498DB
	colorGrey    = 0x95A5A6
)

// Icon returns the emoji shortcode prefix for a severity (with trailing space).
func Icon(sev kit.Severity) string {
	switch sev {
	case kit.SeverityDebug:
		return ":spider_web: "
	case kit.SeverityInfo:
		return ":information_source: "
	case kit.SeverityWarning:
		return ":warning: "
	case kit.SeverityError:
		return ":skull: "
	case kit.SeverityCritical:
		return ":radioactive: "
	default:
		return ""
	}
}

// Color returns the embed color used for a severity.
func Color(sev kit.Severity) int {
	switch {
	case sev >= kit.SeverityError:
		return colorDarkRed
	case sev == kit.SeverityWarning:
		return colorOrange
	case sev == kit.SeverityInfo:
		return colorBlue
	default:
		return colorGrey
	}
}

// Header renders the first line of a log message.
func Header(sev kit.Severity, msg string) string {
	return Icon(sev) + "**[" + sev.String() + "]**   " + msg
}

// Field is a rendered key/value pair attached to a log call.
type Field struct {
	Key   string
	Value string
}

// Entry is a log call before it is turned into a Record.
type Entry struct {
	Severity kit.Severity
	Message  string
	Fields   []Field
	Error    *ErrorDetails
}

// Builder turns entries into records that fit a single chat message.
type Builder struct {
	// MessageLimit is the largest text (in characters) sent inline. Longer
	// texts are converted into an attachment.
	MessageLimit int
	// AttachmentName is the file name used for oversized texts.
	AttachmentName string
}

// Build renders an entry. It returns the zero Record for an empty message.
func (b Builder) Build(e Entry) kit.Record {
	if strings.TrimSpace(e.Message) == "" && len(e.Fields) == 0 && e.Error == nil {
		return kit.Record{}
	}

	limit := b.MessageLimit
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	name := strings.TrimSpace(b.AttachmentName)
	if name == "" {
		name = DefaultAttachmentName
	}

	header := Header(e.Severity, e.Message)

	var sb strings.Builder
	sb.WriteString(header)
	for _, f := range e.Fields {
		sb.WriteString("\n- ")
		sb.WriteString(f.Key)
		sb.WriteString("=")
		sb.WriteString(f.Value)
	}

	rec := kit.Record{Severity: e.Severity}
	if e.Error != nil {
		if e.Severity >= kit.SeverityError {
			rec.Embeds = []kit.Embed{ErrorEmbed(*e.Error)}
		} else if e.Error.Message != "" {
			sb.WriteString("\n- err=")
			sb.WriteString(e.Error.Message)
		}
	}

	text := sb.String()
	if utf8.RuneCountInString(text) > limit {
		rec.Attachment = &kit.Attachment{Data: []byte(text), FileName: name}
		text = Truncate(header, limit)
	}
	rec.Text = text
	return rec
}

// Truncate shortens s to at most n characters, marking the cut with "...".
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	rs := []rune(s)
	if n < 10 {
		return string(rs[:n])
	}
	return string(rs[:n-3]) + "..."
}
