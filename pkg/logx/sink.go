package logx

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/valyala/fastjson"

	"hooklog/internal/format"
	kit "hooklog/internal/transport"
)

var parsers fastjson.ParserPool

// webhookWriter is the zerolog sink that turns JSON log lines into records
// and hands them to the dispatcher. It never blocks: a full queue drops the
// record and the dispatcher reports the drop count later.
type webhookWriter struct{ svc *Service }

func (w *webhookWriter) Write(p []byte) (int, error) {
	// Default to info when WriteLevel isn't used.
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *webhookWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if w.svc == nil {
		return len(p), nil
	}
	enq, b, minLevel := w.svc.sinkState()
	if enq == nil || level < minLevel || level >= zerolog.NoLevel {
		return len(p), nil
	}

	entry, ok := decodeEntry(level, p)
	if !ok {
		return len(p), nil
	}
	rec := b.Build(entry)
	if rec.Empty() {
		return len(p), nil
	}
	enq.TryEnqueue(rec)
	return len(p), nil
}

// SeverityOf maps zerolog levels onto record severities.
func SeverityOf(level zerolog.Level) kit.Severity {
	switch {
	case level <= zerolog.TraceLevel:
		return kit.SeverityTrace
	case level == zerolog.DebugLevel:
		return kit.SeverityDebug
	case level == zerolog.InfoLevel:
		return kit.SeverityInfo
	case level == zerolog.WarnLevel:
		return kit.SeverityWarning
	case level == zerolog.ErrorLevel:
		return kit.SeverityError
	default:
		return kit.SeverityCritical
	}
}

// decodeEntry splits one zerolog JSON line into message, plain fields and
// error details.
func decodeEntry(level zerolog.Level, p []byte) (format.Entry, bool) {
	parser := parsers.Get()
	defer parsers.Put(parser)

	v, err := parser.ParseBytes(p)
	if err != nil {
		return format.Entry{}, false
	}
	obj, err := v.Object()
	if err != nil {
		return format.Entry{}, false
	}

	e := format.Entry{Severity: SeverityOf(level)}
	var details format.ErrorDetails
	hasErr := false

	obj.Visit(func(key []byte, val *fastjson.Value) {
		k := string(key)
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName:
		case zerolog.MessageFieldName:
			e.Message = stringOf(val)
		case zerolog.ErrorFieldName:
			details.Message = stringOf(val)
			hasErr = true
		case errTypeField:
			details.Type = stringOf(val)
		case errChainField:
			for _, item := range val.GetArray() {
				details.Chain = append(details.Chain, stringOf(item))
			}
		case errDataField:
			if o, err := val.Object(); err == nil {
				o.Visit(func(dk []byte, dv *fastjson.Value) {
					details.Data = append(details.Data, format.Field{Key: string(dk), Value: stringOf(dv)})
				})
				sort.Slice(details.Data, func(i, j int) bool { return details.Data[i].Key < details.Data[j].Key })
			}
		case stackField:
			details.Stack = stringOf(val)
		case zerolog.CallerFieldName:
			details.Source = stringOf(val)
		default:
			e.Fields = append(e.Fields, format.Field{Key: k, Value: stringOf(val)})
		}
	})

	if hasErr || details.Stack != "" {
		e.Error = &details
	}
	return e, true
}

func stringOf(v *fastjson.Value) string {
	if v == nil {
		return ""
	}
	if v.Type() == fastjson.TypeString {
		return string(v.GetStringBytes())
	}
	return v.String()
}
