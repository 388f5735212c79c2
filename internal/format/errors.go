package format

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	kit "hooklog/internal/transport"
)

// ErrorDetails is the flattened view of an error used to build an embed.
type ErrorDetails struct {
	Message string
	Type    string
	Source  string
	Chain   []string
	Data    []Field
	Stack   string
}

// Errors can expose extra context by implementing these.
type (
	fieldsError interface{ Fields() map[string]any }
	stackError  interface{ StackTrace() string }
	sourceError interface{ Source() string }
)

// FormatError renders err as an error-details embed.
func FormatError(err error) kit.Embed {
	return ErrorEmbed(Details(err))
}

// Details extracts message, type, inner errors, data and stack from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	d := ErrorDetails{
		Message: err.Error(),
		Type:    fmt.Sprintf("%T", err),
		Chain:   Chain(err),
	}
	var se sourceError
	if errors.As(err, &se) {
		d.Source = se.Source()
	}
	var st stackError
	if errors.As(err, &st) {
		d.Stack = st.StackTrace()
	}
	d.Data = DataFields(ErrorData(err))
	return d
}

// Chain lists the messages of the errors wrapped by err, outermost first.
// Joined errors contribute every branch.
func Chain(err error) []string {
	var out []string
	var walk func(e error)
	walk = func(e error) {
		switch x := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				if inner == nil {
					continue
				}
				out = append(out, inner.Error())
				walk(inner)
			}
		case interface{ Unwrap() error }:
			if inner := x.Unwrap(); inner != nil {
				out = append(out, inner.Error())
				walk(inner)
			}
		}
	}
	if err != nil {
		walk(err)
	}
	return out
}

// ErrorData merges the Fields() of every error in the chain. Outer errors win.
func ErrorData(err error) map[string]any {
	var out map[string]any
	var walk func(e error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if fe, ok := e.(fieldsError); ok {
			for k, v := range fe.Fields() {
				if out == nil {
					out = map[string]any{}
				}
				if _, exists := out[k]; !exists {
					out[k] = v
				}
			}
		}
		switch x := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	walk(err)
	return out
}

// DataFields renders a map as fields sorted by key.
func DataFields(m map[string]any) []Field {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, Field{Key: k, Value: fmt.Sprint(m[k])})
	}
	return out
}

// ErrorEmbed builds the "Exception Details" embed.
func ErrorEmbed(d ErrorDetails) kit.Embed {
	em := kit.Embed{
		Title: Truncate("Exception Details", embedTitleLimit),
		Color: colorDarkRed,
	}
	add := func(name, value string) {
		if strings.TrimSpace(value) == "" || len(em.Fields) >= embedFieldMax {
			return
		}
		em.Fields = append(em.Fields, kit.EmbedField{Name: name, Value: Truncate(value, embedFieldLimit)})
	}

	add("Message", d.Message)
	add("Exception type", d.Type)
	add("Source", d.Source)
	for i, inner := range d.Chain {
		add("Inner Exception "+strconv.Itoa(i+1), inner)
	}
	if len(d.Data) > 0 {
		var sb strings.Builder
		for _, f := range d.Data {
			sb.WriteString(f.Key)
			sb.WriteString(": ")
			sb.WriteString(f.Value)
			sb.WriteString("\n")
		}
		add("Exception Data", sb.String())
	}
	add("Stack Trace", d.Stack)
	return em
}
