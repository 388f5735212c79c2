package format

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	kit "hooklog/internal/transport"
)

type dataErr struct{ msg string }

func (e dataErr) Error() string          { return e.msg }
func (e dataErr) Fields() map[string]any { return map[string]any{"b": 2, "a": "one"} }
func (e dataErr) StackTrace() string     { return "main.main\n  main.go:10" }

func TestHeader(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sev  kit.Severity
		want string
	}{
		{kit.SeverityTrace, "**[Trace]**   hi"},
		{kit.SeverityDebug, ":spider_web: **[Debug]**   hi"},
		{kit.SeverityInfo, ":information_source: **[Information]**   hi"},
		{kit.SeverityWarning, ":warning: **[Warning]**   hi"},
		{kit.SeverityError, ":skull: **[Error]**   hi"},
		{kit.SeverityCritical, ":radioactive: **[Critical]**   hi"},
	}
	for _, tt := range tests {
		if got := Header(tt.sev, "hi"); got != tt.want {
			t.Fatalf("Header(%v) = %q, want %q", tt.sev, got, tt.want)
		}
	}
}

func TestBuildPlainText(t *testing.T) {
	t.Parallel()
	b := Builder{MessageLimit: 200}
	rec := b.Build(Entry{
		Severity: kit.SeverityInfo,
		Message:  "started",
		Fields:   []Field{{Key: "port", Value: "8080"}},
	})
	if rec.Indivisible() {
		t.Fatalf("plain record must be divisible: %+v", rec)
	}
	want := ":information_source: **[Information]**   started\n- port=8080"
	if rec.Text != want {
		t.Fatalf("Text = %q, want %q", rec.Text, want)
	}
}

func TestBuildEmptyMessage(t *testing.T) {
	t.Parallel()
	rec := Builder{}.Build(Entry{Severity: kit.SeverityInfo, Message: "  "})
	if !rec.Empty() {
		t.Fatalf("expected empty record, got %+v", rec)
	}
}

func TestBuildOversizeBecomesAttachment(t *testing.T) {
	t.Parallel()
	b := Builder{MessageLimit: 50}
	msg := strings.Repeat("x", 120)
	rec := b.Build(Entry{Severity: kit.SeverityWarning, Message: msg})
	if rec.Attachment == nil {
		t.Fatal("expected attachment for oversized text")
	}
	if rec.Attachment.FileName != DefaultAttachmentName {
		t.Fatalf("FileName = %q", rec.Attachment.FileName)
	}
	if !strings.Contains(string(rec.Attachment.Data), msg) {
		t.Fatal("attachment must carry the full text")
	}
	if n := len([]rune(rec.Text)); n > 50 {
		t.Fatalf("caption has %d chars, want <= 50", n)
	}
}

func TestBuildErrorEmbedOnlyForErrorSeverity(t *testing.T) {
	t.Parallel()
	details := Details(errors.New("boom"))

	rec := Builder{}.Build(Entry{Severity: kit.SeverityError, Message: "failed", Error: &details})
	if len(rec.Embeds) != 1 {
		t.Fatalf("expected one embed, got %d", len(rec.Embeds))
	}

	rec = Builder{}.Build(Entry{Severity: kit.SeverityWarning, Message: "failed", Error: &details})
	if len(rec.Embeds) != 0 {
		t.Fatalf("warning must not carry embeds: %+v", rec.Embeds)
	}
	if !strings.HasSuffix(rec.Text, "- err=boom") {
		t.Fatalf("warning text should inline the error: %q", rec.Text)
	}
}

func TestFormatErrorFields(t *testing.T) {
	t.Parallel()
	inner := dataErr{msg: "disk full"}
	err := fmt.Errorf("write segment: %w", inner)

	em := FormatError(err)
	if em.Title != "Exception Details" || em.Color != colorDarkRed {
		t.Fatalf("unexpected embed header: %+v", em)
	}
	got := map[string]string{}
	var order []string
	for _, f := range em.Fields {
		got[f.Name] = f.Value
		order = append(order, f.Name)
	}
	if got["Message"] != "write segment: disk full" {
		t.Fatalf("Message = %q", got["Message"])
	}
	if got["Exception type"] != "*fmt.wrapError" {
		t.Fatalf("Exception type = %q", got["Exception type"])
	}
	if got["Inner Exception 1"] != "disk full" {
		t.Fatalf("Inner Exception 1 = %q", got["Inner Exception 1"])
	}
	if got["Exception Data"] != "a: one\nb: 2\n" {
		t.Fatalf("Exception Data = %q", got["Exception Data"])
	}
	if got["Stack Trace"] == "" {
		t.Fatal("expected stack trace field")
	}
	if order[len(order)-1] != "Stack Trace" {
		t.Fatalf("stack trace must be last, got %v", order)
	}
}

func TestChainJoined(t *testing.T) {
	t.Parallel()
	err := errors.Join(errors.New("a"), fmt.Errorf("b: %w", errors.New("c")))
	got := Chain(err)
	want := []string{"a", "b: c", "c"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("Chain = %v, want %v", got, want)
	}
}

func TestErrorEmbedTruncatesFields(t *testing.T) {
	t.Parallel()
	em := ErrorEmbed(ErrorDetails{Message: strings.Repeat("m", 3000)})
	if n := len([]rune(em.Fields[0].Value)); n != embedFieldLimit {
		t.Fatalf("field length = %d, want %d", n, embedFieldLimit)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := Truncate("hello", 10); got != "hello" {
		t.Fatalf("Truncate short = %q", got)
	}
	if got := Truncate("hello world, long text", 12); got != "hello wor..." {
		t.Fatalf("Truncate = %q", got)
	}
	if got := Truncate("ééééé", 3); got != "ééé" {
		t.Fatalf("Truncate runes = %q", got)
	}
}
