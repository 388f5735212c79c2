package dispatch

import (
	"strings"
	"unicode/utf8"

	kit "hooklog/internal/transport"
)

// Batch is one outbound delivery: either merged plain text from one or more
// records, or a single indivisible record forwarded unchanged.
type Batch struct {
	Text       string
	Attachment *kit.Attachment
	Embeds     []kit.Embed
	// Records is the number of input records carried by the batch.
	Records int
}

func (b Batch) Indivisible() bool { return b.Attachment != nil || len(b.Embeds) > 0 }

// Len is the text length in characters.
func (b Batch) Len() int { return utf8.RuneCountInString(b.Text) }

// Coalesce groups records into batches, preserving order.
//
// Plain-text records are merged, each followed by a newline, as long as the
// merged text stays within limit. Records with an attachment or embeds are
// emitted alone and close the pending merge. A single record longer than limit
// is emitted alone, never split, and keeps its newline. A lone record whose
// text is exactly limit characters long is emitted without the newline.
func Coalesce(records []kit.Record, limit int) []Batch {
	var (
		out   []Batch
		acc   strings.Builder
		accN  int // characters in acc
		count int // records in acc
	)
	flush := func() {
		if count == 0 {
			return
		}
		text := acc.String()
		if count == 1 && accN == limit+1 {
			text = strings.TrimSuffix(text, "\n")
		}
		out = append(out, Batch{Text: text, Records: count})
		acc.Reset()
		accN, count = 0, 0
	}

	for _, r := range records {
		if r.Indivisible() {
			flush()
			out = append(out, Batch{Text: r.Text, Attachment: r.Attachment, Embeds: r.Embeds, Records: 1})
			continue
		}
		n := utf8.RuneCountInString(r.Text) + 1
		if count > 0 && accN+n > limit {
			flush()
		}
		acc.WriteString(r.Text)
		acc.WriteByte('\n')
		accN += n
		count++
	}
	flush()
	return out
}
