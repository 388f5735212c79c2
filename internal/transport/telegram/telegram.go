// Package telegram delivers records to a Telegram chat (optionally a forum
// topic) through the Bot API.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "hooklog/internal/transport"
	logx "hooklog/pkg/logx"
)

var (
	ErrEmptyToken = errors.New("telegram token is empty")
	ErrNoChat     = errors.New("telegram chat id is not set")
)

const (
	textLimit    = 4000
	captionLimit = 1024
)

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint (self-hosted server, tests).
	APIURL  string
	Timeout time.Duration
}

var _ kit.Sender = (*Sender)(nil)

// Sender implements transport.Sender on top of telebot. It never polls for
// updates.
type Sender struct {
	cfg  Config
	bot  *tele.Bot
	chat *tele.Chat
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrEmptyToken
	}
	if cfg.ChatID == 0 {
		return nil, ErrNoChat
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   strings.TrimSpace(cfg.Token),
		URL:     cfg.APIURL,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{
		cfg:  cfg,
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
		log:  log.Local().With(logx.String("comp", "telegram")),
	}, nil
}

// SendText sends text followed by the rendered embeds, split into several
// messages when it exceeds the Bot API limit.
func (s *Sender) SendText(ctx context.Context, text string, embeds []kit.Embed) error {
	chunks := splitText(Render(text, embeds), textLimit)
	for _, chunk := range chunks {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if _, err := s.bot.Send(s.chat, chunk, s.options()); err != nil {
			return err
		}
	}
	return nil
}

// SendAttachment uploads data as a document. Embeds go into the caption and
// are cut at the caption limit.
func (s *Sender) SendAttachment(ctx context.Context, data []byte, filename, caption string, embeds []kit.Embed) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if filename == "" {
		filename = "details.txt"
	}
	doc := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(data)),
		FileName: filename,
		Caption:  truncate(Render(caption, embeds), captionLimit),
	}
	_, err := s.bot.Send(s.chat, doc, s.options())
	return err
}

func (s *Sender) options() *tele.SendOptions {
	return &tele.SendOptions{
		ThreadID:              s.cfg.ThreadID,
		DisableWebPagePreview: true,
	}
}

var icons = strings.NewReplacer(
	":spider_web:", "🕸",
	":information_source:", "ℹ️",
	":warning:", "⚠️",
	":skull:", "💀",
	":radioactive:", "☢️",
	"**", "",
)

// Render flattens a record into plain text: chat-markdown icons become emoji
// and each embed becomes a "[Title]" block of "Name: value" lines.
func Render(text string, embeds []kit.Embed) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(icons.Replace(text), "\n"))
	for _, e := range embeds {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if e.Title != "" {
			b.WriteString("[" + e.Title + "]")
		}
		for _, f := range e.Fields {
			b.WriteString("\n")
			b.WriteString(f.Name)
			if strings.Contains(f.Value, "\n") {
				b.WriteString(":\n")
				b.WriteString(strings.TrimRight(f.Value, "\n"))
			} else {
				b.WriteString(": ")
				b.WriteString(f.Value)
			}
		}
	}
	return b.String()
}

// splitText splits long messages, preferring newline boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-3]) + "..."
}
