// Package webhook delivers records to a Discord-compatible webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	kit "hooklog/internal/transport"
	logx "hooklog/pkg/logx"
)

var (
	ErrEmptyURL   = errors.New("webhook url is empty")
	ErrInvalidURL = errors.New("webhook url is invalid")
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
	// RetryAfter is set from the Retry-After header on 429 responses.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("webhook: http %d (retry after %s): %s", e.Code, e.RetryAfter, e.Body)
	}
	if e.Body == "" {
		return fmt.Sprintf("webhook: http %d", e.Code)
	}
	return fmt.Sprintf("webhook: http %d: %s", e.Code, e.Body)
}

type Config struct {
	URL       string
	Username  string
	AvatarURL string
	Timeout   time.Duration
	// CompressAttachments gzips attachment bodies and adds ".gz" to the name.
	CompressAttachments bool
}

var _ kit.Sender = (*Client)(nil)

// Client implements transport.Sender. It is safe for concurrent use.
type Client struct {
	cfg  Config
	url  string
	http *http.Client
	log  logx.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client (mostly for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithLogger(log logx.Logger) Option {
	return func(cl *Client) { cl.log = log }
}

// ValidateURL accepts only absolute http(s) URLs with a host.
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	return u, nil
}

func New(cfg Config, opts ...Option) (*Client, error) {
	u, err := ValidateURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{cfg: cfg, url: u.String(), log: logx.Nop()}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	c.log = c.log.Local().With(logx.String("comp", "webhook"))
	return c, nil
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embed struct {
	Title  string       `json:"title,omitempty"`
	Color  int          `json:"color,omitempty"`
	Fields []embedField `json:"fields,omitempty"`
}

type attachmentRef struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

type payload struct {
	Content     string          `json:"content,omitempty"`
	Username    string          `json:"username,omitempty"`
	AvatarURL   string          `json:"avatar_url,omitempty"`
	Embeds      []embed         `json:"embeds,omitempty"`
	Attachments []attachmentRef `json:"attachments,omitempty"`
}

func (c *Client) payload(text string, embeds []kit.Embed) payload {
	p := payload{Content: text, Username: c.cfg.Username, AvatarURL: c.cfg.AvatarURL}
	for _, e := range embeds {
		em := embed{Title: e.Title, Color: e.Color}
		for _, f := range e.Fields {
			em.Fields = append(em.Fields, embedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		p.Embeds = append(p.Embeds, em)
	}
	return p
}

func (c *Client) SendText(ctx context.Context, text string, embeds []kit.Embed) error {
	b, err := json.Marshal(c.payload(text, embeds))
	if err != nil {
		return err
	}
	return c.post(ctx, "application/json", bytes.NewReader(b))
}

// SendAttachment uploads data as multipart/form-data with the caption and
// embeds in payload_json.
func (c *Client) SendAttachment(ctx context.Context, data []byte, filename, caption string, embeds []kit.Embed) error {
	if filename == "" {
		filename = "details.txt"
	}
	contentType := "text/plain; charset=utf-8"
	if c.cfg.CompressAttachments {
		gz, err := compress(data)
		if err != nil {
			return fmt.Errorf("compress attachment: %w", err)
		}
		data = gz
		filename += ".gz"
		contentType = "application/gzip"
	}

	p := c.payload(caption, embeds)
	p.Attachments = []attachmentRef{{ID: 0, Filename: filename}}
	pj, err := json.Marshal(p)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("payload_json", string(pj)); err != nil {
		return err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[0]"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return c.post(ctx, mw.FormDataContentType(), &body)
}

func (c *Client) post(ctx context.Context, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	if resp.StatusCode == http.StatusTooManyRequests {
		se.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		c.log.Debug("webhook rate limited", logx.Duration("retry_after", se.RetryAfter))
	}
	return se
}

// parseRetryAfter reads seconds (fractional allowed, as Discord sends them).
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
