// Package notify delivers messages and files to a Telegram chat through the
// Bot API. Delivery is best effort: failures are logged and reported as a
// false result, never as an error.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
)

// DefaultBaseURL is the Telegram Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Default request timeouts.
const (
	DefaultMessageTimeout = 30 * time.Second
	DefaultFileTimeout    = 2 * time.Minute
)

// maxResponseBody bounds how much of an error response is logged.
const maxResponseBody = 4096

// Notifier sends notifications.
type Notifier interface {
	SendMessage(ctx context.Context, text string) bool
	SendFile(ctx context.Context, path string) bool
}

// Config configures a Telegram notifier.
type Config struct {
	BotToken string
	ChatID   string

	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	MessageTimeout time.Duration
	FileTimeout    time.Duration
}

// Telegram is a Notifier backed by the Telegram Bot API.
type Telegram struct {
	cfg    Config
	client *http.Client
	log    *logging.Logger
}

// New creates a Telegram notifier. A notifier without token or chat ID is
// disabled: every send logs an error and returns false.
func New(cfg Config, log *logging.Logger) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = DefaultMessageTimeout
	}
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = DefaultFileTimeout
	}
	if log == nil {
		log = logging.Nop()
	}

	return &Telegram{
		cfg:    cfg,
		client: &http.Client{},
		log:    log,
	}
}

// Enabled reports whether both token and chat ID are set.
func (t *Telegram) Enabled() bool {
	return t.cfg.BotToken != "" && t.cfg.ChatID != ""
}

// SendMessage posts an HTML-formatted text message.
func (t *Telegram) SendMessage(ctx context.Context, text string) bool {
	if !t.checkEnabled() {
		return false
	}

	t.log.Info("sending message", "chars", len(text), "chat", t.cfg.ChatID)

	form := url.Values{
		"chat_id":    {t.cfg.ChatID},
		"text":       {text},
		"parse_mode": {"HTML"},
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.MessageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage"), strings.NewReader(form.Encode()))
	if err != nil {
		t.log.Error("building message request", "error", t.redact(err.Error()))
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if !t.do(req, "message") {
		return false
	}
	t.log.Info("message sent")
	return true
}

// SendFile uploads the file at path as a document.
func (t *Telegram) SendFile(ctx context.Context, path string) bool {
	if !t.checkEnabled() {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		t.log.Error("file not readable", "path", path, "error", err)
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		t.log.Error("not a regular file", "path", path)
		return false
	}

	t.log.Info("sending file", "path", path, "size", humanize.IBytes(uint64(info.Size())))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", t.cfg.ChatID); err != nil {
		t.log.Error("building upload", "error", err)
		return false
	}
	part, err := mw.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		t.log.Error("building upload", "error", err)
		return false
	}
	if _, err := io.Copy(part, f); err != nil {
		t.log.Error("reading file", "path", path, "error", err)
		return false
	}
	if err := mw.Close(); err != nil {
		t.log.Error("building upload", "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.FileTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendDocument"), &buf)
	if err != nil {
		t.log.Error("building upload request", "error", t.redact(err.Error()))
		return false
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if !t.do(req, "file") {
		return false
	}
	t.log.Info("file sent", "path", path)
	return true
}

func (t *Telegram) checkEnabled() bool {
	if t.Enabled() {
		return true
	}
	t.log.Error("bot token or chat id not configured",
		"token_set", t.cfg.BotToken != "",
		"chat_set", t.cfg.ChatID != "")
	return false
}

func (t *Telegram) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.cfg.BaseURL, t.cfg.BotToken, method)
}

// do sends req and reports whether the API answered 200.
func (t *Telegram) do(req *http.Request, what string) bool {
	resp, err := t.client.Do(req)
	if err != nil {
		if req.Context().Err() == context.DeadlineExceeded {
			t.log.Error("request timed out", "kind", what)
			return false
		}
		t.log.Error("request failed", "kind", what, "error", t.redact(err.Error()))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		t.log.Error("api returned failure", "kind", what, "status", resp.StatusCode, "response", t.redact(string(body)))
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return true
}

// redact removes the bot token, which is part of every request URL.
func (t *Telegram) redact(s string) string {
	if t.cfg.BotToken == "" {
		return s
	}
	return strings.ReplaceAll(s, t.cfg.BotToken, "********")
}

// Nop is a Notifier that drops everything and reports success.
type Nop struct{}

// SendMessage implements Notifier.
func (Nop) SendMessage(context.Context, string) bool { return true }

// SendFile implements Notifier.
func (Nop) SendFile(context.Context, string) bool { return true }
