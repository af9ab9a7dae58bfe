// Package waha implements the WhatsApp channel against a WAHA
// (WhatsApp HTTP API) server.
package waha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"safetynotify/pkg/logx"
)

type Config struct {
	BaseURL string
	Session string
	APIKey  string

	// DefaultCountryCode replaces a leading "0" on local numbers, e.g. "62".
	DefaultCountryCode string

	Timeout time.Duration
}

// Configured reports whether the adapter has enough credentials to send.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.BaseURL) != "" && strings.TrimSpace(c.Session) != ""
}

type Adapter struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, client *http.Client, log logx.Logger) *Adapter {
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, client: client, log: log}
}

func (a *Adapter) Provider() string { return "waha" }

func (a *Adapter) Send(ctx context.Context, to, body string) (string, error) {
	return a.post(ctx, "/api/sendText", map[string]any{
		"session": a.cfg.Session,
		"chatId":  ChatID(to, a.cfg.DefaultCountryCode),
		"text":    body,
	})
}

func (a *Adapter) SendMedia(ctx context.Context, to, caption, mediaURL string) (string, error) {
	return a.post(ctx, "/api/sendImage", map[string]any{
		"session": a.cfg.Session,
		"chatId":  ChatID(to, a.cfg.DefaultCountryCode),
		"caption": caption,
		"file":    map[string]any{"url": mediaURL},
	})
}

func (a *Adapter) post(ctx context.Context, path string, payload map[string]any) (string, error) {
	if !a.cfg.Configured() {
		return "", errors.New("waha base url and session are required")
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(a.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("waha returned status %s: %s", resp.Status, truncate(string(rb), 200))
	}

	id := messageID(rb)
	if id == "" {
		// The send went through; a missing id only weakens webhook joining.
		a.log.Warn("waha response without message id", logx.String("path", path))
	}
	return id, nil
}

// messageID digs the serialized message id out of a WAHA send response.
// Different WAHA versions nest it differently.
func messageID(body []byte) string {
	var v struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return ""
	}
	switch id := v.ID.(type) {
	case string:
		return id
	case map[string]any:
		if s, ok := id["_serialized"].(string); ok {
			return s
		}
		if s, ok := id["id"].(string); ok {
			return s
		}
	}
	return ""
}

// ChatID converts a phone number to WAHA chat id form ("<digits>@c.us").
// A leading "0" is replaced with the default country code; a leading "+"
// is dropped.
func ChatID(phone, defaultCC string) string {
	p := strings.TrimSpace(phone)
	if strings.Contains(p, "@") {
		return p // already a chat id
	}
	var digits strings.Builder
	for _, r := range p {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if strings.HasPrefix(d, "0") && defaultCC != "" {
		d = defaultCC + d[1:]
	}
	return d + "@c.us"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
