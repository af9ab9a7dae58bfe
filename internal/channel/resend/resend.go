// Package resend implements the email channel via the Resend API.
package resend

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
)

const defaultEndpoint = "https://api.resend.com/emails"

type Config struct {
	APIKey string
	From   string // e.g. "Safety Desk <alerts@example.com>"

	Endpoint string // overridable for tests
	Timeout  time.Duration
}

func (c Config) Configured() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.From) != ""
}

type Adapter struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config, client *http.Client) *Adapter {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Provider() string { return "resend" }

// Send delivers one email. The composer hands email bodies over as
// "subject\n\nhtml"; the first line becomes the subject.
func (a *Adapter) Send(ctx context.Context, to, body string) (string, error) {
	if !a.cfg.Configured() {
		return "", errors.New("resend api key and from address are required")
	}

	subject, html := splitSubject(body)
	payload := map[string]any{
		"from":    a.cfg.From,
		"to":      []string{to},
		"subject": subject,
		"html":    html,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	endpoint := a.cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("resend returned status %s: %s", resp.Status, shortBody(rb))
	}

	var v struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rb, &v); err != nil {
		return "", fmt.Errorf("resend response decode: %w", err)
	}
	return v.ID, nil
}

func splitSubject(body string) (subject, html string) {
	subject = "Safety notification"
	html = body
	if i := strings.Index(body, "\n"); i > 0 {
		first := strings.TrimSpace(body[:i])
		if first != "" && !strings.HasPrefix(first, "<") {
			subject = first
			html = strings.TrimLeft(body[i:], "\n")
		}
	}
	return subject, html
}

func shortBody(b []byte) string {
	s := string(b)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
