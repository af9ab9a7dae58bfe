// Package push implements the push channel against a generic push
// gateway (a thin HTTP front for FCM/web-push subscriptions).
package push

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

type Config struct {
	GatewayURL string
	APIKey     string

	Timeout time.Duration
}

func (c Config) Configured() bool { return strings.TrimSpace(c.GatewayURL) != "" }

type Adapter struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config, client *http.Client) *Adapter {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Provider() string { return "push" }

// Send posts one notification to the gateway. The destination is the
// stored push-subscription reference.
func (a *Adapter) Send(ctx context.Context, to, body string) (string, error) {
	if !a.cfg.Configured() {
		return "", errors.New("push gateway url is required")
	}

	title := body
	text := ""
	if i := strings.Index(body, "\n"); i > 0 {
		title = strings.TrimSpace(body[:i])
		text = strings.TrimLeft(body[i:], "\n")
	}

	b, err := json.Marshal(map[string]any{
		"to":    to,
		"title": title,
		"body":  text,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.cfg.GatewayURL, "/")+"/push", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("push gateway returned status %s", resp.Status)
	}

	var v struct {
		MessageID string `json:"messageId"`
	}
	_ = json.Unmarshal(rb, &v)
	return v.MessageID, nil
}
