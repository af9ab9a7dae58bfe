// Package twilio implements the WhatsApp channel via the Twilio
// Messages API.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.twilio.com"

type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string // E.164, without the whatsapp: prefix

	// DefaultCountryCode replaces a leading "0" on local numbers.
	DefaultCountryCode string

	APIBase string // overridable for tests
	Timeout time.Duration
}

func (c Config) Configured() bool {
	return strings.TrimSpace(c.AccountSID) != "" &&
		strings.TrimSpace(c.AuthToken) != "" &&
		strings.TrimSpace(c.FromNumber) != ""
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

func (a *Adapter) Provider() string { return "twilio" }

func (a *Adapter) Send(ctx context.Context, to, body string) (string, error) {
	data := url.Values{}
	data.Set("To", "whatsapp:"+E164(to, a.cfg.DefaultCountryCode))
	data.Set("From", "whatsapp:"+a.cfg.FromNumber)
	data.Set("Body", body)
	return a.post(ctx, data)
}

func (a *Adapter) SendMedia(ctx context.Context, to, caption, mediaURL string) (string, error) {
	data := url.Values{}
	data.Set("To", "whatsapp:"+E164(to, a.cfg.DefaultCountryCode))
	data.Set("From", "whatsapp:"+a.cfg.FromNumber)
	data.Set("Body", caption)
	data.Set("MediaUrl", mediaURL)
	return a.post(ctx, data)
}

func (a *Adapter) post(ctx context.Context, data url.Values) (string, error) {
	if !a.cfg.Configured() {
		return "", errors.New("twilio account sid, auth token and from number are required")
	}

	base := a.cfg.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(base, "/"), a.cfg.AccountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("twilio returned status %s: %s", resp.Status, shortBody(rb))
	}

	var v struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(rb, &v); err != nil {
		return "", fmt.Errorf("twilio response decode: %w", err)
	}
	return v.SID, nil
}

func shortBody(b []byte) string {
	s := string(b)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// E164 normalizes a phone number to +<digits> form.
func E164(phone, defaultCC string) string {
	p := strings.TrimSpace(phone)
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
	return "+" + d
}
