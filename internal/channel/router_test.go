package channel

import (
	"errors"
	"testing"

	"safetynotify/internal/channel/resend"
	"safetynotify/internal/channel/twilio"
	"safetynotify/internal/channel/waha"
	"safetynotify/pkg/logx"
)

func wahaCfg() waha.Config {
	return waha.Config{BaseURL: "http://waha.local", Session: "main"}
}

func twilioCfg() twilio.Config {
	return twilio.Config{AccountSID: "AC1", AuthToken: "tok", FromNumber: "+15550001"}
}

func TestResolveWhatsAppExplicitWins(t *testing.T) {
	t.Parallel()
	// Both vendors configured; explicit choice overrides the primary.
	p := Providers{WhatsApp: WhatsAppProviders{Provider: "twilio", WAHA: wahaCfg(), Twilio: twilioCfg()}}
	r := NewRouter(func() Providers { return p }, logx.Nop())

	ad, err := r.Resolve(WhatsApp)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := ad.Provider(); got != "twilio" {
		t.Fatalf("Provider = %q, want twilio", got)
	}
}

func TestResolveWhatsAppAutoPrefersPrimary(t *testing.T) {
	t.Parallel()
	p := Providers{WhatsApp: WhatsAppProviders{WAHA: wahaCfg(), Twilio: twilioCfg()}}
	r := NewRouter(func() Providers { return p }, logx.Nop())

	ad, err := r.Resolve(WhatsApp)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := ad.Provider(); got != "waha" {
		t.Fatalf("Provider = %q, want waha", got)
	}
}

func TestResolveWhatsAppFallsBackToSecondary(t *testing.T) {
	t.Parallel()
	p := Providers{WhatsApp: WhatsAppProviders{Twilio: twilioCfg()}}
	r := NewRouter(func() Providers { return p }, logx.Nop())

	ad, err := r.Resolve(WhatsApp)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := ad.Provider(); got != "twilio" {
		t.Fatalf("Provider = %q, want twilio", got)
	}
}

func TestResolveNotConfiguredFailsFast(t *testing.T) {
	t.Parallel()
	r := NewRouter(func() Providers { return Providers{} }, logx.Nop())

	for _, ch := range []Channel{WhatsApp, Email, Push, Telegram} {
		if _, err := r.Resolve(ch); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("Resolve(%s) err = %v, want ErrNotConfigured", ch, err)
		}
	}
}

func TestResolveUnknownChannel(t *testing.T) {
	t.Parallel()
	r := NewRouter(func() Providers { return Providers{} }, logx.Nop())
	if _, err := r.Resolve(Channel("fax")); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("err = %v, want ErrUnknownChannel", err)
	}
}

func TestResolveSeesConfigChanges(t *testing.T) {
	t.Parallel()
	var p Providers
	r := NewRouter(func() Providers { return p }, logx.Nop())

	if _, err := r.Resolve(Email); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected not configured before reload, got %v", err)
	}

	// Simulate a config reload; no router rebuild needed.
	p.Email.Resend = resend.Config{APIKey: "re_key", From: "alerts@example.com"}
	ad, err := r.Resolve(Email)
	if err != nil {
		t.Fatalf("Resolve after reload: %v", err)
	}
	if got := ad.Provider(); got != "resend" {
		t.Fatalf("Provider = %q, want resend", got)
	}
}
