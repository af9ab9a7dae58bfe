package channel

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"safetynotify/internal/channel/push"
	"safetynotify/internal/channel/resend"
	"safetynotify/internal/channel/telegram"
	"safetynotify/internal/channel/twilio"
	"safetynotify/internal/channel/waha"
	"safetynotify/pkg/logx"
)

// Providers is the live provider configuration the router selects from.
type Providers struct {
	WhatsApp WhatsAppProviders
	Email    EmailProviders
	Push     push.Config
	Telegram telegram.Config
}

// WhatsAppProviders configures both WhatsApp vendors. Provider forces a
// vendor ("waha" or "twilio"); when empty the router auto-detects by
// probing credentials, preferring WAHA as the primary.
type WhatsAppProviders struct {
	Provider string
	WAHA     waha.Config
	Twilio   twilio.Config
}

type EmailProviders struct {
	Provider string // only "resend" today; kept for the next vendor
	Resend   resend.Config
}

// Router maps a logical channel to one concrete adapter at call time.
//
// Resolve must be called fresh per send: the providers func returns the
// current config snapshot, so a config reload (or provider switch-over)
// takes effect without a restart.
type Router struct {
	providers func() Providers
	client    *http.Client
	log       logx.Logger

	// Telegram bots are validated at construction, so the adapter is
	// reused until the token changes.
	tgMu    sync.Mutex
	tgToken string
	tg      *telegram.Adapter

	// static pins fixed adapters, bypassing config resolution. Used by
	// tests and single-provider embeddings.
	static map[Channel]Adapter
}

// NewRouterWithAdapters builds a router over a fixed adapter set.
func NewRouterWithAdapters(adapters map[Channel]Adapter) *Router {
	return &Router{static: adapters, log: logx.Nop()}
}

func NewRouter(providers func() Providers, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		providers: providers,
		client:    &http.Client{Timeout: 15 * time.Second},
		log:       log,
	}
}

// Resolve returns the active adapter for a logical channel.
// Incomplete credentials fail fast with ErrNotConfigured; no network
// call is attempted.
func (r *Router) Resolve(ch Channel) (Adapter, error) {
	if r.static != nil {
		if !ch.Valid() {
			return nil, fmt.Errorf("%q: %w", string(ch), ErrUnknownChannel)
		}
		ad, ok := r.static[ch]
		if !ok {
			return nil, fmt.Errorf("%s: %w", string(ch), ErrNotConfigured)
		}
		return ad, nil
	}
	cfg := r.providers()

	switch ch {
	case WhatsApp:
		return r.resolveWhatsApp(cfg.WhatsApp)
	case Email:
		if !cfg.Email.Resend.Configured() {
			return nil, fmt.Errorf("email: %w", ErrNotConfigured)
		}
		return resend.New(cfg.Email.Resend, r.client), nil
	case Push:
		if !cfg.Push.Configured() {
			return nil, fmt.Errorf("push: %w", ErrNotConfigured)
		}
		return push.New(cfg.Push, r.client), nil
	case Telegram:
		return r.resolveTelegram(cfg.Telegram)
	default:
		return nil, fmt.Errorf("%q: %w", string(ch), ErrUnknownChannel)
	}
}

func (r *Router) resolveWhatsApp(cfg WhatsAppProviders) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "waha":
		if !cfg.WAHA.Configured() {
			return nil, fmt.Errorf("whatsapp/waha: %w", ErrNotConfigured)
		}
		return waha.New(cfg.WAHA, r.client, r.log), nil
	case "twilio":
		if !cfg.Twilio.Configured() {
			return nil, fmt.Errorf("whatsapp/twilio: %w", ErrNotConfigured)
		}
		return twilio.New(cfg.Twilio, r.client), nil
	case "":
		// Auto-detect: primary first, then the fallback vendor.
		if cfg.WAHA.Configured() {
			return waha.New(cfg.WAHA, r.client, r.log), nil
		}
		if cfg.Twilio.Configured() {
			return twilio.New(cfg.Twilio, r.client), nil
		}
		return nil, fmt.Errorf("whatsapp: %w", ErrNotConfigured)
	default:
		return nil, fmt.Errorf("whatsapp: unknown provider %q: %w", cfg.Provider, ErrNotConfigured)
	}
}

func (r *Router) resolveTelegram(cfg telegram.Config) (Adapter, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("telegram: %w", ErrNotConfigured)
	}

	r.tgMu.Lock()
	defer r.tgMu.Unlock()
	if r.tg != nil && r.tgToken == cfg.Token {
		return r.tg, nil
	}
	ad, err := telegram.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	r.tg = ad
	r.tgToken = cfg.Token
	return ad, nil
}
