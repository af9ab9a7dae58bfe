package channel

import (
	"context"
	"errors"
)

// Channel is a logical messaging medium. A channel may be served by more
// than one provider; the router picks the concrete adapter at send time.
type Channel string

const (
	WhatsApp Channel = "whatsapp"
	Email    Channel = "email"
	Push     Channel = "push"
	Telegram Channel = "telegram"
)

func (c Channel) Valid() bool {
	switch c {
	case WhatsApp, Email, Push, Telegram:
		return true
	}
	return false
}

// IsChat reports whether the channel renders as a short chat message
// (length-bounded bodies, send gated below the serious severity tier).
func (c Channel) IsChat() bool { return c == WhatsApp || c == Telegram }

var (
	// ErrNotConfigured means the selected provider is missing credentials.
	// It is returned before any network call is attempted.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrUnknownChannel means no provider family serves the channel.
	ErrUnknownChannel = errors.New("unknown channel")
)

// Adapter sends one message through one concrete provider.
//
// Send returns the provider-assigned message id used later to join
// asynchronous delivery webhooks back onto the DeliveryRecord.
// Destination formatting (international prefixes, chat ids) is the
// adapter's responsibility.
type Adapter interface {
	Provider() string
	Send(ctx context.Context, to, body string) (providerMessageID string, err error)
}

// MediaSender is an optional capability for adapters that can deliver an
// attachment (photo, document) as a follow-up message.
type MediaSender interface {
	SendMedia(ctx context.Context, to, caption, mediaURL string) (providerMessageID string, err error)
}
