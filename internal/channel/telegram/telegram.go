// Package telegram mirrors safety alerts into Telegram chats.
// The destination address is the numeric chat id stored on the recipient.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token string

	// Offline skips the startup getMe probe (used in tests).
	Offline bool
}

func (c Config) Configured() bool { return strings.TrimSpace(c.Token) != "" }

type Adapter struct {
	bot *tele.Bot
}

// New builds the adapter once per token; the router reuses it until the
// token changes. telebot validates the token against the Bot API here.
func New(cfg Config) (*Adapter, error) {
	if !cfg.Configured() {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
		Client:  nil,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{bot: b}, nil
}

func (a *Adapter) Provider() string { return "telegram" }

func (a *Adapter) Send(ctx context.Context, to, body string) (string, error) {
	chat, err := parseChat(to)
	if err != nil {
		return "", err
	}
	msg, err := a.send(ctx, func() (*tele.Message, error) {
		return a.bot.Send(chat, body)
	})
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msg.ID), nil
}

func (a *Adapter) SendMedia(ctx context.Context, to, caption, mediaURL string) (string, error) {
	chat, err := parseChat(to)
	if err != nil {
		return "", err
	}
	photo := &tele.Photo{File: tele.FromURL(mediaURL), Caption: caption}
	msg, err := a.send(ctx, func() (*tele.Message, error) {
		return a.bot.Send(chat, photo)
	})
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msg.ID), nil
}

// send runs one bot call while honoring ctx cancellation; telebot calls
// do not take a context themselves.
func (a *Adapter) send(ctx context.Context, fn func() (*tele.Message, error)) (*tele.Message, error) {
	type result struct {
		msg *tele.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := fn()
		ch <- result{msg: m, err: err}
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, errors.New("telegram send timed out")
	}
}

func parseChat(to string) (*tele.Chat, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(to), 10, 64)
	if err != nil {
		return nil, errors.New("telegram destination must be a numeric chat id")
	}
	return &tele.Chat{ID: id}, nil
}
