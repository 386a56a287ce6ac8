// Package chat builds Telegram deep links from text typed into the
// dashboard's chat composer. Nothing is sent: the link opens the user's
// Telegram client with the message prefilled.
package chat

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrEmptyMessage is returned for blank composer input.
var ErrEmptyMessage = errors.New("chat: message is empty")

// ErrNoBot is returned when no bot identifier is configured.
var ErrNoBot = errors.New("chat: bot identifier not configured")

const telegramBase = "https://t.me/"

// DeepLink returns https://t.me/<bot>?text=<text> with text percent-encoded
// the way encodeURIComponent does it, so spaces become %20.
func DeepLink(bot, text string) (string, error) {
	bot = strings.TrimPrefix(strings.TrimSpace(bot), "@")
	if bot == "" {
		return "", ErrNoBot
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}
	return fmt.Sprintf("%s%s?text=%s", telegramBase, url.PathEscape(bot), EncodeComponent(text)), nil
}

// EncodeComponent percent-encodes s like encodeURIComponent: everything
// except A-Z a-z 0-9 and - _ . ! ~ * ' ( ) is escaped as UTF-8 bytes.
func EncodeComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}

// ── Composer ─────────────────────────────────────────────────

// Message is one composed chat message.
type Message struct {
	Text      string    `json:"text"`
	URL       string    `json:"url"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

const defaultHistory = 50

// Composer builds deep links for a fixed bot and keeps a short history of
// composed messages.
type Composer struct {
	bot string

	mu      sync.Mutex
	history []Message
	max     int
}

// NewComposer creates a composer for bot.
func NewComposer(bot string) *Composer {
	return &Composer{bot: bot, max: defaultHistory}
}

// Bot returns the configured bot identifier.
func (c *Composer) Bot() string { return c.bot }

// Compose trims text, builds its deep link and records it.
func (c *Composer) Compose(text string, at time.Time) (Message, error) {
	text = strings.TrimSpace(text)
	link, err := DeepLink(c.bot, text)
	if err != nil {
		return Message{}, err
	}
	msg := Message{Text: text, URL: link, Source: "dashboard", Timestamp: at}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) >= c.max {
		c.history = c.history[1:]
	}
	c.history = append(c.history, msg)
	return msg, nil
}

// History returns composed messages, oldest first.
func (c *Composer) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}
