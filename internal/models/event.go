package models

import "strings"

// InboundEvent is the subset of a chat message event the bot acts on.
// It is decoupled from the chat platform's wire types so the coordination
// layer never imports them. Mentioned is set for deliveries addressed to the
// bot.
type InboundEvent struct {
	EventID   string `json:"event_id,omitempty"`
	Channel   string `json:"channel"`
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp string `json:"ts"`
	BotID     string `json:"bot_id,omitempty"`
	AppID     string `json:"app_id,omitempty"`
	SubType   string `json:"subtype,omitempty"`
	ThreadTS  string `json:"thread_ts,omitempty"`
	Mentioned bool   `json:"-"`
}

// IsAutomated reports whether the message was sent by a bot or app.
func (e InboundEvent) IsAutomated() bool {
	return e.BotID != "" || e.AppID != "" || e.SubType == "bot_message"
}

// MessageClass is the discriminator folded into the fingerprint:
// "user" or "bot", plus the delivery subtype when present.
func (e InboundEvent) MessageClass() string {
	class := "user"
	if e.IsAutomated() {
		class = "bot"
	}
	if sub := strings.TrimSpace(e.SubType); sub != "" {
		class += "/" + sub
	}
	return class
}

// WebhookResponse is the body returned for every content event.
// Outcome is informational; the status code is always 200.
type WebhookResponse struct {
	OK      bool   `json:"ok"`
	Outcome string `json:"outcome"`
}
