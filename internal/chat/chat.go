// Package chat talks to the chat platform. Only the calls the incident
// workflow and the downstream-state prober need are exposed.
package chat

import (
	"context"
	"io"
	"time"
)

// Channel is a chat channel.
type Channel struct {
	ID       string
	Name     string
	Archived bool
}

// Message is a posted chat message.
type Message struct {
	User      string
	BotID     string
	Text      string
	Timestamp string
	SubType   string
}

// API is the chat surface used by the bot.
type API interface {
	// Identity returns the bot's own user and bot ids.
	Identity() (userID, botID string)
	FindChannel(ctx context.Context, name string) (Channel, bool, error)
	CreateChannel(ctx context.Context, name string) (Channel, error)
	Invite(ctx context.Context, channelID, userID string) error
	Post(ctx context.Context, channelID, text string) (string, error)
	PostThread(ctx context.Context, channelID, threadTS, text string) (string, error)
	// History returns messages posted at or after oldest, newest first.
	History(ctx context.Context, channelID string, oldest time.Time, limit int) ([]Message, error)
	Upload(ctx context.Context, channelID, filename, title string, r io.Reader, size int64) error
}
