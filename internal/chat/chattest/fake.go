// Package chattest provides an in-memory chat.API for tests.
package chattest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/PratikDhanave/incident-bot/internal/chat"
)

// Fake records every call and keeps channels and messages in memory.
type Fake struct {
	mu sync.Mutex

	UserID string
	BotID  string

	channels map[string]*fakeChannel
	byID     map[string]*fakeChannel
	nextID   int
	now      func() time.Time

	Calls   []string
	Invites []string
	Uploads []string

	// FailOn makes the named operation (e.g. "Post", "CreateChannel") fail.
	FailOn map[string]error
	// PostHook, when set, can reject individual posts.
	PostHook func(channelID, text string) error
}

type fakeChannel struct {
	chat.Channel
	messages []posted
}

type posted struct {
	chat.Message
	at time.Time
}

// New returns an empty fake whose bot identity is UBOT/BBOT.
func New(now func() time.Time) *Fake {
	if now == nil {
		now = time.Now
	}
	return &Fake{
		UserID:   "UBOT",
		BotID:    "BBOT",
		channels: map[string]*fakeChannel{},
		byID:     map[string]*fakeChannel{},
		now:      now,
		FailOn:   map[string]error{},
	}
}

func (f *Fake) record(op string) error {
	f.Calls = append(f.Calls, op)
	return f.FailOn[op]
}

func (f *Fake) Identity() (string, string) {
	return f.UserID, f.BotID
}

// AddChannel seeds a channel and returns its id.
func (f *Fake) AddChannel(name string, archived bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addChannel(name, archived).ID
}

func (f *Fake) addChannel(name string, archived bool) *fakeChannel {
	f.nextID++
	ch := &fakeChannel{Channel: chat.Channel{ID: fmt.Sprintf("C%04d", f.nextID), Name: name, Archived: archived}}
	f.channels[name] = ch
	f.byID[ch.ID] = ch
	return ch
}

// Seed appends a message to a channel as if posted by user/bot at at.
func (f *Fake) Seed(channelID string, m chat.Message, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.byID[channelID]; ok {
		ch.messages = append(ch.messages, posted{Message: m, at: at})
	}
}

func (f *Fake) FindChannel(_ context.Context, name string) (chat.Channel, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FindChannel"); err != nil {
		return chat.Channel{}, false, err
	}
	ch, ok := f.channels[strings.ToLower(name)]
	if !ok {
		return chat.Channel{}, false, nil
	}
	return ch.Channel, true, nil
}

func (f *Fake) CreateChannel(_ context.Context, name string) (chat.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateChannel"); err != nil {
		return chat.Channel{}, err
	}
	name = strings.ToLower(name)
	if _, exists := f.channels[name]; exists {
		return chat.Channel{}, errors.New("name_taken")
	}
	return f.addChannel(name, false).Channel, nil
}

func (f *Fake) Invite(_ context.Context, channelID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Invite"); err != nil {
		return err
	}
	f.Invites = append(f.Invites, channelID+":"+userID)
	return nil
}

func (f *Fake) Post(ctx context.Context, channelID, text string) (string, error) {
	return f.PostThread(ctx, channelID, "", text)
}

func (f *Fake) PostThread(_ context.Context, channelID, _ string, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Post"); err != nil {
		return "", err
	}
	if f.PostHook != nil {
		if err := f.PostHook(channelID, text); err != nil {
			return "", err
		}
	}
	ch, ok := f.byID[channelID]
	if !ok {
		ch = &fakeChannel{Channel: chat.Channel{ID: channelID, Name: channelID}}
		f.byID[channelID] = ch
	}
	at := f.now()
	ts := chat.FormatTimestamp(at)
	ch.messages = append(ch.messages, posted{
		Message: chat.Message{User: f.UserID, BotID: f.BotID, Text: text, Timestamp: ts},
		at:      at,
	})
	return ts, nil
}

func (f *Fake) History(_ context.Context, channelID string, oldest time.Time, limit int) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("History"); err != nil {
		return nil, err
	}
	ch, ok := f.byID[channelID]
	if !ok {
		return nil, errors.New("channel_not_found")
	}
	var out []chat.Message
	for i := len(ch.messages) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if !ch.messages[i].at.Before(oldest) {
			out = append(out, ch.messages[i].Message)
		}
	}
	return out, nil
}

func (f *Fake) Upload(_ context.Context, channelID, filename, _ string, r io.Reader, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Upload"); err != nil {
		return err
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	f.Uploads = append(f.Uploads, channelID+":"+filename)
	return nil
}

// Messages returns the texts posted to channelID, oldest first.
func (f *Fake) Messages(channelID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.byID[channelID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ch.messages))
	for _, m := range ch.messages {
		out = append(out, m.Text)
	}
	return out
}

// ChannelID returns the id of the named channel, or "".
func (f *Fake) ChannelID(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[name]; ok {
		return ch.ID
	}
	return ""
}

// CallCount returns how many calls were made, optionally filtered by op.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op == "" {
		return len(f.Calls)
	}
	n := 0
	for _, c := range f.Calls {
		if c == op {
			n++
		}
	}
	return n
}
