// Package probe infers whether an incident workflow already ran by looking at
// the side effects it leaves in chat.
//
// The inference is wall-clock based: only the bot's own messages inside the
// observation window count. A window that is too short lets a slow but
// legitimate run look absent to a second instance, and a window that is too
// long lets an old run suppress a legitimate new one. The incident lock is
// the only strict ordering primitive; the prober is a best-effort backstop
// used mainly when the coordination store is degraded.
package probe

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/PratikDhanave/incident-bot/internal/chat"
)

// State is the externally observed state of an incident workflow.
type State int

const (
	// StateNone means no evidence of any run.
	StateNone State = iota
	// StateStarted means a run posted its start marker but not its completion
	// marker; another instance is presumed active.
	StateStarted
	// StateCompleted means a run finished.
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateCompleted:
		return "completed"
	default:
		return "none"
	}
}

// Markers posted by the workflow into the incident channel. A failure marker
// newer than the start marker means the run gave up and may be retried.
const (
	StartMarker      = ":hourglass_flowing_sand: Setting up incident"
	CompletionMarker = "*Incident Summary:*"
	FailureMarker    = ":x: Incident setup failed"
)

// DefaultWindow is the default observation window.
const DefaultWindow = 10 * time.Minute

const historyLimit = 200

// Prober reports the observed workflow state for an incident.
type Prober interface {
	Probe(ctx context.Context, ticketKey string) (State, error)
}

// NopProber never finds evidence.
type NopProber struct{}

func (NopProber) Probe(context.Context, string) (State, error) { return StateNone, nil }

// ChannelProber looks for the incident channel and scans its recent history
// for the workflow markers.
type ChannelProber struct {
	chat   chat.API
	naming func(ticketKey string, now time.Time) string
	window time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// ChannelProberOptions configures NewChannelProber.
type ChannelProberOptions struct {
	Window time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// NewChannelProber builds a prober. naming maps a ticket key and the current
// time to the incident channel name.
func NewChannelProber(api chat.API, naming func(string, time.Time) string, opts ChannelProberOptions) *ChannelProber {
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &ChannelProber{
		chat:   api,
		naming: naming,
		window: window,
		now:    now,
		log:    log.With("component", "probe"),
	}
}

func (p *ChannelProber) Probe(ctx context.Context, ticketKey string) (State, error) {
	now := p.now()
	name := p.naming(ticketKey, now)

	ch, found, err := p.chat.FindChannel(ctx, name)
	if err != nil {
		return StateNone, errors.Wrap(err, "probe channel lookup")
	}
	if !found {
		return StateNone, nil
	}
	if ch.Archived {
		p.log.Info("incident channel archived, treating as completed", "channel", name)
		return StateCompleted, nil
	}

	msgs, err := p.chat.History(ctx, ch.ID, now.Add(-p.window), historyLimit)
	if err != nil {
		return StateNone, errors.Wrap(err, "probe channel history")
	}
	userID, botID := p.chat.Identity()

	// History is newest first: the first marker found is the latest one.
	for _, m := range msgs {
		if !ownMessage(m, userID, botID) {
			continue
		}
		switch {
		case strings.Contains(m.Text, CompletionMarker):
			return StateCompleted, nil
		case strings.Contains(m.Text, FailureMarker):
			return StateNone, nil
		case strings.Contains(m.Text, StartMarker):
			return StateStarted, nil
		}
	}
	return StateNone, nil
}

func ownMessage(m chat.Message, userID, botID string) bool {
	if botID != "" && m.BotID == botID {
		return true
	}
	return userID != "" && m.User == userID
}
