package incident

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/PratikDhanave/incident-bot/internal/chat"
	"github.com/PratikDhanave/incident-bot/internal/llm"
	"github.com/PratikDhanave/incident-bot/internal/models"
	"github.com/PratikDhanave/incident-bot/internal/probe"
)

// ErrChannelArchived is returned when today's incident channel exists but
// was archived; somebody has to unarchive or rename it by hand.
var ErrChannelArchived = errors.New("incident channel exists and is archived")

// Fallback texts posted when the summary cannot be generated.
const (
	summaryEmptyFallback = "Summary could not be generated."
	summaryErrorFallback = "Summary could not be generated due to an error."
)

// Tracker is the issue-tracker surface used by the workflow.
type Tracker interface {
	GetIssue(ctx context.Context, key string) (models.Ticket, error)
	Download(ctx context.Context, a models.Attachment, limit int64) ([]byte, error)
	AddComment(ctx context.Context, key, text string) error
}

// Incident is what a successful workflow run produced.
type Incident struct {
	Ticket  models.Ticket
	Channel chat.Channel
	Summary string
}

// Workflow creates the incident channel and posts the opening messages. It
// holds no coordination state; the caller must own the incident lock.
type Workflow struct {
	chat    chat.API
	tracker Tracker
	gen     llm.Generator
	now     func() time.Time
	log     *slog.Logger
}

func NewWorkflow(api chat.API, tracker Tracker, gen llm.Generator, now func() time.Time, log *slog.Logger) *Workflow {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Workflow{chat: api, tracker: tracker, gen: gen, now: now, log: log.With("component", "workflow")}
}

// Run executes the primary workflow for ticketKey triggered by ev. Summary
// generation and invite failures are tolerated; everything else aborts the
// run and leaves a failure marker in the channel when one was started.
func (w *Workflow) Run(ctx context.Context, ev models.InboundEvent, ticketKey string) (Incident, error) {
	log := w.log.With("ticket", ticketKey)

	ticket, err := w.tracker.GetIssue(ctx, ticketKey)
	if err != nil {
		return Incident{}, errors.Wrap(err, "fetch ticket")
	}
	summary := w.Summarize(ctx, ticket)

	ch, err := w.openChannel(ctx, ChannelName(ticketKey, w.now()))
	if err != nil {
		return Incident{}, err
	}
	log = log.With("incident_channel", ch.Name)

	if _, err := w.chat.Post(ctx, ch.ID, fmt.Sprintf("%s %s", probe.StartMarker, ticketKey)); err != nil {
		return Incident{}, errors.Wrap(err, "post start marker")
	}

	inc, err := w.announce(ctx, log, ev, ticket, ch, summary)
	if err != nil {
		w.markFailed(ctx, log, ch.ID, err)
		return Incident{}, err
	}
	log.Info("incident workflow completed")
	return inc, nil
}

func (w *Workflow) announce(ctx context.Context, log *slog.Logger, ev models.InboundEvent, ticket models.Ticket, ch chat.Channel, summary string) (Incident, error) {
	if ev.User != "" {
		if err := w.chat.Invite(ctx, ch.ID, ev.User); err != nil {
			log.Warn("could not invite user", "user", ev.User, "error", err)
		}
	}
	if ev.Channel != "" && ev.Channel != ch.ID {
		welcome := fmt.Sprintf(":rotating_light: Incident channel <#%s|%s> has been created. Please move all communications there. :rotating_light:", ch.ID, ch.Name)
		if _, err := w.chat.Post(ctx, ev.Channel, welcome); err != nil {
			log.Error("could not post welcome message", "channel", ev.Channel, "error", err)
		}
	}
	if err := w.PostSummary(ctx, ch.ID, summary); err != nil {
		return Incident{}, err
	}
	return Incident{Ticket: ticket, Channel: ch, Summary: summary}, nil
}

// PostSummary posts the summary, which doubles as the completion marker.
func (w *Workflow) PostSummary(ctx context.Context, channelID, summary string) error {
	_, err := w.chat.Post(ctx, channelID, probe.CompletionMarker+"\n"+summary)
	return errors.Wrap(err, "post summary")
}

// Summarize asks the generator for a channel-friendly summary and falls back
// to a fixed text on any failure.
func (w *Workflow) Summarize(ctx context.Context, t models.Ticket) string {
	if w.gen == nil {
		return summaryErrorFallback
	}
	text, err := w.gen.Generate(ctx, summaryPrompt(t))
	switch {
	case errors.Is(err, llm.ErrEmptyResponse):
		w.log.Warn("empty summary", "ticket", t.Key)
		return summaryEmptyFallback
	case err != nil:
		w.log.Error("summary generation failed", "ticket", t.Key, "error", err)
		return summaryErrorFallback
	}
	return text
}

func summaryPrompt(t models.Ticket) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant summarizing incident tickets.\n\n")
	b.WriteString("Summary:\n")
	b.WriteString(t.Summary)
	b.WriteString("\n\nDescription:\n")
	b.WriteString(t.Description)
	b.WriteString("\n\nPlease provide a concise summary in plain English suitable for a Slack incident channel.")
	return b.String()
}

// openChannel reuses an active channel of that name or creates it.
func (w *Workflow) openChannel(ctx context.Context, name string) (chat.Channel, error) {
	ch, found, err := w.chat.FindChannel(ctx, name)
	if err != nil {
		return chat.Channel{}, errors.Wrap(err, "look up incident channel")
	}
	if found {
		if ch.Archived {
			return chat.Channel{}, errors.Wrapf(ErrChannelArchived, "channel %s", name)
		}
		w.log.Info("reusing active channel", "incident_channel", name)
		return ch, nil
	}
	ch, err = w.chat.CreateChannel(ctx, name)
	if err != nil {
		return chat.Channel{}, errors.Wrapf(err, "create channel %s", name)
	}
	w.log.Info("created incident channel", "incident_channel", name, "channel_id", ch.ID)
	return ch, nil
}

func (w *Workflow) markFailed(ctx context.Context, log *slog.Logger, channelID string, cause error) {
	if _, err := w.chat.Post(ctx, channelID, probe.FailureMarker+": "+cause.Error()); err != nil {
		log.Warn("could not post failure marker", "error", err)
	}
}

