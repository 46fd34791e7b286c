// Package incident turns chat messages that mention a ticket into incident
// channels, effectively once per incident despite at-least-once delivery.
//
// Duplicate suppression is layered: the in-process cache, the persistent
// event record, the incident lock and, inside the lock, the downstream-state
// prober. Only the lock is a strict ordering primitive. When the coordination
// store is unreachable the layers fail open and duplicates become possible.
package incident

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/PratikDhanave/incident-bot/internal/chat"
	"github.com/PratikDhanave/incident-bot/internal/coordination"
	"github.com/PratikDhanave/incident-bot/internal/dedup"
	"github.com/PratikDhanave/incident-bot/internal/fingerprint"
	"github.com/PratikDhanave/incident-bot/internal/llm"
	"github.com/PratikDhanave/incident-bot/internal/models"
	"github.com/PratikDhanave/incident-bot/internal/probe"
)

// Outcome is how the pipeline disposed of an event.
type Outcome string

const (
	OutcomeProcessed       Outcome = "processed"
	OutcomeDuplicateLocal  Outcome = "duplicate_local"
	OutcomeDuplicateStore  Outcome = "duplicate_store"
	OutcomeProbeInProgress Outcome = "probe_in_progress"
	OutcomeProbeCompleted  Outcome = "probe_completed"
	OutcomeLockHeld        Outcome = "lock_held"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeFailed          Outcome = "failed"
)

// Deps are the collaborators of a Pipeline. Cache and Prober are optional.
type Deps struct {
	Deriver   *fingerprint.Deriver
	Cache     *dedup.Cache
	Coord     *coordination.Client
	Prober    probe.Prober
	Chat      chat.API
	Tracker   Tracker
	Generator llm.Generator
	Enricher  EnricherOptions
	Logger    *slog.Logger
}

// Pipeline is the orchestration glue between the webhook and the workflow.
type Pipeline struct {
	deriver  *fingerprint.Deriver
	cache    *dedup.Cache
	coord    *coordination.Client
	prober   probe.Prober
	chat     chat.API
	workflow *Workflow
	enricher *Enricher
	commands *Commands
	log      *slog.Logger
}

func NewPipeline(d Deps) (*Pipeline, error) {
	if d.Deriver == nil || d.Coord == nil || d.Chat == nil || d.Tracker == nil {
		return nil, errors.New("incident pipeline needs a deriver, coordination client, chat and tracker")
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	cache := d.Cache
	if cache == nil {
		cache = dedup.NewCache(dedup.DefaultCapacity)
	}
	prober := d.Prober
	if prober == nil {
		prober = probe.NopProber{}
	}
	enrichOpts := d.Enricher
	if enrichOpts.Logger == nil {
		enrichOpts.Logger = log
	}

	wf := NewWorkflow(d.Chat, d.Tracker, d.Generator, d.Coord.Now, log)
	return &Pipeline{
		deriver:  d.Deriver,
		cache:    cache,
		coord:    d.Coord,
		prober:   prober,
		chat:     d.Chat,
		workflow: wf,
		enricher: NewEnricher(d.Chat, d.Tracker, d.Generator, d.Coord, enrichOpts),
		commands: NewCommands(d.Chat, d.Coord, prober, wf, d.Tracker, d.Deriver.TicketKey, log),
		log:      log.With("component", "pipeline", "instance", d.Coord.InstanceID()),
	}, nil
}

// probeAbort ends a locked run early because the prober found evidence of
// another run.
type probeAbort struct {
	state probe.State
}

func (p probeAbort) Error() string {
	return "incident already " + p.state.String()
}

// Handle runs one inbound event through the dedup layers and, when it is new,
// the incident workflow. It never panics on collaborator failures; the
// returned Outcome says what happened.
func (p *Pipeline) Handle(ctx context.Context, ev models.InboundEvent) (outcome Outcome) {
	start := time.Now()
	log := p.log.With("event_id", ev.EventID, "channel", ev.Channel)

	botUser, _ := p.chat.Identity()
	cmd, isCommand := ParseCommand(ev.Text, botUser, ev.Mentioned)
	ticket := p.deriver.TicketKey(ev.Text)
	if isCommand && ticket != "" && !KnownCommand(cmd.Name) {
		// "<@bot> !!! ISD-1 checkout down" is an incident report, not a typo.
		isCommand = false
	}
	if reason := p.ignoreReason(ev, ticket, isCommand); reason != "" {
		log.Debug("event ignored", "reason", reason)
		return OutcomeIgnored
	}

	token := p.deriver.Fingerprint(ev)
	log = log.With("fingerprint", token, "ticket", ticket)

	if !p.cache.TryRecord(token) {
		log.Info("duplicate event", "layer", "local")
		return OutcomeDuplicateLocal
	}
	if p.coord.EventAlreadyProcessed(ctx, token) {
		log.Info("duplicate event", "layer", "store")
		return OutcomeDuplicateStore
	}
	// From here on a crash prevents a duplicate start rather than a lost run.
	p.coord.MarkEventProcessed(ctx, token)
	defer func() {
		if r := recover(); r != nil {
			log.Error("incident pipeline panicked", "panic", r)
			p.rollback(ctx, token)
			outcome = OutcomeFailed
		}
	}()

	if isCommand {
		if err := p.commands.Dispatch(ctx, ev, cmd); err != nil {
			log.Error("command failed", "command", cmd.Name, "error", err)
			p.rollback(ctx, token)
			return OutcomeFailed
		}
		return OutcomeProcessed
	}

	lockKey := models.LockKey(ticket)
	log = log.With("lock_key", lockKey)
	err := p.coord.WithLock(ctx, lockKey, 0, func(ctx context.Context) error {
		state, err := p.prober.Probe(ctx, ticket)
		if err != nil {
			log.Warn("downstream probe failed, proceeding", "error", err)
		} else if state != probe.StateNone {
			if state == probe.StateCompleted {
				p.resumeEnrichment(ctx, ticket)
			}
			return probeAbort{state: state}
		}
		inc, err := p.workflow.Run(ctx, ev, ticket)
		if err != nil {
			return err
		}
		p.enricher.Run(ctx, inc)
		return nil
	})

	var abort probeAbort
	switch {
	case err == nil:
		log.Info("incident processed", "duration", time.Since(start))
		return OutcomeProcessed
	case errors.Is(err, coordination.ErrLockHeld):
		log.Info("incident lock held elsewhere, abandoning")
		return OutcomeLockHeld
	case errors.As(err, &abort):
		log.Info("downstream state shows another run", "state", abort.state.String())
		if abort.state == probe.StateCompleted {
			return OutcomeProbeCompleted
		}
		return OutcomeProbeInProgress
	default:
		log.Error("incident workflow failed", "error", err)
		p.rollback(ctx, token)
		return OutcomeFailed
	}
}

// resumeEnrichment retries enrichment steps a finished run left unmarked.
// The incident is rebuilt from the live channel and a fresh ticket fetch.
func (p *Pipeline) resumeEnrichment(ctx context.Context, ticket string) {
	if !p.enricher.Pending(ctx, ticket) {
		return
	}
	log := p.log.With("ticket", ticket)
	ch, found, err := p.chat.FindChannel(ctx, ChannelName(ticket, p.coord.Now()))
	if err != nil || !found || ch.Archived {
		log.Debug("no live incident channel, skipping enrichment retry", "error", err)
		return
	}
	t, err := p.workflow.tracker.GetIssue(ctx, ticket)
	if err != nil {
		log.Warn("enrichment retry: ticket fetch failed", "error", err)
		return
	}
	log.Info("retrying pending enrichment steps")
	p.enricher.Run(ctx, Incident{Ticket: t, Channel: ch})
}

// rollback removes the duplicate markers for token so a redelivery retries.
func (p *Pipeline) rollback(ctx context.Context, token string) {
	p.coord.ForgetEvent(ctx, token)
	p.cache.Forget(token)
}

func (p *Pipeline) ignoreReason(ev models.InboundEvent, ticket string, isCommand bool) string {
	userID, _ := p.chat.Identity()
	switch {
	case ev.IsAutomated():
		return "automated sender"
	case userID != "" && ev.User == userID:
		return "own message"
	case ev.SubType != "" && ev.SubType != "file_share":
		return "subtype " + ev.SubType
	case ev.Channel == "":
		return "no channel"
	case ticket == "" && !isCommand:
		return "no ticket key"
	}
	return ""
}
