package incident

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/PratikDhanave/incident-bot/internal/chat"
	"github.com/PratikDhanave/incident-bot/internal/coordination"
	"github.com/PratikDhanave/incident-bot/internal/llm"
	"github.com/PratikDhanave/incident-bot/internal/models"
	"github.com/PratikDhanave/incident-bot/internal/tracker"
)

// Enrichment step names, used in their idempotency marker keys.
const (
	StepAttachments = "attachments"
	StepAnalysis    = "analysis"
)

const (
	// DefaultAttachmentLimit caps the size of a relayed attachment.
	DefaultAttachmentLimit int64 = 10 << 20
	// DefaultMarkerTTL is how long a finished enrichment step stays marked.
	DefaultMarkerTTL = 24 * time.Hour
)

// Enricher runs the optional steps after the primary workflow. A failing step
// is logged and left unmarked so a later run retries it; it never fails the
// incident.
type Enricher struct {
	chat      chat.API
	tracker   Tracker
	gen       llm.Generator
	coord     *coordination.Client
	limit     int64
	markerTTL time.Duration
	log       *slog.Logger
}

// EnricherOptions configures NewEnricher.
type EnricherOptions struct {
	AttachmentLimit int64
	MarkerTTL       time.Duration
	Logger          *slog.Logger
}

func NewEnricher(api chat.API, tr Tracker, gen llm.Generator, coord *coordination.Client, opts EnricherOptions) *Enricher {
	limit := opts.AttachmentLimit
	if limit <= 0 {
		limit = DefaultAttachmentLimit
	}
	ttl := opts.MarkerTTL
	if ttl <= 0 {
		ttl = DefaultMarkerTTL
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Enricher{
		chat:      api,
		tracker:   tr,
		gen:       gen,
		coord:     coord,
		limit:     limit,
		markerTTL: ttl,
		log:       log.With("component", "enrich"),
	}
}

var enrichSteps = []string{StepAttachments, StepAnalysis}

// Run executes every step not yet marked done for the incident.
func (e *Enricher) Run(ctx context.Context, inc Incident) {
	e.step(ctx, StepAttachments, inc, e.relayAttachments)
	e.step(ctx, StepAnalysis, inc, e.postAnalysis)
}

// Pending reports whether some step for ticketKey has no live marker. An
// unreadable store reports nothing pending, so a degraded instance does not
// repeat uploads another run already made.
func (e *Enricher) Pending(ctx context.Context, ticketKey string) bool {
	for _, name := range enrichSteps {
		rec, found, err := e.coord.Lookup(ctx, models.EnrichKey(name, ticketKey))
		if err != nil {
			e.log.Warn("enrichment markers unreadable", "ticket", ticketKey, "error", err)
			return false
		}
		if !found || !rec.Live(e.coord.Now()) {
			return true
		}
	}
	return false
}

func (e *Enricher) step(ctx context.Context, name string, inc Incident, fn func(context.Context, Incident) error) {
	key := models.EnrichKey(name, inc.Ticket.Key)
	log := e.log.With("step", name, "ticket", inc.Ticket.Key)
	if e.coord.MarkerSet(ctx, key) {
		log.Debug("enrichment step already done")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("enrichment step panicked", "panic", r)
		}
	}()
	if err := fn(ctx, inc); err != nil {
		log.Error("enrichment step failed", "error", err)
		return
	}
	e.coord.SetMarker(ctx, key, e.markerTTL)
	log.Info("enrichment step done")
}

// relayAttachments copies tracker attachments into the incident channel.
// Oversized files are skipped rather than failing the step.
func (e *Enricher) relayAttachments(ctx context.Context, inc Incident) error {
	var failed []string
	for _, a := range inc.Ticket.Attachments {
		data, err := e.tracker.Download(ctx, a, e.limit)
		if errors.Is(err, tracker.ErrTooLarge) {
			e.log.Warn("skipping oversized attachment", "file", a.Filename, "size", a.Size)
			continue
		}
		if err == nil {
			err = e.chat.Upload(ctx, inc.Channel.ID, a.Filename, a.Filename, bytes.NewReader(data), int64(len(data)))
		}
		if err != nil {
			e.log.Warn("attachment relay failed", "file", a.Filename, "error", err)
			failed = append(failed, a.Filename)
		}
	}
	if len(failed) > 0 {
		return errors.Errorf("relay failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

// postAnalysis asks the generator for likely causes and next steps and posts
// the answer as a tracker comment.
func (e *Enricher) postAnalysis(ctx context.Context, inc Incident) error {
	if e.gen == nil {
		return errors.New("no generator configured")
	}
	text, err := e.gen.Generate(ctx, analysisPrompt(inc))
	if err != nil {
		return errors.Wrap(err, "generate analysis")
	}
	return e.tracker.AddComment(ctx, inc.Ticket.Key, "Automated incident analysis:\n\n"+text)
}

func analysisPrompt(inc Incident) string {
	var b strings.Builder
	b.WriteString("You are an incident responder. Based on the ticket below, list the most likely causes ")
	b.WriteString("and the first three investigation steps. Be brief.\n\n")
	b.WriteString("Summary:\n")
	b.WriteString(inc.Ticket.Summary)
	b.WriteString("\n\nDescription:\n")
	b.WriteString(inc.Ticket.Description)
	return b.String()
}
