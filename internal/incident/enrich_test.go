package incident

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/PratikDhanave/incident-bot/internal/chat"
	"github.com/PratikDhanave/incident-bot/internal/models"
	"github.com/PratikDhanave/incident-bot/internal/store"
)

func testIncident() Incident {
	return Incident{
		Ticket: models.Ticket{
			Key:     "ISD-12345",
			Summary: "Checkout down",
			Attachments: []models.Attachment{
				{ID: "1", Filename: "trace.log", Size: 5},
				{ID: "2", Filename: "dump.bin", Size: 1 << 30},
			},
		},
		Channel: chat.Channel{ID: "CINC", Name: testChannelName},
	}
}

func TestEnricherRelaysAndComments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil)
	h.tracker.files["1"] = []byte("trace")
	coord := h.coord("a")
	e := NewEnricher(h.chat, h.tracker, h.gen, coord, EnricherOptions{})

	e.Run(ctx, testIncident())

	assert.Equal(t, []string{"CINC:trace.log"}, h.chat.Uploads, "oversized file skipped")
	assert.Len(t, h.tracker.comments, 1)
	assert.Contains(t, h.tracker.comments[0], "ISD-12345: Automated incident analysis")
	assert.True(t, coord.MarkerSet(ctx, models.EnrichKey(StepAttachments, "ISD-12345")))
	assert.True(t, coord.MarkerSet(ctx, models.EnrichKey(StepAnalysis, "ISD-12345")))

	e.Run(ctx, testIncident())
	assert.Len(t, h.chat.Uploads, 1, "marked steps do not rerun")
	assert.Len(t, h.tracker.comments, 1)
}

func TestEnricherFailedStepStaysUnmarked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil)
	h.tracker.commentErr = errors.New("forbidden")
	coord := h.coord("a")
	e := NewEnricher(h.chat, h.tracker, h.gen, coord, EnricherOptions{})

	e.Run(ctx, testIncident())

	assert.False(t, coord.MarkerSet(ctx, models.EnrichKey(StepAnalysis, "ISD-12345")))
	assert.False(t, coord.MarkerSet(ctx, models.EnrichKey(StepAttachments, "ISD-12345")), "missing file content fails relay")

	h.tracker.commentErr = nil
	h.tracker.files["1"] = []byte("trace")
	e.Run(ctx, testIncident())
	assert.True(t, coord.MarkerSet(ctx, models.EnrichKey(StepAnalysis, "ISD-12345")))
	assert.True(t, coord.MarkerSet(ctx, models.EnrichKey(StepAttachments, "ISD-12345")))
}

func TestEnrichmentFailureDoesNotFailIncident(t *testing.T) {
	h := newHarness(nil)
	h.tracker.commentErr = errors.New("forbidden")
	h.chat.FailOn["Upload"] = errors.New("upload failed")
	ticket := h.tracker.tickets["ISD-12345"]
	ticket.Attachments = []models.Attachment{{ID: "1", Filename: "trace.log", Size: 5}}
	h.tracker.tickets["ISD-12345"] = ticket
	h.tracker.files["1"] = []byte("trace")

	assert.Equal(t, OutcomeProcessed, h.process(t, "a").Handle(context.Background(), testEvent()))
}

func TestEnricherPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil)
	coord := h.coord("a")
	e := NewEnricher(h.chat, h.tracker, h.gen, coord, EnricherOptions{})

	assert.True(t, e.Pending(ctx, "ISD-12345"))
	coord.SetMarker(ctx, models.EnrichKey(StepAttachments, "ISD-12345"), time.Hour)
	assert.True(t, e.Pending(ctx, "ISD-12345"))
	coord.SetMarker(ctx, models.EnrichKey(StepAnalysis, "ISD-12345"), time.Hour)
	assert.False(t, e.Pending(ctx, "ISD-12345"))

	h.now = h.now.Add(2 * time.Hour)
	assert.True(t, e.Pending(ctx, "ISD-12345"), "expired markers are pending again")

	down := newHarness(store.UnreachableStore{Reason: errors.New("connection refused")})
	e = NewEnricher(down.chat, down.tracker, down.gen, down.coord("a"), EnricherOptions{})
	assert.False(t, e.Pending(ctx, "ISD-12345"), "unreadable markers are not pending")
}
