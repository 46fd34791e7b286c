package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/incident-bot/internal/chat"
	"github.com/PratikDhanave/incident-bot/internal/chat/chattest"
)

var probeNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func naming(key string, _ time.Time) string {
	return "incident-" + key
}

func newProber(fake *chattest.Fake, window time.Duration) *ChannelProber {
	return NewChannelProber(fake, naming, ChannelProberOptions{
		Window: window,
		Now:    func() time.Time { return probeNow },
	})
}

func TestProbeNoChannel(t *testing.T) {
	state, err := newProber(chattest.New(nil), 0).Probe(context.Background(), "isd-1")
	require.NoError(t, err)
	assert.Equal(t, StateNone, state)
}

func TestProbeStartedWithoutCompletion(t *testing.T) {
	fake := chattest.New(nil)
	id := fake.AddChannel("incident-isd-1", false)
	fake.Seed(id, chat.Message{BotID: "BBOT", Text: StartMarker + " ISD-1"}, probeNow.Add(-2*time.Minute))

	state, err := newProber(fake, 5*time.Minute).Probe(context.Background(), "isd-1")
	require.NoError(t, err)
	assert.Equal(t, StateStarted, state)
}

func TestProbeCompleted(t *testing.T) {
	fake := chattest.New(nil)
	id := fake.AddChannel("incident-isd-1", false)
	fake.Seed(id, chat.Message{BotID: "BBOT", Text: StartMarker}, probeNow.Add(-3*time.Minute))
	fake.Seed(id, chat.Message{User: "UBOT", Text: CompletionMarker + "\nall good"}, probeNow.Add(-2*time.Minute))

	state, err := newProber(fake, 5*time.Minute).Probe(context.Background(), "isd-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
}

func TestProbeFailureAfterStartAllowsRetry(t *testing.T) {
	fake := chattest.New(nil)
	id := fake.AddChannel("incident-isd-1", false)
	fake.Seed(id, chat.Message{BotID: "BBOT", Text: StartMarker}, probeNow.Add(-3*time.Minute))
	fake.Seed(id, chat.Message{BotID: "BBOT", Text: FailureMarker + ": tracker down"}, probeNow.Add(-2*time.Minute))

	state, err := newProber(fake, 5*time.Minute).Probe(context.Background(), "isd-1")
	require.NoError(t, err)
	assert.Equal(t, StateNone, state)

	fake.Seed(id, chat.Message{BotID: "BBOT", Text: StartMarker}, probeNow.Add(-time.Minute))
	state, err = newProber(fake, 5*time.Minute).Probe(context.Background(), "isd-1")
	require.NoError(t, err)
	assert.Equal(t, StateStarted, state)
}

func TestProbeIgnoresOtherAuthorsAndOldMessages(t *testing.T) {
	fake := chattest.New(nil)
	id := fake.AddChannel("incident-isd-1", false)
	fake.Seed(id, chat.Message{User: "UHUMAN", Text: CompletionMarker}, probeNow.Add(-time.Minute))
	fake.Seed(id, chat.Message{BotID: "BBOT", Text: CompletionMarker}, probeNow.Add(-20*time.Minute))

	state, err := newProber(fake, 5*time.Minute).Probe(context.Background(), "isd-1")
	require.NoError(t, err)
	assert.Equal(t, StateNone, state)
}

func TestProbeArchivedChannelCountsAsCompleted(t *testing.T) {
	fake := chattest.New(nil)
	fake.AddChannel("incident-isd-1", true)
	state, err := newProber(fake, 0).Probe(context.Background(), "isd-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
}

func TestProbeSurfacesChatErrors(t *testing.T) {
	fake := chattest.New(nil)
	fake.FailOn["FindChannel"] = errors.New("ratelimited")
	_, err := newProber(fake, 0).Probe(context.Background(), "isd-1")
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "none", StateNone.String())
	assert.Equal(t, "started", StateStarted.String())
	assert.Equal(t, "completed", StateCompleted.String())
}
