package incident

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/incident-bot/internal/models"
	"github.com/PratikDhanave/incident-bot/internal/probe"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		mentioned bool
		want      Command
		ok        bool
	}{
		{name: "leading mention", text: "<@UBOT> !help", want: Command{Name: "help", Args: []string{}}, ok: true},
		{name: "mixed case", text: "<@UBOT> !Status ISD-12345", want: Command{Name: "status", Args: []string{"ISD-12345"}}, ok: true},
		{name: "bot among mentions", text: "<@U123> <@UBOT>  !resummarize   isd-12345 ", want: Command{Name: "resummarize", Args: []string{"isd-12345"}}, ok: true},
		{name: "app mention", text: "  !help", mentioned: true, want: Command{Name: "help", Args: []string{}}, ok: true},
		{name: "not addressed", text: "!help", ok: false},
		{name: "other user mentioned", text: "<@U123> !help", ok: false},
		{name: "bare prefix", text: "<@UBOT> !", ok: false},
		{name: "prefix not leading", text: "<@UBOT> see ISD-12345 !help", ok: false},
		{name: "empty", text: "", mentioned: true, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseCommand(tt.text, "UBOT", tt.mentioned)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// commandEvent is a message addressed to the bot, posted one second after
// testEvent so the two never share a fingerprint.
func commandEvent(text string) models.InboundEvent {
	ev := testEvent()
	ev.EventID = "EvCmd"
	ev.Text = "<@UBOT> " + text
	ev.Timestamp = "1718020801.000100"
	return ev
}

func lastReply(t *testing.T, h *harness) string {
	t.Helper()
	msgs := h.chat.Messages("CSRC")
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func TestHelpCommand(t *testing.T) {
	h := newHarness(nil)
	p := h.process(t, "a")

	assert.Equal(t, OutcomeProcessed, p.Handle(context.Background(), commandEvent("!help")))
	assert.Equal(t, helpText, lastReply(t, h))
}

func TestUnknownCommandShowsHelp(t *testing.T) {
	h := newHarness(nil)
	p := h.process(t, "a")

	assert.Equal(t, OutcomeProcessed, p.Handle(context.Background(), commandEvent("!deploy")))
	assert.Contains(t, lastReply(t, h), "Unknown command `!deploy`")
	assert.Contains(t, lastReply(t, h), helpText)
}

func TestStatusCommand(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil)
	p := h.process(t, "a")

	require.Equal(t, OutcomeProcessed, p.Handle(ctx, commandEvent("!status ISD-12345")))
	reply := lastReply(t, h)
	assert.Contains(t, reply, "Lock: free")
	assert.Contains(t, reply, "Channel: "+testChannelName+" (none)")

	require.True(t, h.coord("other").AcquireLock(ctx, models.LockKey("ISD-12345"), 0))
	ev := commandEvent("!status isd-12345")
	ev.Timestamp = "1718020802.000100"
	require.Equal(t, OutcomeProcessed, p.Handle(ctx, ev))
	assert.Contains(t, lastReply(t, h), "Lock: processing by other until")
}

func TestStatusWithoutKeyShowsUsage(t *testing.T) {
	h := newHarness(nil)
	p := h.process(t, "a")

	require.Equal(t, OutcomeProcessed, p.Handle(context.Background(), commandEvent("!status nope")))
	assert.Equal(t, "Usage: `!status <KEY>`", lastReply(t, h))
}

func TestResummarizeCommand(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil)
	p := h.process(t, "a")

	require.Equal(t, OutcomeProcessed, p.Handle(ctx, commandEvent("!resummarize ISD-12345")))
	assert.Equal(t, "No active incident channel `"+testChannelName+"`.", lastReply(t, h))

	require.Equal(t, OutcomeProcessed, p.Handle(ctx, testEvent()))
	h.gen.text = "Checkout recovered."
	ev := commandEvent("!resummarize ISD-12345")
	ev.Timestamp = "1718020803.000100"
	require.Equal(t, OutcomeProcessed, p.Handle(ctx, ev))

	id := h.chat.ChannelID(testChannelName)
	msgs := h.chat.Messages(id)
	assert.Equal(t, probe.CompletionMarker+"\nCheckout recovered.", msgs[len(msgs)-1])
	assert.Contains(t, lastReply(t, h), "Summary re-posted in <#"+id)

	_, found, err := h.coord("a").Lookup(ctx, models.CommandLockKey("resummarize", "ISD-12345"))
	require.NoError(t, err)
	assert.False(t, found, "command lock released")
}

func TestResummarizeLockHeld(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil)
	p := h.process(t, "a")
	require.True(t, h.coord("other").AcquireLock(ctx, models.CommandLockKey("resummarize", "ISD-12345"), 0))

	require.Equal(t, OutcomeProcessed, p.Handle(ctx, commandEvent("!resummarize ISD-12345")))
	assert.Equal(t, "A resummarize for ISD-12345 is already running.", lastReply(t, h))
}

func TestUnaddressedCommandIsIgnored(t *testing.T) {
	h := newHarness(nil)
	p := h.process(t, "a")
	ev := testEvent()
	ev.Text = "!help"

	assert.Equal(t, OutcomeIgnored, p.Handle(context.Background(), ev))
	assert.Empty(t, h.chat.Messages("CSRC"))
}

func TestBangMessageWithTicketRunsWorkflow(t *testing.T) {
	for name, text := range map[string]string{
		"not addressed":      "!!! ISD-12345 checkout down",
		"unknown to the bot": "<@UBOT> !!! ISD-12345 checkout down",
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(nil)
			p := h.process(t, "a")
			ev := testEvent()
			ev.Text = text

			assert.Equal(t, OutcomeProcessed, p.Handle(context.Background(), ev))
			assert.NotEmpty(t, h.chat.ChannelID(testChannelName), "incident channel created")
			for _, msg := range h.chat.Messages("CSRC") {
				assert.NotContains(t, msg, "Unknown command")
			}
		})
	}
}

func TestAppMentionCommand(t *testing.T) {
	h := newHarness(nil)
	p := h.process(t, "a")
	ev := commandEvent("")
	ev.Text = "hey <@UBOT> !help"
	ev.Mentioned = true

	// The prefix must still open the text once leading mentions are removed.
	assert.Equal(t, OutcomeIgnored, p.Handle(context.Background(), ev))

	ev.Text = "!help"
	assert.Equal(t, OutcomeProcessed, p.Handle(context.Background(), ev))
	assert.Equal(t, helpText, lastReply(t, h))
}
