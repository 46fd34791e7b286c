package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack/slackevents"

	"github.com/PratikDhanave/incident-bot/internal/auth"
	"github.com/PratikDhanave/incident-bot/internal/incident"
	"github.com/PratikDhanave/incident-bot/internal/models"
)

// outcomeAccepted is reported when the event was queued for async processing.
const outcomeAccepted = "accepted"

// EventProcessor runs one content event through the incident pipeline.
type EventProcessor interface {
	Handle(ctx context.Context, ev models.InboundEvent) incident.Outcome
}

// WebhookOptions configures NewWebhookHandler.
type WebhookOptions struct {
	// Async acknowledges content events immediately and processes them in
	// the background. Upstream retries after ~3s, so production runs async.
	Async  bool
	Logger *slog.Logger
}

// WebhookHandler serves the chat platform's event callbacks.
type WebhookHandler struct {
	proc  EventProcessor
	async bool
	log   *slog.Logger
	wg    sync.WaitGroup
}

func NewWebhookHandler(proc EventProcessor, opts WebhookOptions) *WebhookHandler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{proc: proc, async: opts.Async, log: log.With("component", "webhook")}
}

// Register mounts the endpoint.
//
// POST /slack/events
// - url_verification: echoes the challenge as text/plain
// - event_callback: always 200 once parsed; duplicates and failures are
//   reported in the body, never as 5xx, so upstream does not redeliver
// - malformed JSON or other envelope types: 400
func (h *WebhookHandler) Register(r gin.IRoutes) {
	r.POST("/slack/events", h.serve)
}

// Wait blocks until background processing started by the handler finishes.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}

func (h *WebhookHandler) serve(c *gin.Context) {
	body := auth.RawBody(c)
	if body == nil {
		var err error
		if body, err = io.ReadAll(c.Request.Body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
	}

	var envelope struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if envelope.Type == slackevents.URLVerification {
		h.log.Info("responding to url verification")
		c.Data(http.StatusOK, "text/plain", []byte(envelope.Challenge))
		return
	}

	if envelope.Type != slackevents.CallbackEvent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported event type"})
		return
	}
	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		// Inner event types we do not subscribe to land here too; a 4xx
		// would only make upstream redeliver them.
		h.log.Warn("failed to parse callback", "error", err)
		c.JSON(http.StatusOK, models.WebhookResponse{OK: true, Outcome: string(incident.OutcomeIgnored)})
		return
	}

	ev, ok := inboundEvent(event)
	if !ok {
		c.JSON(http.StatusOK, models.WebhookResponse{OK: true, Outcome: string(incident.OutcomeIgnored)})
		return
	}
	if retry := c.GetHeader("X-Slack-Retry-Num"); retry != "" {
		h.log.Info("redelivered event", "event_id", ev.EventID, "retry_num", retry, "retry_reason", c.GetHeader("X-Slack-Retry-Reason"))
	}

	if h.async {
		ctx := context.WithoutCancel(c.Request.Context())
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					h.log.Error("event processing panicked", "event_id", ev.EventID, "panic", r)
				}
			}()
			h.proc.Handle(ctx, ev)
		}()
		c.JSON(http.StatusOK, models.WebhookResponse{OK: true, Outcome: outcomeAccepted})
		return
	}

	outcome := h.proc.Handle(c.Request.Context(), ev)
	c.JSON(http.StatusOK, models.WebhookResponse{OK: outcome != incident.OutcomeFailed, Outcome: string(outcome)})
}

// inboundEvent maps the message-like callbacks the bot acts on.
func inboundEvent(event slackevents.EventsAPIEvent) (models.InboundEvent, bool) {
	var eventID string
	if cb, ok := event.Data.(*slackevents.EventsAPICallbackEvent); ok {
		eventID = cb.EventID
	}

	switch e := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		return models.InboundEvent{
			EventID:   eventID,
			Channel:   e.Channel,
			User:      e.User,
			Text:      e.Text,
			Timestamp: e.TimeStamp,
			BotID:     e.BotID,
			SubType:   e.SubType,
			ThreadTS:  e.ThreadTimeStamp,
		}, true
	case *slackevents.AppMentionEvent:
		return models.InboundEvent{
			EventID:   eventID,
			Channel:   e.Channel,
			User:      e.User,
			Text:      e.Text,
			Timestamp: e.TimeStamp,
			BotID:     e.BotID,
			ThreadTS:  e.ThreadTimeStamp,
			Mentioned: true,
		}, true
	}
	return models.InboundEvent{}, false
}
