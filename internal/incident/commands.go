package incident

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/PratikDhanave/incident-bot/internal/chat"
	"github.com/PratikDhanave/incident-bot/internal/coordination"
	"github.com/PratikDhanave/incident-bot/internal/models"
	"github.com/PratikDhanave/incident-bot/internal/probe"
)

const commandPrefix = "!"

const helpText = "Available commands:\n" +
	"`!help` show this message\n" +
	"`!status <KEY>` show lock and channel state for a ticket\n" +
	"`!resummarize <KEY>` regenerate and re-post the incident summary"

var mentionPattern = regexp.MustCompile(`^\s*(<@[A-Z0-9]+>\s*)+`)

// Command is a parsed bot command.
type Command struct {
	Name string
	Args []string
}

var commandNames = map[string]bool{"help": true, "status": true, "resummarize": true}

// KnownCommand reports whether name is a command the bot answers.
func KnownCommand(name string) bool { return commandNames[name] }

// ParseCommand extracts a command from message text addressed to the bot.
// The text must open with a mention of botUserID unless mentioned is set, as
// it is for app_mention deliveries. ok is false for ordinary messages.
func ParseCommand(text, botUserID string, mentioned bool) (Command, bool) {
	lead := mentionPattern.FindString(text)
	if !mentioned && (botUserID == "" || !strings.Contains(lead, "<@"+botUserID+">")) {
		return Command{}, false
	}
	text = strings.TrimSpace(text[len(lead):])
	if !strings.HasPrefix(text, commandPrefix) {
		return Command{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, commandPrefix))
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

// Commands answers bot commands in the thread of the triggering message.
type Commands struct {
	chat      chat.API
	coord     *coordination.Client
	prober    probe.Prober
	workflow  *Workflow
	tracker   Tracker
	ticketKey func(string) string
	now       func() time.Time
	log       *slog.Logger
}

// NewCommands builds the dispatcher. ticketKey extracts a ticket key from an
// argument and returns "" when there is none.
func NewCommands(api chat.API, coord *coordination.Client, prober probe.Prober, wf *Workflow, tr Tracker, ticketKey func(string) string, log *slog.Logger) *Commands {
	if prober == nil {
		prober = probe.NopProber{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Commands{
		chat:      api,
		coord:     coord,
		prober:    prober,
		workflow:  wf,
		tracker:   tr,
		ticketKey: ticketKey,
		now:       coord.Now,
		log:       log.With("component", "commands"),
	}
}

// Dispatch runs cmd and replies to ev. Only a failed reply is an error; a
// command that cannot do its job says so in the reply.
func (c *Commands) Dispatch(ctx context.Context, ev models.InboundEvent, cmd Command) error {
	var reply string
	switch cmd.Name {
	case "help":
		reply = helpText
	case "status":
		reply = c.withTicket(cmd, func(key string) string { return c.status(ctx, key) })
	case "resummarize":
		reply = c.withTicket(cmd, func(key string) string { return c.resummarize(ctx, key) })
	default:
		reply = fmt.Sprintf("Unknown command `%s%s`.\n%s", commandPrefix, cmd.Name, helpText)
	}
	c.log.Info("command handled", "command", cmd.Name, "channel", ev.Channel, "user", ev.User)

	thread := ev.ThreadTS
	if thread == "" {
		thread = ev.Timestamp
	}
	_, err := c.chat.PostThread(ctx, ev.Channel, thread, reply)
	return errors.Wrap(err, "post command reply")
}

func (c *Commands) withTicket(cmd Command, fn func(string) string) string {
	if len(cmd.Args) > 0 {
		if key := c.ticketKey(strings.ToUpper(cmd.Args[0])); key != "" {
			return fn(key)
		}
	}
	return fmt.Sprintf("Usage: `%s%s <KEY>`", commandPrefix, cmd.Name)
}

func (c *Commands) status(ctx context.Context, key string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", key)

	rec, found, err := c.coord.Lookup(ctx, models.LockKey(key))
	switch {
	case err != nil:
		b.WriteString("Lock: unknown (coordination store unavailable)\n")
	case !found || !rec.Live(c.now()):
		b.WriteString("Lock: free\n")
	default:
		fmt.Fprintf(&b, "Lock: %s by %s until %s\n", rec.Status, rec.Owner, rec.Expiry().Format(time.RFC3339))
	}

	state, err := c.prober.Probe(ctx, key)
	if err != nil {
		b.WriteString("Channel: unknown")
	} else {
		fmt.Fprintf(&b, "Channel: %s (%s)", ChannelName(key, c.now()), state)
	}
	return b.String()
}

func (c *Commands) resummarize(ctx context.Context, key string) string {
	var reply string
	err := c.coord.WithLock(ctx, models.CommandLockKey("resummarize", key), 0, func(ctx context.Context) error {
		name := ChannelName(key, c.now())
		ch, found, err := c.chat.FindChannel(ctx, name)
		if err != nil {
			return err
		}
		if !found || ch.Archived {
			reply = fmt.Sprintf("No active incident channel `%s`.", name)
			return nil
		}
		ticket, err := c.tracker.GetIssue(ctx, key)
		if err != nil {
			return err
		}
		if err := c.workflow.PostSummary(ctx, ch.ID, c.workflow.Summarize(ctx, ticket)); err != nil {
			return err
		}
		reply = fmt.Sprintf("Summary re-posted in <#%s|%s>.", ch.ID, ch.Name)
		return nil
	})
	switch {
	case errors.Is(err, coordination.ErrLockHeld):
		return "A resummarize for " + key + " is already running."
	case err != nil:
		c.log.Error("resummarize failed", "ticket", key, "error", err)
		return "Resummarize failed: " + err.Error()
	}
	return reply
}
