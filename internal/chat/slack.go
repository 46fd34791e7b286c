package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"
)

const channelPageSize = 1000

// SlackClient implements API on top of slack-go.
type SlackClient struct {
	api       *slack.Client
	userID    string
	botID     string
	log       *slog.Logger
	callLimit time.Duration
}

// SlackOptions configures NewSlackClient.
type SlackOptions struct {
	Token       string
	APIURL      string
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// NewSlackClient builds the client and resolves the bot identity with
// auth.test so the prober can tell the bot's own messages apart.
func NewSlackClient(ctx context.Context, opts SlackOptions) (*SlackClient, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, errors.New("slack token is required")
	}
	var slackOpts []slack.Option
	if opts.APIURL != "" {
		slackOpts = append(slackOpts, slack.OptionAPIURL(opts.APIURL))
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	callLimit := opts.CallTimeout
	if callLimit <= 0 {
		callLimit = 10 * time.Second
	}

	c := &SlackClient{
		api:       slack.New(token, slackOpts...),
		log:       log.With("component", "chat"),
		callLimit: callLimit,
	}

	authCtx, cancel := context.WithTimeout(ctx, callLimit)
	defer cancel()
	auth, err := c.api.AuthTestContext(authCtx)
	if err != nil {
		return nil, errors.Wrap(err, "slack auth test")
	}
	c.userID = auth.UserID
	c.botID = auth.BotID
	return c, nil
}

func (c *SlackClient) Identity() (string, string) {
	return c.userID, c.botID
}

func (c *SlackClient) FindChannel(ctx context.Context, name string) (Channel, bool, error) {
	name = strings.ToLower(name)
	cursor := ""
	for {
		callCtx, cancel := context.WithTimeout(ctx, c.callLimit)
		channels, next, err := c.api.GetConversationsContext(callCtx, &slack.GetConversationsParameters{
			Cursor:          cursor,
			ExcludeArchived: false,
			Limit:           channelPageSize,
			Types:           []string{"public_channel"},
		})
		cancel()
		if err != nil {
			return Channel{}, false, errors.Wrap(err, "list slack channels")
		}
		for _, ch := range channels {
			if ch.Name == name {
				return Channel{ID: ch.ID, Name: ch.Name, Archived: ch.IsArchived}, true, nil
			}
		}
		if next == "" {
			return Channel{}, false, nil
		}
		cursor = next
	}
}

func (c *SlackClient) CreateChannel(ctx context.Context, name string) (Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callLimit)
	defer cancel()

	ch, err := c.api.CreateConversationContext(ctx, slack.CreateConversationParams{
		ChannelName: strings.ToLower(name),
		IsPrivate:   false,
	})
	if err != nil {
		return Channel{}, errors.Wrapf(err, "create slack channel %q", name)
	}
	return Channel{ID: ch.ID, Name: ch.Name, Archived: ch.IsArchived}, nil
}

func (c *SlackClient) Invite(ctx context.Context, channelID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.callLimit)
	defer cancel()

	_, err := c.api.InviteUsersToConversationContext(ctx, channelID, userID)
	if err != nil && strings.Contains(err.Error(), "already_in_channel") {
		return nil
	}
	return errors.Wrapf(err, "invite %s to %s", userID, channelID)
}

func (c *SlackClient) Post(ctx context.Context, channelID, text string) (string, error) {
	return c.post(ctx, channelID, slack.MsgOptionText(text, false))
}

func (c *SlackClient) PostThread(ctx context.Context, channelID, threadTS, text string) (string, error) {
	return c.post(ctx, channelID, slack.MsgOptionText(text, false), slack.MsgOptionTS(threadTS))
}

func (c *SlackClient) post(ctx context.Context, channelID string, opts ...slack.MsgOption) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callLimit)
	defer cancel()

	_, ts, err := c.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", errors.Wrapf(err, "post message to %s", channelID)
	}
	return ts, nil
}

func (c *SlackClient) History(ctx context.Context, channelID string, oldest time.Time, limit int) ([]Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callLimit)
	defer cancel()

	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Oldest:    FormatTimestamp(oldest),
		Inclusive: true,
		Limit:     limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "read history of %s", channelID)
	}
	out := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, Message{
			User:      m.User,
			BotID:     m.BotID,
			Text:      m.Text,
			Timestamp: m.Timestamp,
			SubType:   m.SubType,
		})
	}
	return out, nil
}

func (c *SlackClient) Upload(ctx context.Context, channelID, filename, title string, r io.Reader, size int64) error {
	ctx, cancel := context.WithTimeout(ctx, 4*c.callLimit)
	defer cancel()

	_, err := c.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Reader:   r,
		FileSize: int(size),
		Filename: filename,
		Title:    title,
		Channel:  channelID,
	})
	return errors.Wrapf(err, "upload %s to %s", filename, channelID)
}

// FormatTimestamp renders t in the platform's "seconds.micros" form.
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}
