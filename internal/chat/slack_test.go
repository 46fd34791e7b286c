package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSlackTestServer(t *testing.T, routes map[string]func(http.ResponseWriter, *http.Request)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth.test", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "user_id": "UBOT", "bot_id": "BBOT"})
	})
	for path, h := range routes {
		mux.HandleFunc(path, h)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewSlackClientResolvesIdentity(t *testing.T) {
	server := newSlackTestServer(t, nil)
	c, err := NewSlackClient(context.Background(), SlackOptions{Token: "xoxb-test", APIURL: server.URL + "/"})
	require.NoError(t, err)

	user, bot := c.Identity()
	assert.Equal(t, "UBOT", user)
	assert.Equal(t, "BBOT", bot)
}

func TestNewSlackClientRequiresToken(t *testing.T) {
	_, err := NewSlackClient(context.Background(), SlackOptions{})
	assert.Error(t, err)
}

func TestFindChannelFollowsCursor(t *testing.T) {
	calls := 0
	server := newSlackTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/conversations.list": func(w http.ResponseWriter, r *http.Request) {
			_ = r.ParseForm()
			calls++
			if r.Form.Get("cursor") == "" {
				writeJSON(w, map[string]any{
					"ok":                true,
					"channels":          []map[string]any{{"id": "C1", "name": "general"}},
					"response_metadata": map[string]any{"next_cursor": "page2"},
				})
				return
			}
			writeJSON(w, map[string]any{
				"ok":       true,
				"channels": []map[string]any{{"id": "C2", "name": "incident-isd-12345-20240610", "is_archived": true}},
			})
		},
	})
	c, err := NewSlackClient(context.Background(), SlackOptions{Token: "xoxb-test", APIURL: server.URL + "/"})
	require.NoError(t, err)

	ch, found, err := c.FindChannel(context.Background(), "INCIDENT-ISD-12345-20240610")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "C2", ch.ID)
	assert.True(t, ch.Archived)
	assert.Equal(t, 2, calls)
}

func TestPostSendsChannelAndText(t *testing.T) {
	var channel, text string
	server := newSlackTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/chat.postMessage": func(w http.ResponseWriter, r *http.Request) {
			_ = r.ParseForm()
			channel = r.Form.Get("channel")
			text = r.Form.Get("text")
			writeJSON(w, map[string]any{"ok": true, "channel": channel, "ts": "1718000000.000200"})
		},
	})
	c, err := NewSlackClient(context.Background(), SlackOptions{Token: "xoxb-test", APIURL: server.URL + "/"})
	require.NoError(t, err)

	ts, err := c.Post(context.Background(), "C9", "hello")
	require.NoError(t, err)
	assert.Equal(t, "1718000000.000200", ts)
	assert.Equal(t, "C9", channel)
	assert.Equal(t, "hello", text)
}

func TestInviteToleratesAlreadyInChannel(t *testing.T) {
	server := newSlackTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/conversations.invite": func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, map[string]any{"ok": false, "error": "already_in_channel"})
		},
	})
	c, err := NewSlackClient(context.Background(), SlackOptions{Token: "xoxb-test", APIURL: server.URL + "/"})
	require.NoError(t, err)
	assert.NoError(t, c.Invite(context.Background(), "C1", "U1"))
}

func TestFormatTimestamp(t *testing.T) {
	ts := FormatTimestamp(time.Unix(1718000000, 123456000))
	assert.Equal(t, "1718000000.123456", ts)
	assert.True(t, strings.HasPrefix(FormatTimestamp(time.Unix(5, 0)), "5."))
}
