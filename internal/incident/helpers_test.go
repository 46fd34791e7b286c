package incident

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/incident-bot/internal/chat/chattest"
	"github.com/PratikDhanave/incident-bot/internal/coordination"
	"github.com/PratikDhanave/incident-bot/internal/dedup"
	"github.com/PratikDhanave/incident-bot/internal/fingerprint"
	"github.com/PratikDhanave/incident-bot/internal/models"
	"github.com/PratikDhanave/incident-bot/internal/probe"
	"github.com/PratikDhanave/incident-bot/internal/store"
	"github.com/PratikDhanave/incident-bot/internal/tracker"
)

var testNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

const testChannelName = "incident-isd-12345-20240610"

func testEvent() models.InboundEvent {
	return models.InboundEvent{
		EventID:   "Ev01",
		Channel:   "CSRC",
		User:      "U123",
		Text:      "prod is on fire, see ISD-12345",
		Timestamp: "1718020800.000100",
	}
}

type fakeTracker struct {
	mu       sync.Mutex
	tickets  map[string]models.Ticket
	getErr   error
	gets     int
	comments []string
	files    map[string][]byte

	commentErr error

	// entered is signalled and gate awaited inside GetIssue when set.
	entered chan struct{}
	gate    chan struct{}
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		tickets: map[string]models.Ticket{
			"ISD-12345": {Key: "ISD-12345", Summary: "Checkout down", Description: "500s on /pay"},
		},
		files: map[string][]byte{},
	}
}

func (f *fakeTracker) GetIssue(_ context.Context, key string) (models.Ticket, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return models.Ticket{}, f.getErr
	}
	t, ok := f.tickets[key]
	if !ok {
		return models.Ticket{}, &tracker.StatusError{StatusCode: 404, Message: "Issue does not exist"}
	}
	return t, nil
}

func (f *fakeTracker) Download(_ context.Context, a models.Attachment, limit int64) ([]byte, error) {
	if limit > 0 && a.Size > limit {
		return nil, errors.Wrap(tracker.ErrTooLarge, a.Filename)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[a.ID]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeTracker) AddComment(_ context.Context, key, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentErr != nil {
		return f.commentErr
	}
	f.comments = append(f.comments, key+": "+text)
	return nil
}

func (f *fakeTracker) Gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

type fakeGenerator struct {
	mu        sync.Mutex
	text      string
	err       error
	panicWith any
	prompts   []string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.panicWith != nil {
		panic(g.panicWith)
	}
	return g.text, g.err
}

// recordingStore logs every mutation made through it.
type recordingStore struct {
	store.Store

	mu  sync.Mutex
	ops []string
}

func (r *recordingStore) log(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recordingStore) PutIfAbsentOrExpired(ctx context.Context, rec models.Record, now time.Time) error {
	r.log("acquire " + rec.Key)
	return r.Store.PutIfAbsentOrExpired(ctx, rec, now)
}

func (r *recordingStore) Put(ctx context.Context, rec models.Record) error {
	r.log("put " + rec.Key + " " + rec.Status)
	return r.Store.Put(ctx, rec)
}

func (r *recordingStore) Delete(ctx context.Context, key string) error {
	r.log("delete " + key)
	return r.Store.Delete(ctx, key)
}

func (r *recordingStore) Ops(prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, op := range r.ops {
		if strings.HasPrefix(op, prefix) {
			out = append(out, op)
		}
	}
	return out
}

// harness is one simulated process plus the shared world it talks to.
type harness struct {
	store   *recordingStore
	chat    *chattest.Fake
	tracker *fakeTracker
	gen     *fakeGenerator
	now     time.Time
}

func newHarness(st store.Store) *harness {
	if st == nil {
		st = store.NewMemoryStore()
	}
	h := &harness{
		store:   &recordingStore{Store: st},
		tracker: newFakeTracker(),
		gen:     &fakeGenerator{text: "Checkout is failing for all users."},
		now:     testNow,
	}
	h.chat = chattest.New(h.clock)
	return h
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) coord(instance string, opts ...coordination.Option) *coordination.Client {
	opts = append([]coordination.Option{coordination.WithClock(h.clock), coordination.WithInstanceID(instance)}, opts...)
	return coordination.NewClient(h.store, opts...)
}

// process builds a pipeline with its own local cache, as a separate process
// sharing the store and chat workspace would have.
func (h *harness) process(t *testing.T, instance string, opts ...coordination.Option) *Pipeline {
	t.Helper()
	deriver, err := fingerprint.NewDeriver(fingerprint.DefaultTicketPattern)
	require.NoError(t, err)
	p, err := NewPipeline(Deps{
		Deriver: deriver,
		Cache:   dedup.NewCache(dedup.DefaultCapacity),
		Coord:   h.coord(instance, opts...),
		Prober: probe.NewChannelProber(h.chat, ChannelName, probe.ChannelProberOptions{
			Window: probe.DefaultWindow,
			Now:    h.clock,
		}),
		Chat:      h.chat,
		Tracker:   h.tracker,
		Generator: h.gen,
	})
	require.NoError(t, err)
	return p
}
