package popchat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

var me = &User{ID: "u-1", Username: "alice"}

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func at(day, hour int) time.Time {
	return time.Date(2024, 3, day, hour, 0, 0, 0, time.UTC)
}

func msgAt(sender, text string, when time.Time) Message {
	return Message{Sender: sender, Text: text, When: when}
}

func chat(id, peer string, last time.Time) *Conversation {
	c := &Conversation{ID: id, Kind: KindChat, User1: me.Username, User2: peer, CreatedAt: last.Add(-time.Hour)}
	if !last.IsZero() {
		m := msgAt(peer, "hi", last)
		c.Messages = []DayBucket{{Date: DayOf(last), Messages: []Message{m}}}
		c.LastMessage = &m
	}
	return c
}

func room(id, name string, members ...string) *Conversation {
	return &Conversation{
		ID:        id,
		Kind:      KindRoom,
		Name:      name,
		Creator:   me.Username,
		Members:   append([]string{me.Username}, members...),
		Admins:    []string{me.Username},
		CreatedAt: at(1, 9),
	}
}

func respond(t *testing.T, status int, data interface{}) *Response {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return &Response{StatusCode: status, Message: "ok", Data: raw}
}

func envelope(t *testing.T, kind EventKind, payload interface{}) Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{Type: string(kind), Payload: raw}
}

// ============================================================================
// Fakes
// ============================================================================

type call struct {
	Event  string
	Params map[string]interface{}
}

// fakeTransport answers requests from per-event handlers. Events without a
// handler are answered with an empty 200.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]func(params map[string]interface{}) (*Response, error)
	requests []call
	emits    []call
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func(map[string]interface{}) (*Response, error))}
}

func (f *fakeTransport) on(event string, h func(params map[string]interface{}) (*Response, error)) {
	f.mu.Lock()
	f.handlers[event] = h
	f.mu.Unlock()
}

func (f *fakeTransport) reply(event string, resp *Response) {
	f.on(event, func(map[string]interface{}) (*Response, error) { return resp, nil })
}

func toMap(params interface{}) map[string]interface{} {
	raw, _ := json.Marshal(params)
	var m map[string]interface{}
	_ = json.Unmarshal(raw, &m)
	return m
}

func (f *fakeTransport) Request(_ context.Context, event string, params interface{}) (*Response, error) {
	m := toMap(params)
	f.mu.Lock()
	f.requests = append(f.requests, call{Event: event, Params: m})
	h := f.handlers[event]
	f.mu.Unlock()
	if h == nil {
		return &Response{StatusCode: StatusOK}, nil
	}
	return h(m)
}

func (f *fakeTransport) Emit(_ context.Context, event string, params interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, call{Event: event, Params: toMap(params)})
	return nil
}

func (f *fakeTransport) sent() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call{}, f.requests...)
}

func (f *fakeTransport) events() []string {
	var names []string
	for _, c := range f.sent() {
		names = append(names, c.Event)
	}
	return names
}

func (f *fakeTransport) signals() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call{}, f.emits...)
}

type fakeNotifier struct {
	mu      sync.Mutex
	answer  bool
	notices []Notice
}

func (n *fakeNotifier) Show(_ context.Context, notice Notice) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.answer
}

func (n *fakeNotifier) shown() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice{}, n.notices...)
}

type fakeView struct {
	mu      sync.Mutex
	viewing bool
	shows   []*Conversation
	homes   int
	details []*Conversation
}

func (v *fakeView) Viewing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.viewing
}

func (v *fakeView) Show(c *Conversation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.shows = append(v.shows, c)
}

func (v *fakeView) Home() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.homes++
}

func (v *fakeView) RefreshDetails(c *Conversation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.details = append(v.details, c)
}

type fixture struct {
	syncer    *Syncer
	transport *fakeTransport
	notifier  *fakeNotifier
	view      *fakeView
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		transport: newFakeTransport(),
		notifier:  &fakeNotifier{},
		view:      &fakeView{},
	}
	opts = append([]Option{
		WithUser(me),
		WithNotifier(f.notifier),
		WithView(f.view),
		WithClock(func() time.Time { return testNow }),
	}, opts...)
	f.syncer = NewSyncer(f.transport, nil, opts...)
	return f
}

// seed installs list (and optionally the open conversation) without going
// through the server.
func (f *fixture) seed(open *Conversation, list ...*Conversation) {
	f.syncer.store.Update(func(st *State) {
		st.Conversations = list
		st.Open = open
	})
}

// serve makes list the server's answer to every conversation list refresh.
func (f *fixture) serve(t *testing.T, list ...*Conversation) {
	t.Helper()
	if list == nil {
		list = []*Conversation{}
	}
	f.transport.reply(ReqGetUserChats, respond(t, StatusOK, list))
}

func (f *fixture) state() State {
	return f.syncer.Store().Snapshot()
}

func ids(list []*Conversation) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}
