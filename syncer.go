// Package popchat keeps a chat client's conversations in step with the server.
//
// It reconciles the locally held list of direct chats and rooms against
// server-pushed events and against the user's own actions, both of which flow
// through the same merge and reconcile path into a subscribable Store.
//
// Example:
//
//	transport := popchat.NewWSTransport(&popchat.TransportConfig{URL: "wss://chat.example.com/ws"})
//	session := popchat.NewSessionClient(popchat.WithBaseURL("https://chat.example.com"))
//	syncer := popchat.NewSyncer(transport, session, popchat.WithNotifier(myNotifier))
//	syncer.Attach(ctx, transport)
//
//	if err := syncer.Start(ctx); errors.Is(err, popchat.ErrUnauthenticated) {
//		// show login
//	}
//	transport.Connect(ctx)
//	syncer.Store().Subscribe(render)
package popchat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ============================================================================
// Collaborators
// ============================================================================

// Transport carries requests to the server. Request waits for the paired
// response; Emit fires a signal that has none.
type Transport interface {
	Request(ctx context.Context, event string, params interface{}) (*Response, error)
	Emit(ctx context.Context, event string, params interface{}) error
}

// SessionSource resolves the signed-in user. A nil user with a nil error
// means nobody is signed in.
type SessionSource interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// Level classifies a notice.
type Level string

const (
	LevelInfo     Level = "info"
	LevelError    Level = "error"
	LevelQuestion Level = "question"
)

// Notice is something to tell or ask the user. Notices about a conversation
// carry its kind and id so that accepting them can open it.
type Notice struct {
	Level          Level
	Title          string
	Text           string
	Kind           Kind
	ConversationID string
}

// Notifier shows notices and returns the user's decision: true when a
// question was confirmed or a notification was clicked through.
type Notifier interface {
	Show(ctx context.Context, n Notice) bool
}

// View is the part of the UI that displays the open conversation.
type View interface {
	// Viewing reports whether the user is actively looking at the open conversation.
	Viewing() bool
	// Show displays c as the open conversation.
	Show(c *Conversation)
	// Home returns to the neutral state with nothing open.
	Home()
	// RefreshDetails redraws the detail panel of c if it is shown.
	RefreshDetails(c *Conversation)
}

// NopNotifier declines every question and ignores every notice.
type NopNotifier struct{}

func (NopNotifier) Show(context.Context, Notice) bool { return false }

// NopView is a View that never displays anything.
type NopView struct{}

func (NopView) Viewing() bool                { return false }
func (NopView) Show(*Conversation)           {}
func (NopView) Home()                        {}
func (NopView) RefreshDetails(*Conversation) {}

// ============================================================================
// Syncer
// ============================================================================

type eventHandler func(ctx context.Context, raw []byte) error

// Syncer owns the Store and is the single entry point for pushed events
// (Handle) and user actions.
type Syncer struct {
	store     *Store
	transport Transport
	session   SessionSource
	notifier  Notifier
	view      View
	cache     Cache
	logger    *slog.Logger
	now       func() time.Time

	handlers map[EventKind]eventHandler

	mu   sync.RWMutex
	user *User

	wg sync.WaitGroup
}

// Option configures a Syncer.
type Option func(*Syncer)

func WithNotifier(n Notifier) Option {
	return func(s *Syncer) { s.notifier = n }
}

func WithView(v View) Option {
	return func(s *Syncer) { s.view = v }
}

func WithCache(c Cache) Option {
	return func(s *Syncer) { s.cache = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// WithClock overrides the time source used to stamp outgoing messages.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// WithUser sets the signed-in user up front. Start still asks the session
// source when one is configured.
func WithUser(u *User) Option {
	return func(s *Syncer) { s.user = u }
}

// NewSyncer creates a syncer around an empty store. session may be nil when
// the user is provided with WithUser.
func NewSyncer(transport Transport, session SessionSource, opts ...Option) *Syncer {
	s := &Syncer{
		store:     NewStore(),
		transport: transport,
		session:   session,
		notifier:  NopNotifier{},
		view:      NopView{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = s.routes()
	return s
}

// Store returns the conversation store.
func (s *Syncer) Store() *Store {
	return s.store
}

// User returns the signed-in user, or nil before Start.
func (s *Syncer) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Syncer) requireUser() (*User, error) {
	u := s.User()
	if u == nil {
		return nil, ErrUnauthenticated
	}
	return u, nil
}

func (s *Syncer) username() string {
	if u := s.User(); u != nil {
		return u.Username
	}
	return ""
}

// Start resolves the session user, seeds the store from the cache and
// refreshes the conversation list from the server. ErrUnauthenticated means
// the caller should show its login state.
func (s *Syncer) Start(ctx context.Context) error {
	if s.session != nil {
		u, err := s.session.CurrentUser(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		if u == nil {
			return ErrUnauthenticated
		}
		s.mu.Lock()
		s.user = u
		s.mu.Unlock()
	}
	if s.User() == nil {
		return ErrUnauthenticated
	}

	if s.cache != nil {
		cached, err := s.cache.Load(ctx)
		if err != nil {
			s.logger.Warn("load cached conversations", "err", err)
		} else if len(cached) > 0 {
			SortByRecency(cached)
			s.store.Update(func(st *State) { st.Conversations = cached })
		}
	}

	if err := s.Refresh(ctx); err != nil {
		return fmt.Errorf("initial refresh: %w", err)
	}
	return nil
}

// Refresh replaces the conversation list with the server's. Unread counters
// are client side only and survive for conversations that are still listed.
func (s *Syncer) Refresh(ctx context.Context) error {
	u, err := s.requireUser()
	if err != nil {
		return err
	}

	resp, err := s.request(ctx, ReqGetUserChats, map[string]string{"id": u.ID}, StatusOK)
	if err != nil {
		return err
	}
	var fetched []*Conversation
	if err := resp.Decode(&fetched); err != nil {
		return fmt.Errorf("decode %s: %w", ReqGetUserChats, err)
	}

	var snapshot []*Conversation
	s.store.Update(func(st *State) {
		for _, c := range fetched {
			if old := st.Conversation(c.ID); old != nil {
				c.UnreadCount = old.UnreadCount
			}
		}
		SortByRecency(fetched)
		st.Conversations = fetched
		snapshot = (&State{Conversations: fetched}).clone().Conversations
	})

	if s.cache != nil {
		if err := s.cache.Save(ctx, snapshot); err != nil {
			s.logger.Warn("save conversations to cache", "err", err)
		}
	}
	return nil
}

// refreshQuietly refreshes on behalf of a pushed event. Failures leave the
// state lagging the server until the next successful refresh.
func (s *Syncer) refreshQuietly(ctx context.Context, reason EventKind) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("refresh dropped", "event", reason, "err", err)
	}
}

// Attach subscribes the syncer to a websocket transport: pushed events go to
// Handle and every (re)connect triggers a refresh.
func (s *Syncer) Attach(ctx context.Context, t *WSTransport) {
	t.OnEvent(func(env Envelope) {
		s.Handle(ctx, env)
	})
	t.OnConnected(func() {
		if s.User() == nil {
			return
		}
		s.refreshQuietly(ctx, "connect")
	})
}

// Wait blocks until every notice shown in the background has been answered.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

// ============================================================================
// Helpers
// ============================================================================

// request sends event and checks the response against the expected status.
func (s *Syncer) request(ctx context.Context, event string, params interface{}, want int) (*Response, error) {
	resp, err := s.transport.Request(ctx, event, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", event, err)
	}
	if resp.StatusCode != want {
		return nil, rejected(event, resp)
	}
	return resp, nil
}

// fail shows a server rejection to the user and returns err unchanged.
func (s *Syncer) fail(ctx context.Context, err error) error {
	if apiErr, ok := IsRejected(err); ok {
		s.notifier.Show(ctx, Notice{Level: LevelError, Title: apiErr.Message})
	}
	return err
}

// confirm asks the user a yes/no question.
func (s *Syncer) confirm(ctx context.Context, question string) error {
	if !s.notifier.Show(ctx, Notice{Level: LevelQuestion, Text: question}) {
		return ErrDeclined
	}
	return nil
}

// surface shows a notice without holding up the caller. Accepting a notice
// about a conversation that is not open opens it.
func (s *Syncer) surface(ctx context.Context, n Notice) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if !s.notifier.Show(ctx, n) || n.ConversationID == "" {
			return
		}
		st := s.store.Snapshot()
		if st.IsOpen(n.ConversationID) {
			return
		}
		if err := s.Open(ctx, n.Kind, n.ConversationID); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("open from notice", "id", n.ConversationID, "err", err)
		}
	}()
}

// shouldNotify applies the notification policy: stay quiet only when the
// conversation is open and the user is looking at it.
func (s *Syncer) shouldNotify(id string) bool {
	st := s.store.Snapshot()
	return !(st.IsOpen(id) && s.view.Viewing())
}

func (s *Syncer) join(ctx context.Context, id string) {
	if err := s.transport.Emit(ctx, SignalJoinRoom, map[string]string{"name": id}); err != nil {
		s.logger.Warn("join broadcast group", "id", id, "err", err)
	}
}

func (s *Syncer) leave(ctx context.Context, id string) {
	if err := s.transport.Emit(ctx, SignalLeaveRoom, map[string]string{"name": id}); err != nil {
		s.logger.Warn("leave broadcast group", "id", id, "err", err)
	}
}
