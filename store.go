package popchat

import "sync"

// State is the client's view of the world: the recency ordered conversation
// list and the conversation the user has open, if any.
//
// Open is held separately from its list entry because it carries the full
// history fetched on open. A draft chat is open without being listed.
type State struct {
	Conversations []*Conversation
	Open          *Conversation
}

// Selection derives the open selection. Only one conversation can be open, so
// at most one of the returned IDs is set.
func (s *State) Selection() Selection {
	if s.Open == nil || s.Open.ID == "" {
		return Selection{}
	}
	if s.Open.IsRoom() {
		return Selection{RoomID: s.Open.ID}
	}
	return Selection{ChatID: s.Open.ID}
}

// Conversation returns the list entry with the given id.
func (s *State) Conversation(id string) *Conversation {
	return find(s.Conversations, id)
}

// IsOpen reports whether the conversation with the given id is open.
func (s *State) IsOpen(id string) bool {
	return s.Selection().Is(id)
}

func (s *State) clone() State {
	cp := State{Open: s.Open.Clone()}
	if s.Conversations != nil {
		cp.Conversations = make([]*Conversation, len(s.Conversations))
		for i, c := range s.Conversations {
			cp.Conversations[i] = c.Clone()
		}
	}
	return cp
}

// Store is the single mutable resource of the client. Every change goes
// through Update, and subscribers receive a copy of the state after each one.
type Store struct {
	// pub serializes updates with their publication so subscribers observe
	// states in the order they were produced.
	pub sync.Mutex
	mu  sync.RWMutex

	state State
	subs  map[int]func(State)
	next  int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{subs: make(map[int]func(State))}
}

// Snapshot returns a copy of the current state. It may be stale as soon as it
// is returned.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Update runs fn against the live state and publishes the result. fn must
// not block on I/O. Subscribers must not call Update synchronously.
func (s *Store) Update(fn func(st *State)) {
	s.pub.Lock()
	defer s.pub.Unlock()

	s.mu.Lock()
	fn(&s.state)
	snap := s.state.clone()
	subs := make([]func(State), 0, len(s.subs))
	for _, f := range s.subs {
		subs = append(subs, f)
	}
	s.mu.Unlock()

	for _, f := range subs {
		f(snap)
	}
}

// Subscribe registers f to be called after every update. The returned
// function removes the subscription.
func (s *Store) Subscribe(f func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = f
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Select makes c the open conversation, replacing whatever was open. Passing
// nil clears the selection.
func (s *State) Select(c *Conversation) {
	s.Open = c
}
