package popchat

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// ============================================================================
// Event Dispatch
// ============================================================================

func (s *Syncer) routes() map[EventKind]eventHandler {
	return map[EventKind]eventHandler{
		EventNewMessage:     on(s.onNewMessage),
		EventNewChat:        on(s.onNewChat),
		EventNewRoom:        on(s.onNewRoom),
		EventAddedToRoom:    on(s.onAddedToRoom),
		EventRoomUpdate:     on(s.onRoomUpdate),
		EventRemoveFromRoom: on(s.onRemovedFromRoom),
		EventMemberLeft:     on(s.onMemberLeft),
		EventAdminGrant:     on(s.onAdminChange(true)),
		EventAdminRevoke:    on(s.onAdminChange(false)),
	}
}

// on adapts a typed handler to the raw payload signature.
func on[T any](fn func(ctx context.Context, p T) error) eventHandler {
	return func(ctx context.Context, raw []byte) error {
		var p T
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return fn(ctx, p)
	}
}

// Handle applies one server-pushed event. Events must be handed over one at a
// time in arrival order. Unknown kinds are ignored.
func (s *Syncer) Handle(ctx context.Context, env Envelope) error {
	kind := EventKind(env.Type)
	h, ok := s.handlers[kind]
	if !ok {
		s.logger.Debug("ignoring unknown event", "type", env.Type)
		return nil
	}
	if err := h(ctx, env.Payload); err != nil {
		s.logger.Error("handle event", "type", env.Type, "err", err)
		return fmt.Errorf("%s: %w", kind, err)
	}
	return nil
}

// ============================================================================
// Messages
// ============================================================================

func (s *Syncer) onNewMessage(ctx context.Context, p NewMessagePayload) error {
	self := s.username()
	msg := p.Message

	var (
		listed bool
		title  string
	)
	s.store.Update(func(st *State) {
		if st.Open != nil && st.Open.ID == p.ID {
			MergeMessage(st.Open, msg)
		}
		entry := st.Conversation(p.ID)
		if entry == nil {
			return
		}
		listed = true
		title = entry.Title(self)
		MergeMessage(entry, msg)

		sel := st.Selection()
		if msg.Sender == self {
			sel = Selection{ChatID: p.ID}
		}
		st.Conversations = Reconcile(st.Conversations, p.ID, &msg, sel)
	})

	if !listed {
		s.logger.Debug("message for unlisted conversation", "id", p.ID)
	}
	if msg.Sender == self || !s.shouldNotify(p.ID) {
		return nil
	}
	if title == "" {
		title = "@" + msg.Sender
	}
	kind := p.Type
	if kind == "" {
		kind = KindChat
	}
	s.surface(ctx, Notice{
		Level:          LevelInfo,
		Title:          title,
		Text:           "@" + msg.Sender + ": " + msg.Text,
		Kind:           kind,
		ConversationID: p.ID,
	})
	return nil
}

func (s *Syncer) onNewChat(ctx context.Context, p NewChatPayload) error {
	if st := s.store.Snapshot(); st.Conversation(p.ID) != nil {
		return nil
	}
	s.refreshQuietly(ctx, EventNewChat)
	s.join(ctx, p.ID)

	if !s.shouldNotify(p.ID) {
		return nil
	}
	s.surface(ctx, Notice{
		Level:          LevelInfo,
		Title:          "@" + p.Texter + " started a chat with you",
		Kind:           KindChat,
		ConversationID: p.ID,
	})
	return nil
}

// ============================================================================
// Rooms
// ============================================================================

func (s *Syncer) onNewRoom(ctx context.Context, p RoomEventPayload) error {
	s.refreshQuietly(ctx, EventNewRoom)
	s.join(ctx, p.ID)

	if !s.shouldNotify(p.ID) {
		return nil
	}
	s.surface(ctx, Notice{
		Level:          LevelInfo,
		Title:          "You were added to a new room",
		Text:           s.roomName(p),
		Kind:           KindRoom,
		ConversationID: p.ID,
	})
	return nil
}

func (s *Syncer) onAddedToRoom(ctx context.Context, p RoomEventPayload) error {
	if p.Member == s.username() {
		s.refreshQuietly(ctx, EventAddedToRoom)
		s.join(ctx, p.ID)
		s.surface(ctx, Notice{
			Level:          LevelInfo,
			Title:          "You were added to " + s.roomName(p),
			Text:           byAdmin(p.Admin),
			Kind:           KindRoom,
			ConversationID: p.ID,
		})
		return nil
	}

	s.patchOpenRoom(p.ID, func(c *Conversation) {
		if !c.HasMember(p.Member) {
			c.Members = append(c.Members, p.Member)
		}
	})
	s.refreshQuietly(ctx, EventAddedToRoom)
	s.notifyRoom(ctx, p.ID, "@"+p.Member+" was added to "+s.roomName(p))
	return nil
}

func (s *Syncer) onRoomUpdate(ctx context.Context, p RoomEventPayload) error {
	s.refreshQuietly(ctx, EventRoomUpdate)
	if p.Name != "" {
		s.patchOpenRoom(p.ID, func(c *Conversation) { c.Name = p.Name })
	}

	title := "A room was renamed to " + s.roomName(p)
	if p.Member != "" {
		title = "@" + p.Member + " renamed a room to " + s.roomName(p)
	}
	s.notifyRoom(ctx, p.ID, title)
	return nil
}

func (s *Syncer) onRemovedFromRoom(ctx context.Context, p RoomEventPayload) error {
	if p.Member != s.username() {
		return s.onMemberGone(ctx, p, EventRemoveFromRoom, " was removed from ")
	}

	name := s.roomName(p)
	s.leave(ctx, p.ID)

	var wasOpen bool
	s.store.Update(func(st *State) {
		st.Conversations = remove(st.Conversations, p.ID)
		if st.Open != nil && st.Open.ID == p.ID {
			st.Open = nil
			wasOpen = true
		}
	})
	if wasOpen {
		s.view.Home()
	}
	s.refreshQuietly(ctx, EventRemoveFromRoom)

	s.surface(ctx, Notice{
		Level: LevelInfo,
		Title: "You were removed from " + name,
		Text:  byAdmin(p.Admin),
		Kind:  KindRoom,
	})
	return nil
}

func (s *Syncer) onMemberLeft(ctx context.Context, p RoomEventPayload) error {
	if p.Member == s.username() {
		return nil
	}
	return s.onMemberGone(ctx, p, EventMemberLeft, " left ")
}

func (s *Syncer) onMemberGone(ctx context.Context, p RoomEventPayload, kind EventKind, verb string) error {
	s.patchOpenRoom(p.ID, func(c *Conversation) {
		c.Members = slices.DeleteFunc(c.Members, func(m string) bool { return m == p.Member })
		c.Admins = slices.DeleteFunc(c.Admins, func(m string) bool { return m == p.Member })
	})
	s.refreshQuietly(ctx, kind)
	s.notifyRoom(ctx, p.ID, "@"+p.Member+verb+s.roomName(p))
	return nil
}

func (s *Syncer) onAdminChange(granted bool) func(ctx context.Context, p RoomEventPayload) error {
	kind := EventAdminRevoke
	if granted {
		kind = EventAdminGrant
	}
	return func(ctx context.Context, p RoomEventPayload) error {
		s.refreshQuietly(ctx, kind)
		s.patchOpenRoom(p.ID, func(c *Conversation) {
			switch {
			case granted && !c.IsAdmin(p.Member):
				c.Admins = append(c.Admins, p.Member)
			case !granted:
				c.Admins = slices.DeleteFunc(c.Admins, func(m string) bool { return m == p.Member })
			}
		})

		who := "@" + p.Member + " is"
		if p.Member == s.username() {
			who = "You are"
		}
		title := who + " now an admin of " + s.roomName(p)
		if !granted {
			title = who + " no longer an admin of " + s.roomName(p)
		}
		s.notifyRoom(ctx, p.ID, title)
		return nil
	}
}

// patchOpenRoom applies fn to the open room and its list entry when the room
// with the given id is open, then refreshes the detail view.
func (s *Syncer) patchOpenRoom(id string, fn func(c *Conversation)) {
	var patched *Conversation
	s.store.Update(func(st *State) {
		if st.Open == nil || st.Open.ID != id || !st.Open.IsRoom() {
			return
		}
		fn(st.Open)
		if entry := st.Conversation(id); entry != nil {
			fn(entry)
		}
		patched = st.Open.Clone()
	})
	if patched != nil {
		s.view.RefreshDetails(patched)
	}
}

func (s *Syncer) notifyRoom(ctx context.Context, id, title string) {
	if !s.shouldNotify(id) {
		return
	}
	s.surface(ctx, Notice{Level: LevelInfo, Title: title, Kind: KindRoom, ConversationID: id})
}

// roomName prefers the name carried by the event, then the listed name.
func (s *Syncer) roomName(p RoomEventPayload) string {
	if p.Name != "" {
		return p.Name
	}
	st := s.store.Snapshot()
	if c := st.Conversation(p.ID); c != nil && c.Name != "" {
		return c.Name
	}
	if st.Open != nil && st.Open.ID == p.ID && st.Open.Name != "" {
		return st.Open.Name
	}
	return "a room"
}

func byAdmin(admin string) string {
	if admin == "" {
		return ""
	}
	return "by @" + admin
}
