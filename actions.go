package popchat

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Opening Conversations
// ============================================================================

// Open fetches the full conversation and makes it the open selection. Its
// unread counter is reset.
func (s *Syncer) Open(ctx context.Context, kind Kind, id string) error {
	event := ReqGetChat
	if kind == KindRoom {
		event = ReqGetRoom
	}
	resp, err := s.request(ctx, event, map[string]string{"id": id}, StatusOK)
	if err != nil {
		return s.fail(ctx, err)
	}
	var c Conversation
	if err := resp.Decode(&c); err != nil {
		return fmt.Errorf("decode %s: %w", event, err)
	}
	if c.Kind == "" {
		c.Kind = kind
	}

	var shown *Conversation
	s.store.Update(func(st *State) {
		entry := st.Conversation(c.ID)
		if entry == nil && c.IsRoom() {
			return
		}
		if entry != nil {
			catchUp(&c, entry)
		}
		shown = c.Clone()
		st.Select(&c)
		st.Conversations = Reconcile(st.Conversations, c.ID, nil, st.Selection())
	})
	if shown == nil {
		s.logger.Debug("discarding fetched room that is no longer listed", "id", c.ID)
		return nil
	}
	s.view.Show(shown)
	return nil
}

// catchUp merges into fetched the messages entry received after fetched was
// read on the server.
func catchUp(fetched, entry *Conversation) {
	if entry.LastMessage == nil {
		return
	}
	var since time.Time
	if fetched.LastMessage != nil {
		since = fetched.LastMessage.When
	}
	if !entry.LastMessage.When.After(since) {
		return
	}
	for _, b := range entry.Messages {
		for _, m := range b.Messages {
			if m.When.After(since) {
				MergeMessage(fetched, m)
			}
		}
	}
}

// Restore reopens a previously persisted selection. An empty selection
// leaves the neutral state alone.
func (s *Syncer) Restore(ctx context.Context, sel Selection) error {
	switch {
	case sel.RoomID != "":
		return s.Open(ctx, KindRoom, sel.RoomID)
	case sel.ChatID != "":
		return s.Open(ctx, KindChat, sel.ChatID)
	}
	return nil
}

// StartChat opens the direct chat with username, or an unsent draft when the
// two have never talked. The draft is created on the server by the first Send.
func (s *Syncer) StartChat(ctx context.Context, username string) error {
	if err := Validate(memberInput{Member: username}); err != nil {
		return err
	}
	u, err := s.requireUser()
	if err != nil {
		return err
	}

	st := s.store.Snapshot()
	for _, c := range st.Conversations {
		if !c.IsRoom() && c.HasParticipant(username) && c.HasParticipant(u.Username) {
			return s.Open(ctx, KindChat, c.ID)
		}
	}

	draft := &Conversation{
		Kind:      KindChat,
		CreatedAt: s.now().UTC(),
		User1:     u.Username,
		User2:     username,
		Messages:  []DayBucket{},
	}
	shown := draft.Clone()
	s.store.Update(func(st *State) { st.Select(draft) })
	s.view.Show(shown)
	return nil
}

// MarkRead resets the unread counter of the conversation.
func (s *Syncer) MarkRead(id string) {
	s.store.Update(func(st *State) {
		st.Conversations = Reconcile(st.Conversations, id, nil, st.Selection())
	})
}

// Close clears the open selection and returns the view home.
func (s *Syncer) Close() {
	s.store.Update(func(st *State) { st.Select(nil) })
	s.view.Home()
}

// ============================================================================
// Sending
// ============================================================================

// Send posts text to the open conversation. Sending on a draft chat creates it
// on the server and the created chat takes the draft's place.
func (s *Syncer) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if err := Validate(messageInput{Text: text}); err != nil {
		return err
	}
	u, err := s.requireUser()
	if err != nil {
		return err
	}
	open := s.store.Snapshot().Open
	if open == nil {
		return ErrNoOpenConversation
	}

	msg := Message{Sender: u.Username, Text: text, When: s.now().UTC()}
	if open.IsDraft() {
		return s.createChat(ctx, open, msg)
	}

	_, err = s.request(ctx, ReqNewMessage, map[string]interface{}{
		"type":    open.Kind,
		"id":      open.ID,
		"message": msg,
	}, StatusCreated)
	if err != nil {
		return s.fail(ctx, err)
	}

	var stale bool
	s.store.Update(func(st *State) {
		isOpen := st.Open != nil && st.Open.ID == open.ID
		entry := st.Conversation(open.ID)
		if !isOpen && entry == nil {
			stale = true
			return
		}
		if isOpen {
			MergeMessage(st.Open, msg)
		}
		if entry != nil {
			MergeMessage(entry, msg)
			st.Conversations = Reconcile(st.Conversations, open.ID, &msg, Selection{ChatID: open.ID})
		}
	})
	if stale {
		s.logger.Debug("discarding sent message for a conversation no longer held", "id", open.ID)
	}
	return nil
}

func (s *Syncer) createChat(ctx context.Context, draft *Conversation, msg Message) error {
	resp, err := s.request(ctx, ReqCreateChat, map[string]interface{}{
		"creator": msg.Sender,
		"user_2":  draft.User2,
		"message": msg,
	}, StatusCreated)
	if err != nil {
		return s.fail(ctx, err)
	}
	var c Conversation
	if err := resp.Decode(&c); err != nil {
		return fmt.Errorf("decode %s: %w", ReqCreateChat, err)
	}
	if c.Kind == "" {
		c.Kind = KindChat
	}

	shown := c.Clone()
	var promoted bool
	s.store.Update(func(st *State) {
		if st.Open != nil && st.Open.IsDraft() && st.Open.User2 == draft.User2 {
			st.Select(&c)
			promoted = true
		}
		if st.Conversation(c.ID) == nil {
			st.Conversations = append(st.Conversations, c.Clone())
			SortByRecency(st.Conversations)
		}
	})
	if promoted {
		s.view.Show(shown)
	}
	return nil
}

// ============================================================================
// Rooms
// ============================================================================

// CreateRoom creates a room with the given members and opens it.
func (s *Syncer) CreateRoom(ctx context.Context, name string, members []string) error {
	name = strings.TrimSpace(name)
	if err := Validate(roomInput{Name: name, Members: members}); err != nil {
		return err
	}
	u, err := s.requireUser()
	if err != nil {
		return err
	}

	resp, err := s.request(ctx, ReqCreateRoom, map[string]interface{}{
		"name":    name,
		"creator": u.Username,
		"members": members,
	}, StatusCreated)
	if err != nil {
		return s.fail(ctx, err)
	}
	var c Conversation
	if err := resp.Decode(&c); err != nil {
		return fmt.Errorf("decode %s: %w", ReqCreateRoom, err)
	}
	c.Kind = KindRoom

	shown := c.Clone()
	s.store.Update(func(st *State) {
		if st.Conversation(c.ID) == nil {
			st.Conversations = append(st.Conversations, c.Clone())
			SortByRecency(st.Conversations)
		}
		st.Select(&c)
	})
	s.join(ctx, c.ID)
	s.view.Show(shown)
	return nil
}

// AddMembers adds members to the open room after the user confirms.
func (s *Syncer) AddMembers(ctx context.Context, members []string) error {
	if err := Validate(membersInput{Members: members}); err != nil {
		return err
	}
	return s.changeMembers(ctx, ReqAddMember, members,
		fmt.Sprintf("Sure you want to add %s to the room?", mentions(members)))
}

// RemoveMember removes member from the open room after the user confirms.
func (s *Syncer) RemoveMember(ctx context.Context, member string) error {
	if err := Validate(memberInput{Member: member}); err != nil {
		return err
	}
	return s.changeMembers(ctx, ReqRemoveMember, []string{member},
		fmt.Sprintf("Sure you want to remove %s from the room?", mentions([]string{member})))
}

func (s *Syncer) changeMembers(ctx context.Context, event string, members []string, question string) error {
	u, room, err := s.openRoom()
	if err != nil {
		return err
	}
	if err := s.confirm(ctx, question); err != nil {
		return err
	}
	return s.updateRoom(ctx, event, map[string]interface{}{
		"id":      room.ID,
		"admin":   u.Username,
		"members": members,
	})
}

// GrantAdmin makes member an admin of the open room after the user confirms.
func (s *Syncer) GrantAdmin(ctx context.Context, member string) error {
	return s.changeAdmin(ctx, ReqAddAdmin, member, "Sure you want to add @%s as admin?")
}

// RevokeAdmin removes member from the admins of the open room after the user confirms.
func (s *Syncer) RevokeAdmin(ctx context.Context, member string) error {
	return s.changeAdmin(ctx, ReqRemoveAdmin, member, "Sure you want to remove @%s as admin?")
}

func (s *Syncer) changeAdmin(ctx context.Context, event, member, question string) error {
	if err := Validate(memberInput{Member: member}); err != nil {
		return err
	}
	u, room, err := s.openRoom()
	if err != nil {
		return err
	}
	if err := s.confirm(ctx, fmt.Sprintf(question, member)); err != nil {
		return err
	}
	return s.updateRoom(ctx, event, map[string]interface{}{
		"id":     room.ID,
		"admin":  u.Username,
		"member": member,
	})
}

// RenameRoom renames the open room after the user confirms.
func (s *Syncer) RenameRoom(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := Validate(roomNameInput{Name: name}); err != nil {
		return err
	}
	u, room, err := s.openRoom()
	if err != nil {
		return err
	}
	if err := s.confirm(ctx, fmt.Sprintf("Rename %s to %s?", room.Name, name)); err != nil {
		return err
	}
	return s.updateRoom(ctx, ReqEditRoomName, map[string]interface{}{
		"id":    room.ID,
		"name":  name,
		"admin": u.Username,
	})
}

// LeaveRoom leaves the open room after the user confirms.
func (s *Syncer) LeaveRoom(ctx context.Context) error {
	u, room, err := s.openRoom()
	if err != nil {
		return err
	}
	if err := s.confirm(ctx, "Leave room?"); err != nil {
		return err
	}

	_, err = s.request(ctx, ReqExitRoom, map[string]string{"room_id": room.ID, "id": u.ID}, StatusOK)
	if err != nil {
		return s.fail(ctx, err)
	}

	s.store.Update(func(st *State) {
		st.Conversations = remove(st.Conversations, room.ID)
		if st.Open != nil && st.Open.ID == room.ID {
			st.Select(nil)
		}
	})
	s.leave(ctx, room.ID)
	s.view.Home()
	s.surface(ctx, Notice{Level: LevelInfo, Title: "You left " + room.Name})
	s.refreshQuietly(ctx, EventMemberLeft)
	return nil
}

// openRoom returns the signed-in user and the open room.
func (s *Syncer) openRoom() (*User, *Conversation, error) {
	u, err := s.requireUser()
	if err != nil {
		return nil, nil, err
	}
	open := s.store.Snapshot().Open
	switch {
	case open == nil:
		return nil, nil, ErrNoOpenConversation
	case !open.IsRoom():
		return nil, nil, ErrNotARoom
	}
	return u, open, nil
}

// updateRoom sends a room change and installs the room the server returns.
// The result is discarded when the room was closed in the meantime.
func (s *Syncer) updateRoom(ctx context.Context, event string, params map[string]interface{}) error {
	resp, err := s.request(ctx, event, params, StatusOK)
	if err != nil {
		return s.fail(ctx, err)
	}
	var c Conversation
	if err := resp.Decode(&c); err != nil {
		return fmt.Errorf("decode %s: %w", event, err)
	}
	c.Kind = KindRoom

	shown := c.Clone()
	var current bool
	s.store.Update(func(st *State) {
		if st.Open == nil || st.Open.ID != c.ID {
			return
		}
		current = true
		st.Select(&c)
		if i := indexOf(st.Conversations, c.ID); i >= 0 {
			entry := c.Clone()
			entry.UnreadCount = st.Conversations[i].UnreadCount
			st.Conversations[i] = entry
			SortByRecency(st.Conversations)
		}
	})
	if !current {
		s.logger.Debug("discarding room update for a closed room", "event", event, "id", c.ID)
		return nil
	}
	s.view.RefreshDetails(shown)
	return nil
}

func mentions(members []string) string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = "@" + m
	}
	return strings.Join(out, ", ")
}

// ============================================================================
// Users
// ============================================================================

// GetUser looks a user up by id or, when id is empty, by username.
func (s *Syncer) GetUser(ctx context.Context, id, username string) (*User, error) {
	resp, err := s.request(ctx, ReqGetUser, map[string]string{"id": id, "username": username}, StatusOK)
	if err != nil {
		return nil, err
	}
	var u User
	if err := resp.Decode(&u); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ReqGetUser, err)
	}
	return &u, nil
}

// SearchUsers returns the users whose username matches term.
func (s *Syncer) SearchUsers(ctx context.Context, term string) ([]User, error) {
	term = strings.TrimSpace(term)
	if err := Validate(searchInput{Term: term}); err != nil {
		return nil, err
	}
	u, err := s.requireUser()
	if err != nil {
		return nil, err
	}
	resp, err := s.request(ctx, ReqSearchUsers, map[string]string{"id": u.ID, "search_term": term}, StatusOK)
	if err != nil {
		return nil, err
	}
	var users []User
	if err := resp.Decode(&users); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ReqSearchUsers, err)
	}
	return users, nil
}
