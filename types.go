package popchat

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// ============================================================================
// Conversation Types
// ============================================================================

// Kind distinguishes direct chats from rooms. The value matches the "type"
// field the server sends with every conversation.
type Kind string

const (
	KindChat Kind = "chat"
	KindRoom Kind = "room"
)

// Message is a single chat message. Messages are immutable once created.
type Message struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	When   time.Time `json:"when"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		*alias
		When flexTime `json:"when"`
	}{alias: (*alias)(m), When: flexTime(m.When)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.When = time.Time(aux.When)
	return nil
}

// flexTime accepts RFC 3339 timestamps as well as ISO 8601 ones without a
// zone offset, which are read as UTC.
type flexTime time.Time

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		*t = flexTime{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*t = flexTime(v)
		return nil
	}
	for _, layout := range naiveLayouts {
		if v, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*t = flexTime(v)
			return nil
		}
	}
	return fmt.Errorf("timestamp: cannot parse %q", s)
}

// DayBucket groups the messages of one calendar day.
type DayBucket struct {
	Date     string    `json:"date"`
	Messages []Message `json:"messages"`
}

// Conversation is either a direct chat or a room. Fields that only apply to
// one kind are left empty for the other.
//
// An empty ID marks a draft direct chat that the server has not created yet.
type Conversation struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	CreatedAt time.Time `json:"created_at"`

	// Direct chat participants.
	User1 string `json:"user_1,omitempty"`
	User2 string `json:"user_2,omitempty"`

	// Room details.
	Name    string   `json:"name,omitempty"`
	Members []string `json:"members,omitempty"`
	Admins  []string `json:"admins,omitempty"`
	Creator string   `json:"creator,omitempty"`

	Messages    []DayBucket `json:"messages"`
	LastMessage *Message    `json:"last_msg"`
	UnreadCount int         `json:"unread_count"`
}

func (c *Conversation) UnmarshalJSON(data []byte) error {
	type alias Conversation
	aux := struct {
		*alias
		CreatedAt flexTime `json:"created_at"`
	}{alias: (*alias)(c), CreatedAt: flexTime(c.CreatedAt)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.CreatedAt = time.Time(aux.CreatedAt)
	return nil
}

// IsRoom reports whether c is a multi-member room.
func (c *Conversation) IsRoom() bool {
	return c.Kind == KindRoom
}

// IsDraft reports whether c is a direct chat not yet persisted by the server.
func (c *Conversation) IsDraft() bool {
	return c.ID == "" && c.Kind == KindChat
}

// Peer returns the other participant of a direct chat from self's point of view.
func (c *Conversation) Peer(self string) string {
	if c.User1 == self {
		return c.User2
	}
	return c.User1
}

// HasParticipant reports whether username takes part in the direct chat.
func (c *Conversation) HasParticipant(username string) bool {
	return c.User1 == username || c.User2 == username
}

// HasMember reports whether username is a member of the room.
func (c *Conversation) HasMember(username string) bool {
	return slices.Contains(c.Members, username)
}

// IsAdmin reports whether username administers the room.
func (c *Conversation) IsAdmin(username string) bool {
	return slices.Contains(c.Admins, username)
}

// Title is a short human readable label for notices.
func (c *Conversation) Title(self string) string {
	if c.IsRoom() {
		return c.Name
	}
	return "@" + c.Peer(self)
}

// RecencyKey is the timestamp used to order the conversation list: the time
// of the last message, or the creation time when there is none.
func (c *Conversation) RecencyKey() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.When
	}
	return c.CreatedAt
}

// Clone returns a deep copy of c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Members = slices.Clone(c.Members)
	cp.Admins = slices.Clone(c.Admins)
	if c.Messages != nil {
		cp.Messages = make([]DayBucket, len(c.Messages))
		for i, b := range c.Messages {
			cp.Messages[i] = DayBucket{Date: b.Date, Messages: slices.Clone(b.Messages)}
		}
	}
	if c.LastMessage != nil {
		m := *c.LastMessage
		cp.LastMessage = &m
	}
	return &cp
}

// Selection names the open conversation. At most one of the two IDs is set.
type Selection struct {
	ChatID string `json:"chat,omitempty"`
	RoomID string `json:"room,omitempty"`
}

// Is reports whether the conversation with the given id is selected.
func (s Selection) Is(id string) bool {
	return id != "" && (s.ChatID == id || s.RoomID == id)
}

// Empty reports whether nothing is selected.
func (s Selection) Empty() bool {
	return s.ChatID == "" && s.RoomID == ""
}

// ============================================================================
// Users
// ============================================================================

// User is the identity of a chat user as returned by the server.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// ============================================================================
// Request / Response
// ============================================================================

// Response is the envelope every request is answered with.
type Response struct {
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// OK reports whether the status code is one of the success codes.
func (r *Response) OK() bool {
	return r.StatusCode == StatusOK || r.StatusCode == StatusCreated
}

// Decode unmarshals the Data field into the provided type.
func (r *Response) Decode(v interface{}) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

const (
	// StatusOK answers successful reads and updates.
	StatusOK = 200
	// StatusCreated answers successful creations (chats, rooms, messages).
	StatusCreated = 201
)

// Request event names.
const (
	ReqGetChat      = "get_chat"
	ReqGetRoom      = "get_room"
	ReqGetUserChats = "get_user_chats"
	ReqGetUser      = "get_user"
	ReqSearchUsers  = "search_users"
	ReqCreateChat   = "create_chat"
	ReqCreateRoom   = "create_room"
	ReqNewMessage   = "new_message"
	ReqAddMember    = "add_member"
	ReqRemoveMember = "remove_member"
	ReqAddAdmin     = "add_admin"
	ReqRemoveAdmin  = "remove_admin"
	ReqEditRoomName = "edit_room_name"
	ReqExitRoom     = "exit_room"
	ReqPing         = "ping"

	// Group membership signals; these carry no response.
	SignalJoinRoom  = "join_room"
	SignalLeaveRoom = "leave_room"
)

// ============================================================================
// Pushed Events
// ============================================================================

// EventKind names a server-pushed event.
type EventKind string

const (
	EventNewMessage     EventKind = "new_message"
	EventNewChat        EventKind = "new_chat"
	EventNewRoom        EventKind = "new_room"
	EventAddedToRoom    EventKind = "add_to_room"
	EventRoomUpdate     EventKind = "room_update"
	EventRemoveFromRoom EventKind = "remove_from_room"
	EventMemberLeft     EventKind = "leave_room"
	EventAdminGrant     EventKind = "add_admin"
	EventAdminRevoke    EventKind = "remove_admin"
)

// Envelope is the wire format of every frame exchanged with the server.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessagePayload is pushed when someone else posts to a conversation.
type NewMessagePayload struct {
	ID      string  `json:"id"`
	Type    Kind    `json:"type"`
	Message Message `json:"message"`
}

// NewChatPayload is pushed to the second participant of a freshly created chat.
type NewChatPayload struct {
	ID     string `json:"id"`
	Texter string `json:"texter"`
}

// RoomEventPayload is pushed for membership, admin and rename changes.
type RoomEventPayload struct {
	ID     string `json:"id"`
	Member string `json:"member"`
	Name   string `json:"name,omitempty"`
	Admin  string `json:"admin,omitempty"`
}
