package popchat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleNewMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("open and viewed conversation stays read", func(t *testing.T) {
		f := newFixture(t)
		f.view.viewing = true
		a := chat("A", "bobby", at(2, 10))
		b := chat("B", "carol", at(3, 10))
		f.seed(a.Clone(), b, a)

		err := f.syncer.Handle(ctx, envelope(t, EventNewMessage, NewMessagePayload{
			ID: "A", Type: KindChat, Message: msgAt("bobby", "hey", at(9, 10)),
		}))
		require.NoError(t, err)
		f.syncer.Wait()

		st := f.state()
		assert.Equal(t, []string{"A", "B"}, ids(st.Conversations))
		assert.Equal(t, 0, st.Conversations[0].UnreadCount)
		assert.Equal(t, "hey", st.Conversations[0].LastMessage.Text)
		require.Len(t, st.Open.Messages, 2)
		assert.Equal(t, "2024-03-09", st.Open.Messages[1].Date)
		assert.Empty(t, f.notifier.shown())
	})

	t.Run("open but not viewed conversation notifies without unread", func(t *testing.T) {
		f := newFixture(t)
		a := chat("A", "bobby", at(2, 10))
		f.seed(a.Clone(), a)

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventNewMessage, NewMessagePayload{
			ID: "A", Type: KindChat, Message: msgAt("bobby", "hey", at(9, 10)),
		})))
		f.syncer.Wait()

		assert.Equal(t, 0, f.state().Conversations[0].UnreadCount)
		assert.Len(t, f.notifier.shown(), 1)
		assert.Empty(t, f.transport.sent())
	})

	t.Run("closed conversation counts unread and notifies", func(t *testing.T) {
		f := newFixture(t)
		a := chat("A", "bobby", at(3, 10))
		b := chat("B", "carol", at(2, 10))
		f.seed(nil, a, b)

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventNewMessage, NewMessagePayload{
			ID: "B", Type: KindChat, Message: msgAt("carol", "ping", at(9, 10)),
		})))
		f.syncer.Wait()

		st := f.state()
		assert.Equal(t, []string{"B", "A"}, ids(st.Conversations))
		assert.Equal(t, 1, st.Conversations[0].UnreadCount)
		assert.Nil(t, st.Open)

		notices := f.notifier.shown()
		require.Len(t, notices, 1)
		assert.Equal(t, Notice{
			Level:          LevelInfo,
			Title:          "@carol",
			Text:           "@carol: ping",
			Kind:           KindChat,
			ConversationID: "B",
		}, notices[0])
	})

	t.Run("accepting the notice opens the conversation", func(t *testing.T) {
		f := newFixture(t)
		f.notifier.answer = true
		b := chat("B", "carol", at(2, 10))
		f.seed(nil, b)
		f.transport.reply(ReqGetChat, respond(t, StatusOK, b))

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventNewMessage, NewMessagePayload{
			ID: "B", Type: KindChat, Message: msgAt("carol", "ping", at(9, 10)),
		})))
		f.syncer.Wait()

		st := f.state()
		require.NotNil(t, st.Open)
		assert.Equal(t, "B", st.Open.ID)
		assert.Equal(t, 0, st.Conversations[0].UnreadCount)
		assert.Equal(t, []string{ReqGetChat}, f.transport.events())
	})

	t.Run("room message is titled by the room", func(t *testing.T) {
		f := newFixture(t)
		r := room("R", "team", "bobby")
		f.seed(nil, r)

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventNewMessage, NewMessagePayload{
			ID: "R", Type: KindRoom, Message: msgAt("bobby", "standup?", at(9, 9)),
		})))
		f.syncer.Wait()

		notices := f.notifier.shown()
		require.Len(t, notices, 1)
		assert.Equal(t, "team", notices[0].Title)
		assert.Equal(t, KindRoom, notices[0].Kind)
		assert.Equal(t, 1, f.state().Conversations[0].UnreadCount)
	})

	t.Run("unknown conversation leaves the list alone", func(t *testing.T) {
		f := newFixture(t)
		a := chat("A", "bobby", at(3, 10))
		f.seed(nil, a)

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventNewMessage, NewMessagePayload{
			ID: "Z", Type: KindChat, Message: msgAt("zed", "who", at(9, 10)),
		})))
		f.syncer.Wait()

		st := f.state()
		assert.Equal(t, []string{"A"}, ids(st.Conversations))
		assert.Equal(t, 0, st.Conversations[0].UnreadCount)
		require.Len(t, f.notifier.shown(), 1)
		assert.Equal(t, "@zed", f.notifier.shown()[0].Title)
	})

	t.Run("own echo is neither unread nor notified", func(t *testing.T) {
		f := newFixture(t)
		a := chat("A", "bobby", at(3, 10))
		b := chat("B", "carol", at(2, 10))
		f.seed(nil, a, b)

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventNewMessage, NewMessagePayload{
			ID: "B", Type: KindChat, Message: msgAt(me.Username, "from my phone", at(9, 10)),
		})))
		f.syncer.Wait()

		st := f.state()
		assert.Equal(t, []string{"B", "A"}, ids(st.Conversations))
		assert.Equal(t, 0, st.Conversations[0].UnreadCount)
		assert.Empty(t, f.notifier.shown())
	})
}

func TestHandleNewChat(t *testing.T) {
	ctx := context.Background()

	t.Run("known chat is ignored", func(t *testing.T) {
		f := newFixture(t)
		f.seed(nil, chat("A", "bobby", at(3, 10)))

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventNewChat, NewChatPayload{ID: "A", Texter: "bobby"})))
		f.syncer.Wait()

		assert.Empty(t, f.transport.sent())
		assert.Empty(t, f.transport.signals())
		assert.Empty(t, f.notifier.shown())
	})

	t.Run("new chat is fetched joined and announced", func(t *testing.T) {
		f := newFixture(t)
		a := chat("A", "bobby", at(3, 10))
		n := chat("N", "carol", at(9, 10))
		f.seed(nil, a)
		f.serve(t, a, n)

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventNewChat, NewChatPayload{ID: "N", Texter: "carol"})))
		f.syncer.Wait()

		assert.Equal(t, []string{"N", "A"}, ids(f.state().Conversations))
		assert.Equal(t, []call{{Event: SignalJoinRoom, Params: map[string]interface{}{"name": "N"}}}, f.transport.signals())

		notices := f.notifier.shown()
		require.Len(t, notices, 1)
		assert.Equal(t, "@carol started a chat with you", notices[0].Title)
		assert.Equal(t, "N", notices[0].ConversationID)
	})
}

func TestHandleRoomEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("new room", func(t *testing.T) {
		f := newFixture(t)
		r := room("R", "team", "bobby")
		f.serve(t, r)

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventNewRoom, RoomEventPayload{ID: "R"})))
		f.syncer.Wait()

		assert.Equal(t, []string{"R"}, ids(f.state().Conversations))
		assert.Equal(t, SignalJoinRoom, f.transport.signals()[0].Event)
		notices := f.notifier.shown()
		require.Len(t, notices, 1)
		assert.Equal(t, "team", notices[0].Text)
	})

	t.Run("removed from the open room", func(t *testing.T) {
		f := newFixture(t)
		r := room("R", "team", "bobby")
		a := chat("A", "bobby", at(3, 10))
		f.seed(r.Clone(), r, a)
		f.serve(t, a, chat("B", "carol", at(1, 10)))

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventRemoveFromRoom, RoomEventPayload{
			ID: "R", Member: me.Username, Admin: "bobby",
		})))
		f.syncer.Wait()

		st := f.state()
		assert.Equal(t, []string{ReqGetUserChats}, f.transport.events())
		assert.Equal(t, []string{"A", "B"}, ids(st.Conversations))
		assert.Nil(t, st.Open)
		assert.True(t, st.Selection().Empty())
		assert.Equal(t, 1, f.view.homes)
		assert.Equal(t, []call{{Event: SignalLeaveRoom, Params: map[string]interface{}{"name": "R"}}}, f.transport.signals())

		notices := f.notifier.shown()
		require.Len(t, notices, 1)
		assert.Equal(t, "You were removed from team", notices[0].Title)
		assert.Equal(t, "by @bobby", notices[0].Text)
		assert.Empty(t, notices[0].ConversationID)
	})

	t.Run("removed from a closed room keeps the selection", func(t *testing.T) {
		f := newFixture(t)
		f.view.viewing = true
		r := room("R", "team", "bobby")
		a := chat("A", "bobby", at(3, 10))
		f.seed(a.Clone(), r, a)
		f.serve(t, a)

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventRemoveFromRoom, RoomEventPayload{ID: "R", Member: me.Username})))
		f.syncer.Wait()

		st := f.state()
		assert.Equal(t, "A", st.Open.ID)
		assert.Equal(t, 0, f.view.homes)
		assert.Len(t, f.notifier.shown(), 1)
	})

	t.Run("another member removed from the open room", func(t *testing.T) {
		f := newFixture(t)
		r := room("R", "team", "bobby", "carol")
		r.Admins = append(r.Admins, "bobby")
		f.seed(r.Clone(), r)
		f.serve(t, room("R", "team", "carol"))

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventRemoveFromRoom, RoomEventPayload{ID: "R", Member: "bobby"})))
		f.syncer.Wait()

		st := f.state()
		assert.Equal(t, []string{me.Username, "carol"}, st.Open.Members)
		assert.Equal(t, []string{me.Username}, st.Open.Admins)
		require.Len(t, f.view.details, 1)
		assert.Equal(t, "@bobby was removed from team", f.notifier.shown()[0].Title)
		assert.Empty(t, f.transport.signals())
	})

	t.Run("member added to the open room", func(t *testing.T) {
		f := newFixture(t)
		r := room("R", "team", "bobby")
		f.seed(r.Clone(), r)
		f.serve(t, room("R", "team", "bobby", "david"))

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventAddedToRoom, RoomEventPayload{ID: "R", Member: "david", Admin: me.Username})))
		f.syncer.Wait()

		st := f.state()
		assert.Equal(t, []string{me.Username, "bobby", "david"}, st.Open.Members)
		assert.Equal(t, []string{me.Username, "bobby", "david"}, st.Conversations[0].Members)
		assert.Equal(t, "@david was added to team", f.notifier.shown()[0].Title)
	})

	t.Run("self added to a room", func(t *testing.T) {
		f := newFixture(t)
		f.view.viewing = true
		r := room("R", "team", "bobby")
		f.serve(t, r)

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventAddedToRoom, RoomEventPayload{ID: "R", Member: me.Username, Admin: "bobby"})))
		f.syncer.Wait()

		assert.Equal(t, []string{"R"}, ids(f.state().Conversations))
		assert.Equal(t, SignalJoinRoom, f.transport.signals()[0].Event)
		notices := f.notifier.shown()
		require.Len(t, notices, 1)
		assert.Equal(t, "You were added to team", notices[0].Title)
		assert.Equal(t, "by @bobby", notices[0].Text)
	})

	t.Run("room renamed", func(t *testing.T) {
		f := newFixture(t)
		r := room("R", "team", "bobby")
		f.seed(r.Clone(), r)
		f.serve(t, r)

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventRoomUpdate, RoomEventPayload{ID: "R", Member: "bobby", Name: "squad"})))
		f.syncer.Wait()

		st := f.state()
		assert.Equal(t, "squad", st.Open.Name)
		assert.Equal(t, "squad", st.Conversations[0].Name)
		assert.Equal(t, "@bobby renamed a room to squad", f.notifier.shown()[0].Title)
	})

	t.Run("open and viewed room stays quiet", func(t *testing.T) {
		f := newFixture(t)
		f.view.viewing = true
		r := room("R", "team", "bobby")
		f.seed(r.Clone(), r)
		f.serve(t, r)

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventRoomUpdate, RoomEventPayload{ID: "R", Name: "squad"})))
		f.syncer.Wait()

		assert.Empty(t, f.notifier.shown())
	})

	t.Run("member left", func(t *testing.T) {
		f := newFixture(t)
		r := room("R", "team", "bobby")
		f.seed(r.Clone(), r)
		f.serve(t, room("R", "team"))

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventMemberLeft, RoomEventPayload{ID: "R", Member: "bobby"})))
		f.syncer.Wait()

		assert.Equal(t, []string{me.Username}, f.state().Open.Members)
		assert.Equal(t, "@bobby left team", f.notifier.shown()[0].Title)
	})

	t.Run("own leave echo is ignored", func(t *testing.T) {
		f := newFixture(t)
		f.seed(nil, room("R", "team"))

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventMemberLeft, RoomEventPayload{ID: "R", Member: me.Username})))
		f.syncer.Wait()

		assert.Empty(t, f.transport.sent())
		assert.Empty(t, f.notifier.shown())
	})
}

func TestHandleAdminChange(t *testing.T) {
	ctx := context.Background()

	t.Run("grant", func(t *testing.T) {
		f := newFixture(t)
		r := room("R", "team", "bobby")
		f.seed(r.Clone(), r)
		f.serve(t, r)

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventAdminGrant, RoomEventPayload{ID: "R", Member: "bobby"})))
		f.syncer.Wait()

		st := f.state()
		assert.Equal(t, []string{me.Username, "bobby"}, st.Open.Admins)
		assert.Equal(t, []string{me.Username, "bobby"}, st.Conversations[0].Admins)
		assert.Equal(t, "@bobby is now an admin of team", f.notifier.shown()[0].Title)
	})

	t.Run("revoke self", func(t *testing.T) {
		f := newFixture(t)
		r := room("R", "team", "bobby")
		f.seed(r.Clone(), r)
		f.serve(t, r)

		require.NoError(t, f.syncer.Handle(ctx, envelope(t, EventAdminRevoke, RoomEventPayload{ID: "R", Member: me.Username})))
		f.syncer.Wait()

		assert.Empty(t, f.state().Open.Admins)
		assert.Equal(t, "You are no longer an admin of team", f.notifier.shown()[0].Title)
	})
}

func TestHandleMalformed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("unknown event is ignored", func(t *testing.T) {
		err := f.syncer.Handle(ctx, Envelope{Type: "typing", Payload: json.RawMessage(`{}`)})
		assert.NoError(t, err)
		assert.Empty(t, f.transport.sent())
	})

	t.Run("bad payload is an error", func(t *testing.T) {
		err := f.syncer.Handle(ctx, Envelope{Type: string(EventNewMessage), Payload: json.RawMessage(`"nope"`)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "new_message")
		assert.Empty(t, f.state().Conversations)
	})
}
