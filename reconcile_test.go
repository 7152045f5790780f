package popchat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile(t *testing.T) {
	t.Run("orders by recency", func(t *testing.T) {
		a := chat("A", "bob", at(3, 10))
		b := chat("B", "carol", at(2, 10))
		c := chat("C", "dave", at(1, 10))
		list := []*Conversation{a, b, c}

		m := msgAt("dave", "latest", at(4, 10))
		list = Reconcile(list, "C", &m, Selection{})

		assert.Equal(t, []string{"C", "A", "B"}, ids(list))
		assert.Equal(t, "latest", list[0].LastMessage.Text)
	})

	t.Run("unread accounting", func(t *testing.T) {
		list := []*Conversation{chat("A", "bob", at(1, 10))}

		for i := 0; i < 3; i++ {
			m := msgAt("bob", "ping", at(2, 10+i))
			list = Reconcile(list, "A", &m, Selection{RoomID: "R"})
		}
		assert.Equal(t, 3, list[0].UnreadCount)

		list = Reconcile(list, "A", nil, Selection{ChatID: "A"})
		assert.Equal(t, 0, list[0].UnreadCount)

		m := msgAt("bob", "again", at(3, 10))
		list = Reconcile(list, "A", &m, Selection{ChatID: "A"})
		assert.Equal(t, 0, list[0].UnreadCount)
		assert.Equal(t, "again", list[0].LastMessage.Text)
	})

	t.Run("mark read keeps order", func(t *testing.T) {
		a := chat("A", "bob", at(1, 10))
		b := chat("B", "carol", at(2, 10))
		a.UnreadCount = 2
		list := []*Conversation{a, b}

		got := Reconcile(list, "A", nil, Selection{})
		assert.Equal(t, []string{"A", "B"}, ids(got))
		assert.Equal(t, 0, got[0].UnreadCount)
	})

	t.Run("unknown id leaves the list unchanged", func(t *testing.T) {
		list := []*Conversation{chat("A", "bob", at(1, 10))}
		m := msgAt("x", "y", at(5, 5))

		got := Reconcile(list, "missing", &m, Selection{})
		require.Len(t, got, 1)
		assert.Same(t, list[0], got[0])
		assert.Equal(t, "hi", got[0].LastMessage.Text)
	})

	t.Run("does not reorder the input slice", func(t *testing.T) {
		a := chat("A", "bob", at(2, 10))
		b := chat("B", "carol", at(1, 10))
		list := []*Conversation{a, b}

		m := msgAt("carol", "new", at(3, 10))
		got := Reconcile(list, "B", &m, Selection{})

		assert.Equal(t, []string{"B", "A"}, ids(got))
		assert.Equal(t, []string{"A", "B"}, ids(list))
	})
}

func TestSortByRecency(t *testing.T) {
	t.Run("falls back to creation time", func(t *testing.T) {
		fresh := &Conversation{ID: "new", Kind: KindRoom, CreatedAt: at(5, 10)}
		old := chat("old", "bob", at(4, 10))
		list := []*Conversation{old, fresh}

		SortByRecency(list)
		assert.Equal(t, []string{"new", "old"}, ids(list))
	})

	t.Run("ties keep their order", func(t *testing.T) {
		list := []*Conversation{
			chat("first", "bob", at(1, 10)),
			chat("second", "carol", at(1, 10)),
			chat("third", "dave", at(1, 10)),
		}
		SortByRecency(list)
		assert.Equal(t, []string{"first", "second", "third"}, ids(list))
	})
}
