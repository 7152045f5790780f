package popchat

import "sort"

// Reconcile applies an update for conversation id to list and returns the
// resulting list.
//
// A nil msg is the mark-read signal: the unread counter drops to zero and the
// order is left as is. Otherwise msg becomes the last message, the unread
// counter grows by one unless the conversation is the open selection, and the
// list is re-sorted by recency.
//
// An id that is not in the list leaves it unchanged. This happens when an
// event races the initial fetch and heals on the next refresh.
func Reconcile(list []*Conversation, id string, msg *Message, open Selection) []*Conversation {
	target := find(list, id)
	if target == nil {
		return list
	}

	if msg == nil {
		target.UnreadCount = 0
		return list
	}

	last := *msg
	target.LastMessage = &last
	if !open.Is(id) {
		target.UnreadCount++
	}

	out := make([]*Conversation, len(list))
	copy(out, list)
	SortByRecency(out)
	return out
}

// SortByRecency orders list by RecencyKey, most recent first. Conversations
// with identical keys keep their relative order.
func SortByRecency(list []*Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].RecencyKey().After(list[j].RecencyKey())
	})
}

func find(list []*Conversation, id string) *Conversation {
	if id == "" {
		return nil
	}
	for _, c := range list {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func indexOf(list []*Conversation, id string) int {
	for i, c := range list {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func remove(list []*Conversation, id string) []*Conversation {
	i := indexOf(list, id)
	if i < 0 {
		return list
	}
	out := make([]*Conversation, 0, len(list)-1)
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...)
}
