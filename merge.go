package popchat

import "time"

// dayLayout is the calendar date format used for DayBucket.Date.
const dayLayout = "2006-01-02"

// DayOf returns the calendar date a message timestamp belongs to. Dates are
// taken in UTC so that every client buckets a message identically.
func DayOf(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// MergeMessage folds m into the day-bucketed history of c and makes it the
// last message. The conversation is mutated in place and returned.
//
// Messages are appended without re-sorting: the channel delivers each
// conversation's messages in order, so buckets stay chronological. The unread
// counter is left alone; it depends on the open selection, which is the
// reconciler's concern.
func MergeMessage(c *Conversation, m Message) *Conversation {
	if c == nil {
		return nil
	}

	date := DayOf(m.When)
	merged := false
	for i := range c.Messages {
		if c.Messages[i].Date == date {
			c.Messages[i].Messages = append(c.Messages[i].Messages, m)
			merged = true
			break
		}
	}
	if !merged {
		c.Messages = append(c.Messages, DayBucket{Date: date, Messages: []Message{m}})
	}

	last := m
	c.LastMessage = &last
	return c
}

// GroupByDay buckets a flat, chronologically ordered history.
func GroupByDay(msgs []Message) []DayBucket {
	c := &Conversation{}
	for _, m := range msgs {
		MergeMessage(c, m)
	}
	return c.Messages
}
