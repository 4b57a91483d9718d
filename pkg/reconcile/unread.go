package reconcile

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// UnreadUpdate is the server's view of one participant's counter.
type UnreadUpdate struct {
	ConversationID snowflake.ID `json:"conversation_id"`
	UserID         snowflake.ID `json:"user_id"`
	UnreadCount    int          `json:"unread_count"`
	LastMessageID  snowflake.ID `json:"last_message_id,omitempty"`
}

type unreadEntry struct {
	count int
	last  snowflake.ID
}

// pendingRead is an optimistic read that the server has not confirmed yet.
type pendingRead struct {
	seen     snowflake.ID
	previous unreadEntry
	newer    map[snowflake.ID]struct{}
}

// UnreadTracker keeps per-conversation unread counters. Server counts are
// authoritative except while a local read is in flight: then updates for
// messages the reader had already seen are masked, and only messages newer
// than the read are counted.
type UnreadTracker struct {
	mu      sync.Mutex
	counts  map[snowflake.ID]unreadEntry
	pending map[snowflake.ID]*pendingRead
}

func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{
		counts:  make(map[snowflake.ID]unreadEntry),
		pending: make(map[snowflake.ID]*pendingRead),
	}
}

// Open zeroes the counter before the read round-trip completes. seen is the
// newest message the reader has on screen.
func (t *UnreadTracker) Open(conversationID, seen snowflake.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.counts[conversationID]
	if p, ok := t.pending[conversationID]; ok {
		if seen > p.seen {
			p.seen = seen
			for id := range p.newer {
				if id <= seen {
					delete(p.newer, id)
				}
			}
		}
	} else {
		t.pending[conversationID] = &pendingRead{seen: seen, previous: prev, newer: map[snowflake.ID]struct{}{}}
	}
	t.counts[conversationID] = unreadEntry{count: t.maskedCount(conversationID), last: maxID(prev.last, seen)}
}

// Ack settles an optimistic read with the server's answer.
func (t *UnreadTracker) Ack(ack UnreadUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[ack.ConversationID]
	if !ok {
		t.observe(ack)
		return
	}
	delete(t.pending, ack.ConversationID)

	count := ack.UnreadCount
	last := maxID(ack.LastMessageID, p.seen)
	for id := range p.newer {
		if id > ack.LastMessageID {
			count++
		}
		last = maxID(last, id)
	}
	t.counts[ack.ConversationID] = unreadEntry{count: count, last: last}
}

// Abort restores the counter when the read request failed.
func (t *UnreadTracker) Abort(conversationID snowflake.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[conversationID]
	if !ok {
		return
	}
	delete(t.pending, conversationID)
	restored := p.previous
	for id := range p.newer {
		if id > restored.last {
			restored.count++
			restored.last = id
		}
	}
	t.counts[conversationID] = restored
}

// Observe applies a pushed server update.
func (t *UnreadTracker) Observe(update UnreadUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observe(update)
}

func (t *UnreadTracker) observe(update UnreadUpdate) {
	id := update.ConversationID
	if p, ok := t.pending[id]; ok {
		if update.LastMessageID > p.seen {
			p.newer[update.LastMessageID] = struct{}{}
		}
		t.counts[id] = unreadEntry{count: t.maskedCount(id), last: maxID(t.counts[id].last, update.LastMessageID)}
		return
	}

	current, ok := t.counts[id]
	if ok && update.LastMessageID != 0 && update.LastMessageID < current.last {
		return
	}
	t.counts[id] = unreadEntry{count: update.UnreadCount, last: maxID(current.last, update.LastMessageID)}
}

// Reset replaces every counter from a full refetch. Reads still in flight
// keep masking.
func (t *UnreadTracker) Reset(updates []UnreadUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[snowflake.ID]unreadEntry, len(updates))
	for _, u := range updates {
		next[u.ConversationID] = unreadEntry{count: u.UnreadCount, last: u.LastMessageID}
	}
	for id, p := range t.pending {
		p.previous = next[id]
		next[id] = unreadEntry{count: len(p.newer), last: maxID(next[id].last, p.seen)}
	}
	t.counts = next
}

func (t *UnreadTracker) Count(conversationID snowflake.ID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[conversationID].count
}

func (t *UnreadTracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, e := range t.counts {
		total += e.count
	}
	return total
}

func (t *UnreadTracker) maskedCount(id snowflake.ID) int {
	return len(t.pending[id].newer)
}

func maxID(a, b snowflake.ID) snowflake.ID {
	if a > b {
		return a
	}
	return b
}
