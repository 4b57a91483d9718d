package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type EventType string

const (
	EventEntityCreated       EventType = "entity.created"
	EventEntityUpdated       EventType = "entity.updated"
	EventPaysheetRefresh     EventType = "paysheet.refresh"
	EventConversationUpdated EventType = "conversation.updated"
	EventMessageReceived     EventType = "message.received"
	EventUnreadCountUpdated  EventType = "unread_count.updated"
)

const (
	EntityAssignment   = "assignment"
	EntityConversation = "conversation"
	EntityMessage      = "message"
	EntityPaysheet     = "paysheet"
	EntityUnreadCount  = "unread_count"
)

// AdminRoom receives every assignment and paysheet event.
const AdminRoom = "role:admin"

func UserRoom(id snowflake.ID) string {
	return "user:" + id.String()
}

// Event is the envelope delivered to subscribers. Snapshot always carries
// the full entity so consumers can merge without prior state; paysheet
// refresh events carry no snapshot and ask the consumer to refetch.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Name       string          `json:"name,omitempty"`
	EntityType string          `json:"entity_type,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	Version    int64           `json:"version,omitempty"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`

	Rooms []string `json:"-"`
	// LedgerWriters lists writers whose paysheets the change affects.
	LedgerWriters []snowflake.ID `json:"-"`
}

// NewSnapshotEvent marshals snapshot into an event addressed to rooms.
func NewSnapshotEvent(typ EventType, name, entityType, entityID string, version int64, snapshot any, rooms ...string) (Event, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s snapshot: %w", entityType, err)
	}
	return Event{
		Type:       typ,
		Name:       name,
		EntityType: entityType,
		EntityID:   entityID,
		Version:    version,
		Snapshot:   raw,
		Rooms:      dedupeRooms(rooms),
	}, nil
}

// NewPaysheetRefresh signals a writer's paysheet changed.
func NewPaysheetRefresh(writerID snowflake.ID, reason string) Event {
	return Event{
		Type:       EventPaysheetRefresh,
		Name:       reason,
		EntityType: EntityPaysheet,
		EntityID:   writerID.String(),
		Rooms:      []string{AdminRoom, UserRoom(writerID)},
	}
}

// envelope is the cross-instance wire form; it keeps routing fields that
// are hidden from subscribers.
type envelope struct {
	Event         Event          `json:"event"`
	Rooms         []string       `json:"rooms"`
	LedgerWriters []snowflake.ID `json:"ledger_writers,omitempty"`
}

func encodeEnvelope(evt Event) ([]byte, error) {
	return json.Marshal(envelope{Event: evt, Rooms: evt.Rooms, LedgerWriters: evt.LedgerWriters})
}

func decodeEnvelope(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, err
	}
	evt := env.Event
	evt.Rooms = env.Rooms
	evt.LedgerWriters = env.LedgerWriters
	return evt, nil
}

func dedupeRooms(rooms []string) []string {
	seen := make(map[string]struct{}, len(rooms))
	out := make([]string, 0, len(rooms))
	for _, room := range rooms {
		if room == "" {
			continue
		}
		if _, ok := seen[room]; ok {
			continue
		}
		seen[room] = struct{}{}
		out = append(out, room)
	}
	return out
}
