package realtimeclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gorilla/websocket"
	"github.com/smallbiznis/penwork/pkg/reconcile"
	"github.com/stretchr/testify/require"
)

type assignment struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

func newAssignmentStore() *reconcile.Store[assignment] {
	return reconcile.NewStore(reconcile.StoreOptions[assignment]{
		Key:     func(a assignment) string { return a.ID },
		Version: func(a assignment) int64 { return a.Version },
	})
}

func snapshotEvent(t *testing.T, typ string, a assignment) Event {
	t.Helper()
	raw, err := json.Marshal(a)
	require.NoError(t, err)
	return Event{ID: a.ID + "-" + a.Status, Type: typ, EntityType: "assignment", EntityID: a.ID, Version: a.Version, Snapshot: raw}
}

// fakeServer scripts one connection at a time and exposes the state a full
// refetch would return.
type fakeServer struct {
	mu    sync.Mutex
	state []assignment
	conns atomic.Int32
}

func (f *fakeServer) snapshot() []assignment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]assignment(nil), f.state...)
}

func (f *fakeServer) setState(items ...assignment) {
	f.mu.Lock()
	f.state = items
	f.mu.Unlock()
}

func TestClientRefetchesOnEveryConnectAndAppliesEvents(t *testing.T) {
	fake := &fakeServer{state: []assignment{{ID: "a", Status: "new", Version: 1}}}
	upgrader := websocket.Upgrader{}
	priced := snapshotEvent(t, EventEntityUpdated, assignment{ID: "a", Status: "price_set", Version: 2})
	replayed := snapshotEvent(t, EventEntityUpdated, assignment{ID: "a", Status: "new", Version: 1})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		switch fake.conns.Add(1) {
		case 1:
			// b is created without an event; only the next refetch sees it
			fake.setState(assignment{ID: "a", Status: "price_set", Version: 2}, assignment{ID: "b", Status: "new", Version: 1})
			_ = conn.WriteJSON(priced)
			_ = conn.WriteJSON(Event{Type: EventPaysheetRefresh, EntityType: "paysheet", EntityID: "200"})
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
		default:
			_ = conn.WriteJSON(Event{
				Type:       EventUnreadCountUpdated,
				EntityType: "unread_count",
				Snapshot:   json.RawMessage(`{"conversation_id":"7","user_id":"100","unread_count":3,"last_message_id":"55"}`),
			})
			_ = conn.WriteJSON(Event{
				Type:       EventUnreadCountUpdated,
				EntityType: "unread_count",
				Snapshot:   json.RawMessage(`{"conversation_id":"8","user_id":"999","unread_count":9,"last_message_id":"56"}`),
			})
			_ = conn.WriteJSON(replayed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
	}))
	defer srv.Close()

	store := newAssignmentStore()
	unread := reconcile.NewUnreadTracker()
	var refetches, refreshes atomic.Int32

	client, err := New(Config{
		URL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token: "tok",
		Refetch: func(ctx context.Context) error {
			refetches.Add(1)
			store.Reset(fake.snapshot())
			return nil
		},
		OnPaysheetRefresh: func(ctx context.Context, evt Event) {
			if evt.EntityID == "200" {
				refreshes.Add(1)
			}
		},
		Unread:         unread,
		UserID:         snowflake.ID(100),
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	})
	require.NoError(t, err)
	client.Register("assignment", store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, func() bool {
		return refetches.Load() == 2 && unread.Count(snowflake.ID(7)) == 3
	}, 3*time.Second, 10*time.Millisecond)

	require.Equal(t, int32(1), refreshes.Load())
	require.Equal(t, int64(2), client.Connects())
	require.Equal(t, 3, unread.Total())

	// a stale replay after the refetch must not roll "a" back
	require.Eventually(t, func() bool {
		items := store.Items()
		return len(items) == 2 && items[0].Status == "price_set" && items[1].ID == "b"
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestClientRetriesAfterRejectedHandshake(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := New(Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = client.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, attempts.Load(), int32(2))
	require.Zero(t, client.Connects())
}

func TestHandleIgnoresUnknownEntities(t *testing.T) {
	client, err := New(Config{URL: "ws://example.invalid/events/ws"})
	require.NoError(t, err)

	require.NoError(t, client.Handle(context.Background(), Event{Type: EventEntityUpdated, EntityType: "invoice", Snapshot: json.RawMessage(`{}`)}))
	require.NoError(t, client.Handle(context.Background(), Event{Type: EventUnreadCountUpdated}))

	store := newAssignmentStore()
	client.Register("assignment", store)
	require.Error(t, client.Handle(context.Background(), Event{Type: EventEntityCreated, EntityType: "assignment", Snapshot: json.RawMessage(`[]`)}))
	require.NoError(t, client.Handle(context.Background(), snapshotEvent(t, EventEntityCreated, assignment{ID: "x", Status: "new", Version: 1})))
	require.Equal(t, 1, store.Len())
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrMissingURL)
}
