// Package realtimeclient consumes the server's event WebSocket and feeds the
// reconcile stores registered with it.
package realtimeclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/smallbiznis/penwork/pkg/reconcile"
	"go.uber.org/zap"
)

const (
	EventEntityCreated       = "entity.created"
	EventEntityUpdated       = "entity.updated"
	EventPaysheetRefresh     = "paysheet.refresh"
	EventConversationUpdated = "conversation.updated"
	EventMessageReceived     = "message.received"
	EventUnreadCountUpdated  = "unread_count.updated"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second

	pongWait  = 75 * time.Second
	writeWait = 10 * time.Second
)

var ErrMissingURL = errors.New("realtimeclient: url is required")

// Event mirrors the server's event envelope.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Name       string          `json:"name,omitempty"`
	EntityType string          `json:"entity_type,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	Version    int64           `json:"version,omitempty"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type Config struct {
	URL    string
	Token  string
	Dialer *websocket.Dialer
	Log    *zap.Logger

	// Refetch reloads the caller's current views. It runs after every
	// successful connect, before any pushed event is applied, because events
	// missed while disconnected are never replayed.
	Refetch func(ctx context.Context) error
	// OnPaysheetRefresh is called for paysheet refresh hints, which carry no
	// snapshot.
	OnPaysheetRefresh func(ctx context.Context, evt Event)

	Unread *reconcile.UnreadTracker
	// UserID limits unread updates to the connected user. Zero accepts all.
	UserID snowflake.ID

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	cfg    Config
	log    *zap.Logger
	dialer *websocket.Dialer

	mu    sync.RWMutex
	sinks map[string]reconcile.Sink

	connects atomic.Int64
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrMissingURL
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Client{
		cfg:    cfg,
		log:    log.Named("realtimeclient"),
		dialer: dialer,
		sinks:  make(map[string]reconcile.Sink),
	}, nil
}

// Register routes snapshots for entityType to sink.
func (c *Client) Register(entityType string, sink reconcile.Sink) {
	c.mu.Lock()
	c.sinks[entityType] = sink
	c.mu.Unlock()
}

// Connects reports how many sessions have been established.
func (c *Client) Connects() int64 {
	return c.connects.Load()
}

// Run keeps a session open until ctx is done, reconnecting with backoff.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.Reset()

	for {
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if established {
			b.Reset()
		}
		wait := b.NextBackOff()
		c.log.Warn("realtime connection lost", zap.Error(err), zap.Duration("retry_in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) session(ctx context.Context) (bool, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, err
	}
	defer conn.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		conn.Close()
	}()

	c.connects.Add(1)
	if c.cfg.Refetch != nil {
		if err := c.cfg.Refetch(sessionCtx); err != nil {
			return false, err
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		var evt Event
		if err := conn.ReadJSON(&evt); err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := c.Handle(sessionCtx, evt); err != nil {
			c.log.Warn("failed to apply realtime event",
				zap.String("type", evt.Type),
				zap.String("entity_type", evt.EntityType),
				zap.String("entity_id", evt.EntityID),
				zap.Error(err),
			)
		}
	}
}

// Handle applies one event to the registered consumers.
func (c *Client) Handle(ctx context.Context, evt Event) error {
	switch evt.Type {
	case EventPaysheetRefresh:
		if c.cfg.OnPaysheetRefresh != nil {
			c.cfg.OnPaysheetRefresh(ctx, evt)
		}
		return nil
	case EventUnreadCountUpdated:
		if c.cfg.Unread == nil {
			return nil
		}
		var update reconcile.UnreadUpdate
		if err := json.Unmarshal(evt.Snapshot, &update); err != nil {
			return err
		}
		if c.cfg.UserID != 0 && update.UserID != c.cfg.UserID {
			return nil
		}
		c.cfg.Unread.Observe(update)
		return nil
	}

	c.mu.RLock()
	sink, ok := c.sinks[evt.EntityType]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	outcome, err := sink.ApplySnapshot(evt.Snapshot)
	if err != nil {
		return err
	}
	c.log.Debug("applied realtime event",
		zap.String("type", evt.Type),
		zap.String("entity_id", evt.EntityID),
		zap.Int64("version", evt.Version),
		zap.Stringer("outcome", outcome),
	)
	return nil
}
