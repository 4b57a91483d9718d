package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	"github.com/smallbiznis/penwork/internal/realtime"
	"go.uber.org/zap"
)

const (
	sseHeartbeat = 15 * time.Second

	wsWriteWait   = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingPeriod  = (wsPongWait * 9) / 10
	wsMaxReadSize = 512
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Callers are authenticated by token, not by cookie, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// eventRooms is the caller's identity room, plus the admin room for admins.
func eventRooms(actor actorcontext.Actor) []string {
	rooms := []string{realtime.UserRoom(actor.ID)}
	if actor.IsAdmin() {
		rooms = append(rooms, realtime.AdminRoom)
	}
	return rooms
}

func (s *Server) subscribe(c *gin.Context) (*realtime.Subscription, bool) {
	actor, ok := actorFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return nil, false
	}
	sub, err := s.hub.Subscribe(eventRooms(actor)...)
	if err != nil {
		s.log.Warn("event subscription failed", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return nil, false
	}
	return sub, true
}

func (s *Server) StreamEvents(c *gin.Context) {
	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	subscription, ok := s.subscribe(c)
	if !ok {
		return
	}
	defer subscription.Close()

	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-subscription.Events():
			if err := writeSSEEvent(writer, evt); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w io.Writer, evt realtime.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\ndata: %s\n\n", evt.ID, data)
	return err
}

func (s *Server) ServeEventsWebSocket(c *gin.Context) {
	subscription, ok := s.subscribe(c)
	if !ok {
		return
	}
	defer subscription.Close()

	conn, err := eventsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go readPump(conn, cancel)
	s.writePump(ctx, conn, subscription)
}

// readPump drains control frames so pongs are processed; inbound data is ignored.
func readPump(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	conn.SetReadLimit(wsMaxReadSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, subscription *realtime.Subscription) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return
		case evt := <-subscription.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				s.log.Debug("websocket write failed", zap.Uint64("subscription", subscription.ID()), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
