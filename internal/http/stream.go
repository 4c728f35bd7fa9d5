package http

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 5 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	// Origin is handled by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

type safeConn struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func (sc *safeConn) writeJSON(v any) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_ = sc.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return sc.conn.WriteJSON(v)
}

func (sc *safeConn) ping() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait))
}

func (sc *safeConn) close() {
	sc.closeOnce.Do(func() {
		sc.mu.Lock()
		_ = sc.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		sc.mu.Unlock()
		_ = sc.conn.Close()
		sc.closed.Store(true)
	})
}

// stream pushes a status snapshot followed by every pipeline event.
func (h *Handler) stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("stream upgrade failed: %v", err)
		return
	}
	sc := &safeConn{conn: conn}
	defer sc.close()

	events, unsubscribe := h.manager.Subscribe()
	defer unsubscribe()

	status := statusToResponse(h.manager.Status())
	if err := sc.writeJSON(EventMessage{Type: "status", Status: &status}); err != nil {
		h.logger.Debugf("stream initial write: %v", err)
		return
	}

	h.logger.WithField("remote", c.ClientIP()).Info("stream subscriber connected")
	defer h.logger.WithField("remote", c.ClientIP()).Info("stream subscriber disconnected")

	// The read side only services control frames and notices the peer leaving.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !isExpectedClose(err) && !sc.closed.Load() {
					h.logger.Debugf("stream read: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sc.writeJSON(eventToMessage(ev)); err != nil {
				h.logger.Debugf("stream write: %v", err)
				return
			}
		case <-ticker.C:
			if err := sc.ping(); err != nil {
				return
			}
		}
	}
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
