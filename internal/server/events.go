package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/shepherd-project/corral/internal/registry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Event represents a WebSocket event
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// WebSocketUpgrader handles upgrading HTTP to WebSocket
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// eventClient streams registry events to one WebSocket connection
type eventClient struct {
	conn        *websocket.Conn
	events      <-chan registry.Event
	unsubscribe func()
	closeOnce   sync.Once
}

func (c *eventClient) close() {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		_ = c.conn.Close()
	})
}

// handleEvents upgrades the connection and streams registry events until
// the client leaves or the server shuts down
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := WebSocketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("WebSocket 升级失败: %v", err)
		return
	}

	events, unsubscribe := s.kernel.Registry().Subscribe()
	client := &eventClient{conn: conn, events: events, unsubscribe: unsubscribe}

	go s.readPump(client)
	s.writePump(client)
}

// writePump pumps registry events to the WebSocket connection
func (s *Server) writePump(c *eventClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case ev, ok := <-c.events:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Subscription ended: the registry closed or the reader left
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(Event{
				Type:      string(ev.Type),
				Data:      ev,
				Timestamp: ev.Time.Unix(),
			})
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

// readPump drains the connection so pongs and close frames are processed
func (s *Server) readPump(c *eventClient) {
	defer c.close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debugf("WebSocket 连接异常关闭: %v", err)
			}
			return
		}
	}
}
