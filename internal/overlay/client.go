package overlay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/bryanveloso/landale-sub014/internal/events"
)

// inbound is a message from an overlay renderer.
type inbound struct {
	Type string `json:"type"`
}

type wsClient struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// write sends one frame guarded by the client's mutex and a write deadline.
func (c *wsClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &wsClient{conn: conn, closed: make(chan struct{})}
	defer client.close()

	sub := s.pub.Subscribe(func(m events.Message) {
		data, err := json.Marshal(m)
		if err != nil {
			s.logger.Error().Err(err).Str("type", string(m.Type)).Msg("encode message")
			return
		}
		if err := client.write(websocket.TextMessage, data); err != nil {
			client.close()
		}
	})
	defer sub.Unsubscribe()
	s.logger.Info().Str("remote", c.ClientIP()).Msg("overlay subscriber connected")

	s.pub.SendTo(sub, events.StateMessage(s.src.CurrentSnapshot()))

	go s.keepAlive(client, sub)
	s.readLoop(client, sub)
	s.logger.Info().Str("remote", c.ClientIP()).Uint64("dropped", sub.Dropped()).Msg("overlay subscriber disconnected")
}

// keepAlive pings the client and closes it when the publisher drops the
// subscription.
func (s *Server) keepAlive(client *wsClient, sub *events.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := client.write(websocket.PingMessage, nil); err != nil {
				client.close()
				return
			}
		case <-sub.Done():
			client.close()
			return
		case <-client.closed:
			return
		}
	}
}

func (s *Server) readLoop(client *wsClient, sub *events.Subscription) {
	conn := client.conn
	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug().Err(err).Msg("ignoring malformed client message")
			continue
		}
		switch msg.Type {
		case "request_state":
			s.pub.SendTo(sub, events.StateMessage(s.src.CurrentSnapshot()))
		case "ping":
			_ = client.write(websocket.TextMessage, []byte(`{"type":"pong"}`))
		default:
			s.logger.Debug().Str("type", msg.Type).Msg("ignoring unknown client message")
		}
	}
}
