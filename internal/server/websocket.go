package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	// Subscribers never send anything meaningful.
	maxMessageSize = 512
)

// Client is one subscriber of EventsPath.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade error")
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 16),
		server: s,
	}

	// The subscriber learns the current fingerprint before any change.
	if data, err := json.Marshal(s.currentEvent()); err == nil {
		client.send <- data
	}

	go client.writePump()
	go client.readPump()

	select {
	case s.register <- client:
	case <-s.done:
		close(client.send)
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// checkOrigin rejects browser origins that are not plain web pages. Requests
// without an Origin header come from headless watchers and are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	return originURL.Scheme == "http" || originURL.Scheme == "https"
}

// originPatterns lists the hosts of the configured allowed origins. Same
// host requests are always accepted by websocket.Accept.
func (s *Server) originPatterns() []string {
	patterns := make([]string, 0, len(s.config.Server.AllowedOrigins))
	for _, origin := range s.config.Server.AllowedOrigins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, origin)
	}
	return patterns
}

func (s *Server) runWebSocketHub(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case client := <-s.register:
			if client == nil || client.conn == nil {
				continue
			}
			s.clientsMutex.Lock()
			s.clients[client.conn] = client
			clientCount := len(s.clients)
			s.clientsMutex.Unlock()
			s.logger.Debug(ctx, "Subscriber connected", "total", clientCount)

		case conn := <-s.unregister:
			if conn == nil {
				continue
			}
			s.clientsMutex.Lock()
			if client, ok := s.clients[conn]; ok {
				delete(s.clients, conn)
				close(client.send)
				s.logger.Debug(ctx, "Subscriber disconnected", "total", len(s.clients))
			}
			s.clientsMutex.Unlock()

		case message := <-s.broadcast:
			s.clientsMutex.RLock()
			var failedClients []*websocket.Conn
			for conn, client := range s.clients {
				select {
				case client.send <- message:
				default:
					// Client's send channel is full, mark for removal
					failedClients = append(failedClients, conn)
				}
			}
			s.clientsMutex.RUnlock()

			// Clean up failed clients outside the read lock
			if len(failedClients) > 0 {
				s.clientsMutex.Lock()
				for i, conn := range failedClients {
					client, ok := s.clients[conn]
					if !ok {
						failedClients[i] = nil
						continue
					}
					delete(s.clients, conn)
					close(client.send)
				}
				s.clientsMutex.Unlock()

				for _, conn := range failedClients {
					if conn != nil {
						go conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
					}
				}
			}
		}
	}
}

// readPump drains the connection so control frames are handled, and
// unregisters the client once the peer goes away.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c.conn:
		case <-c.server.done:
		}
		c.conn.CloseNow()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && status != -1 {
				c.server.logger.Debug(context.Background(), "Subscriber read ended", "status", status.String())
			}
			return
		}
	}
}

// writePump pumps messages to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.CloseNow()
	}()

	ctx := context.Background()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.server.logger.Warn(ctx, err, "WebSocket write error")
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
