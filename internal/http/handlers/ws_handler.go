package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/auth"
	"github.com/taxi-dispatch/backend/internal/events"
)

// wsClient serializes writes to one websocket connection.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub relays terminal events from pub/sub to the terminals' push
// connections. Nothing is buffered for terminals that are offline.
type WSHub struct {
	jwtSecret   string
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[string][]*wsClient
}

func NewWSHub(jwtSecret string, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		jwtSecret:   jwtSecret,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[string][]*wsClient),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.TerminalChannelPattern, h.relay)
}

func (h *WSHub) relay(channel string, env events.Envelope) {
	subject, ok := events.SubjectFromChannel(channel)
	if !ok {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if n := h.SendToTerminal(subject, data); n == 0 {
		h.log.Debug("no push connection for event", zap.String("terminal_id", subject), zap.String("event", string(env.Event)))
	}
}

// SendToTerminal writes data to every connection of terminalID and returns
// how many writes succeeded.
func (h *WSHub) SendToTerminal(terminalID string, data []byte) int {
	h.mu.RLock()
	clients := append([]*wsClient(nil), h.connections[terminalID]...)
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.log.Debug("push write failed", zap.String("terminal_id", terminalID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// Connections returns the number of open push connections.
func (h *WSHub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.connections {
		n += len(conns)
	}
	return n
}

// TerminalConnections returns the number of open push connections of
// terminalID.
func (h *WSHub) TerminalConnections(terminalID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[terminalID])
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		if hdr := conn.Headers("Authorization"); len(hdr) > len("Bearer ") {
			tokenStr = hdr[len("Bearer "):]
		}
	}
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.jwtSecret, tokenStr)
	if err != nil || claims.TerminalID == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	terminalID := claims.TerminalID
	client := &wsClient{conn: conn}

	h.mu.Lock()
	h.connections[terminalID] = append(h.connections[terminalID], client)
	h.mu.Unlock()
	h.log.Info("push connection opened", zap.String("terminal_id", terminalID))

	defer func() {
		h.mu.Lock()
		conns := h.connections[terminalID]
		for i, c := range conns {
			if c == client {
				h.connections[terminalID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[terminalID]) == 0 {
			delete(h.connections, terminalID)
		}
		h.mu.Unlock()
		conn.Close()
		h.log.Info("push connection closed", zap.String("terminal_id", terminalID))
	}()

	// Read loop (keep alive / pings)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
