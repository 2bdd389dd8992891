package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Authorizer gates websocket connections and channel joins.
type Authorizer interface {
	// Authenticate returns the subject (user id) behind the upgrade request.
	Authenticate(r *http.Request) (string, error)
	// AuthorizeChannel reports whether subject may listen on channel.
	AuthorizeChannel(ctx context.Context, subject, channel string) error
}

// ClientMessage is an inbound control message. "joinRecipientRoom" with a
// recipientId is accepted as shorthand for subscribing to RecipientChannel.
type ClientMessage struct {
	Action      string `json:"action"`
	Channel     string `json:"channel"`
	RecipientID string `json:"recipientId"`
}

// HandlerOptions tunes the websocket endpoint.
type HandlerOptions struct {
	// AllowedOrigins restricts browser origins. Empty or "*" allows all.
	AllowedOrigins []string
}

// Handler upgrades HTTP requests to websocket connections registered on a Hub.
type Handler struct {
	hub      *Hub
	auth     Authorizer
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler binds a websocket endpoint to hub.
func NewHandler(hub *Hub, auth Authorizer, opts HandlerOptions) *Handler {
	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	allowAll := len(opts.AllowedOrigins) == 0
	for _, origin := range opts.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = struct{}{}
	}
	return &Handler{
		hub:  hub,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if allowAll || origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		logger: slog.Default().With("component", "realtime_ws"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subject, err := h.auth.Authenticate(r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := &wsClient{
		id:      uuid.NewString(),
		subject: subject,
		conn:    ws,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
	}
	h.hub.Connect(client.id, client)
	h.logger.Debug("websocket connected", "connection_id", client.id, "user_id", subject)

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Handler) readPump(c *wsClient) {
	defer func() {
		h.hub.Disconnect(c.id)
		c.close()
		_ = c.conn.Close()
		h.logger.Debug("websocket disconnected", "connection_id", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply("error", "", map[string]string{"error": "invalid message"})
			continue
		}
		h.process(c, msg)
	}
}

func (h *Handler) process(c *wsClient, msg ClientMessage) {
	channel := strings.TrimSpace(msg.Channel)
	action := msg.Action
	if action == "joinRecipientRoom" {
		action = "subscribe"
		if id := strings.TrimSpace(msg.RecipientID); id != "" {
			channel = RecipientChannel(id)
		}
	}
	switch action {
	case "subscribe":
		if channel == "" {
			c.reply("error", "", map[string]string{"error": "channel required"})
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := h.auth.AuthorizeChannel(ctx, c.subject, channel)
		cancel()
		if err != nil {
			c.reply("error", channel, map[string]string{"error": "forbidden"})
			return
		}
		if err := h.hub.Subscribe(c.id, channel); err != nil {
			c.reply("error", channel, map[string]string{"error": err.Error()})
			return
		}
		c.reply("subscribed", channel, nil)
	case "unsubscribe":
		h.hub.Unsubscribe(c.id, channel)
		c.reply("unsubscribed", channel, nil)
	default:
		c.reply("error", channel, map[string]string{"error": "unknown action"})
	}
}

func (h *Handler) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// wsClient is a Transport over one gorilla connection. send is never closed;
// done signals shutdown so late deliveries cannot panic.
type wsClient struct {
	id      string
	subject string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
}

func (c *wsClient) Deliver(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrBufferFull
	}
}

func (c *wsClient) reply(event, channel string, data any) {
	env := Event{Event: event, Channel: channel, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return
		}
		env.Data = raw
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = c.Deliver(frame)
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}
