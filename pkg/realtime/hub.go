// Package realtime implements recipient-scoped pub/sub channels. Connections
// subscribe to channel keys and every publish is fanned out to the current
// subscribers of that key. Membership lives in memory only and is rebuilt
// whenever a client reconnects.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	EventAlertNew    = "alert:new"
	EventLocationNew = "location:new"
	EventVoiceToggle = "device:voice_toggle"
)

var (
	ErrUnknownConnection = errors.New("realtime: unknown connection")
	ErrBufferFull        = errors.New("realtime: connection send buffer full")
	ErrConnectionClosed  = errors.New("realtime: connection closed")
	ErrEmptyChannel      = errors.New("realtime: channel key required")
)

// RecipientChannel is the channel carrying alert and location events for a patient.
func RecipientChannel(patientID string) string {
	return "recipient:" + patientID
}

// DeviceChannel is the control channel for a patient's app (voice toggle).
func DeviceChannel(userID string) string {
	return "device:" + userID
}

// Event is the envelope written to subscribers.
type Event struct {
	Event     string          `json:"event"`
	Channel   string          `json:"channel"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Transport hands an encoded frame to one connection. Implementations must
// not block; a slow consumer should return ErrBufferFull instead.
type Transport interface {
	Deliver(frame []byte) error
}

type connection struct {
	transport Transport
	channels  map[string]struct{}
}

// Hub is the subscriber registry. All methods are safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*connection
	channels map[string]map[string]struct{} // channel -> connection ids
	logger   *slog.Logger
	now      func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:    make(map[string]*connection),
		channels: make(map[string]map[string]struct{}),
		logger:   slog.Default().With("component", "realtime"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Connect registers a connection with no subscriptions. Reusing an id
// replaces the previous transport and drops its subscriptions.
func (h *Hub) Connect(id string, t Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.conns[id]; exists {
		h.dropLocked(id)
	}
	h.conns[id] = &connection{transport: t, channels: make(map[string]struct{})}
}

// Disconnect removes a connection and all of its subscriptions.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(id)
}

func (h *Hub) dropLocked(id string) {
	conn, ok := h.conns[id]
	if !ok {
		return
	}
	for channel := range conn.channels {
		h.removeSubscriberLocked(channel, id)
	}
	delete(h.conns, id)
}

// Subscribe adds a connection to a channel. Subscribing twice is a no-op.
func (h *Hub) Subscribe(connID, channel string) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[string]struct{})
	}
	h.channels[channel][connID] = struct{}{}
	conn.channels[channel] = struct{}{}
	return nil
}

// Unsubscribe removes a connection from a channel.
func (h *Hub) Unsubscribe(connID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(conn.channels, channel)
	h.removeSubscriberLocked(channel, connID)
}

func (h *Hub) removeSubscriberLocked(channel, connID string) {
	subscribers, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(subscribers, connID)
	if len(subscribers) == 0 {
		delete(h.channels, channel)
	}
}

// Publish delivers event to every current subscriber of channel and returns
// how many connections accepted it. No subscribers is not an error.
// Per-connection delivery failures are logged and skipped; the only errors
// returned are encoding failures and ctx cancellation.
func (h *Hub) Publish(ctx context.Context, channel, event string, payload any) (int, error) {
	if channel == "" {
		return 0, ErrEmptyChannel
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Event{
		Event:     event,
		Channel:   channel,
		Timestamp: h.now(),
		Data:      data,
	})
	if err != nil {
		return 0, fmt.Errorf("encode %s envelope: %w", event, err)
	}

	h.mu.RLock()
	targets := make(map[string]Transport, len(h.channels[channel]))
	for id := range h.channels[channel] {
		if conn, ok := h.conns[id]; ok {
			targets[id] = conn.transport
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for id, t := range targets {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := t.Deliver(frame); err != nil {
			h.logger.Warn("realtime delivery skipped", "connection_id", id, "channel", channel, "event", event, "err", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SubscriberCount returns the number of connections subscribed to channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
