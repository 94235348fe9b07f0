// ws.go implements a generic reconnecting WebSocket transport for venue
// market-data and user-data streams. It owns the connection lifecycle
// (connecting -> connected -> resetting -> connecting) and stream
// subscription bookkeeping; message schema and routing are the caller's
// concern via the OnMessage callback, so the same transport serves both the
// public market feed and the private user-data feed.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval     = 50 * time.Second // how often we send a ping to keep the connection alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers a reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
)

// connState is the feed's connection lifecycle state.
type connState int32

const (
	stateConnecting connState = iota
	stateConnected
	stateResetting
)

// WSFeed manages a single reconnecting WebSocket connection. URLFunc is
// invoked on every connect attempt so a user-data feed can fold in a
// freshly rotated listen key.
type WSFeed struct {
	name      string
	urlFunc   func() string
	conn      *websocket.Conn
	connMu    sync.Mutex
	state     atomic.Int32
	logger    *slog.Logger

	subscribedMu sync.RWMutex
	subscribed   map[string]bool // stream names tracked for resubscribe on reconnect

	// OnMessage receives every text frame read off the connection. Set
	// before calling Run. Invoked on the feed's own read goroutine.
	OnMessage func(data []byte)
}

// NewWSFeed creates a feed that dials urlFunc() on each (re)connect attempt.
func NewWSFeed(name string, urlFunc func() string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		name:       name,
		urlFunc:    urlFunc,
		subscribed: make(map[string]bool),
		logger:     logger.With("feed", name),
	}
}

// State reports the feed's current connection lifecycle state.
func (f *WSFeed) State() string {
	switch connState(f.state.Load()) {
	case stateConnected:
		return "connected"
	case stateResetting:
		return "resetting"
	default:
		return "connecting"
	}
}

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		f.state.Store(int32(stateConnecting))
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.state.Store(int32(stateResetting))
		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds stream names (e.g. "btcusdt@trade") to the tracked set and,
// if connected, sends a live SUBSCRIBE request immediately.
func (f *WSFeed) Subscribe(streams []string) error {
	f.subscribedMu.Lock()
	for _, s := range streams {
		f.subscribed[s] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(subscribeMsg{Method: "SUBSCRIBE", Params: streams, ID: 1})
}

// Unsubscribe removes stream names from the tracked set.
func (f *WSFeed) Unsubscribe(streams []string) error {
	f.subscribedMu.Lock()
	for _, s := range streams {
		delete(f.subscribed, s)
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(subscribeMsg{Method: "UNSUBSCRIBE", Params: streams, ID: 1})
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

type subscribeMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.urlFunc(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	f.state.Store(int32(stateConnected))

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.resubscribeAll(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}
	f.logger.Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if f.OnMessage != nil {
			f.OnMessage(msg)
		}
	}
}

func (f *WSFeed) resubscribeAll() error {
	f.subscribedMu.RLock()
	streams := make([]string, 0, len(f.subscribed))
	for s := range f.subscribed {
		streams = append(streams, s)
	}
	f.subscribedMu.RUnlock()

	if len(streams) == 0 {
		return nil
	}
	return f.writeJSON(subscribeMsg{Method: "SUBSCRIBE", Params: streams, ID: 1})
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

// marshalEnvelope is a convenience the Adapter uses to peek at a stream
// message's event type before fully unmarshaling it.
func marshalEnvelope(data []byte) (string, error) {
	var envelope struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", err
	}
	return envelope.EventType, nil
}
