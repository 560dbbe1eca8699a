// ws.go implements the market data WebSocket feed.
//
// The feed subscribes to the market channel for both outcome tokens of the
// configured binary market and applies "book" snapshots and "price_change"
// deltas to the shared BookPair. The connection is kept alive with literal
// "PING" text frames; a failed ping tears the connection down so the
// reconnect loop can rebuild it. Reconnects use a fixed 2-second wait and
// never give up while the context is live.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-taker/internal/market"
	"polymarket-taker/pkg/types"
)

const (
	wsReconnectWait = 2 * time.Second
	wsReadTimeout   = 30 * time.Second // a few missed pings triggers reconnect
	wsWriteTimeout  = 10 * time.Second
)

// FeedState names the feed's position in its connection lifecycle:
// Disconnected -> Connecting -> Subscribed -> Disconnected, forever.
type FeedState int32

const (
	FeedDisconnected FeedState = iota
	FeedConnecting
	FeedSubscribed
)

func (s FeedState) String() string {
	switch s {
	case FeedConnecting:
		return "connecting"
	case FeedSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// MarketFeed maintains the market channel connection for one token pair.
type MarketFeed struct {
	url          string
	assetA       string
	assetB       string
	books        *market.BookPair
	pingInterval time.Duration

	connMu sync.Mutex // protects conn writes
	conn   *websocket.Conn

	state atomic.Int32

	logger *slog.Logger
}

// NewMarketFeed creates a feed that keeps books for the two asset IDs.
func NewMarketFeed(wsURL, assetA, assetB string, books *market.BookPair, pingInterval time.Duration, logger *slog.Logger) *MarketFeed {
	if pingInterval <= 0 {
		pingInterval = 10 * time.Second
	}
	return &MarketFeed{
		url:          wsURL,
		assetA:       assetA,
		assetB:       assetB,
		books:        books,
		pingInterval: pingInterval,
		logger:       logger.With("component", "ws_market"),
	}
}

// State reports where the feed sits in its connection lifecycle.
func (f *MarketFeed) State() FeedState {
	return FeedState(f.state.Load())
}

func (f *MarketFeed) setState(s FeedState) {
	f.state.Store(int32(s))
}

// Run drives the connection state machine until ctx is cancelled. Every
// disconnect, including a failed initial dial, goes back to Connecting
// after a fixed wait; transient venue outages must not kill the session.
func (f *MarketFeed) Run(ctx context.Context) error {
	defer f.setState(FeedDisconnected)

	for {
		f.setState(FeedConnecting)
		err := f.connectAndRead(ctx)
		f.setState(FeedDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"wait", wsReconnectWait,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wsReconnectWait):
		}
	}
}

// Close tears down the current connection, unblocking the read loop.
func (f *MarketFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *MarketFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	sub := types.WSSubscribeMsg{
		AssetIDs: []string{f.assetA, f.assetB},
		Type:     "market",
	}
	if err := f.writeJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.setState(FeedSubscribed)

	f.logger.Info("websocket connected", "assets", 2)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.handleFrame(msg)
	}
}

// handleFrame routes one raw frame. The server sends heartbeat replies as
// the literal text "PONG" (and may echo "PING"), a single event object, or
// an array of events.
func (f *MarketFeed) handleFrame(data []byte) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return
	}
	if bytes.Equal(trimmed, []byte("PONG")) || bytes.Equal(trimmed, []byte("PING")) {
		return
	}

	switch trimmed[0] {
	case '[':
		var events []types.WSMarketEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			f.logger.Debug("ignoring malformed ws frame", "error", err)
			return
		}
		for _, evt := range events {
			f.applyEvent(evt)
		}
	case '{':
		var evt types.WSMarketEvent
		if err := json.Unmarshal(trimmed, &evt); err != nil {
			f.logger.Debug("ignoring malformed ws frame", "error", err)
			return
		}
		f.applyEvent(evt)
	default:
		f.logger.Debug("ignoring non-json ws message", "data", string(trimmed))
	}
}

func (f *MarketFeed) applyEvent(evt types.WSMarketEvent) {
	switch evt.EventType {
	case "book":
		f.books.ApplySnapshot(evt.AssetID, evt.Bids, evt.Asks, evt.Time())
	case "price_change":
		f.books.ApplyDelta(evt.AssetID, evt.Bids, evt.Asks, evt.Time())
	default:
		// last_trade_price, tick_size_change and friends carry nothing
		// the books need.
	}
}

// pingLoop sends application-level PING text frames. A write failure closes
// the connection so the read loop returns and Run reconnects.
func (f *MarketFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed, dropping connection", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (f *MarketFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *MarketFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteMessage(msgType, data)
}
