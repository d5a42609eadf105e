package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

const (
	// MainnetWS is the production stream root.
	MainnetWS = "wss://stream.binance.com:9443"
	// TestnetWS is the spot testnet stream root.
	TestnetWS = "wss://stream.testnet.binance.vision"

	// writeWait is the time allowed to write a control frame to the peer.
	writeWait = 10 * time.Second

	// readWait bounds the silence tolerated on an open connection.
	readWait = 60 * time.Second

	handshakeTimeout = 15 * time.Second
)

// BookHandler receives each decoded snapshot. It runs on the read goroutine.
type BookHandler func(domain.OrderBook)

// DepthStream dials the partial book depth stream
// (<symbol>@depth20@100ms) and decodes every frame into an OrderBook.
type DepthStream struct {
	baseURL string
	dialer  websocket.Dialer
	now     func() time.Time
}

// NewDepthStream creates a stream client rooted at baseURL, e.g.
// "wss://stream.binance.com:9443".
func NewDepthStream(baseURL string) *DepthStream {
	return &DepthStream{
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer:  websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		now:     time.Now,
	}
}

// URL returns the stream endpoint for sym.
func (d *DepthStream) URL(sym domain.Symbol) string {
	return fmt.Sprintf("%s/ws/%s@depth%d@100ms", d.baseURL, sym.StreamName(), DepthLimit)
}

// Stream connects and delivers snapshots to handler until the connection
// fails or ctx is cancelled. It always returns a non-nil error; ctx.Err()
// when cancelled.
func (d *DepthStream) Stream(ctx context.Context, sym domain.Symbol, handler BookHandler) error {
	conn, _, err := d.dialer.DialContext(ctx, d.URL(sym), nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("binance/ws: dial %s: %w: %v", sym, domain.ErrConnectivity, err)
	}

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			_ = conn.Close()
		})
	}
	defer closeConn()

	// Unblock ReadMessage when the caller cancels.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-stop:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("binance/ws: read %s: %w: %v", sym, domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		book, err := d.decode(sym, message)
		if err != nil {
			// A single malformed frame does not end the stream.
			continue
		}
		handler(book)
	}
}

// decode accepts both the raw payload and the combined-stream envelope
// {"stream": ..., "data": {...}}.
func (d *DepthStream) decode(sym domain.Symbol, message []byte) (domain.OrderBook, error) {
	payload := message
	var env streamEnvelope
	if err := json.Unmarshal(message, &env); err == nil && len(env.Data) > 0 {
		payload = env.Data
	}

	var depth depthResponse
	if err := json.Unmarshal(payload, &depth); err != nil {
		return domain.OrderBook{}, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	if depth.Bids == nil && depth.Asks == nil {
		return domain.OrderBook{}, fmt.Errorf("%w: frame carries no depth", domain.ErrProtocol)
	}
	return depth.toBook(sym, uint64(d.now().UnixMilli()))
}
