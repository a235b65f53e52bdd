package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
)

// HeadWatcher subscribes to newHeads over a websocket and signals each new
// block number on C. Signals coalesce: a slow reader sees the latest head only.
type HeadWatcher struct {
	url   string
	heads chan uint64

	mu   sync.Mutex
	conn *websocket.Conn

	ReadTimeout time.Duration
	MaxBackoff  time.Duration
}

// NewHeadWatcher creates a watcher for the given ws:// or wss:// endpoint.
func NewHeadWatcher(url string) *HeadWatcher {
	return &HeadWatcher{
		url:         url,
		heads:       make(chan uint64, 1),
		ReadTimeout: 60 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// C delivers new head numbers.
func (w *HeadWatcher) C() <-chan uint64 {
	return w.heads
}

// Run keeps the subscription alive until ctx is done, reconnecting with backoff.
func (w *HeadWatcher) Run(ctx context.Context) error {
	retry := 0
	for {
		err := w.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		delay := w.backoff(retry)
		retry++
		slog.Warn("Head subscription lost", "url", w.url, "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (w *HeadWatcher) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer w.close()

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, w.close)
	defer stop()

	sub := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "eth_subscribe", "params": []string{"newHeads"}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	slog.Info("Head subscription established", "url", w.url)

	for {
		conn.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if n, ok := parseHead(msg); ok {
			w.signal(n)
		}
	}
}

type headNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Number hexutil.Uint64 `json:"number"`
		} `json:"result"`
	} `json:"params"`
}

func parseHead(msg []byte) (uint64, bool) {
	var n headNotification
	if err := json.Unmarshal(msg, &n); err != nil || n.Method != "eth_subscription" {
		return 0, false
	}
	return uint64(n.Params.Result.Number), true
}

func (w *HeadWatcher) signal(n uint64) {
	select {
	case w.heads <- n:
	default:
		// Replace the stale head.
		select {
		case <-w.heads:
		default:
		}
		select {
		case w.heads <- n:
		default:
		}
	}
}

func (w *HeadWatcher) backoff(retry int) time.Duration {
	d := time.Second << min(retry, 5)
	if d > w.MaxBackoff {
		d = w.MaxBackoff
	}
	return d
}

func (w *HeadWatcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
