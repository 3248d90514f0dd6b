// Package ws is the live market-data gateway: a websocket trade stream
// pushed into the runner's inbox. The wire format is the venue-neutral
// trade shape most crypto venues can be adapted to with a thin proxy:
//
//	{"symbol":"BTCUSDT","price":"50000.1","size":"0.01","ts":1700000000000}
//
// where ts is Unix milliseconds. Ordering is NOT guaranteed here; the
// runner's reorder buffer owns that.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
	"quantsim/internal/infra"
)

const (
	maxRetries   = 10
	readTimeout  = 60 * time.Second
	dialTimeout  = 10 * time.Second
)

// tradeMessage is the incoming wire shape.
type tradeMessage struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Size   string `json:"size"`
	TsMs   int64  `json:"ts"`
}

// Worker handles the websocket connection lifecycle and publishes trade
// events into the inbox. Dropped events (full inbox) are counted on the
// metrics sink rather than blocking the socket reader.
type Worker struct {
	url     string
	symbols []string
	inbox   chan<- domain.MarketEvent
	metrics *infra.Metrics

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a live feed worker.
func NewWorker(url string, symbols []string, inbox chan<- domain.MarketEvent, metrics *infra.Metrics) *Worker {
	return &Worker{url: url, symbols: symbols, inbox: inbox, metrics: metrics}
}

// Connect starts the connection loop in its own goroutine.
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

// IsConnected reports whether the socket is currently up.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Feed connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			w.metrics.RecordError()
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, w.url, http.Header{})
	if err != nil {
		return &domain.CollaboratorFailure{Collaborator: "feed", Err: fmt.Errorf("dial failed: %w", err), Retriable: true}
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	slog.Info("Feed connected", slog.Int("subs", len(w.symbols)))
	return nil
}

func (w *Worker) subscribe() error {
	msg := map[string]any{"op": "subscribe", "args": w.symbols}
	b, _ := json.Marshal(msg)
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Pin the conn so a concurrent Disconnect nulling w.conn cannot
		// race the read.
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *Worker) handleMessage(msg []byte) {
	var trade tradeMessage
	if json.Unmarshal(msg, &trade) != nil || trade.Symbol == "" {
		return
	}

	price, err := decimal.NewFromString(trade.Price)
	if err != nil {
		return
	}
	size, err := decimal.NewFromString(trade.Size)
	if err != nil {
		return
	}

	ev := domain.TradeEvent(trade.TsMs*1000, trade.Symbol, price, size)

	select {
	case w.inbox <- ev:
	default:
		w.metrics.RecordInboxDropped()
	}
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

// Disconnect tears down the connection and waits for the loop to exit.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
