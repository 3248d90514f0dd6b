package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
	"quantsim/internal/infra"
)

// streamServer upgrades each client, drains the subscribe message, then
// streams trade frames until the client goes away.
func streamServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for i := 0; ; i++ {
			msg := fmt.Sprintf(`{"symbol":"BTCUSDT","price":"50000.5","size":"0.25","ts":%d}`, 1700000000000+int64(i))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWorker_StreamsTradesIntoInbox(t *testing.T) {
	srv := streamServer(t)
	defer srv.Close()

	inbox := make(chan domain.MarketEvent, 16)
	w := NewWorker(wsURL(srv), []string{"BTCUSDT"}, inbox, &infra.Metrics{})
	if err := w.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer w.Disconnect()

	select {
	case ev := <-inbox:
		if ev.Symbol != "BTCUSDT" || ev.Kind != domain.KindTrade {
			t.Fatalf("Unexpected event: %+v", ev)
		}
		if !ev.Price.Equal(decimal.RequireFromString("50000.5")) {
			t.Errorf("Expected price 50000.5, got %s", ev.Price)
		}
		if ev.TsUnixM != 1700000000000*1000 {
			t.Errorf("Expected microsecond timestamp, got %d", ev.TsUnixM)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("No event arrived from the stream")
	}
}

// Disconnect races the reader on a busy stream. The reader pins the conn
// under the lock before using it, so tearing the connection down mid-read
// must not observe a nil conn.
func TestWorker_DisconnectDuringActiveStream(t *testing.T) {
	srv := streamServer(t)
	defer srv.Close()

	inbox := make(chan domain.MarketEvent, 1)
	w := NewWorker(wsURL(srv), []string{"BTCUSDT"}, inbox, &infra.Metrics{})
	if err := w.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Wait until frames are flowing so Disconnect lands mid-read.
	select {
	case <-inbox:
	case <-time.After(5 * time.Second):
		t.Fatal("Stream never started")
	}

	w.Disconnect()
	if w.IsConnected() {
		t.Error("Worker should report disconnected after Disconnect")
	}
}

func TestWorker_HandleMessage(t *testing.T) {
	inbox := make(chan domain.MarketEvent, 1)
	metrics := &infra.Metrics{}
	w := NewWorker("ws://unused", []string{"BTCUSDT"}, inbox, metrics)

	w.handleMessage([]byte(`{"symbol":"BTCUSDT","price":"100","size":"2","ts":1000}`))
	select {
	case ev := <-inbox:
		if !ev.Size.Equal(decimal.NewFromInt(2)) {
			t.Errorf("Expected size 2, got %s", ev.Size)
		}
	default:
		t.Fatal("Valid trade should reach the inbox")
	}

	// Malformed frames are dropped silently.
	w.handleMessage([]byte(`not json`))
	w.handleMessage([]byte(`{"symbol":"","price":"1","size":"1","ts":1}`))
	w.handleMessage([]byte(`{"symbol":"X","price":"nope","size":"1","ts":1}`))
	if len(inbox) != 0 {
		t.Error("Malformed frames must not produce events")
	}

	// Full inbox counts a drop instead of blocking.
	w.handleMessage([]byte(`{"symbol":"BTCUSDT","price":"100","size":"1","ts":2000}`))
	w.handleMessage([]byte(`{"symbol":"BTCUSDT","price":"100","size":"1","ts":3000}`))
	if got := metrics.Snapshot().InboxDropped; got != 1 {
		t.Errorf("Expected 1 inbox drop, got %d", got)
	}
}
