package feed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"marketsync/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// mockWSServer starts a test WebSocket server. The handler runs once per
// accepted connection with a 1-based connection id.
func mockWSServer(t *testing.T, handler func(id int, conn *websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	var mu sync.Mutex
	connCount := 0

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		mu.Lock()
		connCount++
		id := connCount
		mu.Unlock()

		handler(id, conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.ReconnectBaseWait = 20 * time.Millisecond
	cfg.ReconnectMaxWait = 100 * time.Millisecond
	cfg.HeartbeatInterval = time.Hour
	return cfg
}

func TestManagerStartStop(t *testing.T) {
	server := mockWSServer(t, func(id int, conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	mgr := NewManager(testConfig(wsURL(server)), nil, testLogger())
	mgr.Start(context.Background())

	waitForState(t, mgr, StateOpen)

	mgr.Stop()
	if got := mgr.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
	if err := mgr.Send(pingCmd{Event: "ping"}); err != ErrConnectionClosed {
		t.Errorf("Send after Stop = %v, want ErrConnectionClosed", err)
	}
}

func TestManagerFramesDelivered(t *testing.T) {
	server := mockWSServer(t, func(id int, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`[7,"hb"]`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	mgr := NewManager(testConfig(wsURL(server)), nil, testLogger())
	mgr.Start(context.Background())
	defer mgr.Stop()

	select {
	case frame := <-mgr.Frames():
		if string(frame.Data) != `[7,"hb"]` {
			t.Errorf("frame = %s, want [7,\"hb\"]", frame.Data)
		}
		if frame.ReceivedAt.IsZero() {
			t.Error("ReceivedAt not set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
}

func TestManagerResubscribesInOrder(t *testing.T) {
	var mu sync.Mutex
	subsByConn := map[int][]string{}

	server := mockWSServer(t, func(id int, conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd subscribeCmd
			if err := json.Unmarshal(msg, &cmd); err != nil || cmd.Event != "subscribe" {
				continue
			}
			mu.Lock()
			subsByConn[id] = append(subsByConn[id], cmd.Channel+":"+cmd.Symbol)
			n := len(subsByConn[id])
			mu.Unlock()
			if id == 1 && n == 3 {
				// Drop the first session once all subscribes arrived.
				conn.Close()
				return
			}
		}
	})
	defer server.Close()

	mgr := NewManager(testConfig(wsURL(server)), nil, testLogger())
	mgr.Start(context.Background())
	defer mgr.Stop()

	waitForState(t, mgr, StateOpen)

	mgr.Subscribe("BTCUSD", models.KindTrade)
	mgr.Subscribe("ETHUSD", models.KindBook)
	mgr.Subscribe("BTCUSD", models.KindTicker)

	want := []string{"trades:BTCUSD", "book:ETHUSD", "ticker:BTCUSD"}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		replayed := len(subsByConn[2]) == 3
		mu.Unlock()
		if replayed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(subsByConn[2]) != 3 {
		t.Fatalf("second session got %d subscribes, want 3", len(subsByConn[2]))
	}
	for i, w := range want {
		if subsByConn[2][i] != w {
			t.Errorf("replayed sub %d = %s, want %s", i, subsByConn[2][i], w)
		}
	}
	if mgr.RetryCount() == 0 {
		t.Error("RetryCount() = 0, want > 0 after forced disconnect")
	}
}

func TestManagerDisconnectHookRunsBeforeReplay(t *testing.T) {
	var hookFired atomic.Bool
	var mu sync.Mutex
	replayed := false
	hookBeforeReplay := false

	server := mockWSServer(t, func(id int, conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd subscribeCmd
			if err := json.Unmarshal(msg, &cmd); err != nil || cmd.Event != "subscribe" {
				continue
			}
			if id == 1 {
				// Drop the first session once the subscribe arrived.
				conn.Close()
				return
			}
			mu.Lock()
			replayed = true
			hookBeforeReplay = hookFired.Load()
			mu.Unlock()
		}
	})
	defer server.Close()

	mgr := NewManager(testConfig(wsURL(server)), nil, testLogger())
	mgr.OnDisconnect(func() {
		hookFired.Store(true)
	})
	mgr.Start(context.Background())
	defer mgr.Stop()

	waitForState(t, mgr, StateOpen)
	mgr.Subscribe("BTCUSD", models.KindTrade)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := replayed
		ordered := hookBeforeReplay
		mu.Unlock()
		if done {
			if !ordered {
				t.Fatal("replayed subscribe arrived before the disconnect hook ran")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("subscription was never replayed on the second session")
}

func TestManagerHeartbeatTimeoutForcesReconnect(t *testing.T) {
	var mu sync.Mutex
	conns := 0

	server := mockWSServer(t, func(id int, conn *websocket.Conn) {
		mu.Lock()
		conns = id
		mu.Unlock()
		// Never write anything. The watchdog must give up on us.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 60 * time.Millisecond

	mgr := NewManager(cfg, nil, testLogger())
	mgr.Start(context.Background())
	defer mgr.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := conns
		mu.Unlock()
		if n >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("watchdog never forced a reconnect")
}

func TestManagerSubscribeBeforeOpen(t *testing.T) {
	var mu sync.Mutex
	var subs []string

	server := mockWSServer(t, func(id int, conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd subscribeCmd
			if err := json.Unmarshal(msg, &cmd); err != nil || cmd.Event != "subscribe" {
				continue
			}
			mu.Lock()
			subs = append(subs, cmd.Symbol)
			mu.Unlock()
		}
	})
	defer server.Close()

	mgr := NewManager(testConfig(wsURL(server)), nil, testLogger())
	// Recorded before the session exists, replayed once it opens.
	mgr.Subscribe("BTCUSD", models.KindTrade)

	mgr.Start(context.Background())
	defer mgr.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(subs)
		mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("deferred subscription was never sent")
}

func TestBackoffWaitBounded(t *testing.T) {
	mgr := NewManager(Config{
		ReconnectBaseWait: time.Second,
		ReconnectMaxWait:  10 * time.Second,
	}, nil, testLogger())

	var prev time.Duration
	for i := 1; i <= 10; i++ {
		mgr.failureCount = i
		wait := mgr.backoffWait()
		if wait < time.Second {
			t.Errorf("attempt %d: wait %v below base", i, wait)
		}
		// Cap plus 25% jitter headroom.
		if wait > 10*time.Second+10*time.Second/4 {
			t.Errorf("attempt %d: wait %v above cap", i, wait)
		}
		if i <= 4 && wait+wait/4 < prev {
			t.Errorf("attempt %d: wait %v shrank from %v", i, wait, prev)
		}
		prev = wait
	}
}

func waitForState(t *testing.T, mgr *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %v (now %v)", want, mgr.State())
}
