package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"go_tickstream/feed/pkg/types"
)

func testManagerConfig(url string) Config {
	return Config{
		Client:               testClientConfig(url),
		ConnectTimeout:       5 * time.Second,
		KeepaliveInterval:    time.Minute,
		ReconnectBaseDelay:   10 * time.Millisecond,
		ReconnectMaxAttempts: 3,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestManager_StartAndStop(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, Events{})

	if mgr.State() != types.StateIdle {
		t.Errorf("initial state = %v, want idle", mgr.State())
	}

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if mgr.State() != types.StateOpen {
		t.Errorf("state after Start = %v, want open", mgr.State())
	}
	if !mgr.IsRunning() {
		t.Error("expected IsRunning after Start")
	}

	mgr.Stop()
	if mgr.State() != types.StateIdle {
		t.Errorf("state after Stop = %v, want idle", mgr.State())
	}
	if mgr.IsRunning() {
		t.Error("expected not running after Stop")
	}

	// Stop is idempotent.
	mgr.Stop()
}

func TestManager_StartWhileRunning(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, Events{})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mgr.Stop()

	if err := mgr.Start(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestManager_ConnectTimeout(t *testing.T) {
	// An HTTP server that never completes the WebSocket handshake.
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	cfg := testManagerConfig(wsURL(server))
	cfg.ConnectTimeout = 100 * time.Millisecond
	cfg.Client.HandshakeTimeout = 5 * time.Second

	mgr := NewManager(cfg, nil, Events{})
	if err := mgr.Start(context.Background()); err != ErrConnectTimeout {
		t.Errorf("Start = %v, want ErrConnectTimeout", err)
	}
	if mgr.State() != types.StateIdle {
		t.Errorf("state after failed Start = %v, want idle", mgr.State())
	}
	if mgr.IsRunning() {
		t.Error("expected not running after failed Start")
	}
}

func TestManager_StopDuringInitialDial(t *testing.T) {
	// Hold the handshake until Stop has run, then let it complete so
	// Start observes the stopped state with a live socket in hand.
	release := make(chan struct{})
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, Events{})

	errCh := make(chan error, 1)
	go func() { errCh <- mgr.Start(context.Background()) }()

	waitFor(t, time.Second, func() bool { return mgr.State() == types.StateConnecting })
	mgr.Stop()
	close(release)

	select {
	case err := <-errCh:
		if err != ErrStopped {
			t.Errorf("Start = %v, want ErrStopped", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
	if mgr.State() != types.StateIdle {
		t.Errorf("state = %v, want idle", mgr.State())
	}
	if mgr.IsRunning() {
		t.Error("expected not running after Stop raced the dial")
	}
}

func TestManager_SubscribeSendsOneFrame(t *testing.T) {
	var mu sync.Mutex
	var received []string

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = append(received, string(msg))
			mu.Unlock()
		}
	})
	defer server.Close()

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, Events{})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mgr.Stop()

	mgr.Subscribe("AAPL")
	mgr.Subscribe("AAPL") // duplicate, no second frame

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 1
	})

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("server received %d frames, want 1: %v", len(received), received)
	}
	want := `{"type":"subscribe","symbol":"AAPL"}`
	if received[0] != want {
		t.Errorf("frame = %q, want %q", received[0], want)
	}

	symbols := mgr.Symbols()
	if len(symbols) != 1 || symbols[0] != "AAPL" {
		t.Errorf("Symbols = %v, want [AAPL]", symbols)
	}
}

func TestManager_SubscribeBeforeStart(t *testing.T) {
	mgr := NewManager(testManagerConfig("ws://127.0.0.1:1"), nil, Events{})

	mgr.Subscribe("AAPL")
	mgr.Subscribe("MSFT")
	mgr.Unsubscribe("MSFT")

	symbols := mgr.Symbols()
	if len(symbols) != 1 || symbols[0] != "AAPL" {
		t.Errorf("Symbols = %v, want [AAPL]", symbols)
	}
}

func TestManager_StopClearsRegistry(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, Events{})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	mgr.Subscribe("AAPL")
	mgr.Stop()

	if len(mgr.Symbols()) != 0 {
		t.Errorf("Symbols after Stop = %v, want empty", mgr.Symbols())
	}

	// A stopped manager is restartable.
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	mgr.Stop()
}

func TestManager_TickDispatch(t *testing.T) {
	frames := []string{
		`{"type":"trade","data":[{"s":"AAPL","p":191.25,"v":100,"t":1},{"s":"AAPL","p":191.3,"v":50,"t":2}]}`,
		`{"type":"ping"}`,
		`{"type":"trade","data":[{"s":"MSFT","p":410.1,"v":20,"t":3}]}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	var mu sync.Mutex
	var ticks []types.Tick

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, Events{
		OnTick: func(tick types.Tick) {
			mu.Lock()
			ticks = append(ticks, tick)
			mu.Unlock()
		},
	})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ticks) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	if ticks[0].Price != 191.25 || ticks[1].Price != 191.3 || ticks[2].Symbol != "MSFT" {
		t.Errorf("ticks out of order or mismapped: %+v", ticks)
	}
}

func TestManager_BadFrameLeavesConnectionOpen(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","data":[{"s":"AAPL","p":1,"v":1,"t":1}]}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	var mu sync.Mutex
	var ticks []types.Tick

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, Events{
		OnTick: func(tick types.Tick) {
			mu.Lock()
			ticks = append(ticks, tick)
			mu.Unlock()
		},
	})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ticks) == 1
	})

	if mgr.State() != types.StateOpen {
		t.Errorf("state = %v, want open after undecodable frames", mgr.State())
	}
}

func TestManager_ReplayAfterReconnect(t *testing.T) {
	var mu sync.Mutex
	var connFrames [][]string
	connCount := 0

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mu.Lock()
		connCount++
		idx := connCount - 1
		connFrames = append(connFrames, nil)
		first := idx == 0
		mu.Unlock()

		if first {
			// Wait for the subscribe frame, then drop the connection.
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			connFrames[idx] = append(connFrames[idx], string(msg))
			mu.Unlock()
			return
		}

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			connFrames[idx] = append(connFrames[idx], string(msg))
			mu.Unlock()
		}
	}))
	defer server.Close()

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, Events{})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mgr.Stop()

	mgr.Subscribe("AAPL")

	// The first connection drops after it sees the subscribe; the
	// manager must reconnect and replay the registry.
	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(connFrames) >= 2 && len(connFrames[1]) >= 1
	})

	waitFor(t, 2*time.Second, func() bool {
		return mgr.State() == types.StateOpen
	})

	mu.Lock()
	defer mu.Unlock()
	want := `{"type":"subscribe","symbol":"AAPL"}`
	if connFrames[1][0] != want {
		t.Errorf("replayed frame = %q, want %q", connFrames[1][0], want)
	}
	if len(mgr.Symbols()) != 1 {
		t.Errorf("Symbols after reconnect = %v, want [AAPL]", mgr.Symbols())
	}
}

func TestManager_FailsAfterBudgetExhausted(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Drop every connection immediately.
	})

	var lostMu sync.Mutex
	lostCalls := 0
	var states []types.ConnState

	cfg := testManagerConfig(wsURL(server))
	cfg.ReconnectBaseDelay = time.Millisecond
	cfg.ReconnectMaxAttempts = 2

	mgr := NewManager(cfg, nil, Events{
		OnConnectionLost: func() {
			lostMu.Lock()
			lostCalls++
			lostMu.Unlock()
		},
		OnStateChange: func(s types.ConnState) {
			lostMu.Lock()
			states = append(states, s)
			lostMu.Unlock()
		},
	})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Kill the server so every reconnect attempt fails.
	server.Close()

	waitFor(t, 5*time.Second, func() bool {
		return mgr.State() == types.StateFailed
	})

	if mgr.IsRunning() {
		t.Error("expected not running in failed state")
	}

	lostMu.Lock()
	if lostCalls != 1 {
		t.Errorf("OnConnectionLost fired %d times, want 1", lostCalls)
	}
	sawReconnecting := false
	for _, s := range states {
		if s == types.StateReconnecting {
			sawReconnecting = true
		}
	}
	lostMu.Unlock()
	if !sawReconnecting {
		t.Error("never observed reconnecting state")
	}

	// Terminal until explicitly restarted; Subscribe must still only
	// touch the registry.
	mgr.Subscribe("AAPL")
	if mgr.State() != types.StateFailed {
		t.Errorf("state = %v, want failed", mgr.State())
	}
	mgr.Stop()
}
