package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/havenshade/sockrose/message"
	"github.com/havenshade/sockrose/wsio"
)

func newTestEngine(t *testing.T, ft *wsio.FakeTransport) *Engine {
	t.Helper()
	e := New(Options{
		URI:          "http://example.test",
		LogVerbosity: LogQuiet,
		NewTransport: func() wsio.Transport { return ft },
	})
	return e
}

func openHandshake(sid string, pingInterval, pingTimeout int) []byte {
	obj := message.NewObject()
	obj.Set("sid", message.NewString(sid))
	obj.Set("pingInterval", message.NewInt(int64(pingInterval)))
	obj.Set("pingTimeout", message.NewInt(int64(pingTimeout)))
	body, err := message.EncodeJSON(obj)
	if err != nil {
		panic(err)
	}
	return append([]byte("0"), body...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestConnectCompletesOnlyAfterHandshake(t *testing.T) {
	ft := wsio.NewFakeTransport()
	e := newTestEngine(t, ft)

	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := e.State(); got != Connecting {
		t.Fatalf("state after dial = %v, want Connecting", got)
	}

	ft.InjectText(openHandshake("abc123", 25000, 60000))

	waitFor(t, time.Second, func() bool { return e.State() == Connected })
	if got := e.SessionID(); got != "abc123" {
		t.Fatalf("SessionID() = %q, want abc123", got)
	}
}

func TestHeartbeatResetsOnEveryPing(t *testing.T) {
	ft := wsio.NewFakeTransport()
	e := New(Options{
		URI:          "http://example.test",
		LogVerbosity: LogQuiet,
		NewTransport: func() wsio.Transport { return ft },
	})

	var mu sync.Mutex
	var closed bool
	e.OnClose(func(DisconnectReason) {
		mu.Lock()
		closed = true
		mu.Unlock()
	})

	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ft.InjectText(openHandshake("sid1", 20, 30))
	waitFor(t, time.Second, func() bool { return e.State() == Connected })

	for i := 0; i < 10; i++ {
		time.Sleep(10 * time.Millisecond)
		ft.InjectText([]byte("2")) // PING frame
	}

	mu.Lock()
	wasClosed := closed
	mu.Unlock()
	if wasClosed {
		t.Fatalf("engine closed despite steady pings resetting the heartbeat")
	}
	if got := e.State(); got != Connected {
		t.Fatalf("state = %v, want Connected", got)
	}
}

func TestPongReplyIsBareFrameDigit(t *testing.T) {
	ft := wsio.NewFakeTransport()
	e := newTestEngine(t, ft)

	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ft.InjectText(openHandshake("sid1", 25000, 60000))
	waitFor(t, time.Second, func() bool { return e.State() == Connected })

	ft.InjectText([]byte("2")) // PING frame
	waitFor(t, time.Second, func() bool {
		for _, sent := range ft.Sent {
			if string(sent) == "3" {
				return true
			}
		}
		return false
	})
}

func TestPingTimeoutClosesConnection(t *testing.T) {
	ft := wsio.NewFakeTransport()
	e := New(Options{
		URI:          "http://example.test",
		LogVerbosity: LogQuiet,
		NewTransport: func() wsio.Transport { return ft },
		Reconnect:    &ReconnectConfig{Enabled: false},
	})

	reasons := make(chan DisconnectReason, 1)
	e.OnClose(func(r DisconnectReason) { reasons <- r })

	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ft.InjectText(openHandshake("sid1", 10, 10))
	waitFor(t, time.Second, func() bool { return e.State() == Connected })

	select {
	case r := <-reasons:
		if r != PingTimeout {
			t.Fatalf("disconnect reason = %v, want PingTimeout", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ping-timeout disconnect")
	}
}

func TestReconnectBackoffIsExponentialAndSaturates(t *testing.T) {
	ft := wsio.NewFakeTransport()
	e := New(Options{
		URI:          "http://example.test",
		LogVerbosity: LogQuiet,
		NewTransport: func() wsio.Transport { return ft },
		Reconnect: &ReconnectConfig{
			Enabled:        true,
			AttemptsMax:    0,
			DelayInitialMs: 1000,
			DelayMaxMs:     5000,
		},
	})

	var mu sync.Mutex
	var delays []time.Duration
	e.OnReconnect(func(attempt int, delay time.Duration) {
		mu.Lock()
		delays = append(delays, delay)
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		e.maybeReconnect()
		e.mu.Lock()
		if e.reconnectTimer != nil {
			e.reconnectTimer.Stop()
		}
		e.reconnecting = false
		e.mu.Unlock()
	}

	mu.Lock()
	defer mu.Unlock()
	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		5000 * time.Millisecond,
		5000 * time.Millisecond,
	}
	if len(delays) != len(want) {
		t.Fatalf("got %d delays, want %d: %v", len(delays), len(want), delays)
	}
	for i, d := range delays {
		if d != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, d, want[i])
		}
	}
}

func TestCloseAbortsReconnection(t *testing.T) {
	ft := wsio.NewFakeTransport()
	e := newTestEngine(t, ft)

	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ft.InjectText(openHandshake("sid1", 25000, 60000))
	waitFor(t, time.Second, func() bool { return e.State() == Connected })

	var gotReason DisconnectReason
	done := make(chan struct{})
	e.OnClose(func(r DisconnectReason) {
		gotReason = r
		close(done)
	})

	e.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close callback")
	}
	if gotReason != ClientDisconnect {
		t.Fatalf("reason = %v, want ClientDisconnect", gotReason)
	}
	waitFor(t, time.Second, func() bool { return e.State() == Disconnected })

	time.Sleep(20 * time.Millisecond)
	e.mu.Lock()
	reconnecting := e.reconnecting
	e.mu.Unlock()
	if reconnecting {
		t.Fatalf("engine kept reconnecting after an explicit Close")
	}
}

func TestServerDisconnectClassification(t *testing.T) {
	ft := wsio.NewFakeTransport()
	e := New(Options{
		URI:          "http://example.test",
		LogVerbosity: LogQuiet,
		NewTransport: func() wsio.Transport { return ft },
		Reconnect:    &ReconnectConfig{Enabled: false},
	})

	reasons := make(chan DisconnectReason, 1)
	e.OnClose(func(r DisconnectReason) { reasons <- r })

	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ft.InjectText(openHandshake("sid1", 25000, 60000))
	waitFor(t, time.Second, func() bool { return e.State() == Connected })

	ft.InjectClose(wsio.CloseNormal, "server shutdown")

	select {
	case r := <-reasons:
		if r != ServerDisconnect {
			t.Fatalf("reason = %v, want ServerDisconnect", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnect classification")
	}
}
