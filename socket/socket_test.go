package socket

import (
	"context"
	"testing"
	"time"

	"github.com/havenshade/sockrose/engine"
	"github.com/havenshade/sockrose/message"
	"github.com/havenshade/sockrose/parser"
	"github.com/havenshade/sockrose/wsio"
)

func newTestClient(t *testing.T, ft *wsio.FakeTransport) *Client {
	t.Helper()
	return NewClient(engine.Options{
		URI:          "http://example.test",
		LogVerbosity: engine.LogQuiet,
		NewTransport: func() wsio.Transport { return ft },
		Reconnect:    &engine.ReconnectConfig{Enabled: false},
	})
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
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

func openHandshakeFrame() []byte {
	obj := message.NewObject()
	obj.Set("sid", message.NewString("engine-sid"))
	obj.Set("pingInterval", message.NewInt(25000))
	obj.Set("pingTimeout", message.NewInt(60000))
	body, _ := message.EncodeJSON(obj)
	return append([]byte("0"), body...)
}

// bringUp dials the fake transport through the Engine.IO handshake so the
// engine reaches Connected before a namespace CONNECT is attempted.
func bringUp(t *testing.T, c *Client, ft *wsio.FakeTransport) {
	t.Helper()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ft.InjectText(openHandshakeFrame())
	waitUntil(t, time.Second, func() bool { return c.Opened() })
}

func serverConnectAck(nsp string) []byte {
	p := &parser.Packet{Frame: parser.FrameMessage, Type: parser.Connect, Nsp: nsp, Data: message.NewObject().Set("sid", message.NewString("nsp-sid"))}
	text, _ := parser.Encode(p)
	return text
}

func TestEmitAndReceiveAck(t *testing.T) {
	ft := wsio.NewFakeTransport()
	c := newTestClient(t, ft)
	bringUp(t, c, ft)

	sock := c.Socket("/", nil)
	waitUntil(t, time.Second, func() bool {
		return len(ft.Sent) > 0 // namespace CONNECT packet went out
	})
	ft.InjectText(serverConnectAck("/"))
	waitUntil(t, time.Second, func() bool { return sock.Connected() })

	result := make(chan message.List, 1)
	if err := sock.EmitAsync("greet", func(args message.List, err error) {
		if err != nil {
			t.Errorf("ack error: %v", err)
			return
		}
		result <- args
	}, message.NewString("hello")); err != nil {
		t.Fatalf("EmitAsync: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return len(ft.Sent) >= 2 })

	// Parse the ack id the client assigned itself off the wire and answer it.
	decoder := parser.NewDecoder()
	sent := decoder.DecodeText(ft.Sent[len(ft.Sent)-1])
	if sent == nil || sent.AckID == nil {
		t.Fatalf("expected an EVENT packet carrying an ack id, got %+v", sent)
	}

	reply := &parser.Packet{Frame: parser.FrameMessage, Type: parser.Ack, Nsp: "/", AckID: sent.AckID, Data: message.List{message.NewString("world")}.ToArray("")}
	text, _ := parser.Encode(reply)
	ft.InjectText(text)

	select {
	case args := <-result:
		if len(args) != 1 || args[0].String() != "world" {
			t.Fatalf("ack args = %v, want [world]", args)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack callback")
	}
}

func TestAckTimesOutWithoutServerReply(t *testing.T) {
	ft := wsio.NewFakeTransport()
	c := newTestClient(t, ft)
	bringUp(t, c, ft)

	sock := c.Socket("/", nil)
	waitUntil(t, time.Second, func() bool { return len(ft.Sent) > 0 })
	ft.InjectText(serverConnectAck("/"))
	waitUntil(t, time.Second, func() bool { return sock.Connected() })

	errCh := make(chan error, 1)
	sock.Timeout(30 * time.Millisecond)
	if err := sock.EmitAsync("ping-me", func(_ message.List, err error) { errCh <- err }); err != nil {
		t.Fatalf("EmitAsync: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected a timeout error, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the ack-timeout callback itself")
	}
}

func TestConnectTimesOutWithoutServerResponse(t *testing.T) {
	old := namespaceConnectTimeout
	namespaceConnectTimeout = 20 * time.Millisecond
	defer func() { namespaceConnectTimeout = old }()

	ft := wsio.NewFakeTransport()
	c := newTestClient(t, ft)
	bringUp(t, c, ft)

	errs := make(chan error, 1)
	sock := c.Socket("/", nil)
	sock.OnError(func(err error) { errs <- err })
	waitUntil(t, time.Second, func() bool { return len(ft.Sent) > 0 }) // namespace CONNECT went out

	// No server CONNECT reply arrives; the connect timer must fire on its
	// own and deactivate the namespace.
	select {
	case <-errs:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the connect-timeout error")
	}
	waitUntil(t, time.Second, func() bool { return !sock.Active() })
}

func TestConnectErrorReachesNamespaceErrorListener(t *testing.T) {
	ft := wsio.NewFakeTransport()
	c := newTestClient(t, ft)
	bringUp(t, c, ft)

	errs := make(chan error, 1)
	sock := c.Socket("/", nil)
	sock.OnError(func(err error) { errs <- err })
	waitUntil(t, time.Second, func() bool { return len(ft.Sent) > 0 }) // namespace CONNECT went out

	reject := &parser.Packet{Frame: parser.FrameMessage, Type: parser.ConnectError, Nsp: "/", Data: message.NewObject().Set("message", message.NewString("not authorized"))}
	text, _ := parser.Encode(reject)
	ft.InjectText(text)

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected a non-nil connect error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the namespace's connect_error listener")
	}
	waitUntil(t, time.Second, func() bool { return !sock.Active() })
}

func TestReceivedEventDispatchesToListener(t *testing.T) {
	ft := wsio.NewFakeTransport()
	c := newTestClient(t, ft)
	bringUp(t, c, ft)

	sock := c.Socket("/", nil)
	waitUntil(t, time.Second, func() bool { return len(ft.Sent) > 0 })
	ft.InjectText(serverConnectAck("/"))
	waitUntil(t, time.Second, func() bool { return sock.Connected() })

	got := make(chan message.List, 1)
	sock.On("news", func(args message.List) { got <- args })

	evt := &parser.Packet{Frame: parser.FrameMessage, Type: parser.Event, Nsp: "/", Data: message.List{message.NewString("breaking")}.ToArray("news")}
	text, _ := parser.Encode(evt)
	ft.InjectText(text)

	select {
	case args := <-got:
		if len(args) != 1 || args[0].String() != "breaking" {
			t.Fatalf("args = %v, want [breaking]", args)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event dispatch")
	}
}

func TestNamespaceMultiplexingIsolatesEvents(t *testing.T) {
	ft := wsio.NewFakeTransport()
	c := newTestClient(t, ft)
	bringUp(t, c, ft)

	chatSock := c.Socket("/chat", nil)
	adminSock := c.Socket("/admin", nil)

	waitUntil(t, time.Second, func() bool { return len(ft.Sent) >= 2 })
	ft.InjectText(serverConnectAck("/chat"))
	ft.InjectText(serverConnectAck("/admin"))
	waitUntil(t, time.Second, func() bool { return chatSock.Connected() && adminSock.Connected() })

	chatGot := make(chan message.List, 1)
	adminGot := make(chan message.List, 1)
	chatSock.On("msg", func(args message.List) { chatGot <- args })
	adminSock.On("msg", func(args message.List) { adminGot <- args })

	evt := &parser.Packet{Frame: parser.FrameMessage, Type: parser.Event, Nsp: "/chat", Data: message.List{message.NewString("hi")}.ToArray("msg")}
	text, _ := parser.Encode(evt)
	ft.InjectText(text)

	select {
	case <-chatGot:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for /chat dispatch")
	}
	select {
	case <-adminGot:
		t.Fatal("/admin listener fired for a /chat-only event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBinaryEventRoundTripsThroughSocket(t *testing.T) {
	ft := wsio.NewFakeTransport()
	c := newTestClient(t, ft)
	bringUp(t, c, ft)

	sock := c.Socket("/", nil)
	waitUntil(t, time.Second, func() bool { return len(ft.Sent) > 0 })
	ft.InjectText(serverConnectAck("/"))
	waitUntil(t, time.Second, func() bool { return sock.Connected() })

	got := make(chan message.List, 1)
	sock.On("upload", func(args message.List) { got <- args })

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	evt := &parser.Packet{Frame: parser.FrameMessage, Type: parser.Event, Nsp: "/", Data: message.List{message.NewBinary(payload)}.ToArray("upload")}
	text, binaries := parser.Encode(evt)
	ft.InjectText(text)
	for _, b := range binaries {
		ft.InjectBinary(b)
	}

	select {
	case args := <-got:
		if len(args) != 1 || string(args[0].Binary()) != string(payload) {
			t.Fatalf("args = %v, want one binary leaf %x", args, payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for binary event dispatch")
	}
}

func TestEmitRejectsReservedEventName(t *testing.T) {
	ft := wsio.NewFakeTransport()
	c := newTestClient(t, ft)
	bringUp(t, c, ft)

	sock := c.Socket("/", nil)
	if err := sock.Emit("connect"); err == nil {
		t.Fatal("expected an error emitting a reserved event name")
	}
}

func TestDisconnectDoesNotReconnectNamespace(t *testing.T) {
	ft := wsio.NewFakeTransport()
	c := newTestClient(t, ft)
	bringUp(t, c, ft)

	sock := c.Socket("/", nil)
	waitUntil(t, time.Second, func() bool { return len(ft.Sent) > 0 })
	ft.InjectText(serverConnectAck("/"))
	waitUntil(t, time.Second, func() bool { return sock.Connected() })

	sock.Disconnect()
	// Disconnect sends DISCONNECT and arms a grace timer rather than
	// finalizing immediately (§4.D.6); the server's own DISCONNECT is the
	// "server confirmation" that finalizes it without waiting out the
	// timer.
	serverDisconnect, _ := parser.Encode(&parser.Packet{Frame: parser.FrameMessage, Type: parser.Disconnect, Nsp: "/"})
	ft.InjectText(serverDisconnect)

	waitUntil(t, time.Second, func() bool { return !sock.Active() })
	if sock.Connected() {
		t.Fatal("socket should not be connected after an explicit Disconnect")
	}
}

func TestDisconnectFinalizesOnGraceTimerWithoutServerConfirmation(t *testing.T) {
	old := namespaceCloseGrace
	namespaceCloseGrace = 20 * time.Millisecond
	defer func() { namespaceCloseGrace = old }()

	ft := wsio.NewFakeTransport()
	c := newTestClient(t, ft)
	bringUp(t, c, ft)

	sock := c.Socket("/", nil)
	waitUntil(t, time.Second, func() bool { return len(ft.Sent) > 0 })
	ft.InjectText(serverConnectAck("/"))
	waitUntil(t, time.Second, func() bool { return sock.Connected() })

	sock.Disconnect()
	if !sock.Active() {
		t.Fatal("socket should remain active until the grace timer fires or the server confirms")
	}

	// No server confirmation arrives; the grace timer must still finalize
	// the close on its own.
	waitUntil(t, time.Second, func() bool { return !sock.Active() && !sock.Connected() })
}
