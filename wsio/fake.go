package wsio

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// FakeTransport is an in-process stand-in for Transport used by the engine
// and socket test suites so the state machine can be driven deterministically
// without a live server (SPEC_FULL.md §2, "Test tooling").
type FakeTransport struct {
	mu sync.Mutex

	onMessage func(isBinary bool, data []byte)
	onClose   func(CloseEvent)
	onPing    PingHandler

	Sent     [][]byte // outbound frames, text and binary interleaved
	SentKind []bool   // parallel slice: true if the corresponding Sent entry was binary

	connected bool

	// ConnectErr, when set, makes Connect fail instead of succeeding.
	ConnectErr error
}

// NewFakeTransport returns an unconnected fake transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

func (f *FakeTransport) OnMessage(fn func(isBinary bool, data []byte)) { f.onMessage = fn }
func (f *FakeTransport) OnClose(fn func(CloseEvent))                  { f.onClose = fn }
func (f *FakeTransport) OnPing(fn PingHandler)                        { f.onPing = fn }
func (f *FakeTransport) SetDeadlines(time.Duration, time.Duration)    {}

func (f *FakeTransport) Connect(ctx context.Context, rawURL string, headers http.Header, proxy *Proxy) error {
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *FakeTransport) Write(isBinary bool, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, append([]byte(nil), data...))
	f.SentKind = append(f.SentKind, isBinary)
	return nil
}

func (f *FakeTransport) Close(code CloseCode, reason string) error {
	f.mu.Lock()
	wasConnected := f.connected
	f.connected = false
	onClose := f.onClose
	f.mu.Unlock()
	if wasConnected && onClose != nil {
		onClose(CloseEvent{Code: code, Text: reason})
	}
	return nil
}

// InjectText delivers a text frame to whatever registered OnMessage, as if
// the peer had sent it.
func (f *FakeTransport) InjectText(data []byte) {
	if f.onMessage != nil {
		f.onMessage(false, data)
	}
}

// InjectBinary delivers a binary attachment frame.
func (f *FakeTransport) InjectBinary(data []byte) {
	if f.onMessage != nil {
		f.onMessage(true, data)
	}
}

// InjectClose simulates the peer closing the connection with a given close
// code, as TransportError/ServerDisconnect classification (§4.C.5) expects.
func (f *FakeTransport) InjectClose(code CloseCode, reason string) {
	f.mu.Lock()
	f.connected = false
	onClose := f.onClose
	f.mu.Unlock()
	if onClose != nil {
		onClose(CloseEvent{Code: code, Text: reason})
	}
}
