// Package wsio is the external collaborator spec.md §1 assumes and leaves
// out of scope: a WebSocket transport providing frame read/write, connect,
// close with a local close code, and a ping/pong hook. It is concretely
// backed by gorilla/websocket so the rest of the module has something to
// run against.
package wsio

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// CloseCode mirrors the WebSocket close codes the connection engine needs
// to distinguish when classifying a disconnect (§4.C.5).
type CloseCode int

const (
	CloseNormal          CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	CloseAbnormal        CloseCode = 1006
	ClosePolicyViolation CloseCode = 1008
)

// CloseEvent is delivered to a transport's close handler.
type CloseEvent struct {
	Code CloseCode
	Text string
	Err  error // non-nil for an unexpected/abnormal close
}

// PingHandler is invoked on the transport's read goroutine whenever a
// WebSocket PING control frame is observed. The engine registers a no-op
// hook; its heartbeat timer (§4.C.4) is reset by Engine.IO PING packets,
// which arrive as ordinary text frames.
type PingHandler func()

// Proxy carries optional proxy configuration forwarded to the transport at
// connect time (§4.C.1).
type Proxy struct {
	URL      *url.URL
	Username string
	Password string
}

// Transport is the minimal surface the connection engine needs from a
// WebSocket connection. Implementations run their read loop on a single
// goroutine and deliver frames via OnMessage/OnClose callbacks set before
// Connect; Write and Close may be called from any goroutine.
type Transport interface {
	// Connect dials the given URL, forwarding extra headers and an
	// optional proxy, and starts the read loop. It does not return until
	// the WebSocket handshake completes or fails.
	Connect(ctx context.Context, rawURL string, headers http.Header, proxy *Proxy) error

	// OnMessage registers the frame handler. isBinary distinguishes a
	// binary attachment frame from a text Engine.IO frame.
	OnMessage(func(isBinary bool, data []byte))

	// OnClose registers the close handler, invoked exactly once per
	// Connect when the read loop ends for any reason.
	OnClose(func(CloseEvent))

	// OnPing registers the ping hook.
	OnPing(PingHandler)

	// Write sends one frame.
	Write(isBinary bool, data []byte) error

	// Close closes the transport with a local close code and reason.
	Close(code CloseCode, reason string) error

	// SetDeadlines bounds how long a single read/write may block. The
	// engine does not call it; its ping timeout is enforced by its own timer.
	SetDeadlines(read, write time.Duration)
}
