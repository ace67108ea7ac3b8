package wsio

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

// WebSocketTransport is the gorilla/websocket-backed Transport
// implementation, grounded on the read/write-loop split used by
// ramory-l-gosocketio's engineio.Session (there on the server side, here
// dialing out as a client).
type WebSocketTransport struct {
	log *zap.SugaredLogger

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex // serializes data-frame writes; gorilla allows one writer at a time

	onMessage func(isBinary bool, data []byte)
	onClose   func(CloseEvent)
	onPing    PingHandler

	writeTimeout time.Duration
	readTimeout  time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocketTransport returns a Transport that hasn't dialed yet. log
// may be nil, in which case a no-op logger is used.
func NewWebSocketTransport(log *zap.SugaredLogger) *WebSocketTransport {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &WebSocketTransport{log: log, closed: make(chan struct{})}
}

func (t *WebSocketTransport) OnMessage(fn func(isBinary bool, data []byte)) { t.onMessage = fn }
func (t *WebSocketTransport) OnClose(fn func(CloseEvent))                  { t.onClose = fn }
func (t *WebSocketTransport) OnPing(fn PingHandler)                        { t.onPing = fn }

func (t *WebSocketTransport) SetDeadlines(read, write time.Duration) {
	t.mu.Lock()
	t.readTimeout, t.writeTimeout = read, write
	t.mu.Unlock()
}

// Connect dials rawURL, optionally through a proxy dialer built from Proxy
// (basic auth forwarded as the proxy URL's userinfo, per golang.org/x/net/
// proxy's convention), and starts the read loop.
func (t *WebSocketTransport) Connect(ctx context.Context, rawURL string, headers http.Header, p *Proxy) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if p != nil && p.URL != nil {
		if p.Username != "" {
			p.URL.User = url.UserPassword(p.Username, p.Password)
		}
		netDialer, err := proxy.FromURL(p.URL, proxy.Direct)
		if err != nil {
			return fmt.Errorf("wsio: building proxy dialer: %w", err)
		}
		dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return netDialer.Dial(network, addr)
		}
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("wsio: dial %s: %w (http status %s)", rawURL, err, resp.Status)
		}
		return fmt.Errorf("wsio: dial %s: %w", rawURL, err)
	}

	conn.SetPingHandler(func(appData string) error {
		if t.onPing != nil {
			t.onPing()
		}
		return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(5*time.Second))
	})

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

func (t *WebSocketTransport) readLoop() {
	for {
		t.mu.Lock()
		conn := t.conn
		readTimeout := t.readTimeout
		t.mu.Unlock()
		if conn == nil {
			return
		}
		if readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(readTimeout))
		}

		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.emitClose(err)
			return
		}

		switch mt {
		case websocket.TextMessage:
			if t.onMessage != nil {
				t.onMessage(false, data)
			}
		case websocket.BinaryMessage:
			if t.onMessage != nil {
				t.onMessage(true, data)
			}
		case websocket.CloseMessage:
			t.emitClose(nil)
			return
		}
	}
}

func (t *WebSocketTransport) emitClose(err error) {
	t.closeOnce.Do(func() {
		close(t.closed)
		code, text := CloseAbnormal, ""
		if ce, ok := err.(*websocket.CloseError); ok {
			code, text = CloseCode(ce.Code), ce.Text
		}
		if t.onClose != nil {
			t.onClose(CloseEvent{Code: code, Text: text, Err: err})
		}
	})
}

func (t *WebSocketTransport) Write(isBinary bool, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	writeTimeout := t.writeTimeout
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("wsio: write before connect")
	}

	mt := websocket.TextMessage
	if isBinary {
		mt = websocket.BinaryMessage
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return conn.WriteMessage(mt, data)
}

func (t *WebSocketTransport) Close(code CloseCode, reason string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(int(code), reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(2*time.Second))
	return conn.Close()
}
