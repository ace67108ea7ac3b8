// Package socket implements the namespace/socket multiplexer (component D):
// Client owns one shared connection engine and hands out per-namespace
// Socket handles, each running its own CONNECT/DISCONNECT sub-protocol,
// emit queue, and ack table over that shared connection.
package socket

import (
	"context"
	"sync"
	"time"

	"github.com/havenshade/sockrose/engine"
	"github.com/havenshade/sockrose/metrics"
	"github.com/havenshade/sockrose/parser"
)

// Client is the public connection handle (§6): one Client owns one engine
// and, transitively, every namespace Socket multiplexed over it.
//
// Grounded on the teacher's Manager (manager.go): the nsps map and
// "close once every namespace socket is inactive" bookkeeping are kept
// nearly verbatim in spirit, rebuilt on top of this module's own Engine
// instead of delegating to engine.io-client-go.
type Client struct {
	eng         *engine.Engine
	autoConnect bool
	metrics     *metrics.Recorder

	mu   sync.Mutex
	nsps map[string]*Socket

	listenersMu   sync.Mutex
	onSocketOpen  []func(nsp string)
	onSocketClose []func(nsp string, reason engine.DisconnectReason)
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithMetrics attaches a Prometheus recorder; every GetMetrics() call feeds
// it the current engine snapshot. Nothing else updates it.
func WithMetrics(r *metrics.Recorder) ClientOption {
	return func(c *Client) { c.metrics = r }
}

// WithoutAutoConnect disables automatically opening a namespace socket as
// soon as it's created via Socket(); callers must call Socket(...).Connect()
// themselves.
func WithoutAutoConnect() ClientOption {
	return func(c *Client) { c.autoConnect = false }
}

// NewClient constructs a Client bound to opts, wiring its engine's
// lifecycle events to the namespace sockets this Client will create. It
// does not connect; call Connect.
func NewClient(opts engine.Options, clientOpts ...ClientOption) *Client {
	c := &Client{
		eng:         engine.New(opts),
		autoConnect: true,
		nsps:        map[string]*Socket{},
	}
	for _, opt := range clientOpts {
		opt(c)
	}
	c.wireEngine()
	return c
}

func (c *Client) wireEngine() {
	c.eng.OnOpen(c.onEngineOpen)
	c.eng.OnClose(c.onEngineClose)
	c.eng.OnPacket(c.onEnginePacket)
}

func (c *Client) engine() *engine.Engine { return c.eng }

func (c *Client) onEngineOpen() {
	for _, s := range c.snapshotSockets() {
		if s.Active() {
			s.onopen()
		}
	}
}

func (c *Client) onEngineClose(reason engine.DisconnectReason) {
	for _, s := range c.snapshotSockets() {
		s.onclose(reason)
	}
}

func (c *Client) onEnginePacket(p *parser.Packet) {
	c.mu.Lock()
	s, ok := c.nsps[p.Namespace()]
	c.mu.Unlock()
	if ok {
		s.onpacket(p)
	}
}

func (c *Client) snapshotSockets() []*Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Socket, 0, len(c.nsps))
	for _, s := range c.nsps {
		out = append(out, s)
	}
	return out
}

// Socket returns the Socket bound to nsp, creating it (and, if
// auto-connect is enabled, connecting it) on first use (§4.D.1).
func (c *Client) Socket(nsp string, opts *SocketOptions) *Socket {
	if nsp == "" {
		nsp = parser.DefaultNamespace
	}
	c.mu.Lock()
	s, ok := c.nsps[nsp]
	if !ok {
		s = newSocket(c, nsp, opts)
		c.nsps[nsp] = s
	}
	c.mu.Unlock()

	if !ok && c.autoConnect {
		s.Connect()
	} else if ok && c.autoConnect && !s.Active() {
		s.Connect()
	}
	return s
}

func (c *Client) forgetSocketIfIdle(nsp string) {
	c.mu.Lock()
	anyActive := false
	for _, s := range c.nsps {
		if s.Active() {
			anyActive = true
			break
		}
	}
	c.mu.Unlock()
	if !anyActive {
		c.eng.Close()
	}
}

func (c *Client) notifySocketOpen(nsp string) {
	for _, fn := range c.snapshotSocketOpenListeners() {
		fn(nsp)
	}
}

func (c *Client) notifySocketClose(nsp string, reason engine.DisconnectReason) {
	for _, fn := range c.snapshotSocketCloseListeners() {
		fn(nsp, reason)
	}
}

func (c *Client) snapshotSocketOpenListeners() []func(string) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	return append([]func(string){}, c.onSocketOpen...)
}

func (c *Client) snapshotSocketCloseListeners() []func(string, engine.DisconnectReason) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	return append([]func(string, engine.DisconnectReason){}, c.onSocketClose...)
}

func (c *Client) pingExpired() bool { return false } // the engine itself owns heartbeat latching; a ping timeout closes the transport, and onclose then clears each socket's connected flag

func (c *Client) transportWritable() bool {
	return c.eng.State() == engine.Connected
}

func (c *Client) sendPacket(p *parser.Packet) error {
	return c.eng.SendPacket(p)
}

func (c *Client) ensureConnecting() {
	if c.eng.State() == engine.Disconnected {
		c.eng.Connect(context.Background())
	}
}

// Connect dials the server. It returns once the dial attempt either
// succeeds or fails outright; Connected following the handshake is
// asynchronous (use OnOpen or Opened to observe it).
func (c *Client) Connect(ctx context.Context) error {
	return c.eng.Connect(ctx)
}

// Close disconnects every namespace socket and tears down the shared
// connection. The client will not try to reconnect afterward.
func (c *Client) Close() {
	for _, s := range c.snapshotSockets() {
		s.Disconnect()
	}
	c.eng.Close()
}

// SyncClose is Close, but blocks until the engine reports Disconnected or
// ctx is done.
func (c *Client) SyncClose(ctx context.Context) error {
	done := make(chan struct{})
	var once sync.Once
	c.eng.OnClose(func(engine.DisconnectReason) { once.Do(func() { close(done) }) })

	c.Close()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Opened reports whether the shared connection has completed its
// handshake.
func (c *Client) Opened() bool { return c.eng.State() == engine.Connected }

// GetConnectionState returns the engine's current state.
func (c *Client) GetConnectionState() engine.State { return c.eng.State() }

// GetSessionID returns the Engine.IO session id, valid only while Opened.
func (c *Client) GetSessionID() string { return c.eng.SessionID() }

// GetMetrics returns a snapshot of the shared connection's counters (§6).
func (c *Client) GetMetrics() metrics.Metrics {
	s := c.eng.Snapshot()
	snap := metrics.FromEngineSnapshot(metrics.EngineSnapshot{
		PacketsSent:       s.PacketsSent,
		PacketsReceived:   s.PacketsReceived,
		ReconnectionCount: s.ReconnectionCount,
		LastPingLatencyMs: s.LastPingLatencyMs,
		ConnectedAt:       s.ConnectedAt,
	})
	if c.metrics != nil {
		c.metrics.Observe(metrics.EngineSnapshot{
			PacketsSent:       s.PacketsSent,
			PacketsReceived:   s.PacketsReceived,
			ReconnectionCount: s.ReconnectionCount,
			LastPingLatencyMs: s.LastPingLatencyMs,
			ConnectedAt:       s.ConnectedAt,
		})
	}
	return snap
}

// OnOpen registers a listener fired once the engine-level handshake
// completes.
func (c *Client) OnOpen(fn func()) *Client { c.eng.OnOpen(fn); return c }

// OnFail registers a listener fired when a connect attempt fails outright
// (before any reconnection retry is scheduled).
func (c *Client) OnFail(fn func(engine.ConnectionError)) *Client { c.eng.OnFail(fn); return c }

// OnClose registers a listener fired whenever the shared connection drops,
// classified by engine.DisconnectReason.
func (c *Client) OnClose(fn func(engine.DisconnectReason)) *Client { c.eng.OnClose(fn); return c }

// OnReconnecting registers a listener fired just before a reconnection
// attempt is scheduled.
func (c *Client) OnReconnecting(fn func()) *Client { c.eng.OnReconnecting(fn); return c }

// OnReconnect registers a listener fired with the attempt number and delay
// chosen for the next reconnection try.
func (c *Client) OnReconnect(fn func(attempt int, delay time.Duration)) *Client {
	c.eng.OnReconnect(fn)
	return c
}

// OnState registers a listener fired on every engine state transition.
func (c *Client) OnState(fn func(engine.State)) *Client { c.eng.OnState(fn); return c }

// OnSocketOpen registers a listener fired whenever any namespace Socket
// completes its own CONNECT handshake.
func (c *Client) OnSocketOpen(fn func(nsp string)) *Client {
	c.listenersMu.Lock()
	c.onSocketOpen = append(c.onSocketOpen, fn)
	c.listenersMu.Unlock()
	return c
}

// OnSocketClose registers a listener fired whenever any namespace Socket
// disconnects, classified the same way the engine-level close is.
func (c *Client) OnSocketClose(fn func(nsp string, reason engine.DisconnectReason)) *Client {
	c.listenersMu.Lock()
	c.onSocketClose = append(c.onSocketClose, fn)
	c.listenersMu.Unlock()
	return c
}
