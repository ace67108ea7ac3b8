package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/havenshade/sockrose/message"
	"github.com/havenshade/sockrose/parser"
	"github.com/havenshade/sockrose/wsio"
)

// handshake is the JSON payload of the first MESSAGE/OPEN frame (§4.C.3).
type handshake struct {
	Sid          string
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// Snapshot is a point-in-time read of engine counters, the source data for
// the public Metrics struct (§6).
type Snapshot struct {
	PacketsSent        uint64
	PacketsReceived    uint64
	ReconnectionCount  uint64
	LastPingLatencyMs  int64
	ConnectedAt        time.Time
}

// Engine is the connection engine (component C): it owns the transport
// handle, drives the Disconnected/Connecting/Connected/Reconnecting/Closing
// state machine (§4.C.2), performs the Engine.IO handshake and heartbeat,
// and demultiplexes decoded packets by namespace to whoever subscribed.
//
// Grounded on the teacher's Manager (manager.go): the same
// open/onopen/onclose/reconnect shape, rebuilt against a concretely owned
// wsio.Transport and parser.Codec instead of delegating to the
// zishang520 engine.io-client-go + socket.io-go-parser packages the
// teacher wraps — those two are exactly the "packet codec" and "transport"
// pieces spec.md requires this rewrite to own itself.
type Engine struct {
	opts Options
	log  *zap.SugaredLogger

	mu        sync.Mutex
	state     State
	transport wsio.Transport
	codec     *parser.Codec
	sid       string
	pingInterval, pingTimeout time.Duration
	abortRetries              bool
	reconnecting              bool
	backoff                   *backoff
	pingTimer                 *time.Timer
	connectTimer              *time.Timer
	reconnectTimer            *time.Timer
	lastPingAt                time.Time
	disconnectReason          DisconnectReason

	packetsSent       atomic.Uint64
	packetsReceived   atomic.Uint64
	reconnectionCount atomic.Uint64
	lastPingLatencyMs atomic.Int64
	connectedAt       atomic.Value // time.Time

	listenersMu       sync.Mutex
	onOpen            []func()
	onFail            []func(ConnectionError)
	onClose           []func(DisconnectReason)
	onReconnecting    []func()
	onReconnect       []func(attempt int, delay time.Duration)
	onState           []func(State)
	onPacket          []func(*parser.Packet)
}

// New constructs an Engine in the Disconnected state. It does not connect.
func New(opts Options) *Engine {
	e := &Engine{
		opts:  opts,
		log:   opts.logger(),
		codec: parser.NewCodec(),
		state: Disconnected,
	}
	e.backoff = newBackoff(
		time.Duration(opts.reconnect().DelayInitialMs)*time.Millisecond,
		time.Duration(opts.reconnect().DelayMaxMs)*time.Millisecond,
	)
	return e
}

// State returns the current connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SessionID returns the Engine.IO session id, valid only in Connected.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sid
}

// Snapshot returns a consistent read of the engine's counters.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		PacketsSent:       e.packetsSent.Load(),
		PacketsReceived:   e.packetsReceived.Load(),
		ReconnectionCount: e.reconnectionCount.Load(),
		LastPingLatencyMs: e.lastPingLatencyMs.Load(),
	}
	if t, ok := e.connectedAt.Load().(time.Time); ok {
		s.ConnectedAt = t
	}
	return s
}

// --- listener registration -------------------------------------------------

func (e *Engine) OnOpen(fn func()) {
	e.listenersMu.Lock()
	e.onOpen = append(e.onOpen, fn)
	e.listenersMu.Unlock()
}

func (e *Engine) OnFail(fn func(ConnectionError)) {
	e.listenersMu.Lock()
	e.onFail = append(e.onFail, fn)
	e.listenersMu.Unlock()
}

func (e *Engine) OnClose(fn func(DisconnectReason)) {
	e.listenersMu.Lock()
	e.onClose = append(e.onClose, fn)
	e.listenersMu.Unlock()
}

func (e *Engine) OnReconnecting(fn func()) {
	e.listenersMu.Lock()
	e.onReconnecting = append(e.onReconnecting, fn)
	e.listenersMu.Unlock()
}

func (e *Engine) OnReconnect(fn func(attempt int, delay time.Duration)) {
	e.listenersMu.Lock()
	e.onReconnect = append(e.onReconnect, fn)
	e.listenersMu.Unlock()
}

func (e *Engine) OnState(fn func(State)) {
	e.listenersMu.Lock()
	e.onState = append(e.onState, fn)
	e.listenersMu.Unlock()
}

func (e *Engine) OnPacket(fn func(*parser.Packet)) {
	e.listenersMu.Lock()
	e.onPacket = append(e.onPacket, fn)
	e.listenersMu.Unlock()
}

// snapshotListeners copies a listener slice under the lock so callbacks
// never run while the lock is held (P7's no-callback-under-mutex rule,
// applied engine-wide).
func snapshotListeners[T any](mu *sync.Mutex, slot []T) []T {
	mu.Lock()
	defer mu.Unlock()
	return append([]T(nil), slot...)
}

// --- connect / state machine -----------------------------------------------

// Connect drives Disconnected -> Connecting and dials the transport. It
// returns once the dial attempt either succeeds (Connecting state, with
// Connected following asynchronously once the handshake lands) or fails
// outright.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.state == Connected || e.state == Connecting {
		e.mu.Unlock()
		return nil
	}
	e.setState(Connecting)
	e.abortRetries = false
	transport := e.opts.transportFactory()()
	e.transport = transport
	e.mu.Unlock()
	e.emitState(Connecting)

	transport.OnMessage(e.onTransportMessage)
	transport.OnClose(e.onTransportClose)
	transport.OnPing(func() {})

	rawURL, err := buildConnectURL(e.opts.URI, e.opts.Path, "", e.opts.Query, e.opts.nowFunc())
	if err != nil {
		e.failConnect(ErrProtocolError)
		return err
	}

	headers := e.opts.Headers
	if headers == nil {
		headers = http.Header{}
	}

	connectCtx, cancel := context.WithTimeout(ctx, e.opts.connectTimeout())
	defer cancel()

	if err := transport.Connect(connectCtx, rawURL, headers, e.opts.Proxy); err != nil {
		e.log.Debugw("transport connect failed", "err", err)
		e.failConnect(classifyDialError(err))
		return err
	}

	e.armConnectTimeout()
	return nil
}

func classifyDialError(err error) ConnectionError {
	if err == context.DeadlineExceeded {
		return ErrTimeout
	}
	return ErrTransportOpenFailed
}

func (e *Engine) armConnectTimeout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connectTimer != nil {
		e.connectTimer.Stop()
	}
	e.connectTimer = time.AfterFunc(e.opts.connectTimeout(), func() {
		e.mu.Lock()
		stillConnecting := e.state == Connecting
		e.mu.Unlock()
		if stillConnecting {
			e.log.Debug("handshake did not arrive before connect timeout")
			if e.transport != nil {
				e.transport.Close(wsio.ClosePolicyViolation, "Handshake error")
			}
		}
	})
}

func (e *Engine) failConnect(ce ConnectionError) {
	e.mu.Lock()
	e.setState(Disconnected)
	e.mu.Unlock()
	e.emitState(Disconnected)

	for _, fn := range snapshotListeners(&e.listenersMu, e.onFail) {
		fn(ce)
	}
	e.maybeReconnect()
}

// onTransportMessage is invoked on the transport's single read goroutine —
// the "dedicated network thread" of §5 — for every inbound frame.
func (e *Engine) onTransportMessage(isBinary bool, data []byte) {
	var p *parser.Packet
	if isBinary {
		p = e.codec.DecodeBinary(data)
	} else {
		p = e.codec.DecodeText(data)
	}
	if p == nil {
		return // awaiting more attachments
	}
	e.packetsReceived.Add(1)

	switch p.Frame {
	case parser.FrameOpen:
		e.onHandshake(p)
	case parser.FramePing:
		e.onPing()
	case parser.FrameClose:
		e.log.Debug("server sent close frame")
		if e.transport != nil {
			e.transport.Close(wsio.CloseNormal, "End by server")
		}
	case parser.FrameMessage:
		e.dispatchPacket(p)
	}
}

func (e *Engine) onHandshake(p *parser.Packet) {
	hs, ok := parseHandshake(p.Data)
	if !ok || hs.Sid == "" {
		e.log.Debug("malformed handshake")
		if e.transport != nil {
			e.transport.Close(wsio.ClosePolicyViolation, "Handshake error")
		}
		return
	}

	e.mu.Lock()
	if e.connectTimer != nil {
		e.connectTimer.Stop()
	}
	e.sid = hs.Sid
	e.pingInterval = hs.PingInterval
	e.pingTimeout = hs.PingTimeout
	e.backoff.Reset() // P5: reset only on a successful handshake, never on bare transport open
	e.setState(Connected)
	e.lastPingAt = time.Time{}
	e.connectedAt.Store(e.opts.nowFunc()())
	e.mu.Unlock()
	e.emitState(Connected)

	e.armPingTimeout()

	for _, fn := range snapshotListeners(&e.listenersMu, e.onOpen) {
		fn()
	}
}

func parseHandshake(data *message.Message) (handshake, bool) {
	if data.Kind() != message.KindObject {
		return handshake{}, false
	}
	sid := data.Get("sid").String()
	pingInterval := data.Get("pingInterval")
	pingTimeout := data.Get("pingTimeout")

	interval := 25000 * time.Millisecond
	if pingInterval.Kind() == message.KindInt {
		interval = time.Duration(pingInterval.Int64()) * time.Millisecond
	}
	timeout := 60000 * time.Millisecond
	if pingTimeout.Kind() == message.KindInt {
		timeout = time.Duration(pingTimeout.Int64()) * time.Millisecond
	}
	return handshake{Sid: sid, PingInterval: interval, PingTimeout: timeout}, true
}

func (e *Engine) onPing() {
	now := e.opts.nowFunc()()
	e.mu.Lock()
	if !e.lastPingAt.IsZero() {
		e.lastPingLatencyMs.Store(now.Sub(e.lastPingAt).Milliseconds())
	}
	e.lastPingAt = now
	e.mu.Unlock()

	e.armPingTimeout()
	e.sendRaw(&parser.Packet{Frame: parser.FramePong})
}

// armPingTimeout resets the single heartbeat timer to pingInterval +
// pingTimeout, per §4.C.4.
func (e *Engine) armPingTimeout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pingTimer != nil {
		e.pingTimer.Stop()
	}
	total := e.pingInterval + e.pingTimeout
	e.pingTimer = time.AfterFunc(total, func() {
		e.log.Debug("ping timeout")
		e.mu.Lock()
		e.disconnectReason = PingTimeout
		transport := e.transport
		e.mu.Unlock()
		if transport != nil {
			transport.Close(wsio.CloseAbnormal, "ping timeout")
		}
	})
}

func (e *Engine) dispatchPacket(p *parser.Packet) {
	if p.Data != nil && p.Data.Kind() == message.KindNull {
		return // the parser's stand-in for a malformed packet: a no-op
	}

	// parser.ConnectError falls through to onPacket just like parser.Connect
	// does: per §4.C.7 it must reach the issuing namespace's own Socket
	// (socket.go's onpacket handles it), not a connection-wide listener, so
	// it is routed the same way every other namespace-scoped packet is.
	switch p.Type {
	case parser.Connect:
		if p.Data != nil && p.Data.Kind() == message.KindObject {
			if sid := p.Data.Get("sid").String(); sid != "" {
				e.mu.Lock()
				e.sid = sid
				e.mu.Unlock()
			}
		}
	}

	for _, fn := range snapshotListeners(&e.listenersMu, e.onPacket) {
		fn(p)
	}
}

func (e *Engine) onTransportClose(ev wsio.CloseEvent) {
	e.mu.Lock()
	prevState := e.state
	reason := e.classifyClose(prevState, ev)
	e.codec.Reset()
	if e.pingTimer != nil {
		e.pingTimer.Stop()
	}
	if e.connectTimer != nil {
		e.connectTimer.Stop()
	}
	e.setState(Disconnected)
	e.disconnectReason = ClientDisconnect
	e.mu.Unlock()
	e.emitState(Disconnected)

	for _, fn := range snapshotListeners(&e.listenersMu, e.onClose) {
		fn(reason)
	}

	if reason != ClientDisconnect {
		e.maybeReconnect()
	}
}

func (e *Engine) classifyClose(prevState State, ev wsio.CloseEvent) DisconnectReason {
	if prevState == Closing || e.abortRetries {
		return ClientDisconnect
	}
	if e.disconnectReason == PingTimeout {
		r := PingTimeout
		e.disconnectReason = ClientDisconnect
		return r
	}
	switch ev.Code {
	case wsio.CloseNormal, wsio.CloseGoingAway:
		return ServerDisconnect
	default:
		return TransportError
	}
}

// maybeReconnect schedules the next attempt per §4.C.6, unless the user
// disabled reconnection or aborted retries via Close.
func (e *Engine) maybeReconnect() {
	e.mu.Lock()
	cfg := e.opts.reconnect()
	if !cfg.Enabled || e.abortRetries || e.reconnecting {
		e.mu.Unlock()
		return
	}

	if cfg.AttemptsMax > 0 && e.backoff.Attempts() >= cfg.AttemptsMax {
		e.backoff.Reset()
		e.mu.Unlock()
		for _, fn := range snapshotListeners(&e.listenersMu, e.onClose) {
			fn(MaxReconnectAttempts)
		}
		return
	}

	e.reconnecting = true
	delay := e.backoff.Duration()
	attempt := e.backoff.Attempts()
	e.setState(Reconnecting)
	e.mu.Unlock()
	e.emitState(Reconnecting)

	for _, fn := range snapshotListeners(&e.listenersMu, e.onReconnecting) {
		fn()
	}
	for _, fn := range snapshotListeners(&e.listenersMu, e.onReconnect) {
		fn(attempt, delay)
	}

	e.mu.Lock()
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
	}
	e.reconnectTimer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		aborted := e.abortRetries
		e.reconnecting = false
		e.mu.Unlock()
		if aborted {
			return
		}
		e.reconnectionCount.Add(1)
		// Connect already calls maybeReconnect via failConnect on every dial
		// failure path; calling it again here would double-invoke it with
		// e.reconnecting already reset above, re-arming a fresh attempt right
		// after an exhausted backoff reported MaxReconnectAttempts.
		e.Connect(context.Background())
	})
	e.mu.Unlock()
}

// Close transitions to Closing, sets the "abort retries" flag (§5), and
// tears down the transport. It always reports ClientDisconnect.
func (e *Engine) Close() {
	e.mu.Lock()
	e.abortRetries = true
	e.reconnecting = false
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
	}
	if e.pingTimer != nil {
		e.pingTimer.Stop()
	}
	if e.connectTimer != nil {
		e.connectTimer.Stop()
	}
	e.setState(Closing)
	transport := e.transport
	e.mu.Unlock()
	e.emitState(Closing)

	if transport != nil {
		transport.Close(wsio.CloseNormal, "forced close")
	} else {
		e.mu.Lock()
		e.setState(Disconnected)
		e.mu.Unlock()
		e.emitState(Disconnected)
		for _, fn := range snapshotListeners(&e.listenersMu, e.onClose) {
			fn(ClientDisconnect)
		}
	}
}

// setState must be called with e.mu held. It only mutates the field;
// callers are responsible for invoking emitState once e.mu is released, so
// no OnState listener ever runs while the engine lock is held.
func (e *Engine) setState(s State) {
	e.state = s
}

func (e *Engine) emitState(s State) {
	for _, fn := range snapshotListeners(&e.listenersMu, e.onState) {
		fn(s)
	}
}

// SendPacket encodes and writes p through the transport, counting it in
// the metrics snapshot.
func (e *Engine) SendPacket(p *parser.Packet) error {
	e.mu.Lock()
	transport := e.transport
	e.mu.Unlock()
	if transport == nil {
		return fmt.Errorf("engine: not connected")
	}
	text, binaries := e.codec.Encode(p)
	if err := transport.Write(false, text); err != nil {
		return err
	}
	for _, b := range binaries {
		if err := transport.Write(true, b); err != nil {
			return err
		}
	}
	e.packetsSent.Add(1)
	return nil
}

func (e *Engine) sendRaw(p *parser.Packet) {
	text, _ := e.codec.Encode(p)
	e.mu.Lock()
	transport := e.transport
	e.mu.Unlock()
	if transport != nil {
		transport.Write(false, text)
	}
}
