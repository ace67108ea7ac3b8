package socket

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/havenshade/sockrose/engine"
	"github.com/havenshade/sockrose/message"
	"github.com/havenshade/sockrose/metrics"
	"github.com/havenshade/sockrose/parser"
)

// globalAckID is the process-wide monotonic ack-id counter (P9): every
// Socket in the process draws from the same sequence, so two sockets on
// the same Client can never collide on an in-flight ack id.
var globalAckID atomic.Uint32

func nextAckID() uint32 { return globalAckID.Add(1) - 1 }

// Namespace connect/close timer durations (§4.D.1, §4.D.6), grounded on
// the original implementation's socket::impl::send_connect/close
// (sio_socket.cpp), which reuses a single connection timer for both. Vars,
// not consts, so tests can shrink them instead of waiting out the real
// 20s/3s.
var (
	namespaceConnectTimeout = 20 * time.Second
	namespaceCloseGrace     = 3 * time.Second
)

// reservedEvents mirrors the teacher's RESERVED_EVENTS set: names a caller
// may never Emit, since the namespace sub-protocol and this package's own
// bookkeeping already use them.
var reservedEvents = map[string]bool{
	"connect":        true,
	"connect_error":  true,
	"disconnect":     true,
	"disconnecting":  true,
	"newListener":    true,
	"removeListener": true,
}

// Handler receives an event's arguments. It never sees an ack id; a
// handler registered with On cannot reply even if the server requested an
// acknowledgement (§4.D.4).
type Handler func(args message.List)

// AckHandler receives an event's arguments plus a reply func. reply is
// nil if the server did not attach an ack id to this event; calling reply
// more than once is a no-op (§4.D.4's "auto-ack variant").
type AckHandler func(args message.List, reply func(message.List))

type queuedPacket struct {
	id       uint64
	event    string
	args     message.List
	flags    Flags
	ack      func(message.List, error)
	pending  bool
	tryCount int
}

// Socket is the fundamental handle for interacting with one namespace of
// a server, multiplexed over its Client's shared connection (component D).
//
// Grounded on the teacher's socket.go: the same receive/send buffering
// around the namespace CONNECT handshake, the same ack table and
// send-with-retry queue, rebuilt against this module's own parser.Packet
// and message.Message instead of the zishang520 parser and bare []any.
type Socket struct {
	client *Client
	nsp    string
	opts   *SocketOptions

	mu           sync.Mutex
	id           string
	connected    bool
	active       bool // subscribed to client events; false once destroyed
	pid          string
	lastOffset   string
	receiveBuf   []*parser.Packet
	sendBuf      []*parser.Packet
	queue        []*queuedPacket
	queueSeq     uint64
	nextFlags    Flags
	connectTimer *time.Timer // armed on CONNECT send, §4.D.1
	closeTimer   *time.Timer // armed on Close/Disconnect send, §4.D.6

	acksMu sync.Mutex
	acks   map[uint32]func(message.List, error)

	listenersMu   sync.Mutex
	listeners     map[string][]Handler
	ackListeners  map[string][]AckHandler
	anyListeners  []func(event string, args message.List)
	anyOutgoing   []func(event string, args message.List)
	errorHandlers []func(error)
}

func newSocket(c *Client, nsp string, opts *SocketOptions) *Socket {
	if opts == nil {
		opts = DefaultSocketOptions()
	}
	s := &Socket{
		client:       c,
		nsp:          nsp,
		opts:         opts,
		acks:         map[uint32]func(message.List, error){},
		listeners:    map[string][]Handler{},
		ackListeners: map[string][]AckHandler{},
	}
	return s
}

// GetNamespace returns the namespace path this socket is bound to.
func (s *Socket) GetNamespace() string { return s.nsp }

// Connected reports whether the namespace CONNECT handshake has completed.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ID returns the server-assigned socket id, valid only while Connected.
func (s *Socket) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// GetMetrics returns the shared connection's metrics snapshot (§6); it is
// not specific to this namespace.
func (s *Socket) GetMetrics() metrics.Metrics {
	return s.client.GetMetrics()
}

// Volatile marks the next Emit's packet as droppable if the transport is
// not currently writable.
func (s *Socket) Volatile() *Socket {
	s.mu.Lock()
	s.nextFlags.Volatile = true
	s.mu.Unlock()
	return s
}

// Timeout sets how long the next Emit's ack callback waits before firing
// with a timeout error.
func (s *Socket) Timeout(d time.Duration) *Socket {
	s.mu.Lock()
	s.nextFlags.Timeout = &d
	s.mu.Unlock()
	return s
}

func (s *Socket) takeFlags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.nextFlags
	s.nextFlags = Flags{}
	return f
}

// On registers a plain event listener (§4.D.4).
func (s *Socket) On(event string, fn Handler) *Socket {
	s.listenersMu.Lock()
	s.listeners[event] = append(s.listeners[event], fn)
	s.listenersMu.Unlock()
	return s
}

// OnWithAck registers a listener that may reply to a server-requested
// acknowledgement.
func (s *Socket) OnWithAck(event string, fn AckHandler) *Socket {
	s.listenersMu.Lock()
	s.ackListeners[event] = append(s.ackListeners[event], fn)
	s.listenersMu.Unlock()
	return s
}

// OnAny registers a catch-all listener invoked for every received event,
// including ones with a dedicated On/OnWithAck listener.
func (s *Socket) OnAny(fn func(event string, args message.List)) *Socket {
	s.listenersMu.Lock()
	s.anyListeners = append(s.anyListeners, fn)
	s.listenersMu.Unlock()
	return s
}

// OnAnyOutgoing registers a catch-all listener invoked with the name and
// arguments of every emitted event.
func (s *Socket) OnAnyOutgoing(fn func(event string, args message.List)) *Socket {
	s.listenersMu.Lock()
	s.anyOutgoing = append(s.anyOutgoing, fn)
	s.listenersMu.Unlock()
	return s
}

// Off removes all listeners (plain and ack-aware) registered for event.
func (s *Socket) Off(event string) *Socket {
	s.listenersMu.Lock()
	delete(s.listeners, event)
	delete(s.ackListeners, event)
	s.listenersMu.Unlock()
	return s
}

// OffAll removes every event listener on this socket, including any and
// any-outgoing catch-alls.
func (s *Socket) OffAll() *Socket {
	s.listenersMu.Lock()
	s.listeners = map[string][]Handler{}
	s.ackListeners = map[string][]AckHandler{}
	s.anyListeners = nil
	s.anyOutgoing = nil
	s.listenersMu.Unlock()
	return s
}

// OnError registers a listener for connect_error events local to this
// namespace.
func (s *Socket) OnError(fn func(error)) *Socket {
	s.listenersMu.Lock()
	s.errorHandlers = append(s.errorHandlers, fn)
	s.listenersMu.Unlock()
	return s
}

// OffError removes every connect_error listener.
func (s *Socket) OffError() *Socket {
	s.listenersMu.Lock()
	s.errorHandlers = nil
	s.listenersMu.Unlock()
	return s
}

// Emit fires an event at the server. If the socket's SocketOptions
// configure retries and this isn't a queue-drain or volatile send, the
// packet is queued and sent one-at-a-time with at-least-once retry
// (§4.D.2).
func (s *Socket) Emit(event string, args ...*message.Message) error {
	return s.emit(event, message.List(args), nil, s.takeFlags())
}

// EmitWithAck fires an event and blocks for the server's acknowledgement,
// honoring Timeout/SocketOptions.AckTimeout if set.
func (s *Socket) EmitWithAck(event string, args ...*message.Message) (message.List, error) {
	result := make(chan struct {
		args message.List
		err  error
	}, 1)
	err := s.emit(event, message.List(args), func(a message.List, e error) {
		result <- struct {
			args message.List
			err  error
		}{a, e}
	}, s.takeFlags())
	if err != nil {
		return nil, err
	}
	r := <-result
	return r.args, r.err
}

// EmitAsync fires an event and invokes ack asynchronously when the server
// replies (or on timeout/disconnection, with a non-nil error).
func (s *Socket) EmitAsync(event string, ack func(message.List, error), args ...*message.Message) error {
	return s.emit(event, message.List(args), ack, s.takeFlags())
}

// emit sends event with the given flags, queuing it for retry first when
// the socket's options ask for at-least-once delivery. Queue drains call
// emitDirect instead, since the packet has already passed the gate once.
func (s *Socket) emit(event string, args message.List, ack func(message.List, error), flags Flags) error {
	if reservedEvents[event] {
		return fmt.Errorf("socket: %q is a reserved event name", event)
	}

	if s.opts.Retries() > 0 && !flags.Volatile {
		s.addToQueue(event, args, flags, ack)
		return nil
	}

	return s.emitDirect(event, args, ack, flags)
}

func (s *Socket) emitDirect(event string, args message.List, ack func(message.List, error), flags Flags) error {

	p := &parser.Packet{Frame: parser.FrameMessage, Type: parser.Event, Nsp: s.nsp, Data: args.ToArray(event)}
	if ack != nil {
		id := nextAckID()
		p.AckID = &id
		s.registerAck(id, ack, flags)
	}

	for _, fn := range s.snapshotAnyOutgoing() {
		fn(event, args)
	}

	s.mu.Lock()
	canSendNow := s.connected && !s.client.pingExpired()
	volatileDrop := flags.Volatile && !s.client.transportWritable()
	if volatileDrop {
		s.mu.Unlock()
		return nil
	}
	if canSendNow {
		s.mu.Unlock()
		return s.client.sendPacket(p)
	}
	s.sendBuf = append(s.sendBuf, p)
	s.mu.Unlock()
	return nil
}

func (s *Socket) snapshotAnyOutgoing() []func(string, message.List) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	return append([]func(string, message.List){}, s.anyOutgoing...)
}

func (s *Socket) snapshotAny() []func(string, message.List) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	return append([]func(string, message.List){}, s.anyListeners...)
}

// registerAck stores the callback keyed by id, arming an optional timer
// from the per-emit Timeout flag or the socket's default AckTimeout
// (§4.D.2, P4).
func (s *Socket) registerAck(id uint32, ack func(message.List, error), flags Flags) {
	timeout := flags.Timeout
	if timeout == nil {
		t := s.opts.AckTimeout()
		if t > 0 {
			timeout = &t
		}
	}

	s.acksMu.Lock()
	if timeout == nil {
		s.acks[id] = ack
		s.acksMu.Unlock()
		return
	}
	s.acksMu.Unlock()

	timer := time.AfterFunc(*timeout, func() {
		s.acksMu.Lock()
		_, ok := s.acks[id]
		delete(s.acks, id)
		s.acksMu.Unlock()
		if ok {
			ack(nil, errors.New("socket: ack timed out"))
		}
	})
	s.acksMu.Lock()
	s.acks[id] = func(args message.List, err error) {
		timer.Stop()
		ack(args, err)
	}
	s.acksMu.Unlock()
}

// addToQueue enqueues an emit for at-least-once delivery, retried on
// every failed ack up to SocketOptions.Retries() times before the
// callback is invoked with an error (§4.D.2).
func (s *Socket) addToQueue(event string, args message.List, flags Flags, userAck func(message.List, error)) {
	s.mu.Lock()
	qp := &queuedPacket{id: s.queueSeq, event: event, args: args, flags: flags, ack: userAck}
	s.queueSeq++
	s.queue = append(s.queue, qp)
	s.mu.Unlock()
	s.drainQueue(false)
}

func (s *Socket) drainQueue(force bool) {
	s.mu.Lock()
	if !s.connected || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	qp := s.queue[0]
	if !force && qp.pending {
		s.mu.Unlock()
		return
	}
	qp.pending = true
	qp.tryCount++
	s.mu.Unlock()

	internalAck := func(args message.List, err error) {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0] != qp {
			s.mu.Unlock()
			return
		}
		if err != nil && qp.tryCount <= s.opts.Retries() {
			qp.pending = false
			s.mu.Unlock()
			s.drainQueue(false)
			return
		}
		s.queue = s.queue[1:]
		s.mu.Unlock()
		if qp.ack != nil {
			qp.ack(args, err)
		}
		s.drainQueue(false)
	}

	s.emitDirect(qp.event, qp.args, internalAck, qp.flags)
}

// Connect opens this namespace socket: it subscribes to the shared
// Client's lifecycle events and, once the underlying engine is connected,
// sends the namespace CONNECT packet.
func (s *Socket) Connect() *Socket {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return s
	}
	s.active = true
	engineConnected := s.client.engine().State() == engine.Connected
	s.mu.Unlock()

	if engineConnected {
		s.onopen()
	} else {
		s.client.ensureConnecting()
	}
	return s
}

// Open is an alias for Connect, matching the teacher's naming.
func (s *Socket) Open() *Socket { return s.Connect() }

// Active reports whether this socket will try to reconnect alongside its
// Client.
func (s *Socket) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Socket) onopen() {
	auth := s.opts.Auth()
	if s.pid != "" {
		if auth == nil {
			auth = message.NewObject()
		}
		auth.Set("pid", message.NewString(s.pid))
		auth.Set("offset", message.NewString(s.lastOffset))
	}
	s.client.sendPacket(&parser.Packet{Frame: parser.FrameMessage, Type: parser.Connect, Nsp: s.nsp, Data: auth})

	s.mu.Lock()
	if s.connectTimer != nil {
		s.connectTimer.Stop()
	}
	s.connectTimer = time.AfterFunc(namespaceConnectTimeout, s.onConnectTimeout)
	s.mu.Unlock()
}

// onConnectTimeout fires when no CONNECT response arrives within
// namespaceConnectTimeout of sending one (§4.D.1). If onconnect takes the
// mutex first, the connected check below makes this a no-op; a CONNECT
// response that arrives after this has run is still handled by onconnect.
func (s *Socket) onConnectTimeout() {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return
	}
	s.connectTimer = nil
	s.mu.Unlock()
	s.emitError(fmt.Errorf("socket: namespace %s: connect timed out", s.nsp))
	s.destroy()
}

func (s *Socket) onpacket(p *parser.Packet) {
	switch p.Type {
	case parser.Connect:
		var sid, pid string
		if p.Data != nil && p.Data.Kind() == message.KindObject {
			sid = p.Data.Get("sid").String()
			pid = p.Data.Get("pid").String()
		}
		s.onconnect(sid, pid)
	case parser.Event, parser.BinaryEvent:
		s.onevent(p)
	case parser.Ack, parser.BinaryAck:
		s.onack(p)
	case parser.Disconnect:
		s.ondisconnect()
	case parser.ConnectError:
		s.destroy()
		reason := "connection refused"
		if p.Data != nil && p.Data.Kind() == message.KindObject {
			if m := p.Data.Get("message"); m.Kind() == message.KindString {
				reason = m.String()
			}
		}
		s.emitError(fmt.Errorf("socket: namespace %s: %s", s.nsp, reason))
	}
}

func (s *Socket) onevent(p *parser.Packet) {
	event, args := message.FromArray(p.Data)

	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()

	if !connected {
		s.mu.Lock()
		s.receiveBuf = append(s.receiveBuf, p)
		s.mu.Unlock()
		return
	}
	s.dispatchEvent(event, args, p.AckID)
}

func (s *Socket) dispatchEvent(event string, args message.List, ackID *uint32) {
	for _, fn := range s.snapshotAny() {
		fn(event, args)
	}

	s.listenersMu.Lock()
	plain := append([]Handler(nil), s.listeners[event]...)
	withAck := append([]AckHandler(nil), s.ackListeners[event]...)
	s.listenersMu.Unlock()

	for _, fn := range plain {
		fn(args)
	}

	var reply func(message.List)
	if ackID != nil {
		id := *ackID
		var once sync.Once
		reply = func(replyArgs message.List) {
			once.Do(func() {
				s.client.sendPacket(&parser.Packet{
					Frame: parser.FrameMessage,
					Type:  parser.Ack,
					Nsp:   s.nsp,
					AckID: &id,
					Data:  replyArgs.ToArray(""),
				})
			})
		}
	}
	for _, fn := range withAck {
		fn(args, reply)
	}

	if s.pid != "" && len(args) > 0 {
		if last := args[len(args)-1]; last.Kind() == message.KindString {
			s.mu.Lock()
			s.lastOffset = last.String()
			s.mu.Unlock()
		}
	}
}

func (s *Socket) onack(p *parser.Packet) {
	if p.AckID == nil {
		return
	}
	s.acksMu.Lock()
	ack, ok := s.acks[*p.AckID]
	if ok {
		delete(s.acks, *p.AckID)
	}
	s.acksMu.Unlock()
	if !ok {
		return
	}
	// An ACK payload is the plain argument array, with no event name.
	ack(message.List(p.Data.Array()), nil)
}

func (s *Socket) onconnect(id, pid string) {
	s.mu.Lock()
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	s.id = id
	s.connected = true
	recoveredPid := pid != "" && s.pid == pid
	s.pid = pid
	buffered := s.receiveBuf
	s.receiveBuf = nil
	toSend := s.sendBuf
	s.sendBuf = nil
	s.mu.Unlock()
	_ = recoveredPid

	for _, p := range buffered {
		event, args := message.FromArray(p.Data)
		s.dispatchEvent(event, args, p.AckID)
	}
	for _, p := range toSend {
		for _, fn := range s.snapshotAnyOutgoing() {
			event, args := message.FromArray(p.Data)
			fn(event, args)
		}
		s.client.sendPacket(p)
	}

	s.dispatchEvent("connect", nil, nil)
	s.client.notifySocketOpen(s.nsp)
	s.drainQueue(true)
}

func (s *Socket) onclose(reason engine.DisconnectReason) {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.id = ""
	s.mu.Unlock()
	if !wasConnected {
		return
	}
	s.dispatchEvent("disconnect", message.List{message.NewString(reason.String())}, nil)
	s.clearAcks(errors.New("socket: disconnected"))
	s.client.notifySocketClose(s.nsp, reason)
}

// ondisconnect handles an inbound DISCONNECT packet. A server-initiated
// disconnect arrives this way; it is also how the server confirms a
// client-initiated Disconnect/Close, which is why it shares finalizeClose
// with the grace timer instead of finalizing independently (§4.D.6).
func (s *Socket) ondisconnect() {
	s.finalizeClose(engine.ServerDisconnect)
}

// finalizeClose stops any pending connect/close timer, deactivates the
// socket, and fires the "disconnect" event. It is idempotent: both the
// grace timer firing and a server DISCONNECT arriving first both call it,
// and only the first call has any effect.
func (s *Socket) finalizeClose(reason engine.DisconnectReason) {
	s.mu.Lock()
	done := !s.active && !s.connected
	s.mu.Unlock()
	if done {
		return
	}
	s.destroy()
	s.onclose(reason)
}

func (s *Socket) clearAcks(err error) {
	s.acksMu.Lock()
	pending := s.acks
	s.acks = map[uint32]func(message.List, error){}
	s.acksMu.Unlock()
	for _, ack := range pending {
		ack(nil, err)
	}
}

func (s *Socket) emitError(err error) {
	s.listenersMu.Lock()
	handlers := append([]func(error){}, s.errorHandlers...)
	s.listenersMu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}

// destroy stops this socket from participating in the shared Client's
// reconnection lifecycle and cancels any outstanding connect/close timer,
// without itself touching the transport.
func (s *Socket) destroy() {
	s.mu.Lock()
	s.active = false
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	if s.closeTimer != nil {
		s.closeTimer.Stop()
		s.closeTimer = nil
	}
	s.mu.Unlock()
	s.client.forgetSocketIfIdle(s.nsp)
}

// Disconnect disconnects this namespace manually; unlike a server-initiated
// disconnect, the socket will not try to reconnect. Per §4.D.6, it sends a
// DISCONNECT packet and arms a grace timer rather than finalizing
// immediately: the namespace is only actually torn down once the server
// confirms (an inbound DISCONNECT, handled by ondisconnect) or the grace
// timer fires first, whichever happens sooner. Grounded on the original
// implementation's socket::impl::close (sio_socket.cpp), which reuses its
// connection timer the same way.
func (s *Socket) Disconnect() *Socket {
	s.mu.Lock()
	wasConnected := s.connected
	s.mu.Unlock()
	if !wasConnected {
		s.destroy()
		return s
	}

	s.client.sendPacket(&parser.Packet{Frame: parser.FrameMessage, Type: parser.Disconnect, Nsp: s.nsp})

	s.mu.Lock()
	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}
	s.closeTimer = time.AfterFunc(namespaceCloseGrace, func() { s.finalizeClose(engine.ClientDisconnect) })
	s.mu.Unlock()
	return s
}

// Close is an alias for Disconnect.
func (s *Socket) Close() *Socket { return s.Disconnect() }
