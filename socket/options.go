package socket

import (
	"time"

	"github.com/havenshade/sockrose/message"
)

// SocketOptionsInterface is the accessor-triple surface (SetX/GetRawX/X)
// the teacher's socket-options.go uses throughout: GetRawX distinguishes
// "never set" from "set to the zero value" so Assign can merge one
// options value into another without clobbering explicit zeros.
type SocketOptionsInterface interface {
	SetAuth(*message.Message)
	GetRawAuth() *message.Message
	Auth() *message.Message

	SetRetries(int)
	GetRawRetries() *int
	Retries() int

	SetAckTimeout(time.Duration)
	GetRawAckTimeout() *time.Duration
	AckTimeout() time.Duration
}

// SocketOptions configures one namespace socket: the CONNECT auth payload,
// the at-least-once retry budget for queued emits, and the default ack
// wait before a callback is invoked with a timeout error.
type SocketOptions struct {
	auth       *message.Message
	retries    *int
	ackTimeout *time.Duration
}

func DefaultSocketOptions() *SocketOptions {
	return &SocketOptions{}
}

func (s *SocketOptions) Assign(data SocketOptionsInterface) *SocketOptions {
	if data == nil {
		return s
	}
	if data.GetRawAuth() != nil {
		s.SetAuth(data.Auth())
	}
	if data.GetRawRetries() != nil {
		s.SetRetries(data.Retries())
	}
	if data.GetRawAckTimeout() != nil {
		s.SetAckTimeout(data.AckTimeout())
	}
	return s
}

func (s *SocketOptions) SetAuth(auth *message.Message) { s.auth = auth }
func (s *SocketOptions) GetRawAuth() *message.Message  { return s.auth }
func (s *SocketOptions) Auth() *message.Message        { return s.auth }

func (s *SocketOptions) SetRetries(retries int) { s.retries = &retries }
func (s *SocketOptions) GetRawRetries() *int    { return s.retries }
func (s *SocketOptions) Retries() int {
	if s.retries != nil {
		return *s.retries
	}
	return 0
}

func (s *SocketOptions) SetAckTimeout(d time.Duration) { s.ackTimeout = &d }
func (s *SocketOptions) GetRawAckTimeout() *time.Duration {
	return s.ackTimeout
}
func (s *SocketOptions) AckTimeout() time.Duration {
	if s.ackTimeout != nil {
		return *s.ackTimeout
	}
	return 0
}

// Flags are per-emit modifiers, consumed and reset after a single Emit
// call (teacher's socket.go Flags / Volatile / Timeout).
type Flags struct {
	Volatile bool
	Timeout  *time.Duration
}
