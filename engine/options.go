package engine

import (
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/havenshade/sockrose/message"
	"github.com/havenshade/sockrose/wsio"
)

// LogVerbosity selects how chatty the engine's logger is, per the public
// surface's "logs verbosity {default, quiet, verbose}" (§6).
type LogVerbosity int

const (
	LogDefault LogVerbosity = iota
	LogQuiet
	LogVerbose
)

// ReconnectConfig is the §4.C.6 reconnection configuration.
type ReconnectConfig struct {
	Enabled        bool
	AttemptsMax    int // <=0 means unlimited
	DelayInitialMs int
	DelayMaxMs     int
}

// DefaultReconnectConfig matches the defaults the teacher's Manager ships
// (manager.go's Construct): enabled, unlimited attempts, 1s initial delay,
// 5s max delay.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Enabled:        true,
		AttemptsMax:    0,
		DelayInitialMs: 1000,
		DelayMaxMs:     5000,
	}
}

// TransportFactory builds a fresh, unconnected transport for each connect
// attempt. Tests substitute a factory returning a *wsio.FakeTransport.
type TransportFactory func() wsio.Transport

// Options configures an Engine.
type Options struct {
	URI     string
	Path    string // defaults to "/socket.io/"
	Query   url.Values
	Headers http.Header
	Auth    *message.Message // not read by the engine or the socket package; namespace sockets send their SocketOptions auth
	Proxy   *wsio.Proxy

	// Reconnect configures automatic reconnection. Leave nil to accept
	// DefaultReconnectConfig(); pass &ReconnectConfig{Enabled: false} to
	// disable reconnection outright (the zero value of ReconnectConfig is
	// itself a valid, explicit "disabled" config, so this option can't be
	// a plain struct without losing the "unset" case).
	Reconnect *ReconnectConfig

	// ConnectTimeout bounds how long the engine waits for the transport to
	// open and hand back a handshake before failing the attempt.
	ConnectTimeout time.Duration

	LogVerbosity LogVerbosity
	Logger       *zap.SugaredLogger

	NewTransport TransportFactory

	// now is overridable for deterministic tests; nil means time.Now.
	now func() time.Time
}

func (o *Options) nowFunc() func() time.Time {
	if o.now != nil {
		return o.now
	}
	return time.Now
}

func (o *Options) logger() *zap.SugaredLogger {
	if o.Logger != nil {
		return o.Logger
	}
	switch o.LogVerbosity {
	case LogVerbose:
		l, _ := zap.NewDevelopment()
		return l.Sugar()
	case LogQuiet:
		return zap.NewNop().Sugar()
	default:
		l, _ := zap.NewProduction()
		return l.Sugar()
	}
}

func (o *Options) transportFactory() TransportFactory {
	if o.NewTransport != nil {
		return o.NewTransport
	}
	return func() wsio.Transport { return wsio.NewWebSocketTransport(o.logger()) }
}

func (o *Options) connectTimeout() time.Duration {
	if o.ConnectTimeout > 0 {
		return o.ConnectTimeout
	}
	return 20 * time.Second
}

func (o *Options) reconnect() ReconnectConfig {
	if o.Reconnect == nil {
		return DefaultReconnectConfig()
	}
	return *o.Reconnect
}
