package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/everhouse/clubsync/internal/model"
)

// Session is the slice of the session resolver the connection gate needs.
type Session interface {
	Checked() bool
	Effective() *model.MemberProfile
}

// ConnOptions configures the push-channel supervisor.
type ConnOptions struct {
	URL     string
	Session Session
	Handler func(ev Event)
	Logger  *slog.Logger

	PingInterval  time.Duration
	ReadTimeout   time.Duration
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	Dialer *websocket.Dialer
}

// Conn owns the single WebSocket to the push channel. The socket exists
// only while the gate holds: session resolved and the effective identity
// privileged. Role loss, view-as to a plain member, and logout all tear
// the socket down; Evaluate re-checks the gate and reconnects when it
// holds again.
type Conn struct {
	url     string
	session Session
	handler func(Event)
	logger  *slog.Logger
	dialer  *websocket.Dialer

	pingInterval  time.Duration
	readTimeout   time.Duration
	reconnectBase time.Duration
	reconnectMax  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	closed  bool
}

// NewConn creates a supervisor. No socket is opened until Evaluate finds
// the gate open.
func NewConn(opts ConnOptions) *Conn {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = opts.PingInterval * 2
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Conn{
		url:           opts.URL,
		session:       opts.Session,
		handler:       opts.Handler,
		logger:        opts.Logger,
		dialer:        opts.Dialer,
		pingInterval:  opts.PingInterval,
		readTimeout:   opts.ReadTimeout,
		reconnectBase: opts.ReconnectBase,
		reconnectMax:  opts.ReconnectMax,
	}
}

// gateOpen reports whether the push channel should exist right now.
func (c *Conn) gateOpen() bool {
	if !c.session.Checked() {
		return false
	}
	eff := c.session.Effective()
	return eff != nil && eff.Role.IsPrivileged()
}

// Evaluate reconciles the connection with the gate. Called after every
// session change.
func (c *Conn) Evaluate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	open := c.gateOpen()
	switch {
	case open && !c.running:
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.running = true
		go c.supervise(ctx)
	case !open && c.running:
		c.logger.Info("push channel gate closed, disconnecting")
		c.cancel()
		c.running = false
	}
}

// Running reports whether the supervisor loop is active.
func (c *Conn) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Close tears the connection down permanently.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.running {
		c.cancel()
		c.running = false
	}
}

// supervise dials and reads until ctx is cancelled, reconnecting with
// capped linear backoff. The gate is re-checked before every dial.
func (c *Conn) supervise(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if !c.gateOpen() {
			c.Evaluate()
			return
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn("push channel disconnected", "error", err)
		}

		attempt++
		delay := time.Duration(attempt) * c.reconnectBase
		if delay > c.reconnectMax {
			delay = c.reconnectMax
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runOnce holds one socket open: ping on an interval, read frames, hand
// parsed events to the handler.
func (c *Conn) runOnce(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	c.logger.Info("push channel connected", "url", c.url)

	_ = ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = ws.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := ParseEvent(frame)
		if err != nil {
			c.logger.Warn("dropping push frame", "error", err)
			continue
		}
		c.handler(ev)
	}
}
