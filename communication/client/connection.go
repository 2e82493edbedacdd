package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chessboards/communication"
	"chessboards/meta"
	"chessboards/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrDestroyed          = errors.New("connection destroyed")
	ErrNotConnected       = errors.New("not connected")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrTooManyConnections = errors.New("too many open connections")
	ErrRetriesExhausted   = errors.New("send retries exhausted")
	ErrHeartbeatTimeout   = errors.New("heartbeat timed out")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Destroyed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Option func(c *Connection)

// WithClass groups connections that share a MaxConnections ceiling.
func WithClass(class string) Option {
	return func(c *Connection) {
		if class != "" {
			c.class = class
		}
	}
}

func WithDialer(d Dialer) Option {
	return func(c *Connection) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithAutoReconnect(enabled bool) Option {
	return func(c *Connection) {
		c.autoReconnect = enabled
	}
}

func WithReconnect(maxAttempts int, base, limit time.Duration) Option {
	return func(c *Connection) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if base > 0 {
			c.reconnectBase = base
		}
		if limit > 0 {
			c.reconnectMax = limit
		}
	}
}

// WithHeartbeat sets the ping interval and the pong deadline. A zero interval disables pings.
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Connection) {
		c.heartbeatInterval = interval
		if timeout > 0 {
			c.pongTimeout = timeout
		}
	}
}

// WithMaxRate caps outbound frames per second. Zero disables the limiter.
func WithMaxRate(perSecond int) Option {
	return func(c *Connection) {
		c.limiter = newTokenBucket(perSecond)
	}
}

func WithRetry(enabled bool, maxRetries int, base time.Duration) Option {
	return func(c *Connection) {
		c.retry = enabled
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		if base > 0 {
			c.retryBase = base
		}
	}
}

func WithMaxConnections(limit int) Option {
	return func(c *Connection) {
		if limit > 0 {
			c.maxConnections = limit
		}
	}
}

func WithTimeouts(dial, write time.Duration) Option {
	return func(c *Connection) {
		if dial > 0 {
			c.dialTimeout = dial
		}
		if write > 0 {
			c.writeTimeout = write
		}
	}
}

func WithMetrics(collector metrics.Collector) Option {
	return func(c *Connection) {
		if collector != nil {
			c.metrics = collector
		}
	}
}

// Connection keeps a websocket to the board server alive. Inbound frames are handed to the
// Handler in arrival order from one read goroutine per socket.
type Connection struct {
	id      string
	url     string
	handler communication.Handler
	dialer  Dialer
	metrics metrics.Collector
	limiter *tokenBucket
	ping    []byte

	class             string
	maxConnections    int
	autoReconnect     bool
	maxAttempts       int
	reconnectBase     time.Duration
	reconnectMax      time.Duration
	heartbeatInterval time.Duration
	pongTimeout       time.Duration
	retry             bool
	maxRetries        int
	retryBase         time.Duration
	dialTimeout       time.Duration
	writeTimeout      time.Duration

	mu             sync.Mutex
	state          State
	sock           Socket
	attempts       int
	reconnect      bool
	changed        chan struct{}
	heartbeatTimer *time.Timer
	pongTimer      *time.Timer
	reconnectTimer *time.Timer

	writeMu sync.Mutex
}

func NewConnection(url string, handler communication.Handler, options ...Option) *Connection {
	ping, err := communication.Encode(communication.Ping{})
	if err != nil {
		panic(fmt.Sprintf("failed to encode ping: %v", err))
	}
	c := &Connection{ // Default values
		id:                uuid.NewString(),
		url:               url,
		handler:           handler,
		dialer:            WebsocketDialer{},
		metrics:           metrics.NewDummyCollector(),
		limiter:           newTokenBucket(10),
		ping:              ping,
		class:             "default",
		maxConnections:    meta.MAX_CONNECTIONS,
		autoReconnect:     true,
		maxAttempts:       10,
		reconnectBase:     500 * time.Millisecond,
		reconnectMax:      30 * time.Second,
		heartbeatInterval: 20 * time.Second,
		pongTimeout:       10 * time.Second,
		retry:             true,
		maxRetries:        3,
		retryBase:         200 * time.Millisecond,
		dialTimeout:       10 * time.Second,
		writeTimeout:      10 * time.Second,
		changed:           make(chan struct{}),
	}
	for _, option := range options {
		option(c)
	}
	if handler == nil {
		panic("connection needs a handler")
	}
	c.reconnect = c.autoReconnect
	return c
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Connected() bool {
	return c.State() == Connected
}

// Attempts returns the number of reconnects tried since the last successful connect.
func (c *Connection) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect opens the socket. The per-class ceiling is checked before dialing, so a refused
// connect never holds a slot.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Destroyed:
		c.mu.Unlock()
		return ErrDestroyed
	case Connected, Connecting:
		c.mu.Unlock()
		return nil
	}
	if err := reserve(c.class, c.maxConnections); err != nil {
		// A full class only delays a pending reconnect; it counts as one attempt.
		c.scheduleReconnectLocked(false)
		c.mu.Unlock()
		return err
	}
	c.state = Connecting
	c.reconnect = c.autoReconnect
	c.stopTimer(&c.reconnectTimer)
	c.signalLocked()
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	sock, err := c.dialer.Dial(dialCtx, c.url)
	cancel()

	c.mu.Lock()
	if err != nil {
		release(c.class)
		if c.state == Connecting {
			c.state = Disconnected
		}
		c.scheduleReconnectLocked(true)
		c.signalLocked()
		c.mu.Unlock()
		log.Warn().Str("conn", c.id).Err(err).Msgf("failed to connect to %s", c.url)
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	if c.state != Connecting { // Disconnected or destroyed while dialing
		release(c.class)
		c.mu.Unlock()
		sock.Close()
		return ErrConnectionClosed
	}
	c.state = Connected
	c.sock = sock
	c.attempts = 0
	c.scheduleHeartbeatLocked()
	c.signalLocked()
	c.mu.Unlock()

	c.metrics.AddConnect()
	log.Info().Str("conn", c.id).Str("class", c.class).Msgf("connected to %s", c.url)

	c.handler.HandleOpen()
	go c.readLoop(sock)
	return nil
}

// Disconnect closes the socket and turns auto-reconnect off until the next Connect.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.reconnect = false
	c.stopTimer(&c.reconnectTimer)
	if c.state == Connecting {
		c.state = Disconnected
	}
	sock := c.sock
	c.signalLocked()
	c.mu.Unlock()

	if sock == nil || !c.closeWith(sock, nil) {
		c.handler.HandleClose(nil)
	}
}

// Destroy closes the socket for good. Every later call fails with ErrDestroyed.
func (c *Connection) Destroy() {
	c.mu.Lock()
	if c.state == Destroyed {
		c.mu.Unlock()
		return
	}
	c.state = Destroyed
	c.reconnect = false
	c.stopTimer(&c.reconnectTimer)
	sock := c.sock
	c.signalLocked()
	c.mu.Unlock()

	log.Info().Str("conn", c.id).Msg("connection destroyed")
	if sock == nil || !c.closeWith(sock, nil) {
		c.handler.HandleClose(nil)
	}
}

func (c *Connection) readLoop(sock Socket) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			c.closeWith(sock, err)
			return
		}
		c.handler.HandleMessage(data)
	}
}

// closeWith tears sock down if it is still the live socket and reports whether it was.
// A nil cause marks an intentional close.
func (c *Connection) closeWith(sock Socket, cause error) bool {
	c.mu.Lock()
	if c.sock == nil || c.sock != sock {
		c.mu.Unlock()
		return false
	}
	c.sock = nil
	if c.state != Destroyed {
		c.state = Disconnected
	}
	release(c.class)
	c.stopTimer(&c.heartbeatTimer)
	c.stopTimer(&c.pongTimer)
	c.scheduleReconnectLocked(cause != nil && !cleanClose(cause))
	c.signalLocked()
	c.mu.Unlock()

	sock.Close()
	c.metrics.AddDisconnect()
	if cause != nil {
		log.Warn().Str("conn", c.id).Err(cause).Msg("connection lost")
	} else {
		log.Info().Str("conn", c.id).Msg("connection closed")
	}
	c.handler.HandleClose(cause)
	return true
}

// cleanClose reports whether the server ended the session with a normal close frame.
func cleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func (c *Connection) scheduleReconnectLocked(errored bool) {
	if !c.reconnect || c.state == Destroyed || c.reconnectTimer != nil {
		return
	}
	c.attempts++
	if c.attempts > c.maxAttempts {
		log.Error().Str("conn", c.id).Msgf("giving up after %d reconnect attempts", c.maxAttempts)
		return
	}
	delay := backoff(c.attempts, c.reconnectBase, c.reconnectMax, errored)
	log.Info().Str("conn", c.id).Msgf("reconnect attempt %d in %s", c.attempts, delay)

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.reconnectTimer != timer {
			c.mu.Unlock()
			return
		}
		c.reconnectTimer = nil
		c.mu.Unlock()

		c.metrics.AddReconnect()
		if err := c.Connect(context.Background()); err != nil {
			log.Debug().Str("conn", c.id).Err(err).Msg("reconnect failed")
		}
	})
	c.reconnectTimer = timer
}

// ReconnectScheduled reports whether a reconnect timer is armed.
func (c *Connection) ReconnectScheduled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectTimer != nil
}

func (c *Connection) scheduleHeartbeatLocked() {
	if c.heartbeatInterval <= 0 || c.sock == nil {
		return
	}
	sock := c.sock
	c.heartbeatTimer = time.AfterFunc(c.heartbeatInterval, func() {
		c.sendHeartbeat(sock)
	})
}

func (c *Connection) sendHeartbeat(sock Socket) {
	c.mu.Lock()
	if c.sock != sock {
		c.mu.Unlock()
		return
	}
	c.heartbeatTimer = nil
	c.stopTimer(&c.pongTimer)
	c.pongTimer = time.AfterFunc(c.pongTimeout, func() {
		c.closeWith(sock, ErrHeartbeatTimeout)
	})
	c.mu.Unlock()

	if err := c.write(sock, c.ping); err != nil {
		c.closeWith(sock, err)
	}
}

// ReceivedPong disarms the pong deadline and schedules the next ping.
func (c *Connection) ReceivedPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pongTimer == nil {
		return
	}
	c.stopTimer(&c.pongTimer)
	if c.state == Connected && c.heartbeatTimer == nil {
		c.scheduleHeartbeatLocked()
	}
}

// Send writes one frame, waiting for the connection and for the rate limiter. With retry
// enabled, failures are retried with backoff; ErrDestroyed and context errors are final.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	attempts := 1
	if c.retry {
		attempts += c.maxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.sendOnce(ctx, data)
		if err == nil {
			c.metrics.AddFrameSent()
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		c.metrics.AddSendRetry()
		delay := backoff(attempt, c.retryBase, c.reconnectMax, false)
		log.Debug().Str("conn", c.id).Err(err).Msgf("send failed, retrying in %s", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if !c.retry {
		return lastErr
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

func retryable(err error) bool {
	return !errors.Is(err, ErrDestroyed) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (c *Connection) sendOnce(ctx context.Context, data []byte) error {
	sock, err := c.waitReady(ctx)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := c.write(sock, data); err != nil {
		c.closeWith(sock, err)
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return nil
}

// waitReady blocks while a connect or reconnect is in flight.
func (c *Connection) waitReady(ctx context.Context) (Socket, error) {
	for {
		c.mu.Lock()
		state, sock, changed := c.state, c.sock, c.changed
		reconnecting := c.reconnectTimer != nil
		c.mu.Unlock()

		switch {
		case state == Destroyed:
			return nil, ErrDestroyed
		case state == Connected:
			return sock, nil
		case state == Disconnected && !reconnecting:
			return nil, ErrNotConnected
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

func (c *Connection) write(sock Socket, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := sock.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return sock.WriteMessage(websocket.BinaryMessage, data)
}

// signalLocked wakes every waitReady caller.
func (c *Connection) signalLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Connection) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
