package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errMockBroken = errors.New("mock socket broken")

type mockSocket struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	readErr  error
	writeErr error
}

func newMockSocket() *mockSocket {
	return &mockSocket{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (s *mockSocket) ReadMessage() (int, []byte, error) {
	select {
	case data := <-s.inbound:
		return 2, data, nil
	case <-s.closed:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.readErr != nil {
			return 0, nil, s.readErr
		}
		return 0, nil, errors.New("use of closed connection")
	}
}

func (s *mockSocket) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.written = append(s.written, append([]byte(nil), data...))
	return nil
}

func (s *mockSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *mockSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// fail simulates the server side breaking the connection.
func (s *mockSocket) fail(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
	s.Close()
}

func (s *mockSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *mockSocket) frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written...)
}

type mockDialer struct {
	mu      sync.Mutex
	err     error
	sockets []*mockSocket
	dials   atomic.Int32
}

func (d *mockDialer) Dial(context.Context, string) (Socket, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := newMockSocket()
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *mockDialer) last() *mockSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

type mockHandler struct {
	opens    atomic.Int32
	messages chan []byte
	closes   chan error
}

func newMockHandler() *mockHandler {
	return &mockHandler{
		messages: make(chan []byte, 16),
		closes:   make(chan error, 16),
	}
}

func (h *mockHandler) HandleOpen()               { h.opens.Add(1) }
func (h *mockHandler) HandleMessage(data []byte) { h.messages <- data }
func (h *mockHandler) HandleClose(err error)     { h.closes <- err }
