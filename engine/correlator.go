package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"chessboards/communication"
	"chessboards/meta"
)

var (
	ErrTimeout         = errors.New("request timed out")
	ErrViewPending     = errors.New("a view move is already pending")
	ErrTokensExhausted = errors.New("every move token is pending")
)

// TimeoutError names the request that was not acknowledged in time. It matches ErrTimeout.
type TimeoutError struct {
	Slot  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Slot, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// MoveResult is what the server confirmed for an accepted move.
type MoveResult struct {
	Token           uint32
	CapturedPieceID uint32
	Captured        bool
}

type outcome struct {
	result MoveResult
	err    error
}

type pendingMove struct {
	request communication.MoveRequest
	done    chan outcome
	timer   *time.Timer
}

type pendingView struct {
	x, y  int
	done  chan error
	timer *time.Timer
}

// finish never blocks: done is buffered and every entry is finished exactly once.
func (p *pendingMove) finish(o outcome) { p.done <- o }
func (p *pendingView) finish(err error) { p.done <- err }

// correlator matches acknowledgements to the requests waiting for them.
type correlator struct {
	mu          sync.Mutex
	token       uint32
	moves       map[uint32]*pendingMove
	view        *pendingView
	moveTimeout time.Duration
	viewTimeout time.Duration
	onTimeout   func()
}

func newCorrelator(moveTimeout time.Duration, onTimeout func()) *correlator {
	return &correlator{
		moves:       make(map[uint32]*pendingMove),
		moveTimeout: moveTimeout,
		viewTimeout: 4 * moveTimeout,
		onTimeout:   onTimeout,
	}
}

// nextTokenLocked returns the next free token in [1, MAX_TOKEN].
func (c *correlator) nextTokenLocked() (uint32, error) {
	for i := 0; i < meta.MAX_TOKEN; i++ {
		c.token = c.token%meta.MAX_TOKEN + 1
		if _, busy := c.moves[c.token]; !busy {
			return c.token, nil
		}
	}
	return 0, ErrTokensExhausted
}

// addMove stamps req with a fresh token and starts its deadline.
func (c *correlator) addMove(req communication.MoveRequest) (*pendingMove, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	token, err := c.nextTokenLocked()
	if err != nil {
		return nil, err
	}
	req.MoveToken = token
	p := &pendingMove{request: req, done: make(chan outcome, 1)}
	p.timer = time.AfterFunc(c.moveTimeout, func() {
		c.mu.Lock()
		if c.moves[token] != p {
			c.mu.Unlock()
			return
		}
		delete(c.moves, token)
		c.mu.Unlock()
		c.onTimeout()
		p.finish(outcome{err: &TimeoutError{Slot: fmt.Sprintf("move %d", token), After: c.moveTimeout}})
	})
	c.moves[token] = p
	return p, nil
}

// takeMove removes the entry for token and stops its timer. It returns nil for unknown tokens.
func (c *correlator) takeMove(token uint32) *pendingMove {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.moves[token]
	if !ok {
		return nil
	}
	delete(c.moves, token)
	p.timer.Stop()
	return p
}

// dropMove forgets p if it is still pending.
func (c *correlator) dropMove(p *pendingMove) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	token := p.request.MoveToken
	if c.moves[token] != p {
		return false
	}
	delete(c.moves, token)
	p.timer.Stop()
	return true
}

func (c *correlator) addView(x, y int) (*pendingView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view != nil {
		return nil, ErrViewPending
	}
	p := &pendingView{x: x, y: y, done: make(chan error, 1)}
	p.timer = time.AfterFunc(c.viewTimeout, func() {
		c.mu.Lock()
		if c.view != p {
			c.mu.Unlock()
			return
		}
		c.view = nil
		c.mu.Unlock()
		c.onTimeout()
		p.finish(&TimeoutError{Slot: "view", After: c.viewTimeout})
	})
	c.view = p
	return p, nil
}

func (c *correlator) takeView() *pendingView {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.view
	if p == nil {
		return nil
	}
	c.view = nil
	p.timer.Stop()
	return p
}

// dropView forgets p if it is still the pending view.
func (c *correlator) dropView(p *pendingView) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view != p {
		return false
	}
	c.view = nil
	p.timer.Stop()
	return true
}

// rejectAll fails every pending request with err.
func (c *correlator) rejectAll(err error) int {
	c.mu.Lock()
	moves := c.moves
	view := c.view
	c.moves = make(map[uint32]*pendingMove)
	c.view = nil
	c.mu.Unlock()

	for _, p := range moves {
		p.timer.Stop()
		p.finish(outcome{err: err})
	}
	if view != nil {
		view.timer.Stop()
		view.finish(err)
		return len(moves) + 1
	}
	return len(moves)
}

func (c *correlator) pendingMoves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.moves)
}

func (c *correlator) viewPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view != nil
}
