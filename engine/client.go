package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chessboards/communication"
	"chessboards/communication/client"
	"chessboards/game"
	"chessboards/meta"
	"chessboards/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Option func(c *Client)

// WithCommunicator replaces the websocket connection, typically with a fake in tests.
func WithCommunicator(build func(h communication.Handler) communication.Communicator) Option {
	return func(c *Client) {
		if build != nil {
			c.build = build
		}
	}
}

// WithConnectionOptions configures the default websocket connection.
func WithConnectionOptions(options ...client.Option) Option {
	return func(c *Client) {
		c.connOptions = append(c.connOptions, options...)
	}
}

func WithMetrics(collector metrics.Collector) Option {
	return func(c *Client) {
		if collector != nil {
			c.metrics = collector
		}
	}
}

// WithViewportLength sets the side of the streamed window. Even lengths are ignored.
func WithViewportLength(length int) Option {
	return func(c *Client) {
		if length > 0 && length%2 == 1 {
			c.viewLength = length
		}
	}
}

// WithMoveTimeout sets the move deadline; view moves wait four times as long.
func WithMoveTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.moveTimeout = timeout
		}
	}
}

// Client mirrors the server's board locally and turns moves into acknowledged requests.
type Client struct {
	id          string
	url         string
	conn        communication.Communicator
	build       func(h communication.Handler) communication.Communicator
	connOptions []client.Option
	metrics     metrics.Collector
	viewLength  int
	moveTimeout time.Duration
	pending     *correlator
	dispatch    map[communication.Tag]func(communication.ServerMessage)

	mu    sync.Mutex
	board *game.Board
	// Last center the server streamed, re-requested after a reconnect.
	lastX, lastY int
	hasLast      bool
}

func NewClient(url string, options ...Option) *Client {
	c := &Client{ // Default values
		id:          uuid.NewString(),
		url:         url,
		metrics:     metrics.NewDummyCollector(),
		viewLength:  meta.VIEWPORT_LENGTH,
		moveTimeout: meta.MOVE_TIMEOUT,
	}
	for _, option := range options {
		option(c)
	}
	if c.build == nil {
		c.build = func(h communication.Handler) communication.Communicator {
			opts := append([]client.Option{client.WithMetrics(c.metrics)}, c.connOptions...)
			return client.NewConnection(c.url, h, opts...)
		}
	}
	c.board = game.NewBoard(c.viewLength)
	c.pending = newCorrelator(c.moveTimeout, c.metrics.AddTimeout)
	c.dispatch = map[communication.Tag]func(communication.ServerMessage){
		communication.TagInitialState: func(m communication.ServerMessage) {
			c.handleSnapshot(m.(communication.InitialState).Snapshot)
		},
		communication.TagSnapshot: func(m communication.ServerMessage) {
			c.handleSnapshot(m.(communication.Snapshot))
		},
		communication.TagMovesAndCaptures: func(m communication.ServerMessage) {
			c.handleMovesAndCaptures(m.(communication.MovesAndCaptures))
		},
		communication.TagBulkCapture: func(m communication.ServerMessage) {
			c.handleBulkCapture(m.(communication.BulkCapture))
		},
		communication.TagValidMove: func(m communication.ServerMessage) {
			c.handleValidMove(m.(communication.ValidMove))
		},
		communication.TagInvalidMove: func(m communication.ServerMessage) {
			c.handleInvalidMove(m.(communication.InvalidMove))
		},
		communication.TagPong: func(communication.ServerMessage) {
			c.conn.ReceivedPong()
		},
	}
	c.conn = c.build(c)
	c.metrics.Start()
	return c
}

func (c *Client) ID() string { return c.id }

func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Disconnect closes the connection and fails every pending request. A later Connect resumes.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// Destroy closes the connection for good.
func (c *Client) Destroy() {
	c.conn.Destroy()
}

func (c *Client) Connected() bool {
	return c.conn.Connected()
}

// SendRequest encodes and sends msg without waiting for any answer.
func (c *Client) SendRequest(ctx context.Context, msg communication.ClientMessage) error {
	data, err := communication.Encode(msg)
	if err != nil {
		return err
	}
	return c.conn.Send(ctx, data)
}

// MovePiece checks the move against the local board, sends it, and waits for the verdict.
// piece is looked up by id, so a copy taken from Snapshot works as well.
func (c *Client) MovePiece(ctx context.Context, piece *game.Piece, toX, toY int, kind game.MoveKind) (MoveResult, error) {
	if piece == nil {
		return MoveResult{}, game.ErrNoPiece
	}

	c.mu.Lock()
	p := c.board.GetByID(piece.ID)
	if p == nil {
		c.mu.Unlock()
		return MoveResult{}, fmt.Errorf("%w: id %d", game.ErrNoPiece, piece.ID)
	}
	if err := c.board.CheckMove(p, toX, toY, kind); err != nil {
		c.mu.Unlock()
		return MoveResult{}, err
	}
	req := communication.MoveRequest{
		PieceID: p.ID,
		FromX:   p.X,
		FromY:   p.Y,
		ToX:     toX,
		ToY:     toY,
		Kind:    kind,
	}
	c.mu.Unlock()

	entry, err := c.pending.addMove(req)
	if err != nil {
		return MoveResult{}, err
	}
	if err := c.SendRequest(ctx, entry.request); err != nil {
		c.pending.dropMove(entry)
		return MoveResult{}, fmt.Errorf("failed to send move %d: %w", entry.request.MoveToken, err)
	}
	log.Debug().Str("client", c.id).Uint32("token", entry.request.MoveToken).Msgf("sent move %v -> (%d,%d)", piece, toX, toY)

	select {
	case o := <-entry.done:
		return o.result, o.err
	case <-ctx.Done():
		if c.pending.dropMove(entry) {
			return MoveResult{}, ctx.Err()
		}
		o := <-entry.done
		return o.result, o.err
	}
}

// MoveView asks the server to stream the window centered on (centerX, centerY) and waits for
// its snapshot. Only one view move may be pending; a second fails with ErrViewPending.
func (c *Client) MoveView(ctx context.Context, centerX, centerY int) error {
	if !game.InRange(centerX, centerY) {
		return fmt.Errorf("%w: center (%d,%d)", game.ErrOutOfRange, centerX, centerY)
	}
	entry, err := c.pending.addView(centerX, centerY)
	if err != nil {
		return err
	}
	if err := c.SendRequest(ctx, communication.Subscribe{CenterX: centerX, CenterY: centerY}); err != nil {
		c.pending.dropView(entry)
		return fmt.Errorf("failed to move view to (%d,%d): %w", centerX, centerY, err)
	}

	select {
	case err := <-entry.done:
		return err
	case <-ctx.Done():
		if c.pending.dropView(entry) {
			return ctx.Err()
		}
		return <-entry.done
	}
}

// Board runs fn with exclusive access to the local board.
func (c *Client) Board(fn func(b *game.Board)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.board)
}

func (c *Client) Snapshot() game.BoardDump {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Serialize()
}

func (c *Client) HandleOpen() {
	c.mu.Lock()
	x, y, resubscribe := c.lastX, c.lastY, c.hasLast
	c.mu.Unlock()

	log.Info().Str("client", c.id).Msg("connected")
	if !resubscribe {
		return
	}
	go func() {
		if err := c.SendRequest(context.Background(), communication.Subscribe{CenterX: x, CenterY: y}); err != nil {
			log.Warn().Str("client", c.id).Err(err).Msgf("failed to resubscribe to (%d,%d)", x, y)
		}
	}()
}

// HandleMessage applies one inbound frame. Frames arrive in order from a single goroutine.
func (c *Client) HandleMessage(data []byte) {
	msg, ok := communication.Decode(data)
	if !ok {
		c.metrics.AddFrameDropped()
		return
	}
	handle, ok := c.dispatch[msg.Tag()]
	if !ok {
		log.Warn().Str("client", c.id).Msgf("ignoring message %s", msg.Tag())
		return
	}
	handle(msg)
}

// HandleClose drops the board and fails every pending request.
func (c *Client) HandleClose(err error) {
	c.mu.Lock()
	c.board.Clear()
	c.mu.Unlock()

	cause := client.ErrConnectionClosed
	if err != nil {
		cause = fmt.Errorf("%w: %w", client.ErrConnectionClosed, err)
	}
	if n := c.pending.rejectAll(cause); n > 0 {
		log.Info().Str("client", c.id).Msgf("rejected %d pending requests", n)
	}
}

func (c *Client) handleSnapshot(s communication.Snapshot) {
	c.mu.Lock()
	c.board.Clear()
	err := c.board.SetCenter(s.X, s.Y)
	if err == nil {
		c.lastX, c.lastY, c.hasLast = s.X, s.Y, true
		for _, sp := range s.Pieces {
			c.board.SetData(s.X+sp.DX, s.Y+sp.DY, sp.Piece, false)
		}
	}
	c.mu.Unlock()

	if err != nil {
		log.Warn().Str("client", c.id).Err(err).Msg("ignoring snapshot")
		return
	}
	log.Debug().Str("client", c.id).Int("pieces", len(s.Pieces)).Msgf("snapshot at (%d,%d)", s.X, s.Y)
	if view := c.pending.takeView(); view != nil {
		view.finish(nil)
	}
}

func (c *Client) handleMovesAndCaptures(m communication.MovesAndCaptures) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, capture := range m.Captures {
		c.board.CaptureWithID(capture.CapturedPieceID, false)
	}
	for _, moved := range m.Moves {
		if stale := c.board.GetByID(moved.Piece.ID); stale != nil {
			c.board.CapturePiece(stale, false)
		}
		if c.board.InViewport(moved.X, moved.Y) {
			c.board.SetData(moved.X, moved.Y, moved.Piece, false)
		}
	}
}

func (c *Client) handleBulkCapture(m communication.BulkCapture) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range m.CapturedIDs {
		c.board.CaptureWithID(id, false)
	}
}

func (c *Client) handleValidMove(m communication.ValidMove) {
	entry := c.pending.takeMove(m.MoveToken)
	if entry == nil {
		log.Debug().Str("client", c.id).Uint32("token", m.MoveToken).Msg("valid move for unknown token")
		return
	}
	req := entry.request

	c.mu.Lock()
	if m.HasCapture {
		c.board.CaptureWithID(m.CapturedPieceID, false)
	}
	if p := c.board.GetByID(req.PieceID); p != nil {
		c.board.MovePiece(p, req.ToX, req.ToY, req.Kind, m.HasCapture, false)
	}
	c.mu.Unlock()

	c.metrics.AddMoveAccepted()
	entry.finish(outcome{result: MoveResult{
		Token:           m.MoveToken,
		CapturedPieceID: m.CapturedPieceID,
		Captured:        m.HasCapture,
	}})
}

func (c *Client) handleInvalidMove(m communication.InvalidMove) {
	entry := c.pending.takeMove(m.MoveToken)
	if entry == nil {
		log.Debug().Str("client", c.id).Uint32("token", m.MoveToken).Msg("invalid move for unknown token")
		return
	}
	c.metrics.AddMoveRejected()
	entry.finish(outcome{err: fmt.Errorf("%w: token %d", game.ErrMoveRejected, m.MoveToken)})
}
