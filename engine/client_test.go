package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"chessboards/communication"
	"chessboards/communication/client"
	"chessboards/game"
	"chessboards/meta"

	"github.com/stretchr/testify/require"
)

// fakeComm records outbound frames and lets tests play the server.
type fakeComm struct {
	handler communication.Handler

	mu      sync.Mutex
	sent    []communication.ClientMessage
	sendErr error
	pongs   int
}

func (f *fakeComm) Connect(context.Context) error {
	f.handler.HandleOpen()
	return nil
}

func (f *fakeComm) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	msg, err := communication.DecodeClientMessage(data)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeComm) ReceivedPong() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pongs++
}

func (f *fakeComm) Connected() bool { return true }
func (f *fakeComm) Disconnect()     { f.handler.HandleClose(nil) }
func (f *fakeComm) Destroy()        { f.handler.HandleClose(nil) }

func (f *fakeComm) messages() []communication.ClientMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]communication.ClientMessage(nil), f.sent...)
}

func newTestClient(t *testing.T, options ...Option) (*Client, *fakeComm) {
	t.Helper()
	fake := &fakeComm{}
	options = append([]Option{WithCommunicator(func(h communication.Handler) communication.Communicator {
		fake.handler = h
		return fake
	})}, options...)
	c := NewClient("ws://board.test/ws", options...)
	require.NoError(t, c.Connect(context.Background()))
	return c, fake
}

// deliver plays msg as if it came off the socket.
func deliver(t *testing.T, c *Client, msg communication.ServerMessage) {
	t.Helper()
	data, err := communication.EncodeServerMessage(msg)
	require.NoError(t, err)
	c.HandleMessage(data)
}

func kingAt(id uint32, dx, dy int) communication.SnapshotPiece {
	return communication.SnapshotPiece{DX: dx, DY: dy, Piece: game.PieceData{ID: id, Type: game.King, Color: game.White}}
}

type moveReply struct {
	result MoveResult
	err    error
}

// startMove runs MovePiece in the background and returns the request it put on the wire.
func startMove(t *testing.T, c *Client, fake *fakeComm, piece *game.Piece, toX, toY int) (communication.MoveRequest, <-chan moveReply) {
	t.Helper()
	before := len(fake.messages())
	replies := make(chan moveReply, 1)
	go func() {
		res, err := c.MovePiece(context.Background(), piece, toX, toY, game.NormalMove)
		replies <- moveReply{res, err}
	}()
	require.Eventually(t, func() bool { return len(fake.messages()) > before }, time.Second, time.Millisecond)
	return fake.messages()[before].(communication.MoveRequest), replies
}

func TestClientSnapshot(t *testing.T) {
	t.Run("initial state fills the viewport", func(t *testing.T) {
		c, _ := newTestClient(t)
		deliver(t, c, communication.InitialState{Snapshot: communication.Snapshot{
			X: 100, Y: 100,
			Pieces: []communication.SnapshotPiece{kingAt(1, -1, 0)},
		}})

		c.Board(func(b *game.Board) {
			p := b.Get(99, 100, true)
			require.NotNil(t, p)
			require.Equal(t, "king", p.Type.String())
			require.Equal(t, "white", p.Color.String())

			bounds, ok := b.Bounds()
			require.True(t, ok)
			require.Equal(t, game.Bounds{MinX: 53, MinY: 53, MaxX: 147, MaxY: 147}, bounds)
		})
	})

	t.Run("a new snapshot replaces the board", func(t *testing.T) {
		c, _ := newTestClient(t)
		deliver(t, c, communication.InitialState{Snapshot: communication.Snapshot{
			X: 100, Y: 100, Pieces: []communication.SnapshotPiece{kingAt(1, 0, 0)},
		}})
		deliver(t, c, communication.Snapshot{
			X: 500, Y: 500, Pieces: []communication.SnapshotPiece{kingAt(2, 3, 3)},
		})

		dump := c.Snapshot()
		require.Equal(t, 500, dump.CenterX)
		require.Len(t, dump.Pieces, 1)
		require.Equal(t, uint32(2), dump.Pieces[0].ID)
		require.Equal(t, 503, dump.Pieces[0].X)
	})

	t.Run("even viewport lengths fall back to the default", func(t *testing.T) {
		var c *Client
		require.NotPanics(t, func() { c, _ = newTestClient(t, WithViewportLength(94)) })
		c.Board(func(b *game.Board) { require.Equal(t, meta.VIEWPORT_LENGTH, b.Length()) })

		c, _ = newTestClient(t, WithViewportLength(21))
		c.Board(func(b *game.Board) { require.Equal(t, 21, b.Length()) })
	})

	t.Run("undecodable frames are dropped", func(t *testing.T) {
		c, _ := newTestClient(t)
		c.HandleMessage([]byte{0xff, 0xff})
		require.Empty(t, c.Snapshot().Pieces)
	})
}

func TestClientIncrementalUpdates(t *testing.T) {
	c, fake := newTestClient(t)
	deliver(t, c, communication.InitialState{Snapshot: communication.Snapshot{
		X: 100, Y: 100,
		Pieces: []communication.SnapshotPiece{
			kingAt(1, 0, 0),
			{DX: 5, DY: 5, Piece: game.PieceData{ID: 2, Type: game.Rook, Color: game.Black}},
			{DX: 6, DY: 6, Piece: game.PieceData{ID: 3, Type: game.Pawn, Color: game.Black}},
			{DX: 7, DY: 7, Piece: game.PieceData{ID: 4, Type: game.Pawn, Color: game.Black}},
		},
	}})

	deliver(t, c, communication.MovesAndCaptures{
		Moves: []communication.MovedPiece{
			{Piece: game.PieceData{ID: 2, Type: game.Rook, Color: game.Black, MoveCount: 1}, X: 105, Y: 110},
			{Piece: game.PieceData{ID: 9, Type: game.Knight, Color: game.White}, X: 90, Y: 90},
			{Piece: game.PieceData{ID: 10, Type: game.Knight, Color: game.White}, X: 900, Y: 900},
		},
		Captures: []communication.Capture{{CapturedPieceID: 3}},
	})
	deliver(t, c, communication.BulkCapture{CapturedIDs: []uint32{4}})
	deliver(t, c, communication.Pong{})

	c.Board(func(b *game.Board) {
		require.Nil(t, b.Get(105, 105, false), "Moved piece leaves its old square")
		rook := b.Get(105, 110, false)
		require.NotNil(t, rook)
		require.Equal(t, 1, rook.MoveCount)
		require.NotNil(t, b.GetByID(9), "Piece entering the viewport is added")
		require.Nil(t, b.GetByID(10), "Piece outside the viewport is not tracked")
		require.Nil(t, b.GetByID(3))
		require.Nil(t, b.GetByID(4))
		require.Equal(t, 3, b.Len())
	})
	require.Equal(t, 1, fake.pongs)
}

func TestClientMovePiece(t *testing.T) {
	setup := func(t *testing.T, options ...Option) (*Client, *fakeComm, *game.Piece) {
		c, fake := newTestClient(t, options...)
		deliver(t, c, communication.InitialState{Snapshot: communication.Snapshot{
			X: 100, Y: 100,
			Pieces: []communication.SnapshotPiece{
				kingAt(1, -1, 0),
				{DX: 0, DY: 0, Piece: game.PieceData{ID: 2, Type: game.Pawn, Color: game.Black}},
			},
		}})
		var king *game.Piece
		c.Board(func(b *game.Board) { king = b.GetByID(1) })
		return c, fake, king
	}

	t.Run("accepted move with capture updates the board", func(t *testing.T) {
		c, fake, king := setup(t)
		req, replies := startMove(t, c, fake, king, 100, 100)
		require.Equal(t, uint32(1), req.MoveToken)
		require.Equal(t, 99, req.FromX)

		deliver(t, c, communication.ValidMove{MoveToken: req.MoveToken, CapturedPieceID: 2, HasCapture: true})

		reply := <-replies
		require.NoError(t, reply.err)
		require.Equal(t, MoveResult{Token: 1, CapturedPieceID: 2, Captured: true}, reply.result)
		c.Board(func(b *game.Board) {
			p := b.Get(100, 100, true)
			require.NotNil(t, p)
			require.Equal(t, uint32(1), p.ID)
			require.Equal(t, 1, p.CaptureCount)
			require.Nil(t, b.GetByID(2))
		})
		require.Zero(t, c.pending.pendingMoves())
	})

	t.Run("rejected move removes its token", func(t *testing.T) {
		c, fake, king := setup(t)
		c.pending.token = 4
		req, replies := startMove(t, c, fake, king, 98, 100)
		require.Equal(t, uint32(5), req.MoveToken)

		deliver(t, c, communication.InvalidMove{MoveToken: 5})

		reply := <-replies
		require.ErrorIs(t, reply.err, game.ErrMoveRejected)
		require.Nil(t, c.pending.takeMove(5), "Token 5 should be gone")
		c.Board(func(b *game.Board) {
			require.NotNil(t, b.Get(99, 100, true), "Board is untouched")
		})
	})

	t.Run("illegal move never reaches the transport", func(t *testing.T) {
		c, fake, king := setup(t)
		_, err := c.MovePiece(context.Background(), king, 120, 100, game.NormalMove)
		require.ErrorIs(t, err, game.ErrMoveRejected)
		_, err = c.MovePiece(context.Background(), &game.Piece{ID: 77}, 1, 1, game.NormalMove)
		require.ErrorIs(t, err, game.ErrNoPiece)
		require.Empty(t, fake.messages())
	})

	t.Run("unanswered move times out", func(t *testing.T) {
		c, _, king := setup(t, WithMoveTimeout(20*time.Millisecond))
		_, err := c.MovePiece(context.Background(), king, 98, 100, game.NormalMove)
		require.ErrorIs(t, err, ErrTimeout)

		var timeout *TimeoutError
		require.ErrorAs(t, err, &timeout)
		require.Equal(t, "move 1", timeout.Slot)
		require.Zero(t, c.pending.pendingMoves())
	})

	t.Run("send failure drops the entry", func(t *testing.T) {
		c, fake, king := setup(t)
		fake.sendErr = client.ErrNotConnected
		_, err := c.MovePiece(context.Background(), king, 98, 100, game.NormalMove)
		require.ErrorIs(t, err, client.ErrNotConnected)
		require.Zero(t, c.pending.pendingMoves())
	})
}

func TestClientMoveView(t *testing.T) {
	t.Run("second view move fails without contacting the transport", func(t *testing.T) {
		c, fake := newTestClient(t)
		done := make(chan error, 1)
		go func() { done <- c.MoveView(context.Background(), 200, 200) }()
		require.Eventually(t, func() bool { return len(fake.messages()) == 1 }, time.Second, time.Millisecond)

		require.ErrorIs(t, c.MoveView(context.Background(), 300, 300), ErrViewPending)
		require.Len(t, fake.messages(), 1)

		deliver(t, c, communication.Snapshot{X: 200, Y: 200})
		require.NoError(t, <-done)
		x, y, ok := func() (int, int, bool) {
			var x, y int
			var ok bool
			c.Board(func(b *game.Board) { x, y, ok = b.Center() })
			return x, y, ok
		}()
		require.True(t, ok)
		require.Equal(t, []int{200, 200}, []int{x, y})
		require.False(t, c.pending.viewPending())
	})

	t.Run("out of range center", func(t *testing.T) {
		c, fake := newTestClient(t)
		require.ErrorIs(t, c.MoveView(context.Background(), meta.BOARD_SIZE, 0), game.ErrOutOfRange)
		require.Empty(t, fake.messages())
	})

	t.Run("view timeout is four move timeouts", func(t *testing.T) {
		c, _ := newTestClient(t, WithMoveTimeout(10*time.Millisecond))
		start := time.Now()
		err := c.MoveView(context.Background(), 10, 10)

		var timeout *TimeoutError
		require.ErrorAs(t, err, &timeout)
		require.Equal(t, "view", timeout.Slot)
		require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	})

	t.Run("context cancellation frees the slot", func(t *testing.T) {
		c, _ := newTestClient(t)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, c.MoveView(ctx, 10, 10), context.DeadlineExceeded)
		require.False(t, c.pending.viewPending())
	})
}

func TestClientDisconnect(t *testing.T) {
	c, fake := newTestClient(t)
	deliver(t, c, communication.InitialState{Snapshot: communication.Snapshot{
		X: 100, Y: 100, Pieces: []communication.SnapshotPiece{kingAt(1, 0, 0)},
	}})
	var king *game.Piece
	c.Board(func(b *game.Board) { king = b.GetByID(1) })

	_, moveReplies := startMove(t, c, fake, king, 101, 100)
	viewDone := make(chan error, 1)
	go func() { viewDone <- c.MoveView(context.Background(), 120, 120) }()
	require.Eventually(t, c.pending.viewPending, time.Second, time.Millisecond)

	c.Disconnect()

	require.ErrorIs(t, (<-moveReplies).err, client.ErrConnectionClosed)
	require.ErrorIs(t, <-viewDone, client.ErrConnectionClosed)
	require.Zero(t, c.pending.pendingMoves())
	require.False(t, c.pending.viewPending())
	require.Empty(t, c.Snapshot().Pieces, "Board is dropped with the connection")
}

func TestClientResubscribesAfterReconnect(t *testing.T) {
	c, fake := newTestClient(t)
	deliver(t, c, communication.InitialState{Snapshot: communication.Snapshot{X: 400, Y: 401}})

	c.HandleClose(client.ErrHeartbeatTimeout)
	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool { return len(fake.messages()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, communication.Subscribe{CenterX: 400, CenterY: 401}, fake.messages()[0])
}
