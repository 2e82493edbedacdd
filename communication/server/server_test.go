package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chessboards/communication"
	"chessboards/communication/client"
	"chessboards/engine"
	"chessboards/game"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, options ...Option) (*Server, string) {
	t.Helper()
	s := NewServer(append([]Option{WithStart(100, 100)}, options...)...)
	require.NoError(t, s.Place(game.PieceData{ID: 1, Type: game.King, Color: game.White}, 99, 100))
	require.NoError(t, s.Place(game.PieceData{ID: 2, Type: game.Pawn, Color: game.Black}, 100, 100))
	require.NoError(t, s.Place(game.PieceData{ID: 3, Type: game.Rook, Color: game.Black}, 4000, 4000))
	require.NoError(t, s.Place(game.PieceData{ID: 4, Type: game.Pawn, Color: game.Black}, 4000, 4005))

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func newEngine(t *testing.T, url string) *engine.Client {
	t.Helper()
	client.ResetRegistry()
	c := engine.NewClient(url+"/ws", engine.WithMoveTimeout(time.Second))
	t.Cleanup(c.Destroy)
	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return len(c.Snapshot().Pieces) == 2 }, time.Second, 5*time.Millisecond, "Initial state should arrive")
	return c
}

func TestServerWithEngine(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "compressed"}[compress], func(t *testing.T) {
			s, url := newTestServer(t, WithCompression(compress))
			c := newEngine(t, url)

			var king *game.Piece
			c.Board(func(b *game.Board) { king = b.GetByID(1) })
			require.NotNil(t, king)

			res, err := c.MovePiece(context.Background(), king, 100, 100, game.NormalMove)
			require.NoError(t, err)
			require.True(t, res.Captured)
			require.Equal(t, uint32(2), res.CapturedPieceID)

			c.Board(func(b *game.Board) {
				p := b.Get(100, 100, true)
				require.NotNil(t, p)
				require.Equal(t, uint32(1), p.ID)
			})
			require.Len(t, s.Dump().Pieces, 3, "Server removed the captured pawn")

			require.NoError(t, c.MoveView(context.Background(), 4000, 4001))
			dump := c.Snapshot()
			require.Equal(t, 4000, dump.CenterX)
			require.Len(t, dump.Pieces, 2)
			require.Equal(t, uint32(3), dump.Pieces[0].ID, "Rows are ordered top to bottom")
		})
	}
}

func TestServerBroadcastsMoves(t *testing.T) {
	_, url := newTestServer(t)
	mover := newEngine(t, url)
	watcher := newEngine(t, url)

	var king *game.Piece
	mover.Board(func(b *game.Board) { king = b.GetByID(1) })
	_, err := mover.MovePiece(context.Background(), king, 99, 99, game.NormalMove)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var moved bool
		watcher.Board(func(b *game.Board) {
			p := b.GetByID(1)
			moved = p != nil && p.X == 99 && p.Y == 99
		})
		return moved
	}, time.Second, 5*time.Millisecond)
}

func TestServerRejectsBadMoves(t *testing.T) {
	_, url := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(url+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() communication.ServerMessage {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		msg, err := communication.DecodeServerMessage(data)
		require.NoError(t, err)
		return msg
	}
	write := func(msg communication.ClientMessage) {
		data, err := communication.Encode(msg)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
	}
	require.Equal(t, communication.TagInitialState, read().Tag())

	for name, req := range map[string]communication.MoveRequest{
		"unknown piece":  {PieceID: 42, FromX: 1, FromY: 1, ToX: 2, ToY: 2, MoveToken: 7},
		"stale origin":   {PieceID: 1, FromX: 98, FromY: 100, ToX: 99, ToY: 101, MoveToken: 7},
		"illegal delta":  {PieceID: 1, FromX: 99, FromY: 100, ToX: 97, ToY: 100, MoveToken: 7},
		"too far":        {PieceID: 3, FromX: 4000, FromY: 4000, ToX: 4000, ToY: 3980, MoveToken: 7},
		"friendly piece": {PieceID: 3, FromX: 4000, FromY: 4000, ToX: 4000, ToY: 4005, MoveToken: 7},
	} {
		t.Run(name, func(t *testing.T) {
			write(req)
			require.Equal(t, communication.InvalidMove{MoveToken: 7}, read())
		})
	}

	t.Run("ping", func(t *testing.T) {
		write(communication.Ping{})
		require.Equal(t, communication.TagPong, read().Tag())
	})
}

func TestServerHTTP(t *testing.T) {
	_, url := newTestServer(t)
	base := "http" + strings.TrimPrefix(url, "ws")

	resp, err := http.Get(base + "/board")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var dump game.BoardDump
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dump))
	require.Len(t, dump.Pieces, 4)

	health, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	require.Equal(t, http.StatusOK, health.StatusCode)
}
