package engine

import (
	"testing"
	"time"

	"chessboards/communication"
	"chessboards/communication/client"
	"chessboards/meta"

	"github.com/stretchr/testify/require"
)

func TestCorrelatorTokens(t *testing.T) {
	t.Run("tokens start at one and wrap past the maximum", func(t *testing.T) {
		c := newCorrelator(time.Hour, func() {})
		first, err := c.addMove(communication.MoveRequest{})
		require.NoError(t, err)
		require.Equal(t, uint32(1), first.request.MoveToken)

		c.token = meta.MAX_TOKEN - 1
		last, err := c.addMove(communication.MoveRequest{})
		require.NoError(t, err)
		require.Equal(t, uint32(meta.MAX_TOKEN), last.request.MoveToken)

		wrapped, err := c.addMove(communication.MoveRequest{})
		require.NoError(t, err)
		require.Equal(t, uint32(2), wrapped.request.MoveToken, "Token 1 is still pending and 0 is never used")
		c.rejectAll(client.ErrConnectionClosed)
	})

	t.Run("live tokens are unique", func(t *testing.T) {
		c := newCorrelator(time.Hour, func() {})
		seen := map[uint32]bool{}
		for i := 0; i < 1000; i++ {
			p, err := c.addMove(communication.MoveRequest{})
			require.NoError(t, err)
			require.NotZero(t, p.request.MoveToken)
			require.False(t, seen[p.request.MoveToken])
			seen[p.request.MoveToken] = true
		}
		require.Equal(t, 1000, c.pendingMoves())
		require.Equal(t, 1000, c.rejectAll(client.ErrConnectionClosed))
	})

	t.Run("taking a token frees it", func(t *testing.T) {
		c := newCorrelator(time.Hour, func() {})
		p, err := c.addMove(communication.MoveRequest{PieceID: 3})
		require.NoError(t, err)
		require.Same(t, p, c.takeMove(p.request.MoveToken))
		require.Nil(t, c.takeMove(p.request.MoveToken))
		require.False(t, c.dropMove(p))
	})
}

func TestCorrelatorTimeouts(t *testing.T) {
	timeouts := 0
	c := newCorrelator(10*time.Millisecond, func() { timeouts++ })

	move, err := c.addMove(communication.MoveRequest{})
	require.NoError(t, err)
	o := <-move.done
	require.ErrorIs(t, o.err, ErrTimeout)
	require.EqualError(t, o.err, "move 1 timed out after 10ms")

	view, err := c.addView(1, 1)
	require.NoError(t, err)
	_, err = c.addView(2, 2)
	require.ErrorIs(t, err, ErrViewPending)
	require.ErrorIs(t, <-view.done, ErrTimeout)
	require.False(t, c.viewPending())
	require.Equal(t, 2, timeouts)
}

func TestCorrelatorRejectAll(t *testing.T) {
	c := newCorrelator(time.Hour, func() {})
	move, err := c.addMove(communication.MoveRequest{})
	require.NoError(t, err)
	view, err := c.addView(5, 5)
	require.NoError(t, err)

	require.Equal(t, 2, c.rejectAll(client.ErrConnectionClosed))
	require.ErrorIs(t, (<-move.done).err, client.ErrConnectionClosed)
	require.ErrorIs(t, <-view.done, client.ErrConnectionClosed)
	require.Zero(t, c.pendingMoves())
	require.False(t, c.viewPending())
	require.False(t, move.timer.Stop(), "Timer was already stopped")
}
