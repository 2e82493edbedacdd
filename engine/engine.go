package engine

import (
	"context"

	"chessboards/communication"
	"chessboards/game"
)

// Engine is the command surface export and automation tools drive.
type Engine interface {
	Connect(ctx context.Context) error
	Disconnect()
	Destroy()
	SendRequest(ctx context.Context, msg communication.ClientMessage) error
	// MovePiece sends a move and waits for the server to accept or reject it.
	MovePiece(ctx context.Context, piece *game.Piece, toX, toY int, kind game.MoveKind) (MoveResult, error)
	// MoveView recenters the viewport and waits for the snapshot of the new window.
	MoveView(ctx context.Context, centerX, centerY int) error
	Board(fn func(b *game.Board))
	Snapshot() game.BoardDump
}

var _ Engine = (*Client)(nil)
