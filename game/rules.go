package game

import (
	"chessboards/meta"
	"chessboards/utils"
)

// IsLegalMove decides whether p may move to (toX, toY) with the given kind.
// Only the piece's own geometry is checked; occupancy is the server's business.
func IsLegalMove(p *Piece, toX, toY int, kind MoveKind) bool {
	if p == nil {
		return false
	}
	return IsLegalDelta(p.Type, p.Color, toX-p.X, toY-p.Y, kind, p.MoveCount == 0)
}

// IsLegalDelta is the rule table behind IsLegalMove. White pawns advance towards
// decreasing y, black pawns towards increasing y.
func IsLegalDelta(t PieceType, c Color, dx, dy int, kind MoveKind, firstMove bool) bool {
	distance := utils.Chebyshev(dx, dy)
	if distance == 0 || distance > meta.MAX_MOVE_DISTANCE {
		return false
	}

	switch kind {
	case NormalMove:
	case Castle:
		return t == King && utils.Abs(dx) == 2 && dy == 0
	case EnPassant:
		if t != Pawn {
			return false
		}
	default:
		return false
	}

	adx, ady := utils.Abs(dx), utils.Abs(dy)
	switch t {
	case Pawn:
		return pawnMove(c, dx, dy, firstMove)
	case Knight:
		return (adx == 2 && ady == 1) || (adx == 1 && ady == 2)
	case Bishop:
		return adx == ady
	case Rook:
		return dx == 0 || dy == 0
	case Queen, PromotedPawn:
		return adx == ady || dx == 0 || dy == 0
	case King:
		return distance == 1
	default:
		return false
	}
}

func pawnMove(c Color, dx, dy int, firstMove bool) bool {
	forward := -1
	if c == Black {
		forward = 1
	}
	switch {
	case dx == 0 && dy == forward:
		return true
	case dx == 0 && dy == 2*forward:
		return firstMove
	case utils.Abs(dx) == 1 && dy == forward:
		return true
	}
	return false
}
