package game

import (
	"errors"
	"fmt"
	"strings"

	"chessboards/utils"
)

var (
	ErrUnknownType     = errors.New("unknown piece type")
	ErrUnknownColor    = errors.New("unknown piece color")
	ErrUnknownMoveKind = errors.New("unknown move kind")
)

// PieceType is the server's numeric piece type.
type PieceType int

const (
	Pawn PieceType = iota
	Knight
	Bishop
	Rook
	Queen
	King
	PromotedPawn
)

var pieceTypeNames = []string{"pawn", "knight", "bishop", "rook", "queen", "king", "promotedpawn"}

func (t PieceType) String() string {
	if t < 0 || int(t) >= len(pieceTypeNames) {
		return fmt.Sprintf("PieceType(%d)", int(t))
	}
	return pieceTypeNames[t]
}

func (t PieceType) Valid() bool {
	return t >= Pawn && t <= PromotedPawn
}

func ParsePieceType(s string) (PieceType, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "")
	name = strings.ReplaceAll(name, "-", "")
	if i := utils.FindIndex(pieceTypeNames, name); i >= 0 {
		return PieceType(i), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

type Color int

const (
	White Color = iota
	Black
)

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return fmt.Sprintf("Color(%d)", int(c))
	}
}

func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownColor, s)
}

// MoveKind tags a move sent to the server.
type MoveKind int

const (
	NormalMove MoveKind = iota
	Castle
	EnPassant
)

func (k MoveKind) String() string {
	switch k {
	case NormalMove:
		return "normal"
	case Castle:
		return "castle"
	case EnPassant:
		return "enpassant"
	default:
		return fmt.Sprintf("MoveKind(%d)", int(k))
	}
}

func ParseMoveKind(s string) (MoveKind, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "") {
	case "normal", "":
		return NormalMove, nil
	case "castle":
		return Castle, nil
	case "enpassant":
		return EnPassant, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMoveKind, s)
}

// PieceData is the plain record the server sends for a piece.
type PieceData struct {
	ID           uint32    `json:"id"`
	Type         PieceType `json:"type"`
	Color        Color     `json:"color"`
	MoveCount    int       `json:"moveCount"`
	CaptureCount int       `json:"captureCount"`
	Flags        uint32    `json:"flags,omitempty"`
}

// Piece is a piece held by a Board. Its position always matches the key it is stored under.
type Piece struct {
	ID           uint32    `json:"id"`
	Type         PieceType `json:"type"`
	Color        Color     `json:"color"`
	X            int       `json:"x"`
	Y            int       `json:"y"`
	MoveCount    int       `json:"moveCount"`
	CaptureCount int       `json:"captureCount"`
	Flags        uint32    `json:"flags,omitempty"` // Opaque server bits
}

// NewPiece coerces a server record into a Piece located at (x, y).
func NewPiece(d PieceData, x, y int) *Piece {
	return &Piece{
		ID:           d.ID,
		Type:         d.Type,
		Color:        d.Color,
		X:            x,
		Y:            y,
		MoveCount:    d.MoveCount,
		CaptureCount: d.CaptureCount,
		Flags:        d.Flags,
	}
}

func (p *Piece) Data() PieceData {
	return PieceData{
		ID:           p.ID,
		Type:         p.Type,
		Color:        p.Color,
		MoveCount:    p.MoveCount,
		CaptureCount: p.CaptureCount,
		Flags:        p.Flags,
	}
}

// HasFlag reports whether the opaque server bit is set.
func (p *Piece) HasFlag(bit uint) bool {
	return p.Flags&(1<<bit) != 0
}

func (p *Piece) Key() Key {
	return KeyOf(p.X, p.Y)
}

func (p *Piece) String() string {
	return fmt.Sprintf("%s %s #%d at (%d,%d)", p.Color, p.Type, p.ID, p.X, p.Y)
}

// Key packs a board coordinate into a single map key.
type Key uint32

func KeyOf(x, y int) Key {
	return Key(uint32(uint16(x))<<16 | uint32(uint16(y)))
}

func (k Key) X() int { return int(uint32(k) >> 16) }
func (k Key) Y() int { return int(uint32(k) & 0xffff) }
