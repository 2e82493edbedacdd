package game

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"chessboards/meta"
)

var (
	ErrOutOfRange   = errors.New("coordinate out of range")
	ErrMoveRejected = errors.New("move rejected")
	ErrNoPiece      = errors.New("no piece at position")
)

// Bounds is an inclusive axis-aligned rectangle.
type Bounds struct {
	MinX int `json:"minX"`
	MinY int `json:"minY"`
	MaxX int `json:"maxX"`
	MaxY int `json:"maxY"`
}

func (b Bounds) Contains(x, y int) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Filter narrows Find queries by type and/or color. The zero value matches everything.
type Filter struct {
	Type    PieceType
	Color   Color
	byType  bool
	byColor bool
}

func OfType(t PieceType) Filter { return Filter{}.OfType(t) }
func OfColor(c Color) Filter    { return Filter{}.OfColor(c) }

func (f Filter) OfType(t PieceType) Filter {
	f.Type, f.byType = t, true
	return f
}

func (f Filter) OfColor(c Color) Filter {
	f.Color, f.byColor = c, true
	return f
}

func (f Filter) Match(p *Piece) bool {
	if f.byType && p.Type != f.Type {
		return false
	}
	if f.byColor && p.Color != f.Color {
		return false
	}
	return true
}

// Board is the locally known part of the grid: a sparse set of pieces plus the viewport
// window the server is currently streaming. It is not safe for concurrent use.
type Board struct {
	length    int
	radius    float64
	centerX   int
	centerY   int
	hasCenter bool
	bounds    Bounds
	pieces    map[Key]*Piece
}

// NewBoard creates an empty board whose viewport is length squares wide. length must be odd.
func NewBoard(length int) *Board {
	if length <= 0 || length%2 == 0 {
		panic(fmt.Sprintf("viewport length must be a positive odd number, got %d", length))
	}
	return &Board{
		length: length,
		radius: float64(length-1) / 2,
		pieces: make(map[Key]*Piece),
	}
}

func (b *Board) Length() int { return b.length }

func (b *Board) Len() int { return len(b.pieces) }

// Center returns the viewport center; ok is false until the first SetCenter.
func (b *Board) Center() (x, y int, ok bool) {
	return b.centerX, b.centerY, b.hasCenter
}

func (b *Board) Bounds() (Bounds, bool) {
	return b.bounds, b.hasCenter
}

// SetCenter moves the viewport and recomputes its bounds.
func (b *Board) SetCenter(x, y int) error {
	if !InRange(x, y) {
		return fmt.Errorf("%w: center (%d,%d)", ErrOutOfRange, x, y)
	}
	b.centerX, b.centerY, b.hasCenter = x, y, true
	b.bounds = viewport(x, y, b.radius)
	return nil
}

// ViewportBounds returns the window a viewport of the given length covers around (x, y).
func ViewportBounds(x, y, length int) Bounds {
	return viewport(x, y, float64(length-1)/2)
}

func viewport(x, y int, radius float64) Bounds {
	return Bounds{
		MinX: int(math.Floor(float64(x) - radius)),
		MinY: int(math.Floor(float64(y) - radius)),
		MaxX: int(math.Ceil(float64(x) + radius)),
		MaxY: int(math.Ceil(float64(y) + radius)),
	}
}

// InRange reports whether (x, y) lies on the global board.
func InRange(x, y int) bool {
	return x >= 0 && x < meta.BOARD_SIZE && y >= 0 && y < meta.BOARD_SIZE
}

func (b *Board) InViewport(x, y int) bool {
	return b.hasCenter && b.bounds.Contains(x, y)
}

func (b *Board) accessible(x, y int) bool {
	return InRange(x, y) && b.InViewport(x, y)
}

func (b *Board) Get(x, y int, validate bool) *Piece {
	if validate && !b.accessible(x, y) {
		return nil
	}
	return b.pieces[KeyOf(x, y)]
}

func (b *Board) GetKey(k Key, validate bool) *Piece {
	return b.Get(k.X(), k.Y(), validate)
}

// Set stores p at (x, y), updating its coordinates. It returns false when validation fails.
func (b *Board) Set(x, y int, p *Piece, validate bool) bool {
	if p == nil || (validate && !b.accessible(x, y)) {
		return false
	}
	if old := b.pieces[p.Key()]; old == p {
		delete(b.pieces, p.Key())
	}
	p.X, p.Y = x, y
	b.pieces[KeyOf(x, y)] = p
	return true
}

// SetData coerces a server record into a Piece and stores it at (x, y).
func (b *Board) SetData(x, y int, d PieceData, validate bool) *Piece {
	p := NewPiece(d, x, y)
	if !b.Set(x, y, p, validate) {
		return nil
	}
	return p
}

func (b *Board) SetKey(k Key, p *Piece, validate bool) bool {
	return b.Set(k.X(), k.Y(), p, validate)
}

// Delete removes whatever is stored at (x, y) and reports whether anything was removed.
func (b *Board) Delete(x, y int, validate bool) bool {
	if validate && !b.accessible(x, y) {
		return false
	}
	k := KeyOf(x, y)
	if _, ok := b.pieces[k]; !ok {
		return false
	}
	delete(b.pieces, k)
	return true
}

func (b *Board) DeleteKey(k Key, validate bool) bool {
	return b.Delete(k.X(), k.Y(), validate)
}

// Each calls fn for every piece until fn returns false.
func (b *Board) Each(fn func(*Piece) bool) {
	for _, p := range b.pieces {
		if !fn(p) {
			return
		}
	}
}

// Pieces returns the stored pieces in no particular order.
func (b *Board) Pieces() []*Piece {
	pieces := make([]*Piece, 0, len(b.pieces))
	for _, p := range b.pieces {
		pieces = append(pieces, p)
	}
	return pieces
}

func (b *Board) GetByID(id uint32) *Piece {
	for _, p := range b.pieces {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (b *Board) Find(f Filter) *Piece {
	for _, p := range b.pieces {
		if f.Match(p) {
			return p
		}
	}
	return nil
}

// FindInArea searches the inclusive rectangle spanned by the two corners.
func (b *Board) FindInArea(f Filter, x1, y1, x2, y2 int) *Piece {
	area := Bounds{MinX: min(x1, x2), MinY: min(y1, y2), MaxX: max(x1, x2), MaxY: max(y1, y2)}
	for _, p := range b.pieces {
		if area.Contains(p.X, p.Y) && f.Match(p) {
			return p
		}
	}
	return nil
}

// FindInBoard searches the 8x8 sub-board containing (x, y).
func (b *Board) FindInBoard(f Filter, x, y int) *Piece {
	sb := SubBoard(x, y)
	return b.FindInArea(f, sb.MinX, sb.MinY, sb.MaxX, sb.MaxY)
}

// SubBoard returns the bounds of the 8x8 board containing (x, y).
func SubBoard(x, y int) Bounds {
	minX := floorTo(x, meta.SUB_BOARD_SIZE)
	minY := floorTo(y, meta.SUB_BOARD_SIZE)
	return Bounds{
		MinX: minX,
		MinY: minY,
		MaxX: minX + meta.SUB_BOARD_SIZE - 1,
		MaxY: minY + meta.SUB_BOARD_SIZE - 1,
	}
}

// floorTo rounds v down to a multiple of n, also for negative v.
func floorTo(v, n int) int {
	if r := v % n; r < 0 {
		return v - r - n
	}
	return v - v%n
}

// CheckMove reports why moving p to (toX, toY) would be rejected, or nil if it would not.
func (b *Board) CheckMove(p *Piece, toX, toY int, kind MoveKind) error {
	if p == nil {
		return ErrNoPiece
	}
	if !b.accessible(p.X, p.Y) {
		return fmt.Errorf("%w: %v is outside the viewport", ErrMoveRejected, p)
	}
	if !b.accessible(toX, toY) {
		return fmt.Errorf("%w: destination (%d,%d) is outside the viewport", ErrMoveRejected, toX, toY)
	}
	if !IsLegalMove(p, toX, toY, kind) {
		return fmt.Errorf("%w: %v cannot reach (%d,%d) with a %s move", ErrMoveRejected, p, toX, toY, kind)
	}
	return nil
}

// MovePiece relocates p. A capture is counted when the destination is occupied or when
// capture is set; the occupant itself must be removed beforehand with CapturePiece.
func (b *Board) MovePiece(p *Piece, toX, toY int, kind MoveKind, capture, validate bool) error {
	if p == nil {
		return ErrNoPiece
	}
	if validate {
		if err := b.CheckMove(p, toX, toY, kind); err != nil {
			return err
		}
	}

	if b.pieces[p.Key()] == p {
		delete(b.pieces, p.Key())
	}
	to := KeyOf(toX, toY)
	if occupant, ok := b.pieces[to]; (ok && occupant != p) || capture {
		p.CaptureCount++
	} else {
		p.MoveCount++
	}
	p.X, p.Y = toX, toY
	b.pieces[to] = p
	return nil
}

func (b *Board) MoveFromPosition(x, y, toX, toY int, kind MoveKind, capture, validate bool) error {
	p := b.Get(x, y, validate)
	if p == nil {
		if validate {
			return fmt.Errorf("%w: (%d,%d)", ErrNoPiece, x, y)
		}
		return nil
	}
	return b.MovePiece(p, toX, toY, kind, capture, validate)
}

func (b *Board) MoveWithID(id uint32, toX, toY int, kind MoveKind, capture, validate bool) error {
	p := b.GetByID(id)
	if p == nil {
		if validate {
			return fmt.Errorf("%w: id %d", ErrNoPiece, id)
		}
		return nil
	}
	return b.MovePiece(p, toX, toY, kind, capture, validate)
}

// CapturePiece removes p without touching any other piece.
func (b *Board) CapturePiece(p *Piece, validate bool) error {
	if p != nil && b.pieces[p.Key()] == p {
		delete(b.pieces, p.Key())
		return nil
	}
	if validate {
		return ErrNoPiece
	}
	return nil
}

func (b *Board) CaptureOnPosition(x, y int, validate bool) error {
	p := b.Get(x, y, validate)
	if p == nil {
		if validate {
			return fmt.Errorf("%w: (%d,%d)", ErrNoPiece, x, y)
		}
		return nil
	}
	return b.CapturePiece(p, validate)
}

func (b *Board) CaptureWithID(id uint32, validate bool) error {
	p := b.GetByID(id)
	if p == nil {
		if validate {
			return fmt.Errorf("%w: id %d", ErrNoPiece, id)
		}
		return nil
	}
	return b.CapturePiece(p, validate)
}

// Clear drops every piece and forgets the viewport.
func (b *Board) Clear() {
	clear(b.pieces)
	b.centerX, b.centerY, b.hasCenter = 0, 0, false
	b.bounds = Bounds{}
}

// BoardDump is a serializable copy of the board, used by export tools.
type BoardDump struct {
	CenterX int     `json:"centerX"`
	CenterY int     `json:"centerY"`
	Length  int     `json:"length"`
	Bounds  Bounds  `json:"bounds"`
	Pieces  []Piece `json:"pieces"`
}

// Serialize copies the board, ordering pieces by row then column.
func (b *Board) Serialize() BoardDump {
	dump := BoardDump{
		CenterX: b.centerX,
		CenterY: b.centerY,
		Length:  b.length,
		Bounds:  b.bounds,
		Pieces:  make([]Piece, 0, len(b.pieces)),
	}
	for _, p := range b.pieces {
		dump.Pieces = append(dump.Pieces, *p)
	}
	slices.SortFunc(dump.Pieces, func(a, c Piece) int {
		if a.Y != c.Y {
			return a.Y - c.Y
		}
		return a.X - c.X
	})
	return dump
}
