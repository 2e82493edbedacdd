package communication

import "chessboards/game"

// Tag identifies a server message variant.
type Tag int

const (
	TagInitialState Tag = iota + 1
	TagSnapshot
	TagMovesAndCaptures
	TagBulkCapture
	TagValidMove
	TagInvalidMove
	TagPong
)

var tagNames = map[Tag]string{
	TagInitialState:     "initial_state",
	TagSnapshot:         "snapshot",
	TagMovesAndCaptures: "moves_and_captures",
	TagBulkCapture:      "bulk_capture",
	TagValidMove:        "valid_move",
	TagInvalidMove:      "invalid_move",
	TagPong:             "pong",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return "unknown"
}

// Tags lists every server message variant.
func Tags() []Tag {
	return []Tag{TagInitialState, TagSnapshot, TagMovesAndCaptures, TagBulkCapture, TagValidMove, TagInvalidMove, TagPong}
}

// ServerMessage is the closed set of messages a server sends.
type ServerMessage interface {
	Tag() Tag
	serverMessage()
}

// SnapshotPiece is a piece positioned relative to the snapshot center.
type SnapshotPiece struct {
	DX, DY int
	Piece  game.PieceData
}

// Snapshot is the full content of the viewport centered on (X, Y).
type Snapshot struct {
	X, Y   int
	Pieces []SnapshotPiece
	Seqnum uint64
}

// InitialState is the first snapshot after connecting.
type InitialState struct {
	Snapshot
}

type MovedPiece struct {
	Piece game.PieceData
	X, Y  int
}

type Capture struct {
	CapturedPieceID uint32
	Seqnum          uint64
}

// MovesAndCaptures is an incremental batch of other players' activity.
type MovesAndCaptures struct {
	Moves    []MovedPiece
	Captures []Capture
	Seqnum   uint64
}

type BulkCapture struct {
	CapturedIDs []uint32
	Seqnum      uint64
}

type ValidMove struct {
	MoveToken       uint32
	CapturedPieceID uint32
	HasCapture      bool
	Seqnum          uint64
}

type InvalidMove struct {
	MoveToken uint32
}

type Pong struct{}

func (Snapshot) Tag() Tag         { return TagSnapshot }
func (InitialState) Tag() Tag     { return TagInitialState }
func (MovesAndCaptures) Tag() Tag { return TagMovesAndCaptures }
func (BulkCapture) Tag() Tag      { return TagBulkCapture }
func (ValidMove) Tag() Tag        { return TagValidMove }
func (InvalidMove) Tag() Tag      { return TagInvalidMove }
func (Pong) Tag() Tag             { return TagPong }

func (Snapshot) serverMessage()         {}
func (MovesAndCaptures) serverMessage() {}
func (BulkCapture) serverMessage()      {}
func (ValidMove) serverMessage()        {}
func (InvalidMove) serverMessage()      {}
func (Pong) serverMessage()             {}

// ClientMessage is the closed set of messages a client sends.
type ClientMessage interface {
	clientMessage()
}

type MoveRequest struct {
	PieceID   uint32
	FromX     int
	FromY     int
	ToX       int
	ToY       int
	Kind      game.MoveKind
	MoveToken uint32
}

type Subscribe struct {
	CenterX, CenterY int
}

type Ping struct{}

func (MoveRequest) clientMessage() {}
func (Subscribe) clientMessage()   {}
func (Ping) clientMessage()        {}
