package communication

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"chessboards/game"
	"chessboards/meta"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrUnknownMessage = errors.New("unknown message")
	ErrDecompress     = errors.New("failed to decompress message")
)

// Field numbers of the ClientMessage oneof.
const (
	clientMove      protowire.Number = 1
	clientSubscribe protowire.Number = 2
	clientPing      protowire.Number = 3
)

// Field numbers of the ServerMessage oneof.
const (
	serverInitialState     protowire.Number = 1
	serverSnapshot         protowire.Number = 2
	serverMovesAndCaptures protowire.Number = 3
	serverBulkCapture      protowire.Number = 4
	serverValidMove        protowire.Number = 5
	serverInvalidMove      protowire.Number = 6
	serverPong             protowire.Number = 7
)

var (
	zstdOnce    sync.Once
	zstdDecoder *zstd.Decoder
	zstdEncoder *zstd.Encoder
	zstdErr     error
)

func zstdCodecs() error {
	zstdOnce.Do(func() {
		zstdDecoder, zstdErr = zstd.NewReader(nil)
		if zstdErr != nil {
			return
		}
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
	})
	return zstdErr
}

// IsCompressed reports whether data starts with the zstd frame magic.
func IsCompressed(data []byte) bool {
	return len(data) >= len(meta.ZSTD_MAGIC) && bytes.Equal(data[:len(meta.ZSTD_MAGIC)], meta.ZSTD_MAGIC[:])
}

// Compress wraps data in a zstd frame.
func Compress(data []byte) ([]byte, error) {
	if err := zstdCodecs(); err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return zstdEncoder.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	if !IsCompressed(data) {
		return data, nil
	}
	if err := zstdCodecs(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompress, err)
	}
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompress, err)
	}
	return out, nil
}

// Decode turns an inbound frame into a message. Frames that cannot be decompressed or
// parsed are logged and reported as absent so the caller can move on to the next one.
func Decode(data []byte) (ServerMessage, bool) {
	msg, err := DecodeServerMessage(data)
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping undecodable server message")
		return nil, false
	}
	return msg, true
}

// DecodeServerMessage is the strict form of Decode.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	payload, err := decompress(data)
	if err != nil {
		return nil, err
	}

	var msg ServerMessage
	err = walk(payload, func(f field) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		var err error
		switch f.num {
		case serverInitialState:
			var s Snapshot
			s, err = decodeSnapshot(f.bytes)
			msg = InitialState{Snapshot: s}
		case serverSnapshot:
			msg, err = decodeSnapshot(f.bytes)
		case serverMovesAndCaptures:
			msg, err = decodeMovesAndCaptures(f.bytes)
		case serverBulkCapture:
			msg, err = decodeBulkCapture(f.bytes)
		case serverValidMove:
			msg, err = decodeValidMove(f.bytes)
		case serverInvalidMove:
			msg, err = decodeInvalidMove(f.bytes)
		case serverPong:
			msg = Pong{}
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode server message: %w", err)
	}
	if msg == nil {
		return nil, ErrUnknownMessage
	}
	return msg, nil
}

// Encode serializes an outbound command.
func Encode(msg ClientMessage) ([]byte, error) {
	var body encoder
	var num protowire.Number
	switch m := msg.(type) {
	case MoveRequest:
		num = clientMove
		body.uvarint(1, uint64(m.PieceID))
		body.varint(2, m.FromX)
		body.varint(3, m.FromY)
		body.varint(4, m.ToX)
		body.varint(5, m.ToY)
		body.varint(6, int(m.Kind))
		body.uvarint(7, uint64(m.MoveToken))
	case Subscribe:
		num = clientSubscribe
		body.varint(1, m.CenterX)
		body.varint(2, m.CenterY)
	case Ping:
		num = clientPing
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
	var out encoder
	out.message(num, body)
	return out, nil
}

// DecodeClientMessage parses a command sent by a client.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	err := walk(data, func(f field) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		switch f.num {
		case clientMove:
			var m MoveRequest
			err := walk(f.bytes, func(f field) error {
				switch f.num {
				case 1:
					m.PieceID = uint32(f.varint)
				case 2:
					m.FromX = f.asInt()
				case 3:
					m.FromY = f.asInt()
				case 4:
					m.ToX = f.asInt()
				case 5:
					m.ToY = f.asInt()
				case 6:
					m.Kind = game.MoveKind(f.asInt())
				case 7:
					m.MoveToken = uint32(f.varint)
				}
				return nil
			})
			if err != nil {
				return err
			}
			msg = m
		case clientSubscribe:
			var m Subscribe
			err := walk(f.bytes, func(f field) error {
				switch f.num {
				case 1:
					m.CenterX = f.asInt()
				case 2:
					m.CenterY = f.asInt()
				}
				return nil
			})
			if err != nil {
				return err
			}
			msg = m
		case clientPing:
			msg = Ping{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode client message: %w", err)
	}
	if msg == nil {
		return nil, ErrUnknownMessage
	}
	return msg, nil
}

// EncodeServerMessage serializes a server message. Used by the in-process server.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	var body encoder
	var num protowire.Number
	switch m := msg.(type) {
	case InitialState:
		num = serverInitialState
		body = encodeSnapshot(m.Snapshot)
	case Snapshot:
		num = serverSnapshot
		body = encodeSnapshot(m)
	case MovesAndCaptures:
		num = serverMovesAndCaptures
		for _, mv := range m.Moves {
			var e encoder
			e.message(1, encodePiece(mv.Piece))
			e.varint(2, mv.X)
			e.varint(3, mv.Y)
			body.message(1, e)
		}
		for _, c := range m.Captures {
			var e encoder
			e.uvarint(1, uint64(c.CapturedPieceID))
			e.uvarint(2, c.Seqnum)
			body.message(2, e)
		}
		body.uvarint(3, m.Seqnum)
	case BulkCapture:
		num = serverBulkCapture
		var packed []byte
		for _, id := range m.CapturedIDs {
			packed = protowire.AppendVarint(packed, uint64(id))
		}
		if len(packed) > 0 {
			body.message(1, packed)
		}
		body.uvarint(2, m.Seqnum)
	case ValidMove:
		num = serverValidMove
		body.uvarint(1, uint64(m.MoveToken))
		if m.HasCapture {
			body.always(2, uint64(m.CapturedPieceID))
		}
		body.uvarint(3, m.Seqnum)
	case InvalidMove:
		num = serverInvalidMove
		body.uvarint(1, uint64(m.MoveToken))
	case Pong:
		num = serverPong
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
	var out encoder
	out.message(num, body)
	return out, nil
}

func encodePiece(d game.PieceData) encoder {
	var e encoder
	e.uvarint(1, uint64(d.ID))
	e.varint(2, int(d.Type))
	e.flag(3, d.Color == game.White)
	e.varint(4, d.MoveCount)
	e.varint(5, d.CaptureCount)
	e.uvarint(6, uint64(d.Flags))
	return e
}

func decodePiece(b []byte) (game.PieceData, error) {
	d := game.PieceData{Color: game.Black}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			d.ID = uint32(f.varint)
		case 2:
			d.Type = game.PieceType(f.asInt())
		case 3:
			if f.varint != 0 {
				d.Color = game.White
			}
		case 4:
			d.MoveCount = f.asInt()
		case 5:
			d.CaptureCount = f.asInt()
		case 6:
			d.Flags = uint32(f.varint)
		}
		return nil
	})
	return d, err
}

func encodeSnapshot(s Snapshot) encoder {
	var body encoder
	body.varint(1, s.X)
	body.varint(2, s.Y)
	for _, sp := range s.Pieces {
		var e encoder
		e.zigzag(1, sp.DX)
		e.zigzag(2, sp.DY)
		e.message(3, encodePiece(sp.Piece))
		body.message(3, e)
	}
	body.uvarint(4, s.Seqnum)
	return body
}

func decodeSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			s.X = f.asInt()
		case 2:
			s.Y = f.asInt()
		case 3:
			var sp SnapshotPiece
			err := walk(f.bytes, func(f field) error {
				var err error
				switch f.num {
				case 1:
					sp.DX = f.asZigzag()
				case 2:
					sp.DY = f.asZigzag()
				case 3:
					sp.Piece, err = decodePiece(f.bytes)
				}
				return err
			})
			if err != nil {
				return err
			}
			s.Pieces = append(s.Pieces, sp)
		case 4:
			s.Seqnum = f.varint
		}
		return nil
	})
	return s, err
}

func decodeMovesAndCaptures(b []byte) (MovesAndCaptures, error) {
	var m MovesAndCaptures
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			var mv MovedPiece
			err := walk(f.bytes, func(f field) error {
				var err error
				switch f.num {
				case 1:
					mv.Piece, err = decodePiece(f.bytes)
				case 2:
					mv.X = f.asInt()
				case 3:
					mv.Y = f.asInt()
				}
				return err
			})
			if err != nil {
				return err
			}
			m.Moves = append(m.Moves, mv)
		case 2:
			var c Capture
			err := walk(f.bytes, func(f field) error {
				switch f.num {
				case 1:
					c.CapturedPieceID = uint32(f.varint)
				case 2:
					c.Seqnum = f.varint
				}
				return nil
			})
			if err != nil {
				return err
			}
			m.Captures = append(m.Captures, c)
		case 3:
			m.Seqnum = f.varint
		}
		return nil
	})
	return m, err
}

func decodeBulkCapture(b []byte) (BulkCapture, error) {
	var m BulkCapture
	err := walk(b, func(f field) error {
		switch {
		case f.num == 1 && f.typ == protowire.BytesType:
			packed := f.bytes
			for len(packed) > 0 {
				v, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return protowire.ParseError(n)
				}
				m.CapturedIDs = append(m.CapturedIDs, uint32(v))
				packed = packed[n:]
			}
		case f.num == 1:
			m.CapturedIDs = append(m.CapturedIDs, uint32(f.varint))
		case f.num == 2:
			m.Seqnum = f.varint
		}
		return nil
	})
	return m, err
}

func decodeValidMove(b []byte) (ValidMove, error) {
	var m ValidMove
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.MoveToken = uint32(f.varint)
		case 2:
			m.CapturedPieceID = uint32(f.varint)
			m.HasCapture = true
		case 3:
			m.Seqnum = f.varint
		}
		return nil
	})
	return m, err
}

func decodeInvalidMove(b []byte) (InvalidMove, error) {
	var m InvalidMove
	err := walk(b, func(f field) error {
		if f.num == 1 {
			m.MoveToken = uint32(f.varint)
		}
		return nil
	})
	return m, err
}

// field is one decoded protobuf field; only varint and length-delimited values are kept.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func (f field) asInt() int    { return int(int64(f.varint)) }
func (f field) asZigzag() int { return int(protowire.DecodeZigZag(f.varint)) }

func walk(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// encoder appends proto3 fields, omitting zero scalars.
type encoder []byte

func (e *encoder) uvarint(num protowire.Number, v uint64) {
	if v != 0 {
		e.always(num, v)
	}
}

func (e *encoder) always(num protowire.Number, v uint64) {
	*e = protowire.AppendTag(*e, num, protowire.VarintType)
	*e = protowire.AppendVarint(*e, v)
}

func (e *encoder) varint(num protowire.Number, v int) {
	e.uvarint(num, uint64(int64(v)))
}

func (e *encoder) zigzag(num protowire.Number, v int) {
	e.uvarint(num, protowire.EncodeZigZag(int64(v)))
}

func (e *encoder) flag(num protowire.Number, v bool) {
	if v {
		e.always(num, 1)
	}
}

func (e *encoder) message(num protowire.Number, body []byte) {
	*e = protowire.AppendTag(*e, num, protowire.BytesType)
	*e = protowire.AppendBytes(*e, body)
}
