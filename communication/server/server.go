package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chessboards/communication"
	"chessboards/game"
	"chessboards/meta"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

type Option func(s *Server)

// WithCompression zstd-compresses every outbound frame.
func WithCompression(enabled bool) Option {
	return func(s *Server) {
		s.compress = enabled
	}
}

func WithViewportLength(length int) Option {
	return func(s *Server) {
		if length > 0 && length%2 == 1 {
			s.viewLength = length
		}
	}
}

// WithStart sets where new sessions are centered before they subscribe.
func WithStart(x, y int) Option {
	return func(s *Server) {
		if game.InRange(x, y) {
			s.startX, s.startY = x, y
		}
	}
}

// Server is a small in-process board server speaking the client protocol. It checks moves
// with the piece rules only and is meant for demos and integration tests.
type Server struct {
	compress   bool
	viewLength int
	startX     int
	startY     int
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	board    *game.Board
	seqnum   uint64
	sessions map[string]*session
}

type session struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex

	// Guarded by Server.mu.
	centerX, centerY int
}

func NewServer(options ...Option) *Server {
	s := &Server{ // Default values
		viewLength: meta.VIEWPORT_LENGTH,
		startX:     meta.BOARD_SIZE / 2,
		startY:     meta.BOARD_SIZE / 2,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		board:    game.NewBoard(meta.VIEWPORT_LENGTH),
		sessions: make(map[string]*session),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Place puts a piece on the server board, replacing whatever was there.
func (s *Server) Place(d game.PieceData, x, y int) error {
	if !game.InRange(x, y) {
		return fmt.Errorf("%w: (%d,%d)", game.ErrOutOfRange, x, y)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if stale := s.board.GetByID(d.ID); stale != nil {
		s.board.CapturePiece(stale, false)
	}
	s.board.SetData(x, y, d, false)
	return nil
}

func (s *Server) Dump() game.BoardDump {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Serialize()
}

func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Handler routes /ws, /board and /healthz.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleSocket)
	r.Get("/board", s.handleBoard)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.Sessions()})
	})
	return r
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.Dump())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	sess := &session{id: uuid.NewString(), conn: conn}

	s.mu.Lock()
	sess.centerX, sess.centerY = s.startX, s.startY
	s.sessions[sess.id] = sess
	initial := communication.InitialState{Snapshot: s.snapshotLocked(sess.centerX, sess.centerY)}
	s.mu.Unlock()

	log.Info().Str("session", sess.id).Str("remote", r.RemoteAddr).Msg("session opened")
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		conn.Close()
		log.Info().Str("session", sess.id).Msg("session closed")
	}()

	if err := s.send(sess, initial); err != nil {
		return
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Str("session", sess.id).Err(err).Msg("read failed")
			}
			return
		}
		msg, err := communication.DecodeClientMessage(data)
		if err != nil {
			log.Warn().Str("session", sess.id).Err(err).Msg("dropping undecodable client message")
			continue
		}
		if err := s.handle(sess, msg); err != nil {
			return
		}
	}
}

func (s *Server) handle(sess *session, msg communication.ClientMessage) error {
	switch m := msg.(type) {
	case communication.Ping:
		return s.send(sess, communication.Pong{})
	case communication.Subscribe:
		if !game.InRange(m.CenterX, m.CenterY) {
			log.Debug().Str("session", sess.id).Msgf("ignoring subscribe to (%d,%d)", m.CenterX, m.CenterY)
			return nil
		}
		s.mu.Lock()
		sess.centerX, sess.centerY = m.CenterX, m.CenterY
		snap := s.snapshotLocked(m.CenterX, m.CenterY)
		s.mu.Unlock()
		return s.send(sess, snap)
	case communication.MoveRequest:
		return s.handleMove(sess, m)
	default:
		return fmt.Errorf("unexpected client message %T", msg)
	}
}

var errIllegal = errors.New("illegal move")

func (s *Server) handleMove(sess *session, req communication.MoveRequest) error {
	s.mu.Lock()
	reply, batch, err := s.applyMoveLocked(req)
	var watchers []*session
	if err == nil {
		for _, other := range s.sessions {
			if other != sess && (s.watchesLocked(other, req.FromX, req.FromY) || s.watchesLocked(other, req.ToX, req.ToY)) {
				watchers = append(watchers, other)
			}
		}
	}
	s.mu.Unlock()

	if err != nil {
		log.Debug().Str("session", sess.id).Err(err).Uint32("token", req.MoveToken).Msg("move rejected")
		return s.send(sess, communication.InvalidMove{MoveToken: req.MoveToken})
	}
	for _, other := range watchers {
		if err := s.send(other, batch); err != nil {
			log.Debug().Str("session", other.id).Err(err).Msg("broadcast failed")
		}
	}
	return s.send(sess, reply)
}

func (s *Server) applyMoveLocked(req communication.MoveRequest) (communication.ValidMove, communication.MovesAndCaptures, error) {
	p := s.board.GetByID(req.PieceID)
	switch {
	case p == nil:
		return communication.ValidMove{}, communication.MovesAndCaptures{}, fmt.Errorf("%w: no piece %d", errIllegal, req.PieceID)
	case p.X != req.FromX || p.Y != req.FromY:
		return communication.ValidMove{}, communication.MovesAndCaptures{}, fmt.Errorf("%w: piece %d is not at (%d,%d)", errIllegal, req.PieceID, req.FromX, req.FromY)
	case !game.InRange(req.ToX, req.ToY) || !game.IsLegalMove(p, req.ToX, req.ToY, req.Kind):
		return communication.ValidMove{}, communication.MovesAndCaptures{}, fmt.Errorf("%w: %v to (%d,%d)", errIllegal, p, req.ToX, req.ToY)
	}
	occupant := s.board.Get(req.ToX, req.ToY, false)
	if occupant != nil && occupant.Color == p.Color {
		return communication.ValidMove{}, communication.MovesAndCaptures{}, fmt.Errorf("%w: (%d,%d) holds a friendly piece", errIllegal, req.ToX, req.ToY)
	}

	s.seqnum++
	reply := communication.ValidMove{MoveToken: req.MoveToken, Seqnum: s.seqnum}
	batch := communication.MovesAndCaptures{Seqnum: s.seqnum}
	if occupant != nil {
		s.board.CapturePiece(occupant, false)
		reply.CapturedPieceID, reply.HasCapture = occupant.ID, true
		batch.Captures = append(batch.Captures, communication.Capture{CapturedPieceID: occupant.ID, Seqnum: s.seqnum})
	}
	s.board.MovePiece(p, req.ToX, req.ToY, req.Kind, occupant != nil, false)
	batch.Moves = append(batch.Moves, communication.MovedPiece{Piece: p.Data(), X: p.X, Y: p.Y})
	return reply, batch, nil
}

func (s *Server) watchesLocked(sess *session, x, y int) bool {
	return game.ViewportBounds(sess.centerX, sess.centerY, s.viewLength).Contains(x, y)
}

func (s *Server) snapshotLocked(x, y int) communication.Snapshot {
	s.seqnum++
	snap := communication.Snapshot{X: x, Y: y, Seqnum: s.seqnum}
	bounds := game.ViewportBounds(x, y, s.viewLength)
	s.board.Each(func(p *game.Piece) bool {
		if bounds.Contains(p.X, p.Y) {
			snap.Pieces = append(snap.Pieces, communication.SnapshotPiece{DX: p.X - x, DY: p.Y - y, Piece: p.Data()})
		}
		return true
	})
	return snap
}

func (s *Server) send(sess *session, msg communication.ServerMessage) error {
	data, err := communication.EncodeServerMessage(msg)
	if err != nil {
		return err
	}
	if s.compress {
		if data, err = communication.Compress(data); err != nil {
			return err
		}
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := sess.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := sess.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write %s to session %s: %w", msg.Tag(), sess.id, err)
	}
	return nil
}
