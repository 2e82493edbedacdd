package experiments

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"chessboards/communication/client"
	"chessboards/communication/server"
	"chessboards/engine"
	"chessboards/game"
	"chessboards/metrics"

	"github.com/rs/zerolog/log"
)

// RunConfig describes one throughput run: Clients connections, each moving its own king
// Moves times while limited to MaxRate frames per second (0 for no limit).
type RunConfig struct {
	ID      int
	Clients int
	MaxRate int
	Moves   int
}

var throughputConfigs = []RunConfig{
	{ID: 1, Clients: 1, MaxRate: 10, Moves: 20},
	{ID: 2, Clients: 4, MaxRate: 10, Moves: 20},
	{ID: 3, Clients: 4, MaxRate: 50, Moves: 50},
	{ID: 4, Clients: 4, MaxRate: 0, Moves: 100},
}

const (
	startX = 4000
	startY = 4000
	// Kings sit this far apart so every client sees all of them.
	spacing = 10
)

// RunThroughputExperiment runs every config against an in-process server and stores one
// record per run under dir.
func RunThroughputExperiment(dir string) error {
	records := []metrics.RunRecord{}

	log.Info().Msg("starting throughput experiment...")
	for i, cfg := range throughputConfigs {
		log.Info().Msgf("starting run %d of %d with %+v...", i+1, len(throughputConfigs), cfg)
		record, err := RunThroughput(cfg)
		if err != nil {
			return fmt.Errorf("run %d failed: %w", cfg.ID, err)
		}
		records = append(records, record)
		log.Info().Msgf("completed run %d: %.2f moves/s", cfg.ID, record.MovesPerSecond())
	}
	log.Info().Msg("completed throughput experiment")

	writer, err := metrics.NewWriter(dir)
	if err != nil {
		return fmt.Errorf("failed to create experiment writer: %w", err)
	}
	if err := writer.WriteRunRecords(records); err != nil {
		return err
	}
	log.Info().Msgf("stored run records in %s", writer.Dir())
	return nil
}

// RunThroughput starts a fresh server for cfg and drives it with cfg.Clients engines.
func RunThroughput(cfg RunConfig) (metrics.RunRecord, error) {
	if cfg.Clients < 1 || cfg.Moves < 1 {
		return metrics.RunRecord{}, errors.New("run needs at least one client and one move")
	}

	srv := server.NewServer(server.WithStart(startX, startY))
	for i := 0; i < cfg.Clients; i++ {
		x, y := kingSquare(i)
		if err := srv.Place(game.PieceData{ID: kingID(i), Type: game.King, Color: game.White}, x, y); err != nil {
			return metrics.RunRecord{}, err
		}
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return metrics.RunRecord{}, fmt.Errorf("failed to listen: %w", err)
	}
	httpServer := &http.Server{Handler: srv.Handler()}
	go httpServer.Serve(listener)
	defer httpServer.Close()
	url := fmt.Sprintf("ws://%s/ws", listener.Addr())

	record := metrics.RunRecord{ID: cfg.ID, Clients: cfg.Clients, MaxRate: cfg.MaxRate, Moves: cfg.Clients * cfg.Moves}
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		latency time.Duration
	)
	start := time.Now()
	for i := 0; i < cfg.Clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result := drive(url, i, cfg)

			mu.Lock()
			defer mu.Unlock()
			record.Accepted += result.accepted
			record.Rejected += result.rejected
			record.Failed += result.failed
			latency += result.latency
		}(i)
	}
	wg.Wait()
	record.Elapsed = time.Since(start)
	if record.Accepted > 0 {
		record.MeanLatency = latency / time.Duration(record.Accepted)
	}
	return record, nil
}

type driveResult struct {
	accepted int
	rejected int
	failed   int
	latency  time.Duration
}

// drive moves one king back and forth along its row.
func drive(url string, i int, cfg RunConfig) driveResult {
	var result driveResult
	c := engine.NewClient(url,
		engine.WithMoveTimeout(2*time.Second),
		engine.WithConnectionOptions(
			client.WithClass(fmt.Sprintf("experiment-%d", i)),
			client.WithMaxRate(cfg.MaxRate),
			client.WithAutoReconnect(false),
		),
	)
	defer c.Destroy()

	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		log.Error().Err(err).Int("client", i).Msg("failed to connect")
		result.failed = cfg.Moves
		return result
	}
	if !waitForPiece(c, kingID(i), 5*time.Second) {
		log.Error().Int("client", i).Msg("king never appeared")
		result.failed = cfg.Moves
		return result
	}

	homeX, _ := kingSquare(i)
	for move := 0; move < cfg.Moves; move++ {
		var king *game.Piece
		c.Board(func(b *game.Board) { king = b.GetByID(kingID(i)) })
		if king == nil {
			result.failed++
			continue
		}
		toX := homeX + 1
		if king.X != homeX {
			toX = homeX
		}

		sent := time.Now()
		_, err := c.MovePiece(ctx, king, toX, king.Y, game.NormalMove)
		switch {
		case err == nil:
			result.accepted++
			result.latency += time.Since(sent)
		case errors.Is(err, game.ErrMoveRejected):
			result.rejected++
		default:
			log.Debug().Err(err).Int("client", i).Msg("move failed")
			result.failed++
		}
	}
	return result
}

func waitForPiece(c *engine.Client, id uint32, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var found bool
		c.Board(func(b *game.Board) { found = b.GetByID(id) != nil })
		if found {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func kingID(i int) uint32 { return uint32(1000 + i) }

func kingSquare(i int) (int, int) {
	return startX + (i%4)*spacing, startY + (i/4)*spacing
}
