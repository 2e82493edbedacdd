package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chessboards/communication/server"
	"chessboards/config"
	"chessboards/engine"
	"chessboards/experiments"
	"chessboards/game"
	"chessboards/metrics"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "Path to a JSON config file")
	url := flag.String("url", "", "Board server websocket URL, overrides the config")
	x := flag.Int("x", -1, "Move the view to this column after connecting")
	y := flag.Int("y", -1, "Move the view to this row after connecting")
	dump := flag.Bool("dump", false, "Write the board and client metrics as CSV, then exit")
	serve := flag.Bool("serve", false, "Run the demo board server instead of a client")
	experiment := flag.Bool("experiment", false, "Run the throughput experiment and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *url != "" {
		cfg.URL = *url
	}
	level, _ := cfg.Level()
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *serve:
		err = runServer(ctx, cfg)
	case *experiment:
		err = experiments.RunThroughputExperiment(cfg.DumpDir)
	default:
		err = runClient(ctx, cfg, *x, *y, *dump)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("exiting")
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	srv := server.NewServer(
		server.WithCompression(cfg.Server.Compress),
		server.WithViewportLength(cfg.ViewportLength),
		server.WithStart(cfg.Server.StartX, cfg.Server.StartY),
	)
	if err := seed(srv, cfg.Server.StartX, cfg.Server.StartY); err != nil {
		return err
	}

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdown)
	}()

	log.Info().Msgf("board server listening on %s", cfg.Server.Addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// seed lays out one 8x8 starting position on the sub-board holding (x, y).
func seed(srv *server.Server, x, y int) error {
	sb := game.SubBoard(x, y)
	back := []game.PieceType{game.Rook, game.Knight, game.Bishop, game.Queen, game.King, game.Bishop, game.Knight, game.Rook}
	id := uint32(1)
	place := func(t game.PieceType, c game.Color, px, py int) error {
		err := srv.Place(game.PieceData{ID: id, Type: t, Color: c}, px, py)
		id++
		return err
	}
	for i, t := range back {
		col := sb.MinX + i
		for _, err := range []error{
			place(t, game.Black, col, sb.MinY),
			place(game.Pawn, game.Black, col, sb.MinY+1),
			place(game.Pawn, game.White, col, sb.MaxY-1),
			place(t, game.White, col, sb.MaxY),
		} {
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func runClient(ctx context.Context, cfg *config.Config, x, y int, dump bool) error {
	collector := metrics.NewCollector()
	c := engine.NewClient(cfg.URL, append(cfg.EngineOptions(), engine.WithMetrics(collector))...)
	defer c.Destroy()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	if x >= 0 && y >= 0 {
		if err := c.MoveView(ctx, x, y); err != nil {
			return fmt.Errorf("failed to move view: %w", err)
		}
	} else if err := waitForBoard(ctx, c); err != nil {
		return err
	}
	log.Info().Msgf("tracking %d pieces", len(c.Snapshot().Pieces))

	if !dump {
		<-ctx.Done()
		return nil
	}

	writer, err := metrics.NewWriter(cfg.DumpDir)
	if err != nil {
		return err
	}
	path, err := writer.WriteBoard(c.Snapshot())
	if err != nil {
		return err
	}
	if err := writer.WriteClientMetric(collector.Snapshot()); err != nil {
		return err
	}
	log.Info().Msgf("wrote board to %s", path)
	return nil
}

// waitForBoard blocks until the initial state has set the viewport.
func waitForBoard(ctx context.Context, c *engine.Client) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		var ok bool
		c.Board(func(b *game.Board) { _, _, ok = b.Center() })
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
