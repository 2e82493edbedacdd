package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"chessboards/game"
)

type Writer struct {
	baseDir string
}

// NewWriter creates a timestamped folder under dir for board dumps.
func NewWriter(dir string) (*Writer, error) {
	timestamp := time.Now().UTC().Format("20060102T150405Z")
	baseDir := filepath.Join(dir, timestamp)
	err := os.MkdirAll(baseDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &Writer{
		baseDir: baseDir,
	}, nil
}

func (w *Writer) Dir() string {
	return w.baseDir
}

// WriteBoard stores every piece of the dump as one CSV row and returns the file path.
func (w *Writer) WriteBoard(dump game.BoardDump) (string, error) {
	path := filepath.Join(w.baseDir, fmt.Sprintf("board_%d_%d.csv", dump.CenterX, dump.CenterY))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create board file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)

	header := []string{"id", "type", "color", "x", "y", "move_count", "capture_count", "flags"}
	err = writer.Write(header)
	if err != nil {
		return "", fmt.Errorf("failed to write board header: %w", err)
	}

	for _, p := range dump.Pieces {
		row := []string{
			strconv.FormatUint(uint64(p.ID), 10),
			p.Type.String(),
			p.Color.String(),
			strconv.Itoa(p.X),
			strconv.Itoa(p.Y),
			strconv.Itoa(p.MoveCount),
			strconv.Itoa(p.CaptureCount),
			strconv.FormatUint(uint64(p.Flags), 10),
		}
		err = writer.Write(row)
		if err != nil {
			return "", fmt.Errorf("failed to write board row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("failed to flush board file: %w", err)
	}
	return path, nil
}

func (w *Writer) WriteClientMetric(m ClientMetric) error {
	path := filepath.Join(w.baseDir, "client_metrics.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create client metrics file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	defer writer.Flush()

	header := []string{"connects", "reconnects", "disconnects", "frames_sent", "send_retries", "frames_dropped", "moves_accepted", "moves_rejected", "timeouts", "uptime"}
	err = writer.Write(header)
	if err != nil {
		return fmt.Errorf("failed to write client metrics header: %w", err)
	}

	row := []string{
		strconv.Itoa(m.Connects),
		strconv.Itoa(m.Reconnects),
		strconv.Itoa(m.Disconnects),
		strconv.Itoa(m.FramesSent),
		strconv.Itoa(m.SendRetries),
		strconv.Itoa(m.FramesDropped),
		strconv.Itoa(m.MovesAccepted),
		strconv.Itoa(m.MovesRejected),
		strconv.Itoa(m.Timeouts),
		m.Uptime.String(),
	}
	err = writer.Write(row)
	if err != nil {
		return fmt.Errorf("failed to write client metrics row: %w", err)
	}

	return nil
}

// RunRecord summarizes one throughput run of the experiments package.
type RunRecord struct {
	ID          int
	Clients     int
	MaxRate     int
	Moves       int
	Accepted    int
	Rejected    int
	Failed      int
	Elapsed     time.Duration
	MeanLatency time.Duration
}

// MovesPerSecond is the accepted move rate over the whole run.
func (r RunRecord) MovesPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Accepted) / r.Elapsed.Seconds()
}

func (w *Writer) WriteRunRecords(records []RunRecord) error {
	path := filepath.Join(w.baseDir, "runs.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create runs file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	defer writer.Flush()

	header := []string{"id", "clients", "max_rate", "moves", "accepted", "rejected", "failed", "elapsed_ms", "mean_latency_ms", "moves_per_second"}
	err = writer.Write(header)
	if err != nil {
		return fmt.Errorf("failed to write runs header: %w", err)
	}

	for _, r := range records {
		row := []string{
			strconv.Itoa(r.ID),
			strconv.Itoa(r.Clients),
			strconv.Itoa(r.MaxRate),
			strconv.Itoa(r.Moves),
			strconv.Itoa(r.Accepted),
			strconv.Itoa(r.Rejected),
			strconv.Itoa(r.Failed),
			strconv.FormatInt(r.Elapsed.Milliseconds(), 10),
			strconv.FormatFloat(float64(r.MeanLatency.Microseconds())/1000, 'f', 3, 64),
			strconv.FormatFloat(r.MovesPerSecond(), 'f', 2, 64),
		}
		err = writer.Write(row)
		if err != nil {
			return fmt.Errorf("failed to write run record: %w", err)
		}
	}

	return nil
}
