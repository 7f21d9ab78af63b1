// Package telemetry journals one row per control-tick exchange so network or
// model trouble can be diagnosed after the fact without ever interrupting
// real-time operation. Recording is best effort: storage errors are logged
// and dropped, never surfaced to the control loop.
package telemetry

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"
)

// Exchange is one recorded request/reply cycle.
type Exchange struct {
	SessionID string
	Tick      int64
	At        time.Time
	Status    string // "success", "timeout", "error"
	Attempts  int
	LatencyMs int64
	Fallback  bool
}

// Stats is an aggregate over the current session.
type Stats struct {
	SessionID    string  `json:"session_id"`
	Exchanges    int64   `json:"exchanges"`
	Fallbacks    int64   `json:"fallbacks"`
	MeanLatency  float64 `json:"mean_latency_ms"`
	MeanAttempts float64 `json:"mean_attempts"`
}

// Store is the SQLite-backed journal. One store covers one client session;
// rows from earlier sessions stay until the retention job prunes them.
type Store struct {
	db        *sql.DB
	session   string
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
}

// Open creates or opens the journal at path and starts the retention job
// when pruneSchedule is a non-empty cron expression.
func Open(path string, retention time.Duration, pruneSchedule string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("telemetry: create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open db: %w", err)
	}
	// WAL keeps recording cheap alongside concurrent reads.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("telemetry: wal mode: %w", err)
	}

	s := &Store{
		db:        db,
		session:   uuid.NewString(),
		retention: retention,
		logger:    logger.With("component", "telemetry"),
	}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("telemetry: migrate: %w", err)
	}

	if pruneSchedule != "" && retention > 0 {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(pruneSchedule, s.pruneJob); err != nil {
			db.Close() //nolint:errcheck
			return nil, fmt.Errorf("telemetry: bad prune schedule %q: %w", pruneSchedule, err)
		}
		s.cron.Start()
	}

	s.logger.Info("telemetry journal opened", "path", path, "session", s.session)
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS exchanges (
		session_id TEXT    NOT NULL,
		tick       INTEGER NOT NULL,
		at         INTEGER NOT NULL,
		status     TEXT    NOT NULL,
		attempts   INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		fallback   INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_exchanges_at ON exchanges(at)`)
	return err
}

// Session returns the id stamped on this store's rows.
func (s *Store) Session() string { return s.session }

// Record journals one exchange. Best effort: failures are logged only.
func (s *Store) Record(e Exchange) {
	if e.SessionID == "" {
		e.SessionID = s.session
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	fallback := 0
	if e.Fallback {
		fallback = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO exchanges (session_id, tick, at, status, attempts, latency_ms, fallback)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Tick, e.At.UnixMilli(), e.Status, e.Attempts, e.LatencyMs, fallback,
	)
	if err != nil {
		s.logger.Warn("record failed", "error", err)
	}
}

// Summary aggregates the current session.
func (s *Store) Summary() (Stats, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(fallback), 0),
		        COALESCE(AVG(latency_ms), 0),
		        COALESCE(AVG(attempts), 0)
		 FROM exchanges WHERE session_id = ?`, s.session)

	st := Stats{SessionID: s.session}
	if err := row.Scan(&st.Exchanges, &st.Fallbacks, &st.MeanLatency, &st.MeanAttempts); err != nil {
		return Stats{}, fmt.Errorf("telemetry: summary: %w", err)
	}
	return st, nil
}

// Prune removes rows older than the retention window and returns how many
// were deleted.
func (s *Store) Prune() (int64, error) {
	cutoff := time.Now().Add(-s.retention).UnixMilli()
	res, err := s.db.Exec(`DELETE FROM exchanges WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("telemetry: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) pruneJob() {
	n, err := s.Prune()
	if err != nil {
		s.logger.Warn("prune failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("pruned telemetry rows", "rows", n)
	}
}

// Close stops the retention job and closes the database.
func (s *Store) Close() error {
	if s.cron != nil {
		s.cron.Stop()
	}
	return s.db.Close()
}
