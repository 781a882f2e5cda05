// Package history persists finished executions to SQLite so operators can
// query recent activity after a restart. Recording is best-effort: writes
// are buffered and flushed in the background, and a disabled store is
// simply absent from the pipeline wiring.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/rcourtman/shellgate/internal/pipeline"
)

const dbFile = "history.db"

// StoreConfig holds history store settings.
type StoreConfig struct {
	DataDir         string
	WriteBufferSize int           // rows buffered before a batch write
	FlushInterval   time.Duration // max time between flushes
	RetentionDays   int           // rows older than this are swept
}

// Row is one persisted execution.
type Row struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	Level             string    `json:"level"`
	Preview           string    `json:"preview"`
	DurationMs        int64     `json:"durationMs"`
	Truncated         bool      `json:"truncated"`
	TimedOut          bool      `json:"timedOut"`
	Confirmed         bool      `json:"confirmed"`
	TerminationReason string    `json:"terminationReason"`
	ExitCode          *int      `json:"exitCode,omitempty"`
	SessionID         string    `json:"sessionId"`
}

// Store provides persistent execution history.
type Store struct {
	db  *sql.DB
	cfg StoreConfig

	bufferMu sync.Mutex
	buffer   []Row

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewStore opens (or creates) the history database under cfg.DataDir and
// starts the flush/retention worker.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	path := filepath.Join(cfg.DataDir, dbFile)
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:     db,
		cfg:    cfg,
		buffer: make([]Row, 0, cfg.WriteBufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}

	go s.worker()

	log.Info().Str("path", path).Int("retentionDays", cfg.RetentionDays).
		Msg("History store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			level TEXT NOT NULL,
			preview TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			truncated INTEGER NOT NULL DEFAULT 0,
			timed_out INTEGER NOT NULL DEFAULT 0,
			confirmed INTEGER NOT NULL DEFAULT 0,
			termination_reason TEXT NOT NULL DEFAULT '',
			exit_code INTEGER,
			session_id TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_executions_time
		ON executions(timestamp);

		CREATE INDEX IF NOT EXISTS idx_executions_level_time
		ON executions(level, timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// RecordExecution buffers one finished execution. Implements the request
// pipeline's history hook.
func (s *Store) RecordExecution(id string, ts time.Time, level string, rec pipeline.ExecutionSummary) {
	s.bufferMu.Lock()
	defer s.bufferMu.Unlock()

	s.buffer = append(s.buffer, Row{
		ID:                id,
		Timestamp:         ts,
		Level:             level,
		Preview:           rec.Preview,
		DurationMs:        rec.DurationMs,
		Truncated:         rec.Truncated,
		TimedOut:          rec.TimedOut,
		Confirmed:         rec.Confirmed,
		TerminationReason: rec.TerminationReason,
		ExitCode:          rec.ExitCode,
		SessionID:         rec.SessionID,
	})
	if len(s.buffer) >= s.cfg.WriteBufferSize {
		s.flushLocked()
	}
}

// Flush writes all buffered rows synchronously.
func (s *Store) Flush() {
	s.bufferMu.Lock()
	toWrite := make([]Row, len(s.buffer))
	copy(toWrite, s.buffer)
	s.buffer = s.buffer[:0]
	s.bufferMu.Unlock()
	s.writeBatch(toWrite)
}

func (s *Store) flushLocked() {
	if len(s.buffer) == 0 {
		return
	}
	toWrite := make([]Row, len(s.buffer))
	copy(toWrite, s.buffer)
	s.buffer = s.buffer[:0]
	go s.writeBatch(toWrite)
}

func (s *Store) writeBatch(rows []Row) {
	if len(rows) == 0 {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin history transaction")
		return
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO executions
		(id, timestamp, level, preview, duration_ms, truncated, timed_out,
		 confirmed, termination_reason, exit_code, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		log.Error().Err(err).Msg("Failed to prepare history insert")
		return
	}
	defer stmt.Close()

	for _, r := range rows {
		var exitCode any
		if r.ExitCode != nil {
			exitCode = *r.ExitCode
		}
		if _, err := stmt.Exec(r.ID, r.Timestamp.Unix(), r.Level, r.Preview,
			r.DurationMs, r.Truncated, r.TimedOut, r.Confirmed,
			r.TerminationReason, exitCode, r.SessionID); err != nil {
			log.Warn().Err(err).Str("id", r.ID).Msg("Failed to insert history row")
		}
	}
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("Failed to commit history batch")
		return
	}
	log.Debug().Int("count", len(rows)).Msg("Wrote history batch")
}

// worker flushes on the interval and sweeps expired rows daily.
func (s *Store) worker() {
	defer close(s.doneCh)

	flushTicker := time.NewTicker(s.cfg.FlushInterval)
	defer flushTicker.Stop()
	sweepTicker := time.NewTicker(time.Hour)
	defer sweepTicker.Stop()

	s.sweep()
	for {
		select {
		case <-s.stopCh:
			s.Flush()
			return
		case <-flushTicker.C:
			s.Flush()
		case <-sweepTicker.C:
			s.sweep()
		}
	}
}

// sweep deletes rows past the retention window.
func (s *Store) sweep() {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays).Unix()
	res, err := s.db.Exec(`DELETE FROM executions WHERE timestamp < ?`, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("History retention sweep failed")
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Info().Int64("rows", n).Msg("History retention sweep removed rows")
	}
}

// Close flushes, stops the worker, and closes the database.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
	return s.db.Close()
}

// Recent returns the newest n rows, newest first.
func (s *Store) Recent(n int) ([]Row, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.Query(`
		SELECT id, timestamp, level, preview, duration_ms, truncated,
		       timed_out, confirmed, termination_reason, exit_code, session_id
		FROM executions ORDER BY timestamp DESC, id DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent executions: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// UnknownTop returns the most frequent UNKNOWN-level previews.
func (s *Store) UnknownTop(n int) ([]UnknownCount, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.Query(`
		SELECT preview, COUNT(*) AS c
		FROM executions WHERE level = 'UNKNOWN'
		GROUP BY preview ORDER BY c DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query unknown commands: %w", err)
	}
	defer rows.Close()

	var out []UnknownCount
	for rows.Next() {
		var uc UnknownCount
		if err := rows.Scan(&uc.Preview, &uc.Count); err != nil {
			return nil, err
		}
		out = append(out, uc)
	}
	return out, rows.Err()
}

// UnknownCount is one row of UnknownTop.
type UnknownCount struct {
	Preview string `json:"preview"`
	Count   int    `json:"count"`
}

// LevelCountsSince returns execution counts per level at or after t.
func (s *Store) LevelCountsSince(t time.Time) (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT level, COUNT(*) FROM executions
		WHERE timestamp >= ? GROUP BY level
	`, t.Unix())
	if err != nil {
		return nil, fmt.Errorf("query level counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		counts[level] = n
	}
	return counts, rows.Err()
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var r Row
		var ts int64
		var exitCode sql.NullInt64
		if err := rows.Scan(&r.ID, &ts, &r.Level, &r.Preview, &r.DurationMs,
			&r.Truncated, &r.TimedOut, &r.Confirmed, &r.TerminationReason,
			&exitCode, &r.SessionID); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(ts, 0).UTC()
		if exitCode.Valid {
			code := int(exitCode.Int64)
			r.ExitCode = &code
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
