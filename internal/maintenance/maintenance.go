package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sydlexius/alldbs/internal/registry"
)

// Status holds registry index statistics.
type Status struct {
	DBFileSize   int64  `json:"db_file_size"`
	WALFileSize  int64  `json:"wal_file_size"`
	PageCount    int64  `json:"page_count"`
	PageSize     int64  `json:"page_size"`
	Entries      int64  `json:"entries"`
	LastOptimize string `json:"last_optimize_at,omitempty"`
}

// Service provides upkeep for the registry index.
type Service struct {
	db           *sql.DB
	dbPath       string
	logger       *slog.Logger
	mu           sync.Mutex
	lastOptimize time.Time
}

// NewService creates a maintenance service.
func NewService(db *sql.DB, dbPath string, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		dbPath: dbPath,
		logger: logger.With(slog.String("component", "maintenance")),
	}
}

// IntegrityCheck runs PRAGMA quick_check. A damaged index is reported as a
// registry storage failure.
func (s *Service) IntegrityCheck(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "PRAGMA quick_check")
	if err != nil {
		return &registry.StorageError{Op: "integrity check", Err: err}
	}
	defer rows.Close() //nolint:errcheck

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return &registry.StorageError{Op: "integrity check", Err: err}
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return &registry.StorageError{Op: "integrity check", Err: err}
	}
	if len(problems) > 0 {
		return &registry.StorageError{
			Op:  "integrity check",
			Err: fmt.Errorf("index corrupted: %s", strings.Join(problems, "; ")),
		}
	}
	return nil
}

// Status returns current index statistics.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBFileSize = info.Size()
	}
	if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
		st.WALFileSize = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		return nil, fmt.Errorf("reading page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		return nil, fmt.Errorf("reading page_size: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM all_dbs").Scan(&st.Entries); err != nil {
		return nil, fmt.Errorf("counting entries: %w", err)
	}
	s.mu.Lock()
	if !s.lastOptimize.IsZero() {
		st.LastOptimize = s.lastOptimize.Format(time.RFC3339)
	}
	s.mu.Unlock()
	return st, nil
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint.
func (s *Service) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}
	s.mu.Lock()
	s.lastOptimize = time.Now().UTC()
	s.mu.Unlock()
	s.logger.Info("optimize complete")
	return nil
}

// StartScheduler runs Optimize on a fixed interval until the context is canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("maintenance scheduler started", slog.String("interval", interval.String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Optimize(ctx); err != nil {
				s.logger.Error("scheduled optimize failed", slog.Any("error", err))
			}
		}
	}
}
