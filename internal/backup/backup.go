// Package backup snapshots the registry index with VACUUM INTO.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sydlexius/alldbs/internal/database"
	"github.com/sydlexius/alldbs/internal/registry"
)

const (
	filePrefix = "alldbs-"
	fileSuffix = ".db"
	timeLayout = "20060102-150405"
)

// backupPattern matches backup filenames: alldbs-YYYYMMDD-HHMMSS.db
var backupPattern = regexp.MustCompile(`^alldbs-\d{8}-\d{6}\.db$`)

// Info describes a backup file.
type Info struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Service manages registry backups.
type Service struct {
	db         *sql.DB
	backupDir  string
	mu         sync.RWMutex
	retention  int
	maxAgeDays int
	logger     *slog.Logger
}

// NewService creates a backup service.
func NewService(db *sql.DB, backupDir string, retention int, logger *slog.Logger) *Service {
	return &Service{
		db:        db,
		backupDir: backupDir,
		retention: retention,
		logger:    logger.With(slog.String("component", "backup")),
	}
}

// SetMaxAgeDays sets the age limit applied by Prune. Zero disables it.
func (s *Service) SetMaxAgeDays(days int) {
	s.mu.Lock()
	s.maxAgeDays = days
	s.mu.Unlock()
}

// Backup writes a consistent snapshot of the registry.
func (s *Service) Backup(ctx context.Context) (*Info, error) {
	if err := os.MkdirAll(s.backupDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	now := time.Now().UTC()
	filename := filePrefix + now.Format(timeLayout) + fileSuffix
	dest := filepath.Join(s.backupDir, filename)

	s.logger.Info("starting backup", slog.String("dest", dest))

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return nil, fmt.Errorf("VACUUM INTO: %w", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}

	s.logger.Info("backup complete",
		slog.String("filename", filename),
		slog.Int64("size", info.Size()))

	return &Info{Filename: filename, Size: info.Size(), CreatedAt: now}, nil
}

// Keys opens a backup and returns the database keys it holds.
func (s *Service) Keys(ctx context.Context, filename string) ([]string, error) {
	if !IsValidBackupFilename(filename) {
		return nil, fmt.Errorf("invalid backup filename")
	}
	path := filepath.Join(s.backupDir, filename)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat backup: %w", err)
	}

	db, err := database.Open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck

	return registry.New(db, s.logger).List(ctx)
}

// ListBackups returns all backup files sorted by date descending.
func (s *Service) ListBackups() ([]Info, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var backups []Info
	for _, entry := range entries {
		if entry.IsDir() || !backupPattern.MatchString(entry.Name()) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}

		stamp := strings.TrimSuffix(strings.TrimPrefix(entry.Name(), filePrefix), fileSuffix)
		ts, err := time.Parse(timeLayout, stamp)
		if err != nil {
			ts = fi.ModTime()
		}

		backups = append(backups, Info{Filename: entry.Name(), Size: fi.Size(), CreatedAt: ts})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Delete removes a single backup file by filename.
func (s *Service) Delete(filename string) error {
	if !IsValidBackupFilename(filename) {
		return fmt.Errorf("invalid backup filename")
	}
	if err := os.Remove(filepath.Join(s.backupDir, filename)); err != nil { //nolint:gosec // filename validated above
		return fmt.Errorf("removing backup: %w", err)
	}
	s.logger.Info("backup deleted", slog.String("filename", filename))
	return nil
}

// Prune deletes backups beyond the retention count and older than max age.
func (s *Service) Prune() error {
	s.mu.RLock()
	retention := s.retention
	maxAge := s.maxAgeDays
	s.mu.RUnlock()

	backups, err := s.ListBackups()
	if err != nil {
		return err
	}

	var cutoff time.Time
	if maxAge > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -maxAge)
	}

	for i, b := range backups {
		overCount := retention > 0 && i >= retention
		tooOld := maxAge > 0 && b.CreatedAt.Before(cutoff)
		if !overCount && !tooOld {
			continue
		}
		if err := os.Remove(filepath.Join(s.backupDir, b.Filename)); err != nil {
			s.logger.Warn("failed to remove old backup",
				slog.String("filename", b.Filename),
				slog.Any("error", err))
			continue
		}
		s.logger.Info("pruned backup", slog.String("filename", b.Filename))
	}
	return nil
}

// StartScheduler runs backups on a fixed interval until the context is canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("backup scheduler started",
		slog.String("interval", interval.String()),
		slog.Int("retention", s.retention))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Backup(ctx); err != nil {
				s.logger.Error("scheduled backup failed", slog.Any("error", err))
				continue
			}
			if err := s.Prune(); err != nil {
				s.logger.Error("backup prune failed", slog.Any("error", err))
			}
		}
	}
}

// IsValidBackupFilename checks that filename matches the backup pattern and
// contains no path traversal.
func IsValidBackupFilename(filename string) bool {
	if strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return false
	}
	return backupPattern.MatchString(filename)
}
