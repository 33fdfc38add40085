// Package reliability covers database durability: consistent snapshots
// shipped to an S3-compatible bucket, rotation, and routine maintenance.
package reliability

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/database"
)

const (
	backupPrefix    = "spyglass-backup-"
	timestampLayout = "2006-01-02-150405"
	// minBackupsToKeep bounds rotation: the newest N survive any
	// retention policy.
	minBackupsToKeep = 3
)

// BackupInfo describes one remote backup.
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService snapshots the database and ships compressed copies to
// the object store.
type BackupService struct {
	db            *database.DB
	store         ObjectStore
	stagingDir    string
	retentionDays int
	log           zerolog.Logger
}

// NewBackupService creates a backup service. retentionDays of zero keeps
// backups forever.
func NewBackupService(db *database.DB, store ObjectStore, stagingDir string, retentionDays int, log zerolog.Logger) *BackupService {
	return &BackupService{
		db:            db,
		store:         store,
		stagingDir:    stagingDir,
		retentionDays: retentionDays,
		log:           log.With().Str("module", "backup").Logger(),
	}
}

// Backup writes a consistent snapshot, gzips it, uploads it, and returns
// the remote key.
func (s *BackupService) Backup(ctx context.Context) (string, error) {
	started := time.Now()

	staging := filepath.Join(s.stagingDir, "backup-staging")
	if err := os.MkdirAll(staging, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	// Truncate the WAL first so the snapshot carries every committed write.
	if err := s.db.WALCheckpoint("TRUNCATE"); err != nil {
		s.log.Warn().Err(err).Msg("wal checkpoint before backup failed")
	}

	timestamp := started.UTC().Format(timestampLayout)
	snapPath := filepath.Join(staging, "snapshot.db")
	if err := s.db.Snapshot(snapPath); err != nil {
		return "", fmt.Errorf("failed to snapshot database: %w", err)
	}

	gzPath := snapPath + ".gz"
	if err := gzipFile(snapPath, gzPath); err != nil {
		return "", fmt.Errorf("failed to compress snapshot: %w", err)
	}

	key := backupPrefix + timestamp + ".db.gz"
	archive, err := os.Open(gzPath)
	if err != nil {
		return "", fmt.Errorf("failed to open compressed snapshot: %w", err)
	}
	defer archive.Close()

	info, err := archive.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat compressed snapshot: %w", err)
	}
	if err := s.store.Upload(ctx, key, archive); err != nil {
		return "", err
	}

	s.log.Info().
		Str("key", key).
		Int64("size_bytes", info.Size()).
		Dur("took", time.Since(started)).
		Msg("backup uploaded")
	return key, nil
}

// List returns remote backups newest first.
func (s *BackupService) List(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, backupPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := time.Now().UTC()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		ts, ok := parseBackupKey(obj.Key)
		if !ok {
			s.log.Warn().Str("key", obj.Key).Msg("skipping object with unparseable backup key")
			continue
		}
		backups = append(backups, BackupInfo{
			Key:       obj.Key,
			Timestamp: ts,
			SizeBytes: obj.Size,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Rotate deletes backups past the retention window, always keeping the
// newest three. Returns how many were deleted.
func (s *BackupService) Rotate(ctx context.Context) (int, error) {
	backups, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep || s.retentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for i, backup := range backups {
		if i < minBackupsToKeep || !backup.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, backup.Key); err != nil {
			s.log.Error().Err(err).Str("key", backup.Key).Msg("failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", backup.Key).Msg("deleted old backup")
		deleted++
	}
	return deleted, nil
}

func parseBackupKey(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, backupPrefix) || !strings.HasSuffix(key, ".db.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(key, backupPrefix), ".db.gz")
	ts, err := time.Parse(timestampLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func gzipFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		return err
	}
	return gz.Close()
}
