package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/cache"
	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/alerts"
	"github.com/aristath/spyglass/internal/store"
	"github.com/aristath/spyglass/internal/syncer"
)

// SyncJob runs a full sync for every registered user.
type SyncJob struct {
	users  *store.UserRepository
	syncer *syncer.Syncer
	log    zerolog.Logger
}

// NewSyncJob creates the nightly sync job.
func NewSyncJob(users *store.UserRepository, s *syncer.Syncer, log zerolog.Logger) *SyncJob {
	return &SyncJob{users: users, syncer: s, log: log.With().Str("job", "sync").Logger()}
}

func (j *SyncJob) Name() string { return "sync_all" }

// Run syncs users sequentially; one user's failure does not skip the rest.
func (j *SyncJob) Run(ctx context.Context) error {
	users, err := j.users.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	var failed int
	for _, user := range users {
		res, err := j.syncer.SyncAll(ctx, user)
		if err != nil {
			failed++
			j.log.Error().Err(err).Str("user", user.Username).Msg("sync failed")
			continue
		}
		if res.Status != domain.SyncSuccess {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d users did not sync cleanly", failed, len(users))
	}
	return nil
}

// AlertJob evaluates active price alerts.
type AlertJob struct {
	evaluator *alerts.Evaluator
}

// NewAlertJob creates the periodic alert evaluation job.
func NewAlertJob(evaluator *alerts.Evaluator) *AlertJob {
	return &AlertJob{evaluator: evaluator}
}

func (j *AlertJob) Name() string { return "evaluate_alerts" }

func (j *AlertJob) Run(ctx context.Context) error {
	_, err := j.evaluator.EvaluateAll(ctx, time.Now().UTC())
	return err
}

// CachePurgeJob drops expired cache entries.
type CachePurgeJob struct {
	cache *cache.Cache
	log   zerolog.Logger
}

// NewCachePurgeJob creates the cache maintenance job.
func NewCachePurgeJob(c *cache.Cache, log zerolog.Logger) *CachePurgeJob {
	return &CachePurgeJob{cache: c, log: log.With().Str("job", "cache_purge").Logger()}
}

func (j *CachePurgeJob) Name() string { return "cache_purge" }

func (j *CachePurgeJob) Run(context.Context) error {
	if removed := j.cache.Purge(); removed > 0 {
		j.log.Debug().Int("removed", removed).Msg("purged expired cache entries")
	}
	return nil
}

// BackupRunner is the slice of the backup service the job needs.
type BackupRunner interface {
	Backup(ctx context.Context) (string, error)
	Rotate(ctx context.Context) (int, error)
}

// BackupJob snapshots the database to the configured remote and rotates
// old copies.
type BackupJob struct {
	runner BackupRunner
	log    zerolog.Logger
}

// NewBackupJob creates the nightly backup job.
func NewBackupJob(runner BackupRunner, log zerolog.Logger) *BackupJob {
	return &BackupJob{runner: runner, log: log.With().Str("job", "backup").Logger()}
}

func (j *BackupJob) Name() string { return "backup" }

func (j *BackupJob) Run(ctx context.Context) error {
	key, err := j.runner.Backup(ctx)
	if err != nil {
		return err
	}
	j.log.Info().Str("key", key).Msg("backup uploaded")

	removed, err := j.runner.Rotate(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		j.log.Info().Int("removed", removed).Msg("rotated old backups")
	}
	return nil
}
