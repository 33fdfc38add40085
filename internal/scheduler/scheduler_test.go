package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/spyglass/internal/cache"
)

type recordingJob struct {
	name string
	runs int
	err  error
}

func (j *recordingJob) Name() string { return j.name }

func (j *recordingJob) Run(context.Context) error {
	j.runs++
	return j.err
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("not a schedule", &recordingJob{name: "x"})
	require.Error(t, err)
}

func TestRunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &recordingJob{name: "x"}

	require.NoError(t, s.RunNow(context.Background(), job))
	assert.Equal(t, 1, job.runs)

	job.err = errors.New("boom")
	require.Error(t, s.RunNow(context.Background(), job))
}

func TestStopCancelsJobContext(t *testing.T) {
	s := New(zerolog.Nop())
	s.Start()
	s.Stop()
	assert.Error(t, s.ctx.Err())
}

type fakeBackupRunner struct {
	key       string
	backupErr error
	rotated   int
	rotateErr error
}

func (f *fakeBackupRunner) Backup(context.Context) (string, error) { return f.key, f.backupErr }
func (f *fakeBackupRunner) Rotate(context.Context) (int, error)    { return f.rotated, f.rotateErr }

func TestBackupJobRunsRotateAfterUpload(t *testing.T) {
	runner := &fakeBackupRunner{key: "backups/spyglass-20250601.db.gz", rotated: 2}
	job := NewBackupJob(runner, zerolog.Nop())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "backup", job.Name())
}

func TestBackupJobStopsOnUploadFailure(t *testing.T) {
	runner := &fakeBackupRunner{backupErr: errors.New("no network")}
	job := NewBackupJob(runner, zerolog.Nop())
	require.Error(t, job.Run(context.Background()))
}

func TestCachePurgeJob(t *testing.T) {
	c := cache.New(time.Millisecond, zerolog.Nop())
	require.NoError(t, c.Set("k", 1))
	time.Sleep(5 * time.Millisecond)

	job := NewCachePurgeJob(c, zerolog.Nop())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 0, c.Stats().Entries)
}
