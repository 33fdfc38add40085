package reliability

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/spyglass/internal/database"
)

type fakeStore struct {
	objects map[string][]byte
	listed  []ObjectInfo
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Upload(_ context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStore) List(context.Context, string) ([]ObjectInfo, error) {
	if f.listed != nil {
		return f.listed, nil
	}
	var out []ObjectInfo
	for key, data := range f.objects {
		out = append(out, ObjectInfo{Key: key, Size: int64(len(data))})
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return nil
}

func testDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestBackupUploadsGzippedSnapshot(t *testing.T) {
	db := testDB(t)
	store := newFakeStore()
	svc := NewBackupService(db, store, t.TempDir(), 30, zerolog.Nop())

	key, err := svc.Backup(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, backupPrefix))
	assert.True(t, strings.HasSuffix(key, ".db.gz"))

	data, ok := store.objects[key]
	require.True(t, ok)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	header := make([]byte, 16)
	_, err = io.ReadFull(gz, header)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(header))
}

func TestBackupKeyRoundTrips(t *testing.T) {
	ts, ok := parseBackupKey(backupPrefix + "2025-06-01-030000.db.gz")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC), ts)

	_, ok = parseBackupKey("unrelated-object.txt")
	assert.False(t, ok)
	_, ok = parseBackupKey(backupPrefix + "not-a-timestamp.db.gz")
	assert.False(t, ok)
}

func backupObject(age time.Duration) ObjectInfo {
	ts := time.Now().UTC().Add(-age)
	return ObjectInfo{Key: backupPrefix + ts.Format(timestampLayout) + ".db.gz", Size: 1024}
}

func TestRotateKeepsNewestThree(t *testing.T) {
	store := newFakeStore()
	store.listed = []ObjectInfo{
		backupObject(1 * 24 * time.Hour),
		backupObject(2 * 24 * time.Hour),
		backupObject(40 * 24 * time.Hour),
		backupObject(50 * 24 * time.Hour),
		backupObject(60 * 24 * time.Hour),
	}
	svc := NewBackupService(nil, store, "", 7, zerolog.Nop())

	deleted, err := svc.Rotate(context.Background())
	require.NoError(t, err)
	// The three newest survive even though two of them are past retention.
	assert.Equal(t, 2, deleted)
	assert.Len(t, store.deleted, 2)
	for _, key := range store.deleted {
		ts, ok := parseBackupKey(key)
		require.True(t, ok)
		assert.True(t, time.Since(ts) > 45*24*time.Hour)
	}
}

func TestRotateNoOpBelowMinimum(t *testing.T) {
	store := newFakeStore()
	store.listed = []ObjectInfo{
		backupObject(100 * 24 * time.Hour),
		backupObject(200 * 24 * time.Hour),
	}
	svc := NewBackupService(nil, store, "", 7, zerolog.Nop())

	deleted, err := svc.Rotate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestRotateZeroRetentionKeepsEverything(t *testing.T) {
	store := newFakeStore()
	for i := 1; i <= 5; i++ {
		store.listed = append(store.listed, backupObject(time.Duration(i*100)*24*time.Hour))
	}
	svc := NewBackupService(nil, store, "", 0, zerolog.Nop())

	deleted, err := svc.Rotate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestListSortsNewestFirstAndSkipsForeignKeys(t *testing.T) {
	store := newFakeStore()
	store.listed = []ObjectInfo{
		backupObject(72 * time.Hour),
		backupObject(24 * time.Hour),
		{Key: "manifest.json", Size: 10},
	}
	svc := NewBackupService(nil, store, "", 7, zerolog.Nop())

	backups, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp))
	assert.InDelta(t, 24, backups[0].AgeHours, 1)
}
