package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/storage/storagetest"
	"github.com/steveyegge/converge/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state"), 2*time.Second)
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return newTestStore(t) })
}

func TestCorruptRecord(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"truncated json", `{"gate":"pr-code","artifact_id":`},
		{"binary garbage", "\x00\x01\x02"},
		{"invalid round", `{"gate":"pr-code","artifact_id":"x","round":0,"max_rounds":3,"history":[],"status":"NEW"}`},
		{"unknown status", `{"gate":"pr-code","artifact_id":"x","round":1,"max_rounds":3,"history":[],"status":"WAT"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "k.json"), []byte(tt.body), 0o644))
			_, err := s.Load(context.Background(), "k")
			assert.True(t, errors.Is(err, storage.ErrStateCorruption), "got %v", err)
		})
	}
}

func TestCreateOverwritesCorrupt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "k.json"), []byte("garbage"), 0o644))
	require.NoError(t, s.Create(ctx, "k", types.NewRecord("design", "a.md", 2, time.Now())))
	rec, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a.md", rec.ArtifactID)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "k", types.NewRecord("design", "a.md", 2, time.Now())))
	matches, err := filepath.Glob(filepath.Join(s.Dir(), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestUpdateTimesOutOnHeldLock(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "state"), 100*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "k", types.NewRecord("design", "a.md", 2, time.Now())))

	other := flock.New(s.lockPath("k"))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	_, err = s.Update(ctx, "k", func(r *types.Record) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting for lock")
}

func TestArchiveJSONL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := types.NewRecord("design", "docs/x.md", 2, time.Now())
	rec.Status = types.StatusConverged
	rec.History = []types.HistoryEntry{{Round: 1, Status: types.EntryConverged}}
	require.NoError(t, s.Archive(ctx, "design--docs__x.md", rec))
	require.NoError(t, s.Archive(ctx, "design--docs__x.md", rec))

	assert.Equal(t, filepath.Join(filepath.Dir(s.Dir()), ArchiveFileName), s.ArchivePath())
	got, err := s.ReadArchive()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.StatusConverged, got[0].Record.Status)
}

func TestListReportsCorruptEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "good", types.NewRecord("design", "a.md", 2, time.Now())))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "bad.json"), []byte("{"), 0o644))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bad", entries[0].Key)
	assert.True(t, errors.Is(entries[0].Err, storage.ErrStateCorruption))
	assert.NoError(t, entries[1].Err)
}

func TestUnreadableRecordIsCorruption(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A directory where the record file should be cannot be read as one.
	require.NoError(t, os.Mkdir(s.recordPath("pr-code--dir"), 0o755))
	_, err := s.Load(ctx, "pr-code--dir")
	assert.ErrorIs(t, err, storage.ErrStateCorruption)
	assert.NotErrorIs(t, err, storage.ErrNotFound)

	if os.Geteuid() == 0 {
		t.Skip("root can read files without permission")
	}
	rec := types.NewRecord("pr-code", "feature/x", 3, time.Now())
	require.NoError(t, s.Create(ctx, "pr-code--perm", rec))
	require.NoError(t, os.Chmod(s.recordPath("pr-code--perm"), 0))
	t.Cleanup(func() { _ = os.Chmod(s.recordPath("pr-code--perm"), 0o600) })

	_, err = s.Load(ctx, "pr-code--perm")
	assert.ErrorIs(t, err, storage.ErrStateCorruption)
	require.NoError(t, s.Create(ctx, "pr-code--perm", rec), "a fresh record replaces the unreadable one")
}

func TestDeleteKeepsLockFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "k", types.NewRecord("pr-code", "feature/x", 3, time.Now())))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := os.Stat(s.recordPath("k"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.lockPath("k"))
	assert.NoError(t, err)
}
