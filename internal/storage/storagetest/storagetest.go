// Package storagetest is a conformance suite shared by every Store backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/types"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises the Store contract against stores built by newStore.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("LoadMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(context.Background(), "pr-code--nope")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("CreateLoad", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := types.NewRecord("pr-code", "feature/x", 10, now)
		require.NoError(t, s.Create(ctx, "pr-code--feature__x", rec))

		got, err := s.Load(ctx, "pr-code--feature__x")
		require.NoError(t, err)
		assert.Equal(t, "feature/x", got.ArtifactID)
		assert.Equal(t, 1, got.Round)
		assert.Equal(t, types.StatusNew, got.Status)
		assert.Empty(t, got.History)
		assert.True(t, now.Equal(got.UpdatedAt))
	})

	t.Run("CreateRejectsInvalid", func(t *testing.T) {
		s := newStore(t)
		rec := types.NewRecord("pr-code", "feature/x", 0, now)
		assert.Error(t, s.Create(context.Background(), "k", rec))
	})

	t.Run("UpdateAppliesMutator", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, "k", types.NewRecord("design", "docs/x.md", 2, now)))

		got, err := s.Update(ctx, "k", func(r *types.Record) error {
			r.History = append(r.History, types.HistoryEntry{
				Round: 1, Critical: 1, Status: types.EntryPendingFix,
				Findings: []types.Finding{{PerspectiveID: "risk", Severity: types.SeverityCritical, Description: "data loss"}},
			})
			r.Status = types.StatusAwaitingRerun
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, types.StatusAwaitingRerun, got.Status)

		loaded, err := s.Load(ctx, "k")
		require.NoError(t, err)
		require.Len(t, loaded.History, 1)
		assert.Equal(t, "data loss", loaded.History[0].Findings[0].Description)
	})

	t.Run("UpdateMutatorErrorLeavesRecord", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, "k", types.NewRecord("design", "docs/x.md", 2, now)))
		boom := errors.New("boom")
		_, err := s.Update(ctx, "k", func(r *types.Record) error {
			r.MaxRounds = 99
			return boom
		})
		assert.True(t, errors.Is(err, boom))

		loaded, err := s.Load(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.MaxRounds)
	})

	t.Run("UpdateRejectsInvalidResult", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, "k", types.NewRecord("design", "docs/x.md", 2, now)))
		_, err := s.Update(ctx, "k", func(r *types.Record) error {
			r.Round = 5
			return nil
		})
		assert.Error(t, err)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Update(context.Background(), "missing", func(*types.Record) error { return nil })
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("DeleteThenLoad", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, "k", types.NewRecord("design", "docs/x.md", 2, now)))
		require.NoError(t, s.Delete(ctx, "k"))
		_, err := s.Load(ctx, "k")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		assert.NoError(t, s.Delete(ctx, "k"), "deleting a missing key is not an error")
	})

	t.Run("List", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, "b", types.NewRecord("design", "b.md", 2, now)))
		require.NoError(t, s.Create(ctx, "a", types.NewRecord("design", "a.md", 2, now)))
		entries, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "a", entries[0].Key)
		assert.Equal(t, "b.md", entries[1].Record.ArtifactID)
	})

	t.Run("Archive", func(t *testing.T) {
		s := newStore(t)
		rec := types.NewRecord("design", "docs/x.md", 2, now)
		rec.Status = types.StatusAborted
		rec.History = []types.HistoryEntry{{Round: 1, Important: 1, Status: types.EntryStalled}}
		assert.NoError(t, s.Archive(context.Background(), "k", rec))
	})

	t.Run("ConcurrentUpdatesSerialize", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, "k", types.NewRecord("design", "docs/x.md", 1, now)))

		const n = 8
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, "k", func(r *types.Record) error {
					r.MaxRounds++
					return nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		got, err := s.Load(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 1+n, got.MaxRounds, fmt.Sprintf("lost update: %d", got.MaxRounds))
	})
}
