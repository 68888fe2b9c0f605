package report

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/types"
)

func TestRecordsEmpty(t *testing.T) {
	assert.Contains(t, Records(nil), "No reviews in progress.")
}

func TestRecordsRowsAndCorruptEntries(t *testing.T) {
	entries := []storage.Entry{
		{Key: "design--docs__x.md", Record: &types.Record{
			Gate: "design", ArtifactID: "docs/x.md", Round: 2, MaxRounds: 3,
			Status:  types.StatusAwaitingRerun,
			History: []types.HistoryEntry{{Round: 1}, {Round: 2, Critical: 1, Important: 4}},
		}},
		{Key: "pr-code--broken", Err: errors.New("bad json")},
	}
	out := Records(entries)
	assert.Contains(t, out, "docs/x.md")
	assert.Contains(t, out, "2/3")
	assert.Contains(t, out, "AWAITING_RERUN")
	assert.Contains(t, out, "pr-code--broken")
	assert.Contains(t, out, "corrupt")
}
