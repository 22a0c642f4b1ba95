package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), ".cigate", FileName))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 7, 0, 0, 0, time.UTC)

	runs := []RunRecord{
		{ID: "a", Workflow: "pytest", Event: "push", Status: "failure", Start: base, End: base.Add(time.Minute),
			Jobs: []JobRecord{
				{Name: "test (3.7)", Status: "failure", Duration: 30 * time.Second, Error: "[TEST-001] tests failed"},
				{Name: "test (3.8, true)", Status: "success", Duration: 45 * time.Second},
			}},
		{ID: "b", Workflow: "regression", Event: "schedule", Status: "success", Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)},
		{ID: "c", Workflow: "pytest", Event: "push", Status: "success", Start: base.Add(3 * time.Hour), End: base.Add(4 * time.Hour)},
	}
	for _, r := range runs {
		require.NoError(t, s.Record(ctx, r))
	}

	all, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	pytest, err := s.Recent(ctx, "pytest", 10)
	require.NoError(t, err)
	require.Len(t, pytest, 2)

	first := pytest[1]
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, time.Minute, first.Duration())
	require.Len(t, first.Jobs, 2)
	assert.Equal(t, "test (3.7)", first.Jobs[0].Name)
	assert.Equal(t, 30*time.Second, first.Jobs[0].Duration)
	assert.Equal(t, "[TEST-001] tests failed", first.Jobs[0].Error)

	limited, err := s.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordDuplicateID(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	rec := RunRecord{ID: "x", Workflow: "dist", Event: "push", Status: "success", Start: time.Now(), End: time.Now()}
	require.NoError(t, s.Record(ctx, rec))
	assert.Error(t, s.Record(ctx, rec))
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(),
		RunRecord{ID: "x", Workflow: "dist", Event: "push", Status: "success", Start: time.Now(), End: time.Now()}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Recent(context.Background(), "dist", 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
