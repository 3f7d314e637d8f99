package runs

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_AllocateIncreases(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Allocate(Run{Mode: "direct", Keyframes: 2})
	require.NoError(t, err)
	second, err := s.Allocate(Run{Mode: "derived", Keyframes: 3})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
}

func TestSQLiteStore_ConcurrentAllocateUnique(t *testing.T) {
	s := newTestStore(t)

	const n = 20
	numbers := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := s.Allocate(Run{Mode: "direct", Keyframes: 2})
			assert.NoError(t, err)
			numbers <- num
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int64]bool)
	for num := range numbers {
		assert.False(t, seen[num], "duplicate run number %d", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)
}

func TestSQLiteStore_FinishAndGet(t *testing.T) {
	s := newTestStore(t)

	num, err := s.Allocate(Run{Owner: 42, Mode: "direct", Keyframes: 2, Summary: "1 | a\n2 | b"})
	require.NoError(t, err)

	run, err := s.Get(num)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Nil(t, run.FinishedAt)
	assert.Equal(t, "1 | a\n2 | b", run.Summary)

	require.NoError(t, s.Finish(num, Outcome{Status: StatusInterrupted, Images: 3, VideoPath: "/x/morph.webm"}))

	run, err = s.Get(num)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, run.Status)
	assert.Equal(t, 3, run.Images)
	assert.Equal(t, "/x/morph.webm", run.VideoPath)
	assert.NotNil(t, run.FinishedAt)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	run, err := s.Get(99)
	require.NoError(t, err)
	assert.Nil(t, run)

	assert.Error(t, s.Finish(99, Outcome{Status: StatusDone}))
}

func TestSQLiteStore_RecentNewestFirst(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		_, err := s.Allocate(Run{Owner: 7, Mode: "direct", Keyframes: 2})
		require.NoError(t, err)
	}
	_, err := s.Allocate(Run{Owner: 8, Mode: "direct", Keyframes: 2})
	require.NoError(t, err)

	recent, err := s.Recent(7, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(3), recent[0].Number)
	assert.Equal(t, int64(2), recent[1].Number)
}
