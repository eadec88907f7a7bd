package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/etlpulse/errors"
	etltest "github.com/teranos/etlpulse/internal/testing"
	"github.com/teranos/etlpulse/internal/util"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func createSchedule(t *testing.T, s *Store, name, cron string) *Schedule {
	t.Helper()
	sched, err := s.Create(context.Background(), CreateRequest{
		Name:     name,
		Cron:     cron,
		Priority: 5,
		Tasks:    `["echo extract","echo load"]`,
		WorkerID: testWorker,
	}, t0)
	require.NoError(t, err)
	return sched
}

func TestStore_CreateAndGet(t *testing.T) {
	s := NewStore(etltest.CreateTestDB(t))
	ctx := context.Background()

	created := createSchedule(t, s, "nightly", "0 2 * * *")
	assert.NotZero(t, created.ID)
	assert.True(t, created.ShouldRunNext)
	assert.False(t, created.Running)
	assert.Nil(t, created.LastRun)
	assert.True(t, created.CreatedAt.Equal(t0))

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, `["echo extract","echo load"]`, got.Tasks)

	name, err := s.Name(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", name)

	_, err = s.Get(ctx, 999)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_CreateRejectsInvalid(t *testing.T) {
	s := NewStore(etltest.CreateTestDB(t))
	ctx := context.Background()

	_, err := s.Create(ctx, CreateRequest{Name: "x", Cron: "bogus", WorkerID: testWorker}, t0)
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = s.Create(ctx, CreateRequest{Name: "x", Cron: "@daily", Tasks: "{", WorkerID: testWorker}, t0)
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = s.Create(ctx, CreateRequest{Cron: "@daily", WorkerID: testWorker}, t0)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestStore_SelectAndUpdate(t *testing.T) {
	s := NewStore(etltest.CreateTestDB(t))
	ctx := context.Background()

	a := createSchedule(t, s, "a", "@hourly")
	b := createSchedule(t, s, "b", "@daily")

	later := t0.Add(time.Hour)
	updated, err := s.Update(ctx, b.ID, UpdateRequest{ShouldRunNext: util.Ptr(false), Priority: util.Ptr(9)}, later)
	require.NoError(t, err)
	assert.False(t, updated.ShouldRunNext)
	assert.Equal(t, 9, updated.Priority)
	assert.True(t, updated.LastModified.Equal(later))

	enabled, err := s.Select(ctx, Filter{ShouldRunNext: util.Ptr(true)})
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, a.ID, enabled[0].ID)

	byIDs, err := s.Select(ctx, Filter{IDs: []int64{b.ID}})
	require.NoError(t, err)
	require.Len(t, byIDs, 1)

	none, err := s.Select(ctx, Filter{IDs: []int64{}})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.Update(ctx, 404, UpdateRequest{Name: util.Ptr("x")}, later)
	assert.True(t, errors.IsNotFoundError(err))

	_, err = s.Update(ctx, a.ID, UpdateRequest{Cron: util.Ptr("nope")}, later)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestStore_ClaimIsExclusive(t *testing.T) {
	s := NewStore(etltest.CreateTestDB(t))
	ctx := context.Background()
	sched := createSchedule(t, s, "a", "@hourly")

	const contenders = 8
	var wg sync.WaitGroup
	results := make(chan bool, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Claim(ctx, sched.ID, t0)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	got, err := s.Get(ctx, sched.ID)
	require.NoError(t, err)
	assert.True(t, got.Running)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.LastRun.Equal(t0))

	released, err := s.Release(ctx, sched.ID)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = s.Release(ctx, sched.ID)
	require.NoError(t, err)
	assert.False(t, released)
}

func TestStore_ClaimRespectsShouldRunNext(t *testing.T) {
	s := NewStore(etltest.CreateTestDB(t))
	ctx := context.Background()
	sched := createSchedule(t, s, "a", "@hourly")
	_, err := s.Update(ctx, sched.ID, UpdateRequest{ShouldRunNext: util.Ptr(false)}, t0)
	require.NoError(t, err)

	ok, err := s.Claim(ctx, sched.ID, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ClaimRunNow(ctx, sched.ID, t0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_DeleteSkipsRunning(t *testing.T) {
	s := NewStore(etltest.CreateTestDB(t))
	ctx := context.Background()
	a := createSchedule(t, s, "a", "@hourly")
	b := createSchedule(t, s, "b", "@hourly")

	ok, err := s.Claim(ctx, a.ID, t0)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := s.Delete(ctx, Filter{IDs: []int64{a.ID, b.ID}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, a.ID)
	assert.NoError(t, err)
	_, err = s.Get(ctx, b.ID)
	assert.True(t, errors.IsNotFoundError(err))
}
