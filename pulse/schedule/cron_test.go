package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/etlpulse/errors"
)

func TestParseCron(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 3 * * 1-5", "@hourly", "@every 90s", "CRON_TZ=Europe/Amsterdam 0 6 * * *"} {
		_, err := ParseCron(expr)
		assert.NoError(t, err, expr)
	}

	for _, expr := range []string{"", "* * *", "61 * * * *", "@sometimes"} {
		_, err := ParseCron(expr)
		assert.True(t, errors.IsInvalidRequestError(err), expr)
	}
}

func TestIsDue(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	s := &Schedule{CreatedAt: created}
	cron, err := ParseCron("*/5 * * * *")
	require.NoError(t, err)

	due, next := s.IsDue(cron, created.Add(time.Minute))
	assert.False(t, due)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC), next)

	due, _ = s.IsDue(cron, next)
	assert.True(t, due, "due exactly at the activation")

	lastRun := next
	s.LastRun = &lastRun
	due, next = s.IsDue(cron, lastRun.Add(time.Second))
	assert.False(t, due)
	assert.Equal(t, lastRun.Add(5*time.Minute), next)
}

func TestIsDue_MissedActivationsCollapse(t *testing.T) {
	lastRun := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := &Schedule{CreatedAt: lastRun, LastRun: &lastRun}
	cron, err := ParseCron("@hourly")
	require.NoError(t, err)

	now := lastRun.Add(10 * time.Hour)
	due, _ := s.IsDue(cron, now)
	require.True(t, due)

	// firing sets last_run to now, so the backlog is not replayed
	s.LastRun = &now
	due, _ = s.IsDue(cron, now.Add(time.Minute))
	assert.False(t, due)
}

func TestIsDue_NeverActivates(t *testing.T) {
	s := &Schedule{CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cron, err := ParseCron("0 0 30 2 *")
	require.NoError(t, err)

	due, _ := s.IsDue(cron, time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.False(t, due)
}
