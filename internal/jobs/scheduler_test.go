package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sweeperFunc func(ctx context.Context) (int, error)

func (f sweeperFunc) SweepOverdue(ctx context.Context) (int, error) { return f(ctx) }

func TestPurgeRunsEveryPurger(t *testing.T) {
	var calls []string
	s := NewScheduler(sweeperFunc(func(context.Context) (int, error) { return 0, nil }), "@every 1h",
		Purger{Name: "drafts", Purge: func() int { calls = append(calls, "drafts"); return 2 }},
		Purger{Name: "states", Purge: func() int { calls = append(calls, "states"); return 0 }},
	)
	s.purge()
	assert.Equal(t, []string{"drafts", "states"}, calls)
}

func TestSweepSurvivesErrors(t *testing.T) {
	runs := 0
	s := NewScheduler(sweeperFunc(func(context.Context) (int, error) {
		runs++
		return 0, errors.New("db down")
	}), "@every 1h")
	s.sweep(context.Background())
	s.sweep(context.Background())
	assert.Equal(t, 2, runs)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(sweeperFunc(func(context.Context) (int, error) { return 0, nil }), "every tuesday")
	require.Error(t, s.Start(context.Background()))
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(sweeperFunc(func(context.Context) (int, error) { return 0, nil }), "*/15 * * * *")
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
