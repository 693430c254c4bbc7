package statusapi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerDefaultsMaxItems(t *testing.T) {
	m := New(0)
	assert.Equal(t, 1000, m.maxItems)
}

func TestStartAndCompleteTracksDuration(t *testing.T) {
	m := New(10)
	op := m.Start("op-1", "forward", nil)
	require.Equal(t, StatusRunning, op.Status)

	m.Complete("op-1", nil)

	got := m.Get("op-1")
	require.NotNil(t, got)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	assert.NotNil(t, got.CompletedAt)
}

func TestCompleteWithErrorMarksFailed(t *testing.T) {
	m := New(10)
	m.Start("op-2", "notify", nil)
	m.Complete("op-2", errors.New("smtp unreachable"))

	got := m.Get("op-2")
	require.NotNil(t, got)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "smtp unreachable", got.Error)
}

func TestCompleteUnknownIDIsNoop(t *testing.T) {
	m := New(10)
	assert.NotPanics(t, func() { m.Complete("ghost", nil) })
}

func TestGetReturnsCopyNotAlias(t *testing.T) {
	m := New(10)
	m.Start("op-3", "submit", nil)

	got := m.Get("op-3")
	got.Status = StatusFailed

	again := m.Get("op-3")
	assert.Equal(t, StatusRunning, again.Status, "Get must return a copy so callers can't mutate tracked state")
}

func TestEvictsOldestWhenOverCapacity(t *testing.T) {
	m := New(2)
	m.Start("a", "submit", nil)
	m.Start("b", "submit", nil)
	m.Start("c", "submit", nil)

	list := m.List()
	assert.Len(t, list, 2)
	assert.Nil(t, m.Get("a"), "the oldest operation should have been evicted")
}

func TestGetStatsAggregatesByStatusAndKind(t *testing.T) {
	m := New(10)
	m.Start("a", "submit", nil)
	m.Start("b", "forward", nil)
	m.Complete("a", nil)
	m.Complete("b", errors.New("boom"))

	stats := m.GetStats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[StatusCompleted])
	assert.Equal(t, 1, stats.ByStatus[StatusFailed])
	assert.Equal(t, 1, stats.ByKind["submit"])
	assert.Equal(t, 1, stats.ByKind["forward"])
	assert.GreaterOrEqual(t, stats.AvgDurationMs, int64(0))
}
