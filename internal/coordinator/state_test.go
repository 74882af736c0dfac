package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateInsertIdempotent(t *testing.T) {
	s := NewState("u1", 3, 60000, time.Now())

	inserted, err := s.AddSheet(2)
	require.NoError(t, err)
	assert.True(t, inserted)

	// 重复插入被吸收
	inserted, err = s.AddSheet(2)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Len(t, s.CompletedSheets, 1)
}

func TestStateInsertOutOfRange(t *testing.T) {
	s := NewState("u1", 3, 60000, time.Now())

	_, err := s.AddSheet(0)
	assert.Error(t, err)
	_, err = s.AddSheet(4)
	assert.Error(t, err)
	_, err = s.AddTile(-1)
	assert.Error(t, err)
}

func TestStateFullness(t *testing.T) {
	s := NewState("u1", 2, 60000, time.Now())

	_, _ = s.AddSheet(1)
	assert.False(t, s.SheetsFull())
	_, _ = s.AddSheet(2)
	assert.True(t, s.SheetsFull())
	assert.False(t, s.TilesFull())
	assert.False(t, s.Terminal())
}

func TestStateSnapshot(t *testing.T) {
	s := NewState("u1", 4, 60000, time.Now())
	_, _ = s.AddSheet(3)
	_, _ = s.AddSheet(1)
	_, _ = s.AddTile(1)

	p := s.Snapshot()
	require.NotNil(t, p)
	assert.Equal(t, "u1", p.UploadID)
	assert.Equal(t, []int{1, 3}, p.CompletedSheets)
	assert.Equal(t, 1, p.CompletedTiles)
	assert.Equal(t, 50, p.Percent)
	assert.Equal(t, StatusInProgress, p.Status)
}

func TestStateTerminal(t *testing.T) {
	s := NewState("u1", 1, 60000, time.Now())
	assert.False(t, s.Terminal())
	s.Status = StatusComplete
	assert.True(t, s.Terminal())
	s.Status = StatusFailedTimeout
	assert.True(t, s.Terminal())
}
