package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsZeroValue(t *testing.T) {
	s := New(t.TempDir())
	rt, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, rt.LastMonitorID)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save(Runtime{LastMonitorID: 3}))

	rt, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, rt.LastMonitorID)
}

func TestSave_OverwritesPreviousValue(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save(Runtime{LastMonitorID: 1}))
	require.NoError(t, s.Save(Runtime{LastMonitorID: 2}))

	rt, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, rt.LastMonitorID)
}
