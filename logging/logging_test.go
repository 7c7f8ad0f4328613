package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogger(t *testing.T) {
	l, err := GetLogger(LevelNone)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1))

	l, err = GetLogger(LevelDebug)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	l, err = GetLogger(LevelWarn)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(0))

	_, err = GetLogger("verbose")
	assert.Error(t, err)
}

func TestMustGetLoggerPanics(t *testing.T) {
	assert.Panics(t, func() { MustGetLogger("bogus") })
	assert.NotPanics(t, func() { MustGetLogger(LevelInfo) })
}
