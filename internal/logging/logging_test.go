package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	l, err := New("debug", "console")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New("warn", "json")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = New("loud", "json")
	assert.Error(t, err)
	_, err = New("info", "xml")
	assert.Error(t, err)
}

func TestTag(t *testing.T) {
	assert.Empty(t, Tag(""))
	a := Tag("state-value")
	assert.Len(t, a, 12)
	assert.Equal(t, a, Tag("state-value"))
	assert.NotEqual(t, a, Tag("state-other"))
	assert.NotContains(t, a, "state")
}
