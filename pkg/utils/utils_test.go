package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.ErrorLevel))

	_, err = NewLogger("loud")
	assert.ErrorIs(t, err, ErrInvalidLogLevel)
}

func TestUserHomeDirPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	p, err := UserHomeDirPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "tftp"), p)

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
