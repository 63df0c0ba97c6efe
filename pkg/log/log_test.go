package log

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldLog(t *testing.T) {
	assert.True(t, ShouldLog(ErrorLevel, InfoLevel))
	assert.True(t, ShouldLog(InfoLevel, InfoLevel))
	assert.False(t, ShouldLog(DebugLevel, InfoLevel))
	assert.False(t, ShouldLog(FatalLevel, DisabledLevel))
	assert.False(t, ShouldLog("bogus", InfoLevel))
}

func TestSetLevel(t *testing.T) {
	defer SetLevel(InfoLevel)

	assert.Error(t, SetLevel("bogus"))
	assert.NoError(t, SetLevel(TraceLevel))
}

func TestComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	defer SetLevel(InfoLevel)

	SetLevel(DebugLevel)

	logger := Component("claims")
	logger.Debugf("nok - claim - ids: %v", []int64{1, 2})
	logger.Trace("not shown")

	assert.Contains(t, buf.String(), "[claims] nok - claim - ids: [1 2]")
	assert.NotContains(t, buf.String(), "not shown")
}

func TestLogWriter(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	w := NewLogWriter(InfoLevel)
	n, err := w.Write([]byte("hello\n"))
	assert.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Contains(t, buf.String(), "-  info - hello")
}
