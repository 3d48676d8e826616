package testcord

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugfIsSilentWithoutDebugMode(t *testing.T) {
	var b bytes.Buffer
	logger := NewSLogger(log.New(&b, "", 0), false)

	logger.Debugf("hidden %s", "detail")
	assert.Empty(t, b.String())

	logger.Printf("always %s", "visible")
	assert.Contains(t, b.String(), "always visible")
}

func TestDebugfLogsInDebugMode(t *testing.T) {
	var b bytes.Buffer
	logger := NewSLogger(log.New(&b, "", 0), true)

	logger.Debugf("now %s", "shown")
	assert.Contains(t, b.String(), "now shown")
}
