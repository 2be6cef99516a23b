package monitoring

import (
	"fmt"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugfRespectsToggle(t *testing.T) {
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer SetLogger(log.Printf)
	defer SetDebug(false)

	Debugf("pulse %d", 1)
	assert.Empty(t, lines)

	SetDebug(true)
	Debugf("pulse %d", 2)
	Logf("summary")
	assert.Equal(t, []string{"[debug] pulse 2", "summary"}, lines)
}

func TestSetLoggerNilMutes(t *testing.T) {
	SetLogger(nil)
	defer SetLogger(log.Printf)
	assert.NotPanics(t, func() { Logf("ignored %d", 1) })
}
