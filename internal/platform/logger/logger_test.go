package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelsRouteToStreams(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewLoggerTo(&out, &errOut)

	l.Info("hello %s", "world")
	l.Warn("watch out")
	l.Error("it broke: %d", 42)

	assert.Contains(t, out.String(), "[SIM-INFO]")
	assert.Contains(t, out.String(), "hello world")
	assert.Contains(t, out.String(), "[SIM-WARN]")
	assert.Contains(t, out.String(), "watch out")

	assert.Contains(t, errOut.String(), "[SIM-ERROR]")
	assert.Contains(t, errOut.String(), "it broke: 42")
	assert.False(t, strings.Contains(errOut.String(), "hello world"))
}

func TestEventFormat(t *testing.T) {
	var out bytes.Buffer
	l := NewLoggerTo(&out, &out)

	l.Event("UNLOCKED", "gold_mine", "Gold Mine")

	assert.Contains(t, out.String(), "[EVENT:UNLOCKED] Source:gold_mine | Gold Mine")
}
