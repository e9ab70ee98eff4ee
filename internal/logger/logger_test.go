package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logging.DEBUG, ParseLevel("debug"))
	assert.Equal(t, logging.WARNING, ParseLevel("warn"))
	assert.Equal(t, logging.ERROR, ParseLevel("ERROR"))
	assert.Equal(t, logging.INFO, ParseLevel(""))
	assert.Equal(t, logging.INFO, ParseLevel("chatty"))
}

func TestInitLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	InitLogger(&buf, logging.WARNING)
	defer InitLogger(os.Stderr, logging.INFO)

	Infof("hidden %d", 1)
	Warningf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "WARN")
}
