package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"trace":   TRACE,
		"DEBUG":   DEBUG,
		" info ":  INFO,
		"warning": WARN,
		"error":   ERROR,
		"bogus":   INFO,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLoggerWritesComponentField(t *testing.T) {
	logger, err := NewLoggerWithOptions("recording", Options{Level: DEBUG, Format: "json"})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.Debug("событие %d", 42)

	assert.Contains(t, buf.String(), `"component":"recording"`)
	assert.Contains(t, buf.String(), "событие 42")
}

func TestLoggerRespectsLevel(t *testing.T) {
	logger, err := NewLoggerWithOptions("playback", Options{Level: WARN})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.Info("не должно попасть")
	assert.Empty(t, buf.String())

	logger.Warn("должно попасть")
	assert.Contains(t, buf.String(), "должно попасть")
}

func TestLoggerManagerReusesLoggers(t *testing.T) {
	lm := NewLoggerManager(Options{Level: INFO})

	a := lm.MustGetLogger("storage")
	b := lm.MustGetLogger("storage")
	assert.Same(t, a, b)
	assert.ElementsMatch(t, []string{"storage"}, lm.ListComponents())

	require.NoError(t, lm.SetLogLevel("storage", ERROR))
	assert.Error(t, lm.SetLogLevel("missing", ERROR))
	require.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}
