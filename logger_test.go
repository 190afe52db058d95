package auth_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-gate"
)

func newBufferedLogrus() (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := logrus.New()
	l.SetOutput(buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.DebugLevel)
	return l, buf
}

func TestLogrusLogger_StructuredPairs(t *testing.T) {
	l, buf := newBufferedLogrus()
	logger := auth.NewLogrusLogger(l).WithField("component", "guard")

	logger.Warn("guard rejected api key", "route", "me", "error", errors.New("bad key"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "guard rejected api key", entry["msg"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "me", entry["route"])
	assert.Equal(t, "bad key", entry["error"])
	assert.Equal(t, "guard", entry["component"])
}

func TestLogrusLogger_PrintfFallback(t *testing.T) {
	l, buf := newBufferedLogrus()
	logger := auth.NewLogrusLogger(l)

	logger.Info("loaded %d providers", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "loaded 3 providers", entry["msg"])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, auth.ParseLogLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, auth.ParseLogLevel(" warn "))
	assert.Equal(t, logrus.InfoLevel, auth.ParseLogLevel("loud"))
}
