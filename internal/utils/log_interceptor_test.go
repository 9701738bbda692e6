package utils

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogInterceptorPrefixesLines(t *testing.T) {
	var out bytes.Buffer
	li := NewLogInterceptor(&out)
	li.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	n, err := li.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	_, err = li.Write([]byte("ond\r\nthird"))
	require.NoError(t, err)
	require.NoError(t, li.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "line=1 time=2024-01-02T03:04:05Z first", lines[0])
	assert.Equal(t, "line=2 time=2024-01-02T03:04:05Z second", lines[1])
	assert.Equal(t, "line=3 time=2024-01-02T03:04:05Z third", lines[2])
}

func TestMultiLogHandlerFansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := NewMultiLogHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(h).With("component", "test")

	logger.Debug("quiet")
	logger.Warn("loud")

	assert.Contains(t, a.String(), "quiet")
	assert.Contains(t, a.String(), "loud")
	assert.NotContains(t, b.String(), "quiet")
	assert.Contains(t, b.String(), "component=test")
}
