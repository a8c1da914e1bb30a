package logging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    *string
		expected slog.Level
	}{
		{nil, slog.LevelInfo},
		{ptr("debug"), slog.LevelDebug},
		{ptr("INFO"), slog.LevelInfo},
		{ptr("warn"), slog.LevelWarn},
		{ptr("Warning"), slog.LevelWarn},
		{ptr(" error "), slog.LevelError},
		{ptr("verbose"), slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, LevelFromString(tt.input))
	}
}

func TestAttrFormatFromString(t *testing.T) {
	assert.Equal(t, LogAttrFormatText, AttrFormatFromString(nil))
	assert.Equal(t, LogAttrFormatJSON, AttrFormatFromString(ptr("json")))
	assert.Equal(t, LogAttrFormatText, AttrFormatFromString(ptr("xml")))
}

func TestRingHandlerKeepsNewest(t *testing.T) {
	h := NewRingHandler(3, slog.LevelDebug, LogAttrFormatText)
	logger := slog.New(h)

	for i := 1; i <= 5; i++ {
		logger.Info(fmt.Sprintf("message %d", i))
	}

	entries := h.Entries(slog.LevelDebug, 1, 10)
	require.Len(t, entries, 3)
	assert.Equal(t, "message 5", entries[0].Message)
	assert.Equal(t, "message 3", entries[2].Message)
}

func TestRingHandlerLevels(t *testing.T) {
	h := NewRingHandler(10, slog.LevelInfo, LogAttrFormatText)
	logger := slog.New(h)

	logger.Debug("dropped")
	logger.Info("kept")
	logger.Error("failure")

	assert.Len(t, h.Entries(slog.LevelDebug, 1, 10), 2)
	errs := h.Entries(slog.LevelError, 1, 10)
	require.Len(t, errs, 1)
	assert.Equal(t, "failure", errs[0].Message)
}

func TestRingHandlerPaging(t *testing.T) {
	h := NewRingHandler(10, slog.LevelDebug, LogAttrFormatText)
	logger := slog.New(h)
	for i := 1; i <= 5; i++ {
		logger.Info(fmt.Sprintf("message %d", i))
	}

	page2 := h.Entries(slog.LevelDebug, 2, 2)
	require.Len(t, page2, 2)
	assert.Equal(t, "message 3", page2[0].Message)
	assert.Empty(t, h.Entries(slog.LevelDebug, 4, 2))
	assert.Nil(t, h.Entries(slog.LevelDebug, 0, 2))
}

func TestRingHandlerAttrFormats(t *testing.T) {
	text := NewRingHandler(10, slog.LevelDebug, LogAttrFormatText)
	slog.New(text).With("module", "octopus").Info("fetched", slog.Int("entries", 48), slog.String("expr", "a=b;c"))
	assert.Equal(t, `module=octopus; entries=48; expr=a\=b\;c`, text.Entries(slog.LevelDebug, 1, 1)[0].Attrs)

	js := NewRingHandler(10, slog.LevelDebug, LogAttrFormatJSON)
	slog.New(js).Info("fetched", slog.Int("entries", 48))
	assert.JSONEq(t, `[{"entries":"48"}]`, js.Entries(slog.LevelDebug, 1, 1)[0].Attrs)
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("sink down") }

func TestMultiHandler(t *testing.T) {
	var buf bytes.Buffer
	console := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	ring := NewRingHandler(10, slog.LevelDebug, LogAttrFormatText)
	logger := slog.New(NewMultiHandler(console, ring)).With("module", "test")

	logger.Debug("only in ring")
	logger.Warn("everywhere")

	assert.Len(t, ring.Entries(slog.LevelDebug, 1, 10), 2)
	assert.NotContains(t, buf.String(), "only in ring")
	assert.Contains(t, buf.String(), "everywhere")
	assert.Contains(t, buf.String(), "module=test")
}

func TestMultiHandlerEnabled(t *testing.T) {
	h := NewMultiHandler(
		NewRingHandler(10, slog.LevelError, LogAttrFormatText),
		NewRingHandler(10, slog.LevelWarn, LogAttrFormatText))
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
}

func TestMultiHandlerJoinsErrors(t *testing.T) {
	ring := NewRingHandler(10, slog.LevelDebug, LogAttrFormatText)
	h := NewMultiHandler(failingHandler{ring}, ring)

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "msg", 0))
	assert.EqualError(t, err, "sink down")
	assert.Len(t, ring.Entries(slog.LevelDebug, 1, 10), 1)
}
