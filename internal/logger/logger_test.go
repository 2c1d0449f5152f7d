package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelWarn))

	log.Info("hidden")
	log.Warn("shown", "k", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden", "info record written at warn level")
	assert.Contains(t, out, "[WRN] shown k=1")
}

func TestHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelDebug)).
		With("component", "ledger").
		WithGroup("claim")

	log.Debug("ok", "round", 7)

	out := buf.String()
	assert.Contains(t, out, "component=ledger")
	assert.Contains(t, out, "claim.round=7")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}

	for name, want := range cases {
		assert.Equal(t, want, ParseLevel(name), "ParseLevel(%q)", name)
	}
}
