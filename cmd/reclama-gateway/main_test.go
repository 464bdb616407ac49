// ABOUTME: Tests for the gateway binary helpers
// ABOUTME: Covers flag parsing, password hashing and the log handlers

package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/reclama-gateway/internal/auth"
	"github.com/2389/reclama-gateway/internal/config"
)

func TestParseTokenArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		sub     string
		ttl     time.Duration
		wantErr string
	}{
		{name: "separate value", args: []string{"--sub", "dashboard"}, sub: "dashboard"},
		{name: "equals form", args: []string{"--sub=ops", "--ttl=2h"}, sub: "ops", ttl: 2 * time.Hour},
		{name: "ttl separate", args: []string{"--ttl", "30m", "--sub", "ops"}, sub: "ops", ttl: 30 * time.Minute},
		{name: "missing sub", args: nil, wantErr: "--sub flag is required"},
		{name: "blank sub", args: []string{"--sub", "  "}, wantErr: "--sub flag is required"},
		{name: "dangling flag", args: []string{"--sub"}, wantErr: "requires a value"},
		{name: "bad ttl", args: []string{"--sub=x", "--ttl=soon"}, wantErr: "invalid --ttl"},
		{name: "negative ttl", args: []string{"--sub=x", "--ttl=-1h"}, wantErr: "invalid --ttl"},
		{name: "unknown flag", args: []string{"--name", "x"}, wantErr: "unknown flag"},
		{name: "positional", args: []string{"x"}, wantErr: "unexpected argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, ttl, err := parseTokenArgs(tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.sub, sub)
			assert.Equal(t, tt.ttl, ttl)
		})
	}
}

func TestRunHashPassword(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runHashPassword(strings.NewReader("s3cret\n"), &out))

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, auth.CheckPassword(hash, "s3cret"))
	assert.Error(t, auth.CheckPassword(hash, "s3cret\n"))
}

func TestRunHashPassword_NoTrailingNewline(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runHashPassword(strings.NewReader("pw"), &out))
	assert.NoError(t, auth.CheckPassword(strings.TrimSpace(out.String()), "pw"))
}

func TestRunHashPassword_Empty(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runHashPassword(strings.NewReader("\n"), &out))
	assert.Empty(t, out.String())
}

func TestSetupLogger_JSON(t *testing.T) {
	var out bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &out)

	logger.Info("hidden")
	logger.With("component", "processor").Warn("retrying", "attempt", 2)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "retrying", entry["msg"])
	assert.Equal(t, "processor", entry["component"])
	assert.Equal(t, float64(2), entry["attempt"])
}

func TestSetupLogger_Text(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &out)

	logger.With("component", "webhook").Debug("received", "messages", 3)
	logger.WithGroup("req").Error("failed", "status", 500)

	got := out.String()
	assert.Contains(t, got, "DBG received component=webhook messages=3")
	assert.Contains(t, got, "ERR failed req.status=500")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warn").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
	assert.Equal(t, "INFO", parseLevel("info").String())
	assert.Equal(t, "INFO", parseLevel("bogus").String())
}
