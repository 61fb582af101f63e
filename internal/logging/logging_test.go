package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		msg   string
		level slog.Level
	}{
		{"Starting AutoStaking Task...", slog.LevelInfo},
		{"    Status: Success", slog.LevelInfo},
		{"Error: Fetch Financial Portfolio Recommendation Failed", slog.LevelError},
		{"Warning: Perform On-Chain Failed", slog.LevelWarn},
		{"Warning: Already Claimed - Next Claim at 01/02/25 10:00:00 WIB", slog.LevelWarn},
		{"Warning: Insufficient USDC Token Balance", slog.LevelWarn},
	}
	for _, tc := range testCases {
		t.Run(tc.msg, func(t *testing.T) {
			assert.Equal(t, tc.level, Classify(tc.msg))
		})
	}
}

func TestSplit(t *testing.T) {
	tag, msg := Split("0x1234******abcdef | Proxy: http://1.2.3.4:80")
	assert.Equal(t, "0x1234******abcdef", tag)
	assert.Equal(t, "Proxy: http://1.2.3.4:80", msg)

	tag, msg = Split("no separator")
	assert.Equal(t, "System", tag)
	assert.Equal(t, "no separator", msg)

	_, msg = Split("System |     Status: Success")
	assert.Equal(t, "Status: Success", msg)
}

func TestEventSink_JSON(t *testing.T) {
	var buf bytes.Buffer
	sink := EventSink(New(&buf, "json", slog.LevelDebug))
	sink("0x1234******abcdef | Error: Connection Not 200 OK")
	sink("System | All Accounts Have Been Processed.")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "ERROR", first["level"])
	assert.Equal(t, "0x1234******abcdef", first["account"])
	assert.Equal(t, "Error: Connection Not 200 OK", first["msg"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "INFO", second["level"])
	assert.NotContains(t, second, "account")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "text", slog.LevelInfo).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "k=v")
}
