package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger := WithComponent("manager")
	logger.Info().Str("node", "n1:6379").Msg("promoted")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "manager", entry["component"])
	assert.Equal(t, "n1:6379", entry["node"])
	assert.Equal(t, "promoted", entry["message"])
}

func TestInitLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	Info("dropped")
	assert.Zero(t, buf.Len())

	Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestContextLoggers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	nodeLog := WithNode("n2:6379")
	nodeLog.Debug().Msg("check")
	assert.Contains(t, buf.String(), `"node":"n2:6379"`)

	buf.Reset()
	mgrLog := WithManagerID("mgr-a")
	mgrLog.Info().Msg("view published")
	assert.Contains(t, buf.String(), `"manager_id":"mgr-a"`)
}

func TestLevelParsing(t *testing.T) {
	tests := []struct {
		level Level
		want  zerolog.Level
	}{
		{level: DebugLevel, want: zerolog.DebugLevel},
		{level: "WARN", want: zerolog.WarnLevel},
		{level: " error ", want: zerolog.ErrorLevel},
		{level: "", want: zerolog.InfoLevel},
		{level: "verbose", want: zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.zerolog())
		})
	}
}

func TestInitConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger := WithNode("n3:6379")
	logger.Info().Msg("node marked unavailable")

	out := buf.String()
	assert.Contains(t, out, "node marked unavailable")
	assert.Contains(t, out, "n3:6379")
	assert.NotContains(t, out, `{"level"`)
}
