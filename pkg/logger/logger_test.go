package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkgmirror/pkg/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{name: "info level", cfg: &config.LoggingConfig{Level: "info"}},
		{name: "debug level", cfg: &config.LoggingConfig{Level: "debug"}},
		{name: "invalid level", cfg: &config.LoggingConfig{Level: "chatty"}, wantErr: true},
		{name: "file output", cfg: &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "run.log")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestNewWithWriterDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "debug")
	require.NoError(t, err)

	l.Info("started")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "pkgmirror", lines[0]["app"])
	assert.Equal(t, "started", lines[0]["message"])
	assert.Equal(t, "info", lines[0]["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "warn")
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}

func TestFieldChaining(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "debug")
	require.NoError(t, err)

	base := l.WithField("phase", "harvest")
	base.WithFields(map[string]interface{}{"query": "react", "offset": 250}).Info("page")
	base.Info("plain")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "harvest", lines[0]["phase"])
	assert.Equal(t, "react", lines[0]["query"])
	assert.EqualValues(t, 250, lines[0]["offset"])

	// derived loggers do not leak fields back into their parent
	assert.Equal(t, "harvest", lines[1]["phase"])
	assert.NotContains(t, lines[1], "query")
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "debug")
	require.NoError(t, err)

	assert.Same(t, l, l.WithError(nil))

	l.WithError(errors.New("boom")).Error("failed")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "boom", lines[0]["error"])
}

func TestFieldTypes(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "debug")
	require.NoError(t, err)

	l.InfoWithFields("typed", map[string]interface{}{
		"int64":    int64(456),
		"float":    3.5,
		"bool":     true,
		"time":     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"duration": 5 * time.Second,
		"strings":  []string{"a", "b"},
		"custom":   struct{ Name string }{Name: "x"},
	})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.EqualValues(t, 456, lines[0]["int64"])
	assert.Equal(t, true, lines[0]["bool"])
	assert.Equal(t, []interface{}{"a", "b"}, lines[0]["strings"])
}

func TestHelpers(t *testing.T) {
	l := NewTestLogger()

	LogRequest(l, "GET", "http://registry/-/v1/search", 503, 20*time.Millisecond)
	LogPageProgress(l, "react", 500, 600, 500)
	LogArtifact(l, "left-pad", "1.0.0", true, nil)
	LogArtifact(l, "left-pad", "1.1.0", false, errors.New("eof"))

	warns := l.GetMessagesByLevel("WARN")
	require.Len(t, warns, 1)
	assert.Equal(t, 503, warns[0].Fields["status_code"])

	assert.True(t, l.HasMessage("Harvest progress"))
	assert.True(t, l.HasMessage("Artifact already present"))

	errs := l.GetMessagesByLevel("ERROR")
	require.Len(t, errs, 1)
	assert.Equal(t, "1.1.0", errs[0].Fields["version"])
	assert.EqualError(t, errs[0].Error, "eof")
}

func TestTestLoggerSharesMessages(t *testing.T) {
	l := NewTestLogger()
	child := l.WithField("item", "vue").WithError(errors.New("x"))
	child.Warn("skipped")
	l.Info("root")

	msgs := l.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "vue", msgs[0].Fields["item"])
	assert.Error(t, msgs[0].Error)
	assert.Empty(t, msgs[1].Fields)

	l.Clear()
	assert.Empty(t, l.GetMessages())
	assert.False(t, l.HasError())
}

func TestGlobalLogger(t *testing.T) {
	prev := GetLogger()
	defer SetLogger(prev)

	tl := NewTestLogger()
	SetLogger(tl)

	Info("hello")
	WithField("k", "v").Warn("field")
	WithError(errors.New("e")).Error("err")

	assert.Len(t, tl.GetMessages(), 3)
	assert.True(t, tl.HasError())
}
