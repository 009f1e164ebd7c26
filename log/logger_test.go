package log

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		line := map[string]any{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		out = append(out, line)
	}
	return out
}

func TestConsoleAppender_WriteDirect(t *testing.T) {
	ca := NewConsoleAppender()
	msg := []byte(`{"level":"info","message":"hello-console-direct"}` + "\n")
	n, err := ca.Write(msg)
	require.NoError(t, err)
	assert.Equal(t, len(msg), n)
	assert.Equal(t, "console", ca.Name())
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name  string
		level Level
		want  []string
	}{
		{"debug", DebugLevel, []string{"debug", "info", "warn", "error"}},
		{"info", InfoLevel, []string{"info", "warn", "error"}},
		{"empty means info", "", []string{"info", "warn", "error"}},
		{"error", ErrorLevel, []string{"error"}},
		{"disabled", DisabledLevel, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			l := NewLoggerWithAppenders(&LogCfg{LogLevel: tt.level}, NewWriterAppender("buf", buf))
			l.Debug().Msg("d")
			l.Info().Msg("i")
			l.Warn().Msg("w")
			l.Error().Msg("e")

			var got []string
			for _, line := range decodeLines(t, buf) {
				got = append(got, line["level"].(string))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogger_Fields(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewLoggerWithAppenders(&LogCfg{LogLevel: InfoLevel}, NewWriterAppender("buf", buf))
	l.Info().Str("address", "/status").Int("port", 57110).Msg("sent")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "/status", lines[0]["address"])
	assert.EqualValues(t, 57110, lines[0]["port"])
	assert.Equal(t, "sent", lines[0]["message"])
	assert.Contains(t, lines[0], "time")
}

func TestLogger_CallerInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewLoggerWithAppenders(&LogCfg{LogLevel: InfoLevel, EnabledCallerInfo: true}, NewWriterAppender("buf", buf))
	l.Info().Msg("where")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0]["caller"], "logger_test.go")
}

func TestLogger_FileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "scosc.log")
	l := NewLogger(&LogCfg{LogLevel: InfoLevel, FileAppender: true, LogPath: path})
	l.Info().Str("k", "v").Msg("to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"message":"to file"`), string(data))
}

func TestLogger_OnConfigChanged(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewLoggerWithAppenders(&LogCfg{LogLevel: InfoLevel}, NewWriterAppender("buf", buf))

	l.Debug().Msg("hidden")
	require.NoError(t, l.OnConfigChanged("logger", &LogCfg{LogLevel: DebugLevel}, &LogCfg{LogLevel: InfoLevel}))
	l.Debug().Msg("shown")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
	assert.Equal(t, DebugLevel, l.GetCurrentConfig().LogLevel)

	// other names and invalid levels leave the logger alone
	require.NoError(t, l.OnConfigChanged("transport", &LogCfg{LogLevel: ErrorLevel}, nil))
	assert.Error(t, l.OnConfigChanged("logger", &LogCfg{LogLevel: "loud"}, nil))
	assert.Equal(t, DebugLevel, l.GetCurrentConfig().LogLevel)
}

func TestLogger_SetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewLoggerWithAppenders(&LogCfg{LogLevel: InfoLevel}, NewWriterAppender("buf", buf))
	require.NoError(t, l.SetLevel(WarnLevel))
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	assert.Len(t, decodeLines(t, buf), 1)
	assert.Error(t, l.SetLevel("nope"))
}

func TestDefaultLogger(t *testing.T) {
	prev := DefaultLogger()
	t.Cleanup(func() { SetDefaultLogger(prev) })

	buf := &bytes.Buffer{}
	SetDefaultLogger(NewLoggerWithAppenders(&LogCfg{LogLevel: DebugLevel}, NewWriterAppender("buf", buf)))
	Debug().Msg("a")
	Info().Msg("b")
	Warn().Msg("c")
	Error().Msg("d")
	assert.Len(t, decodeLines(t, buf), 4)
}

func TestLogCfg_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogCfg
		wantErr bool
	}{
		{"defaults", *getDefaultCfg(), false},
		{"bad level", LogCfg{LogLevel: "verbose"}, true},
		{"file without path", LogCfg{FileAppender: true}, true},
		{"negative skip", LogCfg{CallerSkip: -1}, true},
		{"upper case level", LogCfg{LogLevel: "WARN"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.Equal(t, "logger", (&LogCfg{}).GetName())
}
