package logger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{" WARN ", WarnLevel},
		{"error", ErrorLevel},
		{"info", InfoLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestZapLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, DebugLevel.zapLevel())
	assert.Equal(t, zapcore.WarnLevel, WarnLevel.zapLevel())
	assert.Equal(t, zapcore.ErrorLevel, ErrorLevel.zapLevel())
	assert.Equal(t, zapcore.InfoLevel, LogLevel("other").zapLevel())
}

func TestNilLoggerIsSilent(t *testing.T) {
	restore := SetLogger(nil)
	defer restore()

	assert.NotPanics(t, func() {
		Debug("d")
		Info("i", String("k", "v"))
		Warn("w")
		Error("e", ErrorField(errors.New("boom")))
		Sync()
	})
}

func TestFieldsReachCore(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := SetLogger(zap.New(core))
	defer restore()

	Info("[Session] 开始播放",
		String("channel", "c1"),
		Int("index", 2),
		Int64("bytes", 1024),
		Uint64("gen", 7),
		Float64("volume", 0.8),
		Bool("importing", true),
		Duration("elapsed", 3*time.Second),
		Any("ids", []string{"1", "2"}))
	Warn("[Worker] 下载失败", ErrorField(errors.New("timeout")))
	Debug("[Engine] 空轮询")

	require.Equal(t, 3, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	assert.Equal(t, "[Session] 开始播放", entry.Message)

	ctx := entry.ContextMap()
	assert.Equal(t, "c1", ctx["channel"])
	assert.EqualValues(t, 2, ctx["index"])
	assert.EqualValues(t, 1024, ctx["bytes"])
	assert.EqualValues(t, 7, ctx["gen"])
	assert.Equal(t, 0.8, ctx["volume"])
	assert.Equal(t, true, ctx["importing"])
	assert.Equal(t, 3*time.Second, ctx["elapsed"])

	assert.Equal(t, "timeout", logs.FilterMessage("[Worker] 下载失败").All()[0].ContextMap()["error"])
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.DebugLevel).Len())
}
