package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		verbosity  int
	}{
		{"JSON output mode", true, VerbosityInfo},
		{"Console output mode", false, VerbosityDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := Logger
			defer func() { Logger = prev; JSONOutput = false }()

			require.NoError(t, Initialize(tt.jsonOutput, tt.verbosity))
			assert.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
		})
	}
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(5))
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(-1))
}

func TestPulseHelpersAttachSymbol(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := zap.New(core).Sugar()

	PulseInfow(l, "Schedule fired", FieldScheduleID, int64(4))
	PulseCloseInfow(l, "Scheduler stopped")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "꩜", entries[0].ContextMap()[FieldSymbol])
	assert.Equal(t, int64(4), entries[0].ContextMap()[FieldScheduleID])
	assert.Equal(t, "❀", entries[1].ContextMap()[FieldSymbol])
}

func TestChildLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	child := ChildLogger(zap.New(core).Sugar(), FieldJobID, int64(9))
	child.Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, int64(9), logs.All()[0].ContextMap()[FieldJobID])
}
