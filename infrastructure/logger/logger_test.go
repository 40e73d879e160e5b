package logger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{
		Level:      "debug",
		Outputs:    []string{"file"},
		OutputFile: filepath.Join(dir, "engine.log"),
		Format:     "json",
	})
	require.NoError(t, err)
	l.Info("hello")
	assert.NoError(t, l.Close())
}

func TestLogOrderAndMatchFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := Wrap(zap.New(core))

	l.LogOrder("order_admitted", "o-1", map[string]interface{}{"side": "buy"})
	l.LogMatch("e-1", map[string]interface{}{"price": "1995"})
	l.LogEpoch("epoch_opened", "e-2", 7, nil)
	l.LogError(errors.New("boom"), map[string]interface{}{"action": "sync"})

	entries := logs.All()
	require.Len(t, entries, 4)

	assert.Equal(t, "order_event", entries[0].Message)
	assert.Equal(t, "o-1", entries[0].ContextMap()["order_id"])
	assert.Equal(t, "match_event", entries[1].Message)
	assert.Equal(t, "e-1", entries[1].ContextMap()["epoch_id"])
	assert.Equal(t, uint64(7), entries[2].ContextMap()["epoch_index"])
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "boom", entries[3].ContextMap()["error"])
}
