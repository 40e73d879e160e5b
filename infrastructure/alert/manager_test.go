package alert

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"darkpool-go/infrastructure/logger"
)

func TestNewManager(t *testing.T) {
	ch := NewMockChannel("test")
	mgr := NewManager([]Channel{ch}, 5*time.Minute)

	channels := mgr.GetChannels()
	if len(channels) != 1 || channels[0] != "test" {
		t.Fatalf("channels = %v, want [test]", channels)
	}
}

func TestSendAlert(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	err := mgr.SendWarning("ledger sync failed", map[string]interface{}{"action": "list"})
	if err != nil {
		t.Fatalf("SendWarning failed: %v", err)
	}
	if mock.Count() != 1 {
		t.Fatalf("expected 1 alert, got %d", mock.Count())
	}
	got := mock.GetAlerts()[0]
	if got.Level != LevelWarning {
		t.Errorf("level = %s, want WARNING", got.Level)
	}
	if got.Fields["action"] != "list" {
		t.Errorf("field action = %v, want list", got.Fields["action"])
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestSendAlertThrottled(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Hour)

	for i := 0; i < 3; i++ {
		_ = mgr.SendError("same", nil)
	}
	if mock.Count() != 1 {
		t.Fatalf("expected throttled to 1 alert, got %d", mock.Count())
	}

	mgr.ResetThrottle()
	_ = mgr.SendError("same", nil)
	if mock.Count() != 2 {
		t.Fatalf("expected 2 alerts after reset, got %d", mock.Count())
	}
}

func TestSendAlertAllChannelsFail(t *testing.T) {
	mock := NewMockChannel("mock")
	mock.SetShouldError(true)
	mgr := NewManager([]Channel{mock}, time.Millisecond)

	if err := mgr.SendError("x", nil); err == nil {
		t.Fatal("expected error when every channel fails")
	}
}

func TestNilManagerDropsAlerts(t *testing.T) {
	var mgr *Manager
	if err := mgr.SendError("x", nil); err != nil {
		t.Fatalf("nil manager returned %v", err)
	}
}

func TestLogChannelWritesLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ch := NewLogChannel("log", logger.Wrap(zap.New(core)))

	if err := ch.Send(Alert{Level: LevelCritical, Message: "down"}); err != nil {
		t.Fatal(err)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
