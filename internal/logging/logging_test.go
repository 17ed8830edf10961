package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithCycle(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(zap.NewNop()) })

	id := NewCycleID()
	ctx := WithCycle(context.Background(), id)
	if CycleID(ctx) != id {
		t.Errorf("expected cycle id %s, got %s", id, CycleID(ctx))
	}

	WithContext(ctx).Info("checking")
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["cycle_id"]; got != id {
		t.Errorf("expected cycle_id field %s, got %v", id, got)
	}
}

func TestWithContext_FallsBackToGlobal(t *testing.T) {
	l := zap.NewNop()
	SetLogger(l)
	if WithContext(context.Background()) != l {
		t.Error("expected global logger")
	}
	if CycleID(context.Background()) != "" {
		t.Error("expected empty cycle id")
	}
}

func TestInit_Levels(t *testing.T) {
	if err := Init(Config{Level: "debug", Format: "console", OutputPath: "stderr"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !L().Core().Enabled(zap.DebugLevel) {
		t.Error("debug should be enabled")
	}
	SetLevel("warn")
	if L().Core().Enabled(zap.InfoLevel) {
		t.Error("info should be disabled after SetLevel(warn)")
	}
	SetLevel("info")
}
