package xcontext

import (
	"context"
	"testing"
	"time"
)

type ctxKey struct{}

func TestDetachWithTimeout(t *testing.T) {
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))

	detached, stop := DetachWithTimeout(parent, time.Minute)
	defer stop()

	cancel()

	select {
	case <-detached.Done():
		t.Fatal("detached context must survive parent cancellation")
	default:
	}

	if detached.Value(ctxKey{}) != "v" {
		t.Error("detached context should keep the parent's values")
	}

	deadline, ok := detached.Deadline()
	if !ok {
		t.Fatal("detached context should carry the timeout deadline")
	}

	if time.Until(deadline) > time.Minute {
		t.Errorf("deadline too far out: %v", deadline)
	}
}

func TestDetachWithTimeoutExpires(t *testing.T) {
	detached, stop := DetachWithTimeout(context.Background(), 10*time.Millisecond)
	defer stop()

	select {
	case <-detached.Done():
	case <-time.After(time.Second):
		t.Fatal("detached context should expire with its timeout")
	}
}
