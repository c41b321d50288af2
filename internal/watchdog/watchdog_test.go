package watchdog

import (
	"testing"
	"time"
)

func TestEnforceIdlesOnceOnTimeoutTransition(t *testing.T) {
	now := time.Unix(1000, 0)
	w := New(400*time.Millisecond, nil)
	w.SetClock(func() time.Time { return now })

	calls := 0
	w.RegisterKey("k1", time.Second, func() error {
		calls++
		return nil
	})

	w.Mark("k1")
	w.Enforce()
	if st, _ := w.State("k1"); st != Fresh {
		t.Fatalf("expected fresh, got %v", st)
	}
	if calls != 0 {
		t.Fatalf("expected no idle calls yet, got %d", calls)
	}

	now = now.Add(700 * time.Millisecond)
	w.Enforce()
	if st, _ := w.State("k1"); st != Warn {
		t.Fatalf("expected warn at 700ms, got %v", st)
	}
	if calls != 0 {
		t.Fatalf("expected no idle calls during warn, got %d", calls)
	}

	now = now.Add(400 * time.Millisecond)
	w.Enforce()
	if st, _ := w.State("k1"); st != Timeout {
		t.Fatalf("expected timeout at 1100ms, got %v", st)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one idle call on transition, got %d", calls)
	}

	now = now.Add(time.Second)
	w.Enforce()
	if calls != 1 {
		t.Fatalf("expected idle call to not repeat while still timed out, got %d", calls)
	}

	w.Mark("k1")
	w.Enforce()
	if st, _ := w.State("k1"); st != Fresh {
		t.Fatalf("expected fresh after remark, got %v", st)
	}
}

func TestEnforceTimesOutUnmarkedKeyImmediately(t *testing.T) {
	now := time.Unix(2000, 0)
	w := New(50*time.Millisecond, nil)
	w.SetClock(func() time.Time { return now })

	calls := 0
	w.RegisterKey("eload", 500*time.Millisecond, func() error {
		calls++
		return nil
	})

	w.Enforce()
	if st, _ := w.State("eload"); st != Timeout {
		t.Fatalf("expected immediate timeout for never-marked key, got %v", st)
	}
	if calls != 1 {
		t.Fatalf("expected one idle call, got %d", calls)
	}
}

func TestNilIdleActionDoesNotPanic(t *testing.T) {
	w := New(time.Millisecond, nil)
	w.RegisterKey("can", 0, nil)
	w.Enforce()
	w.Mark("can")
	w.Enforce()
}
