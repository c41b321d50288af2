package txsched

import (
	"sync"
	"testing"
	"time"

	"labgateway.dev/labgw/internal/canbus"
)

type fakeBackend struct {
	mu   sync.Mutex
	sent []canbus.Msg
}

func (f *fakeBackend) Send(msg canbus.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeBackend) Recv(time.Duration) (canbus.Msg, bool, error) { return canbus.Msg{}, false, nil }
func (f *fakeBackend) SetFilters([]canbus.Filter) error             { return nil }
func (f *fakeBackend) Shutdown() error                              { return nil }

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestAbsentToPresentForcesImmediateSend(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend, nil, false, 0, nil)
	now := time.Unix(1000, 0)
	s.SetClock(func() time.Time { return now })

	present := false
	task := &Task{ID: 0x1, Period: time.Hour, Build: func() ([]byte, bool) {
		if !present {
			return nil, false
		}
		return []byte{0x01}, true
	}}
	s.AddTask(task)

	s.tick(task, now)
	if backend.count() != 0 {
		t.Fatalf("expected no send while absent, got %d", backend.count())
	}

	present = true
	s.tick(task, now)
	if backend.count() != 1 {
		t.Fatalf("expected exactly one immediate send on absent->present, got %d", backend.count())
	}
}

func TestDueSendAdvancesNextDueByPeriod(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend, nil, false, 0, nil)
	now := time.Unix(2000, 0)
	s.SetClock(func() time.Time { return now })

	task := &Task{ID: 0x2, Period: 100 * time.Millisecond, Build: func() ([]byte, bool) { return []byte{0x01}, true }}
	s.AddTask(task) // nextDue = now

	s.tick(task, now)
	if backend.count() != 1 {
		t.Fatalf("expected one send, got %d", backend.count())
	}
	wantNextDue := now.Add(100 * time.Millisecond)
	if !task.nextDue.Equal(wantNextDue) {
		t.Errorf("nextDue = %v, want %v", task.nextDue, wantNextDue)
	}
}

func TestLargeGapResetsNextDueInsteadOfBursting(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend, nil, false, 0, nil)
	now := time.Unix(3000, 0)
	s.SetClock(func() time.Time { return now })

	period := 10 * time.Millisecond
	task := &Task{ID: 0x3, Period: period, Build: func() ([]byte, bool) { return []byte{0x01}, true }}
	s.AddTask(task)
	task.presentLast = true          // already running steadily before the pause
	task.nextDue = now.Add(-time.Hour) // simulate a long pause

	s.tick(task, now)
	if task.nextDue.Before(now) {
		t.Errorf("expected nextDue reset to a near-future time, got %v (now=%v)", task.nextDue, now)
	}
}

func TestSendOnChangeRespectsMinInterval(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend, nil, true, 50*time.Millisecond, nil)
	now := time.Unix(4000, 0)
	s.SetClock(func() time.Time { return now })

	val := byte(1)
	task := &Task{ID: 0x4, Period: time.Hour, Build: func() ([]byte, bool) { return []byte{val}, true }}
	s.AddTask(task)
	s.tick(task, now) // first send (due, since nextDue==now)
	if backend.count() != 1 {
		t.Fatalf("expected initial send, got %d", backend.count())
	}

	val = 2
	now = now.Add(10 * time.Millisecond) // before min interval
	s.tick(task, now)
	if backend.count() != 1 {
		t.Fatalf("expected no send before min interval elapses, got %d", backend.count())
	}

	now = now.Add(60 * time.Millisecond) // now well past min interval
	s.tick(task, now)
	if backend.count() != 2 {
		t.Fatalf("expected send-on-change once min interval elapsed, got %d", backend.count())
	}
}

func TestBuildPanicTreatedAsAbsent(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend, nil, false, 0, nil)
	now := time.Unix(5000, 0)
	s.SetClock(func() time.Time { return now })

	task := &Task{ID: 0x5, Period: time.Hour, Build: func() ([]byte, bool) {
		panic("boom")
	}}
	s.AddTask(task)
	s.tick(task, now)
	if backend.count() != 0 {
		t.Fatalf("expected no send when Build panics, got %d", backend.count())
	}
	if task.presentLast {
		t.Error("expected task to be marked absent after a panicking build")
	}
}
