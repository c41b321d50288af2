package worker

import (
	"sync"
	"testing"
	"time"

	"labgateway.dev/labgw/internal/canframe"
	"labgateway.dev/labgw/internal/rx"
)

type fakeApplier struct {
	mu    sync.Mutex
	order []uint32
}

func (f *fakeApplier) Apply(id uint32, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, id)
	return nil
}

type fakeWatchdog struct {
	mu    sync.Mutex
	marks []string
}

func (w *fakeWatchdog) Mark(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.marks = append(w.marks, key)
}

func TestApplyOrderedFixedSequence(t *testing.T) {
	q := rx.NewQueue(16, nil)
	app := &fakeApplier{}
	wd := &fakeWatchdog{}
	w := New(q, app, wd, nil, nil)

	// Out of order and with one unknown ID mixed in.
	latest := map[uint32][]byte{
		canframe.MrSignalCtrl: {0},
		canframe.RlyCtrl:      {0},
		0x0CFFDEAD:            {0},
		canframe.LoadCtrl:     {0, 0, 0, 0, 0, 0},
	}
	w.applyOrdered(latest)

	want := []uint32{canframe.RlyCtrl, canframe.LoadCtrl, canframe.MrSignalCtrl, 0x0CFFDEAD}
	app.mu.Lock()
	defer app.mu.Unlock()
	if len(app.order) != len(want) {
		t.Fatalf("order = %v, want %v", app.order, want)
	}
	for i := range want {
		if app.order[i] != want[i] {
			t.Fatalf("order = %v, want %v", app.order, want)
		}
	}
}

func TestApplyOneMarksCorrectWatchdogKey(t *testing.T) {
	q := rx.NewQueue(4, nil)
	app := &fakeApplier{}
	wd := &fakeWatchdog{}
	w := New(q, app, wd, nil, nil)

	w.applyOne(canframe.AFGCtrlExt, nil)
	wd.mu.Lock()
	defer wd.mu.Unlock()
	if len(wd.marks) != 1 || wd.marks[0] != "afg" {
		t.Errorf("marks = %v, want [afg]", wd.marks)
	}
}

func TestRunCoalescesBurstToLatestPerID(t *testing.T) {
	q := rx.NewQueue(16, nil)
	app := &fakeApplier{}
	w := New(q, app, nil, nil, nil)
	w.waitTimeout = 20 * time.Millisecond

	q.Push(rx.Item{ID: canframe.RlyCtrl, Payload: []byte{0x00}})
	q.Push(rx.Item{ID: canframe.RlyCtrl, Payload: []byte{0x01}})

	stop := make(chan struct{})
	done := make(chan struct{})
	idled := make(chan struct{})
	go func() {
		w.Run(stop, func() { close(idled) })
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		app.mu.Lock()
		n := len(app.order)
		app.mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for coalesced apply")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	close(stop)
	<-done
	<-idled

	app.mu.Lock()
	defer app.mu.Unlock()
	if len(app.order) != 1 {
		t.Fatalf("expected exactly one coalesced apply, got %d", len(app.order))
	}
}
