// Package txsched implements the multi-rate CAN transmit scheduler
// (spec §4.9): one task per readback frame kind, each republished on
// its own period with presence gating and optional send-on-change.
package txsched

import (
	"log"
	"time"

	"labgateway.dev/labgw/internal/canbus"
)

// BuildFunc produces a task's current payload. ok is false when the
// frame kind is currently absent (spec: "if None, mark absent"). A
// panicking BuildFunc is treated as absent, matching spec §4.9 step 1
// ("Evaluate present_fn(snapshot). Exceptions ⇒ absent.").
type BuildFunc func() (payload []byte, ok bool)

// Task is one readback ID's publication schedule.
type Task struct {
	ID     uint32
	Period time.Duration // 0 disables the task
	Build  BuildFunc

	presentLast bool
	lastPayload []byte
	lastSent    time.Time
	nextDue     time.Time
}

// Scheduler runs every Task on its own cadence against one CAN
// backend (spec §4.9).
type Scheduler struct {
	backend  canbus.Backend
	busLoad  *canbus.BusLoadMeter
	tasks    []*Task
	log      *log.Logger
	now      func() time.Time

	sendOnChange      bool
	minChangeInterval time.Duration
}

// New builds a Scheduler. busLoad may be nil to skip TX accounting.
func New(backend canbus.Backend, busLoad *canbus.BusLoadMeter, sendOnChange bool, minChangeInterval time.Duration, logger *log.Logger) *Scheduler {
	return &Scheduler{
		backend:           backend,
		busLoad:           busLoad,
		log:               logger,
		now:               time.Now,
		sendOnChange:      sendOnChange,
		minChangeInterval: minChangeInterval,
	}
}

// SetClock overrides the scheduler's time source; for tests only.
func (s *Scheduler) SetClock(fn func() time.Time) { s.now = fn }

// AddTask registers a task. Call before Run starts.
func (s *Scheduler) AddTask(t *Task) {
	t.nextDue = s.now()
	s.tasks = append(s.tasks, t)
}

const maxSleep = 100 * time.Millisecond

// Run blocks, publishing due or changed readback frames, until stop
// is closed (spec §4.9).
func (s *Scheduler) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		now := s.now()
		sleep := maxSleep
		haveActive := false
		for _, t := range s.tasks {
			if t.Period <= 0 {
				continue
			}
			haveActive = true
			if d := t.nextDue.Sub(now); d < sleep {
				sleep = d
			}
		}
		if !haveActive {
			sleep = maxSleep
		}
		if sleep < 0 {
			sleep = 0
		}

		timer := time.NewTimer(sleep)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		now = s.now()
		for _, t := range s.tasks {
			s.tick(t, now)
		}
	}
}

func (s *Scheduler) tick(t *Task, now time.Time) {
	present, payload := s.evaluate(t)

	if present && !t.presentLast {
		t.nextDue = now // absent→present forces an immediate send
	}
	t.presentLast = present
	if !present {
		t.lastPayload = nil
		return
	}

	due := !now.Before(t.nextDue)
	if !due && !s.sendOnChange {
		return
	}

	changed := t.lastPayload == nil || !bytesEqual(t.lastPayload, payload)
	shouldSend := due
	if !shouldSend && s.sendOnChange && changed && now.Sub(t.lastSent) >= s.minChangeInterval {
		shouldSend = true
	}
	if !shouldSend {
		return
	}

	if err := s.backend.Send(canbus.Msg{ID: t.ID, Extended: true, Data: payload}); err != nil {
		if s.log != nil {
			s.log.Printf("txsched: send 0x%08X: %v", t.ID, err)
		}
		return
	}

	t.lastPayload = payload
	t.lastSent = now
	if due {
		t.nextDue = t.nextDue.Add(t.Period)
		if t.nextDue.Before(now.Add(-10 * t.Period)) {
			t.nextDue = now.Add(t.Period)
		}
	}
	if s.busLoad != nil {
		s.busLoad.RecordTX(len(payload))
	}
}

// evaluate calls t.Build, treating a panic as absent (spec §4.9 step
// 1).
func (s *Scheduler) evaluate(t *Task) (present bool, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			present = false
			payload = nil
			if s.log != nil {
				s.log.Printf("txsched: task 0x%08X build panicked: %v", t.ID, r)
			}
		}
	}()
	p, ok := t.Build()
	return ok, p
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
