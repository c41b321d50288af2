// Package worker implements the command worker (spec §4.7): it
// drains bursts of coalesced control frames off the RX queue and
// applies them to instruments in a fixed, deterministic order.
package worker

import (
	"log"
	"time"

	"labgateway.dev/labgw/internal/canframe"
	"labgateway.dev/labgw/internal/rx"
)

// Applier is the device command processor's surface this package
// needs.
type Applier interface {
	Apply(id uint32, payload []byte) error
}

// Watchdog is the narrow surface the worker needs to mark per-device
// freshness.
type Watchdog interface {
	Mark(key string)
}

// Recorder is the diagnostics surface for per-apply error containment.
type Recorder interface {
	Record(source string, err error)
}

// applyOrder is the fixed cross-frame apply order (spec §4.7); any ID
// not listed here is applied last, in map iteration order.
var applyOrder = []uint32{
	canframe.RlyCtrl,
	canframe.LoadCtrl,
	canframe.AFGCtrl,
	canframe.AFGCtrlExt,
	canframe.MMeterCtrl,
	canframe.MMeterCtrlExt,
	canframe.MrSignalCtrl,
}

// watchdogKeyFor maps a control ID to the watchdog key it marks (spec
// §3 invariant: "every control-frame apply marks exactly one watchdog
// key").
func watchdogKeyFor(id uint32) string {
	switch id {
	case canframe.RlyCtrl:
		return "k1"
	case canframe.LoadCtrl:
		return "eload"
	case canframe.AFGCtrl, canframe.AFGCtrlExt:
		return "afg"
	case canframe.MMeterCtrl, canframe.MMeterCtrlExt:
		return "mmeter"
	case canframe.MrSignalCtrl:
		return "mrsignal"
	default:
		return ""
	}
}

// burstDrainMax bounds the post-wake non-blocking drain (spec §4.7:
// "up to N (≈1024)").
const burstDrainMax = 1024

// Worker is the command worker loop.
type Worker struct {
	queue *rx.Queue
	proc  Applier
	wd    Watchdog
	diag  Recorder
	log   *log.Logger

	waitTimeout time.Duration
}

// New builds a Worker.
func New(queue *rx.Queue, proc Applier, wd Watchdog, diag Recorder, logger *log.Logger) *Worker {
	return &Worker{queue: queue, proc: proc, wd: wd, diag: diag, log: logger, waitTimeout: 200 * time.Millisecond}
}

// Run blocks, coalescing and applying control frames, until stop is
// closed; it then performs a best-effort idle-all pass (spec §4.7,
// §5).
func (w *Worker) Run(stop <-chan struct{}, idleAll func()) {
	for {
		select {
		case <-stop:
			w.applyIdleAll(idleAll)
			return
		default:
		}

		first, ok := w.queue.Take(stop, w.waitTimeout)
		if !ok {
			continue
		}
		batch := append([]rx.Item{first}, w.queue.DrainNonBlocking(burstDrainMax)...)

		latest := map[uint32][]byte{}
		for _, it := range batch {
			latest[it.ID] = it.Payload
		}

		w.applyOrdered(latest)
	}
}

// applyOrdered applies latest in the fixed cross-frame order, then
// any unrecognized IDs (spec §4.7).
func (w *Worker) applyOrdered(latest map[uint32][]byte) {
	applied := make(map[uint32]bool, len(latest))
	for _, id := range applyOrder {
		payload, ok := latest[id]
		if !ok {
			continue
		}
		applied[id] = true
		w.applyOne(id, payload)
	}
	for id, payload := range latest {
		if applied[id] {
			continue
		}
		w.applyOne(id, payload)
	}
}

func (w *Worker) applyOne(id uint32, payload []byte) {
	if key := watchdogKeyFor(id); key != "" && w.wd != nil {
		w.wd.Mark(key)
	}
	if err := w.proc.Apply(id, payload); err != nil {
		if w.diag != nil {
			w.diag.Record("worker", err)
		}
		if w.log != nil {
			w.log.Printf("worker: apply 0x%08X: %v", id, err)
		}
	}
}

func (w *Worker) applyIdleAll(idleAll func()) {
	if idleAll == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && w.log != nil {
			w.log.Printf("worker: panic during apply_idle_all: %v", r)
		}
	}()
	idleAll()
}
