package rx

import (
	"log"
	"time"

	"labgateway.dev/labgw/internal/canbus"
	"labgateway.dev/labgw/internal/canframe"
	"labgateway.dev/labgw/internal/config"
)

// PATSink receives decoded PAT_Jx connector fields for the dashboard
// state; the gateway's core data plane does not otherwise consume
// them (spec §3 "PAT matrix state").
type PATSink interface {
	SetPAT(connector int, fields [canframe.PATFieldCount]byte)
}

// Watchdog is the narrow surface the RX loop needs to mark bus
// liveness.
type Watchdog interface {
	Mark(key string)
}

// Loop is the CAN RX path: it owns the backend's receive calls and
// the command Queue, and never performs instrument I/O (spec §3
// invariant).
type Loop struct {
	backend canbus.Backend
	queue   *Queue
	wd      Watchdog
	pat     PATSink
	log     *log.Logger

	recvTimeout time.Duration
}

// New builds a Loop. pat may be nil to skip PAT tracking.
func New(backend canbus.Backend, queue *Queue, wd Watchdog, pat PATSink, logger *log.Logger) *Loop {
	return &Loop{backend: backend, queue: queue, wd: wd, pat: pat, log: logger, recvTimeout: 200 * time.Millisecond}
}

// PushFilters installs the kernel-level acceptance filter list for
// mode, unioning the control IDs with PAT_Jx IDs when requested (spec
// §4.6). Failures are logged, not returned, matching "failures are
// logged and do not abort".
func (l *Loop) PushFilters(mode config.KernelFilterMode) {
	if mode == config.FilterNone {
		return
	}
	var filters []canbus.Filter
	for _, id := range canframe.ControlIDs {
		filters = append(filters, canbus.Filter{ID: id, Mask: canframe.RawMask})
	}
	if mode == config.FilterControlAndPAT {
		for i := 0; i < canframe.PATCount; i++ {
			filters = append(filters, canbus.Filter{ID: canframe.PATJ0 + uint32(i)*canframe.PATStride, Mask: canframe.RawMask})
		}
	}
	if err := l.backend.SetFilters(filters); err != nil {
		if l.log != nil {
			l.log.Printf("rx: pushing kernel filters: %v", err)
		}
	}
}

// Run blocks, classifying and enqueuing control frames, until stop is
// closed or the backend reports ErrClosed.
func (l *Loop) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		msg, ok, err := l.backend.Recv(l.recvTimeout)
		if err != nil {
			if err == canbus.ErrClosed {
				return
			}
			if l.log != nil {
				l.log.Printf("rx: recv: %v", err)
			}
			continue
		}
		if !ok {
			continue
		}

		id := canframe.NormalizeID(msg.ID)
		if l.wd != nil {
			l.wd.Mark("can")
		}

		if canframe.IsControlID(id) {
			payload := make([]byte, len(msg.Data))
			copy(payload, msg.Data)
			l.queue.Push(Item{ID: id, Payload: payload})
			continue
		}

		if l.pat != nil {
			if idx, isPAT := canframe.IsPATID(id); isPAT {
				fields, err := canframe.DecodePAT(msg.Data)
				if err == nil {
					l.pat.SetPAT(idx, fields)
				}
			}
		}
	}
}
