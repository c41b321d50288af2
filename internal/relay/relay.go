// Package relay implements the K1 power relay driver: a narrow
// on/off interface with USB-serial, GPIO, mock, and disabled
// backends (spec §4.4).
package relay

import "sync"

// Relay is the abstract K1 interface every backend implements.
type Relay interface {
	SetDrive(on bool) error
	GetDrive() bool
	// GetPinLevel reports the backend's directly observed pin level,
	// when the backend can read one back; ok is false otherwise
	// (spec §4.4 "Option<bool>").
	GetPinLevel() (level bool, ok bool)
	Close() error
}

// state is the shared {mu, drive} every stateful backend embeds (the
// Disabled backend has none), matching
// spec §5's "dedicated mutex per instrument handle".
type state struct {
	mu    sync.Mutex
	drive bool
}

func (s *state) getDrive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drive
}
