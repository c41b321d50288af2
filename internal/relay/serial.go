package relay

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// bootSettleDelay is the fixed delay after opening the serial port
// before the first command is trusted to reach the relay board (many
// USB-serial relay boards reset on DTR assertion).
const bootSettleDelay = 2 * time.Second

// Serial drives a USB-serial ASCII relay board: one byte per command,
// a configurable ON/OFF byte pair per relay index (spec §4.4).
type Serial struct {
	state
	port    io.ReadWriteCloser
	index   int
	onByte  byte
	offByte byte
	wmu     sync.Mutex
}

// OpenSerial opens portName at baud and waits out the board's
// boot-settle delay before returning.
func OpenSerial(portName string, baud int, index int, onByte, offByte byte) (*Serial, error) {
	port, err := serial.OpenPort(&serial.Config{Name: portName, Baud: baud, ReadTimeout: 500 * time.Millisecond})
	if err != nil {
		return nil, fmt.Errorf("relay: open %s: %w", portName, err)
	}
	time.Sleep(bootSettleDelay)
	return &Serial{port: port, index: index, onByte: onByte, offByte: offByte}, nil
}

func (s *Serial) SetDrive(on bool) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	b := s.offByte
	if on {
		b = s.onByte
	}
	if _, err := s.port.Write([]byte{b}); err != nil {
		return fmt.Errorf("relay: write drive: %w", err)
	}
	s.mu.Lock()
	s.drive = on
	s.mu.Unlock()
	return nil
}

func (s *Serial) GetDrive() bool { return s.getDrive() }

// GetPinLevel has no read-back channel on this simple ASCII protocol;
// the board is write-only.
func (s *Serial) GetPinLevel() (bool, bool) { return false, false }

func (s *Serial) Close() error { return s.port.Close() }

var _ Relay = (*Serial)(nil)
