// Package usbtmc implements the /dev/usbtmc* character-device SCPI
// transport used when no VISA resource is available (spec §4.3).
package usbtmc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

// ErrTimeout is returned by Read when the read termination is not
// seen before the deadline.
var ErrTimeout = errors.New("usbtmc: read timeout")

// readSafetyCap bounds a single Read call so a device that never
// sends its termination cannot grow the buffer unbounded (spec §4.3).
const readSafetyCap = 256 * 1024

// Device is a /dev/usbtmc* character device opened for blocking
// SCPI-over-USB-TMC I/O.
type Device struct {
	f                *os.File
	writeTermination []byte
	readTermination  byte
	readTimeout      time.Duration
}

// Discover returns the sorted list of present /dev/usbtmc* nodes.
func Discover() ([]string, error) {
	matches, err := filepath.Glob("/dev/usbtmc*")
	if err != nil {
		return nil, fmt.Errorf("usbtmc: discover: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// Open opens path (e.g. "/dev/usbtmc0") for blocking read/write. The
// write termination is appended to every Write call if not already
// present; readTermination (typically '\n') ends a Read.
func Open(path string, writeTermination string, readTermination byte, readTimeout time.Duration) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("usbtmc: open %s: %w", path, err)
	}
	return &Device{
		f:                f,
		writeTermination: []byte(writeTermination),
		readTermination:  readTermination,
		readTimeout:      readTimeout,
	}, nil
}

func (d *Device) Close() error { return d.f.Close() }

// Write appends the configured write termination if the payload
// doesn't already end with it, then writes the whole buffer.
func (d *Device) Write(p []byte) (int, error) {
	if len(d.writeTermination) > 0 && !hasSuffix(p, d.writeTermination) {
		p = append(append([]byte(nil), p...), d.writeTermination...)
	}
	n, err := d.f.Write(p)
	if err != nil {
		return n, fmt.Errorf("usbtmc: write: %w", err)
	}
	return n, nil
}

func hasSuffix(p, suffix []byte) bool {
	if len(p) < len(suffix) {
		return false
	}
	for i := range suffix {
		if p[len(p)-len(suffix)+i] != suffix[i] {
			return false
		}
	}
	return true
}

// Read reads until the read termination byte is found or the
// safety cap is hit, waiting up to the configured deadline for the
// device to become readable between chunks (spec §4.3).
func (d *Device) Read() ([]byte, error) {
	deadline := time.Now().Add(d.readTimeout)
	var out []byte
	buf := make([]byte, 4096)
	for {
		if time.Now().After(deadline) {
			return out, ErrTimeout
		}
		ready, err := d.waitReadable(time.Until(deadline))
		if err != nil {
			return out, fmt.Errorf("usbtmc: poll: %w", err)
		}
		if !ready {
			continue
		}
		n, err := d.f.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
			if idx := indexByte(out, d.readTermination); idx >= 0 {
				return out[:idx], nil
			}
			if len(out) >= readSafetyCap {
				return out, fmt.Errorf("usbtmc: read exceeded safety cap of %d bytes without termination", readSafetyCap)
			}
		}
		if err != nil {
			return out, fmt.Errorf("usbtmc: read: %w", err)
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// waitReadable uses unix.Poll for the deadline-based readiness wait
// spec §4.3 calls for, rather than relying on the character device's
// own read timeout semantics (which vary across usbtmc kernel driver
// versions).
func (d *Device) waitReadable(timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		return false, nil
	}
	ms := int(timeout / time.Millisecond)
	if ms <= 0 {
		ms = 1
	}
	fds := []unix.PollFd{{Fd: int32(d.f.Fd()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, err
	}
	return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
}
