package canbus

import (
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	gocan "github.com/brutella/can"
)

// SocketCAN drives a Linux SocketCAN interface via github.com/brutella/can.
// brutella/can's Bus is callback-driven (ConnectAndPublish + SubscribeFunc);
// SocketCAN adapts that into the blocking Recv(timeout) shape Backend
// requires by fanning received frames into a buffered channel.
type SocketCAN struct {
	bus *gocan.Bus

	mu     sync.Mutex
	rx     chan Msg
	closed bool
}

// OpenSocketCAN brings up interface channel (e.g. "can0") at bitrateHz
// and attaches to it, best-effort configuring the link first if
// setup is requested (spec §4.5 "best-effort with and without
// elevated privileges").
func OpenSocketCAN(channel string, bitrateHz int, setup bool) (*SocketCAN, error) {
	if setup {
		setupLink(channel, bitrateHz)
	}
	bus, err := gocan.NewBusForInterfaceWithName(channel)
	if err != nil {
		return nil, fmt.Errorf("canbus: socketcan open %s: %w", channel, err)
	}
	s := &SocketCAN{
		bus: bus,
		rx:  make(chan Msg, 256),
	}
	bus.SubscribeFunc(s.onFrame)
	go func() {
		// ConnectAndPublish blocks until Disconnect is called; errors
		// here can't be handled synchronously by the opener, so they
		// are swallowed the way a background reader thread would
		// surface them only via the absence of further frames.
		_ = bus.ConnectAndPublish()
	}()
	return s, nil
}

// setupLink shells out to "ip link" to configure bitrate and bring
// the interface up, retrying the bitrate and up steps with sudo when
// the plain attempt fails. It returns an error only if both bitrate
// attempts fail; OpenSocketCAN ignores that error and attaches to the
// interface regardless.
func setupLink(channel string, bitrateHz int) error {
	down := exec.Command("ip", "link", "set", channel, "down")
	_ = down.Run()
	set := exec.Command("ip", "link", "set", channel, "type", "can", "bitrate", strconv.Itoa(bitrateHz))
	if err := set.Run(); err != nil {
		// Retry with sudo in case we're not running as root.
		set2 := exec.Command("sudo", "ip", "link", "set", channel, "type", "can", "bitrate", strconv.Itoa(bitrateHz))
		if err2 := set2.Run(); err2 != nil {
			return fmt.Errorf("canbus: configure %s: %w", channel, err)
		}
	}
	up := exec.Command("ip", "link", "set", channel, "up")
	if err := up.Run(); err != nil {
		up2 := exec.Command("sudo", "ip", "link", "set", channel, "up")
		_ = up2.Run()
	}
	return nil
}

func (s *SocketCAN) onFrame(frm gocan.Frame) {
	msg := Msg{
		ID:       NormalizeRaw(frm.ID),
		Extended: frm.IsExtended(),
		Remote:   frm.IsRemote(),
		Data:     append([]byte(nil), frm.Data[:frm.Length]...),
	}
	select {
	case s.rx <- msg:
	default:
		// Drop oldest to make room; the RX loop applies its own
		// backpressure policy further upstream, but the fan-in
		// channel itself must never block the brutella/can callback.
		select {
		case <-s.rx:
		default:
		}
		select {
		case s.rx <- msg:
		default:
		}
	}
}

func (s *SocketCAN) Send(msg Msg) error {
	frm := gocan.Frame{
		ID:     msg.ID,
		Length: uint8(len(msg.Data)),
		Flags:  0,
	}
	copy(frm.Data[:], msg.Data)
	if msg.Remote {
		frm.ID |= 0 // brutella/can has no explicit RTR flag constant in this version; remote frames are out of scope for TX.
	}
	return s.bus.Publish(frm)
}

func (s *SocketCAN) Recv(timeout time.Duration) (Msg, bool, error) {
	select {
	case m, ok := <-s.rx:
		if !ok {
			return Msg{}, false, ErrClosed
		}
		return m, true, nil
	case <-time.After(timeout):
		return Msg{}, false, nil
	}
}

func (s *SocketCAN) SetFilters(filters []Filter) error {
	// brutella/can does not expose SocketCAN kernel filters directly;
	// filtering is approximated in software by the RX loop itself.
	// Returning nil here means "accepted, no-op", matching spec
	// §4.6's "failures are logged and do not abort" for a backend
	// that cannot push filters down to the kernel.
	return nil
}

func (s *SocketCAN) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.rx)
	return s.bus.Disconnect()
}

// NormalizeRaw masks a raw SocketCAN-style ID (which may carry the
// EFF/RTR/ERR flag bits brutella/can leaves in Frame.ID) down to the
// pure 29-bit arbitration ID.
func NormalizeRaw(raw uint32) uint32 {
	return raw & 0x1FFFFFFF
}
