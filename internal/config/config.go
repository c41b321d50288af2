// Package config builds an immutable Config from the process
// environment once at startup. Every other package consumes the
// struct, never os.Getenv directly.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CANInterface selects the transport the CAN backend uses.
type CANInterface string

const (
	CANSocketCAN  CANInterface = "socketcan"
	CANRMCanview  CANInterface = "rmcanview"
)

// KernelFilterMode controls which kernel-level CAN filters are pushed
// down after bus open.
type KernelFilterMode string

const (
	FilterNone         KernelFilterMode = "none"
	FilterControl      KernelFilterMode = "control"
	FilterControlAndPAT KernelFilterMode = "control+pat"
)

// RelayBackend selects the K1 relay driver implementation.
type RelayBackend string

const (
	RelaySerial   RelayBackend = "serial"
	RelayGPIO     RelayBackend = "gpio"
	RelayMock     RelayBackend = "mock"
	RelayDisabled RelayBackend = "disabled"
)

// ModbusByteOrder selects the float word/byte order strategy for the
// MrSignal Modbus client.
type ModbusByteOrder string

const (
	ModbusOrderAuto        ModbusByteOrder = "auto"
	ModbusOrderDefault     ModbusByteOrder = "default"
	ModbusOrderBigEndian   ModbusByteOrder = "big"
	ModbusOrderLittleEndian ModbusByteOrder = "little"
	ModbusOrderBigSwap     ModbusByteOrder = "big_swap"
	ModbusOrderLittleSwap  ModbusByteOrder = "little_swap"
)

// CAN holds the bus transport and transmit-scheduler configuration.
type CAN struct {
	Interface  CANInterface
	Channel    string
	BitrateHz  int
	Setup      bool

	TxPeriod          map[string]time.Duration
	TxSendOnChange    bool
	TxSendOnChangeMin time.Duration

	RxKernelFilterMode KernelFilterMode
	RxQueueMax         int

	BusLoadWindow time.Duration
	BusLoadEMA    float64

	MeasPollPeriod   time.Duration
	StatusPollPeriod time.Duration
}

// Timeouts holds the control watchdog's per-key durations.
type Timeouts struct {
	Control  time.Duration
	Grace    time.Duration
	K1       time.Duration
	ELoad    time.Duration
	AFG      time.Duration
	MMeter   time.Duration
	MrSignal time.Duration
}

// Relay holds the K1 relay driver's configuration.
type Relay struct {
	Backend  RelayBackend
	Port     string
	OnByte   byte
	OffByte  byte
	Index    int
	Invert   bool
	Idle     bool // idle drive level applied by the watchdog
	GPIOName string
}

// Instrument holds a plain SCPI-over-serial-or-USBTMC link's address;
// which transport a Path selects (serial device vs /dev/usbtmc*) is
// decided by the caller that opens it, not by this package (spec §1
// "device auto-discovery ... out of scope": Config only carries an
// explicit address, never probes for one).
type Instrument struct {
	Path string
	Baud int // ignored for a USB-TMC path
}

// MMeter holds the DMM's SCPI link configuration.
type MMeter struct {
	Path              string
	Baud              int
	SCPIStyleOverride string // "", "func", "conf"
	Debug             bool
	LegacyRangeEnable bool
	SettleSeconds     float64
}

// MrSignal holds the Modbus-RTU process-signal source configuration.
type MrSignal struct {
	Port       string
	SlaveID    byte
	Baud       int
	Parity     string
	StopBits   int
	ByteOrder  ModbusByteOrder
	MaxVolts   float64
	MaxMilliamps float64
}

// Config is the complete, immutable process configuration, built once
// from the environment at startup.
type Config struct {
	CAN               CAN
	Timeouts          Timeouts
	ApplyIdleOnStartup bool
	Relay             Relay
	ELoad             Instrument
	AFG               Instrument
	MMeter            MMeter
	MrSignal          MrSignal
	HTTPListen        string // "" disables the observability HTTP server
	PATDBCPath        string // "" skips loading PAT_J0 dashboard labels
}

// Source abstracts environment lookup so tests can supply a fake map
// instead of mutating the real process environment.
type Source interface {
	Lookup(key string) (string, bool)
}

// MapSource is a Source backed by an in-memory map, used by tests.
type MapSource map[string]string

func (m MapSource) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func str(src Source, key, def string) string {
	if v, ok := src.Lookup(key); ok {
		return v
	}
	return def
}

func boolean(src Source, key string, def bool) (bool, error) {
	v, ok := src.Lookup(key)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return def, fmt.Errorf("config: %s: invalid bool %q", key, v)
	}
}

func integer(src Source, key string, def int) (int, error) {
	v, ok := src.Lookup(key)
	if !ok {
		return def, nil
	}
	v = strings.TrimSpace(v)
	base := 10
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		v = v[2:]
		base = 16
	}
	n, err := strconv.ParseInt(v, base, 64)
	if err != nil {
		return def, fmt.Errorf("config: %s: invalid int %q: %w", key, v, err)
	}
	return int(n), nil
}

func float(src Source, key string, def float64) (float64, error) {
	v, ok := src.Lookup(key)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def, fmt.Errorf("config: %s: invalid float %q: %w", key, v, err)
	}
	return f, nil
}

func seconds(src Source, key string, def time.Duration) (time.Duration, error) {
	f, err := float(src, key, def.Seconds())
	if err != nil {
		return def, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

func millis(src Source, key string, def time.Duration) (time.Duration, error) {
	n, err := integer(src, key, int(def/time.Millisecond))
	if err != nil {
		return def, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

// Load builds a Config from src, applying the defaults documented in
// spec.md §6. Unknown/unsupported enumerated values are a Config
// error per spec §7.
func Load(src Source) (Config, error) {
	var c Config
	var err error

	c.CAN.Interface = CANInterface(str(src, "CAN_INTERFACE", string(CANSocketCAN)))
	switch c.CAN.Interface {
	case CANSocketCAN, CANRMCanview:
	default:
		return c, fmt.Errorf("config: CAN_INTERFACE: unsupported value %q", c.CAN.Interface)
	}
	c.CAN.Channel = str(src, "CAN_CHANNEL", "can0")
	if c.CAN.BitrateHz, err = integer(src, "CAN_BITRATE", 500000); err != nil {
		return c, err
	}
	if c.CAN.Setup, err = boolean(src, "CAN_SETUP", false); err != nil {
		return c, err
	}

	c.CAN.TxPeriod = map[string]time.Duration{}
	periodDefaults := map[string]time.Duration{
		"ELOAD_READ":            100 * time.Millisecond,
		"MMETER_READ":           200 * time.Millisecond,
		"AFG_READ":              500 * time.Millisecond,
		"AFG_READ_EXT":          500 * time.Millisecond,
		"MRSIGNAL_READ_STATUS":  200 * time.Millisecond,
		"MRSIGNAL_READ_INPUT":   200 * time.Millisecond,
		"MMETER_READ_EXT":       200 * time.Millisecond,
		"MMETER_STATUS":         1000 * time.Millisecond,
	}
	for name, def := range periodDefaults {
		d, err := millis(src, "CAN_TX_PERIOD_"+name+"_MS", def)
		if err != nil {
			return c, err
		}
		c.CAN.TxPeriod[name] = d
	}
	if c.CAN.TxSendOnChange, err = boolean(src, "CAN_TX_SEND_ON_CHANGE", true); err != nil {
		return c, err
	}
	if c.CAN.TxSendOnChangeMin, err = millis(src, "CAN_TX_SEND_ON_CHANGE_MIN_MS", 50*time.Millisecond); err != nil {
		return c, err
	}

	c.CAN.RxKernelFilterMode = KernelFilterMode(str(src, "CAN_RX_KERNEL_FILTER_MODE", string(FilterControl)))
	switch c.CAN.RxKernelFilterMode {
	case FilterNone, FilterControl, FilterControlAndPAT:
	default:
		return c, fmt.Errorf("config: CAN_RX_KERNEL_FILTER_MODE: unsupported value %q", c.CAN.RxKernelFilterMode)
	}
	if c.CAN.RxQueueMax, err = integer(src, "CAN_CMD_QUEUE_MAX", 256); err != nil {
		return c, err
	}

	if c.CAN.BusLoadWindow, err = seconds(src, "CAN_BUS_LOAD_WINDOW_SEC", 1*time.Second); err != nil {
		return c, err
	}
	if c.CAN.BusLoadEMA, err = float(src, "CAN_BUS_LOAD_EMA_ALPHA", 0.2); err != nil {
		return c, err
	}

	if c.CAN.MeasPollPeriod, err = millis(src, "MEAS_POLL_PERIOD_MS", 100*time.Millisecond); err != nil {
		return c, err
	}
	if c.CAN.StatusPollPeriod, err = millis(src, "STATUS_POLL_PERIOD_MS", 500*time.Millisecond); err != nil {
		return c, err
	}

	if c.Timeouts.Control, err = seconds(src, "CONTROL_TIMEOUT_SEC", 5*time.Second); err != nil {
		return c, err
	}
	if c.Timeouts.Grace, err = seconds(src, "WATCHDOG_GRACE_SEC", 1*time.Second); err != nil {
		return c, err
	}
	if c.Timeouts.K1, err = seconds(src, "K1_TIMEOUT_SEC", c.Timeouts.Control); err != nil {
		return c, err
	}
	if c.Timeouts.ELoad, err = seconds(src, "ELOAD_TIMEOUT_SEC", c.Timeouts.Control); err != nil {
		return c, err
	}
	if c.Timeouts.AFG, err = seconds(src, "AFG_TIMEOUT_SEC", c.Timeouts.Control); err != nil {
		return c, err
	}
	if c.Timeouts.MMeter, err = seconds(src, "MMETER_TIMEOUT_SEC", c.Timeouts.Control); err != nil {
		return c, err
	}
	if c.Timeouts.MrSignal, err = seconds(src, "MRSIGNAL_TIMEOUT_SEC", c.Timeouts.Control); err != nil {
		return c, err
	}

	if c.ApplyIdleOnStartup, err = boolean(src, "APPLY_IDLE_ON_STARTUP", true); err != nil {
		return c, err
	}

	c.Relay.Backend = RelayBackend(str(src, "K1_BACKEND", string(RelayMock)))
	switch c.Relay.Backend {
	case RelaySerial, RelayGPIO, RelayMock, RelayDisabled:
	default:
		return c, fmt.Errorf("config: K1_BACKEND: unsupported value %q", c.Relay.Backend)
	}
	c.Relay.Port = str(src, "K1_PORT", "/dev/ttyUSB_RELAY")
	if n, err := integer(src, "K1_ON_BYTE", 0x11); err != nil {
		return c, err
	} else {
		c.Relay.OnByte = byte(n)
	}
	if n, err := integer(src, "K1_OFF_BYTE", 0x01); err != nil {
		return c, err
	} else {
		c.Relay.OffByte = byte(n)
	}
	if c.Relay.Index, err = integer(src, "K1_INDEX", 1); err != nil {
		return c, err
	}
	if c.Relay.Invert, err = boolean(src, "K1_INVERT", false); err != nil {
		return c, err
	}
	if c.Relay.Idle, err = boolean(src, "K1_IDLE_DRIVE", false); err != nil {
		return c, err
	}
	c.Relay.GPIOName = str(src, "K1_GPIO_NAME", "GPIO17")

	c.ELoad.Path = str(src, "ELOAD_PATH", "/dev/usbtmc0")
	if c.ELoad.Baud, err = integer(src, "ELOAD_BAUD", 9600); err != nil {
		return c, err
	}
	c.AFG.Path = str(src, "AFG_PATH", "/dev/usbtmc1")
	if c.AFG.Baud, err = integer(src, "AFG_BAUD", 9600); err != nil {
		return c, err
	}

	c.MMeter.Path = str(src, "MMETER_PATH", "/dev/ttyUSB0")
	if c.MMeter.Baud, err = integer(src, "MMETER_BAUD", 9600); err != nil {
		return c, err
	}
	c.MMeter.SCPIStyleOverride = strings.ToLower(str(src, "MMETER_SCPI_STYLE", ""))
	if c.MMeter.Debug, err = boolean(src, "MMETER_DEBUG", false); err != nil {
		return c, err
	}
	if c.MMeter.LegacyRangeEnable, err = boolean(src, "MMETER_LEGACY_RANGE_ENABLE", false); err != nil {
		return c, err
	}
	if c.MMeter.SettleSeconds, err = float(src, "MMETER_SETTLE_SEC", 0.3); err != nil {
		return c, err
	}

	c.MrSignal.Port = str(src, "MRSIGNAL_PORT", "/dev/ttyUSB1")
	if n, err := integer(src, "MRSIGNAL_SLAVE_ID", 1); err != nil {
		return c, err
	} else {
		c.MrSignal.SlaveID = byte(n)
	}
	if c.MrSignal.Baud, err = integer(src, "MRSIGNAL_BAUD", 9600); err != nil {
		return c, err
	}
	c.MrSignal.Parity = str(src, "MRSIGNAL_PARITY", "N")
	if c.MrSignal.StopBits, err = integer(src, "MRSIGNAL_STOPBITS", 1); err != nil {
		return c, err
	}
	c.MrSignal.ByteOrder = ModbusByteOrder(str(src, "MRSIGNAL_FLOAT_BYTEORDER", string(ModbusOrderAuto)))
	switch c.MrSignal.ByteOrder {
	case ModbusOrderAuto, ModbusOrderDefault, ModbusOrderBigEndian, ModbusOrderLittleEndian, ModbusOrderBigSwap, ModbusOrderLittleSwap:
	default:
		return c, fmt.Errorf("config: MRSIGNAL_FLOAT_BYTEORDER: unsupported value %q", c.MrSignal.ByteOrder)
	}
	if c.MrSignal.MaxVolts, err = float(src, "MRSIGNAL_MAX_V", 10.0); err != nil {
		return c, err
	}
	if c.MrSignal.MaxMilliamps, err = float(src, "MRSIGNAL_MAX_MA", 24.0); err != nil {
		return c, err
	}

	c.HTTPListen = str(src, "LABGW_HTTP_LISTEN", ":8080")
	c.PATDBCPath = str(src, "PAT_DBC_PATH", "")

	return c, nil
}
