// Command labgw is the lab-instrument CAN-bus gateway process: it
// bridges a CAN bus to a relay, an electronic load, a function
// generator, a digital multimeter, and a Modbus process-signal source
// (spec §1).
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"labgateway.dev/labgw/internal/canbus"
	"labgateway.dev/labgw/internal/canframe"
	"labgateway.dev/labgw/internal/config"
	"labgateway.dev/labgw/internal/dbc"
	"labgateway.dev/labgw/internal/devcmd"
	"labgateway.dev/labgw/internal/diag"
	"labgateway.dev/labgw/internal/hwstate"
	"labgateway.dev/labgw/internal/modbus"
	"labgateway.dev/labgw/internal/poller"
	"labgateway.dev/labgw/internal/relay"
	"labgateway.dev/labgw/internal/rx"
	"labgateway.dev/labgw/internal/scpi"
	"labgateway.dev/labgw/internal/txsched"
	"labgateway.dev/labgw/internal/usbtmc"
	"labgateway.dev/labgw/internal/watchdog"
	"labgateway.dev/labgw/internal/worker"

	"github.com/tarm/serial"
)

// exitCAN is returned when the CAN bus could not be opened or another
// essential init step failed (spec §6 "2: CAN open failure or
// essential init error").
const exitCAN = 2

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.New(os.Stderr, "labgw: ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(osEnv{})
	if err != nil {
		logger.Printf("config: %v", err)
		return exitCAN
	}

	backend, busLoad, err := openCANBackend(cfg)
	if err != nil {
		logger.Printf("can: %v", err)
		return exitCAN
	}

	hw := hwstate.New()
	tx := hwstate.NewOutgoingTxState()
	pat := hwstate.NewPATMatrix()
	diagLog := diag.New(logger)

	loadPATLabels(cfg.PATDBCPath, pat, logger)
	transportClosers := openDevices(cfg, hw, logger)

	wd := watchdog.New(cfg.Timeouts.Grace, logger)
	proc := devcmd.New(hw, cfg, diagLog).WithTxState(tx)
	registerWatchdogKeys(wd, cfg, proc)

	queue := rx.NewQueue(cfg.CAN.RxQueueMax, logger)
	rxLoop := rx.New(backend, queue, wd, pat, logger)
	rxLoop.PushFilters(cfg.CAN.RxKernelFilterMode)

	cmdWorker := worker.New(queue, proc, wd, diagLog, logger)
	sched := buildScheduler(backend, busLoad, cfg, tx)
	pl := poller.New(hw, tx, cfg.CAN.MeasPollPeriod, cfg.CAN.StatusPollPeriod, diagLog)

	var httpSrv *httpServerHandle
	if cfg.HTTPListen != "" {
		httpSrv = startHTTPServer(cfg.HTTPListen, diag.NewServer(diagLog, pat), logger)
	}

	if cfg.ApplyIdleOnStartup {
		idleAll(proc, logger)
	}

	stop := make(chan struct{})
	done := runAll(stop, rxLoop, cmdWorker, sched, pl, wd, proc, logger)

	waitForSignal(logger)
	close(stop)
	<-done

	if httpSrv != nil {
		httpSrv.shutdown()
	}
	for _, err := range hw.Close() {
		logger.Printf("shutdown: %v", err)
	}
	for _, c := range transportClosers {
		if err := c.Close(); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}
	if err := backend.Shutdown(); err != nil {
		logger.Printf("shutdown: can: %v", err)
	}
	return 0
}

// osEnv adapts the real process environment to config.Source.
type osEnv struct{}

func (osEnv) Lookup(key string) (string, bool) { return os.LookupEnv(key) }

func openCANBackend(cfg config.Config) (canbus.Backend, *canbus.BusLoadMeter, error) {
	busLoad := canbus.NewBusLoadMeter(cfg.CAN.BitrateHz, cfg.CAN.BusLoadWindow, cfg.CAN.BusLoadEMA)
	switch cfg.CAN.Interface {
	case config.CANRMCanview:
		const bcpSerialBaud = 115200
		b, err := canbus.OpenBCP(cfg.CAN.Channel, bcpSerialBaud, cfg.CAN.Setup, cfg.CAN.BitrateHz, cfg.CAN.Setup, busLoad)
		return b, busLoad, err
	default:
		b, err := canbus.OpenSocketCAN(cfg.CAN.Channel, cfg.CAN.BitrateHz, cfg.CAN.Setup)
		return b, busLoad, err
	}
}

func loadPATLabels(path string, pat *hwstate.PATMatrix, logger *log.Logger) {
	if path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		logger.Printf("dbc: open %s: %v", path, err)
		return
	}
	defer f.Close()
	labels, err := dbc.ParsePATJ0Labels(f)
	if err != nil {
		logger.Printf("dbc: parse %s: %v", path, err)
		return
	}
	pat.SetLabels(labels)
}

// openDevices opens every instrument's handle best-effort, logging and
// leaving the handle nil on failure; devcmd and poller already treat a
// nil handle as "device absent" (spec §7 "only CAN open failures are
// fatal"). It returns the underlying transports main must close itself,
// since *scpi.Link does not own a closer (hwstate.HardwareState.Close
// doc comment).
func openDevices(cfg config.Config, hw *hwstate.HardwareState, logger *log.Logger) []io.Closer {
	var closers []io.Closer

	hw.Relay.Handle = openRelay(cfg.Relay, logger)

	if link, closer, err := openSCPILink("eload", cfg.ELoad); err != nil {
		logger.Printf("eload: %v", err)
	} else {
		hw.ELoad.Handle = link
		closers = append(closers, closer)
	}
	if link, closer, err := openSCPILink("afg", cfg.AFG); err != nil {
		logger.Printf("afg: %v", err)
	} else {
		hw.AFG.Handle = link
		closers = append(closers, closer)
	}
	if link, closer, err := openSCPILink("dmm", config.Instrument{Path: cfg.MMeter.Path, Baud: cfg.MMeter.Baud}); err != nil {
		logger.Printf("mmeter: %v", err)
	} else {
		hw.MMeter.Handle = link
		hw.MMeter.DialectOverride = mmeterDialectOverride(cfg.MMeter.SCPIStyleOverride)
		closers = append(closers, closer)
	}

	strategy := mrSignalByteOrderStrategy(cfg.MrSignal.ByteOrder)
	mc, err := modbus.Open(cfg.MrSignal.Port, cfg.MrSignal.Baud, cfg.MrSignal.Parity, cfg.MrSignal.StopBits, cfg.MrSignal.SlaveID, strategy, 500*time.Millisecond)
	if err != nil {
		logger.Printf("mrsignal: %v", err)
	} else {
		hw.MrSignal.Handle = mc
	}

	return closers
}

func openRelay(cfg config.Relay, logger *log.Logger) relay.Relay {
	switch cfg.Backend {
	case config.RelaySerial:
		r, err := relay.OpenSerial(cfg.Port, 9600, cfg.Index, cfg.OnByte, cfg.OffByte)
		if err != nil {
			logger.Printf("relay: %v", err)
			return relay.NewDisabled()
		}
		return r
	case config.RelayGPIO:
		r, err := relay.OpenGPIO(cfg.GPIOName)
		if err != nil {
			logger.Printf("relay: %v", err)
			return relay.NewDisabled()
		}
		return r
	case config.RelayDisabled:
		return relay.NewDisabled()
	default:
		return relay.NewMock()
	}
}

// openSCPILink opens inst.Path as a USB-TMC character device if its
// name matches that convention, else as a serial port (spec §4.3,
// §4.1: the transport choice is a property of the path, never probed).
func openSCPILink(name string, inst config.Instrument) (*scpi.Link, io.Closer, error) {
	if inst.Path == "" {
		return nil, nil, fmt.Errorf("scpi: %s: no path configured", name)
	}
	if isUSBTMCPath(inst.Path) {
		dev, err := usbtmc.Open(inst.Path, "\n", '\n', 2*time.Second)
		if err != nil {
			return nil, nil, err
		}
		return scpi.Open(name, &usbtmcTransport{d: dev}), dev, nil
	}
	port, err := serial.OpenPort(&serial.Config{Name: inst.Path, Baud: inst.Baud, ReadTimeout: 2 * time.Second})
	if err != nil {
		return nil, nil, fmt.Errorf("scpi: open %s: %w", inst.Path, err)
	}
	return scpi.Open(name, port), port, nil
}

func isUSBTMCPath(path string) bool {
	const prefix = "/dev/usbtmc"
	return len(path) >= len(prefix) && path[:len(prefix)] == prefix
}

// usbtmcTransport adapts *usbtmc.Device's framed Read (which returns
// one already-delimited response per call) to scpi.Transport's
// streaming io.Reader contract, restoring the newline each frame was
// split on and buffering any remainder a short caller-supplied buffer
// couldn't take in one call.
type usbtmcTransport struct {
	d       *usbtmc.Device
	pending []byte
}

func (t *usbtmcTransport) Write(p []byte) (int, error) { return t.d.Write(p) }

func (t *usbtmcTransport) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		line, err := t.d.Read()
		if err != nil && len(line) == 0 {
			return 0, err
		}
		t.pending = append(line, '\n')
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func mmeterDialectOverride(style string) scpi.Dialect {
	switch style {
	case "func":
		return scpi.DialectFunc
	case "conf":
		return scpi.DialectConf
	default:
		return scpi.DialectUnknown
	}
}

func mrSignalByteOrderStrategy(mode config.ModbusByteOrder) modbus.ByteOrderStrategy {
	switch mode {
	case config.ModbusOrderBigEndian:
		return modbus.ByteOrderStrategy{Mode: modbus.StrategyConfigured, Fixed: modbus.BigEndian}
	case config.ModbusOrderLittleEndian:
		return modbus.ByteOrderStrategy{Mode: modbus.StrategyConfigured, Fixed: modbus.LittleEndian}
	case config.ModbusOrderBigSwap:
		return modbus.ByteOrderStrategy{Mode: modbus.StrategyConfigured, Fixed: modbus.BigEndianWordSwap}
	case config.ModbusOrderLittleSwap:
		return modbus.ByteOrderStrategy{Mode: modbus.StrategyConfigured, Fixed: modbus.LittleEndianWordSwap}
	case config.ModbusOrderDefault:
		return modbus.ByteOrderStrategy{Mode: modbus.StrategyDefault}
	default:
		return modbus.ByteOrderStrategy{Mode: modbus.StrategyAuto}
	}
}

func registerWatchdogKeys(wd *watchdog.Watchdog, cfg config.Config, proc *devcmd.Processor) {
	wd.RegisterKey("can", cfg.Timeouts.Control, nil)
	wd.RegisterKey("k1", cfg.Timeouts.K1, proc.IdleRelay)
	wd.RegisterKey("eload", cfg.Timeouts.ELoad, proc.IdleELoad)
	wd.RegisterKey("afg", cfg.Timeouts.AFG, proc.IdleAFG)
	wd.RegisterKey("mmeter", cfg.Timeouts.MMeter, proc.IdleMMeter)
	wd.RegisterKey("mrsignal", cfg.Timeouts.MrSignal, proc.IdleMrSignal)
}

func buildScheduler(backend canbus.Backend, busLoad *canbus.BusLoadMeter, cfg config.Config, tx *hwstate.OutgoingTxState) *txsched.Scheduler {
	sched := txsched.New(backend, busLoad, cfg.CAN.TxSendOnChange, cfg.CAN.TxSendOnChangeMin, nil)

	sched.AddTask(&txsched.Task{ID: canframe.ELoadRead, Period: cfg.CAN.TxPeriod["ELOAD_READ"], Build: func() ([]byte, bool) {
		v, ok := tx.ELoad()
		if !ok {
			return nil, false
		}
		return canframe.EncodeELoadReadback(v.MilliVolts, v.MilliAmps), true
	}})
	sched.AddTask(&txsched.Task{ID: canframe.MMeterRead, Period: cfg.CAN.TxPeriod["MMETER_READ"], Build: func() ([]byte, bool) {
		v, ok := tx.MeterLegacy()
		if !ok {
			return nil, false
		}
		return canframe.EncodeMeterLegacy(int64(v)), true
	}})
	sched.AddTask(&txsched.Task{ID: canframe.MMeterReadExt, Period: cfg.CAN.TxPeriod["MMETER_READ_EXT"], Build: func() ([]byte, bool) {
		v, ok := tx.MeterExt()
		if !ok {
			return nil, false
		}
		return canframe.EncodeMeterExt(v.Primary, v.Secondary), true
	}})
	sched.AddTask(&txsched.Task{ID: canframe.MMeterStatus, Period: cfg.CAN.TxPeriod["MMETER_STATUS"], Build: func() ([]byte, bool) {
		v, ok := tx.MeterStatus()
		if !ok {
			return nil, false
		}
		return canframe.EncodeMeterStatus(v.Func, v.Flags), true
	}})
	sched.AddTask(&txsched.Task{ID: canframe.AFGReadExt, Period: cfg.CAN.TxPeriod["AFG_READ_EXT"], Build: func() ([]byte, bool) {
		v, ok := tx.AFGExt()
		if !ok {
			return nil, false
		}
		return canframe.EncodeAFGExtReadback(v.OffsetMV, v.DutyPct), true
	}})
	sched.AddTask(&txsched.Task{ID: canframe.MrSignalReadStatus, Period: cfg.CAN.TxPeriod["MRSIGNAL_READ_STATUS"], Build: func() ([]byte, bool) {
		v, ok := tx.MrSignalStatus()
		if !ok {
			return nil, false
		}
		return canframe.EncodeMrSignalStatus(v.On, canframe.MrSignalMode(v.Mode), v.Value), true
	}})
	sched.AddTask(&txsched.Task{ID: canframe.MrSignalReadInput, Period: cfg.CAN.TxPeriod["MRSIGNAL_READ_INPUT"], Build: func() ([]byte, bool) {
		v, ok := tx.MrSignalInput()
		if !ok {
			return nil, false
		}
		return canframe.EncodeMrSignalInput(v), true
	}})

	return sched
}

func runAll(stop <-chan struct{}, rxLoop *rx.Loop, cmdWorker *worker.Worker, sched *txsched.Scheduler, pl *poller.Poller, wd *watchdog.Watchdog, proc *devcmd.Processor, logger *log.Logger) <-chan struct{} {
	var wg sync.WaitGroup
	wg.Add(5)
	go func() { defer wg.Done(); rxLoop.Run(stop) }()
	go func() { defer wg.Done(); cmdWorker.Run(stop, func() { idleAll(proc, logger) }) }()
	go func() { defer wg.Done(); sched.Run(stop) }()
	go func() { defer wg.Done(); pl.Run(stop) }()
	go func() { defer wg.Done(); runWatchdogEnforcer(stop, wd) }()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func runWatchdogEnforcer(stop <-chan struct{}, wd *watchdog.Watchdog) {
	const enforcePeriod = 250 * time.Millisecond
	t := time.NewTicker(enforcePeriod)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			wd.Enforce()
		}
	}
}

// idleAll drives every device to its idle state, best-effort (spec §5
// "apply_idle_all").
func idleAll(proc *devcmd.Processor, logger *log.Logger) {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"k1", proc.IdleRelay},
		{"eload", proc.IdleELoad},
		{"afg", proc.IdleAFG},
		{"mmeter", proc.IdleMMeter},
		{"mrsignal", proc.IdleMrSignal},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			logger.Printf("idle_all: %s: %v", s.name, err)
		}
	}
}

// httpServerHandle lets main shut the observability server down
// gracefully alongside the rest of the process (spec §4.12).
type httpServerHandle struct {
	srv    *http.Server
	logger *log.Logger
}

func startHTTPServer(listen string, handler http.Handler, logger *log.Logger) *httpServerHandle {
	srv := &http.Server{Addr: listen, Handler: handler}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("http: %v", err)
		}
	}()
	return &httpServerHandle{srv: srv, logger: logger}
}

func (h *httpServerHandle) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil {
		h.logger.Printf("http: shutdown: %v", err)
	}
}

func waitForSignal(logger *log.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	logger.Printf("received %v, shutting down", s)
}
