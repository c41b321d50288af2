// Package poller runs the background measurement and status reads
// that feed OutgoingTxState (spec §4.11): V/I and DMM fetch at
// MEAS_POLL_PERIOD, mode/setpoint queries at STATUS_POLL_PERIOD.
package poller

import (
	"math"
	"time"

	"labgateway.dev/labgw/internal/hwstate"
)

// Recorder is the diagnostics surface this package needs.
type Recorder interface {
	Record(source string, err error)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, error) {}

// Poller periodically reads the e-load, DMM, and MrSignal and writes
// results into tx (spec §4.11).
type Poller struct {
	hw   *hwstate.HardwareState
	tx   *hwstate.OutgoingTxState
	diag Recorder

	measPeriod   time.Duration
	statusPeriod time.Duration
	now          func() time.Time
}

// New builds a Poller. diag may be nil.
func New(hw *hwstate.HardwareState, tx *hwstate.OutgoingTxState, measPeriod, statusPeriod time.Duration, diag Recorder) *Poller {
	if diag == nil {
		diag = nopRecorder{}
	}
	return &Poller{hw: hw, tx: tx, diag: diag, measPeriod: measPeriod, statusPeriod: statusPeriod, now: time.Now}
}

// Run blocks until stop is closed, polling on its two cadences. The
// loop is single-threaded: one measurement or status pass runs to
// completion before the next tick is evaluated.
func (p *Poller) Run(stop <-chan struct{}) {
	measTick := time.NewTicker(tickOrDefault(p.measPeriod))
	defer measTick.Stop()
	statusTick := time.NewTicker(tickOrDefault(p.statusPeriod))
	defer statusTick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-measTick.C:
			if p.measPeriod > 0 {
				p.pollMeasurements()
			}
		case <-statusTick.C:
			if p.statusPeriod > 0 {
				p.pollStatus()
			}
		}
	}
}

func tickOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}

// pollMeasurements reads e-load volts/current and, unless the DMM is
// in its settle window, a DMM measurement (spec §4.11).
func (p *Poller) pollMeasurements() {
	p.pollELoad()
	p.pollDMMMeasurement()
	p.pollMrSignalInput()
}

func (p *Poller) pollELoad() {
	s := &p.hw.ELoad
	s.Lock()
	link := s.Handle
	s.Unlock()
	if link == nil {
		return
	}

	volts, err := link.FetchValues("MEAS:VOLT?")
	if err != nil {
		p.diag.Record("poller.eload", err)
		return
	}
	amps, err := link.FetchValues("MEAS:CURR?")
	if err != nil {
		p.diag.Record("poller.eload", err)
		return
	}
	if !volts.HasPrimary || !amps.HasPrimary {
		return
	}
	p.tx.SetELoad(hwstate.ELoadReadback{
		MilliVolts: int64(volts.Primary * 1000),
		MilliAmps:  int64(amps.Primary * 1000),
	})
}

func (p *Poller) pollDMMMeasurement() {
	s := &p.hw.MMeter
	s.Lock()
	link := s.Handle
	quiet := p.now().Before(s.QuietUntil)
	fn := s.CurrentFunc
	secondary := s.SecondaryEnabled
	s.Unlock()
	if link == nil || quiet {
		return
	}

	v, err := link.FetchValues("READ?")
	if err != nil {
		p.diag.Record("poller.mmeter", err)
		return
	}
	if !v.HasPrimary {
		return
	}

	p.tx.SetMeterLegacy(meterLegacyFromFunc(fn, v.Primary))

	secondaryVal := float32(math.NaN())
	if secondary && v.HasSecondary {
		secondaryVal = float32(v.Secondary)
	}
	p.tx.SetMeterExt(hwstate.MeterExt{Primary: float32(v.Primary), Secondary: secondaryVal})
}

// meterLegacyFromFunc packs the legacy u16 milliamp readback; modes
// other than IDC report zero since the legacy frame only carries a
// current reading (spec §3 "Meter legacy: u16 mA").
func meterLegacyFromFunc(fn string, primary float64) uint16 {
	if fn != "IDC" && fn != "IAC" {
		return 0
	}
	ma := primary * 1000
	if ma < 0 {
		ma = 0
	}
	if ma > 0xFFFF {
		ma = 0xFFFF
	}
	return uint16(ma)
}

func (p *Poller) pollMrSignalInput() {
	s := &p.hw.MrSignal
	s.Lock()
	client := s.Handle
	s.Unlock()
	if client == nil {
		return
	}
	v, err := client.ReadInputValue()
	if err != nil {
		p.diag.Record("poller.mrsignal", err)
		return
	}
	p.tx.SetMrSignalInput(v)
}

// pollStatus reads mode/setpoint style status: the DMM's function and
// flags, and drains its error queue, recording any instrument errors
// to diagnostics (spec §4.11).
func (p *Poller) pollStatus() {
	s := &p.hw.MMeter
	s.Lock()
	link := s.Handle
	quiet := p.now().Before(s.QuietUntil)
	fn := s.CurrentFunc
	secondaryEnabled := s.SecondaryEnabled
	relative := s.RelativeEnabled
	autorange := !p.mmeterLegacyRangeApplied(s)
	s.Unlock()
	if link == nil || quiet {
		return
	}

	errs, err := link.DrainErrors(0)
	if err != nil {
		p.diag.Record("poller.mmeter", err)
		return
	}

	var flags byte
	if autorange {
		flags |= flagAutorange
	}
	if relative {
		flags |= flagRelative
	}
	if secondaryEnabled {
		flags |= flagSecondary
	}
	if len(errs) > 0 {
		p.diag.Record("poller.mmeter", instrumentErrorsJoined(errs))
	}

	p.tx.SetMeterStatus(hwstate.MeterStatus{Func: dmmFuncCode(fn), Flags: flags})
}

// mmeterLegacyRangeApplied is a narrow accessor kept separate from
// IsQuiet/SetQuietUntil so pollStatus can read LegacyApplied under the
// same already-held lock.
func (p *Poller) mmeterLegacyRangeApplied(s *hwstate.MMeterState) bool {
	return s.LegacyApplied
}

const (
	flagAutorange byte = 1 << 0
	flagRelative  byte = 1 << 1
	flagOverload  byte = 1 << 2
	flagSecondary byte = 1 << 3
)

var dmmFuncCodes = map[string]byte{
	"VDC": 0, "VAC": 1, "IDC": 2, "IAC": 3, "RES": 4, "FRES": 5, "FREQ": 6, "CONT": 7, "DIOD": 8,
}

func dmmFuncCode(fn string) byte {
	if c, ok := dmmFuncCodes[fn]; ok {
		return c
	}
	return 0
}

type joinedErr struct{ msgs []string }

func (j joinedErr) Error() string {
	s := ""
	for i, m := range j.msgs {
		if i > 0 {
			s += "; "
		}
		s += m
	}
	return s
}

func instrumentErrorsJoined(msgs []string) error { return joinedErr{msgs} }
