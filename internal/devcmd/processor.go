// Package devcmd is the device command processor (spec §4.8): it
// decodes each control-ID payload, diffs it against the last
// commanded state held in hwstate, and issues the resulting SCPI,
// Modbus, or relay writes with the owning instrument's mutex held for
// the whole sequence.
package devcmd

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"labgateway.dev/labgw/internal/canframe"
	"labgateway.dev/labgw/internal/config"
	"labgateway.dev/labgw/internal/hwstate"
	"labgateway.dev/labgw/internal/lgerr"
	"labgateway.dev/labgw/internal/modbus"
	"labgateway.dev/labgw/internal/scpi"
)

// Recorder is the narrow diagnostics surface this package needs.
type Recorder interface {
	Record(source string, err error)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, error) {}

// Processor applies decoded control frames to hwstate's device
// handles (spec §4.8).
type Processor struct {
	hw   *hwstate.HardwareState
	diag Recorder
	tx   *hwstate.OutgoingTxState

	relayInvert    bool
	relayIdleDrive bool

	mmeterLegacyRange bool
	mmeterSettle      time.Duration
	mmeterDialectOverride scpi.Dialect

	mrMaxVolts float64
	mrMaxMA    float64
}

// New builds a Processor from cfg (spec §6's MMETER_*, K1_*, MRSIGNAL_*
// options). diag may be nil, in which case failures are discarded
// after being returned to the caller.
func New(hw *hwstate.HardwareState, cfg config.Config, diag Recorder) *Processor {
	if diag == nil {
		diag = nopRecorder{}
	}
	return &Processor{
		hw:   hw,
		diag: diag,

		relayInvert:    cfg.Relay.Invert,
		relayIdleDrive: cfg.Relay.Idle,

		mmeterLegacyRange:     cfg.MMeter.LegacyRangeEnable,
		mmeterSettle:          time.Duration(cfg.MMeter.SettleSeconds * float64(time.Second)),
		mmeterDialectOverride: dialectFromOverride(cfg.MMeter.SCPIStyleOverride),

		mrMaxVolts: cfg.MrSignal.MaxVolts,
		mrMaxMA:    cfg.MrSignal.MaxMilliamps,
	}
}

// WithTxState attaches the OutgoingTxState the processor should mirror
// commanded (not measured) readbacks into: AFG extended and MrSignal
// status, per spec §3 ("writers are the poller and device command
// processor"). Optional; a nil tx is a no-op.
func (p *Processor) WithTxState(tx *hwstate.OutgoingTxState) *Processor {
	p.tx = tx
	return p
}

func dialectFromOverride(s string) scpi.Dialect {
	switch strings.ToLower(s) {
	case "func":
		return scpi.DialectFunc
	case "conf":
		return scpi.DialectConf
	default:
		return scpi.DialectUnknown
	}
}

// Apply dispatches payload by id (spec §4.7's "invoke the device
// command processor with the payload"). Unknown IDs are reported, not
// treated as fatal, so the caller can keep draining the coalesced
// batch.
func (p *Processor) Apply(id uint32, payload []byte) error {
	var err error
	switch id {
	case canframe.RlyCtrl:
		err = p.applyRelay(payload)
	case canframe.LoadCtrl:
		err = p.applyELoad(payload)
	case canframe.AFGCtrl:
		err = p.applyAFGPrimary(payload)
	case canframe.AFGCtrlExt:
		err = p.applyAFGExt(payload)
	case canframe.MMeterCtrl:
		err = p.applyDMMLegacy(payload)
	case canframe.MMeterCtrlExt:
		err = p.applyDMMExt(payload)
	case canframe.MrSignalCtrl:
		err = p.applyMrSignal(payload)
	default:
		err = lgerr.New(lgerr.Bug, "devcmd", fmt.Errorf("unrecognized control id 0x%08X", id))
	}
	if err != nil {
		p.diag.Record("devcmd", err)
	}
	return err
}

// formatFixed1 renders v the way the instrument's setpoint commands
// do: the shortest decimal representation, but never a bare integer
// (spec §8 worked examples: "CURR 1.0", "RES 2.0", "SOUR1:AMPL 2.0").
func formatFixed1(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// formatBare renders v without forcing a decimal point (spec §8:
// "SOUR1:FREQ 100", ":VOLTage:DC:NPLCycles 10").
func formatBare(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ---- Relay ----

func (p *Processor) applyRelay(data []byte) error {
	cmd, err := canframe.DecodeRelay(data)
	if err != nil {
		return lgerr.New(lgerr.Protocol, "devcmd.relay", err)
	}
	s := &p.hw.Relay
	s.Lock()
	defer s.Unlock()

	drive := cmd.Drive != p.relayInvert
	if s.Known && s.LastDrive == drive {
		return nil
	}
	if s.Handle == nil {
		return lgerr.New(lgerr.Config, "devcmd.relay", fmt.Errorf("no relay backend configured"))
	}
	if err := s.Handle.SetDrive(drive); err != nil {
		return lgerr.New(lgerr.IO, "devcmd.relay", err)
	}
	s.LastDrive = drive
	s.Known = true
	return nil
}

// IdleRelay drives the relay to its configured idle level (spec
// §4.10).
func (p *Processor) IdleRelay() error {
	s := &p.hw.Relay
	s.Lock()
	defer s.Unlock()
	if s.Handle == nil {
		return nil
	}
	if s.Known && s.LastDrive == p.relayIdleDrive {
		return nil
	}
	if err := s.Handle.SetDrive(p.relayIdleDrive); err != nil {
		return lgerr.New(lgerr.IO, "devcmd.relay", err)
	}
	s.LastDrive = p.relayIdleDrive
	s.Known = true
	return nil
}

// ---- E-load ----

func (p *Processor) applyELoad(data []byte) error {
	cmd, err := canframe.DecodeELoad(data)
	if err != nil {
		return lgerr.New(lgerr.Protocol, "devcmd.eload", err)
	}
	s := &p.hw.ELoad
	s.Lock()
	defer s.Unlock()
	if s.Handle == nil {
		return lgerr.New(lgerr.Config, "devcmd.eload", fmt.Errorf("no e-load link configured"))
	}

	type write struct{ cmd string }
	var seq []write

	// Disable first (spec §3 invariant).
	if !cmd.Enable && (!s.Known || s.LastEnable) {
		seq = append(seq, write{"INP OFF"})
	}

	if !s.Known || s.LastMode != cmd.Mode {
		if cmd.Mode == canframe.ELoadResistance {
			seq = append(seq, write{"FUNC RES"})
		} else {
			seq = append(seq, write{"FUNC CURR"})
		}
	}

	switch {
	case cmd.Short && (!s.Known || !s.LastShort):
		seq = append(seq, write{"INP:SHOR ON"})
	case !cmd.Short && s.Known && s.LastShort:
		seq = append(seq, write{"INP:SHOR OFF"})
	}

	// Only the active mode's setpoint is written (spec §3 invariant).
	if cmd.Mode == canframe.ELoadResistance {
		if !s.Known || s.LastResistance != cmd.ResistanceMOhm {
			seq = append(seq, write{"RES " + formatFixed1(float64(cmd.ResistanceMOhm)/1000.0)})
		}
	} else {
		if !s.Known || s.LastCurrentMA != cmd.CurrentMA {
			seq = append(seq, write{"CURR " + formatFixed1(float64(cmd.CurrentMA)/1000.0)})
		}
	}

	// Enable last (spec §3 invariant).
	if cmd.Enable && (!s.Known || !s.LastEnable) {
		seq = append(seq, write{"INP ON"})
	}

	for _, w := range seq {
		if err := s.Handle.Write(w.cmd, scpi.WriteOpts{}); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.eload", err)
		}
	}

	s.Known = true
	s.LastEnable = cmd.Enable
	s.LastMode = cmd.Mode
	s.LastShort = cmd.Short
	s.LastCurrentMA = cmd.CurrentMA
	s.LastResistance = cmd.ResistanceMOhm
	return nil
}

// IdleELoad disables the output and short (spec §4.10).
func (p *Processor) IdleELoad() error {
	s := &p.hw.ELoad
	s.Lock()
	defer s.Unlock()
	if s.Handle == nil {
		return nil
	}
	if s.Known && !s.LastEnable && !s.LastShort {
		return nil
	}
	if err := s.Handle.Write("INP OFF", scpi.WriteOpts{}); err != nil {
		return lgerr.New(lgerr.IO, "devcmd.eload", err)
	}
	if err := s.Handle.Write("INP:SHOR OFF", scpi.WriteOpts{}); err != nil {
		return lgerr.New(lgerr.IO, "devcmd.eload", err)
	}
	s.Known = true
	s.LastEnable = false
	s.LastShort = false
	return nil
}

// ---- AFG primary/extended ----

func afgShapeToken(sh canframe.AFGShape) string {
	switch sh {
	case canframe.AFGSquare:
		return "SQU"
	case canframe.AFGRamp:
		return "RAMP"
	default:
		return "SIN"
	}
}

// writeWithFallback tries primary, and on I/O error tries fallback,
// matching spec §4.8's "toggle output (OUTP1 ON|OFF with fallback to
// SOUR1:OUTP)" and "offset via SOUR1:DCO (fallback SOUR1:VOLT:OFFS)".
func writeWithFallback(link *scpi.Link, primary, fallback string) error {
	if err := link.Write(primary, scpi.WriteOpts{}); err != nil {
		return link.Write(fallback, scpi.WriteOpts{})
	}
	return nil
}

func (p *Processor) applyAFGPrimary(data []byte) error {
	cmd, err := canframe.DecodeAFGPrimary(data)
	if err != nil {
		return lgerr.New(lgerr.Protocol, "devcmd.afg", err)
	}
	s := &p.hw.AFG
	s.Lock()
	defer s.Unlock()
	if s.Handle == nil {
		return lgerr.New(lgerr.Config, "devcmd.afg", fmt.Errorf("no AFG link configured"))
	}

	if !s.Known || s.LastEnable != cmd.Enable {
		onOff := "OFF"
		if cmd.Enable {
			onOff = "ON"
		}
		if err := writeWithFallback(s.Handle, "OUTP1 "+onOff, "SOUR1:OUTP "+onOff); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.afg", err)
		}
	}
	if !s.Known || s.LastShape != cmd.Shape {
		if err := s.Handle.Write("SOUR1:FUNC "+afgShapeToken(cmd.Shape), scpi.WriteOpts{}); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.afg", err)
		}
	}
	if !s.Known || s.LastFreqHz != cmd.FreqHz {
		if err := s.Handle.Write(fmt.Sprintf("SOUR1:FREQ %d", cmd.FreqHz), scpi.WriteOpts{}); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.afg", err)
		}
	}
	if !s.Known || s.LastAmplMVpp != cmd.AmplMVpp {
		if err := s.Handle.Write("SOUR1:AMPL "+formatFixed1(float64(cmd.AmplMVpp)/1000.0), scpi.WriteOpts{}); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.afg", err)
		}
	}

	s.Known = true
	s.LastEnable = cmd.Enable
	s.LastShape = cmd.Shape
	s.LastFreqHz = cmd.FreqHz
	s.LastAmplMVpp = cmd.AmplMVpp
	return nil
}

func (p *Processor) applyAFGExt(data []byte) error {
	cmd, err := canframe.DecodeAFGExt(data)
	if err != nil {
		return lgerr.New(lgerr.Protocol, "devcmd.afg", err)
	}
	s := &p.hw.AFG
	s.Lock()
	defer s.Unlock()
	if s.Handle == nil {
		return lgerr.New(lgerr.Config, "devcmd.afg", fmt.Errorf("no AFG link configured"))
	}

	if !s.ExtKnown || s.LastOffsetMV != cmd.OffsetMV {
		v := formatFixed1(float64(cmd.OffsetMV) / 1000.0)
		if err := writeWithFallback(s.Handle, "SOUR1:DCO "+v, "SOUR1:VOLT:OFFS "+v); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.afg", err)
		}
	}
	if !s.ExtKnown || s.LastDutyPct != cmd.DutyPct {
		if err := s.Handle.Write(fmt.Sprintf("SOUR1:SQU:DCYC %d", cmd.DutyPct), scpi.WriteOpts{}); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.afg", err)
		}
	}

	s.ExtKnown = true
	s.LastOffsetMV = cmd.OffsetMV
	s.LastDutyPct = cmd.DutyPct
	if p.tx != nil {
		p.tx.SetAFGExt(hwstate.AFGExtReadback{OffsetMV: int64(cmd.OffsetMV), DutyPct: cmd.DutyPct})
	}
	return nil
}

// IdleAFG turns the output off (spec §4.10).
func (p *Processor) IdleAFG() error {
	s := &p.hw.AFG
	s.Lock()
	defer s.Unlock()
	if s.Handle == nil {
		return nil
	}
	if s.Known && !s.LastEnable {
		return nil
	}
	if err := writeWithFallback(s.Handle, "OUTP1 OFF", "SOUR1:OUTP OFF"); err != nil {
		return lgerr.New(lgerr.IO, "devcmd.afg", err)
	}
	s.Known = true
	s.LastEnable = false
	return nil
}

// ---- DMM legacy/extended ----

var dmmFuncByByte = []string{"VDC", "VAC", "IDC", "IAC", "RES", "FRES", "FREQ", "CONT", "DIOD"}

func dmmFuncFor(code byte, current string) (string, bool) {
	if code == canframe.DMMCurrentFunc {
		if current == "" {
			return "VDC", true
		}
		return current, true
	}
	if int(code) >= len(dmmFuncByByte) {
		return "", false
	}
	return dmmFuncByByte[code], true
}

func (p *Processor) markQuiet(s *hwstate.MMeterState) {
	s.QuietUntil = time.Now().Add(p.mmeterSettle)
}

func (p *Processor) applyDMMLegacy(data []byte) error {
	cmd, err := canframe.DecodeDMMLegacy(data)
	if err != nil {
		return lgerr.New(lgerr.Protocol, "devcmd.mmeter", err)
	}
	s := &p.hw.MMeter
	s.Lock()
	defer s.Unlock()
	if s.Handle == nil {
		return lgerr.New(lgerr.Config, "devcmd.mmeter", fmt.Errorf("no DMM link configured"))
	}

	fn := "VDC"
	if cmd.Mode == 1 {
		fn = "IDC"
	}

	changed := !s.LegacyApplied || s.LastLegacyMode != cmd.Mode || s.LastLegacyRange != cmd.Range
	if !changed {
		return nil
	}

	if s.CurrentFunc != fn {
		res, err := scpi.SetFunction(s.Handle, fn, scpi.ChannelPrimary, s.Dialect, p.mmeterDialectOverride)
		if err != nil {
			return lgerr.New(lgerr.Instrument, "devcmd.mmeter", err)
		}
		s.Dialect = res.Succeeded
		s.CurrentFunc = fn
	}

	if p.mmeterLegacyRange {
		autoCmd := ":RANGe:AUTO OFF"
		if cmd.Range == 0 {
			autoCmd = ":RANGe:AUTO ON"
		}
		if s.Dialect == scpi.DialectConf {
			autoCmd = "CONF:RANGE:AUTO " + strings.TrimPrefix(autoCmd, ":RANGe:AUTO ")
		}
		if err := s.Handle.Write(autoCmd, scpi.WriteOpts{}); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.mmeter", err)
		}
	}

	s.LegacyApplied = true
	s.LastLegacyMode = cmd.Mode
	s.LastLegacyRange = cmd.Range
	p.markQuiet(s)
	return nil
}

func (p *Processor) applyDMMExt(data []byte) error {
	cmd, err := canframe.DecodeDMMExt(data)
	if err != nil {
		return lgerr.New(lgerr.Protocol, "devcmd.mmeter", err)
	}
	s := &p.hw.MMeter
	s.Lock()
	defer s.Unlock()
	if s.Handle == nil {
		return lgerr.New(lgerr.Config, "devcmd.mmeter", fmt.Errorf("no DMM link configured"))
	}

	switch cmd.Op {
	case canframe.DMMOpSetFunc:
		fn, ok := dmmFuncFor(cmd.Arg0, s.CurrentFunc)
		if !ok {
			return lgerr.New(lgerr.Protocol, "devcmd.mmeter", fmt.Errorf("unsupported function code 0x%02X", cmd.Arg0))
		}
		if fn == s.CurrentFunc {
			return nil
		}
		res, err := scpi.SetFunction(s.Handle, fn, scpi.ChannelPrimary, s.Dialect, p.mmeterDialectOverride)
		if err != nil {
			return lgerr.New(lgerr.Instrument, "devcmd.mmeter", err)
		}
		s.Dialect = res.Succeeded
		s.CurrentFunc = fn
		p.markQuiet(s)

	case canframe.DMMOpAutorange:
		on := cmd.Arg1 != 0
		val := "OFF"
		if on {
			val = "ON"
		}
		if err := s.Handle.Write(":RANGe:AUTO "+val, scpi.WriteOpts{}); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.mmeter", err)
		}
		p.markQuiet(s)

	case canframe.DMMOpRange:
		if math.IsNaN(float64(cmd.Float)) || math.IsInf(float64(cmd.Float), 0) {
			return lgerr.New(lgerr.Protocol, "devcmd.mmeter", fmt.Errorf("range requires a finite value, got %v", cmd.Float))
		}
		if err := s.Handle.Write(":RANGe "+formatFixed1(float64(cmd.Float)), scpi.WriteOpts{}); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.mmeter", err)
		}
		p.markQuiet(s)

	case canframe.DMMOpNPLC:
		q := quantizeNPLC(float64(cmd.Float))
		if err := s.Handle.Write(fmt.Sprintf(":%s:NPLCycles %s", funcSubsystemToken(s.CurrentFunc), formatBare(q)), scpi.WriteOpts{}); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.mmeter", err)
		}
		s.NPLC = q
		s.NPLCKnown = true
		p.markQuiet(s)

	case canframe.DMMOpSecondaryEnable:
		on := cmd.Arg0 != 0
		val := "0"
		if on {
			val = "1"
		}
		if err := s.Handle.Write(":FUNCtion2:STATe "+val, scpi.WriteOpts{}); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.mmeter", err)
		}
		s.SecondaryEnabled = on
		p.markQuiet(s)

	case canframe.DMMOpSecondaryFunc:
		fn, ok := dmmFuncFor(cmd.Arg0, s.SecondaryFunc)
		if !ok {
			return lgerr.New(lgerr.Protocol, "devcmd.mmeter", fmt.Errorf("unsupported function code 0x%02X", cmd.Arg0))
		}
		if !s.SecondaryEnabled {
			if err := s.Handle.Write(":FUNCtion2:STATe 1", scpi.WriteOpts{}); err != nil {
				return lgerr.New(lgerr.IO, "devcmd.mmeter", err)
			}
			s.SecondaryEnabled = true
		}
		if _, err := scpi.SetFunction(s.Handle, fn, scpi.ChannelSecondary, scpi.DialectUnknown, p.mmeterDialectOverride); err != nil {
			return lgerr.New(lgerr.Instrument, "devcmd.mmeter", err)
		}
		s.SecondaryFunc = fn
		p.markQuiet(s)

	case canframe.DMMOpTrigSource:
		tok, ok := map[byte]string{0: "IMM", 1: "BUS", 2: "MAN"}[cmd.Arg0]
		if !ok {
			return lgerr.New(lgerr.Protocol, "devcmd.mmeter", fmt.Errorf("unsupported trigger source 0x%02X", cmd.Arg0))
		}
		if err := s.Handle.Write("TRIGger:SOURce "+tok, scpi.WriteOpts{}); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.mmeter", err)
		}
		s.TrigSource = cmd.Arg0

	case canframe.DMMOpBusTrigger:
		if err := s.Handle.Write("*TRG", scpi.WriteOpts{}); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.mmeter", err)
		}

	case canframe.DMMOpRelativeEnable:
		on := cmd.Arg0 != 0
		val := "0"
		if on {
			val = "1"
		}
		if err := s.Handle.Write("CALCulate:NULL:STATe "+val, scpi.WriteOpts{}); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.mmeter", err)
		}
		s.RelativeEnabled = on

	case canframe.DMMOpRelativeAcquire:
		if err := s.Handle.Write("CALCulate:NULL:IMMediate", scpi.WriteOpts{}); err != nil {
			return lgerr.New(lgerr.IO, "devcmd.mmeter", err)
		}

	default:
		return lgerr.New(lgerr.Protocol, "devcmd.mmeter", fmt.Errorf("unrecognized DMM op 0x%02X", cmd.Op))
	}
	return nil
}

// quantizeNPLC rounds v to the nearest of {0.1, 1.0, 10.0} (spec §4.8,
// §8 worked example 4: 9.0 ⇒ 10).
func quantizeNPLC(v float64) float64 {
	candidates := [3]float64{0.1, 1.0, 10.0}
	best := candidates[0]
	bestDist := math.Abs(v - best)
	for _, c := range candidates[1:] {
		if d := math.Abs(v - c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// funcSubsystemToken approximates the FUNC-style subsystem mnemonic
// for a logical function name, for building NPLCycles/other
// subsystem-qualified commands. This intentionally mirrors the
// scpi package's own (unexported) table rather than importing it.
func funcSubsystemToken(fn string) string {
	switch fn {
	case "VAC":
		return "VOLTage:AC"
	case "IDC":
		return "CURRent:DC"
	case "IAC":
		return "CURRent:AC"
	case "RES":
		return "RESistance"
	case "FRES":
		return "FRESistance"
	case "FREQ":
		return "FREQuency"
	case "CONT":
		return "CONTinuity"
	case "DIOD":
		return "DIODe"
	default:
		return "VOLTage:DC"
	}
}

// ---- MrSignal ----

func mrSelectFor(mode canframe.MrSignalMode) modbus.OutputSelect {
	switch mode {
	case canframe.MrSignalMA:
		return modbus.SelectMA
	case canframe.MrSignalVolts:
		return modbus.SelectV
	case canframe.MrSignalMV:
		return modbus.SelectMV
	case canframe.MrSignal24V:
		return modbus.Select24V
	default:
		return modbus.SelectV
	}
}

func (p *Processor) applyMrSignal(data []byte) error {
	cmd, err := canframe.DecodeMrSignal(data)
	if err != nil {
		return lgerr.New(lgerr.Protocol, "devcmd.mrsignal", err)
	}
	if !canframe.ValidMrSignalModes[cmd.Mode] {
		return lgerr.New(lgerr.Protocol, "devcmd.mrsignal", fmt.Errorf("unsupported mode %d", cmd.Mode))
	}

	s := &p.hw.MrSignal
	s.Lock()
	defer s.Unlock()
	if s.Handle == nil {
		return lgerr.New(lgerr.Config, "devcmd.mrsignal", fmt.Errorf("no MrSignal client configured"))
	}

	value := cmd.Value
	if cmd.Mode == canframe.MrSignalMA {
		if v := float64(value); v > p.mrMaxMA {
			value = float32(p.mrMaxMA)
		} else if v < 0 {
			value = 0
		}
	} else {
		if v := float64(value); v > p.mrMaxVolts {
			value = float32(p.mrMaxVolts)
		} else if v < 0 {
			value = 0
		}
	}

	if s.Known && s.LastEnable == cmd.Enable && s.LastMode == cmd.Mode && s.LastValue == value {
		return nil
	}

	if err := s.Handle.SetOutput(cmd.Enable, mrSelectFor(cmd.Mode), value); err != nil {
		return lgerr.New(lgerr.IO, "devcmd.mrsignal", err)
	}
	s.Known = true
	s.LastEnable = cmd.Enable
	s.LastMode = cmd.Mode
	s.LastValue = value
	if p.tx != nil {
		p.tx.SetMrSignalStatus(hwstate.MrSignalStatus{On: cmd.Enable, Mode: byte(cmd.Mode), Value: value})
	}
	return nil
}

// IdleMrSignal turns the output off (spec §4.10).
func (p *Processor) IdleMrSignal() error {
	s := &p.hw.MrSignal
	s.Lock()
	defer s.Unlock()
	if s.Handle == nil {
		return nil
	}
	if s.Known && !s.LastEnable {
		return nil
	}
	if err := s.Handle.SetOutput(false, mrSelectFor(s.LastMode), s.LastValue); err != nil {
		return lgerr.New(lgerr.IO, "devcmd.mrsignal", err)
	}
	s.Known = true
	s.LastEnable = false
	if p.tx != nil {
		p.tx.SetMrSignalStatus(hwstate.MrSignalStatus{On: false, Mode: byte(s.LastMode), Value: s.LastValue})
	}
	return nil
}

// IdleMMeter is a no-op: the watchdog's idle action for the DMM is
// "none" (spec §4.10).
func (p *Processor) IdleMMeter() error { return nil }
