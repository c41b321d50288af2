package poller

import (
	"strings"
	"sync"
	"testing"
	"time"

	"labgateway.dev/labgw/internal/hwstate"
	"labgateway.dev/labgw/internal/modbus"
	"labgateway.dev/labgw/internal/scpi"
)

// queuedTransport serves canned response lines in order, regardless of
// what was written, so a test can script an exact query sequence.
type queuedTransport struct {
	mu        sync.Mutex
	sent      []string
	responses []string
	pending   string
}

func (f *queuedTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := strings.TrimRight(string(p), "\n")
	if s != "" {
		f.sent = append(f.sent, s)
	}
	if len(f.responses) > 0 {
		f.pending = f.responses[0] + "\r\n"
		f.responses = f.responses[1:]
	}
	return len(p), nil
}

func (f *queuedTransport) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == "" {
		return copy(p, "0,No error\r\n"), nil
	}
	n := copy(p, f.pending)
	f.pending = ""
	return n, nil
}

func (f *queuedTransport) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeRegisterIO struct {
	regs map[uint16][]byte
}

func (f *fakeRegisterIO) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	if b, ok := f.regs[address]; ok {
		return b, nil
	}
	return make([]byte, int(quantity)*2), nil
}
func (f *fakeRegisterIO) WriteSingleRegister(address, value uint16) ([]byte, error) { return nil, nil }
func (f *fakeRegisterIO) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	return nil, nil
}

type recordingDiag struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingDiag) Record(source string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingDiag) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func TestPollELoadWritesVoltsAndAmps(t *testing.T) {
	hw := hwstate.New()
	tr := &queuedTransport{responses: []string{"12.5", "0.75"}}
	hw.ELoad.Handle = scpi.Open("eload", tr)
	tx := hwstate.NewOutgoingTxState()
	diag := &recordingDiag{}
	p := New(hw, tx, time.Second, time.Second, diag)

	p.pollELoad()

	got, ok := tx.ELoad()
	if !ok {
		t.Fatal("expected ELoad readback present")
	}
	if got.MilliVolts != 12500 || got.MilliAmps != 750 {
		t.Errorf("got %+v, want {12500 750}", got)
	}
	if diag.count() != 0 {
		t.Errorf("unexpected diag records: %d", diag.count())
	}
	wantCmds := []string{"MEAS:VOLT?", "MEAS:CURR?"}
	if got := tr.lines(); !equalStrings(got, wantCmds) {
		t.Errorf("commands = %v, want %v", got, wantCmds)
	}
}

func TestPollELoadSkippedWhenHandleNil(t *testing.T) {
	hw := hwstate.New()
	tx := hwstate.NewOutgoingTxState()
	p := New(hw, tx, time.Second, time.Second, nil)
	p.pollELoad()
	if _, ok := tx.ELoad(); ok {
		t.Error("expected no readback without a handle")
	}
}

func TestPollDMMMeasurementSkippedWhileQuiet(t *testing.T) {
	hw := hwstate.New()
	tr := &queuedTransport{responses: []string{"5.0"}}
	hw.MMeter.Handle = scpi.Open("dmm", tr)
	hw.MMeter.SetQuietUntil(time.Now().Add(time.Hour))
	tx := hwstate.NewOutgoingTxState()
	p := New(hw, tx, time.Second, time.Second, nil)

	p.pollDMMMeasurement()

	if _, ok := tx.MeterExt(); ok {
		t.Error("expected no measurement while quiet")
	}
	if len(tr.lines()) != 0 {
		t.Errorf("expected no SCPI traffic while quiet, got %v", tr.lines())
	}
}

func TestPollDMMMeasurementWritesLegacyAndExt(t *testing.T) {
	hw := hwstate.New()
	tr := &queuedTransport{responses: []string{"0.125"}}
	hw.MMeter.Handle = scpi.Open("dmm", tr)
	hw.MMeter.Lock()
	hw.MMeter.CurrentFunc = "IDC"
	hw.MMeter.Unlock()
	tx := hwstate.NewOutgoingTxState()
	p := New(hw, tx, time.Second, time.Second, nil)

	p.pollDMMMeasurement()

	legacy, ok := tx.MeterLegacy()
	if !ok || legacy != 125 {
		t.Errorf("legacy = %v, %v, want 125, true", legacy, ok)
	}
	ext, ok := tx.MeterExt()
	if !ok || ext.Primary != 0.125 {
		t.Errorf("ext = %+v, %v, want Primary=0.125", ext, ok)
	}
}

func TestPollMrSignalInputWritesValue(t *testing.T) {
	hw := hwstate.New()
	regs := modbus.EncodeFloat32(3.3, modbus.LibraryDefault)
	fc := &fakeRegisterIO{regs: map[uint16][]byte{
		modbus.RegInputValueFloat: {byte(regs[0] >> 8), byte(regs[0]), byte(regs[1] >> 8), byte(regs[1])},
	}}
	hw.MrSignal.Handle = modbus.NewForTest(fc, modbus.ByteOrderStrategy{Mode: modbus.StrategyDefault})
	tx := hwstate.NewOutgoingTxState()
	p := New(hw, tx, time.Second, time.Second, nil)

	p.pollMrSignalInput()

	v, ok := tx.MrSignalInput()
	if !ok || v != 3.3 {
		t.Errorf("MrSignalInput = %v, %v, want 3.3, true", v, ok)
	}
}

func TestPollStatusRecordsInstrumentErrors(t *testing.T) {
	hw := hwstate.New()
	tr := &queuedTransport{responses: []string{"-222,Data out of range"}}
	hw.MMeter.Handle = scpi.Open("dmm", tr)
	hw.MMeter.Lock()
	hw.MMeter.CurrentFunc = "VDC"
	hw.MMeter.Unlock()
	tx := hwstate.NewOutgoingTxState()
	diag := &recordingDiag{}
	p := New(hw, tx, time.Second, time.Second, diag)

	p.pollStatus()

	status, ok := tx.MeterStatus()
	if !ok {
		t.Fatal("expected MeterStatus present")
	}
	if status.Func != dmmFuncCode("VDC") {
		t.Errorf("Func = %v, want %v", status.Func, dmmFuncCode("VDC"))
	}
	if diag.count() != 1 {
		t.Errorf("expected one diag record for the instrument error, got %d", diag.count())
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
