package hwstate

import "sync"

// opt is a small Option type: Present distinguishes "absent" from
// "zero" (spec §3).
type opt[T any] struct {
	Value   T
	Present bool
}

// MeterExt is the DMM's extended readback payload.
type MeterExt struct {
	Primary   float32
	Secondary float32 // NaN when absent, per spec §3
}

// MeterStatus is the DMM's status readback payload.
type MeterStatus struct {
	Func  byte
	Flags byte
}

// ELoadReadback is the e-load's measured volts/current.
type ELoadReadback struct {
	MilliVolts int64
	MilliAmps  int64
}

// AFGExtReadback mirrors the AFGCtrlExt wire shape.
type AFGExtReadback struct {
	OffsetMV int64
	DutyPct  byte
}

// MrSignalStatus is the MrSignal's commanded on/mode/value.
type MrSignalStatus struct {
	On    bool
	Mode  byte
	Value float32
}

// OutgoingTxState is the thread-safe container of Option-typed
// readback values the poller and device command processor write and
// the TX scheduler reads (spec §3). One mutex guards all fields;
// every accessor takes a short lock and returns or replaces a value
// by copy.
type OutgoingTxState struct {
	mu sync.Mutex

	meterLegacy   opt[uint16]
	meterExt      opt[MeterExt]
	meterStatus   opt[MeterStatus]
	eload         opt[ELoadReadback]
	afgExt        opt[AFGExtReadback]
	mrStatus      opt[MrSignalStatus]
	mrInput       opt[float32]
}

func NewOutgoingTxState() *OutgoingTxState { return &OutgoingTxState{} }

func (s *OutgoingTxState) SetMeterLegacy(v uint16) {
	s.mu.Lock()
	s.meterLegacy = opt[uint16]{Value: v, Present: true}
	s.mu.Unlock()
}

func (s *OutgoingTxState) ClearMeterLegacy() {
	s.mu.Lock()
	s.meterLegacy = opt[uint16]{}
	s.mu.Unlock()
}

func (s *OutgoingTxState) MeterLegacy() (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meterLegacy.Value, s.meterLegacy.Present
}

func (s *OutgoingTxState) SetMeterExt(v MeterExt) {
	s.mu.Lock()
	s.meterExt = opt[MeterExt]{Value: v, Present: true}
	s.mu.Unlock()
}

func (s *OutgoingTxState) ClearMeterExt() {
	s.mu.Lock()
	s.meterExt = opt[MeterExt]{}
	s.mu.Unlock()
}

func (s *OutgoingTxState) MeterExt() (MeterExt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meterExt.Value, s.meterExt.Present
}

func (s *OutgoingTxState) SetMeterStatus(v MeterStatus) {
	s.mu.Lock()
	s.meterStatus = opt[MeterStatus]{Value: v, Present: true}
	s.mu.Unlock()
}

func (s *OutgoingTxState) ClearMeterStatus() {
	s.mu.Lock()
	s.meterStatus = opt[MeterStatus]{}
	s.mu.Unlock()
}

func (s *OutgoingTxState) MeterStatus() (MeterStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meterStatus.Value, s.meterStatus.Present
}

func (s *OutgoingTxState) SetELoad(v ELoadReadback) {
	s.mu.Lock()
	s.eload = opt[ELoadReadback]{Value: v, Present: true}
	s.mu.Unlock()
}

func (s *OutgoingTxState) ClearELoad() {
	s.mu.Lock()
	s.eload = opt[ELoadReadback]{}
	s.mu.Unlock()
}

func (s *OutgoingTxState) ELoad() (ELoadReadback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eload.Value, s.eload.Present
}

func (s *OutgoingTxState) SetAFGExt(v AFGExtReadback) {
	s.mu.Lock()
	s.afgExt = opt[AFGExtReadback]{Value: v, Present: true}
	s.mu.Unlock()
}

func (s *OutgoingTxState) ClearAFGExt() {
	s.mu.Lock()
	s.afgExt = opt[AFGExtReadback]{}
	s.mu.Unlock()
}

func (s *OutgoingTxState) AFGExt() (AFGExtReadback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.afgExt.Value, s.afgExt.Present
}

func (s *OutgoingTxState) SetMrSignalStatus(v MrSignalStatus) {
	s.mu.Lock()
	s.mrStatus = opt[MrSignalStatus]{Value: v, Present: true}
	s.mu.Unlock()
}

func (s *OutgoingTxState) ClearMrSignalStatus() {
	s.mu.Lock()
	s.mrStatus = opt[MrSignalStatus]{}
	s.mu.Unlock()
}

func (s *OutgoingTxState) MrSignalStatus() (MrSignalStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mrStatus.Value, s.mrStatus.Present
}

func (s *OutgoingTxState) SetMrSignalInput(v float32) {
	s.mu.Lock()
	s.mrInput = opt[float32]{Value: v, Present: true}
	s.mu.Unlock()
}

func (s *OutgoingTxState) ClearMrSignalInput() {
	s.mu.Lock()
	s.mrInput = opt[float32]{}
	s.mu.Unlock()
}

func (s *OutgoingTxState) MrSignalInput() (float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mrInput.Value, s.mrInput.Present
}
