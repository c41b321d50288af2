package hwstate

import "testing"

func TestOutgoingTxStateAbsentDistinctFromZero(t *testing.T) {
	s := NewOutgoingTxState()
	if _, present := s.MeterLegacy(); present {
		t.Fatal("expected absent before any Set")
	}
	s.SetMeterLegacy(0)
	v, present := s.MeterLegacy()
	if !present || v != 0 {
		t.Errorf("expected present zero value, got %v present=%v", v, present)
	}
	s.ClearMeterLegacy()
	if _, present := s.MeterLegacy(); present {
		t.Error("expected absent after Clear")
	}
}

func TestOutgoingTxStateELoadRoundTrip(t *testing.T) {
	s := NewOutgoingTxState()
	s.SetELoad(ELoadReadback{MilliVolts: 1200, MilliAmps: 500})
	v, present := s.ELoad()
	if !present || v.MilliVolts != 1200 || v.MilliAmps != 500 {
		t.Errorf("got %+v present=%v", v, present)
	}
}
