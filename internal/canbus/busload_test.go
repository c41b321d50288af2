package canbus

import (
	"testing"
	"time"
)

func TestBusLoadMeterClampAndCounts(t *testing.T) {
	base := time.Unix(1000, 0)
	now = func() time.Time { return base }
	defer func() { now = time.Now }()

	m := NewBusLoadMeter(500_000, time.Second, 0)
	for i := 0; i < 10; i++ {
		m.RecordRX(8)
	}
	for i := 0; i < 5; i++ {
		m.RecordTX(8)
	}
	snap := m.Snapshot()
	if snap.LoadPct < 0 || snap.LoadPct > 100 {
		t.Errorf("load pct out of range: %v", snap.LoadPct)
	}
	if snap.RxFPS != 10 {
		t.Errorf("rx fps = %v, want 10", snap.RxFPS)
	}
	if snap.TxFPS != 5 {
		t.Errorf("tx fps = %v, want 5", snap.TxFPS)
	}
}

func TestBusLoadMeterWindowExpiry(t *testing.T) {
	base := time.Unix(2000, 0)
	now = func() time.Time { return base }
	defer func() { now = time.Now }()

	m := NewBusLoadMeter(500_000, time.Second, 0)
	m.RecordRX(8)

	now = func() time.Time { return base.Add(2 * time.Second) }
	snap := m.Snapshot()
	if snap.RxFPS != 0 {
		t.Errorf("expected stale samples pruned, got rx fps %v", snap.RxFPS)
	}
}

func TestBusLoadMeterExtremeClamp(t *testing.T) {
	base := time.Unix(3000, 0)
	now = func() time.Time { return base }
	defer func() { now = time.Now }()

	m := NewBusLoadMeter(1, time.Second, 0) // absurdly low bitrate forces >100%
	for i := 0; i < 100; i++ {
		m.RecordRX(8)
	}
	snap := m.Snapshot()
	if snap.LoadPct != 100 {
		t.Errorf("load pct = %v, want clamped to 100", snap.LoadPct)
	}
}
