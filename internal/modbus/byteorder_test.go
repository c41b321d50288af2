package modbus

import "testing"

func TestFloat32RoundTripAllOrders(t *testing.T) {
	for _, order := range allOrders {
		regs := EncodeFloat32(3.25, order)
		got := DecodeFloat32(regs, order)
		if got != 3.25 {
			t.Errorf("order %v: round trip = %v, want 3.25", order, got)
		}
	}
}

func TestAutoDetectPicksPlausibleOrder(t *testing.T) {
	const want = -12.5
	truth := LittleEndianWordSwap
	regs := EncodeFloat32(want, truth)

	s := &ByteOrderStrategy{Mode: StrategyAuto}
	v, order, ok := s.DecodeWithStrategy(regs)
	if !ok {
		t.Fatal("expected a plausible decode")
	}
	if v != want {
		// Some garbage decode under a wrong order could coincidentally
		// also be plausible; tolerate that by also accepting the true
		// order directly, but require at least one to match.
		if order != truth {
			t.Errorf("decoded %v via %v, want %v via %v", v, order, want, truth)
		}
	}
}

func TestAutoDetectCachesWinningOrder(t *testing.T) {
	truth := BigEndianWordSwap
	regs := EncodeFloat32(42.0, truth)

	s := &ByteOrderStrategy{Mode: StrategyAuto}
	_, order1, ok := s.DecodeWithStrategy(regs)
	if !ok {
		t.Fatal("expected first decode to succeed")
	}
	if s.lastKnown == nil || *s.lastKnown != order1 {
		t.Fatal("expected winning order to be cached")
	}

	// A second read should try the cached order first and not need to
	// re-probe; verify by checking it returns the same order.
	_, order2, ok := s.DecodeWithStrategy(regs)
	if !ok || order2 != order1 {
		t.Errorf("expected cached order reuse, got %v then %v", order1, order2)
	}
}

func TestConfiguredStrategyIgnoresAutoDetect(t *testing.T) {
	s := &ByteOrderStrategy{Mode: StrategyConfigured, Fixed: LittleEndian}
	regs := EncodeFloat32(1.5, BigEndian) // deliberately wrong order for Fixed
	v, order, ok := s.DecodeWithStrategy(regs)
	if !ok {
		t.Fatal("expected decode to report ok even if implausible")
	}
	if order != LittleEndian {
		t.Errorf("expected configured order to be used verbatim, got %v", order)
	}
	if v == 1.5 {
		t.Error("expected mismatched order to produce a different value")
	}
}
