package canframe

import "testing"

func TestAFGPrimaryRoundTrip(t *testing.T) {
	cases := []AFGPrimaryCmd{
		{Enable: true, Shape: AFGRamp, FreqHz: 100, AmplMVpp: 2000},
		{Enable: false, Shape: AFGSine, FreqHz: 0, AmplMVpp: 0},
		{Enable: true, Shape: AFGSquare, FreqHz: 1_000_000, AmplMVpp: 0xFFFF},
	}
	for _, c := range cases {
		got, err := DecodeAFGPrimary(EncodeAFGPrimary(c))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != c {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, c)
		}
	}
}

func TestMeterLegacyClamp(t *testing.T) {
	cases := []struct {
		in   int64
		want uint16
	}{
		{-5, 0},
		{0, 0},
		{1234, 1234},
		{0xFFFF, 0xFFFF},
		{100000, 0xFFFF},
	}
	for _, c := range cases {
		got, err := DecodeMeterLegacy(EncodeMeterLegacy(c.in))
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("clamp(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestI16Clamp(t *testing.T) {
	cases := []struct {
		in   int64
		want int16
	}{
		{-40000, -32768},
		{-32768, -32768},
		{0, 0},
		{32767, 32767},
		{40000, 32767},
	}
	for _, c := range cases {
		if got := clampI16(c.in); got != c.want {
			t.Errorf("clampI16(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestAFGExtDutyClamp(t *testing.T) {
	cases := []struct {
		in   byte
		want byte
	}{
		{0, 1},
		{1, 1},
		{50, 50},
		{99, 99},
		{200, 99},
	}
	for _, c := range cases {
		got, err := DecodeAFGExt(EncodeAFGExt(AFGExtCmd{DutyPct: c.in}))
		if err != nil {
			t.Fatal(err)
		}
		if got.DutyPct != c.want {
			t.Errorf("duty clamp(%d) = %d, want %d", c.in, got.DutyPct, c.want)
		}
	}
}

func TestDecodeShortPayloads(t *testing.T) {
	if _, err := DecodeRelay(nil); err == nil {
		t.Error("expected error for empty relay payload")
	}
	if _, err := DecodeELoad([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short eload payload")
	}
	if _, err := DecodeAFGPrimary([]byte{1}); err == nil {
		t.Error("expected error for short afg payload")
	}
	if _, err := DecodeDMMExt([]byte{1, 2}); err == nil {
		t.Error("expected error for short dmm ext payload")
	}
	if _, err := DecodeMrSignal([]byte{1, 2}); err == nil {
		t.Error("expected error for short mrsignal payload")
	}
}

func TestELoadDecodeE2E(t *testing.T) {
	// scenario 1 from spec §8: 04 00 E8 03 00 00
	c, err := DecodeELoad([]byte{0x04, 0x00, 0xE8, 0x03, 0x00, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if !c.Enable || c.Mode != ELoadCurrent || c.Short || c.CurrentMA != 1000 {
		t.Errorf("got %+v", c)
	}

	// scenario 2: 50 00 00 00 D0 07
	c2, err := DecodeELoad([]byte{0x50, 0x00, 0x00, 0x00, 0xD0, 0x07})
	if err != nil {
		t.Fatal(err)
	}
	if c2.Enable || c2.Mode != ELoadResistance || !c2.Short || c2.ResistanceMOhm != 2000 {
		t.Errorf("got %+v", c2)
	}
}

func TestAFGPrimaryDecodeE2E(t *testing.T) {
	// scenario 3 from spec §8.
	c, err := DecodeAFGPrimary([]byte{0x01, 0x02, 0x64, 0x00, 0x00, 0x00, 0xD0, 0x07})
	if err != nil {
		t.Fatal(err)
	}
	if !c.Enable || c.Shape != AFGRamp || c.FreqHz != 100 || c.AmplMVpp != 2000 {
		t.Errorf("got %+v", c)
	}
}

func TestDMMExtNPLCDecodeE2E(t *testing.T) {
	// scenario 4 from spec §8: op=0x04, arg0=0xFF, f32=9.0.
	c, err := DecodeDMMExt([]byte{0x04, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x10, 0x41})
	if err != nil {
		t.Fatal(err)
	}
	if c.Op != DMMOpNPLC || c.Arg0 != DMMCurrentFunc || c.Float != 9.0 {
		t.Errorf("got %+v", c)
	}
}
