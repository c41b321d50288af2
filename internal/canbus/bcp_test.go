package canbus

import "testing"

func TestChecksumXOR(t *testing.T) {
	data := []byte{0x00, 0x00, 0x01, 0x7F, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	length := byte(len(data) + 1) // + CMD byte
	cmd := opDataRX29
	chk := checksum(bcpSOF, length, cmd, data)

	got := bcpSOF ^ length ^ cmd
	for _, b := range data {
		got ^= b
	}
	if chk != got {
		t.Fatalf("checksum mismatch: %#x vs %#x", chk, got)
	}
}

func TestParseFrameE2E(t *testing.T) {
	// spec §8 scenario 6: CMD=0x02 (opDataTX29) — the gateway decodes
	// this the same as the RX-tagged opcode, since both arrive inbound
	// on this read loop regardless of which direction the sender meant.
	data := []byte{0x00, 0x00, 0x01, 0x7F, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	length := byte(len(data) + 1)
	chk := checksum(bcpSOF, length, opDataTX29, data)
	stream := append([]byte{bcpSOF, length, opDataTX29}, data...)
	stream = append(stream, chk, bcpEOF)

	frame, rest, ok := tryParseFrame(stream)
	if !ok {
		t.Fatal("expected a complete frame")
	}
	if len(rest) != 0 {
		t.Errorf("expected no trailing bytes, got %d", len(rest))
	}
	if frame == nil {
		t.Fatal("expected non-nil frame")
	}
	if !frame.Extended {
		t.Error("expected extended ID")
	}
	if frame.ID != 0x0000017F {
		t.Errorf("ID = %#x, want 0x17F", frame.ID)
	}
	want := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	if string(frame.Data) != string(want) {
		t.Errorf("data = % x, want % x", frame.Data, want)
	}
}

func TestParseFrameResyncsOnBadChecksum(t *testing.T) {
	data := []byte{0x01, 0x02}
	length := byte(len(data) + 1)
	badChk := checksum(bcpSOF, length, opDataRX11, data) ^ 0xFF
	corrupt := append([]byte{bcpSOF, length, opDataRX11}, data...)
	corrupt = append(corrupt, badChk, bcpEOF)

	// A valid frame follows right after the corrupted one.
	good := []byte{0x03, 0x04}
	glen := byte(len(good) + 1)
	gchk := checksum(bcpSOF, glen, opDataRX11, good)
	validFrame := append([]byte{bcpSOF, glen, opDataRX11}, good...)
	validFrame = append(validFrame, gchk, bcpEOF)

	stream := append(append([]byte{}, corrupt...), validFrame...)

	var frames []*ParsedFrame
	for {
		f, rest, ok := tryParseFrame(stream)
		if !ok {
			break
		}
		stream = rest
		if f != nil {
			frames = append(frames, f)
		}
	}
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame to survive resync, got %d", len(frames))
	}
	if frames[0].ID != 0x0304 {
		t.Errorf("expected the valid frame, got %v", frames[0])
	}
}

func TestParseFrameNeedsMoreBytes(t *testing.T) {
	partial := []byte{bcpSOF, 0x05, opDataRX11, 0x01}
	_, rest, ok := tryParseFrame(partial)
	if ok {
		t.Fatal("expected incomplete frame to report not-ok")
	}
	if len(rest) != len(partial) {
		t.Error("incomplete frame should not consume bytes")
	}
}

func TestIDByteOrderBigEndian(t *testing.T) {
	got := idToBytes(0x0000017F, true)
	want := []byte{0x00, 0x00, 0x01, 0x7F}
	if string(got) != string(want) {
		t.Errorf("idToBytes = % x, want % x", got, want)
	}
}
