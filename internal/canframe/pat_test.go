package canframe

import "testing"

func TestPATRoundTrip(t *testing.T) {
	var fields [PATFieldCount]byte
	for i := range fields {
		fields[i] = byte(i % 4)
	}
	got, err := DecodePAT(EncodePAT(fields))
	if err != nil {
		t.Fatal(err)
	}
	if got != fields {
		t.Errorf("round trip mismatch: got %v, want %v", got, fields)
	}
}

func TestPATShortPayload(t *testing.T) {
	if _, err := DecodePAT([]byte{1, 2}); err == nil {
		t.Error("expected error for short PAT payload")
	}
}

func TestIsPATID(t *testing.T) {
	for i := 0; i < PATCount; i++ {
		id := PATJ0 + uint32(i)*PATStride
		idx, ok := IsPATID(id)
		if !ok || idx != i {
			t.Errorf("IsPATID(%x) = %d,%v want %d,true", id, idx, ok, i)
		}
	}
	if _, ok := IsPATID(PATJ0 + uint32(PATCount)*PATStride); ok {
		t.Error("expected out-of-range PAT id to be rejected")
	}
	if _, ok := IsPATID(PATJ0 + 5); ok {
		t.Error("expected misaligned PAT id to be rejected")
	}
}
