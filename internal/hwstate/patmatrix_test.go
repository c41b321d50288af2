package hwstate

import "testing"

func TestPATMatrixSetAndSnapshot(t *testing.T) {
	m := NewPATMatrix()
	m.SetLabels([]string{"Conn0Pin", "Conn1Pin"})
	m.SetPAT(2, [12]byte{1, 2, 3})

	conns, labels := m.Snapshot()
	if len(conns) != 6 {
		t.Fatalf("len(conns) = %d, want 6", len(conns))
	}
	if !conns[2].Seen || conns[2].Fields[0] != 1 || conns[2].Fields[1] != 2 {
		t.Errorf("conns[2] = %+v", conns[2])
	}
	if conns[0].Seen {
		t.Error("connector 0 should be unseen")
	}
	if len(labels) != 2 || labels[0] != "Conn0Pin" {
		t.Errorf("labels = %v", labels)
	}
}

func TestPATMatrixIgnoresOutOfRangeConnector(t *testing.T) {
	m := NewPATMatrix()
	m.SetPAT(99, [12]byte{1})
	conns, _ := m.Snapshot()
	for _, c := range conns {
		if c.Seen {
			t.Fatal("no connector should be marked seen")
		}
	}
}
