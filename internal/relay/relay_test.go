package relay

import "testing"

func TestMockTracksDrive(t *testing.T) {
	m := NewMock()
	if m.GetDrive() {
		t.Fatal("expected initial drive to be off")
	}
	if err := m.SetDrive(true); err != nil {
		t.Fatal(err)
	}
	if !m.GetDrive() {
		t.Error("expected drive to be on")
	}
	level, ok := m.GetPinLevel()
	if !ok || !level {
		t.Errorf("GetPinLevel = %v, %v", level, ok)
	}
}

func TestDisabledDiscardsCommands(t *testing.T) {
	d := NewDisabled()
	if err := d.SetDrive(true); err != nil {
		t.Fatal(err)
	}
	if d.GetDrive() {
		t.Error("expected disabled backend to never report on")
	}
	if _, ok := d.GetPinLevel(); ok {
		t.Error("expected disabled backend to report no pin level")
	}
}
