package dbc

import (
	"strings"
	"testing"
)

const sampleDBC = `VERSION ""

BU_: ECU Dashboard

BO_ 218 PAT_J0: 3 ECU
 SG_ Conn0Pin : 0|2@1+ (1,0) [0|3] "" Dashboard
 SG_ Conn1Pin : 2|2@1+ (1,0) [0|3] "" Dashboard
 SG_ Conn2Pin : 4|2@1+ (1,0) [0|3] "" Dashboard

BO_ 474 PAT_J1: 3 ECU
 SG_ OtherPin : 0|2@1+ (1,0) [0|3] "" Dashboard

CM_ BO_ 218 "switching matrix connector J0";
`

func TestParsePATJ0LabelsExtractsOnlyItsOwnBlock(t *testing.T) {
	labels, err := ParsePATJ0Labels(strings.NewReader(sampleDBC))
	if err != nil {
		t.Fatalf("ParsePATJ0Labels: %v", err)
	}
	want := []string{"Conn0Pin", "Conn1Pin", "Conn2Pin"}
	if len(labels) != len(want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("labels = %v, want %v", labels, want)
		}
	}
}

func TestParsePATJ0LabelsEmptyWhenMessageAbsent(t *testing.T) {
	labels, err := ParsePATJ0Labels(strings.NewReader("BO_ 1 SOMETHING_ELSE: 8 ECU\n SG_ X : 0|1@1+ (1,0) [0|1] \"\" ECU\n"))
	if err != nil {
		t.Fatalf("ParsePATJ0Labels: %v", err)
	}
	if len(labels) != 0 {
		t.Fatalf("labels = %v, want empty", labels)
	}
}
