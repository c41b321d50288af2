package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load(MapSource{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.CAN.Interface != CANSocketCAN {
		t.Errorf("default CAN interface = %q, want socketcan", c.CAN.Interface)
	}
	if c.CAN.BitrateHz != 500000 {
		t.Errorf("default bitrate = %d", c.CAN.BitrateHz)
	}
	if c.Timeouts.Control != 5*time.Second {
		t.Errorf("default control timeout = %v", c.Timeouts.Control)
	}
	if c.Timeouts.AFG != c.Timeouts.Control {
		t.Errorf("per-device timeout should default to control timeout")
	}
}

func TestLoadHexAndHumanInt(t *testing.T) {
	c, err := Load(MapSource{
		"CAN_BITRATE": "0x1388",
		"K1_ON_BYTE":  "17",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.CAN.BitrateHz != 0x1388 {
		t.Errorf("hex bitrate parse = %d", c.CAN.BitrateHz)
	}
	if c.Relay.OnByte != 17 {
		t.Errorf("decimal byte parse = %d", c.Relay.OnByte)
	}
}

func TestLoadBoolVariants(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", "on"} {
		c, err := Load(MapSource{"CAN_SETUP": v})
		if err != nil || !c.CAN.Setup {
			t.Errorf("CAN_SETUP=%q: got %v, err %v", v, c.CAN.Setup, err)
		}
	}
	for _, v := range []string{"0", "false", "NO", "off"} {
		c, err := Load(MapSource{"CAN_SETUP": v})
		if err != nil || c.CAN.Setup {
			t.Errorf("CAN_SETUP=%q: got %v, err %v", v, c.CAN.Setup, err)
		}
	}
}

func TestLoadRejectsUnknownEnum(t *testing.T) {
	if _, err := Load(MapSource{"CAN_INTERFACE": "bogus"}); err == nil {
		t.Error("expected error for unsupported CAN_INTERFACE")
	}
	if _, err := Load(MapSource{"K1_BACKEND": "bogus"}); err == nil {
		t.Error("expected error for unsupported K1_BACKEND")
	}
}
