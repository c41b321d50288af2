package canframe

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ErrShort is returned by a decoder when the payload is shorter than
// the minimum the frame kind requires (spec §4.8 "validates minimum
// payload length").
type ErrShort struct {
	Kind string
	Got  int
	Want int
}

func (e *ErrShort) Error() string {
	return fmt.Sprintf("canframe: %s: payload too short: got %d bytes, want at least %d", e.Kind, e.Got, e.Want)
}

// RelayCmd is the decoded payload of RlyCtrl.
type RelayCmd struct {
	Drive bool
}

func DecodeRelay(data []byte) (RelayCmd, error) {
	if len(data) < 1 {
		return RelayCmd{}, &ErrShort{"relay", len(data), 1}
	}
	return RelayCmd{Drive: data[0]&0x01 != 0}, nil
}

func EncodeRelay(c RelayCmd) []byte {
	var b byte
	if c.Drive {
		b = 1
	}
	return []byte{b}
}

// ELoadMode is the e-load's operating mode.
type ELoadMode int

const (
	ELoadCurrent ELoadMode = 0
	ELoadResistance ELoadMode = 1
)

// ELoadCmd is the decoded payload of LoadCtrl.
type ELoadCmd struct {
	Enable     bool
	Mode       ELoadMode
	Short      bool
	CurrentMA  uint16
	ResistanceMOhm uint16
}

func DecodeELoad(data []byte) (ELoadCmd, error) {
	if len(data) < 6 {
		return ELoadCmd{}, &ErrShort{"eload", len(data), 6}
	}
	b0 := data[0]
	c := ELoadCmd{
		Enable: b0&0x0C == 0x04,
		Short:  b0&0xC0 == 0x40,
	}
	if b0&0x30 == 0x10 {
		c.Mode = ELoadResistance
	} else {
		c.Mode = ELoadCurrent
	}
	c.CurrentMA = binary.LittleEndian.Uint16(data[2:4])
	c.ResistanceMOhm = binary.LittleEndian.Uint16(data[4:6])
	return c, nil
}

func EncodeELoad(c ELoadCmd) []byte {
	var b0 byte
	if c.Enable {
		b0 |= 0x04
	}
	if c.Mode == ELoadResistance {
		b0 |= 0x10
	}
	if c.Short {
		b0 |= 0x40
	}
	out := make([]byte, 6)
	out[0] = b0
	binary.LittleEndian.PutUint16(out[2:4], clampU16CurrOrRes(int64(c.CurrentMA)))
	binary.LittleEndian.PutUint16(out[4:6], clampU16CurrOrRes(int64(c.ResistanceMOhm)))
	return out
}

func clampU16CurrOrRes(v int64) uint16 { return clampU16(v) }

// AFGShape is the AFG waveform shape.
type AFGShape byte

const (
	AFGSine   AFGShape = 0
	AFGSquare AFGShape = 1
	AFGRamp   AFGShape = 2
)

// AFGPrimaryCmd is the decoded payload of AFGCtrl.
type AFGPrimaryCmd struct {
	Enable    bool
	Shape     AFGShape
	FreqHz    uint32
	AmplMVpp  uint16
}

func DecodeAFGPrimary(data []byte) (AFGPrimaryCmd, error) {
	if len(data) < 8 {
		return AFGPrimaryCmd{}, &ErrShort{"afg_primary", len(data), 8}
	}
	return AFGPrimaryCmd{
		Enable:   data[0] != 0,
		Shape:    AFGShape(data[1]),
		FreqHz:   binary.LittleEndian.Uint32(data[2:6]),
		AmplMVpp: binary.LittleEndian.Uint16(data[6:8]),
	}, nil
}

func EncodeAFGPrimary(c AFGPrimaryCmd) []byte {
	out := make([]byte, 8)
	if c.Enable {
		out[0] = 1
	}
	out[1] = byte(c.Shape)
	binary.LittleEndian.PutUint32(out[2:6], c.FreqHz)
	binary.LittleEndian.PutUint16(out[6:8], clampU16(int64(c.AmplMVpp)))
	return out
}

// AFGExtCmd is the decoded payload of AFGCtrlExt.
type AFGExtCmd struct {
	OffsetMV int16
	DutyPct  byte
}

func DecodeAFGExt(data []byte) (AFGExtCmd, error) {
	if len(data) < 3 {
		return AFGExtCmd{}, &ErrShort{"afg_ext", len(data), 3}
	}
	c := AFGExtCmd{
		OffsetMV: int16(binary.LittleEndian.Uint16(data[0:2])),
		DutyPct:  data[2],
	}
	c.DutyPct = clampDuty(c.DutyPct)
	return c, nil
}

func clampDuty(d byte) byte {
	if d < 1 {
		return 1
	}
	if d > 99 {
		return 99
	}
	return d
}

func EncodeAFGExt(c AFGExtCmd) []byte {
	out := make([]byte, 3)
	binary.LittleEndian.PutUint16(out[0:2], uint16(clampI16(int64(c.OffsetMV))))
	out[2] = clampDuty(c.DutyPct)
	return out
}

// DMMLegacyCmd is the decoded payload of MMeterCtrl.
type DMMLegacyCmd struct {
	Mode  byte // 0=VDC, 1=IDC
	Range byte
}

func DecodeDMMLegacy(data []byte) (DMMLegacyCmd, error) {
	if len(data) < 2 {
		return DMMLegacyCmd{}, &ErrShort{"dmm_legacy", len(data), 2}
	}
	return DMMLegacyCmd{Mode: data[0], Range: data[1]}, nil
}

// DMMExtOp is the op-code tag of a DMM extended command.
type DMMExtOp byte

const (
	DMMOpSetFunc          DMMExtOp = 0x01
	DMMOpAutorange        DMMExtOp = 0x02
	DMMOpRange            DMMExtOp = 0x03
	DMMOpNPLC             DMMExtOp = 0x04
	DMMOpSecondaryEnable  DMMExtOp = 0x05
	DMMOpSecondaryFunc    DMMExtOp = 0x06
	DMMOpTrigSource       DMMExtOp = 0x07
	DMMOpBusTrigger       DMMExtOp = 0x08
	DMMOpRelativeEnable   DMMExtOp = 0x09
	DMMOpRelativeAcquire  DMMExtOp = 0x0A
)

// DMMCurrentFunc is the sentinel value of Arg0 meaning "current function".
const DMMCurrentFunc byte = 0xFF

// DMMExtCmd is the decoded payload of MMeterCtrlExt.
type DMMExtCmd struct {
	Op     DMMExtOp
	Arg0   byte
	Arg1   byte
	Arg2   byte
	Float  float32
}

func DecodeDMMExt(data []byte) (DMMExtCmd, error) {
	if len(data) < 8 {
		return DMMExtCmd{}, &ErrShort{"dmm_ext", len(data), 8}
	}
	bits := binary.LittleEndian.Uint32(data[4:8])
	return DMMExtCmd{
		Op:    DMMExtOp(data[0]),
		Arg0:  data[1],
		Arg1:  data[2],
		Arg2:  data[3],
		Float: math.Float32frombits(bits),
	}, nil
}

func EncodeDMMExt(c DMMExtCmd) []byte {
	out := make([]byte, 8)
	out[0] = byte(c.Op)
	out[1] = c.Arg0
	out[2] = c.Arg1
	out[3] = c.Arg2
	binary.LittleEndian.PutUint32(out[4:8], math.Float32bits(c.Float))
	return out
}

// MrSignalMode is the MrSignal output mode (REG_OUTPUT_SELECT).
type MrSignalMode byte

const (
	MrSignalMA     MrSignalMode = 0
	MrSignalVolts  MrSignalMode = 1
	MrSignalXMT    MrSignalMode = 2
	MrSignalPulse  MrSignalMode = 3
	MrSignalMV     MrSignalMode = 4
	MrSignalR      MrSignalMode = 5
	MrSignal24V    MrSignalMode = 6
)

// ValidMrSignalModes lists the modes the device command processor
// accepts (spec §3 "mode ∈ {0,1,4,6}"); REG_OUTPUT_SELECT itself
// supports the wider {0..6} range, but only this subset is reachable
// from the CAN control frame.
var ValidMrSignalModes = map[MrSignalMode]bool{
	MrSignalMA:    true,
	MrSignalVolts: true,
	MrSignalMV:    true,
	MrSignal24V:   true,
}

// MrSignalCmd is the decoded payload of MrSignalCtrl.
type MrSignalCmd struct {
	Enable bool
	Mode   MrSignalMode
	Value  float32
}

func DecodeMrSignal(data []byte) (MrSignalCmd, error) {
	if len(data) < 6 {
		return MrSignalCmd{}, &ErrShort{"mrsignal", len(data), 6}
	}
	bits := binary.LittleEndian.Uint32(data[2:6])
	return MrSignalCmd{
		Enable: data[0] != 0,
		Mode:   MrSignalMode(data[1]),
		Value:  math.Float32frombits(bits),
	}, nil
}

func EncodeMrSignal(c MrSignalCmd) []byte {
	out := make([]byte, 6)
	if c.Enable {
		out[0] = 1
	}
	out[1] = byte(c.Mode)
	binary.LittleEndian.PutUint32(out[2:6], math.Float32bits(c.Value))
	return out
}
