package canframe

import (
	"encoding/binary"
	"math"
)

// EncodeMeterLegacy packs a u16 milliamp reading, clamped to
// [0, 0xFFFF] per spec §8.
func EncodeMeterLegacy(milliamps int64) []byte {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, clampU16(milliamps))
	return out
}

func DecodeMeterLegacy(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, &ErrShort{"meter_legacy", len(data), 2}
	}
	return binary.LittleEndian.Uint16(data[:2]), nil
}

// EncodeMeterExt packs primary/secondary float32 readings; NaN is
// used for "absent" per spec §3.
func EncodeMeterExt(primary, secondary float32) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint32(out[0:4], math.Float32bits(primary))
	binary.LittleEndian.PutUint32(out[4:8], math.Float32bits(secondary))
	return out
}

// MeterStatusFlags bit-positions for EncodeMeterStatus.
const (
	MeterFlagAutorange byte = 1 << 0
	MeterFlagRelative  byte = 1 << 1
	MeterFlagOverload  byte = 1 << 2
	MeterFlagSecondary byte = 1 << 3
)

func EncodeMeterStatus(fn byte, flags byte) []byte {
	return []byte{fn, flags}
}

// EncodeELoadReadback packs the e-load's measured volts/current.
func EncodeELoadReadback(milliVolts, milliAmps int64) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint16(out[0:2], clampU16(milliVolts))
	binary.LittleEndian.PutUint16(out[2:4], clampU16(milliAmps))
	return out
}

// EncodeAFGExtReadback mirrors the AFGCtrlExt wire shape for readback.
func EncodeAFGExtReadback(offsetMV int64, dutyPct byte) []byte {
	out := make([]byte, 3)
	binary.LittleEndian.PutUint16(out[0:2], uint16(clampI16(offsetMV)))
	out[2] = clampDuty(dutyPct)
	return out
}

// EncodeMrSignalStatus packs the MrSignal's commanded on/mode/value.
func EncodeMrSignalStatus(on bool, mode MrSignalMode, value float32) []byte {
	out := make([]byte, 6)
	if on {
		out[0] = 1
	}
	out[1] = byte(mode)
	binary.LittleEndian.PutUint32(out[2:6], math.Float32bits(value))
	return out
}

// EncodeMrSignalInput packs the MrSignal's measured process value.
func EncodeMrSignalInput(value float32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, math.Float32bits(value))
	return out
}
