// Package modbus implements the Modbus-RTU client for the MrSignal
// process-signal source, including its float byte-order
// auto-detection and caching (spec §4.2).
package modbus

// Holding-register map (spec §4.2).
const (
	RegID               uint16 = 0  // u16, read-only
	RegOutputOn         uint16 = 20 // u16, r/w
	RegOutputSelect     uint16 = 21 // u16, r/w
	RegOutputValueFloat uint16 = 30 // f32 (2 registers), r/w
	RegInputValueFloat  uint16 = 14 // f32 (2 registers), read-only
)

// OutputSelect encodes REG_OUTPUT_SELECT (spec §4.2).
type OutputSelect uint16

const (
	SelectMA    OutputSelect = 0
	SelectV     OutputSelect = 1
	SelectXMT   OutputSelect = 2
	SelectPulse OutputSelect = 3
	SelectMV    OutputSelect = 4
	SelectR     OutputSelect = 5
	Select24V   OutputSelect = 6
)
