package modbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	goburrow "github.com/goburrow/modbus"
)

// registerIO is the narrow subset of goburrow/modbus's Client
// interface this package needs, so tests can substitute a fake.
type registerIO interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// Client is the MrSignal Modbus-RTU client.
type Client struct {
	io       registerIO
	closer   io.Closer
	slaveID  byte
	strategy ByteOrderStrategy
}

// Open opens a Modbus-RTU connection over port at baud, applying the
// given parity/stopBits, addressing slaveID, and using strategy for
// float register byte order (spec §4.2).
func Open(port string, baud int, parity string, stopBits int, slaveID byte, strategy ByteOrderStrategy, timeout time.Duration) (*Client, error) {
	handler := goburrow.NewRTUClientHandler(port)
	handler.BaudRate = baud
	handler.DataBits = 8
	handler.Parity = parity
	handler.StopBits = stopBits
	handler.SlaveId = slaveID
	handler.Timeout = timeout
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("modbus: open %s: %w", port, err)
	}
	return &Client{
		io:       goburrow.NewClient(handler),
		closer:   handler,
		slaveID:  slaveID,
		strategy: strategy,
	}, nil
}

// NewForTest builds a Client around an already-implemented register
// backend, bypassing Open's real RTU handshake. Exported for other
// packages' tests (e.g. devcmd) that need a MrSignal client without a
// serial port; production code always goes through Open.
func NewForTest(io registerIO, strategy ByteOrderStrategy) *Client {
	return &Client{io: io, strategy: strategy}
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// ReadID reads REG_ID.
func (c *Client) ReadID() (uint16, error) {
	raw, err := c.io.ReadHoldingRegisters(RegID, 1)
	if err != nil {
		return 0, fmt.Errorf("modbus: read id: %w", err)
	}
	return binary.BigEndian.Uint16(raw), nil
}

// ReadOutputState reads REG_OUTPUT_ON and REG_OUTPUT_SELECT.
func (c *Client) ReadOutputState() (on bool, sel OutputSelect, err error) {
	raw, err := c.io.ReadHoldingRegisters(RegOutputOn, 1)
	if err != nil {
		return false, 0, fmt.Errorf("modbus: read output_on: %w", err)
	}
	on = binary.BigEndian.Uint16(raw) != 0
	raw2, err := c.io.ReadHoldingRegisters(RegOutputSelect, 1)
	if err != nil {
		return on, 0, fmt.Errorf("modbus: read output_select: %w", err)
	}
	sel = OutputSelect(binary.BigEndian.Uint16(raw2))
	return on, sel, nil
}

// ReadOutputValue reads REG_OUTPUT_VALUE_FLOAT, applying the client's
// byte-order strategy.
func (c *Client) ReadOutputValue() (float32, error) {
	return c.readFloat(RegOutputValueFloat)
}

// ReadInputValue reads REG_INPUT_VALUE_FLOAT, applying the client's
// byte-order strategy (auto-detect caches the winning order for
// subsequent reads, spec §4.2).
func (c *Client) ReadInputValue() (float32, error) {
	return c.readFloat(RegInputValueFloat)
}

func (c *Client) readFloat(addr uint16) (float32, error) {
	raw, err := c.io.ReadHoldingRegisters(addr, 2)
	if err != nil {
		return 0, fmt.Errorf("modbus: read float @%d: %w", addr, err)
	}
	if len(raw) < 4 {
		return 0, fmt.Errorf("modbus: read float @%d: short response (%d bytes)", addr, len(raw))
	}
	regs := [2]uint16{binary.BigEndian.Uint16(raw[0:2]), binary.BigEndian.Uint16(raw[2:4])}
	v, _, ok := c.strategy.DecodeWithStrategy(regs)
	if !ok {
		return 0, fmt.Errorf("modbus: read float @%d: no byte order produced a plausible value", addr)
	}
	return v, nil
}

func (c *Client) writeFloat(addr uint16, v float32) error {
	order := c.strategy.EncodeOrder()
	regs := EncodeFloat32(v, order)
	var buf [4]byte
	binary.BigEndian.PutUint16(buf[0:2], regs[0])
	binary.BigEndian.PutUint16(buf[2:4], regs[1])
	_, err := c.io.WriteMultipleRegisters(addr, 2, buf[:])
	if err != nil {
		return fmt.Errorf("modbus: write float @%d: %w", addr, err)
	}
	return nil
}

func (c *Client) writeBool(addr uint16, v bool) error {
	var n uint16
	if v {
		n = 1
	}
	_, err := c.io.WriteSingleRegister(addr, n)
	if err != nil {
		return fmt.Errorf("modbus: write @%d: %w", addr, err)
	}
	return nil
}

func (c *Client) writeSelect(sel OutputSelect) error {
	_, err := c.io.WriteSingleRegister(RegOutputSelect, uint16(sel))
	if err != nil {
		return fmt.Errorf("modbus: write output_select: %w", err)
	}
	return nil
}

// SetOutput applies {enable, select, value} using the ordering policy
// from spec §4.2: disabling writes enable=0 first, then select, then
// value; enabling writes select, then value, then enable=1. This
// minimizes transient output states during a mode or value change.
func (c *Client) SetOutput(enable bool, sel OutputSelect, value float32) error {
	if !enable {
		if err := c.writeBool(RegOutputOn, false); err != nil {
			return err
		}
		if err := c.writeSelect(sel); err != nil {
			return err
		}
		return c.writeFloat(RegOutputValueFloat, value)
	}
	if err := c.writeSelect(sel); err != nil {
		return err
	}
	if err := c.writeFloat(RegOutputValueFloat, value); err != nil {
		return err
	}
	return c.writeBool(RegOutputOn, true)
}
