// Package mcp2221a talks to the I²C and GPIO functions of a Microchip MCP2221A
// USB bridge over its HID interface.
//
// Datasheet: http://ww1.microchip.com/downloads/en/devicedoc/20005565b.pdf
package mcp2221a

// Based on: https://github.com/ardnew/mcp2221a
// MIT License
//
// Copyright (c) 2020 ardnew
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

import (
	"errors"
	"fmt"
	"time"

	usb "github.com/karalabe/hid"
)

const (
	VID = 0x04D8 // Microchip Technology Inc.
	PID = 0x00DD // MCP2221A
)

// MsgSz is the size of all command and response reports.
const MsgSz = 64

const (
	WordSet byte = 0xFF
	WordClr byte = 0x00
)

const (
	cmdStatus    byte = 0x10
	cmdSetParams byte = 0x10

	cmdI2CWrite       byte = 0x90
	cmdI2CWriteNoStop byte = 0x94
	cmdI2CRead        byte = 0x91
	cmdI2CReadGetData byte = 0x40

	cmdGPIOSet byte = 0x50
)

// GPPinCount is the number of GPIO pins available.
const GPPinCount = 4

const dirOutput byte = 0x00

const (
	i2cReadMax  = 60
	i2cWriteMax = 60

	// The state values below are not all in the datasheet, they come from
	// Adafruit's Blinka mcp2221 driver.
	i2cStateStartTimeout    byte = 0x12
	i2cStateRepStartTimeout byte = 0x17
	i2cStateStopTimeout     byte = 0x62
	i2cStateAddrTimeout     byte = 0x23
	i2cStateAddrNACK        byte = 0x25
	i2cStatePartialData     byte = 0x41
	i2cStateWriteTimeout    byte = 0x44
	i2cStateWritingNoStop   byte = 0x45
	i2cStateReadTimeout     byte = 0x52
	i2cStateReadPartial     byte = 0x54
	i2cStateReadComplete    byte = 0x55
	i2cStateReadError       byte = 0x7F

	i2cRetry = 50
)

var (
	// ErrNACK is returned when the addressed I²C target did not acknowledge.
	ErrNACK = errors.New("I²C NACK")

	ErrI2CTimeout = errors.New("I²C timed out")

	ErrNoDevice = errors.New("no MCP2221A found")
)

// pollInterval is the wait between two status reads while the bridge is busy.
var pollInterval = 300 * time.Microsecond

// hidDevice is the part of a HID handle the driver uses.
type hidDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

type MCP2221A struct {
	dev hidDevice
}

func makeMsg() []byte { return make([]byte, MsgSz) }

// AttachedDevices returns all MCP2221A devices with the given USB identifiers.
func AttachedDevices(vid uint16, pid uint16) []usb.DeviceInfo {
	return usb.Enumerate(vid, pid)
}

// Open opens the device with the given serial number, or the first one found
// when serial is empty.
func Open(vid uint16, pid uint16, serial string) (*MCP2221A, error) {
	for _, m := range AttachedDevices(vid, pid) {
		if m.Serial == serial || serial == "" {
			dev, err := m.Open()
			if err != nil {
				return nil, err
			}
			return newFromDev(dev), nil
		}
	}

	return nil, ErrNoDevice
}

func newFromDev(dev hidDevice) *MCP2221A {
	return &MCP2221A{dev: dev}
}

func (mcp *MCP2221A) Close() error {
	if mcp.dev == nil {
		return nil
	}
	err := mcp.dev.Close()
	mcp.dev = nil
	return err
}

// send transmits a command report and waits for the response. The response is
// returned together with the error when the device reported a failure.
func (mcp *MCP2221A) send(cmd byte, data []byte) ([]byte, error) {
	if mcp.dev == nil {
		return nil, errors.New("device closed")
	}

	data[0] = cmd
	if _, err := mcp.dev.Write(data); err != nil {
		return nil, fmt.Errorf("write cmd 0x%02x: %w", cmd, err)
	}

	rsp := makeMsg()
	recv, err := mcp.dev.Read(rsp)
	if err != nil {
		return nil, fmt.Errorf("read cmd 0x%02x: %w", cmd, err)
	}
	if recv < MsgSz {
		return rsp, fmt.Errorf("read cmd 0x%02x: short read (%d of %d bytes)", cmd, recv, MsgSz)
	}
	if rsp[0] != cmd || rsp[1] != WordClr {
		return rsp, fmt.Errorf("cmd 0x%02x failed", cmd)
	}

	return rsp, nil
}

type status struct {
	i2cCancel byte
	i2cState  byte
}

func parseStatus(msg []byte) status {
	return status{
		i2cCancel: msg[2],
		i2cState:  msg[8],
	}
}

func (mcp *MCP2221A) status() (status, error) {
	rsp, err := mcp.send(cmdStatus, makeMsg())
	if err != nil {
		return status{}, err
	}
	return parseStatus(rsp), nil
}

func i2cStateTimeout(state byte) bool {
	switch state {
	case i2cStateStartTimeout, i2cStateRepStartTimeout, i2cStateStopTimeout,
		i2cStateReadTimeout, i2cStateWriteTimeout, i2cStateAddrTimeout:
		return true
	}
	return false
}

func i2cStateError(state byte, addr uint8) error {
	if state == i2cStateAddrNACK {
		return fmt.Errorf("address 0x%02x: %w", addr, ErrNACK)
	}
	if i2cStateTimeout(state) {
		return fmt.Errorf("address 0x%02x: %w", addr, ErrI2CTimeout)
	}
	return nil
}

// Cancel aborts any I²C transfer that is still in progress.
func (mcp *MCP2221A) Cancel() error {
	cmd := makeMsg()
	cmd[2] = 0x10

	rsp, err := mcp.send(cmdSetParams, cmd)
	if err != nil {
		return err
	}
	if parseStatus(rsp).i2cCancel == 0x10 {
		time.Sleep(pollInterval)
	}
	return nil
}

func (mcp *MCP2221A) idle() error {
	stat, err := mcp.status()
	if err != nil {
		return err
	}
	if stat.i2cState != WordClr && stat.i2cState != i2cStateWritingNoStop {
		return mcp.Cancel()
	}
	return nil
}

// I2CWrite writes out to the target at addr. When stop is false the bus is
// left active for a following read.
func (mcp *MCP2221A) I2CWrite(stop bool, addr uint8, out []byte) error {
	if len(out) == 0 {
		return nil
	}
	if len(out) > 0xffff {
		return fmt.Errorf("I²C write of %d bytes too long", len(out))
	}

	if err := mcp.idle(); err != nil {
		return err
	}

	cmdID := cmdI2CWrite
	if !stop {
		cmdID = cmdI2CWriteNoStop
	}

	cnt := len(out)
	for pos := 0; pos < cnt; {
		sz := min(cnt-pos, i2cWriteMax)

		cmd := makeMsg()
		cmd[1] = byte(cnt)
		cmd[2] = byte(cnt >> 8)
		cmd[3] = addr << 1
		copy(cmd[4:], out[pos:pos+sz])

		sent := false
		for retry := 0; retry < i2cRetry && !sent; retry++ {
			rsp, err := mcp.send(cmdID, cmd)
			if err != nil {
				if rsp == nil {
					return err
				}
				if err := i2cStateError(rsp[2], addr); err != nil {
					return err
				}
				time.Sleep(pollInterval)
				continue
			}

			for {
				stat, err := mcp.status()
				if err != nil || stat.i2cState != i2cStatePartialData {
					break
				}
				time.Sleep(pollInterval)
			}
			sent = true
		}
		if !sent {
			return errors.New("I²C write: too many retries")
		}
		pos += sz
	}

	for retry := 0; retry < i2cRetry; retry++ {
		stat, err := mcp.status()
		if err != nil {
			return err
		}
		if stat.i2cState == WordClr {
			return nil
		}
		if !stop && stat.i2cState == i2cStateWritingNoStop {
			return nil
		}
		if err := i2cStateError(stat.i2cState, addr); err != nil {
			return err
		}
		time.Sleep(pollInterval)
	}

	return nil
}

// I2CRead reads n bytes from the target at addr.
func (mcp *MCP2221A) I2CRead(addr uint8, n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	if n > 0xffff {
		return nil, fmt.Errorf("I²C read of %d bytes too long", n)
	}

	if err := mcp.idle(); err != nil {
		return nil, err
	}

	cmd := makeMsg()
	cmd[1] = byte(n)
	cmd[2] = byte(n >> 8)
	cmd[3] = addr<<1 | 0x01

	if _, err := mcp.send(cmdI2CRead, cmd); err != nil {
		return nil, err
	}

	in := make([]byte, n)
	for pos := 0; pos < n; {
		var rsp []byte
		done := false

		for retry := 0; retry < i2cRetry && !done; retry++ {
			var err error
			if rsp, err = mcp.send(cmdI2CReadGetData, makeMsg()); err != nil {
				return nil, err
			}

			switch {
			case rsp[1] == i2cStatePartialData || rsp[3] == i2cStateReadError:
				time.Sleep(pollInterval)
			case rsp[2] == i2cStateAddrNACK:
				return nil, i2cStateError(rsp[2], addr)
			case rsp[2] == WordClr && rsp[3] == 0,
				rsp[2] == i2cStateReadPartial,
				rsp[2] == i2cStateReadComplete:
				done = true
			}
		}
		if !done {
			return nil, errors.New("I²C read: too many retries")
		}

		sz := min(n-pos, i2cReadMax)
		copy(in[pos:], rsp[4:4+sz])
		pos += sz
	}

	return in, nil
}

// GPIOSet drives a GPIO pin as an output with the given value.
func (mcp *MCP2221A) GPIOSet(pin byte, val byte) error {
	if pin >= GPPinCount {
		return fmt.Errorf("invalid GPIO pin: %d", pin)
	}

	cmd := makeMsg()
	i := 2 + 4*pin
	cmd[i+0] = WordSet
	cmd[i+1] = val
	cmd[i+2] = WordSet
	cmd[i+3] = dirOutput

	_, err := mcp.send(cmdGPIOSet, cmd)
	return err
}
