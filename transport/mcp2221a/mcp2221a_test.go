package mcp2221a

import (
	"bytes"
	"errors"
	"testing"

	"github.com/retroenv/retrogolib/assert"
)

// fakeHID answers reports like an MCP2221A with a single I²C target that
// echoes the last written bytes back on read.
type fakeHID struct {
	reports [][]byte
	pending []byte

	target  uint8
	written []byte
	nack    bool
	closed  bool
}

func (f *fakeHID) Write(b []byte) (int, error) {
	f.reports = append(f.reports, bytes.Clone(b))

	rsp := makeMsg()
	rsp[0] = b[0]

	switch b[0] {
	case cmdStatus:
	case cmdI2CWrite, cmdI2CWriteNoStop:
		if f.nack || b[3]>>1 != f.target {
			rsp[1] = 0x01
			rsp[2] = i2cStateAddrNACK
			break
		}
		cnt := int(b[1]) | int(b[2])<<8
		n := min(cnt-len(f.written), i2cWriteMax)
		f.written = append(f.written, b[4:4+n]...)
	case cmdI2CRead:
	case cmdI2CReadGetData:
		rsp[2] = i2cStateReadComplete
		n := min(len(f.written), i2cReadMax)
		rsp[3] = byte(n)
		copy(rsp[4:], f.written[:n])
		f.written = f.written[n:]
	case cmdGPIOSet:
	}

	f.pending = rsp
	return len(b), nil
}

func (f *fakeHID) Read(b []byte) (int, error) {
	return copy(b, f.pending), nil
}

func (f *fakeHID) Close() error {
	f.closed = true
	return nil
}

func newFake(t *testing.T) (*MCP2221A, *fakeHID) {
	t.Helper()
	pollInterval = 0
	f := &fakeHID{target: 0x28}
	return newFromDev(f), f
}

func TestI2CWriteRead(t *testing.T) {
	mcp, _ := newFake(t)

	data := make([]byte, 150)
	for i := range data {
		data[i] = byte(i)
	}

	assert.NoError(t, mcp.I2CWrite(true, 0x28, data))
	rx, err := mcp.I2CRead(0x28, len(data))
	assert.NoError(t, err)
	assert.True(t, bytes.Equal(data, rx))
}

func TestI2CWriteChunks(t *testing.T) {
	mcp, f := newFake(t)

	assert.NoError(t, mcp.I2CWrite(false, 0x28, make([]byte, 130)))

	writes := 0
	for _, r := range f.reports {
		if r[0] == cmdI2CWriteNoStop {
			writes++
			assert.Equal(t, byte(130), r[1])
			assert.Equal(t, byte(0x28<<1), r[3])
		}
	}
	assert.Equal(t, 3, writes)
}

func TestI2CNACK(t *testing.T) {
	mcp, _ := newFake(t)

	err := mcp.I2CWrite(true, 0x29, []byte{1})
	assert.True(t, errors.Is(err, ErrNACK))
}

func TestGPIOSet(t *testing.T) {
	mcp, f := newFake(t)

	assert.NoError(t, mcp.GPIOSet(2, 1))
	r := f.reports[len(f.reports)-1]
	assert.Equal(t, cmdGPIOSet, r[0])
	assert.Equal(t, WordSet, r[10])
	assert.Equal(t, byte(1), r[11])
	assert.Equal(t, WordSet, r[12])

	assert.Error(t, mcp.GPIOSet(GPPinCount, 1))
}

func TestClose(t *testing.T) {
	mcp, f := newFake(t)

	assert.NoError(t, mcp.Close())
	assert.True(t, f.closed)
	assert.NoError(t, mcp.Close())
	assert.Error(t, mcp.GPIOSet(0, 1))
}
