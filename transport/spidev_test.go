package transport

import (
	"bytes"
	"errors"
	"testing"

	"github.com/BertoldVdb/spinor/spinor"
	"github.com/BertoldVdb/spinor/spinor/chipdb"
	"github.com/BertoldVdb/spinor/spinor/emulator"
	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrogolib/log"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
)

// emuConn is a periph SPI connection with an emulated flash chip on the bus.
type emuConn struct {
	emu     *emulator.Chip
	maxTx   int
	packets [][]spi.Packet
}

func (c *emuConn) String() string       { return "emu" }
func (c *emuConn) Duplex() conn.Duplex  { return conn.Half }
func (c *emuConn) MaxTxSize() int       { return c.maxTx }
func (c *emuConn) Tx(w, r []byte) error { return c.TxPackets([]spi.Packet{{W: w, R: r}}) }

func (c *emuConn) TxPackets(p []spi.Packet) error {
	c.packets = append(c.packets, p)

	var cmd spinor.Command
	for _, pkt := range p {
		cmd.Write = append(cmd.Write, pkt.W...)
		if len(pkt.R) > 0 {
			cmd.Read = pkt.R
		}
	}
	return c.emu.Tx(spinor.Transaction{cmd})
}

func TestSPI(t *testing.T) {
	emu, err := emulator.New(emulator.W25Q128FV, emulator.WithTiming(emulator.Timing{}))
	assert.NoError(t, err)

	var wp []bool
	c := &emuConn{emu: emu, maxTx: 64}
	s := NewSPI(c, nil, func(protect bool) error {
		wp = append(wp, protect)
		return nil
	})
	assert.Equal(t, 59, s.MaxRead())

	chip, err := chipdb.Detect(s, log.NewTestLogger(t))
	assert.NoError(t, err)
	assert.Equal(t, "W25Q128FV", chip.Info().Name)

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i * 3)
	}
	assert.NoError(t, chip.Write(data, 0x1000))

	buf := make([]byte, len(data))
	assert.NoError(t, chip.Read(buf, 0x1000))
	assert.True(t, bytes.Equal(data, buf))

	for _, p := range c.packets {
		n := 0
		for _, pkt := range p {
			n += len(pkt.W) + len(pkt.R)
		}
		assert.True(t, n <= 64)
		assert.Equal(t, len(p) == 2, p[0].KeepCS)
		assert.False(t, p[len(p)-1].KeepCS)
	}

	assert.NoError(t, chip.Close())
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Equal(t, 1, len(wp))
	assert.True(t, wp[0])

	err = s.Tx(spinor.Transaction{{Write: []byte{0x05}, Read: make([]byte, 1)}})
	assert.True(t, errors.Is(err, spinor.ErrClosed))
}

func TestSPILimit(t *testing.T) {
	emu, err := emulator.New(emulator.W25Q128FV)
	assert.NoError(t, err)

	s := NewSPI(&emuConn{emu: emu}, nil, nil)
	assert.Equal(t, defaultMaxTx-cmdHeader, s.MaxWrite())

	err = s.Tx(spinor.Transaction{{Write: []byte{0x03, 0, 0, 0}, Read: make([]byte, defaultMaxTx)}})
	assert.True(t, errors.Is(err, spinor.ErrProgrammer))
}
