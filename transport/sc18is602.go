package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BertoldVdb/spinor/spinor"
	"github.com/BertoldVdb/spinor/transport/mcp2221a"
	"github.com/retroenv/retrogolib/log"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
)

// I2CFunc performs an I²C write of tx followed by a read into rx. Either may
// be empty. ack is false when the target did not respond, which the bridge
// does while it is still shifting data.
type I2CFunc func(tx []byte, rx []byte) (ack bool, err error)

const (
	sc18BufferSize = 200
	sc18Configure  = 0xf0

	// sc18ClockFast selects MSB first, SPI mode 0 and the 1843 kHz clock.
	sc18ClockFast = 0x00
)

// SC18IS602 carries commands over an NXP SC18IS602 I²C to SPI bridge. Every
// command is one frame on the selected slave select output, limited by the
// 200 byte bridge buffer.
type SC18IS602 struct {
	spinor.SleepDelay

	mu      sync.Mutex
	i2c     I2CFunc
	ss      byte
	wp      WriteProtectFunc
	release func() error
	log     *log.Logger
	closed  bool
}

// NewSC18IS602 configures the bridge and returns a transport using slave
// select output ss. release is called by Close after the chip is protected.
func NewSC18IS602(f I2CFunc, ss byte, wp WriteProtectFunc, release func() error, logger *log.Logger) (*SC18IS602, error) {
	if ss > 3 {
		return nil, fmt.Errorf("invalid slave select %d", ss)
	}

	b := &SC18IS602{
		i2c:     f,
		ss:      ss,
		wp:      wp,
		release: release,
		log:     logger,
	}

	if err := b.i2cTxfrRetry([]byte{sc18Configure, sc18ClockFast}, nil); err != nil {
		return nil, fmt.Errorf("failed to configure bridge: %w", err)
	}

	if wp != nil {
		if err := wp(false); err != nil {
			return nil, err
		}
	}

	return b, nil
}

func (b *SC18IS602) i2cTxfrRetry(tx []byte, rx []byte) error {
	timeout := time.Now().Add(time.Second)

	for time.Now().Before(timeout) {
		ack, err := b.i2c(tx, rx)

		if err != nil {
			return err
		}

		if ack {
			return nil
		}
	}

	if b.log != nil {
		b.log.Warn("No ACK from bridge", log.Int("tx", len(tx)), log.Int("rx", len(rx)))
	}
	return errors.New("no ACK received")
}

func (b *SC18IS602) frame(cmd spinor.Command) error {
	n := len(cmd.Write) + len(cmd.Read)
	if n > sc18BufferSize {
		return &spinor.ProgrammerError{Op: "sc18is602", Msg: fmt.Sprintf("frame of %d bytes exceeds bridge buffer", n)}
	}

	tx := make([]byte, 1+n)
	tx[0] = 1 << b.ss
	copy(tx[1:], cmd.Write)

	if err := b.i2cTxfrRetry(tx, nil); err != nil {
		return err
	}

	if len(cmd.Read) == 0 {
		return nil
	}

	rx := make([]byte, n)
	if err := b.i2cTxfrRetry(nil, rx); err != nil {
		return err
	}
	copy(cmd.Read, rx[len(cmd.Write):])
	return nil
}

func (b *SC18IS602) Tx(t spinor.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return spinor.ErrClosed
	}

	for _, cmd := range t {
		if err := b.frame(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (b *SC18IS602) MaxRead() int {
	return sc18BufferSize - cmdHeader
}

// MaxWrite keeps program chunks a power of two so they never straddle a page
// more than once.
func (b *SC18IS602) MaxWrite() int {
	return 128
}

func (b *SC18IS602) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if b.wp != nil {
		err = b.wp(true)
	}
	if b.release != nil {
		err = errors.Join(err, b.release())
	}
	return err
}

// OpenUSB opens an SC18IS602 behind an MCP2221A USB bridge. GP0 of the
// MCP2221A drives WP#.
func OpenUSB(serial string, addr uint8, logger *log.Logger) (*SC18IS602, error) {
	dev, err := mcp2221a.Open(mcp2221a.VID, mcp2221a.PID, serial)
	if err != nil {
		return nil, err
	}

	i2cTxfr := func(tx []byte, rx []byte) (bool, error) {
		fixNack := func(err error) (bool, error) {
			if errors.Is(err, mcp2221a.ErrNACK) {
				return false, nil
			}
			return false, err
		}

		if len(tx) > 0 {
			if err := dev.I2CWrite(true, addr, tx); err != nil {
				return fixNack(err)
			}
		}

		if len(rx) > 0 {
			rxData, err := dev.I2CRead(addr, len(rx))
			if err != nil {
				return fixNack(err)
			}

			copy(rx, rxData)
		}

		return true, nil
	}

	wp := func(protect bool) error {
		if protect {
			return dev.GPIOSet(0, 0)
		}
		return dev.GPIOSet(0, 1)
	}

	b, err := NewSC18IS602(i2cTxfr, 0, wp, dev.Close, logger)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to initialize bridge via USB: %w", err)
	}

	logger.Info("Opened SC18IS602 via MCP2221A", log.String("serial", serial), log.Hex("address", addr))
	return b, nil
}

// OpenPlatform opens an SC18IS602 on a host I²C bus.
func OpenPlatform(busID string, wpPin string, addr uint8, logger *log.Logger) (*SC18IS602, error) {
	if err := initHost(); err != nil {
		return nil, err
	}

	wp, err := gpioWriteProtect(wpPin)
	if err != nil {
		return nil, err
	}

	bus, err := i2creg.Open(busID)
	if err != nil {
		return nil, fmt.Errorf("could not open bus: %w", err)
	}

	dev := conn.Conn(&i2c.Dev{Bus: bus, Addr: uint16(addr)})

	i2cTxfr := func(tx []byte, rx []byte) (bool, error) {
		err := dev.Tx(tx, rx)

		if err != nil {
			if strings.Contains(err.Error(), "input/output") {
				err = nil
			} else if strings.Contains(err.Error(), "no such device") {
				err = nil
			}
			return false, err
		}

		return true, nil
	}

	b, err := NewSC18IS602(i2cTxfr, 0, wp, bus.Close, logger)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize bridge: %w", err)
	}

	logger.Info("Opened SC18IS602", log.String("bus", busID), log.Hex("address", addr))
	return b, nil
}
