package transport

import (
	"fmt"
	"io"
	"sync"

	"github.com/BertoldVdb/spinor/spinor"
	"github.com/retroenv/retrogolib/log"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

// cmdHeader is the longest opcode and address prefix in front of a payload.
const cmdHeader = 5

// defaultMaxTx is used when the driver does not report a limit. spidev
// defaults to 4096 bytes per transfer.
const defaultMaxTx = 4096

// SPI sends each command as a pair of packets on a periph SPI connection,
// keeping CS asserted between the write and the read half.
type SPI struct {
	spinor.SleepDelay

	mu     sync.Mutex
	conn   spi.Conn
	port   io.Closer
	wp     WriteProtectFunc
	maxTx  int
	closed bool
}

// NewSPI wraps an SPI connection. port and wp are optional.
func NewSPI(c spi.Conn, port io.Closer, wp WriteProtectFunc) *SPI {
	maxTx := 0
	switch l := c.(type) {
	case conn.Limits:
		maxTx = l.MaxTxSize()
	}

	if maxTx == 0 {
		maxTx = defaultMaxTx
	}

	return &SPI{
		conn:  c,
		port:  port,
		wp:    wp,
		maxTx: maxTx,
	}
}

func (s *SPI) Tx(t spinor.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return spinor.ErrClosed
	}

	for _, cmd := range t {
		if len(cmd.Write)+len(cmd.Read) > s.maxTx {
			return &spinor.ProgrammerError{Op: "spi", Msg: fmt.Sprintf("command of %d bytes exceeds %d byte transfer limit", len(cmd.Write)+len(cmd.Read), s.maxTx)}
		}

		pkts := make([]spi.Packet, 1, 2)
		pkts[0] = spi.Packet{W: cmd.Write, KeepCS: len(cmd.Read) > 0}
		if len(cmd.Read) > 0 {
			pkts = append(pkts, spi.Packet{R: cmd.Read})
		}

		if err := s.conn.TxPackets(pkts); err != nil {
			return err
		}
	}

	return nil
}

func (s *SPI) MaxRead() int {
	return s.maxTx - cmdHeader
}

func (s *SPI) MaxWrite() int {
	return s.maxTx - cmdHeader
}

// Close protects the chip again and releases the port.
func (s *SPI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.wp != nil {
		err = s.wp(true)
	}
	if s.port != nil {
		if cerr := s.port.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// OpenSPIDev opens a Linux spidev port through the periph registry.
func OpenSPIDev(name string, khz int64, wpPin string, logger *log.Logger) (*SPI, error) {
	if err := initHost(); err != nil {
		return nil, err
	}

	wp, err := gpioWriteProtect(wpPin)
	if err != nil {
		return nil, err
	}

	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("could not open spi port: %w", err)
	}

	c, err := port.Connect(physic.Frequency(khz)*physic.KiloHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("could not connect spi port: %w", err)
	}

	if wp != nil {
		if err := wp(false); err != nil {
			port.Close()
			return nil, err
		}
	}

	s := NewSPI(c, port, wp)
	logger.Info("Opened spidev", log.String("port", name), log.Int("maxTx", s.maxTx))
	return s, nil
}
