package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BertoldVdb/spinor/spinor"
	"github.com/retroenv/retrogolib/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3/ftdi"
)

// ftdiMaxTx is the largest MPSSE transfer.
const ftdiMaxTx = 65536

// FTDI drives a flash chip from the MPSSE engine of an FT232H. The MPSSE
// driver cannot keep CS asserted across calls, so CS is a plain GPIO on D4
// and the SPI port is connected with NoCS.
//
//	D0 SCK, D1 MOSI, D2 MISO, D4 CS#, D5 WP#
type FTDI struct {
	spinor.SleepDelay

	mu     sync.Mutex
	ft     *ftdi.FT232H
	port   spi.PortCloser
	conn   spi.Conn
	cs     gpio.PinIO
	wp     gpio.PinIO
	closed bool
}

// OpenFTDI opens the index'th FT232H on the host.
func OpenFTDI(index int, khz int64, logger *log.Logger) (*FTDI, error) {
	if err := initHost(); err != nil {
		return nil, err
	}

	var found []*ftdi.FT232H
	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if ft, ok := dev.(*ftdi.FT232H); ok {
			logger.Debug("Found FTDI device", log.String("type", info.Type), log.Hex("vid", info.VenID), log.Hex("pid", info.DevID))
			found = append(found, ft)
		}
	}

	if index < 0 || index >= len(found) {
		return nil, fmt.Errorf("ftdi device %d not found, %d available", index, len(found))
	}

	f := &FTDI{
		ft: found[index],
	}
	f.cs = f.ft.D4
	f.wp = f.ft.D5

	port, err := f.ft.SPI()
	if err != nil {
		return nil, fmt.Errorf("failed to get SPI port: %w", err)
	}
	f.port = port

	// The MPSSE engine only supports mode 0 and mode 2.
	f.conn, err = port.Connect(physic.Frequency(khz)*physic.KiloHertz, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to connect SPI port: %w", err)
	}

	if err := f.cs.Out(gpio.High); err != nil {
		port.Close()
		return nil, err
	}
	if err := f.wp.Out(gpio.High); err != nil {
		port.Close()
		return nil, err
	}

	logger.Info("Opened FT232H", log.String("device", f.ft.String()), log.Int("khz", int(khz)))
	return f, nil
}

// frame wraps one command with CS assertion.
func (f *FTDI) frame(cmd spinor.Command) (err error) {
	if err = f.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := f.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()

	if len(cmd.Write) > 0 {
		if err = f.conn.Tx(cmd.Write, nil); err != nil {
			return err
		}
	}
	if len(cmd.Read) > 0 {
		err = f.conn.Tx(nil, cmd.Read)
	}
	return
}

func (f *FTDI) Tx(t spinor.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return spinor.ErrClosed
	}

	for _, cmd := range t {
		if err := f.frame(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (f *FTDI) MaxRead() int {
	return ftdiMaxTx
}

func (f *FTDI) MaxWrite() int {
	return ftdiMaxTx - cmdHeader
}

func (f *FTDI) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	return errors.Join(f.wp.Out(gpio.Low), f.port.Close())
}
