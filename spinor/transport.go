package spinor

import (
	"errors"
	"time"
)

// Command is a single chip select frame. Write is clocked out first, then
// len(Read) bytes are clocked in.
type Command struct {
	Write []byte
	Read  []byte
}

// Transaction is a list of commands that the transport must execute back to
// back without letting any other traffic in between.
type Transaction []Command

// Transport moves transactions to a flash chip.
type Transport interface {
	Tx(t Transaction) error
	Delay(d time.Duration)
}

var (
	// ErrIgnorable is returned (wrapped) by transports for reads that failed in a
	// way the caller may paper over, for example a region the controller refuses
	// to access.
	ErrIgnorable = errors.New("ignorable transfer error")

	// ErrInvalidAddress is returned when the controller rejects the address
	// field of a command.
	ErrInvalidAddress = errors.New("address rejected by controller")
)

// Limits can be implemented by transports that cap the payload size of a single command.
type Limits interface {
	MaxRead() int
	MaxWrite() int
}

type Quirk uint32

const (
	// QuirkNoAAI marks controllers that cannot send the address-less AAI
	// continuation command.
	QuirkNoAAI Quirk = 1 << iota
	// QuirkNoRDID4 marks controllers that cannot read four bytes after a one byte opcode.
	QuirkNoRDID4
)

type Quirker interface {
	Quirks() Quirk
}

// ValidReadAddresser is implemented by controllers that only allow some
// addresses on the bus, for example because of a protected range.
type ValidReadAddresser interface {
	ValidReadAddress() uint32
}

func transportQuirks(t Transport) Quirk {
	if q, ok := t.(Quirker); ok {
		return q.Quirks()
	}
	return 0
}

func transportLimits(t Transport) (int, int) {
	maxRead, maxWrite := 0, 0
	if l, ok := t.(Limits); ok {
		maxRead = l.MaxRead()
		maxWrite = l.MaxWrite()
	}
	return maxRead, maxWrite
}

// SleepDelay implements Transport.Delay with time.Sleep. Hardware transports embed it.
type SleepDelay struct{}

func (SleepDelay) Delay(d time.Duration) {
	time.Sleep(d)
}
