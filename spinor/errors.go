package spinor

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout             = errors.New("timeout waiting for chip")
	ErrProtectionPersisted = errors.New("block protection could not be disabled")
	ErrAddressOutOfRange   = errors.New("address out of range")
	ErrProgrammer          = errors.New("invalid use of flash operation")
	ErrClosed              = errors.New("chip session closed")
)

// AddressError reports an address that cannot be put on the wire or lies
// outside the chip.
type AddressError struct {
	Addr   uint32
	Length uint32
	Reason string
}

func (e *AddressError) Error() string {
	if e.Length > 0 {
		return fmt.Sprintf("address 0x%08x+0x%x: %s", e.Addr, e.Length, e.Reason)
	}
	return fmt.Sprintf("address 0x%08x: %s", e.Addr, e.Reason)
}

func (e *AddressError) Unwrap() error {
	return ErrAddressOutOfRange
}

// ProgrammerError is returned when an operation is called with arguments that
// can never be valid, before any bus traffic happens.
type ProgrammerError struct {
	Op  string
	Msg string
}

func (e *ProgrammerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *ProgrammerError) Unwrap() error {
	return ErrProgrammer
}

func isIgnorable(err error) bool {
	return errors.Is(err, ErrIgnorable)
}
