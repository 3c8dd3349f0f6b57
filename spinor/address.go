package spinor

import (
	"github.com/retroenv/retrogolib/log"
)

// prepareAddress writes addr into cmd[1:] and returns the number of address
// bytes. The extended address register is updated when needed.
func (c *Chip) prepareAddress(cmd []byte, native4BA bool, addr uint32) (int, error) {
	if native4BA || c.in4BA {
		cmd[1] = byte(addr >> 24)
		cmd[2] = byte(addr >> 16)
		cmd[3] = byte(addr >> 8)
		cmd[4] = byte(addr)
		return 4, nil
	}

	if c.info.Features.Has(FeatureExtAddrReg) {
		if err := c.setExtendedAddress(byte(addr >> 24)); err != nil {
			return 0, err
		}
	} else if addr>>24 != 0 {
		return 0, &AddressError{Addr: addr, Reason: "needs 4 byte addressing"}
	}

	cmd[1] = byte(addr >> 16)
	cmd[2] = byte(addr >> 8)
	cmd[3] = byte(addr)
	return 3, nil
}

func (c *Chip) setExtendedAddress(high byte) error {
	if c.addrHighKnown && c.addrHigh == high {
		return nil
	}

	err := c.tx(
		Command{Write: []byte{opWREN}},
		Command{Write: []byte{opWriteEAR, high}},
	)
	if err != nil {
		c.log.Error("Writing extended address register failed", log.Uint8("value", high), log.Err(err))
		return err
	}

	c.addrHigh = high
	c.addrHighKnown = true
	return nil
}

// ReadExtendedAddress returns the extended address register and resyncs the
// cached copy with it.
func (c *Chip) ReadExtendedAddress() (byte, error) {
	rx, err := c.send([]byte{opReadEAR}, 1)
	if err != nil {
		return 0, err
	}
	c.addrHigh = rx[0]
	c.addrHighKnown = true
	return rx[0], nil
}

// Enter4BA switches the chip to four byte addressing. If the chip needs WREN
// first (Feature4BAWren), it is sent in the same transaction.
func (c *Chip) Enter4BA() error {
	if err := c.modeCommand(opEnter4BA); err != nil {
		return err
	}
	c.in4BA = true
	return nil
}

func (c *Chip) Exit4BA() error {
	if err := c.modeCommand(opExit4BA); err != nil {
		return err
	}
	c.in4BA = false
	return nil
}

func (c *Chip) modeCommand(op byte) error {
	if c.info.Features.Has(Feature4BAWren) {
		return c.simpleWriteCmd(op, 0)
	}
	return c.tx(Command{Write: []byte{op}})
}
