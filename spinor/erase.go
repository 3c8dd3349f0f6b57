package spinor

import (
	"fmt"
	"time"

	"github.com/retroenv/retrogolib/log"
)

const programPollDelay = 10 * time.Microsecond

type eraseOp struct {
	native4BA bool
	wholeChip bool
	poll      time.Duration
}

// Poll intervals follow the typical completion time of each erase type.
var eraseOps = map[byte]eraseOp{
	OpErase4K:     {poll: 2 * time.Millisecond},
	OpErase32K:    {poll: 20 * time.Millisecond},
	OpErase64K:    {poll: 20 * time.Millisecond},
	OpEraseD7:     {poll: 20 * time.Millisecond},
	OpErasePageDB: {poll: time.Millisecond},
	OpEraseDie:    {poll: 100 * time.Millisecond},
	OpErase4K4BA:  {native4BA: true, poll: 10 * time.Millisecond},
	OpErase32K4BA: {native4BA: true, poll: 100 * time.Millisecond},
	OpErase64K4BA: {native4BA: true, poll: 100 * time.Millisecond},
	OpChipErase60: {wholeChip: true, poll: 100 * time.Millisecond},
	OpChipEraseC7: {wholeChip: true, poll: 100 * time.Millisecond},
}

// writeCmd sends WREN followed by op, its address and payload in one
// transaction, then polls WIP.
func (c *Chip) writeCmd(op byte, native4BA bool, addr uint32, payload []byte, poll time.Duration) error {
	if len(payload) > maxProgramPayload {
		return &ProgrammerError{Op: "write command", Msg: fmt.Sprintf("payload of %d bytes too long", len(payload))}
	}

	cmd := make([]byte, 1+maxAddressBytes+len(payload))
	cmd[0] = op
	addrLen, err := c.prepareAddress(cmd, native4BA, addr)
	if err != nil {
		return err
	}
	n := 1 + addrLen
	n += copy(cmd[n:], payload)

	txErr := c.tx(
		Command{Write: []byte{opWREN}},
		Command{Write: cmd[:n]},
	)
	if txErr != nil {
		c.log.Error("Write command failed", log.Hex("opcode", op), log.Hex("address", addr), log.Err(txErr))
	}

	pollErr := c.pollWIP(poll)
	if txErr != nil {
		return txErr
	}
	return pollErr
}

// simpleWriteCmd sends WREN followed by a single byte op. WIP is not polled
// when poll is zero.
func (c *Chip) simpleWriteCmd(op byte, poll time.Duration) error {
	txErr := c.tx(
		Command{Write: []byte{opWREN}},
		Command{Write: []byte{op}},
	)
	if txErr != nil {
		c.log.Error("Write command failed", log.Hex("opcode", op), log.Err(txErr))
	}
	if poll == 0 {
		return txErr
	}

	pollErr := c.pollWIP(poll)
	if txErr != nil {
		return txErr
	}
	return pollErr
}

// BlockErase runs erase opcode op on the block at addr. Whole chip opcodes
// require addr to be zero and length to be the chip size.
func (c *Chip) BlockErase(op byte, addr, length uint32) error {
	e, ok := eraseOps[op]
	if !ok {
		return &ProgrammerError{Op: "erase", Msg: fmt.Sprintf("unknown erase opcode 0x%02x", op)}
	}

	if e.wholeChip {
		if addr != 0 || length != c.info.TotalSize {
			c.log.Error("Chip erase called with wrong range", log.Hex("address", addr), log.Hex("length", length))
			return &ProgrammerError{Op: "chip erase", Msg: fmt.Sprintf("range 0x%x+0x%x is not the whole chip", addr, length)}
		}
		return c.simpleWriteCmd(op, e.poll)
	}

	return c.writeCmd(op, e.native4BA, addr, nil, e.poll)
}

func (c *Chip) chipEraseOpcode() byte {
	for _, b := range c.info.Erase {
		if e, ok := eraseOps[b.Opcode]; ok && e.wholeChip {
			return b.Opcode
		}
	}
	return 0
}

// ChipErase erases everything with the first chip erase opcode the chip
// lists, or 0xc7 if it lists none.
func (c *Chip) ChipErase() error {
	op := c.chipEraseOpcode()
	if op == 0 {
		op = OpChipEraseC7
	}
	return c.BlockErase(op, 0, c.info.TotalSize)
}

// eraseBlocks walks [start, start+length) and picks, at each position, the
// largest non chip erase block that is aligned and fits.
func (c *Chip) eraseBlocks(start, length uint32) error {
	end := start + length
	for pos := start; pos < end; {
		best := EraseBlock{}
		for _, b := range c.info.Erase {
			if e, ok := eraseOps[b.Opcode]; !ok || e.wholeChip || b.Size == 0 {
				continue
			}
			if pos%b.Size == 0 && pos+b.Size <= end && b.Size > best.Size {
				best = b
			}
		}
		if best.Size == 0 {
			return &AddressError{Addr: pos, Length: end - pos, Reason: "no erase block fits"}
		}

		c.log.Debug("Erasing block", log.Hex("opcode", best.Opcode), log.Hex("address", pos), log.Hex("size", best.Size))
		if err := c.BlockErase(best.Opcode, pos, best.Size); err != nil {
			return err
		}
		pos += best.Size
		c.reportProgress("erase", pos-start, length)
	}
	return nil
}
