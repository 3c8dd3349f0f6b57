package emulator

import (
	"fmt"

	"github.com/BertoldVdb/spinor/spinor"
)

func fill(dst []byte, src []byte) {
	for i := range dst {
		if i < len(src) {
			dst[i] = src[i]
		} else {
			dst[i] = 0xff
		}
	}
}

// address decodes the address following the opcode. It returns the address,
// the remaining bytes and whether enough bytes were present.
func (c *Chip) address(w []byte, fourByte bool) (uint32, []byte, bool) {
	if fourByte {
		if len(w) < 5 {
			return 0, nil, false
		}
		return uint32(w[1])<<24 | uint32(w[2])<<16 | uint32(w[3])<<8 | uint32(w[4]), w[5:], true
	}
	if len(w) < 4 {
		return 0, nil, false
	}
	addr := uint32(w[1])<<16 | uint32(w[2])<<8 | uint32(w[3])
	if c.model.ExtAddrReg {
		addr |= uint32(c.ear) << 24
	}
	return addr, w[4:], true
}

func (c *Chip) command(w []byte, r []byte) error {
	if len(w) == 0 {
		return fmt.Errorf("empty command")
	}
	op := w[0]

	if op == 0x05 {
		for i := range r {
			r[i] = c.statusLocked()
		}
		return nil
	}

	// A busy chip ignores everything but RDSR.
	if c.busy() {
		c.debug("Command ignored, chip busy", 0, op)
		return nil
	}

	if c.aai && op != 0xad && op != 0x04 {
		return fmt.Errorf("opcode 0x%02x while in AAI mode", op)
	}

	if op != 0x99 {
		c.rsten = false
	}

	switch op {
	case 0x06:
		c.wel = true

	case 0x04:
		c.wel = false
		c.aai = false

	case 0x50:
		c.ewsr = true

	case 0x01:
		return c.writeStatus(w)

	case 0x9f:
		if !c.model.hasRDID() {
			fill(r, nil)
			return nil
		}
		fill(r, c.model.RDID)

	case 0x90, 0xab:
		return c.identify(op, w, r)

	case 0x03, 0x13:
		return c.read(op, w, r)

	case 0x02, 0x12:
		return c.program(op, w)

	case 0xad:
		return c.aaiProgram(w)

	case 0x20, 0x52, 0xd8, 0xd7, 0xdb, 0xc4, 0x21, 0x5c, 0xdc, 0x60, 0xc7:
		return c.erase(op, w)

	case 0xb7, 0xe9:
		if !c.model.Native4BA && !c.model.ExtAddrReg {
			return fmt.Errorf("%w: 0x%02x", ErrUnsupported, op)
		}
		c.in4BA = op == 0xb7
		c.wel = false

	case 0xc5:
		if !c.model.ExtAddrReg || len(w) < 2 {
			return fmt.Errorf("%w: 0x%02x", ErrUnsupported, op)
		}
		if c.wel {
			c.ear = w[1]
			c.wel = false
		}

	case 0xc8:
		if !c.model.ExtAddrReg {
			return fmt.Errorf("%w: 0x%02x", ErrUnsupported, op)
		}
		fill(r, []byte{c.ear})

	case 0x66:
		c.rsten = true

	case 0x99, 0xf0:
		if op == 0x99 && !c.rsten {
			return nil
		}
		c.reset()

	default:
		return fmt.Errorf("%w: 0x%02x", ErrUnsupported, op)
	}

	return nil
}

func (c *Chip) reset() {
	c.wel = false
	c.ewsr = false
	c.aai = false
	c.in4BA = false
	c.ear = 0
	c.rsten = false
}

func (c *Chip) writeStatus(w []byte) error {
	if len(w) < 2 {
		return fmt.Errorf("WRSR without data")
	}
	if !c.wel && !c.ewsr {
		c.debug("WRSR without WREN/EWSR", 0, 0x01)
		return nil
	}
	c.wel = false
	c.ewsr = false

	if c.wp && c.status&statusSRWD != 0 {
		c.debug("WRSR blocked by WP pin", 0, 0x01)
		return nil
	}

	c.status = w[1] &^ (statusWIP | statusWEL | statusAAI)
	c.setBusy(c.timing.WriteStatus)
	return nil
}

func (c *Chip) identify(op byte, w []byte, r []byte) error {
	addr, _, ok := c.address(w, false)
	if !ok {
		return fmt.Errorf("0x%02x without address", op)
	}
	addr &= 0xffffff
	if addr < c.validFrom {
		return fmt.Errorf("%w: 0x%06x", spinor.ErrInvalidAddress, addr)
	}

	id := c.model.RES
	if op == 0x90 {
		id = c.model.REMS
	}
	if len(id) == 0 {
		fill(r, nil)
		return nil
	}

	// The ID repeats, an odd address starts at the second byte.
	for i := range r {
		r[i] = id[(int(addr&1)+i)%len(id)]
	}
	return nil
}

func (c *Chip) read(op byte, w []byte, r []byte) error {
	fourByte := c.in4BA
	if op == 0x13 {
		if !c.model.Native4BA {
			return fmt.Errorf("%w: 0x%02x", ErrUnsupported, op)
		}
		fourByte = true
	}

	addr, _, ok := c.address(w, fourByte)
	if !ok {
		return fmt.Errorf("read without address")
	}

	end := addr + uint32(len(r))
	for _, f := range c.faults {
		if addr < f.end && f.start < end {
			return f.err
		}
	}

	for i := range r {
		r[i] = c.mem[(addr+uint32(i))%c.model.Size]
	}
	return nil
}

func (c *Chip) writable() bool {
	if !c.wel {
		return false
	}
	c.wel = false
	return c.status&statusBP == 0
}

func (c *Chip) program(op byte, w []byte) error {
	fourByte := c.in4BA
	if op == 0x12 {
		if !c.model.Native4BA {
			return fmt.Errorf("%w: 0x%02x", ErrUnsupported, op)
		}
		fourByte = true
	}

	addr, data, ok := c.address(w, fourByte)
	if !ok {
		return fmt.Errorf("program without address")
	}
	if !c.writable() {
		c.debug("Program ignored, not write enabled or protected", addr, op)
		return nil
	}

	if c.model.PageSize == 0 {
		if len(data) > 0 {
			data = data[:1]
		}
		for _, b := range data {
			c.mem[addr%c.model.Size] &= b
		}
	} else {
		base := addr &^ (c.model.PageSize - 1)
		for i, b := range data {
			off := (addr + uint32(i)) & (c.model.PageSize - 1)
			c.mem[(base+off)%c.model.Size] &= b
		}
	}

	c.setBusy(c.timing.Program)
	return nil
}

func (c *Chip) aaiProgram(w []byte) error {
	if !c.model.AAI {
		return fmt.Errorf("%w: 0xad", ErrUnsupported)
	}

	var data []byte
	if !c.aai {
		addr, rest, ok := c.address(w, false)
		if !ok {
			return fmt.Errorf("AAI without address")
		}
		if !c.wel || c.status&statusBP != 0 {
			c.debug("AAI ignored, not write enabled or protected", addr, 0xad)
			return nil
		}
		c.aai = true
		c.aaiAddr = addr &^ 1
		data = rest
	} else {
		data = w[1:]
	}

	if len(data) != 2 {
		return fmt.Errorf("AAI needs exactly two data bytes, got %d", len(data))
	}

	c.mem[c.aaiAddr%c.model.Size] &= data[0]
	c.mem[(c.aaiAddr+1)%c.model.Size] &= data[1]
	c.aaiAddr += 2
	c.setBusy(c.timing.Program)
	return nil
}

func (c *Chip) erase(op byte, w []byte) error {
	size, ok := c.model.Erase[op]
	if !ok {
		return fmt.Errorf("%w: 0x%02x", ErrUnsupported, op)
	}

	var addr uint32
	if size != c.model.Size {
		native := op == 0x21 || op == 0x5c || op == 0xdc
		var hasAddr bool
		addr, _, hasAddr = c.address(w, native || c.in4BA)
		if !hasAddr {
			return fmt.Errorf("erase 0x%02x without address", op)
		}
		addr &^= size - 1
	}

	if !c.writable() {
		c.debug("Erase ignored, not write enabled or protected", addr, op)
		return nil
	}

	for i := uint32(0); i < size; i++ {
		c.mem[(addr+i)%c.model.Size] = 0xff
	}

	if size == c.model.Size {
		c.setBusy(c.timing.ChipErase)
	} else {
		c.setBusy(c.timing.Erase)
	}
	return nil
}
