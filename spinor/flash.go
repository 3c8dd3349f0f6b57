package spinor

import (
	"io"
)

func (c *Chip) checkRange(start uint32, length int) error {
	if c.closed {
		return ErrClosed
	}
	if length < 0 || uint64(start)+uint64(length) > uint64(c.info.TotalSize) {
		return &AddressError{Addr: start, Length: uint32(length), Reason: "outside of chip"}
	}
	return nil
}

// Read fills buf from the chip starting at start. An error wrapping
// ErrIgnorable means the data was read but some ranges are 0xff filled.
func (c *Chip) Read(buf []byte, start uint32) error {
	if err := c.checkRange(start, len(buf)); err != nil {
		return err
	}
	return c.ReadChunked(buf, start, c.readSize)
}

// ReadAt implements io.ReaderAt. An ignorable error is returned with the
// full count, the unread ranges hold 0xff.
func (c *Chip) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(c.info.TotalSize) {
		return 0, io.EOF
	}

	n := len(p)
	if rest := int64(c.info.TotalSize) - off; int64(n) > rest {
		n = int(rest)
	}
	if err := c.Read(p[:n], uint32(off)); err != nil {
		if isIgnorable(err) {
			return n, err
		}
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Write programs data at start using the write method of the chip. The
// target range must be erased.
func (c *Chip) Write(data []byte, start uint32) error {
	if err := c.checkRange(start, len(data)); err != nil {
		return err
	}

	switch c.info.Write {
	case WriteAAI:
		return c.WriteAAI(data, start)
	case WriteByte:
		return c.WriteBytewise(data, start)
	}
	return c.WriteChunked(data, start, c.writeSize)
}

// Erase erases [start, start+length). The range must be covered by the
// erase blocks of the chip.
func (c *Chip) Erase(start, length uint32) error {
	if err := c.checkRange(start, int(length)); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}

	if start == 0 && length == c.info.TotalSize && c.chipEraseOpcode() != 0 {
		return c.ChipErase()
	}
	return c.eraseBlocks(start, length)
}

func (c *Chip) Status() (StatusRegister, error) {
	if c.closed {
		return 0, ErrClosed
	}
	return c.ReadStatus()
}

func (c *Chip) SetStatus(sr StatusRegister) error {
	if c.closed {
		return ErrClosed
	}
	return c.WriteStatus(sr)
}

func (c *Chip) DisableProtection() error {
	if c.closed {
		return ErrClosed
	}
	return c.DisableBlockProtect()
}
