package spinor

import (
	"github.com/retroenv/retrogolib/log"
)

// dieSize is the area a read command may not cross on multi die chips.
const dieSize = 16 * 1024 * 1024

func (c *Chip) reportProgress(op string, done, total uint32) {
	if c.cfg.progress != nil {
		c.cfg.progress(op, done, total)
	}
}

func (c *Chip) nbyteRead(addr uint32, buf []byte) error {
	native4BA := c.info.Features.Has(FeatureRead4BA)

	cmd := make([]byte, 1+maxAddressBytes)
	cmd[0] = opRead
	if native4BA {
		cmd[0] = opRead4BA
	}
	addrLen, err := c.prepareAddress(cmd, native4BA, addr)
	if err != nil {
		return err
	}

	return c.tx(Command{Write: cmd[:1+addrLen], Read: buf})
}

func (c *Chip) nbyteProgram(addr uint32, data []byte) error {
	native4BA := c.info.Features.Has(FeatureWrite4BA)
	op := byte(opProgram)
	if native4BA {
		op = opProg4BA
	}
	return c.writeCmd(op, native4BA, addr, data, programPollDelay)
}

// readPiece reads one piece into buf. On an ignorable error buf is filled
// with 0xff and the error is still returned.
func (c *Chip) readPiece(addr uint32, buf []byte) error {
	err := c.nbyteRead(addr, buf)
	if err == nil || !isIgnorable(err) {
		return err
	}

	c.log.Warn("Read failed, filling with 0xff", log.Hex("address", addr), log.Int("length", len(buf)), log.Err(err))
	for i := range buf {
		buf[i] = 0xff
	}
	return err
}

// ReadChunked reads len(buf) bytes at start. Commands never cross a 16 MiB
// boundary and carry at most chunkSize bytes. A region the transport could
// not read is filled with 0xff; the last such error is returned once
// everything else has been read.
func (c *Chip) ReadChunked(buf []byte, start uint32, chunkSize int) error {
	if chunkSize <= 0 {
		return &ProgrammerError{Op: "read", Msg: "chunk size must be positive"}
	}
	if len(buf) == 0 {
		return nil
	}

	length := uint32(len(buf))
	areaSize := min(c.info.TotalSize, dieSize)
	var carried error

	for area := start / areaSize; area <= (start+length-1)/areaSize; area++ {
		here := max(start, area*areaSize)
		hereLen := min(start+length, (area+1)*areaSize) - here

		for off := uint32(0); off < hereLen; off += uint32(chunkSize) {
			n := min(uint32(chunkSize), hereLen-off)
			pos := here + off
			if err := c.readPiece(pos, buf[pos-start:pos-start+n]); err != nil {
				if !isIgnorable(err) {
					return err
				}
				carried = err
			}
		}

		c.reportProgress("read", here+hereLen-start, length)
	}

	return carried
}

// ReadUnbound is ReadChunked without the 16 MiB split, for controllers that
// handle die crossings themselves.
func (c *Chip) ReadUnbound(buf []byte, start uint32, chunkSize int) error {
	if chunkSize <= 0 {
		return &ProgrammerError{Op: "read", Msg: "chunk size must be positive"}
	}

	length := uint32(len(buf))
	var carried error

	for off := uint32(0); off < length; off += uint32(chunkSize) {
		n := min(uint32(chunkSize), length-off)
		if err := c.readPiece(start+off, buf[off:off+n]); err != nil {
			if !isIgnorable(err) {
				return err
			}
			carried = err
		}
		c.reportProgress("read", off+n, length)
	}

	return carried
}

// WriteChunked programs data at start. Every program command stays inside one
// page and carries at most chunkSize bytes. Nothing is rolled back on error.
func (c *Chip) WriteChunked(data []byte, start uint32, chunkSize int) error {
	if chunkSize <= 0 {
		return &ProgrammerError{Op: "write", Msg: "chunk size must be positive"}
	}
	if len(data) == 0 {
		return nil
	}

	length := uint32(len(data))
	pageSize := c.info.PageSize

	for page := start / pageSize; page <= (start+length-1)/pageSize; page++ {
		here := max(start, page*pageSize)
		hereLen := min(start+length, (page+1)*pageSize) - here

		for off := uint32(0); off < hereLen; off += uint32(chunkSize) {
			n := min(uint32(chunkSize), hereLen-off)
			pos := here + off
			if err := c.nbyteProgram(pos, data[pos-start:pos-start+n]); err != nil {
				return err
			}
		}

		c.reportProgress("write", here+hereLen-start, length)
	}

	return nil
}

// WriteBytewise programs data one byte per command, for chips that have
// nothing better.
func (c *Chip) WriteBytewise(data []byte, start uint32) error {
	for i := range data {
		if err := c.nbyteProgram(start+uint32(i), data[i:i+1]); err != nil {
			return err
		}
	}
	return nil
}
