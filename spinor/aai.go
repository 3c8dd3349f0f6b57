package spinor

import (
	"time"

	"github.com/retroenv/retrogolib/log"
)

const aaiPollDelay = 10 * time.Microsecond

// WriteAAI programs data at start with auto address increment word
// programming. An odd start or an odd length is handled with single byte
// programs around the AAI run.
func (c *Chip) WriteAAI(data []byte, start uint32) error {
	if c.quirks&QuirkNoAAI != 0 {
		c.log.Warn("AAI impossible with this controller, degrading to byte program")
		return c.WriteBytewise(data, start)
	}
	if len(data) == 0 {
		return nil
	}

	pos := start
	end := start + uint32(len(data))

	if start%2 != 0 {
		c.log.Warn("AAI start address not even", log.Hex("address", start))
		if err := c.WriteBytewise(data[:1], start); err != nil {
			return err
		}
		pos++
	}
	if len(data)%2 != 0 {
		c.log.Warn("AAI write length not even", log.Int("length", len(data)))
	}

	// Less than one word left after alignment.
	if end-pos < 2 {
		return c.WriteBytewise(data[pos-start:], pos)
	}

	err := c.aaiRun(data, start, &pos, end)
	if wrdiErr := c.writeDisable(); wrdiErr != nil && err == nil {
		err = wrdiErr
	}
	if err != nil {
		return err
	}

	if pos < end {
		return c.WriteBytewise(data[pos-start:], pos)
	}
	return nil
}

// aaiRun issues the AAI start command and all full word continuations. pos
// is advanced past every word that was sent.
func (c *Chip) aaiRun(data []byte, start uint32, pos *uint32, end uint32) error {
	i := *pos - start
	err := c.tx(
		Command{Write: []byte{opWREN}},
		Command{Write: []byte{opAAI, byte(*pos >> 16), byte(*pos >> 8), byte(*pos), data[i], data[i+1]}},
	)
	if err != nil {
		c.log.Error("AAI start command failed", log.Hex("address", *pos), log.Err(err))
		return err
	}
	if err := c.pollWIP(aaiPollDelay); err != nil {
		return err
	}
	*pos += 2

	for *pos+1 < end {
		i = *pos - start
		if err := c.tx(Command{Write: []byte{opAAI, data[i], data[i+1]}}); err != nil {
			c.log.Error("AAI continuation failed", log.Hex("address", *pos), log.Err(err))
			return err
		}
		if err := c.pollWIP(aaiPollDelay); err != nil {
			return err
		}
		*pos += 2
	}
	return nil
}
