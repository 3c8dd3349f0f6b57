package spinor

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/retroenv/retrogolib/log"
)

// continuationID marks a JEDEC manufacturer ID that continues in the next byte.
const continuationID = 0x7f

// IDCache remembers the raw answer of every identification command so that
// probing many candidate chips only touches the bus once per method.
type IDCache struct {
	mu      sync.Mutex
	entries map[ProbeMethod][]byte
}

func NewIDCache() *IDCache {
	return &IDCache{entries: make(map[ProbeMethod][]byte)}
}

func (ic *IDCache) get(m ProbeMethod, fetch func() ([]byte, error)) ([]byte, error) {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	if b, ok := ic.entries[m]; ok {
		return b, nil
	}
	b, err := fetch()
	if err != nil {
		return nil, err
	}
	ic.entries[m] = b
	return b, nil
}

// Cached returns the bytes stored for a method, if any.
func (ic *IDCache) Cached(m ProbeMethod) ([]byte, bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	b, ok := ic.entries[m]
	return b, ok
}

// Clear forgets all cached answers, for example after a chip reset.
func (ic *IDCache) Clear() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.entries = make(map[ProbeMethod][]byte)
}

func (c *Chip) rdid(n int) ([]byte, error) {
	rx, err := c.send([]byte{opRDID}, n)
	if err != nil {
		return nil, err
	}
	c.log.Debug("RDID returned", log.String("bytes", fmt.Sprintf("% x", rx)))
	return rx, nil
}

// addressedID sends REMS or RES. If the controller refuses address zero the
// command is retried once at the lowest even address it accepts.
func (c *Chip) addressedID(op byte, n int) ([]byte, error) {
	cmd := []byte{op, 0, 0, 0}
	rx, err := c.send(cmd, n)
	if errors.Is(err, ErrInvalidAddress) {
		var addr uint32
		if v, ok := c.t.(ValidReadAddresser); ok {
			addr = v.ValidReadAddress()
		}
		addr = (addr + 1) &^ 1
		c.log.Debug("Retrying ID command at valid address", log.Hex("opcode", op), log.Hex("address", addr))

		cmd[1] = byte(addr >> 16)
		cmd[2] = byte(addr >> 8)
		cmd[3] = byte(addr)
		rx, err = c.send(cmd, n)
	}
	if err != nil {
		return nil, err
	}
	c.log.Debug("ID command returned", log.Hex("opcode", op), log.String("bytes", fmt.Sprintf("% x", rx)))
	return rx, nil
}

// rdidIDs decodes an RDID answer. A continuation code in byte 0 makes the
// manufacturer ID two bytes wide.
func rdidIDs(b []byte) (uint32, uint32) {
	if b[0] == continuationID {
		id1 := uint32(b[0])<<8 | uint32(b[1])
		id2 := uint32(b[2])
		if len(b) > 3 {
			id2 = id2<<8 | uint32(b[3])
		}
		return id1, id2
	}
	return uint32(b[0]), uint32(b[1])<<8 | uint32(b[2])
}

// CompareID matches an identification result against the chip parameters,
// honouring the generic vendor and device wildcards.
func (c *Chip) CompareID(id1, id2 uint32) bool {
	c.log.Debug("Comparing IDs", log.Hex("id1", id1), log.Hex("id2", id2))

	if id1 == c.info.ManufactureID && id2 == c.info.ModelID {
		c.logStatus()
		return true
	}
	if id1 == c.info.ManufactureID && c.info.ModelID == GenericDeviceID {
		return true
	}
	if c.info.ManufactureID == GenericManufID && id1 != 0xff {
		return true
	}
	return false
}

// logStatus shows the status register so possible write protection is visible.
func (c *Chip) logStatus() {
	sr, err := c.ReadStatus()
	if err != nil {
		return
	}
	c.log.Info("Chip status register", log.String("chip", c.info.Name), log.Stringer("status", sr))
}

func (c *Chip) ProbeRDID() (bool, error) {
	return c.probeRDID(ProbeRDID, 3)
}

func (c *Chip) ProbeRDID4() (bool, error) {
	if c.quirks&QuirkNoRDID4 != 0 {
		c.log.Info("4 byte RDID not supported on this controller")
		return false, nil
	}
	return c.probeRDID(ProbeRDID4, 4)
}

func (c *Chip) probeRDID(m ProbeMethod, n int) (bool, error) {
	b, err := c.ids.get(m, func() ([]byte, error) { return c.rdid(n) })
	if err != nil {
		return false, err
	}
	id1, id2 := rdidIDs(b)
	return c.CompareID(id1, id2), nil
}

func (c *Chip) ProbeREMS() (bool, error) {
	b, err := c.ids.get(ProbeREMS, func() ([]byte, error) { return c.addressedID(opREMS, 2) })
	if err != nil {
		return false, err
	}
	return c.CompareID(uint32(b[0]), uint32(b[1])), nil
}

// ProbeRES1 matches the one byte electronic signature. It is only used when
// RDID and REMS give nothing useful, since a single byte is easily confused.
func (c *Chip) ProbeRES1() (bool, error) {
	if b, err := c.ids.get(ProbeRDID, func() ([]byte, error) { return c.rdid(3) }); err == nil && usefulID(b) {
		c.log.Debug("Ignoring RES in favour of RDID")
		return false, nil
	}
	if b, err := c.ids.get(ProbeREMS, func() ([]byte, error) { return c.addressedID(opREMS, 2) }); err == nil && usefulID(b) {
		c.log.Debug("Ignoring RES in favour of REMS")
		return false, nil
	}

	b, err := c.ids.get(ProbeRES1, func() ([]byte, error) { return c.addressedID(opRES, 1) })
	if err != nil {
		return false, err
	}
	if uint32(b[0]) != c.info.ModelID {
		return false, nil
	}
	c.logStatus()
	return true, nil
}

func (c *Chip) ProbeRES2() (bool, error) {
	b, err := c.ids.get(ProbeRES2, func() ([]byte, error) { return c.addressedID(opRES, 2) })
	if err != nil {
		return false, err
	}
	if uint32(b[0]) != c.info.ManufactureID || uint32(b[1]) != c.info.ModelID {
		return false, nil
	}
	c.logStatus()
	return true, nil
}

// Probe runs the identification method listed in the chip parameters.
func (c *Chip) Probe() (bool, error) {
	switch c.info.Probe {
	case ProbeRDID:
		return c.ProbeRDID()
	case ProbeRDID4:
		return c.ProbeRDID4()
	case ProbeREMS:
		return c.ProbeREMS()
	case ProbeRES1:
		return c.ProbeRES1()
	case ProbeRES2:
		return c.ProbeRES2()
	}
	return false, &ProgrammerError{Op: "probe", Msg: "unknown probe method " + c.info.Probe.String()}
}

// SoftReset resets the chip with RSTEN+RST, or the legacy single 0xf0 opcode,
// and forgets everything learnt about it.
func (c *Chip) SoftReset(legacy bool) error {
	var err error
	if legacy {
		err = c.tx(Command{Write: []byte{opRSTLeg}})
	} else {
		err = c.tx(Command{Write: []byte{opRSTEN}}, Command{Write: []byte{opRST}})
	}
	if err != nil {
		return err
	}

	c.t.Delay(resetRecovery)
	c.ids.Clear()
	c.in4BA = false
	c.addrHighKnown = false
	return nil
}

const resetRecovery = 70 * time.Microsecond

func usefulID(b []byte) bool {
	return !bytes.Equal(b, bytes.Repeat([]byte{0xff}, len(b))) &&
		!bytes.Equal(b, make([]byte, len(b)))
}
