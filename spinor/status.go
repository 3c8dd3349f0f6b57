package spinor

import (
	"fmt"
	"strings"
	"time"

	"github.com/retroenv/retrogolib/log"
)

// StatusRegister is the first status register of a SPI NOR chip.
//
//	Bit | Meaning
//	----+------------------------------------------------
//	7   | SRWD: status register write disable (BPL on SST)
//	6   | vendor specific, AAI active on SST
//	5:2 | BP3-BP0: block protect
//	1   | WEL: write enable latch
//	0   | WIP: write in progress
type StatusRegister byte

const (
	StatusWIP    StatusRegister = 1 << 0
	StatusWEL    StatusRegister = 1 << 1
	StatusBP0    StatusRegister = 1 << 2
	StatusBP1    StatusRegister = 1 << 3
	StatusBP2    StatusRegister = 1 << 4
	StatusBP3    StatusRegister = 1 << 5
	StatusBit6   StatusRegister = 1 << 6
	StatusSRWD   StatusRegister = 1 << 7
	StatusBPMask StatusRegister = StatusBP0 | StatusBP1 | StatusBP2 | StatusBP3
)

func (sr StatusRegister) Busy() bool         { return sr&StatusWIP != 0 }
func (sr StatusRegister) WriteEnabled() bool { return sr&StatusWEL != 0 }
func (sr StatusRegister) Protected() bool    { return sr&StatusBPMask != 0 }
func (sr StatusRegister) BlockProtect() int  { return int(sr&StatusBPMask) >> 2 }

func (sr StatusRegister) String() string {
	names := []string{"WIP", "WEL", "BP0", "BP1", "BP2", "BP3", "BIT6", "SRWD"}

	var s []string
	for i := len(names) - 1; i >= 0; i-- {
		if sr&(1<<i) != 0 {
			s = append(s, names[i])
		}
	}
	return fmt.Sprintf("0x%02x [%s]", byte(sr), strings.Join(s, " "))
}

const (
	wrsrInitialDelay = 100 * time.Millisecond
	wrsrPollDelay    = 10 * time.Millisecond
	wrsrMaxPolls     = 490
)

// ReadStatus reads the status register.
func (c *Chip) ReadStatus() (StatusRegister, error) {
	n := c.info.StatusReadLen
	if n < 1 {
		n = 1
	}

	rx, err := c.send([]byte{opRDSR}, n)
	if err != nil {
		c.log.Error("RDSR failed", log.Err(err))
		return 0, err
	}
	return StatusRegister(rx[0]), nil
}

// pollWIP waits until WIP clears, sampling every delay. Time is accounted
// through Transport.Delay. Without a poll timeout this never gives up.
func (c *Chip) pollWIP(delay time.Duration) error {
	var waited time.Duration
	for {
		sr, err := c.ReadStatus()
		if err != nil {
			return err
		}
		if !sr.Busy() {
			return nil
		}
		if c.cfg.pollTimeout > 0 && waited >= c.cfg.pollTimeout {
			c.log.Error("WIP never cleared", log.Stringer("status", sr), log.String("waited", waited.String()))
			return ErrTimeout
		}
		c.t.Delay(delay)
		waited += delay
	}
}

// WriteStatus writes the status register, preferring WREN over EWSR when the
// chip supports both.
func (c *Chip) WriteStatus(value StatusRegister) error {
	err := error(&ProgrammerError{Op: "write status", Msg: "chip supports neither WREN nor EWSR for WRSR"})

	if c.info.Features.Has(FeatureWRSRWren) {
		err = c.writeStatusWith(opWREN, value)
	}
	if err != nil && c.info.Features.Has(FeatureWRSREwsr) {
		err = c.writeStatusWith(opEWSR, value)
	}
	return err
}

func (c *Chip) writeStatusWith(enable byte, value StatusRegister) error {
	err := c.tx(
		Command{Write: []byte{enable}},
		Command{Write: []byte{opWRSR, byte(value)}},
	)
	if err != nil {
		c.log.Error("WRSR failed", log.Hex("enable", enable), log.Err(err))
		return err
	}

	// WRSR does a self timed erase, usually 50-85 ms. Some chips only allow
	// a single RDSR afterwards, so wait before the first poll.
	c.t.Delay(wrsrInitialDelay)
	for i := 0; ; i++ {
		sr, err := c.ReadStatus()
		if err != nil {
			return err
		}
		if !sr.Busy() {
			return nil
		}
		if i >= wrsrMaxPolls {
			c.log.Error("WIP bit after WRSR never cleared", log.Stringer("status", sr))
			return ErrTimeout
		}
		c.t.Delay(wrsrPollDelay)
	}
}
