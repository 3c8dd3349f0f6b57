package spinor

import (
	"github.com/retroenv/retrogolib/log"
)

// DisableBlockProtect clears BP0-BP3. The original status value is put back
// when the restore registry is drained. If the bits stick, usually because
// the hardware WP pin is asserted, ErrProtectionPersisted is returned.
// Protection is left alone with ErrClosed once the registry was drained.
func (c *Chip) DisableBlockProtect() error {
	snapshot, err := c.ReadStatus()
	if err != nil {
		return err
	}
	if !snapshot.Protected() {
		return nil
	}

	if !c.restores.Register(c, snapshot, func() error {
		return c.restoreStatus(snapshot)
	}) && c.restores.Drained() {
		return ErrClosed
	}

	c.log.Debug("Block protection in effect, disabling", log.Stringer("status", snapshot))
	if err := c.WriteStatus(snapshot &^ StatusBPMask); err != nil {
		c.log.Error("Writing status register failed", log.Err(err))
		return err
	}

	sr, err := c.ReadStatus()
	if err != nil {
		return err
	}
	if sr.Protected() {
		c.log.Error("Block protection could not be disabled", log.Stringer("status", sr))
		return ErrProtectionPersisted
	}
	return nil
}

func (c *Chip) restoreStatus(sr StatusRegister) error {
	c.log.Debug("Restoring chip status", log.Stringer("status", sr))
	return c.WriteStatus(sr)
}
