// Package spinor drives SPI NOR flash chips. It turns reads, writes, erases
// and status register changes into the raw SPI transactions a chip expects,
// independent of the controller that carries them.
package spinor

import (
	"github.com/retroenv/retrogolib/log"
)

// maxProgramPayload is the largest data payload of a single program command.
const maxProgramPayload = 256

// Chip is one flash chip session. It is not safe for concurrent use.
type Chip struct {
	t    Transport
	info ChipInfo
	cfg  config
	log  *log.Logger

	ids          *IDCache
	restores     *RestoreRegistry
	ownsRestores bool

	quirks    Quirk
	readSize  int
	writeSize int

	addrHigh      byte
	addrHighKnown bool
	in4BA         bool

	closed bool
}

func New(t Transport, info ChipInfo, opts ...Option) (*Chip, error) {
	if err := info.validate(); err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Chip{
		t:      t,
		info:   info,
		cfg:    cfg,
		log:    cfg.logger,
		ids:    cfg.ids,
		quirks: transportQuirks(t),
	}

	if c.log == nil {
		c.log = defaultLogger()
	}
	if c.ids == nil {
		c.ids = NewIDCache()
	}

	c.restores = cfg.restores
	if c.restores == nil {
		c.restores = NewRestoreRegistry(c.log)
		c.ownsRestores = true
	}

	c.readSize = cfg.readChunk
	c.writeSize = min(cfg.writeChunk, maxProgramPayload)
	maxRead, maxWrite := transportLimits(t)
	if maxRead > 0 {
		c.readSize = min(c.readSize, maxRead)
	}
	if maxWrite > 0 {
		c.writeSize = min(c.writeSize, maxWrite)
	}

	return c, nil
}

func (c *Chip) Info() ChipInfo {
	return c.info
}

func (c *Chip) Transport() Transport {
	return c.t
}

func (c *Chip) IDCache() *IDCache {
	return c.ids
}

func (c *Chip) Restores() *RestoreRegistry {
	return c.restores
}

// In4BAMode reports whether the chip was switched to four byte addressing.
func (c *Chip) In4BAMode() bool {
	return c.in4BA
}

// Close ends the session. Pending restore actions are executed if the chip
// owns its registry.
func (c *Chip) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.ownsRestores {
		return c.restores.Drain()
	}
	return nil
}

func (c *Chip) tx(cmds ...Command) error {
	return c.t.Tx(Transaction(cmds))
}

func (c *Chip) send(write []byte, readLen int) ([]byte, error) {
	var read []byte
	if readLen > 0 {
		read = make([]byte, readLen)
	}
	return read, c.tx(Command{Write: write, Read: read})
}

func (c *Chip) writeEnable() error {
	if err := c.tx(Command{Write: []byte{opWREN}}); err != nil {
		c.log.Error("WREN failed", log.Err(err))
		return err
	}
	return nil
}

func (c *Chip) writeDisable() error {
	return c.tx(Command{Write: []byte{opWRDI}})
}
