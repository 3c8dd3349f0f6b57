// Package emulator implements an in-memory SPI NOR chip that can be used as a
// spinor.Transport. Time only advances through Delay, so polling behaviour
// can be checked without waiting.
package emulator

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/BertoldVdb/spinor/spinor"
	"github.com/retroenv/retrogolib/log"
)

var ErrUnsupported = errors.New("opcode not supported by emulated chip")

const (
	statusWIP  = 0x01
	statusWEL  = 0x02
	statusBP   = 0x3c
	statusAAI  = 0x40
	statusSRWD = 0x80
)

// Timing sets how long the chip stays busy after each kind of operation.
type Timing struct {
	Program     time.Duration
	Erase       time.Duration
	ChipErase   time.Duration
	WriteStatus time.Duration
}

var DefaultTiming = Timing{
	Program:     25 * time.Microsecond,
	Erase:       45 * time.Millisecond,
	ChipErase:   time.Second,
	WriteStatus: 15 * time.Millisecond,
}

type readFault struct {
	start, end uint32
	err        error
}

type Chip struct {
	mu sync.Mutex

	model  Model
	timing Timing
	log    *log.Logger
	image  string

	mem    []byte
	status byte
	wel    bool
	ewsr   bool
	wp     bool

	aai     bool
	aaiAddr uint32
	in4BA   bool
	ear     byte
	rsten   bool

	now       time.Duration
	busyUntil time.Duration
	stuck     bool

	validFrom uint32
	quirks    spinor.Quirk
	maxRead   int
	maxWrite  int
	faults    []readFault

	history []spinor.Transaction
}

type Option func(*Chip)

func WithTiming(t Timing) Option {
	return func(c *Chip) {
		c.timing = t
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Chip) {
		c.log = logger
	}
}

// WithImage backs the chip with a file. It is loaded by New if it exists and
// written back by Close.
func WithImage(path string) Option {
	return func(c *Chip) {
		c.image = path
	}
}

// WithStatus sets the initial status register.
func WithStatus(sr byte) Option {
	return func(c *Chip) {
		c.status = sr &^ (statusWIP | statusWEL | statusAAI)
	}
}

// WithWriteProtect asserts the WP pin. Together with SRWD this makes the
// status register read only.
func WithWriteProtect(asserted bool) Option {
	return func(c *Chip) {
		c.wp = asserted
	}
}

// WithValidReadAddress makes the emulated controller reject ID commands whose
// address field is below addr.
func WithValidReadAddress(addr uint32) Option {
	return func(c *Chip) {
		c.validFrom = addr
	}
}

func WithQuirks(q spinor.Quirk) Option {
	return func(c *Chip) {
		c.quirks = q
	}
}

func WithLimits(maxRead, maxWrite int) Option {
	return func(c *Chip) {
		c.maxRead = maxRead
		c.maxWrite = maxWrite
	}
}

func New(model Model, opts ...Option) (*Chip, error) {
	c := &Chip{
		model:  model,
		timing: DefaultTiming,
		mem:    make([]byte, model.Size),
	}
	for i := range c.mem {
		c.mem[i] = 0xff
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.image != "" {
		data, err := os.ReadFile(c.image)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		case len(data) != len(c.mem):
			return nil, fmt.Errorf("image %s has size %d, chip has %d", c.image, len(data), len(c.mem))
		default:
			copy(c.mem, data)
		}
	}

	return c, nil
}

// Close writes the contents back to the image file, if any.
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.image == "" {
		return nil
	}
	return os.WriteFile(c.image, c.mem, 0o644)
}

func (c *Chip) debug(msg string, addr uint32, op byte) {
	if c.log != nil {
		c.log.Debug(msg, log.Hex("opcode", op), log.Hex("address", addr))
	}
}

// Delay advances the virtual clock.
func (c *Chip) Delay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// Now returns the virtual time spent in Delay so far.
func (c *Chip) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Chip) ValidReadAddress() uint32 { return c.validFrom }
func (c *Chip) Quirks() spinor.Quirk     { return c.quirks }
func (c *Chip) MaxRead() int             { return c.maxRead }
func (c *Chip) MaxWrite() int            { return c.maxWrite }

// SetStuck makes WIP stay set forever.
func (c *Chip) SetStuck(stuck bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stuck = stuck
}

func (c *Chip) SetWriteProtect(asserted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wp = asserted
}

// FailReads makes every read touching [start, start+length) return err.
func (c *Chip) FailReads(start, length uint32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, readFault{start: start, end: start + length, err: err})
}

// Memory returns a copy of the array contents.
func (c *Chip) Memory() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.mem...)
}

// Load places data in the array at offset, bypassing program semantics.
func (c *Chip) Load(offset uint32, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.mem[offset:], data)
}

// Status returns the status register as RDSR would.
func (c *Chip) Status() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Chip) In4BAMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in4BA
}

// History returns all transactions seen so far.
func (c *Chip) History() []spinor.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]spinor.Transaction(nil), c.history...)
}

func (c *Chip) ResetHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

// Opcodes lists the first byte of every command, in order.
func (c *Chip) Opcodes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ops []byte
	for _, t := range c.history {
		for _, cmd := range t {
			if len(cmd.Write) > 0 {
				ops = append(ops, cmd.Write[0])
			}
		}
	}
	return ops
}

// CountTransactions counts transactions that contain a command starting with op.
func (c *Chip) CountTransactions(op byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.history {
		for _, cmd := range t {
			if len(cmd.Write) > 0 && cmd.Write[0] == op {
				n++
				break
			}
		}
	}
	return n
}

func (c *Chip) busy() bool {
	return c.stuck || c.now < c.busyUntil
}

func (c *Chip) statusLocked() byte {
	sr := c.status
	if c.busy() {
		sr |= statusWIP
	}
	if c.wel {
		sr |= statusWEL
	}
	if c.aai {
		sr |= statusAAI
	}
	return sr
}

func (c *Chip) setBusy(d time.Duration) {
	c.busyUntil = c.now + d
}

// Tx executes a transaction, one command per chip select frame.
func (c *Chip) Tx(t spinor.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := make(spinor.Transaction, len(t))
	for i, cmd := range t {
		rec[i] = spinor.Command{Write: append([]byte(nil), cmd.Write...), Read: make([]byte, len(cmd.Read))}
	}
	c.history = append(c.history, rec)

	for i, cmd := range t {
		if err := c.command(cmd.Write, cmd.Read); err != nil {
			return err
		}
		copy(rec[i].Read, cmd.Read)
	}
	return nil
}
