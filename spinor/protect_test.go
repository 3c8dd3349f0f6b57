package spinor_test

import (
	"errors"
	"testing"

	"github.com/BertoldVdb/spinor/internal/testlog"
	"github.com/BertoldVdb/spinor/spinor"
	"github.com/BertoldVdb/spinor/spinor/emulator"
	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrogolib/log"
)

func TestDisableBlockProtectRoundTrip(t *testing.T) {
	emu, err := emulator.New(emulator.Generic(64*1024), emulator.WithStatus(0x9c))
	assert.NoError(t, err)
	chip, err := spinor.New(emu, genericInfo(64*1024), spinor.WithLogger(testlog.New(t)))
	assert.NoError(t, err)

	assert.NoError(t, chip.DisableProtection())
	assert.Equal(t, byte(0x80), emu.Status())
	assert.Equal(t, 1, chip.Restores().Pending())

	// Writing works while unprotected.
	assert.NoError(t, chip.Write([]byte{0x12}, 0))
	assert.Equal(t, byte(0x12), emu.Memory()[0])

	assert.NoError(t, chip.Close())
	assert.Equal(t, byte(0x9c), emu.Status())
	assert.Equal(t, 0, chip.Restores().Pending())

	// A second close must not restore again.
	emu.ResetHistory()
	assert.NoError(t, chip.Close())
	assert.Equal(t, 0, len(emu.History()))
}

func TestDisableBlockProtectUnprotected(t *testing.T) {
	chip, emu := newChip(t, emulator.Generic(64*1024), genericInfo(64*1024), nil)

	assert.NoError(t, chip.DisableBlockProtect())
	assert.Equal(t, 0, emu.CountTransactions(0x01))
	assert.Equal(t, 0, chip.Restores().Pending())
}

func TestProtectionPersisted(t *testing.T) {
	chip, emu := newChip(t, emulator.Generic(64*1024), genericInfo(64*1024),
		[]emulator.Option{emulator.WithStatus(0x9c), emulator.WithWriteProtect(true)})

	err := chip.DisableBlockProtect()
	assert.True(t, errors.Is(err, spinor.ErrProtectionPersisted))
	assert.Equal(t, byte(0x9c), emu.Status())
	assert.Equal(t, 1, chip.Restores().Pending())
}

func TestDisableBlockProtectTwice(t *testing.T) {
	chip, emu := newChip(t, emulator.Generic(64*1024), genericInfo(64*1024),
		[]emulator.Option{emulator.WithStatus(0x9c), emulator.WithWriteProtect(true)})

	assert.Error(t, chip.DisableBlockProtect())
	emu.SetWriteProtect(false)
	assert.NoError(t, chip.DisableBlockProtect())
	assert.Equal(t, 1, chip.Restores().Pending())
}

func TestRestoreRegistry(t *testing.T) {
	r := spinor.NewRestoreRegistry(log.NewTestLogger(t))
	owner := &struct{ name string }{"chip"}

	var calls []spinor.StatusRegister
	restore := func(sr spinor.StatusRegister, err error) spinor.RestoreFunc {
		return func() error {
			calls = append(calls, sr)
			return err
		}
	}

	failure := errors.New("bus gone")
	assert.True(t, r.Register(owner, 0x1c, restore(0x1c, nil)))
	assert.False(t, r.Register(owner, 0x1c, restore(0x1c, nil)))
	assert.True(t, r.Register(owner, 0x0c, restore(0x0c, failure)))
	assert.Equal(t, 2, r.Pending())

	err := r.Drain()
	assert.True(t, errors.Is(err, failure))
	assert.Equal(t, 2, len(calls))
	assert.Equal(t, spinor.StatusRegister(0x0c), calls[0])
	assert.Equal(t, spinor.StatusRegister(0x1c), calls[1])

	assert.NoError(t, r.Drain())
	assert.Equal(t, 2, len(calls))
	assert.False(t, r.Register(owner, 0x04, restore(0x04, nil)))
}

func TestSharedRestoreRegistry(t *testing.T) {
	r := spinor.NewRestoreRegistry(log.NewTestLogger(t))
	chip, emu := newChip(t, emulator.Generic(64*1024), genericInfo(64*1024),
		[]emulator.Option{emulator.WithStatus(0x1c)}, spinor.WithRestoreRegistry(r))

	assert.NoError(t, chip.DisableBlockProtect())
	assert.NoError(t, chip.Close())
	assert.Equal(t, byte(0x00), emu.Status())

	assert.NoError(t, r.Drain())
	assert.Equal(t, byte(0x1c), emu.Status())
}

func TestRestoreSnapshotIsPreDisableValue(t *testing.T) {
	chip, emu := newChip(t, emulator.Generic(64*1024), genericInfo(64*1024),
		[]emulator.Option{emulator.WithStatus(0x1c)})

	assert.NoError(t, chip.DisableBlockProtect())
	assert.Equal(t, byte(0x00), emu.Status())

	assert.NoError(t, chip.Close())
	assert.Equal(t, byte(0x1c), emu.Status())
}

func TestDisableBlockProtectAfterTeardown(t *testing.T) {
	r := spinor.NewRestoreRegistry(testlog.New(t))
	assert.NoError(t, r.Drain())
	assert.True(t, r.Drained())

	chip, emu := newChip(t, emulator.Generic(64*1024), genericInfo(64*1024),
		[]emulator.Option{emulator.WithStatus(0x1c)}, spinor.WithRestoreRegistry(r))

	err := chip.DisableBlockProtect()
	assert.True(t, errors.Is(err, spinor.ErrClosed))
	assert.Equal(t, byte(0x1c), emu.Status())
	assert.Equal(t, 0, emu.CountTransactions(0x01))
}
