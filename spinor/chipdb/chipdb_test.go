package chipdb

import (
	"errors"
	"testing"

	"github.com/BertoldVdb/spinor/spinor/emulator"
	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrogolib/log"
)

func TestTableIsValid(t *testing.T) {
	for _, c := range Chips {
		assert.True(t, c.PageSize > 0)
		assert.Equal(t, uint32(0), c.TotalSize%c.PageSize)
		for _, b := range c.Erase {
			assert.Equal(t, uint32(0), c.TotalSize%b.Size)
		}
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		model emulator.Model
		name  string
	}{
		{emulator.W25Q128FV, "W25Q128FV"},
		{emulator.MX25L25635F, "MX25L25635F"},
		{emulator.SST25VF032B, "SST25VF032B"},
		{emulator.SST25VF040REMS, "SST25VF040.REMS"},
		{emulator.M25P10RES, "M25P10.RES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emu, err := emulator.New(tt.model)
			assert.NoError(t, err)

			chip, err := Detect(emu, log.NewTestLogger(t))
			assert.NoError(t, err)
			assert.Equal(t, tt.name, chip.Info().Name)
			assert.Equal(t, 1, emu.CountTransactions(0x9f))
		})
	}
}

func TestDetectUnknown(t *testing.T) {
	emu, err := emulator.New(emulator.Generic(64 * 1024))
	assert.NoError(t, err)

	_, err = Detect(emu, nil)
	var unknown *UnknownChipError
	assert.True(t, errors.As(err, &unknown))
	assert.Equal(t, "unknown flash chip with RDID ee ee 48", err.Error())
}

func TestDetectNothing(t *testing.T) {
	model := emulator.M25P10RES
	model.RES = nil
	emu, err := emulator.New(model)
	assert.NoError(t, err)

	_, err = Detect(emu, nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLookup(t *testing.T) {
	info, ok := Lookup("w25q128fv")
	assert.True(t, ok)
	assert.Equal(t, uint32(16*1024*1024), info.TotalSize)

	_, ok = Lookup("nonexistent")
	assert.False(t, ok)
}
