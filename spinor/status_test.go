package spinor_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/BertoldVdb/spinor/spinor"
	"github.com/BertoldVdb/spinor/spinor/emulator"
	"github.com/retroenv/retrogolib/assert"
)

func TestStatusRegisterString(t *testing.T) {
	assert.Equal(t, "0x9d [SRWD BP2 BP1 BP0 WIP]", spinor.StatusRegister(0x9d).String())
	assert.Equal(t, "0x00 []", spinor.StatusRegister(0).String())
	assert.Equal(t, 7, spinor.StatusRegister(0x1c).BlockProtect())
}

func TestWriteStatus(t *testing.T) {
	tests := []struct {
		name     string
		features spinor.Feature
		enable   byte
	}{
		{"wren", spinor.FeatureWRSRWren, 0x06},
		{"ewsr", spinor.FeatureWRSREwsr, 0x50},
		{"both prefers wren", spinor.FeatureWRSRWren | spinor.FeatureWRSREwsr, 0x06},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := genericInfo(64 * 1024)
			info.Features = tt.features
			chip, emu := newChip(t, emulator.Generic(64*1024), info, nil)

			assert.NoError(t, chip.WriteStatus(0x0c))
			assert.Equal(t, byte(0x0c), emu.Status())
			assert.True(t, bytes.Equal([]byte{tt.enable, 0x01}, emu.Opcodes()[:2]))

			sr, err := chip.Status()
			assert.NoError(t, err)
			assert.Equal(t, spinor.StatusRegister(0x0c), sr)
		})
	}
}

func TestWriteStatusTimeout(t *testing.T) {
	chip, emu := newChip(t, emulator.Generic(64*1024), genericInfo(64*1024), nil)
	emu.SetStuck(true)

	start := emu.Now()
	err := chip.WriteStatus(0)
	assert.True(t, errors.Is(err, spinor.ErrTimeout))
	assert.Equal(t, 5*time.Second, emu.Now()-start)
}

func TestWriteStatusTriesEWSRAfterWREN(t *testing.T) {
	info := genericInfo(64 * 1024)
	info.Features = spinor.FeatureWRSRWren | spinor.FeatureWRSREwsr
	chip, emu := newChip(t, emulator.Generic(64*1024), info, nil)
	emu.SetStuck(true)

	err := chip.WriteStatus(0)
	assert.True(t, errors.Is(err, spinor.ErrTimeout))
	assert.Equal(t, 10*time.Second, emu.Now())
	assert.Equal(t, 1, emu.CountTransactions(0x50))
}

func TestPollTimeout(t *testing.T) {
	chip, emu := newChip(t, emulator.Generic(64*1024), genericInfo(64*1024), nil,
		spinor.WithPollTimeout(time.Second))
	emu.SetStuck(true)

	err := chip.BlockErase(spinor.OpErase32K, 0, 32*1024)
	assert.True(t, errors.Is(err, spinor.ErrTimeout))
	assert.Equal(t, time.Second, emu.Now())
}

func TestEraseWaitsForCompletion(t *testing.T) {
	chip, emu := newChip(t, emulator.Generic(64*1024), genericInfo(64*1024), nil)
	emu.Load(0, pattern(4096, 0))

	assert.NoError(t, chip.BlockErase(spinor.OpErase4K, 0, 4096))
	assert.True(t, emu.Now() >= emulator.DefaultTiming.Erase)
	assert.True(t, bytes.Equal(bytes.Repeat([]byte{0xff}, 4096), emu.Memory()[:4096]))
	assert.False(t, spinor.StatusRegister(emu.Status()).Busy())
}

func TestChipEraseNeedsWholeChip(t *testing.T) {
	chip, emu := newChip(t, emulator.Generic(64*1024), genericInfo(64*1024), nil)

	err := chip.BlockErase(spinor.OpChipEraseC7, 0, 60*1024)
	assert.True(t, errors.Is(err, spinor.ErrProgrammer))
	err = chip.BlockErase(spinor.OpChipErase60, 4096, 64*1024)
	assert.True(t, errors.Is(err, spinor.ErrProgrammer))
	assert.Equal(t, 0, len(emu.History()))

	assert.NoError(t, chip.BlockErase(spinor.OpChipEraseC7, 0, 64*1024))
	assert.Equal(t, 1, emu.CountTransactions(0xc7))
}

func eraseOpcodes(emu *emulator.Chip) []byte {
	var ops []byte
	for _, op := range emu.Opcodes() {
		switch op {
		case 0x20, 0x52, 0xd8, 0x60, 0xc7:
			ops = append(ops, op)
		}
	}
	return ops
}

func TestEraseChoosesBlocks(t *testing.T) {
	tests := []struct {
		name   string
		start  uint32
		length uint32
		ops    []byte
	}{
		{"sector", 4096, 4096, []byte{0x20}},
		{"64k plus sector", 0, 68 * 1024, []byte{0xd8, 0x20}},
		{"unaligned start", 32 * 1024, 128 * 1024, []byte{0x52, 0xd8, 0x52}},
		{"whole chip", 0, 256 * 1024, []byte{0xc7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chip, emu := newChip(t, emulator.Generic(256*1024), genericInfo(256*1024), nil)
			emu.Load(0, pattern(256*1024, 0x01))

			assert.NoError(t, chip.Erase(tt.start, tt.length))
			assert.True(t, bytes.Equal(tt.ops, eraseOpcodes(emu)))

			mem := emu.Memory()
			assert.True(t, bytes.Equal(bytes.Repeat([]byte{0xff}, int(tt.length)), mem[tt.start:tt.start+tt.length]))
			if tt.start > 0 {
				assert.Equal(t, pattern(256*1024, 0x01)[tt.start-1], mem[tt.start-1])
			}
		})
	}
}

func TestEraseUnaligned(t *testing.T) {
	chip, _ := newChip(t, emulator.Generic(64*1024), genericInfo(64*1024), nil)

	err := chip.Erase(100, 4096)
	assert.True(t, errors.Is(err, spinor.ErrAddressOutOfRange))
}
