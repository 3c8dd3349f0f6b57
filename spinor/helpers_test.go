package spinor_test

import (
	"testing"

	"github.com/BertoldVdb/spinor/internal/testlog"
	"github.com/BertoldVdb/spinor/spinor"
	"github.com/BertoldVdb/spinor/spinor/emulator"
	"github.com/retroenv/retrogolib/assert"
)

func genericInfo(size uint32) spinor.ChipInfo {
	return spinor.ChipInfo{
		Vendor:        "Test",
		Name:          "generic",
		ManufactureID: 0xee,
		ModelID:       0xee48,
		TotalSize:     size,
		PageSize:      256,
		Probe:         spinor.ProbeRDID,
		Features:      spinor.FeatureWRSRWren,
		Erase: []spinor.EraseBlock{
			{Opcode: spinor.OpErase4K, Size: 4096},
			{Opcode: spinor.OpErase32K, Size: 32 * 1024},
			{Opcode: spinor.OpErase64K, Size: 64 * 1024},
			{Opcode: spinor.OpChipEraseC7, Size: size},
		},
	}
}

func newChip(t *testing.T, model emulator.Model, info spinor.ChipInfo, emuOpts []emulator.Option, opts ...spinor.Option) (*spinor.Chip, *emulator.Chip) {
	t.Helper()

	emu, err := emulator.New(model, emuOpts...)
	assert.NoError(t, err)

	opts = append([]spinor.Option{spinor.WithLogger(testlog.New(t))}, opts...)
	chip, err := spinor.New(emu, info, opts...)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = chip.Close() })
	return chip, emu
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7) ^ seed
	}
	return b
}

type readCmd struct {
	op   byte
	addr uint32
	n    int
}

// reads decodes every READ command seen by the emulator.
func reads(emu *emulator.Chip, fourByte bool) []readCmd {
	var out []readCmd
	for _, tx := range emu.History() {
		for _, cmd := range tx {
			w := cmd.Write
			switch {
			case len(w) == 5 && (w[0] == 0x13 || (w[0] == 0x03 && fourByte)):
				out = append(out, readCmd{w[0], uint32(w[1])<<24 | uint32(w[2])<<16 | uint32(w[3])<<8 | uint32(w[4]), len(cmd.Read)})
			case len(w) == 4 && w[0] == 0x03:
				out = append(out, readCmd{w[0], uint32(w[1])<<16 | uint32(w[2])<<8 | uint32(w[3]), len(cmd.Read)})
			}
		}
	}
	return out
}
