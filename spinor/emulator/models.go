package emulator

// Model describes the chip being emulated.
type Model struct {
	Name string
	Size uint32
	// PageSize is the page program wrap size. Zero means the chip only
	// programs one byte per command.
	PageSize uint32

	RDID []byte
	REMS []byte
	RES  []byte

	AAI        bool
	Native4BA  bool
	ExtAddrReg bool

	// Erase maps erase opcodes to block sizes. A size equal to Size is a chip erase.
	Erase map[byte]uint32
}

func (m Model) hasRDID() bool { return len(m.RDID) > 0 }

var (
	M25P10RES = Model{
		Name:     "M25P10.RES",
		Size:     128 * 1024,
		PageSize: 128,
		RES:      []byte{0x10},
		Erase: map[byte]uint32{
			0xd8: 32 * 1024,
			0xc7: 128 * 1024,
		},
	}

	SST25VF040REMS = Model{
		Name: "SST25VF040.REMS",
		Size: 512 * 1024,
		REMS: []byte{0xbf, 0x44},
		RES:  []byte{0xbf, 0x44},
		Erase: map[byte]uint32{
			0x20: 4 * 1024,
			0x52: 32 * 1024,
			0x60: 512 * 1024,
			0xc7: 512 * 1024,
		},
	}

	SST25VF032B = Model{
		Name: "SST25VF032B",
		Size: 4 * 1024 * 1024,
		RDID: []byte{0xbf, 0x25, 0x4a},
		REMS: []byte{0xbf, 0x4a},
		RES:  []byte{0xbf, 0x4a},
		AAI:  true,
		Erase: map[byte]uint32{
			0x20: 4 * 1024,
			0x52: 32 * 1024,
			0xd8: 64 * 1024,
			0x60: 4 * 1024 * 1024,
			0xc7: 4 * 1024 * 1024,
		},
	}

	W25Q128FV = Model{
		Name:     "W25Q128FV",
		Size:     16 * 1024 * 1024,
		PageSize: 256,
		RDID:     []byte{0xef, 0x40, 0x18},
		REMS:     []byte{0xef, 0x17},
		RES:      []byte{0x17},
		Erase: map[byte]uint32{
			0x20: 4 * 1024,
			0x52: 32 * 1024,
			0xd8: 64 * 1024,
			0x60: 16 * 1024 * 1024,
			0xc7: 16 * 1024 * 1024,
		},
	}

	MX25L25635F = Model{
		Name:       "MX25L25635F",
		Size:       32 * 1024 * 1024,
		PageSize:   256,
		RDID:       []byte{0xc2, 0x20, 0x19},
		REMS:       []byte{0xc2, 0x18},
		RES:        []byte{0x18},
		Native4BA:  true,
		ExtAddrReg: true,
		Erase: map[byte]uint32{
			0x20: 4 * 1024,
			0x52: 32 * 1024,
			0xd8: 64 * 1024,
			0x21: 4 * 1024,
			0x5c: 32 * 1024,
			0xdc: 64 * 1024,
			0x60: 32 * 1024 * 1024,
			0xc7: 32 * 1024 * 1024,
		},
	}
)

var models = []Model{M25P10RES, SST25VF040REMS, SST25VF032B, W25Q128FV, MX25L25635F}

// Generic returns a page programmable chip of the given size with the common
// 4K/32K/64K erase opcodes.
func Generic(size uint32) Model {
	return Model{
		Name:     "VARIABLE_SIZE",
		Size:     size,
		PageSize: 256,
		RDID:     []byte{0xee, 0xee, 0x48},
		Erase: map[byte]uint32{
			0x20: 4 * 1024,
			0x52: 32 * 1024,
			0xd8: 64 * 1024,
			0x60: size,
			0xc7: size,
		},
	}
}

// ModelByName returns one of the built in models.
func ModelByName(name string) (Model, bool) {
	for _, m := range models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}
