// Package chipdb contains parameters of known SPI NOR chips and detects which
// one is connected.
package chipdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BertoldVdb/spinor/spinor"
	"github.com/retroenv/retrogolib/log"
)

const (
	k = 1024
	m = 1024 * 1024
)

var (
	erase4K  = spinor.EraseBlock{Opcode: spinor.OpErase4K, Size: 4 * k}
	erase32K = spinor.EraseBlock{Opcode: spinor.OpErase32K, Size: 32 * k}
	erase64K = spinor.EraseBlock{Opcode: spinor.OpErase64K, Size: 64 * k}
)

func chipErase(size uint32) []spinor.EraseBlock {
	return []spinor.EraseBlock{{Opcode: spinor.OpChipErase60, Size: size}, {Opcode: spinor.OpChipEraseC7, Size: size}}
}

func common(size uint32) []spinor.EraseBlock {
	return append([]spinor.EraseBlock{erase4K, erase32K, erase64K}, chipErase(size)...)
}

var Chips = []spinor.ChipInfo{
	{Vendor: "Winbond", Name: "W25X20", ManufactureID: 0xef, ModelID: 0x3012, TotalSize: 256 * k, PageSize: 256, Probe: spinor.ProbeRDID, Features: spinor.FeatureWRSRWren, Erase: common(256 * k)},
	{Vendor: "Winbond", Name: "W25Q32", ManufactureID: 0xef, ModelID: 0x4016, TotalSize: 4 * m, PageSize: 256, Probe: spinor.ProbeRDID, Features: spinor.FeatureWRSRWren, Erase: common(4 * m)},
	{Vendor: "Winbond", Name: "W25Q128FV", ManufactureID: 0xef, ModelID: 0x4018, TotalSize: 16 * m, PageSize: 256, Probe: spinor.ProbeRDID, Features: spinor.FeatureWRSRWren, Erase: common(16 * m)},
	{Vendor: "GigaDevice", Name: "GD25Q64", ManufactureID: 0xc8, ModelID: 0x4017, TotalSize: 8 * m, PageSize: 256, Probe: spinor.ProbeRDID, Features: spinor.FeatureWRSRWren, Erase: common(8 * m)},
	{Vendor: "Macronix", Name: "MX25L6405", ManufactureID: 0xc2, ModelID: 0x2017, TotalSize: 8 * m, PageSize: 256, Probe: spinor.ProbeRDID, Features: spinor.FeatureWRSRWren, Erase: []spinor.EraseBlock{erase4K, erase64K, {Opcode: spinor.OpChipErase60, Size: 8 * m}}},
	{Vendor: "Macronix", Name: "MX25L25635F", ManufactureID: 0xc2, ModelID: 0x2019, TotalSize: 32 * m, PageSize: 256, Probe: spinor.ProbeRDID,
		Features: spinor.FeatureWRSRWren | spinor.FeatureRead4BA | spinor.FeatureWrite4BA | spinor.FeatureExtAddrReg,
		Erase: append([]spinor.EraseBlock{
			{Opcode: spinor.OpErase4K4BA, Size: 4 * k}, {Opcode: spinor.OpErase32K4BA, Size: 32 * k}, {Opcode: spinor.OpErase64K4BA, Size: 64 * k},
		}, chipErase(32*m)...)},
	{Vendor: "SST", Name: "SST25VF032B", ManufactureID: 0xbf, ModelID: 0x254a, TotalSize: 4 * m, PageSize: 256, Probe: spinor.ProbeRDID, Write: spinor.WriteAAI, Features: spinor.FeatureWRSRWren | spinor.FeatureWRSREwsr, Erase: common(4 * m)},
	{Vendor: "SST", Name: "SST25VF040.REMS", ManufactureID: 0xbf, ModelID: 0x44, TotalSize: 512 * k, PageSize: 256, Probe: spinor.ProbeREMS, Write: spinor.WriteByte, Features: spinor.FeatureWRSREwsr,
		Erase: append([]spinor.EraseBlock{erase4K, erase32K}, chipErase(512*k)...)},
	{Vendor: "ST", Name: "M25P10.RES", ManufactureID: 0x20, ModelID: 0x10, TotalSize: 128 * k, PageSize: 128, Probe: spinor.ProbeRES1, Features: spinor.FeatureWRSRWren,
		Erase: []spinor.EraseBlock{{Opcode: spinor.OpErase64K, Size: 32 * k}, {Opcode: spinor.OpChipEraseC7, Size: 128 * k}}},
}

// generic matches any chip that answers RDID with a plausible vendor.
var generic = spinor.ChipInfo{Vendor: "Generic", Name: "unknown SPI chip (RDID)", ManufactureID: spinor.GenericManufID, ModelID: spinor.GenericDeviceID, TotalSize: 256, PageSize: 256, Probe: spinor.ProbeRDID}

var ErrNotFound = errors.New("no flash chip found")

// UnknownChipError is returned when a chip answers RDID but is not in the table.
type UnknownChipError struct {
	ID []byte
}

func (e *UnknownChipError) Error() string {
	return fmt.Sprintf("unknown flash chip with RDID % x", e.ID)
}

// Lookup finds a chip by name, ignoring case.
func Lookup(name string) (spinor.ChipInfo, bool) {
	for _, c := range Chips {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return spinor.ChipInfo{}, false
}

// Detect probes every known chip and returns a session for the first match.
// Identification answers are shared between candidates so each command only
// goes over the bus once.
func Detect(t spinor.Transport, logger *log.Logger, opts ...spinor.Option) (*spinor.Chip, error) {
	ids := spinor.NewIDCache()
	opts = append(opts, spinor.WithIDCache(ids))
	if logger != nil {
		opts = append(opts, spinor.WithLogger(logger))
	}

	for _, info := range Chips {
		chip, err := spinor.New(t, info, opts...)
		if err != nil {
			return nil, err
		}

		found, err := chip.Probe()
		if err != nil {
			if logger != nil {
				logger.Debug("Probe failed", log.String("chip", info.Name), log.Stringer("method", info.Probe), log.Err(err))
			}
			continue
		}
		if found {
			if logger != nil {
				logger.Info("Found flash chip", log.String("vendor", info.Vendor), log.String("chip", info.Name), log.Int("size", int(info.TotalSize)))
			}
			return chip, nil
		}
	}

	chip, err := spinor.New(t, generic, opts...)
	if err != nil {
		return nil, err
	}
	if found, _ := chip.Probe(); found {
		id, _ := ids.Cached(spinor.ProbeRDID)
		return nil, &UnknownChipError{ID: id}
	}
	return nil, ErrNotFound
}

// Open creates a session for a named chip without probing.
func Open(t spinor.Transport, name string, opts ...spinor.Option) (*spinor.Chip, error) {
	info, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown chip %q", name)
	}
	return spinor.New(t, info, opts...)
}
