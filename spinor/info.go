package spinor

import (
	"fmt"
	"strings"
)

type Feature uint32

const (
	// FeatureRead4BA means READ always takes a four byte address (opcode 0x13).
	FeatureRead4BA Feature = 1 << iota
	// FeatureWrite4BA means page program always takes a four byte address (opcode 0x12).
	FeatureWrite4BA
	// FeatureExtAddrReg means the chip has an extended address register
	// holding address bits 24-31 while in three byte mode.
	FeatureExtAddrReg
	FeatureWRSRWren
	FeatureWRSREwsr
	// Feature4BAWren means EN4B/EX4B must be preceded by WREN.
	Feature4BAWren
)

var featureNames = []string{"READ_4BA", "WRITE_4BA", "EXT_ADDR_REG", "WRSR_WREN", "WRSR_EWSR", "4BA_WREN"}

func (f Feature) Has(o Feature) bool {
	return f&o == o
}

func (f Feature) String() string {
	var parts []string
	for i, name := range featureNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Wildcards for ChipInfo.ManufactureID and ChipInfo.ModelID.
const (
	GenericManufID  = 0xffff
	GenericDeviceID = 0xffff
)

type ProbeMethod int

const (
	ProbeRDID ProbeMethod = iota
	ProbeRDID4
	ProbeREMS
	ProbeRES1
	ProbeRES2
)

func (p ProbeMethod) String() string {
	switch p {
	case ProbeRDID:
		return "RDID"
	case ProbeRDID4:
		return "RDID4"
	case ProbeREMS:
		return "REMS"
	case ProbeRES1:
		return "RES1"
	case ProbeRES2:
		return "RES2"
	}
	return fmt.Sprintf("ProbeMethod(%d)", int(p))
}

type WriteMethod int

const (
	WritePage WriteMethod = iota
	WriteAAI
	WriteByte
)

func (w WriteMethod) String() string {
	switch w {
	case WritePage:
		return "page"
	case WriteAAI:
		return "aai"
	case WriteByte:
		return "byte"
	}
	return fmt.Sprintf("WriteMethod(%d)", int(w))
}

// EraseBlock is one erase granularity offered by a chip. A Size equal to the
// chip size with a chip erase opcode erases everything.
type EraseBlock struct {
	Opcode byte
	Size   uint32
}

// ChipInfo holds the immutable parameters of a chip, usually taken from chipdb.
type ChipInfo struct {
	Vendor string
	Name   string

	ManufactureID uint32
	ModelID       uint32

	TotalSize uint32
	PageSize  uint32

	Features Feature
	Probe    ProbeMethod
	Write    WriteMethod
	Erase    []EraseBlock

	// StatusReadLen is the number of bytes clocked in for RDSR. Some
	// controllers only work with two. Zero means one.
	StatusReadLen int
}

func (c ChipInfo) String() string {
	return fmt.Sprintf("%s %s (%d kB)", c.Vendor, c.Name, c.TotalSize/1024)
}

func (c ChipInfo) validate() error {
	if c.PageSize == 0 {
		return &ProgrammerError{Op: "new", Msg: "page size is zero"}
	}
	if c.TotalSize == 0 || c.TotalSize%c.PageSize != 0 {
		return &ProgrammerError{Op: "new", Msg: fmt.Sprintf("total size %d is not a multiple of page size %d", c.TotalSize, c.PageSize)}
	}
	return nil
}
