package spinor

const (
	opWREN     = 0x06
	opWRDI     = 0x04
	opRDSR     = 0x05
	opWRSR     = 0x01
	opEWSR     = 0x50
	opRDID     = 0x9f
	opREMS     = 0x90
	opRES      = 0xab
	opRead     = 0x03
	opRead4BA  = 0x13
	opProgram  = 0x02
	opProg4BA  = 0x12
	opAAI      = 0xad
	opEnter4BA = 0xb7
	opExit4BA  = 0xe9
	opWriteEAR = 0xc5
	opReadEAR  = 0xc8
	opRSTEN    = 0x66
	opRST      = 0x99
	opRSTLeg   = 0xf0
)

// Erase opcodes.
const (
	OpErase4K     = 0x20
	OpErase32K    = 0x52
	OpErase64K    = 0xd8
	OpEraseD7     = 0xd7
	OpErasePageDB = 0xdb
	OpEraseDie    = 0xc4
	OpErase4K4BA  = 0x21
	OpErase32K4BA = 0x5c
	OpErase64K4BA = 0xdc
	OpChipErase60 = 0x60
	OpChipEraseC7 = 0xc7
)

const maxAddressBytes = 4
