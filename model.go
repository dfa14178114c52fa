// File model contains the structs which match the direct structures of the FAT filesystem.

package fatfs

import (
	"bytes"
	"encoding/binary"
)

// Attributes of a directory entry.
const (
	AttrReadOnly  byte = 0x01
	AttrHidden    byte = 0x02
	AttrSystem    byte = 0x04
	AttrVolumeID  byte = 0x08
	AttrDirectory byte = 0x10
	AttrArchive   byte = 0x20
	AttrLongName       = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

const (
	entrySize      = 32
	entryFree      = 0xE5
	entryEnd       = 0x00
	entryKanjiE5   = 0x05
	lfnLast        = 0x40
	lfnSeqMask     = 0x1F
	lfnCharsPerRec = 13

	// Case flags stored in EntryHeader.NTReserved.
	ntLowerBase = 0x08
	ntLowerExt  = 0x10

	bootSignature   = 0xAA55
	extBootSig      = 0x29
	fsInfoLeadSig   = 0x41615252
	fsInfoStrucSig  = 0x61417272
	fsInfoTrailSig  = 0xAA550000
	fsInfoUnknown   = 0xFFFFFFFF
	fatSpecificSize = 54
)

// BPB is the BIOS parameter block at the start of the boot sector. The
// variant specific part is kept raw in FATSpecificData because its layout
// depends on the FAT type.
type BPB struct {
	BSJumpBoot          [3]byte
	BSOEMName           [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   byte
	ReservedSectorCount uint16
	NumFATs             byte
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               byte
	FATSize16           uint16
	SectorsPerTrack     uint16
	NumberOfHeads       uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
	FATSpecificData     [fatSpecificSize]byte
}

type FAT16SpecificData struct {
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeID       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

type FAT32SpecificData struct {
	FatSize          uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfo           uint16
	BkBootSector     uint16
	Reserved         [12]byte
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeID       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

// FSInfo is the FAT32 sector holding the free cluster hints.
type FSInfo struct {
	LeadSig   uint32
	Reserved1 [480]byte
	StrucSig  uint32
	FreeCount uint32
	NextFree  uint32
	Reserved2 [12]byte
	TrailSig  uint32
}

// EntryHeader is the 32 byte short directory record.
type EntryHeader struct {
	Name            [11]byte
	Attribute       byte
	NTReserved      byte
	CreateTimeTenth byte
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

func (h *EntryHeader) FirstCluster() uint32 {
	return uint32(h.FirstClusterHI)<<16 | uint32(h.FirstClusterLO)
}

func (h *EntryHeader) SetFirstCluster(c uint32) {
	h.FirstClusterHI = uint16(c >> 16)
	h.FirstClusterLO = uint16(c)
}

// LongFilenameEntry is one 32 byte record of a long name run. It holds 13
// UTF-16 code units.
type LongFilenameEntry struct {
	Sequence  byte
	First     [5]uint16
	Attribute byte
	EntryType byte
	Checksum  byte
	Second    [6]uint16
	Zero      [2]byte
	Third     [2]uint16
}

func (l *LongFilenameEntry) chars() [lfnCharsPerRec]uint16 {
	var c [lfnCharsPerRec]uint16
	copy(c[0:5], l.First[:])
	copy(c[5:11], l.Second[:])
	copy(c[11:13], l.Third[:])
	return c
}

func (l *LongFilenameEntry) setChars(c [lfnCharsPerRec]uint16) {
	copy(l.First[:], c[0:5])
	copy(l.Second[:], c[5:11])
	copy(l.Third[:], c[11:13])
}

// unmarshal decodes the little endian on-disk layout of b into v.
func unmarshal(b []byte, v interface{}) error {
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, v)
}

// marshal encodes v into its on-disk layout. v must be one of the fixed size
// structs above, for which encoding cannot fail.
func marshal(v interface{}) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, v)
	return buf.Bytes()
}
