package fatfs

import (
	"encoding/binary"
	"strings"

	"github.com/aligator/fatfs/checkpoint"
)

// FATType is the variant of a FAT volume. It decides the width of the FAT
// entries and where the root directory lives.
type FATType uint8

const (
	FAT12 FATType = iota + 1
	FAT16
	FAT32
)

func (t FATType) String() string {
	switch t {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	}
	return "unknown"
}

const (
	maxFAT12Clusters = 4084
	maxFAT16Clusters = 65524
	maxFAT32Clusters = 0x0FFFFFF5 - 2
)

// Geometry is the layout of a volume derived from its BPB. All sector
// numbers are absolute within the device.
type Geometry struct {
	Type              FATType
	BytesPerSector    uint32
	SectorsPerCluster uint32
	ReservedSectors   uint32
	NumFATs           uint32
	// FATSize is the number of sectors of one FAT copy.
	FATSize uint32
	// RootEntryCount is the size of the fixed root directory (FAT12/16 only).
	RootEntryCount  uint32
	RootDirSectors  uint32
	FirstRootSector uint32
	FirstDataSector uint32
	TotalSectors    uint32
	// ClusterCount is the number of data clusters. Valid cluster numbers
	// are 2 to ClusterCount+1.
	ClusterCount uint32
	// RootCluster is the first cluster of the root directory (FAT32 only).
	RootCluster uint32
	// FSInfoSector is 0 if there is none.
	FSInfoSector     uint32
	BackupBootSector uint32
	Media            byte
	VolumeID         uint32
	Label            string
	OEMName          string
}

// ParseGeometry validates the boot sector and derives the layout of the volume.
func ParseGeometry(boot []byte) (*Geometry, error) {
	if len(boot) < 512 {
		return nil, checkpoint.With(ErrGeometry, "boot sector has only %d bytes", len(boot))
	}
	if binary.LittleEndian.Uint16(boot[510:]) != bootSignature {
		return nil, checkpoint.With(ErrGeometry, "missing boot sector signature")
	}

	bpb := BPB{}
	if err := unmarshal(boot, &bpb); err != nil {
		return nil, checkpoint.Wrap(err, ErrGeometry)
	}

	// Check for valid jump instructions.
	if !(bpb.BSJumpBoot[0] == 0xEB && bpb.BSJumpBoot[2] == 0x90) && bpb.BSJumpBoot[0] != 0xE9 {
		return nil, checkpoint.With(ErrGeometry, "no valid jump instructions at the beginning")
	}

	// FAT only supports 512, 1024, 2048 and 4096.
	switch bpb.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, checkpoint.With(ErrGeometry, "invalid sector size %d", bpb.BytesPerSector)
	}

	// Sectors per cluster has to be a power of two and greater than 0.
	spc := bpb.SectorsPerCluster
	if spc == 0 || spc&(spc-1) != 0 {
		return nil, checkpoint.With(ErrGeometry, "invalid sectors per cluster %d", spc)
	}

	// Typically 1 for FAT12 and FAT16 and 32 for FAT32.
	if bpb.ReservedSectorCount == 0 {
		return nil, checkpoint.With(ErrGeometry, "invalid reserved sector count")
	}
	if bpb.NumFATs == 0 {
		return nil, checkpoint.With(ErrGeometry, "no FAT")
	}

	g := &Geometry{
		BytesPerSector:    uint32(bpb.BytesPerSector),
		SectorsPerCluster: uint32(spc),
		ReservedSectors:   uint32(bpb.ReservedSectorCount),
		NumFATs:           uint32(bpb.NumFATs),
		RootEntryCount:    uint32(bpb.RootEntryCount),
		Media:             bpb.Media,
		OEMName:           strings.TrimRight(string(bpb.BSOEMName[:]), " \x00"),
	}

	if bpb.TotalSectors16 != 0 {
		g.TotalSectors = uint32(bpb.TotalSectors16)
	} else {
		g.TotalSectors = bpb.TotalSectors32
	}
	if g.TotalSectors == 0 {
		return nil, checkpoint.With(ErrGeometry, "total sector count is 0")
	}

	// A zero 16 bit FAT size declares the FAT32 layout.
	var bootSig byte
	var label [11]byte
	if bpb.FATSize16 == 0 {
		ext := FAT32SpecificData{}
		if err := unmarshal(bpb.FATSpecificData[:], &ext); err != nil {
			return nil, checkpoint.Wrap(err, ErrGeometry)
		}
		if ext.FatSize == 0 {
			return nil, checkpoint.With(ErrGeometry, "FAT size is 0")
		}
		if g.RootEntryCount != 0 {
			return nil, checkpoint.With(ErrGeometry, "FAT32 must not have a fixed root directory")
		}
		g.Type = FAT32
		g.FATSize = ext.FatSize
		g.RootCluster = ext.RootCluster
		if ext.FSInfo != 0 && ext.FSInfo != 0xFFFF && uint32(ext.FSInfo) < g.ReservedSectors {
			g.FSInfoSector = uint32(ext.FSInfo)
		}
		if ext.BkBootSector != 0 && ext.BkBootSector != 0xFFFF && uint32(ext.BkBootSector) < g.ReservedSectors {
			g.BackupBootSector = uint32(ext.BkBootSector)
		}
		bootSig, g.VolumeID, label = ext.BSBootSignature, ext.BSVolumeID, ext.BSVolumeLabel
	} else {
		ext := FAT16SpecificData{}
		if err := unmarshal(bpb.FATSpecificData[:], &ext); err != nil {
			return nil, checkpoint.Wrap(err, ErrGeometry)
		}
		if g.RootEntryCount == 0 || (g.RootEntryCount*entrySize)%g.BytesPerSector != 0 {
			return nil, checkpoint.With(ErrGeometry, "invalid root entry count %d", g.RootEntryCount)
		}
		g.FATSize = uint32(bpb.FATSize16)
		bootSig, g.VolumeID, label = ext.BSBootSignature, ext.BSVolumeID, ext.BSVolumeLabel
	}

	if bootSig == extBootSig {
		g.Label = strings.TrimRight(string(label[:]), " \x00")
		if g.Label == "NO NAME" {
			g.Label = ""
		}
	}

	g.RootDirSectors = (g.RootEntryCount*entrySize + g.BytesPerSector - 1) / g.BytesPerSector
	g.FirstRootSector = g.ReservedSectors + g.NumFATs*g.FATSize
	g.FirstDataSector = g.FirstRootSector + g.RootDirSectors
	if uint64(g.ReservedSectors)+uint64(g.NumFATs)*uint64(g.FATSize)+uint64(g.RootDirSectors) >= uint64(g.TotalSectors) {
		return nil, checkpoint.With(ErrGeometry, "no data region")
	}
	g.ClusterCount = (g.TotalSectors - g.FirstDataSector) / g.SectorsPerCluster
	if g.ClusterCount == 0 {
		return nil, checkpoint.With(ErrGeometry, "no data clusters")
	}

	if g.Type == FAT32 {
		if g.ClusterCount > maxFAT32Clusters {
			return nil, checkpoint.With(ErrGeometry, "%d clusters are too many for FAT32", g.ClusterCount)
		}
		if !g.ValidCluster(g.RootCluster) {
			return nil, checkpoint.With(ErrGeometry, "invalid root cluster %d", g.RootCluster)
		}
	} else {
		switch {
		case g.ClusterCount <= maxFAT12Clusters:
			g.Type = FAT12
		case g.ClusterCount <= maxFAT16Clusters:
			g.Type = FAT16
		default:
			return nil, checkpoint.With(ErrGeometry, "%d clusters are too many for FAT16", g.ClusterCount)
		}
	}

	if uint64(g.FATSize)*uint64(g.BytesPerSector) < fatBytes(g.Type, g.ClusterCount) {
		return nil, checkpoint.With(ErrGeometry, "FAT of %d sectors is too small for %d clusters", g.FATSize, g.ClusterCount)
	}

	return g, nil
}

// fatBytes returns the number of bytes one FAT needs for the given number of
// data clusters, including the two reserved entries.
func fatBytes(t FATType, clusters uint32) uint64 {
	entries := uint64(clusters) + 2
	switch t {
	case FAT12:
		return (entries*3 + 1) / 2
	case FAT16:
		return entries * 2
	default:
		return entries * 4
	}
}

// ClusterSize returns the size of one cluster in bytes.
func (g *Geometry) ClusterSize() uint32 {
	return g.BytesPerSector * g.SectorsPerCluster
}

// MaxCluster is the highest valid cluster number.
func (g *Geometry) MaxCluster() uint32 {
	return g.ClusterCount + 1
}

func (g *Geometry) ValidCluster(c uint32) bool {
	return c >= 2 && c <= g.MaxCluster()
}

// ClusterToSector returns the first sector of the data cluster c. ok is
// false if c is no valid data cluster.
func (g *Geometry) ClusterToSector(c uint32) (sector uint32, ok bool) {
	if !g.ValidCluster(c) {
		return 0, false
	}
	return g.firstSector(c), true
}

// SectorToCluster returns the data cluster containing sector s. ok is false
// if s lies in front of the data region or behind the last cluster.
func (g *Geometry) SectorToCluster(s uint32) (cluster uint32, ok bool) {
	if s < g.FirstDataSector {
		return 0, false
	}
	c := (s-g.FirstDataSector)/g.SectorsPerCluster + 2
	if !g.ValidCluster(c) {
		return 0, false
	}
	return c, true
}

// firstSector maps a cluster already known to be valid.
func (g *Geometry) firstSector(c uint32) uint32 {
	return g.FirstDataSector + (c-2)*g.SectorsPerCluster
}

func (g *Geometry) clusterOffset(c uint32) int64 {
	return int64(g.firstSector(c)) * int64(g.BytesPerSector)
}

func (g *Geometry) fatOffset(copy uint32) int64 {
	return int64(g.ReservedSectors+copy*g.FATSize) * int64(g.BytesPerSector)
}

func (g *Geometry) rootOffset() int64 {
	return int64(g.FirstRootSector) * int64(g.BytesPerSector)
}

// recordsPerCluster is the number of 32 byte directory records in a cluster.
func (g *Geometry) recordsPerCluster() int {
	return int(g.ClusterSize() / entrySize)
}

// rootDir returns the directory reference of the root directory.
func (g *Geometry) rootDir() uint32 {
	if g.Type == FAT32 {
		return g.RootCluster
	}
	return 0
}
