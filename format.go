package fatfs

import (
	"encoding/binary"
	"strings"

	"github.com/aligator/fatfs/blockcache"
	"github.com/aligator/fatfs/checkpoint"
	"github.com/google/uuid"
)

// FormatConfig describes the volume Format creates. Zero values select
// defaults.
type FormatConfig struct {
	// Type forces the FAT variant. If 0 the smallest variant that fits is used.
	Type FATType
	// SectorsPerCluster must be a power of two. If 0 it is chosen by size.
	SectorsPerCluster uint8
	// ReservedSectors defaults to 1 for FAT12/16 and 32 for FAT32.
	ReservedSectors uint16
	// NumFATs defaults to 2.
	NumFATs uint8
	// RootEntries is the size of the fixed root directory of FAT12/16,
	// default 512.
	RootEntries uint16
	// Label is the volume label, at most 11 characters.
	Label string
	// VolumeID defaults to a random ID.
	VolumeID uint32
	OEMName  string
}

const (
	defaultOEMName = "FATFS1.0"
	mediaFixed     = 0xF8
)

type layout struct {
	typ      FATType
	spc      uint32
	reserved uint32
	fats     uint32
	rootEnts uint32
	fatSize  uint32
	clusters uint32
}

// computeLayout sizes the FATs for the given parameters. The FAT size
// influences the number of clusters, so it is raised until it fits.
func computeLayout(typ FATType, total, bps, spc, reserved, fats, rootEnts uint32) (layout, bool) {
	rootSecs := (rootEnts*entrySize + bps - 1) / bps
	l := layout{typ: typ, spc: spc, reserved: reserved, fats: fats, rootEnts: rootEnts, fatSize: 1}
	for {
		meta := uint64(reserved) + uint64(fats)*uint64(l.fatSize) + uint64(rootSecs)
		if meta >= uint64(total) {
			return layout{}, false
		}
		l.clusters = (total - uint32(meta)) / spc
		size := uint32((fatBytes(typ, l.clusters) + uint64(bps) - 1) / uint64(bps))
		if size <= l.fatSize {
			break
		}
		l.fatSize = size
	}
	if l.clusters == 0 {
		return layout{}, false
	}

	switch typ {
	case FAT12:
		return l, l.clusters <= maxFAT12Clusters
	case FAT16:
		return l, l.clusters > maxFAT12Clusters && l.clusters <= maxFAT16Clusters
	default:
		return l, l.clusters <= maxFAT32Clusters
	}
}

func chooseLayout(cfg FormatConfig, total, bps uint32) (layout, error) {
	fats := uint32(cfg.NumFATs)
	if fats == 0 {
		fats = 2
	}

	var types []FATType
	switch size := uint64(total) * uint64(bps); {
	case size <= 16<<20:
		types = []FATType{FAT12, FAT16, FAT32}
	case size <= 512<<20:
		types = []FATType{FAT16, FAT32}
	default:
		types = []FATType{FAT32}
	}
	if cfg.Type != 0 {
		types = []FATType{cfg.Type}
	}

	for _, typ := range types {
		reserved := uint32(cfg.ReservedSectors)
		rootEnts := uint32(cfg.RootEntries)
		if typ == FAT32 {
			if reserved == 0 {
				reserved = 32
			}
			// FSInfo and the backup boot sector live in sectors 1, 6 and 7.
			if reserved < 8 {
				return layout{}, checkpoint.With(ErrInvalidArgument, "FAT32 needs at least 8 reserved sectors")
			}
			rootEnts = 0
		} else {
			if reserved == 0 {
				reserved = 1
			}
			if rootEnts == 0 {
				rootEnts = 512
			}
			// Fill whole sectors.
			perSector := bps / entrySize
			rootEnts = (rootEnts + perSector - 1) / perSector * perSector
		}

		spcs := []uint32{uint32(cfg.SectorsPerCluster)}
		if cfg.SectorsPerCluster == 0 {
			spcs = nil
			for spc := uint32(1); spc <= 128 && spc*bps <= 32*1024; spc *= 2 {
				spcs = append(spcs, spc)
			}
			if typ == FAT32 {
				// Prefer 4K clusters.
				spcs = append([]uint32{max32(4096/bps, 1)}, spcs...)
			}
		}

		for _, spc := range spcs {
			if spc == 0 || spc&(spc-1) != 0 {
				return layout{}, checkpoint.With(ErrInvalidArgument, "sectors per cluster %d is not a power of two", spc)
			}
			if l, ok := computeLayout(typ, total, bps, spc, reserved, fats, rootEnts); ok {
				return l, nil
			}
		}
	}
	return layout{}, checkpoint.With(ErrGeometry, "no FAT layout fits %d sectors", total)
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// Format writes an empty FAT volume to dev.
func Format(dev blockcache.Device, cfg FormatConfig) error {
	bps := uint32(dev.SectorSize())
	switch bps {
	case 512, 1024, 2048, 4096:
	default:
		return checkpoint.With(ErrGeometry, "invalid sector size %d", bps)
	}
	if dev.SectorCount() > 0xFFFFFFFF {
		return checkpoint.With(ErrGeometry, "device is too large")
	}
	total := uint32(dev.SectorCount())
	if len(cfg.Label) > 11 {
		return checkpoint.With(ErrInvalidArgument, "label %q is longer than 11 characters", cfg.Label)
	}

	l, err := chooseLayout(cfg, total, bps)
	if err != nil {
		return err
	}

	cache, err := blockcache.New(dev, blockcache.Config{})
	if err != nil {
		return checkpoint.Wrap(err, ErrGeometry)
	}

	boot := bootSector(cfg, l, total, bps)
	if err := writeSector(cache, 0, boot); err != nil {
		return err
	}

	zero := make([]byte, bps)
	rootSecs := (l.rootEnts*entrySize + bps - 1) / bps
	end := l.reserved + l.fats*l.fatSize + rootSecs
	if l.typ == FAT32 {
		end += l.spc
	}
	for s := uint32(1); s < end; s++ {
		if err := writeSector(cache, s, zero); err != nil {
			return err
		}
	}

	if l.typ == FAT32 {
		info := FSInfo{
			LeadSig:   fsInfoLeadSig,
			StrucSig:  fsInfoStrucSig,
			FreeCount: l.clusters - 1,
			NextFree:  3,
			TrailSig:  fsInfoTrailSig,
		}
		sector := make([]byte, bps)
		copy(sector, marshal(&info))
		if err := writeSector(cache, 1, sector); err != nil {
			return err
		}
		if err := writeSector(cache, 6, boot); err != nil {
			return err
		}
		if err := writeSector(cache, 7, sector); err != nil {
			return err
		}
	}

	geo, err := ParseGeometry(boot)
	if err != nil {
		return err
	}
	fat := newFatTable(geo, cache, nil)
	// Entry 0 repeats the media byte, entry 1 is a reserved end of chain.
	if err := fat.set(0, 0x0FFFFF00|mediaFixed); err != nil {
		return err
	}
	if err := fat.set(1, 0x0FFFFFFF); err != nil {
		return err
	}
	if l.typ == FAT32 {
		if err := fat.set(geo.RootCluster, fat.eoc()); err != nil {
			return err
		}
	}

	if cfg.Label != "" {
		h := EntryHeader{Attribute: AttrVolumeID}
		copy(h.Name[:], padLabel(cfg.Label))
		var off int64
		if l.typ == FAT32 {
			off = geo.clusterOffset(geo.RootCluster)
		} else {
			off = geo.rootOffset()
		}
		if _, err := cache.WriteAt(marshal(&h), off); err != nil {
			return checkpoint.From(err)
		}
	}

	return checkpoint.From(cache.Close())
}

func writeSector(cache *blockcache.Cache, s uint32, data []byte) error {
	_, err := cache.WriteAt(data, int64(s)*int64(len(data)))
	return checkpoint.From(err)
}

func padLabel(label string) string {
	if label == "" {
		label = "NO NAME"
	}
	return strings.ToUpper(label) + strings.Repeat(" ", 11-len(label))
}

func bootSector(cfg FormatConfig, l layout, total, bps uint32) []byte {
	volumeID := cfg.VolumeID
	if volumeID == 0 {
		volumeID = uuid.New().ID()
	}
	oem := cfg.OEMName
	if oem == "" {
		oem = defaultOEMName
	}

	bpb := BPB{
		BSJumpBoot:          [3]byte{0xEB, 0x3C, 0x90},
		BytesPerSector:      uint16(bps),
		SectorsPerCluster:   byte(l.spc),
		ReservedSectorCount: uint16(l.reserved),
		NumFATs:             byte(l.fats),
		RootEntryCount:      uint16(l.rootEnts),
		Media:               mediaFixed,
		SectorsPerTrack:     63,
		NumberOfHeads:       255,
	}
	copy(bpb.BSOEMName[:], oem+strings.Repeat(" ", 8))
	if total < 0x10000 && l.typ != FAT32 {
		bpb.TotalSectors16 = uint16(total)
	} else {
		bpb.TotalSectors32 = total
	}

	var label [11]byte
	copy(label[:], padLabel(cfg.Label))

	if l.typ == FAT32 {
		bpb.BSJumpBoot[1] = 0x58
		ext := FAT32SpecificData{
			FatSize:         l.fatSize,
			RootCluster:     2,
			FSInfo:          1,
			BkBootSector:    6,
			BSDriveNumber:   0x80,
			BSBootSignature: extBootSig,
			BSVolumeID:      volumeID,
			BSVolumeLabel:   label,
		}
		copy(ext.BSFileSystemType[:], "FAT32   ")
		copy(bpb.FATSpecificData[:], marshal(&ext))
	} else {
		bpb.FATSize16 = uint16(l.fatSize)
		ext := FAT16SpecificData{
			BSDriveNumber:   0x80,
			BSBootSignature: extBootSig,
			BSVolumeID:      volumeID,
			BSVolumeLabel:   label,
		}
		copy(ext.BSFileSystemType[:], l.typ.String()+"   ")
		copy(bpb.FATSpecificData[:], marshal(&ext))
	}

	sector := make([]byte, bps)
	copy(sector, marshal(&bpb))
	binary.LittleEndian.PutUint16(sector[510:], bootSignature)
	return sector
}
