package fatfs

import (
	"encoding/binary"
	"io"

	"github.com/aligator/fatfs/checkpoint"
	"github.com/sirupsen/logrus"
)

// storage is the byte addressable medium below the FAT and the directories.
// *blockcache.Cache implements it.
type storage interface {
	io.ReaderAt
	io.WriterAt
}

// fatTable reads and writes the cluster chains of all FAT copies. It does no
// locking, the volume lock protects it.
type fatTable struct {
	geo *Geometry
	dev storage
	log logrus.FieldLogger

	// free is the number of free clusters.
	free uint32
	// hint is the cluster the next allocation starts scanning at.
	hint uint32
	// infoDirty is set if free or hint changed since the FSInfo sector was written.
	infoDirty bool
}

func newFatTable(geo *Geometry, dev storage, log logrus.FieldLogger) *fatTable {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &fatTable{
		geo:  geo,
		dev:  dev,
		log:  log,
		hint: 2,
	}
}

// eoc is the end of chain marker written by this package.
func (t *fatTable) eoc() uint32 {
	switch t.geo.Type {
	case FAT12:
		return 0xFFF
	case FAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

func (t *fatTable) isEOC(v uint32) bool {
	switch t.geo.Type {
	case FAT12:
		return v >= 0xFF8
	case FAT16:
		return v >= 0xFFF8
	default:
		return v >= 0x0FFFFFF8
	}
}

func (t *fatTable) isBad(v uint32) bool {
	switch t.geo.Type {
	case FAT12:
		return v == 0xFF7
	case FAT16:
		return v == 0xFFF7
	default:
		return v == 0x0FFFFFF7
	}
}

// entryOffset returns the offset of the entry of cluster c inside a FAT copy
// and the number of bytes that have to be read to get it.
func (t *fatTable) entryOffset(c uint32) (int64, int) {
	switch t.geo.Type {
	case FAT12:
		return int64(c + c/2), 2
	case FAT16:
		return int64(c) * 2, 2
	default:
		return int64(c) * 4, 4
	}
}

// get returns the raw entry of cluster c from the first FAT copy.
func (t *fatTable) get(c uint32) (uint32, error) {
	off, width := t.entryOffset(c)
	var buf [4]byte
	if _, err := t.dev.ReadAt(buf[:width], t.geo.fatOffset(0)+off); err != nil {
		return 0, checkpoint.From(err)
	}

	switch t.geo.Type {
	case FAT12:
		v := uint32(binary.LittleEndian.Uint16(buf[:2]))
		if c&1 == 1 {
			return v >> 4, nil
		}
		return v & 0xFFF, nil
	case FAT16:
		return uint32(binary.LittleEndian.Uint16(buf[:2])), nil
	default:
		return binary.LittleEndian.Uint32(buf[:4]) & 0x0FFFFFFF, nil
	}
}

// set writes the entry of cluster c to every FAT copy, the first copy first.
// The upper 4 bits of FAT32 entries and the neighbouring nibble of FAT12
// entries are preserved. A failure after the first copy was written leaves
// the copies diverged and is reported as ErrInconsistent.
func (t *fatTable) set(c, v uint32) error {
	off, width := t.entryOffset(c)
	var buf [4]byte

	for i := uint32(0); i < t.geo.NumFATs; i++ {
		pos := t.geo.fatOffset(i) + off
		err := t.setAt(pos, buf[:width], c, v)
		if err != nil {
			if i > 0 {
				return checkpoint.Wrap(err, ErrInconsistent)
			}
			return err
		}
	}
	return nil
}

func (t *fatTable) setAt(pos int64, buf []byte, c, v uint32) error {
	if t.geo.Type != FAT16 {
		if _, err := t.dev.ReadAt(buf, pos); err != nil {
			return checkpoint.From(err)
		}
	}

	switch t.geo.Type {
	case FAT12:
		cur := binary.LittleEndian.Uint16(buf)
		if c&1 == 1 {
			cur = cur&0x000F | uint16(v&0xFFF)<<4
		} else {
			cur = cur&0xF000 | uint16(v&0xFFF)
		}
		binary.LittleEndian.PutUint16(buf, cur)
	case FAT16:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	default:
		cur := binary.LittleEndian.Uint32(buf)
		binary.LittleEndian.PutUint32(buf, cur&0xF0000000|v&0x0FFFFFFF)
	}

	_, err := t.dev.WriteAt(buf, pos)
	return checkpoint.From(err)
}

// next returns the successor of c. ok is false if c is the end of its chain.
// A link out of range or to a free or bad cluster is reported as
// ErrInconsistent.
func (t *fatTable) next(c uint32) (uint32, bool, error) {
	if !t.geo.ValidCluster(c) {
		return 0, false, checkpoint.With(ErrInconsistent, "cluster %d is out of range", c)
	}
	v, err := t.get(c)
	if err != nil {
		return 0, false, err
	}

	switch {
	case t.isEOC(v):
		return 0, false, nil
	case v == 0:
		return 0, false, checkpoint.With(ErrInconsistent, "cluster %d links to a free cluster", c)
	case t.isBad(v):
		return 0, false, checkpoint.With(ErrInconsistent, "cluster %d links to a bad cluster", c)
	case !t.geo.ValidCluster(v):
		return 0, false, checkpoint.With(ErrInconsistent, "cluster %d links to %#x", c, v)
	}
	return v, true, nil
}

// chain returns all clusters of the chain starting at start.
func (t *fatTable) chain(start uint32) ([]uint32, error) {
	var clusters []uint32
	c := start
	for {
		clusters = append(clusters, c)
		if uint32(len(clusters)) > t.geo.ClusterCount {
			return nil, checkpoint.With(ErrInconsistent, "chain starting at %d has a cycle", start)
		}

		next, ok, err := t.next(c)
		if err != nil {
			return nil, err
		}
		if !ok {
			return clusters, nil
		}
		c = next
	}
}

// allocate reserves count free clusters and links them to a new chain.
// The scan starts at the hint and wraps around. If there are not enough
// free clusters the FAT is not touched and ErrNoSpace is returned.
func (t *fatTable) allocate(count uint32) ([]uint32, error) {
	if count == 0 {
		return nil, nil
	}
	if count > t.free {
		return nil, checkpoint.With(ErrNoSpace, "%d clusters requested, %d free", count, t.free)
	}

	clusters := make([]uint32, 0, count)
	c := t.hint
	if !t.geo.ValidCluster(c) {
		c = 2
	}
	for scanned := uint32(0); scanned < t.geo.ClusterCount && uint32(len(clusters)) < count; scanned++ {
		v, err := t.get(c)
		if err != nil {
			return nil, err
		}
		if v == 0 {
			clusters = append(clusters, c)
		}
		c++
		if c > t.geo.MaxCluster() {
			c = 2
		}
	}
	if uint32(len(clusters)) < count {
		t.log.WithFields(logrus.Fields{"requested": count, "found": len(clusters)}).Warn("free cluster count was wrong")
		t.free = uint32(len(clusters))
		t.infoDirty = true
		return nil, checkpoint.With(ErrNoSpace, "%d clusters requested, %d free", count, len(clusters))
	}

	// Terminate the chain first, then link backwards so that a partial
	// commit never leaves a link to a free cluster.
	last := len(clusters) - 1
	if err := t.set(clusters[last], t.eoc()); err != nil {
		return nil, err
	}
	for i := last - 1; i >= 0; i-- {
		if err := t.set(clusters[i], clusters[i+1]); err != nil {
			return nil, err
		}
	}

	t.free -= count
	t.hint = c
	t.infoDirty = true
	t.log.WithFields(logrus.Fields{"count": count, "first": clusters[0]}).Debug("allocated clusters")
	return clusters, nil
}

// extend appends count new clusters to the chain ending at tail. tail must
// be the end of its chain.
func (t *fatTable) extend(tail, count uint32) ([]uint32, error) {
	if !t.geo.ValidCluster(tail) {
		return nil, checkpoint.With(ErrInconsistent, "cluster %d is out of range", tail)
	}
	v, err := t.get(tail)
	if err != nil {
		return nil, err
	}
	if !t.isEOC(v) {
		return nil, checkpoint.With(ErrInconsistent, "cluster %d is not the end of its chain", tail)
	}

	clusters, err := t.allocate(count)
	if err != nil || len(clusters) == 0 {
		return clusters, err
	}
	if err := t.set(tail, clusters[0]); err != nil {
		return nil, err
	}
	return clusters, nil
}

// truncate frees start and every following cluster of its chain. It returns
// the number of freed clusters.
func (t *fatTable) truncate(start uint32) (uint32, error) {
	var freed uint32
	c := start
	for {
		if !t.geo.ValidCluster(c) {
			return freed, checkpoint.With(ErrInconsistent, "cluster %d is out of range", c)
		}
		if freed > t.geo.ClusterCount {
			return freed, checkpoint.With(ErrInconsistent, "chain starting at %d has a cycle", start)
		}

		v, err := t.get(c)
		if err != nil {
			return freed, err
		}
		if v == 0 || t.isBad(v) {
			return freed, checkpoint.With(ErrInconsistent, "cluster %d in a chain is %#x", c, v)
		}
		if err := t.set(c, 0); err != nil {
			return freed, err
		}

		freed++
		t.free++
		t.infoDirty = true
		if c < t.hint {
			t.hint = c
		}

		if t.isEOC(v) {
			t.log.WithFields(logrus.Fields{"count": freed, "first": start}).Debug("freed clusters")
			return freed, nil
		}
		c = v
	}
}

// truncateAfter makes keep the end of its chain and frees the rest.
func (t *fatTable) truncateAfter(keep uint32) (uint32, error) {
	next, ok, err := t.next(keep)
	if err != nil || !ok {
		return 0, err
	}
	if err := t.set(keep, t.eoc()); err != nil {
		return 0, err
	}
	return t.truncate(next)
}

// countFree scans the whole FAT.
func (t *fatTable) countFree() (uint32, error) {
	var free uint32
	for c := uint32(2); c <= t.geo.MaxCluster(); c++ {
		v, err := t.get(c)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			free++
		}
	}
	return free, nil
}

// load initializes the free cluster count. FAT32 volumes provide it in the
// FSInfo sector, which is used if it looks sane. Other volumes get scanned.
func (t *fatTable) load() error {
	if info, ok := t.readInfo(); ok {
		t.free = info.FreeCount
		if t.geo.ValidCluster(info.NextFree) {
			t.hint = info.NextFree
		}
		t.log.WithField("free", t.free).Debug("free cluster count loaded from FSInfo")
		return nil
	}

	free, err := t.countFree()
	if err != nil {
		return err
	}
	t.free = free
	t.infoDirty = t.geo.FSInfoSector != 0
	t.log.WithField("free", t.free).Debug("free cluster count computed")
	return nil
}

func (t *fatTable) readInfo() (*FSInfo, bool) {
	if t.geo.FSInfoSector == 0 {
		return nil, false
	}
	buf := make([]byte, 512)
	if _, err := t.dev.ReadAt(buf, int64(t.geo.FSInfoSector)*int64(t.geo.BytesPerSector)); err != nil {
		return nil, false
	}
	info := &FSInfo{}
	if err := unmarshal(buf, info); err != nil {
		return nil, false
	}
	if info.LeadSig != fsInfoLeadSig || info.StrucSig != fsInfoStrucSig || info.TrailSig != fsInfoTrailSig {
		return nil, false
	}
	if info.FreeCount == fsInfoUnknown || info.FreeCount > t.geo.ClusterCount {
		return nil, false
	}
	return info, true
}

// sync writes the free cluster count and the hint to the FSInfo sector.
func (t *fatTable) sync() error {
	if t.geo.FSInfoSector == 0 || !t.infoDirty {
		return nil
	}

	off := int64(t.geo.FSInfoSector) * int64(t.geo.BytesPerSector)
	buf := make([]byte, 512)
	if _, err := t.dev.ReadAt(buf, off); err != nil {
		return checkpoint.From(err)
	}
	info := &FSInfo{}
	if err := unmarshal(buf, info); err != nil {
		return checkpoint.From(err)
	}
	info.LeadSig = fsInfoLeadSig
	info.StrucSig = fsInfoStrucSig
	info.TrailSig = fsInfoTrailSig
	info.FreeCount = t.free
	info.NextFree = t.hint

	if _, err := t.dev.WriteAt(marshal(info), off); err != nil {
		return checkpoint.From(err)
	}
	t.infoDirty = false
	return nil
}
