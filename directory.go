package fatfs

import (
	"io"
	"time"

	"github.com/aligator/fatfs/checkpoint"
)

// maxDirRecords is the maximum number of 32 byte records of a directory.
const maxDirRecords = 65536

// DirEntry describes a file or a directory of the volume.
type DirEntry struct {
	// Name is the long name if there is one, else the 8.3 name.
	Name string
	// ShortName is the 8.3 alias in its display form "NAME.EXT".
	ShortName string
	Attr      byte
	Cluster   uint32
	Size      uint32
	Created   time.Time
	Modified  time.Time
	Accessed  time.Time

	root    bool
	dir     uint32
	index   int
	records []int64
	short   shortName
}

func (e *DirEntry) IsDir() bool {
	return e.root || e.Attr&AttrDirectory != 0
}

func (e *DirEntry) IsRoot() bool {
	return e.root
}

// key identifies the entry on disk: the byte offset of its short record.
func (e *DirEntry) key() int64 {
	if e.root {
		return -1
	}
	return e.records[len(e.records)-1]
}

func (v *Volume) rootEntry() *DirEntry {
	return &DirEntry{
		Name:    "/",
		Attr:    AttrDirectory,
		Cluster: v.geo.rootDir(),
		root:    true,
	}
}

// dirRef maps the cluster number of a directory record to the reference
// used for directories. ".." records of first level directories point to
// cluster 0, which means the root.
func (v *Volume) dirRef(cluster uint32) uint32 {
	if cluster == 0 {
		return v.geo.rootDir()
	}
	return cluster
}

// childDir returns the directory reference to descend into e.
func (v *Volume) childDir(e *DirEntry) (uint32, error) {
	if !e.IsDir() {
		return 0, checkpoint.With(ErrNotADirectory, "%q", e.Name)
	}
	if e.root {
		return v.geo.rootDir(), nil
	}
	if !v.geo.ValidCluster(e.Cluster) {
		return 0, checkpoint.With(ErrInconsistent, "directory %q starts at cluster %d", e.Name, e.Cluster)
	}
	return e.Cluster, nil
}

// dirWalker maps record indexes of a directory to byte offsets. It
// remembers the last visited cluster so sequential access does not walk the
// chain from its start again.
type dirWalker struct {
	v   *Volume
	dir uint32
	per int

	cluster uint32
	base    int
}

func (v *Volume) newDirWalker(dir uint32) *dirWalker {
	return &dirWalker{v: v, dir: dir, per: v.geo.recordsPerCluster()}
}

func (w *dirWalker) fixed() bool {
	return w.dir == 0
}

// offset returns the byte offset of record i. ok is false if i is behind
// the end of the directory.
func (w *dirWalker) offset(i int) (int64, bool, error) {
	if i < 0 || i >= maxDirRecords {
		return 0, false, nil
	}
	if w.fixed() {
		if i >= int(w.v.geo.RootEntryCount) {
			return 0, false, nil
		}
		return w.v.geo.rootOffset() + int64(i)*entrySize, true, nil
	}

	if w.cluster == 0 || i < w.base {
		w.cluster, w.base = w.dir, 0
	}
	for i >= w.base+w.per {
		next, ok, err := w.v.fat.next(w.cluster)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
		w.cluster = next
		w.base += w.per
	}
	return w.v.geo.clusterOffset(w.cluster) + int64(i-w.base)*entrySize, true, nil
}

// dirIter decodes the entries of a directory one by one.
type dirIter struct {
	w     *dirWalker
	index int
	done  bool

	run      [][lfnCharsPerRec]uint16
	runOffs  []int64
	runSum   byte
	expected int
}

// iterate returns an iterator over dir starting at record index from.
func (v *Volume) iterate(dir uint32, from int) *dirIter {
	return &dirIter{w: v.newDirWalker(dir), index: from}
}

// cursor is the record index the next call of next continues at.
func (it *dirIter) cursor() int {
	return it.index
}

func (it *dirIter) resetRun() {
	it.run = nil
	it.runOffs = nil
	it.expected = 0
}

// next returns the next entry or io.EOF after the last one. Deleted
// records, volume labels, "." and ".." are skipped. Long name runs whose
// checksum does not match the short record are ignored.
func (it *dirIter) next() (*DirEntry, error) {
	var rec [entrySize]byte
	for !it.done {
		off, ok, err := it.w.offset(it.index)
		if err != nil {
			return nil, err
		}
		if !ok {
			it.done = true
			break
		}
		if _, err := it.w.v.meta.ReadAt(rec[:], off); err != nil {
			return nil, checkpoint.From(err)
		}

		switch {
		case rec[0] == entryEnd:
			// Keep the cursor at the end marker so that a continued listing
			// sees entries inserted later.
			it.done = true
			it.resetRun()
		case rec[0] == entryFree:
			it.index++
			it.resetRun()
		case rec[11]&0x3F == AttrLongName:
			it.index++
			if err := it.addLongName(rec[:], off); err != nil {
				return nil, err
			}
		case rec[11]&AttrVolumeID != 0:
			it.index++
			it.resetRun()
		default:
			idx := it.index
			it.index++
			e, err := it.decodeShort(rec[:], off, idx)
			if err != nil {
				return nil, err
			}
			if e != nil {
				return e, nil
			}
		}
	}
	return nil, io.EOF
}

func (it *dirIter) addLongName(rec []byte, off int64) error {
	lfn := LongFilenameEntry{}
	if err := unmarshal(rec, &lfn); err != nil {
		return checkpoint.From(err)
	}

	seq := int(lfn.Sequence & lfnSeqMask)
	if lfn.Sequence&lfnLast != 0 {
		if seq == 0 || seq*lfnCharsPerRec > maxLongNameLength+lfnCharsPerRec {
			it.resetRun()
			return nil
		}
		it.run = make([][lfnCharsPerRec]uint16, seq)
		it.run[seq-1] = lfn.chars()
		it.runOffs = []int64{off}
		it.runSum = lfn.Checksum
		it.expected = seq
		return nil
	}

	if it.run == nil || seq == 0 || seq != it.expected-1 || lfn.Checksum != it.runSum {
		// Orphaned record.
		it.resetRun()
		return nil
	}
	it.run[seq-1] = lfn.chars()
	it.runOffs = append(it.runOffs, off)
	it.expected = seq
	return nil
}

func (it *dirIter) decodeShort(rec []byte, off int64, idx int) (*DirEntry, error) {
	h := EntryHeader{}
	if err := unmarshal(rec, &h); err != nil {
		return nil, checkpoint.From(err)
	}
	name := shortName(h.Name)
	if name.isDot() {
		it.resetRun()
		return nil, nil
	}

	e := it.w.v.decodeHeader(&h)
	e.dir = it.w.dir
	e.index = idx

	if it.run != nil && it.expected == 1 && it.runSum == name.checksum() {
		e.Name = decodeLongName(it.run)
		e.records = append(it.runOffs, off)
	} else {
		e.records = []int64{off}
	}
	it.resetRun()
	return e, nil
}

func (v *Volume) decodeHeader(h *EntryHeader) *DirEntry {
	name := shortName(h.Name)
	cluster := h.FirstCluster()
	if v.geo.Type != FAT32 {
		cluster = uint32(h.FirstClusterLO)
	}

	created := ParseDateTime(h.CreateDate, h.CreateTime)
	if !created.IsZero() && h.CreateTimeTenth < 200 {
		created = created.Add(time.Duration(h.CreateTimeTenth) * 10 * time.Millisecond)
	}

	return &DirEntry{
		Name:      name.display(h.NTReserved),
		ShortName: name.String(),
		Attr:      h.Attribute,
		Cluster:   cluster,
		Size:      h.FileSize,
		Created:   created,
		Modified:  ParseDateTime(h.WriteDate, h.WriteTime),
		Accessed:  ParseDate(h.LastAccessDate),
		short:     name,
	}
}

// lookup finds name in dir comparing it case insensitive with the long
// name and the 8.3 alias of every entry.
func (v *Volume) lookup(dir uint32, name string) (*DirEntry, error) {
	it := v.iterate(dir, 0)
	for {
		e, err := it.next()
		if err == io.EOF {
			return nil, checkpoint.With(ErrNotFound, "%q", name)
		}
		if err != nil {
			return nil, err
		}
		if equalFold(e.Name, name) || equalFold(e.ShortName, name) {
			return e, nil
		}
	}
}

// isEmpty reports whether dir has no entries besides "." and "..".
func (v *Volume) isEmpty(dir uint32) (bool, error) {
	_, err := v.iterate(dir, 0).next()
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

// template is the content of an entry to be inserted.
type template struct {
	name     string
	attr     byte
	cluster  uint32
	size     uint32
	created  time.Time
	modified time.Time
	accessed time.Time
}

// insert adds a new entry to dir. Existing entries are compared case
// insensitive with the new name, the entry with the key ignore is skipped
// which allows renaming an entry to a different case of its own name.
// A directory template without a cluster gets a new initialized cluster.
func (v *Volume) insert(dir uint32, t template, ignore int64) (*DirEntry, error) {
	if err := validateLongName(t.name); err != nil {
		return nil, err
	}

	taken := make(map[shortName]bool)
	it := v.iterate(dir, 0)
	for {
		e, err := it.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if e.key() == ignore {
			continue
		}
		if equalFold(e.Name, t.name) || equalFold(e.ShortName, t.name) {
			return nil, checkpoint.With(ErrAlreadyExists, "%q", t.name)
		}
		taken[e.short] = true
	}

	plan := planShortName(t.name)
	sn := plan.name
	var blocks [][lfnCharsPerRec]uint16
	if plan.lossy {
		var err error
		if sn, err = uniqueAlias(plan.name, taken); err != nil {
			return nil, err
		}
		blocks = longNameRecords(t.name)
	}
	need := len(blocks) + 1

	w := v.newDirWalker(dir)
	start, grow, endInRun, err := v.findSlots(w, need)
	if err != nil {
		return nil, err
	}

	mkdir := t.attr&AttrDirectory != 0 && t.cluster == 0
	required := grow
	if mkdir {
		required++
	}
	if required > v.fat.free {
		return nil, checkpoint.With(ErrNoSpace, "%d clusters needed, %d free", required, v.fat.free)
	}

	if grow > 0 {
		if err := v.growDir(w, grow); err != nil {
			return nil, err
		}
	}

	if mkdir {
		clusters, err := v.fat.allocate(1)
		if err != nil {
			return nil, err
		}
		t.cluster = clusters[0]
		if err := v.initDir(t.cluster, dir, t.created); err != nil {
			return nil, err
		}
	}

	offs := make([]int64, need)
	for i := range offs {
		off, ok, err := w.offset(start + i)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, checkpoint.With(ErrInconsistent, "record %d of the directory vanished", start+i)
		}
		offs[i] = off
	}

	sum := sn.checksum()
	for j := range blocks {
		seq := len(blocks) - j
		lfn := LongFilenameEntry{
			Sequence:  byte(seq),
			Attribute: AttrLongName,
			Checksum:  sum,
		}
		if j == 0 {
			lfn.Sequence |= lfnLast
		}
		lfn.setChars(blocks[seq-1])
		if _, err := v.meta.WriteAt(marshal(&lfn), offs[j]); err != nil {
			return nil, checkpoint.From(err)
		}
	}

	h := EntryHeader{
		Name:            sn,
		Attribute:       t.attr,
		NTReserved:      plan.flags,
		CreateTimeTenth: encodeTenth(t.created),
		CreateTime:      EncodeTime(t.created),
		CreateDate:      EncodeDate(t.created),
		LastAccessDate:  EncodeDate(t.accessed),
		WriteTime:       EncodeTime(t.modified),
		WriteDate:       EncodeDate(t.modified),
		FileSize:        t.size,
	}
	h.SetFirstCluster(t.cluster)
	if _, err := v.meta.WriteAt(marshal(&h), offs[need-1]); err != nil {
		return nil, checkpoint.From(err)
	}

	// The run replaced the end marker, so the record behind it has to
	// become the new one.
	if endInRun {
		if off, ok, err := w.offset(start + need); err != nil {
			return nil, err
		} else if ok {
			if _, err := v.meta.WriteAt([]byte{entryEnd}, off); err != nil {
				return nil, checkpoint.From(err)
			}
		}
	}

	e := v.decodeHeader(&h)
	e.Name = t.name
	if !plan.lossy {
		e.Name = sn.display(plan.flags)
	}
	e.dir = dir
	e.index = start + need - 1
	e.records = offs
	return e, nil
}

// findSlots searches need contiguous free records. If there are none the
// directory has to grow by grow clusters and the run begins at start.
// endInRun reports whether the run overwrites the end marker.
func (v *Volume) findSlots(w *dirWalker, need int) (start int, grow uint32, endInRun bool, err error) {
	var rec [1]byte
	runStart, runLen := 0, 0
	runHasEnd, ended := false, false

	i := 0
	for ; ; i++ {
		off, ok, err := w.offset(i)
		if err != nil {
			return 0, 0, false, err
		}
		if !ok {
			break
		}

		if !ended {
			if _, err := v.meta.ReadAt(rec[:], off); err != nil {
				return 0, 0, false, checkpoint.From(err)
			}
		}

		switch {
		case ended || rec[0] == entryEnd:
			if !ended {
				runHasEnd = true
				ended = true
			}
			fallthrough
		case rec[0] == entryFree:
			if runLen == 0 {
				runStart = i
			}
			runLen++
		default:
			runLen = 0
			runHasEnd = false
		}

		if runLen == need {
			return runStart, 0, runHasEnd, nil
		}
	}

	if w.fixed() {
		return 0, 0, false, checkpoint.With(ErrDirectoryFull, "root directory has no %d free records", need)
	}

	total := i
	if runLen == 0 {
		runStart = total
		runHasEnd = false
	}
	missing := need - runLen
	grow = uint32((missing + w.per - 1) / w.per)
	if total+int(grow)*w.per > maxDirRecords {
		return 0, 0, false, checkpoint.With(ErrDirectoryFull, "directory reached %d records", maxDirRecords)
	}
	// New clusters are zeroed, so they end the directory by themselves.
	return runStart, grow, runHasEnd, nil
}

// growDir appends count zeroed clusters to the directory of w.
func (v *Volume) growDir(w *dirWalker, count uint32) error {
	chain, err := v.fat.chain(w.dir)
	if err != nil {
		return err
	}
	clusters, err := v.fat.extend(chain[len(chain)-1], count)
	if err != nil {
		return err
	}
	for _, c := range clusters {
		if err := v.zeroCluster(c); err != nil {
			return err
		}
	}
	return nil
}

func (v *Volume) zeroCluster(c uint32) error {
	_, err := v.meta.WriteAt(make([]byte, v.geo.ClusterSize()), v.geo.clusterOffset(c))
	return checkpoint.From(err)
}

// initDir zeroes the first cluster of a new directory and writes its "."
// and ".." records.
func (v *Volume) initDir(cluster, parent uint32, now time.Time) error {
	if err := v.zeroCluster(cluster); err != nil {
		return err
	}

	parentRef := parent
	if parent == v.geo.rootDir() {
		parentRef = 0
	}

	for i, c := range []uint32{cluster, parentRef} {
		h := EntryHeader{
			Name:            dotName(i + 1),
			Attribute:       AttrDirectory,
			CreateTimeTenth: encodeTenth(now),
			CreateTime:      EncodeTime(now),
			CreateDate:      EncodeDate(now),
			LastAccessDate:  EncodeDate(now),
			WriteTime:       EncodeTime(now),
			WriteDate:       EncodeDate(now),
		}
		h.SetFirstCluster(c)
		if _, err := v.meta.WriteAt(marshal(&h), v.geo.clusterOffset(cluster)+int64(i)*entrySize); err != nil {
			return checkpoint.From(err)
		}
	}
	return nil
}

// remove marks the short record of e and its long name records as deleted.
// The cluster chain is not touched.
func (v *Volume) remove(e *DirEntry) error {
	for _, off := range e.records {
		if _, err := v.meta.WriteAt([]byte{entryFree}, off); err != nil {
			return checkpoint.From(err)
		}
	}
	return nil
}

// update writes attributes, start cluster, size and timestamps of e back
// to its short record.
func (v *Volume) update(e *DirEntry) error {
	if e.root {
		return nil
	}
	off := e.key()
	buf := make([]byte, entrySize)
	if _, err := v.meta.ReadAt(buf, off); err != nil {
		return checkpoint.From(err)
	}
	h := EntryHeader{}
	if err := unmarshal(buf, &h); err != nil {
		return checkpoint.From(err)
	}

	h.Attribute = e.Attr
	h.SetFirstCluster(e.Cluster)
	h.FileSize = e.Size
	h.WriteTime = EncodeTime(e.Modified)
	h.WriteDate = EncodeDate(e.Modified)
	if !e.Accessed.IsZero() {
		h.LastAccessDate = EncodeDate(e.Accessed)
	}

	_, err := v.meta.WriteAt(marshal(&h), off)
	return checkpoint.From(err)
}

// parentOf returns the parent directory of the directory dir by reading
// its ".." record.
func (v *Volume) parentOf(dir uint32) (uint32, error) {
	if dir == v.geo.rootDir() {
		return 0, checkpoint.With(ErrInvalidPath, "the root directory has no parent")
	}
	h, err := v.dotDot(dir)
	if err != nil {
		return 0, err
	}
	c := h.FirstCluster()
	if v.geo.Type != FAT32 {
		c = uint32(h.FirstClusterLO)
	}
	return v.dirRef(c), nil
}

func (v *Volume) dotDot(dir uint32) (*EntryHeader, error) {
	buf := make([]byte, entrySize)
	if _, err := v.meta.ReadAt(buf, v.geo.clusterOffset(dir)+entrySize); err != nil {
		return nil, checkpoint.From(err)
	}
	h := &EntryHeader{}
	if err := unmarshal(buf, h); err != nil {
		return nil, checkpoint.From(err)
	}
	if shortName(h.Name) != dotName(2) {
		return nil, checkpoint.With(ErrInconsistent, "directory at cluster %d has no \"..\" record", dir)
	}
	return h, nil
}

// setParent points the ".." record of dir to parent.
func (v *Volume) setParent(dir, parent uint32) error {
	h, err := v.dotDot(dir)
	if err != nil {
		return err
	}
	if parent == v.geo.rootDir() {
		parent = 0
	}
	h.SetFirstCluster(parent)
	_, err = v.meta.WriteAt(marshal(h), v.geo.clusterOffset(dir)+entrySize)
	return checkpoint.From(err)
}

// entryOf returns the entry describing the directory dir.
func (v *Volume) entryOf(dir uint32) (*DirEntry, error) {
	if dir == v.geo.rootDir() {
		return v.rootEntry(), nil
	}
	parent, err := v.parentOf(dir)
	if err != nil {
		return nil, err
	}
	it := v.iterate(parent, 0)
	for {
		e, err := it.next()
		if err == io.EOF {
			return nil, checkpoint.With(ErrInconsistent, "directory at cluster %d is not listed in its parent", dir)
		}
		if err != nil {
			return nil, err
		}
		if e.IsDir() && e.Cluster == dir {
			return e, nil
		}
	}
}
