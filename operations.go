package fatfs

import (
	"io"
	"math"
	"time"

	"github.com/aligator/fatfs/checkpoint"
	"github.com/sirupsen/logrus"
)

// Open opens the file or directory at path. Directories may only be opened
// for reading. ModeCreate creates a missing file, ModeTruncate and
// ModeAppend need ModeWrite.
func (v *Volume) Open(path string, mode Mode) (Handle, error) {
	if mode&ModeReadWrite == 0 {
		return 0, checkpoint.With(ErrInvalidArgument, "mode %#x has neither read nor write access", uint32(mode))
	}
	if mode&(ModeTruncate|ModeAppend) != 0 && !mode.writable() {
		return 0, checkpoint.With(ErrInvalidArgument, "truncate and append need write access")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		return 0, errNotMounted
	}

	var h Handle
	open := func() error {
		var e *DirEntry
		var err error
		if mode&ModeCreate != 0 {
			// A file must not be created for a handle that can not be opened.
			if _, err := v.handles.free(); err != nil {
				return err
			}
			var created bool
			e, created, err = v.resolveOrCreate(nil, path, KindFile)
			if err != nil {
				return err
			}
			if !created && mode&ModeExclusive != 0 {
				return checkpoint.With(ErrAlreadyExists, "%q", path)
			}
		} else if e, err = v.resolve(nil, path); err != nil {
			return err
		}

		if mode.writable() && e.Attr&AttrReadOnly != 0 {
			return checkpoint.With(ErrReadOnly, "%q has the read-only attribute", path)
		}

		h, err = v.handles.open(e, mode, v.prepareNode)
		if err != nil {
			return err
		}

		if mode&ModeTruncate != 0 && !e.IsDir() {
			f, _ := v.handles.get(h)
			if err := v.truncateNode(f.node, 0); err != nil {
				_, _, _ = v.handles.release(h)
				return err
			}
		}
		return nil
	}

	var err error
	if mode.writable() || mode&ModeCreate != 0 {
		err = v.mutateLocked(open)
	} else {
		err = open()
		v.observe(err)
	}
	if err != nil {
		return 0, err
	}

	v.log.WithFields(logrus.Fields{"path": path, "handle": uint32(h)}).Debug("opened")
	return h, nil
}

// prepareNode counts the clusters of a newly opened entry.
func (v *Volume) prepareNode(n *openNode) error {
	if n.entry.IsDir() || n.entry.Cluster == 0 {
		return nil
	}
	chain, err := v.fat.chain(n.entry.Cluster)
	if err != nil {
		return err
	}
	n.clusters = uint32(len(chain))
	n.tail = chain[len(chain)-1]
	if uint64(n.entry.Size) > uint64(n.clusters)*uint64(v.geo.ClusterSize()) {
		return checkpoint.With(ErrInconsistent, "%q has %d bytes but only %d clusters", n.entry.Name, n.entry.Size, n.clusters)
	}
	return nil
}

// Close releases h. The size, start cluster and modification time of a
// written file are stored in its directory record.
func (v *Volume) Close(h Handle) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		return errNotMounted
	}
	return v.closeLocked(h)
}

func (v *Volume) closeLocked(h Handle) error {
	f, err := v.handles.get(h)
	if err != nil {
		return err
	}

	var writeErr error
	if f.mode.writable() && f.node.dirty {
		writeErr = v.mutateLocked(func() error {
			return v.writeBack(f.node)
		})
	}

	if _, _, err := v.handles.release(h); err != nil {
		return err
	}
	return writeErr
}

// writeBack stores the state of n in its directory record.
func (v *Volume) writeBack(n *openNode) error {
	n.entry.Modified = v.now()
	n.entry.Attr |= AttrArchive
	if err := v.update(&n.entry); err != nil {
		return err
	}
	n.dirty = false
	return nil
}

// getFile returns the open handle h.
func (v *Volume) getFile(h Handle) (*openFile, error) {
	if !v.mounted {
		return nil, errNotMounted
	}
	return v.handles.get(h)
}

// ReadAt reads from the file of h at off. It follows io.ReaderAt: if fewer
// than len(p) bytes are read it returns an error, io.EOF at the end of the file.
func (v *Volume) ReadAt(h Handle, p []byte, off int64) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	f, err := v.getFile(h)
	if err != nil {
		return 0, err
	}
	if !f.mode.readable() {
		return 0, checkpoint.With(ErrInvalidHandle, "handle %#x is not open for reading", uint32(h))
	}
	if f.node.entry.IsDir() {
		return 0, checkpoint.With(ErrIsADirectory, "%q", f.node.entry.Name)
	}
	if off < 0 {
		return 0, checkpoint.With(ErrInvalidArgument, "negative offset %d", off)
	}

	n, err := v.readNode(f.node, p, off)
	v.observe(err)
	return n, err
}

// Read reads at the cursor of h and advances it.
func (v *Volume) Read(h Handle, p []byte) (int, error) {
	f, err := v.fileForCursor(h)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := v.ReadAt(h, p, f.offset)
	f.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (v *Volume) fileForCursor(h Handle) (*openFile, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.getFile(h)
}

// Seek moves the cursor of h. Seeking behind the end is allowed, a
// following write fills the gap with zeros.
func (v *Volume) Seek(h Handle, offset int64, whence int) (int64, error) {
	f, err := v.fileForCursor(h)
	if err != nil {
		return 0, err
	}
	e, err := v.StatHandle(h)
	if err != nil {
		return 0, err
	}

	// The cursor lock is always taken before the volume lock.
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.offset
	case io.SeekEnd:
		offset += int64(e.Size)
	default:
		return 0, checkpoint.With(ErrInvalidArgument, "invalid whence %d", whence)
	}
	if offset < 0 {
		return 0, checkpoint.With(ErrInvalidArgument, "negative offset %d", offset)
	}
	f.offset = offset
	return offset, nil
}

// WriteAt writes p to the file of h at off. Writes behind the end extend
// the file by exactly the clusters needed and fill a gap with zeros. In
// ModeAppend off is ignored and p is appended.
func (v *Volume) WriteAt(h Handle, p []byte, off int64) (int, error) {
	n, _, err := v.writeAt(h, p, off)
	return n, err
}

func (v *Volume) writeAt(h Handle, p []byte, off int64) (int, int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	// Readers of the same file must never see half of a write, so even
	// overwrites of allocated clusters hold the lock exclusively.
	var written int
	err := v.mutateLocked(func() error {
		f, err := v.getFile(h)
		if err != nil {
			return err
		}
		if err := v.checkWrite(f, off); err != nil {
			return err
		}
		if len(p) == 0 {
			return nil
		}

		if f.mode&ModeAppend != 0 {
			off = int64(f.node.entry.Size)
		}
		end := off + int64(len(p))
		if end > math.MaxUint32 {
			return checkpoint.With(ErrInvalidArgument, "files are limited to 4 GiB")
		}
		if err := v.growNode(f.node, end); err != nil {
			return err
		}
		written, err = v.writeNode(f.node, p, off)
		return err
	})
	return written, off, err
}

func (v *Volume) checkWrite(f *openFile, off int64) error {
	if !f.mode.writable() {
		return checkpoint.With(ErrInvalidHandle, "handle is not open for writing")
	}
	if off < 0 {
		return checkpoint.With(ErrInvalidArgument, "negative offset %d", off)
	}
	return v.writable()
}

// Write writes at the cursor of h and advances it.
func (v *Volume) Write(h Handle, p []byte) (int, error) {
	f, err := v.fileForCursor(h)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n, off, err := v.writeAt(h, p, f.offset)
	f.offset = off + int64(n)
	return n, err
}

// Truncate changes the size of the file of h. Growing fills with zeros,
// shrinking frees the clusters no longer needed.
func (v *Volume) Truncate(h Handle, size int64) error {
	if size < 0 || size > math.MaxUint32 {
		return checkpoint.With(ErrInvalidArgument, "invalid size %d", size)
	}
	return v.mutate(func() error {
		f, err := v.getFile(h)
		if err != nil {
			return err
		}
		if !f.mode.writable() {
			return checkpoint.With(ErrInvalidHandle, "handle is not open for writing")
		}
		return v.truncateNode(f.node, size)
	})
}

// StatHandle returns the current state of the entry of h.
func (v *Volume) StatHandle(h Handle) (DirEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	f, err := v.getFile(h)
	if err != nil {
		return DirEntry{}, err
	}
	f.node.mu.Lock()
	defer f.node.mu.Unlock()
	return f.node.entry, nil
}

// overlay replaces the size and cluster of e by the state of its open node,
// which may not be written back yet.
func (v *Volume) overlay(e *DirEntry) *DirEntry {
	n, ok := v.handles.nodes[e.key()]
	if !ok {
		return e
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	e.Size = n.entry.Size
	e.Cluster = n.entry.Cluster
	e.Attr = n.entry.Attr
	if n.dirty {
		e.Modified = n.entry.Modified
	}
	return e
}

// Stat returns the entry at path.
func (v *Volume) Stat(path string) (DirEntry, error) {
	var e *DirEntry
	err := v.view(func() error {
		var err error
		if e, err = v.resolve(nil, path); err != nil {
			return err
		}
		v.overlay(e)
		return nil
	})
	if err != nil {
		return DirEntry{}, err
	}
	return *e, nil
}

// ListDirectory returns up to limit entries of the directory at path
// starting at cursor. next continues the listing, done is set once the end
// was reached. A limit <= 0 lists everything.
func (v *Volume) ListDirectory(path string, cursor uint32, limit int) (entries []DirEntry, next uint32, done bool, err error) {
	if cursor > maxDirRecords {
		return nil, 0, false, checkpoint.With(ErrInvalidArgument, "invalid cursor %d", cursor)
	}

	err = v.view(func() error {
		e, err := v.resolve(nil, path)
		if err != nil {
			return err
		}
		dir, err := v.childDir(e)
		if err != nil {
			return err
		}

		it := v.iterate(dir, int(cursor))
		for limit <= 0 || len(entries) < limit {
			child, err := it.next()
			if err == io.EOF {
				done = true
				break
			}
			if err != nil {
				return err
			}
			entries = append(entries, *v.overlay(child))
		}
		next = uint32(it.cursor())
		return nil
	})
	if err != nil {
		return nil, 0, false, err
	}
	return entries, next, done, nil
}

// Create creates an empty file or directory at path. The parent directory
// must exist.
func (v *Volume) Create(path string, kind Kind) (DirEntry, error) {
	var e *DirEntry
	err := v.mutate(func() error {
		parent, name, err := v.resolveParent(nil, path)
		if err != nil {
			return err
		}
		dir, err := v.childDir(parent)
		if err != nil {
			return err
		}

		now := v.now()
		t := template{name: name, attr: AttrArchive, created: now, modified: now, accessed: now}
		if kind == KindDirectory {
			t.attr = AttrDirectory
		}
		e, err = v.insert(dir, t, -1)
		return err
	})
	if err != nil {
		return DirEntry{}, err
	}

	v.log.WithFields(logrus.Fields{"path": path, "kind": kind}).Debug("created")
	return *e, nil
}

// Remove deletes the file or the empty directory at path.
func (v *Volume) Remove(path string) error {
	return v.mutate(func() error {
		e, err := v.resolve(nil, path)
		if err != nil {
			return err
		}
		if e.root {
			return checkpoint.With(ErrInvalidArgument, "the root directory can not be removed")
		}
		if v.handles.isOpen(e.key()) {
			return checkpoint.With(ErrBusy, "%q is open", path)
		}
		if e.IsDir() {
			dir, err := v.childDir(e)
			if err != nil {
				return err
			}
			empty, err := v.isEmpty(dir)
			if err != nil {
				return err
			}
			if !empty {
				return checkpoint.With(ErrNotEmpty, "%q", path)
			}
		}

		// Unlink first, a failure while freeing only leaks clusters.
		if err := v.remove(e); err != nil {
			return err
		}
		if e.Cluster != 0 {
			if _, err := v.fat.truncate(e.Cluster); err != nil {
				return err
			}
		}
		return nil
	})
}

// Rename moves the entry at oldPath to newPath. An existing target is not
// replaced. Renaming only the case of a name is allowed.
func (v *Volume) Rename(oldPath, newPath string) error {
	return v.mutate(func() error {
		src, err := v.resolve(nil, oldPath)
		if err != nil {
			return err
		}
		if src.root {
			return checkpoint.With(ErrInvalidArgument, "the root directory can not be renamed")
		}
		if v.handles.isOpen(src.key()) {
			return checkpoint.With(ErrBusy, "%q is open", oldPath)
		}

		parent, name, err := v.resolveParent(nil, newPath)
		if err != nil {
			return err
		}
		dstDir, err := v.childDir(parent)
		if err != nil {
			return err
		}

		if src.IsDir() {
			if src.Cluster == 0 {
				return checkpoint.With(ErrInconsistent, "directory %q has no cluster", oldPath)
			}
			if err := v.checkNotBelow(dstDir, src.Cluster); err != nil {
				return err
			}
		}

		existing, err := v.lookup(dstDir, name)
		switch {
		case err == nil && existing.key() != src.key():
			return checkpoint.With(ErrAlreadyExists, "%q", newPath)
		case err == nil && existing.Name == name:
			return nil
		case err != nil && !isKind(err, ErrNotFound):
			return err
		}

		t := template{
			name:     name,
			attr:     src.Attr,
			cluster:  src.Cluster,
			size:     src.Size,
			created:  src.Created,
			modified: src.Modified,
			accessed: src.Accessed,
		}
		if _, err := v.insert(dstDir, t, src.key()); err != nil {
			return err
		}
		if err := v.remove(src); err != nil {
			return err
		}
		if src.IsDir() && src.dir != dstDir {
			return v.setParent(src.Cluster, dstDir)
		}
		return nil
	})
}

// checkNotBelow fails if dir is the directory moved or one of its descendants.
func (v *Volume) checkNotBelow(dir, moved uint32) error {
	for i := uint32(0); i <= v.geo.ClusterCount; i++ {
		if dir == moved {
			return checkpoint.With(ErrInvalidArgument, "a directory can not be moved into itself")
		}
		if dir == v.geo.rootDir() {
			return nil
		}
		parent, err := v.parentOf(dir)
		if err != nil {
			return err
		}
		dir = parent
	}
	return checkpoint.With(ErrInconsistent, "directory tree has a cycle")
}

// SetReadOnly sets or clears the read-only attribute of the entry at path.
func (v *Volume) SetReadOnly(path string, readOnly bool) error {
	return v.changeEntry(path, func(e *DirEntry) {
		if readOnly {
			e.Attr |= AttrReadOnly
		} else {
			e.Attr &^= AttrReadOnly
		}
	})
}

// Chtimes sets the access and modification time of the entry at path.
// FAT stores the access date only.
func (v *Volume) Chtimes(path string, atime, mtime time.Time) error {
	return v.changeEntry(path, func(e *DirEntry) {
		e.Accessed = atime
		e.Modified = mtime
	})
}

func (v *Volume) changeEntry(path string, change func(e *DirEntry)) error {
	return v.mutate(func() error {
		e, err := v.resolve(nil, path)
		if err != nil {
			return err
		}
		if e.root {
			return checkpoint.With(ErrInvalidArgument, "the root directory has no record")
		}

		if n, ok := v.handles.nodes[e.key()]; ok {
			change(&n.entry)
			return v.update(&n.entry)
		}
		change(e)
		return v.update(e)
	})
}

// readNode reads from the chain of n. The caller holds at least the shared lock.
func (v *Volume) readNode(n *openNode, p []byte, off int64) (int, error) {
	n.mu.Lock()
	size := int64(n.entry.Size)
	n.mu.Unlock()

	if off >= size {
		return 0, io.EOF
	}
	want := p
	if int64(len(p)) > size-off {
		want = p[:size-off]
	}

	read, err := v.transfer(n, want, off, false)
	if err != nil {
		return read, err
	}
	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}

// writeNode writes p to the allocated clusters of n and moves the end of
// the file if needed. A gap between the old end and off is zeroed first.
func (v *Volume) writeNode(n *openNode, p []byte, off int64) (int, error) {
	n.mu.Lock()
	size := int64(n.entry.Size)
	n.mu.Unlock()

	if off > size {
		if err := v.zeroRange(n, size, off); err != nil {
			return 0, err
		}
	}

	written, err := v.transfer(n, p, off, true)

	n.mu.Lock()
	if end := off + int64(written); end > int64(n.entry.Size) {
		n.entry.Size = uint32(end)
	}
	if written > 0 {
		n.dirty = true
	}
	n.mu.Unlock()
	return written, err
}

func (v *Volume) zeroRange(n *openNode, from, to int64) error {
	zero := make([]byte, v.geo.ClusterSize())
	for from < to {
		chunk := int64(len(zero))
		if to-from < chunk {
			chunk = to - from
		}
		if _, err := v.transfer(n, zero[:chunk], from, true); err != nil {
			return err
		}
		from += chunk
	}
	return nil
}

// transfer copies between p and the clusters of n starting at the file
// offset off. The clusters must exist.
func (v *Volume) transfer(n *openNode, p []byte, off int64, write bool) (int, error) {
	cs := int64(v.geo.ClusterSize())
	done := 0
	for done < len(p) {
		pos := off + int64(done)
		c, err := v.clusterAt(n, uint32(pos/cs))
		if err != nil {
			return done, err
		}

		inner := pos % cs
		chunk := cs - inner
		if rest := int64(len(p) - done); rest < chunk {
			chunk = rest
		}
		buf := p[done : done+int(chunk)]
		at := v.geo.clusterOffset(c) + inner
		if write {
			_, err = v.cache.WriteAt(buf, at)
		} else {
			_, err = v.cache.ReadAt(buf, at)
		}
		if err != nil {
			return done, checkpoint.From(err)
		}
		done += int(chunk)
	}
	return done, nil
}

// clusterAt returns the cluster with the index idx in the chain of n.
func (v *Volume) clusterAt(n *openNode, idx uint32) (uint32, error) {
	n.mu.Lock()
	c, i := n.entry.Cluster, uint32(0)
	if n.lastCluster != 0 && n.lastIndex <= idx {
		c, i = n.lastCluster, n.lastIndex
	}
	n.mu.Unlock()

	if c == 0 {
		return 0, checkpoint.With(ErrInconsistent, "%q has no clusters", n.entry.Name)
	}
	for ; i < idx; i++ {
		next, ok, err := v.fat.next(c)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, checkpoint.With(ErrInconsistent, "chain of %q ends at index %d", n.entry.Name, i)
		}
		c = next
	}

	n.mu.Lock()
	n.lastIndex, n.lastCluster = idx, c
	n.mu.Unlock()
	return c, nil
}

// growNode extends the chain of n so that it holds end bytes. New clusters
// are zeroed. The caller holds the exclusive lock.
func (v *Volume) growNode(n *openNode, end int64) error {
	cs := int64(v.geo.ClusterSize())
	need := uint32((end + cs - 1) / cs)
	if need <= n.clusters {
		return nil
	}
	add := need - n.clusters

	var clusters []uint32
	var err error
	if n.entry.Cluster == 0 {
		clusters, err = v.fat.allocate(add)
	} else {
		clusters, err = v.fat.extend(n.tail, add)
	}
	if err != nil {
		return err
	}

	if n.entry.Cluster == 0 {
		n.entry.Cluster = clusters[0]
	}
	n.clusters += add
	n.tail = clusters[len(clusters)-1]
	n.dirty = true

	for _, c := range clusters {
		if err := v.zeroCluster(c); err != nil {
			return err
		}
	}
	return nil
}

// truncateNode sets the size of n and writes it back right away, so the
// directory record never points to freed clusters.
func (v *Volume) truncateNode(n *openNode, size int64) error {
	cur := int64(n.entry.Size)
	cs := int64(v.geo.ClusterSize())
	need := uint32((size + cs - 1) / cs)

	switch {
	case size > cur:
		if err := v.growNode(n, size); err != nil {
			return err
		}
		if err := v.zeroRange(n, cur, size); err != nil {
			return err
		}
	case need == 0 && n.entry.Cluster != 0:
		if _, err := v.fat.truncate(n.entry.Cluster); err != nil {
			return err
		}
		n.entry.Cluster = 0
		n.clusters, n.tail = 0, 0
	case need < n.clusters:
		keep, err := v.clusterAt(n, need-1)
		if err != nil {
			return err
		}
		if _, err := v.fat.truncateAfter(keep); err != nil {
			return err
		}
		n.clusters, n.tail = need, keep
	}

	n.entry.Size = uint32(size)
	n.lastIndex, n.lastCluster = 0, 0
	return v.writeBack(n)
}
