package fatfs

import (
	"sync"

	"github.com/aligator/fatfs/checkpoint"
	"github.com/bits-and-blooms/bitset"
)

// Mode is the access mode and the open flags of a handle.
type Mode uint32

const (
	ModeRead Mode = 1 << iota
	ModeWrite
	// ModeCreate creates the file if it does not exist.
	ModeCreate
	// ModeExclusive fails with ErrAlreadyExists if the file exists. Only
	// used together with ModeCreate.
	ModeExclusive
	// ModeTruncate cuts the file to zero length on open.
	ModeTruncate
	// ModeAppend makes every write go to the end of the file.
	ModeAppend

	ModeReadWrite = ModeRead | ModeWrite
)

func (m Mode) readable() bool {
	return m&ModeRead != 0
}

func (m Mode) writable() bool {
	return m&ModeWrite != 0
}

// Handle refers to an open file or directory. The low 16 bits are the slot
// in the open-entry table, the high 16 bits its generation, so a handle
// that was closed is not valid again once its slot gets reused.
type Handle uint32

const (
	DefaultMaxOpenFiles = 64
	maxOpenFiles        = 1 << 16
)

func makeHandle(slot int, gen uint16) Handle {
	return Handle(uint32(gen)<<16 | uint32(slot))
}

func (h Handle) slot() int {
	return int(h & 0xFFFF)
}

func (h Handle) gen() uint16 {
	return uint16(h >> 16)
}

// openNode is the state shared by all handles of one entry.
type openNode struct {
	// mu guards the fields below while the volume is only read locked.
	mu    sync.Mutex
	entry DirEntry
	// clusters is the number of clusters in the chain of the entry, tail
	// its last one.
	clusters uint32
	tail     uint32
	dirty    bool

	readers int
	writers int

	// Position cache for sequential access.
	lastIndex   uint32
	lastCluster uint32
}

// openFile is one open handle.
type openFile struct {
	node *openNode
	mode Mode

	mu     sync.Mutex
	offset int64
}

// handleTable is the fixed capacity arena of open handles. The volume lock
// protects it: open and release need the exclusive lock, get the shared one.
type handleTable struct {
	slots []*openFile
	gens  []uint16
	used  *bitset.BitSet
	nodes map[int64]*openNode
}

func newHandleTable(capacity int) *handleTable {
	if capacity <= 0 {
		capacity = DefaultMaxOpenFiles
	}
	if capacity > maxOpenFiles {
		capacity = maxOpenFiles
	}

	gens := make([]uint16, capacity)
	for i := range gens {
		gens[i] = 1
	}
	return &handleTable{
		slots: make([]*openFile, capacity),
		gens:  gens,
		used:  bitset.New(uint(capacity)),
		nodes: make(map[int64]*openNode),
	}
}

// open assigns a slot to e. Read handles of one entry share a node, a
// second writable handle is refused with ErrBusy. The caller has prepared
// the chain information of node if it is new.
func (t *handleTable) open(e *DirEntry, mode Mode, prepare func(n *openNode) error) (Handle, error) {
	if e.IsDir() && mode.writable() {
		return 0, checkpoint.With(ErrIsADirectory, "%q can not be opened for writing", e.Name)
	}

	slot, err := t.free()
	if err != nil {
		return 0, err
	}

	n, exists := t.nodes[e.key()]
	if exists {
		if mode.writable() && n.writers > 0 {
			return 0, checkpoint.With(ErrBusy, "%q is already open for writing", e.Name)
		}
	} else {
		n = &openNode{entry: *e}
		if prepare != nil {
			if err := prepare(n); err != nil {
				return 0, err
			}
		}
		t.nodes[e.key()] = n
	}

	if mode.writable() {
		n.writers++
	}
	if mode.readable() || !mode.writable() {
		n.readers++
	}

	t.used.Set(slot)
	t.slots[slot] = &openFile{node: n, mode: mode}
	return makeHandle(int(slot), t.gens[slot]), nil
}

// free returns the first unused slot.
func (t *handleTable) free() (uint, error) {
	slot, ok := t.used.NextClear(0)
	if !ok || slot >= uint(len(t.slots)) {
		return 0, checkpoint.With(ErrTooManyOpenFiles, "all %d handles are in use", len(t.slots))
	}
	return slot, nil
}

// get returns the open handle h.
func (t *handleTable) get(h Handle) (*openFile, error) {
	slot := h.slot()
	if slot >= len(t.slots) || !t.used.Test(uint(slot)) || t.gens[slot] != h.gen() {
		return nil, checkpoint.With(ErrInvalidHandle, "handle %#x", uint32(h))
	}
	return t.slots[slot], nil
}

// release frees the slot of h. last reports whether it was the last handle
// of its node.
func (t *handleTable) release(h Handle) (f *openFile, last bool, err error) {
	f, err = t.get(h)
	if err != nil {
		return nil, false, err
	}

	n := f.node
	if f.mode.writable() {
		n.writers--
	}
	if f.mode.readable() || !f.mode.writable() {
		n.readers--
	}
	last = n.readers == 0 && n.writers == 0
	if last {
		delete(t.nodes, n.entry.key())
	}

	slot := h.slot()
	t.slots[slot] = nil
	t.used.Clear(uint(slot))
	t.gens[slot]++
	if t.gens[slot] == 0 {
		t.gens[slot] = 1
	}
	return f, last, nil
}

// isOpen reports whether the entry with the given key has open handles.
func (t *handleTable) isOpen(key int64) bool {
	_, ok := t.nodes[key]
	return ok
}

// inUse returns the number of open handles.
func (t *handleTable) inUse() int {
	return int(t.used.Count())
}

// openHandles returns all open handles.
func (t *handleTable) openHandles() []Handle {
	var handles []Handle
	for i, e := t.used.NextSet(0); e; i, e = t.used.NextSet(i + 1) {
		if i >= uint(len(t.slots)) {
			break
		}
		handles = append(handles, makeHandle(int(i), t.gens[i]))
	}
	return handles
}
