package fatfs

import (
	"errors"
	"io"
	"io/fs"
	"sort"

	"github.com/aligator/fatfs/blockcache"
)

// GoDirEntry is a fs.DirEntry of a directory listing.
type GoDirEntry struct {
	entry DirEntry
}

func (g GoDirEntry) Name() string {
	return g.entry.Name
}

func (g GoDirEntry) IsDir() bool {
	return g.entry.IsDir()
}

func (g GoDirEntry) Type() fs.FileMode {
	if g.entry.IsDir() {
		return fs.ModeDir
	}
	return 0
}

// Info returns the state of the entry at the time it was listed.
func (g GoDirEntry) Info() (fs.FileInfo, error) {
	return g.entry.FileInfo(), nil
}

func (g GoDirEntry) String() string {
	return fs.FormatDirEntry(g)
}

func goEntries(entries []DirEntry) []fs.DirEntry {
	out := make([]fs.DirEntry, len(entries))
	for i := range entries {
		out[i] = GoDirEntry{entries[i]}
	}
	return out
}

type GoFile struct {
	*File
}

func (g GoFile) Stat() (fs.FileInfo, error) {
	return g.File.Stat()
}

func (g GoFile) Read(bytes []byte) (int, error) {
	return g.File.Read(bytes)
}

func (g GoFile) Close() error {
	return g.File.Close()
}

func (g GoFile) ReadDir(n int) ([]fs.DirEntry, error) {
	entries, err := g.File.readDir(n)
	return goEntries(entries), err
}

// GoFs wraps the afero implementation to be compatible with fs.FS. Names
// follow the rules of fs.ValidPath.
type GoFs struct {
	*Fs
}

var (
	_ fs.ReadDirFS  = GoFs{}
	_ fs.ReadFileFS = GoFs{}
	_ fs.StatFS     = GoFs{}
)

// NewGoFS mounts dev as fs.FS compatible filesystem.
func NewGoFS(dev blockcache.Device, opts Options) (*GoFs, error) {
	fsys, err := NewFromDevice(dev, opts)
	if err != nil {
		return nil, err
	}

	return &GoFs{fsys}, nil
}

func invalidPath(op, name string) error {
	return &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
}

func (g GoFs) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, invalidPath("open", name)
	}

	file, err := g.Fs.Open(name)
	if err != nil {
		return nil, err
	}

	f, ok := file.(*File)
	if !ok {
		return nil, errors.New("invalid File implementation")
	}

	return GoFile{f}, nil
}

func (g GoFs) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, invalidPath("stat", name)
	}
	return g.Fs.Stat(name)
}

// ReadDir lists the directory name in one pass, sorted by name.
func (g GoFs) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, invalidPath("readdir", name)
	}

	entries, _, _, err := g.vol.ListDirectory(normalize(name), 0, 0)
	if err != nil {
		return nil, pathError("readdir", name, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return goEntries(entries), nil
}

// ReadFile reads the file name with a single positional read.
func (g GoFs) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, invalidPath("readfile", name)
	}

	h, err := g.vol.Open(normalize(name), ModeRead)
	if err != nil {
		return nil, pathError("readfile", name, err)
	}
	defer g.vol.Close(h)

	e, err := g.vol.StatHandle(h)
	if err != nil {
		return nil, pathError("readfile", name, err)
	}
	if e.IsDir() {
		return nil, pathError("readfile", name, ErrIsADirectory)
	}

	data := make([]byte, e.Size)
	n, err := g.vol.ReadAt(h, data, 0)
	if err == io.EOF {
		err = nil
	}
	return data[:n], pathError("readfile", name, err)
}
