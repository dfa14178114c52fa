package fatfs

import (
	"os"
	"time"
)

// FileInfo returns e as os.FileInfo. Sys returns the DirEntry.
func (e DirEntry) FileInfo() os.FileInfo {
	return entryFileInfo{e}
}

type entryFileInfo struct {
	entry DirEntry
}

func (e entryFileInfo) Name() string {
	return e.entry.Name
}

func (e entryFileInfo) Size() int64 {
	if e.IsDir() {
		return 0
	}
	return int64(e.entry.Size)
}

// Mode sets execute bits only on directories. The read-only attribute clears
// the write bits.
func (e entryFileInfo) Mode() os.FileMode {
	mode := os.FileMode(0666)
	if e.entry.Attr&AttrReadOnly != 0 {
		mode = 0444
	}
	if e.IsDir() {
		return os.ModeDir | mode | 0111
	}
	return mode
}

func (e entryFileInfo) ModTime() time.Time {
	return e.entry.Modified
}

func (e entryFileInfo) IsDir() bool {
	return e.entry.IsDir()
}

func (e entryFileInfo) Sys() interface{} {
	return e.entry
}
