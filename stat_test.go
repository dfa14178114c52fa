package fatfs

import (
	"os"
	"testing"
	"time"
)

func TestDirEntry_FileInfo(t *testing.T) {
	modified := time.Date(2020, 1, 2, 3, 4, 6, 0, time.UTC)

	tests := []struct {
		name     string
		entry    DirEntry
		wantName string
		wantSize int64
		wantMode os.FileMode
		wantDir  bool
	}{
		{
			name:     "file",
			entry:    DirEntry{Name: "hello.txt", Attr: AttrArchive, Size: 42, Modified: modified},
			wantName: "hello.txt",
			wantSize: 42,
			wantMode: 0666,
		},
		{
			name:     "read-only file",
			entry:    DirEntry{Name: "ro.txt", Attr: AttrReadOnly, Size: 1, Modified: modified},
			wantName: "ro.txt",
			wantSize: 1,
			wantMode: 0444,
		},
		{
			name:     "directory",
			entry:    DirEntry{Name: "dir", Attr: AttrDirectory, Size: 999, Modified: modified},
			wantName: "dir",
			wantMode: os.ModeDir | 0777,
			wantDir:  true,
		},
		{
			name:     "read-only directory",
			entry:    DirEntry{Name: "dir", Attr: AttrDirectory | AttrReadOnly, Modified: modified},
			wantName: "dir",
			wantMode: os.ModeDir | 0555,
			wantDir:  true,
		},
		{
			name:     "root",
			entry:    DirEntry{Name: "/", Attr: AttrDirectory, root: true},
			wantName: "/",
			wantMode: os.ModeDir | 0777,
			wantDir:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.entry.FileInfo()
			if got := info.Name(); got != tt.wantName {
				t.Errorf("Name() = %v, want %v", got, tt.wantName)
			}
			if got := info.Size(); got != tt.wantSize {
				t.Errorf("Size() = %v, want %v", got, tt.wantSize)
			}
			if got := info.Mode(); got != tt.wantMode {
				t.Errorf("Mode() = %v, want %v", got, tt.wantMode)
			}
			if got := info.IsDir(); got != tt.wantDir {
				t.Errorf("IsDir() = %v, want %v", got, tt.wantDir)
			}
			if got := info.ModTime(); !got.Equal(tt.entry.Modified) {
				t.Errorf("ModTime() = %v, want %v", got, tt.entry.Modified)
			}
			if got, ok := info.Sys().(DirEntry); !ok || got.Name != tt.entry.Name {
				t.Errorf("Sys() = %v, want the DirEntry", info.Sys())
			}
		})
	}
}
