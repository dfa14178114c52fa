package fatfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path         string
		wantAbsolute bool
		wantSegments []string
		wantErr      bool
	}{
		{path: "/", wantAbsolute: true},
		{path: "/a", wantAbsolute: true, wantSegments: []string{"a"}},
		{path: "/a/b.txt", wantAbsolute: true, wantSegments: []string{"a", "b.txt"}},
		{path: "\\a\\b", wantAbsolute: true, wantSegments: []string{"a", "b"}},
		{path: "a/b", wantSegments: []string{"a", "b"}},
		{path: "/a/", wantAbsolute: true, wantSegments: []string{"a"}},
		{path: "/with space/x", wantAbsolute: true, wantSegments: []string{"with space", "x"}},
		{path: "", wantErr: true},
		{path: "/a//b", wantErr: true},
		{path: "//", wantErr: true},
		{path: "/a//", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			absolute, segments, err := splitPath(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAbsolute, absolute)
			assert.Equal(t, tt.wantSegments, segments)
		})
	}
}

func TestResolve(t *testing.T) {
	vol, _ := newTestVolume(t, FAT16)
	_, err := vol.Create("/docs", KindDirectory)
	require.NoError(t, err)
	_, err = vol.Create("/docs/guides", KindDirectory)
	require.NoError(t, err)
	writeFile(t, vol, "/docs/guides/intro.txt", []byte("hello"))
	writeFile(t, vol, "/file.txt", []byte("x"))

	tests := []struct {
		path     string
		wantName string
		wantErr  error
	}{
		{path: "/", wantName: "/"},
		{path: "/docs", wantName: "docs"},
		{path: "/DOCS/Guides/INTRO.TXT", wantName: "intro.txt"},
		{path: "docs/guides/intro.txt", wantName: "intro.txt"},
		{path: "/docs/./guides/../guides/intro.txt", wantName: "intro.txt"},
		{path: "/docs/guides/..", wantName: "docs"},
		{path: "/docs/..", wantName: "/"},
		{path: "/docs/guides/", wantName: "guides"},
		{path: "/missing", wantErr: ErrNotFound},
		{path: "/docs/missing/intro.txt", wantErr: ErrNotFound},
		{path: "/file.txt/below", wantErr: ErrNotADirectory},
		{path: "/..", wantErr: ErrInvalidPath},
		{path: "/docs//guides", wantErr: ErrInvalidPath},
		{path: "", wantErr: ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e, err := vol.Stat(tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, e.Name)
		})
	}
}

func TestResolveParent(t *testing.T) {
	vol, _ := newTestVolume(t, FAT12)
	writeFile(t, vol, "/file.txt", []byte("x"))

	tests := []struct {
		path    string
		wantErr error
	}{
		{path: "/"},
		{path: "/file.txt/new", wantErr: ErrNotADirectory},
		{path: "/missing/new", wantErr: ErrNotFound},
		{path: "/.", wantErr: ErrInvalidPath},
		{path: "/..", wantErr: ErrInvalidPath},
		{path: "/bad:name", wantErr: ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := vol.Create(tt.path, KindFile)
			if tt.wantErr == nil {
				assert.ErrorIs(t, err, ErrInvalidPath, "the root can not be created")
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
