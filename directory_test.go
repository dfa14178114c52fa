package fatfs

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listNames(t *testing.T, vol *Volume, path string) []string {
	t.Helper()
	entries, _, done, err := vol.ListDirectory(path, 0, 0)
	require.NoError(t, err)
	require.True(t, done)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

func TestDirectory_longNames(t *testing.T) {
	for _, l := range testLayouts {
		t.Run(l.name, func(t *testing.T) {
			vol, _ := newTestVolume(t, l.cfg.Type)

			first, err := vol.Create("/HelloWorldThisIsALoongFileName.txt", KindFile)
			require.NoError(t, err)
			second, err := vol.Create("/HelloWorldThisIsAnotherName.txt", KindFile)
			require.NoError(t, err)

			assert.Equal(t, "HELLOW~1.TXT", first.ShortName)
			assert.Equal(t, "HELLOW~2.TXT", second.ShortName)
			assert.Len(t, first.records, 4)

			entries, _, _, err := vol.ListDirectory("/", 0, 0)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "HelloWorldThisIsALoongFileName.txt", entries[0].Name)
			assert.Equal(t, "HELLOW~1.TXT", entries[0].ShortName)
			assert.Equal(t, "HelloWorldThisIsAnotherName.txt", entries[1].Name)

			// Both names resolve.
			e, err := vol.Stat("/hellow~2.txt")
			require.NoError(t, err)
			assert.Equal(t, "HelloWorldThisIsAnotherName.txt", e.Name)
			e, err = vol.Stat("/HELLOWORLDTHISISALOONGFILENAME.TXT")
			require.NoError(t, err)
			assert.Equal(t, "HELLOW~1.TXT", e.ShortName)
		})
	}
}

func TestDirectory_shortNamesNeedNoLongRecords(t *testing.T) {
	vol, _ := newTestVolume(t, FAT16)

	tests := []struct {
		name      string
		wantShort string
	}{
		{name: "README.TXT", wantShort: "README.TXT"},
		{name: "notes.txt", wantShort: "NOTES.TXT"},
		{name: "DATA.bin", wantShort: "DATA.BIN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := vol.Create("/"+tt.name, KindFile)
			require.NoError(t, err)
			assert.Len(t, e.records, 1)
			assert.Equal(t, tt.name, e.Name)
			assert.Equal(t, tt.wantShort, e.ShortName)

			got, err := vol.Stat("/" + tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.name, got.Name)
		})
	}
}

func TestDirectory_duplicateNames(t *testing.T) {
	vol, _ := newTestVolume(t, FAT32)

	_, err := vol.Create("/Report.docx", KindFile)
	require.NoError(t, err)

	for _, name := range []string{"/Report.docx", "/REPORT.DOCX", "/report.docx", "/REPORT~1.DOC"} {
		_, err := vol.Create(name, KindFile)
		assert.ErrorIs(t, err, ErrAlreadyExists, name)
	}
}

func TestDirectory_orphanedLongNameRun(t *testing.T) {
	vol, _ := newTestVolume(t, FAT16)
	e, err := vol.Create("/HelloWorldThisIsALoongFileName.txt", KindFile)
	require.NoError(t, err)

	// Break the checksum of the first long name record.
	_, err = vol.cache.WriteAt([]byte{^e.short.checksum()}, e.records[0]+13)
	require.NoError(t, err)

	assert.Equal(t, []string{"HELLOW~1.TXT"}, listNames(t, vol, "/"))
	_, err = vol.Stat("/HelloWorldThisIsALoongFileName.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirectory_removeAndReuseSlots(t *testing.T) {
	vol, _ := newTestVolume(t, FAT12)

	_, err := vol.Create("/first.txt", KindFile)
	require.NoError(t, err)
	long, err := vol.Create("/a rather long name for a file.txt", KindFile)
	require.NoError(t, err)
	_, err = vol.Create("/last.txt", KindFile)
	require.NoError(t, err)

	require.NoError(t, vol.Remove("/a rather long name for a file.txt"))
	for _, off := range long.records {
		b := make([]byte, 1)
		_, err := vol.cache.ReadAt(b, off)
		require.NoError(t, err)
		assert.Equal(t, byte(entryFree), b[0])
	}
	assert.Equal(t, []string{"first.txt", "last.txt"}, listNames(t, vol, "/"))

	// A name needing fewer records takes the first free slot.
	reused, err := vol.Create("/mid.txt", KindFile)
	require.NoError(t, err)
	assert.Equal(t, long.records[0], reused.records[0])
	assert.Equal(t, []string{"first.txt", "mid.txt", "last.txt"}, listNames(t, vol, "/"))
}

func TestDirectory_grow(t *testing.T) {
	vol, _ := newTestVolume(t, FAT16)
	dir, err := vol.Create("/many", KindDirectory)
	require.NoError(t, err)

	var want []string
	for i := 0; i < 40; i++ {
		name := fmt.Sprintf("file%02d.txt", i)
		want = append(want, name)
		_, err := vol.Create("/many/"+name, KindFile)
		require.NoError(t, err)
	}
	assert.Equal(t, want, listNames(t, vol, "/many"))

	// 16 records per cluster, 42 records including "." and "..".
	chain, err := vol.fat.chain(dir.Cluster)
	require.NoError(t, err)
	assert.Len(t, chain, 3)
}

func TestDirectory_fixedRootIsFull(t *testing.T) {
	vol, _ := newTestVolume(t, FAT12)

	// The volume label takes one of the 512 records.
	for i := 0; i < 511; i++ {
		_, err := vol.Create(fmt.Sprintf("/F%d", i), KindFile)
		require.NoError(t, err)
	}
	_, err := vol.Create("/OVERFLOW", KindFile)
	assert.ErrorIs(t, err, ErrDirectoryFull)

	// A subdirectory is not limited.
	require.NoError(t, vol.Remove("/F0"))
	_, err = vol.Create("/SUB", KindDirectory)
	require.NoError(t, err)
	_, err = vol.Create("/SUB/inside", KindFile)
	assert.NoError(t, err)
}

func TestDirectory_dotEntries(t *testing.T) {
	for _, l := range testLayouts {
		t.Run(l.name, func(t *testing.T) {
			vol, _ := newTestVolume(t, l.cfg.Type)
			outer, err := vol.Create("/outer", KindDirectory)
			require.NoError(t, err)
			inner, err := vol.Create("/outer/inner", KindDirectory)
			require.NoError(t, err)

			// ".." of a first level directory points to cluster 0.
			h, err := vol.dotDot(outer.Cluster)
			require.NoError(t, err)
			assert.Equal(t, uint32(0), h.FirstCluster())

			h, err = vol.dotDot(inner.Cluster)
			require.NoError(t, err)
			assert.Equal(t, outer.Cluster, h.FirstCluster())

			parent, err := vol.parentOf(outer.Cluster)
			require.NoError(t, err)
			assert.Equal(t, vol.geo.rootDir(), parent)

			// "." and ".." are not listed.
			assert.Equal(t, []string{"inner"}, listNames(t, vol, "/outer"))
			assert.Empty(t, listNames(t, vol, "/outer/inner"))
		})
	}
}

func TestDirectory_timestamps(t *testing.T) {
	vol, _ := newTestVolume(t, FAT32)
	e, err := vol.Create("/stamp.txt", KindFile)
	require.NoError(t, err)

	assert.Equal(t, testTime, e.Created)
	assert.Equal(t, testTime, e.Modified)
	assert.Equal(t, time.Date(2021, 3, 14, 0, 0, 0, 0, time.UTC), e.Accessed, "FAT stores only the access date")
	assert.Equal(t, AttrArchive, e.Attr)
}
