package fatfs

import (
	"errors"
	"io"
	"os"
	"reflect"
	"syscall"
	"testing"

	"github.com/golang/mock/gomock"
)

// fileTestFields is essentially a copy of the File struct used to fill the
// unit under test in test cases.
type fileTestFields struct {
	handle      Handle
	path        string
	mode        Mode
	isDirectory bool
	offset      int64
}

func (f fileTestFields) file(fs fatFileFs) *File {
	return &File{
		fs:          fs,
		handle:      f.handle,
		path:        f.path,
		mode:        f.mode,
		isDirectory: f.isDirectory,
		offset:      f.offset,
	}
}

// fileTestsError is just a error used in tests for File.
var fileTestsError = errors.New("a super error")

func TestFile_Close(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockFs := NewMockfatFileFs(mockCtrl)
	mockFs.EXPECT().Close(Handle(3)).Return(nil).Times(1)

	f := fileTestFields{handle: 3, path: "/a.txt"}.file(mockFs)
	if err := f.Close(); err != nil {
		t.Errorf("File.Close() error = %v", err)
	}
	if err := f.Close(); !errors.Is(err, os.ErrClosed) {
		t.Errorf("File.Close() twice error = %v, want %v", err, os.ErrClosed)
	}
	if _, err := f.Read(make([]byte, 1)); !errors.Is(err, os.ErrClosed) {
		t.Errorf("File.Read() after Close error = %v, want %v", err, os.ErrClosed)
	}
	if _, err := f.Stat(); !errors.Is(err, os.ErrClosed) {
		t.Errorf("File.Stat() after Close error = %v, want %v", err, os.ErrClosed)
	}
}

func TestFile_Read(t *testing.T) {
	type args struct {
		p []byte
	}
	type mock struct {
		readAtResult []byte
		readAtError  error
	}
	tests := []struct {
		name       string
		mockData   mock
		fields     fileTestFields
		args       args
		wantN      int
		wantOffset int64
		wantErr    error
	}{
		{
			name: "simple file",
			mockData: mock{
				readAtResult: []byte("Hell0 World"),
			},
			args: args{
				p: make([]byte, 11),
			},
			wantN:      11,
			wantOffset: 11,
		},
		{
			name: "simple file with offset",
			mockData: mock{
				readAtResult: []byte(" World"),
			},
			fields: fileTestFields{
				offset: 5,
			},
			args: args{
				p: make([]byte, 6),
			},
			wantN:      6,
			wantOffset: 11,
		},
		{
			name: "error while reading",
			mockData: mock{
				readAtResult: []byte{'H'}, // Simulate error after some bytes are already read.
				readAtError:  fileTestsError,
			},
			args: args{
				p: make([]byte, 11),
			},
			wantN:      1,
			wantOffset: 1,
			wantErr:    fileTestsError,
		},
		{
			name: "file smaller than buffer",
			mockData: mock{
				readAtResult: []byte("Hell0 World"),
				readAtError:  io.EOF,
			},
			args: args{
				p: make([]byte, 20),
			},
			wantN:      11,
			wantOffset: 11,
		},
		{
			name: "at the end",
			mockData: mock{
				readAtError: io.EOF,
			},
			fields: fileTestFields{
				offset: 11,
			},
			args: args{
				p: make([]byte, 20),
			},
			wantOffset: 11,
			wantErr:    io.EOF,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockCtrl := gomock.NewController(t)
			mockFs := NewMockfatFileFs(mockCtrl)
			mockFs.EXPECT().
				ReadAt(tt.fields.handle, tt.args.p, tt.fields.offset).
				Times(1).
				DoAndReturn(func(_ Handle, p []byte, _ int64) (int, error) {
					return copy(p, tt.mockData.readAtResult), tt.mockData.readAtError
				})

			f := tt.fields.file(mockFs)
			gotN, err := f.Read(tt.args.p)

			mockCtrl.Finish()

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("File.Read() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if gotN != tt.wantN {
				t.Errorf("File.Read() = %v, want %v", gotN, tt.wantN)
			}
			if f.offset != tt.wantOffset {
				t.Errorf("File.Read() offset = %v, want %v", f.offset, tt.wantOffset)
			}
			if string(tt.args.p[:gotN]) != string(tt.mockData.readAtResult) {
				t.Errorf("File.Read() read = %q, want %q", tt.args.p[:gotN], tt.mockData.readAtResult)
			}
		})
	}
}

func TestFile_Read_emptyBuffer(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockFs := NewMockfatFileFs(mockCtrl)

	f := fileTestFields{}.file(mockFs)
	if n, err := f.Read(nil); n != 0 || err != nil {
		t.Errorf("File.Read(nil) = %v, %v, want 0, nil", n, err)
	}
}

func TestFile_ReadAt(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockFs := NewMockfatFileFs(mockCtrl)

	p := make([]byte, 4)
	mockFs.EXPECT().ReadAt(Handle(1), p, int64(7)).Return(4, nil)
	mockFs.EXPECT().ReadAt(Handle(1), p, int64(9)).Return(2, io.EOF)
	mockFs.EXPECT().ReadAt(Handle(1), p, int64(0)).Return(0, fileTestsError)

	f := fileTestFields{handle: 1, path: "/f", offset: 3}.file(mockFs)

	if n, err := f.ReadAt(p, 7); n != 4 || err != nil {
		t.Errorf("File.ReadAt() = %v, %v, want 4, nil", n, err)
	}
	if n, err := f.ReadAt(p, 9); n != 2 || err != io.EOF {
		t.Errorf("File.ReadAt() = %v, %v, want 2, io.EOF", n, err)
	}
	_, err := f.ReadAt(p, 0)
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) || pathErr.Path != "/f" || !errors.Is(err, fileTestsError) {
		t.Errorf("File.ReadAt() error = %v, want a PathError of /f wrapping %v", err, fileTestsError)
	}
	if f.offset != 3 {
		t.Errorf("File.ReadAt() moved the offset to %v", f.offset)
	}
}

func TestFile_Seek(t *testing.T) {
	type args struct {
		offset int64
		whence int
	}
	tests := []struct {
		name     string
		fields   fileTestFields
		fileSize uint32
		statErr  error
		args     args
		want     int64
		wantErr  error
	}{
		{
			name: "seek from start",
			args: args{offset: 5, whence: io.SeekStart},
			want: 5,
		},
		{
			name:   "seek from current",
			fields: fileTestFields{offset: 4},
			args:   args{offset: 5, whence: io.SeekCurrent},
			want:   9,
		},
		{
			name:   "seek back from current",
			fields: fileTestFields{offset: 4},
			args:   args{offset: -3, whence: io.SeekCurrent},
			want:   1,
		},
		{
			name:     "seek from end",
			fileSize: 11,
			args:     args{offset: -1, whence: io.SeekEnd},
			want:     10,
		},
		{
			name:     "seek behind the end",
			fileSize: 11,
			args:     args{offset: 20, whence: io.SeekEnd},
			want:     31,
		},
		{
			name:    "stat fails",
			statErr: fileTestsError,
			args:    args{whence: io.SeekEnd},
			wantErr: fileTestsError,
		},
		{
			name:    "negative offset",
			fields:  fileTestFields{offset: 4},
			args:    args{offset: -5, whence: io.SeekCurrent},
			want:    4,
			wantErr: syscall.EINVAL,
		},
		{
			name:    "invalid whence",
			args:    args{whence: 3},
			wantErr: syscall.EINVAL,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockCtrl := gomock.NewController(t)
			mockFs := NewMockfatFileFs(mockCtrl)
			mockFs.EXPECT().
				StatHandle(tt.fields.handle).
				MaxTimes(1).
				Return(DirEntry{Size: tt.fileSize}, tt.statErr)

			f := tt.fields.file(mockFs)
			got, err := f.Seek(tt.args.offset, tt.args.whence)

			mockCtrl.Finish()

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("File.Seek() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				if f.offset != tt.fields.offset {
					t.Errorf("File.Seek() changed the offset on error to %v", f.offset)
				}
				return
			}
			if got != tt.want || f.offset != tt.want {
				t.Errorf("File.Seek() = %v, offset %v, want %v", got, f.offset, tt.want)
			}
		})
	}
}

func TestFile_Write(t *testing.T) {
	tests := []struct {
		name       string
		fields     fileTestFields
		writeN     int
		writeErr   error
		sizeAfter  uint32
		wantOffset int64
		wantErr    error
	}{
		{
			name:       "write at the offset",
			fields:     fileTestFields{offset: 2},
			writeN:     5,
			wantOffset: 7,
		},
		{
			name:       "partial write",
			writeN:     3,
			writeErr:   fileTestsError,
			wantOffset: 3,
			wantErr:    fileTestsError,
		},
		{
			name:       "append",
			fields:     fileTestFields{mode: ModeWrite | ModeAppend, offset: 1},
			writeN:     5,
			sizeAfter:  105,
			wantOffset: 105,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockCtrl := gomock.NewController(t)
			mockFs := NewMockfatFileFs(mockCtrl)
			p := []byte("hello")
			mockFs.EXPECT().WriteAt(tt.fields.handle, p, tt.fields.offset).Return(tt.writeN, tt.writeErr)
			if tt.fields.mode&ModeAppend != 0 {
				mockFs.EXPECT().StatHandle(tt.fields.handle).Return(DirEntry{Size: tt.sizeAfter}, nil)
			}

			f := tt.fields.file(mockFs)
			n, err := f.Write(p)

			mockCtrl.Finish()

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("File.Write() error = %v, wantErr %v", err, tt.wantErr)
			}
			if n != tt.writeN {
				t.Errorf("File.Write() = %v, want %v", n, tt.writeN)
			}
			if f.offset != tt.wantOffset {
				t.Errorf("File.Write() offset = %v, want %v", f.offset, tt.wantOffset)
			}
		})
	}
}

func TestFile_WriteAt(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockFs := NewMockfatFileFs(mockCtrl)
	mockFs.EXPECT().WriteAt(Handle(2), []byte("abc"), int64(40)).Return(3, nil)

	f := fileTestFields{handle: 2, offset: 1}.file(mockFs)
	if n, err := f.WriteAt([]byte("abc"), 40); n != 3 || err != nil {
		t.Errorf("File.WriteAt() = %v, %v, want 3, nil", n, err)
	}
	if f.offset != 1 {
		t.Errorf("File.WriteAt() moved the offset to %v", f.offset)
	}

	appending := fileTestFields{handle: 2, mode: ModeWrite | ModeAppend}.file(mockFs)
	if _, err := appending.WriteAt([]byte("abc"), 0); !errors.Is(err, syscall.EINVAL) {
		t.Errorf("File.WriteAt() in append mode error = %v, want %v", err, syscall.EINVAL)
	}
}

func TestFile_Readdir(t *testing.T) {
	entries := []DirEntry{{Name: "a"}, {Name: "b", Attr: AttrDirectory}, {Name: "c"}}

	t.Run("in pages", func(t *testing.T) {
		mockCtrl := gomock.NewController(t)
		defer mockCtrl.Finish()
		mockFs := NewMockfatFileFs(mockCtrl)
		gomock.InOrder(
			mockFs.EXPECT().ListDirectory("/dir", uint32(0), 2).Return(entries[:2], uint32(6), false, nil),
			mockFs.EXPECT().ListDirectory("/dir", uint32(6), 2).Return(entries[2:], uint32(7), true, nil),
		)

		f := fileTestFields{path: "/dir", isDirectory: true}.file(mockFs)
		got, err := f.Readdirnames(2)
		if err != nil || !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Errorf("File.Readdirnames() = %v, %v, want [a b], nil", got, err)
		}
		infos, err := f.Readdir(2)
		if err != nil || len(infos) != 1 || infos[0].Name() != "c" {
			t.Errorf("File.Readdir() = %v, %v, want [c], nil", infos, err)
		}
		if _, err := f.Readdir(2); err != io.EOF {
			t.Errorf("File.Readdir() at the end error = %v, want io.EOF", err)
		}
		if rest, err := f.Readdir(0); err != nil || len(rest) != 0 {
			t.Errorf("File.Readdir(0) at the end = %v, %v, want nothing", rest, err)
		}
	})

	t.Run("everything", func(t *testing.T) {
		mockCtrl := gomock.NewController(t)
		defer mockCtrl.Finish()
		mockFs := NewMockfatFileFs(mockCtrl)
		mockFs.EXPECT().ListDirectory("/dir", uint32(0), 0).Return(entries, uint32(7), true, nil)

		f := fileTestFields{path: "/dir", isDirectory: true}.file(mockFs)
		infos, err := f.Readdir(-1)
		if err != nil || len(infos) != 3 {
			t.Fatalf("File.Readdir() = %v, %v, want 3 entries", infos, err)
		}
		if !infos[1].IsDir() {
			t.Errorf("File.Readdir() entry %q is no directory", infos[1].Name())
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		mockCtrl := gomock.NewController(t)
		defer mockCtrl.Finish()
		mockFs := NewMockfatFileFs(mockCtrl)
		mockFs.EXPECT().ListDirectory("/dir", uint32(0), 5).Return(nil, uint32(2), true, nil)

		f := fileTestFields{path: "/dir", isDirectory: true}.file(mockFs)
		if _, err := f.Readdir(5); err != io.EOF {
			t.Errorf("File.Readdir() error = %v, want io.EOF", err)
		}
	})

	t.Run("list fails", func(t *testing.T) {
		mockCtrl := gomock.NewController(t)
		defer mockCtrl.Finish()
		mockFs := NewMockfatFileFs(mockCtrl)
		mockFs.EXPECT().ListDirectory("/dir", uint32(0), 0).Return(nil, uint32(0), false, fileTestsError)

		f := fileTestFields{path: "/dir", isDirectory: true}.file(mockFs)
		if _, err := f.Readdir(0); !errors.Is(err, fileTestsError) {
			t.Errorf("File.Readdir() error = %v, want %v", err, fileTestsError)
		}
	})

	t.Run("no directory", func(t *testing.T) {
		mockCtrl := gomock.NewController(t)
		defer mockCtrl.Finish()
		mockFs := NewMockfatFileFs(mockCtrl)

		f := fileTestFields{path: "/file"}.file(mockFs)
		if _, err := f.Readdir(0); !errors.Is(err, syscall.ENOTDIR) {
			t.Errorf("File.Readdir() error = %v, want %v", err, syscall.ENOTDIR)
		}
	})
}

func TestFile_Stat(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockFs := NewMockfatFileFs(mockCtrl)
	mockFs.EXPECT().StatHandle(Handle(4)).Return(DirEntry{Name: "file.txt", Size: 42}, nil)
	mockFs.EXPECT().StatHandle(Handle(4)).Return(DirEntry{}, fileTestsError)

	f := fileTestFields{handle: 4, path: "/file.txt"}.file(mockFs)
	info, err := f.Stat()
	if err != nil {
		t.Fatalf("File.Stat() error = %v", err)
	}
	if info.Name() != "file.txt" || info.Size() != 42 {
		t.Errorf("File.Stat() = %v %v, want file.txt 42", info.Name(), info.Size())
	}
	if _, err := f.Stat(); !errors.Is(err, fileTestsError) {
		t.Errorf("File.Stat() error = %v, want %v", err, fileTestsError)
	}
}

func TestFile_TruncateAndSync(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockFs := NewMockfatFileFs(mockCtrl)
	mockFs.EXPECT().Truncate(Handle(5), int64(100)).Return(nil)
	mockFs.EXPECT().Truncate(Handle(5), int64(-1)).Return(fileTestsError)
	mockFs.EXPECT().Sync().Return(nil)

	f := fileTestFields{handle: 5, path: "/t"}.file(mockFs)
	if err := f.Truncate(100); err != nil {
		t.Errorf("File.Truncate() error = %v", err)
	}
	if err := f.Truncate(-1); !errors.Is(err, fileTestsError) {
		t.Errorf("File.Truncate() error = %v, want %v", err, fileTestsError)
	}
	if err := f.Sync(); err != nil {
		t.Errorf("File.Sync() error = %v", err)
	}
}

func TestFile_Name(t *testing.T) {
	f := fileTestFields{path: "/some/where.txt"}.file(nil)
	if got := f.Name(); got != "/some/where.txt" {
		t.Errorf("File.Name() = %v, want /some/where.txt", got)
	}
}
