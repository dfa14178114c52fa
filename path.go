package fatfs

import (
	"strings"

	"github.com/aligator/fatfs/checkpoint"
)

// Kind selects what Create creates.
type Kind uint8

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// splitPath splits p at '/' and '\'. A leading separator makes the path
// absolute. An empty path or an empty segment is invalid; a single trailing
// separator is allowed.
func splitPath(p string) (absolute bool, segments []string, err error) {
	if p == "" {
		return false, nil, checkpoint.With(ErrInvalidPath, "empty path")
	}

	if isSeparator(rune(p[0])) {
		absolute = true
		p = p[1:]
	}
	if p == "" {
		return absolute, nil, nil
	}
	if isSeparator(rune(p[len(p)-1])) {
		p = p[:len(p)-1]
	}

	segments = strings.FieldsFunc(p, isSeparator)
	if len(segments) != strings.Count(p, "/")+strings.Count(p, "\\")+1 {
		return false, nil, checkpoint.With(ErrInvalidPath, "empty segment in %q", p)
	}
	return absolute, segments, nil
}

// resolve walks path starting at the directory start. Absolute paths start
// at the root.
func (v *Volume) resolve(start *DirEntry, path string) (*DirEntry, error) {
	absolute, segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	cur := start
	if absolute || cur == nil {
		cur = v.rootEntry()
	}

	for _, seg := range segments {
		if cur, err = v.step(cur, seg); err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// step resolves one path segment relative to the directory cur.
func (v *Volume) step(cur *DirEntry, seg string) (*DirEntry, error) {
	dir, err := v.childDir(cur)
	if err != nil {
		return nil, err
	}

	switch seg {
	case ".":
		return cur, nil
	case "..":
		if cur.root {
			return nil, checkpoint.With(ErrInvalidPath, "\"..\" above the root directory")
		}
		parent, err := v.parentOf(dir)
		if err != nil {
			return nil, err
		}
		return v.entryOf(parent)
	}
	return v.lookup(dir, seg)
}

// resolveParent resolves everything but the last segment of path, which
// is returned as name.
func (v *Volume) resolveParent(start *DirEntry, path string) (*DirEntry, string, error) {
	absolute, segments, err := splitPath(path)
	if err != nil {
		return nil, "", err
	}
	if len(segments) == 0 {
		return nil, "", checkpoint.With(ErrInvalidPath, "%q has no name", path)
	}

	cur := start
	if absolute || cur == nil {
		cur = v.rootEntry()
	}
	for _, seg := range segments[:len(segments)-1] {
		if cur, err = v.step(cur, seg); err != nil {
			return nil, "", err
		}
	}
	if !cur.IsDir() {
		return nil, "", checkpoint.With(ErrNotADirectory, "%q", cur.Name)
	}

	name := segments[len(segments)-1]
	if name == "." || name == ".." {
		return nil, "", checkpoint.With(ErrInvalidPath, "%q can not be created", name)
	}
	return cur, name, nil
}

// resolveOrCreate resolves path and creates its last segment if it does
// not exist yet. Missing intermediate directories are not created. created
// reports whether the entry is new.
func (v *Volume) resolveOrCreate(start *DirEntry, path string, kind Kind) (e *DirEntry, created bool, err error) {
	e, err = v.resolve(start, path)
	if err == nil {
		return e, false, nil
	}
	if !isKind(err, ErrNotFound) {
		return nil, false, err
	}

	parent, name, err := v.resolveParent(start, path)
	if err != nil {
		return nil, false, err
	}
	dir, err := v.childDir(parent)
	if err != nil {
		return nil, false, err
	}

	now := v.now()
	t := template{name: name, created: now, modified: now, accessed: now}
	if kind == KindDirectory {
		t.attr = AttrDirectory
	} else {
		t.attr = AttrArchive
	}
	e, err = v.insert(dir, t, -1)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}
