package fatfs

import (
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/aligator/fatfs/checkpoint"
	"github.com/elliotwutingfeng/asciiset"
	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/charmap"
)

const (
	maxLongNameLength = 255
	maxAliasTail      = 999999
)

var (
	// shortNameChars are the ASCII characters valid in an upper case 8.3 name.
	// Bytes >= 0x80 are CP437 characters and valid as well.
	shortNameChars, _ = asciiset.MakeASCIISet("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#$%&'()-@^_`{}~")
	// longNameInvalid are the ASCII characters which are not allowed in a long name.
	longNameInvalid, _ = asciiset.MakeASCIISet("\"*/:<>?\\|\x7f")
	// aliasReplaced are valid in a long name but not in an 8.3 name and get
	// replaced by an underscore in the generated alias.
	aliasReplaced, _ = asciiset.MakeASCIISet("+,;=[]")
)

// shortName is the raw 11 byte name of a short record, space padded.
type shortName [11]byte

// checksum is the rotate right and add checksum stored in every long name
// record that belongs to this short name.
func (s shortName) checksum() byte {
	var sum byte
	for _, b := range s {
		sum = (sum&1)<<7 + sum>>1 + b
	}
	return sum
}

// String returns the display form "NAME.EXT" decoded from CP437.
func (s shortName) String() string {
	return s.display(0)
}

// display applies the NT lower case flags.
func (s shortName) display(flags byte) string {
	raw := s
	if raw[0] == entryKanjiE5 {
		raw[0] = entryFree
	}

	base := decodeCP437(strings.TrimRight(string(raw[:8]), " "))
	ext := decodeCP437(strings.TrimRight(string(raw[8:]), " "))
	if flags&ntLowerBase != 0 {
		base = strings.ToLower(base)
	}
	if flags&ntLowerExt != 0 {
		ext = strings.ToLower(ext)
	}

	if ext == "" {
		return base
	}
	return base + "." + ext
}

func (s shortName) isDot() bool {
	return s == shortName{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '} ||
		s == shortName{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
}

func dotName(dots int) shortName {
	n := shortName{' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	for i := 0; i < dots; i++ {
		n[i] = '.'
	}
	return n
}

func decodeCP437(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		b.WriteRune(charmap.CodePage437.DecodeByte(s[i]))
	}
	return b.String()
}

// equalFold compares two names the way FAT does: case insensitive with full
// Unicode case folding.
func equalFold(a, b string) bool {
	if a == b {
		return true
	}
	// A Caser keeps state and must not be shared between goroutines.
	fold := cases.Fold()
	return fold.String(a) == fold.String(b)
}

// validateLongName checks if name may be stored in a directory.
func validateLongName(name string) error {
	if name == "" || name == "." || name == ".." {
		return checkpoint.With(ErrInvalidPath, "invalid name %q", name)
	}
	if len(utf16.Encode([]rune(name))) > maxLongNameLength {
		return checkpoint.With(ErrInvalidPath, "name %q is too long", name)
	}
	if strings.Trim(name, ". ") == "" {
		return checkpoint.With(ErrInvalidPath, "name %q consists of dots and spaces only", name)
	}
	for _, r := range name {
		if r < 0x20 || (r < 0x80 && longNameInvalid.Contains(byte(r))) {
			return checkpoint.With(ErrInvalidPath, "name %q contains %q", name, r)
		}
	}
	return nil
}

// aliasPlan is the result of mapping a long name to its 8.3 record.
type aliasPlan struct {
	// name is the basis name. If tail is set a numeric tail still has to be
	// chosen to make it unique.
	name shortName
	// flags are the NT case flags to be stored.
	flags byte
	// lossy is set if the long name can not be represented by name and flags
	// and therefore needs long name records.
	lossy bool
}

// planShortName maps a long name to an 8.3 name following the usual rules:
// names which fit 8.3 directly are stored without long name records, names
// which only differ by an all lower case base or extension use the NT case
// flags. Everything else gets a generated basis name that still needs a
// numeric tail.
func planShortName(name string) aliasPlan {
	if plan, ok := directShortName(name); ok {
		return plan
	}
	return aliasPlan{name: basisName(name), lossy: true}
}

func directShortName(name string) (aliasPlan, bool) {
	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}
	if base == "" || len(base) > 8 || len(ext) > 3 || (ext == "" && strings.HasSuffix(name, ".")) {
		return aliasPlan{}, false
	}

	var flags byte
	baseUpper, ok := caseVariant(base, ntLowerBase, &flags)
	if !ok {
		return aliasPlan{}, false
	}
	extUpper, ok := caseVariant(ext, ntLowerExt, &flags)
	if !ok {
		return aliasPlan{}, false
	}

	sn := shortName{' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	copy(sn[:8], baseUpper)
	copy(sn[8:], extUpper)
	if sn[0] == entryFree {
		sn[0] = entryKanjiE5
	}
	return aliasPlan{name: sn, flags: flags}, true
}

// caseVariant returns the upper case form of part if it consists of valid
// short name characters and is either all upper or all lower case. In the
// latter case flag is added to flags.
func caseVariant(part string, flag byte, flags *byte) (string, bool) {
	hasUpper, hasLower := false, false
	out := make([]byte, 0, len(part))
	for i := 0; i < len(part); i++ {
		c := part[i]
		switch {
		case c >= 'a' && c <= 'z':
			hasLower = true
			c -= 'a' - 'A'
		case c >= 'A' && c <= 'Z':
			hasUpper = true
		case c >= 0x80 || !shortNameChars.Contains(c):
			return "", false
		}
		out = append(out, c)
	}
	if hasUpper && hasLower {
		return "", false
	}
	if hasLower {
		*flags |= flag
	}
	return string(out), true
}

// basisName creates the 8.3 basis of a long name. Characters which can not
// be part of a short name become '_', spaces and dots of the base are dropped.
func basisName(name string) shortName {
	name = strings.TrimLeft(name, ".")
	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}

	sn := shortName{' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	copy(sn[:8], aliasPart(base, 8))
	copy(sn[8:], aliasPart(ext, 3))
	if sn[0] == ' ' {
		sn[0] = '_'
	}
	if sn[0] == entryFree {
		sn[0] = entryKanjiE5
	}
	return sn
}

func aliasPart(s string, max int) []byte {
	out := make([]byte, 0, max)
	for _, r := range strings.ToUpper(s) {
		if len(out) == max {
			break
		}
		if r == ' ' || r == '.' {
			continue
		}
		if r < 0x80 {
			c := byte(r)
			if aliasReplaced.Contains(c) || !shortNameChars.Contains(c) {
				c = '_'
			}
			out = append(out, c)
			continue
		}
		if c, ok := charmap.CodePage437.EncodeRune(r); ok {
			out = append(out, c)
		} else {
			out = append(out, '_')
		}
	}
	return out
}

// withTail returns basis with the numeric tail ~n inserted into the base.
func withTail(basis shortName, n int) shortName {
	tail := "~" + strconv.Itoa(n)
	baseLen := 8
	for baseLen > 0 && basis[baseLen-1] == ' ' {
		baseLen--
	}
	if baseLen > 8-len(tail) {
		baseLen = 8 - len(tail)
	}

	out := basis
	copy(out[baseLen:8], tail)
	for i := baseLen + len(tail); i < 8; i++ {
		out[i] = ' '
	}
	return out
}

// uniqueAlias picks the first numeric tail that makes basis unique within
// taken.
func uniqueAlias(basis shortName, taken map[shortName]bool) (shortName, error) {
	for n := 1; n <= maxAliasTail; n++ {
		candidate := withTail(basis, n)
		if !taken[candidate] {
			return candidate, nil
		}
	}
	return shortName{}, checkpoint.With(ErrAlreadyExists, "no unique short name for %q", basis.String())
}

// longNameRecords splits name into the UTF-16 blocks of its long name
// records. The first block belongs to the record with sequence number 1.
// The name is terminated by 0x0000 if it does not fill the last block and
// padded with 0xFFFF.
func longNameRecords(name string) [][lfnCharsPerRec]uint16 {
	units := utf16.Encode([]rune(name))
	n := (len(units) + lfnCharsPerRec - 1) / lfnCharsPerRec
	blocks := make([][lfnCharsPerRec]uint16, n)
	for i := range blocks {
		for j := 0; j < lfnCharsPerRec; j++ {
			k := i*lfnCharsPerRec + j
			switch {
			case k < len(units):
				blocks[i][j] = units[k]
			case k == len(units):
				blocks[i][j] = 0x0000
			default:
				blocks[i][j] = 0xFFFF
			}
		}
	}
	return blocks
}

// decodeLongName joins the blocks of a long name run ordered by sequence
// number.
func decodeLongName(blocks [][lfnCharsPerRec]uint16) string {
	units := make([]uint16, 0, len(blocks)*lfnCharsPerRec)
	for _, b := range blocks {
		for _, u := range b {
			if u == 0x0000 {
				return string(utf16.Decode(units))
			}
			units = append(units, u)
		}
	}
	return string(utf16.Decode(units))
}
