package convert

import (
	"path/filepath"

	"github.com/ianlancetaylor/demangle"
)

// nameTable assigns one-byte ids to source binary names in first-seen order.
type nameTable struct {
	ids   map[string]uint8
	names []string
}

func newNameTable() *nameTable {
	return &nameTable{ids: make(map[string]uint8)}
}

func (t *nameTable) id(name []byte) uint8 {
	if id, ok := t.ids[string(name)]; ok {
		return id
	}
	if len(t.names) >= OverflowBinary {
		return OverflowBinary
	}
	id := uint8(len(t.names))
	s := string(name)
	t.ids[s] = id
	t.names = append(t.names, s)
	return id
}

// DisplayName returns a readable form of a binary name: the base name of a
// path, demangled when it is a mangled symbol.
func DisplayName(name string) string {
	if name == "" {
		return "?"
	}
	if name[0] != '[' {
		name = filepath.Base(name)
	}
	return demangle.Filter(name, demangle.NoClones)
}

// DisplayNames returns DisplayName for every entry of s.Binaries.
func (s Summary) DisplayNames() []string {
	out := make([]string, len(s.Binaries))
	for i, n := range s.Binaries {
		out[i] = DisplayName(n)
	}
	return out
}
