// Package elfx loads function symbols from ELF binaries so that trace
// addresses can be named in listings.
package elfx

import (
	"debug/elf"
	"fmt"
	"sort"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// Symbol is a function symbol with its demangled display name.
type Symbol struct {
	Name    string
	Display string
	Addr    uint64
	Size    uint64
}

type Section struct {
	Name          string
	VA, Off, Size uint64
}

// Image is the symbol view of one ELF file.
type Image struct {
	Path string
	Text Section
	Syms []Symbol // sorted by Addr
	// Bias is added to every symbol address, for position independent
	// binaries loaded away from their link address.
	Bias uint64
}

// Open reads the static and dynamic symbol tables of path.
func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}
	defer f.Close()

	im := &Image{Path: path}
	if s := f.Section(".text"); s != nil {
		im.Text = Section{s.Name, s.Addr, s.Offset, s.Size}
	}

	seen := make(map[uint64]bool)
	add := func(syms []elf.Symbol) {
		for _, sym := range syms {
			if sym.Value == 0 || elf.ST_TYPE(sym.Info) != elf.STT_FUNC || seen[sym.Value] {
				continue
			}
			seen[sym.Value] = true
			name := strings.TrimSuffix(sym.Name, "@plt")
			im.Syms = append(im.Syms, Symbol{
				Name:    sym.Name,
				Display: demangle.Filter(name, demangle.NoClones),
				Addr:    sym.Value,
				Size:    sym.Size,
			})
		}
	}
	// static symbols first; stripped binaries fall back to .dynsym
	if syms, err := f.Symbols(); err == nil {
		add(syms)
	}
	if syms, err := f.DynamicSymbols(); err == nil {
		add(syms)
	}
	if len(im.Syms) == 0 {
		return nil, fmt.Errorf("no function symbols in %s", path)
	}

	sort.Slice(im.Syms, func(i, j int) bool { return im.Syms[i].Addr < im.Syms[j].Addr })
	return im, nil
}

// Lookup returns the function containing pc and the offset into it. A
// symbol without a size covers everything up to the next symbol.
func (im *Image) Lookup(pc uint64) (Symbol, uint64, bool) {
	if pc < im.Bias {
		return Symbol{}, 0, false
	}
	va := pc - im.Bias
	i := sort.Search(len(im.Syms), func(i int) bool { return im.Syms[i].Addr > va }) - 1
	if i < 0 {
		return Symbol{}, 0, false
	}
	sym := im.Syms[i]
	off := va - sym.Addr
	if sym.Size != 0 && off >= sym.Size {
		return Symbol{}, 0, false
	}
	return sym, off, true
}

// Describe formats pc as "name+0x10", or "" when no symbol covers it.
func (im *Image) Describe(pc uint64) string {
	sym, off, ok := im.Lookup(pc)
	if !ok {
		return ""
	}
	if off == 0 {
		return sym.Display
	}
	return fmt.Sprintf("%s+%#x", sym.Display, off)
}
