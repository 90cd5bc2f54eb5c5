// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"debug/macho"
	"fmt"
	"io"

	"github.com/aclements/go-machlink/arch"
)

// Mach-O constants that debug/macho does not export.
const (
	mhSubsectionsViaSymbols = 0x2000

	nStab     = 0xe0
	nPrivExt  = 0x10
	nTypeMask = 0x0e
	nExt      = 0x01

	nUndf = 0x0
	nAbs  = 0x2
	nSect = 0xe

	nWeakDef = 0x0080
)

// OpenMachO reads a relocatable ARM64 Mach-O object from r. name is
// used to identify the file in errors and diagnostics.
func OpenMachO(name string, r io.ReaderAt) (*File, error) {
	// Is this a 64-bit little-endian Mach-O file?
	var magic [4]uint8 // MachO 64 = 0xFEEDFACF (LE)
	if _, err := r.ReadAt(magic[0:], 0); err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}
	if magic[3] != '\xFE' || magic[2] != '\xED' || magic[1] != '\xFA' || magic[0] != '\xCF' {
		return nil, fmt.Errorf("%s: not a 64-bit Mach-O file", name)
	}

	mf, err := macho.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}
	if mf.Cpu != macho.CpuArm64 {
		return nil, fmt.Errorf("%s: unsupported CPU type %v", name, mf.Cpu)
	}
	if mf.Type != macho.TypeObj {
		return nil, fmt.Errorf("%s: not a relocatable object (file type %v)", name, mf.Type)
	}

	f := &File{
		Name:                  name,
		Arch:                  arch.ARM64,
		SubsectionsViaSymbols: mf.Flags&mhSubsectionsViaSymbols != 0,
	}

	// Read section table.
	for _, ms := range mf.Sections {
		s := &Section{
			Name:  ms.Name,
			Seg:   ms.Seg,
			ID:    SectionID(len(f.Sections)), // 0-based
			Addr:  ms.Addr,
			Size:  ms.Size,
			Align: ms.Align,
			Flags: ms.Flags,
		}
		if !s.IsZeroFill() {
			s.Data, err = ms.Data()
			if err != nil {
				return nil, fmt.Errorf("%s: reading section %s: %v", name, s, err)
			}
			if uint64(len(s.Data)) != s.Size {
				return nil, fmt.Errorf("%s: reading section %s got %d bytes, want %d", name, s, len(s.Data), s.Size)
			}
		}
		if ms.Nreloc > 0 {
			raw := make([]byte, int(ms.Nreloc)*RelocSize)
			if _, err := r.ReadAt(raw, int64(ms.Reloff)); err != nil {
				return nil, fmt.Errorf("%s: reading relocations of %s: %v", name, s, err)
			}
			s.Relocs, err = DecodeRelocs(raw, f.Arch.Layout)
			if err != nil {
				return nil, fmt.Errorf("%s: section %s: %v", name, s, err)
			}
		}
		f.Sections = append(f.Sections, s)
	}

	// Read symbol table. Relocations index symbols by nlist position,
	// so every entry is kept, including debugging entries.
	if mf.Symtab != nil {
		f.Syms = make([]Sym, len(mf.Symtab.Syms))
		for i, ms := range mf.Symtab.Syms {
			sym := &f.Syms[i]
			sym.Name = ms.Name
			sym.Value = ms.Value
			sym.Kind = SymUnknown
			if ms.Type&nStab != 0 {
				continue
			}
			sym.SetExtern(ms.Type&nExt != 0)
			sym.SetPrivateExtern(ms.Type&nPrivExt != 0)
			sym.SetWeakDef(ms.Desc&nWeakDef != 0)

			switch ms.Type & nTypeMask {
			case nUndf:
				sym.Kind = SymUndef
				if sym.Extern() && ms.Value != 0 {
					sym.Kind = SymCommon
				}
			case nAbs:
				sym.Kind = SymAbsolute
			case nSect:
				sect := f.Section(int(ms.Sect))
				if sect == nil {
					return nil, fmt.Errorf("%s: symbol %q refers to bad section %d", name, ms.Name, ms.Sect)
				}
				sym.Section = sect
				if sect.IsText() {
					sym.Kind = SymText
				} else {
					sym.Kind = SymData
				}
			}
		}
	}

	return f, nil
}
