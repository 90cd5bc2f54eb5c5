// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arm64

import (
	"debug/macho"
	"fmt"

	"github.com/aclements/go-machlink/ld"
	"github.com/aclements/go-machlink/obj"
)

// ReadRelocs decodes the relocation table of isec.
//
// An ARM64_RELOC_ADDEND record carries the addend of the record that
// follows it, and the two decode to one relocation. An
// ARM64_RELOC_SUBTRACTOR is followed by the UNSIGNED it subtracts
// from; both are kept, and the UNSIGNED is marked Subtracted. UNSIGNED
// and SUBTRACTOR records take their addend from the bytes they patch.
//
// Local relocations are resolved to the subsection containing their
// target, with the addend rebased to that subsection.
func ReadRelocs(ctx *ld.Link, file *ld.ObjectFile, isec *ld.InputSection) ([]ld.Reloc, error) {
	raw := isec.Sect.Relocs
	rels := make([]ld.Reloc, 0, len(raw))

	for i := 0; i < len(raw); i++ {
		var addend int64

		switch macho.RelocTypeARM64(raw[i].Type) {
		case macho.ARM64_RELOC_UNSIGNED, macho.ARM64_RELOC_SUBTRACTOR:
			a, err := implicitAddend(isec, raw[i])
			if err != nil {
				return nil, err
			}
			addend = a
		case macho.ARM64_RELOC_ADDEND:
			addend = signExtend24(raw[i].Value)
			i++
			if i == len(raw) {
				return nil, fmt.Errorf("%s:%s: %s: no relocation follows addend", file, isec.Sect, obj.RelocString(raw[i-1]))
			}
		}

		r := raw[i]
		rel := ld.Reloc{
			Offset:      r.Addr,
			Type:        macho.RelocTypeARM64(r.Type),
			P2Size:      r.Len,
			ThunkIdx:    -1,
			ThunkSymIdx: -1,
		}
		if i > 0 && macho.RelocTypeARM64(raw[i-1].Type) == macho.ARM64_RELOC_SUBTRACTOR {
			rel.Subtracted = true
		}
		if !rel.Subtracted && rel.Type != macho.ARM64_RELOC_SUBTRACTOR {
			rel.PCRel = r.Pcrel
		}

		if r.Extern {
			if int(r.Value) >= len(file.Syms) {
				return nil, fmt.Errorf("%s:%s: %s: bad symbol index", file, isec.Sect, obj.RelocString(r))
			}
			rel.Sym = file.Syms[r.Value]
			rel.Addend = addend
			rels = append(rels, rel)
			continue
		}

		// The addend of a local relocation is the target's address in
		// the object file, relative to the patch site if pc-relative.
		addr := uint64(addend)
		if r.Pcrel {
			addr += isec.Sect.Addr + uint64(r.Addr)
		}
		target := file.FindSubsection(obj.SectionID(r.Value)-1, addr)
		if target == nil {
			return nil, fmt.Errorf("%s:%s: bad relocation: %s", file, isec.Sect, obj.RelocString(r))
		}
		rel.Subsec = target
		rel.Addend = int64(addr - target.InputAddr)
		rels = append(rels, rel)
	}
	return rels, nil
}

// implicitAddend reads the addend stored at the location r patches.
func implicitAddend(isec *ld.InputSection, r macho.Reloc) (int64, error) {
	data := isec.Sect.Data
	size := 1 << r.Len
	if uint64(r.Addr)+uint64(size) > uint64(len(data)) {
		return 0, fmt.Errorf("%s:%s: %s: relocation outside section data", isec.File, isec.Sect, obj.RelocString(r))
	}
	rd := obj.NewReader(data, layout)
	rd.SetOffset(int(r.Addr))
	switch r.Len {
	case 2:
		return int64(rd.Int32()), nil
	case 3:
		return rd.Int64(), nil
	}
	return 0, fmt.Errorf("%s:%s: %s: unsupported relocation size %d", isec.File, isec.Sect, obj.RelocString(r), size)
}

func signExtend24(v uint32) int64 {
	return int64(int32(v<<8) >> 8)
}
