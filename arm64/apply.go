// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arm64

import (
	"debug/macho"
	"errors"
	"fmt"

	"github.com/aclements/go-machlink/ld"
	"github.com/aclements/go-machlink/obj"
)

// ApplyRelocs patches the relocations of subsec into buf, which holds
// subsec's contents at its output location. Problems with individual
// relocations are reported to ctx and the relocation is left
// unpatched.
func ApplyRelocs(ctx *ld.Link, subsec *ld.Subsection, buf []byte) {
	rels := subsec.Relocs
	tlv := subsec.Isec.Sect.Type() == obj.SectionThreadLocalVariables

	for i := 0; i < len(rels); i++ {
		r := &rels[i]
		loc := buf[r.Offset:]
		pc := subsec.Addr() + uint64(r.Offset)

		val, n, err := relocValue(ctx, rels[i:])
		i += n - 1
		if err != nil {
			at := r
			var u *undefinedError
			if errors.As(err, &u) {
				at = u.r
			}
			ctx.Errorf(subsec, at, "%v", err)
			continue
		}

		// Thread-local variable descriptors hold offsets from the start
		// of thread-local storage.
		if tlv {
			val -= ctx.TLSBegin
		}

		switch r.Type {
		case macho.ARM64_RELOC_UNSIGNED,
			macho.ARM64_RELOC_SUBTRACTOR,
			macho.ARM64_RELOC_POINTER_TO_GOT:
			if r.PCRel {
				val -= pc
			}
			switch r.P2Size {
			case 2:
				layout.PutUint32(loc, uint32(val))
			case 3:
				layout.PutUint64(loc, val)
			default:
				ctx.Errorf(subsec, r, "%v relocation has unsupported size %d", r.Type, 1<<r.P2Size)
			}

		case macho.ARM64_RELOC_BRANCH26:
			if !r.PCRel {
				ctx.Errorf(subsec, r, "%v relocation is not pc-relative", r.Type)
				continue
			}
			disp := int64(val - pc)
			if !branchInRange(disp) {
				if r.ThunkIdx < 0 {
					ctx.Errorf(subsec, r, "branch displacement %#x out of range and no thunk assigned", disp)
					continue
				}
				th := subsec.Osec.Thunks[r.ThunkIdx]
				disp = int64(th.EntryAddr(r.ThunkSymIdx) - pc)
				if !branchInRange(disp) {
					panic(fmt.Sprintf("%s: thunk at %#x out of range of branch at %#x", subsec, th.Addr(), pc))
				}
			}
			layout.OrUint32(loc, uint32(bits(uint64(disp), 27, 2)))

		case macho.ARM64_RELOC_PAGE21,
			macho.ARM64_RELOC_GOT_LOAD_PAGE21,
			macho.ARM64_RELOC_TLVP_LOAD_PAGE21:
			if !r.PCRel {
				ctx.Errorf(subsec, r, "%v relocation is not pc-relative", r.Type)
				continue
			}
			layout.OrUint32(loc, pageOffset(val, pc))

		case macho.ARM64_RELOC_PAGEOFF12,
			macho.ARM64_RELOC_GOT_LOAD_PAGEOFF12,
			macho.ARM64_RELOC_TLVP_LOAD_PAGEOFF12:
			if r.PCRel {
				ctx.Errorf(subsec, r, "%v relocation is pc-relative", r.Type)
				continue
			}
			scale := loadStoreScale(layout.Uint32(loc))
			layout.OrUint32(loc, uint32(bits(val, 11, scale)<<10))
		}
	}
}

// relocValue returns the value of the relocation at rels[0] before any
// pc-relative adjustment, and the number of relocations it consumed. A
// SUBTRACTOR consumes the UNSIGNED that follows it.
func relocValue(ctx *ld.Link, rels []ld.Reloc) (val uint64, n int, err error) {
	r := &rels[0]
	if err := checkDefined(r); err != nil {
		n = 1
		if r.Type == macho.ARM64_RELOC_SUBTRACTOR && len(rels) > 1 {
			n = 2
		}
		return 0, n, err
	}

	val = uint64(r.Addend)
	switch r.Type {
	case macho.ARM64_RELOC_UNSIGNED,
		macho.ARM64_RELOC_BRANCH26,
		macho.ARM64_RELOC_PAGE21,
		macho.ARM64_RELOC_PAGEOFF12:
		return val + targetAddr(ctx, r), 1, nil

	case macho.ARM64_RELOC_SUBTRACTOR:
		if len(rels) < 2 || rels[1].Type != macho.ARM64_RELOC_UNSIGNED {
			return 0, 1, fmt.Errorf("%v relocation not followed by %v", r.Type, macho.ARM64_RELOC_UNSIGNED)
		}
		s := &rels[1]
		if err := checkDefined(s); err != nil {
			return 0, 2, err
		}
		return val + targetAddr(ctx, s) - targetAddr(ctx, r), 2, nil

	case macho.ARM64_RELOC_GOT_LOAD_PAGE21,
		macho.ARM64_RELOC_GOT_LOAD_PAGEOFF12,
		macho.ARM64_RELOC_POINTER_TO_GOT:
		if r.Sym == nil || r.Sym.GotIdx == -1 {
			return 0, 1, fmt.Errorf("%v relocation target has no GOT slot", r.Type)
		}
		return val + r.Sym.GotAddr(ctx), 1, nil

	case macho.ARM64_RELOC_TLVP_LOAD_PAGE21,
		macho.ARM64_RELOC_TLVP_LOAD_PAGEOFF12:
		if r.Sym == nil || r.Sym.TLVIdx == -1 {
			return 0, 1, fmt.Errorf("%v relocation target has no thread pointer slot", r.Type)
		}
		return val + r.Sym.TLVAddr(ctx), 1, nil
	}
	return 0, 1, fmt.Errorf("unknown relocation type %d", uint32(r.Type))
}

// An undefinedError reports that relocation r refers to an undefined
// symbol. For a SUBTRACTOR pair, r may be either half.
type undefinedError struct {
	r *ld.Reloc
}

func (e *undefinedError) Error() string {
	return fmt.Sprintf("undefined symbol: %s", e.r.Sym)
}

func checkDefined(r *ld.Reloc) error {
	if r.Sym != nil && r.Sym.File == nil {
		return &undefinedError{r}
	}
	return nil
}

func targetAddr(ctx *ld.Link, r *ld.Reloc) uint64 {
	if r.Sym != nil {
		return r.Sym.Addr(ctx)
	}
	return r.Subsec.Addr()
}
