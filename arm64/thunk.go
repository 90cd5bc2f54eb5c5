// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arm64

import (
	"debug/macho"

	"github.com/aclements/go-machlink/ld"
	"github.com/apex/log"
)

var thunkInsns = [ThunkEntrySize / 4]uint32{
	0x90000010, // adrp x16, $sym@PAGE
	0x91000210, // add  x16, x16, $sym@PAGEOFF
	0xd61f0200, // br   x16
}

// WriteThunk writes the entries of th. Entry i jumps to th.Syms[i]
// from anywhere in the address space, clobbering x16.
func WriteThunk(ctx *ld.Link, th *ld.Thunk, buf []byte) {
	for i, sym := range th.Syms {
		addr := sym.Addr(ctx)
		pc := th.EntryAddr(int32(i))

		loc := buf[ThunkEntrySize*i:]
		putInsns(loc, thunkInsns[:])
		layout.OrUint32(loc[0:], pageOffset(addr, pc))
		layout.OrUint32(loc[4:], uint32(bits(addr, 11, 0)<<10))
	}
}

// AssignThunks routes every BRANCH26 in osec whose target is out of
// range through the first of osec's thunks that can reach it,
// adding the target to that thunk if needed.
func AssignThunks(ctx *ld.Link, osec *ld.OutputSection) {
	for _, subsec := range osec.Members {
		for i := range subsec.Relocs {
			r := &subsec.Relocs[i]
			if r.Type != macho.ARM64_RELOC_BRANCH26 {
				continue
			}
			r.ThunkIdx, r.ThunkSymIdx = -1, -1
			if r.Sym != nil && r.Sym.File == nil {
				// Reported when applied.
				continue
			}

			pc := subsec.Addr() + uint64(r.Offset)
			target := uint64(r.Addend)
			if r.Sym != nil {
				target += r.Sym.Addr(ctx)
			} else {
				target += r.Subsec.Addr()
			}
			if branchInRange(int64(target - pc)) {
				continue
			}
			if r.Sym == nil || r.Addend != 0 {
				ctx.Errorf(subsec, r, "branch target %#x out of range and cannot use a thunk", target)
				continue
			}

			if !assignThunk(osec, r, pc) {
				ctx.Errorf(subsec, r, "no range extension thunk within reach of branch at %#x", pc)
				continue
			}
			ctx.Log.WithFields(log.Fields{
				"symbol": r.Sym.Name,
				"pc":     pc,
				"thunk":  r.ThunkIdx,
			}).Debug("branch through thunk")
		}
	}
}

func assignThunk(osec *ld.OutputSection, r *ld.Reloc, pc uint64) bool {
	for ti, th := range osec.Thunks {
		idx, ok := th.Lookup(r.Sym)
		if !ok {
			idx = int32(len(th.Syms))
		}
		if !branchInRange(int64(th.EntryAddr(idx) - pc)) {
			continue
		}
		if !ok {
			th.Add(r.Sym)
		}
		r.ThunkIdx, r.ThunkSymIdx = int32(ti), idx
		return true
	}
	return false
}
