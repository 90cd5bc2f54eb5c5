// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arm64

import (
	"debug/macho"

	"github.com/aclements/go-machlink/ld"
)

// ScanRelocs records what each symbol referenced by subsec needs: a GOT
// slot for GOT loads, a thread pointer for TLV loads, and a stub for
// any reference to an imported symbol. It also marks dylibs that
// provide referenced symbols as alive.
//
// Every reference to an imported symbol requests a stub, even if it is
// only a data or GOT reference. Slot allocation decides what to do
// with that.
func ScanRelocs(ctx *ld.Link, subsec *ld.Subsection) {
	for i := range subsec.Relocs {
		r := &subsec.Relocs[i]
		sym := r.Sym
		if sym == nil {
			continue
		}

		if sym.Imported {
			if d, ok := sym.File.(*ld.Dylib); ok {
				d.MarkAlive()
			}
		}

		switch r.Type {
		case macho.ARM64_RELOC_UNSIGNED:
			if sym.Imported {
				if r.P2Size != 3 {
					ctx.Errorf(subsec, r, "%v relocation against symbol `%s' can not be used", r.Type, sym)
				}
				r.NeedsDynrel = true
			}
		case macho.ARM64_RELOC_GOT_LOAD_PAGE21,
			macho.ARM64_RELOC_GOT_LOAD_PAGEOFF12,
			macho.ARM64_RELOC_POINTER_TO_GOT:
			sym.AddFlags(ld.NeedsGOT)
		case macho.ARM64_RELOC_TLVP_LOAD_PAGE21,
			macho.ARM64_RELOC_TLVP_LOAD_PAGEOFF12:
			sym.AddFlags(ld.NeedsThreadPtr)
		}

		if sym.Imported {
			sym.AddFlags(ld.NeedsStub)
		}
	}
}
