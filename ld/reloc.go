// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ld

import (
	"debug/macho"
	"fmt"
)

// A Reloc is a decoded relocation. Exactly one of Sym and Subsec is
// set.
type Reloc struct {
	// Offset is the location to patch. It is relative to the input
	// section when decoded and relative to the owning subsection once
	// distributed.
	Offset uint32
	Type   macho.RelocTypeARM64
	P2Size uint8 // log2 of the patched field size in bytes
	Addend int64

	PCRel bool

	// Subtracted marks the UNSIGNED half of a SUBTRACTOR pair.
	Subtracted bool

	// NeedsDynrel is set by the scanner for absolute pointers to
	// imported symbols, which the dynamic loader must bind.
	NeedsDynrel bool

	Sym    *Symbol
	Subsec *Subsection

	// ThunkIdx and ThunkSymIdx locate the thunk entry a branch goes
	// through, or are -1 if it branches directly.
	ThunkIdx    int32
	ThunkSymIdx int32
}

func (r *Reloc) String() string {
	var target string
	switch {
	case r.Sym != nil:
		target = r.Sym.Name
	case r.Subsec != nil:
		target = r.Subsec.String()
	default:
		target = "?"
	}
	s := fmt.Sprintf("%v@%#x(%s", r.Type, r.Offset, target)
	if r.Addend != 0 {
		s += fmt.Sprintf("%+#x", r.Addend)
	}
	if r.PCRel {
		s += ",pcrel"
	}
	return s + ")"
}
