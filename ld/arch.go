// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ld

import "github.com/aclements/go-machlink/arch"

// Arch is the architecture-specific half of the link editor. The ld
// package drives the relocation pipeline and calls these hooks for
// everything that depends on instruction encodings.
type Arch struct {
	Sys *arch.Arch

	// Fixed entry sizes of synthesized code, in bytes.
	StubSize          uint64
	StubHelperHdrSize uint64
	StubHelperSize    uint64
	ObjcStubSize      uint64
	ThunkEntrySize    uint64

	// ReadRelocs decodes the raw relocation table of isec into a
	// normalized relocation list in table order. An error is fatal
	// to the link.
	ReadRelocs func(ctx *Link, file *ObjectFile, isec *InputSection) ([]Reloc, error)

	// ScanRelocs records the resources needed by the relocations of
	// subsec. It may run concurrently with ScanRelocs on other
	// subsections.
	ScanRelocs func(ctx *Link, subsec *Subsection)

	// AssignThunks routes out-of-range branches in osec through
	// osec's range-extension thunks.
	AssignThunks func(ctx *Link, osec *OutputSection)

	// ApplyRelocs patches buf, which holds the contents of subsec
	// at its output location. It may run concurrently with
	// ApplyRelocs on other subsections.
	ApplyRelocs func(ctx *Link, subsec *Subsection, buf []byte)

	// Code generators for synthesized sections. buf is exactly the
	// section's output range.
	WriteStubs      func(ctx *Link, buf []byte)
	WriteStubHelper func(ctx *Link, buf []byte)
	WriteObjcStubs  func(ctx *Link, buf []byte)
	WriteThunk      func(ctx *Link, th *Thunk, buf []byte)
}
