// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ld

import "github.com/apex/log"

// A Chunk is the placement of a synthesized section, set by layout.
type Chunk struct {
	Addr   uint64 // Virtual address
	Offset uint64 // Offset in the output buffer
}

// GotSection is __DATA_CONST,__got: one pointer per symbol loaded
// through the GOT.
type GotSection struct {
	Chunk
	Syms []*Symbol
}

// Add assigns sym the next GOT slot.
func (s *GotSection) Add(sym *Symbol) {
	sym.GotIdx = int32(len(s.Syms))
	s.Syms = append(s.Syms, sym)
}

func (s *GotSection) Size() uint64 { return 8 * uint64(len(s.Syms)) }

// ThreadPtrsSection is __DATA,__thread_ptrs: one pointer per
// thread-local variable accessed through TLVP relocations.
type ThreadPtrsSection struct {
	Chunk
	Syms []*Symbol
}

// Add assigns sym the next thread pointer slot.
func (s *ThreadPtrsSection) Add(sym *Symbol) {
	sym.TLVIdx = int32(len(s.Syms))
	s.Syms = append(s.Syms, sym)
}

func (s *ThreadPtrsSection) Size() uint64 { return 8 * uint64(len(s.Syms)) }

// StubsSection is __TEXT,__stubs: one lazy-binding stub per imported
// function.
type StubsSection struct {
	Chunk
	Syms []*Symbol

	// BindOffsets[i] is the offset of Syms[i]'s entry in the lazy
	// binding info, which the stub helper passes to the binder.
	BindOffsets []uint32
}

// Add assigns sym the next stub.
func (s *StubsSection) Add(sym *Symbol) {
	sym.StubIdx = int32(len(s.Syms))
	s.Syms = append(s.Syms, sym)
	s.BindOffsets = append(s.BindOffsets, 0)
}

// LazySymbolPtrSection is __DATA,__la_symbol_ptr. Entry i is the
// pointer that stub i jumps through.
type LazySymbolPtrSection struct {
	Chunk
}

// StubHelperSection is __TEXT,__stub_helper: a shared header that calls
// dyld_stub_binder and one entry per stub.
type StubHelperSection struct {
	Chunk
}

// stubHelperEntryAddr returns the address of stub helper entry i.
func (ctx *Link) stubHelperEntryAddr(i int) uint64 {
	return ctx.StubHelper.Addr + ctx.Arch.StubHelperHdrSize + uint64(i)*ctx.Arch.StubHelperSize
}

// ObjcStubsSection is __TEXT,__objc_stubs: one objc_msgSend stub per
// selector.
type ObjcStubsSection struct {
	Chunk
	Methnames []string

	// Selrefs[i] is the selector reference loaded by stub i.
	Selrefs []*Subsection
}

// Add appends a stub for methname that loads selref.
func (s *ObjcStubsSection) Add(methname string, selref *Subsection) {
	s.Methnames = append(s.Methnames, methname)
	s.Selrefs = append(s.Selrefs, selref)
}

// Sizes of the synthesized sections, which layout needs before it can
// assign addresses.

func (ctx *Link) StubsSize() uint64 { return uint64(len(ctx.Stubs.Syms)) * ctx.Arch.StubSize }

func (ctx *Link) LazySymbolPtrSize() uint64 { return 8 * uint64(len(ctx.Stubs.Syms)) }

func (ctx *Link) StubHelperSize() uint64 {
	if len(ctx.Stubs.Syms) == 0 {
		return 0
	}
	return ctx.Arch.StubHelperHdrSize + uint64(len(ctx.Stubs.Syms))*ctx.Arch.StubHelperSize
}

func (ctx *Link) ObjcStubsSize() uint64 {
	return uint64(len(ctx.ObjcStubs.Selrefs)) * ctx.Arch.ObjcStubSize
}

const (
	dyldStubBinder = "dyld_stub_binder"
	dyldPrivate    = "__dyld_private"
	objcMsgSend    = "_objc_msgSend"
)

// AllocateSlots assigns GOT, stub, and thread pointer slots from the
// need flags recorded by ScanRelocations. Symbols are visited in file
// order and then symbol table order, so allocation is deterministic.
// Stubs are allocated only for imported symbols.
func (ctx *Link) AllocateSlots() {
	if ctx.phase != phaseScanned {
		panic("ld: AllocateSlots called outside the scanned phase")
	}
	seen := make(map[*Symbol]bool)
	for _, f := range ctx.Files {
		for _, sym := range f.Syms {
			if seen[sym] {
				continue
			}
			seen[sym] = true
			flags := sym.Flags()
			if flags&NeedsGOT != 0 && sym.GotIdx == -1 {
				ctx.Got.Add(sym)
			}
			if flags&NeedsThreadPtr != 0 && sym.TLVIdx == -1 {
				ctx.ThreadPtrs.Add(sym)
			}
			if flags&NeedsStub != 0 && sym.Imported && sym.StubIdx == -1 {
				ctx.Stubs.Add(sym)
			}
		}
	}

	// The stub helper header and ObjC stubs load their callee from
	// the GOT.
	if len(ctx.Stubs.Syms) > 0 {
		ctx.addGot(dyldStubBinder)
	}
	if len(ctx.ObjcStubs.Selrefs) > 0 {
		ctx.addGot(objcMsgSend)
	}

	ctx.Log.WithFields(log.Fields{
		"got":         len(ctx.Got.Syms),
		"stubs":       len(ctx.Stubs.Syms),
		"thread_ptrs": len(ctx.ThreadPtrs.Syms),
	}).Debug("allocated slots")
}

func (ctx *Link) addGot(name string) {
	sym := ctx.Symbol(name)
	if sym.GotIdx == -1 {
		ctx.Got.Add(sym)
	}
}
