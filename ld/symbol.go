// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ld

import (
	"strings"
	"sync/atomic"
)

// SymbolFlags records which auxiliary resources a symbol needs.
type SymbolFlags uint32

const (
	NeedsGOT SymbolFlags = 1 << iota
	NeedsStub
	NeedsThreadPtr
)

func (f SymbolFlags) String() string {
	var s []string
	if f&NeedsGOT != 0 {
		s = append(s, "GOT")
	}
	if f&NeedsStub != 0 {
		s = append(s, "STUB")
	}
	if f&NeedsThreadPtr != 0 {
		s = append(s, "THREAD_PTR")
	}
	if len(s) == 0 {
		return "0"
	}
	return strings.Join(s, "|")
}

// A Symbol is a named address in the link.
//
// Global symbols are shared by every file that references them. Need
// flags may be set concurrently during the scan phase; all other
// fields are fixed by the time scanning starts.
type Symbol struct {
	Name string

	// File is the file that defines the symbol, or nil if it is
	// undefined.
	File InputFile

	// Imported is set if the symbol is defined by a dylib.
	Imported bool

	// Subsec is the subsection containing the symbol and Value is
	// its offset in Subsec. If Subsec is nil, Value is absolute.
	Subsec *Subsection
	Value  uint64

	GotIdx  int32
	StubIdx int32
	TLVIdx  int32

	flags atomic.Uint32
}

func newSymbol(name string) *Symbol {
	return &Symbol{Name: name, GotIdx: -1, StubIdx: -1, TLVIdx: -1}
}

func (s *Symbol) String() string {
	return s.Name
}

// AddFlags sets f in s's need flags. It is safe to call concurrently.
func (s *Symbol) AddFlags(f SymbolFlags) {
	s.flags.Or(uint32(f))
}

// Flags returns s's need flags.
func (s *Symbol) Flags() SymbolFlags {
	return SymbolFlags(s.flags.Load())
}

// Addr returns the final address of s. A symbol with a stub resolves
// to its stub.
func (s *Symbol) Addr(ctx *Link) uint64 {
	if s.StubIdx != -1 {
		return ctx.Stubs.Addr + uint64(s.StubIdx)*ctx.Arch.StubSize
	}
	if s.Subsec != nil {
		return s.Subsec.Addr() + s.Value
	}
	return s.Value
}

// GotAddr returns the address of s's GOT slot.
func (s *Symbol) GotAddr(ctx *Link) uint64 {
	if s.GotIdx == -1 {
		panic("symbol " + s.Name + " has no GOT slot")
	}
	return ctx.Got.Addr + uint64(s.GotIdx)*8
}

// TLVAddr returns the address of s's thread-local variable pointer.
func (s *Symbol) TLVAddr(ctx *Link) uint64 {
	if s.TLVIdx == -1 {
		panic("symbol " + s.Name + " has no thread pointer slot")
	}
	return ctx.ThreadPtrs.Addr + uint64(s.TLVIdx)*8
}
