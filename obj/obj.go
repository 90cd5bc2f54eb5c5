// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package obj reads relocatable ARM64 Mach-O object files into the form
// consumed by the link editor: sections with their bytes and raw
// relocation records, and the symbol table in nlist order.
package obj

import (
	"debug/macho"
	"fmt"

	"github.com/aclements/go-machlink/arch"
)

// A File is a relocatable object file.
type File struct {
	// Name identifies the file in diagnostics.
	Name string

	Arch *arch.Arch

	// SubsectionsViaSymbols indicates that sections may be split at
	// symbol boundaries into independently relocatable units.
	SubsectionsViaSymbols bool

	// Sections is indexed by SectionID. Mach-O section ordinals are
	// 1-based, so ordinal n is Sections[n-1].
	Sections []*Section

	// Syms is indexed by SymID, which is the nlist index. Relocations
	// with the extern bit refer to symbols by this index.
	Syms []Sym
}

// SectionID is the 0-based index of a section in File.Sections.
type SectionID int

// A Section is a section of a relocatable object file.
type Section struct {
	Name string
	Seg  string
	ID   SectionID

	// Addr and Size give the section's address range in the object
	// file's own address space. Local relocations are expressed in
	// this address space.
	Addr uint64
	Size uint64

	// Align is the log2 alignment of the section.
	Align uint32

	// Flags is the raw Mach-O section flags word: the section type in
	// the low 8 bits and attributes in the rest.
	Flags uint32

	// Data is the section contents, or nil for zero-fill sections.
	Data []byte

	// Relocs is the section's relocation table in file order.
	Relocs []macho.Reloc
}

// SectionType is the type field of a Mach-O section.
type SectionType uint8

const (
	SectionRegular                 SectionType = 0x00
	SectionZeroFill                SectionType = 0x01
	SectionCStringLiterals         SectionType = 0x02
	SectionLiteralPointers         SectionType = 0x05
	SectionNonLazySymbolPointers   SectionType = 0x06
	SectionLazySymbolPointers      SectionType = 0x07
	SectionSymbolStubs             SectionType = 0x08
	SectionModInitFuncPointers     SectionType = 0x09
	SectionGBZeroFill              SectionType = 0x0c
	SectionThreadLocalRegular      SectionType = 0x11
	SectionThreadLocalZeroFill     SectionType = 0x12
	SectionThreadLocalVariables    SectionType = 0x13
	SectionThreadLocalVariablePtrs SectionType = 0x14
	SectionThreadLocalInitFuncPtrs SectionType = 0x15
)

const (
	attrPureInstructions = 0x80000000
	attrSomeInstructions = 0x00000400
)

// Type returns the section type.
func (s *Section) Type() SectionType {
	return SectionType(s.Flags & 0xff)
}

// IsZeroFill reports whether s occupies no space in the file.
func (s *Section) IsZeroFill() bool {
	switch s.Type() {
	case SectionZeroFill, SectionGBZeroFill, SectionThreadLocalZeroFill:
		return true
	}
	return false
}

// IsText reports whether s contains instructions.
func (s *Section) IsText() bool {
	return s.Flags&(attrPureInstructions|attrSomeInstructions) != 0
}

func (s *Section) String() string {
	return fmt.Sprintf("(%s,%s)", s.Seg, s.Name)
}

// Bounds returns the starting address and size in bytes of Section s.
func (s *Section) Bounds() (addr, size uint64) {
	return s.Addr, s.Size
}

// Section returns the section with 1-based Mach-O ordinal n, or nil if
// there is no such section.
func (f *File) Section(ordinal int) *Section {
	if ordinal < 1 || ordinal > len(f.Sections) {
		return nil
	}
	return f.Sections[ordinal-1]
}

func (f *File) String() string {
	return f.Name
}
