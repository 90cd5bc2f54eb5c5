// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ld

import (
	"fmt"

	"github.com/aclements/go-machlink/internal/imap"
	"github.com/aclements/go-machlink/obj"
)

// An InputSection is a section of an object file.
type InputSection struct {
	File *ObjectFile
	Sect *obj.Section

	// Subsections cover Sect in address order.
	Subsections []*Subsection

	byAddr imap.Imap[*Subsection]
}

// SetRelocs distributes rels, which must be in table order with
// section-relative offsets, to the subsections containing them. Each
// subsection receives its relocations in the same relative order with
// offsets rebased to the subsection. A relocation whose field does not
// fit in its subsection is an error.
func (isec *InputSection) SetRelocs(rels []Reloc) error {
	for _, subsec := range isec.Subsections {
		subsec.Relocs = nil
	}
	for _, r := range rels {
		subsec := isec.File.FindSubsection(isec.Sect.ID, isec.Sect.Addr+uint64(r.Offset))
		if subsec == nil || uint64(r.Offset) >= subsec.InputOffset+subsec.InputSize {
			return fmt.Errorf("%s:%s: relocation at %#x outside section", isec.File, isec.Sect, r.Offset)
		}
		if end := uint64(r.Offset) + 1<<r.P2Size; end > subsec.InputOffset+subsec.InputSize {
			return fmt.Errorf("%s:%s: %d-byte relocation at %#x crosses subsection end %#x", isec.File, isec.Sect, 1<<r.P2Size, r.Offset, subsec.InputOffset+subsec.InputSize)
		}
		r.Offset -= uint32(subsec.InputOffset)
		subsec.Relocs = append(subsec.Relocs, r)
	}
	return nil
}

// A Subsection is the unit of layout: a range of an input section that
// is placed contiguously in an output section.
type Subsection struct {
	Isec *InputSection

	InputOffset uint64 // Offset within Isec
	InputSize   uint64
	InputAddr   uint64 // Address in the object file's address space

	// Osec and OutputOffset are set by layout. Osec is nil for
	// subsections that are not placed.
	Osec         *OutputSection
	OutputOffset uint64

	Relocs []Reloc
}

func (s *Subsection) String() string {
	return fmt.Sprintf("%s:%s+%#x", s.Isec.File, s.Isec.Sect, s.InputOffset)
}

// Addr returns the final address of s.
func (s *Subsection) Addr() uint64 {
	if s.Osec == nil {
		panic(fmt.Sprintf("subsection %s has no output section", s))
	}
	return s.Osec.Addr + s.OutputOffset
}

// Contents returns the input bytes of s, or nil if s is zero-fill.
func (s *Subsection) Contents() []byte {
	data := s.Isec.Sect.Data
	if data == nil {
		return nil
	}
	return data[s.InputOffset : s.InputOffset+s.InputSize]
}

// An OutputSection is a section of the output file. Layout fills in
// Addr and Offset and places subsections and thunks in it.
type OutputSection struct {
	Seg, Name string

	Addr   uint64 // Virtual address
	Offset uint64 // Offset in the output buffer

	Members []*Subsection
	Thunks  []*Thunk

	thunkEntrySize uint64
}

func (o *OutputSection) String() string {
	return fmt.Sprintf("(%s,%s)", o.Seg, o.Name)
}

// Place puts subsec at offset in o.
func (o *OutputSection) Place(subsec *Subsection, offset uint64) {
	subsec.Osec = o
	subsec.OutputOffset = offset
	o.Members = append(o.Members, subsec)
}

// AddThunk creates an empty thunk at offset in o. Thunks must be added
// in increasing offset order, and layout must leave room for the
// entries that AssignThunks adds.
func (o *OutputSection) AddThunk(offset uint64) *Thunk {
	th := &Thunk{Osec: o, Offset: offset, EntrySize: o.thunkEntrySize}
	o.Thunks = append(o.Thunks, th)
	return th
}

// A Thunk is a block of range-extension trampolines. Entry i jumps to
// Syms[i].
type Thunk struct {
	Osec      *OutputSection
	Offset    uint64 // Offset within Osec
	EntrySize uint64
	Syms      []*Symbol

	index map[*Symbol]int32
}

// Addr returns the address of th.
func (th *Thunk) Addr() uint64 {
	return th.Osec.Addr + th.Offset
}

// EntryAddr returns the address of entry i of th.
func (th *Thunk) EntryAddr(i int32) uint64 {
	return th.Addr() + uint64(i)*th.EntrySize
}

// Size returns the size of th in bytes.
func (th *Thunk) Size() uint64 {
	return uint64(len(th.Syms)) * th.EntrySize
}

// Lookup returns the entry index of sym in th.
func (th *Thunk) Lookup(sym *Symbol) (int32, bool) {
	i, ok := th.index[sym]
	return i, ok
}

// Add returns the entry index of sym in th, appending an entry if sym
// has none.
func (th *Thunk) Add(sym *Symbol) int32 {
	if i, ok := th.index[sym]; ok {
		return i
	}
	if th.index == nil {
		th.index = make(map[*Symbol]int32)
	}
	i := int32(len(th.Syms))
	th.Syms = append(th.Syms, sym)
	th.index[sym] = i
	return i
}
