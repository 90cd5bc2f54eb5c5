// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"strconv"
	"strings"
)

// A SymID is the nlist index of a symbol in an object file.
type SymID uint32

// NoSym is a placeholder SymID used to indicate "no symbol".
const NoSym = ^SymID(0)

func (id SymID) String() string {
	if id == NoSym {
		return "NoSym"
	}
	return strconv.FormatUint(uint64(id), 10)
}

// A Sym is a symbol in an object file.
type Sym struct {
	// Name is the string name of this symbol.
	Name string
	// Section is the section this symbol is defined in, or nil if this
	// symbol is not defined in any section.
	Section *Section
	// Value is the value of this symbol. For a symbol defined in a
	// section, this is an address in the object file's address space.
	// For a common symbol, it is the symbol's size.
	Value uint64
	// Kind gives the general kind of this symbol.
	Kind SymKind
	// SymFlags stores flags for this symbol. This field is embedded so Sym
	// inherits the methods of SymFlags.
	SymFlags
}

// SymKind indicates the general kind of a symbol.
type SymKind uint8

const (
	// SymUnknown indicates a symbol could not be categorized into one
	// of the supported kinds. Debugging (stab) entries have this kind.
	SymUnknown SymKind = '?'
	// SymUndef symbols are not defined in this object (it will be
	// resolved by linking against other objects or dynamic libraries).
	SymUndef SymKind = 'U'
	// SymText symbols are in an executable code section.
	SymText SymKind = 'T'
	// SymData symbols are in a data section. This includes read-only
	// and zero-initialized (BSS) data.
	SymData SymKind = 'D'
	// SymAbsolute symbols have an absolute value that won't be changed by
	// linking.
	SymAbsolute SymKind = 'A'
	// SymCommon symbols are tentative definitions whose Value is their
	// size.
	SymCommon SymKind = 'C'
)

// String returns a string representation of k. This is a single character in
// the style of "nm".
func (k SymKind) String() string {
	return string([]byte{byte(k)})
}

// SymFlags is a set of symbol flags.
type SymFlags struct {
	f symFlags
}

type symFlags uint8

const (
	symFlagExtern symFlags = 1 << iota
	symFlagPrivateExtern
	symFlagWeakDef
)

// Extern indicates a symbol is visible outside its defining object and
// participates in global symbol resolution.
func (s SymFlags) Extern() bool {
	return s.f&symFlagExtern != 0
}

// SetExtern sets the Extern flag to v.
func (s *SymFlags) SetExtern(v bool) {
	if v {
		s.f |= symFlagExtern
	} else {
		s.f &^= symFlagExtern
	}
}

// PrivateExtern indicates a symbol is extern within the link unit but
// is not exported from the linked image.
func (s SymFlags) PrivateExtern() bool {
	return s.f&symFlagPrivateExtern != 0
}

// SetPrivateExtern sets the PrivateExtern flag to v.
func (s *SymFlags) SetPrivateExtern(v bool) {
	if v {
		s.f |= symFlagPrivateExtern
	} else {
		s.f &^= symFlagPrivateExtern
	}
}

// WeakDef indicates a weak definition that may be overridden.
func (s SymFlags) WeakDef() bool {
	return s.f&symFlagWeakDef != 0
}

// SetWeakDef sets the WeakDef flag to v.
func (s *SymFlags) SetWeakDef(v bool) {
	if v {
		s.f |= symFlagWeakDef
	} else {
		s.f &^= symFlagWeakDef
	}
}

// String returns a string representation of the flags set in s.
func (s SymFlags) String() string {
	if s.f == 0 {
		return "{}"
	}
	var buf strings.Builder
	var sep byte = '{'
	add := func(name string) {
		buf.WriteByte(sep)
		buf.WriteString(name)
		sep = ','
	}
	if s.Extern() {
		add("Extern")
	}
	if s.PrivateExtern() {
		add("PrivateExtern")
	}
	if s.WeakDef() {
		add("WeakDef")
	}
	buf.WriteByte('}')
	return buf.String()
}

// String returns the name of symbol s.
func (s *Sym) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.Name
}

// Defined reports whether s is defined in a section of its object.
func (s *Sym) Defined() bool {
	return s.Section != nil
}
