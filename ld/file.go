// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ld

import (
	"fmt"
	"sync/atomic"

	"github.com/aclements/go-machlink/internal/imap"
	"github.com/aclements/go-machlink/obj"
	"github.com/apex/log"
)

// An InputFile is a file that can define symbols.
type InputFile interface {
	String() string
}

// An ObjectFile is a relocatable object loaded into the link.
type ObjectFile struct {
	Obj *obj.File

	// Sections is parallel to Obj.Sections.
	Sections []*InputSection

	// Syms is parallel to Obj.Syms. Global symbols are shared with the
	// rest of the link; local symbols are private to this file.
	Syms []*Symbol
}

func (f *ObjectFile) String() string {
	return f.Obj.Name
}

// FindSubsection returns the subsection of section id that contains
// addr, an address in the object file's address space. An address at
// or past the last subsection's start (up to one byte past the section
// end) belongs to the last subsection. It returns nil if id is out of
// range or addr precedes the section.
func (f *ObjectFile) FindSubsection(id obj.SectionID, addr uint64) *Subsection {
	if id < 0 || int(id) >= len(f.Sections) {
		return nil
	}
	_, subsec, _ := f.Sections[id].byAddr.Find(addr)
	return subsec
}

// A Dylib is a dynamic library whose exports the link may import.
type Dylib struct {
	Name  string
	alive atomic.Bool
}

func (d *Dylib) String() string {
	return d.Name
}

// MarkAlive records that some relocation references d. It is safe to
// call concurrently.
func (d *Dylib) MarkAlive() {
	d.alive.Store(true)
}

// IsAlive reports whether MarkAlive has been called.
func (d *Dylib) IsAlive() bool {
	return d.alive.Load()
}

type internalFile struct{}

func (internalFile) String() string { return "<internal>" }

// AddDylib adds a dynamic library exporting the named symbols. An
// export defines a symbol only if no other file already does.
func (ctx *Link) AddDylib(name string, exports []string) *Dylib {
	d := &Dylib{Name: name}
	for _, name := range exports {
		sym := ctx.Symbol(name)
		if sym.File == nil {
			sym.File = d
			sym.Imported = true
		}
	}
	ctx.Dylibs = append(ctx.Dylibs, d)
	return d
}

// LoadObject adds relocatable object f to the link. It splits f's
// sections into subsections, resolves f's symbols, and decodes its
// relocations.
//
// LoadObject must not be called concurrently or after
// ScanRelocations.
func (ctx *Link) LoadObject(f *obj.File) (*ObjectFile, error) {
	if ctx.phase != phaseLoaded {
		panic("ld: LoadObject called after ScanRelocations")
	}
	if f.Arch != ctx.Arch.Sys {
		return nil, fmt.Errorf("%s: object is %s, want %s", f.Name, f.Arch, ctx.Arch.Sys)
	}

	file := &ObjectFile{Obj: f}
	for _, sect := range f.Sections {
		file.Sections = append(file.Sections, newInputSection(file, sect))
	}

	file.Syms = make([]*Symbol, len(f.Syms))
	for i := range f.Syms {
		s := &f.Syms[i]
		var sym *Symbol
		if s.Extern() && s.Kind != obj.SymUnknown {
			sym = ctx.Symbol(s.Name)
		} else {
			sym = newSymbol(s.Name)
		}
		file.Syms[i] = sym

		switch {
		case s.Kind == obj.SymAbsolute:
		case s.Defined() && s.Kind != obj.SymUnknown:
		default:
			continue
		}
		if sym.File != nil && !sym.Imported {
			// First definition wins.
			continue
		}
		sym.File = file
		sym.Imported = false
		sym.Subsec = nil
		sym.Value = s.Value
		if s.Section != nil {
			subsec := file.FindSubsection(s.Section.ID, s.Value)
			if subsec == nil {
				return nil, fmt.Errorf("%s: symbol %s outside its section %s", f.Name, s.Name, s.Section)
			}
			sym.Subsec = subsec
			sym.Value = s.Value - subsec.InputAddr
		}
	}

	for _, isec := range file.Sections {
		if len(isec.Sect.Relocs) == 0 {
			continue
		}
		rels, err := ctx.Arch.ReadRelocs(ctx, file, isec)
		if err != nil {
			return nil, err
		}
		if err := isec.SetRelocs(rels); err != nil {
			return nil, err
		}
	}

	ctx.Files = append(ctx.Files, file)
	ctx.Log.WithFields(log.Fields{
		"file":     f.Name,
		"sections": len(file.Sections),
		"symbols":  len(file.Syms),
	}).Debug("loaded object")
	return file, nil
}

func newInputSection(file *ObjectFile, sect *obj.Section) *InputSection {
	isec := &InputSection{File: file, Sect: sect}
	ranges := []obj.Range{{Off: 0, Size: sect.Size}}
	if file.Obj.SubsectionsViaSymbols {
		ranges = obj.SplitSection(sect, file.Obj.Syms)
	}
	for i, r := range ranges {
		subsec := &Subsection{
			Isec:        isec,
			InputOffset: r.Off,
			InputSize:   r.Size,
			InputAddr:   sect.Addr + r.Off,
		}
		isec.Subsections = append(isec.Subsections, subsec)
		high := subsec.InputAddr + r.Size
		if i == len(ranges)-1 {
			high++
		}
		isec.byAddr.Insert(imap.Interval{Low: subsec.InputAddr, High: high}, subsec)
	}
	return isec
}
