// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package machotest builds small relocatable ARM64 Mach-O objects in
// memory for tests.
package machotest

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
)

// A Section describes one section of a test object.
type Section struct {
	Name, Seg string
	Addr      uint64
	Flags     uint32
	Data      []byte
	Relocs    []macho.Reloc
}

// A Sym describes one nlist entry.
type Sym struct {
	Name  string
	Type  uint8
	Sect  uint8
	Desc  uint16
	Value uint64
}

// nlist type bits.
const (
	NExt  = 0x01
	NSect = 0x0e
	NUndf = 0x00
	NAbs  = 0x02
)

// Section attributes.
const (
	AttrPureInstructions = 0x80000000
	AttrSomeInstructions = 0x00000400
)

// An Object is a relocatable object under construction.
type Object struct {
	SubsectionsViaSymbols bool
	Sections              []Section
	Syms                  []Sym
}

// EncodeReloc packs r into a little-endian relocation_info record.
func EncodeReloc(r macho.Reloc) [8]byte {
	var out [8]byte
	info := r.Value & (1<<24 - 1)
	if r.Pcrel {
		info |= 1 << 24
	}
	info |= uint32(r.Len&3) << 25
	if r.Extern {
		info |= 1 << 27
	}
	info |= uint32(r.Type&0xf) << 28
	binary.LittleEndian.PutUint32(out[0:], r.Addr)
	binary.LittleEndian.PutUint32(out[4:], info)
	return out
}

// Bytes encodes o as an MH_OBJECT file with one LC_SEGMENT_64 and one
// LC_SYMTAB load command.
func (o *Object) Bytes() []byte {
	const (
		headerSize  = 32
		segSize     = 72
		sectSize    = 80
		symtabSize  = 24
		nlistSize   = 16
		relocSize   = 8
		flagSubsect = 0x2000
	)
	le := binary.LittleEndian
	cmdsz := segSize + sectSize*len(o.Sections) + symtabSize

	// Lay out the file: section data, then relocations, then the
	// symbol table and string table.
	off := uint64(headerSize + cmdsz)
	dataOff := make([]uint64, len(o.Sections))
	var vmsize uint64
	for i, s := range o.Sections {
		dataOff[i] = off
		off += uint64(len(s.Data))
		if end := s.Addr + uint64(len(s.Data)); end > vmsize {
			vmsize = end
		}
	}
	segFilesz := off - uint64(headerSize+cmdsz)
	relOff := make([]uint64, len(o.Sections))
	for i, s := range o.Sections {
		relOff[i] = off
		off += uint64(relocSize * len(s.Relocs))
	}
	symOff := off
	off += uint64(nlistSize * len(o.Syms))
	strtab := []byte{0}
	nameOff := make([]uint32, len(o.Syms))
	for i, s := range o.Syms {
		nameOff[i] = uint32(len(strtab))
		strtab = append(strtab, s.Name...)
		strtab = append(strtab, 0)
	}
	strOff := off

	var buf bytes.Buffer
	w := func(v interface{}) {
		if err := binary.Write(&buf, le, v); err != nil {
			panic(err)
		}
	}

	var flags uint32
	if o.SubsectionsViaSymbols {
		flags |= flagSubsect
	}
	w(macho.FileHeader{
		Magic: macho.Magic64,
		Cpu:   macho.CpuArm64,
		Type:  macho.TypeObj,
		Ncmd:  2,
		Cmdsz: uint32(cmdsz),
		Flags: flags,
	})
	w(uint32(0)) // reserved

	seg := macho.Segment64{
		Cmd:     macho.LoadCmdSegment64,
		Len:     uint32(segSize + sectSize*len(o.Sections)),
		Memsz:   vmsize,
		Offset:  uint64(headerSize + cmdsz),
		Filesz:  segFilesz,
		Maxprot: 7,
		Prot:    7,
		Nsect:   uint32(len(o.Sections)),
	}
	w(seg)
	for i, s := range o.Sections {
		var sh macho.Section64
		copy(sh.Name[:], s.Name)
		copy(sh.Seg[:], s.Seg)
		sh.Addr = s.Addr
		sh.Size = uint64(len(s.Data))
		sh.Offset = uint32(dataOff[i])
		sh.Align = 2
		if len(s.Relocs) > 0 {
			sh.Reloff = uint32(relOff[i])
			sh.Nreloc = uint32(len(s.Relocs))
		}
		sh.Flags = s.Flags
		w(sh)
	}
	w(macho.SymtabCmd{
		Cmd:     macho.LoadCmdSymtab,
		Len:     symtabSize,
		Symoff:  uint32(symOff),
		Nsyms:   uint32(len(o.Syms)),
		Stroff:  uint32(strOff),
		Strsize: uint32(len(strtab)),
	})

	for _, s := range o.Sections {
		buf.Write(s.Data)
	}
	for _, s := range o.Sections {
		for _, r := range s.Relocs {
			rec := EncodeReloc(r)
			buf.Write(rec[:])
		}
	}
	for i, s := range o.Syms {
		w(macho.Nlist64{
			Name:  nameOff[i],
			Type:  s.Type,
			Sect:  s.Sect,
			Desc:  s.Desc,
			Value: s.Value,
		})
	}
	buf.Write(strtab)
	return buf.Bytes()
}
