// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arm64

import (
	"debug/macho"
	"strings"
	"testing"

	"github.com/aclements/go-machlink/arch"
	"github.com/aclements/go-machlink/ld"
	"github.com/aclements/go-machlink/obj"
	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
)

func newTestLink(t *testing.T) (*ld.Link, *memory.Handler) {
	t.Helper()
	ctx := ld.NewLink(Init(), ld.Config{Threads: 4})
	h := memory.New()
	ctx.Log = &log.Logger{Handler: h, Level: log.DebugLevel}
	return ctx, h
}

func newObj(name string) *obj.File {
	return &obj.File{Name: name, Arch: arch.ARM64}
}

func addSection(f *obj.File, seg, name string, addr uint64, data []byte, relocs ...macho.Reloc) *obj.Section {
	s := &obj.Section{
		Name:   name,
		Seg:    seg,
		ID:     obj.SectionID(len(f.Sections)),
		Addr:   addr,
		Size:   uint64(len(data)),
		Data:   data,
		Relocs: relocs,
	}
	if seg == "__TEXT" {
		s.Flags = 0x80000400
	}
	f.Sections = append(f.Sections, s)
	return s
}

// addSym adds a symbol to f and returns its nlist index. A nil sect
// makes an undefined symbol.
func addSym(f *obj.File, name string, sect *obj.Section, value uint64, extern bool) uint32 {
	s := obj.Sym{Name: name, Section: sect, Value: value, Kind: obj.SymUndef}
	if sect != nil {
		s.Kind = obj.SymData
		if sect.IsText() {
			s.Kind = obj.SymText
		}
	}
	s.SetExtern(extern)
	f.Syms = append(f.Syms, s)
	return uint32(len(f.Syms) - 1)
}

func rel(typ macho.RelocTypeARM64, off uint32, p2size uint8, pcrel, extern bool, value uint32) macho.Reloc {
	return macho.Reloc{Addr: off, Value: value, Type: uint8(typ), Len: p2size, Pcrel: pcrel, Extern: extern}
}

func words(ws ...uint32) []byte {
	out := make([]byte, 4*len(ws))
	for i, w := range ws {
		layout.PutUint32(out[4*i:], w)
	}
	return out
}

func load(t *testing.T, ctx *ld.Link, f *obj.File) *ld.ObjectFile {
	t.Helper()
	file, err := ctx.LoadObject(f)
	if err != nil {
		t.Fatal(err)
	}
	return file
}

// place creates an output section at addr and lays out subsecs
// back to back from its start.
func place(ctx *ld.Link, name string, addr uint64, subsecs ...*ld.Subsection) *ld.OutputSection {
	osec := ctx.NewOutputSection("__TEXT", name)
	osec.Addr = addr
	off := uint64(0)
	for _, subsec := range subsecs {
		osec.Place(subsec, off)
		off += subsec.InputSize
	}
	return osec
}

// apply applies subsec's relocations to a copy of its contents.
func apply(ctx *ld.Link, subsec *ld.Subsection) []byte {
	buf := append([]byte(nil), subsec.Contents()...)
	ApplyRelocs(ctx, subsec, buf)
	return buf
}

// Instruction field decoders, used to simulate execution of patched
// code.

func adrpTarget(insn uint32, pc uint64) uint64 {
	immlo := uint64(insn>>29) & 3
	immhi := uint64(insn>>5) & 0x7ffff
	imm := int64((immhi<<2|immlo)<<43) >> 43
	return page(pc) + uint64(imm<<12)
}

func imm12(insn uint32) uint64 {
	return uint64(insn>>10) & 0xfff
}

func branchTarget(insn uint32, pc uint64) uint64 {
	disp := int64(int32(insn<<6)>>6) * 4
	return pc + uint64(disp)
}

func wantDiag(t *testing.T, ctx *ld.Link, substr string) {
	t.Helper()
	for _, d := range ctx.Diags() {
		if strings.Contains(d.Error(), substr) {
			return
		}
	}
	t.Errorf("want diagnostic containing %q, got %v", substr, ctx.Diags())
}

func wantNoDiags(t *testing.T, ctx *ld.Link) {
	t.Helper()
	if err := ctx.Err(); err != nil {
		t.Errorf("unexpected diagnostics: %v", err)
	}
}
