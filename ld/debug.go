// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ld

import (
	"fmt"

	"github.com/aclements/go-machlink/asm"
	"github.com/aclements/go-machlink/symtab"
)

// Symtab returns a table of the link's symbols and synthesized entries
// at their final addresses. It must not be called before FinishLayout.
func (ctx *Link) Symtab() *symtab.Table {
	if ctx.phase < phaseLaidOut {
		panic(fmt.Sprintf("ld: Symtab called in %s phase", ctx.phase))
	}
	ctx.symtabOnce.Do(func() {
		ctx.symtab = symtab.NewTable(ctx.symtabEntries())
	})
	return ctx.symtab
}

func (ctx *Link) symtabEntries() []symtab.Entry {
	var out []symtab.Entry
	seen := make(map[*Symbol]bool)
	for _, f := range ctx.Files {
		for _, sym := range f.Syms {
			if seen[sym] || sym.File != InputFile(f) || sym.Subsec == nil || sym.Subsec.Osec == nil {
				continue
			}
			seen[sym] = true
			out = append(out, symtab.Entry{
				Name: sym.Name,
				Addr: sym.Addr(ctx),
				Size: sym.Subsec.InputSize - sym.Value,
			})
		}
	}
	for i, sym := range ctx.Stubs.Syms {
		out = append(out, symtab.Entry{
			Name: sym.Name + "$stub",
			Addr: ctx.Stubs.Addr + uint64(i)*ctx.Arch.StubSize,
			Size: ctx.Arch.StubSize,
		})
	}
	for _, sym := range ctx.Got.Syms {
		out = append(out, symtab.Entry{Name: sym.Name + "$got", Addr: sym.GotAddr(ctx), Size: 8})
	}
	for _, sym := range ctx.ThreadPtrs.Syms {
		out = append(out, symtab.Entry{Name: sym.Name + "$tlv", Addr: sym.TLVAddr(ctx), Size: 8})
	}
	if size := ctx.StubHelperSize(); size > 0 {
		out = append(out, symtab.Entry{Name: "__stub_helper", Addr: ctx.StubHelper.Addr, Size: size})
	}
	for i, name := range ctx.ObjcStubs.Methnames {
		out = append(out, symtab.Entry{
			Name: "_objc_msgSend$" + name,
			Addr: ctx.ObjcStubs.Addr + uint64(i)*ctx.Arch.ObjcStubSize,
			Size: ctx.Arch.ObjcStubSize,
		})
	}
	for _, osec := range ctx.OutputSections {
		for _, th := range osec.Thunks {
			for i, sym := range th.Syms {
				out = append(out, symtab.Entry{
					Name: sym.Name + "$thunk",
					Addr: th.EntryAddr(int32(i)),
					Size: th.EntrySize,
				})
			}
		}
	}
	return out
}

// dumpCode logs a disassembly of synthesized code in verbose mode.
func (ctx *Link) dumpCode(name string, addr uint64, code []byte) {
	if !ctx.Config.Verbose {
		return
	}
	seq, err := asm.Disasm(ctx.Arch.Sys, code, addr)
	if err != nil {
		ctx.Log.WithError(err).WithField("section", name).Warn("cannot disassemble")
		return
	}
	ctx.Log.WithField("section", name).Debugf("\n%s", asm.Listing(seq, ctx.Symtab().SymName))
}
