// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ld implements the architecture-independent half of a
// Mach-O link editor's relocation engine: the link unit, its input
// files and symbols, synthesized sections, and the two-phase
// scan/apply pipeline that drives an Arch.
package ld

import (
	"sync"

	"github.com/aclements/go-machlink/symtab"
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
)

// A Link is the state of a single link.
type Link struct {
	Arch   *Arch
	Config Config
	Log    log.Interface

	Files  []*ObjectFile
	Dylibs []*Dylib

	OutputSections []*OutputSection

	Got           GotSection
	ThreadPtrs    ThreadPtrsSection
	Stubs         StubsSection
	LazySymbolPtr LazySymbolPtrSection
	StubHelper    StubHelperSection
	ObjcStubs     ObjcStubsSection

	// TLSBegin is the address of the start of thread-local
	// storage. Values relocated into thread-local variable sections
	// are relative to it.
	TLSBegin uint64

	symMu sync.Mutex
	syms  map[string]*Symbol

	diagMu sync.Mutex
	diags  []*Diag

	phase phase

	symtabOnce sync.Once
	symtab     *symtab.Table
}

// NewLink returns a new, empty link for architecture a.
func NewLink(a *Arch, cfg Config) *Link {
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	level := log.InfoLevel
	if cfg.Verbose {
		level = log.DebugLevel
	}
	return &Link{
		Arch:   a,
		Config: cfg,
		Log:    &log.Logger{Handler: cli.Default, Level: level},
		syms:   make(map[string]*Symbol),
	}
}

// Symbol returns the global symbol named name, creating an undefined
// one if necessary. It is safe to call concurrently.
func (ctx *Link) Symbol(name string) *Symbol {
	ctx.symMu.Lock()
	defer ctx.symMu.Unlock()
	sym := ctx.syms[name]
	if sym == nil {
		sym = newSymbol(name)
		ctx.syms[name] = sym
	}
	return sym
}

// Lookup returns the global symbol named name, or nil.
func (ctx *Link) Lookup(name string) *Symbol {
	ctx.symMu.Lock()
	defer ctx.symMu.Unlock()
	return ctx.syms[name]
}

// DefineAbsolute defines global symbol name at address addr. This is
// how the linker provides symbols such as __dyld_private that no
// input file defines.
func (ctx *Link) DefineAbsolute(name string, addr uint64) *Symbol {
	sym := ctx.Symbol(name)
	sym.File = internalFile{}
	sym.Imported = false
	sym.Subsec = nil
	sym.Value = addr
	return sym
}

// NewOutputSection adds an output section to the link.
func (ctx *Link) NewOutputSection(seg, name string) *OutputSection {
	osec := &OutputSection{
		Seg:            seg,
		Name:           name,
		thunkEntrySize: ctx.Arch.ThunkEntrySize,
	}
	ctx.OutputSections = append(ctx.OutputSections, osec)
	return osec
}

// Subsections returns every subsection of every object file, in file
// and then address order.
func (ctx *Link) Subsections() []*Subsection {
	var out []*Subsection
	for _, f := range ctx.Files {
		for _, isec := range f.Sections {
			out = append(out, isec.Subsections...)
		}
	}
	return out
}
