// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ld

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// A phase is a stage of the relocation pipeline. Scanning must finish
// for every file before layout, and layout must finish before any
// relocation is applied.
type phase int

const (
	phaseLoaded phase = iota
	phaseScanned
	phaseLaidOut
	phaseApplied
)

var phaseNames = [...]string{"loaded", "scanned", "laid out", "applied"}

func (p phase) String() string {
	return phaseNames[p]
}

func (ctx *Link) setPhase(p phase) {
	ctx.phase = p
	ctx.Log.WithField("phase", p).Debug("link phase")
}

// forEachFile calls fn for every object file, running up to
// Config.Threads calls concurrently. It returns once all calls are
// done.
func (ctx *Link) forEachFile(fn func(f *ObjectFile)) {
	var g errgroup.Group
	g.SetLimit(ctx.Config.Threads)
	for _, f := range ctx.Files {
		f := f
		g.Go(func() error {
			fn(f)
			return nil
		})
	}
	g.Wait()
}

// ScanRelocations scans every relocation in the link, recording the
// resources each referenced symbol needs. It returns the diagnostics
// reported so far.
func (ctx *Link) ScanRelocations() error {
	if ctx.phase != phaseLoaded {
		panic(fmt.Sprintf("ld: ScanRelocations called in %s phase", ctx.phase))
	}
	ctx.forEachFile(func(f *ObjectFile) {
		for _, isec := range f.Sections {
			for _, subsec := range isec.Subsections {
				ctx.Arch.ScanRelocs(ctx, subsec)
			}
		}
	})
	ctx.setPhase(phaseScanned)
	return ctx.Err()
}

// AssignThunks routes out-of-range branches through the thunks layout
// placed in each output section. Layout must have assigned final
// addresses to everything branches may target.
func (ctx *Link) AssignThunks() error {
	if ctx.phase != phaseScanned {
		panic(fmt.Sprintf("ld: AssignThunks called in %s phase", ctx.phase))
	}
	for _, osec := range ctx.OutputSections {
		if len(osec.Thunks) > 0 {
			ctx.Arch.AssignThunks(ctx, osec)
		}
	}
	return ctx.Err()
}

// FinishLayout declares that every address, slot, and thunk in the link
// is final. After this, relocations may be applied.
func (ctx *Link) FinishLayout() {
	if ctx.phase != phaseScanned {
		panic(fmt.Sprintf("ld: FinishLayout called in %s phase", ctx.phase))
	}
	if n := len(ctx.Stubs.Syms); len(ctx.Stubs.BindOffsets) != n {
		panic(fmt.Sprintf("ld: %d stubs but %d bind offsets", n, len(ctx.Stubs.BindOffsets)))
	}
	ctx.setPhase(phaseLaidOut)
}

// ApplyRelocations writes the output contents of every placed
// subsection into buf, which is the whole output file, and patches
// their relocations. It then writes the synthesized sections. It
// returns the diagnostics reported so far.
func (ctx *Link) ApplyRelocations(buf []byte) error {
	if ctx.phase != phaseLaidOut {
		panic(fmt.Sprintf("ld: ApplyRelocations called in %s phase", ctx.phase))
	}
	ctx.forEachFile(func(f *ObjectFile) {
		for _, isec := range f.Sections {
			if isec.Sect.IsZeroFill() {
				continue
			}
			for _, subsec := range isec.Subsections {
				if subsec.Osec == nil {
					continue
				}
				off := subsec.Osec.Offset + subsec.OutputOffset
				out := buf[off : off+subsec.InputSize]
				copy(out, subsec.Contents())
				ctx.Arch.ApplyRelocs(ctx, subsec, out)
			}
		}
	})
	ctx.writeSynthetic(buf)
	ctx.setPhase(phaseApplied)
	return ctx.Err()
}

func (ctx *Link) writeSynthetic(buf []byte) {
	l := ctx.Arch.Sys.Layout

	// Pointers to imported symbols are bound by the dynamic loader.
	for i, sym := range ctx.Got.Syms {
		if !sym.Imported {
			l.PutUint64(buf[ctx.Got.Offset+8*uint64(i):], sym.Addr(ctx))
		}
	}
	for i, sym := range ctx.ThreadPtrs.Syms {
		if !sym.Imported {
			l.PutUint64(buf[ctx.ThreadPtrs.Offset+8*uint64(i):], sym.Addr(ctx))
		}
	}

	if n := len(ctx.Stubs.Syms); n > 0 {
		// Until bound, lazy pointers lead to the stub helper.
		for i := 0; i < n; i++ {
			l.PutUint64(buf[ctx.LazySymbolPtr.Offset+8*uint64(i):], ctx.stubHelperEntryAddr(i))
		}
		stubs := chunkBytes(buf, ctx.Stubs.Chunk, ctx.StubsSize())
		ctx.Arch.WriteStubs(ctx, stubs)
		ctx.dumpCode("__stubs", ctx.Stubs.Addr, stubs)
		helper := chunkBytes(buf, ctx.StubHelper.Chunk, ctx.StubHelperSize())
		ctx.Arch.WriteStubHelper(ctx, helper)
		ctx.dumpCode("__stub_helper", ctx.StubHelper.Addr, helper)
	}

	if len(ctx.ObjcStubs.Selrefs) > 0 {
		objc := chunkBytes(buf, ctx.ObjcStubs.Chunk, ctx.ObjcStubsSize())
		ctx.Arch.WriteObjcStubs(ctx, objc)
		ctx.dumpCode("__objc_stubs", ctx.ObjcStubs.Addr, objc)
	}

	for _, osec := range ctx.OutputSections {
		for _, th := range osec.Thunks {
			if len(th.Syms) == 0 {
				continue
			}
			code := chunkBytes(buf, Chunk{th.Addr(), osec.Offset + th.Offset}, th.Size())
			ctx.Arch.WriteThunk(ctx, th, code)
			ctx.dumpCode(fmt.Sprintf("%s+%#x", osec, th.Offset), th.Addr(), code)
		}
	}
}

func chunkBytes(buf []byte, c Chunk, size uint64) []byte {
	return buf[c.Offset : c.Offset+size]
}
