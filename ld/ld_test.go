// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ld

import (
	"debug/macho"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/aclements/go-machlink/arch"
	"github.com/aclements/go-machlink/obj"
	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
)

// testArch decodes extern relocations one to one and records calls to
// its hooks.
func testArch() *Arch {
	return &Arch{
		Sys:               arch.ARM64,
		StubSize:          12,
		StubHelperHdrSize: 24,
		StubHelperSize:    12,
		ObjcStubSize:      32,
		ThunkEntrySize:    12,
		ReadRelocs: func(ctx *Link, file *ObjectFile, isec *InputSection) ([]Reloc, error) {
			var out []Reloc
			for _, r := range isec.Sect.Relocs {
				if !r.Extern || int(r.Value) >= len(file.Syms) {
					return nil, fmt.Errorf("bad relocation %s", obj.RelocString(r))
				}
				out = append(out, Reloc{
					Offset:      r.Addr,
					Type:        macho.RelocTypeARM64(r.Type),
					P2Size:      r.Len,
					Sym:         file.Syms[r.Value],
					ThunkIdx:    -1,
					ThunkSymIdx: -1,
				})
			}
			return out, nil
		},
		ScanRelocs: func(ctx *Link, subsec *Subsection) {
			for _, r := range subsec.Relocs {
				r.Sym.AddFlags(NeedsGOT)
				if r.Sym.Imported {
					r.Sym.AddFlags(NeedsStub)
				}
			}
		},
		ApplyRelocs: func(ctx *Link, subsec *Subsection, buf []byte) {
			for _, r := range subsec.Relocs {
				ctx.Arch.Sys.Layout.PutUint64(buf[r.Offset:], r.Sym.Addr(ctx))
			}
		},
		AssignThunks:    func(ctx *Link, osec *OutputSection) {},
		WriteStubs:      func(ctx *Link, buf []byte) { fill(buf, 0xaa) },
		WriteStubHelper: func(ctx *Link, buf []byte) { fill(buf, 0xbb) },
		WriteObjcStubs:  func(ctx *Link, buf []byte) { fill(buf, 0xcc) },
		WriteThunk:      func(ctx *Link, th *Thunk, buf []byte) { fill(buf, 0xdd) },
	}
}

func fill(buf []byte, b byte) {
	for i := range buf {
		buf[i] = b
	}
}

func newTestLink(t *testing.T) (*Link, *memory.Handler) {
	t.Helper()
	ctx := NewLink(testArch(), Config{Threads: 2})
	h := memory.New()
	ctx.Log = &log.Logger{Handler: h, Level: log.DebugLevel}
	return ctx, h
}

type testSym struct {
	name   string
	sect   int // 1-based ordinal, 0 for undefined
	value  uint64
	extern bool
}

// testObj returns an object with a 16-byte __text section at 0 and a
// 16-byte __data section at 0x10.
func testObj(name string, syms []testSym, dataRelocs ...macho.Reloc) *obj.File {
	f := &obj.File{Name: name, Arch: arch.ARM64, SubsectionsViaSymbols: true}
	f.Sections = []*obj.Section{
		{Name: "__text", Seg: "__TEXT", ID: 0, Addr: 0, Size: 16, Data: make([]byte, 16), Flags: 0x80000400},
		{Name: "__data", Seg: "__DATA", ID: 1, Addr: 0x10, Size: 16, Data: make([]byte, 16), Relocs: dataRelocs},
	}
	for _, s := range syms {
		sym := obj.Sym{Name: s.name, Value: s.value, Kind: obj.SymUndef}
		if s.sect > 0 {
			sym.Section = f.Sections[s.sect-1]
			sym.Kind = obj.SymData
		}
		sym.SetExtern(s.extern)
		f.Syms = append(f.Syms, sym)
	}
	return f
}

func ptr(off, sym uint32) macho.Reloc {
	return macho.Reloc{Addr: off, Value: sym, Type: uint8(macho.ARM64_RELOC_UNSIGNED), Len: 3, Extern: true}
}

func TestLoadObject(t *testing.T) {
	ctx, _ := newTestLink(t)
	ctx.AddDylib("libc.dylib", []string{"_printf", "_shared"})
	a, err := ctx.LoadObject(testObj("a.o", []testSym{
		{"_main", 1, 0, true},
		{"_helper", 1, 8, false},
		{"_shared", 2, 0x18, true},
		{"_printf", 0, 0, true},
	}, ptr(8, 3)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ctx.LoadObject(testObj("b.o", []testSym{
		{"_helper", 1, 4, false},
		{"_shared", 1, 0, true},
	}))
	if err != nil {
		t.Fatal(err)
	}

	// Text splits at _main and _helper; data at _shared.
	check := func(isec *InputSection, want ...uint64) {
		t.Helper()
		var got []uint64
		for _, s := range isec.Subsections {
			got = append(got, s.InputOffset)
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("%s: want subsections at %v, got %v", isec.Sect, want, got)
		}
	}
	check(a.Sections[0], 0, 8)
	check(a.Sections[1], 0, 8)

	shared := ctx.Lookup("_shared")
	if shared.File != InputFile(a) || shared.Imported {
		t.Errorf("_shared: want defined by a.o, got %v", shared.File)
	}
	if shared.Subsec != a.Sections[1].Subsections[1] || shared.Value != 0 {
		t.Errorf("_shared: want start of second data subsection, got %s+%#x", shared.Subsec, shared.Value)
	}
	if printf := ctx.Lookup("_printf"); !printf.Imported || printf.File.String() != "libc.dylib" {
		t.Errorf("_printf: want imported from libc.dylib, got %v", printf.File)
	}

	// Local symbols are private to their file.
	if a.Syms[1] == b.Syms[0] {
		t.Errorf("local _helper shared between files")
	}
	if b.Syms[0].Subsec != b.Sections[0].Subsections[1] {
		t.Errorf("b.o _helper: wrong subsection %s", b.Syms[0].Subsec)
	}
	if b.Syms[1] != shared {
		t.Errorf("global _shared not shared between files")
	}

	// The data relocation lands in _shared's subsection, rebased.
	rels := a.Sections[1].Subsections[1].Relocs
	if len(rels) != 1 || rels[0].Offset != 0 || rels[0].Sym != ctx.Lookup("_printf") {
		t.Errorf("want one relocation at offset 0 against _printf, got %v", rels)
	}
}

func TestLoadObjectAbsolute(t *testing.T) {
	ctx, _ := newTestLink(t)
	f := testObj("a.o", nil)
	f.Syms = append(f.Syms, obj.Sym{Name: "_abs", Value: 0x1234, Kind: obj.SymAbsolute})
	f.Syms[0].SetExtern(true)
	if _, err := ctx.LoadObject(f); err != nil {
		t.Fatal(err)
	}
	if got := ctx.Lookup("_abs").Addr(ctx); got != 0x1234 {
		t.Errorf("want %#x, got %#x", 0x1234, got)
	}
}

func TestLoadObjectErrors(t *testing.T) {
	ctx, _ := newTestLink(t)
	f := testObj("a.o", []testSym{{"_x", 0, 0, true}}, macho.Reloc{Addr: 0, Value: 1, Len: 3})
	if _, err := ctx.LoadObject(f); err == nil || !strings.Contains(err.Error(), "bad relocation") {
		t.Errorf("want bad relocation error, got %v", err)
	}

	f = testObj("b.o", []testSym{{"_x", 0, 0, true}}, ptr(16, 0))
	if _, err := ctx.LoadObject(f); err == nil || !strings.Contains(err.Error(), "outside section") {
		t.Errorf("want relocation outside section error, got %v", err)
	}

	// _y splits __data at offset 8; an 8-byte field at 4 straddles it.
	f = testObj("cross.o", []testSym{{"_x", 0, 0, true}, {"_y", 2, 0x18, true}}, ptr(4, 0))
	if _, err := ctx.LoadObject(f); err == nil || !strings.Contains(err.Error(), "crosses subsection end") {
		t.Errorf("want relocation crossing subsection error, got %v", err)
	}

	f = testObj("c.o", nil)
	f.Arch = &arch.Arch{GoArch: "amd64"}
	if _, err := ctx.LoadObject(f); err == nil {
		t.Errorf("want error loading amd64 object")
	}
	if len(ctx.Files) != 0 {
		t.Errorf("failed loads should not add files")
	}
}

func TestFindSubsection(t *testing.T) {
	ctx, _ := newTestLink(t)
	file, err := ctx.LoadObject(testObj("a.o", []testSym{
		{"_a", 1, 0, true},
		{"_b", 1, 4, true},
	}))
	if err != nil {
		t.Fatal(err)
	}
	subs := file.Sections[0].Subsections
	check := func(id obj.SectionID, addr uint64, want *Subsection) {
		t.Helper()
		if got := file.FindSubsection(id, addr); got != want {
			t.Errorf("FindSubsection(%d, %#x): want %v, got %v", id, addr, want, got)
		}
	}
	check(0, 0, subs[0])
	check(0, 3, subs[0])
	check(0, 4, subs[1])
	check(0, 15, subs[1])
	// One past the end belongs to the last subsection.
	check(0, 16, subs[1])
	check(0, 17, nil)
	check(1, 0x10, file.Sections[1].Subsections[0])
	check(1, 0xf, nil)
	check(2, 0, nil)
	check(-1, 0, nil)
}

func TestSymbolFlags(t *testing.T) {
	sym := newSymbol("_x")
	var wg sync.WaitGroup
	for _, f := range []SymbolFlags{NeedsGOT, NeedsStub, NeedsThreadPtr, NeedsGOT} {
		f := f
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				sym.AddFlags(f)
			}
		}()
	}
	wg.Wait()
	if got, want := sym.Flags(), NeedsGOT|NeedsStub|NeedsThreadPtr; got != want {
		t.Errorf("want %v, got %v", want, got)
	}
	if s := sym.Flags().String(); s != "GOT|STUB|THREAD_PTR" {
		t.Errorf("want GOT|STUB|THREAD_PTR, got %s", s)
	}
	if s := SymbolFlags(0).String(); s != "0" {
		t.Errorf("want 0, got %s", s)
	}
}

func TestSymbolAddr(t *testing.T) {
	ctx, _ := newTestLink(t)
	ctx.Stubs.Addr = 0x4000
	ctx.Got.Addr = 0x8000
	ctx.ThreadPtrs.Addr = 0x9000

	a := ctx.DefineAbsolute("_a", 0x1234)
	b := ctx.DefineAbsolute("_b", 0)
	ctx.Stubs.Add(b)
	ctx.Stubs.Add(a)
	ctx.Got.Add(a)
	ctx.ThreadPtrs.Add(b)
	ctx.ThreadPtrs.Add(a)

	check := func(what string, got, want uint64) {
		t.Helper()
		if got != want {
			t.Errorf("%s: want %#x, got %#x", what, want, got)
		}
	}
	// A symbol with a stub resolves to the stub.
	check("_a", a.Addr(ctx), 0x4000+12)
	check("_b", b.Addr(ctx), 0x4000)
	check("_a GOT", a.GotAddr(ctx), 0x8000)
	check("_a TLV", a.TLVAddr(ctx), 0x9008)

	defer func() {
		if recover() == nil {
			t.Errorf("want panic for GOT address of symbol without a slot")
		}
	}()
	b.GotAddr(ctx)
}

func TestAddDylib(t *testing.T) {
	ctx, _ := newTestLink(t)
	if _, err := ctx.LoadObject(testObj("a.o", []testSym{{"_malloc", 1, 0, true}})); err != nil {
		t.Fatal(err)
	}
	d := ctx.AddDylib("libc.dylib", []string{"_malloc", "_free"})
	if sym := ctx.Lookup("_malloc"); sym.Imported || sym.File == InputFile(d) {
		t.Errorf("dylib export overrode object definition of _malloc")
	}
	if sym := ctx.Lookup("_free"); !sym.Imported || sym.File != InputFile(d) {
		t.Errorf("_free: want imported from %s", d)
	}
	if d.IsAlive() {
		t.Errorf("new dylib should not be alive")
	}
	d.MarkAlive()
	if !d.IsAlive() {
		t.Errorf("want alive after MarkAlive")
	}
}

func TestDiag(t *testing.T) {
	ctx, logs := newTestLink(t)
	if ctx.Err() != nil {
		t.Fatalf("want no error from new link")
	}
	file, err := ctx.LoadObject(testObj("a.o", []testSym{{"_x", 0, 0, true}}, ptr(8, 0)))
	if err != nil {
		t.Fatal(err)
	}
	subsec := file.Sections[1].Subsections[0]
	ctx.Errorf(subsec, &subsec.Relocs[0], "bad %s", "thing")
	ctx.Report(&Diag{Msg: "global problem"})

	diags := ctx.Diags()
	if len(diags) != 2 {
		t.Fatalf("want 2 diagnostics, got %d", len(diags))
	}
	if got, want := diags[0].Error(), "a.o:(__DATA,__data)+0x8: bad thing"; got != want {
		t.Errorf("want %q, got %q", want, got)
	}
	if diags[0].Sym != "_x" {
		t.Errorf("want symbol _x, got %q", diags[0].Sym)
	}
	if got := diags[1].Error(); got != "global problem" {
		t.Errorf("want %q, got %q", "global problem", got)
	}

	err = ctx.Err()
	var d *Diag
	if !errors.As(err, &d) || d != diags[0] {
		t.Errorf("Err should wrap the diagnostics, got %v", err)
	}
	if !strings.Contains(err.Error(), "global problem") {
		t.Errorf("Err missing a diagnostic: %v", err)
	}

	var n int
	for _, e := range logs.Entries {
		if e.Level == log.ErrorLevel {
			n++
			if e.Message == "bad thing" && (e.Fields["file"] != "a.o" || e.Fields["symbol"] != "_x" || e.Fields["offset"] != "0x8") {
				t.Errorf("diagnostic logged with wrong fields %v", e.Fields)
			}
		}
	}
	if n != 2 {
		t.Errorf("want 2 error log entries, got %d", n)
	}
}

func TestThunk(t *testing.T) {
	ctx, _ := newTestLink(t)
	osec := ctx.NewOutputSection("__TEXT", "__text")
	osec.Addr = 0x10000
	th := osec.AddThunk(0x400)
	a, b := ctx.Symbol("_a"), ctx.Symbol("_b")
	if th.Add(a) != 0 || th.Add(b) != 1 || th.Add(a) != 0 {
		t.Errorf("want entries 0, 1, 0")
	}
	if i, ok := th.Lookup(b); !ok || i != 1 {
		t.Errorf("Lookup(_b): want 1, got %d, %v", i, ok)
	}
	if _, ok := th.Lookup(ctx.Symbol("_c")); ok {
		t.Errorf("Lookup(_c) should fail")
	}
	if got := th.EntryAddr(1); got != 0x10400+12 {
		t.Errorf("want entry 1 at %#x, got %#x", 0x10400+12, got)
	}
	if th.Size() != 24 {
		t.Errorf("want size 24, got %d", th.Size())
	}
}

func mustPanic(t *testing.T, what string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: want panic", what)
		}
	}()
	f()
}

func TestPipeline(t *testing.T) {
	ctx, _ := newTestLink(t)
	ctx.AddDylib("libc.dylib", []string{"_malloc", "dyld_stub_binder"})
	var files []*ObjectFile
	for i := 0; i < 8; i++ {
		file, err := ctx.LoadObject(testObj(fmt.Sprintf("f%d.o", i), []testSym{
			{"_malloc", 0, 0, true},
			{fmt.Sprintf("_f%d", i), 1, 0, true},
		}, ptr(0, 0), ptr(8, 1)))
		if err != nil {
			t.Fatal(err)
		}
		files = append(files, file)
	}

	if err := ctx.ScanRelocations(); err != nil {
		t.Fatal(err)
	}
	ctx.AllocateSlots()
	malloc := ctx.Lookup("_malloc")
	if malloc.GotIdx != 0 || malloc.StubIdx != 0 {
		t.Errorf("_malloc: want GOT 0 and stub 0, got %d and %d", malloc.GotIdx, malloc.StubIdx)
	}
	for i, f := range files {
		sym := f.Syms[1]
		if sym.GotIdx != int32(i+1) {
			t.Errorf("%s: want GOT slot %d, got %d", sym, i+1, sym.GotIdx)
		}
		if sym.StubIdx != -1 {
			t.Errorf("%s: defined symbols get no stub", sym)
		}
	}
	if got := ctx.Lookup("dyld_stub_binder").GotIdx; got != 9 {
		t.Errorf("dyld_stub_binder: want GOT slot 9, got %d", got)
	}

	// Layout.
	text := ctx.NewOutputSection("__TEXT", "__text")
	text.Addr, text.Offset = 0x1100, 0x300
	data := ctx.NewOutputSection("__DATA", "__data")
	data.Addr, data.Offset = 0x2000, 0x200
	for i, f := range files {
		text.Place(f.Sections[0].Subsections[0], uint64(16*i))
		data.Place(f.Sections[1].Subsections[0], uint64(32*i))
	}
	ctx.Stubs.Chunk = Chunk{Addr: 0x1000, Offset: 0x100}
	ctx.StubHelper.Chunk = Chunk{Addr: 0x1010, Offset: 0x110}
	ctx.LazySymbolPtr.Chunk = Chunk{Addr: 0x2800, Offset: 0x500}
	ctx.Got.Chunk = Chunk{Addr: 0x2900, Offset: 0x600}
	if err := ctx.AssignThunks(); err != nil {
		t.Fatal(err)
	}
	ctx.FinishLayout()

	buf := make([]byte, 0x800)
	if err := ctx.ApplyRelocations(buf); err != nil {
		t.Fatal(err)
	}
	l := ctx.Arch.Sys.Layout
	for i, f := range files {
		if got := l.Uint64(buf[0x200+32*i:]); got != 0x1000 {
			t.Errorf("file %d: pointer to _malloc: want stub %#x, got %#x", i, 0x1000, got)
		}
		want := uint64(0x1100 + 16*i)
		if got := l.Uint64(buf[0x208+32*i:]); got != want {
			t.Errorf("file %d: pointer to %s: want %#x, got %#x", i, f.Syms[1], want, got)
		}
		if got := l.Uint64(buf[0x600+8*(i+1):]); got != want {
			t.Errorf("GOT slot %d: want %#x, got %#x", i+1, want, got)
		}
	}
	if got := l.Uint64(buf[0x600:]); got != 0 {
		t.Errorf("GOT slot of imported _malloc: want 0, got %#x", got)
	}
	if buf[0x100] != 0xaa || buf[0x110] != 0xbb {
		t.Errorf("stubs not generated")
	}
	if got := l.Uint64(buf[0x500:]); got != 0x1010+24 {
		t.Errorf("lazy pointer: want %#x, got %#x", 0x1010+24, got)
	}

	mustPanic(t, "LoadObject after apply", func() { ctx.LoadObject(testObj("late.o", nil)) })
	mustPanic(t, "ApplyRelocations twice", func() { ctx.ApplyRelocations(buf) })
}

func TestPhases(t *testing.T) {
	ctx, _ := newTestLink(t)
	mustPanic(t, "AllocateSlots before scan", ctx.AllocateSlots)
	mustPanic(t, "FinishLayout before scan", ctx.FinishLayout)
	mustPanic(t, "Symtab before layout", func() { ctx.Symtab() })
	mustPanic(t, "ApplyRelocations before layout", func() { ctx.ApplyRelocations(nil) })
	if err := ctx.ScanRelocations(); err != nil {
		t.Fatal(err)
	}
	mustPanic(t, "ScanRelocations twice", func() { ctx.ScanRelocations() })
	ctx.Stubs.Syms = append(ctx.Stubs.Syms, ctx.Symbol("_x"))
	mustPanic(t, "FinishLayout without bind offsets", ctx.FinishLayout)
}

func TestConfig(t *testing.T) {
	if os.Getenv("MACHLINK_THREADS") == "" && os.Getenv("MACHLINK_VERBOSE") == "" {
		if cfg, def := ConfigFromEnv(), DefaultConfig(); cfg != def {
			t.Errorf("want default %+v, got %+v", def, cfg)
		}
	}
	if def := DefaultConfig(); def.Threads < 1 || def.Verbose {
		t.Errorf("bad default config %+v", def)
	}

	ctx := NewLink(testArch(), Config{Threads: -2})
	if ctx.Config.Threads != 1 {
		t.Errorf("want Threads clamped to 1, got %d", ctx.Config.Threads)
	}
	if l, ok := ctx.Log.(*log.Logger); !ok || l.Level != log.InfoLevel {
		t.Errorf("want info-level logger, got %v", ctx.Log)
	}
	ctx = NewLink(testArch(), Config{Threads: 1, Verbose: true})
	if l, ok := ctx.Log.(*log.Logger); !ok || l.Level != log.DebugLevel {
		t.Errorf("want debug-level logger in verbose mode, got %v", ctx.Log)
	}
}
