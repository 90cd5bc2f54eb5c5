// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arm64

import (
	"fmt"

	"github.com/aclements/go-machlink/ld"
)

var stubInsns = [StubSize / 4]uint32{
	0x90000010, // adrp x16, $ptr@PAGE
	0xf9400210, // ldr  x16, [x16, $ptr@PAGEOFF]
	0xd61f0200, // br   x16
}

// WriteStubs writes the __stubs section. Stub i jumps through lazy
// symbol pointer i.
func WriteStubs(ctx *ld.Link, buf []byte) {
	for i := range ctx.Stubs.Syms {
		laAddr := ctx.LazySymbolPtr.Addr + 8*uint64(i)
		addr := ctx.Stubs.Addr + StubSize*uint64(i)

		loc := buf[StubSize*i:]
		putInsns(loc, stubInsns[:])
		layout.OrUint32(loc[0:], pageOffset(laAddr, addr))
		layout.OrUint32(loc[4:], uint32(bits(laAddr, 11, 3)<<10))
	}
}

var stubHelperHdrInsns = [StubHelperHdrSize / 4]uint32{
	0x90000011, // adrp x17, $__dyld_private@PAGE
	0x91000231, // add  x17, x17, $__dyld_private@PAGEOFF
	0xa9bf47f0, // stp  x16, x17, [sp, #-16]!
	0x90000010, // adrp x16, $dyld_stub_binder@GOTPAGE
	0xf9400210, // ldr  x16, [x16, $dyld_stub_binder@GOTPAGEOFF]
	0xd61f0200, // br   x16
}

var stubHelperInsns = [StubHelperSize / 4]uint32{
	0x18000050, // ldr  w16, addr
	0x14000000, // b    header
	0x00000000, // addr: .long bind offset
}

// WriteStubHelper writes the __stub_helper section: a header that
// pushes __dyld_private and jumps to dyld_stub_binder, followed by one
// entry per stub that loads the stub's bind offset and branches to the
// header.
func WriteStubHelper(ctx *ld.Link, buf []byte) {
	hdrAddr := ctx.StubHelper.Addr

	dyldPrivate, ok := lookupDefined(ctx, "__dyld_private")
	if !ok {
		return
	}
	binder, ok := lookupDefined(ctx, "dyld_stub_binder")
	if !ok {
		return
	}
	if binder.GotIdx == -1 {
		ctx.Report(&ld.Diag{Sym: binder.Name, Msg: "dyld_stub_binder has no GOT slot"})
		return
	}
	privAddr := dyldPrivate.Addr(ctx)
	binderGot := binder.GotAddr(ctx)

	putInsns(buf, stubHelperHdrInsns[:])
	layout.OrUint32(buf[0:], pageOffset(privAddr, hdrAddr))
	layout.OrUint32(buf[4:], uint32(bits(privAddr, 11, 0)<<10))
	layout.OrUint32(buf[12:], pageOffset(binderGot, hdrAddr+12))
	layout.OrUint32(buf[16:], uint32(bits(binderGot, 11, 3)<<10))

	for i := range ctx.Stubs.Syms {
		off := StubHelperHdrSize + StubHelperSize*i
		loc := buf[off:]
		putInsns(loc, stubHelperInsns[:])
		// The branch is the entry's second instruction.
		disp := -int64(off + 4)
		layout.OrUint32(loc[4:], uint32(bits(uint64(disp), 27, 2)))
		layout.PutUint32(loc[8:], ctx.Stubs.BindOffsets[i])
	}
}

var objcStubInsns = [ObjcStubSize / 4]uint32{
	0x90000001, // adrp x1, @selector("foo")@PAGE
	0xf9400021, // ldr  x1, [x1, @selector("foo")@PAGEOFF]
	0x90000010, // adrp x16, _objc_msgSend@GOTPAGE
	0xf9400210, // ldr  x16, [x16, _objc_msgSend@GOTPAGEOFF]
	0xd61f0200, // br   x16
	0xd4200020, // brk  #0x1
	0xd4200020, // brk  #0x1
	0xd4200020, // brk  #0x1
}

// WriteObjcStubs writes the __objc_stubs section. Stub i loads selector
// reference i into x1 and tail-calls objc_msgSend through its GOT slot.
func WriteObjcStubs(ctx *ld.Link, buf []byte) {
	if len(ctx.ObjcStubs.Selrefs) == 0 {
		return
	}
	msgSend, ok := lookupDefined(ctx, "_objc_msgSend")
	if !ok {
		return
	}
	if msgSend.GotIdx == -1 {
		ctx.Report(&ld.Diag{Sym: msgSend.Name, Msg: "_objc_msgSend has no GOT slot"})
		return
	}
	gotAddr := msgSend.GotAddr(ctx)

	for i, selref := range ctx.ObjcStubs.Selrefs {
		selAddr := selref.Addr()
		addr := ctx.ObjcStubs.Addr + ObjcStubSize*uint64(i)

		loc := buf[ObjcStubSize*i:]
		putInsns(loc, objcStubInsns[:])
		layout.OrUint32(loc[0:], pageOffset(selAddr, addr))
		layout.OrUint32(loc[4:], uint32(bits(selAddr, 11, 3)<<10))
		layout.OrUint32(loc[8:], pageOffset(gotAddr, addr+8))
		layout.OrUint32(loc[12:], uint32(bits(gotAddr, 11, 3)<<10))
	}
}

// lookupDefined returns the linker-referenced symbol name, reporting an
// error if it is undefined.
func lookupDefined(ctx *ld.Link, name string) (*ld.Symbol, bool) {
	sym := ctx.Lookup(name)
	if sym == nil || sym.File == nil {
		ctx.Report(&ld.Diag{Sym: name, Msg: fmt.Sprintf("undefined symbol: %s", name)})
		return nil, false
	}
	return sym, true
}
