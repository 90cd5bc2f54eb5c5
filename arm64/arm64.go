// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arm64 implements the ARM64 relocation engine: decoding
// relocation tables, scanning relocations for the GOT, stub, and
// thread pointer slots they need, applying them to machine code and
// data, and generating stubs and range-extension thunks.
package arm64

import (
	"github.com/aclements/go-machlink/arch"
	"github.com/aclements/go-machlink/ld"
)

// Sizes of synthesized code, in bytes.
const (
	StubSize          = 12
	StubHelperHdrSize = 24
	StubHelperSize    = 12
	ObjcStubSize      = 32
	ThunkEntrySize    = 12
)

var layout = arch.ARM64.Layout

// Init returns the ARM64 hooks for ld.
func Init() *ld.Arch {
	return &ld.Arch{
		Sys:               arch.ARM64,
		StubSize:          StubSize,
		StubHelperHdrSize: StubHelperHdrSize,
		StubHelperSize:    StubHelperSize,
		ObjcStubSize:      ObjcStubSize,
		ThunkEntrySize:    ThunkEntrySize,

		ReadRelocs:      ReadRelocs,
		ScanRelocs:      ScanRelocs,
		AssignThunks:    AssignThunks,
		ApplyRelocs:     ApplyRelocs,
		WriteStubs:      WriteStubs,
		WriteStubHelper: WriteStubHelper,
		WriteObjcStubs:  WriteObjcStubs,
		WriteThunk:      WriteThunk,
	}
}
