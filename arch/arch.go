// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch provides basic descriptions of CPU architectures.
package arch

import "encoding/binary"

// An Arch describes a CPU architecture.
type Arch struct {
	// Layout is the byte order and word size of this architecture.
	Layout Layout

	// GoArch is the GOARCH value for this architecture.
	GoArch string

	// InsnSize is the size of an instruction in bytes, or 0 if
	// instructions are variable length.
	InsnSize int

	// PageSize is the page size of the loader's address space on this
	// architecture. ADRP-style addressing is always in 4KiB pages
	// regardless of PageSize.
	PageSize uint64
}

var ARM64 = &Arch{NewLayout(binary.LittleEndian, 8), "arm64", 4, 16 << 10}

// String returns the GOARCH value of a.
func (a *Arch) String() string {
	if a == nil {
		return "<nil>"
	}
	return a.GoArch
}
