// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arm64

// page returns the 4KiB page containing v.
func page(v uint64) uint64 {
	return v &^ 0xfff
}

// bits returns bits hi down to lo of v, shifted down to bit 0.
func bits(v uint64, hi, lo uint) uint64 {
	return (v >> lo) & (1<<(hi-lo+1) - 1)
}

// pageOffset returns the immlo:immhi fields of an ADRP at page lo that
// addresses page hi.
func pageOffset(hi, lo uint64) uint32 {
	v := page(hi) - page(lo)
	return uint32(bits(v, 13, 12)<<29 | bits(v, 32, 14)<<5)
}

// branchInRange reports whether disp fits a B/BL immediate.
func branchInRange(disp int64) bool {
	return -(1<<27) <= disp && disp < 1<<27
}

// loadStoreScale returns log2 of the access size of a load/store with
// an unsigned 12-bit offset, or 0 for any other instruction (such as
// ADD).
func loadStoreScale(insn uint32) uint {
	if insn&0x3b000000 != 0x39000000 {
		return 0
	}
	scale := uint(insn >> 30)
	if scale == 0 && insn&0x04800000 == 0x04800000 {
		// 128-bit SIMD&FP register.
		scale = 4
	}
	return scale
}

// putInsns writes insns to buf.
func putInsns(buf []byte, insns []uint32) {
	for i, insn := range insns {
		layout.PutUint32(buf[4*i:], insn)
	}
}
