// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import "sort"

// A Range is a byte range [Off, Off+Size) within a section.
type Range struct {
	Off, Size uint64
}

// SplitSection divides section s into atomic ranges at the addresses of
// the symbols in syms that are defined in s. The ranges cover all of s
// in order. If no symbol starts at the beginning of s, the first range
// covers the bytes before the first symbol.
//
// Symbols that share an address share a range, and symbols past the
// end of s are ignored.
func SplitSection(s *Section, syms []Sym) []Range {
	var starts []uint64
	for i := range syms {
		if syms[i].Section != s || syms[i].Kind == SymUnknown {
			continue
		}
		if syms[i].Value < s.Addr || syms[i].Value >= s.Addr+s.Size {
			continue
		}
		starts = append(starts, syms[i].Value-s.Addr)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	out := make([]Range, 0, len(starts)+1)
	off := uint64(0)
	for _, start := range starts {
		// Aliases and a symbol at the section start begin no new
		// range.
		if start == off {
			continue
		}
		out = append(out, Range{off, start - off})
		off = start
	}
	if off < s.Size || len(out) == 0 {
		out = append(out, Range{off, s.Size - off})
	}
	return out
}
