// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symtab implements lookup of linked symbols by name and final
// address.
package symtab

import "sort"

// An Entry is a named address range in the output.
type Entry struct {
	Name string
	Addr uint64
	Size uint64
}

// Table facilitates fast symbol lookup by name and address.
type Table struct {
	entries []Entry

	// addr contains boundaries of entries, ordered by address. The
	// boundary from an entry to no entry is not explicitly
	// represented, since lookup can check the size of the entry.
	//
	// If entries overlap, this may contain the same entry multiple
	// times. E.g., given one entry strictly nested in another, the
	// outer entry will appear both at its beginning address and at
	// the end address of the inner entry.
	addr []boundary

	// name indexes entries by name. The first entry with a name wins.
	name map[string]int
}

type boundary struct {
	addr uint64
	idx  int
}

// NewTable creates a new table for entries. Lookups return indexes into
// entries.
func NewTable(entries []Entry) *Table {
	name := make(map[string]int)
	var idxs []int
	for i, e := range entries {
		if _, ok := name[e.Name]; !ok {
			name[e.Name] = i
		}
		// Entries of size 0 can't be the result of a lookup and
		// would confuse the boundary computation.
		if e.Size != 0 {
			idxs = append(idxs, i)
		}
	}
	return &Table{entries, makeAddrIndex(entries, idxs), name}
}

func makeAddrIndex(entries []Entry, idxs []int) []boundary {
	// Sort by starting address, then larger entries first so smaller
	// ones override them as we loop over the slice.
	sort.Slice(idxs, func(i, j int) bool {
		ei, ej := &entries[idxs[i]], &entries[idxs[j]]
		if ei.Addr != ej.Addr {
			return ei.Addr < ej.Addr
		}
		if ei.Size != ej.Size {
			return ei.Size > ej.Size
		}
		return idxs[i] > idxs[j]
	})

	// Walk every entry boundary (beginning and end), keeping a stack
	// of the entries live at the current address with the lowest end
	// address on top.
	var out []boundary
	stack := make([]boundary, 0, 8) // addr is *end* address
	drainStack := func(addr uint64) {
		for len(stack) > 0 {
			endAddr := stack[len(stack)-1].addr
			if endAddr > addr {
				return
			}
			for len(stack) > 0 && stack[len(stack)-1].addr == endAddr {
				stack = stack[:len(stack)-1]
			}
			// At endAddr we drop to the entry on top of the stack,
			// or to no entry, which has no explicit marker.
			if len(stack) > 0 {
				out = append(out, boundary{endAddr, stack[len(stack)-1].idx})
			}
		}
	}
	for _, idx := range idxs {
		e := &entries[idx]
		drainStack(e.Addr)
		start := boundary{e.Addr, idx}
		if len(out) > 0 && out[len(out)-1].addr == e.Addr {
			out[len(out)-1] = start
		} else {
			out = append(out, start)
		}
		stack = append(stack, boundary{e.Addr + e.Size, idx})
		for i := len(stack) - 1; i >= 1 && stack[i].addr > stack[i-1].addr; i-- {
			stack[i], stack[i-1] = stack[i-1], stack[i]
		}
	}
	drainStack(^uint64(0))
	return out
}

// Entries returns all entries in t. The caller must not modify the
// returned slice.
func (t *Table) Entries() []Entry {
	return t.entries
}

// Name returns the index of the entry named name, or -1.
func (t *Table) Name(name string) int {
	if i, ok := t.name[name]; ok {
		return i
	}
	return -1
}

// Addr returns the index of the entry containing addr, or -1.
//
// If several entries contain addr, Addr prefers the one with the
// latest starting address, then the smallest, then the lowest index.
func (t *Table) Addr(addr uint64) int {
	i := sort.Search(len(t.addr), func(i int) bool {
		return addr < t.addr[i].addr
	}) - 1
	if i < 0 {
		return -1
	}
	idx := t.addr[i].idx
	e := &t.entries[idx]
	if e.Addr+e.Size <= addr {
		return -1
	}
	return idx
}

// SymName returns the name and starting address of the entry
// containing addr, or "", 0. It has the signature expected by
// asm.Listing.
func (t *Table) SymName(addr uint64) (string, uint64) {
	i := t.Addr(addr)
	if i < 0 {
		return "", 0
	}
	return t.entries[i].Name, t.entries[i].Addr
}
