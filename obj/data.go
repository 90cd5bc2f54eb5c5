// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"fmt"

	"github.com/aclements/go-machlink/arch"
)

// A Reader decodes fixed-size fields from a byte slice in a given
// layout.
type Reader struct {
	b      []byte
	p      int // Offset into b
	layout arch.Layout
}

func NewReader(b []byte, layout arch.Layout) *Reader {
	return &Reader{b, 0, layout}
}

// SetOffset moves r's cursor to the given offset from the beginning of
// r's data.
func (r *Reader) SetOffset(offset int) {
	if offset < 0 || offset >= len(r.b) {
		r.badOffset(offset)
	}
	r.p = offset
}

func (r *Reader) badOffset(offset int) {
	panic(fmt.Sprintf("offset %d out of data's range [0,%d)", offset, len(r.b)))
}

// Offset returns the current position of r's cursor.
func (r *Reader) Offset() int {
	return r.p
}

// Avail returns the number of bytes remaining in r's data.
func (r *Reader) Avail() int {
	return len(r.b) - r.p
}

func (r *Reader) Uint32() uint32 {
	o := r.p
	r.p += 4
	return r.layout.Uint32(r.b[o : o+4])
}

func (r *Reader) Uint64() uint64 {
	o := r.p
	r.p += 8
	return r.layout.Uint64(r.b[o : o+8])
}

func (r *Reader) Int32() int32 { return int32(r.Uint32()) }
func (r *Reader) Int64() int64 { return int64(r.Uint64()) }
