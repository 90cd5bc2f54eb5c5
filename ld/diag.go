// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ld

import (
	"errors"
	"fmt"

	"github.com/apex/log"
)

// A Diag is a link error attributed to a location in an input file.
type Diag struct {
	File    string
	Section string
	Offset  uint64 // Offset within Section
	Sym     string // Referenced symbol, or ""
	Msg     string
}

func (d *Diag) Error() string {
	loc := d.File
	if d.Section != "" {
		loc = fmt.Sprintf("%s:%s+%#x", loc, d.Section, d.Offset)
	}
	if loc == "" {
		return d.Msg
	}
	return loc + ": " + d.Msg
}

// Errorf reports a link error at relocation r of subsec. The link
// continues so that more diagnostics can be collected, but Err will
// return non-nil.
func (ctx *Link) Errorf(subsec *Subsection, r *Reloc, format string, args ...interface{}) {
	d := &Diag{Msg: fmt.Sprintf(format, args...)}
	if subsec != nil {
		isec := subsec.Isec
		d.File = isec.File.String()
		d.Section = isec.Sect.String()
		d.Offset = subsec.InputOffset
		if r != nil {
			d.Offset += uint64(r.Offset)
		}
	}
	if r != nil && r.Sym != nil {
		d.Sym = r.Sym.Name
	}
	ctx.Report(d)
}

// Report records d.
func (ctx *Link) Report(d *Diag) {
	ctx.Log.WithFields(log.Fields{
		"file":    d.File,
		"section": d.Section,
		"offset":  fmt.Sprintf("%#x", d.Offset),
		"symbol":  d.Sym,
	}).Error(d.Msg)

	ctx.diagMu.Lock()
	ctx.diags = append(ctx.diags, d)
	ctx.diagMu.Unlock()
}

// Diags returns the diagnostics reported so far.
func (ctx *Link) Diags() []*Diag {
	ctx.diagMu.Lock()
	defer ctx.diagMu.Unlock()
	return append([]*Diag(nil), ctx.diags...)
}

// Err returns the reported diagnostics joined into one error, or nil
// if none have been reported.
func (ctx *Link) Err() error {
	ctx.diagMu.Lock()
	defer ctx.diagMu.Unlock()
	if len(ctx.diags) == 0 {
		return nil
	}
	errs := make([]error, len(ctx.diags))
	for i, d := range ctx.diags {
		errs[i] = d
	}
	return errors.Join(errs...)
}
