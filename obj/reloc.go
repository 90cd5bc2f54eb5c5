// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"debug/macho"
	"fmt"

	"github.com/aclements/go-machlink/arch"
)

// RelocSize is the size in bytes of one relocation_info record.
const RelocSize = 8

// DecodeRelocs decodes a raw Mach-O relocation table.
//
// Each record is an r_address word followed by a word packing
// r_symbolnum (24 bits), r_pcrel, r_length (2 bits), r_extern and
// r_type (4 bits). ARM64 objects never contain scattered relocations,
// so one is reported as an error.
func DecodeRelocs(b []byte, layout arch.Layout) ([]macho.Reloc, error) {
	if len(b)%RelocSize != 0 {
		return nil, fmt.Errorf("relocation table size %d is not a multiple of %d", len(b), RelocSize)
	}
	relocs := make([]macho.Reloc, 0, len(b)/RelocSize)
	r := NewReader(b, layout)
	for r.Avail() >= RelocSize {
		addr := r.Uint32()
		info := r.Uint32()
		if addr&(1<<31) != 0 {
			return nil, fmt.Errorf("relocation %d: scattered relocations are not supported", len(relocs))
		}
		relocs = append(relocs, macho.Reloc{
			Addr:   addr,
			Value:  info & (1<<24 - 1),
			Pcrel:  info&(1<<24) != 0,
			Len:    uint8((info >> 25) & (1<<2 - 1)),
			Extern: info&(1<<27) != 0,
			Type:   uint8((info >> 28) & (1<<4 - 1)),
		})
	}
	return relocs, nil
}

// RelocString formats a raw ARM64 relocation for diagnostics.
func RelocString(r macho.Reloc) string {
	kind := "local"
	if r.Extern {
		kind = "extern"
	}
	pc := ""
	if r.Pcrel {
		pc = ",pcrel"
	}
	return fmt.Sprintf("%v@%#x(%s %d,len=%d%s)", macho.RelocTypeARM64(r.Type), r.Addr, kind, r.Value, r.Len, pc)
}
