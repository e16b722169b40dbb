// Package linker resolves the global-symbol addresses the codegen backend
// needs but does not own: module-level globals live in one flat address
// space laid out after the program's data segments, and it is the linker's
// job to say where.
//
// This is a minimal stand-in for the real linker, which in a full toolchain
// would run over every compiled module and assign addresses only once all of
// them have been loaded. internal/codegen/stackify only ever asks it two
// questions (Find, OffsetOf), matching the external interface the
// stackification pass is specified against.
package linker

import "fmt"

// Symbol is an opaque handle returned by Find, analogous to the linker's own
// internal representation of a resolved global.
type Symbol struct{ index int }

// Table assigns addresses to a program's global variables. Globals are laid
// out in declaration order, each taking its given size in address units (one
// unit when no size, or a zero size, is given), starting just after the data
// segments.
type Table struct {
	names  map[string]Symbol
	bases  []uint32
	nextID int
}

// Build lays out addresses for globals, starting at segmentsEnd.
func Build(globalNames []string, globalSizes []uint32, segmentsEnd uint32) *Table {
	t := &Table{names: make(map[string]Symbol, len(globalNames))}
	offset := segmentsEnd
	for i, name := range globalNames {
		t.names[name] = Symbol{index: i}
		t.bases = append(t.bases, offset)
		size := uint32(1)
		if i < len(globalSizes) && globalSizes[i] > 0 {
			size = globalSizes[i]
		}
		offset += size
	}
	return t
}

// Find resolves a global's name to its symbol, failing the way a linker
// fails when a module references an undefined global - a bug the earlier
// pipeline stages are contracted to have already rejected.
func (t *Table) Find(name string) (Symbol, error) {
	sym, ok := t.names[name]
	if !ok {
		return Symbol{}, fmt.Errorf("linker: undefined global symbol %q", name)
	}
	return sym, nil
}

// OffsetOf returns the absolute base address assigned to sym.
func (t *Table) OffsetOf(sym Symbol) uint32 {
	return t.bases[sym.index]
}
