/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package dbkit

import (
	"fmt"
	"sort"
)

// StmtSpec declares, for one named "prepared statement" (in our case: one
// Go closure bound to a fixed set of named parameters), the parameter names
// it is allowed to bind and the number of result columns/fields it
// produces. NewBundle rejects duplicate statement names and duplicate
// parameter names; CheckBinds and CheckFieldCount then verify, at each call
// site, that a renamed/typo'd bind name or a changed row shape is reported
// as an error instead of silently reading garbage.
type StmtSpec struct {
	Name       string
	Params     []string
	FieldCount int
}

// Bundle is a named set of StmtSpecs for one component (content store,
// action store, GC selectors, ...), validated once at construction.
type Bundle struct {
	specs map[string]StmtSpec
}

func NewBundle(specs ...StmtSpec) (*Bundle, error) {
	b := &Bundle{specs: make(map[string]StmtSpec, len(specs))}
	for _, s := range specs {
		if _, dup := b.specs[s.Name]; dup {
			return nil, fmt.Errorf("dbkit: duplicate statement name %q", s.Name)
		}
		params := append([]string(nil), s.Params...)
		sort.Strings(params)
		for i := 1; i < len(params); i++ {
			if params[i] == params[i-1] {
				return nil, fmt.Errorf("dbkit: statement %q declares duplicate param %q", s.Name, params[i])
			}
		}
		b.specs[s.Name] = s
	}
	return b, nil
}

// CheckBinds verifies that every key in binds is among stmt's declared
// parameters; it's called at the bind call site (cheap map lookups) rather
// than only at construction, because in this engine "statements" are
// closures created fresh per call, not long-lived prepared handles.
func (b *Bundle) CheckBinds(stmt string, binds map[string]interface{}) error {
	spec, ok := b.specs[stmt]
	if !ok {
		return fmt.Errorf("dbkit: unknown statement %q", stmt)
	}
	declared := make(map[string]bool, len(spec.Params))
	for _, p := range spec.Params {
		declared[p] = true
	}
	for k := range binds {
		if !declared[k] {
			return fmt.Errorf("dbkit: statement %q bound undeclared parameter %q", stmt, k)
		}
	}
	return nil
}

func (b *Bundle) CheckFieldCount(stmt string, n int) error {
	spec, ok := b.specs[stmt]
	if !ok {
		return fmt.Errorf("dbkit: unknown statement %q", stmt)
	}
	if spec.FieldCount != n {
		return fmt.Errorf("dbkit: statement %q expected %d fields, got %d (schema drift)", stmt, spec.FieldCount, n)
	}
	return nil
}
