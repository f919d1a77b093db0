// Package policy resolves the masking expressions that apply to the columns
// of a relation, following the inheritance hierarchy for columns the
// relation does not label itself.
package policy

import (
	"sort"

	"github.com/pthm/veil/pkg/catalog"
)

// Policy maps column ordinals of one relation to masking expressions. It is
// built fresh for every resolve and never cached.
type Policy struct {
	Relation *catalog.Relation

	expressions map[int]string
	// sources records which relation each expression was found on.
	sources map[int]catalog.OID
}

func newPolicy(rel *catalog.Relation) *Policy {
	return &Policy{
		Relation:    rel,
		expressions: make(map[int]string),
		sources:     make(map[int]catalog.OID),
	}
}

// set records expr for ordinal unless an entry already exists. It reports
// whether the entry was recorded.
func (p *Policy) set(ordinal int, expr string, from catalog.OID) bool {
	if _, ok := p.expressions[ordinal]; ok {
		return false
	}
	p.expressions[ordinal] = expr
	p.sources[ordinal] = from
	return true
}

// Expression returns the masking expression for ordinal.
func (p *Policy) Expression(ordinal int) (string, bool) {
	if p == nil {
		return "", false
	}
	e, ok := p.expressions[ordinal]
	return e, ok
}

// Source returns the OID of the relation the expression for ordinal was
// declared on.
func (p *Policy) Source(ordinal int) (catalog.OID, bool) {
	if p == nil {
		return catalog.InvalidOID, false
	}
	o, ok := p.sources[ordinal]
	return o, ok
}

// Len returns the number of masked columns.
func (p *Policy) Len() int {
	if p == nil {
		return 0
	}
	return len(p.expressions)
}

// Ordinals returns the masked ordinals in ascending order.
func (p *Policy) Ordinals() []int {
	if p == nil {
		return nil
	}
	out := make([]int, 0, len(p.expressions))
	for o := range p.expressions {
		out = append(out, o)
	}
	sort.Ints(out)
	return out
}

// Expressions returns the expressions in ordinal order.
func (p *Policy) Expressions() []string {
	ords := p.Ordinals()
	out := make([]string, len(ords))
	for i, o := range ords {
		out[i] = p.expressions[o]
	}
	return out
}

// complete reports whether every live column of the relation has an entry.
func (p *Policy) complete() bool {
	return len(p.expressions) >= p.Relation.LiveColumns()
}

// AttributeMap maps an ancestor's column ordinals to the ordinals of the
// same-named columns in the relation being resolved. Dropped columns are
// skipped on both sides.
type AttributeMap map[int]int

// BuildAttributeMap matches the live columns of ancestor to those of target
// by name.
func BuildAttributeMap(ancestor, target *catalog.Relation) AttributeMap {
	m := make(AttributeMap)
	for i, col := range ancestor.Columns {
		if col.Dropped {
			continue
		}
		if ord, ok := target.Ordinal(col.Name); ok {
			m[i+1] = ord
		}
	}
	return m
}
