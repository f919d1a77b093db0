// Package querytree is the analyzed query representation the masking engine
// rewrites: a Query owns a range table whose entries are a tagged variant
// (RTEKind) over base relations, subqueries, joins, functions, VALUES lists
// and CTE references.
package querytree

import (
	"sort"

	"github.com/pthm/veil/pkg/catalog"
)

// CommandType is the statement kind of a Query.
type CommandType int

const (
	CmdSelect CommandType = iota
	CmdInsert
	CmdUpdate
	CmdDelete
	CmdMerge
	CmdUtility
)

func (c CommandType) String() string {
	switch c {
	case CmdSelect:
		return "SELECT"
	case CmdInsert:
		return "INSERT"
	case CmdUpdate:
		return "UPDATE"
	case CmdDelete:
		return "DELETE"
	case CmdMerge:
		return "MERGE"
	case CmdUtility:
		return "UTILITY"
	default:
		return "UNKNOWN"
	}
}

// Origin records who produced a Query.
type Origin int

const (
	// OriginParser marks queries analyzed from client text.
	OriginParser Origin = iota
	// OriginMasking marks sub-queries synthesized by the rewriter. They are
	// never rewritten again.
	OriginMasking
)

// RTEKind tags the variant of a RangeTblEntry.
type RTEKind int

const (
	RTERelation RTEKind = iota
	RTESubquery
	RTEJoin
	RTEFunction
	RTEValues
	RTECTE
)

func (k RTEKind) String() string {
	switch k {
	case RTERelation:
		return "relation"
	case RTESubquery:
		return "subquery"
	case RTEJoin:
		return "join"
	case RTEFunction:
		return "function"
	case RTEValues:
		return "values"
	case RTECTE:
		return "cte"
	default:
		return "unknown"
	}
}

// AclMode is a privilege bitmask.
type AclMode uint32

const (
	ACLInsert AclMode = 1 << 0
	ACLSelect AclMode = 1 << 1
	ACLUpdate AclMode = 1 << 2
	ACLDelete AclMode = 1 << 3
)

// LockMode is the relation lock an RTE takes at execution.
type LockMode int

const (
	NoLock LockMode = iota
	AccessShareLock
	RowShareLock
	RowExclusiveLock
)

// TableSample is a TABLESAMPLE clause.
type TableSample struct {
	Method     string
	Args       []string
	Repeatable string
}

// ColumnSet is a sorted set of column ordinals. Ordinal 0 means the whole
// row.
type ColumnSet []int

// Add inserts ordinal, keeping the set sorted.
func (s ColumnSet) Add(ordinal int) ColumnSet {
	i := sort.SearchInts(s, ordinal)
	if i < len(s) && s[i] == ordinal {
		return s
	}
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = ordinal
	return s
}

// Contains reports whether ordinal is in the set.
func (s ColumnSet) Contains(ordinal int) bool {
	i := sort.SearchInts(s, ordinal)
	return i < len(s) && s[i] == ordinal
}

// MaskedRelation is attached to a subquery RTE that replaced a masked base
// relation.
type MaskedRelation struct {
	RelID    catalog.OID
	Relation string
	// Columns are the ordinals projected through a masking expression.
	Columns []int
}

// RangeTblEntry is one FROM-list item.
type RangeTblEntry struct {
	Kind RTEKind

	// Alias is the user-written alias, Eref the effective reference name.
	Alias   string
	Eref    string
	Lateral bool

	// RTERelation fields.
	RelID         catalog.OID
	RelKind       catalog.RelKind
	RelName       string
	LockMode      LockMode
	TableSample   *TableSample
	Inh           bool
	RequiredPerms AclMode
	CheckAsUser   catalog.OID
	SelectedCols  ColumnSet
	InsertedCols  ColumnSet
	UpdatedCols   ColumnSet

	// RTESubquery fields.
	Subquery        *Query
	SecurityBarrier bool
	// Masked is set when the subquery replaced a masked relation.
	Masked *MaskedRelation

	// RTECTE fields.
	CTEName string

	// RTEFunction fields.
	FuncName string
}

// CommonTableExpr is one WITH-list item.
type CommonTableExpr struct {
	Name      string
	Recursive bool
	Query     *Query
}

// Query is an analyzed statement.
type Query struct {
	CommandType CommandType
	Origin      Origin

	// ResultRelation is the 1-based range table index of the target of a
	// write statement, 0 for SELECT.
	ResultRelation int

	RTable []*RangeTblEntry
	CTEs   []*CommonTableExpr

	// SubLinks are queries nested in expressions (WHERE x IN (SELECT ...),
	// scalar subqueries in the target list, ...).
	SubLinks []*Query

	// Text is the source text the query was analyzed from.
	Text string
}

// Children returns the queries directly nested in q: subquery RTEs, CTEs and
// sub-links, in that order.
func (q *Query) Children() []*Query {
	var out []*Query
	for _, rte := range q.RTable {
		if rte.Kind == RTESubquery && rte.Subquery != nil {
			out = append(out, rte.Subquery)
		}
	}
	for _, cte := range q.CTEs {
		if cte.Query != nil {
			out = append(out, cte.Query)
		}
	}
	out = append(out, q.SubLinks...)
	return out
}

// Relations returns the base relation RTEs of q and every nested query.
func (q *Query) Relations() []*RangeTblEntry {
	var out []*RangeTblEntry
	seen := make(map[*Query]bool)
	var walk func(*Query)
	walk = func(n *Query) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		for _, rte := range n.RTable {
			if rte.Kind == RTERelation {
				out = append(out, rte)
			}
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(q)
	return out
}
