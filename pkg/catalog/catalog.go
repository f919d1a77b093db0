// Package catalog models the parts of the PostgreSQL system catalog the
// masking engine reads: relation schemas, inheritance edges, roles and
// security labels.
//
// The Catalog interface is read-only. Implementations must only take shared
// locks: write coordination for these catalogs belongs to the host.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// OID identifies a catalog object.
type OID uint32

// InvalidOID is the zero OID.
const InvalidOID OID = 0

// Sentinel lookup errors.
var (
	ErrRelationNotFound = errors.New("catalog: relation not found")
	ErrColumnNotFound   = errors.New("catalog: column not found")
	ErrRoleNotFound     = errors.New("catalog: role not found")
)

// ObjectClass is the catalog a labelled object lives in.
type ObjectClass int

const (
	ClassRelation ObjectClass = iota + 1
	ClassRole
	// ClassOther covers every object kind the engine does not label
	// (schemas, functions, types, ...).
	ClassOther
)

func (c ObjectClass) String() string {
	switch c {
	case ClassRelation:
		return "pg_class"
	case ClassRole:
		return "pg_authid"
	default:
		return "unknown"
	}
}

// ObjectAddress locates a labelled object. SubID is the column ordinal for
// column labels and 0 for the object itself.
type ObjectAddress struct {
	Class    ObjectClass
	ObjectID OID
	SubID    int
	// Kind names the object kind for ClassOther, for error messages.
	Kind string
}

// RelKind mirrors pg_class.relkind.
type RelKind byte

const (
	RelKindTable       RelKind = 'r'
	RelKindIndex       RelKind = 'i'
	RelKindSequence    RelKind = 'S'
	RelKindToast       RelKind = 't'
	RelKindView        RelKind = 'v'
	RelKindMatView     RelKind = 'm'
	RelKindComposite   RelKind = 'c'
	RelKindForeign     RelKind = 'f'
	RelKindPartitioned RelKind = 'p'
)

// Maskable reports whether relations of this kind can carry a masking
// policy. Only plain tables, materialized views and partitioned tables do.
func (k RelKind) Maskable() bool {
	switch k {
	case RelKindTable, RelKindMatView, RelKindPartitioned:
		return true
	}
	return false
}

func (k RelKind) String() string {
	switch k {
	case RelKindTable:
		return "table"
	case RelKindIndex:
		return "index"
	case RelKindSequence:
		return "sequence"
	case RelKindToast:
		return "toast table"
	case RelKindView:
		return "view"
	case RelKindMatView:
		return "materialized view"
	case RelKindComposite:
		return "composite type"
	case RelKindForeign:
		return "foreign table"
	case RelKindPartitioned:
		return "partitioned table"
	default:
		return fmt.Sprintf("relkind %q", byte(k))
	}
}

// Column is one pg_attribute row.
type Column struct {
	Name      string
	TypeOID   OID
	Dropped   bool
	Generated bool
}

// Relation is a snapshot of a relation's schema. Column ordinals are
// 1-based positions in Columns and are stable within one snapshot.
type Relation struct {
	OID       OID
	Namespace string
	Name      string
	Kind      RelKind
	Columns   []Column
}

// Column returns the column at the 1-based ordinal.
func (r *Relation) Column(ordinal int) (Column, bool) {
	if ordinal < 1 || ordinal > len(r.Columns) {
		return Column{}, false
	}
	return r.Columns[ordinal-1], true
}

// Ordinal returns the 1-based ordinal of the live column named name.
func (r *Relation) Ordinal(name string) (int, bool) {
	for i, c := range r.Columns {
		if !c.Dropped && c.Name == name {
			return i + 1, true
		}
	}
	return 0, false
}

// LiveColumns returns the number of columns that are not dropped.
func (r *Relation) LiveColumns() int {
	n := 0
	for _, c := range r.Columns {
		if !c.Dropped {
			n++
		}
	}
	return n
}

// QualifiedName returns the quoted schema-qualified name.
func (r *Relation) QualifiedName() string {
	return pq.QuoteIdentifier(r.Namespace) + "." + pq.QuoteIdentifier(r.Name)
}

// String returns the unquoted schema-qualified name, for messages.
func (r *Relation) String() string {
	return r.Namespace + "." + r.Name
}

// Label is one security label row.
type Label struct {
	Object   ObjectAddress
	Provider string
	Text     string
}

// Catalog reads relation schemas, inheritance edges, roles and security
// labels.
type Catalog interface {
	// Relation returns the schema of relid, or ErrRelationNotFound.
	Relation(ctx context.Context, relid OID) (*Relation, error)

	// LookupRelation resolves a possibly unqualified name. An empty schema
	// searches searchPath in order.
	LookupRelation(ctx context.Context, schema, name string, searchPath []string) (*Relation, error)

	// Parents returns the direct inheritance parents of relid in
	// inheritance sequence order.
	Parents(ctx context.Context, relid OID) ([]OID, error)

	// ColumnLabels returns the provider's column labels on relid, keyed by
	// column ordinal.
	ColumnLabels(ctx context.Context, relid OID, provider string) (map[int]string, error)

	// ObjectLabel returns the provider's label on addr, if any.
	ObjectLabel(ctx context.Context, addr ObjectAddress, provider string) (string, bool, error)

	// LookupRole returns the OID of the named role, or ErrRoleNotFound.
	LookupRole(ctx context.Context, name string) (OID, error)
}

// LabelWriter stores security labels. A nil label removes the entry.
type LabelWriter interface {
	SetLabel(ctx context.Context, addr ObjectAddress, provider string, label *string) error
}

// IsSystemNamespace reports whether relations in ns are system catalogs
// that must never be labelled.
func IsSystemNamespace(ns string) bool {
	return ns == "pg_catalog" || ns == "information_schema" || strings.HasPrefix(ns, "pg_toast")
}
