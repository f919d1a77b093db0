package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type labelKey struct {
	class    ObjectClass
	objectID OID
	subID    int
	provider string
}

type inheritEdge struct {
	parent OID
	seqno  int
}

// Memory is an in-process Catalog and LabelWriter. It is safe for
// concurrent use; reads take the shared lock only.
type Memory struct {
	mu        sync.RWMutex
	nextOID   OID
	relations map[OID]*Relation
	names     map[string]OID // "schema.name"
	parents   map[OID][]inheritEdge
	roles     map[string]OID
	labels    map[labelKey]string
}

// NewMemory creates an empty catalog. OIDs are assigned from 16384 up, like
// user objects in PostgreSQL.
func NewMemory() *Memory {
	return &Memory{
		nextOID:   16384,
		relations: make(map[OID]*Relation),
		names:     make(map[string]OID),
		parents:   make(map[OID][]inheritEdge),
		roles:     make(map[string]OID),
		labels:    make(map[labelKey]string),
	}
}

func (m *Memory) allocOID() OID {
	oid := m.nextOID
	m.nextOID++
	return oid
}

// AddRelation registers a relation and returns its OID.
func (m *Memory) AddRelation(schema, name string, kind RelKind, cols ...Column) OID {
	m.mu.Lock()
	defer m.mu.Unlock()

	oid := m.allocOID()
	m.relations[oid] = &Relation{
		OID:       oid,
		Namespace: schema,
		Name:      name,
		Kind:      kind,
		Columns:   append([]Column(nil), cols...),
	}
	m.names[schema+"."+name] = oid
	return oid
}

// AddTable registers a plain table.
func (m *Memory) AddTable(schema, name string, cols ...Column) OID {
	return m.AddRelation(schema, name, RelKindTable, cols...)
}

// Inherit records child as inheriting from parent. Parents are returned in
// the order they were added.
func (m *Memory) Inherit(child, parent OID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := len(m.parents[child]) + 1
	m.parents[child] = append(m.parents[child], inheritEdge{parent: parent, seqno: seq})
}

// DropColumn marks the named column of relid as dropped, keeping its
// ordinal slot like ALTER TABLE ... DROP COLUMN does.
func (m *Memory) DropColumn(relid OID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.relations[relid]
	if !ok {
		return ErrRelationNotFound
	}
	for i := range rel.Columns {
		if rel.Columns[i].Name == name && !rel.Columns[i].Dropped {
			rel.Columns[i].Dropped = true
			rel.Columns[i].Name = fmt.Sprintf("........pg.dropped.%d........", i+1)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrColumnNotFound, name)
}

// AddColumn appends a column to relid.
func (m *Memory) AddColumn(relid OID, col Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.relations[relid]
	if !ok {
		return ErrRelationNotFound
	}
	rel.Columns = append(rel.Columns, col)
	return nil
}

// AddRole registers a role and returns its OID.
func (m *Memory) AddRole(name string) OID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if oid, ok := m.roles[name]; ok {
		return oid
	}
	oid := m.allocOID()
	m.roles[name] = oid
	return oid
}

// Relation implements Catalog. The returned snapshot is a copy.
func (m *Memory) Relation(_ context.Context, relid OID) (*Relation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rel, ok := m.relations[relid]
	if !ok {
		return nil, fmt.Errorf("%w: oid %d", ErrRelationNotFound, relid)
	}
	cp := *rel
	cp.Columns = append([]Column(nil), rel.Columns...)
	return &cp, nil
}

// LookupRelation implements Catalog.
func (m *Memory) LookupRelation(ctx context.Context, schema, name string, searchPath []string) (*Relation, error) {
	m.mu.RLock()
	var (
		oid   OID
		found bool
	)
	if schema != "" {
		oid, found = m.names[schema+"."+name]
	} else {
		for _, ns := range searchPath {
			if oid, found = m.names[ns+"."+name]; found {
				break
			}
		}
	}
	m.mu.RUnlock()

	if !found {
		if schema != "" {
			return nil, fmt.Errorf("%w: %s.%s", ErrRelationNotFound, schema, name)
		}
		return nil, fmt.Errorf("%w: %s", ErrRelationNotFound, name)
	}
	return m.Relation(ctx, oid)
}

// Parents implements Catalog.
func (m *Memory) Parents(_ context.Context, relid OID) ([]OID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	edges := append([]inheritEdge(nil), m.parents[relid]...)
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].seqno < edges[j].seqno })
	out := make([]OID, len(edges))
	for i, e := range edges {
		out[i] = e.parent
	}
	return out, nil
}

// ColumnLabels implements Catalog.
func (m *Memory) ColumnLabels(_ context.Context, relid OID, provider string) (map[int]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out map[int]string
	for k, v := range m.labels {
		if k.class != ClassRelation || k.objectID != relid || k.provider != provider || k.subID == 0 {
			continue
		}
		if out == nil {
			out = make(map[int]string)
		}
		out[k.subID] = v
	}
	return out, nil
}

// ObjectLabel implements Catalog.
func (m *Memory) ObjectLabel(_ context.Context, addr ObjectAddress, provider string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.labels[labelKey{class: addr.Class, objectID: addr.ObjectID, subID: addr.SubID, provider: provider}]
	return v, ok, nil
}

// LookupRole implements Catalog.
func (m *Memory) LookupRole(_ context.Context, name string) (OID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	oid, ok := m.roles[name]
	if !ok {
		return InvalidOID, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	return oid, nil
}

// SetLabel implements LabelWriter. It performs no validation.
func (m *Memory) SetLabel(_ context.Context, addr ObjectAddress, provider string, label *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := labelKey{class: addr.Class, objectID: addr.ObjectID, subID: addr.SubID, provider: provider}
	if label == nil {
		delete(m.labels, key)
		return nil
	}
	m.labels[key] = *label
	return nil
}

// Labels returns every stored label, ordered by object and column.
func (m *Memory) Labels() []Label {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Label, 0, len(m.labels))
	for k, v := range m.labels {
		out = append(out, Label{
			Object:   ObjectAddress{Class: k.class, ObjectID: k.objectID, SubID: k.subID},
			Provider: k.provider,
			Text:     v,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Object, out[j].Object
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		if a.ObjectID != b.ObjectID {
			return a.ObjectID < b.ObjectID
		}
		return a.SubID < b.SubID
	})
	return out
}

var (
	_ Catalog     = (*Memory)(nil)
	_ LabelWriter = (*Memory)(nil)
)
