package rewrite

import (
	"context"
	"fmt"

	"github.com/pthm/veil/internal/sqldsl"
	"github.com/pthm/veil/pkg/catalog"
	"github.com/pthm/veil/pkg/policy"
)

// Target describes the context a masking query is generated for.
type Target struct {
	// Only emits FROM ONLY so inheritance children and partitions are not
	// pulled in.
	Only bool

	// Export omits generated columns, which COPY TO never emits.
	Export bool

	// Columns restricts and orders the projection, as a COPY column list
	// does. Empty means every column in ordinal order.
	Columns []string
}

// Masking is a synthesized masking query.
type Masking struct {
	Relation *catalog.Relation
	Policy   *policy.Policy
	SQL      string
}

// Synthesize builds the masking query of relid, or returns nil when the
// relation has no masking policy.
func (r *Rewriter) Synthesize(ctx context.Context, relid catalog.OID, t Target) (*Masking, error) {
	p, err := r.resolver.Resolve(ctx, relid)
	if err != nil || p == nil {
		return nil, err
	}
	rel := p.Relation

	ordinals, err := projection(rel, t)
	if err != nil {
		return nil, err
	}
	cols := make([]sqldsl.MaskColumn, 0, len(ordinals))
	for _, ord := range ordinals {
		col, _ := rel.Column(ord)
		expr, _ := p.Expression(ord)
		cols = append(cols, sqldsl.MaskColumn{Name: col.Name, Expression: expr})
	}
	from := sqldsl.TableRef{Schema: rel.Namespace, Name: rel.Name, Only: t.Only}

	return &Masking{
		Relation: rel,
		Policy:   p,
		SQL:      sqldsl.MaskingSelect(from, cols).SQL(),
	}, nil
}

// projection returns the ordinals to project, in output order.
func projection(rel *catalog.Relation, t Target) ([]int, error) {
	if len(t.Columns) > 0 {
		out := make([]int, 0, len(t.Columns))
		for _, name := range t.Columns {
			ord, ok := rel.Ordinal(name)
			if !ok {
				return nil, fmt.Errorf("%w: column %q of relation %s", catalog.ErrColumnNotFound, name, rel)
			}
			col, _ := rel.Column(ord)
			if t.Export && col.Generated {
				return nil, fmt.Errorf("column %q is a generated column and cannot be exported", name)
			}
			out = append(out, ord)
		}
		return out, nil
	}

	out := make([]int, 0, len(rel.Columns))
	for i, col := range rel.Columns {
		if col.Dropped || (t.Export && col.Generated) {
			continue
		}
		out = append(out, i+1)
	}
	return out, nil
}
