package pgcatalog

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/pthm/veil/pkg/catalog"
)

// LabelWriter stores labels with SECURITY LABEL statements. The server must
// have a label provider registered under the provider name.
type LabelWriter struct {
	cat *Catalog
	db  Execer
}

// NewLabelWriter creates a LabelWriter executing through db.
func NewLabelWriter(db Execer) *LabelWriter {
	return &LabelWriter{cat: New(db), db: db}
}

// SetLabel implements catalog.LabelWriter.
func (w *LabelWriter) SetLabel(ctx context.Context, addr catalog.ObjectAddress, provider string, label *string) error {
	stmt, err := w.Statement(ctx, addr, provider, label)
	if err != nil {
		return err
	}
	if _, err := w.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", stmt, err)
	}
	return nil
}

// Statement renders the SECURITY LABEL statement SetLabel executes.
func (w *LabelWriter) Statement(ctx context.Context, addr catalog.ObjectAddress, provider string, label *string) (string, error) {
	var object string
	switch addr.Class {
	case catalog.ClassRelation:
		rel, err := w.cat.Relation(ctx, addr.ObjectID)
		if err != nil {
			return "", err
		}
		object = "TABLE " + rel.QualifiedName()
		if addr.SubID > 0 {
			col, ok := rel.Column(addr.SubID)
			if !ok || col.Dropped {
				return "", fmt.Errorf("%w: column %d of relation %s", catalog.ErrColumnNotFound, addr.SubID, rel)
			}
			object = "COLUMN " + rel.QualifiedName() + "." + pq.QuoteIdentifier(col.Name)
		}
	case catalog.ClassRole:
		name, err := w.cat.RoleName(ctx, addr.ObjectID)
		if err != nil {
			return "", err
		}
		object = "ROLE " + pq.QuoteIdentifier(name)
	default:
		return "", fmt.Errorf("cannot write labels on %s objects", addr.Class)
	}

	value := "NULL"
	if label != nil {
		value = pq.QuoteLiteral(*label)
	}
	return fmt.Sprintf("SECURITY LABEL FOR %s ON %s IS %s", pq.QuoteIdentifier(provider), object, value), nil
}

var _ catalog.LabelWriter = (*LabelWriter)(nil)
