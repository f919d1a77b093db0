// Package pgcatalog implements the catalog, label writer and type probe
// executor against a live PostgreSQL server.
//
// The catalog reads pg_class, pg_attribute, pg_inherits, pg_seclabel,
// pg_shseclabel and pg_roles directly. Any database/sql handle works; the
// pgx stdlib driver is what the CLI registers.
package pgcatalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pthm/veil/pkg/catalog"
)

// Querier executes queries against PostgreSQL.
// Implemented by *sql.DB, *sql.Tx, and *sql.Conn.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer extends Querier with ExecContext for label writes.
type Execer interface {
	Querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Catalog reads schema and label metadata from the system catalogs.
type Catalog struct {
	q Querier
}

// New creates a Catalog reading through q.
func New(q Querier) *Catalog {
	return &Catalog{q: q}
}

// Relation implements catalog.Catalog.
func (c *Catalog) Relation(ctx context.Context, relid catalog.OID) (*catalog.Relation, error) {
	rel := &catalog.Relation{OID: relid}
	var kind string
	err := c.q.QueryRowContext(ctx, `
		SELECT n.nspname, c.relname, c.relkind
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE c.oid = $1`, uint32(relid)).Scan(&rel.Namespace, &rel.Name, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: oid %d", catalog.ErrRelationNotFound, relid)
	}
	if err != nil {
		return nil, fmt.Errorf("reading relation %d: %w", relid, err)
	}
	if kind != "" {
		rel.Kind = catalog.RelKind(kind[0])
	}

	rows, err := c.q.QueryContext(ctx, `
		SELECT attname, atttypid, attisdropped, attgenerated <> ''
		FROM pg_catalog.pg_attribute
		WHERE attrelid = $1 AND attnum > 0
		ORDER BY attnum`, uint32(relid))
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", rel, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			col     catalog.Column
			typeOID uint32
		)
		if err := rows.Scan(&col.Name, &typeOID, &col.Dropped, &col.Generated); err != nil {
			return nil, fmt.Errorf("scanning column of %s: %w", rel, err)
		}
		col.TypeOID = catalog.OID(typeOID)
		rel.Columns = append(rel.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", rel, err)
	}
	return rel, nil
}

// LookupRelation implements catalog.Catalog. Unqualified names are tried
// against each schema of searchPath in turn.
func (c *Catalog) LookupRelation(ctx context.Context, schema, name string, searchPath []string) (*catalog.Relation, error) {
	schemas := searchPath
	if schema != "" {
		schemas = []string{schema}
	}
	for _, ns := range schemas {
		var relid uint32
		err := c.q.QueryRowContext(ctx, `
			SELECT c.oid
			FROM pg_catalog.pg_class c
			JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND c.relname = $2`, ns, name).Scan(&relid)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("looking up %s.%s: %w", ns, name, err)
		}
		return c.Relation(ctx, catalog.OID(relid))
	}
	if schema != "" {
		return nil, fmt.Errorf("%w: %s.%s", catalog.ErrRelationNotFound, schema, name)
	}
	return nil, fmt.Errorf("%w: %s", catalog.ErrRelationNotFound, name)
}

// Parents implements catalog.Catalog.
func (c *Catalog) Parents(ctx context.Context, relid catalog.OID) ([]catalog.OID, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT inhparent
		FROM pg_catalog.pg_inherits
		WHERE inhrelid = $1
		ORDER BY inhseqno`, uint32(relid))
	if err != nil {
		return nil, fmt.Errorf("reading parents of %d: %w", relid, err)
	}
	defer rows.Close()

	var out []catalog.OID
	for rows.Next() {
		var parent uint32
		if err := rows.Scan(&parent); err != nil {
			return nil, err
		}
		out = append(out, catalog.OID(parent))
	}
	return out, rows.Err()
}

// ColumnLabels implements catalog.Catalog.
func (c *Catalog) ColumnLabels(ctx context.Context, relid catalog.OID, provider string) (map[int]string, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT objsubid, label
		FROM pg_catalog.pg_seclabel
		WHERE classoid = 'pg_catalog.pg_class'::regclass
		  AND objoid = $1 AND provider = $2 AND objsubid > 0`, uint32(relid), provider)
	if err != nil {
		return nil, fmt.Errorf("reading labels of %d: %w", relid, err)
	}
	defer rows.Close()

	var out map[int]string
	for rows.Next() {
		var (
			ord   int
			label string
		)
		if err := rows.Scan(&ord, &label); err != nil {
			return nil, err
		}
		if out == nil {
			out = make(map[int]string)
		}
		out[ord] = label
	}
	return out, rows.Err()
}

// ObjectLabel implements catalog.Catalog. Role labels live in the shared
// pg_shseclabel catalog.
func (c *Catalog) ObjectLabel(ctx context.Context, addr catalog.ObjectAddress, provider string) (string, bool, error) {
	var row *sql.Row
	switch addr.Class {
	case catalog.ClassRelation:
		row = c.q.QueryRowContext(ctx, `
			SELECT label FROM pg_catalog.pg_seclabel
			WHERE classoid = 'pg_catalog.pg_class'::regclass
			  AND objoid = $1 AND objsubid = $2 AND provider = $3`,
			uint32(addr.ObjectID), addr.SubID, provider)
	case catalog.ClassRole:
		row = c.q.QueryRowContext(ctx, `
			SELECT label FROM pg_catalog.pg_shseclabel
			WHERE classoid = 'pg_catalog.pg_authid'::regclass
			  AND objoid = $1 AND provider = $2`,
			uint32(addr.ObjectID), provider)
	default:
		return "", false, nil
	}

	var label string
	err := row.Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s label of %d: %w", addr.Class, addr.ObjectID, err)
	}
	return label, true, nil
}

// LookupRole implements catalog.Catalog.
func (c *Catalog) LookupRole(ctx context.Context, name string) (catalog.OID, error) {
	var role uint32
	err := c.q.QueryRowContext(ctx, `SELECT oid FROM pg_catalog.pg_roles WHERE rolname = $1`, name).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.InvalidOID, fmt.Errorf("%w: %s", catalog.ErrRoleNotFound, name)
	}
	if err != nil {
		return catalog.InvalidOID, fmt.Errorf("looking up role %s: %w", name, err)
	}
	return catalog.OID(role), nil
}

// RoleName returns the name of role.
func (c *Catalog) RoleName(ctx context.Context, role catalog.OID) (string, error) {
	var name string
	err := c.q.QueryRowContext(ctx, `SELECT rolname FROM pg_catalog.pg_roles WHERE oid = $1`, uint32(role)).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: oid %d", catalog.ErrRoleNotFound, role)
	}
	return name, err
}

// Labels returns every label of provider on relations and roles.
func (c *Catalog) Labels(ctx context.Context, provider string) ([]catalog.Label, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT 1, objoid, objsubid, label
		FROM pg_catalog.pg_seclabel
		WHERE classoid = 'pg_catalog.pg_class'::regclass AND provider = $1
		UNION ALL
		SELECT 2, objoid, 0, label
		FROM pg_catalog.pg_shseclabel
		WHERE classoid = 'pg_catalog.pg_authid'::regclass AND provider = $1
		ORDER BY 1, 2, 3`, provider)
	if err != nil {
		return nil, fmt.Errorf("reading labels: %w", err)
	}
	defer rows.Close()

	var out []catalog.Label
	for rows.Next() {
		var (
			class  int
			objoid uint32
			l      = catalog.Label{Provider: provider}
		)
		if err := rows.Scan(&class, &objoid, &l.Object.SubID, &l.Text); err != nil {
			return nil, err
		}
		l.Object.ObjectID = catalog.OID(objoid)
		l.Object.Class = catalog.ClassRelation
		if class == 2 {
			l.Object.Class = catalog.ClassRole
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

var _ catalog.Catalog = (*Catalog)(nil)

// Setting returns the current value of a server setting.
func (c *Catalog) Setting(ctx context.Context, name string) (string, error) {
	var value string
	if err := c.q.QueryRowContext(ctx, `SELECT pg_catalog.current_setting($1)`, name).Scan(&value); err != nil {
		return "", fmt.Errorf("reading setting %s: %w", name, err)
	}
	return value, nil
}
