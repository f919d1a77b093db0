package sqldsl

import "github.com/lib/pq"

// TableExpr is the interface for table expressions in FROM clauses.
type TableExpr interface {
	// TableSQL returns the SQL for use in a FROM clause.
	TableSQL() string
	// TableAlias returns the alias if any (empty string if none).
	TableAlias() string
}

// TableRef is a schema-qualified relation reference.
type TableRef struct {
	Schema string
	Name   string
	Alias  string
	// Only excludes inheritance children and partitions.
	Only bool
}

// TableSQL implements TableExpr.
func (t TableRef) TableSQL() string {
	s := pq.QuoteIdentifier(t.Name)
	if t.Schema != "" {
		s = pq.QuoteIdentifier(t.Schema) + "." + s
	}
	if t.Only {
		s = "ONLY " + s
	}
	if t.Alias != "" {
		s += " AS " + pq.QuoteIdentifier(t.Alias)
	}
	return s
}

// TableAlias implements TableExpr.
func (t TableRef) TableAlias() string {
	return t.Alias
}

// Table creates a schema-qualified table reference.
func Table(schema, name string) TableRef {
	return TableRef{Schema: schema, Name: name}
}
