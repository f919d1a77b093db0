// Package pgsql adapts the PostgreSQL parser (pg_query) to the engine: raw
// parsing, analysis of raw statements into querytree.Query values resolved
// against a Catalog, and deparsing of rewritten utility statements.
package pgsql

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Parser parses SQL text with the PostgreSQL grammar.
type Parser struct{}

// Parse returns the raw statements of sql.
func (Parser) Parse(sql string) (*pg_query.ParseResult, error) {
	res, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parsing query: %w", err)
	}
	return res, nil
}

// ParseOne parses sql and requires exactly one statement.
func ParseOne(sql string) (*pg_query.RawStmt, error) {
	res, err := Parser{}.Parse(sql)
	if err != nil {
		return nil, err
	}
	if n := len(res.GetStmts()); n != 1 {
		return nil, fmt.Errorf("expected exactly one statement, got %d", n)
	}
	return res.GetStmts()[0], nil
}

// StatementText returns the source text of raw within sql, without
// surrounding whitespace.
func StatementText(raw *pg_query.RawStmt, sql string) string {
	start := int(raw.GetStmtLocation())
	if start < 0 || start > len(sql) {
		start = 0
	}
	end := len(sql)
	if n := int(raw.GetStmtLen()); n > 0 && start+n <= len(sql) {
		end = start + n
	}
	return strings.TrimSpace(sql[start:end])
}

// Deparse renders a single statement node back to SQL text.
func Deparse(stmt *pg_query.Node) (string, error) {
	out, err := pg_query.Deparse(&pg_query.ParseResult{
		Stmts: []*pg_query.RawStmt{{Stmt: stmt}},
	})
	if err != nil {
		return "", fmt.Errorf("deparsing statement: %w", err)
	}
	return out, nil
}

// IsUtility reports whether stmt bypasses analysis and is handled by the
// utility interceptors instead.
func IsUtility(stmt *pg_query.Node) bool {
	switch stmt.GetNode().(type) {
	case *pg_query.Node_SelectStmt, *pg_query.Node_InsertStmt, *pg_query.Node_UpdateStmt,
		*pg_query.Node_DeleteStmt, *pg_query.Node_MergeStmt:
		return false
	}
	return true
}
