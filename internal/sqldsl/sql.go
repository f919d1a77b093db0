package sqldsl

import (
	"fmt"
	"strings"
)

// SelectStmt represents a SELECT query. It renders on a single line so the
// text can be embedded in error messages and COPY statements unchanged.
type SelectStmt struct {
	ColumnExprs []Expr
	FromExpr    TableExpr
	Limit       int
}

// SQL renders the SELECT statement.
func (s SelectStmt) SQL() string {
	clauses := []string{
		"SELECT " + s.columnsSQL(),
		s.fromSQL(),
		s.limitSQL(),
	}
	return joinNonEmpty(clauses, " ")
}

func (s SelectStmt) columnsSQL() string {
	if len(s.ColumnExprs) == 0 {
		return "1"
	}
	parts := make([]string, len(s.ColumnExprs))
	for i, e := range s.ColumnExprs {
		parts[i] = e.SQL()
	}
	return strings.Join(parts, ", ")
}

func (s SelectStmt) fromSQL() string {
	if s.FromExpr == nil {
		return ""
	}
	return "FROM " + s.FromExpr.TableSQL()
}

func (s SelectStmt) limitSQL() string {
	if s.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf("LIMIT %d", s.Limit)
}

func joinNonEmpty(parts []string, sep string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
