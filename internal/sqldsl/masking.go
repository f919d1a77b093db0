package sqldsl

// MaskColumn is one column of a masking projection. An empty Expression
// projects the column unchanged.
type MaskColumn struct {
	Name       string
	Expression string
}

// SQL renders `expression AS "name"` or the bare quoted name.
func (c MaskColumn) SQL() string {
	if c.Expression == "" {
		return Ident(c.Name).SQL()
	}
	return Alias{Expr: Raw(c.Expression), Name: c.Name}.SQL()
}

// MaskingSelect builds the sub-query that replaces a masked relation.
func MaskingSelect(from TableRef, cols []MaskColumn) SelectStmt {
	exprs := make([]Expr, len(cols))
	for i, c := range cols {
		exprs[i] = c
	}
	return SelectStmt{ColumnExprs: exprs, FromExpr: from}
}

// ExpressionProbe builds `SELECT <expr> AS "column" FROM <rel>`, the text
// a label expression must parse as exactly one statement of.
func ExpressionProbe(from TableRef, column, expression string) SelectStmt {
	return SelectStmt{
		ColumnExprs: []Expr{Alias{Expr: Raw(expression), Name: column}},
		FromExpr:    from,
	}
}

// TypeProbe builds `SELECT pg_typeof(<expr>)::oid FROM <rel> LIMIT 1`.
func TypeProbe(from TableRef, expression string) SelectStmt {
	return SelectStmt{
		ColumnExprs: []Expr{Cast{Expr: Func{Name: "pg_typeof", Args: []Expr{Raw(expression)}}, Type: "oid"}},
		FromExpr:    from,
		Limit:       1,
	}
}
