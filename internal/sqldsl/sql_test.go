package sqldsl

import (
	"testing"
)

func TestSelectStmt_SQL(t *testing.T) {
	tests := []struct {
		name string
		stmt SelectStmt
		want string
	}{
		{
			name: "no columns",
			stmt: SelectStmt{FromExpr: Table("public", "t")},
			want: `SELECT 1 FROM "public"."t"`,
		},
		{
			name: "only with alias",
			stmt: SelectStmt{
				ColumnExprs: []Expr{Ident("a"), Ident("b")},
				FromExpr:    TableRef{Schema: "s", Name: "t", Alias: "x", Only: true},
			},
			want: `SELECT "a", "b" FROM ONLY "s"."t" AS "x"`,
		},
		{
			name: "limit",
			stmt: SelectStmt{ColumnExprs: []Expr{Raw("1")}, Limit: 1},
			want: `SELECT 1 LIMIT 1`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stmt.SQL(); got != tt.want {
				t.Errorf("SelectStmt.SQL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMaskingSelect(t *testing.T) {
	got := MaskingSelect(TableRef{Schema: "public", Name: "customer", Only: true}, []MaskColumn{
		{Name: "id"},
		{Name: "email", Expression: "'redacted'"},
		{Name: `we"ird`},
	}).SQL()

	want := `SELECT "id", 'redacted' AS "email", "we""ird" FROM ONLY "public"."customer"`
	if got != want {
		t.Errorf("MaskingSelect() = %q, want %q", got, want)
	}
}

func TestProbes(t *testing.T) {
	from := Table("public", "customer")

	if got, want := ExpressionProbe(from, "email", "md5(email)").SQL(),
		`SELECT md5(email) AS "email" FROM "public"."customer"`; got != want {
		t.Errorf("ExpressionProbe() = %q, want %q", got, want)
	}
	if got, want := TypeProbe(from, "md5(email)").SQL(),
		`SELECT pg_typeof(md5(email))::oid FROM "public"."customer" LIMIT 1`; got != want {
		t.Errorf("TypeProbe() = %q, want %q", got, want)
	}
}

func TestLiteralsAndCalls(t *testing.T) {
	tests := []struct {
		expr Expr
		want string
	}{
		{Ident(`we"ird`), `"we""ird"`},
		{Func{Name: "coalesce", Args: []Expr{Ident("a"), Raw("''")}}, `coalesce("a", '')`},
		{Cast{Expr: Raw("'1'"), Type: "int"}, `'1'::int`},
		{Alias{Expr: Raw("NULL"), Name: "phone"}, `NULL AS "phone"`},
	}
	for _, tt := range tests {
		if got := tt.expr.SQL(); got != tt.want {
			t.Errorf("SQL() = %q, want %q", got, tt.want)
		}
	}
}
