// Package sqldsl provides typed building blocks for the SQL text the masking
// engine generates: masking projections over a relation and the type probes
// run while validating a label.
//
// # Core Interfaces
//
// All DSL types implement one of two interfaces:
//
//   - Expr: a SQL expression (identifiers, function calls, casts, aliases)
//   - TableExpr: something that can appear in a FROM clause
//
// Both render PostgreSQL syntax through a SQL()/TableSQL() method.
//
// # Expression Types
//
//	Ident("email")                        // "email"
//	Raw("md5(email)")                     // md5(email), emitted verbatim
//	Alias{Expr: Raw("md5(email)"), Name: "email"}   // md5(email) AS "email"
//	Func{Name: "pg_typeof", Args: ...}    // pg_typeof(...)
//	Cast{Expr: e, Type: "oid"}            // e::oid
//
// Masking expressions are user-supplied SQL and always enter the DSL as Raw.
// Identifiers are always quoted with pq.QuoteIdentifier.
//
// # Statements
//
//	SelectStmt{
//	    ColumnExprs: []Expr{Ident("id"), Alias{Expr: Raw("'x'"), Name: "email"}},
//	    FromExpr:    TableRef{Schema: "public", Name: "customer", Only: true},
//	}.SQL()
//	// SELECT "id", 'x' AS "email" FROM ONLY "public"."customer"
package sqldsl
