package querytree

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// UtilityStmt is a statement that bypasses analysis (COPY, SECURITY LABEL,
// DDL) as the utility interceptors see it.
type UtilityStmt struct {
	// Node is the raw parse tree of the statement.
	Node *pg_query.Node

	// Text is the full source string the statement was parsed from. It may
	// contain other statements.
	Text string

	// Location and Length give the byte range of this statement within
	// Text. A zero Length means the statement runs to the end of Text.
	Location int
	Length   int

	// ReadOnlyTree is set when the host may reuse Node (for instance from a
	// cached plan). Interceptors must clone it before mutating.
	ReadOnlyTree bool
}

// StatementText returns the slice of Text covered by Location and Length.
func (u *UtilityStmt) StatementText() string {
	start := u.Location
	if start < 0 || start > len(u.Text) {
		start = 0
	}
	end := len(u.Text)
	if u.Length > 0 && start+u.Length <= len(u.Text) {
		end = start + u.Length
	}
	return u.Text[start:end]
}
