package querytree

import (
	"fmt"
	"strings"
)

// Format renders q as an indented outline, one range table entry per line.
// Nested queries are printed below the entry or clause that owns them.
func Format(q *Query) string {
	var b strings.Builder
	formatQuery(&b, q, 0, make(map[*Query]bool))
	return b.String()
}

func formatQuery(b *strings.Builder, q *Query, depth int, seen map[*Query]bool) {
	indent := strings.Repeat("  ", depth)
	if q == nil {
		fmt.Fprintf(b, "%s<nil>\n", indent)
		return
	}
	if seen[q] {
		fmt.Fprintf(b, "%s<cycle>\n", indent)
		return
	}
	seen[q] = true

	fmt.Fprintf(b, "%s%s", indent, q.CommandType)
	if q.Origin == OriginMasking {
		b.WriteString(" (masking)")
	}
	if q.ResultRelation > 0 {
		fmt.Fprintf(b, " result=%d", q.ResultRelation)
	}
	b.WriteByte('\n')
	if q.Origin == OriginMasking && q.Text != "" {
		fmt.Fprintf(b, "%s  sql: %s\n", indent, q.Text)
	}

	for _, cte := range q.CTEs {
		fmt.Fprintf(b, "%s  with %s\n", indent, cte.Name)
		formatQuery(b, cte.Query, depth+2, seen)
	}
	for i, rte := range q.RTable {
		fmt.Fprintf(b, "%s  %d: %s\n", indent, i+1, formatRTE(rte))
		if rte.Kind == RTESubquery && rte.Subquery != nil {
			formatQuery(b, rte.Subquery, depth+2, seen)
		}
	}
	for _, sub := range q.SubLinks {
		fmt.Fprintf(b, "%s  sublink\n", indent)
		formatQuery(b, sub, depth+2, seen)
	}
}

func formatRTE(rte *RangeTblEntry) string {
	var parts []string
	parts = append(parts, rte.Kind.String())
	switch rte.Kind {
	case RTERelation:
		name := rte.RelName
		if rte.Inh {
			parts = append(parts, name)
		} else {
			parts = append(parts, "only "+name)
		}
		if rte.TableSample != nil {
			parts = append(parts, "tablesample "+rte.TableSample.Method)
		}
	case RTECTE:
		parts = append(parts, rte.CTEName)
	case RTEFunction:
		parts = append(parts, rte.FuncName)
	}
	if rte.Masked != nil {
		parts = append(parts, fmt.Sprintf("masks %s%v", rte.Masked.Relation, rte.Masked.Columns))
	}
	if rte.Eref != "" {
		parts = append(parts, "as "+rte.Eref)
	}
	if rte.Lateral {
		parts = append(parts, "lateral")
	}
	return strings.Join(parts, " ")
}
