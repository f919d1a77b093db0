package pgsql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/pthm/veil/pkg/catalog"
	"github.com/pthm/veil/pkg/querytree"
	"github.com/pthm/veil/pkg/session"
)

// ErrUtilityStatement is returned when a statement that bypasses analysis
// is handed to the Analyzer.
var ErrUtilityStatement = errors.New("pgsql: utility statements are not analyzed")

// PostAnalyzeFunc is called with every top-level query the Analyzer
// produces, mirroring the host's post-analysis hook.
type PostAnalyzeFunc func(ctx context.Context, sess *session.State, q *querytree.Query) error

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithPostAnalyze registers fn to run after every analysis, in registration
// order.
func WithPostAnalyze(fn PostAnalyzeFunc) AnalyzerOption {
	return func(a *Analyzer) { a.post = append(a.post, fn) }
}

// Analyzer turns raw statements into query trees. Relation names are
// resolved through the Catalog using the session search path. Expressions
// are only inspected for nested sub-queries; column references are not
// checked.
type Analyzer struct {
	cat  catalog.Catalog
	post []PostAnalyzeFunc
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(cat catalog.Catalog, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{cat: cat}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze analyzes raw, whose text lies within sql, then runs the
// post-analysis hooks on the result.
func (a *Analyzer) Analyze(ctx context.Context, sess *session.State, raw *pg_query.RawStmt, sql string) (*querytree.Query, error) {
	if IsUtility(raw.GetStmt()) {
		return nil, ErrUtilityStatement
	}
	b := &builder{cat: a.cat, searchPath: sess.SearchPath()}
	q, err := b.statement(ctx, raw.GetStmt(), nil)
	if err != nil {
		return nil, err
	}
	q.Text = StatementText(raw, sql)

	for _, fn := range a.post {
		if err := fn(ctx, sess, q); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// ParseAnalyze parses sql, which must hold a single statement, and analyzes
// it.
func (a *Analyzer) ParseAnalyze(ctx context.Context, sess *session.State, sql string) (*querytree.Query, error) {
	raw, err := ParseOne(sql)
	if err != nil {
		return nil, err
	}
	return a.Analyze(ctx, sess, raw, sql)
}

// scope is the set of CTE names visible to a query.
type scope struct {
	ctes   map[string]bool
	parent *scope
}

func (s *scope) hasCTE(name string) bool {
	for ; s != nil; s = s.parent {
		if s.ctes[name] {
			return true
		}
	}
	return false
}

type builder struct {
	cat        catalog.Catalog
	searchPath []string
}

func (b *builder) statement(ctx context.Context, node *pg_query.Node, outer *scope) (*querytree.Query, error) {
	switch n := node.GetNode().(type) {
	case *pg_query.Node_SelectStmt:
		return b.selectStmt(ctx, n.SelectStmt, outer)
	case *pg_query.Node_InsertStmt:
		return b.insertStmt(ctx, n.InsertStmt, outer)
	case *pg_query.Node_UpdateStmt:
		return b.updateStmt(ctx, n.UpdateStmt, outer)
	case *pg_query.Node_DeleteStmt:
		return b.deleteStmt(ctx, n.DeleteStmt, outer)
	case *pg_query.Node_MergeStmt:
		return b.mergeStmt(ctx, n.MergeStmt, outer)
	case nil:
		return nil, errors.New("pgsql: empty statement")
	default:
		return nil, ErrUtilityStatement
	}
}

// with analyzes a WITH clause into q and returns the scope its names are
// visible in.
func (b *builder) with(ctx context.Context, q *querytree.Query, w *pg_query.WithClause, outer *scope) (*scope, error) {
	if w == nil {
		return outer, nil
	}
	sc := &scope{ctes: make(map[string]bool), parent: outer}
	for _, n := range w.GetCtes() {
		cte := n.GetCommonTableExpr()
		if cte == nil {
			continue
		}
		// a recursive CTE may reference itself, others only their predecessors
		if w.GetRecursive() {
			sc.ctes[cte.GetCtename()] = true
		}
		sub, err := b.statement(ctx, cte.GetCtequery(), sc)
		if err != nil {
			return nil, fmt.Errorf("in WITH %s: %w", cte.GetCtename(), err)
		}
		sc.ctes[cte.GetCtename()] = true
		q.CTEs = append(q.CTEs, &querytree.CommonTableExpr{
			Name:      cte.GetCtename(),
			Recursive: w.GetRecursive(),
			Query:     sub,
		})
	}
	return sc, nil
}

func (b *builder) selectStmt(ctx context.Context, s *pg_query.SelectStmt, outer *scope) (*querytree.Query, error) {
	q := &querytree.Query{CommandType: querytree.CmdSelect}
	sc, err := b.with(ctx, q, s.GetWithClause(), outer)
	if err != nil {
		return nil, err
	}

	if s.GetLarg() != nil && s.GetRarg() != nil {
		for _, arm := range []*pg_query.SelectStmt{s.GetLarg(), s.GetRarg()} {
			sub, err := b.selectStmt(ctx, arm, sc)
			if err != nil {
				return nil, err
			}
			q.RTable = append(q.RTable, &querytree.RangeTblEntry{
				Kind:     querytree.RTESubquery,
				Eref:     "*SELECT*",
				Subquery: sub,
			})
		}
		return q, b.subLinks(ctx, q, sc, s.GetSortClause(), s.GetLimitCount(), s.GetLimitOffset())
	}

	if len(s.GetValuesLists()) > 0 {
		q.RTable = append(q.RTable, &querytree.RangeTblEntry{Kind: querytree.RTEValues, Eref: "*VALUES*"})
		return q, b.subLinks(ctx, q, sc, s.GetValuesLists())
	}

	lock := querytree.AccessShareLock
	if len(s.GetLockingClause()) > 0 {
		lock = querytree.RowShareLock
	}
	for _, item := range s.GetFromClause() {
		if err := b.fromItem(ctx, q, item, sc, lock); err != nil {
			return nil, err
		}
	}
	return q, b.subLinks(ctx, q, sc,
		s.GetTargetList(), s.GetWhereClause(), s.GetGroupClause(), s.GetHavingClause(),
		s.GetSortClause(), s.GetLimitCount(), s.GetLimitOffset(), s.GetDistinctClause(),
		s.GetWindowClause(),
	)
}

func (b *builder) insertStmt(ctx context.Context, s *pg_query.InsertStmt, outer *scope) (*querytree.Query, error) {
	q := &querytree.Query{CommandType: querytree.CmdInsert}
	sc, err := b.with(ctx, q, s.GetWithClause(), outer)
	if err != nil {
		return nil, err
	}
	target, err := b.relation(ctx, s.GetRelation(), querytree.RowExclusiveLock)
	if err != nil {
		return nil, err
	}
	target.Inh = false
	target.RequiredPerms = querytree.ACLInsert
	target.InsertedCols = target.SelectedCols
	target.SelectedCols = nil
	q.RTable = append(q.RTable, target)
	q.ResultRelation = len(q.RTable)

	if src := s.GetSelectStmt().GetSelectStmt(); src != nil {
		if len(src.GetValuesLists()) == 1 && src.GetWithClause() == nil {
			// single VALUES row: expressions go straight into the target list
			if err := b.subLinks(ctx, q, sc, src.GetValuesLists()); err != nil {
				return nil, err
			}
		} else {
			sub, err := b.selectStmt(ctx, src, sc)
			if err != nil {
				return nil, err
			}
			q.RTable = append(q.RTable, &querytree.RangeTblEntry{
				Kind:     querytree.RTESubquery,
				Eref:     "*SELECT*",
				Subquery: sub,
			})
		}
	}
	return q, b.subLinks(ctx, q, sc, s.GetOnConflictClause(), s.GetReturningList())
}

func (b *builder) updateStmt(ctx context.Context, s *pg_query.UpdateStmt, outer *scope) (*querytree.Query, error) {
	q := &querytree.Query{CommandType: querytree.CmdUpdate}
	sc, err := b.with(ctx, q, s.GetWithClause(), outer)
	if err != nil {
		return nil, err
	}
	target, err := b.relation(ctx, s.GetRelation(), querytree.RowExclusiveLock)
	if err != nil {
		return nil, err
	}
	target.RequiredPerms = querytree.ACLUpdate | querytree.ACLSelect
	target.UpdatedCols = target.SelectedCols
	q.RTable = append(q.RTable, target)
	q.ResultRelation = len(q.RTable)

	for _, item := range s.GetFromClause() {
		if err := b.fromItem(ctx, q, item, sc, querytree.AccessShareLock); err != nil {
			return nil, err
		}
	}
	return q, b.subLinks(ctx, q, sc, s.GetTargetList(), s.GetWhereClause(), s.GetReturningList())
}

func (b *builder) deleteStmt(ctx context.Context, s *pg_query.DeleteStmt, outer *scope) (*querytree.Query, error) {
	q := &querytree.Query{CommandType: querytree.CmdDelete}
	sc, err := b.with(ctx, q, s.GetWithClause(), outer)
	if err != nil {
		return nil, err
	}
	target, err := b.relation(ctx, s.GetRelation(), querytree.RowExclusiveLock)
	if err != nil {
		return nil, err
	}
	target.RequiredPerms = querytree.ACLDelete | querytree.ACLSelect
	q.RTable = append(q.RTable, target)
	q.ResultRelation = len(q.RTable)

	for _, item := range s.GetUsingClause() {
		if err := b.fromItem(ctx, q, item, sc, querytree.AccessShareLock); err != nil {
			return nil, err
		}
	}
	return q, b.subLinks(ctx, q, sc, s.GetWhereClause(), s.GetReturningList())
}

func (b *builder) mergeStmt(ctx context.Context, s *pg_query.MergeStmt, outer *scope) (*querytree.Query, error) {
	q := &querytree.Query{CommandType: querytree.CmdMerge}
	sc, err := b.with(ctx, q, s.GetWithClause(), outer)
	if err != nil {
		return nil, err
	}
	target, err := b.relation(ctx, s.GetRelation(), querytree.RowExclusiveLock)
	if err != nil {
		return nil, err
	}
	target.RequiredPerms = querytree.ACLSelect | querytree.ACLInsert | querytree.ACLUpdate | querytree.ACLDelete
	q.RTable = append(q.RTable, target)
	q.ResultRelation = len(q.RTable)

	if err := b.fromItem(ctx, q, s.GetSourceRelation(), sc, querytree.AccessShareLock); err != nil {
		return nil, err
	}
	return q, b.subLinks(ctx, q, sc, s.GetJoinCondition(), s.GetMergeWhenClauses())
}

// fromItem appends the range table entries of one FROM-list item.
func (b *builder) fromItem(ctx context.Context, q *querytree.Query, item *pg_query.Node, sc *scope, lock querytree.LockMode) error {
	switch n := item.GetNode().(type) {
	case *pg_query.Node_RangeVar:
		rv := n.RangeVar
		if rv.GetSchemaname() == "" && sc.hasCTE(rv.GetRelname()) {
			q.RTable = append(q.RTable, &querytree.RangeTblEntry{
				Kind:    querytree.RTECTE,
				CTEName: rv.GetRelname(),
				Alias:   rv.GetAlias().GetAliasname(),
				Eref:    aliasOr(rv.GetAlias(), rv.GetRelname()),
			})
			return nil
		}
		rte, err := b.relation(ctx, rv, lock)
		if err != nil {
			return err
		}
		q.RTable = append(q.RTable, rte)

	case *pg_query.Node_RangeTableSample:
		ts := n.RangeTableSample
		if err := b.fromItem(ctx, q, ts.GetRelation(), sc, lock); err != nil {
			return err
		}
		rte := q.RTable[len(q.RTable)-1]
		if rte.Kind != querytree.RTERelation {
			return errors.New("pgsql: TABLESAMPLE clause can only be applied to tables")
		}
		sample := &querytree.TableSample{Method: nameList(ts.GetMethod())}
		for _, arg := range ts.GetArgs() {
			text, err := deparseExpr(arg)
			if err != nil {
				return err
			}
			sample.Args = append(sample.Args, text)
		}
		if ts.GetRepeatable() != nil {
			text, err := deparseExpr(ts.GetRepeatable())
			if err != nil {
				return err
			}
			sample.Repeatable = text
		}
		rte.TableSample = sample

	case *pg_query.Node_RangeSubselect:
		rs := n.RangeSubselect
		sub, err := b.statement(ctx, rs.GetSubquery(), sc)
		if err != nil {
			return err
		}
		q.RTable = append(q.RTable, &querytree.RangeTblEntry{
			Kind:     querytree.RTESubquery,
			Subquery: sub,
			Lateral:  rs.GetLateral(),
			Alias:    rs.GetAlias().GetAliasname(),
			Eref:     aliasOr(rs.GetAlias(), "unnamed_subquery"),
		})

	case *pg_query.Node_RangeFunction:
		rf := n.RangeFunction
		var names []string
		for _, f := range rf.GetFunctions() {
			items := f.GetList().GetItems()
			if len(items) == 0 {
				continue
			}
			if fc := items[0].GetFuncCall(); fc != nil {
				names = append(names, nameList(fc.GetFuncname()))
			}
		}
		name := strings.Join(names, ", ")
		q.RTable = append(q.RTable, &querytree.RangeTblEntry{
			Kind:     querytree.RTEFunction,
			FuncName: name,
			Lateral:  rf.GetLateral(),
			Alias:    rf.GetAlias().GetAliasname(),
			Eref:     aliasOr(rf.GetAlias(), lastName(names)),
		})
		return b.subLinks(ctx, q, sc, rf.GetFunctions())

	case *pg_query.Node_JoinExpr:
		j := n.JoinExpr
		if err := b.fromItem(ctx, q, j.GetLarg(), sc, lock); err != nil {
			return err
		}
		if err := b.fromItem(ctx, q, j.GetRarg(), sc, lock); err != nil {
			return err
		}
		q.RTable = append(q.RTable, &querytree.RangeTblEntry{
			Kind:  querytree.RTEJoin,
			Alias: j.GetAlias().GetAliasname(),
			Eref:  aliasOr(j.GetAlias(), "unnamed_join"),
		})
		return b.subLinks(ctx, q, sc, j.GetQuals())

	default:
		return fmt.Errorf("pgsql: unsupported FROM item %T", n)
	}
	return nil
}

// relation resolves rv to a base relation entry.
func (b *builder) relation(ctx context.Context, rv *pg_query.RangeVar, lock querytree.LockMode) (*querytree.RangeTblEntry, error) {
	if rv == nil {
		return nil, errors.New("pgsql: missing relation")
	}
	rel, err := b.cat.LookupRelation(ctx, rv.GetSchemaname(), rv.GetRelname(), b.searchPath)
	if err != nil {
		return nil, err
	}
	rte := &querytree.RangeTblEntry{
		Kind:          querytree.RTERelation,
		RelID:         rel.OID,
		RelKind:       rel.Kind,
		RelName:       rel.String(),
		LockMode:      lock,
		Inh:           rv.GetInh(),
		RequiredPerms: querytree.ACLSelect,
		Alias:         rv.GetAlias().GetAliasname(),
		Eref:          aliasOr(rv.GetAlias(), rel.Name),
	}
	// Column usage is not tracked per reference; every live column counts
	// as selected.
	for i, c := range rel.Columns {
		if !c.Dropped {
			rte.SelectedCols = rte.SelectedCols.Add(i + 1)
		}
	}
	return rte, nil
}

func aliasOr(a *pg_query.Alias, fallback string) string {
	if name := a.GetAliasname(); name != "" {
		return name
	}
	return fallback
}

func nameList(nodes []*pg_query.Node) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if s := n.GetString_(); s != nil {
			parts = append(parts, s.GetSval())
		}
	}
	return strings.Join(parts, ".")
}

func lastName(names []string) string {
	if len(names) == 0 {
		return "unnamed_function"
	}
	parts := strings.Split(names[len(names)-1], ".")
	return parts[len(parts)-1]
}
