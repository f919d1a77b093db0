// Package rewrite substitutes masked base relations in an analyzed query
// tree with sub-queries that project each column through its masking
// expression.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/pthm/veil"
	"github.com/pthm/veil/internal/telemetry"
	"github.com/pthm/veil/pkg/catalog"
	"github.com/pthm/veil/pkg/policy"
	"github.com/pthm/veil/pkg/querytree"
	"github.com/pthm/veil/pkg/session"
)

// Parser splits SQL text into raw statements.
type Parser interface {
	Parse(sql string) (*pg_query.ParseResult, error)
}

// Analyzer turns a raw statement into a query tree.
type Analyzer interface {
	Analyze(ctx context.Context, sess *session.State, raw *pg_query.RawStmt, sql string) (*querytree.Query, error)
}

// PolicyResolver returns the masking policy of a relation, nil when there
// is nothing to mask.
type PolicyResolver interface {
	Resolve(ctx context.Context, relid catalog.OID) (*policy.Policy, error)
}

// Rewriter replaces masked relations with masking sub-queries. It keeps no
// state between calls and is safe to share between sessions.
type Rewriter struct {
	resolver PolicyResolver
	parser   Parser
	analyzer Analyzer
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Rewriter) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Rewriter) { r.metrics = m }
}

// New creates a Rewriter.
func New(resolver PolicyResolver, parser Parser, analyzer Analyzer, opts ...Option) *Rewriter {
	r := &Rewriter{resolver: resolver, parser: parser, analyzer: analyzer, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Rewrite masks every base relation reachable from q, in place. Queries the
// rewriter synthesized itself are skipped, so rewriting a tree twice has
// the same effect as rewriting it once. A statement whose write target has
// a masking policy fails with ErrMaskedResultRelation.
//
// On error the relation being processed is left untouched; relations
// already substituted stay substituted, each one complete.
func (r *Rewriter) Rewrite(ctx context.Context, sess *session.State, q *querytree.Query) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "veil.rewrite")
	defer func() { telemetry.EndSpan(span, err) }()

	return r.walk(ctx, sess, q, make(map[*querytree.Query]bool))
}

func (r *Rewriter) walk(ctx context.Context, sess *session.State, q *querytree.Query, visited map[*querytree.Query]bool) error {
	if q == nil || visited[q] || q.Origin == querytree.OriginMasking {
		return nil
	}
	visited[q] = true

	for i, rte := range q.RTable {
		if rte.Kind != querytree.RTERelation {
			continue
		}
		if i+1 == q.ResultRelation {
			if err := r.checkResultRelation(ctx, rte); err != nil {
				return err
			}
			continue
		}
		if err := r.maskEntry(ctx, sess, rte); err != nil {
			return err
		}
	}
	for _, child := range q.Children() {
		if err := r.walk(ctx, sess, child, visited); err != nil {
			return err
		}
	}
	return nil
}

// ErrMaskedResultRelation rejects a statement that writes to a masked
// relation. The entry cannot be replaced by a sub-query, and leaving it
// alone would expose raw values through RETURNING and WHERE.
var ErrMaskedResultRelation = errors.New("cannot modify a masked relation")

func (r *Rewriter) checkResultRelation(ctx context.Context, rte *querytree.RangeTblEntry) error {
	p, err := r.resolver.Resolve(ctx, rte.RelID)
	if err != nil || p == nil {
		return err
	}
	r.logger.Debug("rejected write to masked relation", "relation", p.Relation.String())
	return &veil.RewriteFailure{
		Relation:    p.Relation.String(),
		Expressions: p.Expressions(),
		Err:         ErrMaskedResultRelation,
	}
}

func (r *Rewriter) maskEntry(ctx context.Context, sess *session.State, rte *querytree.RangeTblEntry) error {
	m, err := r.Synthesize(ctx, rte.RelID, Target{Only: !rte.Inh})
	if err != nil || m == nil {
		return err
	}
	sub, err := r.analyzeMasking(ctx, sess, m)
	if err != nil {
		return err
	}

	rte.Kind = querytree.RTESubquery
	rte.Subquery = sub
	rte.SecurityBarrier = false
	rte.Masked = &querytree.MaskedRelation{
		RelID:    m.Relation.OID,
		Relation: m.Relation.String(),
		Columns:  m.Policy.Ordinals(),
	}
	clearRelationFields(rte)

	r.metrics.RecordMaskedRelation()
	r.logger.Debug("masked relation",
		"relation", m.Relation.String(),
		"columns", m.Policy.Ordinals(),
		"sql", m.SQL,
	)
	return nil
}

// clearRelationFields resets everything that only has meaning on a base
// relation entry. The substituted sub-query carries its own permission
// checks and locks.
func clearRelationFields(rte *querytree.RangeTblEntry) {
	rte.RelID = catalog.InvalidOID
	rte.RelKind = 0
	rte.RelName = ""
	rte.LockMode = querytree.NoLock
	rte.TableSample = nil
	rte.Inh = false
	rte.RequiredPerms = 0
	rte.CheckAsUser = catalog.InvalidOID
	rte.SelectedCols = nil
	rte.InsertedCols = nil
	rte.UpdatedCols = nil
}

// analyzeMasking parses and analyzes the masking query of m. Interception
// is suppressed while the analyzer runs so the generated query is not
// rewritten again.
func (r *Rewriter) analyzeMasking(ctx context.Context, sess *session.State, m *Masking) (*querytree.Query, error) {
	res, err := r.parser.Parse(m.SQL)
	if err != nil {
		return nil, m.Failure(err)
	}
	if n := len(res.GetStmts()); n != 1 {
		return nil, m.Failure(fmt.Errorf("masking query parsed into %d statements", n))
	}

	release := sess.Suppress()
	defer release()

	sub, err := r.analyzer.Analyze(ctx, sess, res.GetStmts()[0], m.SQL)
	if err != nil {
		return nil, m.Failure(err)
	}
	sub.Origin = querytree.OriginMasking
	return sub, nil
}

// Failure wraps err with the context of this masking query.
func (m *Masking) Failure(err error) *veil.RewriteFailure {
	return &veil.RewriteFailure{
		Relation:    m.Relation.String(),
		Expressions: m.Policy.Expressions(),
		SQL:         m.SQL,
		Err:         err,
	}
}
