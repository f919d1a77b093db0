package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"

	"github.com/pthm/veil"
	"github.com/pthm/veil/internal/telemetry"
	"github.com/pthm/veil/pkg/catalog"
	"github.com/pthm/veil/pkg/pgsql"
	"github.com/pthm/veil/pkg/querytree"
	"github.com/pthm/veil/pkg/rewrite"
	"github.com/pthm/veil/pkg/session"
)

// Rewriter is the part of rewrite.Rewriter the masking interceptor needs.
type Rewriter interface {
	Rewrite(ctx context.Context, sess *session.State, q *querytree.Query) error
	Synthesize(ctx context.Context, relid catalog.OID, t rewrite.Target) (*rewrite.Masking, error)
}

// Masking rewrites queries and COPY TO exports of masked roles.
type Masking struct {
	cat     catalog.Catalog
	rw      Rewriter
	opts    veil.Options
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures the interceptors of this package.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	onWarning func(veil.ValidationWarning)
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithWarningHandler receives the advisories raised while checking an
// accepted label. Without one they are logged at warn level.
func WithWarningHandler(fn func(veil.ValidationWarning)) Option {
	return func(o *options) { o.onWarning = fn }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewMasking creates the masking interceptor.
func NewMasking(cat catalog.Catalog, rw Rewriter, opts veil.Options, options ...Option) *Masking {
	o := buildOptions(options)
	return &Masking{cat: cat, rw: rw, opts: opts, logger: o.logger, metrics: o.metrics}
}

// Name implements Interceptor.
func (m *Masking) Name() string { return "masking" }

// Applies reports whether statements of sess are masked: veil is enabled,
// the statement is not one veil generated itself, the transaction is not
// aborted and the current role carries the masking marker.
func (m *Masking) Applies(ctx context.Context, sess *session.State) (bool, error) {
	if !m.opts.Enabled || sess.Suppressed() || sess.Aborted() {
		return false, nil
	}
	label, ok, err := m.cat.ObjectLabel(ctx, catalog.ObjectAddress{
		Class:    catalog.ClassRole,
		ObjectID: sess.Role(),
	}, m.opts.ProviderName())
	if err != nil {
		return false, fmt.Errorf("reading role label: %w", err)
	}
	return ok && label == veil.RoleMarker, nil
}

// PostAnalyze implements AnalyzeInterceptor. The tree is rewritten in place;
// q.Text keeps the statement as submitted.
func (m *Masking) PostAnalyze(ctx context.Context, sess *session.State, q *querytree.Query) error {
	ok, err := m.Applies(ctx, sess)
	if err != nil {
		return err
	}
	if !ok {
		m.metrics.RecordInterception(SiteAnalyze, telemetry.OutcomeSkipped)
		return nil
	}
	m.metrics.RecordInterception(SiteAnalyze, telemetry.OutcomeMasked)

	start := time.Now()
	err = m.rw.Rewrite(ctx, sess, q)
	m.metrics.RecordRewrite(SiteAnalyze, outcome(err), time.Since(start))
	return err
}

// ProcessUtility implements UtilityInterceptor. A plain COPY relation TO
// runs as COPY (masking query) TO instead; the statement text and its
// location are regenerated to match the new tree. Everything else passes
// through.
func (m *Masking) ProcessUtility(ctx context.Context, sess *session.State, stmt *querytree.UtilityStmt, next UtilityFunc) error {
	cs := stmt.Node.GetCopyStmt()
	if cs == nil || cs.GetIsFrom() || cs.GetRelation() == nil || cs.GetQuery() != nil {
		return next(ctx, sess, stmt)
	}
	ok, err := m.Applies(ctx, sess)
	if err != nil {
		return err
	}
	if !ok {
		m.metrics.RecordInterception(SiteCopy, telemetry.OutcomeSkipped)
		return next(ctx, sess, stmt)
	}
	m.metrics.RecordInterception(SiteCopy, telemetry.OutcomeMasked)

	start := time.Now()
	masked, err := m.maskCopy(ctx, sess, stmt)
	m.metrics.RecordRewrite(SiteCopy, outcome(err), time.Since(start))
	if err != nil {
		return err
	}
	if masked != nil {
		stmt = masked
	}

	release := sess.Suppress()
	defer release()
	return next(ctx, sess, stmt)
}

// maskCopy returns the rewritten COPY statement, or nil when the relation
// has no policy. stmt is updated in place unless its tree is read-only, in
// which case a new statement is returned.
func (m *Masking) maskCopy(ctx context.Context, sess *session.State, stmt *querytree.UtilityStmt) (*querytree.UtilityStmt, error) {
	cs := stmt.Node.GetCopyStmt()
	rv := cs.GetRelation()
	rel, err := m.cat.LookupRelation(ctx, rv.GetSchemaname(), rv.GetRelname(), sess.SearchPath())
	if err != nil {
		return nil, err
	}
	if !rel.Kind.Maskable() {
		return nil, nil
	}

	var columns []string
	for _, n := range cs.GetAttlist() {
		columns = append(columns, n.GetString_().GetSval())
	}
	mk, err := m.rw.Synthesize(ctx, rel.OID, rewrite.Target{Only: true, Export: true, Columns: columns})
	if err != nil || mk == nil {
		return nil, err
	}
	raw, err := pgsql.ParseOne(mk.SQL)
	if err != nil {
		return nil, mk.Failure(err)
	}

	// work on a copy so a failure leaves stmt as it was
	clone := *stmt
	clone.Node = proto.Clone(stmt.Node).(*pg_query.Node)
	clone.ReadOnlyTree = false
	out := &clone
	ocs := out.Node.GetCopyStmt()
	ocs.Relation = nil
	ocs.Attlist = nil
	ocs.Query = raw.GetStmt()

	text, err := pgsql.Deparse(out.Node)
	if err != nil {
		return nil, mk.Failure(err)
	}
	out.Text = text
	out.Location = 0
	out.Length = len(text)

	m.logger.Debug("masked copy",
		"relation", rel.String(),
		"sql", text,
	)
	if !stmt.ReadOnlyTree {
		*stmt = *out
		return stmt, nil
	}
	return out, nil
}

func outcome(err error) string {
	if err != nil {
		return telemetry.OutcomeFailed
	}
	return telemetry.OutcomeMasked
}
