// Package validate checks security labels before they are stored. Column
// labels are SQL expressions and go through two stages: an injection check
// that the expression embeds into exactly one statement, then an optional
// type probe run against the labelled relation in a read-only transaction
// with a trusted search path.
package validate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lib/pq/oid"
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pthm/veil"
	"github.com/pthm/veil/internal/sqldsl"
	"github.com/pthm/veil/internal/telemetry"
	"github.com/pthm/veil/pkg/catalog"
	"github.com/pthm/veil/pkg/session"
)

// TrustedSearchPath is the search path the type probe runs under.
var TrustedSearchPath = []string{"pg_catalog"}

// Parser splits SQL text into raw statements.
type Parser interface {
	Parse(sql string) (*pg_query.ParseResult, error)
}

// Executor runs a query on a live connection and returns the single OID
// column of each result row. It must apply settings for the duration of the
// query only.
type Executor interface {
	QueryOIDs(ctx context.Context, settings session.Settings, sql string) ([]catalog.OID, error)
}

// Validator checks label declarations. It is stateless and safe to share
// between sessions.
type Validator struct {
	cat     catalog.Catalog
	parser  Parser
	exec    Executor
	opts    veil.Options
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// New creates a Validator. exec may be nil when opts.CheckLabels is false.
func New(cat catalog.Catalog, parser Parser, exec Executor, opts veil.Options, options ...Option) *Validator {
	v := &Validator{cat: cat, parser: parser, exec: exec, opts: opts, logger: slog.Default()}
	for _, o := range options {
		o(v)
	}
	return v
}

// ValidateExpression checks expr as the masking expression of column in
// rel. A nil error means the label may be stored; the returned warnings are
// advisory.
func (v *Validator) ValidateExpression(ctx context.Context, sess *session.State, rel *catalog.Relation, column, expr string) (warnings []veil.ValidationWarning, err error) {
	ctx, span := telemetry.StartSpan(ctx, "veil.validate.expression",
		attribute.String("veil.relation", rel.String()),
		attribute.String("veil.column", column),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	object := fmt.Sprintf("column %s.%s", rel, column)
	ordinal, ok := rel.Ordinal(column)
	if !ok {
		return nil, &veil.LabelRejectedError{Object: object, Message: "column does not exist", Err: catalog.ErrColumnNotFound}
	}
	col, _ := rel.Column(ordinal)
	from := sqldsl.Table(rel.Namespace, rel.Name)

	// Stage 1: the expression must not smuggle in extra statements.
	probe := sqldsl.ExpressionProbe(from, column, expr).SQL()
	res, err := v.parser.Parse(probe)
	if err != nil {
		return nil, &veil.LabelRejectedError{Object: object, Message: "invalid masking expression", Err: err}
	}
	if n := len(res.GetStmts()); n != 1 {
		return nil, veil.Rejectf(object, "masking expression must form exactly one statement, got %d", n)
	}

	if !v.opts.CheckLabels {
		return nil, nil
	}

	// Stage 2: probe the expression type on live data.
	if v.exec == nil {
		return nil, veil.Rejectf(object, "type check enabled but no executor configured")
	}
	typeSQL := sqldsl.TypeProbe(from, expr).SQL()
	oids, err := v.probe(ctx, sess, typeSQL)
	if err != nil {
		return nil, &veil.LabelRejectedError{Object: object, Message: "could not evaluate masking expression", Err: err}
	}

	switch {
	case len(oids) == 0:
		warnings = append(warnings, veil.ValidationWarning{
			Object:  object,
			Message: "could not verify the masking expression type",
			Detail:  "relation has no rows",
		})
	case oids[0] == col.TypeOID:
	case oids[0] == catalog.OID(oid.T_unknown) && isTextual(col.TypeOID):
		warnings = append(warnings, veil.ValidationWarning{
			Object:  object,
			Message: "masking expression is an untyped literal",
			Detail:  "it will be coerced to the column type",
		})
	default:
		return nil, veil.Rejectf(object, "masking expression returns type %d, column has type %d", oids[0], col.TypeOID)
	}

	for _, w := range warnings {
		v.logger.Warn("masking expression accepted with warning",
			"object", w.Object,
			"message", w.Message,
			"detail", w.Detail,
		)
	}
	return warnings, nil
}

// probe runs sql with the read-only flag forced on and the search path
// restricted to TrustedSearchPath. Both overrides are released before probe
// returns, whatever the outcome.
func (v *Validator) probe(ctx context.Context, sess *session.State, sql string) ([]catalog.OID, error) {
	releaseReadOnly := sess.OverrideReadOnly(true)
	defer releaseReadOnly()
	releasePath := sess.OverrideSearchPath(TrustedSearchPath...)
	defer releasePath()

	return v.exec.QueryOIDs(ctx, sess.Settings(), sql)
}

func isTextual(t catalog.OID) bool {
	switch oid.Oid(t) {
	case oid.T_text, oid.T_varchar, oid.T_bpchar, oid.T_name:
		return true
	}
	return false
}
