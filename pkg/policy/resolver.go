package policy

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pthm/veil"
	"github.com/pthm/veil/internal/telemetry"
	"github.com/pthm/veil/pkg/catalog"
)

// Resolver computes Policies from catalog labels. It holds no per-call
// state and is safe for concurrent use.
type Resolver struct {
	cat     catalog.Catalog
	opts    veil.Options
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a Resolver reading labels of opts.ProviderName().
func NewResolver(cat catalog.Catalog, opts veil.Options, options ...Option) *Resolver {
	r := &Resolver{cat: cat, opts: opts, logger: slog.Default()}
	for _, o := range options {
		o(r)
	}
	return r
}

// resolveState is the per-call traversal state.
type resolveState struct {
	policy  *Policy
	visited map[catalog.OID]bool
	// attrMaps memoizes the name map of each ancestor.
	attrMaps map[catalog.OID]AttributeMap
}

// Resolve returns the masking policy of relid, or nil when no column of the
// relation resolves to an expression.
//
// The search is depth-first from relid over parents in inheritance sequence
// order. An ancestor reachable by several paths is visited once, on the first
// path that reaches it. The first expression found for a column wins.
func (r *Resolver) Resolve(ctx context.Context, relid catalog.OID) (_ *Policy, err error) {
	ctx, span := telemetry.StartSpan(ctx, "veil.policy.resolve",
		attribute.Int64("veil.relid", int64(relid)))
	defer func() { telemetry.EndSpan(span, err) }()

	rel, err := r.cat.Relation(ctx, relid)
	if err != nil {
		return nil, err
	}
	if !rel.Kind.Maskable() {
		r.metrics.RecordResolution("skipped")
		return nil, nil
	}

	st := &resolveState{
		policy:   newPolicy(rel),
		visited:  make(map[catalog.OID]bool),
		attrMaps: make(map[catalog.OID]AttributeMap),
	}
	if err := r.visit(ctx, st, rel, nil); err != nil {
		return nil, err
	}

	if st.policy.Len() == 0 {
		r.metrics.RecordResolution("none")
		return nil, nil
	}
	r.metrics.RecordResolution("found")
	span.SetAttributes(attribute.Int("veil.masked_columns", st.policy.Len()))
	r.logger.Debug("resolved masking policy",
		"relation", rel.String(),
		"columns", st.policy.Ordinals(),
	)
	return st.policy, nil
}

// visit records the labels of node and descends into its parents. node is
// the target relation when attrs is nil.
func (r *Resolver) visit(ctx context.Context, st *resolveState, node *catalog.Relation, attrs AttributeMap) error {
	st.visited[node.OID] = true

	labels, err := r.cat.ColumnLabels(ctx, node.OID, r.opts.ProviderName())
	if err != nil {
		return fmt.Errorf("reading labels of %s: %w", node, err)
	}
	for ordinal, expr := range labels {
		target := ordinal
		if attrs != nil {
			mapped, ok := attrs[ordinal]
			if !ok {
				continue
			}
			target = mapped
		} else if col, ok := node.Column(ordinal); !ok || col.Dropped {
			continue
		}
		st.policy.set(target, expr, node.OID)
	}

	if !r.opts.InheritLabels || st.policy.complete() {
		return nil
	}

	parents, err := r.cat.Parents(ctx, node.OID)
	if err != nil {
		return fmt.Errorf("reading parents of %s: %w", node, err)
	}
	for _, parentID := range parents {
		if st.visited[parentID] {
			continue
		}
		parent, err := r.cat.Relation(ctx, parentID)
		if err != nil {
			return fmt.Errorf("reading ancestor of %s: %w", node, err)
		}
		m, ok := st.attrMaps[parentID]
		if !ok {
			m = BuildAttributeMap(parent, st.policy.Relation)
			st.attrMaps[parentID] = m
		}
		if err := r.visit(ctx, st, parent, m); err != nil {
			return err
		}
		if st.policy.complete() {
			return nil
		}
	}
	return nil
}
