package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/pthm/veil"
	"github.com/pthm/veil/internal/telemetry"
	"github.com/pthm/veil/pkg/catalog"
	"github.com/pthm/veil/pkg/querytree"
	"github.com/pthm/veil/pkg/session"
)

// LabelChecker validates a label declaration before it is stored.
type LabelChecker interface {
	CheckLabel(ctx context.Context, sess *session.State, addr catalog.ObjectAddress, label *string) ([]veil.ValidationWarning, error)
}

// Labels handles SECURITY LABEL statements for the veil provider. Accepted
// labels are written through the LabelWriter; rejected ones never reach it.
// Statements for other providers pass through.
type Labels struct {
	cat       catalog.Catalog
	checker   LabelChecker
	writer    catalog.LabelWriter
	opts      veil.Options
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	onWarning func(veil.ValidationWarning)
}

// NewLabels creates the label declaration interceptor.
func NewLabels(cat catalog.Catalog, checker LabelChecker, writer catalog.LabelWriter, opts veil.Options, options ...Option) *Labels {
	o := buildOptions(options)
	l := &Labels{cat: cat, checker: checker, writer: writer, opts: opts, logger: o.logger, metrics: o.metrics, onWarning: o.onWarning}
	if l.onWarning == nil {
		l.onWarning = func(w veil.ValidationWarning) {
			l.logger.Warn("label accepted with warning", "object", w.Object, "message", w.Message, "detail", w.Detail)
		}
	}
	return l
}

// Name implements Interceptor.
func (l *Labels) Name() string { return "labels" }

// ProcessUtility implements UtilityInterceptor. A statement without a FOR
// clause is taken as ours.
func (l *Labels) ProcessUtility(ctx context.Context, sess *session.State, stmt *querytree.UtilityStmt, next UtilityFunc) error {
	sl := stmt.Node.GetSecLabelStmt()
	if sl == nil || (sl.GetProvider() != "" && sl.GetProvider() != l.opts.ProviderName()) {
		return next(ctx, sess, stmt)
	}

	addr, err := l.Address(ctx, sess, sl)
	if err != nil {
		l.metrics.RecordInterception(SiteLabel, telemetry.OutcomeRejected)
		return err
	}
	// IS NULL parses to an empty label
	var label *string
	if sl.GetLabel() != "" {
		text := sl.GetLabel()
		label = &text
	}

	warnings, err := l.checker.CheckLabel(ctx, sess, addr, label)
	if err != nil {
		l.metrics.RecordInterception(SiteLabel, telemetry.OutcomeRejected)
		return err
	}
	for _, w := range warnings {
		l.onWarning(w)
	}
	if err := l.writer.SetLabel(ctx, addr, l.opts.ProviderName(), label); err != nil {
		return fmt.Errorf("storing label: %w", err)
	}
	l.metrics.RecordInterception(SiteLabel, telemetry.OutcomeAccepted)
	l.logger.Info("security label stored",
		"class", addr.Class.String(),
		"object", addr.ObjectID,
		"sub_id", addr.SubID,
		"removed", label == nil,
	)
	return nil
}

// Address resolves the object a SECURITY LABEL statement names.
func (l *Labels) Address(ctx context.Context, sess *session.State, sl *pg_query.SecLabelStmt) (catalog.ObjectAddress, error) {
	switch sl.GetObjtype() {
	case pg_query.ObjectType_OBJECT_COLUMN:
		names := stringList(sl.GetObject())
		if len(names) < 2 {
			return catalog.ObjectAddress{}, errors.New("column name must be qualified")
		}
		rel, err := l.lookup(ctx, sess, names[:len(names)-1])
		if err != nil {
			return catalog.ObjectAddress{}, err
		}
		column := names[len(names)-1]
		ord, ok := rel.Ordinal(column)
		if !ok {
			return catalog.ObjectAddress{}, fmt.Errorf("%w: column %q of relation %s", catalog.ErrColumnNotFound, column, rel)
		}
		return catalog.ObjectAddress{Class: catalog.ClassRelation, ObjectID: rel.OID, SubID: ord}, nil

	case pg_query.ObjectType_OBJECT_TABLE, pg_query.ObjectType_OBJECT_VIEW,
		pg_query.ObjectType_OBJECT_MATVIEW, pg_query.ObjectType_OBJECT_FOREIGN_TABLE:
		rel, err := l.lookup(ctx, sess, stringList(sl.GetObject()))
		if err != nil {
			return catalog.ObjectAddress{}, err
		}
		return catalog.ObjectAddress{Class: catalog.ClassRelation, ObjectID: rel.OID}, nil

	case pg_query.ObjectType_OBJECT_ROLE:
		role, err := l.cat.LookupRole(ctx, sl.GetObject().GetString_().GetSval())
		if err != nil {
			return catalog.ObjectAddress{}, err
		}
		return catalog.ObjectAddress{Class: catalog.ClassRole, ObjectID: role}, nil

	default:
		return catalog.ObjectAddress{Class: catalog.ClassOther, Kind: objectKind(sl.GetObjtype())}, nil
	}
}

func (l *Labels) lookup(ctx context.Context, sess *session.State, names []string) (*catalog.Relation, error) {
	switch len(names) {
	case 1:
		return l.cat.LookupRelation(ctx, "", names[0], sess.SearchPath())
	case 2:
		return l.cat.LookupRelation(ctx, names[0], names[1], sess.SearchPath())
	case 3:
		// database-qualified; the database part is not checked
		return l.cat.LookupRelation(ctx, names[1], names[2], sess.SearchPath())
	default:
		return nil, fmt.Errorf("improper relation name %q", strings.Join(names, "."))
	}
}

func stringList(n *pg_query.Node) []string {
	if s := n.GetString_(); s != nil {
		return []string{s.GetSval()}
	}
	var out []string
	for _, item := range n.GetList().GetItems() {
		out = append(out, item.GetString_().GetSval())
	}
	return out
}

// objectKind turns OBJECT_FOREIGN_TABLE into "foreign table".
func objectKind(t pg_query.ObjectType) string {
	name := strings.TrimPrefix(t.String(), "OBJECT_")
	return strings.ReplaceAll(strings.ToLower(name), "_", " ")
}
