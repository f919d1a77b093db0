package main

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pthm/veil"
	"github.com/pthm/veil/internal/cli"
	"github.com/pthm/veil/internal/telemetry"
	"github.com/pthm/veil/pkg/catalog"
	"github.com/pthm/veil/pkg/hooks"
	"github.com/pthm/veil/pkg/pgcatalog"
	"github.com/pthm/veil/pkg/pgsql"
	"github.com/pthm/veil/pkg/policy"
	"github.com/pthm/veil/pkg/rewrite"
	"github.com/pthm/veil/pkg/session"
	"github.com/pthm/veil/pkg/validate"
)

// engine is the masking engine wired against a live catalog.
type engine struct {
	db        *sql.DB
	opts      veil.Options
	cat       *pgcatalog.Catalog
	pipeline  *hooks.Pipeline
	analyzer  *pgsql.Analyzer
	rewriter  *rewrite.Rewriter
	masking   *hooks.Masking
	labels    *hooks.Labels
	validator *validate.Validator
	metrics   *telemetry.Metrics
	// warn receives label advisories; nil logs them.
	warn func(veil.ValidationWarning)
}

// openEngine connects to dsn, checks the preload ordering and wires every
// component. newWriter builds the store for accepted label declarations;
// nil stores them on the server. A misplaced library stops here, before
// any interceptor is registered.
func openEngine(ctx context.Context, dsn string, newWriter func(*sql.DB) catalog.LabelWriter) (*engine, error) {
	db, err := connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := checkPreload(ctx, pgcatalog.New(db), cfg.Preload); err != nil {
		_ = db.Close()
		return nil, err
	}
	return wireEngine(db, newWriter), nil
}

func connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, cli.DBConnectError("connecting to database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, cli.DBConnectError("connecting to database", err)
	}
	return db, nil
}

// checkPreload fails with ExitConfig when the library is listed more than
// once or is not last in shared_preload_libraries.
func checkPreload(ctx context.Context, settings hooks.SettingReader, pc cli.PreloadConfig) error {
	lists, err := hooks.ReadPreloadLists(ctx, settings, pc.Overrides())
	if err != nil {
		return cli.GeneralError("reading preload settings", err)
	}
	if err := hooks.CheckPreload(lists, pc.Library); err != nil {
		return cli.ConfigError("checking preload order", err)
	}
	return nil
}

// wireEngine builds the engine over an open connection without any
// startup checks.
func wireEngine(db *sql.DB, newWriter func(*sql.DB) catalog.LabelWriter) *engine {
	e := &engine{
		db:      db,
		opts:    cfg.Options(),
		cat:     pgcatalog.New(db),
		metrics: telemetry.NewMetrics(),
	}
	var writer catalog.LabelWriter = pgcatalog.NewLabelWriter(db)
	if newWriter != nil {
		writer = newWriter(db)
	}

	e.pipeline = hooks.NewPipeline(hooks.WithPipelineLogger(logger))
	e.analyzer = pgsql.NewAnalyzer(e.cat, pgsql.WithPostAnalyze(e.pipeline.PostAnalyze))
	resolver := policy.NewResolver(e.cat, e.opts, policy.WithLogger(logger), policy.WithMetrics(e.metrics))
	e.rewriter = rewrite.New(resolver, pgsql.Parser{}, e.analyzer, rewrite.WithLogger(logger), rewrite.WithMetrics(e.metrics))
	e.validator = validate.New(e.cat, pgsql.Parser{}, pgcatalog.NewExecutor(db), e.opts,
		validate.WithLogger(logger), validate.WithMetrics(e.metrics))
	e.masking = hooks.NewMasking(e.cat, e.rewriter, e.opts, hooks.WithLogger(logger), hooks.WithMetrics(e.metrics))
	e.labels = hooks.NewLabels(e.cat, e.validator, writer, e.opts, hooks.WithLogger(logger), hooks.WithMetrics(e.metrics),
		hooks.WithWarningHandler(func(w veil.ValidationWarning) {
			if e.warn == nil {
				logger.Warn("label accepted with warning", "warning", w.String())
				return
			}
			e.warn(w)
		}))
	e.pipeline.Use(e.labels, e.masking)

	return e
}

func (e *engine) Close() error {
	return e.db.Close()
}

// session starts a session for the named role, or for no role when role is
// empty.
func (e *engine) session(ctx context.Context, role string) (*session.State, error) {
	oid := catalog.InvalidOID
	if role != "" {
		var err error
		oid, err = e.cat.LookupRole(ctx, role)
		if errors.Is(err, catalog.ErrRoleNotFound) {
			return nil, cli.GeneralError("unknown role "+role, err)
		}
		if err != nil {
			return nil, cli.GeneralError("looking up role", err)
		}
	}
	return session.New(oid, cfg.Rewrite.SearchPath...), nil
}
