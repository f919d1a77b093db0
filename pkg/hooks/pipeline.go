// Package hooks drives the interceptors veil installs in the host's statement
// pipeline.
//
// The host calls two sites. PostAnalyze runs after a statement has been
// analyzed into a query tree; ProcessUtility runs before a utility statement
// executes. Interceptors are registered with Use and run in registration
// order. Utility interceptors form a chain: each receives a next func and
// decides whether, and with what statement, to continue.
package hooks

import (
	"context"
	"log/slog"

	"github.com/pthm/veil/pkg/querytree"
	"github.com/pthm/veil/pkg/session"
)

// Interception sites, used as metric and log labels.
const (
	SiteAnalyze = "analyze"
	SiteCopy    = "copy"
	SiteLabel   = "label"
)

// Interceptor is anything that can be registered on a Pipeline. It must
// implement AnalyzeInterceptor, UtilityInterceptor or both.
type Interceptor interface {
	Name() string
}

// AnalyzeInterceptor sees every analyzed query tree.
type AnalyzeInterceptor interface {
	Interceptor
	PostAnalyze(ctx context.Context, sess *session.State, q *querytree.Query) error
}

// UtilityFunc executes a utility statement.
type UtilityFunc func(ctx context.Context, sess *session.State, stmt *querytree.UtilityStmt) error

// UtilityInterceptor sees every utility statement before it executes. It
// must call next to let the statement run.
type UtilityInterceptor interface {
	Interceptor
	ProcessUtility(ctx context.Context, sess *session.State, stmt *querytree.UtilityStmt, next UtilityFunc) error
}

// Pipeline holds the ordered interceptors of both sites.
type Pipeline struct {
	analyze []AnalyzeInterceptor
	utility []UtilityInterceptor
	logger  *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger. The default is slog.Default().
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates an empty pipeline.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{logger: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Use appends interceptors to the sites they implement.
func (p *Pipeline) Use(interceptors ...Interceptor) {
	for _, i := range interceptors {
		registered := false
		if a, ok := i.(AnalyzeInterceptor); ok {
			p.analyze = append(p.analyze, a)
			registered = true
		}
		if u, ok := i.(UtilityInterceptor); ok {
			p.utility = append(p.utility, u)
			registered = true
		}
		if !registered {
			p.logger.Warn("interceptor implements no site", "interceptor", i.Name())
		}
	}
}

// PostAnalyze runs the analyze interceptors in order and stops at the first
// error. Its signature matches pgsql.PostAnalyzeFunc.
func (p *Pipeline) PostAnalyze(ctx context.Context, sess *session.State, q *querytree.Query) error {
	for _, a := range p.analyze {
		if err := a.PostAnalyze(ctx, sess, q); err != nil {
			return err
		}
	}
	return nil
}

// ProcessUtility runs stmt through the utility chain. final is the host's
// standard processing and runs when the last interceptor calls next.
func (p *Pipeline) ProcessUtility(ctx context.Context, sess *session.State, stmt *querytree.UtilityStmt, final UtilityFunc) error {
	return p.chain(0, final)(ctx, sess, stmt)
}

func (p *Pipeline) chain(i int, final UtilityFunc) UtilityFunc {
	if i >= len(p.utility) {
		return final
	}
	u := p.utility[i]
	return func(ctx context.Context, sess *session.State, stmt *querytree.UtilityStmt) error {
		return u.ProcessUtility(ctx, sess, stmt, p.chain(i+1, final))
	}
}
