// Package veil masks column values for restricted roles by rewriting query
// trees inside a PostgreSQL statement pipeline.
//
// # Package Structure
//
// The root package holds the shared options, constants and error types. The
// engine itself lives in the pkg/ tree:
//
//   - pkg/policy: resolves per-column masking expressions for a relation,
//     walking the inheritance hierarchy when local labels are incomplete.
//   - pkg/validate: checks security labels before they are stored.
//   - pkg/rewrite: substitutes masked relations in an analyzed query tree.
//   - pkg/hooks: the interceptor pipeline the host drives.
//
// # Declaring Masks
//
// Masking expressions are security labels on columns. Roles whose queries
// should be masked carry the "anonymize" label:
//
//	SECURITY LABEL FOR veil ON COLUMN public.customer.email IS $$'redacted@example.com'$$;
//	SECURITY LABEL FOR veil ON ROLE analyst IS 'anonymize';
//
// # Basic Usage
//
//	cat := pgcatalog.New(db)
//	pipeline := hooks.NewPipeline()
//	analyzer := pgsql.NewAnalyzer(cat, pgsql.WithPostAnalyze(pipeline.PostAnalyze))
//	resolver := policy.NewResolver(cat, opts)
//	rw := rewrite.New(resolver, pgsql.Parser{}, analyzer)
//	pipeline.Use(hooks.NewMasking(cat, rw, opts))
//
//	sess := session.New(roleOID, "public")
//	q, err := analyzer.Analyze(ctx, sess, raw, sql)
//	// q now reads masked values for analyst
package veil

// DefaultProvider is the security label provider name veil answers to.
const DefaultProvider = "veil"

// RoleMarker is the only label value accepted on a role. Roles carrying it
// see masked data.
const RoleMarker = "anonymize"

// Options are the engine-wide switches. The zero value disables everything;
// use DefaultOptions as the starting point.
type Options struct {
	// Enabled is the global kill switch. No rewriting happens when false.
	Enabled bool

	// CheckLabels enables the type probe when a column label is declared.
	CheckLabels bool

	// InheritLabels lets a relation pick up labels declared on its
	// inheritance ancestors for columns it does not label itself.
	InheritLabels bool

	// Provider is the security label provider name.
	Provider string
}

// DefaultOptions returns the documented defaults: everything enabled,
// provider "veil".
func DefaultOptions() Options {
	return Options{
		Enabled:       true,
		CheckLabels:   true,
		InheritLabels: true,
		Provider:      DefaultProvider,
	}
}

// ProviderName returns the configured provider, falling back to
// DefaultProvider.
func (o Options) ProviderName() string {
	if o.Provider == "" {
		return DefaultProvider
	}
	return o.Provider
}
