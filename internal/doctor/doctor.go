// Package doctor provides health checks for a veil deployment.
//
// The doctor validates that the masking setup is consistent: the library is
// preloaded in the right position, role labels carry the masking marker,
// every column label still passes validation, and every labelled relation
// yields a masking query that parses.
//
// Example usage:
//
//	d := doctor.New(deps, opts)
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pthm/veil"
	"github.com/pthm/veil/pkg/catalog"
	"github.com/pthm/veil/pkg/hooks"
	"github.com/pthm/veil/pkg/pgsql"
	"github.com/pthm/veil/pkg/rewrite"
	"github.com/pthm/veil/pkg/session"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

var (
	passStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#02BA84", Dark: "#02D98E"})
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF8C00", Dark: "#FFA500"})
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF5F56", Dark: "#FF6B6B"})
	categoryStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"})
)

func (s Status) style() lipgloss.Style {
	switch s {
	case StatusPass:
		return passStyle
	case StatusWarn:
		return warnStyle
	default:
		return failStyle
	}
}

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	// Category groups related checks (e.g., "Preload", "Column Labels").
	Category string

	// Name is a short identifier for the check.
	Name string

	// Status is the check outcome.
	Status Status

	// Message is a human-readable description of the result.
	Message string

	// Details provides additional information for verbose output.
	Details string

	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	// Summary counts.
	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Print writes the report to the given writer.
func (r *Report) Print(w io.Writer, verbose bool) {
	// Group checks by category
	categories := make(map[string][]CheckResult)
	var categoryOrder []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			categoryOrder = append(categoryOrder, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, cat := range categoryOrder {
		_, _ = fmt.Fprintf(w, "\n%s\n", categoryStyle.Render(cat))
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.style().Render(check.Status.Symbol()), check.Message)
			if verbose && check.Details != "" {
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", mutedStyle.Render(line))
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

// Settings reads server settings.
type Settings interface {
	Setting(ctx context.Context, name string) (string, error)
}

// LabelLister lists every label of a provider.
type LabelLister interface {
	Labels(ctx context.Context, provider string) ([]catalog.Label, error)
}

// LabelChecker re-validates a stored label.
type LabelChecker interface {
	CheckLabel(ctx context.Context, sess *session.State, addr catalog.ObjectAddress, label *string) ([]veil.ValidationWarning, error)
}

// Synthesizer builds masking queries.
type Synthesizer interface {
	Synthesize(ctx context.Context, relid catalog.OID, t rewrite.Target) (*rewrite.Masking, error)
}

// Deps are the collaborators the checks run against.
type Deps struct {
	Catalog     catalog.Catalog
	Labels      LabelLister
	Settings    Settings
	Checker     LabelChecker
	Synthesizer Synthesizer

	// Preload overrides server preload settings by name. Empty values are
	// read from Settings.
	Preload map[string]string
	// Library is the preload entry name of veil.
	Library string
	// Session is used for label re-validation.
	Session *session.State
}

// Doctor performs health checks on a veil deployment.
type Doctor struct {
	deps Deps
	opts veil.Options
}

// New creates a new Doctor instance.
func New(deps Deps, opts veil.Options) *Doctor {
	if deps.Library == "" {
		deps.Library = "veil"
	}
	if deps.Session == nil {
		deps.Session = session.New(catalog.InvalidOID, "public")
	}
	return &Doctor{deps: deps, opts: opts}
}

// Run executes all health checks and returns a report.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	d.checkOptions(report)
	if err := d.checkPreload(ctx, report); err != nil {
		return nil, fmt.Errorf("checking preload settings: %w", err)
	}
	labels, err := d.deps.Labels.Labels(ctx, d.opts.ProviderName())
	if err != nil {
		return nil, fmt.Errorf("listing labels: %w", err)
	}
	d.checkRoleLabels(ctx, report, labels)
	if err := d.checkColumnLabels(ctx, report, labels); err != nil {
		return nil, fmt.Errorf("checking column labels: %w", err)
	}
	if err := d.checkMaskingQueries(ctx, report, labels); err != nil {
		return nil, fmt.Errorf("checking masking queries: %w", err)
	}

	return report, nil
}

func (d *Doctor) checkOptions(report *Report) {
	if !d.opts.Enabled {
		report.AddCheck(CheckResult{
			Category: "Configuration",
			Name:     "enabled",
			Status:   StatusWarn,
			Message:  "Masking is disabled",
			Details:  "No query of any role is rewritten while enabled is false",
			FixHint:  "Set enabled: true in veil.yaml or VEIL_ENABLED=true",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: "Configuration",
			Name:     "enabled",
			Status:   StatusPass,
			Message:  fmt.Sprintf("Masking is enabled (provider %q)", d.opts.ProviderName()),
		})
	}
	if !d.opts.CheckLabels {
		report.AddCheck(CheckResult{
			Category: "Configuration",
			Name:     "check_labels",
			Status:   StatusWarn,
			Message:  "Masking expression type checks are disabled",
			FixHint:  "Set check_labels: true to reject ill-typed expressions",
		})
	}
}

// checkPreload validates the library position in the preload settings.
func (d *Doctor) checkPreload(ctx context.Context, report *Report) error {
	lists, err := hooks.ReadPreloadLists(ctx, d.deps.Settings, d.deps.Preload)
	if err != nil {
		return err
	}
	found := false
	for _, l := range lists {
		libs, err := hooks.SplitLibraryList(l.Value)
		if err != nil {
			continue
		}
		for _, lib := range libs {
			if hooks.LibraryName(lib) == hooks.LibraryName(d.deps.Library) {
				found = true
			}
		}
	}

	if err := hooks.CheckPreload(lists, d.deps.Library); err != nil {
		report.AddCheck(CheckResult{
			Category: "Preload",
			Name:     "ordering",
			Status:   StatusFail,
			Message:  "Preload settings are invalid",
			Details:  err.Error(),
			FixHint:  fmt.Sprintf("List %s exactly once, last in shared_preload_libraries", d.deps.Library),
		})
		return nil
	}
	if !found {
		report.AddCheck(CheckResult{
			Category: "Preload",
			Name:     "ordering",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%s is not in any preload list", d.deps.Library),
			FixHint:  fmt.Sprintf("Add %s at the end of shared_preload_libraries", d.deps.Library),
		})
		return nil
	}
	report.AddCheck(CheckResult{
		Category: "Preload",
		Name:     "ordering",
		Status:   StatusPass,
		Message:  "Preload settings are valid",
	})
	return nil
}

// checkRoleLabels validates that role labels carry the masking marker.
func (d *Doctor) checkRoleLabels(ctx context.Context, report *Report, labels []catalog.Label) {
	var masked, invalid []string
	for _, l := range labels {
		if l.Object.Class != catalog.ClassRole {
			continue
		}
		name := d.roleName(ctx, l.Object.ObjectID)
		if err := d.checkOne(ctx, l); err != nil {
			invalid = append(invalid, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		masked = append(masked, name)
	}

	switch {
	case len(invalid) > 0:
		report.AddCheck(CheckResult{
			Category: "Roles",
			Name:     "markers",
			Status:   StatusFail,
			Message:  fmt.Sprintf("%d role labels are invalid", len(invalid)),
			Details:  strings.Join(invalid, "\n"),
			FixHint:  fmt.Sprintf("Relabel the roles with '%s' or remove the labels", veil.RoleMarker),
		})
	case len(masked) == 0:
		report.AddCheck(CheckResult{
			Category: "Roles",
			Name:     "markers",
			Status:   StatusWarn,
			Message:  "No role is masked",
			FixHint:  fmt.Sprintf("SECURITY LABEL FOR %s ON ROLE <role> IS '%s'", d.opts.ProviderName(), veil.RoleMarker),
		})
	default:
		report.AddCheck(CheckResult{
			Category: "Roles",
			Name:     "markers",
			Status:   StatusPass,
			Message:  fmt.Sprintf("%d masked roles", len(masked)),
			Details:  strings.Join(masked, "\n"),
		})
	}
}

// checkColumnLabels re-validates every column label against the current
// schema.
func (d *Doctor) checkColumnLabels(ctx context.Context, report *Report, labels []catalog.Label) error {
	var (
		checked  int
		warnings []string
		failures []string
	)
	for _, l := range labels {
		if l.Object.Class != catalog.ClassRelation {
			continue
		}
		checked++
		object, err := d.describe(ctx, l.Object)
		if err != nil {
			return err
		}
		text := l.Text
		ws, err := d.deps.Checker.CheckLabel(ctx, d.deps.Session, l.Object, &text)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s = %s: %v", object, l.Text, err))
			continue
		}
		for _, w := range ws {
			warnings = append(warnings, fmt.Sprintf("%s = %s: %s", object, l.Text, w))
		}
	}

	switch {
	case checked == 0:
		report.AddCheck(CheckResult{
			Category: "Column Labels",
			Name:     "valid",
			Status:   StatusWarn,
			Message:  "No column carries a masking expression",
		})
	case len(failures) > 0:
		report.AddCheck(CheckResult{
			Category: "Column Labels",
			Name:     "valid",
			Status:   StatusFail,
			Message:  fmt.Sprintf("%d of %d column labels no longer validate", len(failures), checked),
			Details:  strings.Join(failures, "\n"),
			FixHint:  "Relabel the columns with expressions matching the column types",
		})
	case len(warnings) > 0:
		report.AddCheck(CheckResult{
			Category: "Column Labels",
			Name:     "valid",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d column labels validate with warnings", len(warnings)),
			Details:  strings.Join(warnings, "\n"),
		})
	default:
		report.AddCheck(CheckResult{
			Category: "Column Labels",
			Name:     "valid",
			Status:   StatusPass,
			Message:  fmt.Sprintf("All %d column labels are valid", checked),
		})
	}
	return nil
}

// checkMaskingQueries synthesizes and parses the masking query of every
// labelled relation.
func (d *Doctor) checkMaskingQueries(ctx context.Context, report *Report, labels []catalog.Label) error {
	seen := make(map[catalog.OID]bool)
	var relids []catalog.OID
	for _, l := range labels {
		if l.Object.Class == catalog.ClassRelation && !seen[l.Object.ObjectID] {
			seen[l.Object.ObjectID] = true
			relids = append(relids, l.Object.ObjectID)
		}
	}
	sort.Slice(relids, func(i, j int) bool { return relids[i] < relids[j] })
	if len(relids) == 0 {
		return nil
	}

	var ok, failed []string
	for _, relid := range relids {
		m, err := d.deps.Synthesizer.Synthesize(ctx, relid, rewrite.Target{})
		if errors.Is(err, catalog.ErrRelationNotFound) {
			failed = append(failed, fmt.Sprintf("relation %d: %v", relid, err))
			continue
		}
		if err != nil {
			return err
		}
		if m == nil {
			continue
		}
		if _, err := pgsql.ParseOne(m.SQL); err != nil {
			failed = append(failed, m.Failure(err).Error())
			continue
		}
		ok = append(ok, m.SQL)
	}

	if len(failed) > 0 {
		report.AddCheck(CheckResult{
			Category: "Masking Queries",
			Name:     "parse",
			Status:   StatusFail,
			Message:  fmt.Sprintf("%d masking queries fail to parse", len(failed)),
			Details:  strings.Join(failed, "\n"),
			FixHint:  "Queries on these relations abort for masked roles until the labels are fixed",
		})
		return nil
	}
	report.AddCheck(CheckResult{
		Category: "Masking Queries",
		Name:     "parse",
		Status:   StatusPass,
		Message:  fmt.Sprintf("%d masking queries parse", len(ok)),
		Details:  strings.Join(ok, "\n"),
	})
	return nil
}

func (d *Doctor) checkOne(ctx context.Context, l catalog.Label) error {
	text := l.Text
	_, err := d.deps.Checker.CheckLabel(ctx, d.deps.Session, l.Object, &text)
	return err
}

type roleNamer interface {
	RoleName(ctx context.Context, role catalog.OID) (string, error)
}

func (d *Doctor) roleName(ctx context.Context, role catalog.OID) string {
	if rn, ok := d.deps.Catalog.(roleNamer); ok {
		if name, err := rn.RoleName(ctx, role); err == nil {
			return name
		}
	}
	return fmt.Sprintf("role %d", role)
}

func (d *Doctor) describe(ctx context.Context, addr catalog.ObjectAddress) (string, error) {
	rel, err := d.deps.Catalog.Relation(ctx, addr.ObjectID)
	if errors.Is(err, catalog.ErrRelationNotFound) {
		return fmt.Sprintf("relation %d column %d", addr.ObjectID, addr.SubID), nil
	}
	if err != nil {
		return "", err
	}
	if col, ok := rel.Column(addr.SubID); ok {
		return rel.String() + "." + col.Name, nil
	}
	return fmt.Sprintf("%s column %d", rel, addr.SubID), nil
}
