package doctor

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/veil"
	"github.com/pthm/veil/pkg/catalog"
	"github.com/pthm/veil/pkg/pgsql"
	"github.com/pthm/veil/pkg/policy"
	"github.com/pthm/veil/pkg/rewrite"
	"github.com/pthm/veil/pkg/validate"
)

// memLabels lists the labels of a Memory catalog for one provider.
type memLabels struct{ m *catalog.Memory }

func (l memLabels) Labels(_ context.Context, provider string) ([]catalog.Label, error) {
	var out []catalog.Label
	for _, label := range l.m.Labels() {
		if label.Provider == provider {
			out = append(out, label)
		}
	}
	return out, nil
}

type settings map[string]string

func (s settings) Setting(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", errors.New("unrecognized configuration parameter")
}

type env struct {
	cat      *catalog.Memory
	customer catalog.OID
	analyst  catalog.OID
	opts     veil.Options
}

func newEnv() *env {
	e := &env{cat: catalog.NewMemory(), opts: veil.DefaultOptions()}
	e.opts.CheckLabels = false
	e.customer = e.cat.AddTable("public", "customer",
		catalog.Column{Name: "id", TypeOID: catalog.OID(oid.T_int4)},
		catalog.Column{Name: "email", TypeOID: catalog.OID(oid.T_text)},
	)
	e.analyst = e.cat.AddRole("analyst")
	return e
}

func (e *env) label(t *testing.T, addr catalog.ObjectAddress, label string) {
	t.Helper()
	require.NoError(t, e.cat.SetLabel(context.Background(), addr, veil.DefaultProvider, &label))
}

func (e *env) doctor(s Settings) *Doctor {
	analyzer := pgsql.NewAnalyzer(e.cat)
	rw := rewrite.New(policy.NewResolver(e.cat, e.opts), pgsql.Parser{}, analyzer)
	return New(Deps{
		Catalog:     e.cat,
		Labels:      memLabels{e.cat},
		Settings:    s,
		Checker:     validate.New(e.cat, pgsql.Parser{}, nil, e.opts),
		Synthesizer: rw,
	}, e.opts)
}

func (e *env) healthy(t *testing.T) {
	e.label(t, catalog.ObjectAddress{Class: catalog.ClassRole, ObjectID: e.analyst}, veil.RoleMarker)
	e.label(t, catalog.ObjectAddress{Class: catalog.ClassRelation, ObjectID: e.customer, SubID: 2}, "'redacted'")
}

func find(t *testing.T, r *Report, category string) CheckResult {
	t.Helper()
	for _, c := range r.Checks {
		if c.Category == category {
			return c
		}
	}
	t.Fatalf("no %q check in report", category)
	return CheckResult{}
}

func TestDoctor_Healthy(t *testing.T) {
	e := newEnv()
	e.healthy(t)

	report, err := e.doctor(settings{
		"shared_preload_libraries":  "pg_stat_statements, veil",
		"session_preload_libraries": "",
		"local_preload_libraries":   "",
	}).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.HasErrors())
	assert.Equal(t, StatusPass, find(t, report, "Preload").Status)
	assert.Equal(t, StatusPass, find(t, report, "Roles").Status)
	assert.Equal(t, "1 masked roles", find(t, report, "Roles").Message)
	assert.Equal(t, StatusPass, find(t, report, "Column Labels").Status)

	queries := find(t, report, "Masking Queries")
	assert.Equal(t, StatusPass, queries.Status)
	assert.Contains(t, queries.Details, `'redacted' AS "email"`)

	// type checks are off in this environment
	assert.Equal(t, 1, report.Warnings)
}

func TestDoctor_Preload(t *testing.T) {
	tests := []struct {
		name   string
		shared string
		want   Status
	}{
		{"last", "auto_explain,veil", StatusPass},
		{"absent", "auto_explain", StatusWarn},
		{"not last", "veil,auto_explain", StatusFail},
		{"twice", "veil,veil", StatusFail},
		{"malformed", `"veil`, StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv()
			e.healthy(t)
			report, err := e.doctor(settings{
				"shared_preload_libraries":  tt.shared,
				"session_preload_libraries": "",
				"local_preload_libraries":   "",
			}).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, find(t, report, "Preload").Status)
		})
	}
}

func TestDoctor_PreloadOverrides(t *testing.T) {
	e := newEnv()
	e.healthy(t)
	d := e.doctor(nil)
	d.deps.Preload = map[string]string{"session_preload_libraries": "veil,veil"}

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	check := find(t, report, "Preload")
	assert.Equal(t, StatusFail, check.Status)
	assert.Contains(t, check.Details, "session_preload_libraries")
}

func TestDoctor_SettingsError(t *testing.T) {
	e := newEnv()
	_, err := e.doctor(settings{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checking preload settings")
}

func TestDoctor_InvalidRoleLabel(t *testing.T) {
	e := newEnv()
	e.label(t, catalog.ObjectAddress{Class: catalog.ClassRole, ObjectID: e.analyst}, "yes")

	report, err := e.doctor(nil).Run(context.Background())
	require.NoError(t, err)
	roles := find(t, report, "Roles")
	assert.Equal(t, StatusFail, roles.Status)
	assert.Contains(t, roles.Details, `invalid label "yes" for a role`)
	assert.True(t, report.HasErrors())
}

func TestDoctor_NoLabels(t *testing.T) {
	e := newEnv()
	report, err := e.doctor(nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusWarn, find(t, report, "Roles").Status)
	assert.Equal(t, StatusWarn, find(t, report, "Column Labels").Status)
	for _, c := range report.Checks {
		assert.NotEqual(t, "Masking Queries", c.Category)
	}
}

func TestDoctor_BrokenColumnLabel(t *testing.T) {
	e := newEnv()
	e.label(t, catalog.ObjectAddress{Class: catalog.ClassRole, ObjectID: e.analyst}, veil.RoleMarker)
	e.label(t, catalog.ObjectAddress{Class: catalog.ClassRelation, ObjectID: e.customer, SubID: 2}, "md5(")

	report, err := e.doctor(nil).Run(context.Background())
	require.NoError(t, err)

	labels := find(t, report, "Column Labels")
	assert.Equal(t, StatusFail, labels.Status)
	assert.Contains(t, labels.Details, "public.customer.email = md5(")

	queries := find(t, report, "Masking Queries")
	assert.Equal(t, StatusFail, queries.Status)
	assert.Contains(t, queries.Details, "public.customer")
}

func TestDoctor_DroppedColumnLabel(t *testing.T) {
	e := newEnv()
	e.healthy(t)
	require.NoError(t, e.cat.DropColumn(e.customer, "email"))

	report, err := e.doctor(nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFail, find(t, report, "Column Labels").Status)
}

func TestDoctor_Disabled(t *testing.T) {
	e := newEnv()
	e.opts.Enabled = false
	report, err := e.doctor(nil).Run(context.Background())
	require.NoError(t, err)
	check := find(t, report, "Configuration")
	assert.Equal(t, StatusWarn, check.Status)
	assert.Equal(t, "enabled", check.Name)
}

func TestReport_Print(t *testing.T) {
	r := &Report{}
	r.AddCheck(CheckResult{Category: "Preload", Name: "ordering", Status: StatusPass, Message: "Preload settings are valid"})
	r.AddCheck(CheckResult{
		Category: "Roles",
		Name:     "markers",
		Status:   StatusFail,
		Message:  "1 role labels are invalid",
		Details:  "analyst: bad",
		FixHint:  "Relabel the roles",
	})

	var buf bytes.Buffer
	r.Print(&buf, false)
	out := buf.String()
	assert.Contains(t, out, "Preload settings are valid")
	assert.Contains(t, out, "Fix: Relabel the roles")
	assert.NotContains(t, out, "analyst: bad")
	assert.Contains(t, out, "Summary: 1 passed, 0 warnings, 1 errors")

	buf.Reset()
	r.Print(&buf, true)
	assert.Contains(t, buf.String(), "analyst: bad")
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "pass", StatusPass.String())
	assert.Equal(t, "warn", StatusWarn.String())
	assert.Equal(t, "fail", StatusFail.String())
	assert.Equal(t, "✗", StatusFail.Symbol())
}
