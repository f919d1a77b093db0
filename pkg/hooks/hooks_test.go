package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/lib/pq/oid"
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/pthm/veil"
	"github.com/pthm/veil/internal/telemetry"
	"github.com/pthm/veil/pkg/catalog"
	"github.com/pthm/veil/pkg/pgsql"
	"github.com/pthm/veil/pkg/policy"
	"github.com/pthm/veil/pkg/querytree"
	"github.com/pthm/veil/pkg/rewrite"
	"github.com/pthm/veil/pkg/session"
	"github.com/pthm/veil/pkg/validate"
)

type fixture struct {
	cat      *catalog.Memory
	customer catalog.OID
	orders   catalog.OID
	analyst  catalog.OID
	admin    catalog.OID
	pipeline *Pipeline
	analyzer *pgsql.Analyzer
	masking  *Masking
	metrics  *telemetry.Metrics
}

func newFixture(t *testing.T, opts veil.Options) *fixture {
	t.Helper()
	f := &fixture{cat: catalog.NewMemory(), metrics: telemetry.NewMetrics()}
	col := func(name string, typ oid.Oid) catalog.Column {
		return catalog.Column{Name: name, TypeOID: catalog.OID(typ)}
	}
	f.customer = f.cat.AddTable("public", "customer",
		col("id", oid.T_int4), col("email", oid.T_text), col("phone", oid.T_text),
		catalog.Column{Name: "email_domain", TypeOID: catalog.OID(oid.T_text), Generated: true},
	)
	f.orders = f.cat.AddTable("public", "orders", col("id", oid.T_int4), col("customer_id", oid.T_int4))
	f.analyst = f.cat.AddRole("analyst")
	f.admin = f.cat.AddRole("admin")

	f.setLabel(t, catalog.ObjectAddress{Class: catalog.ClassRole, ObjectID: f.analyst}, veil.RoleMarker)
	f.setLabel(t, catalog.ObjectAddress{Class: catalog.ClassRelation, ObjectID: f.customer, SubID: 2}, "'redacted'")

	f.pipeline = NewPipeline()
	f.analyzer = pgsql.NewAnalyzer(f.cat, pgsql.WithPostAnalyze(f.pipeline.PostAnalyze))
	rw := rewrite.New(policy.NewResolver(f.cat, opts), pgsql.Parser{}, f.analyzer)
	f.masking = NewMasking(f.cat, rw, opts, WithMetrics(f.metrics))
	f.pipeline.Use(f.masking)
	return f
}

func (f *fixture) setLabel(t *testing.T, addr catalog.ObjectAddress, label string) {
	t.Helper()
	require.NoError(t, f.cat.SetLabel(context.Background(), addr, veil.DefaultProvider, &label))
}

func utility(t *testing.T, sql string) *querytree.UtilityStmt {
	t.Helper()
	raw, err := pgsql.ParseOne(sql)
	require.NoError(t, err)
	return &querytree.UtilityStmt{
		Node:     raw.GetStmt(),
		Text:     sql,
		Location: int(raw.GetStmtLocation()),
		Length:   int(raw.GetStmtLen()),
	}
}

// recorder is a final UtilityFunc remembering what it was called with.
type recorder struct {
	calls      int
	stmt       *querytree.UtilityStmt
	suppressed bool
}

func (r *recorder) run(_ context.Context, sess *session.State, stmt *querytree.UtilityStmt) error {
	r.calls++
	r.stmt = stmt
	r.suppressed = sess.Suppressed()
	return nil
}

// copySelect re-parses a rewritten COPY and returns its source query.
func copySelect(t *testing.T, text string) *pg_query.SelectStmt {
	t.Helper()
	raw, err := pgsql.ParseOne(text)
	require.NoError(t, err)
	cs := raw.GetStmt().GetCopyStmt()
	require.NotNil(t, cs)
	assert.Nil(t, cs.GetRelation())
	assert.Empty(t, cs.GetAttlist())
	sel := cs.GetQuery().GetSelectStmt()
	require.NotNil(t, sel, "COPY source is not a SELECT: %s", text)
	return sel
}

// outputs lists the output column names of sel, with masked columns
// rendered as name=constant.
func outputs(sel *pg_query.SelectStmt) []string {
	var out []string
	for _, n := range sel.GetTargetList() {
		rt := n.GetResTarget()
		if rt.GetName() != "" {
			out = append(out, rt.GetName()+"="+rt.GetVal().GetAConst().GetSval().GetSval())
			continue
		}
		fields := rt.GetVal().GetColumnRef().GetFields()
		out = append(out, fields[len(fields)-1].GetString_().GetSval())
	}
	return out
}

func TestMasking_PostAnalyze(t *testing.T) {
	const sql = "SELECT * FROM customer"

	tests := []struct {
		name    string
		opts    func(*veil.Options)
		role    func(*fixture) catalog.OID
		aborted bool
		masked  bool
	}{
		{name: "masked role", role: func(f *fixture) catalog.OID { return f.analyst }, masked: true},
		{name: "unmasked role", role: func(f *fixture) catalog.OID { return f.admin }},
		{name: "disabled", role: func(f *fixture) catalog.OID { return f.analyst }, opts: func(o *veil.Options) { o.Enabled = false }},
		{name: "aborted transaction", role: func(f *fixture) catalog.OID { return f.analyst }, aborted: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := veil.DefaultOptions()
			if tt.opts != nil {
				tt.opts(&opts)
			}
			f := newFixture(t, opts)
			sess := session.New(tt.role(f), "public")
			sess.SetAborted(tt.aborted)

			q, err := f.analyzer.ParseAnalyze(context.Background(), sess, sql)
			require.NoError(t, err)

			rte := q.RTable[0]
			if !tt.masked {
				assert.Equal(t, querytree.RTERelation, rte.Kind)
				assert.Nil(t, rte.Masked)
				return
			}
			assert.Equal(t, querytree.RTESubquery, rte.Kind)
			require.NotNil(t, rte.Masked)
			assert.Equal(t, f.customer, rte.Masked.RelID)
			// the submitted text is left as is
			assert.Equal(t, sql, q.Text)
			assert.False(t, sess.Suppressed())
		})
	}
}

func TestMasking_WriteToMaskedRelation(t *testing.T) {
	for _, sql := range []string{
		"DELETE FROM customer RETURNING email",
		"UPDATE customer SET phone = phone WHERE email LIKE 'a%' RETURNING email",
	} {
		t.Run(sql, func(t *testing.T) {
			f := newFixture(t, veil.DefaultOptions())

			_, err := f.analyzer.ParseAnalyze(context.Background(), session.New(f.analyst, "public"), sql)
			require.Error(t, err)
			assert.True(t, veil.IsRewriteFailureErr(err))
			assert.ErrorIs(t, err, rewrite.ErrMaskedResultRelation)

			// unmasked roles write as usual
			q, err := f.analyzer.ParseAnalyze(context.Background(), session.New(f.admin, "public"), sql)
			require.NoError(t, err)
			assert.Equal(t, querytree.RTERelation, q.RTable[q.ResultRelation-1].Kind)
		})
	}
}

func TestMasking_RoleLabelMustBeMarker(t *testing.T) {
	f := newFixture(t, veil.DefaultOptions())
	f.setLabel(t, catalog.ObjectAddress{Class: catalog.ClassRole, ObjectID: f.admin}, "yes")

	ok, err := f.masking.Applies(context.Background(), session.New(f.admin, "public"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.masking.Applies(context.Background(), session.New(f.analyst, "public"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMasking_SuppressedSessionIsNotRewritten(t *testing.T) {
	f := newFixture(t, veil.DefaultOptions())
	sess := session.New(f.analyst, "public")
	release := sess.Suppress()
	defer release()

	q, err := f.analyzer.ParseAnalyze(context.Background(), sess, "SELECT * FROM customer")
	require.NoError(t, err)
	assert.Equal(t, querytree.RTERelation, q.RTable[0].Kind)
}

func TestMasking_CopyTo(t *testing.T) {
	f := newFixture(t, veil.DefaultOptions())
	sess := session.New(f.analyst, "public")
	stmt := utility(t, "COPY customer TO STDOUT")

	var final recorder
	require.NoError(t, f.pipeline.ProcessUtility(context.Background(), sess, stmt, final.run))

	require.Equal(t, 1, final.calls)
	assert.Same(t, stmt, final.stmt)
	assert.True(t, final.suppressed)
	assert.False(t, sess.Suppressed())

	assert.Equal(t, 0, stmt.Location)
	assert.Equal(t, len(stmt.Text), stmt.Length)
	assert.Contains(t, stmt.Text, "TO STDOUT")

	sel := copySelect(t, stmt.Text)
	// generated columns are never exported
	assert.Equal(t, []string{"id", "email=redacted", "phone"}, outputs(sel))
	rv := sel.GetFromClause()[0].GetRangeVar()
	assert.Equal(t, "public", rv.GetSchemaname())
	assert.Equal(t, "customer", rv.GetRelname())
	assert.False(t, rv.GetInh(), "masking query must use ONLY")

	n, err := testutil.GatherAndCount(f.metrics.Registry(), "veil_interceptions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMasking_CopyColumnList(t *testing.T) {
	f := newFixture(t, veil.DefaultOptions())
	sess := session.New(f.analyst, "public")
	stmt := utility(t, "COPY public.customer (email, id) TO STDOUT WITH (FORMAT csv)")

	var final recorder
	require.NoError(t, f.pipeline.ProcessUtility(context.Background(), sess, stmt, final.run))

	assert.Equal(t, []string{"email=redacted", "id"}, outputs(copySelect(t, stmt.Text)))
}

func TestMasking_CopyPassThrough(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		role func(*fixture) catalog.OID
	}{
		{name: "unmasked role", sql: "COPY customer TO STDOUT", role: func(f *fixture) catalog.OID { return f.admin }},
		{name: "copy from", sql: "COPY customer FROM STDIN", role: func(f *fixture) catalog.OID { return f.analyst }},
		{name: "copy query", sql: "COPY (SELECT 1) TO STDOUT", role: func(f *fixture) catalog.OID { return f.analyst }},
		{name: "no policy", sql: "COPY orders TO STDOUT", role: func(f *fixture) catalog.OID { return f.analyst }},
		{name: "other utility", sql: "VACUUM customer", role: func(f *fixture) catalog.OID { return f.analyst }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, veil.DefaultOptions())
			stmt := utility(t, tt.sql)
			before := proto.Clone(stmt.Node)

			var final recorder
			require.NoError(t, f.pipeline.ProcessUtility(context.Background(), session.New(tt.role(f), "public"), stmt, final.run))

			require.Equal(t, 1, final.calls)
			assert.Same(t, stmt, final.stmt)
			assert.Equal(t, tt.sql, stmt.Text)
			assert.True(t, proto.Equal(before, stmt.Node))
		})
	}
}

func TestMasking_CopyReadOnlyTree(t *testing.T) {
	f := newFixture(t, veil.DefaultOptions())
	stmt := utility(t, "COPY customer TO STDOUT")
	stmt.ReadOnlyTree = true
	before := proto.Clone(stmt.Node)

	var final recorder
	require.NoError(t, f.pipeline.ProcessUtility(context.Background(), session.New(f.analyst, "public"), stmt, final.run))

	assert.True(t, proto.Equal(before, stmt.Node), "read-only tree was modified")
	assert.Equal(t, "COPY customer TO STDOUT", stmt.Text)
	require.NotSame(t, stmt, final.stmt)
	copySelect(t, final.stmt.Text)
}

func TestMasking_CopyRewriteFailure(t *testing.T) {
	f := newFixture(t, veil.DefaultOptions())
	f.setLabel(t, catalog.ObjectAddress{Class: catalog.ClassRelation, ObjectID: f.customer, SubID: 3}, "substr(")
	stmt := utility(t, "COPY customer TO STDOUT")
	before := proto.Clone(stmt.Node)

	var final recorder
	err := f.pipeline.ProcessUtility(context.Background(), session.New(f.analyst, "public"), stmt, final.run)
	require.Error(t, err)
	assert.True(t, veil.IsRewriteFailureErr(err))
	assert.Zero(t, final.calls)
	assert.True(t, proto.Equal(before, stmt.Node))
	assert.Equal(t, "COPY customer TO STDOUT", stmt.Text)
}

type traceInterceptor struct {
	name  string
	trace *[]string
	stop  bool
}

func (i traceInterceptor) Name() string { return i.name }

func (i traceInterceptor) PostAnalyze(context.Context, *session.State, *querytree.Query) error {
	*i.trace = append(*i.trace, "analyze:"+i.name)
	if i.stop {
		return errors.New(i.name + " failed")
	}
	return nil
}

func (i traceInterceptor) ProcessUtility(ctx context.Context, sess *session.State, stmt *querytree.UtilityStmt, next UtilityFunc) error {
	*i.trace = append(*i.trace, "utility:"+i.name)
	if i.stop {
		return nil
	}
	return next(ctx, sess, stmt)
}

type nameOnly struct{}

func (nameOnly) Name() string { return "nothing" }

func TestPipeline_Order(t *testing.T) {
	var trace []string
	p := NewPipeline()
	p.Use(traceInterceptor{name: "a", trace: &trace}, nameOnly{}, traceInterceptor{name: "b", trace: &trace})

	require.NoError(t, p.PostAnalyze(context.Background(), session.New(1), &querytree.Query{}))
	require.NoError(t, p.ProcessUtility(context.Background(), session.New(1), &querytree.UtilityStmt{},
		func(context.Context, *session.State, *querytree.UtilityStmt) error {
			trace = append(trace, "final")
			return nil
		}))

	assert.Equal(t, []string{"analyze:a", "analyze:b", "utility:a", "utility:b", "final"}, trace)
}

func TestPipeline_ShortCircuit(t *testing.T) {
	var trace []string
	p := NewPipeline()
	p.Use(traceInterceptor{name: "a", trace: &trace, stop: true}, traceInterceptor{name: "b", trace: &trace})

	err := p.PostAnalyze(context.Background(), session.New(1), &querytree.Query{})
	assert.EqualError(t, err, "a failed")

	var final recorder
	require.NoError(t, p.ProcessUtility(context.Background(), session.New(1), &querytree.UtilityStmt{}, final.run))
	assert.Zero(t, final.calls)
	assert.Equal(t, []string{"analyze:a", "utility:a"}, trace)
}

func TestPipeline_Empty(t *testing.T) {
	var final recorder
	stmt := &querytree.UtilityStmt{Text: "VACUUM"}
	require.NoError(t, NewPipeline().ProcessUtility(context.Background(), session.New(1), stmt, final.run))
	assert.Same(t, stmt, final.stmt)
}

func newLabels(t *testing.T) (*fixture, *Pipeline) {
	t.Helper()
	opts := veil.DefaultOptions()
	opts.CheckLabels = false
	f := newFixture(t, opts)
	v := validate.New(f.cat, pgsql.Parser{}, nil, opts)
	p := NewPipeline()
	p.Use(NewLabels(f.cat, v, f.cat, opts), f.masking)
	return f, p
}

func TestLabels_Column(t *testing.T) {
	f, p := newLabels(t)
	sess := session.New(f.admin, "public")
	ctx := context.Background()

	var final recorder
	require.NoError(t, p.ProcessUtility(ctx, sess,
		utility(t, "SECURITY LABEL FOR veil ON COLUMN customer.phone IS $$'000'$$"), final.run))
	assert.Zero(t, final.calls, "handled statements do not reach the host")

	labels, err := f.cat.ColumnLabels(ctx, f.customer, veil.DefaultProvider)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{2: "'redacted'", 3: "'000'"}, labels)

	require.NoError(t, p.ProcessUtility(ctx, sess,
		utility(t, "SECURITY LABEL FOR veil ON COLUMN public.customer.phone IS NULL"), final.run))
	labels, err = f.cat.ColumnLabels(ctx, f.customer, veil.DefaultProvider)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{2: "'redacted'"}, labels)
}

func TestLabels_Rejected(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		is   error
	}{
		{name: "injection", sql: "SECURITY LABEL FOR veil ON COLUMN customer.phone IS $$'x' AS a FROM orders; DROP TABLE customer; SELECT 1$$", is: veil.ErrLabelRejected},
		{name: "table", sql: "SECURITY LABEL FOR veil ON TABLE customer IS 'x'", is: veil.ErrLabelRejected},
		{name: "schema", sql: "SECURITY LABEL FOR veil ON SCHEMA public IS 'x'", is: veil.ErrLabelRejected},
		{name: "bad role marker", sql: "SECURITY LABEL FOR veil ON ROLE admin IS 'masked'", is: veil.ErrLabelRejected},
		{name: "unknown column", sql: "SECURITY LABEL FOR veil ON COLUMN customer.nope IS 'x'", is: catalog.ErrColumnNotFound},
		{name: "unknown role", sql: "SECURITY LABEL FOR veil ON ROLE nobody IS 'anonymize'", is: catalog.ErrRoleNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, p := newLabels(t)
			before := f.cat.Labels()

			var final recorder
			err := p.ProcessUtility(context.Background(), session.New(f.admin, "public"), utility(t, tt.sql), final.run)
			assert.ErrorIs(t, err, tt.is)
			assert.Zero(t, final.calls)
			assert.Equal(t, before, f.cat.Labels())
		})
	}
}

func TestLabels_Role(t *testing.T) {
	f, p := newLabels(t)
	ctx := context.Background()
	sess := session.New(f.admin, "public")

	var final recorder
	require.NoError(t, p.ProcessUtility(ctx, sess, utility(t, "SECURITY LABEL FOR veil ON ROLE admin IS 'anonymize'"), final.run))
	ok, err := f.masking.Applies(ctx, sess)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, p.ProcessUtility(ctx, sess, utility(t, "SECURITY LABEL FOR veil ON ROLE admin IS NULL"), final.run))
	ok, err = f.masking.Applies(ctx, sess)
	require.NoError(t, err)
	assert.False(t, ok)
}

type warningChecker []veil.ValidationWarning

func (c warningChecker) CheckLabel(context.Context, *session.State, catalog.ObjectAddress, *string) ([]veil.ValidationWarning, error) {
	return c, nil
}

func TestLabels_Warnings(t *testing.T) {
	f := newFixture(t, veil.DefaultOptions())
	warn := veil.ValidationWarning{Object: "public.customer.phone", Message: "type checks are disabled"}

	var got []veil.ValidationWarning
	p := NewPipeline()
	p.Use(NewLabels(f.cat, warningChecker{warn}, f.cat, veil.DefaultOptions(),
		WithWarningHandler(func(w veil.ValidationWarning) { got = append(got, w) })))

	var final recorder
	require.NoError(t, p.ProcessUtility(context.Background(), session.New(f.admin, "public"),
		utility(t, "SECURITY LABEL FOR veil ON COLUMN customer.phone IS 'x'"), final.run))
	assert.Equal(t, []veil.ValidationWarning{warn}, got)

	labels, err := f.cat.ColumnLabels(context.Background(), f.customer, veil.DefaultProvider)
	require.NoError(t, err)
	assert.Equal(t, "x", labels[3], "warnings do not block the label")
}

func TestLabels_OtherProvider(t *testing.T) {
	f, p := newLabels(t)
	before := f.cat.Labels()
	stmt := utility(t, "SECURITY LABEL FOR selinux ON COLUMN customer.phone IS 'system_u:object_r:sepgsql_table_t:s0'")

	var final recorder
	require.NoError(t, p.ProcessUtility(context.Background(), session.New(f.admin, "public"), stmt, final.run))
	assert.Equal(t, 1, final.calls)
	assert.Equal(t, before, f.cat.Labels())
}

func TestCheckPreload(t *testing.T) {
	tests := []struct {
		name    string
		lists   []PreloadList
		wantErr string
	}{
		{name: "absent", lists: DefaultPreloadLists("pg_stat_statements", "", "")},
		{name: "last", lists: DefaultPreloadLists("pg_stat_statements, veil", "", "")},
		{name: "only", lists: DefaultPreloadLists("veil", "", "")},
		{name: "libdir path", lists: DefaultPreloadLists(`auto_explain, "$libdir/veil.so"`, "", "")},
		{name: "lenient list any position", lists: DefaultPreloadLists("", "veil, auto_explain", "")},
		{
			name:    "not last",
			lists:   DefaultPreloadLists("veil, pg_stat_statements", "", ""),
			wantErr: "veil: shared_preload_libraries: veil must be the last library, found pg_stat_statements after it",
		},
		{
			name:    "duplicate in strict list",
			lists:   DefaultPreloadLists("veil, $libdir/veil", "", ""),
			wantErr: "veil: shared_preload_libraries: veil is listed more than once",
		},
		{
			name:    "duplicate in lenient list",
			lists:   DefaultPreloadLists("", "", "veil,veil"),
			wantErr: "veil: local_preload_libraries: veil is listed more than once",
		},
		{
			name:    "unparsable",
			lists:   DefaultPreloadLists(`"veil`, "", ""),
			wantErr: "veil: shared_preload_libraries: cannot parse library list: unterminated quoted name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPreload(tt.lists, "veil")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
			assert.True(t, veil.IsConfigurationErr(err))
		})
	}
}

type settingMap map[string]string

func (s settingMap) Setting(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", errors.New("unrecognized configuration parameter")
}

func TestReadPreloadLists(t *testing.T) {
	server := settingMap{
		"shared_preload_libraries":  "veil,auto_explain",
		"session_preload_libraries": "auto_explain",
		"local_preload_libraries":   "",
	}

	lists, err := ReadPreloadLists(context.Background(), server, map[string]string{"session_preload_libraries": "veil"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPreloadLists("veil,auto_explain", "veil", ""), lists)
	assert.Error(t, CheckPreload(lists, "veil"))

	lists, err = ReadPreloadLists(context.Background(), nil, map[string]string{"shared_preload_libraries": "veil"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPreloadLists("veil", "", ""), lists)

	_, err = ReadPreloadLists(context.Background(), settingMap{}, nil)
	assert.EqualError(t, err, "reading shared_preload_libraries: unrecognized configuration parameter")
}

func TestSplitLibraryList(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr string
	}{
		{name: "mixed", in: ` a ,"b c",  "d""e"  `, want: []string{"a", "b c", `d"e`}},
		{name: "blank", in: "   "},
		{name: "inner space", in: "$libdir/my lib", want: []string{"$libdir/my lib"}},
		{name: "inner space trimmed", in: "\tpg_stat_statements ,  $libdir/my lib  ,veil", want: []string{"pg_stat_statements", "$libdir/my lib", "veil"}},
		{name: "quote inside unquoted", in: `a "b"`, want: []string{`a "b"`}},
		{name: "trailing comma", in: "a,", wantErr: "trailing comma"},
		{name: "leading comma", in: ",a", wantErr: "empty name"},
		{name: "empty entry", in: "a, ,b", wantErr: "empty name"},
		{name: "text after quoted", in: `"a" b`, wantErr: "unexpected"},
		{name: "empty quoted", in: `""`, wantErr: "empty quoted name"},
		{name: "unterminated", in: `"veil`, wantErr: "unterminated quoted name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitLibraryList(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLibraryName(t *testing.T) {
	assert.Equal(t, "veil", LibraryName("veil"))
	assert.Equal(t, "veil", LibraryName("$libdir/veil"))
	assert.Equal(t, "veil", LibraryName("$libdir/plugins/veil.so"))
	assert.Equal(t, "veil", LibraryName("/usr/lib/postgresql/veil.dylib"))
	assert.Equal(t, "veil.v2", LibraryName("veil.v2"))
}
