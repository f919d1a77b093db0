package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/pthm/veil"
	"github.com/pthm/veil/internal/cli"
	"github.com/pthm/veil/pkg/catalog"
	"github.com/pthm/veil/pkg/pgcatalog"
	"github.com/pthm/veil/pkg/pgsql"
	"github.com/pthm/veil/pkg/querytree"
	"github.com/pthm/veil/pkg/session"
)

var labelApplyDryRun bool

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Check, apply and list masking labels",
}

var labelCheckCmd = &cobra.Command{
	Use:   "check <column> <expression>",
	Short: "Validate a masking expression for a column",
	Long: `Validate a masking expression for a column without storing it.

The column is written as table.column or schema.table.column. Unqualified
tables are resolved through rewrite.search_path.`,
	Example: `  veil label check customer.email "'redacted'"
  veil label check app.customer.phone "md5(phone)"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := resolveDSN()
		if err != nil {
			return err
		}
		return runLabelCheck(ctx(cmd), dsn, args[0], args[1], cmd.OutOrStdout())
	},
}

var labelApplyCmd = &cobra.Command{
	Use:   "apply <statement>",
	Short: "Validate and store a SECURITY LABEL statement",
	Example: `  veil label apply "SECURITY LABEL FOR veil ON COLUMN customer.email IS '''redacted'''"

  # Print the statement that would be stored
  veil label apply --dry-run "SECURITY LABEL FOR veil ON ROLE analyst IS 'anonymize'"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := resolveDSN()
		if err != nil {
			return err
		}
		return runLabelApply(ctx(cmd), dsn, args[0], labelApplyDryRun, cmd.OutOrStdout())
	},
}

var labelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored masking labels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := resolveDSN()
		if err != nil {
			return err
		}
		return runLabelList(ctx(cmd), dsn, cmd.OutOrStdout())
	},
}

func init() {
	labelApplyCmd.Flags().BoolVar(&labelApplyDryRun, "dry-run", false, "print the statement instead of storing the label")
	labelCmd.AddCommand(labelCheckCmd, labelApplyCmd, labelListCmd)
}

func ctx(cmd *cobra.Command) context.Context {
	if c := cmd.Context(); c != nil {
		return c
	}
	return context.Background()
}

// splitColumn splits [schema.]table.column.
func splitColumn(s string) (schema, table, column string, err error) {
	parts := strings.Split(s, ".")
	switch len(parts) {
	case 2:
		return "", parts[0], parts[1], nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	default:
		return "", "", "", fmt.Errorf("expected table.column or schema.table.column, got %q", s)
	}
}

func runLabelCheck(ctx context.Context, dsn, target, expr string, w io.Writer) error {
	schema, table, column, err := splitColumn(target)
	if err != nil {
		return cli.GeneralError("parsing column", err)
	}

	e, err := openEngine(ctx, dsn, nil)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	sess := session.New(catalog.InvalidOID, cfg.Rewrite.SearchPath...)
	rel, err := e.cat.LookupRelation(ctx, schema, table, sess.SearchPath())
	if err != nil {
		return cli.GeneralError("resolving table", err)
	}
	warnings, err := e.validator.ValidateExpression(ctx, sess, rel, column, expr)
	if err != nil {
		return cli.LabelRejectedError("masking expression rejected", err)
	}
	for _, warn := range warnings {
		_, _ = fmt.Fprintf(w, "warning: %s\n", warn)
	}
	if !quiet {
		_, _ = fmt.Fprintf(w, "%s.%s: masking expression accepted\n", rel, column)
	}
	return nil
}

// printWriter prints label statements instead of running them.
type printWriter struct {
	stmts *pgcatalog.LabelWriter
	w     io.Writer
}

func (p printWriter) SetLabel(ctx context.Context, addr catalog.ObjectAddress, provider string, label *string) error {
	stmt, err := p.stmts.Statement(ctx, addr, provider, label)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.w, stmt+";")
	return err
}

func runLabelApply(ctx context.Context, dsn, text string, dryRun bool, w io.Writer) error {
	raw, err := pgsql.ParseOne(text)
	if err != nil {
		return cli.GeneralError("parsing statement", err)
	}
	if raw.GetStmt().GetSecLabelStmt() == nil {
		return cli.GeneralError("not a SECURITY LABEL statement", nil)
	}

	var newWriter func(*sql.DB) catalog.LabelWriter
	if dryRun {
		newWriter = func(db *sql.DB) catalog.LabelWriter {
			return printWriter{stmts: pgcatalog.NewLabelWriter(db), w: w}
		}
	}
	e, err := openEngine(ctx, dsn, newWriter)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()
	e.warn = func(warn veil.ValidationWarning) {
		_, _ = fmt.Fprintf(w, "warning: %s\n", warn)
	}

	sess := session.New(catalog.InvalidOID, cfg.Rewrite.SearchPath...)
	defer sess.EndStatement()
	stmt := &querytree.UtilityStmt{
		Node:     raw.GetStmt(),
		Text:     text,
		Location: int(raw.GetStmtLocation()),
		Length:   int(raw.GetStmtLen()),
	}
	err = e.pipeline.ProcessUtility(ctx, sess, stmt, func(context.Context, *session.State, *querytree.UtilityStmt) error {
		return cli.GeneralError(fmt.Sprintf("label is not for provider %q", e.opts.ProviderName()), nil)
	})
	if veil.IsLabelRejectedErr(err) {
		return cli.LabelRejectedError("label rejected", err)
	}
	if err != nil {
		return err
	}
	if !dryRun && !quiet {
		_, _ = fmt.Fprintln(w, "label stored")
	}
	return nil
}

func runLabelList(ctx context.Context, dsn string, w io.Writer) error {
	e, err := openEngine(ctx, dsn, nil)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	labels, err := e.cat.Labels(ctx, e.opts.ProviderName())
	if err != nil {
		return cli.GeneralError("listing labels", err)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("OBJECT", "KIND", "LABEL")
	for _, l := range labels {
		object, kind := describeLabel(ctx, e.cat, l.Object)
		t.Row(object, kind, l.Text)
	}
	_, err = fmt.Fprintln(w, t.Render())
	return err
}

func describeLabel(ctx context.Context, cat *pgcatalog.Catalog, addr catalog.ObjectAddress) (object, kind string) {
	switch addr.Class {
	case catalog.ClassRole:
		if name, err := cat.RoleName(ctx, addr.ObjectID); err == nil {
			return name, "role"
		}
		return fmt.Sprintf("%d", addr.ObjectID), "role"
	default:
		rel, err := cat.Relation(ctx, addr.ObjectID)
		if err != nil {
			return fmt.Sprintf("%d.%d", addr.ObjectID, addr.SubID), "column"
		}
		if col, ok := rel.Column(addr.SubID); ok {
			return rel.String() + "." + col.Name, "column"
		}
		return rel.String(), rel.Kind.String()
	}
}
