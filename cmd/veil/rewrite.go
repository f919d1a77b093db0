package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5"
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/spf13/cobra"

	"github.com/pthm/veil/internal/cli"
	"github.com/pthm/veil/pkg/pgsql"
	"github.com/pthm/veil/pkg/querytree"
	"github.com/pthm/veil/pkg/session"
)

var (
	rewriteRole    string
	rewriteExecute bool
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite <statement>",
	Short: "Show how a statement is rewritten for a role",
	Long: `Analyze a statement as the given role and print the rewritten query tree.

COPY TO statements print the rewritten COPY text instead, and with --execute
the rewritten COPY is run and its output written to stdout.`,
	Example: `  # Show the masked query tree of a SELECT
  veil rewrite --role analyst "SELECT * FROM customer"

  # Export masked data
  veil rewrite --role analyst --execute "COPY customer TO STDOUT"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := resolveDSN()
		if err != nil {
			return err
		}
		role := resolveString(rewriteRole, cfg.Rewrite.Role)
		return runRewrite(ctx(cmd), dsn, role, args[0], cmd.OutOrStdout())
	},
}

func init() {
	f := rewriteCmd.Flags()
	f.StringVar(&rewriteRole, "role", "", "role to analyze the statement as")
	f.BoolVar(&rewriteExecute, "execute", false, "run a rewritten COPY TO and stream its output")
}

func runRewrite(ctx context.Context, dsn, role, sql string, w io.Writer) error {
	raw, err := pgsql.ParseOne(sql)
	if err != nil {
		return cli.GeneralError("parsing statement", err)
	}
	if raw.GetStmt().GetSecLabelStmt() != nil {
		return cli.GeneralError("use veil label apply for SECURITY LABEL statements", nil)
	}

	e, err := openEngine(ctx, dsn, nil)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	sess, err := e.session(ctx, role)
	if err != nil {
		return err
	}
	defer sess.EndStatement()

	if !pgsql.IsUtility(raw.GetStmt()) {
		if rewriteExecute {
			return cli.GeneralError("--execute only supports COPY TO statements", nil)
		}
		q, err := e.analyzer.Analyze(ctx, sess, raw, sql)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprint(w, querytree.Format(q))
		return nil
	}

	stmt := &querytree.UtilityStmt{
		Node:     raw.GetStmt(),
		Text:     sql,
		Location: int(raw.GetStmtLocation()),
		Length:   int(raw.GetStmtLen()),
	}
	return e.pipeline.ProcessUtility(ctx, sess, stmt, func(ctx context.Context, _ *session.State, stmt *querytree.UtilityStmt) error {
		text := stmt.StatementText()
		if !rewriteExecute {
			_, _ = fmt.Fprintln(w, text)
			return nil
		}
		if !isCopyTo(stmt.Node) {
			return cli.GeneralError("--execute only supports COPY TO statements", nil)
		}
		return copyOut(ctx, dsn, text, w)
	})
}

func isCopyTo(n *pg_query.Node) bool {
	c := n.GetCopyStmt()
	return c != nil && !c.GetIsFrom()
}

// copyOut runs a COPY TO STDOUT statement and streams its output to w.
func copyOut(ctx context.Context, dsn, text string, w io.Writer) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return cli.DBConnectError("connecting to database", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	tag, err := conn.PgConn().CopyTo(ctx, w, text)
	if err != nil {
		return cli.GeneralError("running COPY", err)
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "%s\n", tag)
	}
	return nil
}
