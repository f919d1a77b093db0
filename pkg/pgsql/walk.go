package pgsql

import (
	"context"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/pthm/veil/pkg/querytree"
)

// subLinks analyzes every sub-select found in parts and appends it to
// q.SubLinks. Each part is a *pg_query.Node, a []*pg_query.Node or any other
// parse tree message.
func (b *builder) subLinks(ctx context.Context, q *querytree.Query, sc *scope, parts ...any) error {
	for _, part := range parts {
		switch p := part.(type) {
		case []*pg_query.Node:
			for _, n := range p {
				if err := b.walkSubLinks(ctx, q, sc, n); err != nil {
					return err
				}
			}
		case proto.Message:
			if err := b.walkSubLinks(ctx, q, sc, p); err != nil {
				return err
			}
		case nil:
		default:
			return fmt.Errorf("pgsql: cannot walk %T", part)
		}
	}
	return nil
}

func (b *builder) walkSubLinks(ctx context.Context, q *querytree.Query, sc *scope, m proto.Message) error {
	msg := m.ProtoReflect()
	if !msg.IsValid() {
		return nil
	}
	if sl, ok := m.(*pg_query.SubLink); ok {
		sub, err := b.statement(ctx, sl.GetSubselect(), sc)
		if err != nil {
			return err
		}
		q.SubLinks = append(q.SubLinks, sub)
		if sl.GetTestexpr() != nil {
			return b.walkSubLinks(ctx, q, sc, sl.GetTestexpr())
		}
		return nil
	}

	var err error
	msg.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Kind() != protoreflect.MessageKind || fd.IsMap() {
			return true
		}
		if fd.IsList() {
			list := v.List()
			for i := 0; i < list.Len() && err == nil; i++ {
				err = b.walkSubLinks(ctx, q, sc, list.Get(i).Message().Interface())
			}
		} else {
			err = b.walkSubLinks(ctx, q, sc, v.Message().Interface())
		}
		return err == nil
	})
	return err
}

// deparseExpr renders a single expression by deparsing it as the only
// target of a SELECT.
func deparseExpr(expr *pg_query.Node) (string, error) {
	stmt := &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: &pg_query.SelectStmt{
		TargetList: []*pg_query.Node{{Node: &pg_query.Node_ResTarget{ResTarget: &pg_query.ResTarget{Val: expr}}}},
		Op:         pg_query.SetOperation_SETOP_NONE,
	}}}
	text, err := Deparse(stmt)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(text, "SELECT "), nil
}
