package validate

import (
	"context"
	"fmt"

	"github.com/pthm/veil"
	"github.com/pthm/veil/internal/telemetry"
	"github.com/pthm/veil/pkg/catalog"
	"github.com/pthm/veil/pkg/session"
)

// CheckLabel runs the checks every label declaration for our provider goes
// through. label is nil when the declaration removes the label.
func (v *Validator) CheckLabel(ctx context.Context, sess *session.State, addr catalog.ObjectAddress, label *string) ([]veil.ValidationWarning, error) {
	var (
		warnings []veil.ValidationWarning
		err      error
	)
	switch addr.Class {
	case catalog.ClassRelation:
		warnings, err = v.checkColumnLabel(ctx, sess, addr, label)
		v.record("column", warnings, err)
	case catalog.ClassRole:
		if label != nil && *label != veil.RoleMarker {
			err = veil.Rejectf(fmt.Sprintf("role %d", addr.ObjectID), "invalid label %q for a role", *label)
		}
		v.record("role", nil, err)
	default:
		kind := addr.Kind
		if kind == "" {
			kind = addr.Class.String()
		}
		err = veil.Rejectf(kind, "security labels for provider %q are not supported on this object kind", v.opts.ProviderName())
		v.record("other", nil, err)
	}
	return warnings, err
}

func (v *Validator) checkColumnLabel(ctx context.Context, sess *session.State, addr catalog.ObjectAddress, label *string) ([]veil.ValidationWarning, error) {
	rel, err := v.cat.Relation(ctx, addr.ObjectID)
	if err != nil {
		return nil, &veil.LabelRejectedError{Object: fmt.Sprintf("relation %d", addr.ObjectID), Message: "cannot read relation", Err: err}
	}
	object := "relation " + rel.String()
	if addr.SubID == 0 {
		return nil, veil.Rejectf(object, "only security labels on columns are supported")
	}
	if catalog.IsSystemNamespace(rel.Namespace) {
		return nil, veil.Rejectf(object, "unsupported catalog relation")
	}
	col, ok := rel.Column(addr.SubID)
	if !ok || col.Dropped {
		return nil, &veil.LabelRejectedError{Object: object, Message: fmt.Sprintf("column %d does not exist", addr.SubID), Err: catalog.ErrColumnNotFound}
	}
	if label == nil {
		return nil, nil
	}
	return v.ValidateExpression(ctx, sess, rel, col.Name, *label)
}

func (v *Validator) record(class string, warnings []veil.ValidationWarning, err error) {
	switch {
	case err != nil:
		v.metrics.RecordValidation(class, telemetry.OutcomeRejected)
	case len(warnings) > 0:
		v.metrics.RecordValidation(class, telemetry.OutcomeWarning)
	default:
		v.metrics.RecordValidation(class, telemetry.OutcomeAccepted)
	}
}
