package veil

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure classes of the engine. Every typed error
// below matches one of them with errors.Is, so callers can branch on the
// class without caring about the concrete type.
var (
	// ErrConfiguration is returned when the engine must not be activated,
	// for example because the preload ordering is wrong or a configured
	// library list cannot be parsed.
	ErrConfiguration = errors.New("veil: configuration error")

	// ErrLabelRejected is returned when a security label declaration fails
	// validation. The label is never stored.
	ErrLabelRejected = errors.New("veil: label rejected")

	// ErrRewriteFailure is returned when a masking sub-query cannot be
	// synthesized. The statement must be aborted rather than run unmasked.
	ErrRewriteFailure = errors.New("veil: rewrite failure")
)

// IsConfigurationErr returns true if err is or wraps ErrConfiguration.
func IsConfigurationErr(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsLabelRejectedErr returns true if err is or wraps ErrLabelRejected.
func IsLabelRejectedErr(err error) bool {
	return errors.Is(err, ErrLabelRejected)
}

// IsRewriteFailureErr returns true if err is or wraps ErrRewriteFailure.
func IsRewriteFailureErr(err error) bool {
	return errors.Is(err, ErrRewriteFailure)
}

// ConfigurationError aborts module activation.
type ConfigurationError struct {
	// Setting names the offending configuration item, if any.
	Setting string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("veil: ")
	if e.Setting != "" {
		fmt.Fprintf(&b, "%s: ", e.Setting)
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is reports ErrConfiguration as a match.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// LabelRejectedError describes why a label declaration was refused.
type LabelRejectedError struct {
	// Object is a human-readable description of the labelled object.
	Object  string
	Message string
	Err     error
}

func (e *LabelRejectedError) Error() string {
	msg := e.Message
	if e.Object != "" {
		msg = fmt.Sprintf("%s: %s", e.Object, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("veil: %s: %v", msg, e.Err)
	}
	return "veil: " + msg
}

func (e *LabelRejectedError) Unwrap() error { return e.Err }

// Is reports ErrLabelRejected as a match.
func (e *LabelRejectedError) Is(target error) bool { return target == ErrLabelRejected }

// Rejectf builds a LabelRejectedError for object with a formatted message.
func Rejectf(object, format string, args ...any) *LabelRejectedError {
	return &LabelRejectedError{Object: object, Message: fmt.Sprintf(format, args...)}
}

// RewriteFailure is returned when the masking query generated for a relation
// fails to parse or analyze.
type RewriteFailure struct {
	// Relation is the qualified name of the relation being masked.
	Relation string
	// Expressions are the masking expressions that went into the query.
	Expressions []string
	// SQL is the synthesized query text.
	SQL string
	Err error
}

func (e *RewriteFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "veil: masking %s", e.Relation)
	if len(e.Expressions) > 0 {
		fmt.Fprintf(&b, " (expressions: %s)", strings.Join(e.Expressions, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RewriteFailure) Unwrap() error { return e.Err }

// Is reports ErrRewriteFailure as a match.
func (e *RewriteFailure) Is(target error) bool { return target == ErrRewriteFailure }

// ValidationWarning is a non-fatal advisory produced while validating a
// label. The label is stored regardless.
type ValidationWarning struct {
	Object  string
	Message string
	Detail  string
}

func (w ValidationWarning) String() string {
	s := w.Message
	if w.Object != "" {
		s = w.Object + ": " + s
	}
	if w.Detail != "" {
		s += " (" + w.Detail + ")"
	}
	return s
}
