// Package session holds the per-session mutable state the masking engine
// consults and temporarily overrides: the reentrancy flag, the transaction
// read-only flag and the search path.
//
// Every override returns a release function that restores the previous
// value. Callers pair them with defer so restoration happens on every exit
// path, panics included:
//
//	release := sess.Suppress()
//	defer release()
//
// A State belongs to exactly one session and is not safe for concurrent use.
package session

import (
	"slices"

	"github.com/pthm/veil/pkg/catalog"
)

// Settings is a snapshot of the overridable settings, handed to collaborators
// that apply them to a live connection.
type Settings struct {
	ReadOnly   bool
	SearchPath []string
}

// State is the RewriteContext of one session.
type State struct {
	role       catalog.OID
	suppressed bool
	readOnly   bool
	searchPath []string
	aborted    bool

	// session-level values restored by EndStatement
	baseReadOnly   bool
	baseSearchPath []string
}

// New creates the state of a session running as role with the given search
// path.
func New(role catalog.OID, searchPath ...string) *State {
	return &State{
		role:           role,
		searchPath:     slices.Clone(searchPath),
		baseSearchPath: slices.Clone(searchPath),
	}
}

// Role returns the current role.
func (s *State) Role() catalog.OID { return s.role }

// SetRole switches the current role, as SET ROLE does.
func (s *State) SetRole(role catalog.OID) { s.role = role }

// Suppressed reports whether interception is currently suppressed because
// the engine itself is issuing the statement.
func (s *State) Suppressed() bool { return s.suppressed }

// ReadOnly reports the effective transaction read-only flag.
func (s *State) ReadOnly() bool { return s.readOnly }

// SearchPath returns a copy of the effective search path.
func (s *State) SearchPath() []string { return slices.Clone(s.searchPath) }

// Aborted reports whether the current transaction is in a failed state.
func (s *State) Aborted() bool { return s.aborted }

// SetAborted records the transaction state reported by the host.
func (s *State) SetAborted(aborted bool) { s.aborted = aborted }

// SetReadOnly sets the session-level read-only flag.
func (s *State) SetReadOnly(readOnly bool) {
	s.readOnly = readOnly
	s.baseReadOnly = readOnly
}

// Settings returns a snapshot of the effective settings.
func (s *State) Settings() Settings {
	return Settings{ReadOnly: s.readOnly, SearchPath: s.SearchPath()}
}

// Suppress sets the reentrancy flag until the returned release runs.
func (s *State) Suppress() (release func()) {
	prev := s.suppressed
	s.suppressed = true
	return once(func() { s.suppressed = prev })
}

// OverrideReadOnly forces the read-only flag until the returned release
// runs.
func (s *State) OverrideReadOnly(readOnly bool) (release func()) {
	prev := s.readOnly
	s.readOnly = readOnly
	return once(func() { s.readOnly = prev })
}

// OverrideSearchPath replaces the search path until the returned release
// runs.
func (s *State) OverrideSearchPath(path ...string) (release func()) {
	prev := s.searchPath
	s.searchPath = slices.Clone(path)
	return once(func() { s.searchPath = prev })
}

// EndStatement forcibly restores the session-level values, as the host does
// when a statement ends or its transaction aborts. It covers overrides whose
// release never ran.
func (s *State) EndStatement() {
	s.suppressed = false
	s.readOnly = s.baseReadOnly
	s.searchPath = slices.Clone(s.baseSearchPath)
}

// once makes a release func safe to call more than once. A second call would
// otherwise restore a value captured before a later override.
func once(fn func()) func() {
	done := false
	return func() {
		if done {
			return
		}
		done = true
		fn()
	}
}
