package hooks

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/pthm/veil"
)

// PreloadList is one of the host's ordered library preload settings.
type PreloadList struct {
	// Setting is the name of the setting, for error messages.
	Setting string
	// Value is the raw comma-separated list.
	Value string
	// Strict lists require the library to be loaded last. Lenient lists
	// only require it to appear at most once.
	Strict bool
}

// DefaultPreloadLists returns the three PostgreSQL preload settings with
// shared_preload_libraries as the only strict one.
func DefaultPreloadLists(shared, session, local string) []PreloadList {
	return []PreloadList{
		{Setting: "shared_preload_libraries", Value: shared, Strict: true},
		{Setting: "session_preload_libraries", Value: session},
		{Setting: "local_preload_libraries", Value: local},
	}
}

// SettingReader reads the current value of a server setting.
type SettingReader interface {
	Setting(ctx context.Context, name string) (string, error)
}

// ReadPreloadLists fills DefaultPreloadLists. A non-empty override wins over
// the server value; lists without one are read from settings, or left empty
// when settings is nil.
func ReadPreloadLists(ctx context.Context, settings SettingReader, overrides map[string]string) ([]PreloadList, error) {
	lists := DefaultPreloadLists("", "", "")
	for i := range lists {
		l := &lists[i]
		if v := overrides[l.Setting]; v != "" {
			l.Value = v
			continue
		}
		if settings == nil {
			continue
		}
		v, err := settings.Setting(ctx, l.Setting)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", l.Setting, err)
		}
		l.Value = v
	}
	return lists, nil
}

// CheckPreload verifies library is loaded at most once per list and, in
// strict lists, after every other library. Rewriting changes the query tree
// without updating the statement text, so no interceptor loaded after veil
// may depend on the two agreeing.
func CheckPreload(lists []PreloadList, library string) error {
	want := LibraryName(library)
	for _, l := range lists {
		libs, err := SplitLibraryList(l.Value)
		if err != nil {
			return &veil.ConfigurationError{Setting: l.Setting, Message: "cannot parse library list", Err: err}
		}
		pos := -1
		for i, lib := range libs {
			if LibraryName(lib) != want {
				continue
			}
			if pos >= 0 {
				return &veil.ConfigurationError{
					Setting: l.Setting,
					Message: fmt.Sprintf("%s is listed more than once", want),
				}
			}
			pos = i
		}
		if l.Strict && pos >= 0 && pos != len(libs)-1 {
			return &veil.ConfigurationError{
				Setting: l.Setting,
				Message: fmt.Sprintf("%s must be the last library, found %s after it", want, strings.Join(libs[pos+1:], ", ")),
			}
		}
	}
	return nil
}

// LibraryName reduces a preload entry to the bare library name:
// "$libdir/plugins/veil.so" becomes "veil".
func LibraryName(entry string) string {
	base := path.Base(strings.TrimPrefix(entry, "$libdir/"))
	switch ext := path.Ext(base); ext {
	case ".so", ".dylib", ".dll":
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// SplitLibraryList splits a comma-separated list of possibly double-quoted
// names. An unquoted name runs up to the next comma and may contain inner
// spaces. Whitespace around names is dropped; a doubled quote inside a
// quoted name stands for one quote. Empty entries are an error.
func SplitLibraryList(s string) ([]string, error) {
	var out []string
	i := 0
	skipSpace := func() {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
	}

	skipSpace()
	if i == len(s) {
		return nil, nil
	}
	for {
		var name strings.Builder
		if s[i] == '"' {
			i++
			for {
				if i >= len(s) {
					return nil, fmt.Errorf("unterminated quoted name")
				}
				if s[i] == '"' {
					if i+1 < len(s) && s[i+1] == '"' {
						name.WriteByte('"')
						i += 2
						continue
					}
					i++
					break
				}
				name.WriteByte(s[i])
				i++
			}
			if name.Len() == 0 {
				return nil, fmt.Errorf("empty quoted name")
			}
		} else {
			start := i
			for i < len(s) && s[i] != ',' {
				i++
			}
			entry := strings.TrimRight(s[start:i], spaces)
			if entry == "" {
				return nil, fmt.Errorf("empty name at offset %d", start)
			}
			name.WriteString(entry)
		}
		out = append(out, name.String())

		skipSpace()
		if i == len(s) {
			return out, nil
		}
		if s[i] != ',' {
			return nil, fmt.Errorf("unexpected %q at offset %d", s[i], i)
		}
		i++
		skipSpace()
		if i == len(s) {
			return nil, fmt.Errorf("trailing comma")
		}
	}
}

const spaces = " \t\n\r\f\v"

func isSpace(c byte) bool {
	return strings.IndexByte(spaces, c) >= 0
}
