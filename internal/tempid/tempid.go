// Package tempid validates and resolves temporary identifiers.
//
// A temporary identifier is a placeholder token standing in for an entity
// that does not exist yet at batch-submission time. It has a fixed lexical
// shape: a reserved prefix (default "aw_") followed by 3-8 alphanumeric
// characters, case-insensitive, optionally written with a leading "#".
// The canonical form is lower-case with no marker character.
package tempid

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tetherbot/tether/internal/types"
)

// DefaultPrefix is the reserved marker that distinguishes a temporary
// identifier from a real platform identifier.
const DefaultPrefix = "aw_"

// ErrNotTempID reports a token that does not carry the reserved prefix at
// all (e.g. a bare issue number). Callers use this to fall through to
// literal-identifier handling.
var ErrNotTempID = errors.New("not a temporary identifier")

// ErrMalformed reports a token that carries the reserved prefix but fails
// the lexical shape check. This is always a caller error, never a literal
// identifier.
var ErrMalformed = errors.New("malformed temporary identifier")

// Matcher holds the compiled lexical pattern for one prefix.
type Matcher struct {
	prefix  string
	pattern *regexp.Regexp
}

// NewMatcher compiles the temporary-identifier pattern for the given prefix.
// An empty prefix selects DefaultPrefix.
func NewMatcher(prefix string) *Matcher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	prefix = strings.ToLower(prefix)
	return &Matcher{
		prefix:  prefix,
		pattern: regexp.MustCompile(`(?i)#?\b` + regexp.QuoteMeta(prefix) + `[a-z0-9]{3,8}\b`),
	}
}

// Default is the package-level matcher for DefaultPrefix.
var Default = NewMatcher("")

// Prefix returns the reserved prefix this matcher recognizes.
func (m *Matcher) Prefix() string { return m.prefix }

// Normalize validates a single token and returns its canonical form:
// marker stripped, lower-cased. It distinguishes tokens that are not
// temporary identifiers at all (ErrNotTempID) from tokens that carry the
// reserved prefix but have the wrong shape (ErrMalformed).
func (m *Matcher) Normalize(token string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(token), "#")
	lower := strings.ToLower(trimmed)

	if !strings.HasPrefix(lower, m.prefix) {
		return "", fmt.Errorf("%w: %q has no %q prefix", ErrNotTempID, token, m.prefix)
	}

	tail := lower[len(m.prefix):]
	if len(tail) < 3 || len(tail) > 8 {
		return "", fmt.Errorf("%w: %q needs 3-8 characters after %q, got %d", ErrMalformed, token, m.prefix, len(tail))
	}
	for _, c := range tail {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return "", fmt.Errorf("%w: %q contains non-alphanumeric character %q", ErrMalformed, token, c)
		}
	}
	return lower, nil
}

// IsTempID reports whether the token normalizes cleanly.
func (m *Matcher) IsTempID(token string) bool {
	_, err := m.Normalize(token)
	return err == nil
}

// FindAll returns the canonical form of every temporary-identifier
// occurrence in free text, in order of appearance, with duplicates kept.
func (m *Matcher) FindAll(text string) []string {
	matches := m.pattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		id, err := m.Normalize(match)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Table maps canonical temporary identifiers to the concrete entities they
// came to represent. It grows monotonically: a key, once set, is never
// reassigned to a different value within a run.
type Table struct {
	refs map[string]types.Ref
	log  zerolog.Logger
}

// NewTable returns an empty table.
func NewTable(log zerolog.Logger) *Table {
	return &Table{refs: make(map[string]types.Ref), log: log}
}

// NewTableFrom seeds a table from a carried-in resolution map, such as the
// serialized output of a previous run. Keys are normalized defensively.
func NewTableFrom(seed map[string]types.Ref, log zerolog.Logger) *Table {
	t := NewTable(log)
	for id, ref := range seed {
		t.refs[strings.ToLower(strings.TrimPrefix(id, "#"))] = ref
	}
	return t
}

// Register inserts a mapping. Re-registering an identical value is a no-op
// with a warning; a conflicting value is rejected and the table is left
// unchanged.
func (t *Table) Register(id string, ref types.Ref) error {
	existing, ok := t.refs[id]
	if ok {
		if existing.Equal(ref) {
			t.log.Warn().Str("temp_id", id).Stringer("ref", ref).Msg("temporary id already registered with identical value")
			return nil
		}
		return fmt.Errorf("temporary id %q already resolved to %s, refusing to remap to %s", id, existing, ref)
	}
	t.refs[id] = ref
	return nil
}

// Lookup is a pure read.
func (t *Table) Lookup(id string) (types.Ref, bool) {
	ref, ok := t.refs[id]
	return ref, ok
}

// Len returns the number of registered mappings. Used for cheap
// "has anything changed since" detection by the synthetic update pass.
func (t *Table) Len() int { return len(t.refs) }

// Snapshot returns a copy of the table for hand-off to a subsequent run.
func (t *Table) Snapshot() map[string]types.Ref {
	out := make(map[string]types.Ref, len(t.refs))
	for id, ref := range t.refs {
		out[id] = ref
	}
	return out
}

// Unresolved returns the canonical ids of every temporary-identifier
// occurrence in the text that does not resolve against the table.
func (m *Matcher) Unresolved(text string, table *Table) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, id := range m.FindAll(text) {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := table.Lookup(id); !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// HasUnresolved reports whether the text contains any occurrence of the
// temporary-identifier pattern that fails to resolve against the table.
func (m *Matcher) HasUnresolved(text string, table *Table) bool {
	return len(m.Unresolved(text, table)) > 0
}

// Rewrite replaces every resolvable occurrence in the text with its
// concrete form: "#<number>" when the reference's repo matches the caller's
// scope, "<repo>#<number>" otherwise, and the board URL for board
// references. Unresolvable occurrences (and draft references, which have no
// textual form) are left untouched verbatim.
func (m *Matcher) Rewrite(text, scope string, table *Table) string {
	return m.pattern.ReplaceAllStringFunc(text, func(match string) string {
		id, err := m.Normalize(match)
		if err != nil {
			return match
		}
		ref, ok := table.Lookup(id)
		if !ok {
			return match
		}
		switch ref.Kind {
		case types.RefIssue:
			if ref.Repo == scope {
				return fmt.Sprintf("#%d", ref.Number)
			}
			return fmt.Sprintf("%s#%d", ref.Repo, ref.Number)
		case types.RefBoard:
			return ref.BoardURL
		default:
			return match
		}
	})
}
