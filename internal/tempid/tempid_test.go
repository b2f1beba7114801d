package tempid

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherbot/tether/internal/types"
)

func newTestTable() *Table {
	return NewTable(zerolog.Nop())
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		want    string
		wantErr error
	}{
		{name: "canonical", token: "aw_abc123", want: "aw_abc123"},
		{name: "leading marker stripped", token: "#aw_abc123", want: "aw_abc123"},
		{name: "case folded", token: "aw_Abc123", want: "aw_abc123"},
		{name: "marker and case", token: "#AW_ABC123", want: "aw_abc123"},
		{name: "minimum length tail", token: "aw_ab1", want: "aw_ab1"},
		{name: "maximum length tail", token: "aw_abcd1234", want: "aw_abcd1234"},
		{name: "bare number is not a temp id", token: "1234", wantErr: ErrNotTempID},
		{name: "plain word is not a temp id", token: "hello", wantErr: ErrNotTempID},
		{name: "tail too short", token: "aw_ab", wantErr: ErrMalformed},
		{name: "tail too long", token: "aw_abcd12345", wantErr: ErrMalformed},
		{name: "non-alphanumeric tail", token: "aw_ab-12", wantErr: ErrMalformed},
		{name: "prefix only", token: "aw_", wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Default.Normalize(tt.token)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Normalizing with or without the marker must land on the same canonical id.
func TestNormalizeRoundTrip(t *testing.T) {
	a, err := Default.Normalize("#aw_Abc123")
	require.NoError(t, err)
	b, err := Default.Normalize("aw_abc123")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalizeCustomPrefix(t *testing.T) {
	m := NewMatcher("tmp_")
	got, err := m.Normalize("#TMP_xyz9")
	require.NoError(t, err)
	assert.Equal(t, "tmp_xyz9", got)

	_, err = m.Normalize("aw_abc123")
	assert.ErrorIs(t, err, ErrNotTempID)
}

func TestFindAll(t *testing.T) {
	text := "see #aw_abc123 and AW_xyz9, but not straw_abc12 or plain_text"
	ids := Default.FindAll(text)
	assert.Equal(t, []string{"aw_abc123", "aw_xyz9"}, ids)
}

func TestRegisterIdempotent(t *testing.T) {
	table := newTestTable()
	ref := types.IssueRef("octo/widgets", 42)

	require.NoError(t, table.Register("aw_abc123", ref))
	require.NoError(t, table.Register("aw_abc123", ref)) // identical value: warn, no-op

	assert.Equal(t, 1, table.Len())
	got, ok := table.Lookup("aw_abc123")
	require.True(t, ok)
	assert.Equal(t, ref, got)
}

func TestRegisterConflict(t *testing.T) {
	table := newTestTable()
	require.NoError(t, table.Register("aw_abc123", types.IssueRef("octo/widgets", 42)))

	err := table.Register("aw_abc123", types.IssueRef("octo/widgets", 43))
	require.Error(t, err)

	// Table unchanged after the rejected remap.
	got, ok := table.Lookup("aw_abc123")
	require.True(t, ok)
	assert.Equal(t, 42, got.Number)
	assert.Equal(t, 1, table.Len())
}

func TestTableFromSeed(t *testing.T) {
	seed := map[string]types.Ref{
		"#AW_abc123": types.IssueRef("octo/widgets", 7),
	}
	table := NewTableFrom(seed, zerolog.Nop())
	got, ok := table.Lookup("aw_abc123")
	require.True(t, ok)
	assert.Equal(t, 7, got.Number)
}

func TestHasUnresolved(t *testing.T) {
	table := newTestTable()
	require.NoError(t, table.Register("aw_abc123", types.IssueRef("octo/widgets", 42)))

	assert.False(t, Default.HasUnresolved("refers to aw_abc123 only", table))
	assert.True(t, Default.HasUnresolved("refers to aw_abc123 and aw_xyz9", table))
	assert.False(t, Default.HasUnresolved("no placeholders here", table))
}

func TestRewrite(t *testing.T) {
	table := newTestTable()
	require.NoError(t, table.Register("aw_abc123", types.IssueRef("octo/widgets", 42)))
	require.NoError(t, table.Register("aw_far1", types.IssueRef("octo/gadgets", 9)))
	require.NoError(t, table.Register("aw_brd1", types.BoardRef("https://github.com/orgs/octo/projects/3")))

	tests := []struct {
		name  string
		in    string
		scope string
		want  string
	}{
		{
			name:  "same scope short form",
			in:    "fixes #aw_abc123",
			scope: "octo/widgets",
			want:  "fixes #42",
		},
		{
			name:  "cross scope qualified form",
			in:    "fixes aw_far1",
			scope: "octo/widgets",
			want:  "fixes octo/gadgets#9",
		},
		{
			name:  "board reference becomes URL",
			in:    "tracked on aw_brd1",
			scope: "octo/widgets",
			want:  "tracked on https://github.com/orgs/octo/projects/3",
		},
		{
			name:  "unresolved left verbatim",
			in:    "see #aw_nope1 later",
			scope: "octo/widgets",
			want:  "see #aw_nope1 later",
		},
		{
			name:  "identity on plain text",
			in:    "no placeholders, just #12 and words",
			scope: "octo/widgets",
			want:  "no placeholders, just #12 and words",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Default.Rewrite(tt.in, tt.scope, table))
		})
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	table := newTestTable()
	require.NoError(t, table.Register("aw_abc123", types.IssueRef("octo/widgets", 42)))

	snap := table.Snapshot()
	snap["aw_abc123"] = types.IssueRef("octo/widgets", 99)

	got, _ := table.Lookup("aw_abc123")
	assert.Equal(t, 42, got.Number)
}
