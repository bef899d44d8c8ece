package pathsafe

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSegment(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"alice", "alice"},
		{"script.lua", "script.lua"},
		{"  padded  ", "padded"},
		{"a/b", "ab"},
		{`a\b`, "ab"},
		{"..", ""},
		{"....", ""},
		{"a..b", "ab"},
		{"..a..b..", "ab"},
		{".hidden", "hidden"},
		{"...dots", "dots"},
		{". .lua", "lua"},
		{".. .name", "name"},
		{"a ..", "a"},
		{"nul\x00byte", "nulbyte"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SanitizeSegment(tc.in), "input %q", tc.in)
	}
}

func TestSanitizeSegment_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"alice", "../../etc/passwd", "a..b/c", ".lua", "x\x00y", "weird...name", ". .lua", ".. .name", "a ..", " . . ."}
	for _, in := range inputs {
		once := SanitizeSegment(in)
		assert.Equal(t, once, SanitizeSegment(once), "input %q", in)
	}
}

func TestIsCleanSegment(t *testing.T) {
	t.Parallel()

	assert.True(t, IsCleanSegment("alice"))
	assert.True(t, IsCleanSegment("bob42"))
	assert.False(t, IsCleanSegment(""))
	assert.False(t, IsCleanSegment("a/b"))
	assert.False(t, IsCleanSegment(".."))
	assert.False(t, IsCleanSegment(".alice"))
	assert.False(t, IsCleanSegment(" alice"))
}

func TestJoinUnder(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "uploads")

	got, err := JoinUnder(base, "alice", "file.lua")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "alice", "file.lua"), got)

	// joining nothing yields the base itself
	got, err = JoinUnder(base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(base), got)
}

func TestJoinUnder_RejectsEscapes(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "uploads")

	for _, segs := range [][]string{
		{".."},
		{"..", "other"},
		{"alice/../.."},
		{"../../etc/passwd"},
		{"alice", "x\x00y"},
	} {
		_, err := JoinUnder(base, segs...)
		assert.ErrorIs(t, err, ErrEscape, "segments %q", strings.Join(segs, ","))
	}

	// a sibling user's file is outside the per-user base
	userDir := filepath.Join(base, "alice")
	_, err := JoinUnder(userDir, "../bob/secret.txt")
	assert.ErrorIs(t, err, ErrEscape)
}
