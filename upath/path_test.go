package upath_test

import (
	"testing"

	"github.com/kavalcante/uxfs/upath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCollapsesSeparatorsAndElidesEmpty(t *testing.T) {
	p, err := upath.Parse("/a//b///c/")
	require.NoError(t, err)
	assert.True(t, p.IsAbsolute)
	assert.Equal(t, []string{"a", "b", "c"}, p.Components)
}

func TestParseLoneRoot(t *testing.T) {
	p, err := upath.Parse("/")
	require.NoError(t, err)
	assert.True(t, p.IsAbsolute)
	assert.Empty(t, p.Components)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := upath.Parse("")
	assert.Error(t, err)
}

func TestParseRelative(t *testing.T) {
	p, err := upath.Parse("a/b")
	require.NoError(t, err)
	assert.False(t, p.IsAbsolute)
	assert.Equal(t, []string{"a", "b"}, p.Components)
}

func TestFilenameIsValid(t *testing.T) {
	assert.True(t, upath.FilenameIsValid("file.txt"))
	assert.False(t, upath.FilenameIsValid(""))
	assert.False(t, upath.FilenameIsValid("."))
	assert.False(t, upath.FilenameIsValid(".."))
	assert.False(t, upath.FilenameIsValid("a/b"))
	assert.False(t, upath.FilenameIsValid(string(rune(1))))
}

func TestIsValid(t *testing.T) {
	assert.True(t, upath.IsValid("/a/b/./../c"))
	assert.False(t, upath.IsValid(""))
	assert.False(t, upath.IsValid("/a/b\x01"))
}

func TestSplitBasicCases(t *testing.T) {
	parent, name, err := upath.Split("/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "/a/b", parent)
	assert.Equal(t, "c", name)

	parent, name, err = upath.Split("/file")
	require.NoError(t, err)
	assert.Equal(t, "/", parent)
	assert.Equal(t, "file", name)

	parent, name, err = upath.Split("file")
	require.NoError(t, err)
	assert.Equal(t, ".", parent)
	assert.Equal(t, "file", name)
}

func TestSplitRejectsRootAndEmpty(t *testing.T) {
	_, _, err := upath.Split("/")
	assert.Error(t, err)

	_, _, err = upath.Split("")
	assert.Error(t, err)
}

func TestNormalizeAbsoluteDropsEscapingDotDot(t *testing.T) {
	out, err := upath.Normalize("/../home")
	require.NoError(t, err)
	assert.Equal(t, "/home", out)
}

func TestNormalizeRelativePreservesLeadingDotDot(t *testing.T) {
	out, err := upath.Normalize("../file")
	require.NoError(t, err)
	assert.Equal(t, "../file", out)
}

func TestNormalizeDropsDotComponents(t *testing.T) {
	out, err := upath.Normalize("/a/./b/./c")
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c", out)
}

func TestNormalizePopsPrecedingComponent(t *testing.T) {
	out, err := upath.Normalize("/a/b/../c")
	require.NoError(t, err)
	assert.Equal(t, "/a/c", out)
}

func TestNormalizeEmptyResultsRenderAsRootOrDot(t *testing.T) {
	out, err := upath.Normalize("/")
	require.NoError(t, err)
	assert.Equal(t, "/", out)

	out, err = upath.Normalize(".")
	require.NoError(t, err)
	assert.Equal(t, ".", out)
}

func TestNormalizeIdempotence(t *testing.T) {
	inputs := []string{"/a/b/../../c", "../../x/./y", "/../../../home", "a/b/c/."}
	for _, in := range inputs {
		once, err := upath.Normalize(in)
		require.NoError(t, err)
		twice, err := upath.Normalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "normalize(%q) not idempotent", in)
	}
}

func TestBasenameDirname(t *testing.T) {
	base, err := upath.Basename("/a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "c.txt", base)

	dir, err := upath.Dirname("/a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "/a/b", dir)
}

func TestDepth(t *testing.T) {
	d, err := upath.Depth("/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, 3, d)

	d, err = upath.Depth("/")
	require.NoError(t, err)
	assert.Equal(t, 0, d)
}

func TestStartsWith(t *testing.T) {
	ok, err := upath.StartsWith("/a/b/c", "/a/b")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = upath.StartsWith("/ab/c", "/a")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = upath.StartsWith("/a/b", "/")
	require.NoError(t, err)
	assert.True(t, ok)
}
