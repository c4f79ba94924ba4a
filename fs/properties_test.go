package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavalcante/uxfs/inode"
	"github.com/kavalcante/uxfs/superblock"
	"github.com/kavalcante/uxfs/upath"
	"github.com/kavalcante/uxfs/uxerrors"
)

// Property 1: superblock round-trip.
func TestPropertySuperblockRoundTrip(t *testing.T) {
	fsys := newMountedFixture(t)

	before := fsys.Stats()
	require.NoError(t, superblock.Write(fsys.dev, &before))

	after, err := superblock.Read(fsys.dev)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.EqualValues(t, 0x12345678, after.Magic)
}

// Property 2: bitmap accounting.
func TestPropertyBitmapAccounting(t *testing.T) {
	fsys := newMountedFixture(t)

	require.NoError(t, fsys.Mkdir("/x", 0o755))
	_, err := fsys.Create("/x/f", 0o644)
	require.NoError(t, err)

	assert.EqualValues(t, fsys.blockBitmap.CountFree(), fsys.sb.FreeBlocks)
	assert.EqualValues(t, fsys.inodeBitmap.CountFree(), fsys.sb.FreeInodes)
}

// Property 3: allocation monotonicity.
func TestPropertyAllocationMonotonicity(t *testing.T) {
	fsys := newMountedFixture(t)

	k, err := fsys.blockBitmap.FindFirstFree()
	require.NoError(t, err)
	require.NoError(t, fsys.blockBitmap.Set(k))

	kPrime, err := fsys.blockBitmap.FindFirstFree()
	require.NoError(t, err)
	assert.Greater(t, kPrime, k)
}

// Property 4: link count consistency for a fresh directory (root starts
// at 2 after format and gains one per immediate child directory's "..").
func TestPropertyLinkCountConsistencyForDirectories(t *testing.T) {
	fsys := newMountedFixture(t)

	require.NoError(t, fsys.Mkdir("/a", 0o755))
	require.NoError(t, fsys.Mkdir("/b", 0o755))

	_, rootRaw, err := fsys.Stat("/")
	require.NoError(t, err)
	assert.EqualValues(t, 2+2, rootRaw.LinksCount)
}

// Property 4 (files): link count consistency after a hard link.
func TestPropertyLinkCountConsistencyForFiles(t *testing.T) {
	fsys := newMountedFixture(t)

	_, err := fsys.Create("/f", 0o644)
	require.NoError(t, err)
	require.NoError(t, fsys.Link("/f", "/g"))

	_, raw, err := fsys.Stat("/f")
	require.NoError(t, err)
	assert.EqualValues(t, 2, raw.LinksCount)
}

// Property 5: path normalization idempotence.
func TestPropertyNormalizationIdempotence(t *testing.T) {
	cases := []string{
		"/a/b/../c",
		"a/../../b",
		"/../../escaping",
		"///a//b///",
		".",
		"/",
		"a/./b/./c",
	}
	for _, p := range cases {
		once, err := upath.Normalize(p)
		require.NoError(t, err)
		twice, err := upath.Normalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "input %q", p)
	}
}

// Property 6: create/unlink round-trip.
func TestPropertyCreateUnlinkRoundTrip(t *testing.T) {
	fsys := newMountedFixture(t)

	before := fsys.sb.FreeInodes
	_, err := fsys.Create("/tmp.txt", 0o644)
	require.NoError(t, err)
	require.NoError(t, fsys.Unlink("/tmp.txt"))

	assert.Equal(t, before, fsys.sb.FreeInodes)
	_, _, err = fsys.Stat("/tmp.txt")
	assert.ErrorIs(t, err, uxerrors.ErrNotFound)
}

// Property 7: hard-link fan-out observable through either path.
func TestPropertyHardLinkFanOut(t *testing.T) {
	fsys := newMountedFixture(t)

	_, err := fsys.Create("/a.txt", 0o644)
	require.NoError(t, err)
	_, rawBefore, err := fsys.Stat("/a.txt")
	require.NoError(t, err)
	n := rawBefore.LinksCount

	require.NoError(t, fsys.Link("/a.txt", "/b.txt"))

	_, rawA, err := fsys.Stat("/a.txt")
	require.NoError(t, err)
	_, rawB, err := fsys.Stat("/b.txt")
	require.NoError(t, err)
	assert.EqualValues(t, n+1, rawA.LinksCount)
	assert.EqualValues(t, n+1, rawB.LinksCount)

	handleA, err := fsys.Open("/a.txt", RDWR, 0o644)
	require.NoError(t, err)
	_, err = handleA.Write([]byte("via-a"))
	require.NoError(t, err)
	require.NoError(t, handleA.Close())

	handleB, err := fsys.Open("/b.txt", RDONLY, 0)
	require.NoError(t, err)
	buf := make([]byte, 16)
	readN, err := handleB.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "via-a", string(buf[:readN]))
}

// Property 8: truncate zeros.
func TestPropertyTruncateZeros(t *testing.T) {
	fsys := newMountedFixture(t)

	_, err := fsys.Create("/big.bin", 0o644)
	require.NoError(t, err)
	handle, err := fsys.Open("/big.bin", RDWR, 0o644)
	require.NoError(t, err)
	payload := make([]byte, 4096)
	_, err = handle.Write(payload)
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	truncated, err := fsys.Open("/big.bin", WRONLY|TRUNC, 0o644)
	require.NoError(t, err)

	_, raw := truncated.Stat()
	assert.EqualValues(t, 0, raw.Size)
	assert.EqualValues(t, 0, raw.BlocksUsed)
}

// Property 9: root immovability.
func TestPropertyRootImmovability(t *testing.T) {
	fsys := newMountedFixture(t)

	err := fsys.Rmdir("/")
	assert.ErrorIs(t, err, uxerrors.ErrInvalid)

	require.NoError(t, fsys.Cd("/"))
	assert.EqualValues(t, inode.RootInode, fsys.cwd)

	parent, _, err := fsys.dirs.Find(inode.RootInode, "..")
	require.NoError(t, err)
	assert.EqualValues(t, inode.RootInode, parent.InodeNum)
}
