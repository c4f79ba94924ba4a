package dentry_test

import (
	"testing"

	"github.com/kavalcante/uxfs/bitmap"
	"github.com/kavalcante/uxfs/blockdev"
	"github.com/kavalcante/uxfs/dentry"
	"github.com/kavalcante/uxfs/inode"
	"github.com/kavalcante/uxfs/superblock"
	"github.com/kavalcante/uxfs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T, totalBlocks, totalInodes uint32) (*inode.Table, *dentry.Directory) {
	t.Helper()
	stream := testutil.NewMemoryImage(t, totalBlocks)
	dev, err := blockdev.Create(stream, totalBlocks)
	require.NoError(t, err)

	sb, err := superblock.Init(totalBlocks, totalInodes)
	require.NoError(t, err)

	inodeBitmap := bitmap.New(int(totalInodes))
	require.NoError(t, inodeBitmap.Set(inode.InvalidInode))
	inodes := inode.NewTable(dev, &sb, inodeBitmap)

	blockBitmap := bitmap.New(int(totalBlocks))
	require.NoError(t, blockBitmap.SetRange(0, int(sb.FirstDataBlock)))

	return inodes, dentry.NewDirectory(dev, inodes, blockBitmap)
}

func TestCreateRejectsInvalidName(t *testing.T) {
	_, err := dentry.Create("has/slash", 5, inode.TypeFile)
	assert.Error(t, err)

	_, err = dentry.Create("", 5, inode.TypeFile)
	assert.Error(t, err)
}

func TestCreateAllowsDotAndDotDot(t *testing.T) {
	rd, err := dentry.Create(".", 1, inode.TypeDirectory)
	require.NoError(t, err)
	assert.Equal(t, ".", rd.NameString())

	rd, err = dentry.Create("..", 1, inode.TypeDirectory)
	require.NoError(t, err)
	assert.Equal(t, "..", rd.NameString())
}

func TestCreateRejectsZeroInode(t *testing.T) {
	_, err := dentry.Create("file", 0, inode.TypeFile)
	assert.Error(t, err)
}

func TestAddThenFindRoundTrip(t *testing.T) {
	inodes, dirs := newFixture(t, 1000, 128)

	dirNum, _, err := inodes.Alloc(inode.TypeDirectory, 0o755)
	require.NoError(t, err)

	entry, err := dentry.Create("hello.txt", 42, inode.TypeFile)
	require.NoError(t, err)
	require.NoError(t, dirs.Add(dirNum, entry))

	found, _, err := dirs.Find(dirNum, "hello.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 42, found.InodeNum)
}

func TestAddDuplicateNameFails(t *testing.T) {
	inodes, dirs := newFixture(t, 1000, 128)
	dirNum, _, err := inodes.Alloc(inode.TypeDirectory, 0o755)
	require.NoError(t, err)

	entry, err := dentry.Create("dup", 7, inode.TypeFile)
	require.NoError(t, err)
	require.NoError(t, dirs.Add(dirNum, entry))

	entry2, err := dentry.Create("dup", 8, inode.TypeFile)
	require.NoError(t, err)
	err = dirs.Add(dirNum, entry2)
	assert.Error(t, err)
}

func TestFindMissingIsNotFound(t *testing.T) {
	inodes, dirs := newFixture(t, 1000, 128)
	dirNum, _, err := inodes.Alloc(inode.TypeDirectory, 0o755)
	require.NoError(t, err)

	_, _, err = dirs.Find(dirNum, "nope")
	assert.Error(t, err)
}

func TestAddFillsSlotsAcrossMultipleBlocks(t *testing.T) {
	inodes, dirs := newFixture(t, 1000, 128)
	dirNum, _, err := inodes.Alloc(inode.TypeDirectory, 0o755)
	require.NoError(t, err)

	// PerBlock entries per block; force allocation of a second block.
	for i := 0; i < dentry.PerBlock+1; i++ {
		name := string(rune('a' + i))
		entry, err := dentry.Create(name, uint32(i+2), inode.TypeFile)
		require.NoError(t, err)
		require.NoError(t, dirs.Add(dirNum, entry))
	}

	var dirInode inode.RawInode
	require.NoError(t, inodes.Read(dirNum, &dirInode))
	assert.EqualValues(t, 2, dirInode.BlocksUsed)

	list, err := dirs.List(dirNum)
	require.NoError(t, err)
	assert.Len(t, list, dentry.PerBlock+1)
}

func TestRemoveThenAddRefillsSlot(t *testing.T) {
	inodes, dirs := newFixture(t, 1000, 128)
	dirNum, _, err := inodes.Alloc(inode.TypeDirectory, 0o755)
	require.NoError(t, err)

	entry, err := dentry.Create("a", 2, inode.TypeFile)
	require.NoError(t, err)
	require.NoError(t, dirs.Add(dirNum, entry))
	require.NoError(t, dirs.Remove(dirNum, "a"))

	_, _, err = dirs.Find(dirNum, "a")
	assert.Error(t, err)

	entry2, err := dentry.Create("b", 3, inode.TypeFile)
	require.NoError(t, err)
	require.NoError(t, dirs.Add(dirNum, entry2))

	var dirInode inode.RawInode
	require.NoError(t, inodes.Read(dirNum, &dirInode))
	assert.EqualValues(t, 1, dirInode.BlocksUsed, "remove must not release the block; add should reuse the freed slot")
}

func TestListIsEmptyForFreshDirectory(t *testing.T) {
	inodes, dirs := newFixture(t, 1000, 128)
	dirNum, _, err := inodes.Alloc(inode.TypeDirectory, 0o755)
	require.NoError(t, err)

	list, err := dirs.List(dirNum)
	require.NoError(t, err)
	assert.Empty(t, list)
}
