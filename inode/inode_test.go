package inode_test

import (
	"testing"

	"github.com/kavalcante/uxfs/bitmap"
	"github.com/kavalcante/uxfs/blockdev"
	"github.com/kavalcante/uxfs/inode"
	"github.com/kavalcante/uxfs/superblock"
	"github.com/kavalcante/uxfs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTable(t *testing.T, totalBlocks, totalInodes uint32) (*blockdev.Device, *superblock.RawSuperblock, *inode.Table) {
	t.Helper()
	stream := testutil.NewMemoryImage(t, totalBlocks)
	dev, err := blockdev.Create(stream, totalBlocks)
	require.NoError(t, err)

	sb, err := superblock.Init(totalBlocks, totalInodes)
	require.NoError(t, err)
	require.NoError(t, superblock.Write(dev, &sb))

	bm := bitmap.New(int(totalInodes))
	require.NoError(t, bm.Set(inode.InvalidInode)) // inode 0 permanently reserved

	return dev, &sb, inode.NewTable(dev, &sb, bm)
}

func TestAllocWritesFreshInode(t *testing.T) {
	_, _, table := newTable(t, 1000, 128)

	n, raw, err := table.Alloc(inode.TypeDirectory, 0o755)
	require.NoError(t, err)
	assert.EqualValues(t, inode.RootInode, n)
	assert.True(t, raw.IsDir())
	assert.EqualValues(t, 1, raw.LinksCount)
}

func TestAllocSkipsReservedInodeZero(t *testing.T) {
	_, _, table := newTable(t, 1000, 128)

	first, _, err := table.Alloc(inode.TypeFile, 0o644)
	require.NoError(t, err)
	assert.NotEqualValues(t, inode.InvalidInode, first)

	second, _, err := table.Alloc(inode.TypeFile, 0o644)
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	_, _, table := newTable(t, 1000, 128)

	n, raw, err := table.Alloc(inode.TypeFile, 0o644)
	require.NoError(t, err)

	raw.Size = 4096
	raw.Direct[0] = 500
	require.NoError(t, table.Write(n, &raw))

	var readBack inode.RawInode
	require.NoError(t, table.Read(n, &readBack))
	assert.EqualValues(t, 4096, readBack.Size)
	assert.EqualValues(t, 500, readBack.Direct[0])
}

func TestWriteDoesNotClobberNeighborInSameBlock(t *testing.T) {
	_, _, table := newTable(t, 1000, 128)

	a, rawA, err := table.Alloc(inode.TypeFile, 0o644)
	require.NoError(t, err)
	b, rawB, err := table.Alloc(inode.TypeFile, 0o644)
	require.NoError(t, err)

	rawA.Size = 111
	require.NoError(t, table.Write(a, &rawA))
	rawB.Size = 222
	require.NoError(t, table.Write(b, &rawB))

	var readA, readB inode.RawInode
	require.NoError(t, table.Read(a, &readA))
	require.NoError(t, table.Read(b, &readB))
	assert.EqualValues(t, 111, readA.Size)
	assert.EqualValues(t, 222, readB.Size)
}

func TestReadInodeZeroIsInvalid(t *testing.T) {
	_, _, table := newTable(t, 1000, 128)
	var out inode.RawInode
	err := table.Read(inode.InvalidInode, &out)
	assert.Error(t, err)
}

func TestFreeReleasesDirectAndIndirectBlocks(t *testing.T) {
	_, _, table := newTable(t, 1000, 128)

	n, raw, err := table.Alloc(inode.TypeFile, 0o644)
	require.NoError(t, err)

	raw.Direct[0] = 500
	raw.Direct[1] = 501
	raw.Indirect = 502
	require.NoError(t, table.Write(n, &raw))

	var freed []uint32
	freedCount, err := table.Free(n, func(block uint32) error {
		freed = append(freed, block)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{500, 501, 502}, freed)
	assert.EqualValues(t, 3, freedCount)

	var readBack inode.RawInode
	require.NoError(t, table.Read(n, &readBack))
	assert.True(t, readBack.IsFree())
}

func TestAllocFailsWhenTableIsFull(t *testing.T) {
	_, _, table := newTable(t, 1000, 4)

	for i := 0; i < 3; i++ {
		_, _, err := table.Alloc(inode.TypeFile, 0o644)
		require.NoError(t, err)
	}

	_, _, err := table.Alloc(inode.TypeFile, 0o644)
	assert.Error(t, err)
}
