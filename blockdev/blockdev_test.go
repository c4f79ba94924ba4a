package blockdev_test

import (
	"testing"

	"github.com/kavalcante/uxfs/blockdev"
	"github.com/kavalcante/uxfs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndAttach(t *testing.T) {
	stream := testutil.NewMemoryImage(t, 10)
	dev, err := blockdev.Create(stream, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 10, dev.BlockCount())
	assert.EqualValues(t, 512, dev.BytesPerBlock())
	assert.True(t, dev.Attached())
}

func TestWriteReadBlockRoundTrip(t *testing.T) {
	stream := testutil.NewMemoryImage(t, 4)
	dev, err := blockdev.Create(stream, 4)
	require.NoError(t, err)

	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, dev.WriteBlock(2, buf))

	readBack := make([]byte, 512)
	require.NoError(t, dev.ReadBlock(2, readBack))
	assert.Equal(t, buf, readBack)
}

func TestReadBlockOutOfRange(t *testing.T) {
	stream := testutil.NewMemoryImage(t, 2)
	dev, err := blockdev.Create(stream, 2)
	require.NoError(t, err)

	buf := make([]byte, 512)
	err = dev.ReadBlock(5, buf)
	assert.Error(t, err)
}

func TestByteLevelReadWrite(t *testing.T) {
	stream := testutil.NewMemoryImage(t, 2)
	dev, err := blockdev.Create(stream, 2)
	require.NoError(t, err)

	payload := []byte("hello filesystem")
	require.NoError(t, dev.Write(100, payload))

	readBack := make([]byte, len(payload))
	require.NoError(t, dev.Read(100, readBack))
	assert.Equal(t, payload, readBack)
}

func TestByteLevelReadPastEndFails(t *testing.T) {
	stream := testutil.NewMemoryImage(t, 1)
	dev, err := blockdev.Create(stream, 1)
	require.NoError(t, err)

	buf := make([]byte, 600)
	assert.Error(t, dev.Read(0, buf))
}

func TestAttachExisting(t *testing.T) {
	stream := testutil.NewMemoryImage(t, 3)
	dev, err := blockdev.Create(stream, 3)
	require.NoError(t, err)
	require.NoError(t, dev.Detach())

	reattached, err := blockdev.Attach(stream)
	require.NoError(t, err)
	assert.EqualValues(t, 3, reattached.BlockCount())
}
