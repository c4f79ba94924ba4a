// Package testutil provides helpers shared by every package's tests: an
// in-memory backing store for a block device, built the same way the
// teacher's own drivers build theirs in testing/images.go.
package testutil

import (
	"io"
	"testing"

	"github.com/xaionaro-go/bytesextra"
)

// BlockSize mirrors blockdev.BlockSize without importing that package
// (which would create an import cycle for blockdev's own tests).
const BlockSize = 512

// NewMemoryImage returns an in-memory io.ReadWriteSeeker sized to hold
// exactly totalBlocks blocks, zero filled. Pass the same totalBlocks value
// to blockdev.Create so the logical and physical sizes line up.
func NewMemoryImage(t *testing.T, totalBlocks uint32) io.ReadWriteSeeker {
	t.Helper()
	buf := make([]byte, int(totalBlocks)*BlockSize)
	return bytesextra.NewReadWriteSeeker(buf)
}
