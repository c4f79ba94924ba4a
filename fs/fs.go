// Package fs implements the filesystem core: format, mount, path
// resolution, file and directory operations, and the open-file cursor
// model, wiring together the block device, bitmap, superblock, inode,
// dentry, and upath packages the way a Unix-style driver composes its
// own layers over a common orchestration layer.
package fs

import (
	"encoding/binary"
	"time"

	"github.com/noxer/bytewriter"

	"github.com/kavalcante/uxfs/bitmap"
	"github.com/kavalcante/uxfs/blockdev"
	"github.com/kavalcante/uxfs/dentry"
	"github.com/kavalcante/uxfs/inode"
	"github.com/kavalcante/uxfs/superblock"
	"github.com/kavalcante/uxfs/uxerrors"
)

// FileSystem is a single mounted filesystem: a device handle plus the
// in-memory copies of the superblock and both bitmaps that are mutated
// throughout the session and flushed back on unmount.
type FileSystem struct {
	dev         *blockdev.Device
	sb          superblock.RawSuperblock
	blockBitmap *bitmap.Bitmap
	inodeBitmap *bitmap.Bitmap
	inodes      *inode.Table
	dirs        *dentry.Directory
	cwd         uint32
	mounted     bool
}

func neededBitmapBytes(bits uint32) int {
	return int((bits + 7) / 8)
}

// Format lays out a brand-new filesystem on dev: computes and writes the
// superblock and both allocation bitmaps, then allocates the root
// directory inode through the ordinary allocation path (the same one
// create/mkdir use) and gives it its "." and ".." entries. On any
// mid-format failure the root inode is freed, counters restored, and the
// superblock rewritten before the error is reported.
func Format(dev *blockdev.Device, totalBlocks, totalInodes uint32) error {
	sb, err := superblock.Init(totalBlocks, totalInodes)
	if err != nil {
		return err
	}

	blockBitmap := bitmap.New(int(totalBlocks))
	if err := blockBitmap.SetRange(0, int(sb.FirstDataBlock)); err != nil {
		return err
	}

	inodeBitmap := bitmap.New(int(totalInodes))
	if err := inodeBitmap.Set(inode.InvalidInode); err != nil {
		return err
	}

	if err := writeMetadataRegion(dev, &sb, blockBitmap, inodeBitmap); err != nil {
		return err
	}

	inodes := inode.NewTable(dev, &sb, inodeBitmap)
	dirs := dentry.NewDirectory(dev, inodes, blockBitmap)

	rootNum, rootInode, err := inodes.Alloc(inode.TypeDirectory, 0o755)
	if err != nil {
		return err
	}
	if rootNum != inode.RootInode {
		// The root directory must land on inode 1; anything else means the
		// inode bitmap's reserved bit 0 wasn't honored and the filesystem
		// is self-inconsistent before it was ever mounted.
		_, _ = inodes.Free(rootNum, func(uint32) error { return nil })
		return uxerrors.ErrGeneric.WithMessage("root directory did not receive inode 1")
	}

	dot, err := dentry.Create(".", rootNum, inode.TypeDirectory)
	if err != nil {
		return abortFormat(dev, &sb, inodes, rootNum, err)
	}
	if err := dirs.Add(rootNum, dot); err != nil {
		return abortFormat(dev, &sb, inodes, rootNum, err)
	}

	dotdot, err := dentry.Create("..", rootNum, inode.TypeDirectory)
	if err != nil {
		return abortFormat(dev, &sb, inodes, rootNum, err)
	}
	if err := dirs.Add(rootNum, dotdot); err != nil {
		return abortFormat(dev, &sb, inodes, rootNum, err)
	}

	// Re-read: dirs.Add has linked the "."/".." block into the on-disk inode.
	if err := inodes.Read(rootNum, &rootInode); err != nil {
		return abortFormat(dev, &sb, inodes, rootNum, err)
	}
	rootInode.LinksCount = 2
	if err := inodes.Write(rootNum, &rootInode); err != nil {
		return abortFormat(dev, &sb, inodes, rootNum, err)
	}

	// Both bitmaps are the sole source of truth for these counters; recompute
	// rather than track deltas through every allocation above.
	sb.FreeBlocks = uint32(blockBitmap.CountFree())
	sb.FreeInodes = uint32(inodeBitmap.CountFree())
	return persistMetadataRegion(dev, &sb, blockBitmap, inodeBitmap)
}

func abortFormat(dev *blockdev.Device, sb *superblock.RawSuperblock, inodes *inode.Table, rootNum uint32, cause error) error {
	_, _ = inodes.Free(rootNum, func(b uint32) error { return nil })
	_ = superblock.Write(dev, sb)
	return uxerrors.ErrGeneric.Wrap(cause)
}

// writeMetadataRegion builds the superblock and both freshly initialized
// bitmaps into one contiguous buffer with a single streaming writer,
// serializing the whole metadata region through one bytewriter.Writer
// before a single flush, then persists that buffer to the device in one
// byte-level write.
func writeMetadataRegion(dev *blockdev.Device, sb *superblock.RawSuperblock, blockBitmap, inodeBitmap *bitmap.Bitmap) error {
	regionBytes := int(sb.InodeTableStart) * blockdev.BlockSize
	buf := make([]byte, regionBytes)
	writer := bytewriter.New(buf)

	if err := binary.Write(writer, binary.LittleEndian, sb); err != nil {
		return uxerrors.ErrIO.Wrap(err)
	}
	if _, err := writer.Write(make([]byte, blockdev.BlockSize-superblock.Size)); err != nil {
		return uxerrors.ErrIO.Wrap(err)
	}

	if _, err := writer.Write(padTo(blockBitmap.Bytes(), int(sb.BlockBitmapLength)*blockdev.BlockSize)); err != nil {
		return uxerrors.ErrIO.Wrap(err)
	}
	if _, err := writer.Write(padTo(inodeBitmap.Bytes(), int(sb.InodeBitmapLength)*blockdev.BlockSize)); err != nil {
		return uxerrors.ErrIO.Wrap(err)
	}

	return dev.Write(0, buf)
}

func padTo(data []byte, size int) []byte {
	if len(data) >= size {
		return data[:size]
	}
	out := make([]byte, size)
	copy(out, data)
	return out
}

// persistMetadataRegion rewrites the superblock and both bitmaps, used
// whenever bitmap contents change after the initial format pass (root
// dentry creation, or any mount-time structural change).
func persistMetadataRegion(dev *blockdev.Device, sb *superblock.RawSuperblock, blockBitmap, inodeBitmap *bitmap.Bitmap) error {
	if err := writeRegion(dev, sb.BlockBitmapStart, sb.BlockBitmapLength, blockBitmap.Bytes()); err != nil {
		return err
	}
	if err := writeRegion(dev, sb.InodeBitmapStart, sb.InodeBitmapLength, inodeBitmap.Bytes()); err != nil {
		return err
	}
	return superblock.Write(dev, sb)
}

func writeRegion(dev *blockdev.Device, start, lengthBlocks uint32, data []byte) error {
	padded := padTo(data, int(lengthBlocks)*blockdev.BlockSize)
	for i := uint32(0); i < lengthBlocks; i++ {
		chunk := padded[i*blockdev.BlockSize : (i+1)*blockdev.BlockSize]
		if err := dev.WriteBlock(start+i, chunk); err != nil {
			return err
		}
	}
	return nil
}

func readRegion(dev *blockdev.Device, start, lengthBlocks uint32, neededBytes int) ([]byte, error) {
	buf := make([]byte, int(lengthBlocks)*blockdev.BlockSize)
	for i := uint32(0); i < lengthBlocks; i++ {
		if err := dev.ReadBlock(start+i, buf[i*blockdev.BlockSize:(i+1)*blockdev.BlockSize]); err != nil {
			return nil, err
		}
	}
	if neededBytes > len(buf) {
		neededBytes = len(buf)
	}
	return buf[:neededBytes], nil
}

// Mount reads and validates the superblock, loads both bitmaps into
// memory from their on-disk regions, sets the current directory to
// root, and bumps the mount counter/timestamp before persisting the
// superblock. On any failure no partial FileSystem is returned.
func Mount(dev *blockdev.Device) (*FileSystem, error) {
	sb, err := superblock.Read(dev)
	if err != nil {
		return nil, err
	}

	blockBitmapBytes, err := readRegion(dev, sb.BlockBitmapStart, sb.BlockBitmapLength, neededBitmapBytes(sb.TotalBlocks))
	if err != nil {
		return nil, err
	}
	inodeBitmapBytes, err := readRegion(dev, sb.InodeBitmapStart, sb.InodeBitmapLength, neededBitmapBytes(sb.TotalInodes))
	if err != nil {
		return nil, err
	}

	blockBitmap := bitmap.FromBytes(blockBitmapBytes, int(sb.TotalBlocks))
	inodeBitmap := bitmap.FromBytes(inodeBitmapBytes, int(sb.TotalInodes))
	inodes := inode.NewTable(dev, &sb, inodeBitmap)
	dirs := dentry.NewDirectory(dev, inodes, blockBitmap)

	sb.LastMountAt = uint32(time.Now().Unix())
	sb.MountCount++
	if err := superblock.Write(dev, &sb); err != nil {
		return nil, err
	}

	return &FileSystem{
		dev:         dev,
		sb:          sb,
		blockBitmap: blockBitmap,
		inodeBitmap: inodeBitmap,
		inodes:      inodes,
		dirs:        dirs,
		cwd:         inode.RootInode,
		mounted:     true,
	}, nil
}

// Unmount writes both bitmaps and the superblock back to disk and marks
// the handle unusable for further operations.
func (f *FileSystem) Unmount() error {
	if !f.mounted {
		return uxerrors.ErrInvalid.WithMessage("filesystem is not mounted")
	}
	if err := persistMetadataRegion(f.dev, &f.sb, f.blockBitmap, f.inodeBitmap); err != nil {
		return err
	}
	f.mounted = false
	return nil
}

// Stats returns a copy of the in-memory superblock, for print_stats-style
// diagnostics.
func (f *FileSystem) Stats() superblock.RawSuperblock {
	return f.sb
}

func (f *FileSystem) requireMounted() error {
	if !f.mounted {
		return uxerrors.ErrInvalid.WithMessage("filesystem is not mounted")
	}
	return nil
}
