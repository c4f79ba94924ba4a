package fs

import (
	"encoding/binary"
	"time"

	"github.com/kavalcante/uxfs/blockdev"
	"github.com/kavalcante/uxfs/inode"
	"github.com/kavalcante/uxfs/uxerrors"
)

// allocZeroedBlock finds the first free block, marks it used in the
// in-memory block bitmap, zero-fills it on disk, and returns its number.
func (f *FileSystem) allocZeroedBlock() (uint32, error) {
	idx, err := f.blockBitmap.FindFirstFree()
	if err != nil {
		return 0, err
	}
	if err := f.blockBitmap.Set(idx); err != nil {
		return 0, err
	}

	zero := make([]byte, blockdev.BlockSize)
	blockNum := uint32(idx)
	if err := f.dev.WriteBlock(blockNum, zero); err != nil {
		_ = f.blockBitmap.Clear(idx)
		return 0, uxerrors.ErrIO.Wrap(err)
	}
	f.sb.FreeBlocks--
	return blockNum, nil
}

func (f *FileSystem) freeBlock(blockNum uint32) error {
	if err := f.blockBitmap.Clear(int(blockNum)); err != nil {
		return err
	}
	f.sb.FreeBlocks++
	return nil
}

// readInodeData copies up to len(buf) bytes from in starting at offset,
// clipped to the inode's recorded size. A zero block pointer is treated
// as a hole and filled with zeros in the output.
func (f *FileSystem) readInodeData(in *inode.RawInode, offset uint32, buf []byte) (int, error) {
	if offset >= in.Size {
		return 0, nil
	}

	size := uint32(len(buf))
	if offset+size > in.Size {
		size = in.Size - offset
	}

	var read uint32
	for read < size {
		blockIndex := (offset + read) / blockdev.BlockSize
		blockOffset := (offset + read) % blockdev.BlockSize
		chunk := blockdev.BlockSize - blockOffset
		if remaining := size - read; chunk > remaining {
			chunk = remaining
		}

		blockNum, err := f.blockPointerForRead(in, blockIndex)
		if err != nil {
			return int(read), err
		}

		if blockNum == 0 {
			for i := uint32(0); i < chunk; i++ {
				buf[read+i] = 0
			}
		} else {
			data := make([]byte, blockdev.BlockSize)
			if err := f.dev.ReadBlock(blockNum, data); err != nil {
				return int(read), err
			}
			copy(buf[read:read+chunk], data[blockOffset:blockOffset+chunk])
		}

		read += chunk
	}

	return int(read), nil
}

func (f *FileSystem) blockPointerForRead(in *inode.RawInode, blockIndex uint32) (uint32, error) {
	if blockIndex < inode.DirectPointers {
		return in.Direct[blockIndex], nil
	}

	indirectIndex := blockIndex - inode.DirectPointers
	if indirectIndex >= inode.PointersPerIndirectBlock {
		return 0, uxerrors.ErrNoSpace.WithMessage("offset exceeds indirect addressing capacity")
	}
	if in.Indirect == 0 {
		return 0, nil
	}

	buf := make([]byte, blockdev.BlockSize)
	if err := f.dev.ReadBlock(in.Indirect, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[indirectIndex*4 : indirectIndex*4+4]), nil
}

// writeInodeData writes data into in at offset, allocating blocks (and
// the indirect block, if required) on demand. Newly allocated blocks are
// zeroed before the partial write so untouched bytes within them stay
// zero. Any bitmap or pointer changes are rolled back if a later I/O
// step fails. On success, in.Size and in.ModifiedAt are updated and the
// inode is persisted.
func (f *FileSystem) writeInodeData(inodeNum uint32, in *inode.RawInode, offset uint32, data []byte) (int, error) {
	size := uint32(len(data))
	var written uint32

	var allocatedBlocks []uint32
	indirectAllocated := false
	rollback := func() {
		for _, b := range allocatedBlocks {
			_ = f.freeBlock(b)
		}
		if indirectAllocated {
			_ = f.freeBlock(in.Indirect)
			in.Indirect = 0
		}
	}

	for written < size {
		blockIndex := (offset + written) / blockdev.BlockSize
		blockOffset := (offset + written) % blockdev.BlockSize
		chunk := blockdev.BlockSize - blockOffset
		if remaining := size - written; chunk > remaining {
			chunk = remaining
		}

		blockNum, isNew, err := f.blockPointerForWrite(in, blockIndex, &allocatedBlocks, &indirectAllocated)
		if err != nil {
			rollback()
			return int(written), err
		}

		blockBuf := make([]byte, blockdev.BlockSize)
		if !isNew {
			if err := f.dev.ReadBlock(blockNum, blockBuf); err != nil {
				rollback()
				return int(written), err
			}
		}
		copy(blockBuf[blockOffset:blockOffset+chunk], data[written:written+chunk])
		if err := f.dev.WriteBlock(blockNum, blockBuf); err != nil {
			rollback()
			return int(written), err
		}

		written += chunk
	}

	if offset+written > in.Size {
		in.Size = offset + written
	}
	in.ModifiedAt = uint32(time.Now().Unix())
	if err := f.inodes.Write(inodeNum, in); err != nil {
		rollback()
		return int(written), err
	}
	return int(written), nil
}

// truncateInodeData releases every block reachable from in, zeroing its
// pointers, blocks_used, and size, without touching its type or link
// count — used by open(..., O_TRUNC).
func (f *FileSystem) truncateInodeData(in *inode.RawInode) error {
	for i, b := range in.Direct {
		if b == 0 {
			continue
		}
		if err := f.freeBlock(b); err != nil {
			return err
		}
		in.Direct[i] = 0
	}

	if in.Indirect != 0 {
		buf := make([]byte, blockdev.BlockSize)
		if err := f.dev.ReadBlock(in.Indirect, buf); err != nil {
			return err
		}
		for i := 0; i < inode.PointersPerIndirectBlock; i++ {
			ptr := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
			if ptr == 0 {
				continue
			}
			if err := f.freeBlock(ptr); err != nil {
				return err
			}
		}
		if err := f.freeBlock(in.Indirect); err != nil {
			return err
		}
		in.Indirect = 0
	}

	in.BlocksUsed = 0
	in.Size = 0
	return nil
}

func (f *FileSystem) blockPointerForWrite(in *inode.RawInode, blockIndex uint32, allocated *[]uint32, indirectAllocated *bool) (uint32, bool, error) {
	if blockIndex < inode.DirectPointers {
		if in.Direct[blockIndex] != 0 {
			return in.Direct[blockIndex], false, nil
		}
		newBlock, err := f.allocZeroedBlock()
		if err != nil {
			return 0, false, err
		}
		in.Direct[blockIndex] = newBlock
		in.BlocksUsed++
		*allocated = append(*allocated, newBlock)
		return newBlock, true, nil
	}

	indirectIndex := blockIndex - inode.DirectPointers
	if indirectIndex >= inode.PointersPerIndirectBlock {
		return 0, false, uxerrors.ErrNoSpace.WithMessage("offset exceeds indirect addressing capacity")
	}

	if in.Indirect == 0 {
		newIndirect, err := f.allocZeroedBlock()
		if err != nil {
			return 0, false, err
		}
		in.Indirect = newIndirect
		in.BlocksUsed++
		*indirectAllocated = true
	}

	indirectBuf := make([]byte, blockdev.BlockSize)
	if err := f.dev.ReadBlock(in.Indirect, indirectBuf); err != nil {
		return 0, false, err
	}

	existing := binary.LittleEndian.Uint32(indirectBuf[indirectIndex*4 : indirectIndex*4+4])
	if existing != 0 {
		return existing, false, nil
	}

	newBlock, err := f.allocZeroedBlock()
	if err != nil {
		return 0, false, err
	}
	binary.LittleEndian.PutUint32(indirectBuf[indirectIndex*4:indirectIndex*4+4], newBlock)
	if err := f.dev.WriteBlock(in.Indirect, indirectBuf); err != nil {
		_ = f.freeBlock(newBlock)
		return 0, false, err
	}

	in.BlocksUsed++
	*allocated = append(*allocated, newBlock)
	return newBlock, true, nil
}
