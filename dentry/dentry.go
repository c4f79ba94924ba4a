// Package dentry implements directory entries: a 256-byte packed record
// mapping a name to an inode number, and the find/add/remove/list
// operations over a directory's data blocks.
package dentry

import (
	"bytes"
	"encoding/binary"
	"time"
	"unsafe"

	"github.com/kavalcante/uxfs/bitmap"
	"github.com/kavalcante/uxfs/blockdev"
	"github.com/kavalcante/uxfs/inode"
	"github.com/kavalcante/uxfs/uxerrors"
)

// Size is the on-disk size of one packed directory entry, in bytes.
const Size = 256

// NameCapacity is the number of usable bytes in the fixed name buffer.
const NameCapacity = 250

// PerBlock is the number of packed dentries that fit in one block.
const PerBlock = blockdev.BlockSize / Size

// FileType mirrors inode.Type for the entries that dentries may name.
type FileType = inode.Type

// RawDentry is the 256-byte packed on-disk directory entry record.
type RawDentry struct {
	InodeNum uint32
	NameLen  uint8
	FileType uint8
	Name     [NameCapacity]byte
}

// Compile-time assertions that RawDentry is exactly Size bytes, mirroring
// a C static_assert(sizeof(dentry) == 256) check.
var _ [Size - int(unsafe.Sizeof(RawDentry{}))]byte
var _ [int(unsafe.Sizeof(RawDentry{})) - Size]byte

// IsEmpty reports whether this slot holds no entry.
func (rd *RawDentry) IsEmpty() bool {
	return rd.InodeNum == 0
}

// NameString returns the entry's name as a Go string.
func (rd *RawDentry) NameString() string {
	return string(rd.Name[:rd.NameLen])
}

func isDotOrDotDot(name string) bool {
	return name == "." || name == ".."
}

func nameIsValid(name string) bool {
	if name == "" || len(name) > NameCapacity-1 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '/' || c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}

// Create builds a validated in-memory dentry. name must pass the dentry
// name rules unless it is the special "." or ".." entry; inodeNum must
// be non-zero; typ must be FILE or DIRECTORY.
func Create(name string, inodeNum uint32, typ FileType) (RawDentry, error) {
	if !isDotOrDotDot(name) && !nameIsValid(name) {
		return RawDentry{}, uxerrors.ErrInvalid.WithMessage("invalid dentry name: " + name)
	}
	if inodeNum == 0 {
		return RawDentry{}, uxerrors.ErrInvalid.WithMessage("dentry inode number must be non-zero")
	}
	if typ != inode.TypeFile && typ != inode.TypeDirectory {
		return RawDentry{}, uxerrors.ErrInvalid.WithMessage("dentry file type must be FILE or DIRECTORY")
	}

	var rd RawDentry
	rd.InodeNum = inodeNum
	rd.FileType = uint8(typ)
	rd.NameLen = uint8(len(name))
	copy(rd.Name[:], name)
	return rd, nil
}

// Directory wires the dentry operations to a specific directory inode: it
// reads/writes that inode's data blocks through the shared inode table
// and block device, and allocates new directory blocks through the
// shared block bitmap.
type Directory struct {
	dev         *blockdev.Device
	inodes      *inode.Table
	blockBitmap *bitmap.Bitmap
}

// NewDirectory constructs a Directory bound to the shared device, inode
// table, and in-memory block allocation bitmap.
func NewDirectory(dev *blockdev.Device, inodes *inode.Table, blockBitmap *bitmap.Bitmap) *Directory {
	return &Directory{dev: dev, inodes: inodes, blockBitmap: blockBitmap}
}

func (d *Directory) readSlotBlock(blockNum uint32) ([]byte, error) {
	buf := make([]byte, blockdev.BlockSize)
	if err := d.dev.ReadBlock(blockNum, buf); err != nil {
		return nil, uxerrors.ErrIO.Wrap(err)
	}
	return buf, nil
}

func decodeSlot(buf []byte, slot int) (RawDentry, error) {
	var rd RawDentry
	off := slot * Size
	r := bytes.NewReader(buf[off : off+Size])
	if err := binary.Read(r, binary.LittleEndian, &rd); err != nil {
		return RawDentry{}, uxerrors.ErrIO.Wrap(err)
	}
	return rd, nil
}

func encodeSlot(buf []byte, slot int, rd *RawDentry) error {
	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, rd); err != nil {
		return uxerrors.ErrIO.Wrap(err)
	}
	off := slot * Size
	copy(buf[off:off+Size], out.Bytes())
	return nil
}

// dataBlocks returns, in traversal order, every non-zero data block
// number reachable from dirInode: direct pointers first, then the
// indirect block's pointers.
func (d *Directory) dataBlocks(dirInode *inode.RawInode) ([]uint32, error) {
	var blocks []uint32
	for _, b := range dirInode.Direct {
		if b != 0 {
			blocks = append(blocks, b)
		}
	}
	if dirInode.Indirect != 0 {
		buf, err := d.readSlotBlock(dirInode.Indirect)
		if err != nil {
			return nil, err
		}
		for i := 0; i < inode.PointersPerIndirectBlock; i++ {
			ptr := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
			if ptr != 0 {
				blocks = append(blocks, ptr)
			}
		}
	}
	return blocks, nil
}

// Find scans dirNum's directory blocks for name, returning the matching
// entry and its global slot index (across all of the directory's
// blocks). Returns uxerrors.ErrNotFound if no entry matches.
func (d *Directory) Find(dirNum uint32, name string) (RawDentry, int, error) {
	var dirInode inode.RawInode
	if err := d.inodes.Read(dirNum, &dirInode); err != nil {
		return RawDentry{}, 0, err
	}

	blocks, err := d.dataBlocks(&dirInode)
	if err != nil {
		return RawDentry{}, 0, err
	}

	globalSlot := 0
	for _, blockNum := range blocks {
		buf, err := d.readSlotBlock(blockNum)
		if err != nil {
			return RawDentry{}, 0, err
		}
		for slot := 0; slot < PerBlock; slot, globalSlot = slot+1, globalSlot+1 {
			rd, err := decodeSlot(buf, slot)
			if err != nil {
				return RawDentry{}, 0, err
			}
			if !rd.IsEmpty() && rd.NameString() == name {
				return rd, globalSlot, nil
			}
		}
	}

	return RawDentry{}, 0, uxerrors.ErrNotFound.WithMessage("no such directory entry: " + name)
}

// Add inserts newEntry into the first empty slot of dirNum's directory,
// scanning direct blocks in order then the indirect block, allocating a
// fresh block from the bitmap when every existing block is full. Fails
// with uxerrors.ErrExists if the name is already present, or
// uxerrors.ErrNoSpace if no block can be allocated.
func (d *Directory) Add(dirNum uint32, newEntry RawDentry) error {
	name := newEntry.NameString()
	if _, _, err := d.Find(dirNum, name); err == nil {
		return uxerrors.ErrExists.WithMessage("directory entry already exists: " + name)
	}

	var dirInode inode.RawInode
	if err := d.inodes.Read(dirNum, &dirInode); err != nil {
		return err
	}

	if ok, err := d.tryPlaceInExistingBlocks(dirNum, &dirInode, &newEntry); err != nil {
		return err
	} else if ok {
		return nil
	}

	return d.placeInNewBlock(dirNum, &dirInode, &newEntry)
}

// tryPlaceInExistingBlocks looks for an empty slot in any already
// allocated direct or indirect-chained block and writes newEntry there.
func (d *Directory) tryPlaceInExistingBlocks(dirNum uint32, dirInode *inode.RawInode, newEntry *RawDentry) (bool, error) {
	blocks, err := d.dataBlocks(dirInode)
	if err != nil {
		return false, err
	}

	for _, blockNum := range blocks {
		buf, err := d.readSlotBlock(blockNum)
		if err != nil {
			return false, err
		}
		for slot := 0; slot < PerBlock; slot++ {
			rd, err := decodeSlot(buf, slot)
			if err != nil {
				return false, err
			}
			if rd.IsEmpty() {
				if err := encodeSlot(buf, slot, newEntry); err != nil {
					return false, err
				}
				if err := d.dev.WriteBlock(blockNum, buf); err != nil {
					return false, err
				}
				dirInode.ModifiedAt = uint32(time.Now().Unix())
				return true, d.inodes.Write(dirNum, dirInode)
			}
		}
	}
	return false, nil
}

// placeInNewBlock allocates a fresh block (direct, or via the indirect
// block if all 12 direct slots are full), zeroes it, places newEntry in
// its first slot, and links it into dirInode. Rolls back the bitmap bit
// and any pointer update if a later I/O step fails.
func (d *Directory) placeInNewBlock(dirNum uint32, dirInode *inode.RawInode, newEntry *RawDentry) error {
	for i, b := range dirInode.Direct {
		if b != 0 {
			continue
		}
		newBlock, err := d.allocZeroedBlock()
		if err != nil {
			return err
		}

		buf := make([]byte, blockdev.BlockSize)
		if err := encodeSlot(buf, 0, newEntry); err != nil {
			_ = d.blockBitmap.Clear(int(newBlock))
			return err
		}
		if err := d.dev.WriteBlock(newBlock, buf); err != nil {
			_ = d.blockBitmap.Clear(int(newBlock))
			return uxerrors.ErrIO.Wrap(err)
		}

		dirInode.Direct[i] = newBlock
		dirInode.BlocksUsed++
		dirInode.ModifiedAt = uint32(time.Now().Unix())
		if err := d.inodes.Write(dirNum, dirInode); err != nil {
			dirInode.Direct[i] = 0
			dirInode.BlocksUsed--
			_ = d.blockBitmap.Clear(int(newBlock))
			return err
		}
		return nil
	}

	return d.placeViaIndirect(dirNum, dirInode, newEntry)
}

// placeViaIndirect handles the case where all 12 direct blocks are full:
// it allocates the indirect block if absent, then finds or allocates a
// data block reachable from it.
func (d *Directory) placeViaIndirect(dirNum uint32, dirInode *inode.RawInode, newEntry *RawDentry) error {
	indirectNewlyAllocated := false
	if dirInode.Indirect == 0 {
		newIndirect, err := d.allocZeroedBlock()
		if err != nil {
			return err
		}
		dirInode.Indirect = newIndirect
		dirInode.BlocksUsed++
		indirectNewlyAllocated = true
	}

	indirectBuf, err := d.readSlotBlock(dirInode.Indirect)
	if err != nil {
		d.rollbackIndirectAlloc(dirInode, indirectNewlyAllocated)
		return err
	}

	for i := 0; i < inode.PointersPerIndirectBlock; i++ {
		ptr := binary.LittleEndian.Uint32(indirectBuf[i*4 : i*4+4])
		if ptr != 0 {
			continue
		}

		newBlock, err := d.allocZeroedBlock()
		if err != nil {
			d.rollbackIndirectAlloc(dirInode, indirectNewlyAllocated)
			return err
		}

		dataBuf := make([]byte, blockdev.BlockSize)
		if err := encodeSlot(dataBuf, 0, newEntry); err != nil {
			_ = d.blockBitmap.Clear(int(newBlock))
			d.rollbackIndirectAlloc(dirInode, indirectNewlyAllocated)
			return err
		}
		if err := d.dev.WriteBlock(newBlock, dataBuf); err != nil {
			_ = d.blockBitmap.Clear(int(newBlock))
			d.rollbackIndirectAlloc(dirInode, indirectNewlyAllocated)
			return uxerrors.ErrIO.Wrap(err)
		}

		binary.LittleEndian.PutUint32(indirectBuf[i*4:i*4+4], newBlock)
		if err := d.dev.WriteBlock(dirInode.Indirect, indirectBuf); err != nil {
			_ = d.blockBitmap.Clear(int(newBlock))
			d.rollbackIndirectAlloc(dirInode, indirectNewlyAllocated)
			return uxerrors.ErrIO.Wrap(err)
		}

		dirInode.BlocksUsed++
		dirInode.ModifiedAt = uint32(time.Now().Unix())
		if err := d.inodes.Write(dirNum, dirInode); err != nil {
			_ = d.blockBitmap.Clear(int(newBlock))
			binary.LittleEndian.PutUint32(indirectBuf[i*4:i*4+4], 0)
			_ = d.dev.WriteBlock(dirInode.Indirect, indirectBuf)
			dirInode.BlocksUsed--
			d.rollbackIndirectAlloc(dirInode, indirectNewlyAllocated)
			return err
		}
		return nil
	}

	d.rollbackIndirectAlloc(dirInode, indirectNewlyAllocated)
	return uxerrors.ErrNoSpace.WithMessage("directory indirect block is full")
}

func (d *Directory) rollbackIndirectAlloc(dirInode *inode.RawInode, wasNew bool) {
	if !wasNew {
		return
	}
	_ = d.blockBitmap.Clear(int(dirInode.Indirect))
	dirInode.Indirect = 0
	dirInode.BlocksUsed--
}

func (d *Directory) allocZeroedBlock() (uint32, error) {
	idx, err := d.blockBitmap.FindFirstFree()
	if err != nil {
		return 0, err
	}
	if err := d.blockBitmap.Set(idx); err != nil {
		return 0, err
	}

	zero := make([]byte, blockdev.BlockSize)
	blockNum := uint32(idx)
	if err := d.dev.WriteBlock(blockNum, zero); err != nil {
		_ = d.blockBitmap.Clear(idx)
		return 0, uxerrors.ErrIO.Wrap(err)
	}
	return blockNum, nil
}

// Remove locates name in dirNum's directory and zeroes its slot,
// refreshing the directory's modified time. Directory blocks that become
// entirely empty are not released; inode.Free recycles them when the
// directory itself is freed.
func (d *Directory) Remove(dirNum uint32, name string) error {
	var dirInode inode.RawInode
	if err := d.inodes.Read(dirNum, &dirInode); err != nil {
		return err
	}

	blocks, err := d.dataBlocks(&dirInode)
	if err != nil {
		return err
	}

	for _, blockNum := range blocks {
		buf, err := d.readSlotBlock(blockNum)
		if err != nil {
			return err
		}
		for slot := 0; slot < PerBlock; slot++ {
			rd, err := decodeSlot(buf, slot)
			if err != nil {
				return err
			}
			if rd.IsEmpty() || rd.NameString() != name {
				continue
			}

			zero := RawDentry{}
			if err := encodeSlot(buf, slot, &zero); err != nil {
				return err
			}
			if err := d.dev.WriteBlock(blockNum, buf); err != nil {
				return uxerrors.ErrIO.Wrap(err)
			}

			dirInode.ModifiedAt = uint32(time.Now().Unix())
			return d.inodes.Write(dirNum, &dirInode)
		}
	}

	return uxerrors.ErrNotFound.WithMessage("no such directory entry: " + name)
}

// List returns every non-empty entry in dirNum's directory, in
// traversal order, using a count-then-fill pass so the output slice is
// allocated at its exact final size.
func (d *Directory) List(dirNum uint32) ([]RawDentry, error) {
	var dirInode inode.RawInode
	if err := d.inodes.Read(dirNum, &dirInode); err != nil {
		return nil, err
	}

	blocks, err := d.dataBlocks(&dirInode)
	if err != nil {
		return nil, err
	}

	blockBufs := make([][]byte, len(blocks))
	count := 0
	for i, blockNum := range blocks {
		buf, err := d.readSlotBlock(blockNum)
		if err != nil {
			return nil, err
		}
		blockBufs[i] = buf
		for slot := 0; slot < PerBlock; slot++ {
			rd, err := decodeSlot(buf, slot)
			if err != nil {
				return nil, err
			}
			if !rd.IsEmpty() {
				count++
			}
		}
	}

	out := make([]RawDentry, 0, count)
	for _, buf := range blockBufs {
		for slot := 0; slot < PerBlock; slot++ {
			rd, err := decodeSlot(buf, slot)
			if err != nil {
				return nil, err
			}
			if !rd.IsEmpty() {
				out = append(out, rd)
			}
		}
	}
	return out, nil
}
