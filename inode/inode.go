// Package inode implements the 128-byte packed inode record and inode
// table operations: position lookup, read/write at single-inode
// granularity, and bitmap-backed alloc/free.
package inode

import (
	"bytes"
	"encoding/binary"
	"time"
	"unsafe"

	"github.com/kavalcante/uxfs/bitmap"
	"github.com/kavalcante/uxfs/blockdev"
	"github.com/kavalcante/uxfs/superblock"
	"github.com/kavalcante/uxfs/uxerrors"
)

// Type enumerates what an inode represents.
type Type uint32

const (
	TypeFree Type = iota
	TypeFile
	TypeDirectory
)

// Size is the on-disk size of one packed inode, in bytes.
const Size = 128

// DirectPointers is the number of direct block pointers per inode.
const DirectPointers = 12

// PointersPerIndirectBlock is the number of block pointers that fit in
// one indirect block (blockdev.BlockSize / 4).
const PointersPerIndirectBlock = blockdev.BlockSize / 4

// PerBlock is the number of packed inodes that fit in one block.
const PerBlock = blockdev.BlockSize / Size

// RawInode is the 128-byte packed on-disk inode record.
type RawInode struct {
	Type        uint32
	Permissions uint32
	LinksCount  uint32
	Size        uint32
	BlocksUsed  uint32
	Direct      [DirectPointers]uint32
	Indirect    uint32
	CreatedAt   uint32
	ModifiedAt  uint32
	AccessedAt  uint32
	Reserved    [44]byte
}

// Compile-time assertions that RawInode is exactly Size bytes, mirroring
// a C static_assert(sizeof(inode) == 128) check.
var _ [Size - int(unsafe.Sizeof(RawInode{}))]byte
var _ [int(unsafe.Sizeof(RawInode{})) - Size]byte

// InvalidInode is the reserved inode number that never refers to a real
// inode.
const InvalidInode = 0

// RootInode is the inode number of the root directory.
const RootInode = 1

func (ri *RawInode) typ() Type       { return Type(ri.Type) }
func (ri *RawInode) IsFree() bool    { return ri.typ() == TypeFree }
func (ri *RawInode) IsFile() bool    { return ri.typ() == TypeFile }
func (ri *RawInode) IsDir() bool     { return ri.typ() == TypeDirectory }
func (ri *RawInode) SetType(t Type)  { ri.Type = uint32(t) }

// Table provides read/write/alloc/free operations over the inode table
// region of the device, backed by an in-memory copy of the inode bitmap.
type Table struct {
	dev    *blockdev.Device
	sb     *superblock.RawSuperblock
	bitmap *bitmap.Bitmap
}

// NewTable constructs a Table bound to dev, sb and an inode allocation
// bitmap already loaded into memory (populated from disk at mount time).
func NewTable(dev *blockdev.Device, sb *superblock.RawSuperblock, bm *bitmap.Bitmap) *Table {
	return &Table{dev: dev, sb: sb, bitmap: bm}
}

// Bitmap returns the table's in-memory inode bitmap, for persistence by
// the filesystem core on unmount.
func (t *Table) Bitmap() *bitmap.Bitmap {
	return t.bitmap
}

// Position returns the block containing inode n and n's byte offset
// within that block.
func (t *Table) Position(n uint32) (block uint32, offset uint32) {
	index := n - RootInode // inode 1 is the first entry in the table
	block = t.sb.InodeTableStart + index/PerBlock
	offset = (index % PerBlock) * Size
	return block, offset
}

// Read loads inode n into out.
func (t *Table) Read(n uint32, out *RawInode) error {
	if n == InvalidInode {
		return uxerrors.ErrInvalid.WithMessage("inode 0 is not a valid inode")
	}

	block, offset := t.Position(n)
	buf := make([]byte, blockdev.BlockSize)
	if err := t.dev.ReadBlock(block, buf); err != nil {
		return err
	}

	r := bytes.NewReader(buf[offset : offset+Size])
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return uxerrors.ErrIO.Wrap(err)
	}
	return nil
}

// Write persists inode n by reading its containing block, patching the
// slot, and writing the block back, preserving the other inodes sharing
// that block.
func (t *Table) Write(n uint32, in *RawInode) error {
	if n == InvalidInode {
		return uxerrors.ErrInvalid.WithMessage("inode 0 is not a valid inode")
	}

	block, offset := t.Position(n)
	buf := make([]byte, blockdev.BlockSize)
	if err := t.dev.ReadBlock(block, buf); err != nil {
		return err
	}

	var encoded bytes.Buffer
	if err := binary.Write(&encoded, binary.LittleEndian, in); err != nil {
		return uxerrors.ErrIO.Wrap(err)
	}
	copy(buf[offset:offset+Size], encoded.Bytes())

	return t.dev.WriteBlock(block, buf)
}

// Alloc finds the first free inode number, marks it used, constructs a
// fresh inode of the given type and permissions, and writes it out. On
// write failure the bitmap bit is rolled back.
func (t *Table) Alloc(typ Type, perms uint32) (uint32, RawInode, error) {
	idx, err := t.bitmap.FindFirstFree()
	if err != nil {
		return 0, RawInode{}, err
	}

	if err := t.bitmap.Set(idx); err != nil {
		return 0, RawInode{}, err
	}

	now := uint32(time.Now().Unix())
	raw := RawInode{
		Type:        uint32(typ),
		Permissions: perms,
		LinksCount:  1,
		CreatedAt:   now,
		ModifiedAt:  now,
		AccessedAt:  now,
	}

	n := uint32(idx)
	if err := t.Write(n, &raw); err != nil {
		_ = t.bitmap.Clear(idx) // roll back the bitmap bit on failure
		return 0, RawInode{}, uxerrors.ErrIO.Wrap(err)
	}

	return n, raw, nil
}

// Free releases inode n: every direct block pointer, the indirect block's
// children (if any) plus the indirect block itself, are returned through
// freeBlock; the inode bitmap bit is cleared; and the inode slot is
// overwritten with a zeroed, FREE-typed record. freedBlocks reports how
// many data blocks (not counting the inode table region itself) were
// released, for the caller to adjust superblock counters.
func (t *Table) Free(n uint32, freeBlock func(block uint32) error) (freedBlocks uint32, err error) {
	var raw RawInode
	if err := t.Read(n, &raw); err != nil {
		return 0, err
	}

	for _, b := range raw.Direct {
		if b == 0 {
			continue
		}
		if err := freeBlock(b); err != nil {
			return freedBlocks, err
		}
		freedBlocks++
	}

	if raw.Indirect != 0 {
		buf := make([]byte, blockdev.BlockSize)
		if err := t.dev.ReadBlock(raw.Indirect, buf); err != nil {
			return freedBlocks, err
		}
		for i := 0; i < PointersPerIndirectBlock; i++ {
			ptr := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
			if ptr == 0 {
				continue
			}
			if err := freeBlock(ptr); err != nil {
				return freedBlocks, err
			}
			freedBlocks++
		}
		if err := freeBlock(raw.Indirect); err != nil {
			return freedBlocks, err
		}
		freedBlocks++
	}

	idx := int(n)
	if err := t.bitmap.Clear(idx); err != nil {
		return freedBlocks, err
	}

	zero := RawInode{}
	if err := t.Write(n, &zero); err != nil {
		return freedBlocks, err
	}

	return freedBlocks, nil
}
