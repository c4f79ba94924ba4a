// Package superblock implements the single, block-0 on-disk layout
// descriptor: magic number, global counters, and the four derived
// layout regions (block bitmap, inode bitmap, inode table, first data
// block).
package superblock

import (
	"bytes"
	"encoding/binary"
	"time"
	"unsafe"

	"github.com/kavalcante/uxfs/blockdev"
	"github.com/kavalcante/uxfs/uxerrors"
)

// Magic identifies a valid uxfs superblock.
const Magic = 0x12345678

// InodeSize is the on-disk size of one packed inode, in bytes.
const InodeSize = 128

// Size is the packed, on-disk size of RawSuperblock, in bytes.
const Size = 108

// RawSuperblock is the 108-byte packed on-disk superblock record. Field
// order is the wire format; do not reorder without updating Size.
type RawSuperblock struct {
	Magic             uint32
	TotalBlocks       uint32
	TotalInodes       uint32
	FreeBlocks        uint32
	FreeInodes        uint32
	BlockSize         uint32
	InodeSize         uint32
	BlockBitmapStart  uint32
	BlockBitmapLength uint32
	InodeBitmapStart  uint32
	InodeBitmapLength uint32
	InodeTableStart   uint32
	InodeTableLength  uint32
	FirstDataBlock    uint32
	CreatedAt         uint32
	LastMountAt       uint32
	MountCount        uint32
	Reserved          [40]byte
}

// Compile-time assertions that RawSuperblock is exactly Size bytes,
// mirroring a C static_assert(sizeof(...) == ...) check.
var _ [Size - int(unsafe.Sizeof(RawSuperblock{}))]byte
var _ [int(unsafe.Sizeof(RawSuperblock{})) - Size]byte

// blockCountFor returns the number of whole blocks needed to hold
// byteLength bytes.
func blockCountFor(byteLength uint32) uint32 {
	return (byteLength + blockdev.BlockSize - 1) / blockdev.BlockSize
}

// Init computes a fresh layout for a filesystem with the given total
// number of blocks and inodes, using a greedy placement algorithm:
// block bitmap, then inode bitmap, then inode table, each rounded up to
// whole blocks, starting at block 1.
//
// Returns uxerrors.ErrNoSpace if the computed first data block would fall
// at or past totalBlocks.
func Init(totalBlocks, totalInodes uint32) (RawSuperblock, error) {
	blockBitmapBlocks := blockCountFor((totalBlocks + 7) / 8)
	inodeBitmapBlocks := blockCountFor((totalInodes + 7) / 8)
	inodeTableBlocks := blockCountFor(totalInodes * InodeSize)

	blockBitmapStart := uint32(1)
	inodeBitmapStart := blockBitmapStart + blockBitmapBlocks
	inodeTableStart := inodeBitmapStart + inodeBitmapBlocks
	firstDataBlock := inodeTableStart + inodeTableBlocks

	if firstDataBlock >= totalBlocks {
		return RawSuperblock{}, uxerrors.ErrNoSpace.WithMessage(
			"disk is too small to hold its own metadata")
	}

	now := uint32(time.Now().Unix())

	return RawSuperblock{
		Magic:             Magic,
		TotalBlocks:       totalBlocks,
		TotalInodes:       totalInodes,
		FreeBlocks:        totalBlocks - firstDataBlock,
		FreeInodes:        totalInodes - 1, // reserve inode 0
		BlockSize:         blockdev.BlockSize,
		InodeSize:         InodeSize,
		BlockBitmapStart:  blockBitmapStart,
		BlockBitmapLength: blockBitmapBlocks,
		InodeBitmapStart:  inodeBitmapStart,
		InodeBitmapLength: inodeBitmapBlocks,
		InodeTableStart:   inodeTableStart,
		InodeTableLength:  inodeTableBlocks,
		FirstDataBlock:    firstDataBlock,
		CreatedAt:         now,
		LastMountAt:       0,
		MountCount:        0,
	}, nil
}

// Valid reports whether sb carries a recognized magic number.
func (sb *RawSuperblock) Valid() bool {
	return sb.Magic == Magic
}

// Read loads the superblock from block 0 of dev.
func Read(dev *blockdev.Device) (RawSuperblock, error) {
	buf := make([]byte, blockdev.BlockSize)
	if err := dev.ReadBlock(0, buf); err != nil {
		return RawSuperblock{}, err
	}

	var sb RawSuperblock
	if err := binary.Read(bytes.NewReader(buf[:Size]), binary.LittleEndian, &sb); err != nil {
		return RawSuperblock{}, uxerrors.ErrIO.Wrap(err)
	}
	if !sb.Valid() {
		return RawSuperblock{}, uxerrors.ErrInvalid.WithMessage("bad superblock magic")
	}
	return sb, nil
}

// Write persists the superblock to block 0 of dev.
func Write(dev *blockdev.Device, sb *RawSuperblock) error {
	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, sb); err != nil {
		return uxerrors.ErrIO.Wrap(err)
	}

	buf := make([]byte, blockdev.BlockSize)
	copy(buf, out.Bytes())
	return dev.WriteBlock(0, buf)
}
