package fs

import (
	"time"

	"github.com/kavalcante/uxfs/inode"
	"github.com/kavalcante/uxfs/uxerrors"
)

// OpenFlags are the bit flags accepted by Open, OR-combinable.
type OpenFlags uint32

const (
	RDONLY OpenFlags = 0x01
	WRONLY OpenFlags = 0x02
	RDWR   OpenFlags = RDONLY | WRONLY
	CREAT  OpenFlags = 0x08
	APPEND OpenFlags = 0x10
	TRUNC  OpenFlags = 0x20
)

func (flags OpenFlags) canRead() bool  { return flags&RDONLY != 0 }
func (flags OpenFlags) canWrite() bool { return flags&WRONLY != 0 }

// OpenFile is an in-memory cursor over a file: the inode number, a
// snapshot of its inode record, the current byte offset, the flags it
// was opened with, and a back-reference to the owning filesystem.
type OpenFile struct {
	fs       *FileSystem
	inodeNum uint32
	inode    inode.RawInode
	offset   uint32
	flags    OpenFlags
}

// InodeNum returns the inode number this handle refers to.
func (of *OpenFile) InodeNum() uint32 { return of.inodeNum }

// Offset returns the handle's current byte offset.
func (of *OpenFile) Offset() uint32 { return of.offset }

// Read copies up to len(buf) bytes starting at the handle's offset,
// advances the offset by the amount read, and refreshes the inode's
// access timestamp.
func (of *OpenFile) Read(buf []byte) (int, error) {
	if !of.flags.canRead() {
		return 0, uxerrors.ErrPermission.WithMessage("file not opened for reading")
	}

	n, err := of.fs.readInodeData(&of.inode, of.offset, buf)
	if err != nil {
		return n, err
	}
	of.offset += uint32(n)

	of.inode.AccessedAt = uint32(time.Now().Unix())
	if err := of.fs.inodes.Write(of.inodeNum, &of.inode); err != nil {
		return n, err
	}
	return n, nil
}

// Write writes buf starting at the handle's offset, growing the file and
// allocating blocks as needed, then advances the offset by the amount
// written.
func (of *OpenFile) Write(buf []byte) (int, error) {
	if !of.flags.canWrite() {
		return 0, uxerrors.ErrPermission.WithMessage("file not opened for writing")
	}

	n, err := of.fs.writeInodeData(of.inodeNum, &of.inode, of.offset, buf)
	of.offset += uint32(n)
	return n, err
}

// Seek repositions the handle's offset, clamped to [0, inode.Size].
func (of *OpenFile) Seek(offset int64) {
	if offset < 0 {
		offset = 0
	}
	if uint32(offset) > of.inode.Size {
		offset = int64(of.inode.Size)
	}
	of.offset = uint32(offset)
}

// Close discards the handle. Inode persistence already happens inside
// Write, so there is nothing further to flush.
func (of *OpenFile) Close() error {
	return nil
}

// Stat returns the handle's inode number and a snapshot of its inode.
func (of *OpenFile) Stat() (uint32, inode.RawInode) {
	return of.inodeNum, of.inode
}
