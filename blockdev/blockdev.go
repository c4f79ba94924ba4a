// Package blockdev implements the fixed-size block device abstraction:
// bounds-checked block and byte-level I/O over a backing image, with an
// attach/detach lifecycle.
package blockdev

import (
	"io"

	"github.com/kavalcante/uxfs/uxerrors"
)

// BlockSize is the fixed size of one block, in bytes.
const BlockSize = 512

// Device is a block-oriented view of a backing image. All block indexes
// begin at 0; block 0 is reserved for the superblock by convention of the
// layers above this one (blockdev itself has no opinion on block 0).
type Device struct {
	stream     io.ReadWriteSeeker
	totalBytes int64
	attached   bool
}

// Attach opens an existing backing image. The stream's current size
// determines the device's capacity; it must already be a whole multiple
// of BlockSize.
func Attach(stream io.ReadWriteSeeker) (*Device, error) {
	size, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, uxerrors.ErrIO.Wrap(err)
	}
	if size%BlockSize != 0 {
		return nil, uxerrors.ErrInvalid.WithMessage("image size is not a multiple of the block size")
	}
	return &Device{stream: stream, totalBytes: size, attached: true}, nil
}

// Create formats a new backing image of exactly numBlocks blocks, zero
// filled, and attaches to it.
func Create(stream io.ReadWriteSeeker, numBlocks uint32) (*Device, error) {
	size := int64(numBlocks) * BlockSize
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return nil, uxerrors.ErrIO.Wrap(err)
	}

	zeroChunk := make([]byte, BlockSize)
	var written int64
	for written < size {
		n := BlockSize
		if remaining := size - written; remaining < BlockSize {
			n = int(remaining)
		}
		if _, err := stream.Write(zeroChunk[:n]); err != nil {
			return nil, uxerrors.ErrIO.Wrap(err)
		}
		written += int64(n)
	}

	return &Device{stream: stream, totalBytes: size, attached: true}, nil
}

// Detach flushes and marks the device as no longer usable for I/O.
func (d *Device) Detach() error {
	if !d.attached {
		return nil
	}
	err := d.Sync()
	d.attached = false
	return err
}

// Sync is a no-op beyond the underlying stream's own durability guarantees;
// it exists to satisfy the device's attach/detach contract. If the stream
// supports explicit flushing it is invoked.
func (d *Device) Sync() error {
	if syncer, ok := d.stream.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return uxerrors.ErrIO.Wrap(err)
		}
	}
	return nil
}

// Size returns the total capacity of the device, in bytes.
func (d *Device) Size() int64 {
	return d.totalBytes
}

// BlockCount returns the total number of blocks on the device.
func (d *Device) BlockCount() uint32 {
	return uint32(d.totalBytes / BlockSize)
}

// BytesPerBlock returns the fixed block size.
func (d *Device) BytesPerBlock() int {
	return BlockSize
}

// Attached reports whether the device is currently usable for I/O.
func (d *Device) Attached() bool {
	return d.attached
}

func (d *Device) checkBlock(n uint32) error {
	if uint64(n) >= uint64(d.BlockCount()) {
		return uxerrors.ErrInvalid.WithMessage("block index out of range")
	}
	return nil
}

// ReadBlock reads exactly one block (BlockSize bytes) into buf.
func (d *Device) ReadBlock(n uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return uxerrors.ErrInvalid.WithMessage("buffer must be exactly one block")
	}
	if err := d.checkBlock(n); err != nil {
		return err
	}
	return d.readAt(int64(n)*BlockSize, buf)
}

// WriteBlock writes exactly one block (BlockSize bytes) from buf.
func (d *Device) WriteBlock(n uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return uxerrors.ErrInvalid.WithMessage("buffer must be exactly one block")
	}
	if err := d.checkBlock(n); err != nil {
		return err
	}
	return d.writeAt(int64(n)*BlockSize, buf)
}

// Read performs a byte-level read starting at offset, for len(buf) bytes.
func (d *Device) Read(offset int64, buf []byte) error {
	if offset < 0 || offset+int64(len(buf)) > d.totalBytes {
		return uxerrors.ErrInvalid.WithMessage("read extends past end of device")
	}
	return d.readAt(offset, buf)
}

// Write performs a byte-level write starting at offset, for len(buf) bytes.
func (d *Device) Write(offset int64, buf []byte) error {
	if offset < 0 || offset+int64(len(buf)) > d.totalBytes {
		return uxerrors.ErrInvalid.WithMessage("write extends past end of device")
	}
	return d.writeAt(offset, buf)
}

func (d *Device) readAt(offset int64, buf []byte) error {
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return uxerrors.ErrIO.Wrap(err)
	}
	if _, err := io.ReadFull(d.stream, buf); err != nil {
		return uxerrors.ErrIO.Wrap(err)
	}
	return nil
}

func (d *Device) writeAt(offset int64, buf []byte) error {
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return uxerrors.ErrIO.Wrap(err)
	}
	if _, err := d.stream.Write(buf); err != nil {
		return uxerrors.ErrIO.Wrap(err)
	}
	return nil
}
