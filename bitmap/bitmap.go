// Package bitmap implements an in-memory bit array: packed LSB-first
// bits with get/set/clear/toggle, range operations, and deterministic
// smallest-index free-bit search.
package bitmap

import (
	gobitmap "github.com/boljen/go-bitmap"
	"github.com/kavalcante/uxfs/uxerrors"
)

// Bitmap wraps github.com/boljen/go-bitmap's packed byte-slice
// representation with additional range/count/search operations, the way
// drivers/common/allocatormap.go and drivers/common/blockcache/
// blockcache.go each layer allocation-specific behavior on top of the
// same library.
type Bitmap struct {
	bits gobitmap.Bitmap
	n    int
}

// New allocates a zeroed bitmap of n bits.
func New(n int) *Bitmap {
	return &Bitmap{bits: gobitmap.NewSlice(n), n: n}
}

// FromBytes wraps an existing packed byte slice as a bitmap of n bits. The
// slice is used directly, not copied.
func FromBytes(data []byte, n int) *Bitmap {
	return &Bitmap{bits: gobitmap.Bitmap(data), n: n}
}

// Bytes returns the packed byte-slice backing this bitmap, suitable for
// persisting to disk.
func (b *Bitmap) Bytes() []byte {
	return b.bits.Data(false)
}

// Len returns the number of bits in the bitmap.
func (b *Bitmap) Len() int {
	return b.n
}

func (b *Bitmap) checkIndex(i int) error {
	if i < 0 || i >= b.n {
		return uxerrors.ErrInvalid.WithMessage("bitmap index out of range")
	}
	return nil
}

// Get returns the value of bit i.
func (b *Bitmap) Get(i int) (bool, error) {
	if err := b.checkIndex(i); err != nil {
		return false, err
	}
	return b.bits.Get(i), nil
}

// Set sets bit i to 1.
func (b *Bitmap) Set(i int) error {
	if err := b.checkIndex(i); err != nil {
		return err
	}
	b.bits.Set(i, true)
	return nil
}

// Clear sets bit i to 0.
func (b *Bitmap) Clear(i int) error {
	if err := b.checkIndex(i); err != nil {
		return err
	}
	b.bits.Set(i, false)
	return nil
}

// Toggle flips bit i and returns its new value.
func (b *Bitmap) Toggle(i int) (bool, error) {
	if err := b.checkIndex(i); err != nil {
		return false, err
	}
	newValue := !b.bits.Get(i)
	b.bits.Set(i, newValue)
	return newValue, nil
}

// SetAll sets every bit to 1.
func (b *Bitmap) SetAll() {
	for i := 0; i < b.n; i++ {
		b.bits.Set(i, true)
	}
}

// ClearAll sets every bit to 0.
func (b *Bitmap) ClearAll() {
	for i := 0; i < b.n; i++ {
		b.bits.Set(i, false)
	}
}

func (b *Bitmap) checkRange(start, count int) error {
	if start < 0 || count < 0 || start+count > b.n {
		return uxerrors.ErrInvalid.WithMessage("bitmap range out of bounds")
	}
	return nil
}

// SetRange sets count bits to 1 starting at start.
func (b *Bitmap) SetRange(start, count int) error {
	if err := b.checkRange(start, count); err != nil {
		return err
	}
	for i := start; i < start+count; i++ {
		b.bits.Set(i, true)
	}
	return nil
}

// ClearRange clears count bits starting at start.
func (b *Bitmap) ClearRange(start, count int) error {
	if err := b.checkRange(start, count); err != nil {
		return err
	}
	for i := start; i < start+count; i++ {
		b.bits.Set(i, false)
	}
	return nil
}

// FindFirstFree returns the index of the first clear bit, starting the
// search at index 1 (index 0 is skipped by policy: it denotes the
// reserved slot in both the block and inode bitmaps).
// Returns uxerrors.ErrNoSpace if every bit from 1 onward is set.
func (b *Bitmap) FindFirstFree() (int, error) {
	return b.FindNextFree(1)
}

// FindNextFree returns the index of the first clear bit at or after start.
// Returns uxerrors.ErrNoSpace if none is found.
func (b *Bitmap) FindNextFree(start int) (int, error) {
	if start < 0 {
		start = 0
	}
	for i := start; i < b.n; i++ {
		if !b.bits.Get(i) {
			return i, nil
		}
	}
	return 0, uxerrors.ErrNoSpace.WithMessage("no free bit found")
}

// CountFree returns the number of clear bits.
func (b *Bitmap) CountFree() int {
	return b.n - b.CountUsed()
}

// CountUsed returns the number of set bits.
func (b *Bitmap) CountUsed() int {
	used := 0
	for i := 0; i < b.n; i++ {
		if b.bits.Get(i) {
			used++
		}
	}
	return used
}
