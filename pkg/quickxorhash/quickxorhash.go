// Package quickxorhash implements QuickXorHash, the non-cryptographic
// checksum SharePoint and OneDrive report for file content.
//
// Each input byte is XORed into a 160-bit circular buffer whose insertion
// point advances 11 bits per byte; the total input length is XORed into the
// last 8 bytes of the digest. The wire encoding is standard base64 of the
// 20-byte sum.
//
// Algorithm reference: Microsoft's C# snippet at
// https://learn.microsoft.com/en-us/onedrive/developer/code-snippets/quickxorhash
// with the cell-straddling optimization from rclone's port.
package quickxorhash

import (
	"encoding/binary"
	"hash"
)

const (
	// Size is the digest length in bytes.
	Size = 20

	// BlockSize is the preferred write granularity in bytes.
	BlockSize = 64

	widthBits    = 160 // circular buffer width
	shiftPerByte = 11  // insertion point advance per input byte

	cellBits     = 64 // bits per uint64 cell
	lastCellBits = 32 // widthBits - 2*cellBits
	numCells     = 3  // cells covering widthBits
	lastCell     = numCells - 1
	byteBits     = 8
)

type digest struct {
	cells  [numCells]uint64
	bitPos int    // current insertion offset within the circular buffer
	length uint64 // total bytes written
}

// New returns a hash.Hash computing QuickXorHash.
func New() hash.Hash {
	return &digest{}
}

// capacity returns the number of valid bits in cell i.
func capacity(i int) int {
	if i == lastCell {
		return lastCellBits
	}

	return cellBits
}

// Write absorbs p into the running hash. The error is always nil.
func (d *digest) Write(p []byte) (int, error) {
	cell := d.bitPos / cellBits
	offset := d.bitPos % cellBits

	// Bytes whose index differs by widthBits land on the same bit offset,
	// so one pass over the first widthBits positions covers all of p.
	positions := min(len(p), widthBits)

	for i := range positions {
		if offset <= capacity(cell)-byteBits {
			// Byte fits inside the current cell.
			for j := i; j < len(p); j += widthBits {
				d.cells[cell] ^= uint64(p[j]) << offset
			}
		} else {
			// Byte straddles a cell boundary: fold all bytes at this
			// position first, then split the result across the two cells.
			next := cell + 1
			if cell == lastCell {
				next = 0
			}

			spill := byte(capacity(cell) - offset)

			var folded byte
			for j := i; j < len(p); j += widthBits {
				folded ^= p[j]
			}

			d.cells[cell] ^= uint64(folded) << offset
			d.cells[next] ^= uint64(folded) >> spill
		}

		offset += shiftPerByte
		for offset >= capacity(cell) {
			offset -= capacity(cell)
			if cell == lastCell {
				cell = 0
			} else {
				cell++
			}
		}
	}

	d.bitPos = (d.bitPos + shiftPerByte*(len(p)%widthBits)) % widthBits
	d.length += uint64(len(p))

	return len(p), nil
}

// Sum appends the current digest to b without disturbing the hash state.
func (d *digest) Sum(b []byte) []byte {
	var out [Size]byte

	binary.LittleEndian.PutUint64(out[0:8], d.cells[0])
	binary.LittleEndian.PutUint64(out[8:16], d.cells[1])
	// The last cell holds lastCellBits (32) valid bits.
	binary.LittleEndian.PutUint32(out[16:Size], uint32(d.cells[2])) //nolint:gosec // high bits are always zero

	// The total length is XORed into the trailing 8 bytes.
	var lenBytes [8]byte

	binary.LittleEndian.PutUint64(lenBytes[:], d.length)

	for i, lb := range lenBytes {
		out[Size-len(lenBytes)+i] ^= lb
	}

	return append(b, out[:]...)
}

// Reset returns the hash to its initial state.
func (d *digest) Reset() {
	*d = digest{}
}

// Size returns the digest length in bytes.
func (d *digest) Size() int {
	return Size
}

// BlockSize returns the preferred write granularity in bytes.
func (d *digest) BlockSize() int {
	return BlockSize
}
