// Copyright © 2023-2024 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package ibf implements an interleaved Bloom filter: B parallel Bloom
// filters whose bits are interleaved so that one hash position retrieves
// the membership bits of all B bins in a contiguous read.
package ibf

import (
	"encoding/binary"
	"errors"

	"github.com/zeebo/wyhash"
)

// ErrInvalidParameters means invalid bin count, bin size or hash count.
var ErrInvalidParameters = errors.New("ibf: invalid parameters")

// MaxHashes is the maximum number of hash functions.
const MaxHashes = 5

// Filter is the layout-independent contract shared by the uncompressed
// and the compressed interleaved Bloom filter.
type Filter interface {
	// BinCount returns the number of bins.
	BinCount() int

	// BinSize returns the number of hash positions per bin.
	BinSize() uint64

	// NumHashes returns the number of hash functions.
	NumHashes() int

	// Compressed tells the data layout.
	Compressed() bool

	// binWordCount returns the number of uint64 words of one interleaved row.
	binWordCount() int

	// membership fills buf (binWordCount words) with the AND of the rows
	// selected by the hash value: bit b is set iff bin b contains the value.
	membership(hash uint64, buf []uint64) []uint64
}

// position maps a hash value to a row for the i-th hash function.
func position(hash uint64, i int, binSize uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], hash)
	return wyhash.Hash(b[:], 0x9e3779b97f4a7c15*(uint64(i)+1)) % binSize
}

// IBF is the uncompressed layout with random bit access.
// The rows are stored as a single word array, row r starting at word
// r*binWordCount.
type IBF struct {
	bins    int
	binSize uint64
	hashes  int
	words   int // words per row

	data []uint64 // binSize * words
}

// New creates an uncompressed interleaved Bloom filter of bins bins,
// binSize hash positions per bin, and hashes hash functions.
func New(bins int, binSize uint64, hashes int) (*IBF, error) {
	if bins < 1 || binSize < 1 || hashes < 1 || hashes > MaxHashes {
		return nil, ErrInvalidParameters
	}
	words := (bins + 63) >> 6
	return &IBF{
		bins:    bins,
		binSize: binSize,
		hashes:  hashes,
		words:   words,
		data:    make([]uint64, binSize*uint64(words)),
	}, nil
}

// BinCount returns the number of bins.
func (f *IBF) BinCount() int { return f.bins }

// BinSize returns the number of hash positions per bin.
func (f *IBF) BinSize() uint64 { return f.binSize }

// NumHashes returns the number of hash functions.
func (f *IBF) NumHashes() int { return f.hashes }

// Compressed tells the data layout.
func (f *IBF) Compressed() bool { return false }

func (f *IBF) binWordCount() int { return f.words }

// Add inserts a hash value into a bin.
func (f *IBF) Add(bin int, hash uint64) {
	for i := 0; i < f.hashes; i++ {
		base := position(hash, i, f.binSize) * uint64(f.words)
		f.data[base+uint64(bin>>6)] |= 1 << (uint(bin) & 63)
	}
}

func (f *IBF) membership(hash uint64, buf []uint64) []uint64 {
	base := position(hash, 0, f.binSize) * uint64(f.words)
	copy(buf, f.data[base:base+uint64(f.words)])
	for i := 1; i < f.hashes; i++ {
		base = position(hash, i, f.binSize) * uint64(f.words)
		row := f.data[base : base+uint64(f.words)]
		for j := range buf {
			buf[j] &= row[j]
		}
	}
	return buf
}
