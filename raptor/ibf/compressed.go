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

package ibf

import (
	"math/bits"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// CompressedIBF stores the interleaved bit matrix in a compressed bitmap.
// Lookups scan the first row with a bitmap iterator and test the other
// rows with Contains. The counting contract is identical to IBF.
type CompressedIBF struct {
	bins    int
	binSize uint64
	hashes  int
	words   int

	bm *roaring64.Bitmap
}

// Compress converts an uncompressed filter into the compressed layout.
func (f *IBF) Compress() *CompressedIBF {
	bm := roaring64.New()
	var base uint64
	for wi, word := range f.data {
		base = uint64(wi) << 6
		for word != 0 {
			bm.Add(base + uint64(bits.TrailingZeros64(word)))
			word &= word - 1
		}
	}
	bm.RunOptimize()
	return &CompressedIBF{
		bins:    f.bins,
		binSize: f.binSize,
		hashes:  f.hashes,
		words:   f.words,
		bm:      bm,
	}
}

// BinCount returns the number of bins.
func (f *CompressedIBF) BinCount() int { return f.bins }

// BinSize returns the number of hash positions per bin.
func (f *CompressedIBF) BinSize() uint64 { return f.binSize }

// NumHashes returns the number of hash functions.
func (f *CompressedIBF) NumHashes() int { return f.hashes }

// Compressed tells the data layout.
func (f *CompressedIBF) Compressed() bool { return true }

func (f *CompressedIBF) binWordCount() int { return f.words }

func (f *CompressedIBF) membership(hash uint64, buf []uint64) []uint64 {
	span := uint64(f.words) << 6

	// bins of the first row
	for j := range buf {
		buf[j] = 0
	}
	base := position(hash, 0, f.binSize) * span
	end := base + span
	it := f.bm.Iterator()
	it.AdvanceIfNeeded(base)
	var v uint64
	for it.HasNext() {
		v = it.Next()
		if v >= end {
			break
		}
		v -= base
		buf[v>>6] |= 1 << (v & 63)
	}

	// drop candidates missing in the other rows
	var word uint64
	var j int
	for i := 1; i < f.hashes; i++ {
		base = position(hash, i, f.binSize) * span
		for wi := range buf {
			word = buf[wi]
			for word != 0 {
				j = bits.TrailingZeros64(word)
				if !f.bm.Contains(base + uint64(wi<<6+j)) {
					buf[wi] &^= 1 << uint(j)
				}
				word &= word - 1
			}
		}
	}
	return buf
}
