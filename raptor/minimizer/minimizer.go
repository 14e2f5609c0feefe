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

// Package minimizer extracts window minimizers of canonical k-mer codes,
// compatible with the hashing scheme used at index building time.
package minimizer

import "errors"

// DefaultSeed is the base value of the k-mer hashing seed,
// it must match the seed used for building the index.
const DefaultSeed uint64 = 0x8F3F73B5CF1C9ADE

// ErrKOverflow means K < 1 or K > 32.
var ErrKOverflow = errors.New("minimizer: k-mer size [1, 32] overflow")

// ErrInvalidWindow means the window size is smaller than the k-mer size.
var ErrInvalidWindow = errors.New("minimizer: window size smaller than k-mer size")

// AdjustSeed trims the seed to the significant 2*k bits of a k-mer code.
// It is a fixed function of k shared with the index builder.
func AdjustSeed(k uint8) uint64 {
	return DefaultSeed >> (64 - (uint64(k) << 1))
}

// base2bit maps an ASCII base to its 2-bit code, A/C/G/T(U) => 0/1/2/3.
// Degenerate bases are mapped to 0, handling them is up to the reader.
var base2bit = [256]uint64{
	'A': 0, 'a': 0,
	'C': 1, 'c': 1,
	'G': 2, 'g': 2,
	'T': 3, 't': 3,
	'U': 3, 'u': 3,
}

// Iterator extracts minimizers from a sequence: over every window of
// w-k+1 consecutive k-mers, the smallest canonical k-mer code XORed with
// the seed, emitted once per occurrence. A sequence shorter than w yields
// no values.
type Iterator struct {
	s    []byte
	k    int
	seed uint64
	mask uint64

	kmersPerWindow int
	vals           []uint64 // ring buffer of the current window
	ring           int      // index of the oldest value in vals

	fwd, rc uint64
	idx     int // index of the next k-mer on the sequence
	nKmers  int

	minPos int    // absolute k-mer index of the current window minimum
	minVal uint64 // value of the current window minimum

	first bool
}

// NewIterator returns an iterator over the minimizers of seq.
// w is the window size in bases, w >= k.
func NewIterator(seq []byte, k uint8, w int, seed uint64) (*Iterator, error) {
	if k == 0 || k > 32 {
		return nil, ErrKOverflow
	}
	if w < int(k) {
		return nil, ErrInvalidWindow
	}

	kmersPerWindow := w - int(k) + 1
	iter := &Iterator{
		s:              seq,
		k:              int(k),
		seed:           seed,
		mask:           1<<(uint(k)<<1) - 1,
		kmersPerWindow: kmersPerWindow,
		vals:           make([]uint64, kmersPerWindow),
		nKmers:         len(seq) - int(k) + 1,
		first:          true,
	}
	return iter, nil
}

// value computes the hash value of the k-mer starting at position i,
// rolling the forward and reverse complement codes by one base.
func (iter *Iterator) value(i int) uint64 {
	k := iter.k
	if i == 0 {
		iter.fwd = 0
		iter.rc = 0
		var c uint64
		for j := 0; j < k; j++ {
			c = base2bit[iter.s[j]]
			iter.fwd = (iter.fwd << 2) | c
			iter.rc |= (3 - c) << (uint(j) << 1)
		}
	} else {
		c := base2bit[iter.s[i+k-1]]
		iter.fwd = ((iter.fwd << 2) | c) & iter.mask
		iter.rc = (iter.rc >> 2) | ((3-c)<<(uint(k-1)<<1))&iter.mask
	}

	v := iter.fwd
	if iter.rc < v {
		v = iter.rc
	}
	return v ^ iter.seed
}

// Next returns the next minimizer. The second return value is false
// when the sequence is exhausted.
func (iter *Iterator) Next() (uint64, bool) {
	if iter.nKmers < iter.kmersPerWindow {
		return 0, false
	}

	if iter.first {
		iter.first = false

		iter.minPos = 0
		iter.minVal = iter.value(0)
		iter.vals[0] = iter.minVal
		var v uint64
		for i := 1; i < iter.kmersPerWindow; i++ {
			v = iter.value(i)
			iter.vals[i] = v
			if v < iter.minVal { // the leftmost smallest is kept
				iter.minVal = v
				iter.minPos = i
			}
		}
		iter.idx = iter.kmersPerWindow
		return iter.minVal, true
	}

	var v uint64
	var windowStart int
	for iter.idx < iter.nKmers {
		v = iter.value(iter.idx)
		iter.vals[iter.ring] = v
		iter.ring++
		if iter.ring == iter.kmersPerWindow {
			iter.ring = 0
		}
		windowStart = iter.idx - iter.kmersPerWindow + 1
		iter.idx++

		if iter.minPos < windowStart { // the minimum just slid out, rescan
			iter.minVal = iter.vals[iter.ring]
			iter.minPos = windowStart
			p := iter.ring
			for i := 1; i < iter.kmersPerWindow; i++ {
				p++
				if p == iter.kmersPerWindow {
					p = 0
				}
				if iter.vals[p] < iter.minVal {
					iter.minVal = iter.vals[p]
					iter.minPos = windowStart + i
				}
			}
			return iter.minVal, true
		}

		if v < iter.minVal { // a new minimum enters
			iter.minVal = v
			iter.minPos = iter.idx - 1
			return iter.minVal, true
		}
	}

	return 0, false
}

// Minimizers appends all minimizers of seq to buf and returns the
// extended slice. buf may be nil; passing a recycled buffer avoids
// allocation in hot loops. Parameters must have been validated before.
func Minimizers(seq []byte, k uint8, w int, seed uint64, buf []uint64) []uint64 {
	iter, err := NewIterator(seq, k, w, seed)
	if err != nil {
		return buf
	}
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		buf = append(buf, v)
	}
	return buf
}
