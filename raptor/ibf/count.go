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

import "math/bits"

// CountVector holds one uint8 counter per bin.
type CountVector []uint8

// NewCountVector creates a zeroed counter vector for bins bins.
func NewCountVector(bins int) CountVector {
	return make(CountVector, bins)
}

// Add adds another vector of the same length element-wise,
// saturating at 255.
func (c CountVector) Add(o CountVector) {
	var s uint16
	for i, v := range o {
		s = uint16(c[i]) + uint16(v)
		if s > 255 {
			s = 255
		}
		c[i] = uint8(s)
	}
}

// Reset sets all counters to zero.
func (c CountVector) Reset() {
	for i := range c {
		c[i] = 0
	}
}

// Agent is a per-goroutine scratch object for bulk counting over one
// filter. It is not safe for concurrent use, create one per goroutine
// with CountingAgent.
type Agent struct {
	f      Filter
	rowBuf []uint64
	counts CountVector
}

// CountingAgent returns a new counting agent bound to f.
// Agents are cheap, the filter data is shared by reference.
func CountingAgent(f Filter) *Agent {
	return &Agent{
		f:      f,
		rowBuf: make([]uint64, f.binWordCount()),
		counts: NewCountVector(f.BinCount()),
	}
}

// BulkCount counts, for every bin, how many of the hash values are
// contained in it. The returned vector is owned by the agent and is
// overwritten by the next call, copy or accumulate it before reusing
// the agent.
func (a *Agent) BulkCount(hashes []uint64) CountVector {
	a.counts.Reset()

	var row []uint64
	var base int
	var word uint64
	var s uint16
	var j int
	for _, hash := range hashes {
		row = a.f.membership(hash, a.rowBuf)
		for wi := range row {
			word = row[wi]
			base = wi << 6
			for word != 0 {
				j = base + bits.TrailingZeros64(word)
				if j < len(a.counts) {
					s = uint16(a.counts[j]) + 1
					if s > 255 {
						s = 255
					}
					a.counts[j] = uint8(s)
				}
				word &= word - 1
			}
		}
	}
	return a.counts
}
