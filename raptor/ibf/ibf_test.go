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
	"math/rand"
	"os"
	"testing"

	"github.com/rrahn/raptor/raptor/util"
)

// fill inserts nPerBin random values into every bin and returns them.
func fill(f *IBF, r *rand.Rand, nPerBin int) [][]uint64 {
	values := make([][]uint64, f.BinCount())
	for bin := range values {
		values[bin] = make([]uint64, nPerBin)
		for i := range values[bin] {
			v := util.Hash64(r.Uint64()) // hash a random int, like a k-mer code
			values[bin][i] = v
			f.Add(bin, v)
		}
	}
	return values
}

func TestBulkCount(t *testing.T) {
	bins := 67 // cross a word boundary
	var binSize uint64 = 1 << 16
	hashes := 2

	f, err := New(bins, binSize, hashes)
	if err != nil {
		t.Errorf("new filter: %s", err)
		return
	}

	r := rand.New(rand.NewSource(1))
	values := fill(f, r, 100)

	agent := CountingAgent(f)
	for bin, vals := range values {
		counts := agent.BulkCount(vals)
		if len(counts) != bins {
			t.Errorf("count vector length: %d vs %d", len(counts), bins)
			return
		}
		if int(counts[bin]) != len(vals) {
			t.Errorf("bin %d: %d of %d inserted values counted", bin, counts[bin], len(vals))
			return
		}
	}

	// values never inserted should count (almost) nothing anywhere
	absent := make([]uint64, 100)
	for i := range absent {
		absent[i] = r.Uint64()
	}
	counts := agent.BulkCount(absent)
	for bin, c := range counts {
		if int(c) > len(absent)/2 {
			t.Errorf("bin %d: unexpected high count %d for absent values", bin, c)
			return
		}
	}
}

func TestCompressedEquivalence(t *testing.T) {
	bins := 130
	var binSize uint64 = 1 << 14
	hashes := 3

	f, err := New(bins, binSize, hashes)
	if err != nil {
		t.Errorf("new filter: %s", err)
		return
	}

	r := rand.New(rand.NewSource(11))
	values := fill(f, r, 50)

	c := f.Compress()
	if c.BinCount() != f.BinCount() || c.BinSize() != f.BinSize() || c.NumHashes() != f.NumHashes() {
		t.Error("compressed filter metadata unmatched")
		return
	}

	agent := CountingAgent(f)
	cagent := CountingAgent(c)

	queries := make([]uint64, 0, 500)
	for _, vals := range values[:5] {
		queries = append(queries, vals...)
	}
	for i := 0; i < 100; i++ {
		queries = append(queries, r.Uint64())
	}

	counts := agent.BulkCount(queries)
	ccounts := cagent.BulkCount(queries)
	for bin := range counts {
		if counts[bin] != ccounts[bin] {
			t.Errorf("bin %d: uncompressed %d vs compressed %d", bin, counts[bin], ccounts[bin])
			return
		}
	}
}

func TestCountVectorAdd(t *testing.T) {
	a := CountVector{250, 1, 0, 100}
	b := CountVector{10, 2, 0, 100}
	a.Add(b)
	expected := CountVector{255, 3, 0, 200}
	for i := range a {
		if a[i] != expected[i] {
			t.Errorf("counter %d: %d vs %d", i, a[i], expected[i])
			return
		}
	}
}

func TestSerialization(t *testing.T) {
	bins := 100
	var binSize uint64 = 1 << 15
	hashes := 2

	f, err := New(bins, binSize, hashes)
	if err != nil {
		t.Errorf("new filter: %s", err)
		return
	}

	r := rand.New(rand.NewSource(5))
	values := fill(f, r, 64)

	for _, tc := range []struct {
		name   string
		file   string
		filter Filter
	}{
		{"uncompressed", "test.ibf", f},
		{"compressed", "test.cibf", f.Compress()},
	} {
		var N int
		switch x := tc.filter.(type) {
		case *IBF:
			N, err = x.WriteToFile(tc.file)
		case *CompressedIBF:
			N, err = x.WriteToFile(tc.file)
		}
		if err != nil {
			t.Errorf("%s: writing filter: %s", tc.name, err)
			return
		}
		t.Logf("%s: %d bytes saved to %s", tc.name, N, tc.file)

		f2, err := NewFromFile(tc.file)
		if err != nil {
			t.Errorf("%s: reading filter: %s", tc.name, err)
			return
		}

		if f2.BinCount() != bins || f2.BinSize() != binSize || f2.NumHashes() != hashes {
			t.Errorf("%s: metadata unmatched", tc.name)
			return
		}
		if f2.Compressed() != tc.filter.Compressed() {
			t.Errorf("%s: layout unmatched", tc.name)
			return
		}

		agent := CountingAgent(tc.filter)
		agent2 := CountingAgent(f2)
		for bin, vals := range values {
			c1 := agent.BulkCount(vals)
			c2 := agent2.BulkCount(vals)
			for b := range c1 {
				if c1[b] != c2[b] {
					t.Errorf("%s: bin %d query %d: %d vs %d", tc.name, b, bin, c1[b], c2[b])
					return
				}
			}
		}

		if err = os.RemoveAll(tc.file); err != nil {
			t.Errorf("failed to remove the temporary file: %s", tc.file)
			return
		}
	}
}
