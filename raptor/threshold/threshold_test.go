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

package threshold

import (
	"errors"
	"os"
	"testing"
)

var testParams = Params{
	PatternSize: 100,
	WindowSize:  23,
	KmerSize:    19,
	Errors:      2,
	Tau:         0.9999,
}

func TestDerivedConstants(t *testing.T) {
	p := testParams

	if err := p.Check(); err != nil {
		t.Errorf("checking parameters: %s", err)
		return
	}

	if p.KmersPerWindow() != 5 {
		t.Errorf("k-mers per window: %d vs 5", p.KmersPerWindow())
		return
	}
	if p.KmersPerPattern() != 82 {
		t.Errorf("k-mers per pattern: %d vs 82", p.KmersPerPattern())
		return
	}
	if p.MinMinimizers() != 17 { // ceil(82/5)
		t.Errorf("minimum minimizers: %d vs 17", p.MinMinimizers())
		return
	}
	if p.MaxMinimizers() != 78 {
		t.Errorf("maximum minimizers: %d vs 78", p.MaxMinimizers())
		return
	}
	if p.KmerLemma() != 44 { // 100 + 1 - 3*19
		t.Errorf("k-mer lemma: %d vs 44", p.KmerLemma())
		return
	}

	p2 := Params{PatternSize: 50, WindowSize: 20, KmerSize: 20, Errors: 2, Tau: 0.99}
	if p2.KmersPerWindow() != 1 {
		t.Errorf("k-mers per window: %d vs 1", p2.KmersPerWindow())
		return
	}
	if p2.MinMinimizers() != p2.KmersPerPattern() {
		t.Errorf("minimum minimizers should equal k-mers per pattern for w == k")
		return
	}
	if p2.KmerLemma() != 0 { // 51 <= 60
		t.Errorf("k-mer lemma: %d vs 0", p2.KmerLemma())
		return
	}
}

func TestCheck(t *testing.T) {
	for _, p := range []Params{
		{PatternSize: 100, WindowSize: 23, KmerSize: 33, Errors: 0, Tau: 0.9},
		{PatternSize: 100, WindowSize: 18, KmerSize: 19, Errors: 0, Tau: 0.9},
		{PatternSize: 20, WindowSize: 23, KmerSize: 19, Errors: 0, Tau: 0.9},
		{PatternSize: 100, WindowSize: 23, KmerSize: 19, Errors: -1, Tau: 0.9},
		{PatternSize: 100, WindowSize: 23, KmerSize: 19, Errors: 0, Tau: 1},
		{PatternSize: 100, WindowSize: 23, KmerSize: 19, Errors: 0, Tau: 0},
	} {
		if err := p.Check(); err == nil {
			t.Errorf("parameters should be rejected: %+v", p)
			return
		}
	}
}

func TestPrecompute(t *testing.T) {
	p := testParams
	table := Precompute(p)

	if len(table) != p.MaxMinimizers()-p.MinMinimizers()+1 {
		t.Errorf("table length: %d vs %d", len(table), p.MaxMinimizers()-p.MinMinimizers()+1)
		return
	}

	var prev uint64
	for offset, v := range table {
		m := uint64(p.MinMinimizers() + offset)
		if v > m {
			t.Errorf("offset %d: threshold %d above observed count %d", offset, v, m)
			return
		}
		if v < prev {
			t.Errorf("offset %d: threshold %d below previous %d", offset, v, prev)
			return
		}
		prev = v
	}

	// without errors the thresholds sit right below the observed
	// count, leaving room for the +2 correction only
	p0 := p
	p0.Errors = 0
	for offset, v := range Precompute(p0) {
		if v != uint64(p0.MinMinimizers()+offset-2) {
			t.Errorf("offset %d: threshold %d for zero errors", offset, v)
			return
		}
	}
}

func TestThresholder(t *testing.T) {
	p := testParams
	table := Precompute(p)

	// user threshold wins
	th := NewThresholder(p, nil, 0.5, true)
	if th.Get(31) != 15 {
		t.Errorf("user threshold: %d vs 15", th.Get(31))
		return
	}
	if th.Get(0) != 0 {
		t.Errorf("user threshold of empty query: %d vs 0", th.Get(0))
		return
	}

	// a lower user threshold never raises the requirement
	lower := NewThresholder(p, nil, 0.2, true)
	for m := 0; m <= p.MaxMinimizers(); m++ {
		if lower.Get(m) > th.Get(m) {
			t.Errorf("m=%d: threshold %d above %d of the stricter setting", m, lower.Get(m), th.Get(m))
			return
		}
	}

	// k-mer lemma for w == k
	p2 := Params{PatternSize: 50, WindowSize: 20, KmerSize: 20, Errors: 1, Tau: 0.99}
	th2 := NewThresholder(p2, nil, 0, false)
	if th2.Get(10) != p2.KmerLemma() {
		t.Errorf("k-mer lemma threshold: %d vs %d", th2.Get(10), p2.KmerLemma())
		return
	}

	// table lookup with clamping and the +2 correction
	th3 := NewThresholder(p, table, 0, false)
	if th3.Get(0) != int(table[0])+2 {
		t.Errorf("clamped low: %d vs %d", th3.Get(0), int(table[0])+2)
		return
	}
	if th3.Get(p.MinMinimizers()) != int(table[0])+2 {
		t.Errorf("at minimum: %d vs %d", th3.Get(p.MinMinimizers()), int(table[0])+2)
		return
	}
	if th3.Get(p.MaxMinimizers()+100) != int(table[len(table)-1])+2 {
		t.Errorf("clamped high: %d vs %d", th3.Get(p.MaxMinimizers()+100), int(table[len(table)-1])+2)
		return
	}
}

func TestCacheRoundTrip(t *testing.T) {
	p := testParams
	table := Precompute(p)

	file := "test.thresholds"
	N, err := table.WriteToFile(file, p)
	if err != nil {
		t.Errorf("writing the table: %s", err)
		return
	}
	t.Logf("%d thresholds saved to %s, %d bytes", len(table), file, N)

	table2, err := LoadFromFile(file, p)
	if err != nil {
		t.Errorf("reading the table: %s", err)
		return
	}
	if len(table) != len(table2) {
		t.Errorf("table lengths unmatched: %d vs %d", len(table), len(table2))
		return
	}
	for i := range table {
		if table[i] != table2[i] {
			t.Errorf("entry %d: %d vs %d", i, table[i], table2[i])
			return
		}
	}

	// a parameter echo mismatch is a miss
	p2 := p
	p2.Errors++
	_, err = LoadFromFile(file, p2)
	if !errors.Is(err, ErrParamMismatch) {
		t.Errorf("expected a parameter mismatch, got: %v", err)
		return
	}

	if err = os.RemoveAll(file); err != nil {
		t.Errorf("failed to remove the temporary file: %s", file)
		return
	}
}

func TestLoadOrPrecompute(t *testing.T) {
	p := testParams
	file := "test2.thresholds"
	defer os.RemoveAll(file)

	table, cached, err := LoadOrPrecompute(file, p)
	if err != nil {
		t.Errorf("first call: %s", err)
		return
	}
	if cached {
		t.Error("first call should not hit the cache")
		return
	}

	table2, cached, err := LoadOrPrecompute(file, p)
	if err != nil {
		t.Errorf("second call: %s", err)
		return
	}
	if !cached {
		t.Error("second call should hit the cache")
		return
	}
	for i := range table {
		if table[i] != table2[i] {
			t.Errorf("entry %d: %d vs %d", i, table[i], table2[i])
			return
		}
	}
}
