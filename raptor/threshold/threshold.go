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

// Package threshold implements the error-model thresholds of the
// minimizer counting, precomputed once per query parameterisation and
// cached on disk next to the index.
package threshold

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInvalidParameters means the query parameterisation violates
// k <= 32, w >= k, p >= w, or tau out of (0, 1).
var ErrInvalidParameters = errors.New("threshold: invalid parameters")

// Params is the query parameterisation the thresholds depend on.
type Params struct {
	PatternSize int
	WindowSize  int
	KmerSize    int
	Errors      int
	Tau         float64
}

// Check validates the parameterisation.
func (p Params) Check() error {
	if p.KmerSize < 1 || p.KmerSize > 32 {
		return fmt.Errorf("%w: k-mer size %d not in [1, 32]", ErrInvalidParameters, p.KmerSize)
	}
	if p.WindowSize < p.KmerSize {
		return fmt.Errorf("%w: window size %d smaller than k-mer size %d", ErrInvalidParameters, p.WindowSize, p.KmerSize)
	}
	if p.PatternSize < p.WindowSize {
		return fmt.Errorf("%w: pattern size %d smaller than window size %d", ErrInvalidParameters, p.PatternSize, p.WindowSize)
	}
	if p.Errors < 0 {
		return fmt.Errorf("%w: negative error count %d", ErrInvalidParameters, p.Errors)
	}
	if p.Tau <= 0 || p.Tau >= 1 {
		return fmt.Errorf("%w: tau %f not in (0, 1)", ErrInvalidParameters, p.Tau)
	}
	return nil
}

// KmersPerWindow returns the number of k-mers in one window.
func (p Params) KmersPerWindow() int { return p.WindowSize - p.KmerSize + 1 }

// KmersPerPattern returns the number of k-mers in one pattern.
func (p Params) KmersPerPattern() int { return p.PatternSize - p.KmerSize + 1 }

// MinMinimizers returns the minimum possible number of minimizers of
// one pattern.
func (p Params) MinMinimizers() int {
	kpw := p.KmersPerWindow()
	if kpw == 1 {
		return p.KmersPerPattern()
	}
	return int(math.Ceil(float64(p.KmersPerPattern()) / float64(kpw)))
}

// MaxMinimizers returns the maximum possible number of minimizers of
// one pattern.
func (p Params) MaxMinimizers() int { return p.PatternSize - p.WindowSize + 1 }

// KmerLemma returns the k-mer lemma bound: the number of k-mers
// guaranteed to survive the configured number of errors.
func (p Params) KmerLemma() int {
	destroyed := (p.Errors + 1) * p.KmerSize
	if p.PatternSize+1 > destroyed {
		return p.PatternSize + 1 - destroyed
	}
	return 0
}

// Table maps the observed minimizer count of a query, as an offset
// above MinMinimizers, to the minimum number of counted minimizers
// required to call a bin.
type Table []uint64

// Precompute computes the threshold table for one parameterisation.
//
// For a query with m observed minimizers, each minimizer of an
// e-error copy of the pattern survives with some probability q; the
// threshold for m is the largest t so that at least t of the m
// minimizers survive with probability >= tau, under a binomial
// survival model.
func Precompute(p Params) Table {
	kpp := float64(p.KmersPerPattern())
	q := math.Pow(1-float64(p.Errors)/kpp, float64(p.KmerSize))
	if q < 0 {
		q = 0
	}

	min := p.MinMinimizers()
	max := p.MaxMinimizers()
	table := make(Table, max-min+1)
	for offset := range table {
		m := min + offset

		var t int
		switch {
		case q >= 1:
			t = m
		case q <= 0:
			t = 0
		default:
			dist := distuv.Binomial{N: float64(m), P: q}
			for t = m; t > 0; t-- {
				// P(X >= t) = 1 - CDF(t-1)
				if 1-dist.CDF(float64(t-1)) >= p.Tau {
					break
				}
			}
		}

		// an error-free match must still clear the fixed +2
		// correction applied at query time
		if t > m-2 {
			t = m - 2
			if t < 0 {
				t = 0
			}
		}
		table[offset] = uint64(t)
	}
	return table
}

// Thresholder applies the thresholding policy at query time.
type Thresholder struct {
	userThreshold float64
	userSet       bool

	kmersPerWindow int
	minMinimizers  int
	maxMinimizers  int
	kmerLemma      int

	table Table
}

// NewThresholder returns a thresholder for one parameterisation.
// table may be nil when userSet is true or when KmersPerWindow() == 1,
// it is not consulted then.
func NewThresholder(p Params, table Table, userThreshold float64, userSet bool) *Thresholder {
	return &Thresholder{
		userThreshold:  userThreshold,
		userSet:        userSet,
		kmersPerWindow: p.KmersPerWindow(),
		minMinimizers:  p.MinMinimizers(),
		maxMinimizers:  p.MaxMinimizers(),
		kmerLemma:      p.KmerLemma(),
		table:          table,
	}
}

// Get returns the minimum number of counted minimizers required to
// call a bin for a query with m observed minimizers.
func (t *Thresholder) Get(m int) int {
	if t.userSet {
		return int(float64(m) * t.userThreshold)
	}
	if t.kmersPerWindow == 1 {
		return t.kmerLemma
	}

	offset := 0
	if m >= t.minMinimizers {
		offset = m - t.minMinimizers
	}
	if offset > t.maxMinimizers-t.minMinimizers {
		offset = t.maxMinimizers - t.minMinimizers
	}
	return int(t.table[offset]) + 2
}
