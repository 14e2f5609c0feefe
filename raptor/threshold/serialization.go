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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/rrahn/raptor/raptor/util"
	"github.com/shenwei356/xopen"
)

var be = binary.BigEndian

// Magic number for checking file format
var Magic = [8]byte{'r', 'a', 'p', 't', 'o', 'r', 't', 'h'}

// MainVersion is use for checking compatibility
var MainVersion uint8 = 0

// MinorVersion is less important
var MinorVersion uint8 = 1

// ErrInvalidFileFormat means invalid file format.
var ErrInvalidFileFormat = errors.New("threshold: invalid binary format")

// ErrBrokenFile means the file is not complete.
var ErrBrokenFile = errors.New("threshold: broken file")

// ErrVersionMismatch means version mismatch between files and program
var ErrVersionMismatch = errors.New("threshold: version mismatch")

// ErrParamMismatch means the cached table belongs to another query
// parameterisation, callers treat it as a cache miss.
var ErrParamMismatch = errors.New("threshold: cached parameters mismatch")

// CachePath derives the cache file location from the index file and
// the parameterisation.
func CachePath(ibfFile string, p Params) string {
	return fmt.Sprintf("%s_p%d_w%d_k%d_e%d_tau%g.thresholds",
		ibfFile, p.PatternSize, p.WindowSize, p.KmerSize, p.Errors, p.Tau)
}

// LoadOrPrecompute returns the cached table for p when the cache file
// exists and matches, and recomputes it otherwise. The second return
// value tells whether the cache was used. Rewriting a missing cache is
// best-effort, a write failure is returned as the third value with a
// valid table.
func LoadOrPrecompute(file string, p Params) (Table, bool, error) {
	table, err := LoadFromFile(file, p)
	if err == nil {
		return table, true, nil
	}

	table = Precompute(p)
	_, err = table.WriteToFile(file, p)
	return table, false, err
}

// LoadFromFile reads a cached table and checks it against p.
func LoadFromFile(file string, p Params) (Table, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	return Load(fh, p)
}

// WriteToFile writes the table and the parameter echo to a file.
func (t Table) WriteToFile(file string, p Params) (int, error) {
	outfh, err := xopen.Wopen(file)
	if err != nil {
		return 0, err
	}
	defer outfh.Close()

	return t.Write(outfh, p)
}

// Write writes the table to a writer.
//
// Header (48 bytes):
//
//	Magic number, 8 bytes, raptorth
//	Main and minor versions, 2 bytes
//	Blank, 6 bytes
//	Pattern size, window size, k-mer size, errors, 4 bytes each
//	Tau, 8 bytes (IEEE 754 bits)
//	Number of entries, 8 bytes
//
// Data: pairs of deltas of the non-decreasing thresholds, group-varint
// encoded (control byte + 2-16 bytes). An odd tail entry is paired
// with a zero.
func (t Table) Write(w io.Writer, p Params) (int, error) {
	var N int
	var err error

	err = binary.Write(w, be, Magic)
	if err != nil {
		return N, err
	}
	N += 8

	err = binary.Write(w, be, [8]uint8{MainVersion, MinorVersion})
	if err != nil {
		return N, err
	}
	N += 8

	err = binary.Write(w, be, [4]uint32{
		uint32(p.PatternSize), uint32(p.WindowSize), uint32(p.KmerSize), uint32(p.Errors),
	})
	if err != nil {
		return N, err
	}
	N += 16

	err = binary.Write(w, be, math.Float64bits(p.Tau))
	if err != nil {
		return N, err
	}
	N += 8

	err = binary.Write(w, be, uint64(len(t)))
	if err != nil {
		return N, err
	}
	N += 8

	bufVar := make([]byte, 16)
	buf := make([]byte, 17)
	var ctrlByte byte
	var nBytes, n int
	var prev, d1, d2 uint64
	for i := 0; i < len(t); i += 2 {
		d1 = t[i] - prev
		prev = t[i]
		d2 = 0
		if i+1 < len(t) {
			d2 = t[i+1] - prev
			prev = t[i+1]
		}

		ctrlByte, nBytes = util.PutUint64s(bufVar, d1, d2)
		buf[0] = ctrlByte
		copy(buf[1:nBytes+1], bufVar[:nBytes])
		n = nBytes + 1

		_, err = w.Write(buf[:n])
		if err != nil {
			return N, err
		}
		N += n
	}

	return N, nil
}

// Load reads a table from an io.Reader and checks the parameter echo
// against p.
func Load(r io.Reader, p Params) (Table, error) {
	buf := make([]byte, 16)

	var err error
	var n int

	// check the magic number
	n, err = io.ReadFull(r, buf[:8])
	if err != nil {
		return nil, err
	}
	if n < 8 {
		return nil, ErrBrokenFile
	}
	same := true
	for i := 0; i < 8; i++ {
		if Magic[i] != buf[i] {
			same = false
			break
		}
	}
	if !same {
		return nil, ErrInvalidFileFormat
	}

	// read metadata
	n, err = io.ReadFull(r, buf[:8])
	if err != nil {
		return nil, err
	}
	if n < 8 {
		return nil, ErrBrokenFile
	}
	// check compatibility
	if MainVersion != buf[0] {
		return nil, ErrVersionMismatch
	}

	// parameter echo
	n, err = io.ReadFull(r, buf[:16])
	if err != nil {
		return nil, err
	}
	if n < 16 {
		return nil, ErrBrokenFile
	}
	if int(be.Uint32(buf[:4])) != p.PatternSize ||
		int(be.Uint32(buf[4:8])) != p.WindowSize ||
		int(be.Uint32(buf[8:12])) != p.KmerSize ||
		int(be.Uint32(buf[12:16])) != p.Errors {
		return nil, ErrParamMismatch
	}

	_, err = io.ReadFull(r, buf[:8])
	if err != nil {
		return nil, err
	}
	if math.Float64frombits(be.Uint64(buf[:8])) != p.Tau {
		return nil, ErrParamMismatch
	}

	// the number of entries
	_, err = io.ReadFull(r, buf[:8])
	if err != nil {
		return nil, err
	}
	nEntries := int(be.Uint64(buf[:8]))

	table := make(Table, 0, nEntries)
	var ctrlByte byte
	var nBytes, nDecoded int
	var prev, v1, v2 uint64
	for len(table) < nEntries {
		// read the control byte
		_, err = io.ReadFull(r, buf[:1])
		if err != nil {
			return nil, err
		}
		ctrlByte = buf[0]
		nBytes = int((ctrlByte>>3)&7) + int(ctrlByte&7) + 2

		// read encoded bytes
		n, err = io.ReadFull(r, buf[:nBytes])
		if err != nil {
			return nil, err
		}
		if n < nBytes {
			return nil, ErrBrokenFile
		}

		v1, v2, nDecoded = util.Uint64s(ctrlByte, buf[:nBytes])
		if nDecoded == 0 {
			return nil, ErrBrokenFile
		}

		prev += v1
		table = append(table, prev)
		if len(table) < nEntries {
			prev += v2
			table = append(table, prev)
		}
	}

	return table, nil
}
