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
	"encoding/binary"
	"errors"
	"io"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/shenwei356/xopen"
)

var be = binary.BigEndian

// Magic number for checking file format
var Magic = [8]byte{'r', 'a', 'p', 't', 'o', 'r', 'b', 'f'}

// MainVersion is use for checking compatibility
var MainVersion uint8 = 0

// MinorVersion is less important
var MinorVersion uint8 = 1

// ErrInvalidFileFormat means invalid file format.
var ErrInvalidFileFormat = errors.New("ibf: invalid binary format")

// ErrBrokenFile means the file is not complete.
var ErrBrokenFile = errors.New("ibf: broken file")

// ErrVersionMismatch means version mismatch between files and program
var ErrVersionMismatch = errors.New("ibf: version mismatch")

const (
	layoutUncompressed uint8 = 0
	layoutCompressed   uint8 = 1
)

// NewFromFile reads a filter of either layout from a file.
func NewFromFile(file string) (Filter, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	return Read(fh)
}

// WriteToFile writes the filter to a file,
// optional with file extension of .gz, .xz, .zst, .bz2.
func (f *IBF) WriteToFile(file string) (int, error) {
	outfh, err := xopen.Wopen(file)
	if err != nil {
		return 0, err
	}
	defer outfh.Close()

	return f.Write(outfh)
}

// WriteToFile writes the compressed filter to a file.
func (f *CompressedIBF) WriteToFile(file string) (int, error) {
	outfh, err := xopen.Wopen(file)
	if err != nil {
		return 0, err
	}
	defer outfh.Close()

	return f.Write(outfh)
}

// Header (32 bytes):
//
//	Magic number, 8 bytes, raptorbf
//	Main and minor versions, 2 bytes
//	Data layout, 1 byte
//	Number of hash functions, 1 byte
//	Blank, 4 bytes
//	Number of bins, 8 bytes
//	Number of hash positions per bin, 8 bytes
func writeHeader(w io.Writer, layout uint8, hashes int, bins int, binSize uint64) (int, error) {
	var N int
	var err error

	err = binary.Write(w, be, Magic)
	if err != nil {
		return N, err
	}
	N += 8

	err = binary.Write(w, be, [8]uint8{MainVersion, MinorVersion, layout, uint8(hashes)})
	if err != nil {
		return N, err
	}
	N += 8

	err = binary.Write(w, be, uint64(bins))
	if err != nil {
		return N, err
	}
	N += 8

	err = binary.Write(w, be, binSize)
	if err != nil {
		return N, err
	}
	N += 8

	return N, nil
}

// Write writes the filter to a writer.
// The payload after the header is the interleaved word array.
func (f *IBF) Write(w io.Writer) (int, error) {
	N, err := writeHeader(w, layoutUncompressed, f.hashes, f.bins, f.binSize)
	if err != nil {
		return N, err
	}

	buf := make([]byte, 8<<10)
	var n int
	for _, word := range f.data {
		be.PutUint64(buf[n:n+8], word)
		n += 8
		if n == len(buf) {
			_, err = w.Write(buf)
			if err != nil {
				return N, err
			}
			N += n
			n = 0
		}
	}
	if n > 0 {
		_, err = w.Write(buf[:n])
		if err != nil {
			return N, err
		}
		N += n
	}

	return N, nil
}

// Write writes the compressed filter to a writer.
// The payload after the header is a serialized roaring bitmap.
func (f *CompressedIBF) Write(w io.Writer) (int, error) {
	N, err := writeHeader(w, layoutCompressed, f.hashes, f.bins, f.binSize)
	if err != nil {
		return N, err
	}

	n, err := f.bm.WriteTo(w)
	N += int(n)
	return N, err
}

// Read reads a filter of either layout from an io.Reader.
func Read(r io.Reader) (Filter, error) {
	buf := make([]byte, 8)

	var err error
	var n int

	// check the magic number
	n, err = io.ReadFull(r, buf)
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
	n, err = io.ReadFull(r, buf)
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
	layout := buf[2]
	hashes := int(buf[3])
	if hashes < 1 || hashes > MaxHashes {
		return nil, ErrInvalidFileFormat
	}

	// the number of bins
	_, err = io.ReadFull(r, buf)
	if err != nil {
		return nil, err
	}
	bins := int(be.Uint64(buf))

	// hash positions per bin
	_, err = io.ReadFull(r, buf)
	if err != nil {
		return nil, err
	}
	binSize := be.Uint64(buf)

	if bins < 1 || binSize < 1 {
		return nil, ErrInvalidFileFormat
	}

	switch layout {
	case layoutUncompressed:
		f, err := New(bins, binSize, hashes)
		if err != nil {
			return nil, err
		}

		bulk := make([]byte, 8<<10)
		var wi int
		for wi < len(f.data) {
			m := (len(f.data) - wi) << 3
			if m > len(bulk) {
				m = len(bulk)
			}
			n, err = io.ReadFull(r, bulk[:m])
			if err != nil {
				return nil, err
			}
			if n < m {
				return nil, ErrBrokenFile
			}
			for i := 0; i < m; i += 8 {
				f.data[wi] = be.Uint64(bulk[i : i+8])
				wi++
			}
		}
		return f, nil

	case layoutCompressed:
		bm := roaring64.New()
		_, err = bm.ReadFrom(r)
		if err != nil {
			return nil, err
		}
		return &CompressedIBF{
			bins:    bins,
			binSize: binSize,
			hashes:  hashes,
			words:   (bins + 63) >> 6,
			bm:      bm,
		}, nil
	}

	return nil, ErrInvalidFileFormat
}
