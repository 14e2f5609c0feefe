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

package cmd

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// InfoFileExt is the extension of the index info sidecar file.
const InfoFileExt = ".info.toml"

// IndexInfo records how an index was built. It travels next to the
// index file(s) so that searches can reject contradicting parameters
// before any I/O.
type IndexInfo struct {
	MainVersion  uint8 `toml:"main-version"`
	MinorVersion uint8 `toml:"minor-version"`

	KmerSize   int `toml:"kmer-size"`
	WindowSize int `toml:"window-size"`

	Hashes  int    `toml:"hashes"`
	BinSize uint64 `toml:"bin-size"`
	Bins    int    `toml:"bins"`

	Parts      int  `toml:"parts"`
	Compressed bool `toml:"compressed"`
}

func writeIndexInfo(file string, info *IndexInfo) error {
	data, err := toml.Marshal(info)
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(file, data, 0644), file)
}

func readIndexInfo(file string) (*IndexInfo, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}
	info := &IndexInfo{}
	err = toml.Unmarshal(data, info)
	return info, errors.Wrap(err, file)
}
