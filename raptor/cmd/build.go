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
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rrahn/raptor/raptor/ibf"
	"github.com/rrahn/raptor/raptor/minimizer"
	"github.com/rrahn/raptor/raptor/util"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build an IBF index from reference sequences",
	Long: `Build an IBF index from reference sequences

Attention:
  1. Each input FASTA/Q file becomes one bin, bin ids follow the input order.
  2. With --parts n, bins are split into n equal slices written to
     <out-file>_0 .. <out-file>_n-1, all parts share the same bin count.

An "<out-file>.info.toml" sidecar records the build parameters, "raptor
search" checks its own flags against it.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}
		outputLog := opt.Verbose || opt.Log2File

		timeStart := time.Now()
		defer func() {
			if outputLog {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		// ---------------------------------------------------------------

		outFile := getFlagString(cmd, "out-file")
		if outFile == "" || isStdout(outFile) {
			checkError(fmt.Errorf("flag -o/--out-file needed"))
		}
		outFile = expandPath(outFile)

		k := getFlagPositiveInt(cmd, "kmer-size")
		if k > 32 {
			checkError(fmt.Errorf("the value of flag -k/--kmer-size (%d) should be in the range of [1, 32]", k))
		}
		window := getFlagPositiveInt(cmd, "window-size")
		if window < k {
			checkError(fmt.Errorf("the value of flag -w/--window-size (%d) should be >= that of -k/--kmer-size (%d)", window, k))
		}
		binSize := getFlagUint64(cmd, "bin-size")
		if binSize == 0 {
			checkError(fmt.Errorf("flag --bin-size needed"))
		}
		hashes := getFlagPositiveInt(cmd, "hashes")
		if hashes > ibf.MaxHashes {
			checkError(fmt.Errorf("the value of flag --hashes (%d) should be in the range of [1, %d]", hashes, ibf.MaxHashes))
		}
		parts := getFlagPositiveInt(cmd, "parts")
		compressed := getFlagBool(cmd, "compressed")

		inDir := getFlagString(cmd, "in-dir")
		reFileStr := getFlagString(cmd, "file-regexp")

		// ---------------------------------------------------------------
		// input files, one per bin

		files := args
		if inDir != "" {
			if len(files) > 0 {
				checkError(fmt.Errorf("no positional arguments should be given when -I/--in-dir is given"))
			}
			reFile, err := regexp.Compile(reFileStr)
			checkError(errors.Wrap(err, reFileStr))

			files, err = getFileListFromDir(expandPath(inDir), reFile, opt.NumCPUs)
			checkError(errors.Wrap(err, inDir))
			sort.Strings(files)
		}
		if len(files) == 0 {
			checkError(fmt.Errorf("reference files needed, as positional arguments or via -I/--in-dir"))
		}
		if parts > len(files) {
			checkError(fmt.Errorf("the value of flag --parts (%d) should not exceed the number of bins (%d)", parts, len(files)))
		}

		if outputLog {
			log.Infof("raptor v%s", VERSION)
			log.Info()
			log.Infof("building an index of %d bins ...", len(files))
		}

		// ---------------------------------------------------------------

		err := buildIndex(opt, files, outFile, uint8(k), window, binSize, hashes, parts, compressed)
		checkError(err)

		if outputLog {
			log.Infof("index saved to: %s", outFile)
		}
	},
}

// buildIndex inserts the minimizers of every reference file into its
// bin and writes the index part(s) and the info sidecar.
func buildIndex(opt *Options, files []string, outFile string,
	k uint8, window int, binSize uint64, hashes, parts int, compressed bool) error {

	bins := len(files)
	binsPerPart := (bins + parts - 1) / parts

	filters := make([]*ibf.IBF, parts)
	var err error
	for i := range filters {
		if filters[i], err = ibf.New(binsPerPart, binSize, hashes); err != nil {
			return err
		}
	}

	// process bar
	var pbs *mpb.Progress
	var bar *mpb.Bar
	if opt.Verbose {
		pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
		bar = pbs.AddBar(int64(bins),
			mpb.PrependDecorators(
				decor.Name("processed files: ", decor.WC{W: len("processed files: "), C: decor.DindentRight}),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.OnComplete(decor.Name(""), ". done"),
			),
		)
	}

	seed := minimizer.AdjustSeed(k)
	buf := make([]uint64, 0, 1<<20)

	for bin, file := range files {
		buf = buf[:0]

		fastxReader, err := fastx.NewDefaultReader(file)
		if err != nil {
			return errors.Wrap(err, file)
		}
		var record *fastx.Record
		for {
			record, err = fastxReader.Read()
			if err != nil {
				if err == io.EOF {
					break
				}
				fastxReader.Close()
				return errors.Wrap(err, file)
			}
			buf = minimizer.Minimizers(record.Seq.Seq, k, window, seed, buf)
		}
		fastxReader.Close()

		util.UniqUint64s(&buf)

		f := filters[bin/binsPerPart]
		local := bin % binsPerPart
		for _, v := range buf {
			f.Add(local, v)
		}

		if opt.Verbose {
			bar.Increment()
		}
	}

	if opt.Verbose {
		pbs.Wait()
	}

	// write the part(s)
	partName := func(part int) string {
		if parts == 1 {
			return outFile
		}
		return fmt.Sprintf("%s_%d", outFile, part)
	}
	for part, f := range filters {
		if compressed {
			_, err = f.Compress().WriteToFile(partName(part))
		} else {
			_, err = f.WriteToFile(partName(part))
		}
		if err != nil {
			return errors.Wrap(err, partName(part))
		}
	}

	return writeIndexInfo(outFile+InfoFileExt, &IndexInfo{
		MainVersion:  ibf.MainVersion,
		MinorVersion: ibf.MinorVersion,

		KmerSize:   int(k),
		WindowSize: window,

		Hashes:  hashes,
		BinSize: binSize,
		Bins:    bins,

		Parts:      parts,
		Compressed: compressed,
	})
}

func init() {
	RootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringP("out-file", "o", "",
		formatFlagUsage(`Out file (prefix). With --parts n, parts are written to <out-file>_0 .. <out-file>_n-1.`))

	buildCmd.Flags().IntP("kmer-size", "k", 20,
		formatFlagUsage(`K-mer size.`))

	buildCmd.Flags().IntP("window-size", "w", 24,
		formatFlagUsage(`Minimizer window size in bases.`))

	buildCmd.Flags().Uint64P("bin-size", "", 0,
		formatFlagUsage(`Number of bits per bin.`))

	buildCmd.Flags().IntP("hashes", "", 2,
		formatFlagUsage(`Number of hash functions.`))

	buildCmd.Flags().IntP("parts", "", 1,
		formatFlagUsage(`Split the bins into this many equally sized index parts.`))

	buildCmd.Flags().BoolP("compressed", "c", false,
		formatFlagUsage(`Store the index in the compressed layout.`))

	buildCmd.Flags().StringP("in-dir", "I", "",
		formatFlagUsage(`Directory containing the reference files, one bin per file.`))

	buildCmd.Flags().StringP("file-regexp", "r", `\.(f[aq](st[aq])?|fna)(.gz)?$`,
		formatFlagUsage(`Regular expression for matching reference files in -I/--in-dir.`))

	buildCmd.SetUsageTemplate(usageTemplate("-o <index prefix> [ref1.fasta ref2.fasta ...] [--parts n]"))
}
