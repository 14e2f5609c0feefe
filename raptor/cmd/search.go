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
	"os"
	"path/filepath"
	"time"

	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search sequences against an IBF index",
	Long: `Search sequences against an IBF index

Attention:
  1. Input should be (gzipped) FASTA or FASTQ records from files or stdin.
  2. For multiple query files, records are processed in file order, but the
     order of result lines within a chunk is unspecified.

The output has one line per query: the query id, a tab, and the ids of all
matching bins in ascending order, each followed by a comma.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

		outFile := getFlagString(cmd, "out-file")

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

		ibfFile := getFlagString(cmd, "index")
		if ibfFile == "" {
			checkError(fmt.Errorf("flag -d/--index needed"))
		}
		ibfFile = expandPath(ibfFile)

		k := getFlagPositiveInt(cmd, "kmer-size")
		if k > 32 {
			checkError(fmt.Errorf("the value of flag -k/--kmer-size (%d) should be in the range of [1, 32]", k))
		}
		window := getFlagPositiveInt(cmd, "window-size")
		if window < k {
			checkError(fmt.Errorf("the value of flag -w/--window-size (%d) should be >= that of -k/--kmer-size (%d)", window, k))
		}
		pattern := getFlagPositiveInt(cmd, "pattern-size")
		if pattern < window {
			checkError(fmt.Errorf("the value of flag -p/--pattern-size (%d) should be >= that of -w/--window-size (%d)", pattern, window))
		}
		nErrors := getFlagNonNegativeInt(cmd, "errors")
		tau := getFlagNonNegativeFloat64(cmd, "tau")
		if tau <= 0 || tau >= 1 {
			checkError(fmt.Errorf("the value of flag --tau (%f) should be in the range of (0, 1)", tau))
		}
		userThreshold := getFlagNonNegativeFloat64(cmd, "threshold")
		thresholdSet := cmd.Flags().Changed("threshold")
		if thresholdSet && userThreshold > 1 {
			checkError(fmt.Errorf("the value of flag -t/--threshold (%f) should be in the range of [0, 1]", userThreshold))
		}
		parts := getFlagPositiveInt(cmd, "parts")
		compressed := getFlagBool(cmd, "compressed")
		writeTime := getFlagBool(cmd, "write-time")

		// ---------------------------------------------------------------
		// check query and index files before any other I/O

		queryFiles := args
		if len(queryFiles) == 0 {
			queryFiles = []string{"-"}
		}
		outFileClean := filepath.Clean(outFile)
		for _, file := range queryFiles {
			if isStdin(file) {
				continue
			}
			if filepath.Clean(file) == outFileClean {
				checkError(fmt.Errorf("out file should not be one of the input files"))
			}
			if ok, _ := pathutil.Exists(file); !ok {
				checkError(fmt.Errorf("query file not found: %s", file))
			}
		}

		partFiles := []string{ibfFile}
		if parts > 1 {
			partFiles = partFiles[:0]
			for part := 0; part < parts; part++ {
				partFiles = append(partFiles, fmt.Sprintf("%s_%d", ibfFile, part))
			}
		}
		for _, file := range partFiles {
			if ok, _ := pathutil.Exists(file); !ok {
				checkError(fmt.Errorf("index file not found: %s", file))
			}
		}

		// the sidecar of the builder knows the truth about the index
		infoFile := ibfFile + InfoFileExt
		if ok, _ := pathutil.Exists(infoFile); ok {
			info, err := readIndexInfo(infoFile)
			checkError(err)

			if info.KmerSize != k {
				checkError(fmt.Errorf("index was built with -k %d, not %d", info.KmerSize, k))
			}
			if info.WindowSize != window {
				checkError(fmt.Errorf("index was built with -w %d, not %d", info.WindowSize, window))
			}
			if info.Parts != parts {
				checkError(fmt.Errorf("index was built with --parts %d, not %d", info.Parts, parts))
			}
			if info.Compressed != compressed {
				checkError(fmt.Errorf("index layout (compressed: %v) does not match the --compressed flag", info.Compressed))
			}
		}

		// ---------------------------------------------------------------

		if outputLog {
			log.Infof("raptor v%s", VERSION)
			log.Info()
			log.Infof("searching with %d threads against: %s", opt.NumCPUs, ibfFile)
		}

		err := Search(&SearchOptions{
			IBFFile:    ibfFile,
			QueryFiles: queryFiles,
			OutFile:    outFile,

			KmerSize:    k,
			WindowSize:  window,
			PatternSize: pattern,
			Errors:      nErrors,
			Tau:         tau,

			Threshold:    userThreshold,
			ThresholdSet: thresholdSet,

			Threads:    opt.NumCPUs,
			Parts:      parts,
			Compressed: compressed,

			WriteTime: writeTime,

			Verbose:          outputLog,
			CompressionLevel: opt.CompressionLevel,
		})
		checkError(err)

		if outputLog {
			log.Infof("done searching")
			if !isStdout(outFile) {
				log.Infof("search results saved to: %s", outFile)
			}
		}
	},
}

func init() {
	RootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringP("index", "d", "",
		formatFlagUsage(`Index file (prefix) created by "raptor build". With --parts n, the parts are expected at <index>_0 .. <index>_n-1.`))

	searchCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports a ".gz" suffix ("-" for stdout).`))

	searchCmd.Flags().IntP("kmer-size", "k", 20,
		formatFlagUsage(`K-mer size, must match the index.`))

	searchCmd.Flags().IntP("window-size", "w", 24,
		formatFlagUsage(`Minimizer window size in bases, must match the index.`))

	searchCmd.Flags().IntP("pattern-size", "p", 100,
		formatFlagUsage(`Pattern (read) size the error model assumes.`))

	searchCmd.Flags().IntP("errors", "e", 0,
		formatFlagUsage(`Number of errors the thresholding tolerates.`))

	searchCmd.Flags().Float64P("tau", "", 0.9999,
		formatFlagUsage(`Confidence of the probabilistic threshold model.`))

	searchCmd.Flags().Float64P("threshold", "t", 0,
		formatFlagUsage(`Fraction of the observed minimizers a bin must contain, overrides the probabilistic model.`))

	searchCmd.Flags().IntP("parts", "", 1,
		formatFlagUsage(`Number of parts the index is split into.`))

	searchCmd.Flags().BoolP("compressed", "c", false,
		formatFlagUsage(`The index uses the compressed layout.`))

	searchCmd.Flags().BoolP("write-time", "", false,
		formatFlagUsage(`Write an "<out-file>.time" file with I/O and compute wall-clock times.`))

	searchCmd.SetUsageTemplate(usageTemplate("-d <index prefix> [query.fasta.gz ...] [-o results.tsv]"))
}
