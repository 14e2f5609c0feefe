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
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rrahn/raptor/raptor/ibf"
	"github.com/rrahn/raptor/raptor/minimizer"
	"github.com/rrahn/raptor/raptor/threshold"
	"github.com/shenwei356/bio/seqio/fastx"
	"golang.org/x/sync/errgroup"
)

// ChunkSize is the maximum number of query records processed per chunk.
const ChunkSize = 10 << 20

// SearchOptions contains all parameters of one search run.
type SearchOptions struct {
	IBFFile    string
	QueryFiles []string
	OutFile    string

	KmerSize    int
	WindowSize  int
	PatternSize int
	Errors      int
	Tau         float64

	Threshold    float64
	ThresholdSet bool

	Threads    int
	Parts      int
	Compressed bool

	WriteTime bool

	Verbose          bool
	CompressionLevel int
}

// Record is one query sequence.
type Record struct {
	ID  []byte
	Seq []byte
}

// syncWriter serialises whole-line writes of concurrent workers.
type syncWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (s *syncWriter) Write(p []byte) error {
	s.mu.Lock()
	_, err := s.w.Write(p)
	s.mu.Unlock()
	return err
}

// doParallel partitions [0, n) into one contiguous range per thread,
// the last range absorbing the remainder, runs task on all ranges
// concurrently and waits. The wall-clock time around the barrier is
// added to elapsed.
func doParallel(task func(start, end int) error, n, threads int, elapsed *time.Duration) error {
	if threads < 1 {
		threads = 1
	}
	timeStart := time.Now()

	var group errgroup.Group
	perThread := n / threads
	for i := 0; i < threads; i++ {
		start := perThread * i
		end := perThread * (i + 1)
		if i == threads-1 {
			end = n
		}
		group.Go(func() error { return task(start, end) })
	}
	err := group.Wait()

	*elapsed += time.Since(timeStart)
	return err
}

// queryReader yields the records of the query files, one file after
// the other. The records returned own their buffers.
type queryReader struct {
	files []string
	idx   int
	fx    *fastx.Reader

	peeked    Record
	hasPeeked bool
}

func (r *queryReader) read() (Record, bool, error) {
	for {
		if r.fx == nil {
			if r.idx >= len(r.files) {
				return Record{}, false, nil
			}
			fx, err := fastx.NewDefaultReader(r.files[r.idx])
			if err != nil {
				return Record{}, false, errors.Wrap(err, r.files[r.idx])
			}
			r.fx = fx
			r.idx++
		}

		record, err := r.fx.Read()
		if err != nil {
			if err == io.EOF {
				r.fx.Close()
				r.fx = nil
				continue
			}
			return Record{}, false, errors.Wrap(err, r.files[r.idx-1])
		}
		// the reader recycles the record buffers on the next Read
		return Record{
			ID:  append([]byte(nil), record.ID...),
			Seq: append([]byte(nil), record.Seq.Seq...),
		}, true, nil
	}
}

// next returns the next query record.
func (r *queryReader) next() (Record, bool, error) {
	if r.hasPeeked {
		r.hasPeeked = false
		return r.peeked, true, nil
	}
	return r.read()
}

// more tells whether another record is available, without consuming it.
func (r *queryReader) more() (bool, error) {
	if r.hasPeeked {
		return true, nil
	}
	rec, ok, err := r.read()
	if err != nil || !ok {
		return false, err
	}
	r.peeked = rec
	r.hasPeeked = true
	return true, nil
}

type searcher struct {
	opt *SearchOptions

	params      threshold.Params
	seed        uint64
	thresholder *threshold.Thresholder

	out *syncWriter

	ibfIOTime   time.Duration
	readsIOTime time.Duration
	computeTime time.Duration
}

// Search classifies the query records against the index and writes
// one result line per query.
func Search(opt *SearchOptions) error {
	p := threshold.Params{
		PatternSize: opt.PatternSize,
		WindowSize:  opt.WindowSize,
		KmerSize:    opt.KmerSize,
		Errors:      opt.Errors,
		Tau:         opt.Tau,
	}
	if err := p.Check(); err != nil {
		return err
	}
	if opt.Parts < 1 {
		return fmt.Errorf("%w: parts %d < 1", threshold.ErrInvalidParameters, opt.Parts)
	}
	if opt.ThresholdSet && (opt.Threshold < 0 || opt.Threshold > 1) {
		return fmt.Errorf("%w: threshold %f not in [0, 1]", threshold.ErrInvalidParameters, opt.Threshold)
	}

	var table threshold.Table
	if !opt.ThresholdSet && p.KmersPerWindow() > 1 {
		cacheFile := threshold.CachePath(opt.IBFFile, p)
		var cached bool
		var err error
		table, cached, err = threshold.LoadOrPrecompute(cacheFile, p)
		if err != nil { // only the best-effort cache write can fail here
			log.Warningf("failed to write threshold cache %s: %s", cacheFile, err)
		}
		if opt.Verbose {
			if cached {
				log.Infof("thresholds loaded from cache: %s", cacheFile)
			} else {
				log.Infof("thresholds precomputed and saved to: %s", cacheFile)
			}
		}
	}

	s := &searcher{
		opt:         opt,
		params:      p,
		seed:        minimizer.AdjustSeed(uint8(opt.KmerSize)),
		thresholder: threshold.NewThresholder(p, table, opt.Threshold, opt.ThresholdSet),
	}

	var err error
	if opt.Parts == 1 {
		err = s.runSingle()
	} else {
		err = s.runMultiple()
	}
	if err != nil {
		return err
	}

	if opt.Verbose {
		log.Infof("time spent on IBF I/O: %.2fs, reads I/O: %.2fs, compute: %.2fs",
			s.ibfIOTime.Seconds(), s.readsIOTime.Seconds(), s.computeTime.Seconds())
	}
	if opt.WriteTime {
		return s.writeTimeFile()
	}
	return nil
}

// loadIBF reads one index part, accounting the elapsed wall-clock
// into the IBF I/O timer.
func (s *searcher) loadIBF(file string) (ibf.Filter, error) {
	timeStart := time.Now()
	f, err := ibf.NewFromFile(file)
	s.ibfIOTime += time.Since(timeStart)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}
	if f.Compressed() != s.opt.Compressed {
		return nil, fmt.Errorf("index layout of %s does not match the --compressed flag", file)
	}
	return f, nil
}

// readChunk refills records with up to ChunkSize query records and
// returns the number of records read.
func (s *searcher) readChunk(qr *queryReader, records *[]Record) (int, error) {
	timeStart := time.Now()
	defer func() { s.readsIOTime += time.Since(timeStart) }()

	*records = (*records)[:0]
	for len(*records) < ChunkSize {
		record, ok, err := qr.next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		*records = append(*records, record)
	}
	return len(*records), nil
}

func (s *searcher) openOutput() (func() error, error) {
	outfh, gw, w, err := outStream(s.opt.OutFile,
		strings.HasSuffix(s.opt.OutFile, ".gz"), s.opt.CompressionLevel)
	if err != nil {
		return nil, err
	}
	s.out = &syncWriter{w: outfh}

	return func() error {
		if err := outfh.Flush(); err != nil {
			return errors.Wrap(err, s.opt.OutFile)
		}
		if gw != nil {
			gw.Close()
		}
		return w.Close()
	}, nil
}

// appendHits writes one result line for a record: the id, a tab, and
// every bin with count >= required followed by a comma.
func appendHits(line []byte, id []byte, counts ibf.CountVector, required int) []byte {
	line = append(line[:0], id...)
	line = append(line, '\t')
	for bin, count := range counts {
		if int(count) >= required {
			line = strconv.AppendInt(line, int64(bin), 10)
			line = append(line, ',')
		}
	}
	return append(line, '\n')
}

// runSingle searches against a one-part index: the only IBF load
// overlaps with reading the first chunk.
func (s *searcher) runSingle() error {
	var filter ibf.Filter
	loaded := make(chan error, 1)
	go func() {
		var err error
		filter, err = s.loadIBF(s.opt.IBFFile)
		loaded <- err
	}()

	closeOut, err := s.openOutput()
	if err != nil {
		return err
	}

	qr := &queryReader{files: s.opt.QueryFiles}
	records := make([]Record, 0, 1<<10)
	awaited := false

	for {
		var n int
		n, err = s.readChunk(qr, &records)
		if err != nil {
			closeOut()
			return err
		}
		if n == 0 {
			break
		}

		if !awaited {
			if err = <-loaded; err != nil {
				closeOut()
				return err
			}
			awaited = true
		}

		worker := func(start, end int) error {
			agent := ibf.CountingAgent(filter)
			minim := make([]uint64, 0, s.params.MaxMinimizers())
			line := make([]byte, 0, 1<<10)

			for i := start; i < end; i++ {
				record := &records[i]
				minim = minimizer.Minimizers(record.Seq,
					uint8(s.opt.KmerSize), s.opt.WindowSize, s.seed, minim[:0])
				counts := agent.BulkCount(minim)

				line = appendHits(line, record.ID, counts, s.thresholder.Get(len(minim)))
				if err := s.out.Write(line); err != nil {
					return errors.Wrap(err, s.opt.OutFile)
				}
			}
			return nil
		}

		if err = doParallel(worker, n, s.opt.Threads, &s.computeTime); err != nil {
			closeOut()
			return err
		}
	}

	if !awaited { // no queries at all, still surface a broken index
		if err = <-loaded; err != nil {
			closeOut()
			return err
		}
	}

	return closeOut()
}

// runMultiple searches against a horizontally split index: per chunk,
// every part is counted into per-record accumulators spanning the
// global bin space, and the final part also applies the thresholds
// and writes the results.
func (s *searcher) runMultiple() error {
	partFile := func(part int) string {
		return fmt.Sprintf("%s_%d", s.opt.IBFFile, part)
	}

	closeOut, err := s.openOutput()
	if err != nil {
		return err
	}

	qr := &queryReader{files: s.opt.QueryFiles}
	records := make([]Record, 0, 1<<10)
	parts := s.opt.Parts

	for {
		timeStart := time.Now()
		more, err := qr.more()
		s.readsIOTime += time.Since(timeStart)
		if err != nil {
			closeOut()
			return err
		}
		if !more {
			break
		}

		// overlap the load of part 0 with reading the chunk
		var filter ibf.Filter
		loaded := make(chan error, 1)
		go func() {
			var err error
			filter, err = s.loadIBF(partFile(0))
			loaded <- err
		}()

		var n int
		n, err = s.readChunk(qr, &records)
		loadErr := <-loaded
		if err == nil {
			err = loadErr
		}
		if err != nil {
			closeOut()
			return err
		}

		binsPerPart := filter.BinCount()
		counts := make([]ibf.CountVector, n)
		for i := range counts {
			counts[i] = ibf.NewCountVector(binsPerPart * parts)
		}

		// countTask accumulates the counts of one part at its global
		// bin offset.
		countTask := func(f ibf.Filter, offset int) func(start, end int) error {
			return func(start, end int) error {
				agent := ibf.CountingAgent(f)
				minim := make([]uint64, 0, s.params.MaxMinimizers())

				for i := start; i < end; i++ {
					minim = minimizer.Minimizers(records[i].Seq,
						uint8(s.opt.KmerSize), s.opt.WindowSize, s.seed, minim[:0])
					counts[i][offset : offset+binsPerPart].Add(agent.BulkCount(minim))
				}
				return nil
			}
		}

		if err = doParallel(countTask(filter, 0), n, s.opt.Threads, &s.computeTime); err != nil {
			closeOut()
			return err
		}

		for part := 1; part < parts-1; part++ {
			if filter, err = s.loadIBF(partFile(part)); err != nil {
				closeOut()
				return err
			}
			if filter.BinCount() != binsPerPart {
				closeOut()
				return fmt.Errorf("index part %s has %d bins, expected %d",
					partFile(part), filter.BinCount(), binsPerPart)
			}
			if err = doParallel(countTask(filter, part*binsPerPart), n, s.opt.Threads, &s.computeTime); err != nil {
				closeOut()
				return err
			}
		}

		if filter, err = s.loadIBF(partFile(parts - 1)); err != nil {
			closeOut()
			return err
		}
		if filter.BinCount() != binsPerPart {
			closeOut()
			return fmt.Errorf("index part %s has %d bins, expected %d",
				partFile(parts-1), filter.BinCount(), binsPerPart)
		}
		offset := (parts - 1) * binsPerPart

		outputTask := func(start, end int) error {
			agent := ibf.CountingAgent(filter)
			minim := make([]uint64, 0, s.params.MaxMinimizers())
			line := make([]byte, 0, 1<<10)

			for i := start; i < end; i++ {
				record := &records[i]
				minim = minimizer.Minimizers(record.Seq,
					uint8(s.opt.KmerSize), s.opt.WindowSize, s.seed, minim[:0])
				counts[i][offset:].Add(agent.BulkCount(minim))

				line = appendHits(line, record.ID, counts[i], s.thresholder.Get(len(minim)))
				if err := s.out.Write(line); err != nil {
					return errors.Wrap(err, s.opt.OutFile)
				}
			}
			return nil
		}

		if err = doParallel(outputTask, n, s.opt.Threads, &s.computeTime); err != nil {
			closeOut()
			return err
		}
	}

	return closeOut()
}

// writeTimeFile reports the accumulated wall-clock times next to the
// result file.
func (s *searcher) writeTimeFile() error {
	file := s.opt.OutFile + ".time"
	fh, err := os.Create(file)
	if err != nil {
		return errors.Wrap(err, file)
	}
	fmt.Fprintf(fh, "IBF I/O\tReads I/O\tCompute\n%.2f\t%.2f\t%.2f\n",
		s.ibfIOTime.Seconds(), s.readsIOTime.Seconds(), s.computeTime.Seconds())
	return fh.Close()
}
