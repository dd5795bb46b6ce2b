// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package coverage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/bidir/interval"
	"gopkg.in/fatih/set.v0"
)

// CoverageFiles names the bedgraph inputs.  Forward and Reverse hold one
// strand each; Joint holds forward coverage as positive and reverse coverage
// as negative values.  Reverse values are read as absolute values.
type CoverageFiles struct {
	Forward string
	Reverse string
	Joint   string
}

// Empty reports whether no input is named.
func (f CoverageFiles) Empty() bool {
	return f.Forward == "" && f.Reverse == "" && f.Joint == ""
}

// LoadOpts configures LoadCoverage.
type LoadOpts struct {
	// BinSize is the bin width in base pairs.
	BinSize int
	// Scale is the number of base pairs per model unit.
	Scale float64
	// Filter is "all" (or empty), or a comma-separated list of chromosome
	// names and region strings; records outside it are dropped.
	Filter string
}

type strandKind int

const (
	forwardStrand strandKind = iota
	reverseStrand
	jointStrand
)

func (k strandKind) record(start, end int, v float64) Record {
	r := Record{Start: start, End: end}
	switch k {
	case forwardStrand:
		r.Fwd = math.Abs(v)
	case reverseStrand:
		r.Rev = math.Abs(v)
	default:
		if v >= 0 {
			r.Fwd = v
		} else {
			r.Rev = -v
		}
	}
	return r
}

type bedgraphFile struct {
	path string
	kind strandKind
}

// inputs lists the files to read, the one that defines chromosome order
// first.
func (f CoverageFiles) inputs() []bedgraphFile {
	var in []bedgraphFile
	if f.Joint != "" {
		in = append(in, bedgraphFile{f.Joint, jointStrand})
	}
	if f.Forward != "" {
		in = append(in, bedgraphFile{f.Forward, forwardStrand})
	}
	if f.Reverse != "" {
		in = append(in, bedgraphFile{f.Reverse, reverseStrand})
	}
	return in
}

// readBedgraph calls fn for each record of a bedgraph stream.  chrom is only
// valid until fn returns unless it is retained as a string, which
// readBedgraph does for consecutive records on the same chromosome.
func readBedgraph(reader io.Reader, path string, fn func(chrom string, start, end int, v float64) error) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var (
		tokens    [4][]byte
		lastChrom string
		lineIdx   int
	)
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		if interval.IsHeaderLine(curLine) {
			continue
		}
		nToken := interval.GetTokens(tokens[:], curLine)
		if nToken == 0 {
			continue
		}
		if nToken < 4 {
			return errors.E(errors.Invalid, fmt.Sprintf("coverage: %s:%d: expected 4 columns, found %d", path, lineIdx, nToken))
		}
		start, err := strconv.Atoi(gunsafe.BytesToString(tokens[1]))
		if err != nil {
			return errors.E(errors.Invalid, fmt.Sprintf("coverage: %s:%d: bad start", path, lineIdx), err)
		}
		end, err := strconv.Atoi(gunsafe.BytesToString(tokens[2]))
		if err != nil {
			return errors.E(errors.Invalid, fmt.Sprintf("coverage: %s:%d: bad end", path, lineIdx), err)
		}
		if start < 0 || end <= start || end >= int(interval.PosTypeMax) {
			return errors.E(errors.Invalid, fmt.Sprintf("coverage: %s:%d: invalid interval [%d, %d)", path, lineIdx, start, end))
		}
		v, err := strconv.ParseFloat(gunsafe.BytesToString(tokens[3]), 64)
		if err != nil {
			return errors.E(errors.Invalid, fmt.Sprintf("coverage: %s:%d: bad value", path, lineIdx), err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.E(errors.Invalid, fmt.Sprintf("coverage: %s:%d: non-finite value", path, lineIdx))
		}
		if string(tokens[0]) != lastChrom {
			lastChrom = string(tokens[0])
		}
		if err := fn(lastChrom, start, end, v); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.E(fmt.Sprintf("coverage: read %s", path), err)
	}
	return nil
}

// scanBedgraph is readBedgraph on a (possibly gzipped) path.
func scanBedgraph(ctx context.Context, path string, fn func(chrom string, start, end int, v float64) error) (err error) {
	reader, closer, err := interval.OpenMaybeCompressed(ctx, path)
	if err != nil {
		return errors.E(fmt.Sprintf("coverage: open %s", path), err)
	}
	defer func() {
		if cerr := closer(); cerr != nil && err == nil {
			err = errors.E(fmt.Sprintf("coverage: close %s", path), cerr)
		}
	}()
	return readBedgraph(reader, path, fn)
}

// LoadCoverage reads the bedgraph files into one binned segment per
// chromosome, spanning its first through last record.  Chromosome IDs follow
// first appearance, joint file first, then forward, then reverse.  The result
// is empty, not an error, when no record passes the filter.
func LoadCoverage(ctx context.Context, files CoverageFiles, opts LoadOpts) (*Store, error) {
	if files.Empty() {
		return nil, errors.E(errors.Invalid, "coverage.LoadCoverage: no bedgraph file given")
	}
	filter, all, err := interval.ParseFilter(opts.Filter)
	if err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("coverage.LoadCoverage: filter %q", opts.Filter), err)
	}
	b := newIndexBuilder()
	var segs []*Segment
	skipped := set.New(set.NonThreadSafe)
	for _, in := range files.inputs() {
		var nRecord int
		err := scanBedgraph(ctx, in.path, func(chrom string, start, end int, v float64) error {
			if !all && !filter.IntersectsByName(chrom, interval.PosType(start), interval.PosType(end)) {
				skipped.Add(chrom)
				return nil
			}
			id := b.add(chrom)
			b.observe(id, end)
			if id == len(segs) {
				segs = append(segs, NewSegment(chrom, id, start, end))
			}
			seg := segs[id]
			if start < seg.Start {
				seg.Start = start
			}
			if end > seg.End {
				seg.End = end
			}
			if v != 0 {
				seg.Add(in.kind.record(start, end, v))
			}
			nRecord++
			return nil
		})
		if err != nil {
			return nil, err
		}
		log.Debug.Printf("coverage.LoadCoverage: %d record(s) from %s", nRecord, in.path)
	}
	index, err := b.build()
	if err != nil {
		return nil, err
	}
	if err := Bin(segs, opts.BinSize, opts.Scale, false); err != nil {
		return nil, err
	}
	store := NewStore(index, segs)
	if skipped.Size() > 0 {
		store.filtered = set.StringSlice(skipped)
		sort.Strings(store.filtered)
		log.Debug.Printf("coverage.LoadCoverage: dropped records outside %q on %v", opts.Filter, store.filtered)
	}
	var nBin int
	for _, seg := range segs {
		nBin += seg.NumBins()
	}
	log.Debug.Printf("coverage.LoadCoverage: %d chromosome(s), %d bin(s)", index.Len(), nBin)
	return store, nil
}
