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
	"fmt"

	"github.com/grailbio/bidir/model"
)

// Record is one bedgraph interval [Start, End) with its per-base forward and
// reverse coverage.
type Record struct {
	Start, End int
	Fwd, Rev   float64
}

// Segment is a contiguous interval of one chromosome.  Start and End are
// 0-based half-open genomic coordinates.  Center is the reference-interval
// midpoint for centered segments, and 0 otherwise.
//
// Once binned, the embedded Profile holds the bins in increasing coordinate
// order; bins without coverage on either strand are left out.
type Segment struct {
	Chrom   string
	ChromID int
	Name    string
	Start   int
	End     int
	Center  int

	BinSize  int
	Scale    float64
	Centered bool

	model.Profile

	records []Record
	binned  bool
}

// NewSegment creates an empty, unbinned segment.
func NewSegment(chrom string, chromID, start, end int) *Segment {
	return &Segment{Chrom: chrom, ChromID: chromID, Start: start, End: end}
}

// Add appends a raw record.  Records must be added before the segment is
// binned.
func (s *Segment) Add(r Record) {
	if s.binned {
		panic(fmt.Sprintf("coverage: Add on binned segment %v", s))
	}
	s.records = append(s.records, r)
}

// Records returns the raw records of an unbinned segment.
func (s *Segment) Records() []Record { return s.records }

// Binned reports whether Bin() has processed the segment.
func (s *Segment) Binned() bool { return s.binned }

// ToGenomic maps a model coordinate to base pairs.
func (s *Segment) ToGenomic(x float64) float64 {
	if s.Centered {
		return float64(s.Center) + x*s.Scale
	}
	return x * s.Scale
}

// ToModel maps a base-pair coordinate to model units.
func (s *Segment) ToModel(pos float64) float64 {
	if s.Centered {
		return (pos - float64(s.Center)) / s.Scale
	}
	return pos / s.Scale
}

// Mass returns the total binned coverage over both strands.
func (s *Segment) Mass() float64 {
	f, r := s.Profile.Mass()
	return f + r
}

// NumBins returns the number of (non-empty) bins.
func (s *Segment) NumBins() int { return len(s.X) }

func (s *Segment) String() string {
	return fmt.Sprintf("%s:%d-%d", s.Chrom, s.Start, s.End)
}

// release drops all coverage arrays.
func (s *Segment) release() {
	s.Profile = model.Profile{}
	s.records = nil
}
