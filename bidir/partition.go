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

package bidir

import (
	"fmt"

	"github.com/grailbio/bidir/coverage"
)

// Partition returns the contiguous run of segs assigned to rank out of size.
// Segments are never split; a segment goes to the rank whose share of the
// cumulative bin count contains the segment's midpoint, so that work is
// balanced by bins rather than by segment count.  Every segment is assigned
// to exactly one rank, in order; some ranks may get nothing.
func Partition(segs []*coverage.Segment, rank, size int) []*coverage.Segment {
	if size < 1 || rank < 0 || rank >= size {
		panic(fmt.Sprintf("bidir.Partition: rank %d, size %d", rank, size))
	}
	weight := func(seg *coverage.Segment) int { return seg.NumBins() }
	total := 0
	for _, seg := range segs {
		total += weight(seg)
	}
	if total == 0 {
		weight = func(*coverage.Segment) int { return 1 }
		total = len(segs)
	}
	owner := func(cum, w int) int {
		// 2*(cum + w/2) keeps integer arithmetic exact for odd weights.
		r := ((2*cum + w) * size) / (2 * total)
		if r >= size {
			r = size - 1
		}
		return r
	}
	startIdx, endIdx := len(segs), len(segs)
	cum := 0
	for i, seg := range segs {
		w := weight(seg)
		r := owner(cum, w)
		if r == rank && startIdx == len(segs) {
			startIdx = i
		}
		if r > rank {
			endIdx = i
			break
		}
		cum += w
	}
	if startIdx > endIdx {
		startIdx = endIdx
	}
	return segs[startIdx:endIdx]
}
