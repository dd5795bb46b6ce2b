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
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bidir/model"
)

// floorDiv returns floor(a/b) for b > 0.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// Bin accumulates the raw records of each segment into bins of binSize base
// pairs and converts bin centres to model units.  Coverage is weighted by the
// number of bases a record shares with a bin.  Uncentered bins are aligned to
// multiples of binSize; centered bins to Center + k*binSize.  Segments that
// are already binned are left alone.
func Bin(segs []*Segment, binSize int, scale float64, centered bool) error {
	if binSize < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("coverage.Bin: bin size must be positive, got %d", binSize))
	}
	if !(scale > 0) {
		return errors.E(errors.Invalid, fmt.Sprintf("coverage.Bin: scale must be positive, got %v", scale))
	}
	for _, seg := range segs {
		if seg.binned {
			continue
		}
		binSegment(seg, binSize, scale, centered)
	}
	return nil
}

func binSegment(seg *Segment, binSize int, scale float64, centered bool) {
	origin := 0
	if centered {
		origin = seg.Center
	}
	sums := make(map[int]*[2]float64)
	for _, r := range seg.records {
		first := floorDiv(r.Start-origin, binSize)
		last := floorDiv(r.End-1-origin, binSize)
		for k := first; k <= last; k++ {
			lo := origin + k*binSize
			hi := lo + binSize
			if lo < r.Start {
				lo = r.Start
			}
			if hi > r.End {
				hi = r.End
			}
			s := sums[k]
			if s == nil {
				s = &[2]float64{}
				sums[k] = s
			}
			n := float64(hi - lo)
			s[0] += r.Fwd * n
			s[1] += r.Rev * n
		}
	}
	keys := make([]int, 0, len(sums))
	for k, s := range sums {
		if s[0] > 0 || s[1] > 0 {
			keys = append(keys, k)
		}
	}
	sort.Ints(keys)
	p := model.Profile{
		X:   make([]float64, len(keys)),
		Fwd: make([]float64, len(keys)),
		Rev: make([]float64, len(keys)),
	}
	for i, k := range keys {
		s := sums[k]
		// Relative to origin, so ToGenomic undoes this for either alignment.
		p.X[i] = (float64(k) + 0.5) * float64(binSize) / scale
		p.Fwd[i] = s[0]
		p.Rev[i] = s[1]
	}
	seg.Profile = p
	seg.BinSize = binSize
	seg.Scale = scale
	seg.Centered = centered
	seg.records = nil
	seg.binned = true
}
