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
	"context"
	"math"
	"sort"

	biointerval "github.com/biogo/store/interval"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bidir/coverage"
	"github.com/grailbio/bidir/model"
)

// ScanOpts configures Scan.
type ScanOpts struct {
	// Window and Step are in base pairs.
	Window int
	Step   int
	// Threshold is the minimum score of an emitted candidate.
	Threshold float64
	Score     model.ScoreOpts
	// Parallelism is the number of goroutines segments are spread over.
	Parallelism int
}

// Scan slides the template over each segment and returns the surviving
// candidates, segment by segment in the order of segs.  Within a segment the
// candidates are in coordinate order.  Rank is left at 0; Seq is the index
// in the result.
func Scan(ctx context.Context, segs []*coverage.Segment, t model.Template, opts ScanOpts) ([]Candidate, error) {
	if len(segs) == 0 {
		return nil, ctx.Err()
	}
	results := make([][]Candidate, len(segs))
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	if parallelism > len(segs) {
		parallelism = len(segs)
	}
	err := traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * len(segs)) / parallelism
		endIdx := ((jobIdx + 1) * len(segs)) / parallelism
		for i := startIdx; i < endIdx; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = scanSegment(segs[i], t, opts)
			log.Debug.Printf("bidir.Scan: %v: %d candidate(s)", segs[i], len(results[i]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var cands []Candidate
	for _, r := range results {
		for _, c := range r {
			c.Seq = len(cands)
			cands = append(cands, c)
		}
	}
	return cands, nil
}

// scanSegment fits every window of seg and keeps the best non-overlapping
// candidates above the threshold.
func scanSegment(seg *coverage.Segment, t model.Template, opts ScanOpts) []Candidate {
	n := seg.NumBins()
	if n == 0 {
		return nil
	}
	halfWidth := float64(opts.Window) / 2 / seg.Scale
	step := float64(opts.Step) / seg.Scale
	// Bin centres may stick out of a segment that starts or ends mid-bin.
	segLo := math.Min(seg.ToModel(float64(seg.Start)), seg.X[0])
	segHi := math.Max(seg.ToModel(float64(seg.End)), seg.X[n-1])

	var hits []Candidate
	lo, hi := 0, 0
	for k := 0; ; k++ {
		c := segLo + float64(k)*step
		if c > segHi {
			break
		}
		a, b := math.Max(segLo, c-halfWidth), math.Min(segHi, c+halfWidth)
		for lo < n && seg.X[lo] < a {
			lo++
		}
		if lo == n {
			break
		}
		if seg.X[lo] > b {
			// Nothing in this window; jump to the first centre whose window
			// reaches the next bin.
			next := int(math.Ceil((seg.X[lo] - halfWidth - segLo) / step))
			if next > k+1 {
				k = next - 1
			}
			continue
		}
		if hi < lo {
			hi = lo
		}
		for hi < n && seg.X[hi] <= b {
			hi++
		}
		fit, ok := model.FitWindow(seg.Slice(lo, hi), a, b, t, opts.Score)
		if !ok || !(fit.Score > opts.Threshold) {
			continue
		}
		hits = append(hits, newCandidate(seg, fit, opts.Window))
	}
	return suppress(hits)
}

// newCandidate reports a window fit as a Window-wide interval around the
// fitted mu, clipped to the segment.
func newCandidate(seg *coverage.Segment, fit model.WindowFit, window int) Candidate {
	mu := seg.ToGenomic(fit.Params.Mu)
	start := int(math.Floor(mu - float64(window)/2))
	end := start + window
	if start < seg.Start {
		start = seg.Start
	}
	if end > seg.End {
		end = seg.End
	}
	return Candidate{
		Chrom:   seg.Chrom,
		ChromID: seg.ChromID,
		Start:   start,
		End:     end,
		Mu:      mu,
		Params:  fit.Params.ToRaw(seg.Scale),
		Score:   fit.Score,
	}
}

// hitInterval adapts a candidate to the biogo interval tree.  Intervals are
// half-open.
type hitInterval struct {
	start, end int
	id         uintptr
}

func (h hitInterval) Overlap(b biointerval.IntRange) bool {
	return h.end > b.Start && h.start < b.End
}

func (h hitInterval) ID() uintptr { return h.id }

func (h hitInterval) Range() biointerval.IntRange {
	return biointerval.IntRange{Start: h.start, End: h.end}
}

// suppress performs greedy non-maximum suppression: hits are visited by
// decreasing score (ties by start), and a hit is kept unless it overlaps one
// kept earlier.  The survivors are returned by start.
func suppress(hits []Candidate) []Candidate {
	if len(hits) == 0 {
		return nil
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Start < hits[j].Start
	})
	var (
		kept []Candidate
		tree biointerval.IntTree
	)
	for i, h := range hits {
		if h.End <= h.Start {
			continue
		}
		iv := hitInterval{start: h.Start, end: h.End, id: uintptr(i)}
		if len(tree.Get(iv)) > 0 {
			continue
		}
		if err := tree.Insert(iv, false); err != nil {
			// IDs are unique, so Insert cannot fail.
			log.Panicf("bidir: interval tree insert: %v", err)
		}
		kept = append(kept, h)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}
