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
	"context"
	"fmt"

	biointerval "github.com/biogo/store/interval"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bidir/interval"
)

// LoadReferenceIntervals reads a BED file of reference loci (e.g.
// annotated transcription start sites) into centered, unbinned segments, one
// per record.  ChromID is -1; reference segments are not indexed.
func LoadReferenceIntervals(ctx context.Context, path string) ([]*Segment, error) {
	entries, err := interval.LoadEntries(ctx, path)
	if err != nil {
		if _, ok := err.(*errors.Error); ok {
			return nil, errors.E(fmt.Sprintf("coverage.LoadReferenceIntervals: %s", path), err)
		}
		return nil, errors.E(errors.Invalid, fmt.Sprintf("coverage.LoadReferenceIntervals: %s", path), err)
	}
	segs := make([]*Segment, 0, len(entries))
	for _, e := range entries {
		seg := NewSegment(e.ChrName, -1, int(e.Start0), int(e.End))
		seg.Name = e.Name
		seg.Center = int(e.Center())
		seg.Centered = true
		segs = append(segs, seg)
	}
	return segs, nil
}

// segInterval adapts a segment to the biogo interval tree.  Intervals are
// half-open.
type segInterval struct {
	seg *Segment
	id  uintptr
}

func (i segInterval) Overlap(b biointerval.IntRange) bool {
	return i.seg.End > b.Start && i.seg.Start < b.End
}

func (i segInterval) ID() uintptr { return i.id }

func (i segInterval) Range() biointerval.IntRange {
	return biointerval.IntRange{Start: i.seg.Start, End: i.seg.End}
}

type rangeQuery biointerval.IntRange

func (q rangeQuery) Overlap(b biointerval.IntRange) bool {
	return q.End > b.Start && q.Start < b.End
}

// buildTrees indexes segs by chromosome.
func buildTrees(segs []*Segment) (map[string]*biointerval.IntTree, error) {
	trees := make(map[string]*biointerval.IntTree)
	for i, seg := range segs {
		if seg.End <= seg.Start {
			continue
		}
		tree := trees[seg.Chrom]
		if tree == nil {
			tree = &biointerval.IntTree{}
			trees[seg.Chrom] = tree
		}
		if err := tree.Insert(segInterval{seg: seg, id: uintptr(i)}, true); err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("coverage: index segment %v", seg), err)
		}
	}
	for _, tree := range trees {
		tree.AdjustRanges()
	}
	return trees, nil
}

// InsertCoverage adds the bedgraph records overlapping each (unbinned)
// segment to it, clipped to the segment bounds.  A record that overlaps
// several segments is added to each of them.
func InsertCoverage(ctx context.Context, segs []*Segment, files CoverageFiles) error {
	if files.Empty() {
		return errors.E(errors.Invalid, "coverage.InsertCoverage: no bedgraph file given")
	}
	trees, err := buildTrees(segs)
	if err != nil {
		return err
	}
	for _, in := range files.inputs() {
		var nHit int
		err := scanBedgraph(ctx, in.path, func(chrom string, start, end int, v float64) error {
			tree := trees[chrom]
			if tree == nil || v == 0 {
				return nil
			}
			for _, hit := range tree.Get(rangeQuery{Start: start, End: end}) {
				seg := hit.(segInterval).seg
				s, e := start, end
				if s < seg.Start {
					s = seg.Start
				}
				if e > seg.End {
					e = seg.End
				}
				seg.Add(in.kind.record(s, e, v))
				nHit++
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.Debug.Printf("coverage.InsertCoverage: %d record overlap(s) from %s", nHit, in.path)
	}
	return nil
}
