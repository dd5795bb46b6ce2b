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
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/bidir/coverage"
	"github.com/grailbio/bidir/interval"
	"github.com/grailbio/bidir/model"
	"github.com/grailbio/bidir/refine"
)

// Candidate is one preliminary bidirectional prediction.  Start and End are
// genomic, 0-based half-open; Mu is the fitted event position in base pairs
// and Params the fitted template in base-pair units (Sigma, FootPrint and W
// are those of the scan template).  Rank and Seq identify the worker that
// emitted the candidate and its position in that worker's output.
type Candidate struct {
	Chrom   string
	ChromID int
	Start   int
	End     int
	Mu      float64
	Params  model.RawTemplate
	Score   float64
	Rank    int
	Seq     int
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s:%d-%d mu=%.1f score=%.3g", c.Chrom, c.Start, c.End, c.Mu, c.Score)
}

// region converts c into a refinement region seeded with its parameters.
func (c Candidate) region() refine.Region {
	return refine.Region{Chrom: c.Chrom, Start: c.Start, End: c.End, Mu: c.Mu, Init: c.Params}
}

// sortCandidates orders cands by chromosome, start, rank and emission order.
func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := &cands[i], &cands[j]
		if a.ChromID != b.ChromID {
			return a.ChromID < b.ChromID
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.Seq < b.Seq
	})
}

var candidateHeader = []string{"chrom", "start", "end", "mu", "sigma", "lambda", "foot_print", "pi", "w", "score"}

func writeCandidate(w *tsv.Writer, c *Candidate) error {
	w.WriteString(c.Chrom)
	w.WriteInt64(int64(c.Start))
	w.WriteInt64(int64(c.End))
	w.WriteFloat64(c.Mu, 'f', 2)
	w.WriteFloat64(c.Params.Sigma, 'g', 8)
	w.WriteFloat64(c.Params.Lambda, 'g', 8)
	w.WriteFloat64(c.Params.FootPrint, 'g', 8)
	w.WriteFloat64(c.Params.Pi, 'g', 8)
	w.WriteFloat64(c.Params.W, 'g', 8)
	w.WriteFloat64(c.Score, 'g', 8)
	return w.EndLine()
}

// filterCandidates keeps the candidates whose event position lies within
// filter, which has the syntax of Opts.Chrom.
func filterCandidates(cands []Candidate, filter string) ([]Candidate, error) {
	u, all, err := interval.ParseFilter(filter)
	if err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bidir: filter %q", filter), err)
	}
	if all {
		return cands, nil
	}
	kept := cands[:0]
	for _, c := range cands {
		if !u.HasChrom(c.Chrom) || c.Mu < 0 {
			continue
		}
		if u.ContainsByName(c.Chrom, interval.PosType(c.Mu)) {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// resolveCandidates maps candidate chromosomes onto the coverage index.
// Candidates on chromosomes without coverage are dropped, and ends are clipped
// to the covered extent.
func resolveCandidates(cands []Candidate, index *coverage.Index) []Candidate {
	kept := cands[:0]
	dropped := 0
	for _, c := range cands {
		id, ok := index.ID(c.Chrom)
		if !ok {
			dropped++
			continue
		}
		c.ChromID = id
		if extent := index.Extent(id); c.End > extent {
			c.End = extent
		}
		if c.End <= c.Start {
			dropped++
			continue
		}
		kept = append(kept, c)
	}
	if dropped > 0 {
		log.Printf("Dropped %d candidate(s) outside the loaded coverage", dropped)
	}
	return kept
}

// candidateRow is the on-disk layout of a candidate.
type candidateRow struct {
	Chrom     string
	Start     int64
	End       int64
	Mu        float64
	Sigma     float64
	Lambda    float64
	FootPrint float64
	Pi        float64
	W         float64
	Score     float64
}

// ReadCandidates reads a preliminary candidate file, possibly gzipped.
// ChromID follows first appearance in the file and Seq the line order.
func ReadCandidates(ctx context.Context, path string) (cands []Candidate, err error) {
	in, closer, err := interval.OpenMaybeCompressed(ctx, path)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("bidir.ReadCandidates: %s", path), err)
	}
	defer func() {
		if cerr := closer(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	r := tsv.NewReader(in)
	r.Comment = '#'
	ids := make(map[string]int)
	for {
		var row candidateRow
		if err := r.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.E(errors.Invalid, fmt.Sprintf("bidir.ReadCandidates: %s", path), err)
		}
		id, ok := ids[row.Chrom]
		if !ok {
			id = len(ids)
			ids[row.Chrom] = id
		}
		cands = append(cands, Candidate{
			Chrom:   row.Chrom,
			ChromID: id,
			Start:   int(row.Start),
			End:     int(row.End),
			Mu:      row.Mu,
			Params: model.RawTemplate{
				Sigma:     row.Sigma,
				Lambda:    row.Lambda,
				FootPrint: row.FootPrint,
				Pi:        row.Pi,
				W:         row.W,
			},
			Score: row.Score,
			Seq:   len(cands),
		})
	}
	log.Debug.Printf("bidir.ReadCandidates: %d candidate(s) from %s", len(cands), path)
	return cands, nil
}
