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

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bidir/comm"
	"github.com/grailbio/bidir/coverage"
	"github.com/grailbio/bidir/model"
)

const (
	coordinatorRank = 0

	tagTemplate = "template"
	tagSpill    = "spill"
	tagMerged   = "merged"
)

// merged is what the coordinator produces after merging.
type merged struct {
	cands  []Candidate
	digest uint64
}

// role is the rank-specific part of a scan participant.  The coordinator
// decides the template and writes the merged output; workers follow.
type role interface {
	// template returns the template every participant scans with.
	template(ctx context.Context) (model.Template, error)
	// report hands local candidates over for aggregation.  Only the
	// coordinator returns a non-nil report.
	report(ctx context.Context, local []Candidate) (*merged, error)
	// scan runs this participant's share of the scan.
	scan(ctx context.Context, t model.Template) ([]Candidate, error)
}

// participant holds the state shared by all roles.
type participant struct {
	comm   *comm.Comm
	opts   Opts
	store  *coverage.Store
	spills *spillSet
}

func newRole(p participant) role {
	if p.comm.Rank() == coordinatorRank {
		return &coordinator{p}
	}
	return &worker{p}
}

func (p *participant) scan(ctx context.Context, t model.Template) ([]Candidate, error) {
	segs := Partition(p.store.Segments(), p.comm.Rank(), p.comm.Size())
	p.opts.progress("rank %d: scanning %d segment(s)", p.comm.Rank(), len(segs))
	cands, err := Scan(ctx, segs, t, p.opts.scanOpts())
	if err != nil {
		return nil, err
	}
	for i := range cands {
		cands[i].Rank = p.comm.Rank()
	}
	return cands, nil
}

// spill writes local candidates to a temporary file and gathers the file
// names at the coordinator.
func (p *participant) spill(ctx context.Context, local []Candidate) ([]string, error) {
	path, err := writeSpill(p.opts.TempDir, p.comm.Rank(), local)
	if err != nil {
		return nil, err
	}
	p.spills.add(path)
	vals, err := p.comm.Gather(ctx, tagSpill, coordinatorRank, path)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(vals))
	for i, v := range vals {
		paths[i] = v.(string)
	}
	return paths, nil
}

type coordinator struct{ participant }

func (c *coordinator) template(ctx context.Context) (model.Template, error) {
	var (
		t   model.Template
		err error
	)
	if c.opts.ReferencePath != "" {
		if t, err = c.estimate(ctx); err != nil {
			return model.Template{}, err
		}
	} else {
		t = model.FromRaw(c.opts.Raw, c.opts.Scale)
	}
	c.opts.progress("template:\n%v", t.ToRaw(c.opts.Scale))
	if _, err = c.comm.Bcast(ctx, tagTemplate, coordinatorRank, t); err != nil {
		return model.Template{}, err
	}
	return t, nil
}

// estimate fits the average model to the coverage around the reference loci.
func (c *coordinator) estimate(ctx context.Context) (model.Template, error) {
	segs, err := coverage.LoadReferenceIntervals(ctx, c.opts.ReferencePath)
	if err != nil {
		return model.Template{}, err
	}
	if len(segs) == 0 {
		return model.Template{}, errors.E(errors.Precondition, fmt.Sprintf("bidir: no reference intervals in %s", c.opts.ReferencePath))
	}
	if err = coverage.InsertCoverage(ctx, segs, c.opts.coverageFiles()); err != nil {
		return model.Template{}, err
	}
	if err = coverage.Bin(segs, c.opts.BinSize, c.opts.Scale, true); err != nil {
		return model.Template{}, err
	}
	profiles := make([]model.Profile, len(segs))
	for i, seg := range segs {
		profiles[i] = seg.Profile
	}
	t, err := model.AverageModel(profiles, float64(c.opts.BinSize)/c.opts.Scale)
	if err != nil {
		return model.Template{}, errors.E(fmt.Sprintf("bidir: estimate template from %d reference interval(s)", len(segs)), err)
	}
	c.opts.progress("estimated template from %d reference interval(s)", len(segs))
	return t, nil
}

func (c *coordinator) report(ctx context.Context, local []Candidate) (*merged, error) {
	paths, err := c.spill(ctx, local)
	if err != nil {
		return nil, err
	}
	cands, err := mergeSpills(ctx, paths)
	if err != nil {
		return nil, err
	}
	path := c.opts.PrelimPath()
	digest, err := writeCandidates(ctx, path, c.opts.Bgzip, c.opts.Threads, cands)
	if err != nil {
		return nil, err
	}
	c.opts.progress("wrote %d candidate(s) to %s", len(cands), path)
	if err = c.comm.Barrier(ctx, tagMerged); err != nil {
		return nil, err
	}
	return &merged{cands: cands, digest: digest}, nil
}

type worker struct{ participant }

func (w *worker) template(ctx context.Context) (model.Template, error) {
	v, err := w.comm.Bcast(ctx, tagTemplate, coordinatorRank, nil)
	if err != nil {
		return model.Template{}, err
	}
	return v.(model.Template), nil
}

func (w *worker) report(ctx context.Context, local []Candidate) (*merged, error) {
	if _, err := w.spill(ctx, local); err != nil {
		return nil, err
	}
	return nil, w.comm.Barrier(ctx, tagMerged)
}
