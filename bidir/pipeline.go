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
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bidir/comm"
	"github.com/grailbio/bidir/coverage"
	"github.com/grailbio/bidir/model"
	"github.com/grailbio/bidir/refine"
	"golang.org/x/sync/errgroup"
)

// Result summarizes a Run.
type Result struct {
	// Template is the scan template in model units.  It is zero when
	// scanning was skipped.
	Template model.Template
	// Candidates are the merged preliminary predictions, in output order.
	Candidates []Candidate
	// PrelimPath is the preliminary candidate file, and Digest the seahash
	// of its uncompressed contents.
	PrelimPath string
	Digest     uint64
	// Fits, FitPath and FitDigest describe the refinement output, if any.
	Fits      []refine.Fit
	FitPath   string
	FitDigest uint64
}

// Run executes the detection pipeline: load the coverage, decide the
// template, scan with opts.Workers participants, merge their candidates into
// the preliminary file, and optionally refine them.
//
// When opts.CandidatePath is set, scanning is skipped and the given
// candidates are refined instead.
//
// Run returns an errors.Precondition error if the input holds no coverage.
func Run(ctx context.Context, opts Opts) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	if err := ensureDir(opts.OutDir); err != nil {
		return Result{}, err
	}
	store, err := coverage.LoadCoverage(ctx, opts.coverageFiles(), opts.loadOpts())
	if err != nil {
		return Result{}, err
	}
	defer store.Release()
	if store.Len() == 0 {
		return Result{}, errors.E(errors.Precondition, fmt.Sprintf("bidir: no coverage in %s", describeInput(opts)))
	}
	opts.progress("loaded %d segment(s) over %d chromosome(s)", store.Len(), store.Index().Len())
	if filtered := store.Filtered(); len(filtered) > 0 {
		opts.progress("-chr %s dropped records on %s", opts.Chrom, strings.Join(filtered, ","))
	}

	var res Result
	if opts.CandidatePath != "" {
		if res.Candidates, err = ReadCandidates(ctx, opts.CandidatePath); err != nil {
			return Result{}, err
		}
		if res.Candidates, err = filterCandidates(res.Candidates, opts.Chrom); err != nil {
			return Result{}, err
		}
		res.Candidates = resolveCandidates(res.Candidates, store.Index())
	} else {
		if res, err = scanAll(ctx, store, opts); err != nil {
			return Result{}, err
		}
		log.Printf("There were %d preliminary bidirectional predictions", len(res.Candidates))
		if !opts.MLE {
			return res, nil
		}
	}

	regions := make([]refine.Region, len(res.Candidates))
	for i := range res.Candidates {
		regions[i] = res.Candidates[i].region()
	}
	if res.Fits, err = refine.Run(ctx, store, regions, opts.refineOpts()); err != nil {
		return Result{}, err
	}
	res.FitPath = opts.FitPath()
	if res.FitDigest, err = writeFits(ctx, res.FitPath, opts.Bgzip, opts.Threads, res.Fits); err != nil {
		return Result{}, err
	}
	log.Printf("Refined %d of %d bidirectional predictions", len(res.Fits), len(regions))
	return res, nil
}

// scanAll runs one participant per worker and returns the coordinator's
// result.
func scanAll(ctx context.Context, store *coverage.Store, opts Opts) (Result, error) {
	var (
		res    Result
		group  = comm.NewGroup(opts.Workers)
		spills = &spillSet{}
	)
	defer spills.removeAll()
	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < opts.Workers; rank++ {
		r := newRole(participant{comm: group.Comm(rank), opts: opts, store: store, spills: spills})
		g.Go(func() error {
			t, err := r.template(gctx)
			if err != nil {
				return err
			}
			local, err := r.scan(gctx, t)
			if err != nil {
				return err
			}
			rep, err := r.report(gctx, local)
			if err != nil {
				return err
			}
			if rep != nil {
				res.Template = t
				res.Candidates = rep.cands
				res.Digest = rep.digest
				res.PrelimPath = opts.PrelimPath()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return res, nil
}

func describeInput(opts Opts) string {
	if opts.JointPath != "" {
		return opts.JointPath
	}
	return opts.ForwardPath + ", " + opts.ReversePath
}
