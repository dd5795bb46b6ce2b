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

// Package refine refits candidate regions by maximum likelihood.  Each region
// gets an independent EM fit of the EMG + uniform mixture over the binned
// coverage it contains.
package refine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bidir/coverage"
	"github.com/grailbio/bidir/model"
)

// Opts configures Run.
type Opts struct {
	// MaxIter bounds the number of EM iterations per region.
	MaxIter int
	// Tol is the log-likelihood improvement below which EM stops.
	Tol float64
	// Parallelism is the number of regions fitted concurrently.
	Parallelism int
}

// DefaultOpts are the refinement defaults.
var DefaultOpts = Opts{
	MaxIter:     2000,
	Tol:         1e-5,
	Parallelism: 1,
}

// Validate checks o.
func (o Opts) Validate() error {
	if o.MaxIter < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("refine: max iterations must be positive, got %d", o.MaxIter))
	}
	if !(o.Tol > 0) {
		return errors.E(errors.Invalid, fmt.Sprintf("refine: tolerance must be positive, got %v", o.Tol))
	}
	return nil
}

// Region is a genomic interval to refit, with the starting point of the fit.
// Mu is in base pairs; Init holds base-pair-unit parameters.
type Region struct {
	Chrom      string
	Start, End int
	Mu         float64
	Init       model.RawTemplate
}

// Fit is the refined model of one region.  Start and End span the fitted
// event: mu +/- (foot_print + sigma + lambda), clipped to the region.
type Fit struct {
	Region     Region
	Start, End int
	Mu         float64
	Params     model.RawTemplate
	LogLik     float64
	Iter       int
	Converged  bool
}

// chromSegments groups binned segments by chromosome, in start order.
func chromSegments(segs []*coverage.Segment) map[string][]*coverage.Segment {
	m := make(map[string][]*coverage.Segment)
	for _, seg := range segs {
		m[seg.Chrom] = append(m[seg.Chrom], seg)
	}
	for _, v := range m {
		sort.SliceStable(v, func(i, j int) bool { return v[i].Start < v[j].Start })
	}
	return m
}

// collect copies the bins of segs whose centres fall in [start, end).  It
// returns the profile and the scale shared by the segments.
func collect(segs []*coverage.Segment, start, end int) (model.Profile, float64, error) {
	var (
		p     model.Profile
		scale float64
	)
	for _, seg := range segs {
		if seg.End <= start || seg.Start >= end || seg.NumBins() == 0 {
			continue
		}
		if seg.Centered {
			return p, 0, errors.E(errors.Invalid, fmt.Sprintf("refine: segment %v is centered", seg))
		}
		if scale == 0 {
			scale = seg.Scale
		} else if scale != seg.Scale {
			return p, 0, errors.E(errors.Invalid, fmt.Sprintf("refine: segment %v has scale %v, want %v", seg, seg.Scale, scale))
		}
		lo := seg.Search(seg.ToModel(float64(start)))
		hi := seg.Search(seg.ToModel(float64(end)))
		sub := seg.Slice(lo, hi)
		p.X = append(p.X, sub.X...)
		p.Fwd = append(p.Fwd, sub.Fwd...)
		p.Rev = append(p.Rev, sub.Rev...)
	}
	if p.Len() == 0 {
		return p, 0, errors.E(errors.NotExist, fmt.Sprintf("refine: no coverage in [%d, %d)", start, end))
	}
	return p, scale, nil
}

// fitRegion runs EM on one region.
func fitRegion(segs []*coverage.Segment, r Region, opts Opts) (Fit, error) {
	if r.End <= r.Start {
		return Fit{}, errors.E(errors.Invalid, fmt.Sprintf("refine: empty region %s:%d-%d", r.Chrom, r.Start, r.End))
	}
	p, scale, err := collect(segs, r.Start, r.End)
	if err != nil {
		return Fit{}, err
	}
	init := model.FromRaw(r.Init, scale)
	init.Mu = r.Mu / scale
	a, b := float64(r.Start)/scale, float64(r.End)/scale
	res, err := EM(p, a, b, init, opts.MaxIter, opts.Tol)
	if err != nil {
		return Fit{}, err
	}
	raw := res.Params.ToRaw(scale)
	mu := res.Params.Mu * scale
	half := raw.FootPrint + raw.Sigma + raw.Lambda
	fit := Fit{
		Region:    r,
		Start:     int(math.Floor(mu - half)),
		End:       int(math.Ceil(mu + half)),
		Mu:        mu,
		Params:    raw,
		LogLik:    res.LogLik,
		Iter:      res.Iter,
		Converged: res.Converged,
	}
	if fit.Start < r.Start {
		fit.Start = r.Start
	}
	if fit.End > r.End {
		fit.End = r.End
	}
	return fit, nil
}

// Run fits every region against the binned coverage in store.  Regions that
// fail to fit are logged and left out of the result; only context
// cancellation is returned as an error.  The result follows region order.
func Run(ctx context.Context, store *coverage.Store, regions []Region, opts Opts) ([]Fit, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return nil, ctx.Err()
	}
	byChrom := chromSegments(store.Segments())
	fits := make([]Fit, len(regions))
	ok := make([]bool, len(regions))
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	if parallelism > len(regions) {
		parallelism = len(regions)
	}
	err := traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * len(regions)) / parallelism
		endIdx := ((jobIdx + 1) * len(regions)) / parallelism
		for i := startIdx; i < endIdx; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			r := regions[i]
			fit, err := fitRegion(byChrom[r.Chrom], r, opts)
			if err != nil {
				log.Error.Printf("refine: %s:%d-%d: %v", r.Chrom, r.Start, r.End, err)
				continue
			}
			if !fit.Converged {
				log.Debug.Printf("refine: %s:%d-%d: no convergence after %d iterations", r.Chrom, r.Start, r.End, fit.Iter)
			}
			fits[i], ok[i] = fit, true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := fits[:0]
	for i := range fits {
		if ok[i] {
			out = append(out, fits[i])
		}
	}
	log.Debug.Printf("refine.Run: %d of %d region(s) fitted", len(out), len(regions))
	return out, nil
}
