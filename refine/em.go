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

package refine

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bidir/model"
)

// EMResult is the outcome of one EM fit.
type EMResult struct {
	Params    model.Template
	LogLik    float64
	Iter      int
	Converged bool
}

// logLik returns the log-likelihood of p under t, with the background
// uniform on [a, b].
func logLik(p model.Profile, a, b float64, t model.Template) float64 {
	logW := math.Log(t.W)
	logBg := math.Log1p(-t.W) - math.Log(b-a)
	logPi, logPiRev := math.Log(t.Pi), math.Log1p(-t.Pi)
	var ll float64
	for i, x := range p.X {
		if c := p.Fwd[i]; c > 0 {
			ll += c * (logPi + model.LogAddExp(logW+t.LogFwd(x), logBg))
		}
		if c := p.Rev[i]; c > 0 {
			ll += c * (logPiRev + model.LogAddExp(logW+t.LogRev(x), logBg))
		}
	}
	return ll
}

// sufficient accumulates responsibility-weighted expectations.
type sufficient struct {
	n      float64 // total coverage
	nFwd   float64
	r      float64 // sum of c*r
	y      float64 // sum of c*r*E[Y]
	e      float64 // sum of c*r*E[E]
	yy     float64 // sum of c*r*E[Y^2]
	failed bool
}

func (s *sufficient) add(c, r, ey, vy, ee float64) {
	if math.IsNaN(ey) || math.IsNaN(vy) || math.IsNaN(ee) {
		s.failed = true
		return
	}
	if vy < 0 {
		vy = 0
	}
	cr := c * r
	s.r += cr
	s.y += cr * ey
	s.yy += cr * (vy + ey*ey)
	s.e += cr * ee
}

// eStep computes the posterior expectations of the loading position Y and
// the elongation distance E for every bin.  On the forward strand
// x = Y + foot_print + E; on the reverse strand x = Y - foot_print - E.  Given
// x, Y is normal with mean mu +/- lambda*sigma^2, truncated at x -/+
// foot_print.
func eStep(p model.Profile, a, b float64, t model.Template) sufficient {
	var s sufficient
	logW := math.Log(t.W)
	logBg := math.Log1p(-t.W) - math.Log(b-a)
	sigma := t.Sigma
	shift := t.Lambda * sigma * sigma
	for i, x := range p.X {
		if c := p.Fwd[i]; c > 0 {
			s.n += c
			s.nFwd += c
			lf := logW + t.LogFwd(x)
			r := math.Exp(lf - model.LogAddExp(lf, logBg))
			z := x - t.FootPrint
			m := t.Mu + shift
			alpha := (z - m) / sigma
			mills := model.MillsLower(alpha)
			ey := m - sigma*mills
			vy := sigma * sigma * (1 - alpha*mills - mills*mills)
			s.add(c, r, ey, vy, z-ey)
		}
		if c := p.Rev[i]; c > 0 {
			s.n += c
			lr := logW + t.LogRev(x)
			r := math.Exp(lr - model.LogAddExp(lr, logBg))
			z := x + t.FootPrint
			m := t.Mu - shift
			beta := (z - m) / sigma
			mills := model.MillsUpper(beta)
			ey := m + sigma*mills
			vy := sigma * sigma * (1 + beta*mills - mills*mills)
			s.add(c, r, ey, vy, ey-z)
		}
	}
	return s
}

// mStep maximizes the expected complete-data log-likelihood.  FootPrint is
// held fixed.
func (s sufficient) mStep(t model.Template) (model.Template, error) {
	if s.failed || !(s.r > 0) || !(s.n > 0) {
		return t, errors.E(errors.Invalid, "refine: empty or non-finite E-step")
	}
	next := t
	next.Mu = s.y / s.r
	variance := s.yy/s.r - next.Mu*next.Mu
	invLambda := s.e / s.r
	if !(variance > 0) || !(invLambda > 0) {
		return t, errors.E(errors.Invalid, fmt.Sprintf("refine: degenerate M-step (variance %g, 1/lambda %g)", variance, invLambda))
	}
	next.Sigma = math.Sqrt(variance)
	next.Lambda = 1 / invLambda
	next.W = s.r / s.n
	next.Pi = s.nFwd / s.n
	return next, next.Validate()
}

// EM fits an EMG + uniform mixture to p on [a, b], starting from init, until
// the log-likelihood improves by less than tol or maxIter iterations have run.
func EM(p model.Profile, a, b float64, init model.Template, maxIter int, tol float64) (EMResult, error) {
	if !(b > a) {
		return EMResult{}, errors.E(errors.Invalid, fmt.Sprintf("refine.EM: empty interval [%g, %g]", a, b))
	}
	fwd, rev := p.Mass()
	if !(fwd > 0) || !(rev > 0) {
		return EMResult{}, errors.E(errors.Invalid, "refine.EM: region lacks coverage on one strand")
	}
	t := init
	t.Pi = fwd / (fwd + rev)
	// Keep both components alive at the start.
	t.W = math.Max(0.01, math.Min(0.99, t.W))
	if err := t.Validate(); err != nil {
		return EMResult{}, err
	}
	ll := logLik(p, a, b, t)
	res := EMResult{Params: t, LogLik: ll}
	for res.Iter < maxIter {
		next, err := eStep(p, a, b, res.Params).mStep(res.Params)
		if err != nil {
			return res, err
		}
		nextLL := logLik(p, a, b, next)
		if math.IsNaN(nextLL) || math.IsInf(nextLL, 0) {
			return res, errors.E(errors.Invalid, fmt.Sprintf("refine.EM: non-finite log-likelihood at iteration %d", res.Iter+1))
		}
		res.Iter++
		delta := nextLL - res.LogLik
		res.Params, res.LogLik = next, nextLL
		if math.Abs(delta) < tol {
			res.Converged = true
			break
		}
	}
	return res, nil
}
