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
package model

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	// Free parameters of the alternative (mu, lambda, pi) and null (strand
	// ratio) models.
	kAlt  = 3
	kNull = 1

	minW = 1e-6
)

// ScoreOpts configures FitWindow.
type ScoreOpts struct {
	// Penalty multiplies the BIC complexity term.
	Penalty float64
	// MinCoverage is the minimum total window coverage worth fitting.
	MinCoverage float64
}

// DefaultScoreOpts are the scoring defaults.
var DefaultScoreOpts = ScoreOpts{
	Penalty:     1,
	MinCoverage: 5,
}

// WindowFit is the result of fitting one window.
type WindowFit struct {
	// Params holds the fitted Mu, Lambda and Pi; Sigma, FootPrint and W are
	// copied from the template.
	Params Template
	// Score is the penalized log-likelihood ratio.
	Score  float64
	LLAlt  float64
	LLNull float64
	// Mass is the total window coverage.
	Mass float64
}

// FitWindow fits the template to the bins of p, which must all lie in the
// window [a, b], and scores the fit against a uniform background.  It
// returns false for windows that carry no usable signal: too little
// coverage, a missing strand, strands that do not diverge, a centre outside
// the middle half of the window, or a non-finite likelihood.
func FitWindow(p Profile, a, b float64, t Template, opts ScoreOpts) (WindowFit, bool) {
	if p.Len() == 0 || !(b > a) {
		return WindowFit{}, false
	}
	fwd, rev := p.Mass()
	n := fwd + rev
	if n < opts.MinCoverage || !(fwd > 0) || !(rev > 0) {
		return WindowFit{}, false
	}
	w := t.W
	if w < minW {
		return WindowFit{}, false
	}
	c := (a + b) / 2
	mf := stat.Mean(p.X, p.Fwd)
	mr := stat.Mean(p.X, p.Rev)
	mu := ((mf+mr)/2 - (1-w)*c) / w
	invLambda := (mf-mr)/(2*w) - t.FootPrint
	if !(invLambda > 0) || math.Abs(mu-c) > (b-a)/4 {
		return WindowFit{}, false
	}
	fit := t
	fit.Mu = mu
	fit.Lambda = 1 / invLambda
	fit.Pi = fwd / n

	zf := fit.MassFwd(a, b)
	zr := fit.MassRev(a, b)
	if !(zf > 0) || !(zr > 0) {
		return WindowFit{}, false
	}
	logW, logBg := math.Log(w), math.Log1p(-w)-math.Log(b-a)
	logZf, logZr := math.Log(zf), math.Log(zr)
	logPi, logPiRev := math.Log(fit.Pi), math.Log1p(-fit.Pi)
	logUniform := -math.Log(b - a)

	var llAlt, llNull float64
	for i, x := range p.X {
		if c := p.Fwd[i]; c > 0 {
			llAlt += c * (logPi + LogAddExp(logW+fit.LogFwd(x)-logZf, logBg))
			llNull += c * (logPi + logUniform)
		}
		if c := p.Rev[i]; c > 0 {
			llAlt += c * (logPiRev + LogAddExp(logW+fit.LogRev(x)-logZr, logBg))
			llNull += c * (logPiRev + logUniform)
		}
	}
	score := llAlt - llNull - opts.Penalty*float64(kAlt-kNull)/2*math.Log(n)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return WindowFit{}, false
	}
	return WindowFit{
		Params: fit,
		Score:  score,
		LLAlt:  llAlt,
		LLNull: llNull,
		Mass:   n,
	}, true
}
