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
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FlankFrac is the fraction of the aggregated profile, on each side, used to
// estimate background coverage.
const FlankFrac = 0.1

// Aggregate sums centered profiles bin-by-bin.  binWidth is the bin size in
// model units; bin k covers [k*binWidth, (k+1)*binWidth) relative to the
// interval centre.  The result covers every bin between the smallest and
// largest observed one, so empty bins are explicit zeros.
func Aggregate(profiles []Profile, binWidth float64) Profile {
	sums := make(map[int][2]float64)
	for _, p := range profiles {
		for i, x := range p.X {
			k := int(math.Floor(x / binWidth))
			s := sums[k]
			s[0] += p.Fwd[i]
			s[1] += p.Rev[i]
			sums[k] = s
		}
	}
	if len(sums) == 0 {
		return Profile{}
	}
	keys := make([]int, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	first, last := keys[0], keys[len(keys)-1]
	n := last - first + 1
	agg := Profile{
		X:   make([]float64, n),
		Fwd: make([]float64, n),
		Rev: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		k := first + i
		agg.X[i] = (float64(k) + 0.5) * binWidth
		s := sums[k]
		agg.Fwd[i] = s[0]
		agg.Rev[i] = s[1]
	}
	return agg
}

func flankMean(v []float64, nFlank int) float64 {
	return (floats.Sum(v[:nFlank]) + floats.Sum(v[len(v)-nFlank:])) / float64(2*nFlank)
}

func subtractBackground(v []float64, bg float64) []float64 {
	out := make([]float64, len(v))
	for i, c := range v {
		if c > bg {
			out[i] = c - bg
		}
	}
	return out
}

// AverageModel estimates the template from centered reference profiles by the
// method of moments:
//
//   mean_f - mean_r = 2 (foot_print + 1/lambda)
//   (var_f + var_r)/2 = sigma^2 + 1/lambda^2
//   (m3_f - m3_r)/2 = 2/lambda^3
//
// where mean, var and m3 are the coverage-weighted mean, variance and third
// central moment of each strand after removing the flat background, which
// also gives w.  Mu is the average offset of the events from the interval
// centres.
func AverageModel(profiles []Profile, binWidth float64) (Template, error) {
	agg := Aggregate(profiles, binWidth)
	n := agg.Len()
	if n < 10 {
		return Template{}, errors.E(errors.Invalid, fmt.Sprintf("model.AverageModel: only %d bins of reference coverage", n))
	}
	nFlank := int(FlankFrac * float64(n))
	if nFlank < 1 {
		nFlank = 1
	}
	totF, totR := agg.Mass()
	if !(totF > 0 && totR > 0) {
		return Template{}, errors.E(errors.Invalid, "model.AverageModel: reference intervals carry no coverage on one strand")
	}
	bgF := flankMean(agg.Fwd, nFlank)
	bgR := flankMean(agg.Rev, nFlank)
	w := 1 - (bgF+bgR)*float64(n)/(totF+totR)
	w = math.Max(0, math.Min(1, w))

	sigF := subtractBackground(agg.Fwd, bgF)
	sigR := subtractBackground(agg.Rev, bgR)
	massF, massR := floats.Sum(sigF), floats.Sum(sigR)
	if !(massF > 0 && massR > 0) {
		return Template{}, errors.E(errors.Invalid, "model.AverageModel: no signal above background")
	}
	meanF := stat.Mean(agg.X, sigF)
	meanR := stat.Mean(agg.X, sigR)
	varF := stat.Moment(2, agg.X, sigF)
	varR := stat.Moment(2, agg.X, sigR)
	m3F := stat.Moment(3, agg.X, sigF)
	m3R := stat.Moment(3, agg.X, sigR)

	tail3 := (m3F - m3R) / 4
	if !(tail3 > 0) {
		return Template{}, errors.E(errors.Invalid, fmt.Sprintf("model.AverageModel: strands are not skewed apart (third moments %g, %g)", m3F, m3R))
	}
	invLambda := math.Cbrt(tail3)
	sigma2 := (varF+varR)/2 - invLambda*invLambda
	if !(sigma2 > 0) {
		return Template{}, errors.E(errors.Invalid, fmt.Sprintf("model.AverageModel: degenerate loading variance %g", sigma2))
	}
	fp := (meanF-meanR)/2 - invLambda
	if fp < 0 {
		fp = 0
	}
	t := Template{
		Mu:        (meanF + meanR) / 2,
		Sigma:     math.Sqrt(sigma2),
		Lambda:    1 / invLambda,
		FootPrint: fp,
		Pi:        massF / (massF + massR),
		W:         w,
	}
	return t, t.Validate()
}
