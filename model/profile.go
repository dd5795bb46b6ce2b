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
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Profile is binned strand-specific coverage.  X holds bin centres in model
// units, strictly increasing; Fwd and Rev are index-aligned with X.
type Profile struct {
	X   []float64
	Fwd []float64
	Rev []float64
}

// Len returns the number of bins.
func (p Profile) Len() int { return len(p.X) }

// Slice returns the bins [lo, hi).  The backing arrays are shared.
func (p Profile) Slice(lo, hi int) Profile {
	return Profile{X: p.X[lo:hi], Fwd: p.Fwd[lo:hi], Rev: p.Rev[lo:hi]}
}

// Mass returns the total forward and reverse coverage.
func (p Profile) Mass() (fwd, rev float64) {
	return floats.Sum(p.Fwd), floats.Sum(p.Rev)
}

// Search returns the index of the first bin with X >= x.
func (p Profile) Search(x float64) int {
	return sort.SearchFloat64s(p.X, x)
}

// Scale returns a copy of p with coverage multiplied by k.
func (p Profile) Scale(k float64) Profile {
	q := Profile{
		X:   p.X,
		Fwd: make([]float64, len(p.Fwd)),
		Rev: make([]float64, len(p.Rev)),
	}
	floats.ScaleTo(q.Fwd, k, p.Fwd)
	floats.ScaleTo(q.Rev, k, p.Rev)
	return q
}
