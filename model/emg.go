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

	"gonum.org/v1/gonum/stat/distuv"
)

// LogPhi returns log(Phi(t)), Phi being the standard normal CDF.  It stays
// finite far into the lower tail, where Phi itself underflows.
func LogPhi(t float64) float64 {
	switch {
	case t > 0:
		return math.Log1p(-0.5 * math.Erfc(t/math.Sqrt2))
	case t > -20:
		return math.Log(0.5 * math.Erfc(-t/math.Sqrt2))
	}
	// Asymptotic expansion of the Mills ratio.
	t2 := t * t
	return distuv.UnitNormal.LogProb(t) - math.Log(-t) + math.Log1p(-1/t2+3/(t2*t2))
}

// MillsLower returns phi(t)/Phi(t).
func MillsLower(t float64) float64 {
	return math.Exp(distuv.UnitNormal.LogProb(t) - LogPhi(t))
}

// MillsUpper returns phi(t)/(1-Phi(t)).
func MillsUpper(t float64) float64 {
	return MillsLower(-t)
}

// LogAddExp returns log(exp(a) + exp(b)).
func LogAddExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}

// emgLogPDF is the log density of N(0, sigma^2) + Exp(lambda) at z.
func emgLogPDF(z, sigma, lambda float64) float64 {
	ls := lambda * sigma
	return math.Log(lambda) + 0.5*ls*ls - lambda*z + LogPhi(z/sigma-ls)
}

// emgCDF is the CDF of N(0, sigma^2) + Exp(lambda) at z.
func emgCDF(z, sigma, lambda float64) float64 {
	ls := lambda * sigma
	v := distuv.UnitNormal.CDF(z/sigma) - math.Exp(-lambda*z+0.5*ls*ls+LogPhi(z/sigma-ls))
	if v < 0 {
		return 0
	}
	return v
}

// LogFwd is the log density of the forward-strand signal component at x.
func (t Template) LogFwd(x float64) float64 {
	return emgLogPDF(x-t.Mu-t.FootPrint, t.Sigma, t.Lambda)
}

// LogRev is the log density of the reverse-strand signal component at x.
func (t Template) LogRev(x float64) float64 {
	return emgLogPDF(t.Mu-t.FootPrint-x, t.Sigma, t.Lambda)
}

// MassFwd returns the forward signal component's probability mass on [a, b].
func (t Template) MassFwd(a, b float64) float64 {
	return emgCDF(b-t.Mu-t.FootPrint, t.Sigma, t.Lambda) - emgCDF(a-t.Mu-t.FootPrint, t.Sigma, t.Lambda)
}

// MassRev returns the reverse signal component's probability mass on [a, b].
func (t Template) MassRev(a, b float64) float64 {
	return emgCDF(t.Mu-t.FootPrint-a, t.Sigma, t.Lambda) - emgCDF(t.Mu-t.FootPrint-b, t.Sigma, t.Lambda)
}
