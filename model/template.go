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

	"github.com/grailbio/base/errors"
)

// RawTemplate holds template values the way they are configured: spatial
// values in base pairs, Lambda as the mean elongation distance in base pairs.
type RawTemplate struct {
	Sigma     float64
	Lambda    float64
	FootPrint float64
	Pi        float64
	W         float64
}

// DefaultRaw are the template values used when no reference intervals are
// supplied.
var DefaultRaw = RawTemplate{
	Sigma:     10,
	Lambda:    200,
	FootPrint: 50,
	Pi:        0.5,
	W:         0.5,
}

// Template is the Template Parameter Vector in model units.  Mu is only
// meaningful for per-candidate fits; the global template leaves it at the
// average offset from the reference centres.
type Template struct {
	Mu        float64
	Sigma     float64
	Lambda    float64
	FootPrint float64
	Pi        float64
	W         float64
}

// FromRaw converts configured values into model units given the scale ns.
func FromRaw(raw RawTemplate, ns float64) Template {
	return Template{
		Sigma:     raw.Sigma / ns,
		Lambda:    ns / raw.Lambda,
		FootPrint: raw.FootPrint / ns,
		Pi:        raw.Pi,
		W:         raw.W,
	}
}

// ToRaw converts t back to base-pair units.  Mu is not included; use
// coverage.Segment.ToGenomic for that.
func (t Template) ToRaw(ns float64) RawTemplate {
	return RawTemplate{
		Sigma:     t.Sigma * ns,
		Lambda:    ns / t.Lambda,
		FootPrint: t.FootPrint * ns,
		Pi:        t.Pi,
		W:         t.W,
	}
}

// Validate checks the parameter domain.
func (t Template) Validate() error {
	switch {
	case !(t.Sigma > 0) || math.IsInf(t.Sigma, 0):
		return errors.E(errors.Invalid, fmt.Sprintf("model: sigma must be positive, got %v", t.Sigma))
	case !(t.Lambda > 0) || math.IsInf(t.Lambda, 0):
		return errors.E(errors.Invalid, fmt.Sprintf("model: lambda must be positive, got %v", t.Lambda))
	case !(t.FootPrint >= 0):
		return errors.E(errors.Invalid, fmt.Sprintf("model: foot_print must be non-negative, got %v", t.FootPrint))
	case !(t.Pi >= 0 && t.Pi <= 1):
		return errors.E(errors.Invalid, fmt.Sprintf("model: pi must be in [0,1], got %v", t.Pi))
	case !(t.W >= 0 && t.W <= 1):
		return errors.E(errors.Invalid, fmt.Sprintf("model: w must be in [0,1], got %v", t.W))
	}
	return nil
}

func (t Template) String() string {
	return fmt.Sprintf("mu=%g sigma=%g lambda=%g foot_print=%g pi=%g w=%g", t.Mu, t.Sigma, t.Lambda, t.FootPrint, t.Pi, t.W)
}

// String prints the values with the flag names used on the command line.
func (r RawTemplate) String() string {
	return fmt.Sprintf("-sigma      : %f\n-lambda     : %f\n-foot_print : %f\n-pi         : %f\n-w          : %f\n", r.Sigma, r.Lambda, r.FootPrint, r.Pi, r.W)
}
