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
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bidir/coverage"
	"github.com/grailbio/bidir/model"
	"github.com/grailbio/bidir/refine"
)

// Opts configures Run.
type Opts struct {
	// ForwardPath, ReversePath and JointPath name the bedgraph inputs; see
	// coverage.CoverageFiles.
	ForwardPath string
	ReversePath string
	JointPath   string
	// ReferencePath optionally names a BED file of reference loci.  When set,
	// the template is estimated from them instead of taken from Raw.
	ReferencePath string
	// CandidatePath optionally names a preliminary candidate file.  When set,
	// scanning is skipped and the candidates are refined directly.
	CandidatePath string

	// OutDir, JobName and JobID determine the output file names:
	// <OutDir>/<JobName>-<JobID>_prelim_bidir_hits.bed and
	// <OutDir>/<JobName>-<JobID>_bidir_predictions.bed.
	OutDir  string
	JobName string
	JobID   int
	// Bgzip compresses the outputs (and appends ".gz" to their names).
	Bgzip bool

	// BinSize is the bin width in base pairs.
	BinSize int
	// Scale is the number of base pairs per model unit.
	Scale float64
	// Chrom restricts the input: "all", or comma-separated chromosome names
	// and region strings.
	Chrom string

	// Raw is the configured template, used when ReferencePath is empty.
	Raw model.RawTemplate

	// Window is the scan window width in base pairs, and also the width of
	// reported candidate intervals.
	Window int
	// Step is the distance in base pairs between consecutive window centres.
	Step int
	// Threshold is the minimum penalized log-likelihood ratio of a candidate.
	Threshold float64
	// Penalty multiplies the BIC complexity term.
	Penalty float64
	// MinCoverage is the minimum coverage mass of a window worth fitting.
	MinCoverage float64

	// Workers is the number of scan participants; Threads the number of
	// goroutines each of them scans with.
	Workers int
	Threads int

	// MLE enables refinement of the preliminary candidates.
	MLE    bool
	Refine refine.Opts

	// TempDir holds the per-worker spill files.  Empty means the system
	// default.
	TempDir string
	// Verbose logs progress at the default level instead of debug.
	Verbose bool
}

// DefaultOpts are the default options.  Input paths must be filled in.
var DefaultOpts = Opts{
	OutDir:      ".",
	JobName:     "EMG",
	JobID:       1,
	BinSize:     25,
	Scale:       100,
	Chrom:       "all",
	Raw:         model.DefaultRaw,
	Window:      2000,
	Step:        50,
	Threshold:   10,
	Penalty:     model.DefaultScoreOpts.Penalty,
	MinCoverage: model.DefaultScoreOpts.MinCoverage,
	Workers:     1,
	Threads:     1,
	Refine:      refine.DefaultOpts,
}

func (o Opts) coverageFiles() coverage.CoverageFiles {
	return coverage.CoverageFiles{Forward: o.ForwardPath, Reverse: o.ReversePath, Joint: o.JointPath}
}

func (o Opts) loadOpts() coverage.LoadOpts {
	return coverage.LoadOpts{BinSize: o.BinSize, Scale: o.Scale, Filter: o.Chrom}
}

func (o Opts) scanOpts() ScanOpts {
	return ScanOpts{
		Window:    o.Window,
		Step:      o.Step,
		Threshold: o.Threshold,
		Score: model.ScoreOpts{
			Penalty:     o.Penalty,
			MinCoverage: o.MinCoverage,
		},
		Parallelism: o.Threads,
	}
}

func (o Opts) refineOpts() refine.Opts {
	r := o.Refine
	if r.Parallelism < 1 {
		r.Parallelism = o.Workers * o.Threads
	}
	return r
}

func (o Opts) outputPath(suffix string) string {
	name := fmt.Sprintf("%s-%d_%s", o.JobName, o.JobID, suffix)
	if o.Bgzip {
		name += ".gz"
	}
	return file.Join(o.OutDir, name)
}

// PrelimPath returns the path of the preliminary candidate file.
func (o Opts) PrelimPath() string { return o.outputPath("prelim_bidir_hits.bed") }

// FitPath returns the path of the refined prediction file.
func (o Opts) FitPath() string { return o.outputPath("bidir_predictions.bed") }

// progress logs a pipeline milestone.
func (o Opts) progress(format string, args ...interface{}) {
	if o.Verbose {
		log.Printf(format, args...)
	} else {
		log.Debug.Printf(format, args...)
	}
}

// Validate checks o.
func (o Opts) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.E(errors.Invalid, "bidir: "+fmt.Sprintf(format, args...))
	}
	switch {
	case o.coverageFiles().Empty():
		return invalid("no bedgraph input given")
	case o.OutDir == "":
		return invalid("empty output directory")
	case o.JobName == "":
		return invalid("empty job name")
	case o.BinSize < 1:
		return invalid("bin size must be positive, got %d", o.BinSize)
	case !(o.Scale > 0):
		return invalid("scale must be positive, got %v", o.Scale)
	case o.Window < 1:
		return invalid("window must be positive, got %d", o.Window)
	case o.Step < 1:
		return invalid("step must be positive, got %d", o.Step)
	case !(o.Threshold >= 0):
		return invalid("threshold must be non-negative, got %v", o.Threshold)
	case !(o.Penalty >= 0):
		return invalid("penalty must be non-negative, got %v", o.Penalty)
	case !(o.MinCoverage >= 0):
		return invalid("min coverage must be non-negative, got %v", o.MinCoverage)
	case o.Workers < 1:
		return invalid("workers must be positive, got %d", o.Workers)
	case o.Threads < 1:
		return invalid("threads must be positive, got %d", o.Threads)
	}
	if o.ReferencePath == "" {
		if err := model.FromRaw(o.Raw, o.Scale).Validate(); err != nil {
			return err
		}
	}
	if o.MLE || o.CandidatePath != "" {
		if err := o.Refine.Validate(); err != nil {
			return err
		}
	}
	return nil
}
