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
package main

/*
bio-bidir detects bidirectional transcription events in stranded bedgraph
coverage.  It writes <out>/<N>-<job-id>_prelim_bidir_hits.bed, and with -MLE
also <out>/<N>-<job-id>_bidir_predictions.bed.
*/

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bidir/bidir"
)

var (
	forwardPath   = flag.String("i", "", "Forward strand bedgraph path")
	reversePath   = flag.String("j", "", "Reverse strand bedgraph path")
	jointPath     = flag.String("ij", "", "Joint bedgraph path; positive values are forward strand, negative values reverse. Use instead of -i/-j")
	referencePath = flag.String("tss", "", "BED file of reference loci (e.g. annotated TSSs); if given, the template is estimated from the coverage around them and -sigma/-lambda/-foot_print/-pi/-w are ignored")
	candidatePath = flag.String("k", "", "Refine this preliminary candidate file instead of scanning")
	outDir        = flag.String("o", bidir.DefaultOpts.OutDir, "Output directory")
	jobName       = flag.String("N", bidir.DefaultOpts.JobName, "Job name, used as the output file prefix")
	jobID         = flag.Int("job-id", bidir.DefaultOpts.JobID, "Job ID, appended to the job name")
	bgzip         = flag.Bool("bgzip", bidir.DefaultOpts.Bgzip, "Bgzip the output files")
	binSize       = flag.Int("br", bidir.DefaultOpts.BinSize, "Bin width in base pairs")
	scale         = flag.Float64("ns", bidir.DefaultOpts.Scale, "Base pairs per model unit")
	chrom         = flag.String("chr", bidir.DefaultOpts.Chrom, "Restrict input: 'all', or comma-separated chromosomes and regions (e.g. chr1,chr2:1000-5000)")
	sigma         = flag.Float64("sigma", bidir.DefaultOpts.Raw.Sigma, "Template loading variance, in base pairs")
	lambda        = flag.Float64("lambda", bidir.DefaultOpts.Raw.Lambda, "Template initiation length (1/rate), in base pairs")
	footPrint     = flag.Float64("foot_print", bidir.DefaultOpts.Raw.FootPrint, "Template strand offset, in base pairs")
	pi            = flag.Float64("pi", bidir.DefaultOpts.Raw.Pi, "Template forward strand fraction")
	w             = flag.Float64("w", bidir.DefaultOpts.Raw.W, "Template event weight against background")
	window        = flag.Int("window", bidir.DefaultOpts.Window, "Scan window width in base pairs")
	step          = flag.Int("step", bidir.DefaultOpts.Step, "Distance between scan window centres in base pairs")
	threshold     = flag.Float64("threshold", bidir.DefaultOpts.Threshold, "Minimum penalized log-likelihood ratio of a candidate")
	penalty       = flag.Float64("penalty", bidir.DefaultOpts.Penalty, "BIC penalty multiplier")
	minCoverage   = flag.Float64("min-coverage", bidir.DefaultOpts.MinCoverage, "Minimum coverage in a scan window")
	workers       = flag.Int("workers", bidir.DefaultOpts.Workers, "Number of scan participants")
	threads       = flag.Int("threads", bidir.DefaultOpts.Threads, "Goroutines per scan participant")
	mle           = flag.Bool("MLE", bidir.DefaultOpts.MLE, "Refine preliminary candidates by EM")
	maxIter       = flag.Int("max-iter", bidir.DefaultOpts.Refine.MaxIter, "Maximum EM iterations per candidate")
	tol           = flag.Float64("tol", bidir.DefaultOpts.Refine.Tol, "EM convergence threshold on the log-likelihood")
	tempDir       = flag.String("temp-dir", bidir.DefaultOpts.TempDir, "Directory to write temporary files to (default os.TempDir())")
	verbose       = flag.Bool("verbose", bidir.DefaultOpts.Verbose, "Log progress at the info level; -v sets the log level itself")
)

func bioBidirUsage() {
	fmt.Printf("Usage: %s [OPTIONS] {-i fwd.bedgraph -j rev.bedgraph | -ij joint.bedgraph}\n", os.Args[0])
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = bioBidirUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() > 0 {
		log.Fatalf("Unexpected positional arguments %v; please check flag syntax", flag.Args())
	}
	ctx := vcontext.Background()
	opts := bidir.DefaultOpts
	opts.ForwardPath = *forwardPath
	opts.ReversePath = *reversePath
	opts.JointPath = *jointPath
	opts.ReferencePath = *referencePath
	opts.CandidatePath = *candidatePath
	opts.OutDir = *outDir
	opts.JobName = *jobName
	opts.JobID = *jobID
	opts.Bgzip = *bgzip
	opts.BinSize = *binSize
	opts.Scale = *scale
	opts.Chrom = *chrom
	opts.Raw.Sigma = *sigma
	opts.Raw.Lambda = *lambda
	opts.Raw.FootPrint = *footPrint
	opts.Raw.Pi = *pi
	opts.Raw.W = *w
	opts.Window = *window
	opts.Step = *step
	opts.Threshold = *threshold
	opts.Penalty = *penalty
	opts.MinCoverage = *minCoverage
	opts.Workers = *workers
	opts.Threads = *threads
	opts.MLE = *mle
	opts.Refine.MaxIter = *maxIter
	opts.Refine.Tol = *tol
	opts.TempDir = *tempDir
	opts.Verbose = *verbose

	if _, err := bidir.Run(ctx, opts); err != nil {
		if errors.Is(errors.Precondition, err) {
			log.Error.Printf("%v", err)
			log.Printf("exiting...")
			os.Exit(1)
		}
		log.Fatalf("%v", err)
	}
	log.Debug.Printf("exiting")
}
