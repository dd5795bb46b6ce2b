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
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/bidir/coverage"
	"github.com/grailbio/bidir/model"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	tassert "github.com/stretchr/testify/assert"
)

// peak is the event planted in the synthetic coverage, in base pairs.
var peak = model.Template{Mu: 1000, Sigma: 20, Lambda: 0.01, FootPrint: 50, Pi: 0.5, W: 0.9}

var peakRaw = model.RawTemplate{Sigma: 20, Lambda: 100, FootPrint: 50, Pi: 0.5, W: 0.9}

func writeText(t *testing.T, path, content string) {
	ctx := context.Background()
	out, err := file.Create(ctx, path)
	assert.NoError(t, err)
	_, err = out.Writer(ctx).Write([]byte(content))
	assert.NoError(t, err)
	assert.NoError(t, out.Close(ctx))
}

// writePeaks writes forward and reverse bedgraphs with one event at
// peak.Mu on each of chroms, over [0, 2000), and returns their paths.
func writePeaks(t *testing.T, dir string, chroms ...string) (fwdPath, revPath string) {
	var fwd, rev strings.Builder
	const total = 1e4
	bg := (1 - peak.W) / 2000
	for _, chrom := range chroms {
		for pos := 0; pos < 2000; pos++ {
			x := float64(pos) + 0.5
			f := total * peak.Pi * (peak.W*math.Exp(peak.LogFwd(x)) + bg)
			r := total * (1 - peak.Pi) * (peak.W*math.Exp(peak.LogRev(x)) + bg)
			fmt.Fprintf(&fwd, "%s\t%d\t%d\t%.6g\n", chrom, pos, pos+1, f)
			fmt.Fprintf(&rev, "%s\t%d\t%d\t%.6g\n", chrom, pos, pos+1, r)
		}
	}
	fwdPath = filepath.Join(dir, "fwd.bedgraph")
	revPath = filepath.Join(dir, "rev.bedgraph")
	writeText(t, fwdPath, fwd.String())
	writeText(t, revPath, rev.String())
	return
}

func testOpts(dir, fwdPath, revPath string) Opts {
	opts := DefaultOpts
	opts.ForwardPath = fwdPath
	opts.ReversePath = revPath
	opts.OutDir = filepath.Join(dir, "out")
	opts.TempDir = filepath.Join(dir, "tmp")
	opts.BinSize = 1
	opts.Scale = 1
	opts.Raw = peakRaw
	return opts
}

func binnedSegments(t *testing.T, widths ...int) []*coverage.Segment {
	segs := make([]*coverage.Segment, len(widths))
	for i, w := range widths {
		segs[i] = coverage.NewSegment(fmt.Sprintf("chr%d", i+1), i, 0, w)
		if w > 0 {
			segs[i].Add(coverage.Record{Start: 0, End: w, Fwd: 1, Rev: 1})
		}
	}
	assert.NoError(t, coverage.Bin(segs, 1, 1, false))
	return segs
}

func TestPartition(t *testing.T) {
	segs := binnedSegments(t, 10, 10, 10, 10)
	expect.EQ(t, Partition(segs, 0, 2), segs[0:2])
	expect.EQ(t, Partition(segs, 1, 2), segs[2:4])

	for _, size := range []int{1, 2, 3, 4, 7, 8} {
		var all []*coverage.Segment
		for rank := 0; rank < size; rank++ {
			all = append(all, Partition(segs, rank, size)...)
		}
		expect.EQ(t, all, segs, "size %d", size)
	}

	// Heavy segments get a rank to themselves.
	segs = binnedSegments(t, 100, 1, 1, 1, 1)
	expect.EQ(t, Partition(segs, 0, 2), segs[0:1])
	expect.EQ(t, Partition(segs, 1, 2), segs[1:5])

	// Without bins, segments count equally.
	segs = binnedSegments(t, 0, 0, 0, 0)
	expect.EQ(t, len(Partition(segs, 0, 2)), 2)
	expect.EQ(t, len(Partition(segs, 1, 2)), 2)

	expect.EQ(t, len(Partition(nil, 0, 3)), 0)
	tassert.Panics(t, func() { Partition(segs, 2, 2) })
}

func TestSuppress(t *testing.T) {
	hits := []Candidate{
		{Start: 0, End: 100, Score: 5},
		{Start: 50, End: 150, Score: 10},
		{Start: 200, End: 300, Score: 3},
		{Start: 150, End: 250, Score: 4},
		{Start: 400, End: 400, Score: 50},
	}
	kept := suppress(hits)
	assert.EQ(t, len(kept), 2)
	expect.EQ(t, kept[0].Start, 50)
	expect.EQ(t, kept[1].Start, 150)
	expect.EQ(t, len(suppress(nil)), 0)
}

func TestSpillRoundTrip(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	cands := []Candidate{
		{Chrom: "chr1", ChromID: 0, Start: 10, End: 2010, Mu: 1010.5, Params: peakRaw, Score: 42.25, Rank: 3, Seq: 0},
		{Chrom: "chrUn_KI270742v1", ChromID: 7, Start: 5000, End: 7000, Mu: 6000, Params: model.DefaultRaw, Score: 11, Rank: 3, Seq: 1},
	}
	path, err := writeSpill(tmpdir, 3, cands)
	assert.NoError(t, err)
	expect.True(t, strings.HasPrefix(filepath.Base(path), "bidir_rank3_"))
	got, err := readSpill(ctx, path)
	assert.NoError(t, err)
	expect.EQ(t, got, cands)

	path, err = writeSpill(tmpdir, 0, nil)
	assert.NoError(t, err)
	got, err = readSpill(ctx, path)
	assert.NoError(t, err)
	expect.EQ(t, len(got), 0)

	_, err = unmarshalCandidate(make([]byte, candidateFixedLen-1))
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestMergeSpills(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	p0, err := writeSpill(tmpdir, 0, []Candidate{
		{Chrom: "chr2", ChromID: 1, Start: 0, End: 10, Rank: 0, Seq: 0},
	})
	assert.NoError(t, err)
	p1, err := writeSpill(tmpdir, 1, []Candidate{
		{Chrom: "chr1", ChromID: 0, Start: 30, End: 40, Rank: 1, Seq: 0},
		{Chrom: "chr1", ChromID: 0, Start: 20, End: 30, Rank: 1, Seq: 1},
	})
	assert.NoError(t, err)
	merged, err := mergeSpills(ctx, []string{p0, p1})
	assert.NoError(t, err)
	assert.EQ(t, len(merged), 3)
	expect.EQ(t, merged[0].Start, 20)
	expect.EQ(t, merged[1].Start, 30)
	expect.EQ(t, merged[2].Chrom, "chr2")
	_, err = os.Stat(p0)
	expect.True(t, os.IsNotExist(err))

	// A spill in the wrong slot is rejected.
	p1, err = writeSpill(tmpdir, 0, []Candidate{{Chrom: "chr1", Rank: 0}})
	assert.NoError(t, err)
	p0, err = writeSpill(tmpdir, 0, nil)
	assert.NoError(t, err)
	_, err = mergeSpills(ctx, []string{p0, p1})
	expect.True(t, errors.Is(errors.Invalid, err))

	// An unreadable spill still removes every file.
	p0 = filepath.Join(tmpdir, "bidir_rank0_bad.rio")
	writeText(t, p0, "not a recordio file")
	p1, err = writeSpill(tmpdir, 1, []Candidate{{Chrom: "chr1", Rank: 1}})
	assert.NoError(t, err)
	_, err = mergeSpills(ctx, []string{p0, p1})
	expect.NotNil(t, err)
	tmps, err := filepath.Glob(filepath.Join(tmpdir, "*.rio"))
	assert.NoError(t, err)
	expect.EQ(t, len(tmps), 0)
}

func TestSpillSet(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	var spills spillSet
	for rank := 0; rank < 3; rank++ {
		path, err := writeSpill(tmpdir, rank, []Candidate{{Chrom: "chr1", Rank: rank}})
		assert.NoError(t, err)
		spills.add(path)
	}
	// Files removed elsewhere are skipped.
	assert.NoError(t, os.Remove(spills.paths[1]))
	spills.removeAll()
	tmps, err := filepath.Glob(filepath.Join(tmpdir, "*.rio"))
	assert.NoError(t, err)
	expect.EQ(t, len(tmps), 0)
	spills.removeAll()
}

func TestCandidateFile(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	cands := []Candidate{
		{Chrom: "chr1", ChromID: 0, Start: 10, End: 2010, Mu: 1010.25, Params: peakRaw, Score: 123.5, Seq: 0},
		{Chrom: "chr1", ChromID: 0, Start: 9000, End: 11000, Mu: 10000.5, Params: model.DefaultRaw, Score: 11, Seq: 1},
		{Chrom: "chrX", ChromID: 1, Start: 0, End: 1500, Mu: 480, Params: peakRaw, Score: 10.5, Seq: 2},
	}
	for _, bgzip := range []bool{false, true} {
		path := filepath.Join(tmpdir, "cands.bed")
		if bgzip {
			path += ".gz"
		}
		d, err := writeCandidates(ctx, path, bgzip, 2, cands)
		assert.NoError(t, err)
		got, err := ReadCandidates(ctx, path)
		assert.NoError(t, err)
		expect.EQ(t, got, cands)

		// The digest covers the uncompressed text only.
		d2, err := writeCandidates(ctx, filepath.Join(tmpdir, "again.bed"), false, 1, cands)
		assert.NoError(t, err)
		expect.EQ(t, d, d2)
	}

	bad := filepath.Join(tmpdir, "bad.bed")
	writeText(t, bad, "#chrom\tstart\nchr1\tten\t20\t1\t1\t1\t1\t1\t1\t1\n")
	_, err := ReadCandidates(ctx, bad)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestOptsValidate(t *testing.T) {
	opts := DefaultOpts
	opts.JointPath = "x.bedgraph"
	expect.NoError(t, opts.Validate())
	opts.Bgzip = true
	opts.OutDir = "/tmp/o"
	expect.EQ(t, opts.FitPath(), "/tmp/o/EMG-1_bidir_predictions.bed.gz")

	for _, mod := range []func(o *Opts){
		func(o *Opts) { o.JointPath = "" },
		func(o *Opts) { o.BinSize = 0 },
		func(o *Opts) { o.Scale = 0 },
		func(o *Opts) { o.Window = 0 },
		func(o *Opts) { o.Step = -1 },
		func(o *Opts) { o.Threshold = math.NaN() },
		func(o *Opts) { o.Workers = 0 },
		func(o *Opts) { o.Threads = 0 },
		func(o *Opts) { o.Raw.Sigma = 0 },
		func(o *Opts) { o.Raw.Pi = 1.5 },
		func(o *Opts) { o.MLE = true; o.Refine.MaxIter = 0 },
		func(o *Opts) { o.JobName = "" },
	} {
		o := DefaultOpts
		o.JointPath = "x.bedgraph"
		mod(&o)
		expect.True(t, errors.Is(errors.Invalid, o.Validate()), "%+v", o)
	}

	// The configured template is unused when estimating one.
	opts = DefaultOpts
	opts.JointPath = "x.bedgraph"
	opts.ReferencePath = "tss.bed"
	opts.Raw.Sigma = 0
	expect.NoError(t, opts.Validate())
}

func TestScanSegment(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	fwd, rev := writePeaks(t, tmpdir, "chr1")
	store, err := coverage.LoadCoverage(ctx, coverage.CoverageFiles{Forward: fwd, Reverse: rev},
		coverage.LoadOpts{BinSize: 1, Scale: 1, Filter: "all"})
	assert.NoError(t, err)
	defer store.Release()

	opts := testOpts(tmpdir, fwd, rev).scanOpts()
	cands, err := Scan(ctx, store.Segments(), model.FromRaw(peakRaw, 1), opts)
	assert.NoError(t, err)
	assert.EQ(t, len(cands), 1)
	c := cands[0]
	expect.EQ(t, c.Chrom, "chr1")
	tassert.InDelta(t, peak.Mu, c.Mu, 100)
	expect.True(t, c.Score > opts.Threshold)
	expect.True(t, c.Start >= 0 && c.End <= 2000 && c.Start < c.End)
	expect.EQ(t, c.Seq, 0)

	// Nothing clears an unreachable threshold.
	opts.Threshold = math.Inf(1)
	cands, err = Scan(ctx, store.Segments(), model.FromRaw(peakRaw, 1), opts)
	assert.NoError(t, err)
	expect.EQ(t, len(cands), 0)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Scan(cctx, store.Segments(), model.FromRaw(peakRaw, 1), opts)
	expect.NotNil(t, err)
}

func TestRun(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	fwd, rev := writePeaks(t, tmpdir, "chr1", "chr2")
	var digests []uint64
	for _, workers := range []int{1, 3} {
		opts := testOpts(tmpdir, fwd, rev)
		opts.Workers = workers
		opts.Threads = 2
		opts.JobID = workers
		res, err := Run(ctx, opts)
		assert.NoError(t, err)
		assert.EQ(t, len(res.Candidates), 2)
		for i, chrom := range []string{"chr1", "chr2"} {
			c := res.Candidates[i]
			expect.EQ(t, c.Chrom, chrom)
			tassert.InDelta(t, peak.Mu, c.Mu, 100)
		}
		expect.EQ(t, res.PrelimPath, opts.PrelimPath())
		got, err := ReadCandidates(ctx, res.PrelimPath)
		assert.NoError(t, err)
		expect.EQ(t, len(got), 2)
		expect.EQ(t, len(res.Fits), 0)
		digests = append(digests, res.Digest)
	}
	expect.EQ(t, digests[0], digests[1])
	tmps, err := filepath.Glob(filepath.Join(tmpdir, "tmp", "*.rio"))
	assert.NoError(t, err)
	expect.EQ(t, len(tmps), 0)

	// A coordinator that cannot write its output fails the whole scan, and
	// no spill outlives it.
	opts := testOpts(tmpdir, fwd, rev)
	opts.Workers = 3
	opts.JobID = 7
	assert.NoError(t, os.MkdirAll(opts.PrelimPath(), 0755))
	_, err = Run(ctx, opts)
	expect.NotNil(t, err)
	tmps, err = filepath.Glob(filepath.Join(tmpdir, "tmp", "*.rio"))
	assert.NoError(t, err)
	expect.EQ(t, len(tmps), 0)
}

func TestRunMLE(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	fwd, rev := writePeaks(t, tmpdir, "chr1")
	opts := testOpts(tmpdir, fwd, rev)
	opts.MLE = true
	opts.Bgzip = true
	res, err := Run(ctx, opts)
	assert.NoError(t, err)
	assert.EQ(t, len(res.Candidates), 1)
	assert.EQ(t, len(res.Fits), 1)
	fit := res.Fits[0]
	tassert.InDelta(t, peak.Mu, fit.Mu, 20)
	expect.True(t, fit.Start < fit.End)
	expect.EQ(t, res.FitPath, opts.FitPath())
	expect.True(t, strings.HasSuffix(res.FitPath, ".gz"))
	_, err = os.Stat(res.FitPath)
	expect.NoError(t, err)

	// Refining the written candidates directly converges to the same event.
	opts.MLE = false
	opts.CandidatePath = res.PrelimPath
	opts.JobID = 2
	res2, err := Run(ctx, opts)
	assert.NoError(t, err)
	assert.EQ(t, len(res2.Fits), 1)
	tassert.InDelta(t, fit.Mu, res2.Fits[0].Mu, 0.5)
	expect.EQ(t, res2.FitPath, opts.FitPath())
}

func TestRunEmpty(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	joint := filepath.Join(tmpdir, "joint.bedgraph")
	writeText(t, joint, "track type=bedGraph\n")
	opts := DefaultOpts
	opts.JointPath = joint
	opts.OutDir = tmpdir
	_, err := Run(ctx, opts)
	expect.True(t, errors.Is(errors.Precondition, err))

	// A filter that excludes every record is the same as no input.
	fwd, rev := writePeaks(t, tmpdir, "chr1")
	opts = testOpts(tmpdir, fwd, rev)
	opts.Chrom = "chr9"
	_, err = Run(ctx, opts)
	expect.True(t, errors.Is(errors.Precondition, err))
}

func TestResolveCandidates(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	fwd, rev := writePeaks(t, tmpdir, "chr2", "chr1")
	store, err := coverage.LoadCoverage(ctx, coverage.CoverageFiles{Forward: fwd, Reverse: rev}, coverage.LoadOpts{BinSize: 1, Scale: 1})
	assert.NoError(t, err)
	defer store.Release()

	cands := []Candidate{
		{Chrom: "chr1", ChromID: 0, Start: 900, End: 1100, Seq: 0},
		{Chrom: "chr3", ChromID: 1, Start: 900, End: 1100, Seq: 1},
		{Chrom: "chr2", ChromID: 2, Start: 1900, End: 2100, Seq: 2},
		{Chrom: "chr1", ChromID: 0, Start: 2500, End: 2600, Seq: 3},
	}
	got := resolveCandidates(cands, store.Index())
	assert.EQ(t, len(got), 2)
	expect.EQ(t, got[0].Chrom, "chr1")
	expect.EQ(t, got[0].ChromID, 1)
	expect.EQ(t, got[0].End, 1100)
	expect.EQ(t, got[1].Chrom, "chr2")
	expect.EQ(t, got[1].ChromID, 0)
	expect.EQ(t, got[1].Start, 1900)
	expect.EQ(t, got[1].End, 2000)
	expect.EQ(t, got[1].Seq, 2)
}

func TestRunReference(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	fwd, rev := writePeaks(t, tmpdir, "chr1", "chr2")
	ref := filepath.Join(tmpdir, "tss.bed")
	writeText(t, ref, "track name=tss\nchr1\t0\t2000\ttss1\nchr2\t0\t2000\ttss2\n")

	var templates []model.Template
	for _, workers := range []int{1, 3} {
		opts := testOpts(tmpdir, fwd, rev)
		opts.ReferencePath = ref
		// Ignored once the template is estimated.
		opts.Raw = model.DefaultRaw
		opts.Workers = workers
		opts.JobID = workers
		res, err := Run(ctx, opts)
		assert.NoError(t, err)
		raw := res.Template.ToRaw(opts.Scale)
		tassert.InEpsilon(t, peakRaw.Sigma, raw.Sigma, 0.5)
		tassert.InEpsilon(t, peakRaw.Lambda, raw.Lambda, 0.5)
		tassert.InDelta(t, peakRaw.FootPrint, raw.FootPrint, 25)
		assert.EQ(t, len(res.Candidates), 2)
		for _, c := range res.Candidates {
			tassert.InDelta(t, peak.Mu, c.Mu, 100)
		}
		templates = append(templates, res.Template)
	}
	expect.EQ(t, templates[0], templates[1])

	// A reference that cannot be read fails every participant.
	opts := testOpts(tmpdir, fwd, rev)
	opts.ReferencePath = filepath.Join(tmpdir, "missing.bed")
	opts.Workers = 3
	opts.JobID = 9
	_, err := Run(ctx, opts)
	expect.NotNil(t, err)
	_, err = os.Stat(opts.PrelimPath())
	expect.True(t, os.IsNotExist(err))
	tmps, err := filepath.Glob(filepath.Join(tmpdir, "tmp", "*.rio"))
	assert.NoError(t, err)
	expect.EQ(t, len(tmps), 0)
}

func TestFilterCandidates(t *testing.T) {
	cands := []Candidate{
		{Chrom: "chr1", Mu: 100},
		{Chrom: "chr1", Mu: 5000},
		{Chrom: "chr2", Mu: 100},
	}
	got, err := filterCandidates(append([]Candidate(nil), cands...), "all")
	assert.NoError(t, err)
	expect.EQ(t, got, cands)

	got, err = filterCandidates(append([]Candidate(nil), cands...), "chr1:1-1000")
	assert.NoError(t, err)
	expect.EQ(t, got, cands[:1])

	got, err = filterCandidates(append([]Candidate(nil), cands...), "chr2,chr1:4001-6000")
	assert.NoError(t, err)
	expect.EQ(t, got, cands[1:])

	_, err = filterCandidates(cands, "chr1:9-1")
	expect.True(t, errors.Is(errors.Invalid, err))
}
