package coverage

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
	tassert "github.com/stretchr/testify/assert"
)

// writeFile writes content to path, compressed according to its suffix.
func writeFile(t *testing.T, path, content string) {
	ctx := context.Background()
	out, err := file.Create(ctx, path)
	assert.NoError(t, err)
	var (
		w  io.Writer = out.Writer(ctx)
		wc io.WriteCloser
	)
	switch {
	case strings.HasSuffix(path, ".gz"):
		wc = gzip.NewWriter(w)
	case strings.HasSuffix(path, ".lz4"):
		wc = lz4.NewWriter(w)
	case strings.HasSuffix(path, ".zst"):
		wc, err = zstd.NewWriter(w)
		assert.NoError(t, err)
	}
	if wc != nil {
		w = wc
	}
	_, err = w.Write([]byte(content))
	assert.NoError(t, err)
	if wc != nil {
		assert.NoError(t, wc.Close())
	}
	assert.NoError(t, out.Close(ctx))
}

func TestLoadCoverageStranded(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	fwd := filepath.Join(tmpdir, "fwd.bedgraph")
	rev := filepath.Join(tmpdir, "rev.bedgraph")
	writeFile(t, fwd, "track type=bedGraph\nchr1\t0\t10\t0\nchr1\t10\t12\t2\nchr1\t20\t21\t3\nchr2\t5\t8\t1\n")
	writeFile(t, rev, "chr1\t11\t13\t-4\n")

	store, err := LoadCoverage(ctx, CoverageFiles{Forward: fwd, Reverse: rev}, LoadOpts{BinSize: 5, Scale: 10, Filter: "all"})
	assert.NoError(t, err)
	assert.EQ(t, store.Len(), 2)

	index := store.Index()
	expect.EQ(t, index.Len(), 2)
	id, ok := index.ID("chr2")
	expect.True(t, ok)
	expect.EQ(t, id, 1)
	expect.EQ(t, index.Extent(0), 21)
	expect.EQ(t, index.Extent(1), 8)
	_, ok = index.ID("chrX")
	expect.False(t, ok)

	segs := store.Segments()
	chr1 := segs[0]
	expect.EQ(t, chr1.Chrom, "chr1")
	expect.EQ(t, chr1.Start, 0)
	expect.EQ(t, chr1.End, 21)
	expect.EQ(t, chr1.X, []float64{1.25, 2.25})
	expect.EQ(t, chr1.Fwd, []float64{4, 3})
	expect.EQ(t, chr1.Rev, []float64{8, 0})
	expect.EQ(t, chr1.Mass(), 15.0)
	expect.EQ(t, chr1.ToGenomic(1.25), 12.5)
	expect.EQ(t, chr1.ToModel(12.5), 1.25)

	chr2 := segs[1]
	expect.EQ(t, chr2.ChromID, 1)
	expect.EQ(t, chr2.Start, 5)
	expect.EQ(t, chr2.X, []float64{0.75})
	expect.EQ(t, chr2.Fwd, []float64{3})
}

func TestLoadCoverageJointGzip(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	joint := filepath.Join(tmpdir, "joint.bedgraph.gz")
	writeFile(t, joint, "chr3\t0\t2\t1.5\nchr3\t2\t4\t-2\n")
	store, err := LoadCoverage(ctx, CoverageFiles{Joint: joint}, LoadOpts{BinSize: 1, Scale: 1})
	assert.NoError(t, err)
	assert.EQ(t, store.Len(), 1)
	seg := store.Segments()[0]
	expect.EQ(t, seg.X, []float64{0.5, 1.5, 2.5, 3.5})
	expect.EQ(t, seg.Fwd, []float64{1.5, 1.5, 0, 0})
	expect.EQ(t, seg.Rev, []float64{0, 0, 2, 2})
}

func TestLoadCoverageCompressed(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	for _, suffix := range []string{".lz4", ".zst"} {
		fwd := filepath.Join(tmpdir, "fwd.bedgraph"+suffix)
		rev := filepath.Join(tmpdir, "rev.bedgraph"+suffix)
		writeFile(t, fwd, "chr1\t0\t2\t3\n")
		writeFile(t, rev, "chr1\t1\t3\t-1\n")
		store, err := LoadCoverage(ctx, CoverageFiles{Forward: fwd, Reverse: rev}, LoadOpts{BinSize: 1, Scale: 1})
		assert.NoError(t, err, suffix)
		assert.EQ(t, store.Len(), 1, suffix)
		seg := store.Segments()[0]
		expect.EQ(t, seg.X, []float64{0.5, 1.5, 2.5}, suffix)
		expect.EQ(t, seg.Fwd, []float64{3, 3, 0}, suffix)
		expect.EQ(t, seg.Rev, []float64{0, 1, 1}, suffix)
	}
}

func TestLoadCoverageFilter(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	fwd := filepath.Join(tmpdir, "fwd.bedgraph")
	writeFile(t, fwd, "chr1\t10\t12\t2\nchr2\t5\t8\t1\nchr2\t100\t108\t1\n")

	store, err := LoadCoverage(ctx, CoverageFiles{Forward: fwd}, LoadOpts{BinSize: 1, Scale: 1, Filter: "chr2"})
	assert.NoError(t, err)
	assert.EQ(t, store.Len(), 1)
	expect.EQ(t, store.Segments()[0].Chrom, "chr2")
	expect.EQ(t, store.Segments()[0].ChromID, 0)
	expect.EQ(t, store.Filtered(), []string{"chr1"})

	store, err = LoadCoverage(ctx, CoverageFiles{Forward: fwd}, LoadOpts{BinSize: 1, Scale: 1, Filter: "chr2:1-50"})
	assert.NoError(t, err)
	assert.EQ(t, store.Len(), 1)
	expect.EQ(t, store.Segments()[0].End, 8)
	expect.EQ(t, store.Filtered(), []string{"chr1", "chr2"})

	store, err = LoadCoverage(ctx, CoverageFiles{Forward: fwd}, LoadOpts{BinSize: 1, Scale: 1})
	assert.NoError(t, err)
	expect.EQ(t, len(store.Filtered()), 0)

	store, err = LoadCoverage(ctx, CoverageFiles{Forward: fwd}, LoadOpts{BinSize: 1, Scale: 1, Filter: "chr9"})
	assert.NoError(t, err)
	expect.EQ(t, store.Len(), 0)
	expect.EQ(t, store.Index().Len(), 0)
}

func TestLoadCoverageErrors(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	_, err := LoadCoverage(ctx, CoverageFiles{}, LoadOpts{BinSize: 1, Scale: 1})
	expect.True(t, errors.Is(errors.Invalid, err))

	_, err = LoadCoverage(ctx, CoverageFiles{Forward: filepath.Join(tmpdir, "missing.bedgraph")}, LoadOpts{BinSize: 1, Scale: 1})
	expect.NotNil(t, err)

	for i, content := range []string{
		"chr1\t10\t12\n",
		"chr1\tx\t12\t1\n",
		"chr1\t12\t10\t1\n",
		"chr1\t10\t12\tabc\n",
		"chr1\t10\t12\tNaN\n",
	} {
		path := filepath.Join(tmpdir, "bad.bedgraph")
		writeFile(t, path, content)
		_, err = LoadCoverage(ctx, CoverageFiles{Forward: path}, LoadOpts{BinSize: 1, Scale: 1})
		expect.True(t, errors.Is(errors.Invalid, err), "case %d: %v", i, err)
	}

	fwd := filepath.Join(tmpdir, "fwd.bedgraph")
	writeFile(t, fwd, "chr1\t10\t12\t2\n")
	_, err = LoadCoverage(ctx, CoverageFiles{Forward: fwd}, LoadOpts{BinSize: 0, Scale: 1})
	expect.True(t, errors.Is(errors.Invalid, err))
	_, err = LoadCoverage(ctx, CoverageFiles{Forward: fwd}, LoadOpts{BinSize: 1, Scale: 1, Filter: "chr1:0"})
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestBinIdempotent(t *testing.T) {
	seg := NewSegment("chr1", 0, 0, 10)
	seg.Add(Record{Start: 0, End: 4, Fwd: 1})
	seg.Add(Record{Start: 2, End: 6, Rev: 2})
	assert.NoError(t, Bin([]*Segment{seg}, 2, 1, false))
	expect.True(t, seg.Binned())
	expect.EQ(t, seg.X, []float64{1, 3, 5})
	expect.EQ(t, seg.Fwd, []float64{2, 2, 0})
	expect.EQ(t, seg.Rev, []float64{0, 4, 4})
	expect.EQ(t, len(seg.Records()), 0)

	assert.NoError(t, Bin([]*Segment{seg}, 5, 3, true))
	expect.EQ(t, seg.X, []float64{1, 3, 5})
	expect.EQ(t, seg.BinSize, 2)
	expect.False(t, seg.Centered)

	tassert.Panics(t, func() { seg.Add(Record{Start: 0, End: 1, Fwd: 1}) })
}

func TestStoreRelease(t *testing.T) {
	index, err := NewIndex([]string{"chr1", "chr2"})
	assert.NoError(t, err)
	a := NewSegment("chr2", 1, 0, 10)
	b := NewSegment("chr1", 0, 50, 60)
	c := NewSegment("chr1", 0, 0, 10)
	store := NewStore(index, []*Segment{a, b, c})
	expect.EQ(t, store.Segments(), []*Segment{c, b, a})

	store.Release()
	tassert.Panics(t, func() { store.Segments() })
	tassert.Panics(t, func() { store.Release() })
}

func TestReferenceIntervals(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	bed := filepath.Join(tmpdir, "tss.bed")
	fwd := filepath.Join(tmpdir, "fwd.bedgraph")
	writeFile(t, bed, "chr1\t0\t20\tr1\nchr1\t10\t30\tr2\nchr5\t0\t100\tr3\n")
	writeFile(t, fwd, "chr1\t5\t15\t1\nchr2\t0\t100\t7\n")

	segs, err := LoadReferenceIntervals(ctx, bed)
	assert.NoError(t, err)
	assert.EQ(t, len(segs), 3)
	expect.EQ(t, segs[0].Center, 10)
	expect.EQ(t, segs[1].Center, 20)
	expect.EQ(t, segs[1].Name, "r2")
	expect.EQ(t, segs[0].ChromID, -1)

	assert.NoError(t, InsertCoverage(ctx, segs, CoverageFiles{Forward: fwd}))
	expect.EQ(t, segs[0].Records(), []Record{{Start: 5, End: 15, Fwd: 1}})
	expect.EQ(t, segs[1].Records(), []Record{{Start: 10, End: 15, Fwd: 1}})
	expect.EQ(t, len(segs[2].Records()), 0)

	assert.NoError(t, Bin(segs, 1, 1, true))
	expect.EQ(t, segs[0].X, []float64{-4.5, -3.5, -2.5, -1.5, -0.5, 0.5, 1.5, 2.5, 3.5, 4.5})
	expect.EQ(t, segs[1].X, []float64{-9.5, -8.5, -7.5, -6.5, -5.5})
	expect.EQ(t, segs[0].ToGenomic(-4.5), 5.5)

	writeFile(t, bed, "chr1\tabc\t20\n")
	_, err = LoadReferenceIntervals(ctx, bed)
	expect.True(t, errors.Is(errors.Invalid, err))
	_, err = LoadReferenceIntervals(ctx, filepath.Join(tmpdir, "missing.bed"))
	expect.NotNil(t, err)
}
