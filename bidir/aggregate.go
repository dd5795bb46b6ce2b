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
	"io"
	"os"
	"strings"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/bidir/refine"
	"github.com/grailbio/hts/bgzf"
)

// ensureDir creates dir if it is a local path.  Remote prefixes need no
// directories.
func ensureDir(dir string) error {
	scheme, _, err := file.ParsePath(dir)
	if err != nil {
		return errors.E(errors.Invalid, fmt.Sprintf("bidir: output directory %s", dir), err)
	}
	if scheme != "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.E(fmt.Sprintf("bidir: create output directory %s", dir), err)
	}
	return nil
}

// writeTable writes a tab-separated table to path: a '#'-prefixed header line
// followed by whatever body writes.  It returns the seahash digest of the
// uncompressed text, so that runs can be compared regardless of bgzip.
func writeTable(ctx context.Context, path string, bgzip bool, parallelism int, header []string, body func(w *tsv.Writer) error) (digest uint64, err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return 0, errors.E(fmt.Sprintf("bidir: create %s", path), err)
	}
	defer file.CloseAndReport(ctx, dst, &err)

	out := dst.Writer(ctx)
	if bgzip {
		if parallelism < 1 {
			parallelism = 1
		}
		bgzfWriter := bgzf.NewWriter(out, parallelism)
		out = bgzfWriter
		defer func() {
			if e := bgzfWriter.Close(); e != nil && err == nil {
				err = e
			}
		}()
	}
	h := seahash.New()
	w := tsv.NewWriter(io.MultiWriter(out, h))
	w.WriteString("#" + strings.Join(header, "\t"))
	if err = w.EndLine(); err != nil {
		return 0, err
	}
	if err = body(w); err != nil {
		return 0, err
	}
	if err = w.Flush(); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// mergeSpills reads the per-rank spill files in rank order, removes them, and
// returns all candidates in output order.
func mergeSpills(ctx context.Context, paths []string) ([]Candidate, error) {
	defer removeSpills(paths)
	var all []Candidate
	for rank, path := range paths {
		cands, err := readSpill(ctx, path)
		if err != nil {
			return nil, err
		}
		for i := range cands {
			if cands[i].Rank != rank {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("bidir: spill %s holds rank %d, want %d", path, cands[i].Rank, rank))
			}
		}
		all = append(all, cands...)
	}
	sortCandidates(all)
	return all, nil
}

// writeCandidates writes the preliminary candidate file.
func writeCandidates(ctx context.Context, path string, bgzip bool, parallelism int, cands []Candidate) (uint64, error) {
	return writeTable(ctx, path, bgzip, parallelism, candidateHeader, func(w *tsv.Writer) error {
		for i := range cands {
			if err := writeCandidate(w, &cands[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

var fitHeader = []string{"chrom", "start", "end", "mu", "sigma", "lambda", "foot_print", "pi", "w", "loglik", "iterations"}

// writeFits writes the refined prediction file.
func writeFits(ctx context.Context, path string, bgzip bool, parallelism int, fits []refine.Fit) (uint64, error) {
	return writeTable(ctx, path, bgzip, parallelism, fitHeader, func(w *tsv.Writer) error {
		for i := range fits {
			f := &fits[i]
			w.WriteString(f.Region.Chrom)
			w.WriteInt64(int64(f.Start))
			w.WriteInt64(int64(f.End))
			w.WriteFloat64(f.Mu, 'f', 2)
			w.WriteFloat64(f.Params.Sigma, 'g', 8)
			w.WriteFloat64(f.Params.Lambda, 'g', 8)
			w.WriteFloat64(f.Params.FootPrint, 'g', 8)
			w.WriteFloat64(f.Params.Pi, 'g', 8)
			w.WriteFloat64(f.Params.W, 'g', 8)
			w.WriteFloat64(f.LogLik, 'g', 10)
			w.WriteInt64(int64(f.Iter))
			if err := w.EndLine(); err != nil {
				return err
			}
		}
		return nil
	})
}
