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
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
)

func init() {
	recordiozstd.Init()
}

// cutAndAdvance returns s[offset:offset+pieceLen] and advances offset.
func cutAndAdvance(offset *int, s []byte, pieceLen int) []byte {
	tmpSlice := s[(*offset):]
	*offset += pieceLen
	return tmpSlice[:pieceLen]
}

// Serialized candidate format, little-endian:
//   [0..4): ChromID
//   [4..8): Rank
//   [8..16): Start
//   [16..24): End
//   [24..32): Seq
//   [32..88): Mu, Sigma, Lambda, FootPrint, Pi, W, Score as float64 bits
//   [88..92): len(Chrom), followed by the name
const candidateFixedLen = 92

func putFloat64(b []byte, v float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
}

func getFloat64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func marshalCandidate(scratch []byte, v interface{}) ([]byte, error) {
	c := v.(*Candidate)
	bytesReq := candidateFixedLen + len(c.Chrom)
	t := scratch
	if len(t) < bytesReq {
		t = make([]byte, bytesReq)
	}
	t = t[:bytesReq]
	offset := 0
	ints := cutAndAdvance(&offset, t, 32)
	binary.LittleEndian.PutUint32(ints[0:4], uint32(int32(c.ChromID)))
	binary.LittleEndian.PutUint32(ints[4:8], uint32(c.Rank))
	binary.LittleEndian.PutUint64(ints[8:16], uint64(c.Start))
	binary.LittleEndian.PutUint64(ints[16:24], uint64(c.End))
	binary.LittleEndian.PutUint64(ints[24:32], uint64(c.Seq))
	floats := cutAndAdvance(&offset, t, 56)
	putFloat64(floats[0:8], c.Mu)
	putFloat64(floats[8:16], c.Params.Sigma)
	putFloat64(floats[16:24], c.Params.Lambda)
	putFloat64(floats[24:32], c.Params.FootPrint)
	putFloat64(floats[32:40], c.Params.Pi)
	putFloat64(floats[40:48], c.Params.W)
	putFloat64(floats[48:56], c.Score)
	binary.LittleEndian.PutUint32(cutAndAdvance(&offset, t, 4), uint32(len(c.Chrom)))
	copy(t[offset:], c.Chrom)
	return t, nil
}

func unmarshalCandidate(in []byte) (interface{}, error) {
	if len(in) < candidateFixedLen {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bidir: short candidate record (%d bytes)", len(in)))
	}
	offset := 0
	ints := cutAndAdvance(&offset, in, 32)
	c := &Candidate{
		ChromID: int(int32(binary.LittleEndian.Uint32(ints[0:4]))),
		Rank:    int(binary.LittleEndian.Uint32(ints[4:8])),
		Start:   int(int64(binary.LittleEndian.Uint64(ints[8:16]))),
		End:     int(int64(binary.LittleEndian.Uint64(ints[16:24]))),
		Seq:     int(int64(binary.LittleEndian.Uint64(ints[24:32]))),
	}
	floats := cutAndAdvance(&offset, in, 56)
	c.Mu = getFloat64(floats[0:8])
	c.Params.Sigma = getFloat64(floats[8:16])
	c.Params.Lambda = getFloat64(floats[16:24])
	c.Params.FootPrint = getFloat64(floats[24:32])
	c.Params.Pi = getFloat64(floats[32:40])
	c.Params.W = getFloat64(floats[40:48])
	c.Score = getFloat64(floats[48:56])
	nameLen := int(binary.LittleEndian.Uint32(cutAndAdvance(&offset, in, 4)))
	if len(in) != offset+nameLen {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bidir: candidate record has %d bytes, want %d", len(in), offset+nameLen))
	}
	c.Chrom = string(in[offset:])
	return c, nil
}

// writeSpill writes cands to a new temporary recordio file in dir and
// returns its path.
func writeSpill(dir string, rank int, cands []Candidate) (path string, err error) {
	if dir != "" {
		if err = os.MkdirAll(dir, 0755); err != nil {
			return "", errors.E(fmt.Sprintf("bidir: create temp dir %s", dir), err)
		}
	}
	f, err := ioutil.TempFile(dir, "bidir_rank"+strconv.Itoa(rank)+"_*.rio")
	if err != nil {
		return "", errors.E("bidir: create spill file", err)
	}
	path = f.Name()
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	w := recordio.NewWriter(f, recordio.WriterOpts{
		Marshal:      marshalCandidate,
		Transformers: []string{recordiozstd.Name},
	})
	for i := range cands {
		w.Append(&cands[i])
	}
	if err = w.Finish(); err != nil {
		return "", errors.E(fmt.Sprintf("bidir: write spill %s", path), err)
	}
	return path, nil
}

// readSpill reads back a file written by writeSpill.
func readSpill(ctx context.Context, path string) (cands []Candidate, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("bidir: open spill %s", path), err)
	}
	defer file.CloseAndReport(ctx, f, &err)
	scanner := recordio.NewScanner(f.Reader(ctx), recordio.ScannerOpts{
		Unmarshal: unmarshalCandidate,
	})
	for scanner.Scan() {
		cands = append(cands, *scanner.Get().(*Candidate))
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.E(fmt.Sprintf("bidir: read spill %s", path), err)
	}
	return cands, nil
}

// removeSpills deletes the given spill files.  Files already gone are
// ignored.
func removeSpills(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Error.Printf("bidir: remove spill %s: %v", path, err)
		}
	}
}

// spillSet tracks the spill files written during one scan so that they can
// be removed however the scan ends.
type spillSet struct {
	mu    sync.Mutex
	paths []string
}

func (s *spillSet) add(path string) {
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
}

func (s *spillSet) removeAll() {
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.mu.Unlock()
	removeSpills(paths)
}
