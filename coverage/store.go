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

package coverage

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// Index maps chromosome names to dense IDs, held as the references of a SAM
// header whose lengths are the largest observed coordinates.  IDs follow
// order of first appearance in the input.  The index is read-only once built.
type Index struct {
	header *sam.Header
	ids    map[string]int
}

// indexBuilder accumulates chromosomes and their observed extents.
type indexBuilder struct {
	names []string
	lens  []int
	ids   map[string]int
}

func newIndexBuilder() *indexBuilder {
	return &indexBuilder{ids: make(map[string]int)}
}

// add returns the ID of chrom, assigning a new one on first sight.
func (b *indexBuilder) add(chrom string) int {
	if id, ok := b.ids[chrom]; ok {
		return id
	}
	id := len(b.names)
	b.ids[chrom] = id
	b.names = append(b.names, chrom)
	b.lens = append(b.lens, 1)
	return id
}

func (b *indexBuilder) observe(id, end int) {
	if end > b.lens[id] {
		b.lens[id] = end
	}
}

func (b *indexBuilder) build() (*Index, error) {
	refs := make([]*sam.Reference, len(b.names))
	for i, name := range b.names {
		ref, err := sam.NewReference(name, "", "", b.lens[i], nil, nil)
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("coverage: chromosome %s", name), err)
		}
		refs[i] = ref
	}
	header, err := sam.NewHeader(nil, refs)
	if err != nil {
		return nil, errors.E(errors.Invalid, "coverage: build chromosome index", err)
	}
	return &Index{header: header, ids: b.ids}, nil
}

// NewIndex builds an index over the given chromosome names, in order.
func NewIndex(names []string) (*Index, error) {
	b := newIndexBuilder()
	for _, name := range names {
		b.add(name)
	}
	return b.build()
}

// ID returns the ID of the named chromosome.
func (x *Index) ID(name string) (int, bool) {
	id, ok := x.ids[name]
	return id, ok
}

// Len returns the number of chromosomes.
func (x *Index) Len() int { return len(x.header.Refs()) }

// Extent returns the largest coordinate observed on chromosome id.
func (x *Index) Extent(id int) int { return x.header.Refs()[id].Len() }

// Store owns the loaded segments, ordered by chromosome ID and then start.
// Scanners borrow the segments read-only; the owner calls Release exactly
// once when all of them are done.
type Store struct {
	index    *Index
	segs     []*Segment
	filtered []string
	released int32
}

// NewStore creates a store over segs.
func NewStore(index *Index, segs []*Segment) *Store {
	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].ChromID != segs[j].ChromID {
			return segs[i].ChromID < segs[j].ChromID
		}
		return segs[i].Start < segs[j].Start
	})
	return &Store{index: index, segs: segs}
}

func (s *Store) checkLive() {
	if atomic.LoadInt32(&s.released) != 0 {
		panic("coverage: store used after Release")
	}
}

// Segments returns the ordered segments.  It panics after Release.
func (s *Store) Segments() []*Segment {
	s.checkLive()
	return s.segs
}

// Len returns the number of segments.
func (s *Store) Len() int { return len(s.segs) }

// Filtered returns the sorted names of chromosomes that lost records to the
// load filter.
func (s *Store) Filtered() []string { return s.filtered }

// Index returns the chromosome index.
func (s *Store) Index() *Index { return s.index }

// Release frees all coverage.  Calling it twice panics.
func (s *Store) Release() {
	if !atomic.CompareAndSwapInt32(&s.released, 0, 1) {
		panic("coverage: Store released twice")
	}
	for _, seg := range s.segs {
		seg.release()
	}
	s.segs = nil
}
