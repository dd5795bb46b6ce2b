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

/*
Package coverage loads strand-specific bedgraph coverage into Segments.

A Segment is a contiguous genomic interval on one chromosome.  Right after
loading it holds the raw bedgraph records that overlap it; Bin() turns those
into a sparse grid of fixed-width bins whose centres are expressed in model
units (base pairs divided by the scale factor).  Whole-chromosome segments are
produced by LoadCoverage and collected in a Store together with the chromosome
Index; reference segments (one per BED interval) are produced by
LoadReferenceIntervals and filled by InsertCoverage.
*/
package coverage
