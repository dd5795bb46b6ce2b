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

// Package bidir detects bidirectional transcription events in stranded
// coverage.
//
// Run loads forward and reverse bedgraph coverage into binned per-chromosome
// segments, then decides a template: either the configured one, or one
// estimated from the coverage around reference loci (e.g. annotated
// transcription start sites).  The segments are split across Workers scan
// participants, each of which slides a window over its share and scores the
// template against a uniform background with a BIC-penalized log-likelihood
// ratio.  Overlapping hits within a segment are reduced to the best one.
// Participants spill their candidates to temporary recordio files; the
// coordinator (rank 0) merges them into
//
//   <OutDir>/<JobName>-<JobID>_prelim_bidir_hits.bed
//
// With MLE set, each candidate is then refit by EM and the results written to
//
//   <OutDir>/<JobName>-<JobID>_bidir_predictions.bed
//
// Both files are tab-separated with a '#' header line, optionally bgzipped.
package bidir
