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
Package model implements the emission model for bidirectional transcription
events.

An event is a loading position y ~ N(mu, sigma^2).  Polymerase on the forward
strand is observed at y + foot_print + e, and on the reverse strand at
y - foot_print - e, with e ~ Exp(lambda); i.e. each strand follows an
exponentially modified Gaussian (EMG), mirrored on the reverse strand.  Pi is
the probability that a read comes from the forward strand, and w is the
weight of the EMG component against a uniform background over the observed
window.

All spatial quantities are in model units: base pairs divided by the
normalization scale ns.  Lambda is a rate per model unit, so a mean
elongation distance of L bp corresponds to lambda = ns / L.
*/
package model
