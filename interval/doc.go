/*Package interval implements the interval bookkeeping shared by the bidir
  loaders: BED parsing into per-record entries (reference loci such as
  annotated transcription start sites), region-string parsing, and an
  interval-union type used to restrict coverage loading to a set of
  chromosomes or regions.
  (Note the 'union' in BEDUnion.  Overlapping intervals are merged, not tracked
  separately; LoadEntries should be used when every record matters.)
  It assumes every position fits in a PosType, which is currently defined as
  int32.
*/
package interval
