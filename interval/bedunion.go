package interval

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PosType is the type used to represent interval coordinates.
type PosType int32

// PosTypeMax is the largest PosType.
const PosTypeMax = math.MaxInt32

// BEDUnion is a set of disjoint intervals per chromosome.  Each chromosome's
// set is kept as its sorted endpoints {start0, end0, start1, end1, ...}, so a
// position is inside the union iff an odd number of endpoints are <= it.
type BEDUnion struct {
	// nameMap is a chromosome-keyed map with disjoint-interval-set values.
	// Always initialized.
	nameMap map[string][]PosType
	// cur caches the last ContainsByName lookup.
	cur cursor
}

// cursor remembers where the last point query landed, so that queries in
// nondecreasing order on one chromosome resume from there.
type cursor struct {
	chrom string
	ends  []PosType
	pos   PosType
	// idx is rank(ends, pos).
	idx int
}

// rank returns the number of endpoints in ends that are <= pos.  The search
// gallops forward from hint, which must not exceed the result.
func rank(ends []PosType, pos PosType, hint int) int {
	lo, hi := hint, len(ends)
	for i, step := hint, 1; i < len(ends); i, step = i+step, step*2 {
		if ends[i] > pos {
			hi = i
			break
		}
		lo = i + 1
	}
	return lo + sort.Search(hi-lo, func(i int) bool { return ends[lo+i] > pos })
}

func initBEDUnion() (bedUnion BEDUnion) {
	bedUnion.nameMap = make(map[string][]PosType)
	return
}

// HasChrom returns whether the chromosome was mentioned at all.
func (u *BEDUnion) HasChrom(chrName string) bool {
	_, ok := u.nameMap[chrName]
	return ok
}

// ContainsByName checks whether the (0-based) interval [pos, pos+1) is
// contained within the BEDUnion, where chromosome is specified by name.
// Queries sorted by position are the fast path.
func (u *BEDUnion) ContainsByName(chrName string, pos PosType) bool {
	c := &u.cur
	if chrName != c.chrom || c.ends == nil || pos < c.pos {
		c.chrom, c.ends, c.idx = chrName, u.nameMap[chrName], 0
	}
	c.idx = rank(c.ends, pos, c.idx)
	c.pos = pos
	return c.idx&1 == 1
}

// IntersectsByName checks whether [start, end) on the named chromosome
// intersects the interval set.  It panics if end <= start.
func (u *BEDUnion) IntersectsByName(chrName string, start, end PosType) bool {
	if end <= start {
		panic("internal error: BEDUnion.IntersectsByName requires end > start")
	}
	ends := u.nameMap[chrName]
	idx := rank(ends, start, 0)
	if idx&1 == 1 {
		return true
	}
	return idx < len(ends) && end > ends[idx]
}

// Entry represents a single interval, with 0-based coordinates.  Name is
// optional (4th BED column).
type Entry struct {
	ChrName string
	Start0  PosType
	End     PosType
	Name    string
}

// Center returns the midpoint of the interval, rounded down.
func (e Entry) Center() PosType {
	return e.Start0 + (e.End-e.Start0)/2
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.  The interval
// [0, PosTypeMax - 1] is returned if there is no positional restriction.
func ParseRegionString(region string) (result Entry, err error) {
	if len(region) == 0 {
		err = errors.New("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.IndexByte(region, ':')
	if colonPos == -1 {
		result.ChrName = region
		result.Start0 = 0
		result.End = PosTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = errors.New("interval.ParseRegionString: empty contig ID")
		return
	}
	result.ChrName = region[0:colonPos]
	rangeStr := region[colonPos+1:]
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int64
		if pos1, err = strconv.ParseInt(rangeStr, 10, 32); err != nil {
			err = errors.Wrapf(err, "interval.ParseRegionString: %s", region)
			return
		}
		if pos1 <= 0 {
			err = errors.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start0 = PosType(pos1 - 1)
		result.End = PosType(pos1)
		return
	}
	start1Str := rangeStr[:dashPos]
	endStr := rangeStr[dashPos+1:]
	var start1 int
	if start1, err = strconv.Atoi(start1Str); err != nil {
		err = errors.Wrapf(err, "interval.ParseRegionString: %s", region)
		return
	}
	if start1 <= 0 {
		err = errors.Errorf("interval.ParseRegionString: position %v in region string out of range", start1Str)
		return
	}
	var end0 int
	if end0, err = strconv.Atoi(endStr); err != nil {
		err = errors.Wrapf(err, "interval.ParseRegionString: %s", region)
		return
	}
	if end0 < start1 || end0 >= PosTypeMax {
		err = errors.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end0)
	return
}

// NewBEDUnionFromEntries initializes a BEDUnion from a []Entry sorted by
// (chromosome-block, start).  Each chromosome must appear as one contiguous
// block.
func NewBEDUnionFromEntries(entries []Entry) (bedUnion BEDUnion, err error) {
	bedUnion = initBEDUnion()
	prevChr := ""
	var prevStart, prevEnd PosType
	var chrIntervals []PosType
	for _, entry := range entries {
		curChr := entry.ChrName
		if entry.Start0 < 0 {
			err = errors.New("interval.NewBEDUnionFromEntries: negative start coordinate")
			return
		}
		if (entry.End < entry.Start0) || (entry.End >= PosTypeMax) {
			err = errors.Errorf("interval.NewBEDUnionFromEntries: invalid coordinate pair [%d, %d)", entry.Start0, entry.End)
			return
		}
		if prevChr != curChr {
			if prevChr != "" {
				if prevEnd != -1 {
					chrIntervals = append(chrIntervals, prevStart, prevEnd)
				}
				bedUnion.nameMap[prevChr] = chrIntervals
			}
			prevChr = curChr
			if _, found := bedUnion.nameMap[prevChr]; found {
				err = errors.Errorf("interval.NewBEDUnionFromEntries: unsorted input (split chromosome %v)", curChr)
				return
			}
			chrIntervals = []PosType{}
			if entry.End == entry.Start0 {
				// Distinguish between 'mentioned' chromosomes without any overlapping
				// bases and unmentioned chromosomes.
				prevStart = -1
				prevEnd = -1
				continue
			}
			prevStart = entry.Start0
			prevEnd = entry.End
			continue
		}
		if entry.End == entry.Start0 {
			continue
		}
		if prevEnd == -1 {
			prevStart = entry.Start0
			prevEnd = entry.End
			continue
		}
		if entry.Start0 > prevEnd {
			// New interval doesn't overlap previous one, so we can save the previous
			// one.
			chrIntervals = append(chrIntervals, prevStart, prevEnd)
			prevStart = entry.Start0
			prevEnd = entry.End
		} else {
			if entry.Start0 < prevStart {
				err = errors.New("interval.NewBEDUnionFromEntries: unsorted input")
				return
			}
			// Intervals overlap, merge them.
			if entry.End > prevEnd {
				prevEnd = entry.End
			}
		}
	}
	if prevChr != "" {
		if prevEnd != -1 {
			chrIntervals = append(chrIntervals, prevStart, prevEnd)
		}
		bedUnion.nameMap[prevChr] = chrIntervals
	}
	return
}

// ParseFilter converts a chromosome filter, "all" or a comma-separated list
// of region strings (see ParseRegionString), into a BEDUnion.  all is true
// when no restriction applies, in which case bedUnion is empty.
func ParseFilter(filter string) (bedUnion BEDUnion, all bool, err error) {
	filter = strings.TrimSpace(filter)
	if filter == "" || filter == "all" {
		return initBEDUnion(), true, nil
	}
	var entries []Entry
	for _, region := range strings.Split(filter, ",") {
		var e Entry
		if e, err = ParseRegionString(strings.TrimSpace(region)); err != nil {
			return
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ChrName != entries[j].ChrName {
			return entries[i].ChrName < entries[j].ChrName
		}
		return entries[i].Start0 < entries[j].Start0
	})
	bedUnion, err = NewBEDUnionFromEntries(entries)
	return
}
