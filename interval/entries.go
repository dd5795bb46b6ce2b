package interval

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
)

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		// These simple loops are better than any of the standard library
		// string-split functions for the handful of columns we need.
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// GetTokens is the exported form of getTokens, shared with the bedgraph
// reader.
func GetTokens(tokens [][]byte, curLine []byte) int {
	return getTokens(tokens, curLine)
}

// IsHeaderLine returns true for BED/bedgraph "track", "browser" and comment
// lines.
func IsHeaderLine(curLine []byte) bool {
	if len(curLine) == 0 {
		return false
	}
	if curLine[0] == '#' {
		return true
	}
	s := gunsafe.BytesToString(curLine)
	return (len(s) >= 5 && s[:5] == "track") || (len(s) >= 7 && s[:7] == "browser")
}

// ReadEntries parses a BED stream into one Entry per record, in file order.
// Unlike NewBEDUnionFromEntries, overlapping records are kept separately and
// input need not be sorted.  The optional 4th column is saved as Entry.Name.
func ReadEntries(reader io.Reader) (entries []Entry, err error) {
	scanner := bufio.NewScanner(reader)
	var tokens [4][]byte
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		if IsHeaderLine(curLine) {
			continue
		}
		nToken := getTokens(tokens[:], curLine)
		if nToken < 3 {
			if nToken == 0 {
				continue
			}
			return nil, errors.Errorf("interval.ReadEntries: line %d has fewer tokens than expected", lineIdx)
		}
		var start, end int
		if start, err = strconv.Atoi(gunsafe.BytesToString(tokens[1])); err != nil {
			return nil, errors.Wrapf(err, "interval.ReadEntries: line %d", lineIdx)
		}
		if end, err = strconv.Atoi(gunsafe.BytesToString(tokens[2])); err != nil {
			return nil, errors.Wrapf(err, "interval.ReadEntries: line %d", lineIdx)
		}
		if start < 0 || end < start || end >= PosTypeMax {
			return nil, errors.Errorf("interval.ReadEntries: invalid coordinate pair on line %d", lineIdx)
		}
		// Copy the chromosome bytes; tokens refer to scanner memory that is
		// overwritten on the next Scan().
		e := Entry{
			ChrName: string(tokens[0]),
			Start0:  PosType(start),
			End:     PosType(end),
		}
		if nToken == 4 {
			e.Name = string(tokens[3])
		}
		entries = append(entries, e)
	}
	if err = scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// OpenMaybeCompressed opens path for reading, transparently decompressing
// it when the name indicates gzip (.gz), lz4 (.lz4) or zstd (.zst).  The
// returned closer must be invoked when done.
func OpenMaybeCompressed(ctx context.Context, path string) (reader io.Reader, closer func() error, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	reader = infile.Reader(ctx)
	closer = func() error { return infile.Close(ctx) }
	switch {
	case fileio.DetermineType(path) == fileio.Gzip:
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			_ = infile.Close(ctx)
			closer = nil
			return
		}
		reader = gz
		closer = func() error {
			if e := gz.Close(); e != nil {
				_ = infile.Close(ctx)
				return e
			}
			return infile.Close(ctx)
		}
	case strings.HasSuffix(path, ".lz4"):
		reader = lz4.NewReader(reader)
	case strings.HasSuffix(path, ".zst"):
		var zr *zstd.Decoder
		if zr, err = zstd.NewReader(reader); err != nil {
			_ = infile.Close(ctx)
			closer = nil
			return
		}
		reader = zr
		closer = func() error {
			zr.Close()
			return infile.Close(ctx)
		}
	}
	return
}

// LoadEntries is a wrapper for ReadEntries that takes a path instead of an
// io.Reader.
func LoadEntries(ctx context.Context, path string) (entries []Entry, err error) {
	var (
		reader io.Reader
		closer func() error
	)
	if reader, closer, err = OpenMaybeCompressed(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := closer(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if entries, err = ReadEntries(reader); err != nil {
		return
	}
	log.Debug.Printf("interval.LoadEntries: %d interval(s) loaded from %s", len(entries), path)
	return
}
