// Package replica implements the on-disk naming conventions, the
// ReplicaInfo/ChunkDisposition data model, and the byte-sum checksum
// helper used by the worker-side FindRequest handler. All file-system
// names are parsed defensively: callers get an error, never a panic, for
// anything that doesn't match the expected template.
package replica

import (
	"fmt"
	"regexp"
	"strconv"
)

// FileExt enumerates the partitioned-table file extensions.
type FileExt string

const (
	ExtFRM FileExt = "frm"
	ExtMYD FileExt = "MYD"
	ExtMYI FileExt = "MYI"
)

func validExt(ext string) bool {
	switch FileExt(ext) {
	case ExtFRM, ExtMYD, ExtMYI:
		return true
	default:
		return false
	}
}

var (
	partitionedFileRe = regexp.MustCompile(`^([A-Za-z0-9_]+)_(\d+)\.(frm|MYD|MYI)$`)
	overlapFileRe     = regexp.MustCompile(`^([A-Za-z0-9_]+)FullOverlap_(\d+)\.(frm|MYD|MYI)$`)
	resultFileRe      = regexp.MustCompile(`^(\d+)-(\d+)-(\d+)-(\d+)-(\d+)\.proto$`)
)

// PartitionedFileName renders "<table>_<chunk>.<ext>".
func PartitionedFileName(table string, chunk uint32, ext FileExt) (string, error) {
	if !validExt(string(ext)) {
		return "", fmt.Errorf("replica: invalid file extension %q", ext)
	}
	return fmt.Sprintf("%s_%d.%s", table, chunk, ext), nil
}

// OverlapFileName renders "<table>FullOverlap_<chunk>.<ext>".
func OverlapFileName(table string, chunk uint32, ext FileExt) (string, error) {
	if !validExt(string(ext)) {
		return "", fmt.Errorf("replica: invalid file extension %q", ext)
	}
	return fmt.Sprintf("%sFullOverlap_%d.%s", table, chunk, ext), nil
}

// ParsedFile is the defensively-parsed result of a partitioned or overlap
// file name.
type ParsedFile struct {
	Table   string
	Chunk   uint32
	Ext     FileExt
	Overlap bool
}

// ParseFileName recognizes both the plain and FullOverlap templates and
// rejects anything else, including out-of-range chunk numbers.
func ParseFileName(name string) (ParsedFile, error) {
	if m := overlapFileRe.FindStringSubmatch(name); m != nil {
		chunk, err := parseChunk(m[2])
		if err != nil {
			return ParsedFile{}, err
		}
		return ParsedFile{Table: m[1], Chunk: chunk, Ext: FileExt(m[3]), Overlap: true}, nil
	}
	if m := partitionedFileRe.FindStringSubmatch(name); m != nil {
		chunk, err := parseChunk(m[2])
		if err != nil {
			return ParsedFile{}, err
		}
		return ParsedFile{Table: m[1], Chunk: chunk, Ext: FileExt(m[3]), Overlap: false}, nil
	}
	return ParsedFile{}, fmt.Errorf("replica: %q does not match a partitioned or overlap file template", name)
}

func parseChunk(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("replica: chunk number %q out of uint32 range: %w", s, err)
	}
	return uint32(v), nil
}

// DirectorIndexTableName renders "<db>__<director>".
func DirectorIndexTableName(db, director string) string {
	return fmt.Sprintf("%s__%s", db, director)
}

// RowCountersTableName renders "<db>__<table>__rows".
func RowCountersTableName(db, table string) string {
	return fmt.Sprintf("%s__%s__rows", db, table)
}

// ResultFileName renders a worker result file name
// "<czarId>-<queryId>-<jobId>-<chunkId>-<attemptCount>.proto". queryId is a
// uint64; every other component is a uint32. Out-of-range components are
// rejected rather than silently truncated.
func ResultFileName(czarID uint32, queryID uint64, jobID, chunkID, attempt uint32) string {
	return fmt.Sprintf("%d-%d-%d-%d-%d.proto", czarID, queryID, jobID, chunkID, attempt)
}

// ParsedResultFile is the round-tripped decomposition of a result file name.
type ParsedResultFile struct {
	CzarID  uint32
	QueryID uint64
	JobID   uint32
	ChunkID uint32
	Attempt uint32
}

// ParseResultFileName recovers the components of a name built by
// ResultFileName, or reports a parse error for anything else (including
// a missing ".proto" extension or an out-of-range component).
func ParseResultFileName(name string) (ParsedResultFile, error) {
	m := resultFileRe.FindStringSubmatch(name)
	if m == nil {
		return ParsedResultFile{}, fmt.Errorf("replica: %q is not a valid result file name", name)
	}
	czar, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return ParsedResultFile{}, fmt.Errorf("replica: czarId out of range: %w", err)
	}
	query, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return ParsedResultFile{}, fmt.Errorf("replica: queryId out of range: %w", err)
	}
	job, err := strconv.ParseUint(m[3], 10, 32)
	if err != nil {
		return ParsedResultFile{}, fmt.Errorf("replica: jobId out of range: %w", err)
	}
	chunk, err := strconv.ParseUint(m[4], 10, 32)
	if err != nil {
		return ParsedResultFile{}, fmt.Errorf("replica: chunkId out of range: %w", err)
	}
	attempt, err := strconv.ParseUint(m[5], 10, 32)
	if err != nil {
		return ParsedResultFile{}, fmt.Errorf("replica: attemptCount out of range: %w", err)
	}
	return ParsedResultFile{
		CzarID:  uint32(czar),
		QueryID: query,
		JobID:   uint32(job),
		ChunkID: uint32(chunk),
		Attempt: uint32(attempt),
	}, nil
}

// ReservedOverflowChunkID is the numeric chunk id reserved for director
// table overflow; no chunk belonging to a director table may use it.
const ReservedOverflowChunkID uint32 = 1<<32 - 1

// ValidDirectorChunk reports whether chunk is admissible for a director
// table (i.e. not the reserved overflow id).
func ValidDirectorChunk(chunk uint32) bool {
	return chunk != ReservedOverflowChunkID
}
