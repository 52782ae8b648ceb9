// Package logfile implements the canonical filename scheme, record framing,
// and side-car index framing for learndb's log files. Filenames follow a
// fixed learn_db_<id>.log / learn_db_<id>.index layout, parsed with manual prefix/suffix
// trimming rather than a regexp dependency, the same lightweight
// convention a WAL segment lister would use.
//
// © 2025 learndb authors. MIT License.
package logfile

import (
	"path/filepath"
	"strconv"
	"strings"
)

const (
	prefix       = "learn_db_"
	logSuffix    = ".log"
	indexSuffix  = ".index"
	tmpIndexSuff = ".index.tmp"
)

// LogName returns the path of the log file with the given id inside ws.
func LogName(ws string, id uint32) string {
	return filepath.Join(ws, prefix+strconv.FormatUint(uint64(id), 10)+logSuffix)
}

// IndexName returns the path of the side-car index file for id inside ws.
func IndexName(ws string, id uint32) string {
	return filepath.Join(ws, prefix+strconv.FormatUint(uint64(id), 10)+indexSuffix)
}

// TmpIndexName returns the path of the temporary side-car index file used
// while generating IndexName(ws, id), renamed atomically on success.
func TmpIndexName(ws string, id uint32) string {
	return filepath.Join(ws, prefix+strconv.FormatUint(uint64(id), 10)+tmpIndexSuff)
}

// IsLogFile reports whether base (a file name, not a path) matches the
// learn_db_<id>.log pattern.
func IsLogFile(base string) bool {
	_, ok := ParseFileID(base)
	return ok
}

// ParseFileID extracts the numeric file id from a log file name. It returns
// false for anything that is not a well-formed learn_db_<id>.log name
// (including side-car index files, which share the prefix but not the
// suffix).
func ParseFileID(base string) (uint32, bool) {
	if !strings.HasPrefix(base, prefix) || !strings.HasSuffix(base, logSuffix) {
		return 0, false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(base, prefix), logSuffix)
	if middle == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(middle, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}
