// Package unsafehelpers centralises the unavoidable usage of the `unsafe`
// standard-library package so that the rest of learndb stays easy to audit.
// Only the zero-copy string/[]byte conversions are kept here — learndb's
// values live in on-disk log files, not in-process arenas, so there is no
// need for arena-pointer or alignment helpers, just the conversions used by
// the record codec to avoid an allocation per decoded key on the read path.
//
// ⚠️ These helpers deliberately relax the Go memory-safety model for
// zero-allocation conversions. Use only inside this repository.
//
// © 2025 learndb authors. MIT License.
package unsafehelpers

import "unsafe"

// BytesToString converts a byte slice to a string without allocating. The
// caller must guarantee that b is never written to again for the lifetime
// of the resulting string — the record codec only calls this on buffers it
// owns exclusively and does not reuse afterward.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToBytes reinterprets a string's bytes as a []byte without copying.
// The returned slice must be treated as read-only.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
