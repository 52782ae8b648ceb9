// codec.go implements the record and side-car framing:
//
//	Log record:  u32 payload_length | JSON{"key","value"} (payload_length bytes)
//	Side-car:    u32 key_length | key bytes | u32 record_offset, repeated
//
// Both are big-endian. Reads go through io.ReadFull rather than a single
// Read call, so a short read is never handed back as a complete buffer.
// ReadRecord reports a truncated or undecodable trailing record as io.EOF;
// ReadIndexEntry reports a truncated entry as io.ErrUnexpectedEOF, so a
// damaged side-car can be told apart from a complete one.
//
// © 2025 learndb authors. MIT License.
package logfile

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/learndb/learndb/internal/storeerr"
	"github.com/learndb/learndb/internal/unsafehelpers"
)

// Record is the decoded payload of one log entry.
type Record struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// WriteRecord frames rec as length-prefixed JSON and writes it to w,
// returning the total frame length (payload + 4 bytes of length prefix).
func WriteRecord(w io.Writer, rec Record) (uint32, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, storeerr.Wrap(storeerr.KindDecode, "encode record", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return 0, storeerr.Wrap(storeerr.KindIO, "write record length", err)
	}
	if _, err := w.Write(payload); err != nil {
		return 0, storeerr.Wrap(storeerr.KindIO, "write record payload", err)
	}
	return uint32(len(payload)) + 4, nil
}

// ReadRecord reads one framed record from r. It returns io.EOF both for a
// clean end of stream and for a truncated trailing record: a corrupt
// trailing record is tolerated and treated as EOF rather than propagated as
// a hard error, since the only crash scenario guarded against here is an
// interrupted final append.
func ReadRecord(r io.Reader) (frameLen uint32, rec Record, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, Record{}, io.EOF
	}
	payloadLen := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, Record{}, io.EOF
	}
	if err := json.Unmarshal(payload, &rec); err != nil {
		return 0, Record{}, io.EOF
	}
	return payloadLen + 4, rec, nil
}

// FrameLength reads the 4-byte length prefix at offset within r and returns
// the total frame length (payload + 4). Side-car entries only record a
// record's starting offset, so recovery uses this to recover the Length a
// bucket.Location needs without re-decoding the whole payload.
func FrameLength(r io.ReaderAt, offset uint32) (uint32, error) {
	var lenBuf [4]byte
	if _, err := r.ReadAt(lenBuf[:], int64(offset)); err != nil {
		return 0, storeerr.Wrap(storeerr.KindIO, "read frame length prefix", err)
	}
	return binary.BigEndian.Uint32(lenBuf[:]) + 4, nil
}

// WriteIndexEntry appends one (key, offset) pair to a side-car index file.
func WriteIndexEntry(w io.Writer, key string, offset uint32) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(key)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return storeerr.Wrap(storeerr.KindIO, "write index key length", err)
	}
	if _, err := w.Write(unsafehelpers.StringToBytes(key)); err != nil {
		return storeerr.Wrap(storeerr.KindIO, "write index key", err)
	}
	var offBuf [4]byte
	binary.BigEndian.PutUint32(offBuf[:], offset)
	if _, err := w.Write(offBuf[:]); err != nil {
		return storeerr.Wrap(storeerr.KindIO, "write index offset", err)
	}
	return nil
}

// ReadIndexEntry reads one (key, offset) pair from a side-car index file,
// returning io.EOF at a clean end of stream and io.ErrUnexpectedEOF when the
// stream ends partway through an entry.
func ReadIndexEntry(r io.Reader) (key string, offset uint32, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", 0, err
	}
	keyLen := binary.BigEndian.Uint32(lenBuf[:])
	keyBuf := make([]byte, keyLen)
	if _, err := io.ReadFull(r, keyBuf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return "", 0, err
	}
	var offBuf [4]byte
	if _, err := io.ReadFull(r, offBuf[:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return "", 0, err
	}
	return unsafehelpers.BytesToString(keyBuf), binary.BigEndian.Uint32(offBuf[:]), nil
}
