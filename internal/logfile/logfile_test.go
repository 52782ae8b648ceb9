package logfile

import (
	"bytes"
	"io"
	"testing"
)

func TestNamesRoundTrip(t *testing.T) {
	if got := LogName("/ws", 7); got != "/ws/learn_db_7.log" {
		t.Fatalf("LogName: got %q", got)
	}
	if got := IndexName("/ws", 7); got != "/ws/learn_db_7.index" {
		t.Fatalf("IndexName: got %q", got)
	}
	if got := TmpIndexName("/ws", 7); got != "/ws/learn_db_7.index.tmp" {
		t.Fatalf("TmpIndexName: got %q", got)
	}

	id, ok := ParseFileID("learn_db_7.log")
	if !ok || id != 7 {
		t.Fatalf("ParseFileID: got (%d, %v)", id, ok)
	}
	if IsLogFile("learn_db_7.index") {
		t.Fatalf("index file misclassified as log file")
	}
	if _, ok := ParseFileID("learn_db_abc.log"); ok {
		t.Fatalf("non-numeric id accepted")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	frameLen, err := WriteRecord(&buf, Record{Key: "k", Value: "v"})
	if err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if int(frameLen) != buf.Len() {
		t.Fatalf("frame length: got %d, want %d", frameLen, buf.Len())
	}

	n, rec, err := ReadRecord(&buf)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if n != frameLen || rec.Key != "k" || rec.Value != "v" {
		t.Fatalf("round trip mismatch: n=%d rec=%+v", n, rec)
	}

	if _, _, err := ReadRecord(&buf); err != io.EOF {
		t.Fatalf("expected io.EOF at end, got %v", err)
	}
}

func TestReadRecordTruncatedIsEOF(t *testing.T) {
	var buf bytes.Buffer
	WriteRecord(&buf, Record{Key: "k", Value: "v"})
	truncated := buf.Bytes()[:buf.Len()-2]

	if _, _, err := ReadRecord(bytes.NewReader(truncated)); err != io.EOF {
		t.Fatalf("truncated record: got %v, want io.EOF", err)
	}
}

func TestIndexEntryRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteIndexEntry(&buf, "hello", 42); err != nil {
		t.Fatalf("WriteIndexEntry: %v", err)
	}
	if err := WriteIndexEntry(&buf, "world", 99); err != nil {
		t.Fatalf("WriteIndexEntry: %v", err)
	}

	key, off, err := ReadIndexEntry(&buf)
	if err != nil || key != "hello" || off != 42 {
		t.Fatalf("first entry: got (%q, %d, %v)", key, off, err)
	}
	key, off, err = ReadIndexEntry(&buf)
	if err != nil || key != "world" || off != 99 {
		t.Fatalf("second entry: got (%q, %d, %v)", key, off, err)
	}
	if _, _, err := ReadIndexEntry(&buf); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
