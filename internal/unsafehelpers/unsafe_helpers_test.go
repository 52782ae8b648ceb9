package unsafehelpers

import "testing"

func TestRoundTrip(t *testing.T) {
	s := "hello, learndb"
	b := StringToBytes(s)
	if string(b) != s {
		t.Fatalf("StringToBytes: got %q", b)
	}
	if got := BytesToString(b); got != s {
		t.Fatalf("BytesToString: got %q", got)
	}
}

func TestEmpty(t *testing.T) {
	if got := BytesToString(nil); got != "" {
		t.Fatalf("BytesToString(nil): got %q", got)
	}
	if got := StringToBytes(""); got != nil {
		t.Fatalf("StringToBytes(\"\"): got %v", got)
	}
}
