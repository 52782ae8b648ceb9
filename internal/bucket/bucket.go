// Package bucket implements the chain bucket: a singly linked list of
// (key, Location) nodes that backs one shard of a shardtable.Table. Newest
// insertion lands at the head, so an update is found before any older
// duplicate of the same key could exist further down the chain.
//
// A Bucket carries a "moved" flag: once set, no further mutation is
// permitted and callers must consult the successor table instead (see
// internal/dynindex). Bucket itself holds no lock — the caller
// (shardtable.Table) guards each bucket with its own sync.RWMutex so that no
// lock ever covers more than one shard.
//
// © 2025 learndb authors. MIT License.
package bucket

// Location identifies the byte range of a stored record: the log file that
// holds it, the byte offset of its first byte, and the framed record length.
// Location is immutable once produced.
type Location struct {
	FileID uint32
	Offset uint32
	Length uint32
}

type node struct {
	key  string
	loc  Location
	next *node
}

// Outcome reports whether an operation inserted a fresh node, updated an
// existing one, removed one, or found the bucket absent of that key.
type Outcome uint8

const (
	Inserted Outcome = iota
	Updated
	Removed
	Absent
)

// Bucket is a chain of (key, Location) nodes plus a moved flag. The zero
// value is an empty, not-yet-moved bucket ready to use.
type Bucket struct {
	head  *node
	moved bool
}

// Push inserts a fresh node or updates the existing one for key, returning
// which happened. Newest insertion lands at the head, so subsequent Push
// calls for the same key find it before any older duplicate could exist.
func (b *Bucket) Push(key string, loc Location) Outcome {
	for n := b.head; n != nil; n = n.next {
		if n.key == key {
			n.loc = loc
			return Updated
		}
	}
	b.head = &node{key: key, loc: loc, next: b.head}
	return Inserted
}

// Find scans the chain and returns the stored Location for key, if any.
func (b *Bucket) Find(key string) (Location, bool) {
	for n := b.head; n != nil; n = n.next {
		if n.key == key {
			return n.loc, true
		}
	}
	return Location{}, false
}

// Delete unlinks the node matching key, if present, reporting Removed or
// Absent.
func (b *Bucket) Delete(key string) Outcome {
	var prev *node
	for n := b.head; n != nil; n = n.next {
		if n.key == key {
			if prev == nil {
				b.head = n.next
			} else {
				prev.next = n.next
			}
			return Removed
		}
		prev = n
	}
	return Absent
}

// Pop detaches and returns the head node. Used by the rehash drain to move
// one node at a time into the successor table.
func (b *Bucket) Pop() (key string, loc Location, ok bool) {
	if b.head == nil {
		return "", Location{}, false
	}
	n := b.head
	b.head = n.next
	return n.key, n.loc, true
}

// Len counts the live nodes in the chain. O(n); used for diagnostics, not on
// any hot path.
func (b *Bucket) Len() int {
	n := 0
	for cur := b.head; cur != nil; cur = cur.next {
		n++
	}
	return n
}

// IsMoved reports whether the bucket has been drained during a rehash.
func (b *Bucket) IsMoved() bool { return b.moved }

// MarkMoved sets the moved flag. Once set, Push/Delete/Pop must not be
// called again on this bucket.
func (b *Bucket) MarkMoved() { b.moved = true }
