package domain

import "time"

// Kind classifies a change record. The wire value doubles as the SSE event
// name, so these strings are part of the public protocol.
type Kind string

const (
	KindCreated  Kind = "created"
	KindModified Kind = "modified"
	KindDeleted  Kind = "deleted"
	KindRenamed  Kind = "renamed"
	KindGap      Kind = "gap"
	KindClosing  Kind = "closing"
)

// Change is a normalized filesystem mutation as emitted by the watcher,
// before the hub has assigned a sequence number.
type Change struct {
	Kind    Kind
	Path    string
	OldPath string // set only for KindRenamed
	Time    time.Time
}

// Record is a change with its hub-assigned sequence number. Immutable once
// constructed. Sequence numbers are strictly increasing and unique for the
// process lifetime; they are the sole ordering key and the resumption token.
type Record struct {
	Seq     uint64    `json:"seq"`
	Kind    Kind      `json:"kind"`
	Path    string    `json:"path,omitempty"`
	OldPath string    `json:"old_path,omitempty"`
	GapFrom uint64    `json:"gap_from,omitempty"`
	GapTo   uint64    `json:"gap_to,omitempty"`
	Time    time.Time `json:"time"`
}

// GapRecord builds a synthetic record covering the inclusive sequence range
// [from, to] of records a subscriber did not receive. Its own Seq is the end
// of the range so a client resuming from it does not re-request the gap.
func GapRecord(from, to uint64, now time.Time) Record {
	return Record{
		Seq:     to,
		Kind:    KindGap,
		GapFrom: from,
		GapTo:   to,
		Time:    now,
	}
}
