// Package changefeed opens resumable, server-side filtered mutation feeds
// over a document store and hands them out one event at a time.
package changefeed

import (
	"context"
	"encoding/hex"
)

// ResumeToken is an opaque feed position. It is stored and replayed as is.
type ResumeToken []byte

func (t ResumeToken) String() string {
	if len(t) > 16 {
		return hex.EncodeToString(t[:16]) + "..."
	}
	return hex.EncodeToString(t)
}

// Operation is the kind of mutation a change event reports.
type Operation string

const (
	OpInsert     Operation = "insert"
	OpUpdate     Operation = "update"
	OpReplace    Operation = "replace"
	OpDelete     Operation = "delete"
	OpInvalidate Operation = "invalidate"
	OpRename     Operation = "rename"
	OpDrop       Operation = "drop"
	// OpProgress carries only a resume token at a transaction boundary.
	OpProgress Operation = "progress"
)

// KeyKind classifies the identity field of a document key.
type KeyKind int

const (
	KeyMissing KeyKind = iota
	KeyBinary
	KeyOther
)

// Binary subtypes that carry a UUID.
const (
	SubtypeUUIDLegacy byte = 0x03
	SubtypeUUID       byte = 0x04
)

// DocumentKey is the identity of the mutated document.
type DocumentKey struct {
	Kind    KeyKind
	Subtype byte
	Data    []byte
	// Display is a printable form of the key for logs.
	Display string
}

// Event is a single mutation read from the feed. Token is the feed position
// right after this event.
type Event struct {
	Collection string
	Operation  Operation
	Key        DocumentKey
	Token      ResumeToken
	// Raw is a printable form of the whole event for logs.
	Raw string
	// Err is set when the event could not be decoded. Such an event is
	// dropped; the cursor stays usable.
	Err error
}

// Feed opens cursors over the mutation feed of a fixed set of collections.
type Feed interface {
	// Open starts a cursor that only reports mutations of collections. A nil
	// startAfter starts at the current end of the feed.
	Open(ctx context.Context, collections []string, startAfter ResumeToken) (Cursor, error)
	// ValidateToken reports whether a stored token can be resumed from.
	ValidateToken(ResumeToken) error
	Close(ctx context.Context) error
}

// Cursor yields events in feed order. Next blocks until an event arrives; it
// returns the context error on cancellation and any other error means the
// cursor is no longer usable.
type Cursor interface {
	Next(ctx context.Context) (Event, error)
	Close(ctx context.Context) error
}
