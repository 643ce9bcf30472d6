package ledger

import (
	"context"

	"github.com/stellar/go/xdr"
)

// RawEvent is one contract event as delivered by the RPC node, with
// topics and value already unpacked from their XDR envelopes. The first
// topic names the event kind.
type RawEvent struct {
	ID         string // opaque, totally ordered within the stream
	ContractID string
	Ledger     uint32
	TxHash     string
	Topics     []xdr.ScVal
	Value      xdr.ScVal
}

// Query selects the next batch of events. When Cursor is set the fetch
// resumes immediately after the last consumed event and StartLedger is
// ignored.
type Query struct {
	Cursor      string
	StartLedger uint32
	Limit       uint
}

// Page is one fetched batch plus the resume token for the next one.
type Page struct {
	Events       []RawEvent
	Cursor       string
	LatestLedger uint32
}

// Source is the read capability the indexer consumes. Re-fetching with
// the same cursor yields the same or a superset-compatible continuation;
// exactly-once delivery is not assumed.
type Source interface {
	LatestLedger(ctx context.Context) (uint32, error)
	Events(ctx context.Context, q Query) (Page, error)
}
