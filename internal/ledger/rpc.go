package ledger

import (
	"context"
	"fmt"

	"github.com/stellar/go/xdr"
	"github.com/stellar/stellar-rpc/client"
	"github.com/stellar/stellar-rpc/protocol"
)

// Terminal transaction statuses reported by the RPC node.
const (
	TxStatusSuccess  = "SUCCESS"
	TxStatusFailed   = "FAILED"
	TxStatusNotFound = "NOT_FOUND"
)

// Simulation is the result of a read-only contract invocation, plus the
// resource data needed to assemble a write transaction from it.
type Simulation struct {
	ReturnValue     xdr.ScVal
	TransactionData string // base64 SorobanTransactionData
	MinResourceFee  int64
	Auth            []string // base64 SorobanAuthorizationEntry
}

// TxResult is the polled status of a submitted transaction.
type TxResult struct {
	Status      string
	Ledger      uint32
	ReturnValue xdr.ScVal
}

// Client adapts a Soroban RPC node to the capabilities this service
// consumes: the filtered contract event stream for the indexer and the
// simulate/submit/poll cycle for the write path.
type Client struct {
	rpc        *client.Client
	contractID string
}

// NewClient creates a client bound to one contract identity.
func NewClient(endpoint, contractID string) *Client {
	return &Client{
		rpc:        client.NewClient(endpoint, nil),
		contractID: contractID,
	}
}

// LatestLedger returns the node's latest closed ledger sequence.
func (c *Client) LatestLedger(ctx context.Context) (uint32, error) {
	resp, err := c.rpc.GetLatestLedger(ctx)
	if err != nil {
		return 0, fmt.Errorf("getLatestLedger: %w", err)
	}
	return resp.Sequence, nil
}

// Events fetches the next batch of contract events and unpacks their
// topic and value XDR.
func (c *Client) Events(ctx context.Context, q Query) (Page, error) {
	req := protocol.GetEventsRequest{
		Filters: []protocol.EventFilter{
			{ContractIDs: []string{c.contractID}},
		},
		Pagination: &protocol.PaginationOptions{Limit: q.Limit},
	}
	// The node rejects requests carrying both a cursor and a start ledger.
	if q.Cursor != "" {
		cursor, err := protocol.ParseCursor(q.Cursor)
		if err != nil {
			return Page{}, fmt.Errorf("invalid cursor %q: %w", q.Cursor, err)
		}
		req.Pagination.Cursor = &cursor
	} else {
		req.StartLedger = q.StartLedger
	}

	resp, err := c.rpc.GetEvents(ctx, req)
	if err != nil {
		return Page{}, fmt.Errorf("getEvents: %w", err)
	}

	page := Page{
		Cursor:       resp.Cursor,
		LatestLedger: resp.LatestLedger,
		Events:       make([]RawEvent, 0, len(resp.Events)),
	}
	for _, info := range resp.Events {
		raw := RawEvent{
			ID:         info.ID,
			ContractID: info.ContractID,
			Ledger:     uint32(info.Ledger),
			TxHash:     info.TransactionHash,
			Topics:     make([]xdr.ScVal, 0, len(info.TopicXDR)),
		}
		for _, topicB64 := range info.TopicXDR {
			var topic xdr.ScVal
			if err := xdr.SafeUnmarshalBase64(topicB64, &topic); err != nil {
				return Page{}, fmt.Errorf("unmarshal topic of event %s: %w", info.ID, err)
			}
			raw.Topics = append(raw.Topics, topic)
		}
		if info.ValueXDR != "" {
			if err := xdr.SafeUnmarshalBase64(info.ValueXDR, &raw.Value); err != nil {
				return Page{}, fmt.Errorf("unmarshal value of event %s: %w", info.ID, err)
			}
		}
		page.Events = append(page.Events, raw)
	}
	return page, nil
}

// AccountSequence reads the current sequence number of an account.
// Contract addresses have no sequence number and are rejected up front.
func (c *Client) AccountSequence(ctx context.Context, account string) (int64, error) {
	accountID, err := xdr.AddressToAccountId(account)
	if err != nil {
		return 0, fmt.Errorf("not an account address %q: %w", account, err)
	}
	key := xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: accountID},
	}
	keyB64, err := xdr.MarshalBase64(key)
	if err != nil {
		return 0, fmt.Errorf("marshal account key: %w", err)
	}

	resp, err := c.rpc.GetLedgerEntries(ctx, protocol.GetLedgerEntriesRequest{
		Keys: []string{keyB64},
	})
	if err != nil {
		return 0, fmt.Errorf("getLedgerEntries: %w", err)
	}
	if len(resp.Entries) == 0 {
		return 0, fmt.Errorf("account %s not found on ledger", account)
	}

	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(resp.Entries[0].DataXDR, &data); err != nil {
		return 0, fmt.Errorf("unmarshal account entry: %w", err)
	}
	if data.Account == nil {
		return 0, fmt.Errorf("ledger entry for %s is not an account", account)
	}
	return int64(data.Account.SeqNum), nil
}

// Simulate runs a transaction against the node without submitting it.
// Contract-level panics (for example a rejected nonce) surface in the
// returned error text.
func (c *Client) Simulate(ctx context.Context, txBase64 string) (Simulation, error) {
	resp, err := c.rpc.SimulateTransaction(ctx, protocol.SimulateTransactionRequest{
		Transaction: txBase64,
	})
	if err != nil {
		return Simulation{}, fmt.Errorf("simulateTransaction: %w", err)
	}
	if resp.Error != "" {
		return Simulation{}, fmt.Errorf("simulation failed: %s", resp.Error)
	}

	sim := Simulation{
		TransactionData: resp.TransactionDataXDR,
		MinResourceFee:  resp.MinResourceFee,
	}
	if len(resp.Results) > 0 {
		result := resp.Results[0]
		if result.ReturnValueXDR != nil && *result.ReturnValueXDR != "" {
			if err := xdr.SafeUnmarshalBase64(*result.ReturnValueXDR, &sim.ReturnValue); err != nil {
				return Simulation{}, fmt.Errorf("unmarshal simulation result: %w", err)
			}
		}
		if result.AuthXDR != nil {
			sim.Auth = *result.AuthXDR
		}
	}
	return sim, nil
}

// Submit sends a signed transaction and returns its hash. Anything but
// PENDING acceptance is an error.
func (c *Client) Submit(ctx context.Context, txBase64 string) (string, error) {
	resp, err := c.rpc.SendTransaction(ctx, protocol.SendTransactionRequest{
		Transaction: txBase64,
	})
	if err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}
	if resp.Status == "ERROR" {
		return "", fmt.Errorf("transaction rejected: %s", resp.ErrorResultXDR)
	}
	return resp.Hash, nil
}

// Transaction polls the status of a submitted transaction. On success
// the contract return value is extracted from the transaction meta.
func (c *Client) Transaction(ctx context.Context, hash string) (TxResult, error) {
	resp, err := c.rpc.GetTransaction(ctx, protocol.GetTransactionRequest{Hash: hash})
	if err != nil {
		return TxResult{}, fmt.Errorf("getTransaction: %w", err)
	}

	result := TxResult{
		Status: resp.Status,
		Ledger: uint32(resp.Ledger),
	}
	if resp.Status == TxStatusSuccess && resp.ResultMetaXDR != "" {
		var meta xdr.TransactionMeta
		if err := xdr.SafeUnmarshalBase64(resp.ResultMetaXDR, &meta); err != nil {
			return TxResult{}, fmt.Errorf("unmarshal transaction meta: %w", err)
		}
		if v, ok := sorobanReturnValue(meta); ok {
			result.ReturnValue = v
		}
	}
	return result, nil
}

func sorobanReturnValue(meta xdr.TransactionMeta) (xdr.ScVal, bool) {
	if meta.V3 != nil && meta.V3.SorobanMeta != nil {
		return meta.V3.SorobanMeta.ReturnValue, true
	}
	if meta.V4 != nil && meta.V4.SorobanMeta != nil && meta.V4.SorobanMeta.ReturnValue != nil {
		return *meta.V4.SorobanMeta.ReturnValue, true
	}
	return xdr.ScVal{}, false
}
