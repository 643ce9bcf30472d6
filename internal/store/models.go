package store

import (
	"encoding/json"
	"time"
)

// Schema mirrors one SchemaCreated row. Rows are immutable after insert.
type Schema struct {
	SchemaID       string          `json:"schema_id"`
	Creator        string          `json:"creator"`
	SchemaURIHash  string          `json:"schema_uri_hash"`
	Revocable      bool            `json:"revocable"`
	ExpiresAllowed bool            `json:"expires_allowed"`
	AttesterMode   uint32          `json:"attester_mode"`
	CreatedLedger  uint64          `json:"created_ledger"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Attestation mirrors one attestation row. Only the revoked dimension
// ever changes, and only false -> true.
type Attestation struct {
	AttestationID    string          `json:"attestation_id"`
	SchemaID         string          `json:"schema_id"`
	Attester         string          `json:"attester"`
	Subject          string          `json:"subject"`
	DataHash         string          `json:"data_hash"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Timestamp        uint64          `json:"timestamp"`
	Expiration       *uint64         `json:"expiration,omitempty"`
	Revoked          bool            `json:"revoked"`
	RevokedBy        *string         `json:"revoked_by,omitempty"`
	RevokedTimestamp *uint64         `json:"revoked_timestamp,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
