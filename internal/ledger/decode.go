package ledger

import (
	"encoding/json"
	"fmt"
)

// Event kinds emitted by the EAS contract.
const (
	kindSchemaCreated = "SchemaCreated"
	kindAttested      = "Attested"
	kindRevoked       = "Revoked"
)

// Event is the closed set of decoded contract events.
type Event interface {
	isEvent()
}

// SchemaCreated records a new schema registration.
// Payload tuple: (schema_id, creator, schema_uri_hash, revocable,
// expires_allowed, attester_mode, created_ledger).
type SchemaCreated struct {
	SchemaID       string
	Creator        string
	SchemaURIHash  string
	Revocable      bool
	ExpiresAllowed bool
	AttesterMode   uint32
	CreatedLedger  uint64
}

// Attested records a newly issued attestation.
// Payload tuple: (attestation_id, schema_id, attester, subject,
// data_hash, timestamp, expiration).
type Attested struct {
	AttestationID string
	SchemaID      string
	Attester      string
	Subject       string
	DataHash      string
	Timestamp     uint64
	Expiration    *uint64
	Payload       json.RawMessage // full value tuple rendered as JSON
}

// Revoked records an irreversible revocation.
// Payload tuple: (attestation_id, revoker, timestamp).
type Revoked struct {
	AttestationID string
	Revoker       string
	Timestamp     uint64
}

func (SchemaCreated) isEvent() {}
func (Attested) isEvent()      {}
func (Revoked) isEvent()       {}

// Decode converts a raw contract event into its typed form. Events whose
// first topic is absent or names an unknown kind return (nil, nil) and
// are skipped; a malformed payload for a known kind is an error.
func Decode(raw RawEvent) (Event, error) {
	if len(raw.Topics) == 0 {
		return nil, nil
	}
	kind, ok := scSymbol(raw.Topics[0])
	if !ok {
		return nil, nil
	}

	switch kind {
	case kindSchemaCreated:
		ev, err := decodeSchemaCreated(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding %s event %s: %w", kind, raw.ID, err)
		}
		return ev, nil
	case kindAttested:
		ev, err := decodeAttested(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding %s event %s: %w", kind, raw.ID, err)
		}
		return ev, nil
	case kindRevoked:
		ev, err := decodeRevoked(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding %s event %s: %w", kind, raw.ID, err)
		}
		return ev, nil
	default:
		// Forward-compatible: unknown kinds are not an error.
		return nil, nil
	}
}

func decodeSchemaCreated(raw RawEvent) (SchemaCreated, error) {
	var ev SchemaCreated

	fields, err := scVec(raw.Value, 7)
	if err != nil {
		return ev, err
	}
	if ev.SchemaID, err = scBytesHex(fields[0]); err != nil {
		return ev, fmt.Errorf("schema_id: %w", err)
	}
	if ev.Creator, err = scAddress(fields[1]); err != nil {
		return ev, fmt.Errorf("creator: %w", err)
	}
	if ev.SchemaURIHash, err = scBytesHex(fields[2]); err != nil {
		return ev, fmt.Errorf("schema_uri_hash: %w", err)
	}
	if ev.Revocable, err = scBool(fields[3]); err != nil {
		return ev, fmt.Errorf("revocable: %w", err)
	}
	if ev.ExpiresAllowed, err = scBool(fields[4]); err != nil {
		return ev, fmt.Errorf("expires_allowed: %w", err)
	}
	if ev.AttesterMode, err = scU32(fields[5]); err != nil {
		return ev, fmt.Errorf("attester_mode: %w", err)
	}
	if ev.CreatedLedger, err = scU64(fields[6]); err != nil {
		return ev, fmt.Errorf("created_ledger: %w", err)
	}
	return ev, nil
}

func decodeAttested(raw RawEvent) (Attested, error) {
	var ev Attested

	fields, err := scVec(raw.Value, 7)
	if err != nil {
		return ev, err
	}
	if ev.AttestationID, err = scBytesHex(fields[0]); err != nil {
		return ev, fmt.Errorf("attestation_id: %w", err)
	}
	if ev.SchemaID, err = scBytesHex(fields[1]); err != nil {
		return ev, fmt.Errorf("schema_id: %w", err)
	}
	if ev.Attester, err = scAddress(fields[2]); err != nil {
		return ev, fmt.Errorf("attester: %w", err)
	}
	if ev.Subject, err = scAddress(fields[3]); err != nil {
		return ev, fmt.Errorf("subject: %w", err)
	}
	if ev.DataHash, err = scBytesHex(fields[4]); err != nil {
		return ev, fmt.Errorf("data_hash: %w", err)
	}
	if ev.Timestamp, err = scU64(fields[5]); err != nil {
		return ev, fmt.Errorf("timestamp: %w", err)
	}
	if ev.Expiration, err = scOptionU64(fields[6]); err != nil {
		return ev, fmt.Errorf("expiration: %w", err)
	}

	payload, err := ScValToJSON(raw.Value)
	if err != nil {
		return ev, fmt.Errorf("payload: %w", err)
	}
	if ev.Payload, err = json.Marshal(payload); err != nil {
		return ev, fmt.Errorf("payload: %w", err)
	}
	return ev, nil
}

func decodeRevoked(raw RawEvent) (Revoked, error) {
	var ev Revoked

	fields, err := scVec(raw.Value, 3)
	if err != nil {
		return ev, err
	}
	if ev.AttestationID, err = scBytesHex(fields[0]); err != nil {
		return ev, fmt.Errorf("attestation_id: %w", err)
	}
	if ev.Revoker, err = scAddress(fields[1]); err != nil {
		return ev, fmt.Errorf("revoker: %w", err)
	}
	if ev.Timestamp, err = scU64(fields[2]); err != nil {
		return ev, fmt.Errorf("timestamp: %w", err)
	}
	return ev, nil
}
