package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

// State keys owned by the indexer.
const (
	KeyEventsCursor = "events_cursor"
	KeyStartLedger  = "start_ledger"
)

// Store wraps the PostgreSQL mirror. All 64-bit ledger numerics cross
// the boundary as decimal strings into NUMERIC columns so values above
// 2^53 never pass through a float.
type Store struct {
	db *sql.DB
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection and schema.
func Open(ctx context.Context, connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.validateSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema validation failed: %w\n\nPlease run: psql -f db/schema.sql", err)
	}
	return s, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) validateSchema(ctx context.Context) error {
	for _, table := range []string{"indexer_state", "schemas", "attestations"} {
		var exists bool
		err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("table %s does not exist", table)
		}
	}
	return nil
}

// State returns the value for a state key, reporting whether it was set.
func (s *Store) State(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM indexer_state WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetState durably upserts a state key.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexer_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}

// InsertSchema inserts a schema row. A conflict on schema_id is absorbed:
// first writer wins, re-delivery is a no-op.
func (s *Store) InsertSchema(ctx context.Context, sc Schema) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schemas (
			schema_id, creator, schema_uri_hash,
			revocable, expires_allowed, attester_mode, created_ledger
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (schema_id) DO NOTHING
	`,
		sc.SchemaID,
		sc.Creator,
		sc.SchemaURIHash,
		sc.Revocable,
		sc.ExpiresAllowed,
		sc.AttesterMode,
		formatU64(sc.CreatedLedger),
	)
	return err
}

// InsertAttestation inserts an attestation row, absorbing duplicates.
func (s *Store) InsertAttestation(ctx context.Context, att Attestation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attestations (
			attestation_id, schema_id, attester, subject, data_hash,
			payload_json, timestamp, expiration
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (attestation_id) DO NOTHING
	`,
		att.AttestationID,
		att.SchemaID,
		att.Attester,
		att.Subject,
		att.DataHash,
		nullableJSON(att.Payload),
		formatU64(att.Timestamp),
		nullableU64(att.Expiration),
	)
	return err
}

// RevokeAttestation marks an attestation revoked. Zero rows affected is
// success: the revocation event may precede the creating event, or be a
// re-delivery.
func (s *Store) RevokeAttestation(ctx context.Context, attestationID, revoker string, timestamp uint64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE attestations
		SET revoked = TRUE, revoked_by = $2, revoked_timestamp = $3
		WHERE attestation_id = $1
	`, attestationID, revoker, formatU64(timestamp))
	return err
}

// GetSchema looks up one schema by id.
func (s *Store) GetSchema(ctx context.Context, schemaID string) (*Schema, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT schema_id, creator, schema_uri_hash, revocable,
		       expires_allowed, attester_mode, created_ledger, created_at
		FROM schemas WHERE schema_id = $1
	`, schemaID)

	var sc Schema
	var createdLedger string
	err := row.Scan(
		&sc.SchemaID, &sc.Creator, &sc.SchemaURIHash, &sc.Revocable,
		&sc.ExpiresAllowed, &sc.AttesterMode, &createdLedger, &sc.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sc.CreatedLedger, err = parseU64(createdLedger); err != nil {
		return nil, err
	}
	return &sc, nil
}

// GetAttestation looks up one attestation by id.
func (s *Store) GetAttestation(ctx context.Context, attestationID string) (*Attestation, error) {
	row := s.db.QueryRowContext(ctx, attestationSelect+` WHERE attestation_id = $1`, attestationID)
	att, err := scanAttestation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return att, nil
}

// ListAttestations returns attestations filtered by subject and/or
// schema id, newest first.
func (s *Store) ListAttestations(ctx context.Context, subject, schemaID string, limit int) ([]Attestation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := attestationSelect + ` WHERE 1=1`
	args := []interface{}{}
	if subject != "" {
		args = append(args, subject)
		query += fmt.Sprintf(" AND subject = $%d", len(args))
	}
	if schemaID != "" {
		args = append(args, schemaID)
		query += fmt.Sprintf(" AND schema_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attestation
	for rows.Next() {
		att, err := scanAttestation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *att)
	}
	return out, rows.Err()
}

const attestationSelect = `
	SELECT attestation_id, schema_id, attester, subject, data_hash,
	       payload_json, timestamp, expiration, revoked, revoked_by,
	       revoked_timestamp, created_at
	FROM attestations`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttestation(row rowScanner) (*Attestation, error) {
	var att Attestation
	var payload []byte
	var timestamp string
	var expiration, revokedTS sql.NullString
	var revokedBy sql.NullString

	err := row.Scan(
		&att.AttestationID, &att.SchemaID, &att.Attester, &att.Subject,
		&att.DataHash, &payload, &timestamp, &expiration, &att.Revoked,
		&revokedBy, &revokedTS, &att.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	att.Payload = payload
	if att.Timestamp, err = parseU64(timestamp); err != nil {
		return nil, err
	}
	if expiration.Valid {
		v, err := parseU64(expiration.String)
		if err != nil {
			return nil, err
		}
		att.Expiration = &v
	}
	if revokedBy.Valid {
		att.RevokedBy = &revokedBy.String
	}
	if revokedTS.Valid {
		v, err := parseU64(revokedTS.String)
		if err != nil {
			return nil, err
		}
		att.RevokedTimestamp = &v
	}
	return &att, nil
}

func formatU64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseU64(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func nullableU64(v *uint64) interface{} {
	if v == nil {
		return nil
	}
	return formatU64(*v)
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
