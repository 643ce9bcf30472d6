package submitter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"
	"go.uber.org/zap"

	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/ledger"
	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/store"
)

// Contract method names.
const (
	methodCreateSchema = "create_schema"
	methodAttest       = "attest"
	methodRevokeBy     = "revoke_by"
	methodVerify       = "verify"
	methodGetNonce     = "get_nonce"
)

const txTimeoutSeconds = 300

// Ledger is the remote write/read capability the submitter consumes.
type Ledger interface {
	AccountSequence(ctx context.Context, account string) (int64, error)
	Simulate(ctx context.Context, txBase64 string) (ledger.Simulation, error)
	Submit(ctx context.Context, txBase64 string) (string, error)
	Transaction(ctx context.Context, hash string) (ledger.TxResult, error)
}

// Mirror receives best-effort local inserts after a confirmed write.
// The indexer applies the same rows authoritatively from the event
// stream; both paths converge because inserts absorb duplicates.
type Mirror interface {
	InsertSchema(ctx context.Context, sc store.Schema) error
	InsertAttestation(ctx context.Context, att store.Attestation) error
}

// Options bounds the remote round trips of one submission.
type Options struct {
	MaxSendAttempts    int           // bad_nonce refresh attempts
	StatusPollAttempts int           // getTransaction polls per send
	StatusPollInterval time.Duration
}

// VerifyResult is the contract's view of one attestation.
type VerifyResult struct {
	Exists     bool    `json:"exists"`
	Valid      bool    `json:"valid"`
	Revoked    bool    `json:"revoked"`
	Expired    bool    `json:"expired"`
	SchemaID   string  `json:"schema_id"`
	Attester   string  `json:"attester"`
	Subject    string  `json:"subject"`
	DataHash   string  `json:"data_hash"`
	Timestamp  uint64  `json:"timestamp"`
	Expiration *uint64 `json:"expiration,omitempty"`
}

// Submitter drives contract writes through the simulate -> assemble ->
// sign -> send -> poll cycle, coordinating the per-attester nonce.
//
// The contract's atomic nonce check is the safety net: among racing
// submissions only one is accepted. Local per-attester serialization
// plus bounded retry-with-refresh turns most races into sequenced
// successes instead of user-visible failures.
type Submitter struct {
	remote     Ledger
	mirror     Mirror
	contractID string
	passphrase string
	opts       Options
	log        *zap.Logger

	locks sync.Map // attester address -> *sync.Mutex
}

func New(remote Ledger, mirror Mirror, contractID, networkPassphrase string, opts Options, log *zap.Logger) *Submitter {
	if opts.MaxSendAttempts <= 0 {
		opts.MaxSendAttempts = 3
	}
	if opts.StatusPollAttempts <= 0 {
		opts.StatusPollAttempts = 30
	}
	if opts.StatusPollInterval <= 0 {
		opts.StatusPollInterval = time.Second
	}
	return &Submitter{
		remote:     remote,
		mirror:     mirror,
		contractID: contractID,
		passphrase: networkPassphrase,
		opts:       opts,
		log:        log,
	}
}

// Nonce reads the authoritative per-attester counter from the contract.
// Never cached: callers must treat the value as stale the moment a
// competing submission lands.
func (s *Submitter) Nonce(ctx context.Context, attester string) (uint64, error) {
	attesterVal, err := ledger.AddressVal(attester)
	if err != nil {
		return 0, err
	}
	ret, err := s.readCall(ctx, attester, methodGetNonce, []xdr.ScVal{attesterVal})
	if err != nil {
		return 0, err
	}
	if ret.Type != xdr.ScValTypeScvU64 || ret.U64 == nil {
		return 0, fmt.Errorf("get_nonce returned %s, expected u64", ret.Type.String())
	}
	return uint64(*ret.U64), nil
}

// CreateSchema registers a schema and returns its id (the contract
// derives it as the descriptor URI hash).
func (s *Submitter) CreateSchema(ctx context.Context, signer *keypair.Full, uriHashHex string, revocable, expiresAllowed bool, attesterMode uint32) (string, error) {
	uriHash, err := ledger.BytesN32Val(uriHashHex)
	if err != nil {
		return "", fmt.Errorf("schema_uri_hash: %w", err)
	}
	creator, err := ledger.AddressVal(signer.Address())
	if err != nil {
		return "", err
	}

	args := []xdr.ScVal{
		creator,
		uriHash,
		ledger.BoolVal(revocable),
		ledger.BoolVal(expiresAllowed),
		ledger.U32Val(attesterMode),
	}
	result, err := s.writeCall(ctx, signer, methodCreateSchema, args)
	if err != nil {
		return "", err
	}

	schemaID, err := bytesN32Hex(result.ReturnValue)
	if err != nil {
		return "", fmt.Errorf("create_schema return value: %w", err)
	}

	// Best-effort: the indexer lands the authoritative row from the
	// SchemaCreated event; this keeps reads fresh in the meantime.
	mirrorErr := s.mirror.InsertSchema(ctx, store.Schema{
		SchemaID:       schemaID,
		Creator:        signer.Address(),
		SchemaURIHash:  uriHashHex,
		Revocable:      revocable,
		ExpiresAllowed: expiresAllowed,
		AttesterMode:   attesterMode,
		CreatedLedger:  uint64(result.Ledger),
	})
	if mirrorErr != nil {
		s.log.Warn("local schema insert failed", zap.String("schema_id", schemaID), zap.Error(mirrorErr))
	}
	return schemaID, nil
}

// Attest issues an attestation carrying the next per-attester nonce and
// returns the contract-assigned attestation id.
//
// Submissions for the same attester are serialized locally, and a
// bad_nonce rejection (a concurrent writer won the race between our
// read and our submit) refreshes the nonce and retries up to the
// configured bound before surfacing as a retriable failure.
func (s *Submitter) Attest(ctx context.Context, signer *keypair.Full, schemaIDHex, subject, dataHashHex string, expiration *uint64) (string, error) {
	attester := signer.Address()
	lock := s.attesterLock(attester)
	lock.Lock()
	defer lock.Unlock()

	schemaID, err := ledger.BytesN32Val(schemaIDHex)
	if err != nil {
		return "", fmt.Errorf("schema_id: %w", err)
	}
	dataHash, err := ledger.BytesN32Val(dataHashHex)
	if err != nil {
		return "", fmt.Errorf("data_hash: %w", err)
	}
	attesterVal, err := ledger.AddressVal(attester)
	if err != nil {
		return "", err
	}
	subjectVal, err := ledger.AddressVal(subject)
	if err != nil {
		return "", fmt.Errorf("subject: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxSendAttempts; attempt++ {
		current, err := s.Nonce(ctx, attester)
		if err != nil {
			return "", fmt.Errorf("reading nonce: %w", err)
		}
		next := current + 1

		args := []xdr.ScVal{
			attesterVal,
			schemaID,
			subjectVal,
			dataHash,
			ledger.OptionU64Val(expiration),
			ledger.U64Val(next),
		}
		result, err := s.writeCall(ctx, signer, methodAttest, args)
		if err != nil {
			if isStaleNonce(err) {
				lastErr = err
				s.log.Warn("stale nonce, refreshing",
					zap.String("attester", attester),
					zap.Uint64("submitted", next),
					zap.Int("attempt", attempt),
				)
				continue
			}
			return "", err
		}

		attestationID, err := bytesN32Hex(result.ReturnValue)
		if err != nil {
			return "", fmt.Errorf("attest return value: %w", err)
		}

		mirrorErr := s.mirror.InsertAttestation(ctx, store.Attestation{
			AttestationID: attestationID,
			SchemaID:      schemaIDHex,
			Attester:      attester,
			Subject:       subject,
			DataHash:      dataHashHex,
			Timestamp:     uint64(result.Ledger),
			Expiration:    expiration,
		})
		if mirrorErr != nil {
			s.log.Warn("local attestation insert failed",
				zap.String("attestation_id", attestationID), zap.Error(mirrorErr))
		}
		return attestationID, nil
	}
	return "", fmt.Errorf("nonce contended after %d attempts: %w", s.opts.MaxSendAttempts, lastErr)
}

// Revoke submits revoke_by for an attestation. The contract enforces
// that the revoker is the attester and the schema is revocable.
func (s *Submitter) Revoke(ctx context.Context, signer *keypair.Full, attestationIDHex string) error {
	attestationID, err := ledger.BytesN32Val(attestationIDHex)
	if err != nil {
		return fmt.Errorf("attestation_id: %w", err)
	}
	revoker, err := ledger.AddressVal(signer.Address())
	if err != nil {
		return err
	}
	_, err = s.writeCall(ctx, signer, methodRevokeBy, []xdr.ScVal{revoker, attestationID})
	return err
}

// Verify runs the contract's read-only verify and decodes its result.
// Returns (nil, nil) when the attestation does not exist.
func (s *Submitter) Verify(ctx context.Context, sourceAccount, attestationIDHex string) (*VerifyResult, error) {
	attestationID, err := ledger.BytesN32Val(attestationIDHex)
	if err != nil {
		return nil, fmt.Errorf("attestation_id: %w", err)
	}
	ret, err := s.readCall(ctx, sourceAccount, methodVerify, []xdr.ScVal{attestationID})
	if err != nil {
		return nil, err
	}
	if ret.Type == xdr.ScValTypeScvVoid {
		return nil, nil
	}
	return decodeVerifyResult(ret)
}

func (s *Submitter) attesterLock(attester string) *sync.Mutex {
	actual, _ := s.locks.LoadOrStore(attester, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func isStaleNonce(err error) bool {
	return err != nil && strings.Contains(err.Error(), "bad_nonce")
}

func bytesN32Hex(val xdr.ScVal) (string, error) {
	if val.Type != xdr.ScValTypeScvBytes || val.Bytes == nil {
		return "", fmt.Errorf("expected ScvBytes, got %s", val.Type.String())
	}
	return fmt.Sprintf("%x", []byte(*val.Bytes)), nil
}
