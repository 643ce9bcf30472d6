package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/ledger"
	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/store"
)

// Store is the slice of the relational mirror the indexer writes to.
// Inserts absorb duplicate keys; revocation updates treat zero affected
// rows as success. That idempotency, not locking, is what makes
// at-least-once delivery and concurrent writers safe.
type Store interface {
	State(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
	InsertSchema(ctx context.Context, sc store.Schema) error
	InsertAttestation(ctx context.Context, att store.Attestation) error
	RevokeAttestation(ctx context.Context, attestationID, revoker string, timestamp uint64) error
}

// Reconciler applies decoded events to the mirror and advances the
// checkpoint only after a fully applied batch.
type Reconciler struct {
	store Store
	log   *zap.Logger
}

func NewReconciler(st Store, log *zap.Logger) *Reconciler {
	return &Reconciler{store: st, log: log}
}

// ApplyBatch applies events in order, then advances the cursor. If any
// event fails to persist the batch is abandoned before the cursor moves;
// rows already upserted stay, and re-application next tick is safe.
func (r *Reconciler) ApplyBatch(ctx context.Context, events []ledger.Event, cursor string) error {
	for _, ev := range events {
		if err := r.apply(ctx, ev); err != nil {
			return err
		}
	}
	if cursor == "" {
		return nil
	}
	if err := r.store.SetState(ctx, store.KeyEventsCursor, cursor); err != nil {
		return fmt.Errorf("advancing cursor: %w", err)
	}
	return nil
}

// Checkpoint returns the current resume cursor, if one has been set.
func (r *Reconciler) Checkpoint(ctx context.Context) (string, bool, error) {
	return r.store.State(ctx, store.KeyEventsCursor)
}

func (r *Reconciler) apply(ctx context.Context, ev ledger.Event) error {
	switch e := ev.(type) {
	case ledger.SchemaCreated:
		err := r.store.InsertSchema(ctx, store.Schema{
			SchemaID:       e.SchemaID,
			Creator:        e.Creator,
			SchemaURIHash:  e.SchemaURIHash,
			Revocable:      e.Revocable,
			ExpiresAllowed: e.ExpiresAllowed,
			AttesterMode:   e.AttesterMode,
			CreatedLedger:  e.CreatedLedger,
		})
		if err != nil {
			return fmt.Errorf("inserting schema %s: %w", e.SchemaID, err)
		}
		r.log.Debug("schema mirrored", zap.String("schema_id", e.SchemaID))
		return nil

	case ledger.Attested:
		err := r.store.InsertAttestation(ctx, store.Attestation{
			AttestationID: e.AttestationID,
			SchemaID:      e.SchemaID,
			Attester:      e.Attester,
			Subject:       e.Subject,
			DataHash:      e.DataHash,
			Payload:       e.Payload,
			Timestamp:     e.Timestamp,
			Expiration:    e.Expiration,
		})
		if err != nil {
			return fmt.Errorf("inserting attestation %s: %w", e.AttestationID, err)
		}
		r.log.Debug("attestation mirrored", zap.String("attestation_id", e.AttestationID))
		return nil

	case ledger.Revoked:
		err := r.store.RevokeAttestation(ctx, e.AttestationID, e.Revoker, e.Timestamp)
		if err != nil {
			return fmt.Errorf("revoking attestation %s: %w", e.AttestationID, err)
		}
		r.log.Debug("revocation mirrored", zap.String("attestation_id", e.AttestationID))
		return nil

	default:
		return fmt.Errorf("unhandled event type %T", ev)
	}
}
