package api

import (
	"context"

	"github.com/stellar/go/keypair"

	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/submitter"
)

// SignerWriter binds the service signing key to the submitter, so
// handlers never touch key material. The signer is both the fee payer
// and the attester identity for writes issued through this API.
type SignerWriter struct {
	sub    *submitter.Submitter
	signer *keypair.Full
}

func NewSignerWriter(sub *submitter.Submitter, signer *keypair.Full) *SignerWriter {
	return &SignerWriter{sub: sub, signer: signer}
}

func (w *SignerWriter) CreateSchema(ctx context.Context, uriHashHex string, revocable, expiresAllowed bool, attesterMode uint32) (string, error) {
	return w.sub.CreateSchema(ctx, w.signer, uriHashHex, revocable, expiresAllowed, attesterMode)
}

func (w *SignerWriter) Attest(ctx context.Context, schemaIDHex, subject, dataHashHex string, expiration *uint64) (string, error) {
	return w.sub.Attest(ctx, w.signer, schemaIDHex, subject, dataHashHex, expiration)
}

func (w *SignerWriter) Revoke(ctx context.Context, attestationIDHex string) error {
	return w.sub.Revoke(ctx, w.signer, attestationIDHex)
}

func (w *SignerWriter) Verify(ctx context.Context, attestationIDHex string) (*submitter.VerifyResult, error) {
	return w.sub.Verify(ctx, w.signer.Address(), attestationIDHex)
}

func (w *SignerWriter) Nonce(ctx context.Context, attester string) (uint64, error) {
	return w.sub.Nonce(ctx, attester)
}
