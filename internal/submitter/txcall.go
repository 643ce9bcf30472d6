package submitter

import (
	"context"
	"fmt"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"go.uber.org/zap"

	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/ledger"
)

// readCall simulates a contract invocation without submitting it. The
// source account only anchors the simulation; no fee is paid and no
// sequence number is consumed.
func (s *Submitter) readCall(ctx context.Context, sourceAccount, method string, args []xdr.ScVal) (xdr.ScVal, error) {
	seq, err := s.remote.AccountSequence(ctx, sourceAccount)
	if err != nil {
		return xdr.ScVal{}, err
	}

	op, err := s.invokeOp(method, args)
	if err != nil {
		return xdr.ScVal{}, err
	}
	tx, err := s.buildTx(sourceAccount, seq, op, txnbuild.MinBaseFee)
	if err != nil {
		return xdr.ScVal{}, fmt.Errorf("building %s transaction: %w", method, err)
	}
	txB64, err := tx.Base64()
	if err != nil {
		return xdr.ScVal{}, err
	}

	sim, err := s.remote.Simulate(ctx, txB64)
	if err != nil {
		return xdr.ScVal{}, fmt.Errorf("%s: %w", method, err)
	}
	return sim.ReturnValue, nil
}

// writeCall runs the full submission cycle: simulate the unsigned
// transaction, assemble it with the simulated resource footprint and
// auth entries, sign, send, and poll to a terminal status. No local
// state is committed anywhere in here; a failure leaves nothing behind.
func (s *Submitter) writeCall(ctx context.Context, signer *keypair.Full, method string, args []xdr.ScVal) (ledger.TxResult, error) {
	seq, err := s.remote.AccountSequence(ctx, signer.Address())
	if err != nil {
		return ledger.TxResult{}, err
	}

	op, err := s.invokeOp(method, args)
	if err != nil {
		return ledger.TxResult{}, err
	}
	tx, err := s.buildTx(signer.Address(), seq, op, txnbuild.MinBaseFee)
	if err != nil {
		return ledger.TxResult{}, fmt.Errorf("building %s transaction: %w", method, err)
	}
	txB64, err := tx.Base64()
	if err != nil {
		return ledger.TxResult{}, err
	}

	sim, err := s.remote.Simulate(ctx, txB64)
	if err != nil {
		return ledger.TxResult{}, fmt.Errorf("%s: %w", method, err)
	}

	// Rebuild with the simulated soroban resources and authorizations.
	if sim.TransactionData != "" {
		var sorobanData xdr.SorobanTransactionData
		if err := xdr.SafeUnmarshalBase64(sim.TransactionData, &sorobanData); err != nil {
			return ledger.TxResult{}, fmt.Errorf("unmarshal soroban transaction data: %w", err)
		}
		op.Ext = xdr.TransactionExt{V: 1, SorobanData: &sorobanData}
	}
	for _, authB64 := range sim.Auth {
		var entry xdr.SorobanAuthorizationEntry
		if err := xdr.SafeUnmarshalBase64(authB64, &entry); err != nil {
			return ledger.TxResult{}, fmt.Errorf("unmarshal auth entry: %w", err)
		}
		op.Auth = append(op.Auth, entry)
	}

	tx, err = s.buildTx(signer.Address(), seq, op, txnbuild.MinBaseFee+sim.MinResourceFee)
	if err != nil {
		return ledger.TxResult{}, fmt.Errorf("assembling %s transaction: %w", method, err)
	}
	tx, err = tx.Sign(s.passphrase, signer)
	if err != nil {
		return ledger.TxResult{}, fmt.Errorf("signing: %w", err)
	}
	signedB64, err := tx.Base64()
	if err != nil {
		return ledger.TxResult{}, err
	}

	hash, err := s.remote.Submit(ctx, signedB64)
	if err != nil {
		return ledger.TxResult{}, fmt.Errorf("%s: %w", method, err)
	}
	s.log.Info("transaction submitted",
		zap.String("method", method),
		zap.String("hash", hash),
	)

	return s.awaitTransaction(ctx, method, hash)
}

// awaitTransaction polls until the transaction reaches a terminal
// status or the attempt budget runs out.
func (s *Submitter) awaitTransaction(ctx context.Context, method, hash string) (ledger.TxResult, error) {
	for attempt := 0; attempt < s.opts.StatusPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ledger.TxResult{}, ctx.Err()
		case <-time.After(s.opts.StatusPollInterval):
		}

		result, err := s.remote.Transaction(ctx, hash)
		if err != nil {
			return ledger.TxResult{}, err
		}
		switch result.Status {
		case ledger.TxStatusSuccess:
			return result, nil
		case ledger.TxStatusFailed:
			return ledger.TxResult{}, fmt.Errorf("%s transaction %s failed on ledger", method, hash)
		case ledger.TxStatusNotFound:
			// Still pending.
		default:
			return ledger.TxResult{}, fmt.Errorf("%s transaction %s: unexpected status %q", method, hash, result.Status)
		}
	}
	return ledger.TxResult{}, fmt.Errorf("%s transaction %s not confirmed after %d polls", method, hash, s.opts.StatusPollAttempts)
}

func (s *Submitter) invokeOp(method string, args []xdr.ScVal) (*txnbuild.InvokeHostFunction, error) {
	contractAddr, err := ledger.ContractAddress(s.contractID)
	if err != nil {
		return nil, err
	}
	return &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: contractAddr,
				FunctionName:    xdr.ScSymbol(method),
				Args:            args,
			},
		},
	}, nil
}

func (s *Submitter) buildTx(sourceAccount string, seq int64, op *txnbuild.InvokeHostFunction, baseFee int64) (*txnbuild.Transaction, error) {
	return txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount: &txnbuild.SimpleAccount{
			AccountID: sourceAccount,
			Sequence:  seq,
		},
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              baseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(txTimeoutSeconds),
		},
	})
}

// decodeVerifyResult unpacks the contract's VerifyResult struct, which
// arrives as an ScMap keyed by field symbols.
func decodeVerifyResult(val xdr.ScVal) (*VerifyResult, error) {
	if val.Type != xdr.ScValTypeScvMap || val.Map == nil || *val.Map == nil {
		return nil, fmt.Errorf("verify returned %s, expected map", val.Type.String())
	}

	var out VerifyResult
	for _, entry := range []xdr.ScMapEntry(**val.Map) {
		if entry.Key.Type != xdr.ScValTypeScvSymbol || entry.Key.Sym == nil {
			return nil, fmt.Errorf("verify result has non-symbol key %s", entry.Key.Type.String())
		}
		name := string(*entry.Key.Sym)
		v := entry.Val

		var err error
		switch name {
		case "exists":
			err = scanBool(v, &out.Exists)
		case "valid":
			err = scanBool(v, &out.Valid)
		case "revoked":
			err = scanBool(v, &out.Revoked)
		case "expired":
			err = scanBool(v, &out.Expired)
		case "schema_id":
			out.SchemaID, err = bytesN32Hex(v)
		case "attester":
			out.Attester, err = addressString(v)
		case "subject":
			out.Subject, err = addressString(v)
		case "data_hash":
			out.DataHash, err = bytesN32Hex(v)
		case "timestamp":
			err = scanU64(v, &out.Timestamp)
		case "expiration":
			if v.Type != xdr.ScValTypeScvVoid {
				var exp uint64
				if err = scanU64(v, &exp); err == nil {
					out.Expiration = &exp
				}
			}
		default:
			// Tolerate fields added by future contract versions.
		}
		if err != nil {
			return nil, fmt.Errorf("verify result field %s: %w", name, err)
		}
	}
	return &out, nil
}

func scanBool(v xdr.ScVal, dst *bool) error {
	if v.Type != xdr.ScValTypeScvBool || v.B == nil {
		return fmt.Errorf("expected bool, got %s", v.Type.String())
	}
	*dst = *v.B
	return nil
}

func scanU64(v xdr.ScVal, dst *uint64) error {
	if v.Type != xdr.ScValTypeScvU64 || v.U64 == nil {
		return fmt.Errorf("expected u64, got %s", v.Type.String())
	}
	*dst = uint64(*v.U64)
	return nil
}

func addressString(v xdr.ScVal) (string, error) {
	j, err := ledger.ScValToJSON(v)
	if err != nil {
		return "", err
	}
	addr, ok := j.(string)
	if !ok {
		return "", fmt.Errorf("expected address, got %T", j)
	}
	return addr, nil
}
