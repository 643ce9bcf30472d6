package submitter

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/ledger"
	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/store"
)

// fakeRemote emulates the contract's nonce bookkeeping: simulate and
// submit both reject an attest whose nonce is not current+1, with the
// same bad_nonce diagnostic the host emits.
type fakeRemote struct {
	mu             sync.Mutex
	nonces         map[string]uint64
	txs            map[string]ledger.TxResult
	acceptedNonces []uint64
	methods        []string
	lastAttestArgs []xdr.ScVal
	nextID         byte

	onSimulate  func(method string) // runs before nonce validation
	failOnChain bool                // terminal FAILED for every submission
	verifyValue *xdr.ScVal          // returned by the verify simulation
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		nonces: make(map[string]uint64),
		txs:    make(map[string]ledger.TxResult),
		nextID: 1,
	}
}

func (f *fakeRemote) AccountSequence(_ context.Context, account string) (int64, error) {
	if !strkey.IsValidEd25519PublicKey(account) {
		return 0, fmt.Errorf("not an account address %q", account)
	}
	return 1, nil
}

func (f *fakeRemote) Simulate(_ context.Context, txB64 string) (ledger.Simulation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	method, args, err := parseInvocation(txB64)
	if err != nil {
		return ledger.Simulation{}, err
	}
	if f.onSimulate != nil {
		f.onSimulate(method)
	}

	switch method {
	case methodGetNonce:
		attester, err := scAddressString(args[0])
		if err != nil {
			return ledger.Simulation{}, err
		}
		return ledger.Simulation{ReturnValue: ledger.U64Val(f.nonces[attester])}, nil

	case methodVerify:
		if f.verifyValue == nil {
			return ledger.Simulation{ReturnValue: xdr.ScVal{Type: xdr.ScValTypeScvVoid}}, nil
		}
		return ledger.Simulation{ReturnValue: *f.verifyValue}, nil

	case methodAttest:
		if err := f.checkNonce(args); err != nil {
			return ledger.Simulation{}, err
		}
		return ledger.Simulation{MinResourceFee: 100}, nil

	default:
		return ledger.Simulation{MinResourceFee: 100}, nil
	}
}

func (f *fakeRemote) Submit(_ context.Context, txB64 string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	method, args, err := parseInvocation(txB64)
	if err != nil {
		return "", err
	}
	f.methods = append(f.methods, method)

	hash := fmt.Sprintf("tx-%d", len(f.txs)+1)
	if f.failOnChain {
		f.txs[hash] = ledger.TxResult{Status: ledger.TxStatusFailed}
		return hash, nil
	}

	result := ledger.TxResult{Status: ledger.TxStatusSuccess, Ledger: 9000}
	switch method {
	case methodAttest:
		if err := f.checkNonce(args); err != nil {
			return "", err
		}
		f.lastAttestArgs = args
		attester, err := scAddressString(args[0])
		if err != nil {
			return "", err
		}
		f.nonces[attester]++
		f.acceptedNonces = append(f.acceptedNonces, f.nonces[attester])
		result.ReturnValue = f.mintID()
	case methodCreateSchema:
		// The contract derives the schema id from the descriptor hash.
		result.ReturnValue = args[1]
	}
	f.txs[hash] = result
	return hash, nil
}

func (f *fakeRemote) Transaction(_ context.Context, hash string) (ledger.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.txs[hash]
	if !ok {
		return ledger.TxResult{Status: ledger.TxStatusNotFound}, nil
	}
	return result, nil
}

func (f *fakeRemote) checkNonce(args []xdr.ScVal) error {
	attester, err := scAddressString(args[0])
	if err != nil {
		return err
	}
	submitted, err := scU64Value(args[5])
	if err != nil {
		return err
	}
	if submitted != f.nonces[attester]+1 {
		return fmt.Errorf("HostError: Error(Contract, #4), bad_nonce")
	}
	return nil
}

func (f *fakeRemote) mintID() xdr.ScVal {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = f.nextID
	}
	f.nextID++
	b := xdr.ScBytes(raw)
	return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: &b}
}

func parseInvocation(txB64 string) (string, []xdr.ScVal, error) {
	var env xdr.TransactionEnvelope
	if err := xdr.SafeUnmarshalBase64(txB64, &env); err != nil {
		return "", nil, err
	}
	ops := env.Operations()
	if len(ops) != 1 {
		return "", nil, fmt.Errorf("expected 1 operation, got %d", len(ops))
	}
	invoke, ok := ops[0].Body.GetInvokeHostFunctionOp()
	if !ok {
		return "", nil, fmt.Errorf("expected InvokeHostFunctionOp")
	}
	contract, ok := invoke.HostFunction.GetInvokeContract()
	if !ok {
		return "", nil, fmt.Errorf("expected InvokeContract host function")
	}
	return string(contract.FunctionName), contract.Args, nil
}

func scAddressString(v xdr.ScVal) (string, error) {
	j, err := ledger.ScValToJSON(v)
	if err != nil {
		return "", err
	}
	addr, ok := j.(string)
	if !ok {
		return "", fmt.Errorf("expected address string, got %T", j)
	}
	return addr, nil
}

func scU64Value(v xdr.ScVal) (uint64, error) {
	if v.Type != xdr.ScValTypeScvU64 || v.U64 == nil {
		return 0, fmt.Errorf("expected u64, got %s", v.Type.String())
	}
	return uint64(*v.U64), nil
}

type fakeMirror struct {
	mu           sync.Mutex
	schemas      []store.Schema
	attestations []store.Attestation
}

func (m *fakeMirror) InsertSchema(_ context.Context, sc store.Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas = append(m.schemas, sc)
	return nil
}

func (m *fakeMirror) InsertAttestation(_ context.Context, att store.Attestation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attestations = append(m.attestations, att)
	return nil
}

func testContractID(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	id, err := strkey.Encode(strkey.VersionByteContract, raw)
	require.NoError(t, err)
	return id
}

func newTestSubmitter(t *testing.T, remote *fakeRemote, mirror *fakeMirror) *Submitter {
	t.Helper()
	opts := Options{
		MaxSendAttempts:    3,
		StatusPollAttempts: 5,
		StatusPollInterval: time.Millisecond,
	}
	return New(remote, mirror, testContractID(t), network.TestNetworkPassphrase, opts, zap.NewNop())
}

func TestNonceReadsContractCounter(t *testing.T) {
	remote := newFakeRemote()
	signer := keypair.MustRandom()
	remote.nonces[signer.Address()] = 41

	s := newTestSubmitter(t, remote, &fakeMirror{})
	nonce, err := s.Nonce(context.Background(), signer.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(41), nonce)
}

func TestNonceContractAttesterReturnsError(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSubmitter(t, remote, &fakeMirror{})

	// A contract address is a valid attester identity on the contract,
	// but it cannot anchor the simulation: this must surface as an
	// error, never a panic in the handler.
	nonce, err := s.Nonce(context.Background(), testContractID(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an account address")
	assert.Zero(t, nonce)
}

func TestAttestSequencesNonces(t *testing.T) {
	remote := newFakeRemote()
	mirror := &fakeMirror{}
	signer := keypair.MustRandom()
	remote.nonces[signer.Address()] = 5
	s := newTestSubmitter(t, remote, mirror)

	subject := keypair.MustRandom().Address()
	schemaID := strings.Repeat("11", 32)
	dataHash := strings.Repeat("22", 32)

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		id, err := s.Attest(context.Background(), signer, schemaID, subject, dataHash, nil)
		require.NoError(t, err)
		assert.Len(t, id, 64)
		assert.False(t, seen[id], "attestation ids must be distinct")
		seen[id] = true
	}

	assert.Equal(t, []uint64{6, 7, 8}, remote.acceptedNonces)
	require.Len(t, mirror.attestations, 3)
	assert.Equal(t, uint64(9000), mirror.attestations[0].Timestamp)
	assert.Equal(t, signer.Address(), mirror.attestations[0].Attester)
}

func TestAttestRefreshesOnStaleNonce(t *testing.T) {
	remote := newFakeRemote()
	mirror := &fakeMirror{}
	signer := keypair.MustRandom()
	s := newTestSubmitter(t, remote, mirror)

	// A competing writer lands between our nonce read and our submit:
	// bump the contract counter once, under the first attest simulation.
	bumped := false
	remote.onSimulate = func(method string) {
		if method == methodAttest && !bumped {
			bumped = true
			remote.nonces[signer.Address()]++
		}
	}

	id, err := s.Attest(context.Background(), signer,
		strings.Repeat("11", 32), keypair.MustRandom().Address(), strings.Repeat("22", 32), nil)
	require.NoError(t, err)
	assert.Len(t, id, 64)
	assert.Equal(t, []uint64{2}, remote.acceptedNonces)
	assert.Len(t, mirror.attestations, 1)
}

func TestAttestGivesUpWhenNonceStaysContended(t *testing.T) {
	remote := newFakeRemote()
	mirror := &fakeMirror{}
	signer := keypair.MustRandom()
	s := newTestSubmitter(t, remote, mirror)

	// Every attempt loses the race.
	remote.onSimulate = func(method string) {
		if method == methodAttest {
			remote.nonces[signer.Address()]++
		}
	}

	_, err := s.Attest(context.Background(), signer,
		strings.Repeat("11", 32), keypair.MustRandom().Address(), strings.Repeat("22", 32), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce contended")
	assert.Empty(t, mirror.attestations)
}

func TestAttestOnChainFailureLeavesNoLocalRow(t *testing.T) {
	remote := newFakeRemote()
	remote.failOnChain = true
	mirror := &fakeMirror{}
	signer := keypair.MustRandom()
	s := newTestSubmitter(t, remote, mirror)

	_, err := s.Attest(context.Background(), signer,
		strings.Repeat("11", 32), keypair.MustRandom().Address(), strings.Repeat("22", 32), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed on ledger")
	assert.Empty(t, mirror.attestations)
}

func TestAttestSerializesConcurrentSubmissions(t *testing.T) {
	remote := newFakeRemote()
	mirror := &fakeMirror{}
	signer := keypair.MustRandom()
	s := newTestSubmitter(t, remote, mirror)

	subject := keypair.MustRandom().Address()
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Attest(context.Background(), signer,
				strings.Repeat("11", 32), subject, strings.Repeat("22", 32), nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4}, remote.acceptedNonces)
	assert.Len(t, mirror.attestations, 4)
}

func TestAttestPassesExpiration(t *testing.T) {
	remote := newFakeRemote()
	mirror := &fakeMirror{}
	signer := keypair.MustRandom()
	s := newTestSubmitter(t, remote, mirror)

	exp := uint64(123456)
	_, err := s.Attest(context.Background(), signer,
		strings.Repeat("11", 32), keypair.MustRandom().Address(), strings.Repeat("22", 32), &exp)
	require.NoError(t, err)

	require.Len(t, remote.lastAttestArgs, 6)
	got, err := scU64Value(remote.lastAttestArgs[4])
	require.NoError(t, err)
	assert.Equal(t, exp, got)

	require.Len(t, mirror.attestations, 1)
	require.NotNil(t, mirror.attestations[0].Expiration)
	assert.Equal(t, exp, *mirror.attestations[0].Expiration)
}

func TestCreateSchemaReturnsDerivedID(t *testing.T) {
	remote := newFakeRemote()
	mirror := &fakeMirror{}
	signer := keypair.MustRandom()
	s := newTestSubmitter(t, remote, mirror)

	uriHash := strings.Repeat("ab", 32)
	id, err := s.CreateSchema(context.Background(), signer, uriHash, true, false, 1)
	require.NoError(t, err)
	assert.Equal(t, uriHash, id)

	require.Len(t, mirror.schemas, 1)
	assert.Equal(t, uriHash, mirror.schemas[0].SchemaID)
	assert.Equal(t, signer.Address(), mirror.schemas[0].Creator)
	assert.Equal(t, uint64(9000), mirror.schemas[0].CreatedLedger)
}

func TestRevokeSubmitsRevokeBy(t *testing.T) {
	remote := newFakeRemote()
	signer := keypair.MustRandom()
	s := newTestSubmitter(t, remote, &fakeMirror{})

	err := s.Revoke(context.Background(), signer, strings.Repeat("bb", 32))
	require.NoError(t, err)
	assert.Contains(t, remote.methods, methodRevokeBy)
}

func TestVerifyDecodesResult(t *testing.T) {
	remote := newFakeRemote()
	signer := keypair.MustRandom()
	attester := keypair.MustRandom().Address()
	s := newTestSubmitter(t, remote, &fakeMirror{})

	attesterVal, err := ledger.AddressVal(attester)
	require.NoError(t, err)
	idVal, err := ledger.BytesN32Val(strings.Repeat("11", 32))
	require.NoError(t, err)
	hashVal, err := ledger.BytesN32Val(strings.Repeat("22", 32))
	require.NoError(t, err)

	v := verifyMap(
		mapEntry("exists", boolSc(true)),
		mapEntry("valid", boolSc(false)),
		mapEntry("revoked", boolSc(true)),
		mapEntry("expired", boolSc(false)),
		mapEntry("schema_id", idVal),
		mapEntry("attester", attesterVal),
		mapEntry("subject", attesterVal),
		mapEntry("data_hash", hashVal),
		mapEntry("timestamp", ledger.U64Val(9901)),
		mapEntry("expiration", xdr.ScVal{Type: xdr.ScValTypeScvVoid}),
	)
	remote.verifyValue = &v

	result, err := s.Verify(context.Background(), signer.Address(), strings.Repeat("bb", 32))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Exists)
	assert.False(t, result.Valid)
	assert.True(t, result.Revoked)
	assert.Equal(t, strings.Repeat("11", 32), result.SchemaID)
	assert.Equal(t, attester, result.Attester)
	assert.Equal(t, uint64(9901), result.Timestamp)
	assert.Nil(t, result.Expiration)
}

func TestVerifyMissingAttestation(t *testing.T) {
	remote := newFakeRemote()
	signer := keypair.MustRandom()
	s := newTestSubmitter(t, remote, &fakeMirror{})

	result, err := s.Verify(context.Background(), signer.Address(), strings.Repeat("bb", 32))
	require.NoError(t, err)
	assert.Nil(t, result)
}

func boolSc(b bool) xdr.ScVal {
	return ledger.BoolVal(b)
}

func mapEntry(key string, val xdr.ScVal) xdr.ScMapEntry {
	sym := xdr.ScSymbol(key)
	return xdr.ScMapEntry{
		Key: xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym},
		Val: val,
	}
}

func verifyMap(entries ...xdr.ScMapEntry) xdr.ScVal {
	m := xdr.ScMap(entries)
	pm := &m
	return xdr.ScVal{Type: xdr.ScValTypeScvMap, Map: &pm}
}
