package ledger

import (
	"strings"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func symVal(s string) xdr.ScVal {
	sym := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
}

func bytesVal(t *testing.T, b byte) xdr.ScVal {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = b
	}
	sc := xdr.ScBytes(raw)
	return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: &sc}
}

func vecVal(fields ...xdr.ScVal) xdr.ScVal {
	vec := xdr.ScVec(fields)
	pv := &vec
	return xdr.ScVal{Type: xdr.ScValTypeScvVec, Vec: &pv}
}

func addrVal(t *testing.T, address string) xdr.ScVal {
	t.Helper()
	v, err := AddressVal(address)
	require.NoError(t, err)
	return v
}

func TestDecodeSchemaCreated(t *testing.T) {
	creator := keypair.MustRandom().Address()
	raw := RawEvent{
		ID:     "0000001-1",
		Topics: []xdr.ScVal{symVal("SchemaCreated")},
		Value: vecVal(
			bytesVal(t, 0xAA),
			addrVal(t, creator),
			bytesVal(t, 0xAA),
			BoolVal(true),
			BoolVal(false),
			U32Val(1),
			U64Val(12345),
		),
	}

	ev, err := Decode(raw)
	require.NoError(t, err)
	sc, ok := ev.(SchemaCreated)
	require.True(t, ok, "expected SchemaCreated, got %T", ev)

	assert.Equal(t, strings.Repeat("aa", 32), sc.SchemaID)
	assert.Len(t, sc.SchemaID, 64)
	assert.Equal(t, creator, sc.Creator)
	assert.Equal(t, strings.Repeat("aa", 32), sc.SchemaURIHash)
	assert.True(t, sc.Revocable)
	assert.False(t, sc.ExpiresAllowed)
	assert.Equal(t, uint32(1), sc.AttesterMode)
	assert.Equal(t, uint64(12345), sc.CreatedLedger)
}

func TestDecodeAttested(t *testing.T) {
	attester := keypair.MustRandom().Address()
	subject := keypair.MustRandom().Address()

	tests := []struct {
		name       string
		expiration xdr.ScVal
		want       *uint64
	}{
		{"no expiration", xdr.ScVal{Type: xdr.ScValTypeScvVoid}, nil},
		{"with expiration", U64Val(777), u64ptr(777)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := RawEvent{
				Topics: []xdr.ScVal{symVal("Attested")},
				Value: vecVal(
					bytesVal(t, 0xBB),
					bytesVal(t, 0xAA),
					addrVal(t, attester),
					addrVal(t, subject),
					bytesVal(t, 0x09),
					U64Val(18446744073709551615),
					tt.expiration,
				),
			}

			ev, err := Decode(raw)
			require.NoError(t, err)
			att, ok := ev.(Attested)
			require.True(t, ok, "expected Attested, got %T", ev)

			assert.Equal(t, strings.Repeat("bb", 32), att.AttestationID)
			assert.Equal(t, strings.Repeat("aa", 32), att.SchemaID)
			assert.Equal(t, attester, att.Attester)
			assert.Equal(t, subject, att.Subject)
			assert.Equal(t, strings.Repeat("09", 32), att.DataHash)
			assert.Equal(t, uint64(18446744073709551615), att.Timestamp)
			assert.Equal(t, tt.want, att.Expiration)

			// The opaque payload must carry u64 values as exact decimal
			// strings, never a float rendering.
			assert.Contains(t, string(att.Payload), `"18446744073709551615"`)
			assert.NotContains(t, string(att.Payload), "e+19")
		})
	}
}

func TestDecodeRevoked(t *testing.T) {
	revoker := keypair.MustRandom().Address()
	raw := RawEvent{
		Topics: []xdr.ScVal{symVal("Revoked")},
		Value: vecVal(
			bytesVal(t, 0xBB),
			addrVal(t, revoker),
			U64Val(42),
		),
	}

	ev, err := Decode(raw)
	require.NoError(t, err)
	rv, ok := ev.(Revoked)
	require.True(t, ok, "expected Revoked, got %T", ev)

	assert.Equal(t, strings.Repeat("bb", 32), rv.AttestationID)
	assert.Equal(t, revoker, rv.Revoker)
	assert.Equal(t, uint64(42), rv.Timestamp)
}

func TestDecodeSkipsUnrecognized(t *testing.T) {
	tests := []struct {
		name string
		raw  RawEvent
	}{
		{"no topics", RawEvent{}},
		{"non-symbol topic", RawEvent{Topics: []xdr.ScVal{U64Val(1)}}},
		{"unknown kind", RawEvent{Topics: []xdr.ScVal{symVal("Upgraded")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(tt.raw)
			assert.NoError(t, err)
			assert.Nil(t, ev)
		})
	}
}

func TestDecodeMalformedPayloadFails(t *testing.T) {
	// Known kind with too few tuple fields is a hard decode error, not a
	// skip: the batch must be abandoned and retried.
	raw := RawEvent{
		ID:     "0000002-0",
		Topics: []xdr.ScVal{symVal("Revoked")},
		Value:  vecVal(bytesVal(t, 0xBB)),
	}
	_, err := Decode(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0000002-0")

	// Non-tuple value.
	raw.Value = U64Val(7)
	_, err = Decode(raw)
	assert.Error(t, err)
}

func u64ptr(v uint64) *uint64 { return &v }
