package ledger

import (
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomContractAddress(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	addr, err := strkey.Encode(strkey.VersionByteContract, raw)
	require.NoError(t, err)
	return addr
}

func TestBytesN32RoundTrip(t *testing.T) {
	id := strings.Repeat("ab", 16) + strings.Repeat("0f", 16)

	val, err := BytesN32Val(id)
	require.NoError(t, err)

	got, err := scBytesHex(val)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Len(t, got, 64)
}

func TestBytesN32ValRejectsBadInput(t *testing.T) {
	_, err := BytesN32Val("zz")
	assert.Error(t, err)

	_, err = BytesN32Val("abcd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestAddressRoundTrip(t *testing.T) {
	account := keypair.MustRandom().Address()
	contract := randomContractAddress(t)

	for _, addr := range []string{account, contract} {
		val, err := AddressVal(addr)
		require.NoError(t, err)

		got, err := scAddress(val)
		require.NoError(t, err)
		assert.Equal(t, addr, got)
	}
}

func TestAddressValRejectsNonStrkey(t *testing.T) {
	_, err := AddressVal("not-an-address")
	assert.Error(t, err)
}

func TestContractAddress(t *testing.T) {
	contract := randomContractAddress(t)

	addr, err := ContractAddress(contract)
	require.NoError(t, err)
	assert.Equal(t, xdr.ScAddressTypeScAddressTypeContract, addr.Type)

	_, err = ContractAddress(keypair.MustRandom().Address())
	assert.Error(t, err)
}

func TestOptionU64(t *testing.T) {
	got, err := scOptionU64(OptionU64Val(nil))
	require.NoError(t, err)
	assert.Nil(t, got)

	v := uint64(18446744073709551615)
	got, err = scOptionU64(OptionU64Val(&v))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, v, *got)
}

func TestScValToJSONWideIntegers(t *testing.T) {
	u128 := xdr.ScVal{
		Type: xdr.ScValTypeScvU128,
		U128: &xdr.UInt128Parts{Hi: 1, Lo: 0},
	}
	got, err := ScValToJSON(u128)
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551616", got)

	i128 := xdr.ScVal{
		Type: xdr.ScValTypeScvI128,
		I128: &xdr.Int128Parts{Hi: -1, Lo: 18446744073709551615},
	}
	got, err = ScValToJSON(i128)
	require.NoError(t, err)
	assert.Equal(t, "-1", got)
}

func TestScValToJSONU64IsDecimalString(t *testing.T) {
	got, err := ScValToJSON(U64Val(18446744073709551615))
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551615", got)
}
