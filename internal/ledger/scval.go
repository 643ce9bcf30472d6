package ledger

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// Extraction helpers. Ledger-native values are pulled out of ScVals into
// explicit Go types; byte sequences render as lowercase hex and anything
// 64-bit stays integral end to end.

func scBytesHex(val xdr.ScVal) (string, error) {
	if val.Type != xdr.ScValTypeScvBytes || val.Bytes == nil {
		return "", fmt.Errorf("expected ScvBytes, got %s", val.Type.String())
	}
	return strings.ToLower(hex.EncodeToString(*val.Bytes)), nil
}

func scAddress(val xdr.ScVal) (string, error) {
	if val.Type != xdr.ScValTypeScvAddress || val.Address == nil {
		return "", fmt.Errorf("expected ScvAddress, got %s", val.Type.String())
	}
	addr := *val.Address
	switch addr.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		if addr.AccountId == nil {
			return "", fmt.Errorf("account address has nil AccountId")
		}
		accountID := addr.AccountId.Ed25519
		return strkey.Encode(strkey.VersionByteAccountID, accountID[:])
	case xdr.ScAddressTypeScAddressTypeContract:
		if addr.ContractId == nil {
			return "", fmt.Errorf("contract address has nil ContractId")
		}
		contractID := *addr.ContractId
		return strkey.Encode(strkey.VersionByteContract, contractID[:])
	default:
		return "", fmt.Errorf("unknown ScAddress type: %v", addr.Type)
	}
}

func scBool(val xdr.ScVal) (bool, error) {
	if val.Type != xdr.ScValTypeScvBool || val.B == nil {
		return false, fmt.Errorf("expected ScvBool, got %s", val.Type.String())
	}
	return *val.B, nil
}

func scU32(val xdr.ScVal) (uint32, error) {
	if val.Type != xdr.ScValTypeScvU32 || val.U32 == nil {
		return 0, fmt.Errorf("expected ScvU32, got %s", val.Type.String())
	}
	return uint32(*val.U32), nil
}

func scU64(val xdr.ScVal) (uint64, error) {
	if val.Type != xdr.ScValTypeScvU64 || val.U64 == nil {
		return 0, fmt.Errorf("expected ScvU64, got %s", val.Type.String())
	}
	return uint64(*val.U64), nil
}

// scOptionU64 decodes an Option<u64>: Void means absent.
func scOptionU64(val xdr.ScVal) (*uint64, error) {
	if val.Type == xdr.ScValTypeScvVoid {
		return nil, nil
	}
	v, err := scU64(val)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func scSymbol(val xdr.ScVal) (string, bool) {
	if val.Type != xdr.ScValTypeScvSymbol || val.Sym == nil {
		return "", false
	}
	return string(*val.Sym), true
}

// scVec unpacks a tuple payload, requiring at least want elements.
func scVec(val xdr.ScVal, want int) ([]xdr.ScVal, error) {
	if val.Type != xdr.ScValTypeScvVec || val.Vec == nil || *val.Vec == nil {
		return nil, fmt.Errorf("expected ScvVec, got %s", val.Type.String())
	}
	fields := []xdr.ScVal(**val.Vec)
	if len(fields) < want {
		return nil, fmt.Errorf("expected at least %d tuple fields, got %d", want, len(fields))
	}
	return fields, nil
}

// Builder helpers for composing contract call arguments.

// BytesN32Val builds a BytesN<32> argument from its lowercase hex form.
func BytesN32Val(hexID string) (xdr.ScVal, error) {
	raw, err := hex.DecodeString(hexID)
	if err != nil {
		return xdr.ScVal{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != 32 {
		return xdr.ScVal{}, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	b := xdr.ScBytes(raw)
	return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: &b}, nil
}

// AddressVal builds an address argument from a strkey (G... or C...).
func AddressVal(address string) (xdr.ScVal, error) {
	var addr xdr.ScAddress
	switch {
	case strkey.IsValidEd25519PublicKey(address):
		accountID := xdr.MustAddress(address)
		addr = xdr.ScAddress{
			Type:      xdr.ScAddressTypeScAddressTypeAccount,
			AccountId: &accountID,
		}
	case strkey.IsValidContractAddress(address):
		raw, err := strkey.Decode(strkey.VersionByteContract, address)
		if err != nil {
			return xdr.ScVal{}, err
		}
		var contractID xdr.ContractId
		copy(contractID[:], raw)
		addr = xdr.ScAddress{
			Type:       xdr.ScAddressTypeScAddressTypeContract,
			ContractId: &contractID,
		}
	default:
		return xdr.ScVal{}, fmt.Errorf("not a valid strkey address: %q", address)
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &addr}, nil
}

// ContractAddress decodes a C... strkey into an ScAddress.
func ContractAddress(contractID string) (xdr.ScAddress, error) {
	raw, err := strkey.Decode(strkey.VersionByteContract, contractID)
	if err != nil {
		return xdr.ScAddress{}, fmt.Errorf("invalid contract id %q: %w", contractID, err)
	}
	var id xdr.ContractId
	copy(id[:], raw)
	return xdr.ScAddress{
		Type:       xdr.ScAddressTypeScAddressTypeContract,
		ContractId: &id,
	}, nil
}

func BoolVal(b bool) xdr.ScVal {
	return xdr.ScVal{Type: xdr.ScValTypeScvBool, B: &b}
}

func U32Val(v uint32) xdr.ScVal {
	u := xdr.Uint32(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU32, U32: &u}
}

func U64Val(v uint64) xdr.ScVal {
	u := xdr.Uint64(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &u}
}

// OptionU64Val builds an Option<u64> argument: nil encodes as Void.
func OptionU64Val(v *uint64) xdr.ScVal {
	if v == nil {
		return xdr.ScVal{Type: xdr.ScValTypeScvVoid}
	}
	return U64Val(*v)
}

// ScValToJSON converts an ScVal to a JSON-serializable value for the
// opaque payload column. Covers the value shapes the EAS contract emits
// plus the wide-integer types, which convert through big.Int so they
// never lose precision in a float.
func ScValToJSON(val xdr.ScVal) (interface{}, error) {
	switch val.Type {
	case xdr.ScValTypeScvBool:
		if val.B == nil {
			return nil, fmt.Errorf("ScvBool has nil value")
		}
		return *val.B, nil

	case xdr.ScValTypeScvVoid:
		return nil, nil

	case xdr.ScValTypeScvU32:
		if val.U32 == nil {
			return nil, fmt.Errorf("ScvU32 has nil value")
		}
		return uint32(*val.U32), nil

	case xdr.ScValTypeScvU64:
		if val.U64 == nil {
			return nil, fmt.Errorf("ScvU64 has nil value")
		}
		// Decimal string: u64 does not fit in a JSON number.
		return fmt.Sprintf("%d", uint64(*val.U64)), nil

	case xdr.ScValTypeScvU128:
		if val.U128 == nil {
			return nil, fmt.Errorf("ScvU128 has nil value")
		}
		return uint128String(*val.U128), nil

	case xdr.ScValTypeScvI128:
		if val.I128 == nil {
			return nil, fmt.Errorf("ScvI128 has nil value")
		}
		return int128String(*val.I128), nil

	case xdr.ScValTypeScvSymbol:
		if val.Sym == nil {
			return nil, fmt.Errorf("ScvSymbol has nil value")
		}
		return string(*val.Sym), nil

	case xdr.ScValTypeScvString:
		if val.Str == nil {
			return nil, fmt.Errorf("ScvString has nil value")
		}
		return string(*val.Str), nil

	case xdr.ScValTypeScvBytes:
		return scBytesHex(val)

	case xdr.ScValTypeScvAddress:
		return scAddress(val)

	case xdr.ScValTypeScvVec:
		if val.Vec == nil || *val.Vec == nil {
			return nil, fmt.Errorf("ScvVec has nil value")
		}
		items := []xdr.ScVal(**val.Vec)
		result := make([]interface{}, 0, len(items))
		for _, item := range items {
			converted, err := ScValToJSON(item)
			if err != nil {
				return nil, err
			}
			result = append(result, converted)
		}
		return result, nil

	case xdr.ScValTypeScvMap:
		if val.Map == nil || *val.Map == nil {
			return nil, fmt.Errorf("ScvMap has nil value")
		}
		entries := []xdr.ScMapEntry(**val.Map)
		result := make(map[string]interface{}, len(entries))
		for _, entry := range entries {
			key, err := ScValToJSON(entry.Key)
			if err != nil {
				return nil, err
			}
			value, err := ScValToJSON(entry.Val)
			if err != nil {
				return nil, err
			}
			result[fmt.Sprintf("%v", key)] = value
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported ScVal type: %s", val.Type.String())
	}
}

func uint128String(val xdr.UInt128Parts) string {
	hi := new(big.Int).SetUint64(uint64(val.Hi))
	lo := new(big.Int).SetUint64(uint64(val.Lo))
	hi.Lsh(hi, 64)
	hi.Add(hi, lo)
	return hi.String()
}

func int128String(val xdr.Int128Parts) string {
	hi := new(big.Int).SetUint64(uint64(val.Hi))
	lo := new(big.Int).SetUint64(uint64(val.Lo))

	// Two's complement for negative numbers.
	if uint64(val.Hi)&(uint64(1)<<63) != 0 {
		hi.Sub(hi, new(big.Int).Lsh(big.NewInt(1), 64))
	}

	hi.Lsh(hi, 64)
	hi.Add(hi, lo)
	return hi.String()
}
