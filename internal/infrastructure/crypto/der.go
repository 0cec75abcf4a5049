package crypto

import (
	"encoding/asn1"
	"fmt"
	"math/big"
)

type ecdsaSignature struct {
	R, S *big.Int
}

// derToRaw converts an ASN.1 DER ECDSA signature into fixed-width R||S.
func derToRaw(der []byte, size int) ([]byte, error) {
	var sig ecdsaSignature
	rest, err := asn1.Unmarshal(der, &sig)
	if err != nil {
		return nil, fmt.Errorf("parse ecdsa signature: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("parse ecdsa signature: %d trailing bytes", len(rest))
	}
	if sig.R == nil || sig.S == nil || sig.R.Sign() <= 0 || sig.S.Sign() <= 0 {
		return nil, fmt.Errorf("parse ecdsa signature: non-positive component")
	}
	if len(sig.R.Bytes()) > size || len(sig.S.Bytes()) > size {
		return nil, fmt.Errorf("parse ecdsa signature: component exceeds %d bytes", size)
	}
	out := make([]byte, 2*size)
	sig.R.FillBytes(out[:size])
	sig.S.FillBytes(out[size:])
	return out, nil
}
