package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a recoverable secp256k1 signature (r || s || v).
const SignatureLength = 65

var ErrInvalidSignatureLength = errors.New("crypto: signature must be 65 bytes")

// PersonalDigest applies the "\x19Ethereum Signed Message:\n32" prefix to a
// 32-byte message hash and hashes the result.
func PersonalDigest(hash []byte) []byte {
	return accounts.TextHash(hash)
}

// SignPersonal signs hash under the personal-message prefix. The recovery id
// is returned in the 27/28 form that wallets produce.
func SignPersonal(key *PrivateKey, hash []byte) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	sig, err := crypto.Sign(PersonalDigest(hash), key.PrivateKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverPersonal returns the address that produced sig over hash using the
// personal-message prefix. Both 0/1 and 27/28 recovery ids are accepted.
func RecoverPersonal(hash, sig []byte) (Address, error) {
	if len(sig) != SignatureLength {
		return Address{}, ErrInvalidSignatureLength
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return Address{}, fmt.Errorf("crypto: invalid recovery id %d", sig[64])
	}
	pub, err := crypto.SigToPub(PersonalDigest(hash), normalized)
	if err != nil {
		return Address{}, err
	}
	return Address(crypto.PubkeyToAddress(*pub)), nil
}
