package lending

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"nftlend/crypto"
)

// IntentMessage is everything the platform signer commits to when it
// authorises a borrow or an extension.
type IntentMessage struct {
	Intent     BorrowIntent
	Collection crypto.Address
	TokenIDs   PackedTokenIDs
	// Module and ChainID bind the signature to one deployment.
	Module  crypto.Address
	ChainID *big.Int
}

// Hash returns keccak256 over the tightly packed encoding
// offerId ‖ collection ‖ loanAmount ‖ repayAmount ‖ duration ‖ nonce ‖
// tokenIds ‖ module ‖ chainId, where integers are 32-byte big-endian words,
// addresses 20 bytes and the token id record its raw 20 bytes.
func (m IntentMessage) Hash() ([]byte, error) {
	words := make([][]byte, 0, 9)
	appendWord := func(label string, v *big.Int) error {
		if v == nil {
			v = new(big.Int)
		}
		if v.Sign() < 0 {
			return fmt.Errorf("%w: negative %s", ErrInvalidParams, label)
		}
		word, overflow := uint256.FromBig(v)
		if overflow {
			return fmt.Errorf("%w: %s exceeds 256 bits", ErrInvalidParams, label)
		}
		b := word.Bytes32()
		words = append(words, b[:])
		return nil
	}
	uintWord := func(v uint64) []byte {
		b := uint256.NewInt(v).Bytes32()
		return b[:]
	}

	words = append(words, uintWord(m.Intent.OfferID), m.Collection.Bytes())
	if err := appendWord("loan amount", m.Intent.LoanAmount); err != nil {
		return nil, err
	}
	if err := appendWord("repay amount", m.Intent.RepayAmount); err != nil {
		return nil, err
	}
	words = append(words,
		uintWord(m.Intent.DurationDays),
		uintWord(m.Intent.Nonce),
		append([]byte(nil), m.TokenIDs[:]...),
		m.Module.Bytes(),
	)
	if err := appendWord("chain id", m.ChainID); err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(words...), nil
}

// VerifyIntent reports whether the intent signature in m recovers to signer.
// It is false whenever no signer is configured or the message cannot be
// encoded.
func VerifyIntent(signer crypto.Address, m IntentMessage) bool {
	if signer.IsZero() {
		return false
	}
	if len(m.Intent.Signature) != crypto.SignatureLength {
		return false
	}
	hash, err := m.Hash()
	if err != nil {
		return false
	}
	recovered, err := crypto.RecoverPersonal(hash, m.Intent.Signature)
	if err != nil {
		return false
	}
	return recovered == signer
}

// SignIntent produces the signature VerifyIntent accepts for key. The
// Signature field of m.Intent is ignored.
func SignIntent(key *crypto.PrivateKey, m IntentMessage) ([]byte, error) {
	hash, err := m.Hash()
	if err != nil {
		return nil, err
	}
	return crypto.SignPersonal(key, hash)
}
