package lending

import (
	"fmt"
	"math/big"

	"nftlend/crypto"
)

// Rails moves value and collateral on behalf of the engine. The host binds an
// implementation to each operation's transaction so that a failed operation
// leaves balances and custody untouched.
type Rails interface {
	// TransferNative moves native value between accounts.
	TransferNative(from, to crypto.Address, amount *big.Int) error
	// TransferToken moves payment tokens owned by from.
	TransferToken(from, to crypto.Address, amount *big.Int) error
	// TransferTokenFrom moves payment tokens from owner using the allowance
	// owner granted to spender.
	TransferTokenFrom(spender, owner, to crypto.Address, amount *big.Int) error
	// TransferNFT moves one collateral NFT. operator must be the owner or an
	// approved operator of from.
	TransferNFT(collection, operator, from, to crypto.Address, tokenID uint16) error
}

// paymentRail is the per-operation view of Rails. Native deposits arrive as
// value attached to the call and already credited to the module, so collect
// only checks that the attached value matches what the operation requires.
type paymentRail struct {
	rails    Rails
	module   crypto.Address
	attached *big.Int
	consumed bool
}

func newPaymentRail(rails Rails, module crypto.Address, attached *big.Int) *paymentRail {
	return &paymentRail{rails: rails, module: module, attached: cloneBigInt(attached)}
}

// collect takes amount base units of kind from payer into the module.
func (p *paymentRail) collect(from crypto.Address, amount *big.Int, kind AssetKind) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative collection amount", ErrInvalidParams)
	}
	switch kind {
	case AssetNative:
		if p.consumed {
			return fmt.Errorf("%w: attached value already consumed", ErrIllegalState)
		}
		if p.attached.Cmp(amount) != 0 {
			return fmt.Errorf("%w: attached value %s does not match required %s", ErrInsufficientBalance, p.attached, amount)
		}
		p.consumed = true
		return nil
	case AssetToken:
		if amount.Sign() == 0 {
			return nil
		}
		if err := p.rails.TransferTokenFrom(p.module, from, p.module, amount); err != nil {
			return fmt.Errorf("%w: pull %s tokens from %s: %v", ErrInsufficientBalance, amount, from, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported asset kind %s", ErrInvalidParams, kind)
	}
}

// disburse pays amount base units of kind from the module to recipient.
func (p *paymentRail) disburse(to crypto.Address, amount *big.Int, kind AssetKind) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative disbursement", ErrInvalidParams)
	}
	var err error
	switch kind {
	case AssetNative:
		err = p.rails.TransferNative(p.module, to, amount)
	case AssetToken:
		err = p.rails.TransferToken(p.module, to, amount)
	default:
		return fmt.Errorf("%w: unsupported asset kind %s", ErrInvalidParams, kind)
	}
	if err != nil {
		return fmt.Errorf("%w: pay %s %s to %s: %v", ErrPaymentFailed, amount, kind, to, err)
	}
	return nil
}

// settled reports whether any value attached to the call was claimed by a
// native collection.
func (p *paymentRail) settled() bool {
	return p.consumed || p.attached.Sign() == 0
}
