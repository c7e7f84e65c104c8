package bank

import (
	"errors"
	"fmt"
	"math/big"

	"nftlend/crypto"
)

var (
	ErrInsufficientFunds     = errors.New("bank: insufficient funds")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrNotOwner              = errors.New("bank: token not owned by sender")
	ErrNotApproved           = errors.New("bank: operator not approved")
	ErrRejected              = errors.New("bank: receiver rejected transfer")
	ErrInvalidAmount         = errors.New("bank: amount must not be negative")
)

// State is the persistence surface the ledger reads and writes. Absent
// balances and allowances read as zero and absent NFTs as unowned.
type State interface {
	NativeBalance(addr crypto.Address) (*big.Int, error)
	SetNativeBalance(addr crypto.Address, amount *big.Int) error
	TokenBalance(addr crypto.Address) (*big.Int, error)
	SetTokenBalance(addr crypto.Address, amount *big.Int) error
	TokenAllowance(owner, spender crypto.Address) (*big.Int, error)
	SetTokenAllowance(owner, spender crypto.Address, amount *big.Int) error
	NFTOwner(collection crypto.Address, tokenID uint16) (crypto.Address, error)
	SetNFTOwner(collection crypto.Address, tokenID uint16, owner crypto.Address) error
	OperatorApproved(collection, owner, operator crypto.Address) (bool, error)
	SetOperatorApproval(collection, owner, operator crypto.Address, approved bool) error
}

// Hooks are receiver callbacks run after a transfer has been applied. A
// non-nil error aborts the transfer; the caller's transaction is expected to
// discard the partial write.
type Hooks struct {
	OnNative func(from, to crypto.Address, amount *big.Int) error
	OnToken  func(from, to crypto.Address, amount *big.Int) error
	OnNFT    func(collection, from, to crypto.Address, tokenID uint16) error
}

// Ledger moves native value, the payment token and collection NFTs.
type Ledger struct {
	state State
	hooks *Hooks
}

func NewLedger(state State, hooks *Hooks) *Ledger {
	return &Ledger{state: state, hooks: hooks}
}

// Account is a read-only balance snapshot.
type Account struct {
	Native *big.Int `json:"native"`
	Token  *big.Int `json:"token"`
}

func (l *Ledger) Account(addr crypto.Address) (*Account, error) {
	native, err := l.state.NativeBalance(addr)
	if err != nil {
		return nil, err
	}
	token, err := l.state.TokenBalance(addr)
	if err != nil {
		return nil, err
	}
	return &Account{Native: orZero(native), Token: orZero(token)}, nil
}

// CreditNative mints native value to addr. Used for genesis allocations.
func (l *Ledger) CreditNative(addr crypto.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	balance, err := l.state.NativeBalance(addr)
	if err != nil {
		return err
	}
	return l.state.SetNativeBalance(addr, new(big.Int).Add(orZero(balance), amount))
}

// CreditToken mints payment tokens to addr. Used for genesis allocations.
func (l *Ledger) CreditToken(addr crypto.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	balance, err := l.state.TokenBalance(addr)
	if err != nil {
		return err
	}
	return l.state.SetTokenBalance(addr, new(big.Int).Add(orZero(balance), amount))
}

// MintNFT assigns an unowned token to owner.
func (l *Ledger) MintNFT(collection crypto.Address, tokenID uint16, owner crypto.Address) error {
	current, err := l.state.NFTOwner(collection, tokenID)
	if err != nil {
		return err
	}
	if !current.IsZero() {
		return fmt.Errorf("bank: token %d of %s already minted", tokenID, collection)
	}
	return l.state.SetNFTOwner(collection, tokenID, owner)
}

func (l *Ledger) TransferNative(from, to crypto.Address, amount *big.Int) error {
	if err := l.move(l.state.NativeBalance, l.state.SetNativeBalance, from, to, amount); err != nil {
		return err
	}
	if l.hooks != nil && l.hooks.OnNative != nil {
		if err := l.hooks.OnNative(from, to, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	return nil
}

func (l *Ledger) TransferToken(from, to crypto.Address, amount *big.Int) error {
	if err := l.move(l.state.TokenBalance, l.state.SetTokenBalance, from, to, amount); err != nil {
		return err
	}
	if l.hooks != nil && l.hooks.OnToken != nil {
		if err := l.hooks.OnToken(from, to, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	return nil
}

// TransferTokenFrom spends owner's allowance to spender.
func (l *Ledger) TransferTokenFrom(spender, owner, to crypto.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	allowance, err := l.state.TokenAllowance(owner, spender)
	if err != nil {
		return err
	}
	allowance = orZero(allowance)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s approved, %s requested", ErrInsufficientAllowance, allowance, amount)
	}
	if err := l.state.SetTokenAllowance(owner, spender, new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	return l.TransferToken(owner, to, amount)
}

// ApproveToken sets the amount spender may pull from owner.
func (l *Ledger) ApproveToken(owner, spender crypto.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.state.SetTokenAllowance(owner, spender, new(big.Int).Set(amount))
}

// SetApprovalForAll lets operator move every token owner holds in collection.
func (l *Ledger) SetApprovalForAll(collection, owner, operator crypto.Address, approved bool) error {
	return l.state.SetOperatorApproval(collection, owner, operator, approved)
}

// TransferNFT moves tokenID from from to to. operator must be from itself or
// an approved operator of from.
func (l *Ledger) TransferNFT(collection, operator, from, to crypto.Address, tokenID uint16) error {
	owner, err := l.state.NFTOwner(collection, tokenID)
	if err != nil {
		return err
	}
	if owner.IsZero() || owner != from {
		return fmt.Errorf("%w: token %d of %s", ErrNotOwner, tokenID, collection)
	}
	if operator != from {
		approved, err := l.state.OperatorApproved(collection, from, operator)
		if err != nil {
			return err
		}
		if !approved {
			return fmt.Errorf("%w: %s for %s", ErrNotApproved, operator, from)
		}
	}
	if err := l.state.SetNFTOwner(collection, tokenID, to); err != nil {
		return err
	}
	if l.hooks != nil && l.hooks.OnNFT != nil {
		if err := l.hooks.OnNFT(collection, from, to, tokenID); err != nil {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	return nil
}

// OwnerOf returns the current owner of tokenID, zero when unminted.
func (l *Ledger) OwnerOf(collection crypto.Address, tokenID uint16) (crypto.Address, error) {
	return l.state.NFTOwner(collection, tokenID)
}

type balanceGetter func(crypto.Address) (*big.Int, error)
type balanceSetter func(crypto.Address, *big.Int) error

func (l *Ledger) move(get balanceGetter, set balanceSetter, from, to crypto.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBalance, err := get(from)
	if err != nil {
		return err
	}
	fromBalance = orZero(fromBalance)
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, %s required", ErrInsufficientFunds, from, fromBalance, amount)
	}
	toBalance, err := get(to)
	if err != nil {
		return err
	}
	if err := set(from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return set(to, new(big.Int).Add(orZero(toBalance), amount))
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
