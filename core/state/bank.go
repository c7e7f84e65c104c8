package state

import (
	"fmt"
	"math/big"

	"nftlend/crypto"
	"nftlend/native/bank"
)

func (tx *Tx) getAmount(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := tx.getRLP(key, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (tx *Tx) putAmount(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return tx.delete(key)
	}
	return tx.putRLP(key, amount)
}

func (tx *Tx) NativeBalance(addr crypto.Address) (*big.Int, error) {
	return tx.getAmount(nativeBalanceKey(addr))
}

func (tx *Tx) SetNativeBalance(addr crypto.Address, amount *big.Int) error {
	return tx.putAmount(nativeBalanceKey(addr), amount)
}

func (tx *Tx) TokenBalance(addr crypto.Address) (*big.Int, error) {
	return tx.getAmount(tokenBalanceKey(addr))
}

func (tx *Tx) SetTokenBalance(addr crypto.Address, amount *big.Int) error {
	return tx.putAmount(tokenBalanceKey(addr), amount)
}

func (tx *Tx) TokenAllowance(owner, spender crypto.Address) (*big.Int, error) {
	return tx.getAmount(allowanceKey(owner, spender))
}

func (tx *Tx) SetTokenAllowance(owner, spender crypto.Address, amount *big.Int) error {
	return tx.putAmount(allowanceKey(owner, spender), amount)
}

func (tx *Tx) NFTOwner(collection crypto.Address, tokenID uint16) (crypto.Address, error) {
	var owner crypto.Address
	if _, err := tx.getRLP(nftOwnerKey(collection, tokenID), &owner); err != nil {
		return crypto.Address{}, err
	}
	return owner, nil
}

func (tx *Tx) SetNFTOwner(collection crypto.Address, tokenID uint16, owner crypto.Address) error {
	return tx.putRLP(nftOwnerKey(collection, tokenID), owner)
}

func (tx *Tx) OperatorApproved(collection, owner, operator crypto.Address) (bool, error) {
	var approved bool
	if _, err := tx.getRLP(operatorKey(collection, owner, operator), &approved); err != nil {
		return false, err
	}
	return approved, nil
}

func (tx *Tx) SetOperatorApproval(collection, owner, operator crypto.Address, approved bool) error {
	key := operatorKey(collection, owner, operator)
	if !approved {
		return tx.delete(key)
	}
	return tx.putRLP(key, approved)
}

// ApplyGenesis credits the genesis allocations once. It reports false when a
// previous run already applied them.
func (s *Store) ApplyGenesis(genesis bank.Genesis) (bool, error) {
	tx := s.BeginTx()
	defer tx.Discard()
	var applied bool
	if _, err := tx.getRLP(bankGenesisKey, &applied); err != nil {
		return false, err
	}
	if applied {
		return false, nil
	}
	if err := genesis.Apply(tx.Ledger()); err != nil {
		return false, fmt.Errorf("apply genesis: %w", err)
	}
	if err := tx.putRLP(bankGenesisKey, true); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
