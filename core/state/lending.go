package state

import (
	"math/big"

	"nftlend/crypto"
	"nftlend/native/lending"
)

// GetOffer loads an offer record.
func (tx *Tx) GetOffer(id uint64) (*lending.Offer, bool, error) {
	offer := new(lending.Offer)
	ok, err := tx.getRLP(offerKey(id), offer)
	if err != nil || !ok {
		return nil, false, err
	}
	return offer, true, nil
}

func (tx *Tx) PutOffer(offer *lending.Offer) error {
	return tx.putRLP(offerKey(offer.ID), offer)
}

func (tx *Tx) GetLoan(id uint64) (*lending.Loan, bool, error) {
	loan := new(lending.Loan)
	ok, err := tx.getRLP(loanKey(id), loan)
	if err != nil || !ok {
		return nil, false, err
	}
	return loan, true, nil
}

func (tx *Tx) PutLoan(loan *lending.Loan) error {
	return tx.putRLP(loanKey(loan.ID), loan)
}

// GetCollectionID returns 0 for collections absent from the registry.
func (tx *Tx) GetCollectionID(collection crypto.Address) (uint64, error) {
	var id uint64
	if _, err := tx.getRLP(collectionKey(collection), &id); err != nil {
		return 0, err
	}
	return id, nil
}

func (tx *Tx) PutCollectionID(collection crypto.Address, id uint64) error {
	return tx.putRLP(collectionKey(collection), id)
}

func (tx *Tx) GetNonce(borrower crypto.Address) (uint64, error) {
	var nonce uint64
	if _, err := tx.getRLP(nonceKey(borrower), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

func (tx *Tx) PutNonce(borrower crypto.Address, nonce uint64) error {
	return tx.putRLP(nonceKey(borrower), nonce)
}

func (tx *Tx) GetConfig() (*lending.Config, bool, error) {
	cfg := new(lending.Config)
	ok, err := tx.getRLP(lendingConfigKey, cfg)
	if err != nil || !ok {
		return nil, false, err
	}
	return cfg, true, nil
}

func (tx *Tx) PutConfig(cfg *lending.Config) error {
	return tx.putRLP(lendingConfigKey, cfg)
}

// GetFeeBalances never returns nil; an empty store yields zero balances.
func (tx *Tx) GetFeeBalances() (*lending.FeeBalances, error) {
	fees := new(lending.FeeBalances)
	ok, err := tx.getRLP(lendingFeesKey, fees)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &lending.FeeBalances{Native: big.NewInt(0), Token: big.NewInt(0)}, nil
	}
	return fees.Clone(), nil
}

func (tx *Tx) PutFeeBalances(fees *lending.FeeBalances) error {
	return tx.putRLP(lendingFeesKey, fees.Clone())
}
