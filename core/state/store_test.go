package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"nftlend/crypto"
	"nftlend/native/bank"
	"nftlend/native/lending"
	"nftlend/storage"
)

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[len(a)-1] = b
	return a
}

func TestTxOverlayVisibleOnlyAfterCommit(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	tx := store.BeginTx()
	offer := &lending.Offer{ID: 7, Owner: addr(1), CollectionID: 1, UnitAmount: big.NewInt(100), Count: 3, Remaining: 3}
	require.NoError(t, tx.PutOffer(offer))

	got, ok, err := tx.GetOffer(7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, offer.Owner, got.Owner)
	require.Equal(t, 0, got.UnitAmount.Cmp(big.NewInt(100)))

	other := store.BeginTx()
	_, ok, err = other.GetOffer(7)
	require.NoError(t, err)
	require.False(t, ok, "uncommitted offer leaked to another transaction")
	other.Discard()

	require.NoError(t, tx.Commit())

	reader := store.BeginTx()
	defer reader.Discard()
	got, ok, err = reader.GetOffer(7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint8(3), got.Remaining)
}

func TestTxDiscardDropsWrites(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	tx := store.BeginTx()
	require.NoError(t, tx.PutCollectionID(addr(9), 4))
	require.NoError(t, tx.Ledger().CreditNative(addr(1), big.NewInt(50)))
	tx.Discard()

	_, err := tx.GetCollectionID(addr(9))
	require.ErrorIs(t, err, errTxClosed)

	reader := store.BeginTx()
	defer reader.Discard()
	id, err := reader.GetCollectionID(addr(9))
	require.NoError(t, err)
	require.Zero(t, id)
	balance, err := reader.NativeBalance(addr(1))
	require.NoError(t, err)
	require.Zero(t, balance.Sign())
}

func TestTxCommitTwiceFails(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	tx := store.BeginTx()
	require.NoError(t, tx.PutNonce(addr(1), 10))
	require.NoError(t, tx.Commit())
	require.ErrorIs(t, tx.Commit(), errTxClosed)
}

func TestEngineRecordsRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	tx := store.BeginTx()

	cfg, ok, err := tx.GetConfig()
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, cfg)

	fees, err := tx.GetFeeBalances()
	require.NoError(t, err)
	require.Zero(t, fees.Native.Sign())
	require.Zero(t, fees.Token.Sign())

	packed, err := lending.PackTokenIDs([]uint16{3, 65535})
	require.NoError(t, err)
	loan := &lending.Loan{
		ID:           2,
		Borrower:     addr(5),
		OfferID:      1,
		LoanAmount:   big.NewInt(200),
		RepayAmount:  big.NewInt(220),
		EndTime:      1_700_000_000,
		CollectionID: 1,
		DurationDays: 7,
		Status:       lending.LoanStatusActive,
		TokenIDs:     packed,
		Count:        2,
		Kind:         lending.AssetToken,
	}
	require.NoError(t, tx.PutLoan(loan))
	require.NoError(t, tx.PutConfig(&lending.Config{Signer: addr(8), NextOfferID: 2, NextLoanID: 3, FeeRateBps: 2000, NonceWindow: 60, NextCollectionID: 2}))
	require.NoError(t, tx.PutFeeBalances(&lending.FeeBalances{Native: big.NewInt(4), Token: big.NewInt(0)}))
	require.NoError(t, tx.Commit())

	reader := store.BeginTx()
	defer reader.Discard()
	gotLoan, ok, err := reader.GetLoan(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, lending.AssetToken, gotLoan.Kind)
	require.Equal(t, packed, gotLoan.TokenIDs)
	require.Equal(t, 0, gotLoan.RepayAmount.Cmp(big.NewInt(220)))

	gotCfg, ok, err := reader.GetConfig()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2000), gotCfg.FeeRateBps)
	require.Equal(t, addr(8), gotCfg.Signer)

	gotFees, err := reader.GetFeeBalances()
	require.NoError(t, err)
	require.Equal(t, int64(4), gotFees.Native.Int64())
}

func TestLedgerFailureLeavesCommittedStateAlone(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	seed := store.BeginTx()
	require.NoError(t, seed.Ledger().CreditNative(addr(1), big.NewInt(100)))
	require.NoError(t, seed.Commit())

	rejected := errors.New("receiver rejects")
	store.SetHooks(&bank.Hooks{OnNative: func(_, to crypto.Address, _ *big.Int) error {
		if to == addr(2) {
			return rejected
		}
		return nil
	}})

	tx := store.BeginTx()
	err := tx.Ledger().TransferNative(addr(1), addr(2), big.NewInt(40))
	require.ErrorIs(t, err, bank.ErrRejected)
	tx.Discard()

	reader := store.BeginTx()
	defer reader.Discard()
	account, err := reader.Ledger().Account(addr(1))
	require.NoError(t, err)
	require.Equal(t, int64(100), account.Native.Int64())
}

func TestApplyGenesisOnce(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	collection := addr(0xc0)
	genesis := bank.Genesis{
		Native: []bank.Allocation{{Address: addr(1).Hex(), Amount: "1000"}},
		Token:  []bank.Allocation{{Address: addr(2).Hex(), Amount: "500"}},
		NFTs:   []bank.NFTAllocation{{Collection: collection.Hex(), Owner: addr(1).Hex(), TokenIDs: []uint16{1, 2}}},
	}

	applied, err := store.ApplyGenesis(genesis)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = store.ApplyGenesis(genesis)
	require.NoError(t, err)
	require.False(t, applied)

	reader := store.BeginTx()
	defer reader.Discard()
	ledger := reader.Ledger()
	account, err := ledger.Account(addr(1))
	require.NoError(t, err)
	require.Equal(t, int64(1000), account.Native.Int64())
	owner, err := ledger.OwnerOf(collection, 2)
	require.NoError(t, err)
	require.Equal(t, addr(1), owner)
}

func TestOperatorApprovalRevocationDeletes(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	tx := store.BeginTx()
	defer tx.Discard()
	collection, owner, operator := addr(3), addr(4), addr(5)

	require.NoError(t, tx.SetOperatorApproval(collection, owner, operator, true))
	approved, err := tx.OperatorApproved(collection, owner, operator)
	require.NoError(t, err)
	require.True(t, approved)

	require.NoError(t, tx.SetOperatorApproval(collection, owner, operator, false))
	approved, err = tx.OperatorApproved(collection, owner, operator)
	require.NoError(t, err)
	require.False(t, approved)
}
