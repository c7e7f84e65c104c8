package bank

import (
	"errors"
	"math/big"
	"testing"

	"nftlend/crypto"
)

type nftKey struct {
	collection crypto.Address
	id         uint16
}

type operatorKey struct {
	collection, owner, operator crypto.Address
}

type allowanceKey struct {
	owner, spender crypto.Address
}

type memState struct {
	native     map[crypto.Address]*big.Int
	token      map[crypto.Address]*big.Int
	allowances map[allowanceKey]*big.Int
	owners     map[nftKey]crypto.Address
	operators  map[operatorKey]bool
}

func newMemState() *memState {
	return &memState{
		native:     make(map[crypto.Address]*big.Int),
		token:      make(map[crypto.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		owners:     make(map[nftKey]crypto.Address),
		operators:  make(map[operatorKey]bool),
	}
}

func (m *memState) NativeBalance(addr crypto.Address) (*big.Int, error) { return m.native[addr], nil }

func (m *memState) SetNativeBalance(addr crypto.Address, amount *big.Int) error {
	m.native[addr] = amount
	return nil
}

func (m *memState) TokenBalance(addr crypto.Address) (*big.Int, error) { return m.token[addr], nil }

func (m *memState) SetTokenBalance(addr crypto.Address, amount *big.Int) error {
	m.token[addr] = amount
	return nil
}

func (m *memState) TokenAllowance(owner, spender crypto.Address) (*big.Int, error) {
	return m.allowances[allowanceKey{owner, spender}], nil
}

func (m *memState) SetTokenAllowance(owner, spender crypto.Address, amount *big.Int) error {
	m.allowances[allowanceKey{owner, spender}] = amount
	return nil
}

func (m *memState) NFTOwner(collection crypto.Address, id uint16) (crypto.Address, error) {
	return m.owners[nftKey{collection, id}], nil
}

func (m *memState) SetNFTOwner(collection crypto.Address, id uint16, owner crypto.Address) error {
	m.owners[nftKey{collection, id}] = owner
	return nil
}

func (m *memState) OperatorApproved(collection, owner, operator crypto.Address) (bool, error) {
	return m.operators[operatorKey{collection, owner, operator}], nil
}

func (m *memState) SetOperatorApproval(collection, owner, operator crypto.Address, approved bool) error {
	m.operators[operatorKey{collection, owner, operator}] = approved
	return nil
}

func makeAddress(b byte) crypto.Address {
	var a crypto.Address
	a[19] = b
	return a
}

func TestTransferNativeMovesBalances(t *testing.T) {
	ledger := NewLedger(newMemState(), nil)
	alice, bob := makeAddress(1), makeAddress(2)
	if err := ledger.CreditNative(alice, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.TransferNative(alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := ledger.TransferNative(alice, bob, big.NewInt(61)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	a, _ := ledger.Account(alice)
	b, _ := ledger.Account(bob)
	if a.Native.Int64() != 60 || b.Native.Int64() != 40 {
		t.Fatalf("unexpected balances alice=%s bob=%s", a.Native, b.Native)
	}
}

func TestTransferTokenFromConsumesAllowance(t *testing.T) {
	ledger := NewLedger(newMemState(), nil)
	owner, spender := makeAddress(1), makeAddress(2)
	if err := ledger.CreditToken(owner, big.NewInt(50)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.TransferTokenFrom(spender, owner, spender, big.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected allowance error, got %v", err)
	}
	if err := ledger.ApproveToken(owner, spender, big.NewInt(30)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferTokenFrom(spender, owner, spender, big.NewInt(30)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if err := ledger.TransferTokenFrom(spender, owner, spender, big.NewInt(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("allowance should be spent, got %v", err)
	}
	acct, _ := ledger.Account(spender)
	if acct.Token.Int64() != 30 {
		t.Fatalf("spender token balance = %s", acct.Token)
	}
}

func TestTransferNFTRequiresOwnershipAndApproval(t *testing.T) {
	ledger := NewLedger(newMemState(), nil)
	collection, owner, operator := makeAddress(9), makeAddress(1), makeAddress(2)
	if err := ledger.MintNFT(collection, 7, owner); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.MintNFT(collection, 7, owner); err == nil {
		t.Fatalf("expected double mint to fail")
	}
	if err := ledger.TransferNFT(collection, operator, owner, operator, 7); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected approval error, got %v", err)
	}
	if err := ledger.TransferNFT(collection, operator, operator, owner, 7); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ownership error, got %v", err)
	}
	if err := ledger.SetApprovalForAll(collection, owner, operator, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferNFT(collection, operator, owner, operator, 7); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	current, _ := ledger.OwnerOf(collection, 7)
	if current != operator {
		t.Fatalf("owner = %s, want %s", current, operator)
	}
}

func TestHooksCanRejectTransfers(t *testing.T) {
	hooks := &Hooks{
		OnNative: func(from, to crypto.Address, amount *big.Int) error {
			return errors.New("no thanks")
		},
	}
	ledger := NewLedger(newMemState(), hooks)
	alice, bob := makeAddress(1), makeAddress(2)
	_ = ledger.CreditNative(alice, big.NewInt(5))
	if err := ledger.TransferNative(alice, bob, big.NewInt(5)); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestGenesisApply(t *testing.T) {
	ledger := NewLedger(newMemState(), nil)
	alice := makeAddress(1)
	collection := makeAddress(9)
	genesis := Genesis{
		Native: []Allocation{{Address: alice.String(), Amount: "1000"}},
		Token:  []Allocation{{Address: alice.Hex(), Amount: "25"}},
		NFTs:   []NFTAllocation{{Collection: collection.String(), Owner: alice.String(), TokenIDs: []uint16{1, 2}}},
	}
	if genesis.Empty() {
		t.Fatalf("genesis should not be empty")
	}
	if err := genesis.Apply(ledger); err != nil {
		t.Fatalf("apply: %v", err)
	}
	acct, _ := ledger.Account(alice)
	if acct.Native.Int64() != 1000 || acct.Token.Int64() != 25 {
		t.Fatalf("unexpected account %+v", acct)
	}
	owner, _ := ledger.OwnerOf(collection, 2)
	if owner != alice {
		t.Fatalf("nft not minted to alice")
	}

	bad := Genesis{Native: []Allocation{{Address: alice.String(), Amount: "-1"}}}
	if err := bad.Apply(ledger); err == nil {
		t.Fatalf("expected negative allocation to fail")
	}
}
