package lending_test

import (
	"errors"
	"math/big"
	"testing"

	"nftlend/core/events"
	"nftlend/core/state"
	"nftlend/crypto"
	nativecommon "nftlend/native/common"
	"nftlend/native/bank"
	"nftlend/native/lending"
	"nftlend/storage"
)

const testNow = int64(1_700_000_000)

var testChainID = big.NewInt(187001)

var errRejected = errors.New("receiver rejects transfer")

func makeAddress(b byte) crypto.Address {
	var addr crypto.Address
	addr[0] = 0xaa
	addr[len(addr)-1] = b
	return addr
}

func units(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), lending.AmountScale)
}

type harness struct {
	t          *testing.T
	engine     *lending.Engine
	store      *state.Store
	recorder   *events.Recorder
	pauses     *nativecommon.Pauses
	hooks      *bank.Hooks
	signer     *crypto.PrivateKey
	admin      crypto.Address
	lender     crypto.Address
	borrower   crypto.Address
	module     crypto.Address
	collection crypto.Address
	now        int64
	nonce      uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	signer, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	h := &harness{
		t:          t,
		store:      state.NewStore(storage.NewMemDB()),
		recorder:   &events.Recorder{},
		pauses:     nativecommon.NewPauses(),
		hooks:      &bank.Hooks{},
		signer:     signer,
		admin:      makeAddress(1),
		lender:     makeAddress(2),
		borrower:   makeAddress(3),
		module:     makeAddress(0x10),
		collection: makeAddress(0xc0),
		now:        testNow,
		nonce:      uint64(testNow),
	}
	h.store.SetHooks(h.hooks)

	genesis := bank.Genesis{
		Native: []bank.Allocation{
			{Address: h.lender.Hex(), Amount: units(10_000).String()},
			{Address: h.borrower.Hex(), Amount: units(1_000).String()},
		},
		Token: []bank.Allocation{
			{Address: h.lender.Hex(), Amount: units(10_000).String()},
			{Address: h.borrower.Hex(), Amount: units(1_000).String()},
		},
		NFTs: []bank.NFTAllocation{{Collection: h.collection.Hex(), Owner: h.borrower.Hex(), TokenIDs: []uint16{1, 2, 3, 4, 5}}},
	}
	if _, err := h.store.ApplyGenesis(genesis); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	tx := h.store.BeginTx()
	if err := tx.Ledger().SetApprovalForAll(h.collection, h.borrower, h.module, true); err != nil {
		t.Fatalf("approve module: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit approval: %v", err)
	}

	h.engine = lending.NewEngine(h.module, testChainID)
	h.engine.SetStore(h.store)
	h.engine.SetEmitter(h.recorder)
	h.engine.SetPauses(h.pauses)
	h.engine.SetAuthorizer(lending.NewStaticAuthorizer(h.admin))
	h.engine.SetNowFunc(func() int64 { return h.now })
	if _, err := h.engine.EnsureConfig(lending.ConfigUpdate{
		Signer:      signer.PubKey().Address(),
		NonceWindow: lending.DefaultNonceWindow,
	}); err != nil {
		t.Fatalf("ensure config: %v", err)
	}
	h.recorder.Reset()
	return h
}

func (h *harness) call(caller crypto.Address) lending.Call {
	return lending.Call{Caller: caller}
}

func (h *harness) pay(caller crypto.Address, value *big.Int) lending.Call {
	return lending.Call{Caller: caller, Value: value}
}

func (h *harness) verify() uint64 {
	h.t.Helper()
	id, err := h.engine.VerifyCollection(h.call(h.admin), h.collection)
	if err != nil {
		h.t.Fatalf("verify collection: %v", err)
	}
	return id
}

func (h *harness) setFeeRate(bps uint64) {
	h.t.Helper()
	cfg, err := h.engine.Config()
	if err != nil {
		h.t.Fatalf("config: %v", err)
	}
	err = h.engine.SetConfig(h.call(h.admin), lending.ConfigUpdate{Signer: cfg.Signer, FeeRateBps: bps, NonceWindow: cfg.NonceWindow})
	if err != nil {
		h.t.Fatalf("set config: %v", err)
	}
}

func (h *harness) addNativeOffer(unit int64, slots uint64) uint64 {
	h.t.Helper()
	id, err := h.engine.AddOffer(h.pay(h.lender, units(unit*int64(slots))), lending.OfferRequest{
		Collection: h.collection,
		UnitAmount: big.NewInt(unit),
		SlotCount:  slots,
		Kind:       lending.AssetNative,
	})
	if err != nil {
		h.t.Fatalf("add offer: %v", err)
	}
	return id
}

// intentBy builds a borrow intent signed by key for the next nonce.
func (h *harness) intentBy(key *crypto.PrivateKey, offerID uint64, loan, repay int64, days uint64, ids []uint16) lending.BorrowIntent {
	h.t.Helper()
	h.nonce++
	intent := lending.BorrowIntent{
		OfferID:      offerID,
		LoanAmount:   big.NewInt(loan),
		RepayAmount:  big.NewInt(repay),
		DurationDays: days,
		Nonce:        h.nonce,
	}
	packed, err := lending.PackTokenIDs(ids)
	if err != nil {
		h.t.Fatalf("pack ids: %v", err)
	}
	sig, err := lending.SignIntent(key, lending.IntentMessage{
		Intent:     intent,
		Collection: h.collection,
		TokenIDs:   packed,
		Module:     h.module,
		ChainID:    testChainID,
	})
	if err != nil {
		h.t.Fatalf("sign intent: %v", err)
	}
	intent.Signature = sig
	return intent
}

func (h *harness) intent(offerID uint64, loan, repay int64, days uint64, ids []uint16) lending.BorrowIntent {
	h.t.Helper()
	return h.intentBy(h.signer, offerID, loan, repay, days, ids)
}

func (h *harness) borrow(offerID uint64, loan, repay int64, days uint64, ids []uint16) uint64 {
	h.t.Helper()
	id, err := h.engine.Borrow(h.call(h.borrower), lending.BorrowRequest{
		Intent:     h.intent(offerID, loan, repay, days, ids),
		Collection: h.collection,
		TokenIDs:   ids,
	})
	if err != nil {
		h.t.Fatalf("borrow: %v", err)
	}
	return id
}

func (h *harness) account(addr crypto.Address) *bank.Account {
	h.t.Helper()
	tx := h.store.BeginTx()
	defer tx.Discard()
	account, err := tx.Ledger().Account(addr)
	if err != nil {
		h.t.Fatalf("account: %v", err)
	}
	return account
}

func (h *harness) ownerOf(tokenID uint16) crypto.Address {
	h.t.Helper()
	tx := h.store.BeginTx()
	defer tx.Discard()
	owner, err := tx.Ledger().OwnerOf(h.collection, tokenID)
	if err != nil {
		h.t.Fatalf("owner of %d: %v", tokenID, err)
	}
	return owner
}

func (h *harness) offer(id uint64) *lending.Offer {
	h.t.Helper()
	offer, err := h.engine.Offer(id)
	if err != nil {
		h.t.Fatalf("offer %d: %v", id, err)
	}
	return offer
}

func (h *harness) loan(id uint64) *lending.Loan {
	h.t.Helper()
	loan, err := h.engine.Loan(id)
	if err != nil {
		h.t.Fatalf("loan %d: %v", id, err)
	}
	return loan
}

func expectKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

func expectBalance(t *testing.T, label string, got, want *big.Int) {
	t.Helper()
	if got.Cmp(want) != 0 {
		t.Fatalf("%s: expected %s, got %s", label, want, got)
	}
}

func sub(a, b *big.Int) *big.Int { return new(big.Int).Sub(a, b) }

func add(a, b *big.Int) *big.Int { return new(big.Int).Add(a, b) }
