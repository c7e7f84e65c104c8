package lending_test

import (
	"math/big"
	"testing"

	"nftlend/native/lending"
)

func TestAddOfferValidation(t *testing.T) {
	h := newHarness(t)
	req := lending.OfferRequest{Collection: h.collection, UnitAmount: big.NewInt(100), SlotCount: 3}

	_, err := h.engine.AddOffer(h.pay(h.lender, units(300)), req)
	expectKind(t, err, lending.ErrInvalidToken)
	h.verify()

	bad := req
	bad.SlotCount = 0
	_, err = h.engine.AddOffer(h.pay(h.lender, units(300)), bad)
	expectKind(t, err, lending.ErrInvalidParams)
	bad.SlotCount = lending.MaxSlots + 1
	_, err = h.engine.AddOffer(h.pay(h.lender, units(300)), bad)
	expectKind(t, err, lending.ErrInvalidParams)
	bad = req
	bad.UnitAmount = big.NewInt(0)
	_, err = h.engine.AddOffer(h.pay(h.lender, units(300)), bad)
	expectKind(t, err, lending.ErrInvalidParams)

	lenderBefore := h.account(h.lender).Native
	_, err = h.engine.AddOffer(h.pay(h.lender, units(299)), req)
	expectKind(t, err, lending.ErrInsufficientBalance)
	expectBalance(t, "lender after rejected deposit", h.account(h.lender).Native, lenderBefore)

	h.recorder.Reset()
	offerID, err := h.engine.AddOffer(h.pay(h.lender, units(300)), req)
	if err != nil {
		t.Fatalf("add offer: %v", err)
	}
	offer := h.offer(offerID)
	if offer.Owner != h.lender || offer.CollectionID != 1 || offer.Count != 3 || offer.Remaining != 3 {
		t.Fatalf("unexpected offer %+v", offer)
	}
	if types := h.recorder.Types(); len(types) != 1 || types[0] != lending.EventTypeOfferAdded {
		t.Fatalf("unexpected events %v", types)
	}
	if second := h.addNativeOffer(50, 1); second != offerID+1 {
		t.Fatalf("expected sequential offer ids, got %d after %d", second, offerID)
	}
}

func TestEditOfferRebalancesDeposit(t *testing.T) {
	h := newHarness(t)
	h.verify()
	offerID := h.addNativeOffer(100, 3)
	h.borrow(offerID, 100, 110, 7, []uint16{1})

	lenderBefore := h.account(h.lender).Native

	// Two undrawn slots at 100 become three at 150.
	expectKind(t, h.engine.EditOffer(h.pay(h.lender, units(200)), offerID, big.NewInt(150), 4), lending.ErrInsufficientBalance)
	if err := h.engine.EditOffer(h.pay(h.lender, units(250)), offerID, big.NewInt(150), 4); err != nil {
		t.Fatalf("grow offer: %v", err)
	}
	offer := h.offer(offerID)
	if offer.Count != 4 || offer.Remaining != 3 || offer.UnitAmount.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("unexpected offer after growth %+v", offer)
	}
	expectBalance(t, "lender after growth", h.account(h.lender).Native, sub(lenderBefore, units(250)))

	// Three undrawn slots at 150 become one at 50.
	if err := h.engine.EditOffer(h.call(h.lender), offerID, big.NewInt(50), 2); err != nil {
		t.Fatalf("shrink offer: %v", err)
	}
	offer = h.offer(offerID)
	if offer.Count != 2 || offer.Remaining != 1 {
		t.Fatalf("unexpected offer after shrink %+v", offer)
	}
	expectBalance(t, "lender after refund", h.account(h.lender).Native, add(sub(lenderBefore, units(250)), units(400)))

	expectKind(t, h.engine.EditOffer(h.call(h.lender), offerID, big.NewInt(50), 2), lending.ErrInvalidParams)
	expectKind(t, h.engine.EditOffer(h.call(h.borrower), offerID, big.NewInt(60), 2), lending.ErrPermissionDenied)
	expectKind(t, h.engine.EditOffer(h.call(h.lender), 77, big.NewInt(60), 2), lending.ErrInvalidParams)
	expectKind(t, h.engine.EditOffer(h.call(h.lender), offerID, big.NewInt(60), 0), lending.ErrInvalidParams)
}

func TestEditOfferBelowDrawnSlots(t *testing.T) {
	h := newHarness(t)
	h.verify()
	offerID := h.addNativeOffer(100, 3)
	h.borrow(offerID, 200, 220, 7, []uint16{1, 2})
	expectKind(t, h.engine.EditOffer(h.call(h.lender), offerID, big.NewInt(100), 1), lending.ErrIllegalState)

	// Shrinking to exactly the drawn slots refunds the undrawn one.
	lenderBefore := h.account(h.lender).Native
	if err := h.engine.EditOffer(h.call(h.lender), offerID, big.NewInt(100), 2); err != nil {
		t.Fatalf("edit to drawn count: %v", err)
	}
	expectBalance(t, "lender refund", h.account(h.lender).Native, add(lenderBefore, units(100)))
	if offer := h.offer(offerID); offer.Remaining != 0 || offer.Count != 2 {
		t.Fatalf("unexpected offer %+v", offer)
	}
}

func TestRevokeAndRefillOffer(t *testing.T) {
	h := newHarness(t)
	h.verify()
	offerID := h.addNativeOffer(100, 3)
	h.borrow(offerID, 100, 110, 7, []uint16{1})

	expectKind(t, h.engine.RevokeOffer(h.pay(h.lender, units(1)), offerID), lending.ErrInvalidParams)
	expectKind(t, h.engine.RevokeOffer(h.call(h.borrower), offerID), lending.ErrPermissionDenied)

	lenderBefore := h.account(h.lender).Native
	h.recorder.Reset()
	if err := h.engine.RevokeOffer(h.call(h.lender), offerID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	expectBalance(t, "revoke refund", h.account(h.lender).Native, add(lenderBefore, units(200)))
	if offer := h.offer(offerID); offer.Count != 1 || offer.Remaining != 0 {
		t.Fatalf("unexpected offer after revoke %+v", offer)
	}
	if types := h.recorder.Types(); len(types) != 1 || types[0] != lending.EventTypeOfferRevoked {
		t.Fatalf("unexpected events %v", types)
	}
	expectKind(t, h.engine.RevokeOffer(h.call(h.lender), offerID), lending.ErrNoOfferFound)

	refill := lending.OfferRequest{OfferID: offerID, Collection: h.collection, UnitAmount: big.NewInt(50), SlotCount: 2}
	_, err := h.engine.AddOffer(h.pay(h.lender, units(100)), refill)
	expectKind(t, err, lending.ErrIllegalState)

	drained := h.addNativeOffer(100, 2)
	if err := h.engine.RevokeOffer(h.call(h.lender), drained); err != nil {
		t.Fatalf("revoke drained: %v", err)
	}
	refill.OfferID = drained
	id, err := h.engine.AddOffer(h.pay(h.lender, units(100)), refill)
	if err != nil {
		t.Fatalf("refill: %v", err)
	}
	if id != drained {
		t.Fatalf("refill allocated %d, expected %d", id, drained)
	}
	if offer := h.offer(drained); offer.Count != 2 || offer.Remaining != 2 || offer.UnitAmount.Int64() != 50 {
		t.Fatalf("unexpected refilled offer %+v", offer)
	}
}
