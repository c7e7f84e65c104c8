package lending

import (
	"fmt"
	"math/big"

	"nftlend/crypto"
)

// OfferRequest describes a deposit into a new or drained offer.
type OfferRequest struct {
	// OfferID selects a drained offer owned by the caller to refill. Zero
	// allocates a fresh id.
	OfferID    uint64
	Collection crypto.Address
	// UnitAmount is the principal per slot in AmountScale units.
	UnitAmount *big.Int
	SlotCount  uint64
	Kind       AssetKind
}

// AddOffer deposits UnitAmount*SlotCount*AmountScale of the chosen asset and
// opens SlotCount undrawn slots. Native deposits must be attached to call.
func (e *Engine) AddOffer(call Call, req OfferRequest) (uint64, error) {
	var offerID uint64
	err := e.execute(call, true, func(op *opContext) error {
		if err := validateOfferTerms(req.UnitAmount, req.SlotCount); err != nil {
			return err
		}
		if !req.Kind.Valid() {
			return fmt.Errorf("%w: unsupported asset kind %s", ErrInvalidParams, req.Kind)
		}
		collectionID, err := verifiedCollection(op.tx, req.Collection)
		if err != nil {
			return err
		}

		var offer *Offer
		if req.OfferID == 0 {
			cfg, err := op.config()
			if err != nil {
				return err
			}
			offer = &Offer{ID: cfg.NextOfferID, Owner: op.call.Caller}
			cfg.NextOfferID++
			if err := op.saveConfig(); err != nil {
				return err
			}
		} else {
			offer, err = loadOffer(op.tx, req.OfferID)
			if err != nil {
				return err
			}
			if err := e.access.offerOwner(op.call.Caller, offer); err != nil {
				return err
			}
			if offer.Count != 0 {
				return fmt.Errorf("%w: offer %d still holds %d slots", ErrIllegalState, offer.ID, offer.Count)
			}
		}

		slots := uint8(req.SlotCount)
		offer.CollectionID = collectionID
		offer.UnitAmount = cloneBigInt(req.UnitAmount)
		offer.Count = slots
		offer.Remaining = slots
		offer.Kind = req.Kind

		if err := op.pay.collect(op.call.Caller, commitment(offer.UnitAmount, slots), offer.Kind); err != nil {
			return err
		}
		if err := op.tx.PutOffer(offer); err != nil {
			return fmt.Errorf("store offer %d: %w", offer.ID, err)
		}
		offerID = offer.ID
		op.emit(NewOfferAddedEvent(offer))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return offerID, nil
}

// EditOffer changes the unit amount and slot count of an offer. The deposit
// is rebalanced from the value backing the current undrawn slots to the value
// backing the new undrawn slots at the new unit amount: increases are
// collected from the owner, decreases are refunded.
func (e *Engine) EditOffer(call Call, offerID uint64, unitAmount *big.Int, slotCount uint64) error {
	return e.execute(call, true, func(op *opContext) error {
		if err := validateOfferTerms(unitAmount, slotCount); err != nil {
			return err
		}
		offer, err := loadOffer(op.tx, offerID)
		if err != nil {
			return err
		}
		if err := e.access.offerOwner(op.call.Caller, offer); err != nil {
			return err
		}
		newCount := uint8(slotCount)
		if newCount == offer.Count && unitAmount.Cmp(cloneBigInt(offer.UnitAmount)) == 0 {
			return fmt.Errorf("%w: edit leaves offer %d unchanged", ErrInvalidParams, offer.ID)
		}
		drawn := offer.Drawn()
		if newCount < drawn {
			return fmt.Errorf("%w: %d slots of offer %d are drawn", ErrIllegalState, drawn, offer.ID)
		}

		newRemaining := newCount - drawn
		before := commitment(offer.UnitAmount, offer.Remaining)
		after := commitment(unitAmount, newRemaining)

		switch delta := new(big.Int).Sub(after, before); delta.Sign() {
		case 1:
			if err := op.pay.collect(op.call.Caller, delta, offer.Kind); err != nil {
				return err
			}
		case -1:
			if err := op.pay.disburse(op.call.Caller, delta.Neg(delta), offer.Kind); err != nil {
				return err
			}
		}

		offer.UnitAmount = cloneBigInt(unitAmount)
		offer.Count = newCount
		offer.Remaining = newRemaining
		if err := op.tx.PutOffer(offer); err != nil {
			return fmt.Errorf("store offer %d: %w", offer.ID, err)
		}
		op.emit(NewOfferEditedEvent(offer))
		return nil
	})
}

// RevokeOffer refunds the undrawn slots of an offer and removes them from
// its count. Drawn slots stay until their loans close.
func (e *Engine) RevokeOffer(call Call, offerID uint64) error {
	return e.execute(call, false, func(op *opContext) error {
		offer, err := loadOffer(op.tx, offerID)
		if err != nil {
			return err
		}
		if err := e.access.offerOwner(op.call.Caller, offer); err != nil {
			return err
		}
		if offer.Remaining == 0 {
			return fmt.Errorf("%w: offer %d has no undrawn slots", ErrNoOfferFound, offer.ID)
		}
		refund := commitment(offer.UnitAmount, offer.Remaining)
		offer.Count -= offer.Remaining
		offer.Remaining = 0
		if err := op.tx.PutOffer(offer); err != nil {
			return fmt.Errorf("store offer %d: %w", offer.ID, err)
		}
		if err := op.pay.disburse(op.call.Caller, refund, offer.Kind); err != nil {
			return err
		}
		op.emit(NewOfferRevokedEvent(offer, refund))
		return nil
	})
}

// Offer returns a copy of the stored offer.
func (e *Engine) Offer(id uint64) (*Offer, error) {
	var offer *Offer
	err := e.view(func(tx StateTx) error {
		loaded, err := loadOffer(tx, id)
		if err != nil {
			return err
		}
		offer = loaded.Clone()
		return nil
	})
	return offer, err
}

func validateOfferTerms(unitAmount *big.Int, slotCount uint64) error {
	if unitAmount == nil || unitAmount.Sign() <= 0 {
		return fmt.Errorf("%w: unit amount must be positive", ErrInvalidParams)
	}
	if slotCount == 0 || slotCount > MaxSlots {
		return fmt.Errorf("%w: slot count must be between 1 and %d", ErrInvalidParams, MaxSlots)
	}
	return nil
}

// commitment is the base-unit value backing slots slots at unitAmount.
func commitment(unitAmount *big.Int, slots uint8) *big.Int {
	total := scaled(unitAmount)
	return total.Mul(total, big.NewInt(int64(slots)))
}
