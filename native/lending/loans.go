package lending

import (
	"fmt"
	"math"
	"math/big"

	"nftlend/crypto"
)

// BorrowRequest pledges TokenIDs of Collection against the offer named in
// Intent.
type BorrowRequest struct {
	Intent     BorrowIntent
	Collection crypto.Address
	TokenIDs   []uint16
}

// Borrow opens a loan authorised by a signed intent. Collateral moves from
// the caller into module custody and the principal is paid to the caller.
func (e *Engine) Borrow(call Call, req BorrowRequest) (uint64, error) {
	var loanID uint64
	err := e.execute(call, false, func(op *opContext) error {
		intent := req.Intent
		if err := validateIntent(intent); err != nil {
			return err
		}
		if len(req.TokenIDs) == 0 {
			return fmt.Errorf("%w: at least one token id is required", ErrInvalidParams)
		}
		packed, err := PackTokenIDs(req.TokenIDs)
		if err != nil {
			return err
		}
		count := uint8(len(req.TokenIDs))

		cfg, err := op.config()
		if err != nil {
			return err
		}
		if err := checkNonce(op.tx, cfg, op.call.Caller, intent.Nonce, op.now); err != nil {
			return err
		}
		collectionID, err := verifiedCollection(op.tx, req.Collection)
		if err != nil {
			return err
		}
		if !VerifyIntent(cfg.Signer, e.intentMessage(intent, req.Collection, packed)) {
			return fmt.Errorf("%w: borrow intent for offer %d", ErrInvalidSignature, intent.OfferID)
		}

		offer, err := loadOffer(op.tx, intent.OfferID)
		if err != nil {
			return err
		}
		if err := checkDrawable(offer, collectionID, count, intent.LoanAmount); err != nil {
			return err
		}

		loan := &Loan{
			ID:           cfg.NextLoanID,
			Borrower:     op.call.Caller,
			OfferID:      offer.ID,
			LoanAmount:   cloneBigInt(intent.LoanAmount),
			RepayAmount:  cloneBigInt(intent.RepayAmount),
			EndTime:      endTime(op.now, intent.DurationDays),
			CollectionID: collectionID,
			DurationDays: uint8(intent.DurationDays),
			Status:       LoanStatusActive,
			TokenIDs:     packed,
			Count:        count,
			Kind:         offer.Kind,
		}
		cfg.NextLoanID++
		offer.Remaining -= count

		if err := op.tx.PutLoan(loan); err != nil {
			return fmt.Errorf("store loan %d: %w", loan.ID, err)
		}
		if err := op.tx.PutOffer(offer); err != nil {
			return fmt.Errorf("store offer %d: %w", offer.ID, err)
		}
		if err := op.tx.PutNonce(op.call.Caller, intent.Nonce); err != nil {
			return fmt.Errorf("store nonce: %w", err)
		}
		if err := op.saveConfig(); err != nil {
			return err
		}

		rails := op.tx.Rails()
		for _, id := range req.TokenIDs {
			if err := rails.TransferNFT(req.Collection, e.moduleAddress, op.call.Caller, e.moduleAddress, id); err != nil {
				return fmt.Errorf("%w: take custody of token %d: %v", ErrInsufficientBalance, id, err)
			}
		}
		if err := op.pay.disburse(op.call.Caller, scaled(loan.LoanAmount), loan.Kind); err != nil {
			return err
		}
		loanID = loan.ID
		op.emit(NewLoanStartedEvent(loan))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return loanID, nil
}

// Extend settles an active loan and opens a successor against the offer named
// in intent, keeping the collateral in custody. When the amount due exceeds
// the new principal the borrower pays the difference with the call; a surplus
// is paid to the borrower.
func (e *Engine) Extend(call Call, loanID uint64, intent BorrowIntent, collection crypto.Address) (uint64, error) {
	var successorID uint64
	err := e.execute(call, true, func(op *opContext) error {
		loan, err := loadLoan(op.tx, loanID)
		if err != nil {
			return err
		}
		if err := e.checkSettleable(op, loan, collection); err != nil {
			return err
		}
		if err := validateIntent(intent); err != nil {
			return err
		}
		cfg, err := op.config()
		if err != nil {
			return err
		}
		if err := checkNonce(op.tx, cfg, op.call.Caller, intent.Nonce, op.now); err != nil {
			return err
		}
		if !VerifyIntent(cfg.Signer, e.intentMessage(intent, collection, loan.TokenIDs)) {
			return fmt.Errorf("%w: extension intent for loan %d", ErrInvalidSignature, loan.ID)
		}

		repayValue := scaled(loan.RepayAmount)
		fee, err := ComputeFee(repayValue, scaled(loan.LoanAmount), cfg.FeeRateBps)
		if err != nil {
			return fmt.Errorf("loan %d: %w", loan.ID, err)
		}

		oldOffer, err := loadOffer(op.tx, loan.OfferID)
		if err != nil {
			return err
		}
		newOffer := oldOffer
		if intent.OfferID != oldOffer.ID {
			if newOffer, err = loadOffer(op.tx, intent.OfferID); err != nil {
				return err
			}
		}
		if newOffer.Kind != loan.Kind {
			return fmt.Errorf("%w: offer %d lends %s, loan %d was %s", ErrInvalidParams, newOffer.ID, newOffer.Kind, loan.ID, loan.Kind)
		}
		if err := checkDrawable(newOffer, loan.CollectionID, loan.Count, intent.LoanAmount); err != nil {
			return err
		}
		if oldOffer.Count < loan.Count {
			return fmt.Errorf("%w: offer %d count below loan %d collateral", ErrIllegalState, oldOffer.ID, loan.ID)
		}

		successor := &Loan{
			ID:           cfg.NextLoanID,
			Borrower:     loan.Borrower,
			OfferID:      newOffer.ID,
			LoanAmount:   cloneBigInt(intent.LoanAmount),
			RepayAmount:  cloneBigInt(intent.RepayAmount),
			EndTime:      endTime(op.now, intent.DurationDays),
			CollectionID: loan.CollectionID,
			DurationDays: uint8(intent.DurationDays),
			Status:       LoanStatusActive,
			TokenIDs:     loan.TokenIDs,
			Count:        loan.Count,
			Kind:         loan.Kind,
		}
		cfg.NextLoanID++
		loan.Status = LoanStatusRepaid
		oldOffer.Count -= loan.Count
		newOffer.Remaining -= loan.Count

		fees, err := loadFees(op.tx)
		if err != nil {
			return err
		}
		fees.Accrue(loan.Kind, fee)

		if err := e.storeSettlement(op, loan, oldOffer, fees); err != nil {
			return err
		}
		if err := op.tx.PutLoan(successor); err != nil {
			return fmt.Errorf("store loan %d: %w", successor.ID, err)
		}
		if err := op.tx.PutOffer(newOffer); err != nil {
			return fmt.Errorf("store offer %d: %w", newOffer.ID, err)
		}
		if err := op.tx.PutNonce(op.call.Caller, intent.Nonce); err != nil {
			return fmt.Errorf("store nonce: %w", err)
		}
		if err := op.saveConfig(); err != nil {
			return err
		}

		newLoanValue := scaled(successor.LoanAmount)
		switch gap := new(big.Int).Sub(repayValue, newLoanValue); gap.Sign() {
		case 1:
			if err := op.pay.collect(op.call.Caller, gap, loan.Kind); err != nil {
				return err
			}
		case -1:
			if err := op.pay.disburse(loan.Borrower, gap.Neg(gap), loan.Kind); err != nil {
				return err
			}
		}
		if err := op.pay.disburse(oldOffer.Owner, new(big.Int).Sub(repayValue, fee), loan.Kind); err != nil {
			return err
		}

		successorID = successor.ID
		op.emit(NewLoanRepaidEvent(loan, fee))
		op.emit(NewLoanRolledOverEvent(loan, successor))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return successorID, nil
}

// Repay collects the repay amount from the borrower, pays the lender net of
// the protocol fee and returns the collateral.
func (e *Engine) Repay(call Call, loanID uint64, collection crypto.Address) error {
	return e.execute(call, true, func(op *opContext) error {
		loan, err := loadLoan(op.tx, loanID)
		if err != nil {
			return err
		}
		if err := e.checkSettleable(op, loan, collection); err != nil {
			return err
		}
		cfg, err := op.config()
		if err != nil {
			return err
		}
		offer, err := loadOffer(op.tx, loan.OfferID)
		if err != nil {
			return err
		}
		if offer.Count < loan.Count {
			return fmt.Errorf("%w: offer %d count below loan %d collateral", ErrIllegalState, offer.ID, loan.ID)
		}
		repayValue := scaled(loan.RepayAmount)
		fee, err := ComputeFee(repayValue, scaled(loan.LoanAmount), cfg.FeeRateBps)
		if err != nil {
			return fmt.Errorf("loan %d: %w", loan.ID, err)
		}
		fees, err := loadFees(op.tx)
		if err != nil {
			return err
		}
		fees.Accrue(loan.Kind, fee)
		loan.Status = LoanStatusRepaid
		offer.Count -= loan.Count
		if err := e.storeSettlement(op, loan, offer, fees); err != nil {
			return err
		}

		if err := op.pay.collect(op.call.Caller, repayValue, loan.Kind); err != nil {
			return err
		}
		if err := op.pay.disburse(offer.Owner, new(big.Int).Sub(repayValue, fee), loan.Kind); err != nil {
			return err
		}
		if err := e.releaseCollateral(op, collection, loan, loan.Borrower); err != nil {
			return err
		}
		op.emit(NewLoanRepaidEvent(loan, fee))
		return nil
	})
}

// Liquidate hands the collateral of an expired loan to the lender. No value
// moves.
func (e *Engine) Liquidate(call Call, loanID uint64, collection crypto.Address) error {
	return e.execute(call, false, func(op *opContext) error {
		loan, err := loadLoan(op.tx, loanID)
		if err != nil {
			return err
		}
		if err := checkCollection(op.tx, loan, collection); err != nil {
			return err
		}
		offer, err := loadOffer(op.tx, loan.OfferID)
		if err != nil {
			return err
		}
		if err := e.access.lender(op.call.Caller, offer); err != nil {
			return err
		}
		if loan.Status != LoanStatusActive {
			return fmt.Errorf("%w: loan %d is %s", ErrIllegalState, loan.ID, loan.Status)
		}
		if op.now < 0 || uint64(op.now) <= loan.EndTime {
			return fmt.Errorf("%w: loan %d has not expired", ErrIllegalState, loan.ID)
		}
		if offer.Count < loan.Count {
			return fmt.Errorf("%w: offer %d count below loan %d collateral", ErrIllegalState, offer.ID, loan.ID)
		}
		loan.Status = LoanStatusLiquidated
		offer.Count -= loan.Count
		if err := op.tx.PutLoan(loan); err != nil {
			return fmt.Errorf("store loan %d: %w", loan.ID, err)
		}
		if err := op.tx.PutOffer(offer); err != nil {
			return fmt.Errorf("store offer %d: %w", offer.ID, err)
		}
		if err := e.releaseCollateral(op, collection, loan, offer.Owner); err != nil {
			return err
		}
		op.emit(NewLoanLiquidatedEvent(loan))
		return nil
	})
}

// Loan returns a copy of the stored loan.
func (e *Engine) Loan(id uint64) (*Loan, error) {
	var loan *Loan
	err := e.view(func(tx StateTx) error {
		loaded, err := loadLoan(tx, id)
		if err != nil {
			return err
		}
		loan = loaded.Clone()
		return nil
	})
	return loan, err
}

// LoanTokenIDs returns the collateral ids pledged by a loan, in order.
func (e *Engine) LoanTokenIDs(id uint64) ([]uint16, error) {
	loan, err := e.Loan(id)
	if err != nil {
		return nil, err
	}
	return loan.TokenIDs.Unpack(int(loan.Count))
}

func (e *Engine) intentMessage(intent BorrowIntent, collection crypto.Address, packed PackedTokenIDs) IntentMessage {
	return IntentMessage{
		Intent:     intent,
		Collection: collection,
		TokenIDs:   packed,
		Module:     e.moduleAddress,
		ChainID:    e.chainID,
	}
}

// checkSettleable is the shared predicate for repay and extend: the loan is
// real, active, owned by the caller and pledged from collection.
func (e *Engine) checkSettleable(op *opContext, loan *Loan, collection crypto.Address) error {
	if loan.Status != LoanStatusActive {
		return fmt.Errorf("%w: loan %d is %s", ErrIllegalState, loan.ID, loan.Status)
	}
	if err := e.access.borrower(op.call.Caller, loan); err != nil {
		return err
	}
	return checkCollection(op.tx, loan, collection)
}

func checkCollection(st engineState, loan *Loan, collection crypto.Address) error {
	collectionID, err := verifiedCollection(st, collection)
	if err != nil {
		return err
	}
	if collectionID != loan.CollectionID {
		return fmt.Errorf("%w: loan %d was not pledged from %s", ErrInvalidParams, loan.ID, collection)
	}
	return nil
}

// checkDrawable verifies that count slots of offer can back a loan of
// loanAmount against collectionID.
func checkDrawable(offer *Offer, collectionID uint64, count uint8, loanAmount *big.Int) error {
	if offer.Remaining == 0 {
		return fmt.Errorf("%w: offer %d has no undrawn slots", ErrNoOfferFound, offer.ID)
	}
	if offer.Remaining < count {
		return fmt.Errorf("%w: offer %d has %d undrawn slots, %d requested", ErrIllegalState, offer.ID, offer.Remaining, count)
	}
	if offer.CollectionID != collectionID {
		return fmt.Errorf("%w: offer %d lends against collection %d", ErrInvalidParams, offer.ID, offer.CollectionID)
	}
	expected := new(big.Int).Mul(cloneBigInt(offer.UnitAmount), big.NewInt(int64(count)))
	if expected.Cmp(cloneBigInt(loanAmount)) != 0 {
		return fmt.Errorf("%w: loan amount %s does not equal %d slots of %s", ErrInvalidParams, loanAmount, count, offer.UnitAmount)
	}
	return nil
}

func (e *Engine) storeSettlement(op *opContext, loan *Loan, offer *Offer, fees *FeeBalances) error {
	if err := op.tx.PutLoan(loan); err != nil {
		return fmt.Errorf("store loan %d: %w", loan.ID, err)
	}
	if err := op.tx.PutOffer(offer); err != nil {
		return fmt.Errorf("store offer %d: %w", offer.ID, err)
	}
	if err := op.tx.PutFeeBalances(fees); err != nil {
		return fmt.Errorf("store fee balances: %w", err)
	}
	return nil
}

func (e *Engine) releaseCollateral(op *opContext, collection crypto.Address, loan *Loan, to crypto.Address) error {
	ids, err := loan.TokenIDs.Unpack(int(loan.Count))
	if err != nil {
		return err
	}
	rails := op.tx.Rails()
	for _, id := range ids {
		if err := rails.TransferNFT(collection, e.moduleAddress, e.moduleAddress, to, id); err != nil {
			return fmt.Errorf("%w: release token %d to %s: %v", ErrPaymentFailed, id, to, err)
		}
	}
	return nil
}

func validateIntent(intent BorrowIntent) error {
	if intent.OfferID == 0 {
		return fmt.Errorf("%w: offer id must be non-zero", ErrInvalidParams)
	}
	if intent.DurationDays == 0 || intent.DurationDays > MaxDurationDays {
		return fmt.Errorf("%w: duration must be between 1 and %d days", ErrInvalidParams, MaxDurationDays)
	}
	if intent.LoanAmount == nil || intent.LoanAmount.Sign() <= 0 {
		return fmt.Errorf("%w: loan amount must be positive", ErrInvalidParams)
	}
	if intent.RepayAmount == nil || intent.RepayAmount.Cmp(intent.LoanAmount) <= 0 {
		return fmt.Errorf("%w: repay amount must exceed loan amount", ErrInvalidParams)
	}
	return nil
}

// checkNonce accepts nonce when it is strictly above the borrower's last
// accepted nonce and within cfg.NonceWindow seconds of now in either
// direction.
func checkNonce(st engineState, cfg *Config, borrower crypto.Address, nonce uint64, now int64) error {
	last, err := st.GetNonce(borrower)
	if err != nil {
		return fmt.Errorf("load nonce: %w", err)
	}
	if nonce <= last {
		return fmt.Errorf("%w: nonce %d not above last accepted %d", ErrInvalidNonce, nonce, last)
	}
	if nonce > math.MaxInt64 {
		return fmt.Errorf("%w: nonce %d out of range", ErrInvalidNonce, nonce)
	}
	window := cfg.NonceWindow
	if window > math.MaxInt64/2 {
		window = math.MaxInt64 / 2
	}
	delta := int64(nonce) - now
	if delta < 0 {
		delta = -delta
	}
	if delta > int64(window) {
		return fmt.Errorf("%w: nonce %d outside the %ds window around %d", ErrInvalidNonce, nonce, cfg.NonceWindow, now)
	}
	return nil
}

func endTime(now int64, durationDays uint64) uint64 {
	if now < 0 {
		now = 0
	}
	return uint64(now) + durationDays*SecondsPerDay
}
