package lending

import (
	"math/big"
	"strconv"

	"nftlend/core/types"
	"nftlend/crypto"
)

const (
	EventTypeCollectionVerified = "lending.collection.verified"
	EventTypeOfferAdded         = "lending.offer.added"
	EventTypeOfferEdited        = "lending.offer.edited"
	EventTypeOfferRevoked       = "lending.offer.revoked"
	EventTypeLoanStarted        = "lending.loan.started"
	EventTypeLoanRepaid         = "lending.loan.repaid"
	EventTypeLoanLiquidated     = "lending.loan.liquidated"
	EventTypeConfigUpdated      = "lending.config.updated"
	EventTypeFeesWithdrawn      = "lending.fees.withdrawn"
)

// NewCollectionVerifiedEvent is emitted when a collection enters the registry.
func NewCollectionVerifiedEvent(collection crypto.Address, id uint64) *types.Event {
	return &types.Event{
		Type: EventTypeCollectionVerified,
		Attributes: map[string]string{
			"collection":   collection.String(),
			"collectionId": strconv.FormatUint(id, 10),
		},
	}
}

// NewOfferAddedEvent is emitted when an offer is created or refilled.
func NewOfferAddedEvent(o *Offer) *types.Event { return newOfferEvent(EventTypeOfferAdded, o) }

// NewOfferEditedEvent is emitted after an offer's unit amount or slot count changes.
func NewOfferEditedEvent(o *Offer) *types.Event { return newOfferEvent(EventTypeOfferEdited, o) }

// NewOfferRevokedEvent is emitted when undrawn liquidity is withdrawn.
func NewOfferRevokedEvent(o *Offer, refund *big.Int) *types.Event {
	evt := newOfferEvent(EventTypeOfferRevoked, o)
	if evt != nil {
		evt.Attributes["refund"] = cloneBigInt(refund).String()
	}
	return evt
}

func NewLoanStartedEvent(l *Loan) *types.Event { return newLoanEvent(EventTypeLoanStarted, l) }

// NewLoanRepaidEvent carries the protocol fee retained from the repayment.
func NewLoanRepaidEvent(l *Loan, fee *big.Int) *types.Event {
	evt := newLoanEvent(EventTypeLoanRepaid, l)
	if evt != nil {
		evt.Attributes["fee"] = cloneBigInt(fee).String()
	}
	return evt
}

// NewLoanRolledOverEvent is the start event of a loan opened by Extend. It
// names the loan it replaced.
func NewLoanRolledOverEvent(previous, next *Loan) *types.Event {
	evt := newLoanEvent(EventTypeLoanStarted, next)
	if evt != nil && previous != nil {
		evt.Attributes["previousLoanId"] = strconv.FormatUint(previous.ID, 10)
	}
	return evt
}

func NewLoanLiquidatedEvent(l *Loan) *types.Event { return newLoanEvent(EventTypeLoanLiquidated, l) }

func NewConfigUpdatedEvent(cfg *Config) *types.Event {
	if cfg == nil {
		return nil
	}
	return &types.Event{
		Type: EventTypeConfigUpdated,
		Attributes: map[string]string{
			"signer":      cfg.Signer.String(),
			"feeRateBps":  strconv.FormatUint(cfg.FeeRateBps, 10),
			"nonceWindow": strconv.FormatUint(cfg.NonceWindow, 10),
		},
	}
}

func NewFeesWithdrawnEvent(recipient crypto.Address, withdrawn *FeeBalances) *types.Event {
	withdrawn = withdrawn.Clone()
	return &types.Event{
		Type: EventTypeFeesWithdrawn,
		Attributes: map[string]string{
			"recipient": recipient.String(),
			"native":    withdrawn.Native.String(),
			"token":     withdrawn.Token.String(),
		},
	}
}

func newOfferEvent(eventType string, o *Offer) *types.Event {
	if o == nil {
		return nil
	}
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"offerId":      strconv.FormatUint(o.ID, 10),
			"owner":        o.Owner.String(),
			"collectionId": strconv.FormatUint(o.CollectionID, 10),
			"unitAmount":   cloneBigInt(o.UnitAmount).String(),
			"count":        strconv.FormatUint(uint64(o.Count), 10),
			"remaining":    strconv.FormatUint(uint64(o.Remaining), 10),
			"assetKind":    o.Kind.String(),
		},
	}
}

func newLoanEvent(eventType string, l *Loan) *types.Event {
	if l == nil {
		return nil
	}
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"loanId":       strconv.FormatUint(l.ID, 10),
			"offerId":      strconv.FormatUint(l.OfferID, 10),
			"borrower":     l.Borrower.String(),
			"collectionId": strconv.FormatUint(l.CollectionID, 10),
			"loanAmount":   cloneBigInt(l.LoanAmount).String(),
			"repayAmount":  cloneBigInt(l.RepayAmount).String(),
			"endTime":      strconv.FormatUint(l.EndTime, 10),
			"durationDays": strconv.FormatUint(uint64(l.DurationDays), 10),
			"tokenIds":     l.TokenIDs.Hex(),
			"count":        strconv.FormatUint(uint64(l.Count), 10),
			"status":       l.Status.String(),
			"assetKind":    l.Kind.String(),
		},
	}
}
