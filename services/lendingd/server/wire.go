package server

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"nftlend/crypto"
	"nftlend/native/bank"
	"nftlend/native/lending"
)

// Amounts travel as base-10 strings so that values above 2^53 survive JSON
// clients.

type verifyCollectionRequest struct {
	Collection crypto.Address `json:"collection"`
}

type offerRequest struct {
	OfferID    uint64         `json:"offerId"`
	Collection crypto.Address `json:"collection"`
	UnitAmount string         `json:"unitAmount"`
	SlotCount  uint64         `json:"slotCount"`
	AssetKind  string         `json:"assetKind"`
	// Value is native value attached to the call.
	Value string `json:"value"`
}

type editOfferRequest struct {
	UnitAmount string `json:"unitAmount"`
	SlotCount  uint64 `json:"slotCount"`
	Value      string `json:"value"`
}

type intentPayload struct {
	OfferID      uint64 `json:"offerId"`
	LoanAmount   string `json:"loanAmount"`
	RepayAmount  string `json:"repayAmount"`
	DurationDays uint64 `json:"durationDays"`
	Nonce        uint64 `json:"nonce"`
	Signature    string `json:"signature"`
}

type borrowRequest struct {
	Intent     intentPayload  `json:"intent"`
	Collection crypto.Address `json:"collection"`
	TokenIDs   []uint16       `json:"tokenIds"`
}

type extendRequest struct {
	Intent     intentPayload  `json:"intent"`
	Collection crypto.Address `json:"collection"`
	Value      string         `json:"value"`
}

type settleRequest struct {
	Collection crypto.Address `json:"collection"`
	Value      string         `json:"value"`
}

type configRequest struct {
	Signer      crypto.Address `json:"signer"`
	FeeRateBps  uint64         `json:"feeRateBps"`
	NonceWindow uint64         `json:"nonceWindow"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type tokenApprovalRequest struct {
	Amount string `json:"amount"`
}

type nftApprovalRequest struct {
	Collection crypto.Address `json:"collection"`
	Approved   bool           `json:"approved"`
}

type idResponse struct {
	ID uint64 `json:"id"`
}

type offerResponse struct {
	ID           uint64         `json:"id"`
	Owner        crypto.Address `json:"owner"`
	CollectionID uint64         `json:"collectionId"`
	UnitAmount   string         `json:"unitAmount"`
	Count        uint8          `json:"count"`
	Remaining    uint8          `json:"remaining"`
	AssetKind    string         `json:"assetKind"`
}

type loanResponse struct {
	ID           uint64         `json:"id"`
	OfferID      uint64         `json:"offerId"`
	Borrower     crypto.Address `json:"borrower"`
	CollectionID uint64         `json:"collectionId"`
	LoanAmount   string         `json:"loanAmount"`
	RepayAmount  string         `json:"repayAmount"`
	EndTime      uint64         `json:"endTime"`
	DurationDays uint8          `json:"durationDays"`
	Status       string         `json:"status"`
	TokenIDs     []uint16       `json:"tokenIds"`
	AssetKind    string         `json:"assetKind"`
}

type configResponse struct {
	Signer           crypto.Address `json:"signer"`
	FeeRateBps       uint64         `json:"feeRateBps"`
	NonceWindow      uint64         `json:"nonceWindow"`
	NextOfferID      uint64         `json:"nextOfferId"`
	NextLoanID       uint64         `json:"nextLoanId"`
	NextCollectionID uint64         `json:"nextCollectionId"`
	Paused           bool           `json:"paused"`
}

type feesResponse struct {
	Native string `json:"native"`
	Token  string `json:"token"`
}

type accountResponse struct {
	Address crypto.Address `json:"address"`
	Native  string         `json:"native"`
	Token   string         `json:"token"`
}

type nonceResponse struct {
	Borrower crypto.Address `json:"borrower"`
	Nonce    uint64         `json:"nonce"`
}

type collectionResponse struct {
	Collection crypto.Address `json:"collection"`
	ID         uint64         `json:"id"`
	Verified   bool           `json:"verified"`
}

// parseAmount decodes a non-negative base-10 amount. Empty input is zero
// unless required is set.
func parseAmount(field, raw string, required bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if required {
			return nil, fmt.Errorf("%w: %s required", lending.ErrInvalidParams, field)
		}
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a base-10 integer", lending.ErrInvalidParams, field)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must not be negative", lending.ErrInvalidParams, field)
	}
	return value, nil
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id %q", lending.ErrInvalidParams, raw)
	}
	return id, nil
}

func (p intentPayload) decode() (lending.BorrowIntent, error) {
	loanAmount, err := parseAmount("loanAmount", p.LoanAmount, true)
	if err != nil {
		return lending.BorrowIntent{}, err
	}
	repayAmount, err := parseAmount("repayAmount", p.RepayAmount, true)
	if err != nil {
		return lending.BorrowIntent{}, err
	}
	signature, err := hexutil.Decode(strings.TrimSpace(p.Signature))
	if err != nil {
		return lending.BorrowIntent{}, fmt.Errorf("%w: signature: %v", lending.ErrInvalidSignature, err)
	}
	return lending.BorrowIntent{
		OfferID:      p.OfferID,
		LoanAmount:   loanAmount,
		RepayAmount:  repayAmount,
		DurationDays: p.DurationDays,
		Nonce:        p.Nonce,
		Signature:    signature,
	}, nil
}

func toOfferResponse(o *lending.Offer) offerResponse {
	return offerResponse{
		ID:           o.ID,
		Owner:        o.Owner,
		CollectionID: o.CollectionID,
		UnitAmount:   amountString(o.UnitAmount),
		Count:        o.Count,
		Remaining:    o.Remaining,
		AssetKind:    o.Kind.String(),
	}
}

func toLoanResponse(l *lending.Loan, tokenIDs []uint16) loanResponse {
	if tokenIDs == nil {
		tokenIDs = []uint16{}
	}
	return loanResponse{
		ID:           l.ID,
		OfferID:      l.OfferID,
		Borrower:     l.Borrower,
		CollectionID: l.CollectionID,
		LoanAmount:   amountString(l.LoanAmount),
		RepayAmount:  amountString(l.RepayAmount),
		EndTime:      l.EndTime,
		DurationDays: l.DurationDays,
		Status:       l.Status.String(),
		TokenIDs:     tokenIDs,
		AssetKind:    l.Kind.String(),
	}
}

func toConfigResponse(cfg *lending.Config, paused bool) configResponse {
	return configResponse{
		Signer:           cfg.Signer,
		FeeRateBps:       cfg.FeeRateBps,
		NonceWindow:      cfg.NonceWindow,
		NextOfferID:      cfg.NextOfferID,
		NextLoanID:       cfg.NextLoanID,
		NextCollectionID: cfg.NextCollectionID,
		Paused:           paused,
	}
}

func toFeesResponse(fees *lending.FeeBalances) feesResponse {
	fees = fees.Clone()
	return feesResponse{Native: fees.Native.String(), Token: fees.Token.String()}
}

func toAccountResponse(addr crypto.Address, account *bank.Account) accountResponse {
	resp := accountResponse{Address: addr, Native: "0", Token: "0"}
	if account == nil {
		return resp
	}
	resp.Native = amountString(account.Native)
	resp.Token = amountString(account.Token)
	return resp
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
