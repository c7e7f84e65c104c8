package lending

import (
	"fmt"
	"math/big"
	"strings"

	"nftlend/crypto"
)

const (
	// MaxSlots bounds both the slot count of an offer and the number of NFTs
	// pledged by a single loan.
	MaxSlots = 10
	// MaxDurationDays is the longest loan term a borrow intent may request.
	MaxDurationDays = 28
	// SecondsPerDay converts intent durations into loan end times.
	SecondsPerDay = 86_400
)

// AmountScale converts offer and intent amounts into base units of the
// payment asset. Every value transfer multiplies by this factor.
var AmountScale = big.NewInt(1_000_000_000_000)

// AssetKind selects the payment asset an offer lends in.
type AssetKind uint8

const (
	// AssetNative lends the host's native value. Deposits arrive as value
	// attached to the call.
	AssetNative AssetKind = iota
	// AssetToken lends the configured fungible payment token. Deposits are
	// pulled from the payer using a prior allowance.
	AssetToken
)

func (k AssetKind) Valid() bool {
	return k == AssetNative || k == AssetToken
}

func (k AssetKind) String() string {
	switch k {
	case AssetNative:
		return "native"
	case AssetToken:
		return "token"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseAssetKind accepts the String form of an AssetKind.
func ParseAssetKind(s string) (AssetKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "native", "":
		return AssetNative, nil
	case "token", "fungible":
		return AssetToken, nil
	default:
		return 0, fmt.Errorf("%w: unknown asset kind %q", ErrInvalidParams, s)
	}
}

// LoanStatus enumerates the lifecycle states of a loan. Repaid and Liquidated
// are terminal.
type LoanStatus uint8

const (
	LoanStatusActive LoanStatus = iota + 1
	LoanStatusRepaid
	LoanStatusLiquidated
)

func (s LoanStatus) String() string {
	switch s {
	case LoanStatusActive:
		return "active"
	case LoanStatusRepaid:
		return "repaid"
	case LoanStatusLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Offer is a lender's standing liquidity commitment against one verified
// collection.
type Offer struct {
	// ID is the offer identifier allocated from Config.NextOfferID.
	ID uint64
	// Owner is the lender. The zero address marks an unallocated offer.
	Owner crypto.Address
	// CollectionID is the registry id of the collection the offer lends against.
	CollectionID uint64
	// UnitAmount is the principal lent per slot, in AmountScale units.
	UnitAmount *big.Int
	// Count is the number of slots currently held by the offer, drawn or not.
	Count uint8
	// Remaining is the number of undrawn slots. Always <= Count.
	Remaining uint8
	// Kind is the payment asset of the offer.
	Kind AssetKind
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.UnitAmount = cloneBigInt(o.UnitAmount)
	return &clone
}

// Drawn returns the number of slots currently backing active loans.
func (o *Offer) Drawn() uint8 {
	if o == nil || o.Remaining > o.Count {
		return 0
	}
	return o.Count - o.Remaining
}

// Loan records one draw against an offer.
type Loan struct {
	ID       uint64
	Borrower crypto.Address
	// OfferID references the backing offer. Zero marks an absent loan.
	OfferID uint64
	// LoanAmount and RepayAmount are expressed in AmountScale units.
	LoanAmount   *big.Int
	RepayAmount  *big.Int
	EndTime      uint64
	CollectionID uint64
	DurationDays uint8
	Status       LoanStatus
	TokenIDs     PackedTokenIDs
	Count        uint8
	Kind         AssetKind
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.LoanAmount = cloneBigInt(l.LoanAmount)
	clone.RepayAmount = cloneBigInt(l.RepayAmount)
	return &clone
}

// Config is the engine-wide singleton record.
type Config struct {
	// Signer is the trusted off-platform intent signer. The zero address
	// disables borrowing.
	Signer           crypto.Address
	NextOfferID      uint64
	NextLoanID       uint64
	FeeRateBps       uint64
	NonceWindow      uint64
	NextCollectionID uint64
}

// DefaultConfig returns the configuration written on first use of an empty
// store.
func DefaultConfig() *Config {
	return &Config{
		NextOfferID:      1,
		NextLoanID:       1,
		NextCollectionID: 1,
		NonceWindow:      DefaultNonceWindow,
	}
}

func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// FeeBalances holds protocol fees accrued per asset kind, in base units.
type FeeBalances struct {
	Native *big.Int
	Token  *big.Int
}

// Clone returns a deep copy with nil fields normalised to zero.
func (f *FeeBalances) Clone() *FeeBalances {
	if f == nil {
		return &FeeBalances{Native: big.NewInt(0), Token: big.NewInt(0)}
	}
	return &FeeBalances{Native: cloneBigInt(f.Native), Token: cloneBigInt(f.Token)}
}

// BorrowIntent is the signed authorisation a borrower presents to Borrow or
// Extend.
type BorrowIntent struct {
	OfferID uint64 `json:"offerId"`
	// LoanAmount and RepayAmount are in AmountScale units.
	LoanAmount  *big.Int `json:"loanAmount"`
	RepayAmount *big.Int `json:"repayAmount"`
	// DurationDays is the requested loan term, at most MaxDurationDays.
	DurationDays uint64 `json:"durationDays"`
	// Nonce is a unix timestamp chosen by the signer. It must be strictly
	// greater than the borrower's previous nonce.
	Nonce     uint64 `json:"nonce"`
	Signature []byte `json:"signature"`
}

// Call carries the identity and attached native value of the caller of a
// mutating operation.
type Call struct {
	Caller crypto.Address
	Value  *big.Int
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func scaled(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(v, AmountScale)
}
