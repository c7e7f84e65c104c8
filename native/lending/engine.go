package lending

import (
	"fmt"
	"math/big"
	"time"

	"nftlend/core/events"
	"nftlend/core/types"
	"nftlend/crypto"
	nativecommon "nftlend/native/common"
)

// ModuleName is the key the engine consults in its pause view.
const ModuleName = "lending"

type engineState interface {
	GetOffer(id uint64) (*Offer, bool, error)
	PutOffer(offer *Offer) error
	GetLoan(id uint64) (*Loan, bool, error)
	PutLoan(loan *Loan) error
	// GetCollectionID returns 0 for collections that were never verified.
	GetCollectionID(collection crypto.Address) (uint64, error)
	PutCollectionID(collection crypto.Address, id uint64) error
	GetNonce(borrower crypto.Address) (uint64, error)
	PutNonce(borrower crypto.Address, nonce uint64) error
	GetConfig() (*Config, bool, error)
	PutConfig(cfg *Config) error
	GetFeeBalances() (*FeeBalances, error)
	PutFeeBalances(fees *FeeBalances) error
}

// StateTx is one all-or-nothing unit of engine state. Writes become visible
// to other transactions only after Commit.
type StateTx interface {
	engineState
	// Rails returns the value and custody collaborators bound to this
	// transaction.
	Rails() Rails
	Commit() error
	Discard()
}

// Store opens state transactions.
type Store interface {
	Begin() StateTx
}

type lendingEvent struct {
	evt *types.Event
}

func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lendingEvent) Event() *types.Event { return e.evt }

// Engine runs the offer and loan state machines. It is not safe for concurrent
// use; the host serialises operations.
type Engine struct {
	store         Store
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	access        policy
	guard         nativecommon.ReentrancyGuard
	moduleAddress crypto.Address
	chainID       *big.Int
	nowFn         func() int64
}

// NewEngine constructs an engine acting as moduleAddr on chainID.
func NewEngine(moduleAddr crypto.Address, chainID *big.Int) *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		moduleAddress: moduleAddr,
		chainID:       cloneBigInt(chainID),
	}
}

// SetStore wires the engine to the external persistence layer.
func (e *Engine) SetStore(store Store) { e.store = store }

// SetEmitter configures the event emitter used for committed operations.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetAuthorizer installs the access provider consulted by privileged
// operations. Without one every privileged call is denied.
func (e *Engine) SetAuthorizer(a Authorizer) {
	if e == nil {
		return
	}
	e.access = policy{authorizer: a}
}

// SetNowFunc overrides the clock used for loan expiry and nonce windows.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	e.nowFn = now
}

// ModuleAddress is the account that holds deposits, fees and collateral.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

// ChainID returns a copy of the chain id signatures are bound to.
func (e *Engine) ChainID() *big.Int { return cloneBigInt(e.chainID) }

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// opContext carries the transaction, caller and buffered events of one
// mutating operation.
type opContext struct {
	tx     StateTx
	call   Call
	pay    *paymentRail
	now    int64
	cfg    *Config
	events []*types.Event
}

func (op *opContext) emit(evt *types.Event) {
	if evt != nil {
		op.events = append(op.events, evt)
	}
}

func (op *opContext) config() (*Config, error) {
	if op.cfg != nil {
		return op.cfg, nil
	}
	cfg, err := loadConfig(op.tx)
	if err != nil {
		return nil, err
	}
	op.cfg = cfg
	return cfg, nil
}

func (op *opContext) saveConfig() error {
	if op.cfg == nil {
		return nil
	}
	if err := op.tx.PutConfig(op.cfg); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	return nil
}

// execute runs fn inside the reentrancy guard and a fresh transaction. Any
// error discards the transaction, including the credit of attached value and
// every buffered event. Events are emitted only after a successful commit.
func (e *Engine) execute(call Call, payable bool, fn func(op *opContext) error) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	release, err := e.guard.Enter()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIllegalState, err)
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}

	value := cloneBigInt(call.Value)
	if value.Sign() < 0 {
		return fmt.Errorf("%w: negative attached value", ErrInvalidParams)
	}
	if value.Sign() > 0 && !payable {
		return fmt.Errorf("%w: operation does not accept value", ErrInvalidParams)
	}

	tx := e.store.Begin()
	committed := false
	defer func() {
		if !committed {
			tx.Discard()
		}
	}()

	rails := tx.Rails()
	if value.Sign() > 0 {
		if err := rails.TransferNative(call.Caller, e.moduleAddress, value); err != nil {
			return fmt.Errorf("%w: attach value: %v", ErrInsufficientBalance, err)
		}
	}
	op := &opContext{
		tx:   tx,
		call: Call{Caller: call.Caller, Value: value},
		pay:  newPaymentRail(rails, e.moduleAddress, value),
		now:  e.now(),
	}
	if err := fn(op); err != nil {
		return err
	}
	if !op.pay.settled() {
		return fmt.Errorf("%w: attached value %s not required by the operation", ErrInvalidParams, value)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("lending: commit: %w", err)
	}
	committed = true
	for _, evt := range op.events {
		e.emitter.Emit(lendingEvent{evt: evt})
	}
	return nil
}

// view runs a read-only function against a transaction that is always
// discarded.
func (e *Engine) view(fn func(tx StateTx) error) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	tx := e.store.Begin()
	defer tx.Discard()
	return fn(tx)
}

func loadConfig(st engineState) (*Config, error) {
	cfg, ok, err := st.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !ok || cfg == nil {
		return DefaultConfig(), nil
	}
	return cfg, nil
}

func loadFees(st engineState) (*FeeBalances, error) {
	fees, err := st.GetFeeBalances()
	if err != nil {
		return nil, fmt.Errorf("load fee balances: %w", err)
	}
	return fees.Clone(), nil
}

// loadOffer returns the offer with id. Unallocated ids fail with
// ErrInvalidParams.
func loadOffer(st engineState, id uint64) (*Offer, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: offer id must be non-zero", ErrInvalidParams)
	}
	offer, ok, err := st.GetOffer(id)
	if err != nil {
		return nil, fmt.Errorf("load offer %d: %w", id, err)
	}
	if !ok || offer == nil || offer.Owner.IsZero() {
		return nil, fmt.Errorf("%w: offer %d does not exist", ErrInvalidParams, id)
	}
	return offer, nil
}

func loadLoan(st engineState, id uint64) (*Loan, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: loan id must be non-zero", ErrInvalidParams)
	}
	loan, ok, err := st.GetLoan(id)
	if err != nil {
		return nil, fmt.Errorf("load loan %d: %w", id, err)
	}
	if !ok || loan == nil || loan.OfferID == 0 {
		return nil, fmt.Errorf("%w: loan %d does not exist", ErrInvalidParams, id)
	}
	return loan, nil
}

// verifiedCollection resolves the registry id of collection, failing with
// ErrInvalidToken when it was never verified.
func verifiedCollection(st engineState, collection crypto.Address) (uint64, error) {
	if collection.IsZero() {
		return 0, fmt.Errorf("%w: empty collection address", ErrInvalidToken)
	}
	id, err := st.GetCollectionID(collection)
	if err != nil {
		return 0, fmt.Errorf("load collection %s: %w", collection, err)
	}
	if id == 0 {
		return 0, fmt.Errorf("%w: collection %s is not verified", ErrInvalidToken, collection)
	}
	return id, nil
}
