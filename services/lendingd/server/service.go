package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"nftlend/core/state"
	"nftlend/crypto"
	"nftlend/native/bank"
	nativecommon "nftlend/native/common"
	"nftlend/native/lending"
	"nftlend/observability"
)

// Service serialises every call into the lending engine and the bank ledger.
// The engine is not safe for concurrent use, so reads take the same lock.
type Service struct {
	mu      sync.Mutex
	engine  *lending.Engine
	store   *state.Store
	pauses  *nativecommon.Pauses
	metrics *observability.LendingMetrics
	logger  *slog.Logger
}

// NewService wraps an engine that has already been wired to store.
func NewService(engine *lending.Engine, store *state.Store, pauses *nativecommon.Pauses, metrics *observability.LendingMetrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, store: store, pauses: pauses, metrics: metrics, logger: logger}
}

func (s *Service) Module() crypto.Address { return s.engine.ModuleAddress() }

// run holds the host lock around fn and records the outcome of op.
func (s *Service) run(op string, caller crypto.Address, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	err := fn()
	kind := errorKind(err)
	s.metrics.Observe(op, kind, time.Since(start))
	if err != nil {
		level := slog.LevelInfo
		if kind == kindInternal {
			level = slog.LevelError
		}
		s.logger.Log(context.Background(), level, "lending operation failed", "op", op, "caller", caller.String(), "kind", kind, "error", err)
		return err
	}
	s.logger.Debug("lending operation", "op", op, "caller", caller.String())
	return nil
}

func (s *Service) VerifyCollection(call lending.Call, collection crypto.Address) (uint64, error) {
	var id uint64
	err := s.run("verify_collection", call.Caller, func() error {
		var err error
		id, err = s.engine.VerifyCollection(call, collection)
		return err
	})
	return id, err
}

func (s *Service) AddOffer(call lending.Call, req lending.OfferRequest) (uint64, error) {
	var id uint64
	err := s.run("add_offer", call.Caller, func() error {
		var err error
		id, err = s.engine.AddOffer(call, req)
		return err
	})
	return id, err
}

func (s *Service) EditOffer(call lending.Call, offerID uint64, unitAmount *big.Int, slotCount uint64) error {
	return s.run("edit_offer", call.Caller, func() error {
		return s.engine.EditOffer(call, offerID, unitAmount, slotCount)
	})
}

func (s *Service) RevokeOffer(call lending.Call, offerID uint64) error {
	return s.run("revoke_offer", call.Caller, func() error {
		return s.engine.RevokeOffer(call, offerID)
	})
}

func (s *Service) Borrow(call lending.Call, req lending.BorrowRequest) (uint64, error) {
	var id uint64
	err := s.run("borrow", call.Caller, func() error {
		var err error
		id, err = s.engine.Borrow(call, req)
		return err
	})
	return id, err
}

func (s *Service) Extend(call lending.Call, loanID uint64, intent lending.BorrowIntent, collection crypto.Address) (uint64, error) {
	var id uint64
	err := s.run("extend", call.Caller, func() error {
		var err error
		id, err = s.engine.Extend(call, loanID, intent, collection)
		if err != nil {
			return err
		}
		s.recordFees()
		return nil
	})
	return id, err
}

func (s *Service) Repay(call lending.Call, loanID uint64, collection crypto.Address) error {
	return s.run("repay", call.Caller, func() error {
		if err := s.engine.Repay(call, loanID, collection); err != nil {
			return err
		}
		s.recordFees()
		return nil
	})
}

func (s *Service) Liquidate(call lending.Call, loanID uint64, collection crypto.Address) error {
	return s.run("liquidate", call.Caller, func() error {
		return s.engine.Liquidate(call, loanID, collection)
	})
}

func (s *Service) SetConfig(call lending.Call, update lending.ConfigUpdate) error {
	return s.run("set_config", call.Caller, func() error {
		return s.engine.SetConfig(call, update)
	})
}

func (s *Service) WithdrawFees(call lending.Call) (*lending.FeeBalances, error) {
	var withdrawn *lending.FeeBalances
	err := s.run("withdraw_fees", call.Caller, func() error {
		var err error
		withdrawn, err = s.engine.WithdrawFees(call)
		if err == nil {
			s.recordFees()
		}
		return err
	})
	return withdrawn, err
}

// SetPaused engages or lifts the module pause. It requires CapPause.
func (s *Service) SetPaused(caller crypto.Address, paused bool) error {
	return s.run("set_pause", caller, func() error {
		if err := s.engine.Authorize(caller, lending.CapPause); err != nil {
			return err
		}
		if s.pauses == nil {
			return fmt.Errorf("%w: pausing is not configured", lending.ErrIllegalState)
		}
		s.pauses.Set(lending.ModuleName, paused)
		s.metrics.SetPause(paused)
		s.logger.Warn("lending pause updated", "caller", caller.String(), "paused", paused)
		return nil
	})
}

// Paused reports whether mutating operations are currently rejected.
func (s *Service) Paused() bool {
	return s.pauses.IsPaused(lending.ModuleName)
}

func (s *Service) Offer(id uint64) (*lending.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Offer(id)
}

// Loan returns the loan together with its unpacked collateral ids.
func (s *Service) Loan(id uint64) (*lending.Loan, []uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loan, err := s.engine.Loan(id)
	if err != nil {
		return nil, nil, err
	}
	ids, err := loan.TokenIDs.Unpack(int(loan.Count))
	if err != nil {
		return nil, nil, err
	}
	return loan, ids, nil
}

func (s *Service) CollectionID(collection crypto.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.CollectionID(collection)
}

func (s *Service) Nonce(borrower crypto.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Nonce(borrower)
}

func (s *Service) Config() (*lending.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Config()
}

func (s *Service) FeeBalances() (*lending.FeeBalances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.FeeBalances()
}

// ApproveToken lets the module pull up to amount of owner's payment token.
func (s *Service) ApproveToken(owner crypto.Address, amount *big.Int) error {
	return s.run("approve_token", owner, func() error {
		return s.ledgerTx(func(l *bank.Ledger) error {
			return l.ApproveToken(owner, s.Module(), amount)
		})
	})
}

// SetApprovalForAll lets the module move any of owner's NFTs in collection.
func (s *Service) SetApprovalForAll(owner, collection crypto.Address, approved bool) error {
	return s.run("approve_nft", owner, func() error {
		return s.ledgerTx(func(l *bank.Ledger) error {
			return l.SetApprovalForAll(collection, owner, s.Module(), approved)
		})
	})
}

// Account returns the balances of addr.
func (s *Service) Account(addr crypto.Address) (*bank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.store.BeginTx()
	defer tx.Discard()
	return tx.Ledger().Account(addr)
}

// OwnerOf returns the current holder of a collection token.
func (s *Service) OwnerOf(collection crypto.Address, tokenID uint16) (crypto.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.store.BeginTx()
	defer tx.Discard()
	return tx.Ledger().OwnerOf(collection, tokenID)
}

func (s *Service) ledgerTx(fn func(l *bank.Ledger) error) error {
	if s.store == nil {
		return errors.New("bank: store not configured")
	}
	tx := s.store.BeginTx()
	defer tx.Discard()
	if err := fn(tx.Ledger()); err != nil {
		if errors.Is(err, bank.ErrInvalidAmount) {
			return fmt.Errorf("%w: %w", lending.ErrInvalidParams, err)
		}
		return err
	}
	return tx.Commit()
}

// recordFees refreshes the fee gauges. The caller holds the lock.
func (s *Service) recordFees() {
	fees, err := s.engine.FeeBalances()
	if err != nil {
		s.logger.Warn("read fee balances", "error", err)
		return
	}
	s.metrics.RecordFees(lending.AssetNative.String(), fees.Native)
	s.metrics.RecordFees(lending.AssetToken.String(), fees.Token)
}
