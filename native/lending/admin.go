package lending

import (
	"fmt"

	"nftlend/crypto"
)

// ConfigUpdate carries the privileged configuration knobs. Id counters are
// never settable.
type ConfigUpdate struct {
	Signer      crypto.Address
	FeeRateBps  uint64
	NonceWindow uint64
}

func (u ConfigUpdate) validate() error {
	if u.FeeRateBps > MaxFeeRateBps {
		return fmt.Errorf("%w: fee rate %d bps exceeds %d", ErrInvalidParams, u.FeeRateBps, MaxFeeRateBps)
	}
	if u.NonceWindow == 0 {
		return fmt.Errorf("%w: nonce window must be positive", ErrInvalidParams)
	}
	return nil
}

// SetConfig replaces the signer, fee rate and nonce window.
func (e *Engine) SetConfig(call Call, update ConfigUpdate) error {
	return e.execute(call, false, func(op *opContext) error {
		if err := e.access.privileged(op.call.Caller, CapConfigure); err != nil {
			return err
		}
		if err := update.validate(); err != nil {
			return err
		}
		cfg, err := op.config()
		if err != nil {
			return err
		}
		cfg.Signer = update.Signer
		cfg.FeeRateBps = update.FeeRateBps
		cfg.NonceWindow = update.NonceWindow
		if err := op.saveConfig(); err != nil {
			return err
		}
		op.emit(NewConfigUpdatedEvent(cfg))
		return nil
	})
}

// EnsureConfig writes update as the initial configuration when the store has
// none yet and reports whether it did. It is meant for daemon bootstrap and
// bypasses the access provider.
func (e *Engine) EnsureConfig(update ConfigUpdate) (bool, error) {
	if err := update.validate(); err != nil {
		return false, err
	}
	if e == nil || e.store == nil {
		return false, errNilStore
	}
	tx := e.store.Begin()
	defer tx.Discard()
	_, ok, err := tx.GetConfig()
	if err != nil {
		return false, fmt.Errorf("load config: %w", err)
	}
	if ok {
		return false, nil
	}
	cfg := DefaultConfig()
	cfg.Signer = update.Signer
	cfg.FeeRateBps = update.FeeRateBps
	cfg.NonceWindow = update.NonceWindow
	if err := tx.PutConfig(cfg); err != nil {
		return false, fmt.Errorf("store config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("lending: commit: %w", err)
	}
	e.emitter.Emit(lendingEvent{evt: NewConfigUpdatedEvent(cfg)})
	return true, nil
}

// WithdrawFees pays every accrued fee balance to the caller and zeroes it.
func (e *Engine) WithdrawFees(call Call) (*FeeBalances, error) {
	var withdrawn *FeeBalances
	err := e.execute(call, false, func(op *opContext) error {
		if err := e.access.privileged(op.call.Caller, CapWithdrawFees); err != nil {
			return err
		}
		fees, err := loadFees(op.tx)
		if err != nil {
			return err
		}
		withdrawn = fees.Clone()
		for _, kind := range []AssetKind{AssetNative, AssetToken} {
			if err := op.pay.disburse(op.call.Caller, fees.Balance(kind), kind); err != nil {
				return err
			}
			fees.Reset(kind)
		}
		if err := op.tx.PutFeeBalances(fees); err != nil {
			return fmt.Errorf("store fee balances: %w", err)
		}
		op.emit(NewFeesWithdrawnEvent(op.call.Caller, withdrawn))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}

// Config returns the current configuration, or the defaults for an empty
// store.
func (e *Engine) Config() (*Config, error) {
	var cfg *Config
	err := e.view(func(tx StateTx) error {
		loaded, err := loadConfig(tx)
		if err != nil {
			return err
		}
		cfg = loaded.Clone()
		return nil
	})
	return cfg, err
}

// FeeBalances returns the accrued protocol fees.
func (e *Engine) FeeBalances() (*FeeBalances, error) {
	var fees *FeeBalances
	err := e.view(func(tx StateTx) error {
		var err error
		fees, err = loadFees(tx)
		return err
	})
	return fees, err
}

// Nonce returns the last nonce accepted from borrower.
func (e *Engine) Nonce(borrower crypto.Address) (uint64, error) {
	var nonce uint64
	err := e.view(func(tx StateTx) error {
		var err error
		nonce, err = tx.GetNonce(borrower)
		return err
	})
	return nonce, err
}
