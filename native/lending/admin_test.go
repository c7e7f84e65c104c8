package lending_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nftlend/crypto"
	nativecommon "nftlend/native/common"
	"nftlend/native/lending"
)

func TestCollectionRegistry(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.VerifyCollection(h.call(h.lender), h.collection)
	require.ErrorIs(t, err, lending.ErrPermissionDenied)

	first := h.verify()
	require.Equal(t, uint64(1), first)
	_, err = h.engine.VerifyCollection(h.call(h.admin), h.collection)
	require.ErrorIs(t, err, lending.ErrDuplicatedOperation)
	_, err = h.engine.VerifyCollection(h.call(h.admin), crypto.Address{})
	require.ErrorIs(t, err, lending.ErrInvalidParams)

	second, err := h.engine.VerifyCollection(h.call(h.admin), makeAddress(0xc2))
	require.NoError(t, err)
	require.Equal(t, uint64(2), second, "rejected attempts do not consume ids")

	id, err := h.engine.CollectionID(makeAddress(0xee))
	require.NoError(t, err)
	require.Zero(t, id)
	require.Equal(t, []string{
		lending.EventTypeCollectionVerified,
		lending.EventTypeCollectionVerified,
	}, h.recorder.Types())
}

func TestSetConfigRequiresCapability(t *testing.T) {
	h := newHarness(t)
	h.verify()
	h.addNativeOffer(100, 1)

	update := lending.ConfigUpdate{Signer: makeAddress(0x55), FeeRateBps: 500, NonceWindow: 120}
	require.ErrorIs(t, h.engine.SetConfig(h.call(h.lender), update), lending.ErrPermissionDenied)

	bad := update
	bad.FeeRateBps = lending.MaxFeeRateBps + 1
	require.ErrorIs(t, h.engine.SetConfig(h.call(h.admin), bad), lending.ErrInvalidParams)

	require.NoError(t, h.engine.SetConfig(h.call(h.admin), update))
	cfg, err := h.engine.Config()
	require.NoError(t, err)
	require.Equal(t, makeAddress(0x55), cfg.Signer)
	require.Equal(t, uint64(500), cfg.FeeRateBps)
	require.Equal(t, uint64(120), cfg.NonceWindow)
	require.Equal(t, uint64(2), cfg.NextOfferID, "counters survive configuration updates")
	require.Equal(t, uint64(2), cfg.NextCollectionID)

	applied, err := h.engine.EnsureConfig(lending.ConfigUpdate{NonceWindow: 1})
	require.NoError(t, err)
	require.False(t, applied)
}

func TestWithdrawFees(t *testing.T) {
	h := newHarness(t)
	h.setFeeRate(2000)
	h.verify()
	offerID := h.addNativeOffer(100, 3)
	loanID := h.borrow(offerID, 200, 220, 7, []uint16{1, 2})
	require.NoError(t, h.engine.Repay(h.pay(h.borrower, units(220)), loanID, h.collection))

	_, err := h.engine.WithdrawFees(h.call(h.lender))
	require.ErrorIs(t, err, lending.ErrPermissionDenied)

	adminBefore := h.account(h.admin).Native
	h.recorder.Reset()
	withdrawn, err := h.engine.WithdrawFees(h.call(h.admin))
	require.NoError(t, err)
	require.Equal(t, 0, withdrawn.Native.Cmp(units(4)))
	require.Zero(t, withdrawn.Token.Sign())
	expectBalance(t, "admin proceeds", h.account(h.admin).Native, add(adminBefore, units(4)))

	fees, err := h.engine.FeeBalances()
	require.NoError(t, err)
	require.Zero(t, fees.Native.Sign())
	require.Equal(t, []string{lending.EventTypeFeesWithdrawn}, h.recorder.Types())
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	h := newHarness(t)
	h.verify()
	offerID := h.addNativeOffer(100, 1)

	h.pauses.Set("lending", true)
	require.ErrorIs(t, h.engine.RevokeOffer(h.call(h.lender), offerID), nativecommon.ErrModulePaused)
	_, err := h.engine.VerifyCollection(h.call(h.admin), makeAddress(0xc3))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	offer, err := h.engine.Offer(offerID)
	require.NoError(t, err, "views stay available while paused")
	require.Equal(t, uint8(1), offer.Remaining)

	h.pauses.Set("lending", false)
	require.NoError(t, h.engine.RevokeOffer(h.call(h.lender), offerID))
}

func TestUnpayableOperationsRejectValue(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.VerifyCollection(h.pay(h.admin, units(1)), h.collection)
	require.ErrorIs(t, err, lending.ErrInvalidParams)
	_, err = h.engine.WithdrawFees(h.pay(h.admin, units(1)))
	require.ErrorIs(t, err, lending.ErrInvalidParams)
}
