package lending

import (
	"fmt"

	"nftlend/crypto"
)

// Capability names a privileged action.
type Capability string

const (
	CapVerifyCollection Capability = "lending.collection.verify"
	CapConfigure        Capability = "lending.config.set"
	CapWithdrawFees     Capability = "lending.fees.withdraw"
	// CapPause is checked by the host before it toggles the module pause.
	CapPause            Capability = "lending.pause"
)

// Authorizer decides whether caller may exercise a privileged capability.
type Authorizer interface {
	IsAuthorized(caller crypto.Address, capability Capability) bool
}

// StaticAuthorizer grants every capability to a fixed set of administrators.
type StaticAuthorizer struct {
	admins map[crypto.Address]struct{}
}

func NewStaticAuthorizer(admins ...crypto.Address) *StaticAuthorizer {
	set := make(map[crypto.Address]struct{}, len(admins))
	for _, admin := range admins {
		if admin.IsZero() {
			continue
		}
		set[admin] = struct{}{}
	}
	return &StaticAuthorizer{admins: set}
}

func (a *StaticAuthorizer) IsAuthorized(caller crypto.Address, _ Capability) bool {
	if a == nil {
		return false
	}
	_, ok := a.admins[caller]
	return ok
}

// policy centralises the ownership checks made at the top of each operation.
type policy struct {
	authorizer Authorizer
}

// Authorize reports whether caller holds capability under the installed
// access provider.
func (e *Engine) Authorize(caller crypto.Address, capability Capability) error {
	if e == nil {
		return errNilStore
	}
	return e.access.privileged(caller, capability)
}

func (p policy) privileged(caller crypto.Address, capability Capability) error {
	if p.authorizer == nil || !p.authorizer.IsAuthorized(caller, capability) {
		return fmt.Errorf("%w: %s lacks %s", ErrPermissionDenied, caller, capability)
	}
	return nil
}

func (p policy) offerOwner(caller crypto.Address, offer *Offer) error {
	if offer == nil || offer.Owner != caller {
		return fmt.Errorf("%w: caller does not own the offer", ErrPermissionDenied)
	}
	return nil
}

func (p policy) borrower(caller crypto.Address, loan *Loan) error {
	if loan == nil || loan.Borrower != caller {
		return fmt.Errorf("%w: caller is not the borrower", ErrPermissionDenied)
	}
	return nil
}

func (p policy) lender(caller crypto.Address, offer *Offer) error {
	if offer == nil || offer.Owner != caller {
		return fmt.Errorf("%w: caller is not the lender", ErrPermissionDenied)
	}
	return nil
}
