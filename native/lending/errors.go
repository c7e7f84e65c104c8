package lending

import "errors"

// Error kinds surfaced by the engine. Apart from pause and storage failures an
// operation error wraps exactly one of these; classify with errors.Is.
var (
	ErrInvalidParams       = errors.New("lending: invalid params")
	ErrIllegalState        = errors.New("lending: illegal state")
	ErrPermissionDenied    = errors.New("lending: permission denied")
	ErrInvalidToken        = errors.New("lending: invalid token")
	ErrInsufficientBalance = errors.New("lending: insufficient balance")
	ErrPaymentFailed       = errors.New("lending: payment failed")
	ErrNoOfferFound        = errors.New("lending: no offer found")
	ErrDuplicatedOperation = errors.New("lending: duplicated operation")
	ErrInvalidNonce        = errors.New("lending: invalid nonce")
	ErrInvalidSignature    = errors.New("lending: invalid signature")
)

var errNilStore = errors.New("lending engine: store not configured")

// Kinds lists the error kinds in a stable order.
var Kinds = []error{
	ErrInvalidParams,
	ErrIllegalState,
	ErrPermissionDenied,
	ErrInvalidToken,
	ErrInsufficientBalance,
	ErrPaymentFailed,
	ErrNoOfferFound,
	ErrDuplicatedOperation,
	ErrInvalidNonce,
	ErrInvalidSignature,
}

// KindOf returns the error kind wrapped by err, or nil when err carries none.
func KindOf(err error) error {
	for _, kind := range Kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
