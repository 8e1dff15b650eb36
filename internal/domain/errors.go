package domain

import "errors"

// Kind classifies a failure so that every surface (HTTP handlers, webhook
// intake, background workers) can apply the same policy to it.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindSignatureInvalid     Kind = "signature_invalid"
	KindUnknownTransaction   Kind = "unknown_transaction"
	KindAlreadySettled       Kind = "already_settled"
	KindProcessorUnavailable Kind = "processor_unavailable"
	KindStoreConflict        Kind = "store_conflict"
	KindInternal             Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrRecordNotFound = errors.New("record not found")

	ErrItemNotFound         = &Error{Kind: KindNotFound, Message: "the requested item does not exist"}
	ErrItemNotPurchasable   = &Error{Kind: KindValidation, Message: "the requested item is not available for purchase"}
	ErrCurrencyMismatch     = &Error{Kind: KindValidation, Message: "the requested currency is not offered for this item"}
	ErrReferralCodeNotFound = &Error{Kind: KindNotFound, Message: "the referral code is not valid"}
	ErrSelfReferral         = &Error{Kind: KindValidation, Message: "a referral code cannot be used by its own referrer"}
	ErrPaymentNotFound      = &Error{Kind: KindNotFound, Message: "no payment exists for this checkout session"}

	ErrAlreadyOwned        = &Error{Kind: KindConflict, Message: "you already have access to this item"}
	ErrInvalidRefundTarget = &Error{Kind: KindConflict, Message: "refunds only apply to completed payments"}
	ErrAmountMismatch      = &Error{Kind: KindConflict, Message: "the processor reported an amount that does not match the payment"}

	ErrSignatureInvalid = &Error{Kind: KindSignatureInvalid, Message: "the webhook signature is invalid or expired"}
	ErrInvalidPayload   = &Error{Kind: KindValidation, Message: "the webhook payload could not be parsed"}

	ErrUnknownTransaction   = &Error{Kind: KindUnknownTransaction, Message: "the event references an untracked transaction"}
	ErrAlreadySettled       = &Error{Kind: KindAlreadySettled, Message: "the transaction has already been settled"}
	ErrProcessorUnavailable = &Error{Kind: KindProcessorUnavailable, Message: "the payment processor is unavailable, please try again later"}
	ErrStoreConflict        = &Error{Kind: KindStoreConflict, Message: "the conditional update did not match the expected state"}
)

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}
