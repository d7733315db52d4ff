package errors

import (
	stderrors "errors"
	"fmt"
)

// Failures surfaced by the conversion engine. Every one of them aborts the
// whole operation; callers match them with errors.Is.
var (
	ErrInvalidPath          = stderrors.New("invalid conversion path")
	ErrInvalidReserve       = stderrors.New("invalid reserve")
	ErrReturnTooLow         = stderrors.New("return too low")
	ErrEthAmountMismatch    = stderrors.New("native amount mismatch")
	ErrInsufficientFunds    = stderrors.New("insufficient funds")
	ErrInvalidConversionFee = stderrors.New("invalid conversion fee")
	ErrInvalidAffiliateFee  = stderrors.New("invalid affiliate fee")
	ErrOverflow             = stderrors.New("arithmetic overflow")

	ErrInactive          = stderrors.New("converter inactive")
	ErrAccessDenied      = stderrors.New("access denied")
	ErrInvalidWeight     = stderrors.New("invalid reserve weight")
	ErrInvalidAmount     = stderrors.New("invalid amount")
	ErrUnknownAnchor     = stderrors.New("unknown anchor")
	ErrInvalidNetworkFee = stderrors.New("invalid network fee")
	ErrInvalidRate       = stderrors.New("invalid rate")
)

// ErrSameSourceTarget is a specialisation of ErrInvalidReserve.
var ErrSameSourceTarget = fmt.Errorf("%w: source and target are the same", ErrInvalidReserve)

// Reason maps an engine error onto a short label used by metrics and the RPC
// layer. Unknown errors map to "internal".
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, ErrInvalidPath):
		return "invalid_path"
	case stderrors.Is(err, ErrSameSourceTarget):
		return "same_source_target"
	case stderrors.Is(err, ErrInvalidReserve):
		return "invalid_reserve"
	case stderrors.Is(err, ErrReturnTooLow):
		return "return_too_low"
	case stderrors.Is(err, ErrEthAmountMismatch):
		return "native_amount_mismatch"
	case stderrors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case stderrors.Is(err, ErrInvalidConversionFee):
		return "invalid_conversion_fee"
	case stderrors.Is(err, ErrInvalidAffiliateFee):
		return "invalid_affiliate_fee"
	case stderrors.Is(err, ErrOverflow):
		return "overflow"
	case stderrors.Is(err, ErrInactive):
		return "inactive"
	case stderrors.Is(err, ErrAccessDenied):
		return "access_denied"
	case stderrors.Is(err, ErrInvalidWeight):
		return "invalid_weight"
	case stderrors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case stderrors.Is(err, ErrUnknownAnchor):
		return "unknown_anchor"
	case stderrors.Is(err, ErrInvalidNetworkFee):
		return "invalid_network_fee"
	case stderrors.Is(err, ErrInvalidRate):
		return "invalid_rate"
	default:
		return "internal"
	}
}
