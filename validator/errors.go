package validator

import "github.com/pkg/errors"

// Sentinel errors for the validation pipeline's five phases. Use errors.Cause to recover one of
// these from a wrapped error returned by Validate.
var (
	ErrEmptyTransaction  = errors.New("empty transaction")
	ErrInvalidHex        = errors.New("invalid hex format")
	ErrInvalidStructure  = errors.New("invalid transaction structure")
	ErrRecentlyProcessed = errors.New("transaction recently processed")
	ErrBitcoinCoreReject = errors.New("bitcoin core rejection")
	ErrInvalidSize       = errors.New("invalid transaction size")
)
