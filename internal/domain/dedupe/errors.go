package dedupe

import "errors"

var (
	// ErrLedgerFull is returned by a bounded ledger that cannot take another token.
	ErrLedgerFull = errors.New("idempotency ledger full")
	// ErrUnknownAction is returned when completing a token that was never reserved.
	ErrUnknownAction = errors.New("unknown action token")
)
