package flashloan

import "errors"

// Every error below aborts the whole loan attempt; there is no partial
// recovery inside the agent. Retrying with adjusted paths or floors is the
// trigger's problem, not ours. Match with errors.Is.
var (
	ErrUnauthorized     = errors.New("flashloan: unauthorized caller")
	ErrValidation       = errors.New("flashloan: invalid request")
	ErrBadPayload       = errors.New("flashloan: malformed params payload")
	ErrDeadlineExceeded = errors.New("flashloan: deadline exceeded")
	ErrUnprofitable     = errors.New("flashloan: trade does not cover loan and premium")
	ErrBelowMinProfit   = errors.New("flashloan: profit below configured floor")
	ErrHalted           = errors.New("flashloan: operations halted")
	ErrReentrancy       = errors.New("flashloan: guarded entry re-entered")
)
