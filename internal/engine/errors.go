package engine

import "errors"

var (
	ErrInvalidOrder        = errors.New("invalid order")
	ErrNoOpenBlock         = errors.New("no open block")
	ErrLedgerRejected      = errors.New("ledger rejected order")
	ErrInvalidConfig       = errors.New("invalid config")
	ErrUnknownOrder        = errors.New("unknown order")
	ErrOrderNotCancellable = errors.New("order not cancellable")
	ErrEpochNotClosable    = errors.New("epoch not closable")
	ErrAlreadyRunning      = errors.New("engine already running")
	ErrNotRunning          = errors.New("engine not running")
)
