package chain

import (
	"fmt"
	"time"
)

// ChainError marks a transient submission or broadcast failure. Cycles that
// hit one are logged and retried on the next interval.
type ChainError struct {
	Op  string
	Err error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("chain: %s: %v", e.Op, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// TimeoutError marks a transaction whose confirmation was not observed
// within the configured wait.
type TimeoutError struct {
	Op   string
	Wait time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("chain: %s: no confirmation within %s", e.Op, e.Wait)
}
