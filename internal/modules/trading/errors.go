package trading

import (
	"errors"
	"fmt"

	"github.com/aristath/stockledger/internal/domain"
)

// RejectionError reports the state a trade request was in when it was refused.
// Err carries the domain error; errors.Is and domain.KindOf see through it.
type RejectionError struct {
	State TradeState
	Err   error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("trade rejected while %s: %v", e.State, e.Err)
}

func (e *RejectionError) Unwrap() error { return e.Err }

// Kind is the domain kind of the underlying error.
func (e *RejectionError) Kind() domain.ErrorKind {
	return domain.KindOf(e.Err)
}

// StateOf returns the state of the RejectionError in err's chain, if any.
func StateOf(err error) (TradeState, bool) {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection.State, true
	}
	return "", false
}
