package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the auction or product does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by conditional store writes whose guard no
	// longer matched: an optimistic bid commit racing another bid, a product
	// that already has an auction, or a product that is not biddable.
	ErrConflict = errors.New("conflict")

	// ErrBusy is surfaced when a bid exhausted its commit retries. The caller
	// may resubmit.
	ErrBusy = errors.New("auction busy, retry")
)

type RejectReason string

const (
	RejectTooEarly     RejectReason = "too_early"
	RejectTooLate      RejectReason = "too_late"
	RejectBelowMinimum RejectReason = "below_minimum"
	RejectSelfBid      RejectReason = "self_bid"
	RejectWrongStatus  RejectReason = "wrong_status"
)

// Rejection is a deterministic bid refusal. It is terminal: the processor
// never retries a rejected bid. MinimumBid is populated for below_minimum so
// the caller can show the next acceptable amount.
type Rejection struct {
	Reason     RejectReason
	Message    string
	MinimumBid float64
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("bid rejected (%s): %s", r.Reason, r.Message)
}

// AsRejection unwraps err into a *Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
