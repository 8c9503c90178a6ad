package bidderrors

import "errors"

// Validation errors: rejected synchronously, never retried, reported to
// the submitting client only.
var (
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrAuctionNotActive  = errors.New("auction is not active")
	ErrNotWhitelisted    = errors.New("bidder is not whitelisted")
	ErrBidTooLow         = errors.New("bid amount too low")
	ErrBidOutOfBounds    = errors.New("bid amount outside allowed bounds")
	ErrBuyNowMismatch    = errors.New("buy-now bid must equal the buy-now price")
	ErrBuyNowUnavailable = errors.New("leading bid already at or above the buy-now price")
	ErrWhitelistClosed   = errors.New("whitelist is not open")
	ErrWhitelistFull     = errors.New("whitelist capacity reached")
	ErrAlreadyJoined     = errors.New("bidder already on whitelist")
)

// Concurrency errors: retried internally up to a bound, then surfaced as
// job failure.
var (
	ErrStaleWrite           = errors.New("stale write: expected prior value no longer matches")
	ErrConcurrencyExhausted = errors.New("concurrency retries exhausted")
	ErrInvalidTransition    = errors.New("invalid auction status transition")
)

// Resource / infrastructure errors.
var (
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrJobNotFound         = errors.New("job not found")
	ErrAccountNotFound     = errors.New("ledger account not found")
)

// ErrInvariantViolation signals a hold/release mismatch or similar bug
// upstream. It is fatal for the affected job and must never be retried.
var ErrInvariantViolation = errors.New("ledger invariant violation")

// Code maps an error chain to the stable reason code echoed to clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuctionNotFound):
		return "AUCTION_NOT_FOUND"
	case errors.Is(err, ErrAuctionNotActive):
		return "AUCTION_NOT_ACTIVE"
	case errors.Is(err, ErrNotWhitelisted):
		return "NOT_WHITELISTED"
	case errors.Is(err, ErrBidTooLow):
		return "BID_TOO_LOW"
	case errors.Is(err, ErrBidOutOfBounds):
		return "BID_OUT_OF_BOUNDS"
	case errors.Is(err, ErrBuyNowMismatch):
		return "BUY_NOW_MISMATCH"
	case errors.Is(err, ErrBuyNowUnavailable):
		return "BUY_NOW_UNAVAILABLE"
	case errors.Is(err, ErrWhitelistClosed):
		return "WHITELIST_CLOSED"
	case errors.Is(err, ErrWhitelistFull):
		return "WHITELIST_FULL"
	case errors.Is(err, ErrAlreadyJoined):
		return "ALREADY_JOINED"
	case errors.Is(err, ErrInsufficientBalance):
		return "INSUFFICIENT_BALANCE"
	case errors.Is(err, ErrStaleWrite):
		return "STALE_WRITE"
	case errors.Is(err, ErrConcurrencyExhausted):
		return "CONCURRENCY_EXHAUSTED"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrJobNotFound):
		return "JOB_NOT_FOUND"
	case errors.Is(err, ErrInvariantViolation):
		return "INVARIANT_VIOLATION"
	default:
		return "INTERNAL"
	}
}

// IsValidation reports whether the error is a synchronous rejection that
// must not be retried.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrAuctionNotFound, ErrAuctionNotActive, ErrNotWhitelisted,
		ErrBidTooLow, ErrBidOutOfBounds, ErrBuyNowMismatch,
		ErrBuyNowUnavailable, ErrWhitelistClosed, ErrWhitelistFull,
		ErrAlreadyJoined,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
