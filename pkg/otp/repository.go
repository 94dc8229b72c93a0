package otp

import (
	"context"
	"time"
)

// Entry is a stored one-time passcode. Entries past ExpiresAt are treated as
// absent even before the sweeper removes them.
type Entry struct {
	Code      string
	ExpiresAt time.Time
}

// OTPRepository defines the interface for passcode storage. At most one live
// entry exists per email; Upsert replaces any prior entry.
//
// ConsumeIfMatch is the single-use primitive: the code comparison, the expiry
// check against now, and the delete-on-match must execute atomically, so of
// two concurrent verifications of the same code exactly one consumes it.
// A mismatched or expired code leaves the entry in place.
type OTPRepository interface {
	Upsert(ctx context.Context, email string, entry Entry) error
	Get(ctx context.Context, email string) (Entry, bool, error)
	ConsumeIfMatch(ctx context.Context, email, code string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
