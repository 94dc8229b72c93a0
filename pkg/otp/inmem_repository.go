package otp

import (
	"context"
	"sync"
	"time"
)

// InMemoryOTPRepository implements OTPRepository using a mutex-guarded map
// keyed by email. Contention is per-process but writes are short; the map
// holds at most one entry per email.
type InMemoryOTPRepository struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewInMemoryOTPRepository creates a new in-memory OTP repository
func NewInMemoryOTPRepository() *InMemoryOTPRepository {
	return &InMemoryOTPRepository{
		entries: make(map[string]Entry),
	}
}

// Upsert replaces any prior entry for the email
func (r *InMemoryOTPRepository) Upsert(ctx context.Context, email string, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[email] = entry
	return nil
}

// Get returns the stored entry for the email, if any
func (r *InMemoryOTPRepository) Get(ctx context.Context, email string) (Entry, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[email]
	return entry, ok, nil
}

// ConsumeIfMatch deletes the entry for the email iff a stored, unexpired
// entry matches the code. Match check and delete run under one write lock.
func (r *InMemoryOTPRepository) ConsumeIfMatch(ctx context.Context, email, code string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[email]
	if !ok || entry.Code != code || now.After(entry.ExpiresAt) {
		return false, nil
	}

	delete(r.entries, email)
	return true, nil
}

// DeleteExpired removes all entries past their expiry and returns the count
func (r *InMemoryOTPRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for email, entry := range r.entries {
		if now.After(entry.ExpiresAt) {
			delete(r.entries, email)
			removed++
		}
	}
	return removed, nil
}
