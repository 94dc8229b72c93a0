package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"
)

// Default passcode lifetimes
const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = 10 * time.Minute
)

// Service generates, stores and single-use-verifies short-lived numeric
// passcodes keyed by email.
type Service struct {
	repo          OTPRepository
	ttl           time.Duration
	sweepInterval time.Duration
}

// Option is a function that configures a Service
type Option func(*Service)

// WithTTL sets the passcode time-to-live
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// WithSweepInterval sets the interval of the expired-entry sweeper
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Service) {
		s.sweepInterval = interval
	}
}

// NewService creates a new OTP service
func NewService(repo OTPRepository, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured passcode time-to-live
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Generate returns a 6-digit numeric passcode drawn from crypto/rand
func (s *Service) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate passcode: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Store records the passcode for the email with a fresh TTL, overwriting any
// prior pending passcode
func (s *Service) Store(ctx context.Context, email, code string) error {
	entry := Entry{
		Code:      code,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.repo.Upsert(ctx, email, entry); err != nil {
		return fmt.Errorf("failed to store passcode: %w", err)
	}
	slog.Debug("Stored OTP", "email", email, "expiresAt", entry.ExpiresAt)
	return nil
}

// Verify reports whether a stored, unexpired passcode matches. On success
// the entry is consumed (single use); on failure it is left in place so the
// caller may retry until expiry. The compare-and-delete is a single atomic
// repository operation, so concurrent verifications of one code admit at
// most one caller.
func (s *Service) Verify(ctx context.Context, email, code string) (bool, error) {
	ok, err := s.repo.ConsumeIfMatch(ctx, email, code, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to verify passcode: %w", err)
	}
	return ok, nil
}

// StartSweeper periodically removes expired entries until ctx is cancelled.
// This is memory hygiene only; Verify already treats expired entries as
// absent.
func (s *Service) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.repo.DeleteExpired(ctx, time.Now())
				if err != nil {
					slog.Error("OTP sweep failed", "err", err)
					continue
				}
				if removed > 0 {
					slog.Debug("Swept expired OTP entries", "removed", removed)
				}
			}
		}
	}()
}
