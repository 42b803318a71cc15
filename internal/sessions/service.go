package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aiqsync/datasync/internal/document"
)

// DefaultTTL outlives the longest access token we accept.
const DefaultTTL = 24 * time.Hour

var ErrMissingUser = errors.New("userId is required")

// Service wraps repository operations with business logic
type Service struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
}

func NewService(r Repository, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{repo: r, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Logout revokes every token issued to userID in org up to now.
func (s *Service) Logout(ctx context.Context, org, userID string) error {
	if err := document.ValidateIdentifier("organization", org); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("%w: %w", document.ErrValidation, ErrMissingUser)
	}
	now := s.now()
	return s.repo.Put(ctx, &Revocation{
		Organization: org,
		UserID:       userID,
		RevokedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	})
}

// IsRevoked reports whether a token issued at issuedAt to userID must be refused.
func (s *Service) IsRevoked(ctx context.Context, org, userID string, issuedAt time.Time) (bool, error) {
	if userID == "" {
		return false, nil
	}
	rev, err := s.repo.Get(ctx, org, userID)
	if err != nil {
		return false, err
	}
	return rev.Covers(issuedAt), nil
}

// Reinstate drops a revocation ahead of its expiry.
func (s *Service) Reinstate(ctx context.Context, org, userID string) error {
	return s.repo.Delete(ctx, org, userID)
}
