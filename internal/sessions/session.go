package sessions

import "time"

// Revocation records that a user logged out of an organization. Access
// tokens issued to that user at or before RevokedAt are no longer accepted.
type Revocation struct {
	Organization string    `bson:"org" json:"org"`
	UserID       string    `bson:"userId" json:"userId"`
	RevokedAt    time.Time `bson:"revokedAt" json:"revokedAt"`
	ExpiresAt    time.Time `bson:"expiresAt" json:"expiresAt"`
}

// Covers reports whether a token issued at issuedAt falls under r.
// A zero issuedAt (no token claims available) is always covered.
func (r *Revocation) Covers(issuedAt time.Time) bool {
	if r == nil {
		return false
	}
	return issuedAt.IsZero() || !issuedAt.After(r.RevokedAt)
}
