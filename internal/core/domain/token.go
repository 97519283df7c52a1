package domain

import "time"

// RefreshToken is an opaque, rotating credential persisted as a hash.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the token has elapsed its validity window.
func (t RefreshToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// RevocationReasonLogout is recorded on blacklist entries written by logout.
const RevocationReasonLogout = "logout"

// BlacklistedToken records a revoked access token by its jti.
type BlacklistedToken struct {
	ID            string
	TokenJTI      string
	UserID        string
	BlacklistedAt time.Time
	ExpiresAt     time.Time
	Reason        string
}

// IsExpired reports whether the underlying token could no longer be used anyway.
func (t BlacklistedToken) IsExpired(at time.Time) bool {
	return t.ExpiresAt.Before(at)
}

// LoginAttemptRecord tracks recent failed logins for one identifier.
type LoginAttemptRecord struct {
	Failures  []time.Time `json:"failures"`
	LockedAt  *time.Time  `json:"locked_at,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// PruneBefore drops failures recorded before the cutoff.
func (r *LoginAttemptRecord) PruneBefore(cutoff time.Time) {
	if len(r.Failures) == 0 {
		return
	}
	kept := r.Failures[:0]
	for _, at := range r.Failures {
		if !at.Before(cutoff) {
			kept = append(kept, at)
		}
	}
	r.Failures = kept
}

// IsEmpty reports whether the record carries no state worth keeping.
func (r LoginAttemptRecord) IsEmpty() bool {
	return len(r.Failures) == 0 && r.LockedAt == nil
}

// Clone returns a deep copy safe to hand out of a store.
func (r LoginAttemptRecord) Clone() LoginAttemptRecord {
	out := LoginAttemptRecord{UpdatedAt: r.UpdatedAt}
	if len(r.Failures) > 0 {
		out.Failures = append([]time.Time(nil), r.Failures...)
	}
	if r.LockedAt != nil {
		locked := *r.LockedAt
		out.LockedAt = &locked
	}
	return out
}
