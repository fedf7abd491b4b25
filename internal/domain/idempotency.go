package domain

import "time"

// IdempotencyRecord reserves a client key for one user and endpoint.
// RefID is empty while the original request is still in flight.
type IdempotencyRecord struct {
	UserID    int64     `db:"user_id" json:"user_id"`
	Key       string    `db:"key" json:"key"`
	Endpoint  string    `db:"endpoint" json:"endpoint"`
	RefKind   string    `db:"ref_kind" json:"ref_kind,omitempty"`
	RefID     string    `db:"ref_id" json:"ref_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (r *IdempotencyRecord) Completed() bool {
	return r.RefID != ""
}

// Expired reports whether the record is older than ttl at now.
func (r *IdempotencyRecord) Expired(now time.Time, ttl time.Duration) bool {
	return !r.CreatedAt.After(now.Add(-ttl))
}
