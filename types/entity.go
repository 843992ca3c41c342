package types

import "time"

// Entity is the base type for ledger records with timestamps.
// Timestamps always come from the ledger clock, never from time.Now directly.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity creates an Entity stamped at now (normalized to UTC).
func NewEntity(now time.Time) Entity {
	now = now.UTC()
	return Entity{
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch updates the UpdatedAt timestamp.
func (e *Entity) Touch(now time.Time) {
	e.UpdatedAt = now.UTC()
}

// AgeAt returns how long before now the entity was created.
func (e Entity) AgeAt(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}
