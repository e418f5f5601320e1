package domain

import "time"

type Table struct {
	ID               int64
	Occupied         bool
	SessionStartedAt time.Time // orders after this instant belong to the current session
	UpdatedAt        time.Time
}

// InSession reports whether an order created at t belongs to the current session.
func (t Table) InSession(createdAt time.Time) bool {
	return createdAt.After(t.SessionStartedAt)
}
