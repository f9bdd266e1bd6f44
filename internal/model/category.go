package model

import "time"

// Category groups transactions for budgeting. Names are unique.
type Category struct {
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastSynced    *time.Time
	ID            string
	Name          string
	Icon          string
	Color         string
	IsUserDefined bool
	IsDirty       bool
}

// Clone returns a copy that shares no pointers with c.
func (c *Category) Clone() Category {
	out := *c
	out.LastSynced = clonePtr(c.LastSynced)
	return out
}

// NewCategory holds the caller-supplied fields for category creation.
type NewCategory struct {
	Name          string
	Icon          string
	Color         string
	IsUserDefined bool
}

// CategoryUpdate is a partial update; nil fields are left untouched.
type CategoryUpdate struct {
	Name  *string
	Icon  *string
	Color *string
}
