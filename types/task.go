package types

import "time"

// Task is a unit of work owned by exactly one user.
type Task struct {
	// ID is the unique identifier of the task.
	ID int `json:"id" db:"id"`

	// Description is the free-text body of the task.
	Description string `json:"description" db:"description"`

	// Completed reports whether the task is done.
	Completed bool `json:"completed" db:"completed"`

	// OwnerID is the identifier of the owning user. It is fixed at creation
	// and every read or write of the task is scoped to it.
	OwnerID int `json:"owner_id" db:"owner_id"`

	// CreatedAt is the timestamp when the task was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the task.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
