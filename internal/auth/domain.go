package auth

import "time"

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	FullName     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Actor identifies the user performing a state-changing operation.
// Services receive it explicitly rather than digging it out of context.
type Actor struct {
	ID   int64
	Name string
}
