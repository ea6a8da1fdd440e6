package domain

import "time"

// Account is the authenticated user record resolved from a token subject.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is a role-specific profile (expert or candidate) owned by an account.
// Bookings may store the profile id instead of the account id.
type Profile struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Kind      string `json:"kind"`
}
