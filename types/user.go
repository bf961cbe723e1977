package types

// PasswordOrigin records who chose a user's current password.
type PasswordOrigin string

const (
	// PasswordUserChosen marks a password set by the user.
	PasswordUserChosen PasswordOrigin = "user_chosen"
	// PasswordSystemGenerated marks the initial password issued at registration.
	PasswordSystemGenerated PasswordOrigin = "system_generated"
)

// User is an account keyed by its email identity.
type User struct {
	// ID is assigned from the process-wide counter at first registration.
	ID int64 `json:"id"`

	// Email is the identity the record is stored under.
	Email string `json:"email"`

	// Username is the local part of Email.
	Username string `json:"username"`

	// PasswordHash is never exposed in API responses.
	PasswordHash string `json:"-"`

	PasswordOrigin PasswordOrigin `json:"password_origin"`
}
