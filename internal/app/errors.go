package app

import "errors"

var (
	// ErrInvalidCredentials is returned when the supplied credentials do not match.
	// The same error covers unknown usernames so responses do not enable
	// account enumeration.
	ErrInvalidCredentials = errors.New("incorrect username or password")

	ErrUsernameAndPasswordRequired = errors.New("username and password required")
	ErrUsernameTaken               = errors.New("username already taken")

	ErrSessionKeyRequired = errors.New("session key required")

	// ErrNegativeCredits is returned when a credit write would store a
	// negative balance.
	ErrNegativeCredits = errors.New("credits must be >= 0")
)
