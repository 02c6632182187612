package apperrors

import (
	"errors"
)

var (
	// Identity lookup and uniqueness
	ErrUserNotFound      = errors.New("user not found")
	ErrDuplicateIdentity = errors.New("user with this email or username already exists")
	ErrHasDependents     = errors.New("user has dependent records")

	// Credentials and account state
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrWeakPassword       = errors.New("password must be 8 to 128 characters long and contain at least one letter and one digit")
	ErrNoChange           = errors.New("new value is the same as the current one")

	// Tokens
	ErrUnauthenticated = errors.New("not authenticated")
	ErrInvalidToken    = errors.New("token is invalid, expired or revoked")

	// Permissions
	ErrPermissionDenied      = errors.New("permission denied")
	ErrSelfDemotionForbidden = errors.New("admin can not revoke own admin status")

	ErrInvalidPagination = errors.New("invalid pagination parameters")
)
