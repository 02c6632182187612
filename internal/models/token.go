package models

import (
	"time"

	"github.com/google/uuid"
)

// Kind of the session token. Every kind is signed with its own secret
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Claims decoded from a session token
type Claims struct {
	ID        string // jti
	Subject   uuid.UUID
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type IssuedToken struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// Token pair issues by TokenManager, AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// Revoked token identifier (blocklist entry)
type RevokedToken struct {
	ID        string
	ExpiresAt time.Time
	RevokedAt time.Time
}
