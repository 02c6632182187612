package tokenmanager

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/authhub/internal/apperrors"
	"github.com/nkiryanov/authhub/internal/models"
)

const (
	defaultAccessTokenTTL  = 30 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Only MAC algorithms may be used: both secrets are symmetric keys
var allowedMethods = []string{"HS256", "HS384", "HS512"}

type SessionClaims struct {
	jwt.RegisteredClaims
	Roles string `json:"roles"`
}

// Token manager with sensible default
type Config struct {
	// Secret keys to sign access and refresh tokens
	// Both required and must differ
	AccessSecret  string
	RefreshSecret string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Clock, time.Now if not set
	Now func() time.Time
}

type TokenManager struct {
	accessKey  []byte
	refreshKey []byte

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration

	now func() time.Time
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secret keys must not be empty")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secret keys must differ")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	if !slices.Contains(allowedMethods, cfg.Alg) {
		return nil, fmt.Errorf("unsupported signing method %q, expected one of %v", cfg.Alg, allowedMethods)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field <= 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenManager{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		alg:        jwt.GetSigningMethod(cfg.Alg),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
	}, nil
}

func (m *TokenManager) TTL(kind models.TokenKind) time.Duration {
	if kind == models.TokenKindRefresh {
		return m.refreshTTL
	}
	return m.accessTTL
}

func (m *TokenManager) key(kind models.TokenKind) []byte {
	if kind == models.TokenKindRefresh {
		return m.refreshKey
	}
	return m.accessKey
}

// Issue signed token of the kind. Non positive ttl means configured one
func (m *TokenManager) Issue(subject uuid.UUID, role string, kind models.TokenKind, ttl time.Duration) (models.IssuedToken, error) {
	if ttl <= 0 {
		ttl = m.TTL(kind)
	}

	// Token keeps seconds only, so truncate to keep exp - iat exact
	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	jti := uuid.NewString()

	token := jwt.NewWithClaims(
		m.alg,
		SessionClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        jti,
				Subject:   subject.String(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			Roles: role,
		},
	)
	value, err := token.SignedString(m.key(kind))
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing %s token. Err: %w", kind, err)
	}

	return models.IssuedToken{Value: value, ID: jti, ExpiresAt: expiresAt}, nil
}

// Issue access and refresh tokens for user. Role is taken from the current admin flag
func (m *TokenManager) IssuePair(user models.User) (models.TokenPair, error) {
	var pair models.TokenPair

	access, err := m.Issue(user.ID, user.Role(), models.TokenKindAccess, 0)
	if err != nil {
		return pair, err
	}

	refresh, err := m.Issue(user.ID, user.Role(), models.TokenKindRefresh, 0)
	if err != nil {
		return pair, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

type decodeOptions struct {
	skipExpiry bool
}

type DecodeOption func(*decodeOptions)

// Accept expired tokens. Signature is still verified
func SkipExpiry() DecodeOption {
	return func(o *decodeOptions) {
		o.skipExpiry = true
	}
}

// Parse and validate token of the kind
// Every failure is apperrors.ErrInvalidToken wrapping the cause
func (m *TokenManager) Decode(value string, kind models.TokenKind, opts ...DecodeOption) (models.Claims, error) {
	var o decodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if o.skipExpiry {
		parserOpts = append(parserOpts, jwt.WithoutClaimsValidation())
	}

	sc := &SessionClaims{}
	_, err := jwt.ParseWithClaims(
		value,
		sc,
		func(t *jwt.Token) (any, error) {
			return m.key(kind), nil
		},
		parserOpts...,
	)
	if err != nil {
		return models.Claims{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
	}

	if sc.ID == "" || sc.Subject == "" || sc.ExpiresAt == nil {
		return models.Claims{}, fmt.Errorf("%w: required claims are missing", apperrors.ErrInvalidToken)
	}

	subject, err := uuid.Parse(sc.Subject)
	if err != nil {
		return models.Claims{}, fmt.Errorf("%w: subject is not valid: %w", apperrors.ErrInvalidToken, err)
	}

	claims := models.Claims{
		ID:        sc.ID,
		Subject:   subject,
		Role:      sc.Roles,
		ExpiresAt: sc.ExpiresAt.Time,
	}
	if sc.IssuedAt != nil {
		claims.IssuedAt = sc.IssuedAt.Time
	}

	return claims, nil
}
