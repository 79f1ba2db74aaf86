package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/cvfolio/reqaudit/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokensDisabled = errors.New("token signing secret is not configured")
	ErrInvalidToken   = errors.New("invalid token")
)

// ActorClaims carries the identity snapshot the audit trail records.
type ActorClaims struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Staff     bool   `json:"staff"`
	Superuser bool   `json:"superuser"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

func (s *TokenService) Enabled() bool {
	return len(s.secret) > 0
}

// Issue signs an HS256 token for actor.
func (s *TokenService) Issue(actor model.Actor) (string, error) {
	if !s.Enabled() {
		return "", ErrTokensDisabled
	}
	if actor.ID == "" {
		return "", fmt.Errorf("%w: actor id is required", ErrInvalidToken)
	}
	now := time.Now()
	claims := ActorClaims{
		UserID:    actor.ID,
		Username:  actor.Username,
		Email:     actor.Email,
		Staff:     actor.IsStaff,
		Superuser: actor.IsSuperuser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse verifies a token and returns the authenticated actor it names.
func (s *TokenService) Parse(tokenString string) (model.Actor, error) {
	if !s.Enabled() {
		return model.Anonymous(), ErrTokensDisabled
	}
	claims := &ActorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Anonymous(), fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return model.Anonymous(), ErrInvalidToken
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return model.Anonymous(), fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return model.Actor{
		ID:              id,
		Username:        claims.Username,
		Email:           claims.Email,
		IsAuthenticated: true,
		IsStaff:         claims.Staff,
		IsSuperuser:     claims.Superuser,
	}, nil
}
