// Package operator authenticates admin operators with signed bearer tokens.
package operator

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "submit/pkg/domain-errors"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
	RoleYSWSAuthor Role = "ysws_author"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSuperadmin, RoleYSWSAuthor:
		return true
	}
	return false
}

// Claims carried by an operator token.
type Claims struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
	jwt.RegisteredClaims
}

// TokenService signs and validates HS256 operator tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

func NewTokenService(signingKey []byte, issuer string) *TokenService {
	return &TokenService{signingKey: signingKey, issuer: issuer, now: time.Now}
}

func (s *TokenService) Issue(email string, role Role, ttl time.Duration) (string, error) {
	if email == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "email is required")
	}
	if !role.Valid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown operator role")
	}
	now := s.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	return tok.SignedString(s.signingKey)
}

func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Email == "" || !claims.Role.Valid() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}
