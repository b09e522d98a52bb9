package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"servicegate/internal/domain"
)

// TokenService issues and validates the multi-audience bearer tokens
// every backend trusts. The secret is symmetric and distributed
// out-of-band, so Validate is pure: signature plus claim checks, no I/O,
// no central authority. There is no revocation list; a leaked token
// stays valid until expiry.
type TokenService struct {
	secret []byte
	issuer string
}

func NewTokenService(secret []byte, issuer string) (*TokenService, error) {
	if len(secret) == 0 || issuer == "" {
		return nil, errors.New("token secret and issuer are required")
	}
	return &TokenService{secret: secret, issuer: issuer}, nil
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (s *TokenService) Issue(subjectID, email string, audiences []string, lifetime time.Duration) (string, error) {
	if subjectID == "" || len(audiences) == 0 || lifetime <= 0 {
		return "", domain.ErrInvalidInput
	}
	now := time.Now().UTC()
	claims := tokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings(audiences),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate fails with exactly one of ErrTokenExpired, ErrInvalidAudience,
// ErrInvalidSignature or ErrMalformedToken. The expected audience must be
// a member of the token's audience set.
func (s *TokenService) Validate(tokenString, expectedAudience string) (domain.Claims, error) {
	if tokenString == "" || expectedAudience == "" {
		return domain.Claims{}, domain.ErrMalformedToken
	}
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, domain.ErrInvalidSignature
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuedAt())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return domain.Claims{}, domain.ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, domain.ErrInvalidSignature):
			return domain.Claims{}, domain.ErrInvalidSignature
		default:
			return domain.Claims{}, domain.ErrMalformedToken
		}
	}
	out := domain.Claims{
		SubjectID: claims.Subject,
		Email:     claims.Email,
		Audiences: claims.Audience,
		Issuer:    claims.Issuer,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	if out.SubjectID == "" || claims.ExpiresAt == nil {
		return domain.Claims{}, domain.ErrMalformedToken
	}
	if !out.HasAudience(expectedAudience) {
		return domain.Claims{}, domain.ErrInvalidAudience
	}
	return out, nil
}
