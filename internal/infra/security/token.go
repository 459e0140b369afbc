package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenInvalid = errors.New("security: invalid token")

// Claims identify a marketplace user. Tokens are minted by the account
// service; this service only verifies them.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type TokenVerifier struct {
	Secret []byte
	Issuer string
	Clock  func() time.Time
}

// Verify parses an HS256 token and returns its subject as the caller id.
func (v TokenVerifier) Verify(raw string) (*Claims, error) {
	if len(v.Secret) == 0 {
		return nil, fmt.Errorf("%w: verifier has no secret", ErrTokenInvalid)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Clock != nil {
		opts = append(opts, jwt.WithTimeFunc(v.Clock))
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return v.Secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

// Issue signs a token for subject. The CLI uses it to mint short-lived
// tokens for manual releases.
func (v TokenVerifier) Issue(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	if v.Clock != nil {
		now = v.Clock().UTC()
	}
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.Secret)
}
