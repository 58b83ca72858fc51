package notify

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSigner mints and verifies the signed tokens embedded in callback URLs.
// The public webhook surface accepts an event only when its token verifies,
// so a forged callback cannot flip an entry's status. With an empty secret
// signing is disabled and verification accepts everything (dev mode).
type TokenSigner struct {
	Secret string
	TTL    time.Duration
	Now    func() time.Time
}

var ErrInvalidToken = errors.New("invalid callback token")

func (s TokenSigner) Enabled() bool {
	return strings.TrimSpace(s.Secret) != ""
}

func (s TokenSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sign returns a token scoped to one incident. Its lifetime covers the whole
// escalation timeline plus slack for late carrier callbacks.
func (s TokenSigner) Sign(incidentID string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	ttl := s.TTL
	if ttl == 0 {
		ttl = time.Hour
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   incidentID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
}

// Verify checks the token and returns the incident id it was issued for.
func (s TokenSigner) Verify(token string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
