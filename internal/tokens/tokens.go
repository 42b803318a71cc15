package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aiqsync/datasync/pkg/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by platform access tokens. org pins a token to one
// organization; an empty org is platform-wide.
type Claims struct {
	Organization string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// GenerateAccessToken creates a signed HS256 access token for subject.
func GenerateAccessToken(secret, subject, org string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		Organization: org,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return jt.SignedString([]byte(secret))
}

// HMACVerifier checks HS256 tokens signed with a shared secret. It is the
// verifier used when no OIDC provider is configured.
type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}
}

type mapToken jwt.MapClaims

func (t mapToken) Claims(v interface{}) error {
	out, ok := v.(*map[string]interface{})
	if !ok {
		return fmt.Errorf("unsupported claims type %T", v)
	}
	*out = map[string]interface{}(t)
	return nil
}

func (h *HMACVerifier) Verify(_ context.Context, raw string) (middleware.Token, error) {
	claims := jwt.MapClaims{}
	if _, err := h.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return h.secret, nil
	}); err != nil {
		return nil, err
	}
	return mapToken(claims), nil
}
