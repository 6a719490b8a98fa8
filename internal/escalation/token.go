package escalation

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSignature marks a level claim whose signature does not match
// the (token, level) pair it asserts.
var ErrInvalidSignature = errors.New("escalation: invalid level signature")

// TokenSigner binds a per-level access token to its ladder level with an
// HMAC signature, so possession of one level's link never grants another
// level's actions.
type TokenSigner struct {
	secret []byte
}

func NewTokenSigner(secret string) *TokenSigner {
	return &TokenSigner{secret: []byte(secret)}
}

// SignLevel produces the signature embedded in the contact's access link.
func (s *TokenSigner) SignLevel(token string, level int) (string, error) {
	claims := jwt.MapClaims{
		"token": token,
		"level": level,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign level claim: %w", err)
	}
	return signed, nil
}

// VerifyLevel checks that the signature covers exactly this token and
// level. Any mismatch, tampering or foreign signing method fails with
// ErrInvalidSignature.
func (s *TokenSigner) VerifyLevel(signature, token string, level int) error {
	parsed, err := jwt.Parse(signature, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return ErrInvalidSignature
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return ErrInvalidSignature
	}
	claimedToken, _ := claims["token"].(string)
	claimedLevel, _ := claims["level"].(float64)
	if claimedToken != token || int(claimedLevel) != level {
		return ErrInvalidSignature
	}
	return nil
}
