package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/RustamovAkrom/minichat/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrAnonymous    = errors.New("anonymous identity")
)

// Claims carried by a minichat access token. Identity is issued by the
// outer auth plane; the core only verifies and consumes it.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Verifier resolves bearer tokens into user identities. HS256 with a shared
// secret; anything else is anonymous.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates the token. Empty, expired, or malformed
// tokens resolve to ErrAnonymous so callers can refuse the connection.
func (v *Verifier) Verify(token string) (domain.User, error) {
	if token == "" {
		return domain.User{}, ErrAnonymous
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return domain.User{}, ErrAnonymous
	}

	name := claims.Username
	if name == "" {
		name = claims.Subject
	}
	return domain.User{ID: claims.Subject, Name: name}, nil
}

// Issue signs a token for the given user. Used by tests and by the outer
// plane's local deployments.
func (v *Verifier) Issue(user domain.User) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID},
		Username:         user.Name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
