package auth

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload issued by the identity provider. Subject carries
// the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func NewClaims(userID, role string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

// KeyIDFunc resolves an RS256 verification key by kid.
type KeyIDFunc func(kid string) (*rsa.PublicKey, error)

func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	return parse(token, jwt.SigningMethodHS256.Alg(), func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
}

func VerifyRS256(token string, pub *rsa.PublicKey) (*Claims, error) {
	return parse(token, jwt.SigningMethodRS256.Alg(), func(*jwt.Token) (any, error) {
		return pub, nil
	})
}

// Verify accepts RS256 tokens whose kid resolves through keys, and HS256 tokens
// signed with secret. keys may be nil.
func Verify(token, secret string, keys KeyIDFunc) (*Claims, error) {
	header, err := ParseHeader(token)
	if err != nil {
		return nil, err
	}
	if header.Alg == jwt.SigningMethodRS256.Alg() && keys != nil {
		pub, err := keys(header.Kid)
		if err != nil {
			return nil, ErrInvalidToken
		}
		return VerifyRS256(token, pub)
	}
	if secret == "" {
		return nil, ErrInvalidToken
	}
	return ParseAndVerifyHS256(token, secret)
}

type Header struct {
	Alg string
	Kid string
}

// ParseHeader reads the unverified token header.
func ParseHeader(token string) (*Header, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	if err != nil {
		return nil, ErrInvalidToken
	}
	h := &Header{}
	if alg, ok := parsed.Header["alg"].(string); ok {
		h.Alg = alg
	}
	if kid, ok := parsed.Header["kid"].(string); ok {
		h.Kid = kid
	}
	return h, nil
}

func parse(token, alg string, key jwt.Keyfunc) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, key,
		jwt.WithValidMethods([]string{alg}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
