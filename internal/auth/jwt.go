package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are embedded in every console access token. The token id (jti) names
// the server side session.
type Claims struct {
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// Issuer signs and verifies HS256 access tokens.
type Issuer struct {
	secret []byte
	issuer string
}

// NewIssuer constructs an Issuer.
func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret must be provided")
	}
	return &Issuer{secret: []byte(secret), issuer: "danmu-console"}, nil
}

// Issue signs a token for userID bound to sessionID.
func (i *Issuer) Issue(userID int64, sessionID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   strconv.FormatInt(userID, 10),
		ID:        sessionID,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Parse validates tokenStr and returns its claims. Only HS256 tokens with an
// expiry are accepted.
func (i *Issuer) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(i.issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	if claims.ID == "" {
		return nil, errors.New("parse access token: missing token id")
	}
	return claims, nil
}
