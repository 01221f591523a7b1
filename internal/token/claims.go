package token

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the wire contract external verifiers depend on. Audience is a
// single string on the wire, so Claims implements jwt.Claims itself rather
// than embedding jwt.RegisteredClaims.
type Claims struct {
	Issuer    string           `json:"iss"`
	Audience  string           `json:"aud"`
	Subject   string           `json:"sub"`
	Firstname string           `json:"firstname"`
	Lastname  string           `json:"lastname"`
	Email     string           `json:"email"`
	ID        string           `json:"id"`
	Admin     bool             `json:"admin"`
	IssuedAt  *jwt.NumericDate `json:"iat"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
	// TokenID keeps two tokens minted in the same second for the same
	// account distinct, which the encrypted token set relies on.
	TokenID string `json:"jti,omitempty"`
}

var _ jwt.Claims = (*Claims)(nil)

func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return c.ExpiresAt, nil
}

func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return c.IssuedAt, nil
}

func (c *Claims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

func (c *Claims) GetIssuer() (string, error) {
	return c.Issuer, nil
}

func (c *Claims) GetSubject() (string, error) {
	return c.Subject, nil
}

func (c *Claims) GetAudience() (jwt.ClaimStrings, error) {
	if c.Audience == "" {
		return nil, nil
	}
	return jwt.ClaimStrings{c.Audience}, nil
}

// Profile is copied verbatim into both tokens of a pair.
type Profile struct {
	Firstname string
	Lastname  string
	Email     string
}
