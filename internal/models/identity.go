package models

import "github.com/golang-jwt/jwt/v5"

// IdentityClaims is the bearer token payload identifying the uploader.
type IdentityClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Actor returns the identity written into audit columns.
func (c *IdentityClaims) Actor() string {
	if c == nil {
		return ""
	}
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}
