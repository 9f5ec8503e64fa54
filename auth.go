package tutorhub

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenFactory supplies the bearer token for every connect and reconnect
// attempt, so a refreshed token is picked up without rebuilding the client.
type TokenFactory func() (string, error)

// StaticToken returns a TokenFactory that always yields token.
func StaticToken(token string) TokenFactory {
	return func() (string, error) { return token, nil }
}

// Role is the marketplace side a user acts on.
type Role string

const (
	RoleParent  Role = "parent"
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
	RoleAdmin   Role = "admin"
)

// Identity is the signed-in user as described by the access token.
type Identity struct {
	UserID    string
	Name      string
	Role      Role
	ExpiresAt time.Time
}

// Claim names used by the backend's token issuer; the long forms come from
// its identity framework.
const (
	claimNameID   = "nameid"
	claimNameIDNS = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier"
	claimName     = "unique_name"
	claimNameNS   = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name"
	claimRole     = "role"
	claimRoleNS   = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
)

// ParseIdentity reads the identity claims of token without verifying its
// signature. The backend verifies; the client only needs to know who it is
// and whether the token is worth presenting.
func ParseIdentity(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	id := Identity{
		UserID: firstClaim(claims, "sub", claimNameID, claimNameIDNS),
		Name:   firstClaim(claims, claimName, claimNameNS, "name"),
		Role:   Role(normalizeRole(firstClaim(claims, claimRole, claimRoleNS))),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

// Expired reports whether the identity's token has an exp in the past.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

func firstClaim(claims jwt.MapClaims, names ...string) string {
	for _, n := range names {
		switch v := claims[n].(type) {
		case string:
			if v != "" {
				return v
			}
		case []any:
			// multi-valued role claims
			if len(v) > 0 {
				if s, ok := v[0].(string); ok {
					return s
				}
			}
		}
	}
	return ""
}

func normalizeRole(r string) string {
	switch r {
	case "Parent", "parent":
		return string(RoleParent)
	case "Student", "student":
		return string(RoleStudent)
	case "Tutor", "tutor":
		return string(RoleTutor)
	case "Admin", "admin":
		return string(RoleAdmin)
	}
	return r
}
