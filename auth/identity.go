// Package auth derives caller identities from bearer tokens.
//
// Tokens are decoded but their signatures are NOT verified: the gateway is
// deployed behind an API gateway that has already validated them.
package auth

import (
	"net/http"
	"strconv"
	"strings"

	gErrors "github.com/biodiversity-data/publishing-gateway/gateway/errors"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin     = "ROLE_ADMIN"
	RolePublisher = "ROLE_DATA_PUBLISHER"
)

// Identity of the caller, valid for the lifetime of a single request.
type Identity struct {
	ID          string
	Email       string
	DisplayName string
	IsAdmin     bool
	IsPublisher bool
}

// CanPublish reports whether the caller holds the publisher or the admin
// capability.
func (i *Identity) CanPublish() bool {
	return i != nil && (i.IsPublisher || i.IsAdmin)
}

// CanModify reports whether the caller may update or delete a dataset
// created by createdByID.
func (i *Identity) CanModify(createdByID string) bool {
	return i != nil && (i.IsAdmin || (i.ID != "" && i.ID == createdByID))
}

// FromRequest extracts the identity from the Authorization header.
func FromRequest(r *http.Request) (*Identity, error) {
	return Extract(r.Header.Get("Authorization"))
}

// Extract decodes the claims of a "Bearer <token>" credential. It fails with
// an Unauthenticated error when the credential is absent, malformed or lacks
// any of the userid, email, name and role claims.
func Extract(credential string) (*Identity, error) {
	if credential == "" {
		return nil, gErrors.New(gErrors.Unauthenticated, "Please provide authentication details")
	}
	parts := strings.SplitN(strings.TrimSpace(credential), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return nil, gErrors.New(gErrors.Unauthenticated, "Malformed authorization header")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(parts[1]), claims); err != nil {
		return nil, gErrors.New(gErrors.Unauthenticated, "Invalid bearer token: %v", err)
	}

	id := &Identity{}
	for _, c := range []struct {
		name string
		dst  *string
	}{
		{"userid", &id.ID},
		{"email", &id.Email},
		{"name", &id.DisplayName},
	} {
		v, ok := stringClaim(claims, c.name)
		if !ok {
			return nil, gErrors.New(gErrors.Unauthenticated, "Bearer token is missing the %q claim", c.name)
		}
		*c.dst = v
	}

	roles, ok := roleClaim(claims)
	if !ok {
		return nil, gErrors.New(gErrors.Unauthenticated, "Bearer token is missing the %q claim", "role")
	}
	for _, role := range roles {
		switch role {
		case RoleAdmin:
			id.IsAdmin = true
		case RolePublisher:
			id.IsPublisher = true
		}
	}

	return id, nil
}

// stringClaim accepts strings and numbers; some issuers encode userid as a
// number.
func stringClaim(claims jwt.MapClaims, name string) (string, bool) {
	switch v := claims[name].(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

func roleClaim(claims jwt.MapClaims) ([]string, bool) {
	switch v := claims["role"].(type) {
	case string:
		return []string{v}, true
	case []interface{}:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles, true
	default:
		return nil, false
	}
}
