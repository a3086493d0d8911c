package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
// OrganizationID scopes every telephony operation: provider credentials,
// from-numbers and quota are all organization resources.
type Claims struct {
	jwt.RegisteredClaims

	UserID         int64 `json:"user_id"`
	OrganizationID int64 `json:"organization_id"`
}
